package middleware

import (
	"context"
	"encoding/json"

	"golang.org/x/time/rate"
)

// RateLimitMiddleware paces outbound dispatch with a token bucket. Unlike a
// server-side limiter it waits for a token instead of rejecting, since
// dropping our own queries would just fail the run.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next Invoker) Invoker {
		return func(ctx context.Context, method string, params []any) (json.RawMessage, error) {
			if err := limiter.Wait(ctx); err != nil {
				return nil, err
			}
			return next(ctx, method, params)
		}
	}
}
