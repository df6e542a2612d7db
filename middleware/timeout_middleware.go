package middleware

import (
	"context"
	"encoding/json"
	"time"
)

// TimeoutMiddleware bounds each call with its own deadline. Deadlines are
// per call, never shared: a slow first request must not eat into the wait
// of the ones after it.
func TimeoutMiddleware(timeout time.Duration) Middleware {
	return func(next Invoker) Invoker {
		return func(ctx context.Context, method string, params []any) (json.RawMessage, error) {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			return next(ctx, method, params)
		}
	}
}
