package middleware

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
)

// LoggingMiddleware records every call with its method, duration, and
// outcome.
func LoggingMiddleware(logger zerolog.Logger) Middleware {
	return func(next Invoker) Invoker {
		return func(ctx context.Context, method string, params []any) (json.RawMessage, error) {
			start := time.Now()
			result, err := next(ctx, method, params)
			evt := logger.Info()
			if err != nil {
				evt = logger.Error().Err(err)
			}
			evt.Str("method", method).
				Dur("duration", time.Since(start)).
				Msg("rpc call")
			return result, err
		}
	}
}
