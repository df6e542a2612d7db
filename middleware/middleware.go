// Package middleware wraps RPC invocations in composable layers: logging,
// per-call deadlines, and outbound rate limiting.
//
// The orchestrator builds its invoker once at connect time:
//
//	Chain(A, B, C)(invoke) → A(B(C(invoke)))
//	Execution order: A.before → B.before → C.before → invoke → C.after → B.after → A.after
package middleware

import (
	"context"
	"encoding/json"
)

// Invoker performs one RPC call and returns the raw result payload.
type Invoker func(ctx context.Context, method string, params []any) (json.RawMessage, error)

// Middleware wraps an Invoker with one concern.
type Middleware func(next Invoker) Invoker

// Chain composes middlewares into one, outermost first.
func Chain(middlewares ...Middleware) Middleware {
	return func(next Invoker) Invoker {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
