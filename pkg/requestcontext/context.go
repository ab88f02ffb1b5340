// Package requestcontext provides context accessors for run-scoped values.
//
// The engine derives every decision from persisted rows and the current time,
// so the clock is injected through context: workers stamp the cycle start with
// WithTime and services read it with Now. Tests pin time the same way.
//
// Usage in services (read values):
//
//	now := requestcontext.Now(ctx)
//	runID := requestcontext.RunID(ctx)
//
// Usage in workers and tests (set values):
//
//	ctx = requestcontext.WithTime(ctx, cycleStart)
//	ctx = requestcontext.WithRunID(ctx, runID)
package requestcontext

import (
	"context"
	"time"
)

// Context key types (unexported for encapsulation).
type (
	runIDKey   struct{}
	runTimeKey struct{}
)

// RunID retrieves the current cycle run identifier from the context.
// Returns the empty string if not set.
func RunID(ctx context.Context) string {
	if id, ok := ctx.Value(runIDKey{}).(string); ok {
		return id
	}
	return ""
}

// WithRunID injects a cycle run identifier into the context.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey{}, runID)
}

// Now returns the injected cycle time, falling back to the wall clock when no
// time was injected. Every elapsed-time comparison in the engine goes through
// this accessor so a whole cycle shares one consistent "now".
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(runTimeKey{}).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime pins the cycle time in the context.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, runTimeKey{}, t)
}
