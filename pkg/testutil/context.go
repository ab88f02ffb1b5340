package testutil

import (
	"context"
	"testing"
	"time"

	"vigil/pkg/requestcontext"
)

// CycleContext pins the cycle clock and run id the way the job runner does,
// so service tests exercise the same time-injection path as production.
func CycleContext(t *testing.T, now time.Time, runID string) context.Context {
	t.Helper()
	ctx := requestcontext.WithTime(context.Background(), now)
	return requestcontext.WithRunID(ctx, runID)
}

// At returns a context with only the cycle time pinned.
func At(now time.Time) context.Context {
	return requestcontext.WithTime(context.Background(), now)
}
