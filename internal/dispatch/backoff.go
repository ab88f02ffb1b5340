package dispatch

import (
	"math/rand"
	"time"
)

// Backoff computes retry delays: exponential with full jitter, capped.
type Backoff struct {
	Base time.Duration
	Cap  time.Duration
}

// Delay returns the wait before the given attempt (1-based). The exponential
// ceiling doubles per attempt and the actual delay is drawn uniformly from
// (0, ceiling], which spreads concurrent retries instead of synchronizing
// them.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	ceiling := b.Base << (attempt - 1)
	if ceiling > b.Cap || ceiling <= 0 {
		ceiling = b.Cap
	}
	return time.Duration(rand.Int63n(int64(ceiling))) + 1
}
