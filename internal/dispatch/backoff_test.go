package dispatch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffDelayBounds(t *testing.T) {
	b := Backoff{Base: time.Second, Cap: 30 * time.Second}

	for attempt := 1; attempt <= 10; attempt++ {
		ceiling := b.Base << (attempt - 1)
		if ceiling > b.Cap || ceiling <= 0 {
			ceiling = b.Cap
		}
		// Jitter is random; sample enough draws to catch an off-by-one.
		for i := 0; i < 100; i++ {
			d := b.Delay(attempt)
			assert.Greater(t, d, time.Duration(0))
			assert.LessOrEqual(t, d, ceiling)
		}
	}
}

func TestBackoffDelayCaps(t *testing.T) {
	b := Backoff{Base: time.Second, Cap: 5 * time.Second}

	for i := 0; i < 100; i++ {
		assert.LessOrEqual(t, b.Delay(50), 5*time.Second, "deep attempts never overflow past the cap")
	}
}

func TestBackoffDelayClampsAttempt(t *testing.T) {
	b := Backoff{Base: time.Second, Cap: 30 * time.Second}

	for i := 0; i < 100; i++ {
		assert.LessOrEqual(t, b.Delay(0), time.Second, "attempt below one behaves like the first attempt")
	}
}
