package ratelimiter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAllowWithinLimit(t *testing.T) {
	rl := NewFixedWindowLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		ok, _ := rl.Allow("1.2.3.4")
		assert.True(t, ok)
	}

	ok, retryAfter := rl.Allow("1.2.3.4")
	assert.False(t, ok)
	assert.Greater(t, retryAfter, time.Duration(0))

	// Other keys are unaffected.
	ok, _ = rl.Allow("5.6.7.8")
	assert.True(t, ok)
}

func TestWindowResets(t *testing.T) {
	rl := NewFixedWindowLimiter(1, 10*time.Millisecond)

	ok, _ := rl.Allow("1.2.3.4")
	assert.True(t, ok)
	ok, _ = rl.Allow("1.2.3.4")
	assert.False(t, ok)

	time.Sleep(15 * time.Millisecond)

	ok, _ = rl.Allow("1.2.3.4")
	assert.True(t, ok)
}

func TestSweepDropsExpiredWindows(t *testing.T) {
	rl := NewFixedWindowLimiter(1, 10*time.Millisecond)

	rl.Allow("1.2.3.4")
	time.Sleep(15 * time.Millisecond)
	rl.Sweep()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	assert.Empty(t, rl.counts)
	assert.Empty(t, rl.starts)
}
