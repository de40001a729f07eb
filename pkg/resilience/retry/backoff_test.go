package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// TestBackoffDelay_Monotonic tests that undithered delays never
// decrease and never exceed the cap.
func TestBackoffDelay_Monotonic(t *testing.T) {
	cfg := Config{
		InitialDelay:      100 * time.Millisecond,
		MaxDelay:          2 * time.Second,
		BackoffMultiplier: 2,
		JitterType:        JitterNone,
	}.withDefaults()

	prev := time.Duration(0)
	for attempt := 1; attempt <= 12; attempt++ {
		d := applyJitter(cfg, backoffDelay(cfg, attempt))
		assert.GreaterOrEqual(t, d, prev, "attempt %d", attempt)
		assert.LessOrEqual(t, d, cfg.MaxDelay, "attempt %d", attempt)
		prev = d
	}
}

// TestBackoffDelay_Growth tests the exponential progression before
// the cap.
func TestBackoffDelay_Growth(t *testing.T) {
	cfg := Config{
		InitialDelay:      100 * time.Millisecond,
		MaxDelay:          30 * time.Second,
		BackoffMultiplier: 2,
	}.withDefaults()

	assert.Equal(t, 100*time.Millisecond, backoffDelay(cfg, 1))
	assert.Equal(t, 200*time.Millisecond, backoffDelay(cfg, 2))
	assert.Equal(t, 400*time.Millisecond, backoffDelay(cfg, 3))
}

// TestApplyJitter_Bounds tests each jitter mode's range.
func TestApplyJitter_Bounds(t *testing.T) {
	cfg := Config{
		InitialDelay:      100 * time.Millisecond,
		MaxDelay:          30 * time.Second,
		BackoffMultiplier: 2,
	}.withDefaults()
	base := 1 * time.Second

	for i := 0; i < 200; i++ {
		cfg.JitterType = JitterFull
		d := applyJitter(cfg, base)
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, base)

		cfg.JitterType = JitterEqual
		d = applyJitter(cfg, base)
		assert.GreaterOrEqual(t, d, base/2)
		assert.LessOrEqual(t, d, base)

		cfg.JitterType = JitterDecorrelated
		d = applyJitter(cfg, base)
		assert.GreaterOrEqual(t, d, cfg.InitialDelay)
		assert.LessOrEqual(t, d, 3*base)
	}
}

// TestApplyJitter_None tests that the none mode leaves delays
// untouched.
func TestApplyJitter_None(t *testing.T) {
	cfg := Config{JitterType: JitterNone}.withDefaults()

	assert.Equal(t, 700*time.Millisecond, applyJitter(cfg, 700*time.Millisecond))
}
