package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLimiter_BurstThenReject(t *testing.T) {
	l := NewLimiter(3, time.Hour)

	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow("10.0.0.1"), "request %d", i)
	}
	assert.False(t, l.Allow("10.0.0.1"))

	// other clients have their own bucket
	assert.True(t, l.Allow("10.0.0.2"))
	assert.Equal(t, 3, l.Burst())
}

func TestLimiter_Refills(t *testing.T) {
	l := NewLimiter(1, 20*time.Millisecond)
	assert.True(t, l.Allow("k"))
	assert.False(t, l.Allow("k"))

	assert.Eventually(t, func() bool { return l.Allow("k") }, time.Second, 5*time.Millisecond)
}

func TestLimiter_Defaults(t *testing.T) {
	l := NewLimiter(0, 0)
	assert.Equal(t, 1, l.Burst())
	assert.True(t, l.Allow("k"))
}

func TestLimiter_Sweep(t *testing.T) {
	l := NewLimiter(5, time.Second)
	l.Allow("old")
	time.Sleep(10 * time.Millisecond)
	l.Allow("fresh")

	assert.Equal(t, 1, l.Sweep(5*time.Millisecond))
	assert.InDelta(t, 4, l.Tokens("fresh"), 0.5)
}
