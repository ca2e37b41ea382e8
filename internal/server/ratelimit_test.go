package server

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func testLimiter(cfg RateLimitConfig) (*identityLimiter, *time.Time) {
	l := newIdentityLimiter(cfg)
	now := time.Unix(1_700_000_000, 0)
	l.now = func() time.Time { return now }
	return l, &now
}

func TestLimiter_BurstThenSteadyState(t *testing.T) {
	l, now := testLimiter(RateLimitConfig{RPS: 1, Burst: 2})

	// Fresh caller gets RPS+Burst in the first window.
	assert.True(t, l.allow("user-1"))
	assert.True(t, l.allow("user-1"))
	assert.True(t, l.allow("user-1"))
	assert.False(t, l.allow("user-1"))

	// The next window, still active, is steady-state only.
	*now = now.Add(limiterWindow)
	assert.True(t, l.allow("user-1"))
	assert.False(t, l.allow("user-1"))
}

func TestLimiter_IdleRestoresBurst(t *testing.T) {
	l, now := testLimiter(RateLimitConfig{RPS: 1, Burst: 2})

	assert.True(t, l.allow("user-1"))
	*now = now.Add(limiterIdleAfter)

	assert.True(t, l.allow("user-1"))
	assert.True(t, l.allow("user-1"))
	assert.True(t, l.allow("user-1"))
	assert.False(t, l.allow("user-1"))
}

func TestLimiter_KeysAreIndependent(t *testing.T) {
	l, _ := testLimiter(RateLimitConfig{RPS: 1, Burst: 0})

	assert.True(t, l.allow("user-1"))
	assert.False(t, l.allow("user-1"))
	assert.True(t, l.allow("user-2"), "one noisy caller must not starve another")
}

func TestLimiter_PruneDropsIdleCallers(t *testing.T) {
	l, now := testLimiter(RateLimitConfig{RPS: 10, Burst: 0})

	for i := 0; i < 50; i++ {
		l.allow(fmt.Sprintf("user-%d", i))
	}
	*now = now.Add(limiterIdleAfter)
	l.allow("user-fresh")

	l.mu.Lock()
	l.prune(*now)
	remaining := len(l.callers)
	l.mu.Unlock()

	assert.Equal(t, 1, remaining, "only the fresh caller survives the prune")
}
