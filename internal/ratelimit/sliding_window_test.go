package ratelimit

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixedClock lets tests move time forward deterministically.
type fixedClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestLimiter(limit int, window time.Duration) (*SlidingWindow, *fixedClock) {
	clock := &fixedClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	l := New(limit, window)
	l.now = clock.Now
	return l, clock
}

func TestAllowUpToLimitThenDeny(t *testing.T) {
	l, _ := newTestLimiter(5, 900*time.Second)

	for i := 0; i < 5; i++ {
		ok, retry := l.Allow("10.0.0.1")
		require.True(t, ok, "attempt %d should be admitted", i+1)
		assert.Zero(t, retry)
	}

	ok, retry := l.Allow("10.0.0.1")
	require.False(t, ok, "6th attempt within window must be denied")
	assert.GreaterOrEqual(t, retry, 1)
	assert.LessOrEqual(t, retry, 900)
}

func TestKeysAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(1, time.Minute)

	ok, _ := l.Allow("a")
	require.True(t, ok)
	ok, _ = l.Allow("a")
	require.False(t, ok)

	ok, _ = l.Allow("b")
	assert.True(t, ok, "a saturated key must not affect others")
}

func TestWindowSlides(t *testing.T) {
	l, clock := newTestLimiter(2, time.Minute)

	ok, _ := l.Allow("k")
	require.True(t, ok)
	clock.Advance(30 * time.Second)
	ok, _ = l.Allow("k")
	require.True(t, ok)

	ok, retry := l.Allow("k")
	require.False(t, ok)
	assert.Equal(t, 30, retry, "oldest entry ages out in 30s")

	// First entry falls out of the window; one slot frees up.
	clock.Advance(31 * time.Second)
	ok, _ = l.Allow("k")
	assert.True(t, ok)
}

func TestResetClearsWindow(t *testing.T) {
	l, _ := newTestLimiter(1, time.Minute)

	ok, _ := l.Allow("k")
	require.True(t, ok)
	ok, _ = l.Allow("k")
	require.False(t, ok)

	l.Reset("k")

	ok, _ = l.Allow("k")
	assert.True(t, ok, "reset must make the next attempt admissible")
}

func TestResetOnEmptyKeyIsNoop(t *testing.T) {
	l, _ := newTestLimiter(1, time.Minute)
	l.Reset("never-seen")

	ok, _ := l.Allow("never-seen")
	assert.True(t, ok)
}

func TestConcurrentAdmissionNeverExceedsLimit(t *testing.T) {
	const limit = 10
	l := New(limit, time.Minute)

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := l.Allow("shared"); ok {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, limit, admitted)
}
