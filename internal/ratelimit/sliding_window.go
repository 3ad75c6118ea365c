// Package ratelimit implements an in-process sliding-window limiter used
// to guard the login endpoint against credential stuffing.  It is a
// best-effort, single-process control; a single server instance owns all
// login traffic so no external store is involved.
package ratelimit

import (
    "sync"
    "time"
)

// SlidingWindow counts events per key within a trailing time window.
// All mutations are serialized through one mutex; login traffic is low
// volume so a single lock over the whole map is enough and never sits on
// the hot path of authenticated requests.
type SlidingWindow struct {
    limit  int
    window time.Duration

    mu     sync.Mutex
    events map[string][]time.Time

    // now is swappable in tests.
    now func() time.Time
}

// New creates a limiter allowing at most limit events per key within the
// trailing window.  Values below 1 are clamped.
func New(limit int, window time.Duration) *SlidingWindow {
    if limit < 1 {
        limit = 1
    }
    if window < time.Second {
        window = time.Second
    }
    return &SlidingWindow{
        limit:  limit,
        window: window,
        events: make(map[string][]time.Time),
        now:    time.Now,
    }
}

// Allow records an attempt for key and reports whether it is admitted.
// When denied, retryAfter is the whole number of seconds until the oldest
// counted event ages out of the window, floored at 1.  Expired entries are
// pruned lazily from the front of the slice; timestamps are appended in
// non-decreasing order so a prefix trim suffices.
func (l *SlidingWindow) Allow(key string) (ok bool, retryAfter int) {
    now := l.now()
    cutoff := now.Add(-l.window)

    l.mu.Lock()
    defer l.mu.Unlock()

    q := l.events[key]
    i := 0
    for i < len(q) && q[i].Before(cutoff) {
        i++
    }
    if i > 0 {
        q = append(q[:0], q[i:]...)
    }

    if len(q) >= l.limit {
        l.events[key] = q
        retry := int(l.window.Seconds() - now.Sub(q[0]).Seconds())
        if retry < 1 {
            retry = 1
        }
        return false, retry
    }

    l.events[key] = append(q, now)
    return true, 0
}

// Reset clears a key's window outright.  Called after a successful
// authentication so earlier failed attempts from the same client do not
// penalize legitimate follow-up traffic.  Resetting an absent key is a
// no-op.
func (l *SlidingWindow) Reset(key string) {
    l.mu.Lock()
    defer l.mu.Unlock()
    delete(l.events, key)
}
