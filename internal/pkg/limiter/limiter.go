/*
Package limiter keeps one token bucket (rate.Limiter) per key.

The chat core keys it by user to throttle message commands, the HTTP layer keys it by
client address. Buckets that refilled completely carry no state worth keeping and are
dropped by Sweep, which Run calls periodically until its context ends.
*/
package limiter

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/stanislavb/roleOOC/internal/pkg/logx"
)

// Limiter is a set of token buckets sharing one rate and burst.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter

	r rate.Limit
	b int

	now func() time.Time
}

// New returns a Limiter allowing r events per second per key with bursts of b.
// A non-positive r disables limiting.
func New(r rate.Limit, b int) *Limiter {
	if r <= 0 {
		r = rate.Inf
	}
	return &Limiter{
		buckets: make(map[string]*rate.Limiter),
		r:       r,
		b:       max(b, 1),
		now:     time.Now,
	}
}

// Enabled reports whether the Limiter ever rejects.
func (l *Limiter) Enabled() bool {
	return l.r != rate.Inf
}

func (l *Limiter) bucket(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		b = rate.NewLimiter(l.r, l.b)
		l.buckets[key] = b
	}
	return b
}

// Allow takes one token from the bucket of key and reports whether there was one.
func (l *Limiter) Allow(key string) bool {
	if !l.Enabled() {
		return true
	}
	return l.bucket(key).AllowN(l.now(), 1)
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// Sweep drops every bucket that is full again and returns how many were dropped.
func (l *Limiter) Sweep() int {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, b := range l.buckets {
		if b.TokensAt(now) >= float64(b.Burst()) {
			delete(l.buckets, key)
			removed++
		}
	}
	return removed
}

// Run sweeps every interval until ctx is done.
func (l *Limiter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed := l.Sweep()
			logx.Debug("Rate limiter sweep finished", "removed", removed, "remaining", l.Len())
		}
	}
}
