package pkgindex

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// Budget throttles index requests based on rate-limit response headers.
// Indexes that never send the headers effectively leave it uncapped.
type Budget struct {
	mu        sync.Mutex
	remaining int
	reset     time.Time
	cooldown  time.Time
	probed    bool
	now       func() time.Time
	wake      chan struct{}
}

func NewBudget() *Budget {
	return &Budget{
		remaining: 300, // conservative until the index reports real limits
		reset:     time.Now().Add(1 * time.Hour),
		now:       time.Now,
		wake:      make(chan struct{}),
	}
}

// Acquire blocks until one request may be sent or ctx is done. After the
// reset time passes it lets exactly one probe through, then blocks callers
// until UpdateFromResponse observes a refreshed limit.
func (b *Budget) Acquire(ctx context.Context) error {
	for {
		b.mu.Lock()
		now := b.now()

		if now.Before(b.cooldown) {
			until := b.cooldown
			ch := b.wake
			b.mu.Unlock()
			if err := waitUntil(ctx, now, until, ch); err != nil {
				return err
			}
			continue
		}

		if b.remaining > 0 {
			b.remaining--
			b.mu.Unlock()
			return nil
		}

		if !now.Before(b.reset) {
			if !b.probed {
				b.probed = true
				b.mu.Unlock()
				return nil
			}
			ch := b.wake
			b.mu.Unlock()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ch:
			}
			continue
		}

		reset := b.reset
		ch := b.wake
		b.mu.Unlock()
		if err := waitUntil(ctx, now, reset, ch); err != nil {
			return err
		}
	}
}

func waitUntil(ctx context.Context, now, deadline time.Time, wake <-chan struct{}) error {
	wait := deadline.Sub(now)
	if wait < 0 {
		wait = 0
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-wake:
		return nil
	case <-timer.C:
		return nil
	}
}

// UpdateFromResponse records Retry-After and X-RateLimit-* headers and
// wakes any goroutine blocked in Acquire when the picture changed.
func (b *Budget) UpdateFromResponse(resp *http.Response) {
	if b == nil || resp == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	changed := false

	if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
		if seconds, err := strconv.Atoi(retryAfter); err == nil && seconds > 0 {
			until := b.now().Add(time.Duration(seconds) * time.Second)
			if until.After(b.cooldown) {
				b.cooldown = until
				changed = true
			}
		}
	}

	if remaining := resp.Header.Get("X-RateLimit-Remaining"); remaining != "" {
		if val, err := strconv.Atoi(remaining); err == nil && val >= 0 && b.remaining != val {
			b.remaining = val
			changed = true
		}
	}

	if reset := resp.Header.Get("X-RateLimit-Reset"); reset != "" {
		if val, err := strconv.ParseInt(reset, 10, 64); err == nil && val > 0 {
			newReset := time.Unix(val, 0)
			if !b.reset.Equal(newReset) {
				b.reset = newReset
				changed = true
			}
		}
	}

	if changed {
		b.probed = false
		close(b.wake)
		b.wake = make(chan struct{})
	}
}
