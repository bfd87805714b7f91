package engine

import (
	"context"
	"sync"
)

// hostLimiter bounds in-flight probes per host, on top of the global
// ceiling, so one playlist full of channels on a single server does not
// aim the whole worker budget at it at once.
//
// Slots are channel-token semaphores created lazily per host. The limit is
// fixed for the life of the limiter.
type hostLimiter struct {
	limit int

	mu    sync.Mutex
	slots map[string]chan struct{}
}

func newHostLimiter(limit int) *hostLimiter {
	if limit <= 0 {
		return nil
	}
	return &hostLimiter{limit: limit, slots: make(map[string]chan struct{})}
}

func (h *hostLimiter) slot(host string) chan struct{} {
	h.mu.Lock()
	ch := h.slots[host]
	if ch == nil {
		ch = make(chan struct{}, h.limit)
		h.slots[host] = ch
	}
	h.mu.Unlock()
	return ch
}

// acquire blocks until a slot for host is free or ctx ends.
// A nil limiter admits everything.
func (h *hostLimiter) acquire(ctx context.Context, host string) bool {
	if h == nil {
		return true
	}
	select {
	case h.slot(host) <- struct{}{}:
		return true
	case <-ctx.Done():
		return false
	}
}

func (h *hostLimiter) release(host string) {
	if h == nil {
		return
	}
	// Best-effort: never block on release.
	select {
	case <-h.slot(host):
	default:
	}
}
