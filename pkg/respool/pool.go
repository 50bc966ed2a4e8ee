// Package respool implements the generic bounded resource pool (§4.2):
// database connections, daemon sockets and similar leased resources are
// acquired with blocking/timed waits, reference-counted while leased, and
// returned to a bounded free list on release.
package respool

import (
	"sync"
	"time"

	"github.com/dpmgo/dpmgo/pkg/status"
	"github.com/dpmgo/dpmgo/pkg/utils"
)

var logger = utils.GetLogger("respool")

// acquireWait is the fixed internal ceiling on a blocking acquire, per §5:
// "pool waits use a fixed 60s internal ceiling".
const acquireWait = 60 * time.Second

// Factory creates, validates and destroys pooled elements of type T.
type Factory[T any] interface {
	Create() (T, error)
	Destroy(T)
	// IsValid is consulted on acquire of a previously pooled element;
	// an invalid element is destroyed and replaced transparently.
	IsValid(T) bool
}

type leased[T any] struct {
	elem     T
	refcount int
}

// Pool is a generic, factory-backed bounded resource pool. The zero value
// is not usable; construct with New.
type Pool[T any] struct {
	mu      sync.Mutex
	cond    *sync.Cond
	factory Factory[T]

	target int // N: target pooled size, adjustable via Resize
	free   []T
	leased map[uintptr]*leased[T]
	// nextKey numbers leases so that callers address a handle by an opaque
	// key instead of a pointer when T is not itself comparable/addressable.
	nextKey uintptr
	closed  bool
}

// Handle identifies one leased element, returned by Acquire and consumed
// by AcquireHandle/Release.
type Handle uintptr

// New constructs a pool with target size n, backed by factory.
func New[T any](n int, factory Factory[T]) *Pool[T] {
	p := &Pool[T]{factory: factory, target: n, leased: make(map[uintptr]*leased[T])}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Resize updates the target pooled size; actual pooled/leased counts
// self-regulate on subsequent releases (§4.2 resize).
func (p *Pool[T]) Resize(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.target = n
}

// Acquire obtains a fresh lease. If block is false and no element is
// immediately available (no free slot and pooled+leased already at burst
// capacity 2N), it fails with status.QueryFailed ("resource unavailable").
// If block is true, it waits on the internal condition variable, timing
// out (logged, recoverable) after 60s.
func (p *Pool[T]) Acquire(block bool) (T, Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	deadline := time.Now().Add(acquireWait)
	for {
		if p.closed {
			var zero T
			return zero, 0, status.Raisef(status.InternalError, "pool closed")
		}
		if elem, ok := p.popFree(); ok {
			return p.lease(elem)
		}
		if p.availableForCreate() {
			elem, err := p.factory.Create()
			if err != nil {
				var zero T
				return zero, 0, status.Wrap(err, status.InternalError, "create pooled resource")
			}
			return p.lease(elem)
		}
		if !block {
			var zero T
			return zero, 0, status.Raisef(status.QueryFailed, "resource unavailable")
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			logger.Warnf("acquire timed out after %s waiting for a free resource", acquireWait)
			deadline = time.Now().Add(acquireWait)
			continue
		}
		waitOn(p.cond, remaining)
	}
}

// availableForCreate reports whether a brand-new element may be created:
// pooled+leased below the 2N burst ceiling.
func (p *Pool[T]) availableForCreate() bool {
	inUse := len(p.leased) + len(p.free)
	burst := 2 * p.target
	if p.target == 0 {
		burst = 2
	}
	return inUse < burst
}

func (p *Pool[T]) popFree() (T, bool) {
	if len(p.free) == 0 {
		var zero T
		return zero, false
	}
	elem := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	if !p.factory.IsValid(elem) {
		p.factory.Destroy(elem)
		return p.popFree()
	}
	return elem, true
}

func (p *Pool[T]) lease(elem T) (T, Handle, error) {
	p.nextKey++
	key := p.nextKey
	p.leased[key] = &leased[T]{elem: elem, refcount: 1}
	return elem, Handle(key), nil
}

// AcquireHandle increments the refcount of an already-leased element,
// used to pass a connection through a nested call without a second
// physical acquire (§4.2 acquire(handle)).
func (p *Pool[T]) AcquireHandle(h Handle) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.leased[uintptr(h)]
	if !ok {
		return status.Raisef(status.InternalError, "acquire: unknown handle")
	}
	l.refcount++
	return nil
}

// Release decrements the refcount of h; at zero the element is pushed
// back to the free list (if under target) or destroyed, and one waiter
// is signaled.
func (p *Pool[T]) Release(h Handle) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.leased[uintptr(h)]
	if !ok {
		return status.Raisef(status.InternalError, "release: unknown handle")
	}
	l.refcount--
	if l.refcount > 0 {
		return nil
	}
	delete(p.leased, uintptr(h))
	if len(p.free) < p.target {
		p.free = append(p.free, l.elem)
	} else {
		p.factory.Destroy(l.elem)
	}
	p.cond.Signal()
	return nil
}

// Close destroys every free element. Elements still leased are
// deliberately leaked with a warning, per §4.2, rather than blocking
// forever waiting for callers that may never return them.
func (p *Pool[T]) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	for _, e := range p.free {
		p.factory.Destroy(e)
	}
	p.free = nil
	if n := len(p.leased); n > 0 {
		logger.Warnf("pool closed with %d element(s) still leased; leaking them", n)
	}
	p.cond.Broadcast()
}

// InUse returns the current leased + pooled-free counts, for metrics.
func (p *Pool[T]) InUse() (leased, free int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.leased), len(p.free)
}

// waitOn waits on cond for at most d, working around sync.Cond having no
// native timeout by waking every waiter from a timer goroutine after d
// elapses. The caller re-checks predicate state itself on return (the
// Acquire loop above), so a spurious or timed-out wakeup is harmless.
func waitOn(cond *sync.Cond, d time.Duration) {
	timer := time.AfterFunc(d, func() {
		cond.L.Lock()
		cond.Broadcast()
		cond.L.Unlock()
	})
	defer timer.Stop()
	cond.Wait()
}
