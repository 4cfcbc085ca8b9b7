// Package connpool implements the bounded connection pool (spec.md §4.2): it
// lazily creates connections up to the allocator's total capacity, recycles
// idle ones, replaces broken ones, and serves waiters in FIFO order.
package connpool

import (
	"container/list"
	"context"
	"errors"
	"sync"

	"nntppool/pkg/allocator"
	"nntppool/pkg/logger"
	"nntppool/pkg/poolerr"
)

var errClosed = errors.New("connpool: pool is closed")

// Event is the (live, idle, max) snapshot published on every pool state
// change (spec.md §3, "Pool event"; §6, telemetry).
type Event struct {
	Live, Idle, Max int
}

// Observer receives pool events. Must not block; Pool calls it from its own
// goroutine so a slow observer never stalls acquire/release (spec.md §4.2).
type Observer func(Event)

// Pool hands out exclusive leases over a bounded set of connections backed
// by an allocator. Grounded on the teacher's pkg/usenet/nntp/pool.go
// channel-based idle/slot pool, generalized from one provider to the
// allocator's multi-provider rotation and given an explicit FIFO waiter
// queue (DESIGN.md).
type Pool struct {
	mu       sync.Mutex
	max      int
	idle     []*allocator.ScopedConn
	live     int
	waiters  *list.List // of chan struct{}
	alloc    *allocator.Allocator
	closed   bool
	observer Observer
	metrics  *Metrics
}

func New(alloc *allocator.Allocator, observer Observer) *Pool {
	if observer == nil {
		observer = func(Event) {}
	}
	return &Pool{
		max:      alloc.TotalConnections(),
		waiters:  list.New(),
		alloc:    alloc,
		observer: observer,
		metrics:  newMetrics(),
	}
}

// Lease is an exclusive, short-lived grant of one connection (spec.md §3).
// Release must be called exactly once.
type Lease struct {
	scoped  *allocator.ScopedConn
	pool    *Pool
	replace bool
	once    sync.Once
}

// Replace marks the lease's connection for disposal rather than reuse, per
// spec.md §4.2 ("Lease object ... exposes ... a replace() method").
func (l *Lease) Replace() { l.replace = true }

// Scoped exposes the underlying allocator.ScopedConn (and through it, the
// nntpclient.Client and Provider) to callers above connpool.
func (l *Lease) Scoped() *allocator.ScopedConn { return l.scoped }

// Release returns the lease to the pool: back to idle, or disposed if
// marked for replace. Either way the next waiter is woken. Safe to call
// more than once; only the first call has effect.
func (l *Lease) Release() {
	l.once.Do(func() { l.pool.release(l) })
}

func (p *Pool) tryAcquireLocked() (sc *allocator.ScopedConn, gotIdle, canCreate bool) {
	if n := len(p.idle); n > 0 {
		sc = p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.live++
		return sc, true, false
	}
	if p.live < p.max {
		p.live++
		return nil, false, true
	}
	return nil, false, false
}

// Acquire returns a lease: an idle connection if one exists, a freshly
// dialed one if the pool has spare capacity, or blocks FIFO until another
// lease is released (spec.md §4.2). Honors ctx at every suspension point.
func (p *Pool) Acquire(ctx context.Context) (*Lease, error) {
	justWoken := false
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, poolerr.New(poolerr.KindOther, errClosed)
		}

		// A waiter that was just handed a wake signal already holds its FIFO
		// turn (wakeNext already dequeued it) and must take the fast path
		// regardless of who else is queued behind it; only a brand-new
		// arrival defers to an existing queue.
		if justWoken || p.waiters.Len() == 0 {
			if sc, gotIdle, canCreate := p.tryAcquireLocked(); gotIdle {
				p.mu.Unlock()
				p.publish()
				logger.Trace("pool acquire: idle hit")
				return &Lease{scoped: sc, pool: p}, nil
			} else if canCreate {
				p.mu.Unlock()
				sc, err := p.alloc.CreateConnection(ctx)
				if err != nil {
					p.mu.Lock()
					p.live--
					p.mu.Unlock()
					p.publish()
					p.wakeNext()
					return nil, err
				}
				p.publish()
				logger.Trace("pool acquire: created new connection")
				return &Lease{scoped: sc, pool: p}, nil
			}
		}

		wake := make(chan struct{}, 1)
		el := p.waiters.PushBack(wake)
		p.mu.Unlock()

		select {
		case <-ctx.Done():
			p.mu.Lock()
			p.waiters.Remove(el)
			p.mu.Unlock()
			return nil, poolerr.New(poolerr.KindCancelled, ctx.Err())
		case <-wake:
			// Loop around and retry the fast path now that we're at the
			// front; justWoken makes the retry unconditional (see above).
			justWoken = true
		}
	}
}

func (p *Pool) release(l *Lease) {
	p.mu.Lock()
	if p.closed {
		p.live--
		p.mu.Unlock()
		l.scoped.Conn().Close()
		l.scoped.Dispose()
		p.publish()
		return
	}

	if l.replace {
		p.live--
		p.mu.Unlock()
		l.scoped.Conn().Close()
		l.scoped.Dispose()
	} else {
		p.idle = append(p.idle, l.scoped)
		p.live--
		p.mu.Unlock()
	}
	p.publish()
	p.wakeNext()
}

func (p *Pool) wakeNext() {
	p.mu.Lock()
	el := p.waiters.Front()
	if el != nil {
		p.waiters.Remove(el)
	}
	p.mu.Unlock()
	if el == nil {
		return
	}
	ch := el.Value.(chan struct{})
	select {
	case ch <- struct{}{}:
	default:
	}
}

func (p *Pool) publish() {
	p.mu.Lock()
	ev := Event{Live: p.live, Idle: len(p.idle), Max: p.max}
	obs := p.observer
	p.mu.Unlock()
	go obs(ev)
}

// Dispose drains all idle connections and refuses new acquires. Live
// (leased) connections are disposed as their leases return (spec.md §4.2,
// §9 Q2: graceful drain, not an immediate teardown).
func (p *Pool) Dispose() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	idle := p.idle
	p.idle = nil

	var waiters []chan struct{}
	for e := p.waiters.Front(); e != nil; e = e.Next() {
		waiters = append(waiters, e.Value.(chan struct{}))
	}
	p.waiters.Init()
	p.mu.Unlock()

	for _, sc := range idle {
		sc.Conn().Close()
		sc.Dispose()
	}
	for _, ch := range waiters {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	p.publish()
}

// Snapshot returns the current (live, idle, max) without side effects.
func (p *Pool) Snapshot() Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Event{Live: p.live, Idle: len(p.idle), Max: p.max}
}

func (p *Pool) Max() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.max
}
