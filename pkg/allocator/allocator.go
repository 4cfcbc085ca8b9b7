// Package allocator implements the provider allocator (spec.md §4.1): given
// an ordered provider list and per-provider connection caps, it decides
// which provider backs the next new connection, enforces the cap, and
// fairly rotates across providers.
package allocator

import (
	"context"
	"sync"

	"nntppool/pkg/logger"
	"nntppool/pkg/nntpclient"
	"nntppool/pkg/poolerr"
	"nntppool/pkg/providerconfig"
)

// Factory dials and authenticates a single-connection client against the
// given provider. Supplied by the caller so the allocator stays free of
// transport concerns, matching the teacher's pool separating NewClient
// dial logic from the slot-accounting in pkg/usenet/nntp/pool.go.
type Factory func(ctx context.Context, p providerconfig.Provider) (nntpclient.Conn, error)

// DefaultFactory dials and authenticates using nntpclient directly.
func DefaultFactory(ctx context.Context, p providerconfig.Provider) (nntpclient.Conn, error) {
	c, err := nntpclient.Dial(ctx, p.Host, p.Port, p.UseSSL)
	if err != nil {
		return nil, err
	}
	if p.User != "" {
		if err := c.Authenticate(ctx, p.User, p.Pass); err != nil {
			c.Close()
			return nil, err
		}
	}
	return c, nil
}

// Allocator round-robins new-connection requests across a fixed provider
// list, never exceeding any single provider's cap (spec.md invariant:
// 0 <= live[p] <= p.max_connections for all p).
type Allocator struct {
	mu        sync.Mutex
	providers []providerconfig.Provider
	live      []int
	cursor    int
	factory   Factory
}

// New builds an allocator over providers, normalized (defaulted/clamped)
// beforehand by the caller via providerconfig.Normalize.
func New(providers []providerconfig.Provider, factory Factory) *Allocator {
	if factory == nil {
		factory = DefaultFactory
	}
	return &Allocator{
		providers: providers,
		live:      make([]int, len(providers)),
		factory:   factory,
	}
}

// ScopedConn wraps a connection with a one-shot release callback that
// decrements the owning provider's live count (spec.md §3, "Scoped
// connection").
type ScopedConn struct {
	conn        nntpclient.Conn
	provider    providerconfig.Provider
	providerIdx int
	allocator   *Allocator
	once        sync.Once
}

func (s *ScopedConn) Conn() nntpclient.Conn             { return s.conn }
func (s *ScopedConn) Provider() providerconfig.Provider { return s.provider }

// Dispose releases the provider slot. Safe to call more than once; only the
// first call has effect (spec.md §3 invariant: "every allocated scoped
// connection releases its provider slot exactly once").
func (s *ScopedConn) Dispose() {
	s.once.Do(func() {
		s.allocator.release(s.providerIdx)
	})
}

// CreateConnection scans providers starting at the rotation cursor for the
// first with spare capacity, reserves a slot, advances the cursor past it,
// then dials outside the lock (spec.md §4.1). On dial/auth failure the slot
// is released before the error is returned.
func (a *Allocator) CreateConnection(ctx context.Context) (*ScopedConn, error) {
	a.mu.Lock()
	n := len(a.providers)
	if n == 0 {
		a.mu.Unlock()
		return nil, poolerr.New(poolerr.KindNoCapacity, nil)
	}

	idx := -1
	for i := 0; i < n; i++ {
		j := (a.cursor + i) % n
		if a.live[j] < a.providers[j].Connections {
			idx = j
			break
		}
	}
	if idx == -1 {
		a.mu.Unlock()
		return nil, poolerr.New(poolerr.KindNoCapacity, nil)
	}

	a.live[idx]++
	a.cursor = (idx + 1) % n
	provider := a.providers[idx]
	a.mu.Unlock()

	logger.Trace("allocator selected provider", "provider", provider.Name, "idx", idx)

	conn, err := a.factory(ctx, provider)
	if err != nil {
		a.release(idx)
		return nil, err
	}

	return &ScopedConn{
		conn:        conn,
		provider:    provider,
		providerIdx: idx,
		allocator:   a,
	}, nil
}

func (a *Allocator) release(idx int) {
	a.mu.Lock()
	a.live[idx]--
	a.mu.Unlock()
}

// TotalConnections returns Σ provider caps, clamped to >= 1 (spec.md §3).
func (a *Allocator) TotalConnections() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return providerconfig.TotalConnections(a.providers)
}

// LiveCounts returns a snapshot of live connections per provider, for tests
// and metrics.
func (a *Allocator) LiveCounts() []int {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]int, len(a.live))
	copy(out, a.live)
	return out
}
