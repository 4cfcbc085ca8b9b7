// Package streamclient is the streaming client facade (spec.md §2, the
// "~15%" top layer): it owns the current pool, consumes a configuration
// change stream in the background, atomically swaps the pool on qualifying
// changes, and exposes the article-set stream adapter plus the incremental
// provider-membership and telemetry surface supplemented from the
// altmount-lineage pool manager (SPEC_FULL.md).
package streamclient

import (
	"context"
	"fmt"
	"sync"
	"time"

	"nntppool/pkg/allocator"
	"nntppool/pkg/articlestream"
	"nntppool/pkg/connpool"
	"nntppool/pkg/logger"
	"nntppool/pkg/multiclient"
	"nntppool/pkg/poolcache"
	"nntppool/pkg/providerconfig"
	"nntppool/pkg/telemetry"
)

// DispatchStrategy selects how new connections are distributed across
// providers. Round-robin is the only strategy spec.md mandates (§4.1,
// "Policy"); the named constant exists so the option is visible at
// construction time, mirroring the altmount-lineage
// WithDispatchStrategy/DispatchRoundRobin shape (DESIGN.md).
type DispatchStrategy int

const DispatchRoundRobin DispatchStrategy = 0

// Option configures a Client at construction time.
type Option func(*options)

type options struct {
	dispatch DispatchStrategy
	hub      *telemetry.Hub
	factory  allocator.Factory
}

// WithDispatchStrategy pins the dispatch strategy. Only DispatchRoundRobin
// is implemented today.
func WithDispatchStrategy(s DispatchStrategy) Option {
	return func(o *options) { o.dispatch = s }
}

// WithTelemetryHub attaches a websocket broadcast hub that receives every
// pool-utilization event as a "live|max|idle" string (spec.md §6).
func WithTelemetryHub(h *telemetry.Hub) Option {
	return func(o *options) { o.hub = h }
}

// WithFactory overrides how new single-connection clients are dialed.
// Defaults to allocator.DefaultFactory; tests substitute a fake to drive
// the scenarios in spec.md §8 without real sockets.
func WithFactory(f allocator.Factory) Option {
	return func(o *options) { o.factory = f }
}

// Client is the top-level entry point: stat/date/file-size/header/stream
// over a cache-wrapped multi-connection client, plus provider-set
// management and config-change consumption.
type Client struct {
	mu        sync.RWMutex
	providers []providerconfig.Provider
	pool      *connpool.Pool
	cache     *poolcache.Cache
	hub       *telemetry.Hub
	factory   allocator.Factory

	cancel context.CancelFunc
}

// New builds a Client over an initial provider list. An empty list is
// valid: the client still gets a pool, but that pool cannot create
// connections until AddProvider or a config change supplies a provider.
func New(providers []providerconfig.Provider, opts ...Option) (*Client, error) {
	o := &options{dispatch: DispatchRoundRobin, factory: allocator.DefaultFactory}
	for _, opt := range opts {
		opt(o)
	}

	c := &Client{hub: o.hub, factory: o.factory}
	if err := c.rebuild(providerconfig.Normalize(providers)); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) publish(ev connpool.Event) {
	msg := fmt.Sprintf("%d|%d|%d", ev.Live, ev.Max, ev.Idle)
	if c.hub != nil {
		c.hub.Broadcast(msg)
	}
}

// rebuild constructs a fresh allocator and pool from providers. The first
// call also builds the multiclient and cache over that pool; later calls
// swap the new pool into the existing cache, which disposes the old pool.
// New calls it before the Client is shared; AddProvider, RemoveProvider and
// config-change consumption call it with c.mu held.
func (c *Client) rebuild(providers []providerconfig.Provider) error {
	alloc := allocator.New(providers, c.factory)
	pool := connpool.New(alloc, c.publish)

	if c.cache == nil {
		cache, err := poolcache.New(multiclient.New(pool))
		if err != nil {
			return err
		}
		c.cache = cache
	} else {
		c.cache.UpdatePool(pool)
	}
	c.providers = providers
	c.pool = pool
	return nil
}

// UpdateFromChange rebuilds the pool from chg.Providers if chg touches a
// qualifying key (spec.md §6, "Configuration change protocol").
func (c *Client) UpdateFromChange(chg providerconfig.Change) error {
	if !chg.Qualifies() {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rebuild(providerconfig.Normalize(chg.Providers))
}

// Watch consumes a stream of configuration changes in the background until
// ctx is done or the channel closes (spec.md §9, "Event-driven config
// change").
func (c *Client) Watch(ctx context.Context, changes <-chan providerconfig.Change) {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case chg, ok := <-changes:
				if !ok {
					return
				}
				if err := c.UpdateFromChange(chg); err != nil {
					logger.Warn("streamclient: config change rebuild failed", "err", err)
				}
			}
		}
	}()
}

// Close stops watching for configuration changes and disposes the current
// pool.
func (c *Client) Close() {
	c.mu.Lock()
	cancel := c.cancel
	pool := c.pool
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if pool != nil {
		pool.Dispose()
	}
}

// AddProvider appends a single provider and rebuilds the pool over the
// extended list (SPEC_FULL.md SUPPLEMENTED FEATURES; altmount-lineage
// manager.AddProvider).
func (c *Client) AddProvider(p providerconfig.Provider) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	next := append(append([]providerconfig.Provider{}, c.providers...), p)
	return c.rebuild(providerconfig.Normalize(next))
}

// RemoveProvider removes the named provider (matched by Name) and rebuilds
// the pool. If it was the last provider, the resulting pool has no provider
// behind it: its max is clamped to 1, and every attempt to create a
// connection fails with no-capacity.
func (c *Client) RemoveProvider(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	next := make([]providerconfig.Provider, 0, len(c.providers))
	for _, p := range c.providers {
		if p.Name != name {
			next = append(next, p)
		}
	}
	return c.rebuild(next)
}

// NumProviders reports how many providers currently back the pool
// (SPEC_FULL.md SUPPLEMENTED FEATURES; altmount-lineage manager.NumProviders).
func (c *Client) NumProviders() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.providers)
}

func (c *Client) current() *poolcache.Cache {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cache
}

func (c *Client) Stat(ctx context.Context, messageID string) (bool, error) {
	return c.current().Stat(ctx, messageID)
}

func (c *Client) Date(ctx context.Context) (time.Time, error) {
	return c.current().Date(ctx)
}

func (c *Client) Header(ctx context.Context, messageID string) ([]string, error) {
	return c.current().Header(ctx, messageID)
}

func (c *Client) FileSize(ctx context.Context, fileID string) (int64, error) {
	return c.current().FileSize(ctx, fileID)
}

func (c *Client) WaitForReady(ctx context.Context) error {
	return c.current().WaitForReady(ctx)
}

// OpenArticleSet builds the article-set stream adapter over segs with a
// known total byte length, prefetching up to degree segments concurrently
// (spec.md §4.5).
func (c *Client) OpenArticleSet(ctx context.Context, segs []string, length int64, degree int) *articlestream.Stream {
	return articlestream.New(ctx, c.current(), segs, length, degree)
}

// CheckHealth runs the parallel stat health check over segs (spec.md §4.5,
// "Health check").
func (c *Client) CheckHealth(ctx context.Context, segs []string) (bool, error) {
	return articlestream.CheckHealth(ctx, c.current(), segs)
}

// Speed reports current throughput in Mbps and lifetime bytes read in MB,
// sourced from the active pool's connection metrics (SPEC_FULL.md
// SUPPLEMENTED FEATURES).
func (c *Client) Speed() (mbps, totalMB float64) {
	c.mu.RLock()
	pool := c.pool
	c.mu.RUnlock()
	if pool == nil {
		return 0, 0
	}
	m := pool.Metrics()
	return m.GetSpeed(), m.TotalMegabytes()
}
