// Package poolcache implements the caching decorator (spec.md §4.4): a
// bounded, size-aware, read-through cache over the multi-connection
// client's idempotent metadata operations, with at-most-one-builder-per-key
// coalescing.
package poolcache

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"nntppool/pkg/connpool"
	"nntppool/pkg/nntpclient"
	"nntppool/pkg/poolerr"
)

// Inner is the operation surface the cache decorates — satisfied by
// *multiclient.Client, and by fakes in tests that need to record or fail
// invocations (spec.md §8, S4 "mock client that records invocations").
type Inner interface {
	Stat(ctx context.Context, messageID string) (bool, error)
	Header(ctx context.Context, messageID string) ([]string, error)
	FileSize(ctx context.Context, fileID string) (int64, error)
	Date(ctx context.Context) (time.Time, error)
	Stream(ctx context.Context, messageID string) (nntpclient.Stream, error)
	WaitForReady(ctx context.Context) error
	UpdatePool(pool *connpool.Pool)
}

// maxEntries is the fixed entry-count cap from spec.md §3/§9 ("third-party
// memory cache with a size limit of 8192 entries of size 1 apiece").
const maxEntries = 8192

// key identifies a cached result: an operation kind paired with its
// argument (segment/message-id for stat/header, file-id for file-size, the
// empty string for date).
type key struct {
	op  string
	arg string
}

const (
	opStat     = "stat"
	opHeader   = "header"
	opFileSize = "file-size"
	opDate     = "date"
)

// entry holds either a value or a cached "article missing" fact — spec.md
// §4.4: "Negative results (article missing) are cached identically — they
// are stable facts. Errors are not cached."
type entry struct {
	missing bool
	missErr error
	value   any
}

// Cache wraps a multiclient.Client, memoizing stat/header/file-size/date
// under a bounded LRU with single-flight coalescing (spec.md §4.4).
// get-segment-stream is intentionally not wrapped: streams are single-use.
type Cache struct {
	inner Inner
	lru   *lru.Cache[key, entry]
	sf    singleflight.Group
}

func New(inner Inner) (*Cache, error) {
	c, err := lru.New[key, entry](maxEntries)
	if err != nil {
		return nil, err
	}
	return &Cache{inner: inner, lru: c}, nil
}

// cachedOp is the shared read-through-with-coalescing path for every
// cacheable operation: check the LRU, else join (or start) a single-flight
// build, then classify the result so article-missing facts are cached like
// any other stable value while other errors are not.
func cachedOp[T any](c *Cache, op, arg string, fetch func() (T, error)) (T, error) {
	k := key{op: op, arg: arg}

	if e, ok := c.lru.Get(k); ok {
		return unpack[T](e)
	}

	v, err, _ := c.sf.Do(op+"\x00"+arg, func() (any, error) {
		if e, ok := c.lru.Get(k); ok {
			return e, nil
		}
		result, ferr := fetch()
		if ferr != nil {
			if poolerr.KindOf(ferr) == poolerr.KindArticleMissing {
				e := entry{missing: true, missErr: ferr}
				c.lru.Add(k, e)
				return e, nil
			}
			return nil, ferr
		}
		e := entry{value: result}
		c.lru.Add(k, e)
		return e, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return unpack[T](v.(entry))
}

func unpack[T any](e entry) (T, error) {
	if e.missing {
		var zero T
		return zero, e.missErr
	}
	return e.value.(T), nil
}

func (c *Cache) Stat(ctx context.Context, messageID string) (bool, error) {
	return cachedOp(c, opStat, messageID, func() (bool, error) {
		return c.inner.Stat(ctx, messageID)
	})
}

func (c *Cache) Header(ctx context.Context, messageID string) ([]string, error) {
	return cachedOp(c, opHeader, messageID, func() ([]string, error) {
		return c.inner.Header(ctx, messageID)
	})
}

func (c *Cache) FileSize(ctx context.Context, fileID string) (int64, error) {
	return cachedOp(c, opFileSize, fileID, func() (int64, error) {
		return c.inner.FileSize(ctx, fileID)
	})
}

func (c *Cache) Date(ctx context.Context) (time.Time, error) {
	return cachedOp(c, opDate, "", func() (time.Time, error) {
		return c.inner.Date(ctx)
	})
}

// Stream is not cacheable — streams are single-use — so it passes straight
// through to the inner client.
func (c *Cache) Stream(ctx context.Context, messageID string) (nntpclient.Stream, error) {
	return c.inner.Stream(ctx, messageID)
}

func (c *Cache) WaitForReady(ctx context.Context) error {
	return c.inner.WaitForReady(ctx)
}

// UpdatePool swaps the underlying pool without disturbing cached entries —
// cached facts (stat/header/file-size/date) remain valid across a provider
// reconfiguration; only connectivity changes (spec.md §4.3, "Pool swap").
func (c *Cache) UpdatePool(newPool *connpool.Pool) {
	c.inner.UpdatePool(newPool)
}

// Len reports the number of entries currently cached (test/introspection
// hook for the "cache never holds more than C entries" invariant).
func (c *Cache) Len() int {
	return c.lru.Len()
}
