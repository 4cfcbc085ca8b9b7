// Package multiclient implements the multi-connection client (spec.md §4.3):
// the same operation surface as the single-connection primitive, but
// transparently leased from a pool, with retry-once-on-transient-error,
// fire-and-forget readiness-release, and hot pool swapping.
package multiclient

import (
	"context"
	"sync"
	"time"

	connpool "nntppool/pkg/connpool"
	"nntppool/pkg/logger"
	"nntppool/pkg/nntpclient"
	"nntppool/pkg/poolerr"
)

// readinessTimeout is the one core-level timeout besides the underlying
// client's own connect/read deadlines (spec.md §5). A var, not a const, so
// tests can shrink it rather than waiting out the real 30 seconds.
var readinessTimeout = 30 * time.Second

// Client multiplexes the single-connection primitive's operation surface
// over a connpool.Pool. Grounded on the teacher's retry-then-Reconnect loops
// in pkg/usenet/nntp/client.go (Group/Body), generalized from "reconnect
// this socket" to "replace this leased connection" (DESIGN.md).
type Client struct {
	mu   sync.RWMutex
	pool *connpool.Pool
}

func New(pool *connpool.Pool) *Client {
	return &Client{pool: pool}
}

func (c *Client) currentPool() *connpool.Pool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pool
}

// UpdatePool atomically swaps in a new pool and disposes the old one.
// In-flight operations against the old pool continue until completion;
// they release their leases back into the old pool, which drains and
// disposes them (spec.md §4.3, "Pool swap").
func (c *Client) UpdatePool(newPool *connpool.Pool) {
	c.mu.Lock()
	old := c.pool
	c.pool = newPool
	c.mu.Unlock()
	if old != nil {
		old.Dispose()
	}
}

// WaitForReady acquires and immediately releases a lease, for end-to-end
// reachability checks (spec.md §4.3).
func (c *Client) WaitForReady(ctx context.Context) error {
	lease, err := c.currentPool().Acquire(ctx)
	if err != nil {
		return err
	}
	lease.Release()
	return nil
}

func isTerminal(err error) bool {
	switch poolerr.KindOf(err) {
	case poolerr.KindArticleMissing, poolerr.KindCannotAuthenticate:
		return true
	default:
		return false
	}
}

// do runs op against a leased connection with the retry/replace/readiness
// protocol in spec.md §4.3, steps 1-7.
func do[T any](ctx context.Context, c *Client, op func(context.Context, nntpclient.Conn) (T, error)) (T, error) {
	var zero T
	for attempt := 0; attempt < 2; attempt++ {
		pool := c.currentPool()
		lease, err := pool.Acquire(ctx)
		if err != nil {
			return zero, err
		}

		result, opErr := op(ctx, lease.Scoped().Conn())
		if opErr == nil {
			scheduleReadinessRelease(ctx, lease)
			return result, nil
		}

		if ctx.Err() != nil {
			lease.Release()
			return zero, poolerr.New(poolerr.KindCancelled, ctx.Err())
		}

		if isTerminal(opErr) {
			lease.Release()
			return zero, opErr
		}

		// Protocol error or unclassified exception: replace and retry once.
		lease.Replace()
		lease.Release()
		if attempt == 1 {
			return zero, opErr
		}
		logger.Debug("multiclient: retrying operation on fresh lease", "err", opErr)
	}
	return zero, poolerr.New(poolerr.KindOther, nil) // unreachable
}

// scheduleReadinessRelease spawns a background wait bound to a linked
// cancellation (caller's ctx plus a 30s readiness timeout) and releases the
// lease once the connection is idle again, without making the caller wait
// (spec.md §4.3, "Readiness-release protocol").
func scheduleReadinessRelease(callerCtx context.Context, lease *connpool.Lease) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), readinessTimeout)
		defer cancel()

		linked := make(chan struct{})
		go func() {
			select {
			case <-callerCtx.Done():
				cancel()
			case <-linked:
			}
		}()

		err := lease.Scoped().Conn().WaitForReady(ctx)
		close(linked)

		if err != nil {
			logger.Warn("multiclient: readiness wait failed, replacing connection", "err", err)
			lease.Replace()
		}
		lease.Release()
	}()
}

// Stat checks whether an article exists.
func (c *Client) Stat(ctx context.Context, messageID string) (bool, error) {
	return do(ctx, c, func(ctx context.Context, conn nntpclient.Conn) (bool, error) {
		return conn.Stat(ctx, messageID)
	})
}

// Date queries the server's current time.
func (c *Client) Date(ctx context.Context) (time.Time, error) {
	return do(ctx, c, func(ctx context.Context, conn nntpclient.Conn) (time.Time, error) {
		return conn.Date(ctx)
	})
}

// Header fetches article headers.
func (c *Client) Header(ctx context.Context, messageID string) ([]string, error) {
	return do(ctx, c, func(ctx context.Context, conn nntpclient.Conn) ([]string, error) {
		return conn.Header(ctx, messageID)
	})
}

// FileSize reports an article's advertised byte size.
func (c *Client) FileSize(ctx context.Context, messageID string) (int64, error) {
	return do(ctx, c, func(ctx context.Context, conn nntpclient.Conn) (int64, error) {
		return conn.FileSize(ctx, messageID)
	})
}

// Stream fetches an article body as a stream. The caller sees the stream
// as soon as the server responds (spec.md §4.3 step 3); the underlying
// connection is only recycled once the caller has read it to EOF or closed
// it, via nntpclient.SegmentStream's own readiness bookkeeping feeding the
// readiness-release wait in scheduleReadinessRelease.
func (c *Client) Stream(ctx context.Context, messageID string) (nntpclient.Stream, error) {
	pool := c.currentPool()
	stream, err := do(ctx, c, func(ctx context.Context, conn nntpclient.Conn) (nntpclient.Stream, error) {
		return conn.SegmentStream(ctx, messageID)
	})
	if err != nil {
		return nil, err
	}
	return &meteredStream{Stream: stream, metrics: pool.Metrics()}, nil
}

// meteredStream feeds bytes read back into the owning pool's throughput
// tracker (spec.md SUPPLEMENTED FEATURES, bytes-read metrics).
type meteredStream struct {
	nntpclient.Stream
	metrics *connpool.Metrics
}

func (m *meteredStream) Read(p []byte) (int, error) {
	n, err := m.Stream.Read(p)
	if n > 0 {
		m.metrics.TrackRead(n)
	}
	return n, err
}
