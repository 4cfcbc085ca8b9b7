package multiclient

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"nntppool/pkg/allocator"
	"nntppool/pkg/connpool"
	"nntppool/pkg/nntpclient"
	"nntppool/pkg/poolerr"
	"nntppool/pkg/providerconfig"
)

// seqConn fails its first Stat call globally (across every instance this
// factory produces) with a protocol error, then succeeds — modeling S1's
// "mock single-client: first stat throws, second succeeds".
type seqConn struct {
	callCount    *int32
	waitForReady func(ctx context.Context) error
	closed       *int32
}

func (c *seqConn) Stat(ctx context.Context, messageID string) (bool, error) {
	if atomic.AddInt32(c.callCount, 1) == 1 {
		return false, poolerr.New(poolerr.KindProtocolError, nil)
	}
	return true, nil
}
func (c *seqConn) Date(ctx context.Context) (time.Time, error) { return time.Now(), nil }
func (c *seqConn) Header(ctx context.Context, messageID string) ([]string, error) {
	return nil, nil
}
func (c *seqConn) FileSize(ctx context.Context, messageID string) (int64, error) { return 0, nil }
func (c *seqConn) SegmentStream(ctx context.Context, messageID string) (nntpclient.Stream, error) {
	return nil, nil
}
func (c *seqConn) WaitForReady(ctx context.Context) error {
	if c.waitForReady != nil {
		return c.waitForReady(ctx)
	}
	return nil
}
func (c *seqConn) Close() error { atomic.AddInt32(c.closed, 1); return nil }
func (c *seqConn) Host() string { return "fake" }
func (c *seqConn) Port() int    { return 119 }

func newTestClient(t *testing.T, maxConns int, callCount, closedCount *int32, waitForReady func(context.Context) error) (*Client, *connpool.Pool) {
	t.Helper()
	providers := []providerconfig.Provider{{Name: "A", Host: "a.example", Connections: maxConns}}
	factory := func(ctx context.Context, p providerconfig.Provider) (nntpclient.Conn, error) {
		return &seqConn{callCount: callCount, closed: closedCount, waitForReady: waitForReady}, nil
	}
	alloc := allocator.New(providers, factory)
	pool := connpool.New(alloc, nil)
	return New(pool), pool
}

// S1 — Retry on protocol error: first stat throws, second succeeds. Caller
// receives the success; pool ends with 1 idle, 0 live; failed connection
// was disposed.
func TestRetryOnProtocolError(t *testing.T) {
	var calls, closed int32
	c, pool := newTestClient(t, 2, &calls, &closed, nil)

	ok, err := c.Stat(context.Background(), "m1")
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if !ok {
		t.Fatal("expected article to exist on successful retry")
	}

	waitFor(t, func() bool {
		snap := pool.Snapshot()
		return snap.Live == 0 && snap.Idle == 1
	})

	if atomic.LoadInt32(&closed) != 1 {
		t.Fatalf("expected exactly 1 disposed connection, got %d", closed)
	}
}

// Second consecutive failure propagates to the caller rather than retrying
// indefinitely (spec.md §7: "Second occurrence propagates").
func TestSecondFailurePropagates(t *testing.T) {
	providers := []providerconfig.Provider{{Name: "A", Host: "a.example", Connections: 1}}
	factory := func(ctx context.Context, p providerconfig.Provider) (nntpclient.Conn, error) {
		return &alwaysFailConn{}, nil
	}
	alloc := allocator.New(providers, factory)
	pool := connpool.New(alloc, nil)
	c := New(pool)

	_, err := c.Stat(context.Background(), "m1")
	if err == nil {
		t.Fatal("expected error after two consecutive protocol errors")
	}
	if poolerr.KindOf(err) != poolerr.KindProtocolError {
		t.Fatalf("expected protocol-error kind, got %v", err)
	}
}

type alwaysFailConn struct{}

func (c *alwaysFailConn) Stat(ctx context.Context, messageID string) (bool, error) {
	return false, poolerr.New(poolerr.KindProtocolError, nil)
}
func (c *alwaysFailConn) Date(ctx context.Context) (time.Time, error) { return time.Now(), nil }
func (c *alwaysFailConn) Header(ctx context.Context, messageID string) ([]string, error) {
	return nil, nil
}
func (c *alwaysFailConn) FileSize(ctx context.Context, messageID string) (int64, error) {
	return 0, nil
}
func (c *alwaysFailConn) SegmentStream(ctx context.Context, messageID string) (nntpclient.Stream, error) {
	return nil, nil
}
func (c *alwaysFailConn) WaitForReady(ctx context.Context) error { return nil }
func (c *alwaysFailConn) Close() error                           { return nil }
func (c *alwaysFailConn) Host() string                           { return "fake" }
func (c *alwaysFailConn) Port() int                              { return 119 }

// S5 — Readiness timeout replaces connection: an operation (Date) succeeds
// but wait_for_ready never resolves. After the shortened readiness timeout,
// the connection is closed, i.e. replaced rather than returned to idle.
func TestReadinessTimeoutReplacesConnection(t *testing.T) {
	old := readinessTimeout
	readinessTimeout = 50 * time.Millisecond
	defer func() { readinessTimeout = old }()

	var calls, closed int32
	hang := func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}
	c, pool := newTestClient(t, 1, &calls, &closed, hang)

	if _, err := c.Date(context.Background()); err != nil {
		t.Fatalf("Date: %v", err)
	}

	waitForWithin(t, time.Second, func() bool {
		return atomic.LoadInt32(&closed) == 1
	})
	_ = pool
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	waitForWithin(t, time.Second, cond)
}

func waitForWithin(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !cond() {
		t.Fatal("condition never became true within deadline")
	}
}
