package connpool

import (
	"context"
	"sync"
	"testing"
	"time"

	"nntppool/pkg/allocator"
	"nntppool/pkg/nntpclient"
	"nntppool/pkg/providerconfig"
)

type fakeConn struct{ closed bool }

func (f *fakeConn) Stat(ctx context.Context, messageID string) (bool, error) { return true, nil }
func (f *fakeConn) Date(ctx context.Context) (time.Time, error)              { return time.Now(), nil }
func (f *fakeConn) Header(ctx context.Context, messageID string) ([]string, error) {
	return nil, nil
}
func (f *fakeConn) FileSize(ctx context.Context, messageID string) (int64, error) { return 0, nil }
func (f *fakeConn) SegmentStream(ctx context.Context, messageID string) (nntpclient.Stream, error) {
	return nil, nil
}
func (f *fakeConn) WaitForReady(ctx context.Context) error { return nil }
func (f *fakeConn) Close() error                           { f.closed = true; return nil }
func (f *fakeConn) Host() string                            { return "fake" }
func (f *fakeConn) Port() int                                { return 119 }

func fakeFactory(ctx context.Context, p providerconfig.Provider) (nntpclient.Conn, error) {
	return &fakeConn{}, nil
}

func newTestPool(maxConns int) *Pool {
	providers := []providerconfig.Provider{{Name: "A", Host: "a.example", Connections: maxConns}}
	alloc := allocator.New(providers, fakeFactory)
	return New(alloc, nil)
}

// S3 — Capacity cap: provider max=1, 3 concurrent acquires. First is
// satisfied immediately; second and third block FIFO; releasing lets the
// next one through in arrival order.
func TestPoolCapacityCapFIFO(t *testing.T) {
	p := newTestPool(1)

	lease1, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	order := make(chan int, 2)
	var wg sync.WaitGroup
	wg.Add(2)
	startWaiter := func(i int) {
		go func() {
			defer wg.Done()
			l, err := p.Acquire(context.Background())
			if err != nil {
				t.Errorf("acquire %d: %v", i, err)
				return
			}
			order <- i
			l.Release()
		}()
		// Let i join the waiter queue before the next one starts, so join
		// order (and thus FIFO wake order) is deterministic.
		time.Sleep(20 * time.Millisecond)
	}
	startWaiter(2)
	startWaiter(3)

	lease1.Release()
	wg.Wait()
	close(order)

	var got []int
	for v := range order {
		got = append(got, v)
	}
	if len(got) != 2 || got[0] != 2 || got[1] != 3 {
		t.Fatalf("expected FIFO order [2 3], got %v", got)
	}
}

// Invariant 3: every successful acquire is paired with exactly one release,
// even when the caller's context is cancelled while waiting.
func TestPoolAcquireCancelledWhileWaiting(t *testing.T) {
	p := newTestPool(1)
	lease, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := p.Acquire(ctx)
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	if err := <-done; err == nil {
		t.Fatal("expected cancellation error from blocked acquire")
	}

	lease.Release()
	snap := p.Snapshot()
	if snap.Live != 0 {
		t.Fatalf("expected 0 live after release, got %d", snap.Live)
	}
}

// A lease marked Replace is disposed rather than returned to idle.
func TestLeaseReplaceDisposes(t *testing.T) {
	p := newTestPool(1)
	lease, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	fc := lease.Scoped().Conn().(*fakeConn)
	lease.Replace()
	lease.Release()

	if !fc.closed {
		t.Fatal("expected connection to be closed on replace")
	}
	snap := p.Snapshot()
	if snap.Idle != 0 {
		t.Fatalf("expected 0 idle after replace, got %d", snap.Idle)
	}

	lease2, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if lease2.Scoped().Conn() == nntpclient.Conn(fc) {
		t.Fatal("expected a freshly created connection, not the replaced one")
	}
	lease2.Release()
}

// Dispose drains idle connections and wakes pending waiters so they observe
// the pool is closed rather than hanging forever.
func TestPoolDisposeWakesWaiters(t *testing.T) {
	p := newTestPool(1)
	lease, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := p.Acquire(context.Background())
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	lease.Release()
	p.Dispose()

	select {
	case err := <-done:
		_ = err // either satisfied before close or rejected after; must not hang
	case <-time.After(time.Second):
		t.Fatal("waiter was never woken after dispose")
	}
}
