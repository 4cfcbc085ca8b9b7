// Package articlestream implements the article-set stream adapter (spec.md
// §4.5): it turns an ordered list of segment identifiers and a known total
// length into one sequential byte stream, prefetching up to P segments
// concurrently while delivering bytes strictly in order, plus a parallel
// health check over a segment list.
package articlestream

import (
	"context"
	"errors"
	"io"
	"sync"

	"nntppool/pkg/nntpclient"
)

// Fetcher is the subset of the cache/client surface the adapter needs.
// Satisfied by *poolcache.Cache and *multiclient.Client alike.
type Fetcher interface {
	Stat(ctx context.Context, messageID string) (bool, error)
	Stream(ctx context.Context, messageID string) (nntpclient.Stream, error)
}

type fetchResult struct {
	stream nntpclient.Stream
	err    error
}

// Stream sequences reads across a list of segments, prefetching up to P of
// them concurrently (spec.md §4.5, "Algorithm"). It implements io.ReadCloser
// and reports a known total length up front (spec.md §3, "Article stream";
// §6, "Readable byte stream with known length").
type Stream struct {
	fetcher Fetcher
	ids     []string
	degree  int
	length  int64

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	pending []chan fetchResult // one per segment, filled as issued
	issued  int                // highest index issued so far (exclusive)

	cur       int // index of segment currently being read
	curStream nntpclient.Stream
	done      bool
}

// New creates a stream adapter over segs with a known total byte length,
// issuing up to degree concurrent fetches at a time. degree is clamped to
// at least 1.
func New(ctx context.Context, fetcher Fetcher, segs []string, length int64, degree int) *Stream {
	if degree < 1 {
		degree = 1
	}
	sctx, cancel := context.WithCancel(ctx)
	s := &Stream{
		fetcher: fetcher,
		ids:     segs,
		degree:  degree,
		length:  length,
		ctx:     sctx,
		cancel:  cancel,
		pending: make([]chan fetchResult, len(segs)),
	}
	for i := range s.pending {
		s.pending[i] = make(chan fetchResult, 1)
	}
	s.fillWindow()
	return s
}

// Length reports the known total byte length of the article set, per
// spec.md §3 ("Article stream ... known total byte length").
func (s *Stream) Length() int64 { return s.length }

// fillWindow issues fetches for every segment up to cur+degree that hasn't
// been issued yet. It takes mu itself, so callers must not hold it.
func (s *Stream) fillWindow() {
	s.mu.Lock()
	target := s.cur + s.degree
	if target > len(s.ids) {
		target = len(s.ids)
	}
	for s.issued < target {
		i := s.issued
		s.issued++
		go s.fetchInto(i)
	}
	s.mu.Unlock()
}

func (s *Stream) fetchInto(i int) {
	stream, err := s.fetcher.Stream(s.ctx, s.ids[i])
	s.pending[i] <- fetchResult{stream: stream, err: err}
}

// Read implements io.Reader, advancing transparently across segment
// boundaries and issuing segment i+P as soon as segment i is consumed.
func (s *Stream) Read(p []byte) (int, error) {
	for {
		s.mu.Lock()
		if s.done {
			s.mu.Unlock()
			return 0, io.EOF
		}
		if s.cur >= len(s.ids) {
			s.done = true
			s.mu.Unlock()
			return 0, io.EOF
		}
		cur := s.cur
		curStream := s.curStream
		s.mu.Unlock()

		if curStream == nil {
			res := <-s.pending[cur]
			if res.err != nil {
				return 0, res.err
			}
			s.mu.Lock()
			s.curStream = res.stream
			s.mu.Unlock()
			continue
		}

		n, err := curStream.Read(p)
		if err == io.EOF {
			curStream.Close()
			s.mu.Lock()
			s.cur++
			s.curStream = nil
			s.mu.Unlock()
			s.fillWindow()
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

// Close cancels every outstanding or future fetch and closes the current
// segment stream, if any.
func (s *Stream) Close() error {
	s.mu.Lock()
	s.done = true
	cur := s.curStream
	s.mu.Unlock()
	s.cancel()
	if cur != nil {
		cur.Close()
	}
	return nil
}

// ErrUnhealthy is an error value for an unhealthy segment set. CheckHealth
// does not return it: it reports an unhealthy set as (false, nil).
var ErrUnhealthy = errors.New("articlestream: one or more segments unhealthy")

// CheckHealth issues stat on every segment in parallel. The first negative
// result cancels all siblings and reports unhealthy (spec.md §4.5, "Health
// check"; S7).
func CheckHealth(ctx context.Context, fetcher Fetcher, segs []string) (bool, error) {
	hctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type outcome struct {
		ok  bool
		err error
	}
	results := make(chan outcome, len(segs))
	var wg sync.WaitGroup
	wg.Add(len(segs))
	for _, id := range segs {
		go func(id string) {
			defer wg.Done()
			ok, err := fetcher.Stat(hctx, id)
			if err != nil || !ok {
				cancel()
			}
			results <- outcome{ok: ok, err: err}
		}(id)
	}
	go func() { wg.Wait(); close(results) }()

	healthy := true
	for r := range results {
		if r.err != nil || !r.ok {
			healthy = false
		}
	}
	if !healthy {
		return false, nil
	}
	return true, nil
}
