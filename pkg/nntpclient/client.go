// Package nntpclient is the single-connection NNTP primitive: one TCP/TLS
// session to one server, exposing connect, authenticate, stat, date,
// fetch-segment-stream, fetch-segment-header and wait-for-ready (spec.md
// §2, layer 1). It is deliberately thin; everything about pooling, retrying
// and caching lives above it.
package nntpclient

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"strconv"
	"strings"
	"sync"
	"time"

	"nntppool/pkg/poolerr"
)

const dialTimeout = 30 * time.Second

// Conn is the single-connection primitive's operation surface (spec.md §2,
// layer 1): connect, authenticate, stat, date, fetch-segment-stream,
// fetch-segment-header and wait-for-ready. *Client is the real
// implementation; tests substitute fakes to drive the scenarios in
// spec.md §8 without opening real sockets.
type Conn interface {
	Stat(ctx context.Context, messageID string) (bool, error)
	Date(ctx context.Context) (time.Time, error)
	Header(ctx context.Context, messageID string) ([]string, error)
	FileSize(ctx context.Context, messageID string) (int64, error)
	SegmentStream(ctx context.Context, messageID string) (Stream, error)
	WaitForReady(ctx context.Context) error
	Close() error
	Host() string
	Port() int
}

// Client is one authenticated NNTP session. Not safe for concurrent use by
// more than one caller at a time — the pool guarantees exclusivity via
// leases.
type Client struct {
	conn    *textproto.Conn
	netConn net.Conn
	host    string
	port    int
	ssl     bool

	mu      sync.Mutex
	readyCh chan struct{} // closed whenever no response is in flight
}

// Dial opens a TCP/TLS connection to host:port and reads the server
// greeting. Mirrors the teacher's pkg/usenet/nntp/client.go NewClient dial
// dance (TLS dialer with timeout, plain DialTimeout otherwise, expect a 200
// greeting).
func Dial(ctx context.Context, host string, port int, ssl bool) (*Client, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	d := &net.Dialer{Timeout: dialTimeout}
	var conn net.Conn
	var err error
	if ssl {
		conn, err = tls.DialWithDialer(d, "tcp", addr, nil)
	} else {
		conn, err = d.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, poolerr.New(poolerr.KindCannotConnect, err)
	}

	conn.SetDeadline(time.Now().Add(dialTimeout))
	tp := textproto.NewConn(conn)
	if _, _, err := tp.ReadResponse(200); err != nil {
		tp.Close()
		return nil, poolerr.New(poolerr.KindCannotConnect, err)
	}
	conn.SetDeadline(time.Time{})

	ready := make(chan struct{})
	close(ready)

	return &Client{
		conn:    tp,
		netConn: conn,
		host:    host,
		port:    port,
		ssl:     ssl,
		readyCh: ready,
	}, nil
}

// Authenticate performs the AUTHINFO USER/PASS exchange. Auth failures are
// never retried by this layer — credentials don't self-heal (spec.md §7).
func (c *Client) Authenticate(ctx context.Context, user, pass string) error {
	c.setDeadline(ctx)
	id, err := c.conn.Cmd("AUTHINFO USER %s", user)
	if err != nil {
		return poolerr.New(poolerr.KindCannotAuthenticate, err)
	}
	c.conn.StartResponse(id)
	code, _, err := c.conn.ReadCodeLine(381)
	c.conn.EndResponse(id)
	if err != nil {
		if code == 281 {
			return nil // no password required
		}
		return poolerr.New(poolerr.KindCannotAuthenticate, err)
	}

	id, err = c.conn.Cmd("AUTHINFO PASS %s", pass)
	if err != nil {
		return poolerr.New(poolerr.KindCannotAuthenticate, err)
	}
	c.conn.StartResponse(id)
	_, _, err = c.conn.ReadCodeLine(281)
	c.conn.EndResponse(id)
	if err != nil {
		return poolerr.New(poolerr.KindCannotAuthenticate, err)
	}
	return nil
}

// formatMessageID returns the message-id wrapped in angle brackets the way
// NNTP expects, avoiding double-wrapping (teacher's formatMessageID, kept
// verbatim in behavior).
func formatMessageID(messageID string) string {
	s := strings.TrimSpace(messageID)
	if len(s) >= 2 && s[0] == '<' && s[len(s)-1] == '>' {
		return s
	}
	return "<" + s + ">"
}

// Stat checks article existence without fetching its body. Returns
// (true, nil) if present, (false, nil) if the server reports it missing
// (430), and a protocol-error for anything else.
func (c *Client) Stat(ctx context.Context, messageID string) (bool, error) {
	c.setDeadline(ctx)
	id, err := c.conn.Cmd("STAT %s", formatMessageID(messageID))
	if err != nil {
		return false, poolerr.New(poolerr.KindProtocolError, err)
	}
	c.conn.StartResponse(id)
	defer c.conn.EndResponse(id)

	code, _, err := c.conn.ReadCodeLine(223)
	if err != nil {
		if code == 430 {
			return false, nil
		}
		return false, poolerr.New(poolerr.KindProtocolError, err)
	}
	return true, nil
}

// Date queries the server's current time via the NNTP DATE command. Not
// present in the teacher's client; added in the teacher's own Cmd/
// ReadCodeLine idiom (DESIGN.md).
func (c *Client) Date(ctx context.Context) (time.Time, error) {
	c.setDeadline(ctx)
	id, err := c.conn.Cmd("DATE")
	if err != nil {
		return time.Time{}, poolerr.New(poolerr.KindProtocolError, err)
	}
	c.conn.StartResponse(id)
	_, line, err := c.conn.ReadCodeLine(111)
	c.conn.EndResponse(id)
	if err != nil {
		return time.Time{}, poolerr.New(poolerr.KindProtocolError, err)
	}
	t, err := time.Parse("20060102150405", strings.TrimSpace(line))
	if err != nil {
		return time.Time{}, poolerr.New(poolerr.KindProtocolError, fmt.Errorf("parse DATE response %q: %w", line, err))
	}
	return t, nil
}

// Header fetches article headers (HEAD) as raw lines, for metadata lookups
// that don't need the body.
func (c *Client) Header(ctx context.Context, messageID string) ([]string, error) {
	c.setDeadline(ctx)
	id, err := c.conn.Cmd("HEAD %s", formatMessageID(messageID))
	if err != nil {
		return nil, poolerr.New(poolerr.KindProtocolError, err)
	}
	c.conn.StartResponse(id)
	defer c.conn.EndResponse(id)

	code, _, err := c.conn.ReadCodeLine(221)
	if err != nil {
		if code == 430 {
			return nil, poolerr.New(poolerr.KindArticleMissing, err)
		}
		return nil, poolerr.New(poolerr.KindProtocolError, err)
	}
	return c.conn.ReadDotLines()
}

// FileSize reports the article's byte size, when the provider advertises it
// on a HEAD response line (many yEnc-serving providers include a "Bytes:"
// metadata header). Returns poolerr.KindArticleMissing if the article is
// absent, or (0, nil) if present but the provider doesn't advertise a size.
func (c *Client) FileSize(ctx context.Context, messageID string) (int64, error) {
	lines, err := c.Header(ctx, messageID)
	if err != nil {
		return 0, err
	}
	for _, line := range lines {
		lower := strings.ToLower(line)
		if strings.HasPrefix(lower, "bytes:") {
			v := strings.TrimSpace(line[len("bytes:"):])
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				return n, nil
			}
		}
	}
	return 0, nil
}

// startDraining marks the connection as mid-operation: WaitForReady will
// block until finishDraining is called. Exclusive to stream-returning ops.
func (c *Client) startDraining() {
	c.mu.Lock()
	c.readyCh = make(chan struct{})
	c.mu.Unlock()
}

func (c *Client) finishDraining() {
	c.mu.Lock()
	ch := c.readyCh
	c.mu.Unlock()
	select {
	case <-ch:
		// already closed (double EOF/Close race) — no-op
	default:
		close(ch)
	}
}

// WaitForReady blocks until the connection has no response in flight (i.e.
// any prior stream has been fully drained), or ctx is done.
func (c *Client) WaitForReady(ctx context.Context) error {
	c.mu.Lock()
	ch := c.readyCh
	c.mu.Unlock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return poolerr.New(poolerr.KindTimeout, ctx.Err())
	}
}

// Stream is a readable article body: standard sequential-read semantics
// over a known (if unsized) byte run (spec.md §6, "Article stream adapter
// consumer interface"). Satisfied by *SegmentStream and by wrapping
// decorators (e.g. the multi-connection client's throughput-metered
// stream) above it.
type Stream interface {
	Read(p []byte) (int, error)
	Close() error
}

// SegmentStream wraps the BODY dot-reader so readiness is only released once
// the caller has actually consumed or closed the stream (teacher's
// bodyReader EndResponse-on-EOF trick, generalized to also flip readiness).
type SegmentStream struct {
	r      io.Reader
	client *Client
	endFn  func()
	once   sync.Once
}

func (b *SegmentStream) Read(p []byte) (int, error) {
	n, err := b.r.Read(p)
	if err != nil {
		b.finish()
	}
	return n, err
}

func (b *SegmentStream) Close() error {
	b.finish()
	return nil
}

func (b *SegmentStream) finish() {
	b.once.Do(func() {
		b.endFn()
		b.client.finishDraining()
	})
}

// SegmentStream fetches an article body (BODY) and returns a reader over
// it. The connection is marked draining until the caller reads to EOF or
// calls Close; WaitForReady blocks until then.
func (c *Client) SegmentStream(ctx context.Context, messageID string) (Stream, error) {
	c.setDeadline(ctx)
	id, err := c.conn.Cmd("BODY %s", formatMessageID(messageID))
	if err != nil {
		return nil, poolerr.New(poolerr.KindProtocolError, err)
	}

	c.conn.StartResponse(id)
	code, _, err := c.conn.ReadCodeLine(222)
	if err != nil {
		c.conn.EndResponse(id)
		if code == 430 {
			return nil, poolerr.New(poolerr.KindArticleMissing, err)
		}
		return nil, poolerr.New(poolerr.KindProtocolError, err)
	}

	if c.netConn != nil {
		c.netConn.SetDeadline(time.Now().Add(5 * time.Minute))
	}
	c.startDraining()
	return &SegmentStream{
		r:      c.conn.DotReader(),
		client: c,
		endFn:  func() { c.conn.EndResponse(id) },
	}, nil
}

func (c *Client) setDeadline(ctx context.Context) {
	if c.netConn == nil {
		return
	}
	if dl, ok := ctx.Deadline(); ok {
		c.netConn.SetDeadline(dl)
		return
	}
	c.netConn.SetDeadline(time.Now().Add(60 * time.Second))
}

// Close terminates the underlying connection. Destroys the session; never
// reused after this.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) Host() string { return c.host }
func (c *Client) Port() int    { return c.port }

var _ Conn = (*Client)(nil)
