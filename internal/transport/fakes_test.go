package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

var errConnClosed = errors.New("fake conn closed")

// fakeConn is an in-memory Conn. Frames pushed with inject are returned by
// ReadMessage; drop simulates the far end going away.
type fakeConn struct {
	incoming chan []byte
	closed   chan struct{}

	mu        sync.Mutex
	written   []string
	writeErr  error
	closeGate chan struct{} // Close blocks until closed, when set

	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		incoming: make(chan []byte, 256),
		closed:   make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case data := <-c.incoming:
		return data, nil
	case <-c.closed:
		return nil, errConnClosed
	}
}

func (c *fakeConn) WriteMessage(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	c.written = append(c.written, string(data))
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	gate := c.closeGate
	c.mu.Unlock()
	if gate != nil {
		<-gate
	}
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// stallClose makes Close hang, like a close handshake on a half-dead
// socket, until the returned release is called.
func (c *fakeConn) stallClose() (release func()) {
	gate := make(chan struct{})
	c.mu.Lock()
	c.closeGate = gate
	c.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

func (c *fakeConn) inject(raw string) {
	c.incoming <- []byte(raw)
}

func (c *fakeConn) drop() {
	c.Close()
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeConn) failWrites(err error) {
	c.mu.Lock()
	c.writeErr = err
	c.mu.Unlock()
}

func (c *fakeConn) Written() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.written))
	copy(out, c.written)
	return out
}

// fakeDialer hands out fakeConns. A non-nil gate blocks each dial until it
// is closed (or the dial context ends); fail decides per dial number
// (1-based) whether the dial errors.
type fakeDialer struct {
	gate    chan struct{}
	fail    func(n int) error
	started chan struct{}

	mu    sync.Mutex
	dials int
	conns []*fakeConn
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{started: make(chan struct{}, 64)}
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (Conn, error) {
	d.mu.Lock()
	d.dials++
	n := d.dials
	gate := d.gate
	fail := d.fail
	d.mu.Unlock()

	select {
	case d.started <- struct{}{}:
	default:
	}

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if fail != nil {
		if err := fail(n); err != nil {
			return nil, err
		}
	}

	c := newFakeConn()
	d.mu.Lock()
	d.conns = append(d.conns, c)
	d.mu.Unlock()
	return c, nil
}

func (d *fakeDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) Conns() []*fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*fakeConn, len(d.conns))
	copy(out, d.conns)
	return out
}

func (d *fakeDialer) last() *fakeConn {
	conns := d.Conns()
	if len(conns) == 0 {
		return nil
	}
	return conns[len(conns)-1]
}

// fakeTimers records scheduled delays instead of sleeping. fire runs a
// recorded callback synchronously on the calling goroutine.
type fakeTimers struct {
	mu      sync.Mutex
	delays  []time.Duration
	fns     []func()
	stopped []bool
}

func (f *fakeTimers) afterFunc(d time.Duration, fn func()) func() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	idx := len(f.fns)
	f.delays = append(f.delays, d)
	f.fns = append(f.fns, fn)
	f.stopped = append(f.stopped, false)

	return func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		was := !f.stopped[idx]
		f.stopped[idx] = true
		return was
	}
}

func (f *fakeTimers) Delays() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]time.Duration, len(f.delays))
	copy(out, f.delays)
	return out
}

func (f *fakeTimers) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.fns)
}

func (f *fakeTimers) fire(i int) {
	f.mu.Lock()
	fn := f.fns[i]
	f.mu.Unlock()
	fn()
}

func (f *fakeTimers) fireLast() {
	f.fire(f.Len() - 1)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestTransport(t *testing.T, cfg Config, d Dialer) (*Transport, *fakeTimers) {
	t.Helper()
	timers := &fakeTimers{}
	if cfg.URL == "" {
		cfg.URL = "ws://panel.test/ws"
	}
	tr := New(cfg, WithDialer(d), WithLogger(discardLogger()))
	tr.afterFunc = timers.afterFunc
	t.Cleanup(func() { tr.Close() })
	return tr, timers
}

// collector records payloads delivered to a handler.
type collector struct {
	mu       sync.Mutex
	payloads []string
	notify   chan struct{}
}

func newCollector() *collector {
	return &collector{notify: make(chan struct{}, 1024)}
}

func (c *collector) handle(payload json.RawMessage) error {
	c.mu.Lock()
	c.payloads = append(c.payloads, string(payload))
	c.mu.Unlock()
	c.notify <- struct{}{}
	return nil
}

func (c *collector) Payloads() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.payloads))
	copy(out, c.payloads)
	return out
}

func (c *collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.payloads)
}

// waitFor blocks until n payloads have arrived.
func (c *collector) waitFor(t *testing.T, n int) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for c.Len() < n {
		select {
		case <-c.notify:
		case <-deadline:
			t.Fatalf("timeout: received %d of %d payloads", c.Len(), n)
		}
	}
}
