package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	coder "github.com/coder/websocket"
	"github.com/gorilla/websocket"
)

// Conn is one physical duplex connection carrying text frames.
type Conn interface {
	// ReadMessage blocks until the next frame arrives or the connection fails.
	ReadMessage() ([]byte, error)

	// WriteMessage writes one frame.
	WriteMessage(data []byte) error

	// Close tears the connection down. Safe to call more than once.
	Close() error
}

// Dialer opens connections. Dial must honour ctx cancellation.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, url string) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context, url string) (Conn, error) {
	return f(ctx, url)
}

// Driver names accepted by NewDialer.
const (
	DriverGorilla = "gorilla"
	DriverCoder   = "coder"
)

// NewDialer returns a websocket dialer for the named driver. An empty
// driver selects gorilla.
func NewDialer(driver string, cfg Config) (Dialer, error) {
	cfg = cfg.withDefaults()
	switch driver {
	case "", DriverGorilla:
		return &gorillaDialer{cfg: cfg}, nil
	case DriverCoder:
		return &coderDialer{cfg: cfg}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}
}

// gorillaDialer dials with github.com/gorilla/websocket.
type gorillaDialer struct {
	cfg Config
}

func (d *gorillaDialer) Dial(ctx context.Context, url string) (Conn, error) {
	header := http.Header{}
	header.Set("Accept", "application/json")

	dialer := websocket.Dialer{
		HandshakeTimeout: d.cfg.ConnectTimeout,
	}

	conn, _, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(d.cfg.ReadLimit)

	return &gorillaConn{conn: conn, cfg: d.cfg}, nil
}

type gorillaConn struct {
	conn *websocket.Conn
	cfg  Config

	closeOnce sync.Once
	closeErr  error
}

func (c *gorillaConn) ReadMessage() ([]byte, error) {
	if c.cfg.ReadTimeout > 0 {
		c.conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
	}
	_, data, err := c.conn.ReadMessage()
	return data, err
}

func (c *gorillaConn) WriteMessage(data []byte) error {
	c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *gorillaConn) Close() error {
	c.closeOnce.Do(func() {
		c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// coderDialer dials with github.com/coder/websocket.
type coderDialer struct {
	cfg Config
}

func (d *coderDialer) Dial(ctx context.Context, url string) (Conn, error) {
	header := http.Header{}
	header.Set("Accept", "application/json")

	conn, _, err := coder.Dial(ctx, url, &coder.DialOptions{HTTPHeader: header})
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(d.cfg.ReadLimit)

	// Reads and writes outlive the dial context.
	connCtx, cancel := context.WithCancel(context.Background())
	return &coderConn{conn: conn, cfg: d.cfg, ctx: connCtx, cancel: cancel}, nil
}

type coderConn struct {
	conn   *coder.Conn
	cfg    Config
	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
	closeErr  error
}

func (c *coderConn) ReadMessage() ([]byte, error) {
	ctx := c.ctx
	if c.cfg.ReadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(c.ctx, c.cfg.ReadTimeout)
		defer cancel()
	}
	_, data, err := c.conn.Read(ctx)
	return data, err
}

func (c *coderConn) WriteMessage(data []byte) error {
	ctx, cancel := context.WithTimeout(c.ctx, c.cfg.WriteTimeout)
	defer cancel()
	return c.conn.Write(ctx, coder.MessageText, data)
}

func (c *coderConn) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		c.closeErr = c.conn.CloseNow()
	})
	return c.closeErr
}
