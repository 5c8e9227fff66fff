package hub

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/audiopanel/internal/envelope"
)

// Client is one connected panel.
type Client struct {
	id     string
	hub    *Hub
	conn   *websocket.Conn
	logger *slog.Logger

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	mu         sync.Mutex
	pingSentAt time.Time // Zero when no probe is outstanding
	lastProbe  time.Time
}

func newClient(h *Hub, conn *websocket.Conn, id string) *Client {
	return &Client{
		id:        id,
		hub:       h,
		conn:      conn,
		logger:    h.logger.With("client_id", id, "remote", conn.RemoteAddr().String()),
		send:      make(chan []byte, h.cfg.SendBuffer),
		done:      make(chan struct{}),
		lastProbe: time.Now(),
	}
}

// ID returns the client's unique id.
func (c *Client) ID() string {
	return c.id
}

// Reply sends payload on channel to this client only.
func (c *Client) Reply(channel string, payload any) error {
	data, err := envelope.Encode(channel, payload)
	if err != nil {
		return err
	}
	return c.enqueue(channel, data)
}

// Broadcast sends payload on channel to every client of the hub.
func (c *Client) Broadcast(channel string, payload any) error {
	_, err := c.hub.Broadcast(channel, payload)
	return err
}

// enqueue hands data to the writer. A client whose buffer is full is
// dropped rather than blocking the caller.
func (c *Client) enqueue(channel string, data []byte) error {
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}

	select {
	case c.send <- data:
		if channel != "" {
			c.hub.metrics.IncHubMessages(channel, "out")
		}
		return nil
	case <-c.done:
		return ErrClientClosed
	default:
		c.logger.Warn("send buffer full, dropping client", "buffer", cap(c.send))
		c.close()
		return ErrSlowClient
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.hub.remove(c)
	})
}

// readPump reads envelopes until the connection fails or the writer
// closes it. Probe replies
// clear the outstanding ping; probes from the client are answered.
func (c *Client) readPump() {
	defer c.close()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn("read failed", "error", err)
			}
			return
		}

		frame, err := envelope.Decode(data)
		if err != nil {
			c.logger.Warn("dropping malformed frame", "error", err, "bytes", len(data))
			continue
		}

		switch {
		case frame.IsPong():
			c.mu.Lock()
			c.pingSentAt = time.Time{}
			c.mu.Unlock()
		case frame.IsPing():
			c.enqueue("", envelope.Pong())
		default:
			if err := c.hub.route(c, frame); err != nil {
				c.replyError(frame, err)
			}
		}
	}
}

func (c *Client) replyError(frame envelope.Frame, err error) {
	channel := frame.Route()
	c.logger.Warn("message failed",
		"channel", channel,
		"type", frame.Type(),
		"error", err,
	)

	reply := errorReply{Type: TypeError, Error: err.Error(), Request: frame.Type()}
	data, encErr := envelope.Encode(channel, reply)
	if encErr != nil {
		return
	}
	if err := c.enqueue(channel, data); err != nil && !errors.Is(err, ErrClientClosed) {
		c.logger.Debug("error reply not sent", "error", err)
	}
}

// writePump owns the write side of the connection. It also probes the
// client every PingInterval and drops it once a probe goes unanswered
// for PongTimeout.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.pingCheckInterval())
	defer ticker.Stop()
	defer c.conn.Close()
	defer c.close()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(time.Second))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
			return

		case data := <-c.send:
			if err := c.write(data); err != nil {
				c.logger.Warn("write failed", "error", err)
				return
			}

		case now := <-ticker.C:
			if c.pongOverdue(now) {
				c.logger.Warn("pong timeout, dropping client", "timeout", c.hub.cfg.PongTimeout)
				return
			}
			if !c.pingDue(now) {
				continue
			}
			if err := c.write(envelope.Ping()); err != nil {
				c.logger.Warn("ping failed", "error", err)
				return
			}
		}
	}
}

func (c *Client) write(data []byte) error {
	c.conn.SetWriteDeadline(time.Now().Add(c.hub.cfg.WriteTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// pingCheckInterval is the ticker period: fine enough to notice both a
// due ping and an overdue pong.
func (c *Client) pingCheckInterval() time.Duration {
	d := c.hub.cfg.PingInterval
	if c.hub.cfg.PongTimeout < d {
		d = c.hub.cfg.PongTimeout
	}
	if d/2 > 0 {
		d /= 2
	}
	return d
}

func (c *Client) pongOverdue(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.pingSentAt.IsZero() && now.Sub(c.pingSentAt) > c.hub.cfg.PongTimeout
}

// pingDue marks a probe as sent when none is outstanding and the last
// one (or the connection) is at least PingInterval old.
func (c *Client) pingDue(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.pingSentAt.IsZero() {
		return false
	}
	if now.Sub(c.lastProbe) < c.hub.cfg.PingInterval {
		return false
	}
	c.pingSentAt = now
	c.lastProbe = now
	return true
}
