package hub

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Errors
var (
	ErrHubClosed      = errors.New("hub closed")
	ErrClientClosed   = errors.New("client closed")
	ErrSlowClient     = errors.New("client send buffer full")
	ErrUnknownChannel = errors.New("no service for channel")
	ErrMissingChannel = errors.New("envelope has no channel")
	ErrDuplicate      = errors.New("service already registered")
)

// TypeError is the message type sent back when a service fails.
const TypeError = "error"

// Config configures a Hub.
type Config struct {
	PingInterval time.Duration // How often each client is probed
	PongTimeout  time.Duration // Drop a client whose pong is this late
	SendBuffer   int           // Per-client outbound buffer
	WriteTimeout time.Duration // Write deadline per frame
	ReadLimit    int64         // Max inbound frame size in bytes
}

// DefaultConfig returns the default hub settings.
func DefaultConfig() Config {
	return Config{
		PingInterval: 30 * time.Second,
		PongTimeout:  10 * time.Second,
		SendBuffer:   256,
		WriteTimeout: 5 * time.Second,
		ReadLimit:    1 << 20,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.PingInterval <= 0 {
		c.PingInterval = d.PingInterval
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = d.PongTimeout
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = d.SendBuffer
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = d.ReadLimit
	}
	return c
}

// Message is an inbound envelope addressed to a service. Payload has the
// channel tag stripped.
type Message struct {
	Channel string
	Type    string
	Payload json.RawMessage
}

// Service handles the envelopes of one channel.
type Service interface {
	Handle(ctx context.Context, c *Client, msg Message) error
}

// ServiceFunc adapts a function to Service.
type ServiceFunc func(ctx context.Context, c *Client, msg Message) error

func (f ServiceFunc) Handle(ctx context.Context, c *Client, msg Message) error {
	return f(ctx, c, msg)
}

// errorReply is sent to the client whose message a service rejected.
type errorReply struct {
	Type    string `json:"type"`
	Error   string `json:"error"`
	Request string `json:"request,omitempty"`
}
