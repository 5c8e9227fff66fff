package transport

import (
	"errors"
	"time"

	"github.com/rickgao/audiopanel/internal/router"
)

// Errors
var (
	ErrClosed          = errors.New("transport closed")
	ErrConnectTimeout  = errors.New("connect timeout")
	ErrUnknownDriver   = errors.New("unknown websocket driver")
	ErrStaleConnection = errors.New("stale connection")
)

// Handler receives channel payloads. See router.Handler.
type Handler = router.Handler

// Config configures a Transport.
type Config struct {
	URL            string        // Backend websocket URL (e.g., ws://127.0.0.1:8000/ws)
	ConnectTimeout time.Duration // Abort a connect attempt after this long
	BackoffBase    time.Duration // Attempt n waits BackoffBase * BackoffGrowth^n
	BackoffMax     time.Duration // Reconnect delay cap
	BackoffGrowth  float64       // Delay multiplier per attempt
	MaxAttempts    int           // Attempts before the cooldown
	Cooldown       time.Duration // Pause once MaxAttempts is reached
	MaxPending     int           // Outbound queue cap (0 = unbounded)
	ReadTimeout    time.Duration // Treat a silent connection as lost (0 = never)
	WriteTimeout   time.Duration // Write deadline for sends
	ReadLimit      int64         // Max inbound frame size in bytes
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout: 5 * time.Second,
		BackoffBase:    1 * time.Second,
		BackoffMax:     30 * time.Second,
		BackoffGrowth:  1.5,
		MaxAttempts:    10,
		Cooldown:       60 * time.Second,
		MaxPending:     1024,
		WriteTimeout:   5 * time.Second,
		ReadLimit:      1 << 20,
	}
}

// withDefaults fills zero fields. MaxPending and ReadTimeout keep their
// zero meaning.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = d.BackoffBase
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = d.BackoffMax
	}
	if c.BackoffGrowth <= 1 {
		c.BackoffGrowth = d.BackoffGrowth
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.Cooldown <= 0 {
		c.Cooldown = d.Cooldown
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = d.ReadLimit
	}
	return c
}

// Stats is a point-in-time view of the transport.
type Stats struct {
	State          State
	Connected      bool
	ConnID         string // Empty while disconnected
	Attempt        int    // Reconnect attempts since the last open
	LastDelay      time.Duration
	Pending        int   // Outbound envelopes waiting for a connection
	Dropped        int64 // Outbound envelopes evicted by MaxPending
	InboundPending int
	Dispatched     int64 // Inbound frames taken by the dispatcher
	Subscriptions  int
	LastError      string
}
