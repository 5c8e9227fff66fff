package transport

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/rickgao/audiopanel/internal/envelope"
	"github.com/rickgao/audiopanel/internal/metrics"
	"github.com/rickgao/audiopanel/internal/router"
)

// Transport multiplexes logical channels over one reconnecting connection.
type Transport struct {
	cfg     Config
	dialer  Dialer
	logger  *slog.Logger
	metrics *metrics.Metrics

	// afterFunc schedules reconnect timers; replaced in tests.
	afterFunc func(d time.Duration, f func()) (stop func() bool)

	router  *router.Router
	inbound *router.Queue[inboundFrame]

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Lifecycle state, guarded by mu.
	mu        sync.Mutex
	state     State
	conn      Conn
	connID    uuid.UUID
	gen       uint64 // Bumped whenever the current connection changes
	connected bool
	lastErr   error

	outbound *router.Queue[[]byte]

	retired []Conn // Detached connections awaiting Close outside mu
	closeMu sync.Mutex

	backoff   *backoff.ExponentialBackOff
	attempt   int
	lastDelay time.Duration
	stopTimer func() bool
	timerSeq  uint64

	watchers map[chan bool]struct{}
}

// Option configures a Transport.
type Option func(*Transport)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Transport) {
		t.logger = logger
	}
}

// WithDialer sets the dialer used to open connections.
func WithDialer(d Dialer) Option {
	return func(t *Transport) {
		t.dialer = d
	}
}

// WithMetrics records transport metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(t *Transport) {
		t.metrics = m
	}
}

// New creates a Transport. No connection is made until Connect, Subscribe,
// or Publish is called.
func New(cfg Config, opts ...Option) *Transport {
	cfg = cfg.withDefaults()

	t := &Transport{
		cfg:      cfg,
		logger:   slog.Default(),
		router:   router.New(),
		inbound:  router.NewQueue[inboundFrame](64),
		state:    StateIdle,
		backoff:  newBackoff(cfg),
		watchers: make(map[chan bool]struct{}),
		afterFunc: func(d time.Duration, f func()) func() bool {
			return time.AfterFunc(d, f).Stop
		},
	}

	for _, opt := range opts {
		opt(t)
	}

	if t.logger == nil {
		t.logger = slog.Default()
	}
	if t.dialer == nil {
		t.dialer = &gorillaDialer{cfg: cfg}
	}

	t.outbound = router.NewBoundedQueue[[]byte](16, cfg.MaxPending, t.onOutboundEvict)
	t.ctx, t.cancel = context.WithCancel(context.Background())

	t.wg.Add(1)
	go t.dispatchLoop()

	return t
}

// Subscribe registers h for channel and returns a function removing exactly
// this subscription. The first subscriber bootstraps the connection.
func (t *Transport) Subscribe(channel string, h Handler) (unsubscribe func()) {
	sub := t.router.Add(channel, h)

	t.mu.Lock()
	if t.conn == nil && t.state != StateConnecting && t.state != StateShutdown {
		t.connectAsyncLocked()
	}
	t.mu.Unlock()

	t.logger.Debug("subscribed", "channel", channel, "sub_id", sub.ID)

	return func() {
		if t.router.Remove(sub) {
			t.logger.Debug("unsubscribed", "channel", channel, "sub_id", sub.ID)
		}
	}
}

// Publish sends payload on channel. It never blocks on the network: while
// offline the envelope is queued and flushed on the next open. Errors are
// returned only for payloads that cannot be encoded and after Close.
func (t *Transport) Publish(channel string, payload any) error {
	data, err := envelope.Encode(channel, payload)
	if err != nil {
		return err
	}
	return t.send(data)
}

// IsConnected reports whether the connection is open.
func (t *Transport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

// State returns the current lifecycle state.
func (t *Transport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// LastError returns the most recent connection, send, or decode error.
func (t *Transport) LastError() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastErr
}

// WatchConnected returns a channel that receives the current connectivity
// immediately and every change afterwards. Slow readers only see the
// latest value. cancel stops the watch and closes the channel.
func (t *Transport) WatchConnected() (<-chan bool, func()) {
	ch := make(chan bool, 1)

	t.mu.Lock()
	if t.state == StateShutdown {
		t.mu.Unlock()
		ch <- false
		close(ch)
		return ch, func() {}
	}
	t.watchers[ch] = struct{}{}
	ch <- t.connected
	t.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			if _, ok := t.watchers[ch]; ok {
				delete(t.watchers, ch)
				close(ch)
			}
		})
	}
	return ch, cancel
}

// Stats returns current transport statistics.
func (t *Transport) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := t.outbound.Stats()
	in := t.inbound.Stats()

	s := Stats{
		State:          t.state,
		Connected:      t.connected,
		Attempt:        t.attempt,
		LastDelay:      t.lastDelay,
		Pending:        out.Count,
		Dropped:        out.Evicted,
		InboundPending: in.Count,
		Dispatched:     in.Popped,
		Subscriptions:  t.router.Count(),
	}
	if t.conn != nil {
		s.ConnID = t.connID.String()
	}
	if t.lastErr != nil {
		s.LastError = t.lastErr.Error()
	}
	return s
}

// Close tears the transport down permanently: the connection is closed,
// pending reconnects are cancelled, and the dispatcher stops. Must not be
// called from a Handler.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.state == StateShutdown {
		t.mu.Unlock()
		return nil
	}

	t.cancelReconnectLocked()
	conn := t.conn
	t.conn = nil
	t.gen++
	t.setStateLocked(StateShutdown)
	t.setConnectedLocked(false)
	for ch := range t.watchers {
		close(ch)
	}
	t.watchers = make(map[chan bool]struct{})
	t.unlock()

	var err error
	if conn != nil {
		err = conn.Close()
	}

	t.cancel()
	t.inbound.Close()
	t.outbound.Close()
	t.wg.Wait()

	t.logger.Info("transport closed")
	return err
}

// setConnectedLocked updates connectivity and notifies watchers on change.
func (t *Transport) setConnectedLocked(connected bool) {
	if t.connected == connected {
		return
	}
	t.connected = connected
	t.metrics.SetConnected(connected)

	for ch := range t.watchers {
		select {
		case ch <- connected:
		default:
			// Replace the stale value so the reader sees the latest.
			select {
			case <-ch:
			default:
			}
			ch <- connected
		}
	}
}
