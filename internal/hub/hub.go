package hub

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/rickgao/audiopanel/internal/envelope"
	"github.com/rickgao/audiopanel/internal/metrics"
)

// Option configures a Hub.
type Option func(*Hub)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Hub) {
		h.logger = logger
	}
}

// WithMetrics records client counts and message totals.
func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Hub) {
		h.metrics = m
	}
}

// WithCheckOrigin overrides the upgrader's origin check. The default
// accepts every origin.
func WithCheckOrigin(fn func(r *http.Request) bool) Option {
	return func(h *Hub) {
		h.upgrader.CheckOrigin = fn
	}
}

// Hub accepts panel connections and routes their envelopes to services.
type Hub struct {
	cfg      Config
	logger   *slog.Logger
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.RWMutex
	clients  map[string]*Client
	services map[string]Service
	closed   bool
}

// New creates a Hub.
func New(cfg Config, opts ...Option) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		cfg:    cfg.withDefaults(),
		logger: slog.Default(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		ctx:      ctx,
		cancel:   cancel,
		clients:  make(map[string]*Client),
		services: make(map[string]Service),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	return h
}

// Register binds svc to channel.
func (h *Hub) Register(channel string, svc Service) error {
	if channel == "" {
		return envelope.ErrEmptyChannel
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.services[channel]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, channel)
	}
	h.services[channel] = svc
	return nil
}

// Channels returns the registered channels, sorted.
func (h *Hub) Channels() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]string, 0, len(h.services))
	for ch := range h.services {
		out = append(out, ch)
	}
	sort.Strings(out)
	return out
}

// ServeHTTP upgrades the request and serves the client until it
// disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	closed := h.closed
	h.mu.RUnlock()
	if closed {
		http.Error(w, ErrHubClosed.Error(), http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client.
		h.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	conn.SetReadLimit(h.cfg.ReadLimit)

	c := newClient(h, conn, uuid.NewString())
	if !h.add(c) {
		conn.Close()
		return
	}

	go func() {
		defer h.wg.Done()
		c.writePump()
	}()

	defer h.wg.Done()
	c.readPump()
}

// Broadcast sends payload on channel to every connected client and
// returns how many clients it was queued for.
func (h *Hub) Broadcast(channel string, payload any) (int, error) {
	data, err := envelope.Encode(channel, payload)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, c := range h.snapshot() {
		if err := c.enqueue(channel, data); err != nil {
			continue
		}
		sent++
	}
	return sent, nil
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client and waits for their goroutines.
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.mu.Unlock()

	h.cancel()
	for _, c := range h.snapshot() {
		c.close()
	}
	h.wg.Wait()

	h.logger.Info("hub closed")
	return nil
}

// route hands an inbound envelope to its channel's service.
func (h *Hub) route(c *Client, frame envelope.Frame) error {
	channel, ok := frame.Channel()
	if !ok {
		return ErrMissingChannel
	}

	h.mu.RLock()
	svc, ok := h.services[channel]
	h.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownChannel, channel)
	}

	payload, err := frame.Payload()
	if err != nil {
		return err
	}

	h.metrics.IncHubMessages(channel, "in")
	return svc.Handle(h.ctx, c, Message{
		Channel: channel,
		Type:    frame.Type(),
		Payload: payload,
	})
}

func (h *Hub) add(c *Client) bool {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return false
	}
	h.clients[c.id] = c
	n := len(h.clients)
	// Reader and writer.
	h.wg.Add(2)
	h.mu.Unlock()

	h.metrics.SetHubClients(n)
	c.logger.Info("client connected", "clients", n)
	return true
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c.id]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c.id)
	n := len(h.clients)
	h.mu.Unlock()

	h.metrics.SetHubClients(n)
	c.logger.Info("client disconnected", "clients", n)
}

func (h *Hub) snapshot() []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		out = append(out, c)
	}
	return out
}
