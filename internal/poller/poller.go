package poller

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/audiopanel/internal/api"
)

// StatusSource fetches one service's status. *api.Client satisfies it.
type StatusSource interface {
	GetStatus(ctx context.Context, service string) (*api.ServiceStatus, error)
}

// Result is one poll outcome.
type Result struct {
	Service string
	Status  *api.ServiceStatus // nil when Err is set
	Err     error
	At      time.Time
}

// StatusHandler receives poll results.
type StatusHandler interface {
	HandleStatus(r Result) error
}

// StatusHandlerFunc is a function adapter for StatusHandler.
type StatusHandlerFunc func(Result) error

func (f StatusHandlerFunc) HandleStatus(r Result) error {
	return f(r)
}

// Config holds poller configuration.
type Config struct {
	Interval    time.Duration // Poll interval (default: 30s)
	Services    []string      // Services to poll
	Concurrency int           // Max concurrent requests (default: 4)
	Timeout     time.Duration // Per-request timeout (default: 10s)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval:    30 * time.Second,
		Services:    []string{"spotify", "bluetooth", "snapcast"},
		Concurrency: 4,
		Timeout:     10 * time.Second,
	}
}

// Poller periodically fetches service status via the REST API.
type Poller struct {
	cfg     Config
	source  StatusSource
	handler StatusHandler
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu   sync.RWMutex
	last map[string]Result
}

// New creates a new Poller.
func New(cfg Config, source StatusSource, handler StatusHandler, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	d := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = d.Interval
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = d.Concurrency
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = d.Timeout
	}
	return &Poller{
		cfg:     cfg,
		source:  source,
		handler: handler,
		logger:  logger,
		last:    make(map[string]Result),
	}
}

// Start begins the polling loop.
func (p *Poller) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.run()

	p.logger.Info("status poller started",
		"interval", p.cfg.Interval,
		"services", p.cfg.Services,
	)

	return nil
}

// Stop gracefully shuts down the poller.
func (p *Poller) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("status poller stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Last returns the most recent result per service.
func (p *Poller) Last() map[string]Result {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make(map[string]Result, len(p.last))
	for k, v := range p.last {
		out[k] = v
	}
	return out
}

// run is the main polling loop.
func (p *Poller) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	// Poll immediately on start.
	p.pollAll()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.pollAll()
		}
	}
}

// pollAll fetches every service's status with bounded concurrency.
func (p *Poller) pollAll() {
	start := time.Now()

	if len(p.cfg.Services) == 0 {
		p.logger.Debug("no services to poll")
		return
	}

	var g errgroup.Group
	g.SetLimit(p.cfg.Concurrency)
	var fetched, failed atomic.Int64

	for _, service := range p.cfg.Services {
		if p.ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := p.pollService(service); err != nil {
				p.logger.Warn("failed to poll service",
					"service", service,
					"err", err,
				)
				failed.Add(1)
				return nil
			}
			fetched.Add(1)
			return nil
		})
	}

	g.Wait()

	p.logger.Debug("poll cycle complete",
		"services", len(p.cfg.Services),
		"fetched", fetched.Load(),
		"errors", failed.Load(),
		"duration", time.Since(start),
	)
}

// pollService fetches and handles a single service's status. Fetch
// failures are recorded and reported to the handler as well.
func (p *Poller) pollService(service string) error {
	ctx, cancel := context.WithTimeout(p.ctx, p.cfg.Timeout)
	defer cancel()

	status, err := p.source.GetStatus(ctx, service)
	r := Result{Service: service, Status: status, Err: err, At: time.Now()}
	if err != nil {
		r.Status = nil
	}

	p.mu.Lock()
	p.last[service] = r
	p.mu.Unlock()

	if p.handler != nil {
		if herr := p.handler.HandleStatus(r); herr != nil && err == nil {
			return herr
		}
	}
	return err
}
