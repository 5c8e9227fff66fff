package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/audiopanel/internal/api"
	"github.com/rickgao/audiopanel/internal/config"
	"github.com/rickgao/audiopanel/internal/envelope"
	"github.com/rickgao/audiopanel/internal/feature/audio"
	"github.com/rickgao/audiopanel/internal/feature/spotify"
	"github.com/rickgao/audiopanel/internal/feature/volume"
	"github.com/rickgao/audiopanel/internal/logging"
	"github.com/rickgao/audiopanel/internal/metrics"
	"github.com/rickgao/audiopanel/internal/poller"
	"github.com/rickgao/audiopanel/internal/transport"
	"github.com/rickgao/audiopanel/internal/version"
	"github.com/rickgao/audiopanel/internal/writer"
)

func main() {
	configPath := flag.StringP("config", "c", "", "path to config file (defaults apply when empty)")
	backendURL := flag.String("url", "", "backend websocket URL, overrides transport.url")
	logLevel := flag.String("log-level", "", "log level, overrides log.level")
	showVersion := flag.BoolP("version", "v", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	cfg, err := loadConfig(*configPath, func(c *config.PanelConfig) {
		if *backendURL != "" {
			c.Transport.URL = *backendURL
		}
		if *logLevel != "" {
			c.Log.Level = *logLevel
		}
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "panel: %v\n", err)
		os.Exit(1)
	}

	logger, logCloser, err := logging.Setup(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "panel: %v\n", err)
		os.Exit(1)
	}
	defer logCloser.Close()

	logger.Info("starting panel",
		"version", version.Version,
		"commit", version.Get().Commit,
		"config", *configPath,
		"instance_id", cfg.Instance.ID,
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("panel failed", "error", err)
		logCloser.Close()
		os.Exit(1)
	}
	logger.Info("panel stopped")
}

// loadConfig reads path, or starts from defaults when path is empty, then
// applies flag overrides and validates.
func loadConfig(path string, override func(*config.PanelConfig)) (*config.PanelConfig, error) {
	var (
		cfg *config.PanelConfig
		err error
	)
	if path == "" {
		cfg = config.Default()
	} else if cfg, err = config.LoadWithDefaults(path); err != nil {
		return nil, err
	}

	override(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func run(cfg *config.PanelConfig, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received shutdown signal", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	m, err := metrics.New(metrics.DefaultNamespace)
	if err != nil {
		return err
	}

	tcfg := transportConfig(cfg.Transport)
	dialer, err := transport.NewDialer(cfg.Transport.Driver, tcfg)
	if err != nil {
		return err
	}
	tr := transport.New(tcfg,
		transport.WithDialer(dialer),
		transport.WithLogger(logger),
		transport.WithMetrics(m),
	)
	defer tr.Close()

	// Last-known state
	logger.Info("opening state store", "driver", cfg.State.Driver)
	store, err := writer.OpenStore(ctx, cfg.State, cfg.Instance.ID)
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	state := writer.NewStateWriter(writer.ConfigFrom(cfg.State), store, logger)
	if err := state.Start(ctx); err != nil {
		return fmt.Errorf("start state writer: %w", err)
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer stopCancel()
		if err := state.Stop(stopCtx); err != nil {
			logger.Error("state writer stop failed", "error", err)
		}
	}()
	unsubscribe := tr.Subscribe(envelope.GlobalChannel, state.Handler())
	defer unsubscribe()

	apiClient, err := api.NewClient(cfg.API.RestURL,
		api.WithLogger(logger),
		api.WithTimeout(cfg.API.Timeout),
		api.WithRetries(cfg.API.MaxRetries, 500*time.Millisecond),
	)
	if err != nil {
		return fmt.Errorf("api client: %w", err)
	}

	features := startFeatures(ctx, tr, apiClient, logger)
	defer features.Close()

	if !cfg.API.Poll.Disabled {
		p := poller.New(poller.Config{
			Interval:    cfg.API.Poll.Interval,
			Services:    cfg.API.Poll.Services,
			Concurrency: cfg.API.Poll.Concurrency,
			Timeout:     cfg.API.Timeout,
		}, apiClient, statusRecorder(state), logger)
		if err := p.Start(ctx); err != nil {
			return fmt.Errorf("start poller: %w", err)
		}
		defer func() {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer stopCancel()
			p.Stop(stopCtx)
		}()
	}

	if !tr.Connect(ctx) {
		logger.Warn("backend not reachable yet, reconnecting in background",
			"url", tcfg.URL,
			"error", tr.LastError(),
		)
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler:           createHealthHandler(tr, state, features, m, cfg.Metrics.Path),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting health server", "addr", server.Addr, "metrics_path", cfg.Metrics.Path)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("health server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down...")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return server.Shutdown(shutdownCtx)
	})

	logger.Info("panel running",
		"backend", tcfg.URL,
		"health_url", fmt.Sprintf("http://localhost:%d/health", cfg.Metrics.Port),
	)
	return g.Wait()
}

// transportConfig maps the YAML settings onto transport.Config.
func transportConfig(c config.TransportConfig) transport.Config {
	tc := transport.Config{
		URL:            c.URL,
		ConnectTimeout: c.ConnectTimeout,
		BackoffBase:    c.BackoffBase,
		BackoffMax:     c.BackoffMax,
		BackoffGrowth:  c.BackoffGrowth,
		MaxAttempts:    c.MaxAttempts,
		Cooldown:       c.Cooldown,
		MaxPending:     transport.DefaultConfig().MaxPending,
		ReadTimeout:    c.ReadTimeout,
		WriteTimeout:   c.WriteTimeout,
	}
	if c.MaxPending != nil {
		tc.MaxPending = *c.MaxPending
	}
	return tc
}

// TypeServiceStatus is the record type polled service status is stored
// under.
const TypeServiceStatus = "service_status"

type frameObserver interface {
	Observe(frame envelope.Frame) error
}

// statusRecorder stores each poll result as if the service had sent it
// on its own channel.
func statusRecorder(obs frameObserver) poller.StatusHandlerFunc {
	return func(r poller.Result) error {
		msg := map[string]any{"type": TypeServiceStatus}
		if r.Err != nil {
			msg["error"] = r.Err.Error()
		} else {
			msg["status"] = r.Status.Status
			msg["connected"] = r.Status.Connected
		}

		data, err := envelope.Encode(r.Service, msg)
		if err != nil {
			return err
		}
		frame, err := envelope.Decode(data)
		if err != nil {
			return err
		}
		return obs.Observe(frame)
	}
}

// panelFeatures is the set of feature modules the panel runs.
type panelFeatures struct {
	volume  *volume.Volume
	audio   *audio.Audio
	spotify *spotify.Spotify
}

func startFeatures(ctx context.Context, tr *transport.Transport, c *api.Client, logger *slog.Logger) *panelFeatures {
	f := &panelFeatures{
		volume:  volume.New(tr, volume.WithLogger(logger)),
		audio:   audio.New(tr, logger),
		spotify: spotify.New(tr, spotify.WithLogger(logger), spotify.WithAPI(c)),
	}
	f.volume.Start(ctx)
	f.audio.Start(ctx)
	f.spotify.Start(ctx)
	return f
}

// Snapshot returns the current state of every feature.
func (f *panelFeatures) Snapshot() map[string]any {
	sp := f.spotify.State()
	return map[string]any{
		volume.Channel: f.volume.State(),
		audio.Channel:  f.audio.State(),
		spotify.Channel: map[string]any{
			"connected":   sp.Connected,
			"active":      sp.Active(),
			"playback":    sp.Playback,
			"position_ms": f.spotify.Position(),
		},
	}
}

func (f *panelFeatures) Close() {
	f.spotify.Close()
	f.audio.Close()
	f.volume.Close()
}
