package main

import (
	"context"
	"encoding/json"
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

	"github.com/rickgao/audiopanel/internal/config"
	"github.com/rickgao/audiopanel/internal/hub"
	"github.com/rickgao/audiopanel/internal/logging"
	"github.com/rickgao/audiopanel/internal/metrics"
	"github.com/rickgao/audiopanel/internal/version"
)

func main() {
	configPath := flag.StringP("config", "c", "", "path to config file (defaults apply when empty)")
	listen := flag.StringP("listen", "l", "", "listen address, overrides hub.listen")
	logLevel := flag.String("log-level", "", "log level, overrides log.level")
	showVersion := flag.BoolP("version", "v", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "hub: %v\n", err)
		os.Exit(1)
	}
	if *listen != "" {
		cfg.Hub.Listen = *listen
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}

	logger, logCloser, err := logging.Setup(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "hub: %v\n", err)
		os.Exit(1)
	}
	defer logCloser.Close()

	logger.Info("starting hub",
		"version", version.Version,
		"commit", version.Get().Commit,
		"config", *configPath,
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("hub failed", "error", err)
		logCloser.Close()
		os.Exit(1)
	}
	logger.Info("hub stopped")
}

func loadConfig(path string) (*config.PanelConfig, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.LoadAndValidate(path)
}

func run(cfg *config.PanelConfig, logger *slog.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	m, err := metrics.New(metrics.DefaultNamespace)
	if err != nil {
		return err
	}

	h := hub.New(hubConfig(cfg.Hub), hub.WithLogger(logger), hub.WithMetrics(m))
	demo, err := hub.RegisterDemo(h)
	if err != nil {
		return err
	}
	logger.Info("services registered", "channels", h.Channels())

	servers := []*http.Server{{
		Addr:              cfg.Hub.Listen,
		Handler:           createHandler(h, demo, cfg.Hub.Path),
		ReadHeaderTimeout: 5 * time.Second,
	}, {
		Addr:              fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler:           createMetricsHandler(m, cfg.Metrics.Path),
		ReadHeaderTimeout: 5 * time.Second,
	}}

	g, gctx := errgroup.WithContext(ctx)
	for _, srv := range servers {
		g.Go(func() error {
			logger.Info("listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("serve %s: %w", srv.Addr, err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down...")

		// Close websocket clients first; Shutdown does not wait for
		// hijacked connections.
		h.Close()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		var errs []error
		for _, srv := range servers {
			errs = append(errs, srv.Shutdown(shutdownCtx))
		}
		return errors.Join(errs...)
	})

	logger.Info("hub running",
		"ws_url", fmt.Sprintf("ws://localhost%s%s", cfg.Hub.Listen, cfg.Hub.Path),
	)
	return g.Wait()
}

func hubConfig(c config.HubConfig) hub.Config {
	hc := hub.DefaultConfig()
	hc.PingInterval = c.PingInterval
	hc.PongTimeout = c.PongTimeout
	hc.SendBuffer = c.SendBuffer
	return hc
}

// createHandler mounts the websocket endpoint, the REST control API and
// /health.
func createHandler(h *hub.Hub, demo *hub.Demo, wsPath string) http.Handler {
	mux := http.NewServeMux()
	mux.Handle(wsPath, h)
	mux.Handle("/api/", demo.ControlHandler(h))

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"status":   "healthy",
			"clients":  h.Clients(),
			"services": h.Channels(),
			"version":  version.Get(),
		})
	})

	return mux
}

func createMetricsHandler(m *metrics.Metrics, path string) http.Handler {
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())
	return mux
}
