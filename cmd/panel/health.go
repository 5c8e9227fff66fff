package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rickgao/audiopanel/internal/metrics"
	"github.com/rickgao/audiopanel/internal/transport"
	"github.com/rickgao/audiopanel/internal/version"
	"github.com/rickgao/audiopanel/internal/writer"
)

type transportStats interface {
	Stats() transport.Stats
}

type stateReader interface {
	Latest(ctx context.Context) ([]writer.Record, error)
	Stats() writer.WriterMetrics
}

type snapshotter interface {
	Snapshot() map[string]any
}

// createHealthHandler serves /health, /state, /features, /version and the
// Prometheus registry on metricsPath.
func createHealthHandler(tr transportStats, state stateReader, features snapshotter, m *metrics.Metrics, metricsPath string) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		stats := tr.Stats()

		health := struct {
			Status     string         `json:"status"`
			Components map[string]any `json:"components"`
		}{
			Status:     "healthy",
			Components: make(map[string]any),
		}

		conn := map[string]any{
			"state":      stats.State.String(),
			"conn_id":    stats.ConnID,
			"attempt":    stats.Attempt,
			"pending":    stats.Pending,
			"dropped":    stats.Dropped,
			"dispatched": stats.Dispatched,
		}
		if stats.LastError != "" {
			conn["last_error"] = stats.LastError
		}
		health.Components["transport"] = conn

		switch stats.State {
		case transport.StateOpen:
		case transport.StateShutdown:
			health.Status = "unhealthy"
		default:
			health.Status = "degraded"
		}

		ws := state.Stats()
		health.Components["state_writer"] = map[string]any{
			"upserts": ws.Upserts,
			"errors":  ws.Errors,
			"dropped": ws.Dropped,
		}

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})

	mux.HandleFunc("/state", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		records, err := state.Latest(ctx)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"count":   len(records),
			"records": records,
		})
	})

	mux.HandleFunc("/features", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(features.Snapshot())
	})

	mux.HandleFunc("/version", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(version.Get())
	})

	if m != nil {
		mux.Handle(metricsPath, m.Handler())
	}

	return mux
}
