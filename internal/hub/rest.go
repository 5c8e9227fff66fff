package hub

import (
	"encoding/json"
	"net/http"

	"github.com/rickgao/audiopanel/internal/api"
)

// Services the control API knows about. Only spotify has a demo player
// behind it; the others just track running state.
var controlServices = map[string]bool{
	SpotifyChannel: true,
	"bluetooth":    true,
	"snapcast":     true,
}

// ControlHandler serves the REST control API for the demo services:
//
//	GET  /api/{service}/status
//	POST /api/{service}/start
//	POST /api/{service}/stop
//	GET  /api/spotify/playback
//
// Starting or stopping spotify also broadcasts its new status to every
// hub client.
func (d *Demo) ControlHandler(h *Hub) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/spotify/playback", func(w http.ResponseWriter, r *http.Request) {
		p, err := d.Spotify.Playback()
		if err != nil {
			writeDetail(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, p)
	})

	mux.HandleFunc("GET /api/{service}/status", func(w http.ResponseWriter, r *http.Request) {
		service := r.PathValue("service")
		if !controlServices[service] {
			writeDetail(w, http.StatusNotFound, "unknown service: "+service)
			return
		}
		writeJSON(w, http.StatusOK, d.status(service))
	})

	mux.HandleFunc("POST /api/{service}/{action}", func(w http.ResponseWriter, r *http.Request) {
		service, action := r.PathValue("service"), r.PathValue("action")
		if !controlServices[service] {
			writeDetail(w, http.StatusNotFound, "unknown service: "+service)
			return
		}

		var running bool
		var message string
		switch action {
		case "start":
			running, message = true, service+" started"
		case "stop":
			message = service + " stopped"
		default:
			writeDetail(w, http.StatusNotFound, "unknown action: "+action)
			return
		}

		d.setRunning(service, running)
		if service == SpotifyChannel {
			d.Spotify.SetConnected(running)
			if _, err := h.Broadcast(SpotifyChannel, d.Spotify.status()); err != nil {
				h.logger.Warn("spotify status broadcast failed", "error", err)
			}
		}

		h.logger.Info("service action", "service", service, "action", action)
		writeJSON(w, http.StatusOK, api.ActionResponse{
			Status:  "ok",
			Message: message,
		})
	})

	return mux
}

func (d *Demo) status(service string) api.ServiceStatus {
	d.mu.Lock()
	running := d.running[service]
	d.mu.Unlock()

	st := api.ServiceStatus{Status: "stopped"}
	if running {
		st.Status = "running"
	}
	if service == SpotifyChannel {
		st.Connected = d.Spotify.Connected()
	} else {
		st.Connected = running
	}
	return st
}

func (d *Demo) setRunning(service string, running bool) {
	d.mu.Lock()
	d.running[service] = running
	d.mu.Unlock()
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, code int, detail string) {
	writeJSON(w, code, map[string]string{"detail": detail})
}
