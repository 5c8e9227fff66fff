package poller

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rickgao/audiopanel/internal/api"
)

func statusServer(t *testing.T, delay time.Duration, inFlight, maxInFlight *atomic.Int32) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if inFlight != nil {
			current := inFlight.Add(1)
			defer inFlight.Add(-1)

			// Track max concurrent requests.
			for {
				old := maxInFlight.Load()
				if current <= old || maxInFlight.CompareAndSwap(old, current) {
					break
				}
			}
		}
		time.Sleep(delay)

		// /api/<service>/status
		service := strings.Split(strings.Trim(r.URL.Path, "/"), "/")[1]
		if service == "snapcast" {
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]string{"detail": "unknown service"})
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"status":    "running",
			"connected": service == "spotify",
		})
	}))
	t.Cleanup(server.Close)
	return server
}

type recorder struct {
	mu      sync.Mutex
	results []Result
}

func (r *recorder) HandleStatus(res Result) error {
	r.mu.Lock()
	r.results = append(r.results, res)
	r.mu.Unlock()
	return nil
}

func (r *recorder) byService() map[string]Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]Result)
	for _, res := range r.results {
		out[res.Service] = res
	}
	return out
}

func newClient(t *testing.T, url string, opts ...api.ClientOption) *api.Client {
	t.Helper()
	c, err := api.NewClient(url, opts...)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return c
}

func TestPoller_PollAll(t *testing.T) {
	server := statusServer(t, 0, nil, nil)
	client := newClient(t, server.URL, api.WithTimeout(5*time.Second), api.WithRetries(0, 0))

	rec := &recorder{}
	cfg := Config{
		Interval:    time.Hour, // Long interval, we'll trigger manually.
		Services:    []string{"spotify", "bluetooth", "snapcast"},
		Concurrency: 2,
		Timeout:     5 * time.Second,
	}
	p := New(cfg, client, rec, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	p.ctx = ctx

	p.pollAll()

	got := rec.byService()
	if len(got) != 3 {
		t.Fatalf("results = %d, want 3", len(got))
	}
	if s := got["spotify"]; s.Err != nil || !s.Status.Connected {
		t.Errorf("spotify = %+v", s)
	}
	if b := got["bluetooth"]; b.Err != nil || b.Status.Connected || b.Status.Status != "running" {
		t.Errorf("bluetooth = %+v", b)
	}
	if s := got["snapcast"]; s.Err == nil || s.Status != nil {
		t.Errorf("snapcast = %+v, want error", s)
	}

	if last := p.Last(); len(last) != 3 || last["spotify"].At.IsZero() {
		t.Errorf("Last() = %+v", last)
	}
}

func TestPoller_StartStop(t *testing.T) {
	server := statusServer(t, 0, nil, nil)
	client := newClient(t, server.URL, api.WithRetries(0, 0))

	var called atomic.Int32
	handler := StatusHandlerFunc(func(Result) error {
		called.Add(1)
		return nil
	})

	cfg := Config{
		Interval: 50 * time.Millisecond,
		Services: []string{"spotify"},
	}
	p := New(cfg, client, handler, nil)

	ctx := context.Background()
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Immediate poll plus at least one tick.
	time.Sleep(150 * time.Millisecond)

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	if err := p.Stop(stopCtx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if called.Load() < 2 {
		t.Errorf("handler called %d times, want >= 2", called.Load())
	}
}

func TestPoller_Concurrency(t *testing.T) {
	var inFlight, maxInFlight atomic.Int32
	server := statusServer(t, 30*time.Millisecond, &inFlight, &maxInFlight)
	client := newClient(t, server.URL, api.WithRetries(0, 0))

	var services []string
	for i := 0; i < 12; i++ {
		services = append(services, "svc-"+string(rune('a'+i)))
	}

	cfg := Config{
		Interval:    time.Hour,
		Services:    services,
		Concurrency: 3, // Limit to 3 concurrent.
		Timeout:     5 * time.Second,
	}
	p := New(cfg, client, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	p.ctx = ctx

	p.pollAll()

	if got := maxInFlight.Load(); got > 3 {
		t.Errorf("maxInFlight = %d, want <= 3", got)
	}
	if got := len(p.Last()); got != 12 {
		t.Errorf("Last() has %d services, want 12", got)
	}
}

func TestNew_Defaults(t *testing.T) {
	p := New(Config{}, nil, nil, nil)
	d := DefaultConfig()
	if p.cfg.Interval != d.Interval || p.cfg.Concurrency != d.Concurrency || p.cfg.Timeout != d.Timeout {
		t.Errorf("cfg = %+v, want defaults", p.cfg)
	}
}
