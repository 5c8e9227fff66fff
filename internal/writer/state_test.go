package writer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rickgao/audiopanel/internal/config"
	"github.com/rickgao/audiopanel/internal/envelope"
)

// flakyStore fails the first n upserts, then delegates to a MemoryStore.
type flakyStore struct {
	*MemoryStore
	mu    sync.Mutex
	fails int
	calls int
}

func (s *flakyStore) Upsert(ctx context.Context, rows []Record) (int, error) {
	s.mu.Lock()
	s.calls++
	if s.fails > 0 {
		s.fails--
		s.mu.Unlock()
		return 0, errors.New("database unavailable")
	}
	s.mu.Unlock()
	return s.MemoryStore.Upsert(ctx, rows)
}

func decode(t *testing.T, raw string) envelope.Frame {
	t.Helper()
	f, err := envelope.Decode([]byte(raw))
	if err != nil {
		t.Fatalf("decode %s: %v", raw, err)
	}
	return f
}

func TestStateWriter_Observe(t *testing.T) {
	w := NewStateWriter(DefaultWriterConfig(), NewMemoryStore(), nil)

	if err := w.Observe(decode(t, `{"channel":"volume","type":"volume_status","volume":42}`)); err != nil {
		t.Fatalf("Observe() error = %v", err)
	}
	if err := w.Observe(decode(t, `{"channel":"volume","volume":43}`)); err != nil {
		t.Fatalf("Observe() error = %v", err)
	}

	if got := w.input.Len(); got != 1 {
		t.Fatalf("queued = %d, want 1 (untyped frames ignored)", got)
	}

	queued := w.input.DrainTo(1)
	if len(queued) != 1 {
		t.Fatal("nothing queued")
	}
	rec := queued[0]
	if rec.Channel != "volume" || rec.Type != "volume_status" {
		t.Errorf("record key = %s/%s, want volume/volume_status", rec.Channel, rec.Type)
	}
	if string(rec.Payload) != `{"type":"volume_status","volume":42}` {
		t.Errorf("payload = %s", rec.Payload)
	}
}

func TestStateWriter_HandlerUntaggedIsGlobal(t *testing.T) {
	w := NewStateWriter(DefaultWriterConfig(), NewMemoryStore(), nil)
	h := w.Handler()

	if err := h(json.RawMessage(`{"type":"notice","text":"hi"}`)); err != nil {
		t.Fatalf("handler error = %v", err)
	}
	if err := h(json.RawMessage(`not json`)); err == nil {
		t.Error("expected error for malformed frame")
	}

	queued := w.input.DrainTo(1)
	if len(queued) != 1 {
		t.Fatal("nothing queued")
	}
	rec := queued[0]
	if rec.Channel != envelope.GlobalChannel {
		t.Errorf("Channel = %q, want %q", rec.Channel, envelope.GlobalChannel)
	}
}

func TestStateWriter_CoalescesPerKey(t *testing.T) {
	cfg := WriterConfig{
		BatchSize:     100, // Large batch so no auto-flush
		FlushInterval: time.Hour,
	}
	w := NewStateWriter(cfg, NewMemoryStore(), nil)

	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, vol := range []int{10, 20, 30} {
		w.handleRecord(Record{
			Channel:   "volume",
			Type:      "volume_status",
			Payload:   json.RawMessage(fmt.Sprintf(`{"volume":%d}`, vol)),
			UpdatedAt: base.Add(time.Duration(i) * time.Second),
		})
	}
	w.handleRecord(Record{Channel: "audio", Type: "audio_state_change", Payload: json.RawMessage(`{}`), UpdatedAt: base})

	w.batchMu.Lock()
	batchLen := len(w.batch)
	w.batchMu.Unlock()
	if batchLen != 2 {
		t.Fatalf("batch length = %d, want 2", batchLen)
	}

	w.flush(context.Background())

	latest, err := w.Latest(context.Background())
	if err != nil {
		t.Fatalf("Latest() error = %v", err)
	}
	if len(latest) != 2 {
		t.Fatalf("Latest() returned %d records, want 2", len(latest))
	}
	if latest[0].Channel != "audio" || latest[1].Channel != "volume" {
		t.Errorf("records not ordered by channel: %+v", latest)
	}
	if string(latest[1].Payload) != `{"volume":30}` {
		t.Errorf("volume payload = %s, want newest", latest[1].Payload)
	}

	stats := w.Stats()
	if stats.Upserts != 2 || stats.Flushes != 1 {
		t.Errorf("stats = %+v, want 2 upserts in 1 flush", stats)
	}
}

func TestStateWriter_FlushOnBatchSize(t *testing.T) {
	cfg := WriterConfig{BatchSize: 2, FlushInterval: time.Hour}
	store := NewMemoryStore()
	w := NewStateWriter(cfg, store, nil)

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer w.Stop(context.Background())

	w.Observe(decode(t, `{"channel":"volume","type":"volume_status","volume":1}`))
	w.Observe(decode(t, `{"channel":"audio","type":"audio_state_change","current_source":"spotify"}`))

	deadline := time.Now().Add(2 * time.Second)
	for w.Stats().Flushes == 0 {
		if time.Now().After(deadline) {
			t.Fatal("batch was not flushed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	latest, _ := store.Latest(context.Background())
	if len(latest) != 2 {
		t.Errorf("store holds %d records, want 2", len(latest))
	}
}

func TestStateWriter_StopFlushesPending(t *testing.T) {
	cfg := WriterConfig{BatchSize: 100, FlushInterval: time.Hour}
	store := NewMemoryStore()
	w := NewStateWriter(cfg, store, nil)

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	w.Observe(decode(t, `{"channel":"spotify","type":"playback_status","is_playing":true}`))

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := w.Stop(stopCtx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	latest, _ := store.Latest(context.Background())
	if len(latest) != 1 || latest[0].Type != "playback_status" {
		t.Errorf("latest = %+v, want the playback_status record", latest)
	}

	if err := w.Observe(decode(t, `{"channel":"spotify","type":"x"}`)); !errors.Is(err, ErrWriterStopped) {
		t.Errorf("Observe after Stop = %v, want ErrWriterStopped", err)
	}
}

func TestStateWriter_RetriesFailedFlush(t *testing.T) {
	cfg := WriterConfig{BatchSize: 100, FlushInterval: time.Hour}
	store := &flakyStore{MemoryStore: NewMemoryStore(), fails: 1}
	w := NewStateWriter(cfg, store, nil)

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	w.handleRecord(Record{Channel: "volume", Type: "volume_status", Payload: json.RawMessage(`{"volume":1}`), UpdatedAt: now})
	w.flush(context.Background())

	if got := w.Stats().Errors; got != 1 {
		t.Fatalf("Errors = %d, want 1", got)
	}

	// A newer value arriving before the retry wins.
	w.handleRecord(Record{Channel: "volume", Type: "volume_status", Payload: json.RawMessage(`{"volume":2}`), UpdatedAt: now.Add(time.Second)})
	w.flush(context.Background())

	latest, _ := store.Latest(context.Background())
	if len(latest) != 1 || string(latest[0].Payload) != `{"volume":2}` {
		t.Errorf("latest = %+v, want volume 2", latest)
	}
	if store.calls != 2 {
		t.Errorf("upsert calls = %d, want 2", store.calls)
	}
}

func TestStateWriter_DropsOldestWhenFull(t *testing.T) {
	cfg := WriterConfig{BatchSize: 100, FlushInterval: time.Hour, BufferSize: 2}
	w := NewStateWriter(cfg, NewMemoryStore(), nil)

	for i := 0; i < 5; i++ {
		w.Observe(decode(t, `{"channel":"volume","type":"volume_status"}`))
	}

	if got := w.Stats().Dropped; got != 3 {
		t.Errorf("Dropped = %d, want 3", got)
	}
}

func TestMemoryStore_SkipsOlder(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	s.Upsert(ctx, []Record{{Channel: "a", Type: "t", Payload: json.RawMessage(`{"v":2}`), UpdatedAt: now}})
	stale, err := s.Upsert(ctx, []Record{{Channel: "a", Type: "t", Payload: json.RawMessage(`{"v":1}`), UpdatedAt: now.Add(-time.Second)}})
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if stale != 1 {
		t.Errorf("stale = %d, want 1", stale)
	}

	latest, _ := s.Latest(ctx)
	if string(latest[0].Payload) != `{"v":2}` {
		t.Errorf("payload = %s, want newer value kept", latest[0].Payload)
	}
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()

	s, err := OpenStore(ctx, config.StateConfig{Driver: "none"}, "test")
	if err != nil {
		t.Fatalf("OpenStore(none) error = %v", err)
	}
	if _, ok := s.(*MemoryStore); !ok {
		t.Errorf("OpenStore(none) = %T, want *MemoryStore", s)
	}

	if _, err := OpenStore(ctx, config.StateConfig{Driver: "redis"}, "test"); !errors.Is(err, ErrUnknownStore) {
		t.Errorf("OpenStore(redis) error = %v, want ErrUnknownStore", err)
	}
}
