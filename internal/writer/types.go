package writer

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Errors
var (
	ErrWriterStopped = errors.New("state writer stopped")
	ErrUnknownStore  = errors.New("unknown state store driver")
)

// WriterConfig holds batching settings.
type WriterConfig struct {
	BatchSize     int           // Flush once this many distinct keys are pending
	FlushInterval time.Duration // Flush at least this often
	BufferSize    int           // Max queued updates before the oldest is dropped
}

// DefaultWriterConfig returns the default batching settings.
func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		BatchSize:     100,
		FlushInterval: time.Second,
		BufferSize:    1000,
	}
}

// WriterMetrics tracks writer statistics.
type WriterMetrics struct {
	Upserts int64 // Rows written
	Stale   int64 // Rows skipped because the store held something newer
	Flushes int64
	Errors  int64
	Dropped int64 // Updates evicted from a full input buffer
}

// Record is the latest payload seen for one (channel, type).
type Record struct {
	Channel   string          `json:"channel"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type recordKey struct {
	channel string
	typ     string
}

func (r Record) key() recordKey {
	return recordKey{channel: r.Channel, typ: r.Type}
}

// Store persists records.
type Store interface {
	// Init creates the schema if needed.
	Init(ctx context.Context) error

	// Upsert writes rows, skipping any older than what is stored.
	// Returns the number of skipped rows.
	Upsert(ctx context.Context, rows []Record) (stale int, err error)

	// Latest returns every stored record ordered by channel then type.
	Latest(ctx context.Context) ([]Record, error)

	Close() error
}
