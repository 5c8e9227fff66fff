package writer

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS channel_state (
	instance_id TEXT        NOT NULL,
	channel     TEXT        NOT NULL,
	type        TEXT        NOT NULL,
	payload     JSONB       NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (instance_id, channel, type)
)`

// PostgresStore keeps channel state in PostgreSQL, one row per
// (instance, channel, type) so several panels can share a database.
type PostgresStore struct {
	db         *pgxpool.Pool
	instanceID string
}

// NewPostgresStore creates a store writing rows tagged with instanceID.
func NewPostgresStore(db *pgxpool.Pool, instanceID string) *PostgresStore {
	return &PostgresStore{db: db, instanceID: instanceID}
}

func (s *PostgresStore) Init(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("create channel_state: %w", err)
	}
	return nil
}

// Upsert writes rows using pgx.Batch. A row is skipped when the stored
// updated_at is newer.
func (s *PostgresStore) Upsert(ctx context.Context, rows []Record) (stale int, err error) {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(`
			INSERT INTO channel_state (instance_id, channel, type, payload, updated_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (instance_id, channel, type) DO UPDATE
			SET payload = EXCLUDED.payload, updated_at = EXCLUDED.updated_at
			WHERE channel_state.updated_at <= EXCLUDED.updated_at
		`, s.instanceID, r.Channel, r.Type, string(r.Payload), r.UpdatedAt)
	}

	results := s.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			stale++
		}
	}

	return stale, nil
}

func (s *PostgresStore) Latest(ctx context.Context) ([]Record, error) {
	rows, err := s.db.Query(ctx, `
		SELECT channel, type, payload, updated_at
		FROM channel_state
		WHERE instance_id = $1
		ORDER BY channel, type
	`, s.instanceID)
	if err != nil {
		return nil, fmt.Errorf("query channel_state: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var payload []byte
		if err := rows.Scan(&r.Channel, &r.Type, &payload, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan channel_state: %w", err)
		}
		r.Payload = payload
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close closes the pool.
func (s *PostgresStore) Close() error {
	s.db.Close()
	return nil
}
