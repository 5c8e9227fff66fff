package writer

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS channel_state (
	channel    TEXT    NOT NULL,
	type       TEXT    NOT NULL,
	payload    TEXT    NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (channel, type)
)`

// SQLiteStore keeps channel state in a local SQLite file. Timestamps are
// stored as Unix microseconds.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps an open database (see database.OpenSQLite).
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("create channel_state: %w", err)
	}
	return nil
}

// Upsert writes rows in one transaction.
func (s *SQLiteStore) Upsert(ctx context.Context, rows []Record) (stale int, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO channel_state (channel, type, payload, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (channel, type) DO UPDATE
		SET payload = excluded.payload, updated_at = excluded.updated_at
		WHERE channel_state.updated_at <= excluded.updated_at
	`)
	if err != nil {
		return 0, fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		res, err := stmt.ExecContext(ctx, r.Channel, r.Type, string(r.Payload), r.UpdatedAt.UnixMicro())
		if err != nil {
			return 0, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		if n == 0 {
			stale++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return stale, nil
}

func (s *SQLiteStore) Latest(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT channel, type, payload, updated_at
		FROM channel_state
		ORDER BY channel, type
	`)
	if err != nil {
		return nil, fmt.Errorf("query channel_state: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var payload string
		var micros int64
		if err := rows.Scan(&r.Channel, &r.Type, &payload, &micros); err != nil {
			return nil, fmt.Errorf("scan channel_state: %w", err)
		}
		r.Payload = []byte(payload)
		r.UpdatedAt = time.UnixMicro(micros).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
