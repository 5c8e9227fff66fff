// Package writer persists the last-known state of every channel.
//
// StateWriter subscribes to the global channel, coalesces updates per
// (channel, type) in memory, and upserts them in batches to a Store:
//   - PostgresStore (pgx batch upserts into channel_state)
//   - SQLiteStore (go-sqlite3, one transaction per batch)
//   - MemoryStore (nothing persisted; used when state.driver is none)
//
// Upserts never move a row backwards in time, so a late flush of an older
// value cannot overwrite a newer one.
package writer
