// Package database opens the stores that hold last-known panel state.
//
// Two backends are supported:
//   - PostgreSQL via a pgx connection pool, for panels sharing one server
//   - SQLite via database/sql and go-sqlite3, for a single panel's local disk
//
// Schema creation lives with the writer that owns each table.
package database
