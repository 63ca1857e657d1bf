// Package store is the record-store handle shared by every component of the
// authority: a database/sql pool plus the dialect it speaks, transactions and
// embedded schema migrations.
//
// # Dialects
//
//   - SQLite through modernc.org/sqlite (driver "sqlite"), the default and the
//     engine used by tests.
//   - PostgreSQL through github.com/jackc/pgx/v5/stdlib (driver "pgx").
//
// Queries are written once with '?' placeholders; [Rebind] rewrites them for
// dialects that use numbered parameters. Timestamps are stored as Unix
// milliseconds and booleans as 0/1 integers so a single query set serves both.
//
// # Architecture boundaries
//
// This package owns connection management and the transactional boundary. It
// does NOT know about accounts, sessions or tokens; repositories live in
// internal/stores and the session package and accept a [Queryer].
//
// # What this package must NOT do
//
//   - Import the root authority package or any internal package.
//   - Branch on dialect outside of Rebind and migration selection.
package store
