// Package stores provides the SQL repositories behind the authority:
// accounts, single-use tokens, the durable access log and per-account usage
// statistics.
//
// # Design
//
// Each repository is a thin struct over a [store.Queryer], so the same code
// runs against the pool or inside a transaction opened with store.DB.WithTx.
// Every state change that must be race-free is a single conditional
// statement: failed-attempt counting is one UPDATE ... RETURNING, token
// consumption is one UPDATE guarded by used = 0 and expiry, and statistics
// use INSERT ... ON CONFLICT upserts. Timestamps are passed in by callers so
// repositories never read a clock.
//
// # Architecture boundaries
//
// This package owns persistence of identity records. It does NOT hash
// passwords, validate input, enforce rate limits or decide outcomes; those
// responsibilities belong to the flow functions in internal/flows.
//
// # What this package must NOT do
//
//   - Import the root authority package or internal/flows.
//   - Log or return plaintext passwords.
//   - Read the wall clock.
package stores
