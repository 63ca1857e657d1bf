// Package session is the session authority: it issues opaque session tokens,
// verifies them against the record store, slides their expiry, and closes
// them while folding connected time into per-account statistics.
//
// # Lifecycle
//
// A session is ACTIVE from [Authority.Create] until it is either closed
// ([Authority.Destroy], [Authority.DestroyAll]) or swept after expiry
// ([Authority.CleanupExpired]). Nothing reopens a closed or expired row, so a
// token that stopped authenticating never authenticates again.
//
// Tokens are 32 random bytes, hex encoded. The row is keyed by the token; a
// separate UUID identifies the session in logs and admin views so the token
// itself never leaves the request path.
//
// # Origin binding
//
// Each session remembers the address it was created from. By default a
// request from another subnet (/24 for IPv4, /64 for IPv6) is logged and
// reported to an optional observer but still authenticates. With
// StrictIPBinding any address change destroys the session.
//
// # Architecture boundaries
//
// This package owns the sessions table. It reads accounts only to build the
// [AccountView] and writes them only to refresh last activity. Statistics are
// folded through an injected [StatsFolder] so this package never depends on
// the statistics schema.
//
// # What this package must NOT do
//
//   - Import the root authority package.
//   - Log full session tokens.
//   - Decide authorization beyond "this token is a live session of an active account".
package session
