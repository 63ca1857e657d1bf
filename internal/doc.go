// Package internal contains helper utilities that are intentionally private to
// the authority module: secure token generation and network address helpers.
//
// # Sub-packages
//
//   - audit: async event dispatch to pluggable sinks
//   - flows: pure-function orchestrators for every Engine use case
//   - limiters: per-action throttle policies (registration, reset, admin)
//   - rate: sliding-window counter primitives (memory, Redis, access log)
//   - stores: SQL repositories for accounts, tokens, access log and statistics
//   - validator: credential validation and input sanitization
//
// # What this package must NOT do
//
//   - Export types that appear in the public authority API.
//   - Be imported by any package outside the authority module.
package internal
