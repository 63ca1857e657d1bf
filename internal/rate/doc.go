// Package rate provides sliding-window counting primitives used to throttle
// security-sensitive authentication workflows.
//
// # Window semantics
//
// Every [Window] answers one question atomically: given key, limit and
// window, have fewer than limit events been recorded in the trailing window?
// When they have, the current event is recorded and the call is allowed.
// Denied calls are never recorded, so a throttled client cannot extend its
// own penalty. A denied [Decision] carries the time until the oldest counted
// event leaves the window.
//
// Backings:
//   - [MemoryWindow]: per-process timestamps behind a mutex.
//   - [RedisWindow]: a sorted set per key, trimmed and counted by one Lua
//     script, shared by every process pointing at the same Redis.
//   - [LogWindow]: durable counting over access-log rows. It only checks;
//     the caller's own log row is the record.
//
// # What this package must NOT do
//
//   - Implement domain-specific policies (those live in internal/limiters).
//   - Be imported outside the authority module.
package rate
