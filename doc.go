// Package authority is the identity and session authority of the MapVision
// analytics platform: account registration with email verification, login
// with lockout, opaque server-side sessions bound to the client network,
// password reset and change, tiered roles and an administrative read surface
// over accounts, sessions and the access log.
//
// Build an [Engine] with [New] and [Builder.Build] over a migrated
// [store.DB]. Engine methods are safe to call from multiple goroutines.
// Orchestrator operations return a [Result] whose Code is stable and whose
// Message is safe to show to the end user; verification and read operations
// return plain errors classified by [KindOf].
//
// # Architecture boundaries
//
// authority is the public surface. It exposes [Engine], [Builder], [Config],
// [Result] and value aliases (AccountView, Session, AccountStatus, etc.).
// Flow orchestration, repositories, throttling and audit dispatch live
// under internal/ and are never exported. The session, password, notify and
// store packages are usable on their own.
//
// # What this package must NOT do
//
//   - Return session or single-use tokens anywhere except Login's result and
//     outbound notifications.
//   - Reveal whether an email is registered through password reset or
//     verification resend.
//   - Expose record-store or transport error text in a Result.
//   - Import any sub-package that re-imports authority (no import cycles).
//
// # Request context
//
// Callers attach the client address and user agent with [WithClientIP] and
// [WithUserAgent]. They drive session binding, per-address throttling and
// the access log.
package authority
