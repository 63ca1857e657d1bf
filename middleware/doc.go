// Package middleware adapts HTTP requests to the authority engine.
//
// # Handlers
//
//   - [Origin] puts the client address and User-Agent on the request context.
//   - [RequireSession] verifies the session cookie or Bearer token and puts
//     the account on the context.
//   - [RequireRole] gates a route on the role hierarchy.
//
// # What this package must NOT do
//
//   - Decide whether a session is valid. That is Engine.VerifySession.
//   - Log or echo session tokens.
package middleware
