// Package httpapi serves the authority engine as a JSON API over chi.
//
// Public routes cover registration, login, logout, email verification and
// password reset. /session, /sessions and /password/change need a session
// presented as the mv_session cookie or a Bearer token. Routes under /admin
// additionally need the Administrator role and act on behalf of the caller.
//
// Every orchestrator response has the shape
//
//	{"success": bool, "message": string, "code": string, ...}
//
// and its HTTP status follows the code: VALIDATION_ERROR is 400, USER_BLOCKED
// is 423, RATE_LIMIT is 429 with Retry-After, and so on. Reads answer
// {"success": true, "data": ...}.
package httpapi
