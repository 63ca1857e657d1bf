// Package password implements password hashing and verification.
//
// # Schemes
//
//   - [Bcrypt] (default, cost 12): $2y$/$2a$/$2b$ strings, compatible with
//     hashes produced by other bcrypt implementations.
//   - [Argon2]: Argon2id in PHC string format
//     $argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>.
//
// A [Chain] writes with one scheme and verifies any configured scheme by hash
// prefix. [Chain.NeedsUpgrade] reports true for hashes from another scheme or
// with weaker parameters, so callers can re-hash on the next successful login.
//
// # Architecture boundaries
//
// This package owns hashing and verification only. Password policy (length,
// character classes, common-password list) lives in internal/validator.
//
// # What this package must NOT do
//
//   - Store or retrieve passwords; callers supply plaintext and receive hashes.
//   - Import any other authority package.
//   - Log plaintext passwords or hash parameters at runtime.
package password
