package password

import "errors"

var (
	// ErrMalformedHash is returned when a stored hash cannot be parsed.
	ErrMalformedHash = errors.New("password: malformed hash")
	// ErrUnsupportedAlgorithm is returned for hashes no configured hasher understands.
	ErrUnsupportedAlgorithm = errors.New("password: unsupported hash algorithm")
	// ErrInvalidParams is returned for hasher parameters below the safe minimum.
	ErrInvalidParams = errors.New("password: invalid hasher parameters")
	// ErrEmptyPassword is returned when hashing an empty password.
	ErrEmptyPassword = errors.New("password: empty password")
)
