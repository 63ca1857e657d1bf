package stores

import "errors"

var (
	// ErrAccountNotFound is returned when no account matches the email.
	ErrAccountNotFound = errors.New("account not found")
	// ErrAccountExists is returned by Insert on a duplicate email.
	ErrAccountExists = errors.New("account already exists")
	// ErrTokenInvalid covers unknown, expired, already-used and wrong-type tokens.
	ErrTokenInvalid = errors.New("token invalid or expired")
	// ErrStore wraps every underlying database failure.
	ErrStore = errors.New("record store failure")
)
