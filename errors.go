package authority

import (
	"errors"

	"github.com/mapvision/authority/internal/validator"
)

var (
	// ErrEngineNotReady is returned by an Engine that was not built through [Builder.Build] or has been closed.
	ErrEngineNotReady = errors.New("authority engine not initialized")
	// ErrValidation wraps input that failed validation. Field details are in [validator.FieldErrors].
	ErrValidation = errors.New("validation failed")
	// ErrInvalidCredentials covers unknown accounts and wrong passwords alike.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountLocked is returned while an account's lock has not expired.
	ErrAccountLocked = errors.New("account locked")
	// ErrAccountDisabled is returned for accounts an administrator deactivated.
	ErrAccountDisabled = errors.New("account disabled")
	// ErrAccountUnverified is returned at login when the email is unverified and verification is required.
	ErrAccountUnverified = errors.New("email not verified")
	// ErrAccountExists is returned when registering an email that already has an account.
	ErrAccountExists = errors.New("account already exists")
	// ErrUserNotFound is returned by administrative operations on an unknown account.
	ErrUserNotFound = errors.New("user not found")
	// ErrRateLimited is returned when a throttle denies the request.
	ErrRateLimited = errors.New("rate limited")
	// ErrInvalidToken covers malformed, unknown, used and expired tokens and sessions.
	ErrInvalidToken = errors.New("invalid or expired token")
	// ErrInvalidCurrentPassword is returned by ChangePassword when the current password does not match.
	ErrInvalidCurrentPassword = errors.New("current password is incorrect")
	// ErrPasswordReuse is returned when the new password equals the current one.
	ErrPasswordReuse = errors.New("new password must be different from current password")
	// ErrCannotDisableSelf is returned when an administrator tries to disable their own account.
	ErrCannotDisableSelf = errors.New("cannot disable own account")
	// ErrPermissionDenied is returned when the acting account may not perform an administrative operation.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrStorage wraps record store failures. Details are logged, never returned.
	ErrStorage = errors.New("storage failure")
	// ErrDependency wraps failures of hashing, the limiter backend and other collaborators.
	ErrDependency = errors.New("dependency failure")
)

// ErrorKind is the coarse error taxonomy shared by every operation.
type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindValidation
	KindAuthentication
	KindAuthorization
	KindRateLimit
	KindToken
	KindStorage
	KindDependency
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthentication:
		return "authentication"
	case KindAuthorization:
		return "authorization"
	case KindRateLimit:
		return "rate_limit"
	case KindToken:
		return "token"
	case KindStorage:
		return "storage"
	case KindDependency:
		return "dependency"
	default:
		return "none"
	}
}

// KindOf classifies err. Unknown errors are treated as dependency failures.
func KindOf(err error) ErrorKind {
	var fields validator.FieldErrors
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrValidation), errors.As(err, &fields), errors.Is(err, ErrAccountExists):
		return KindValidation
	case errors.Is(err, ErrInvalidCredentials),
		errors.Is(err, ErrInvalidCurrentPassword),
		errors.Is(err, ErrPasswordReuse):
		return KindAuthentication
	// Blocked, disabled and unverified accounts get a specific reason.
	case errors.Is(err, ErrAccountLocked),
		errors.Is(err, ErrAccountDisabled),
		errors.Is(err, ErrAccountUnverified),
		errors.Is(err, ErrPermissionDenied),
		errors.Is(err, ErrCannotDisableSelf),
		errors.Is(err, ErrUserNotFound):
		return KindAuthorization
	case errors.Is(err, ErrRateLimited):
		return KindRateLimit
	case errors.Is(err, ErrInvalidToken):
		return KindToken
	case errors.Is(err, ErrStorage):
		return KindStorage
	default:
		return KindDependency
	}
}
