package authority

import (
	"errors"
	"time"

	"github.com/mapvision/authority/internal/flows"
	"github.com/mapvision/authority/internal/validator"
)

// Code is the machine-readable outcome of an orchestrator operation.
type Code string

const (
	CodeOK                     Code = ""
	CodeValidation             Code = "VALIDATION_ERROR"
	CodeInvalidCredentials     Code = "INVALID_CREDENTIALS"
	CodeUserBlocked            Code = "USER_BLOCKED"
	CodeAccountDisabled        Code = "ACCOUNT_DISABLED"
	CodeEmailNotVerified       Code = "EMAIL_NOT_VERIFIED"
	CodeInternal               Code = "INTERNAL_ERROR"
	CodeEmailExists            Code = "EMAIL_EXISTS"
	CodeRateLimit              Code = "RATE_LIMIT"
	CodeInvalidToken           Code = "INVALID_TOKEN"
	CodeInvalidCurrentPassword Code = "INVALID_CURRENT_PASSWORD"
	CodeSamePassword           Code = "SAME_PASSWORD"
	CodeCannotDisableSelf      Code = "CANNOT_DISABLE_SELF"
	CodeUserNotFound           Code = "USER_NOT_FOUND"
	CodePermissionDenied       Code = "PERMISSION_DENIED"
)

// Result is the structured outcome every orchestrator operation returns.
// Storage and dependency details never appear in it.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Code    Code   `json:"code,omitempty"`
	// Fields carries per-field validation reasons.
	Fields map[string]string `json:"fields,omitempty"`

	// SessionToken is set by a successful Login only.
	SessionToken string       `json:"session_token,omitempty"`
	Account      *AccountView `json:"account,omitempty"`

	// BlockedUntil is set with USER_BLOCKED.
	BlockedUntil time.Time `json:"blocked_until,omitzero"`
	// RetryAfter is set with RATE_LIMIT.
	RetryAfter time.Duration `json:"retry_after,omitempty"`

	err error
}

// Err returns the sentinel behind a failed result, for errors.Is. It is nil
// on success.
func (r Result) Err() error {
	return r.err
}

func succeeded(message string) Result {
	return Result{Success: true, Message: message}
}

// ResultOf converts an error returned by a verification or read operation
// into the Result an orchestrator operation would have returned for it. A
// nil error yields a bare success.
func ResultOf(err error) Result {
	if err == nil {
		return succeeded("")
	}
	return failure(err)
}

var (
	msgInvalidCredentials = "Invalid email or password"
	msgInternal           = "An internal error occurred. Please try again later"
)

// failure converts a flow error into a Result. Unknown errors become
// INTERNAL_ERROR with a generic message.
func failure(err error) Result {
	r := Result{err: err}
	var fields validator.FieldErrors

	switch {
	case errors.As(err, &fields):
		r.Code, r.Message = CodeValidation, "Please correct the highlighted fields"
		r.Fields = map[string]string(fields)
	case errors.Is(err, ErrValidation):
		r.Code, r.Message = CodeValidation, validationMessage(err)
	case errors.Is(err, ErrInvalidCredentials):
		r.Code, r.Message = CodeInvalidCredentials, msgInvalidCredentials
	case errors.Is(err, ErrAccountLocked):
		r.Code, r.Message = CodeUserBlocked, "Account temporarily locked after too many failed attempts"
		if until, ok := flows.LockedUntil(err); ok {
			r.BlockedUntil = until
		}
	case errors.Is(err, ErrAccountDisabled):
		r.Code, r.Message = CodeAccountDisabled, "Account disabled. Contact the administrator"
	case errors.Is(err, ErrAccountUnverified):
		r.Code, r.Message = CodeEmailNotVerified, "Please verify your email before signing in"
	case errors.Is(err, ErrAccountExists):
		r.Code, r.Message = CodeEmailExists, "An account with this email already exists"
	case errors.Is(err, ErrRateLimited):
		r.Code, r.Message = CodeRateLimit, "Too many requests. Please try again later"
		if after, ok := flows.RetryAfter(err); ok {
			r.RetryAfter = after
		}
	case errors.Is(err, ErrInvalidToken):
		r.Code, r.Message = CodeInvalidToken, "Invalid or expired token"
	case errors.Is(err, ErrInvalidCurrentPassword):
		r.Code, r.Message = CodeInvalidCurrentPassword, "Current password is incorrect"
	case errors.Is(err, ErrPasswordReuse):
		r.Code, r.Message = CodeSamePassword, "The new password must be different from the current one"
	case errors.Is(err, ErrCannotDisableSelf):
		r.Code, r.Message = CodeCannotDisableSelf, "You cannot disable your own account"
	case errors.Is(err, ErrUserNotFound):
		r.Code, r.Message = CodeUserNotFound, "User not found"
	case errors.Is(err, ErrPermissionDenied):
		r.Code, r.Message = CodePermissionDenied, "Permission denied"
	default:
		r.Code, r.Message = CodeInternal, msgInternal
	}
	return r
}

// validationMessage returns the reason wrapped next to ErrValidation, which
// is safe to show.
func validationMessage(err error) string {
	if multi, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range multi.Unwrap() {
			if e != ErrValidation {
				return e.Error()
			}
		}
	}
	return err.Error()
}
