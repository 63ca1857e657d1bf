package validator

import (
	"errors"
	"sort"
	"strings"
)

var (
	ErrEmailRequired       = errors.New("email is required")
	ErrEmailInvalid        = errors.New("email format is invalid")
	ErrEmailTooLong        = errors.New("email is too long")
	ErrEmailDomainBlocked  = errors.New("disposable email domains are not allowed")
	ErrEmailDomainNoMail   = errors.New("email domain does not accept mail")
	ErrPasswordRequired    = errors.New("password is required")
	ErrPasswordTooShort    = errors.New("password is too short")
	ErrPasswordTooLong     = errors.New("password is too long")
	ErrPasswordOnlyLetters = errors.New("password must not contain only letters")
	ErrPasswordOnlyDigits  = errors.New("password must not contain only digits")
	ErrPasswordCommon      = errors.New("password is too common")
	ErrPasswordComplexity  = errors.New("password must contain upper case, lower case and digits")
	ErrNameRequired        = errors.New("name is required")
	ErrNameLength          = errors.New("name length is out of range")
	ErrNameCharacters      = errors.New("name contains invalid characters")
	ErrCompanyInvalid      = errors.New("company contains invalid characters")
	ErrCompanyTooLong      = errors.New("company is too long")
	ErrPhoneInvalid        = errors.New("phone number format is invalid")
	ErrRoleInvalid         = errors.New("role is not selectable")
	ErrTokenInvalid        = errors.New("token format is invalid")
)

// FieldErrors maps input field names to human-readable messages.
type FieldErrors map[string]string

// Error implements error with a stable, field-sorted rendering.
func (f FieldErrors) Error() string {
	if len(f) == 0 {
		return "validation failed"
	}
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+f[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (f FieldErrors) add(field string, err error) {
	if err == nil {
		return
	}
	if _, exists := f[field]; exists {
		return
	}
	f[field] = err.Error()
}

func (f FieldErrors) orNil() error {
	if len(f) == 0 {
		return nil
	}
	return f
}
