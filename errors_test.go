package authority

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/mapvision/authority/internal/flows"
	"github.com/mapvision/authority/internal/validator"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorKind
	}{
		{nil, KindNone},
		{ErrValidation, KindValidation},
		{validator.FieldErrors{"email": "required"}, KindValidation},
		{ErrAccountExists, KindValidation},
		{ErrInvalidCredentials, KindAuthentication},
		{ErrPasswordReuse, KindAuthentication},
		{fmt.Errorf("wrapped: %w", ErrAccountLocked), KindAuthorization},
		{ErrPermissionDenied, KindAuthorization},
		{ErrUserNotFound, KindAuthorization},
		{&flows.RateLimitError{Err: ErrRateLimited, RetryAfter: time.Minute}, KindRateLimit},
		{ErrInvalidToken, KindToken},
		{ErrStorage, KindStorage},
		{errors.New("boom"), KindDependency},
	}
	for _, tc := range tests {
		if got := KindOf(tc.err); got != tc.want {
			t.Fatalf("KindOf(%v) = %s, want %s", tc.err, got, tc.want)
		}
	}
}

func TestFailureMapping(t *testing.T) {
	until := time.Date(2026, 5, 1, 12, 15, 0, 0, time.UTC)

	locked := failure(&flows.LockedError{Err: ErrAccountLocked, Until: until})
	if locked.Code != CodeUserBlocked || !locked.BlockedUntil.Equal(until) {
		t.Fatalf("unexpected locked result: %+v", locked)
	}

	limited := failure(&flows.RateLimitError{Err: ErrRateLimited, RetryAfter: 90 * time.Second})
	if limited.Code != CodeRateLimit || limited.RetryAfter != 90*time.Second {
		t.Fatalf("unexpected rate limit result: %+v", limited)
	}

	v := failure(fmt.Errorf("%w: %w", ErrValidation, errors.New("email is required")))
	if v.Code != CodeValidation || v.Message != "email is required" {
		t.Fatalf("unexpected validation result: %+v", v)
	}

	internal := failure(fmt.Errorf("%w: disk full", ErrStorage))
	if internal.Code != CodeInternal || internal.Message != msgInternal {
		t.Fatalf("storage details leaked: %+v", internal)
	}
	if !errors.Is(internal.Err(), ErrStorage) {
		t.Fatal("Err must expose the sentinel")
	}
	if internal.Success {
		t.Fatal("failure must not succeed")
	}
}

func TestAuditErrorCode(t *testing.T) {
	if got := auditErrorCode(nil); got != "" {
		t.Fatalf("expected empty code, got %q", got)
	}
	if got := auditErrorCode(fmt.Errorf("%w: smtp", errNotification)); got != auditErrNotification {
		t.Fatalf("expected %q, got %q", auditErrNotification, got)
	}
	if got := auditErrorCode(errors.New("other")); got != auditErrInternal {
		t.Fatalf("expected %q, got %q", auditErrInternal, got)
	}
}

func TestRoleOrdering(t *testing.T) {
	order := []Role{RoleTrial, RolePersonal, RoleEmpresa, RoleAdministrator}
	for i, r := range order {
		for j, min := range order {
			if got, want := r.AtLeast(min), i >= j; got != want {
				t.Fatalf("%s.AtLeast(%s) = %v, want %v", r, min, got, want)
			}
		}
	}
	if RoleUnknown.AtLeast(RoleUnknown) {
		t.Fatal("unknown role must grant nothing")
	}

	r, err := ParseRole(" empresa ")
	if err != nil || r != RoleEmpresa {
		t.Fatalf("ParseRole = %v, %v", r, err)
	}
	if _, err := ParseRole("root"); !errors.Is(err, ErrUnknownRole) {
		t.Fatalf("expected ErrUnknownRole, got %v", err)
	}
	if !isAdministrator("ADMINISTRATOR") || isAdministrator("Empresa") {
		t.Fatal("administrator gate misclassified")
	}
}

func TestResultOf(t *testing.T) {
	if res := ResultOf(nil); !res.Success || res.Code != CodeOK {
		t.Fatalf("expected bare success, got %+v", res)
	}
	res := ResultOf(ErrPermissionDenied)
	if res.Success || res.Code != CodePermissionDenied {
		t.Fatalf("expected PERMISSION_DENIED, got %+v", res)
	}
	if !errors.Is(res.Err(), ErrPermissionDenied) {
		t.Fatalf("expected Err to expose the sentinel, got %v", res.Err())
	}
	if res := ResultOf(fmt.Errorf("%w: disk gone", ErrStorage)); res.Code != CodeInternal || strings.Contains(res.Message, "disk") {
		t.Fatalf("storage detail leaked or wrong code: %+v", res)
	}
}
