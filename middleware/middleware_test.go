package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mapvision/authority"
)

type fakeVerifier map[string]*authority.AccountView

func (f fakeVerifier) VerifySession(_ context.Context, token string) (*authority.AccountView, error) {
	if v, ok := f[token]; ok {
		return v, nil
	}
	return nil, authority.ErrInvalidToken
}

func okHandler(t *testing.T, wantEmail string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		view, ok := AccountFromContext(r.Context())
		if !ok || view.Email != wantEmail {
			t.Fatalf("account not on context: %+v", view)
		}
		if _, ok := TokenFromContext(r.Context()); !ok {
			t.Fatal("token not on context")
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestRequireSessionAcceptsCookieAndBearer(t *testing.T) {
	v := fakeVerifier{"good": {Email: "ana@example.com", Role: "Personal"}}
	h := RequireSession(v)(okHandler(t, "ana@example.com"))

	req := httptest.NewRequest(http.MethodGet, "/session", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: "good"})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("cookie: expected 204, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/session", nil)
	req.Header.Set("Authorization", "Bearer good")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("bearer: expected 204, got %d", rec.Code)
	}
}

func TestRequireSessionRejectsAndClearsCookie(t *testing.T) {
	h := RequireSession(fakeVerifier{})(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run")
	}))

	req := httptest.NewRequest(http.MethodGet, "/session", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: "stale"})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if got := rec.Header().Get("Set-Cookie"); !strings.Contains(got, CookieName+"=") || !strings.Contains(got, "Max-Age=0") {
		t.Fatalf("expected cookie to be cleared, got %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/session", nil)
	req.Header.Set("Authorization", "Basic abc")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a token, got %d", rec.Code)
	}
}

func TestRequireRole(t *testing.T) {
	tests := []struct {
		role string
		want int
	}{
		{"Administrator", http.StatusNoContent},
		{"Empresa", http.StatusForbidden},
		{"bogus", http.StatusForbidden},
	}
	for _, tc := range tests {
		v := fakeVerifier{"t": {Email: "x@example.com", Role: tc.role}}
		h := RequireSession(v)(RequireRole(authority.RoleAdministrator)(okHandler(t, "x@example.com")))

		req := httptest.NewRequest(http.MethodGet, "/admin", nil)
		req.Header.Set("Authorization", "Bearer t")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != tc.want {
			t.Fatalf("role %q: expected %d, got %d", tc.role, tc.want, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	RequireRole(authority.RoleTrial)(okHandler(t, "")).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a session, got %d", rec.Code)
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:5555"
	req.Header.Set("X-Forwarded-For", "not-an-ip, 203.0.113.9, 10.0.0.1")
	req.Header.Set("X-Real-IP", "198.51.100.3")

	if got := ClientIP(req, false); got != "192.0.2.1" {
		t.Fatalf("untrusted: got %q", got)
	}
	if got := ClientIP(req, true); got != "203.0.113.9" {
		t.Fatalf("trusted: got %q", got)
	}

	req.Header.Set("CF-Connecting-IP", "::ffff:198.51.100.77")
	if got := ClientIP(req, true); got != "198.51.100.77" {
		t.Fatalf("cloudflare: got %q", got)
	}
}

func TestOriginSetsEngineContext(t *testing.T) {
	h := Origin(false)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := authority.ClientIPFromContext(r.Context()); got != "192.0.2.1" {
			t.Fatalf("client ip %q", got)
		}
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:5555"
	h.ServeHTTP(httptest.NewRecorder(), req)
}
