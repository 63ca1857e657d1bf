package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/mapvision/authority"
)

// CookieName is the session cookie set by the HTTP API after a login.
const CookieName = "mv_session"

// SessionVerifier is the part of [authority.Engine] the guard needs.
type SessionVerifier interface {
	VerifySession(ctx context.Context, token string) (*authority.AccountView, error)
}

type accountContextKey struct{}
type tokenContextKey struct{}

// AccountFromContext returns the account RequireSession verified.
func AccountFromContext(ctx context.Context) (*authority.AccountView, bool) {
	v, ok := ctx.Value(accountContextKey{}).(*authority.AccountView)
	return v, ok && v != nil
}

// TokenFromContext returns the session token RequireSession accepted.
func TokenFromContext(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(tokenContextKey{}).(string)
	return token, ok && token != ""
}

// WithAccount stores view and token on ctx the way RequireSession does.
func WithAccount(ctx context.Context, view *authority.AccountView, token string) context.Context {
	ctx = context.WithValue(ctx, accountContextKey{}, view)
	return context.WithValue(ctx, tokenContextKey{}, token)
}

// RequireSession rejects requests without a valid session with 401. The
// token is read from the session cookie, then from a Bearer header. A
// rejected cookie is cleared.
func RequireSession(engine SessionVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			token, fromCookie, ok := SessionToken(r)
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			view, err := engine.VerifySession(r.Context(), token)
			if err != nil {
				if fromCookie {
					ClearSessionCookie(w, r.TLS != nil)
				}
				status := http.StatusUnauthorized
				if authority.KindOf(err) == authority.KindStorage || authority.KindOf(err) == authority.KindDependency {
					status = http.StatusServiceUnavailable
				}
				http.Error(w, http.StatusText(status), status)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithAccount(r.Context(), view, token)))
		})
	}
}

// RequireRole answers 403 unless the verified account holds at least min.
// It must run after RequireSession.
func RequireRole(min authority.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			view, ok := AccountFromContext(r.Context())
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			role, err := authority.ParseRole(view.Role)
			if err != nil || !role.AtLeast(min) {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// SessionToken extracts the session token from the cookie or the
// Authorization header. fromCookie reports which one was used.
func SessionToken(r *http.Request) (token string, fromCookie bool, ok bool) {
	if c, err := r.Cookie(CookieName); err == nil && strings.TrimSpace(c.Value) != "" {
		return strings.TrimSpace(c.Value), true, true
	}
	token, ok = bearerToken(r.Header.Get("Authorization"))
	return token, false, ok
}

// SetSessionCookie writes the HttpOnly, SameSite=Strict session cookie. A
// zero expires makes it a browser-session cookie.
func SetSessionCookie(w http.ResponseWriter, token string, expires time.Time, secure bool) {
	c := &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteStrictMode,
	}
	if !expires.IsZero() {
		c.Expires = expires
	}
	http.SetCookie(w, c)
}

// ClearSessionCookie expires the session cookie.
func ClearSessionCookie(w http.ResponseWriter, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteStrictMode,
	})
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}
