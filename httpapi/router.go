package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/mapvision/authority"
	"github.com/mapvision/authority/middleware"
)

// Config tunes the transport.
type Config struct {
	// TrustProxyHeaders takes the client address from CF-Connecting-IP,
	// X-Forwarded-For or X-Real-IP. Enable it only behind a proxy that sets them.
	TrustProxyHeaders bool `yaml:"trust_proxy_headers" toml:"trust_proxy_headers" env:"TRUST_PROXY_HEADERS"`
	// SecureCookies marks the session cookie Secure.
	SecureCookies bool `yaml:"secure_cookies" toml:"secure_cookies" env:"SECURE_COOKIES"`
	// MaxBodyBytes caps request bodies. Zero means 64 KiB.
	MaxBodyBytes int64 `yaml:"max_body_bytes" toml:"max_body_bytes" env:"MAX_BODY_BYTES"`
}

// Handler exposes the engine over JSON.
type Handler struct {
	engine *authority.Engine
	cfg    Config
	log    *slog.Logger
}

// NewHandler binds the handler to engine. A nil logger uses slog.Default.
func NewHandler(engine *authority.Engine, cfg Config, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 64 << 10
	}
	return &Handler{engine: engine, cfg: cfg, log: log.With("component", "httpapi")}
}

// Router registers every route. Extra is mounted under /metrics when set.
func (h *Handler) Router(metrics http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(h.recoverer)
	r.Use(h.logging)
	r.Use(middleware.Origin(h.cfg.TrustProxyHeaders))

	r.Get("/healthz", h.healthz)
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}

	r.Post("/register", h.register)
	r.Post("/login", h.login)
	r.Post("/logout", h.logout)
	r.Post("/verify-email", h.verifyEmail)
	r.Post("/verify-email/resend", h.resendVerification)
	r.Post("/password/reset-request", h.passwordResetRequest)
	r.Post("/password/reset", h.passwordReset)
	r.Post("/password/strength", h.passwordStrength)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireSession(h.engine))
		r.Get("/session", h.session)
		r.Get("/sessions", h.ownSessions)
		r.Post("/password/change", h.passwordChange)

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireRole(authority.RoleAdministrator))
			r.Get("/accounts", h.adminAccounts)
			r.Get("/alerts", h.adminAlerts)
			r.Get("/stats", h.adminStats)
			r.Get("/activity", h.adminActivity)
			r.Get("/accounts/{email}/access-log", h.adminAccessLog)
			r.Get("/accounts/{email}/sessions", h.adminSessions)
			r.Post("/accounts/{email}/status", h.adminToggleStatus)
			r.Post("/maintenance", h.adminMaintenance)
		})
	})

	return r
}

func (h *Handler) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				h.log.ErrorContext(r.Context(), "panic recovered",
					"request_id", chimw.GetReqID(r.Context()),
					"method", r.Method,
					"path", r.URL.Path,
					"panic", rec,
				)
				writeResult(w, authority.ResultOf(authority.ErrDependency))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		fields := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", chimw.GetReqID(r.Context()),
		}
		switch {
		case status >= 500:
			h.log.ErrorContext(r.Context(), "http request completed", fields...)
		case status >= 400:
			h.log.WarnContext(r.Context(), "http request completed", fields...)
		default:
			h.log.DebugContext(r.Context(), "http request completed", fields...)
		}
	})
}
