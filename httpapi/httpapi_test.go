package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mapvision/authority"
	"github.com/mapvision/authority/internal/stores"
	"github.com/mapvision/authority/middleware"
	"github.com/mapvision/authority/notify"
	"github.com/mapvision/authority/password"
	"github.com/mapvision/authority/store"
)

type testServer struct {
	router http.Handler
	engine *authority.Engine
	db     *store.DB
	mail   *notify.Recorder
}

func newTestServer(t *testing.T, tune func(*authority.Config)) *testServer {
	t.Helper()

	ctx := context.Background()
	db, err := store.Open(ctx, store.Config{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "api.db")})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	cfg := authority.DefaultConfig()
	cfg.Password.BcryptCost = 4
	cfg.Lockout.Threshold = 3
	cfg.Notification.Retry = notify.RetryConfig{Attempts: 1}
	if tune != nil {
		tune(&cfg)
	}

	mail := &notify.Recorder{}
	engine, err := authority.New().WithConfig(cfg).WithStore(db).WithSender(mail).Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	t.Cleanup(engine.Close)

	h := NewHandler(engine, Config{}, nil)
	return &testServer{router: h.Router(nil), engine: engine, db: db, mail: mail}
}

type response struct {
	Status int
	Header http.Header
	Body   map[string]any
	Cookie *http.Cookie
}

func (s *testServer) do(t *testing.T, method, path string, body any, auth string) response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "httpapi-test")
	if auth != "" {
		req.Header.Set("Authorization", "Bearer "+auth)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	out := response{Status: rec.Code, Header: rec.Header()}
	if err := json.Unmarshal(rec.Body.Bytes(), &out.Body); err != nil {
		t.Fatalf("%s %s: decode %q: %v", method, path, rec.Body.String(), err)
	}
	for _, c := range rec.Result().Cookies() {
		if c.Name == middleware.CookieName {
			out.Cookie = c
		}
	}
	return out
}

func (s *testServer) waitToken(t *testing.T, addr string) string {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if m, ok := s.mail.Last(addr); ok {
			if i := strings.Index(m.Text, "?token="); i >= 0 {
				rest := m.Text[i+len("?token="):]
				if j := strings.IndexAny(rest, " \r\n\t\"<"); j >= 0 {
					rest = rest[:j]
				}
				tok, err := url.QueryUnescape(rest)
				if err == nil && tok != "" {
					return tok
				}
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("no token mailed to %s", addr)
	return ""
}

func (s *testServer) signup(t *testing.T, email string) string {
	t.Helper()
	res := s.do(t, http.MethodPost, "/register", map[string]any{
		"email": email, "password": "Secret123", "given_name": "Ana", "family_name": "Silva", "role": "Personal",
	}, "")
	if res.Status != http.StatusCreated {
		t.Fatalf("register: %d %v", res.Status, res.Body)
	}
	res = s.do(t, http.MethodPost, "/verify-email", map[string]string{"token": s.waitToken(t, email)}, "")
	if res.Status != http.StatusOK {
		t.Fatalf("verify: %d %v", res.Status, res.Body)
	}
	return s.login(t, email, "Secret123")
}

func (s *testServer) login(t *testing.T, email, pw string) string {
	t.Helper()
	res := s.do(t, http.MethodPost, "/login", map[string]any{"email": email, "password": pw}, "")
	if res.Status != http.StatusOK {
		t.Fatalf("login %s: %d %v", email, res.Status, res.Body)
	}
	token, _ := res.Body["session_token"].(string)
	if token == "" {
		t.Fatalf("login %s: no session token", email)
	}
	return token
}

func (s *testServer) seedAdmin(t *testing.T, email string) string {
	t.Helper()
	h, err := password.NewBcrypt(4)
	if err != nil {
		t.Fatalf("hasher: %v", err)
	}
	hash, err := h.Hash("Admin1234")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	err = stores.NewAccountStore(s.db).Insert(context.Background(), &stores.Account{
		Email:         email,
		PasswordHash:  hash,
		GivenName:     "Root",
		FamilyName:    "Admin",
		Role:          authority.RoleAdministrator.String(),
		Active:        true,
		EmailVerified: true,
		CreatedAt:     time.Now(),
	})
	if err != nil {
		t.Fatalf("seed admin: %v", err)
	}
	return s.login(t, email, "Admin1234")
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t, nil)
	res := s.do(t, http.MethodGet, "/healthz", nil, "")
	if res.Status != http.StatusOK || res.Body["status"] != "ok" {
		t.Fatalf("unexpected health: %d %v", res.Status, res.Body)
	}
}

func TestLoginSetsCookieAndSessionRoundTrip(t *testing.T) {
	s := newTestServer(t, nil)
	s.signup(t, "ana@example.com")

	res := s.do(t, http.MethodPost, "/login", map[string]any{
		"email": "ana@example.com", "password": "Secret123", "remember_me": true,
	}, "")
	if res.Status != http.StatusOK {
		t.Fatalf("login: %d %v", res.Status, res.Body)
	}
	if res.Cookie == nil || !res.Cookie.HttpOnly || res.Cookie.Value == "" {
		t.Fatalf("expected http-only session cookie, got %+v", res.Cookie)
	}
	account, _ := res.Body["account"].(map[string]any)
	if account["email"] != "ana@example.com" {
		t.Fatalf("unexpected account: %v", account)
	}
	if _, leaked := account["password_hash"]; leaked {
		t.Fatal("account body must not carry the password hash")
	}

	token := res.Body["session_token"].(string)
	me := s.do(t, http.MethodGet, "/session", nil, token)
	if me.Status != http.StatusOK {
		t.Fatalf("session: %d %v", me.Status, me.Body)
	}
	data := me.Body["data"].(map[string]any)
	if data["email"] != "ana@example.com" || data["role"] != "Personal" {
		t.Fatalf("unexpected session data: %v", data)
	}

	own := s.do(t, http.MethodGet, "/sessions", nil, token)
	if own.Status != http.StatusOK {
		t.Fatalf("sessions: %d %v", own.Status, own.Body)
	}
	list := own.Body["data"].([]any)
	if len(list) != 2 {
		t.Fatalf("expected 2 open sessions, got %d", len(list))
	}
	if _, leaked := list[0].(map[string]any)["token"]; leaked {
		t.Fatal("session listing must not carry tokens")
	}

	out := s.do(t, http.MethodPost, "/logout", nil, token)
	if out.Status != http.StatusOK {
		t.Fatalf("logout: %d %v", out.Status, out.Body)
	}
	if again := s.do(t, http.MethodGet, "/session", nil, token); again.Status != http.StatusUnauthorized {
		t.Fatalf("expected 401 after logout, got %d", again.Status)
	}
}

func TestStatusMapping(t *testing.T) {
	s := newTestServer(t, nil)
	s.signup(t, "map@example.com")

	res := s.do(t, http.MethodPost, "/register", map[string]any{"email": "bad", "password": "x"}, "")
	if res.Status != http.StatusBadRequest || res.Body["code"] != string(authority.CodeValidation) {
		t.Fatalf("expected validation 400, got %d %v", res.Status, res.Body)
	}
	if fields, _ := res.Body["fields"].(map[string]any); fields["email"] == nil {
		t.Fatalf("expected field error for email, got %v", res.Body["fields"])
	}

	res = s.do(t, http.MethodPost, "/register", map[string]any{
		"email": "MAP@example.com", "password": "Secret456", "given_name": "Ana", "family_name": "Silva",
	}, "")
	if res.Status != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate, got %d %v", res.Status, res.Body)
	}

	for i := 0; i < 3; i++ {
		res = s.do(t, http.MethodPost, "/login", map[string]any{"email": "map@example.com", "password": "wrong-pass1"}, "")
	}
	if res.Status != http.StatusUnauthorized {
		t.Fatalf("expected 401 on threshold attempt, got %d %v", res.Status, res.Body)
	}
	res = s.do(t, http.MethodPost, "/login", map[string]any{"email": "map@example.com", "password": "Secret123"}, "")
	if res.Status != http.StatusLocked || res.Body["blocked_until"] == nil {
		t.Fatalf("expected 423 with blocked_until, got %d %v", res.Status, res.Body)
	}

	res = s.do(t, http.MethodPost, "/verify-email", map[string]string{"token": strings.Repeat("ab", 32)}, "")
	if res.Status != http.StatusBadRequest || res.Body["code"] != string(authority.CodeInvalidToken) {
		t.Fatalf("expected invalid token, got %d %v", res.Status, res.Body)
	}
}

func TestDecodeRejectsUnknownFieldsAndTrailingData(t *testing.T) {
	s := newTestServer(t, nil)

	res := s.do(t, http.MethodPost, "/login", `{"email":"a@example.com","password":"x","admin":true}`, "")
	if res.Status != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown field, got %d", res.Status)
	}
	res = s.do(t, http.MethodPost, "/login", `{"email":"a@example.com","password":"x"}{}`, "")
	if res.Status != http.StatusBadRequest {
		t.Fatalf("expected 400 for trailing data, got %d", res.Status)
	}
}

func TestPasswordResetDoesNotRevealAccounts(t *testing.T) {
	s := newTestServer(t, nil)
	s.signup(t, "reset@example.com")

	known := s.do(t, http.MethodPost, "/password/reset-request", map[string]string{"email": "reset@example.com"}, "")
	unknown := s.do(t, http.MethodPost, "/password/reset-request", map[string]string{"email": "ghost@example.com"}, "")
	if known.Status != http.StatusOK || unknown.Status != http.StatusOK {
		t.Fatalf("expected 200 for both, got %d and %d", known.Status, unknown.Status)
	}
	if known.Body["message"] != unknown.Body["message"] {
		t.Fatalf("messages differ: %q vs %q", known.Body["message"], unknown.Body["message"])
	}

	token := s.waitToken(t, "reset@example.com")
	res := s.do(t, http.MethodPost, "/password/reset", map[string]string{"token": token, "new_password": "Fresh789x"}, "")
	if res.Status != http.StatusOK {
		t.Fatalf("reset: %d %v", res.Status, res.Body)
	}
	s.login(t, "reset@example.com", "Fresh789x")
}

func TestPasswordResetThrottleSetsRetryAfter(t *testing.T) {
	s := newTestServer(t, func(cfg *authority.Config) {
		cfg.RateLimit.ResetPerEmail = 1
	})

	first := s.do(t, http.MethodPost, "/password/reset-request", map[string]string{"email": "x@example.com"}, "")
	if first.Status != http.StatusOK {
		t.Fatalf("first request: %d %v", first.Status, first.Body)
	}
	second := s.do(t, http.MethodPost, "/password/reset-request", map[string]string{"email": "x@example.com"}, "")
	if second.Status != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d %v", second.Status, second.Body)
	}
	if second.Header.Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}
}

func TestPasswordChangeClosesSessions(t *testing.T) {
	s := newTestServer(t, nil)
	token := s.signup(t, "change@example.com")

	res := s.do(t, http.MethodPost, "/password/change", map[string]string{
		"current_password": "Secret123", "new_password": "Secret123",
	}, token)
	if res.Status != http.StatusBadRequest || res.Body["code"] != string(authority.CodeSamePassword) {
		t.Fatalf("expected SAME_PASSWORD, got %d %v", res.Status, res.Body)
	}

	res = s.do(t, http.MethodPost, "/password/change", map[string]string{
		"current_password": "Secret123", "new_password": "Other789x",
	}, token)
	if res.Status != http.StatusOK {
		t.Fatalf("change: %d %v", res.Status, res.Body)
	}
	if again := s.do(t, http.MethodGet, "/session", nil, token); again.Status != http.StatusUnauthorized {
		t.Fatalf("expected 401 after change, got %d", again.Status)
	}
}

func TestPasswordStrength(t *testing.T) {
	s := newTestServer(t, nil)
	weak := s.do(t, http.MethodPost, "/password/strength", map[string]string{"password": "abc"}, "")
	strong := s.do(t, http.MethodPost, "/password/strength", map[string]string{"password": "Tr1cky-Horse-Battery!"}, "")

	ws := weak.Body["data"].(map[string]any)["score"].(float64)
	ss := strong.Body["data"].(map[string]any)["score"].(float64)
	if ws >= ss {
		t.Fatalf("expected weak score %v below strong score %v", ws, ss)
	}
}

func TestAdminRoutes(t *testing.T) {
	s := newTestServer(t, nil)
	userToken := s.signup(t, "user@example.com")
	adminToken := s.seedAdmin(t, "root@example.com")

	if res := s.do(t, http.MethodGet, "/admin/stats", nil, ""); res.Status != http.StatusUnauthorized {
		t.Fatalf("expected 401 without session, got %d", res.Status)
	}
	if res := s.do(t, http.MethodGet, "/admin/stats", nil, userToken); res.Status != http.StatusForbidden {
		t.Fatalf("expected 403 for a non-admin, got %d", res.Status)
	}

	stats := s.do(t, http.MethodGet, "/admin/stats", nil, adminToken)
	if stats.Status != http.StatusOK {
		t.Fatalf("stats: %d %v", stats.Status, stats.Body)
	}
	if total := stats.Body["data"].(map[string]any)["total_accounts"].(float64); total != 2 {
		t.Fatalf("expected 2 accounts, got %v", total)
	}

	accounts := s.do(t, http.MethodGet, "/admin/accounts?role=Personal&order=email", nil, adminToken)
	if accounts.Status != http.StatusOK {
		t.Fatalf("accounts: %d %v", accounts.Status, accounts.Body)
	}
	list := accounts.Body["data"].([]any)
	if len(list) != 1 || list[0].(map[string]any)["email"] != "user@example.com" {
		t.Fatalf("unexpected account list: %v", list)
	}
	if res := s.do(t, http.MethodGet, "/admin/accounts?limit=x", nil, adminToken); res.Status != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", res.Status)
	}

	logRes := s.do(t, http.MethodGet, "/admin/accounts/user@example.com/access-log?limit=10", nil, adminToken)
	if logRes.Status != http.StatusOK || len(logRes.Body["data"].([]any)) == 0 {
		t.Fatalf("access log: %d %v", logRes.Status, logRes.Body)
	}

	if res := s.do(t, http.MethodGet, "/admin/alerts", nil, adminToken); res.Status != http.StatusOK {
		t.Fatalf("alerts: %d %v", res.Status, res.Body)
	}
	if res := s.do(t, http.MethodGet, "/admin/activity?days=7", nil, adminToken); res.Status != http.StatusOK {
		t.Fatalf("activity: %d %v", res.Status, res.Body)
	}
	if res := s.do(t, http.MethodGet, "/admin/accounts/user@example.com/sessions", nil, adminToken); res.Status != http.StatusOK {
		t.Fatalf("sessions: %d %v", res.Status, res.Body)
	}

	self := s.do(t, http.MethodPost, "/admin/accounts/root@example.com/status", map[string]bool{"active": false}, adminToken)
	if self.Status != http.StatusBadRequest || self.Body["code"] != string(authority.CodeCannotDisableSelf) {
		t.Fatalf("expected CANNOT_DISABLE_SELF, got %d %v", self.Status, self.Body)
	}
	missing := s.do(t, http.MethodPost, "/admin/accounts/nobody@example.com/status", map[string]bool{"active": false}, adminToken)
	if missing.Status != http.StatusNotFound {
		t.Fatalf("expected 404, got %d %v", missing.Status, missing.Body)
	}
	if res := s.do(t, http.MethodPost, "/admin/accounts/user@example.com/status", map[string]any{}, adminToken); res.Status != http.StatusBadRequest {
		t.Fatalf("expected 400 without active, got %d", res.Status)
	}

	off := s.do(t, http.MethodPost, "/admin/accounts/user@example.com/status", map[string]bool{"active": false}, adminToken)
	if off.Status != http.StatusOK {
		t.Fatalf("disable: %d %v", off.Status, off.Body)
	}
	if res := s.do(t, http.MethodGet, "/session", nil, userToken); res.Status != http.StatusUnauthorized {
		t.Fatalf("expected disabled account's session to be closed, got %d", res.Status)
	}

	maint := s.do(t, http.MethodPost, "/admin/maintenance", nil, adminToken)
	if maint.Status != http.StatusOK {
		t.Fatalf("maintenance: %d %v", maint.Status, maint.Body)
	}
}

func TestStatusForCodes(t *testing.T) {
	cases := map[authority.Code]int{
		authority.CodeValidation:             http.StatusBadRequest,
		authority.CodeInvalidCredentials:     http.StatusUnauthorized,
		authority.CodeUserBlocked:            http.StatusLocked,
		authority.CodeAccountDisabled:        http.StatusForbidden,
		authority.CodeEmailNotVerified:       http.StatusForbidden,
		authority.CodeEmailExists:            http.StatusConflict,
		authority.CodeRateLimit:              http.StatusTooManyRequests,
		authority.CodeInvalidToken:           http.StatusBadRequest,
		authority.CodeInvalidCurrentPassword: http.StatusUnauthorized,
		authority.CodeSamePassword:           http.StatusBadRequest,
		authority.CodeCannotDisableSelf:      http.StatusBadRequest,
		authority.CodeUserNotFound:           http.StatusNotFound,
		authority.CodePermissionDenied:       http.StatusForbidden,
		authority.CodeInternal:               http.StatusInternalServerError,
	}
	for code, want := range cases {
		if got := statusFor(authority.Result{Code: code}); got != want {
			t.Fatalf("%s: expected %d, got %d", code, want, got)
		}
	}
	if got := statusFor(authority.Result{Success: true}); got != http.StatusOK {
		t.Fatalf("success: expected 200, got %d", got)
	}
}
