package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mapvision/authority"
	"github.com/mapvision/authority/middleware"
)

type registerRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	GivenName  string `json:"given_name"`
	FamilyName string `json:"family_name"`
	Company    string `json:"company"`
	Phone      string `json:"phone"`
	Role       string `json:"role"`
}

type loginRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	RememberMe bool   `json:"remember_me"`
}

type tokenRequest struct {
	Token string `json:"token"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type resetRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

type changeRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type strengthRequest struct {
	Password string `json:"password"`
}

type statusRequest struct {
	Active *bool `json:"active"`
}

func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !h.decode(w, r, &req) {
		return
	}
	res := h.engine.Register(r.Context(), authority.RegisterRequest{
		Email:      req.Email,
		Password:   req.Password,
		GivenName:  req.GivenName,
		FamilyName: req.FamilyName,
		Company:    req.Company,
		Phone:      req.Phone,
		Role:       req.Role,
	})
	if res.Success {
		writeJSON(w, http.StatusCreated, toResultBody(res))
		return
	}
	writeResult(w, res)
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !h.decode(w, r, &req) {
		return
	}
	res := h.engine.Login(r.Context(), req.Email, req.Password, req.RememberMe)
	if res.Success && res.Account != nil {
		middleware.SetSessionCookie(w, res.SessionToken, res.Account.SessionExpiresAt, h.cfg.SecureCookies)
	}
	writeResult(w, res)
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	token, fromCookie, ok := middleware.SessionToken(r)
	if fromCookie {
		middleware.ClearSessionCookie(w, h.cfg.SecureCookies)
	}
	if !ok {
		writeJSON(w, http.StatusOK, resultBody{Success: true, Message: "Logged out"})
		return
	}
	writeResult(w, h.engine.Logout(r.Context(), token))
}

func (h *Handler) verifyEmail(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if !h.decode(w, r, &req) {
		return
	}
	writeResult(w, h.engine.VerifyEmail(r.Context(), req.Token))
}

func (h *Handler) resendVerification(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !h.decode(w, r, &req) {
		return
	}
	writeResult(w, h.engine.ResendVerification(r.Context(), req.Email))
}

func (h *Handler) passwordResetRequest(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !h.decode(w, r, &req) {
		return
	}
	writeResult(w, h.engine.RequestPasswordReset(r.Context(), req.Email))
}

func (h *Handler) passwordReset(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if !h.decode(w, r, &req) {
		return
	}
	writeResult(w, h.engine.CompletePasswordReset(r.Context(), req.Token, req.NewPassword))
}

func (h *Handler) passwordStrength(w http.ResponseWriter, r *http.Request) {
	var req strengthRequest
	if !h.decode(w, r, &req) {
		return
	}
	writeData(w, map[string]any{
		"score":       h.engine.PasswordStrength(req.Password),
		"suggestions": h.engine.PasswordSuggestions(req.Password),
	})
}

func (h *Handler) session(w http.ResponseWriter, r *http.Request) {
	view, _ := middleware.AccountFromContext(r.Context())
	writeData(w, toAccountBody(*view))
}

func (h *Handler) ownSessions(w http.ResponseWriter, r *http.Request) {
	view, _ := middleware.AccountFromContext(r.Context())
	sessions, err := h.engine.GetActiveSessions(r.Context(), view.Email, view.Email)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, toSessionBodies(sessions))
}

func (h *Handler) passwordChange(w http.ResponseWriter, r *http.Request) {
	var req changeRequest
	if !h.decode(w, r, &req) {
		return
	}
	view, _ := middleware.AccountFromContext(r.Context())
	res := h.engine.ChangePassword(r.Context(), view.Email, req.CurrentPassword, req.NewPassword)
	if res.Success {
		middleware.ClearSessionCookie(w, h.cfg.SecureCookies)
	}
	writeResult(w, res)
}

/* ==== Administration ==== */

func actor(r *http.Request) string {
	view, _ := middleware.AccountFromContext(r.Context())
	return view.Email
}

func (h *Handler) adminAccounts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := authority.AccountFilter{
		State:   q.Get("state"),
		Role:    q.Get("role"),
		Company: q.Get("company"),
		OrderBy: q.Get("order"),
	}
	var ok bool
	if f.CreatedFrom, ok = queryTime(w, q.Get("created_from"), "created_from"); !ok {
		return
	}
	if f.CreatedTo, ok = queryTime(w, q.Get("created_to"), "created_to"); !ok {
		return
	}
	if f.Limit, ok = queryInt(w, q.Get("limit"), "limit"); !ok {
		return
	}

	accounts, err := h.engine.GetAccountsStatus(r.Context(), actor(r), f)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, toAccountStatusBodies(accounts, time.Now()))
}

func (h *Handler) adminAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := h.engine.GetSystemAlerts(r.Context(), actor(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, toAlertBodies(alerts))
}

func (h *Handler) adminStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.engine.GetGeneralStats(r.Context(), actor(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, toStatsBody(stats))
}

func (h *Handler) adminActivity(w http.ResponseWriter, r *http.Request) {
	days, ok := queryInt(w, r.URL.Query().Get("days"), "days")
	if !ok {
		return
	}
	if days <= 0 {
		days = 30
	}
	activity, err := h.engine.GetActivity(r.Context(), actor(r), time.Duration(days)*24*time.Hour)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, toActivityBodies(activity))
}

func (h *Handler) adminAccessLog(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(w, r.URL.Query().Get("limit"), "limit")
	if !ok {
		return
	}
	entries, err := h.engine.GetAccessLog(r.Context(), actor(r), chi.URLParam(r, "email"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, toAccessEntryBodies(entries))
}

func (h *Handler) adminSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.engine.GetActiveSessions(r.Context(), actor(r), chi.URLParam(r, "email"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, toSessionBodies(sessions))
}

func (h *Handler) adminToggleStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Active == nil {
		badRequest(w, "active is required")
		return
	}
	writeResult(w, h.engine.ToggleAccountStatus(r.Context(), chi.URLParam(r, "email"), *req.Active, actor(r)))
}

func (h *Handler) adminMaintenance(w http.ResponseWriter, r *http.Request) {
	report, err := h.engine.RunMaintenance(r.Context(), actor(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, toMaintenanceBody(report))
}

func queryInt(w http.ResponseWriter, raw, name string) (int, bool) {
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		badRequest(w, name+" must be a non-negative integer")
		return 0, false
	}
	return n, true
}

// queryTime accepts RFC 3339 or a bare date.
func queryTime(w http.ResponseWriter, raw, name string) (time.Time, bool) {
	if raw == "" {
		return time.Time{}, true
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.DateOnly, raw); err == nil {
		return t, true
	}
	badRequest(w, name+" must be an RFC 3339 time or a YYYY-MM-DD date")
	return time.Time{}, false
}
