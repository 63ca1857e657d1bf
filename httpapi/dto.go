package httpapi

import (
	"time"

	"github.com/mapvision/authority"
)

type resultBody struct {
	Success           bool              `json:"success"`
	Message           string            `json:"message"`
	Code              authority.Code    `json:"code,omitempty"`
	Fields            map[string]string `json:"fields,omitempty"`
	SessionToken      string            `json:"session_token,omitempty"`
	Account           *accountBody      `json:"account,omitempty"`
	BlockedUntil      *time.Time        `json:"blocked_until,omitempty"`
	RetryAfterSeconds int               `json:"retry_after_seconds,omitempty"`
}

type accountBody struct {
	Email            string     `json:"email"`
	GivenName        string     `json:"given_name,omitempty"`
	FamilyName       string     `json:"family_name,omitempty"`
	Company          string     `json:"company,omitempty"`
	Phone            string     `json:"phone,omitempty"`
	Role             string     `json:"role,omitempty"`
	EmailVerified    bool       `json:"email_verified"`
	SessionID        string     `json:"session_id,omitempty"`
	SessionCreatedAt *time.Time `json:"session_created_at,omitempty"`
	SessionExpiresAt *time.Time `json:"session_expires_at,omitempty"`
	SubnetChanged    bool       `json:"subnet_changed,omitempty"`
}

func optTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	t = t.UTC()
	return &t
}

func toResultBody(res authority.Result) resultBody {
	out := resultBody{
		Success:      res.Success,
		Message:      res.Message,
		Code:         res.Code,
		Fields:       res.Fields,
		SessionToken: res.SessionToken,
		BlockedUntil: optTime(res.BlockedUntil),
	}
	if res.RetryAfter > 0 {
		out.RetryAfterSeconds = retryAfterSeconds(res.RetryAfter)
	}
	if res.Account != nil {
		a := toAccountBody(*res.Account)
		out.Account = &a
	}
	return out
}

func retryAfterSeconds(d time.Duration) int {
	return int((d + time.Second - 1) / time.Second)
}

func toAccountBody(v authority.AccountView) accountBody {
	return accountBody{
		Email:            v.Email,
		GivenName:        v.GivenName,
		FamilyName:       v.FamilyName,
		Company:          v.Company,
		Phone:            v.Phone,
		Role:             v.Role,
		EmailVerified:    v.EmailVerified,
		SessionID:        v.SessionID,
		SessionCreatedAt: optTime(v.SessionCreatedAt),
		SessionExpiresAt: optTime(v.SessionExpiresAt),
		SubnetChanged:    v.SubnetChanged,
	}
}

// Admin listings never carry the password hash, lock counters or session tokens.

type accountStatusBody struct {
	Email          string     `json:"email"`
	GivenName      string     `json:"given_name"`
	FamilyName     string     `json:"family_name"`
	Company        string     `json:"company"`
	Phone          string     `json:"phone"`
	Role           string     `json:"role"`
	Active         bool       `json:"active"`
	EmailVerified  bool       `json:"email_verified"`
	Locked         bool       `json:"locked"`
	Connected      bool       `json:"connected"`
	LastActivity   *time.Time `json:"last_activity,omitempty"`
	LastLogin      *time.Time `json:"last_login,omitempty"`
	CreatedAt      *time.Time `json:"created_at,omitempty"`
	TotalLogins    int        `json:"total_logins"`
	TotalMinutes   int        `json:"total_minutes"`
	LongestMinutes int        `json:"longest_minutes"`
	AverageMinutes int        `json:"average_minutes"`
	ActiveSessions int        `json:"active_sessions"`
}

func toAccountStatusBodies(in []authority.AccountStatus, now time.Time) []accountStatusBody {
	out := make([]accountStatusBody, 0, len(in))
	for _, s := range in {
		out = append(out, accountStatusBody{
			Email:          s.Email,
			GivenName:      s.GivenName,
			FamilyName:     s.FamilyName,
			Company:        s.Company,
			Phone:          s.Phone,
			Role:           s.Role,
			Active:         s.Active,
			EmailVerified:  s.EmailVerified,
			Locked:         s.IsLocked(now),
			Connected:      s.Connected,
			LastActivity:   optTime(s.LastActivity),
			LastLogin:      optTime(s.LastLogin),
			CreatedAt:      optTime(s.CreatedAt),
			TotalLogins:    s.TotalLogins,
			TotalMinutes:   s.TotalMinutes,
			LongestMinutes: s.LongestMinutes,
			AverageMinutes: s.AverageMinutes,
			ActiveSessions: s.ActiveSessions,
		})
	}
	return out
}

type sessionBody struct {
	ID              string     `json:"id"`
	Email           string     `json:"email"`
	IP              string     `json:"ip"`
	UserAgent       string     `json:"user_agent"`
	CreatedAt       *time.Time `json:"created_at,omitempty"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
	LastActivity    *time.Time `json:"last_activity,omitempty"`
	DurationMinutes int        `json:"duration_minutes"`
}

func toSessionBodies(in []authority.Session) []sessionBody {
	out := make([]sessionBody, 0, len(in))
	for _, s := range in {
		out = append(out, sessionBody{
			ID:              s.ID,
			Email:           s.Email,
			IP:              s.IP,
			UserAgent:       s.UserAgent,
			CreatedAt:       optTime(s.CreatedAt),
			ExpiresAt:       optTime(s.ExpiresAt),
			LastActivity:    optTime(s.LastActivity),
			DurationMinutes: s.DurationMinutes,
		})
	}
	return out
}

type accessEntryBody struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Action    string    `json:"action"`
	Success   bool      `json:"success"`
	IP        string    `json:"ip"`
	UserAgent string    `json:"user_agent"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func toAccessEntryBodies(in []authority.AccessEntry) []accessEntryBody {
	out := make([]accessEntryBody, 0, len(in))
	for _, e := range in {
		out = append(out, accessEntryBody{
			ID:        e.ID,
			Email:     e.Email,
			Action:    e.Action,
			Success:   e.Success,
			IP:        e.IP,
			UserAgent: e.UserAgent,
			Detail:    e.Detail,
			CreatedAt: e.CreatedAt.UTC(),
		})
	}
	return out
}

type activityBody struct {
	Day           string `json:"day"`
	LoginSuccess  int    `json:"login_success"`
	LoginFailed   int    `json:"login_failed"`
	Registrations int    `json:"registrations"`
	Logouts       int    `json:"logouts"`
	UniqueEmails  int    `json:"unique_emails"`
}

func toActivityBodies(in []authority.DailyActivity) []activityBody {
	out := make([]activityBody, 0, len(in))
	for _, d := range in {
		out = append(out, activityBody{
			Day:           d.Day.UTC().Format(time.DateOnly),
			LoginSuccess:  d.LoginSuccess,
			LoginFailed:   d.LoginFailed,
			Registrations: d.Registrations,
			Logouts:       d.Logouts,
			UniqueEmails:  d.UniqueEmails,
		})
	}
	return out
}

type statsBody struct {
	TotalAccounts           int            `json:"total_accounts"`
	ConnectedAccounts       int            `json:"connected_accounts"`
	ActiveAccounts          int            `json:"active_accounts"`
	DisabledAccounts        int            `json:"disabled_accounts"`
	LockedAccounts          int            `json:"locked_accounts"`
	UnverifiedAccounts      int            `json:"unverified_accounts"`
	AccountsByRole          map[string]int `json:"accounts_by_role"`
	NewLastDay              int            `json:"new_last_day"`
	ActiveLastDay           int            `json:"active_last_day"`
	ActiveSessions          int            `json:"active_sessions"`
	AccountsWithSessions    int            `json:"accounts_with_sessions"`
	AverageSessionMinutes   float64        `json:"average_session_minutes"`
	LongestSessionMinutes   int            `json:"longest_session_minutes"`
	SessionsStartedLastHour int            `json:"sessions_started_last_hour"`
}

func toStatsBody(s authority.SystemStats) statsBody {
	return statsBody{
		TotalAccounts:           s.TotalAccounts,
		ConnectedAccounts:       s.ConnectedAccounts,
		ActiveAccounts:          s.ActiveAccounts,
		DisabledAccounts:        s.DisabledAccounts,
		LockedAccounts:          s.LockedAccounts,
		UnverifiedAccounts:      s.UnverifiedAccounts,
		AccountsByRole:          s.AccountsByRole,
		NewLastDay:              s.NewLastDay,
		ActiveLastDay:           s.ActiveLastDay,
		ActiveSessions:          s.ActiveSessions,
		AccountsWithSessions:    s.AccountsWithSessions,
		AverageSessionMinutes:   s.AverageSessionMinutes,
		LongestSessionMinutes:   s.LongestSessionMinutes,
		SessionsStartedLastHour: s.SessionsStartedLastHour,
	}
}

type alertBody struct {
	Level   string `json:"level"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Count   int    `json:"count"`
}

func toAlertBodies(in []authority.Alert) []alertBody {
	out := make([]alertBody, 0, len(in))
	for _, a := range in {
		out = append(out, alertBody{Level: a.Level, Kind: a.Kind, Message: a.Message, Count: a.Count})
	}
	return out
}

type maintenanceBody struct {
	TokensDeleted        int64     `json:"tokens_deleted"`
	SessionsExpired      int       `json:"sessions_expired"`
	AccessLogDeleted     int64     `json:"access_log_deleted"`
	AccountsDisconnected int64     `json:"accounts_disconnected"`
	StartedAt            time.Time `json:"started_at"`
	DurationMs           int64     `json:"duration_ms"`
}

func toMaintenanceBody(r authority.MaintenanceReport) maintenanceBody {
	return maintenanceBody{
		TokensDeleted:        r.TokensDeleted,
		SessionsExpired:      r.SessionsExpired,
		AccessLogDeleted:     r.AccessLogDeleted,
		AccountsDisconnected: r.AccountsDisconnected,
		StartedAt:            r.StartedAt.UTC(),
		DurationMs:           r.Duration.Milliseconds(),
	}
}
