package stores

import (
	"context"
	"fmt"
	"time"

	"github.com/mapvision/authority/store"
)

// Access-log action names.
const (
	ActionRegisterSuccess        = "register_success"
	ActionRegisterFailed         = "register_failed"
	ActionLoginSuccess           = "login_success"
	ActionLoginFailed            = "login_failed"
	ActionAccountLocked          = "account_locked"
	ActionLogout                 = "logout"
	ActionEmailVerified          = "email_verified"
	ActionPasswordResetRequested = "password_reset_requested"
	ActionPasswordResetCompleted = "password_reset_completed"
	ActionPasswordChanged        = "password_changed"
	ActionAccountEnabled         = "account_enabled"
	ActionAccountDisabled        = "account_disabled"
	ActionSessionSubnetChanged   = "session_subnet_changed"
	ActionVerificationResent     = "verification_resent"
)

// AccessEntry is one access-log row.
type AccessEntry struct {
	ID        int64
	Email     string
	Action    string
	Success   bool
	IP        string
	UserAgent string
	Detail    string
	CreatedAt time.Time
}

// AccessLogStore appends to and queries the durable access log.
type AccessLogStore struct {
	q store.Queryer
}

// NewAccessLogStore binds the repository to q.
func NewAccessLogStore(q store.Queryer) *AccessLogStore {
	return &AccessLogStore{q: q}
}

// Append writes e. CreatedAt must be set by the caller.
func (s *AccessLogStore) Append(ctx context.Context, e AccessEntry) error {
	_, err := s.q.ExecContext(ctx, `INSERT INTO access_log
    (email, action, success, ip_address, user_agent, detail, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.Email, e.Action, store.BoolInt(e.Success), e.IP, e.UserAgent, e.Detail, store.ToMillis(e.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("%w: append access log: %v", ErrStore, err)
	}
	return nil
}

// CountSince counts rows for action since the given instant, filtered by
// email and/or IP when non-empty. Only successful rows count when
// successOnly is set.
func (s *AccessLogStore) CountSince(ctx context.Context, action, email, ip string, since time.Time, successOnly bool) (int, error) {
	query := `SELECT COUNT(*) FROM access_log WHERE action = ? AND created_at > ?`
	args := []any{action, store.ToMillis(since)}
	if email != "" {
		query += " AND email = ?"
		args = append(args, email)
	}
	if ip != "" {
		query += " AND ip_address = ?"
		args = append(args, ip)
	}
	if successOnly {
		query += " AND success = 1"
	}

	var n int
	if err := s.q.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: count access log: %v", ErrStore, err)
	}
	return n, nil
}

// OldestSince returns the creation time of the oldest matching row newer than
// since, or the zero time when there is none.
func (s *AccessLogStore) OldestSince(ctx context.Context, action, email, ip string, since time.Time) (time.Time, error) {
	query := `SELECT COALESCE(MIN(created_at), 0) FROM access_log WHERE action = ? AND created_at > ?`
	args := []any{action, store.ToMillis(since)}
	if email != "" {
		query += " AND email = ?"
		args = append(args, email)
	}
	if ip != "" {
		query += " AND ip_address = ?"
		args = append(args, ip)
	}

	var ms int64
	if err := s.q.QueryRowContext(ctx, query, args...).Scan(&ms); err != nil {
		return time.Time{}, fmt.Errorf("%w: oldest access log: %v", ErrStore, err)
	}
	if ms == 0 {
		return time.Time{}, nil
	}
	return store.FromMillis(ms), nil
}

// ForEmail returns the newest entries for email, at most limit.
func (s *AccessLogStore) ForEmail(ctx context.Context, email, action string, limit int) ([]AccessEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, email, action, success, ip_address, user_agent, detail, created_at
FROM access_log WHERE email = ?`
	args := []any{email}
	if action != "" {
		query += " AND action = ?"
		args = append(args, action)
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: access log for email: %v", ErrStore, err)
	}
	defer rows.Close()

	var out []AccessEntry
	for rows.Next() {
		var (
			e       AccessEntry
			success int
			created int64
		)
		if err := rows.Scan(&e.ID, &e.Email, &e.Action, &success, &e.IP, &e.UserAgent, &e.Detail, &created); err != nil {
			return nil, fmt.Errorf("%w: scan access log: %v", ErrStore, err)
		}
		e.Success = success == 1
		e.CreatedAt = store.FromMillis(created)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: access log for email: %v", ErrStore, err)
	}
	return out, nil
}

// DeleteBefore removes rows older than cutoff.
func (s *AccessLogStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.q.ExecContext(ctx, `DELETE FROM access_log WHERE created_at < ?`, store.ToMillis(cutoff))
	if err != nil {
		return 0, fmt.Errorf("%w: prune access log: %v", ErrStore, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// DailyActivity is one day of aggregated access-log counts.
type DailyActivity struct {
	Day           time.Time
	LoginSuccess  int
	LoginFailed   int
	Registrations int
	Logouts       int
	UniqueEmails  int
}

// Activity aggregates the access log per UTC day since the given instant,
// newest day first.
func (s *AccessLogStore) Activity(ctx context.Context, since time.Time) ([]DailyActivity, error) {
	const dayMs = int64(24 * time.Hour / time.Millisecond)
	rows, err := s.q.QueryContext(ctx, `SELECT created_at / ? AS day,
    SUM(CASE WHEN action = ? THEN 1 ELSE 0 END),
    SUM(CASE WHEN action = ? THEN 1 ELSE 0 END),
    SUM(CASE WHEN action = ? THEN 1 ELSE 0 END),
    SUM(CASE WHEN action = ? THEN 1 ELSE 0 END),
    COUNT(DISTINCT email)
FROM access_log
WHERE created_at >= ?
GROUP BY day
ORDER BY day DESC`,
		dayMs, ActionLoginSuccess, ActionLoginFailed, ActionRegisterSuccess, ActionLogout, store.ToMillis(since),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: activity: %v", ErrStore, err)
	}
	defer rows.Close()

	var out []DailyActivity
	for rows.Next() {
		var (
			d   DailyActivity
			day int64
		)
		if err := rows.Scan(&day, &d.LoginSuccess, &d.LoginFailed, &d.Registrations, &d.Logouts, &d.UniqueEmails); err != nil {
			return nil, fmt.Errorf("%w: scan activity: %v", ErrStore, err)
		}
		d.Day = store.FromMillis(day * dayMs)
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: activity: %v", ErrStore, err)
	}
	return out, nil
}
