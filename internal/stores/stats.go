package stores

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mapvision/authority/store"
)

// AccountStats is the per-account usage aggregate.
type AccountStats struct {
	Email          string
	TotalLogins    int
	TotalMinutes   int
	LongestMinutes int
	AverageMinutes int
	UpdatedAt      time.Time
}

// StatsStore maintains account_stats and computes system-wide aggregates.
type StatsStore struct {
	q store.Queryer
}

// NewStatsStore binds the repository to q.
func NewStatsStore(q store.Queryer) *StatsStore {
	return &StatsStore{q: q}
}

// Get returns the aggregate for email; a missing row reads as zeros.
func (s *StatsStore) Get(ctx context.Context, email string) (AccountStats, error) {
	st := AccountStats{Email: email}
	var updated int64
	err := s.q.QueryRowContext(ctx, `SELECT total_logins, total_minutes, longest_minutes, average_minutes, updated_at
FROM account_stats WHERE email = ?`, email).Scan(&st.TotalLogins, &st.TotalMinutes, &st.LongestMinutes, &st.AverageMinutes, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return st, nil
	}
	if err != nil {
		return st, fmt.Errorf("%w: get stats: %v", ErrStore, err)
	}
	st.UpdatedAt = store.FromMillis(updated)
	return st, nil
}

// RecordLogin increments the login counter.
func (s *StatsStore) RecordLogin(ctx context.Context, email string, now time.Time) error {
	_, err := s.q.ExecContext(ctx, `INSERT INTO account_stats
    (email, total_logins, total_minutes, longest_minutes, average_minutes, updated_at)
VALUES (?, 1, 0, 0, 0, ?)
ON CONFLICT (email) DO UPDATE SET
    total_logins = account_stats.total_logins + 1,
    average_minutes = account_stats.total_minutes / (account_stats.total_logins + 1),
    updated_at = excluded.updated_at`, email, store.ToMillis(now))
	if err != nil {
		return fmt.Errorf("%w: record login: %v", ErrStore, err)
	}
	return nil
}

// FoldSessions adds closed-session minutes to the aggregate. longest is the
// longest single session among them. The average is total minutes over
// logins, rounded; without logins it equals the total.
func (s *StatsStore) FoldSessions(ctx context.Context, email string, total, longest int, now time.Time) error {
	_, err := s.q.ExecContext(ctx, `INSERT INTO account_stats
    (email, total_logins, total_minutes, longest_minutes, average_minutes, updated_at)
VALUES (?, 0, ?, ?, ?, ?)
ON CONFLICT (email) DO UPDATE SET
    total_minutes = account_stats.total_minutes + excluded.total_minutes,
    longest_minutes = CASE
        WHEN excluded.longest_minutes > account_stats.longest_minutes THEN excluded.longest_minutes
        ELSE account_stats.longest_minutes
    END,
    average_minutes = CASE
        WHEN account_stats.total_logins > 0 THEN
            (account_stats.total_minutes + excluded.total_minutes + account_stats.total_logins / 2) / account_stats.total_logins
        ELSE account_stats.total_minutes + excluded.total_minutes
    END,
    updated_at = excluded.updated_at`, email, total, longest, total, store.ToMillis(now))
	if err != nil {
		return fmt.Errorf("%w: fold sessions: %v", ErrStore, err)
	}
	return nil
}

// FoldSessionStats adapts [StatsStore.FoldSessions] to the session
// package's folding hook.
func FoldSessionStats(ctx context.Context, q store.Queryer, email string, total, longest int, now time.Time) error {
	return NewStatsStore(q).FoldSessions(ctx, email, total, longest, now)
}

// SystemStats is the dashboard summary.
type SystemStats struct {
	TotalAccounts      int
	ConnectedAccounts  int
	ActiveAccounts     int
	DisabledAccounts   int
	LockedAccounts     int
	UnverifiedAccounts int
	AccountsByRole     map[string]int
	NewLastDay         int
	ActiveLastDay      int

	ActiveSessions          int
	AccountsWithSessions    int
	AverageSessionMinutes   float64
	LongestSessionMinutes   int
	SessionsStartedLastHour int
}

// General computes SystemStats at now.
func (s *StatsStore) General(ctx context.Context, now time.Time) (SystemStats, error) {
	nowMs := store.ToMillis(now)
	dayAgo := store.ToMillis(now.Add(-24 * time.Hour))
	hourAgo := store.ToMillis(now.Add(-time.Hour))

	out := SystemStats{AccountsByRole: map[string]int{}}
	err := s.q.QueryRowContext(ctx, `SELECT
    COUNT(*),
    COALESCE(SUM(CASE WHEN connected = 1 THEN 1 ELSE 0 END), 0),
    COALESCE(SUM(CASE WHEN active = 1 THEN 1 ELSE 0 END), 0),
    COALESCE(SUM(CASE WHEN active = 0 THEN 1 ELSE 0 END), 0),
    COALESCE(SUM(CASE WHEN locked_until IS NOT NULL AND locked_until > ? THEN 1 ELSE 0 END), 0),
    COALESCE(SUM(CASE WHEN email_verified = 0 THEN 1 ELSE 0 END), 0),
    COALESCE(SUM(CASE WHEN created_at > ? THEN 1 ELSE 0 END), 0),
    COALESCE(SUM(CASE WHEN last_login IS NOT NULL AND last_login > ? THEN 1 ELSE 0 END), 0)
FROM accounts`, nowMs, dayAgo, dayAgo).Scan(
		&out.TotalAccounts, &out.ConnectedAccounts, &out.ActiveAccounts, &out.DisabledAccounts,
		&out.LockedAccounts, &out.UnverifiedAccounts, &out.NewLastDay, &out.ActiveLastDay,
	)
	if err != nil {
		return out, fmt.Errorf("%w: account stats: %v", ErrStore, err)
	}

	rows, err := s.q.QueryContext(ctx, `SELECT role, COUNT(*) FROM accounts GROUP BY role`)
	if err != nil {
		return out, fmt.Errorf("%w: role stats: %v", ErrStore, err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			role string
			n    int
		)
		if err := rows.Scan(&role, &n); err != nil {
			return out, fmt.Errorf("%w: role stats: %v", ErrStore, err)
		}
		out.AccountsByRole[role] = n
	}
	if err := rows.Err(); err != nil {
		return out, fmt.Errorf("%w: role stats: %v", ErrStore, err)
	}

	// Active sessions have no duration yet; measure them up to now.
	var avg sql.NullFloat64
	var longestMs sql.NullInt64
	err = s.q.QueryRowContext(ctx, `SELECT
    COUNT(*),
    COUNT(DISTINCT email),
    AVG(? - created_at),
    MAX(? - created_at),
    COALESCE(SUM(CASE WHEN created_at > ? THEN 1 ELSE 0 END), 0)
FROM sessions WHERE active = 1 AND expires_at > ?`, nowMs, nowMs, hourAgo, nowMs).Scan(
		&out.ActiveSessions, &out.AccountsWithSessions, &avg, &longestMs, &out.SessionsStartedLastHour,
	)
	if err != nil {
		return out, fmt.Errorf("%w: session stats: %v", ErrStore, err)
	}
	if avg.Valid {
		out.AverageSessionMinutes = avg.Float64 / float64(time.Minute/time.Millisecond)
	}
	if longestMs.Valid {
		out.LongestSessionMinutes = int(time.Duration(longestMs.Int64) * time.Millisecond / time.Minute)
	}
	return out, nil
}
