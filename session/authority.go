package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mapvision/authority/internal"
	"github.com/mapvision/authority/store"
)

// Authority creates, verifies and closes sessions. It is safe for concurrent
// use.
type Authority struct {
	db       *store.DB
	tx       store.Queryer
	cfg      Config
	now      func() time.Time
	fold     StatsFolder
	onSubnet SubnetObserver
	log      *slog.Logger
	newToken func() (string, error)
}

// New returns an authority over db.
func New(db *store.DB, cfg Config, opts ...Option) *Authority {
	def := DefaultConfig()
	if cfg.Duration <= 0 {
		cfg.Duration = def.Duration
	}
	if cfg.RememberMeDuration <= 0 {
		cfg.RememberMeDuration = def.RememberMeDuration
	}
	if cfg.SubnetPrefixV4 <= 0 {
		cfg.SubnetPrefixV4 = def.SubnetPrefixV4
	}
	if cfg.SubnetPrefixV6 <= 0 {
		cfg.SubnetPrefixV6 = def.SubnetPrefixV6
	}

	a := &Authority{
		db:       db,
		cfg:      cfg,
		now:      time.Now,
		log:      slog.Default().With("component", "session"),
		newToken: internal.NewToken,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Bind returns a copy that runs every statement on q, typically an open
// transaction. Operations that would open their own transaction join q
// instead.
func (a *Authority) Bind(q store.Queryer) *Authority {
	cp := *a
	cp.tx = q
	return &cp
}

// Config returns the effective configuration.
func (a *Authority) Config() Config {
	return a.cfg
}

func (a *Authority) q() store.Queryer {
	if a.tx != nil {
		return a.tx
	}
	return a.db
}

func (a *Authority) withTx(ctx context.Context, fn func(q store.Queryer) error) error {
	if a.tx != nil {
		return fn(a.tx)
	}
	return a.db.WithTx(ctx, fn)
}

// Create opens a session for email. The account's expired sessions are swept
// first, in the same transaction as the insert.
func (a *Authority) Create(ctx context.Context, email string, rememberMe bool, origin Origin) (*Session, error) {
	token, err := a.newToken()
	if err != nil {
		return nil, fmt.Errorf("generate session token: %w", err)
	}

	now := a.now().UTC()
	lifetime := a.cfg.Duration
	if rememberMe {
		lifetime = a.cfg.RememberMeDuration
	}

	s := &Session{
		ID:           internal.NewSessionID(),
		Token:        token,
		Email:        email,
		IP:           origin.IP,
		UserAgent:    truncate(origin.UserAgent, 500),
		CreatedAt:    now,
		ExpiresAt:    now.Add(lifetime),
		LastActivity: now,
		Active:       true,
	}

	err = a.withTx(ctx, func(q store.Queryer) error {
		if _, err := a.Bind(q).CleanupExpired(ctx, email); err != nil {
			return err
		}
		_, err := q.ExecContext(ctx, `INSERT INTO sessions
    (token, id, email, ip_address, user_agent, created_at, expires_at, last_activity, active)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1)`,
			s.Token, s.ID, s.Email, s.IP, s.UserAgent,
			store.ToMillis(s.CreatedAt), store.ToMillis(s.ExpiresAt), store.ToMillis(s.LastActivity),
		)
		if err != nil {
			return fmt.Errorf("%w: insert session: %v", ErrStore, err)
		}
		return nil
	})
	if err != nil {
		a.log.Error("session create failed", "email", email, "error", err)
		return nil, err
	}

	a.log.Info("session created", "email", email, "session_id", s.ID, "remember_me", rememberMe)
	return s, nil
}

// Verify authenticates token from origin. Every failure other than a store
// error is ErrInvalidSession (or ErrAddressMismatch under strict binding).
// A successful verify slides the expiry and refreshes last activity.
func (a *Authority) Verify(ctx context.Context, token string, origin Origin) (*AccountView, error) {
	token, ok := normalizeToken(token)
	if !ok {
		return nil, ErrInvalidSession
	}

	now := a.now().UTC()
	var (
		v        AccountView
		boundIP  string
		verified int
		created  int64
		expires  int64
	)
	err := a.q().QueryRowContext(ctx, `SELECT s.id, s.ip_address, s.created_at, s.expires_at,
    a.email, a.given_name, a.family_name, a.company, a.phone, a.role, a.email_verified
FROM sessions s
JOIN accounts a ON a.email = s.email
WHERE s.token = ? AND s.active = 1 AND s.expires_at > ? AND a.active = 1`,
		token, store.ToMillis(now),
	).Scan(&v.SessionID, &boundIP, &created, &expires,
		&v.Email, &v.GivenName, &v.FamilyName, &v.Company, &v.Phone, &v.Role, &verified)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInvalidSession
	}
	if err != nil {
		return nil, fmt.Errorf("%w: verify session: %v", ErrStore, err)
	}
	v.EmailVerified = verified == 1
	v.SessionCreatedAt = store.FromMillis(created)
	v.SessionExpiresAt = store.FromMillis(expires)

	if origin.IP != "" && boundIP != "" && origin.IP != boundIP {
		if a.cfg.StrictIPBinding {
			a.log.Warn("session address changed, destroying",
				"session_id", v.SessionID, "email", v.Email, "bound_ip", boundIP, "ip", origin.IP)
			if _, err := a.Destroy(ctx, token); err != nil {
				a.log.Error("destroy after address change failed", "session_id", v.SessionID, "error", err)
			}
			return nil, ErrAddressMismatch
		}
		if !internal.SameSubnet(boundIP, origin.IP, a.cfg.SubnetPrefixV4, a.cfg.SubnetPrefixV6) {
			v.SubnetChanged = true
			a.log.Warn("session subnet changed",
				"session_id", v.SessionID, "email", v.Email, "bound_ip", boundIP, "ip", origin.IP)
			if a.onSubnet != nil {
				a.onSubnet(ctx, v, boundIP, origin.IP)
			}
		}
	}

	a.touch(ctx, token, v.Email, now, &v)
	return &v, nil
}

// touch slides the expiry and refreshes last activity. Failures are logged;
// the session already verified.
func (a *Authority) touch(ctx context.Context, token, email string, now time.Time, v *AccountView) {
	nowMs := store.ToMillis(now)
	renewed := store.ToMillis(now.Add(a.cfg.Duration))

	_, err := a.q().ExecContext(ctx, `UPDATE sessions SET
    expires_at = CASE WHEN expires_at > ? THEN expires_at ELSE ? END,
    last_activity = ?
WHERE token = ? AND active = 1`, renewed, renewed, nowMs, token)
	if err != nil {
		a.log.Warn("session renewal failed", "session_id", v.SessionID, "error", err)
	} else if renewed > store.ToMillis(v.SessionExpiresAt) {
		v.SessionExpiresAt = store.FromMillis(renewed)
	}

	if _, err := a.q().ExecContext(ctx,
		`UPDATE accounts SET last_activity = ?, connected = 1 WHERE email = ?`, nowMs, email,
	); err != nil {
		a.log.Warn("account activity update failed", "email", email, "error", err)
	}
}

// Lookup returns the open session for token without renewing it. Expired
// but unswept sessions are returned too; use Verify to authenticate.
func (a *Authority) Lookup(ctx context.Context, token string) (*Session, error) {
	token, ok := normalizeToken(token)
	if !ok {
		return nil, ErrInvalidSession
	}

	var (
		s                         Session
		created, expires, lastAct int64
	)
	err := a.q().QueryRowContext(ctx, `SELECT id, email, ip_address, user_agent, created_at, expires_at, last_activity
FROM sessions WHERE token = ? AND active = 1`, token,
	).Scan(&s.ID, &s.Email, &s.IP, &s.UserAgent, &created, &expires, &lastAct)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInvalidSession
	}
	if err != nil {
		return nil, fmt.Errorf("%w: lookup session: %v", ErrStore, err)
	}
	s.Active = true
	s.CreatedAt = store.FromMillis(created)
	s.ExpiresAt = store.FromMillis(expires)
	s.LastActivity = store.FromMillis(lastAct)
	return &s, nil
}

// Destroy closes the session for token. It reports false when the token was
// not an active session, which is not an error.
func (a *Authority) Destroy(ctx context.Context, token string) (bool, error) {
	token, ok := normalizeToken(token)
	if !ok {
		return false, nil
	}

	var (
		closed bool
		email  string
		id     string
		mins   int
	)
	err := a.withTx(ctx, func(q store.Queryer) error {
		now := a.now().UTC()
		var created int64
		err := q.QueryRowContext(ctx,
			`SELECT id, email, created_at FROM sessions WHERE token = ? AND active = 1`, token,
		).Scan(&id, &email, &created)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: load session: %v", ErrStore, err)
		}

		mins = minutesBetween(store.FromMillis(created), now)
		ok, err := closeRow(ctx, q, token, now, mins)
		if err != nil || !ok {
			return err
		}
		closed = true
		return a.foldStats(ctx, q, email, mins, mins, now)
	})
	if err != nil {
		a.log.Error("session destroy failed", "session_id", id, "error", err)
		return false, err
	}
	if closed {
		a.log.Info("session destroyed", "email", email, "session_id", id, "minutes", mins)
	}
	return closed, nil
}

// DestroyAll closes every active session of email and returns how many
// were closed.
func (a *Authority) DestroyAll(ctx context.Context, email string) (int, error) {
	var closed int
	err := a.withTx(ctx, func(q store.Queryer) error {
		now := a.now().UTC()
		rows, err := q.QueryContext(ctx,
			`SELECT token, created_at FROM sessions WHERE email = ? AND active = 1`, email)
		if err != nil {
			return fmt.Errorf("%w: list sessions: %v", ErrStore, err)
		}
		type open struct {
			token   string
			created int64
		}
		var list []open
		for rows.Next() {
			var o open
			if err := rows.Scan(&o.token, &o.created); err != nil {
				_ = rows.Close()
				return fmt.Errorf("%w: scan session: %v", ErrStore, err)
			}
			list = append(list, o)
		}
		_ = rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("%w: list sessions: %v", ErrStore, err)
		}

		total, longest := 0, 0
		for _, o := range list {
			mins := minutesBetween(store.FromMillis(o.created), now)
			ok, err := closeRow(ctx, q, o.token, now, mins)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			closed++
			total += mins
			longest = max(longest, mins)
		}
		if closed == 0 {
			return nil
		}
		return a.foldStats(ctx, q, email, total, longest, now)
	})
	if err != nil {
		a.log.Error("destroy all sessions failed", "email", email, "error", err)
		return 0, err
	}
	if closed > 0 {
		a.log.Info("sessions destroyed", "email", email, "count", closed)
	}
	return closed, nil
}

// CleanupExpired closes active sessions past their expiry. An empty email
// sweeps every account. Connected time of a swept session runs from creation
// to its last activity.
func (a *Authority) CleanupExpired(ctx context.Context, email string) (int, error) {
	var swept int
	err := a.withTx(ctx, func(q store.Queryer) error {
		now := a.now().UTC()
		nowMs := store.ToMillis(now)

		query := `SELECT token, email, created_at, last_activity FROM sessions WHERE active = 1 AND expires_at <= ?`
		args := []any{nowMs}
		if email != "" {
			query += " AND email = ?"
			args = append(args, email)
		}
		rows, err := q.QueryContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("%w: list expired: %v", ErrStore, err)
		}
		type expired struct {
			token, email      string
			created, lastSeen int64
		}
		var list []expired
		for rows.Next() {
			var e expired
			if err := rows.Scan(&e.token, &e.email, &e.created, &e.lastSeen); err != nil {
				_ = rows.Close()
				return fmt.Errorf("%w: scan expired: %v", ErrStore, err)
			}
			list = append(list, e)
		}
		_ = rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("%w: list expired: %v", ErrStore, err)
		}

		type agg struct{ total, longest int }
		perEmail := map[string]*agg{}
		for _, e := range list {
			mins := minutesBetween(store.FromMillis(e.created), store.FromMillis(e.lastSeen))
			ok, err := closeRow(ctx, q, e.token, now, mins)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			swept++
			g := perEmail[e.email]
			if g == nil {
				g = &agg{}
				perEmail[e.email] = g
			}
			g.total += mins
			g.longest = max(g.longest, mins)
		}
		for addr, g := range perEmail {
			if err := a.foldStats(ctx, q, addr, g.total, g.longest, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if swept > 0 {
		a.log.Info("expired sessions swept", "email", email, "count", swept)
	}
	return swept, nil
}

// ListActive returns the live sessions of email, newest first. Tokens are
// not included.
func (a *Authority) ListActive(ctx context.Context, email string) ([]Session, error) {
	rows, err := a.q().QueryContext(ctx, `SELECT id, email, ip_address, user_agent, created_at, expires_at, last_activity
FROM sessions
WHERE email = ? AND active = 1 AND expires_at > ?
ORDER BY created_at DESC`, email, store.ToMillis(a.now()))
	if err != nil {
		return nil, fmt.Errorf("%w: list active: %v", ErrStore, err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var (
			s                         Session
			created, expires, lastAct int64
		)
		if err := rows.Scan(&s.ID, &s.Email, &s.IP, &s.UserAgent, &created, &expires, &lastAct); err != nil {
			return nil, fmt.Errorf("%w: scan session: %v", ErrStore, err)
		}
		s.Active = true
		s.CreatedAt = store.FromMillis(created)
		s.ExpiresAt = store.FromMillis(expires)
		s.LastActivity = store.FromMillis(lastAct)
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list active: %v", ErrStore, err)
	}
	return out, nil
}

// CountActive counts live sessions of email.
func (a *Authority) CountActive(ctx context.Context, email string) (int, error) {
	var n int
	err := a.q().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sessions WHERE email = ? AND active = 1 AND expires_at > ?`,
		email, store.ToMillis(a.now()),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("%w: count active: %v", ErrStore, err)
	}
	return n, nil
}

// CountOlderThan counts live sessions created more than age ago.
func (a *Authority) CountOlderThan(ctx context.Context, age time.Duration) (int, error) {
	now := a.now()
	var n int
	err := a.q().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sessions WHERE active = 1 AND expires_at > ? AND created_at < ?`,
		store.ToMillis(now), store.ToMillis(now.Add(-age)),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("%w: count long-lived: %v", ErrStore, err)
	}
	return n, nil
}

func (a *Authority) foldStats(ctx context.Context, q store.Queryer, email string, total, longest int, now time.Time) error {
	if a.fold == nil {
		return nil
	}
	if err := a.fold(ctx, q, email, total, longest, now); err != nil {
		return fmt.Errorf("fold session stats: %w", err)
	}
	return nil
}

// closeRow flips one session to closed. It reports false when another caller
// closed it first.
func closeRow(ctx context.Context, q store.Queryer, token string, now time.Time, mins int) (bool, error) {
	res, err := q.ExecContext(ctx,
		`UPDATE sessions SET active = 0, ended_at = ?, duration_minutes = ? WHERE token = ? AND active = 1`,
		store.ToMillis(now), mins, token,
	)
	if err != nil {
		return false, fmt.Errorf("%w: close session: %v", ErrStore, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: close session: %v", ErrStore, err)
	}
	return n == 1, nil
}

func minutesBetween(from, to time.Time) int {
	d := to.Sub(from)
	if d <= 0 {
		return 0
	}
	return int(math.Round(d.Minutes()))
}

func normalizeToken(token string) (string, bool) {
	token = strings.TrimSpace(token)
	if len(token) != internal.TokenLength {
		return "", false
	}
	for i := 0; i < len(token); i++ {
		c := token[i]
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F') {
			return "", false
		}
	}
	return strings.ToLower(token), true
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
