package stores

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mapvision/authority/store"
)

// Account is a stored identity.
type Account struct {
	Email          string
	PasswordHash   string
	GivenName      string
	FamilyName     string
	Company        string
	Phone          string
	Role           string
	Active         bool
	EmailVerified  bool
	FailedAttempts int
	LockedUntil    time.Time
	Connected      bool
	LastActivity   time.Time
	LastLogin      time.Time
	CreatedAt      time.Time
}

// IsLocked reports whether the account is locked at now.
func (a *Account) IsLocked(now time.Time) bool {
	return !a.LockedUntil.IsZero() && a.LockedUntil.After(now)
}

// AccountStore reads and mutates the accounts table.
type AccountStore struct {
	q store.Queryer
}

// NewAccountStore binds the repository to q (a pool or a transaction).
func NewAccountStore(q store.Queryer) *AccountStore {
	return &AccountStore{q: q}
}

const accountColumns = `email, password_hash, given_name, family_name, company, phone, role,
active, email_verified, failed_attempts, locked_until, connected, last_activity, last_login, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner, extra ...any) (*Account, error) {
	var (
		a                                  Account
		active, verified, connected        int
		lockedUntil, lastActivity, lastLog sql.NullInt64
		createdAt                          int64
	)
	dest := []any{
		&a.Email, &a.PasswordHash, &a.GivenName, &a.FamilyName, &a.Company, &a.Phone, &a.Role,
		&active, &verified, &a.FailedAttempts, &lockedUntil, &connected, &lastActivity, &lastLog, &createdAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	a.Active = active == 1
	a.EmailVerified = verified == 1
	a.Connected = connected == 1
	a.LockedUntil = store.FromNullMillis(lockedUntil)
	a.LastActivity = store.FromNullMillis(lastActivity)
	a.LastLogin = store.FromNullMillis(lastLog)
	a.CreatedAt = store.FromMillis(createdAt)
	return &a, nil
}

// Find loads an account by normalized email.
func (s *AccountStore) Find(ctx context.Context, email string) (*Account, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE email = ?`, email)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: find account: %v", ErrStore, err)
	}
	return a, nil
}

// Exists reports whether an account with email exists.
func (s *AccountStore) Exists(ctx context.Context, email string) (bool, error) {
	var one int
	err := s.q.QueryRowContext(ctx, `SELECT 1 FROM accounts WHERE email = ?`, email).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: account exists: %v", ErrStore, err)
	}
	return true, nil
}

// Insert creates a new account row.
func (s *AccountStore) Insert(ctx context.Context, a *Account) error {
	_, err := s.q.ExecContext(ctx, `INSERT INTO accounts (
    email, password_hash, given_name, family_name, company, phone, role,
    active, email_verified, failed_attempts, connected, created_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, 0, ?)`,
		a.Email, a.PasswordHash, a.GivenName, a.FamilyName, a.Company, a.Phone, a.Role,
		store.BoolInt(a.Active), store.BoolInt(a.EmailVerified), store.ToMillis(a.CreatedAt),
	)
	if store.IsUniqueViolation(err) {
		return ErrAccountExists
	}
	if err != nil {
		return fmt.Errorf("%w: insert account: %v", ErrStore, err)
	}
	return nil
}

// RegisterFailure records one failed password attempt atomically and returns
// the new attempt count and lock expiry. A lock that has already elapsed is
// cleared and the count restarts at one. Reaching threshold sets
// locked_until = now + lockFor.
func (s *AccountStore) RegisterFailure(ctx context.Context, email string, threshold int, lockFor time.Duration, now time.Time) (int, time.Time, error) {
	nowMs := store.ToMillis(now)
	lockMs := store.ToMillis(now.Add(lockFor))

	var (
		attempts int
		locked   sql.NullInt64
	)
	err := s.q.QueryRowContext(ctx, `UPDATE accounts SET
    failed_attempts = CASE
        WHEN locked_until IS NOT NULL AND locked_until <= ? THEN 1
        ELSE failed_attempts + 1
    END,
    locked_until = CASE
        WHEN (CASE WHEN locked_until IS NOT NULL AND locked_until <= ? THEN 1 ELSE failed_attempts + 1 END) >= ? THEN ?
        WHEN locked_until IS NOT NULL AND locked_until <= ? THEN NULL
        ELSE locked_until
    END
WHERE email = ?
RETURNING failed_attempts, locked_until`,
		nowMs, nowMs, threshold, lockMs, nowMs, email,
	).Scan(&attempts, &locked)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, time.Time{}, ErrAccountNotFound
	}
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("%w: register failure: %v", ErrStore, err)
	}
	return attempts, store.FromNullMillis(locked), nil
}

// MarkLogin clears the failure counter and lock and records the login.
func (s *AccountStore) MarkLogin(ctx context.Context, email string, now time.Time) error {
	ms := store.ToMillis(now)
	return s.exec(ctx, "mark login", `UPDATE accounts SET
    failed_attempts = 0, locked_until = NULL, connected = 1, last_login = ?, last_activity = ?
WHERE email = ?`, ms, ms, email)
}

// Touch updates last_activity and marks the account connected.
func (s *AccountStore) Touch(ctx context.Context, email string, now time.Time) error {
	return s.exec(ctx, "touch account",
		`UPDATE accounts SET last_activity = ?, connected = 1 WHERE email = ?`, store.ToMillis(now), email)
}

// SetConnected sets the connected flag.
func (s *AccountStore) SetConnected(ctx context.Context, email string, connected bool) error {
	return s.exec(ctx, "set connected",
		`UPDATE accounts SET connected = ? WHERE email = ?`, store.BoolInt(connected), email)
}

// MarkVerified sets email_verified.
func (s *AccountStore) MarkVerified(ctx context.Context, email string) error {
	return s.exec(ctx, "mark verified", `UPDATE accounts SET email_verified = 1 WHERE email = ?`, email)
}

// UpdatePassword replaces the hash. When clearLock is set the failure
// counter and lock are reset too.
func (s *AccountStore) UpdatePassword(ctx context.Context, email, hash string, clearLock bool) error {
	if clearLock {
		return s.exec(ctx, "update password",
			`UPDATE accounts SET password_hash = ?, failed_attempts = 0, locked_until = NULL WHERE email = ?`, hash, email)
	}
	return s.exec(ctx, "update password", `UPDATE accounts SET password_hash = ? WHERE email = ?`, hash, email)
}

// SetActive enables or disables the account. Disabling also clears connected.
func (s *AccountStore) SetActive(ctx context.Context, email string, active bool) error {
	if active {
		return s.exec(ctx, "enable account", `UPDATE accounts SET active = 1 WHERE email = ?`, email)
	}
	return s.exec(ctx, "disable account", `UPDATE accounts SET active = 0, connected = 0 WHERE email = ?`, email)
}

// DisconnectIdle clears connected for accounts without an active session.
func (s *AccountStore) DisconnectIdle(ctx context.Context) (int64, error) {
	res, err := s.q.ExecContext(ctx, `UPDATE accounts SET connected = 0
WHERE connected = 1
  AND NOT EXISTS (SELECT 1 FROM sessions WHERE sessions.email = accounts.email AND sessions.active = 1)`)
	if err != nil {
		return 0, fmt.Errorf("%w: disconnect idle: %v", ErrStore, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// CountLocked returns how many accounts are locked at now.
func (s *AccountStore) CountLocked(ctx context.Context, now time.Time) (int, error) {
	return s.count(ctx, "count locked",
		`SELECT COUNT(*) FROM accounts WHERE locked_until IS NOT NULL AND locked_until > ?`, store.ToMillis(now))
}

// CountUnverifiedBefore returns unverified accounts created before cutoff.
func (s *AccountStore) CountUnverifiedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	return s.count(ctx, "count unverified",
		`SELECT COUNT(*) FROM accounts WHERE email_verified = 0 AND created_at < ?`, store.ToMillis(cutoff))
}

func (s *AccountStore) count(ctx context.Context, op, query string, args ...any) (int, error) {
	var n int
	if err := s.q.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrStore, op, err)
	}
	return n, nil
}

// exec runs a single-row update and maps "no rows" to ErrAccountNotFound.
func (s *AccountStore) exec(ctx context.Context, op, query string, args ...any) error {
	res, err := s.q.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrStore, op, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrAccountNotFound
	}
	return nil
}

/* ==== LISTING ==== */

// Account states accepted by AccountFilter.State.
const (
	StateConnected    = "connected"
	StateDisconnected = "disconnected"
	StateDisabled     = "disabled"
	StateLocked       = "locked"
	StateUnverified   = "unverified"
)

// AccountFilter narrows and orders ListStatus.
type AccountFilter struct {
	State       string
	Role        string
	Company     string
	CreatedFrom time.Time
	CreatedTo   time.Time
	OrderBy     string
	Limit       int
}

// AccountStatus is an account joined with its statistics.
type AccountStatus struct {
	Account
	TotalLogins    int
	TotalMinutes   int
	LongestMinutes int
	AverageMinutes int
	ActiveSessions int
}

var accountOrders = map[string]string{
	"":               "COALESCE(a.last_activity, a.last_login, 0) DESC, a.email",
	"last_access":    "COALESCE(a.last_activity, a.last_login, 0) DESC, a.email",
	"name":           "a.given_name, a.family_name, a.email",
	"email":          "a.email",
	"role":           "a.role, a.given_name",
	"connected_time": "COALESCE(st.total_minutes, 0) DESC, a.email",
	"created":        "a.created_at DESC, a.email",
}

// ErrUnknownOrder is returned for an OrderBy outside the supported set.
var ErrUnknownOrder = errors.New("unknown account ordering")

// ListStatus returns accounts matching f.
func (s *AccountStore) ListStatus(ctx context.Context, f AccountFilter, now time.Time) ([]AccountStatus, error) {
	order, ok := accountOrders[f.OrderBy]
	if !ok {
		return nil, ErrUnknownOrder
	}

	nowMs := store.ToMillis(now)
	var (
		where strings.Builder
		args  = []any{nowMs}
	)
	where.WriteString("WHERE 1=1")

	switch f.State {
	case "":
	case StateConnected:
		where.WriteString(" AND a.connected = 1")
	case StateDisconnected:
		where.WriteString(" AND a.connected = 0 AND a.active = 1")
	case StateDisabled:
		where.WriteString(" AND a.active = 0")
	case StateLocked:
		where.WriteString(" AND a.locked_until IS NOT NULL AND a.locked_until > ?")
		args = append(args, nowMs)
	case StateUnverified:
		where.WriteString(" AND a.email_verified = 0")
	default:
		return nil, fmt.Errorf("unknown account state %q", f.State)
	}

	if f.Role != "" {
		where.WriteString(" AND a.role = ?")
		args = append(args, f.Role)
	}
	if c := strings.TrimSpace(f.Company); c != "" {
		where.WriteString(` AND LOWER(a.company) LIKE ? ESCAPE '\'`)
		args = append(args, "%"+escapeLike(strings.ToLower(c))+"%")
	}
	if !f.CreatedFrom.IsZero() {
		where.WriteString(" AND a.created_at >= ?")
		args = append(args, store.ToMillis(f.CreatedFrom))
	}
	if !f.CreatedTo.IsZero() {
		where.WriteString(" AND a.created_at <= ?")
		args = append(args, store.ToMillis(f.CreatedTo))
	}

	query := `SELECT ` + prefixed("a.", accountColumns) + `,
    COALESCE(st.total_logins, 0), COALESCE(st.total_minutes, 0),
    COALESCE(st.longest_minutes, 0), COALESCE(st.average_minutes, 0),
    (SELECT COUNT(*) FROM sessions x WHERE x.email = a.email AND x.active = 1 AND x.expires_at > ?)
FROM accounts a
LEFT JOIN account_stats st ON st.email = a.email
` + where.String() + `
ORDER BY ` + order
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: list accounts: %v", ErrStore, err)
	}
	defer rows.Close()

	var out []AccountStatus
	for rows.Next() {
		var st AccountStatus
		a, err := scanAccount(rows, &st.TotalLogins, &st.TotalMinutes, &st.LongestMinutes, &st.AverageMinutes, &st.ActiveSessions)
		if err != nil {
			return nil, fmt.Errorf("%w: scan account: %v", ErrStore, err)
		}
		st.Account = *a
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list accounts: %v", ErrStore, err)
	}
	return out, nil
}

func prefixed(prefix, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = prefix + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
