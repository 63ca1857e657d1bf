package stores

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mapvision/authority/internal"
	"github.com/mapvision/authority/store"
)

// TokenType distinguishes single-use token purposes.
type TokenType string

const (
	TokenEmailVerification TokenType = "email_verification"
	TokenPasswordReset     TokenType = "password_reset"
)

// TokenStore issues and consumes single-use tokens.
type TokenStore struct {
	q      store.Queryer
	random func() (string, error)
}

// NewTokenStore binds the repository to q.
func NewTokenStore(q store.Queryer) *TokenStore {
	return &TokenStore{q: q, random: internal.NewToken}
}

// Issue invalidates any unused token of the same type for email and stores a
// fresh one that expires at now+ttl. Run it inside a transaction so the
// invalidation and the insert land together.
func (s *TokenStore) Issue(ctx context.Context, email string, typ TokenType, ttl time.Duration, now time.Time) (string, error) {
	token, err := s.random()
	if err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}

	if _, err := s.q.ExecContext(ctx,
		`UPDATE tokens SET used = 1 WHERE email = ? AND type = ? AND used = 0`,
		email, string(typ),
	); err != nil {
		return "", fmt.Errorf("%w: invalidate tokens: %v", ErrStore, err)
	}

	if _, err := s.q.ExecContext(ctx,
		`INSERT INTO tokens (token, email, type, expires_at, used, created_at) VALUES (?, ?, ?, ?, 0, ?)`,
		token, email, string(typ), store.ToMillis(now.Add(ttl)), store.ToMillis(now),
	); err != nil {
		return "", fmt.Errorf("%w: insert token: %v", ErrStore, err)
	}
	return token, nil
}

// Consume marks token used and returns its email. Unknown, used, expired and
// wrong-type tokens all yield ErrTokenInvalid. Concurrent consumers of the
// same token race on a single conditional UPDATE; exactly one wins.
func (s *TokenStore) Consume(ctx context.Context, token string, typ TokenType, now time.Time) (string, error) {
	var email string
	err := s.q.QueryRowContext(ctx,
		`UPDATE tokens SET used = 1
WHERE token = ? AND type = ? AND used = 0 AND expires_at > ?
RETURNING email`,
		token, string(typ), store.ToMillis(now),
	).Scan(&email)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrTokenInvalid
	}
	if err != nil {
		return "", fmt.Errorf("%w: consume token: %v", ErrStore, err)
	}
	return email, nil
}

// Peek returns the email of a valid token without consuming it.
func (s *TokenStore) Peek(ctx context.Context, token string, typ TokenType, now time.Time) (string, error) {
	var email string
	err := s.q.QueryRowContext(ctx,
		`SELECT email FROM tokens WHERE token = ? AND type = ? AND used = 0 AND expires_at > ?`,
		token, string(typ), store.ToMillis(now),
	).Scan(&email)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrTokenInvalid
	}
	if err != nil {
		return "", fmt.Errorf("%w: peek token: %v", ErrStore, err)
	}
	return email, nil
}

// DeleteExpired removes tokens past expiry and used tokens older than
// usedRetention.
func (s *TokenStore) DeleteExpired(ctx context.Context, now time.Time, usedRetention time.Duration) (int64, error) {
	res, err := s.q.ExecContext(ctx,
		`DELETE FROM tokens WHERE expires_at <= ? OR (used = 1 AND created_at < ?)`,
		store.ToMillis(now), store.ToMillis(now.Add(-usedRetention)),
	)
	if err != nil {
		return 0, fmt.Errorf("%w: delete expired tokens: %v", ErrStore, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
