package flows

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mapvision/authority/internal/audit"
	"github.com/mapvision/authority/internal/limiters"
	"github.com/mapvision/authority/internal/rate"
	"github.com/mapvision/authority/internal/stores"
	"github.com/mapvision/authority/session"
	"github.com/mapvision/authority/store"
)

// Repos is one consistent view of the record store. Inside InTx every member
// runs on the same transaction.
type Repos struct {
	Accounts  *stores.AccountStore
	Tokens    *stores.TokenStore
	AccessLog *stores.AccessLogStore
	Stats     *stores.StatsStore
	Sessions  *session.Authority
}

// NewRepos builds the repositories over q. When q is a transaction the
// session authority is bound to it; over the pool itself the authority keeps
// opening its own transactions.
func NewRepos(q store.Queryer, sessions *session.Authority) Repos {
	r := Repos{
		Accounts:  stores.NewAccountStore(q),
		Tokens:    stores.NewTokenStore(q),
		AccessLog: stores.NewAccessLogStore(q),
		Stats:     stores.NewStatsStore(q),
		Sessions:  sessions,
	}
	if _, pool := q.(*store.DB); sessions != nil && !pool {
		r.Sessions = sessions.Bind(q)
	}
	return r
}

// TxRunner runs fn inside one record-store transaction. fn's error rolls back.
type TxRunner func(ctx context.Context, fn func(r Repos) error) error

// StoreTx returns a TxRunner over db whose Repos share the transaction.
func StoreTx(db *store.DB, sessions *session.Authority) TxRunner {
	return func(ctx context.Context, fn func(r Repos) error) error {
		return db.WithTx(ctx, func(q store.Queryer) error {
			return fn(NewRepos(q, sessions))
		})
	}
}

// NotificationKind selects the outbound message template.
type NotificationKind int

const (
	NotifyVerification NotificationKind = iota
	NotifyPasswordReset
	NotifyWelcome
)

// Metrics carries the host metric IDs used by flows.
type Metrics struct {
	RegisterSuccess       int
	RegisterFailure       int
	LoginSuccess          int
	LoginFailure          int
	LoginLocked           int
	SessionCreated        int
	SessionInvalidated    int
	TokenIssued           int
	TokenConsumed         int
	TokenInvalid          int
	EmailVerified         int
	PasswordResetRequest  int
	PasswordResetComplete int
	PasswordChanged       int
	AccountToggled        int
	RateLimited           int
	PasswordHashUpgraded  int
	MaintenanceRun        int
	SessionsSwept         int
	PermissionDenied      int
	ValidationFailure     int
	StorageFailure        int
}

// Errors carries host-level sentinel errors returned by flows.
type Errors struct {
	EngineNotReady         error
	Validation             error
	InvalidCredentials     error
	AccountLocked          error
	AccountDisabled        error
	AccountUnverified      error
	AccountExists          error
	UserNotFound           error
	RateLimited            error
	InvalidToken           error
	InvalidCurrentPassword error
	PasswordReuse          error
	CannotDisableSelf      error
	PermissionDenied       error
	Storage                error
	Dependency             error
}

// AuditFunc emits an audit event.
type AuditFunc func(ctx context.Context, eventType string, success bool, email, sessionID string, err error, meta func() map[string]string)

// Common holds the dependencies every flow needs.
type Common struct {
	Now       func() time.Time
	ClientIP  func(context.Context) string
	UserAgent func(context.Context) string

	Repos Repos
	InTx  TxRunner
	// Limit consults the per-action limiter. Nil disables throttling.
	Limit func(ctx context.Context, action limiters.Action, actor string) (rate.Decision, error)

	MetricInc func(int)
	EmitAudit AuditFunc
	Logger    *slog.Logger

	Metrics Metrics
	Errors  Errors
}

func (c *Common) normalize() error {
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.ClientIP == nil {
		c.ClientIP = func(context.Context) string { return "" }
	}
	if c.UserAgent == nil {
		c.UserAgent = func(context.Context) string { return "" }
	}
	if c.MetricInc == nil {
		c.MetricInc = func(int) {}
	}
	if c.EmitAudit == nil {
		c.EmitAudit = func(context.Context, string, bool, string, string, error, func() map[string]string) {}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.InTx == nil || c.Repos.Accounts == nil {
		return c.Errors.EngineNotReady
	}
	return nil
}

func (c *Common) origin(ctx context.Context) session.Origin {
	return session.Origin{IP: c.ClientIP(ctx), UserAgent: c.UserAgent(ctx)}
}

// appendAccess writes an access-log row through r. The error is returned so
// transactional callers can roll back.
func (c *Common) appendAccess(ctx context.Context, r Repos, email, action string, success bool, detail string) error {
	return r.AccessLog.Append(ctx, stores.AccessEntry{
		Email:     email,
		Action:    action,
		Success:   success,
		IP:        c.ClientIP(ctx),
		UserAgent: c.UserAgent(ctx),
		Detail:    detail,
		CreatedAt: c.Now().UTC(),
	})
}

// logAccess writes an access-log row outside any transaction. Failures are
// logged and otherwise ignored.
func (c *Common) logAccess(ctx context.Context, email, action string, success bool, detail string) {
	if err := c.appendAccess(ctx, c.Repos, email, action, success, detail); err != nil {
		c.Logger.Error("access log write failed", "action", action, "email", email, "error", err)
	}
}

// storageError logs err with op context and returns the generic storage
// sentinel.
func (c *Common) storageError(op, email string, err error) error {
	c.MetricInc(c.Metrics.StorageFailure)
	c.Logger.Error("storage failure", "op", op, "email", email, "error", err)
	return fmt.Errorf("%w: %s", c.Errors.Storage, op)
}

func (c *Common) validationError(err error) error {
	c.MetricInc(c.Metrics.ValidationFailure)
	return fmt.Errorf("%w: %w", c.Errors.Validation, err)
}

// throttle applies the limiter rule of action to actor. A backend failure
// fails open or closed as the rule decided. Requests without an actor (no
// client address on an in-process call) are not throttled.
func (c *Common) throttle(ctx context.Context, action limiters.Action, actor, email string) error {
	if c.Limit == nil || strings.TrimSpace(actor) == "" {
		return nil
	}
	d, err := c.Limit(ctx, action, actor)
	if err != nil {
		c.Logger.Warn("rate limiter unavailable", "action", string(action), "fail_open", d.Allowed, "error", err)
		if d.Allowed {
			return nil
		}
		return fmt.Errorf("%w: rate limiter: %v", c.Errors.Dependency, err)
	}
	if d.Allowed {
		return nil
	}

	c.MetricInc(c.Metrics.RateLimited)
	c.Logger.Warn("request rate limited", "action", string(action), "email", email, "retry_after", d.RetryAfter)
	c.EmitAudit(ctx, audit.EventRateLimited, false, email, "", c.Errors.RateLimited, func() map[string]string {
		return map[string]string{"action": string(action), "retry_after_seconds": fmt.Sprint(int(d.RetryAfter.Seconds()))}
	})
	return &RateLimitError{Err: c.Errors.RateLimited, RetryAfter: d.RetryAfter}
}

// RateLimitError reports a throttled request and when it may be retried.
type RateLimitError struct {
	Err        error
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%v (retry after %s)", e.Err, e.RetryAfter.Round(time.Second))
}

func (e *RateLimitError) Unwrap() error { return e.Err }

// LockedError reports a locked account and when the lock ends.
type LockedError struct {
	Err   error
	Until time.Time
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("%v until %s", e.Err, e.Until.Format(time.RFC3339))
}

func (e *LockedError) Unwrap() error { return e.Err }

// RetryAfter extracts the retry hint from a rate-limit error.
func RetryAfter(err error) (time.Duration, bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl.RetryAfter, true
	}
	return 0, false
}

// LockedUntil extracts the lock expiry from a lockout error.
func LockedUntil(err error) (time.Time, bool) {
	var le *LockedError
	if errors.As(err, &le) {
		return le.Until, true
	}
	return time.Time{}, false
}
