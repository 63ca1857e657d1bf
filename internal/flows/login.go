package flows

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/mapvision/authority/internal"
	"github.com/mapvision/authority/internal/audit"
	"github.com/mapvision/authority/internal/stores"
	"github.com/mapvision/authority/session"
)

// LoginDeps captures login dependencies.
type LoginDeps struct {
	Common

	ValidateLogin  func(email, password string) (string, error)
	VerifyPassword func(password, hash string) (bool, error)
	NeedsUpgrade   func(hash string) (bool, error)
	HashPassword   func(string) (string, error)
	// DummyHash is verified against when the account does not exist so both
	// paths cost one hash comparison.
	DummyHash string

	LockoutThreshold    int
	LockoutDuration     time.Duration
	RequireVerification bool
	UpgradeOnLogin      bool
}

// LoginResult is the flow-local login response.
type LoginResult struct {
	Session *session.Session
	Account stores.Account
}

// RunLogin authenticates email/password and issues a session. Steps run in
// order and the first failure ends the attempt: validate, find, lock check,
// active check, password, verification, then session issuance in one
// transaction with the account and statistics updates.
func RunLogin(ctx context.Context, email, password string, rememberMe bool, deps LoginDeps) (*LoginResult, error) {
	if err := deps.normalize(); err != nil {
		return nil, err
	}
	if deps.ValidateLogin == nil || deps.VerifyPassword == nil || deps.Repos.Sessions == nil {
		return nil, deps.Errors.EngineNotReady
	}

	email, err := deps.ValidateLogin(email, password)
	if err != nil {
		return nil, deps.validationError(err)
	}

	account, err := deps.Repos.Accounts.Find(ctx, email)
	if errors.Is(err, stores.ErrAccountNotFound) {
		if deps.DummyHash != "" {
			_, _ = deps.VerifyPassword(password, deps.DummyHash)
		}
		deps.fail(ctx, email, "unknown account", deps.Errors.InvalidCredentials)
		return nil, deps.Errors.InvalidCredentials
	}
	if err != nil {
		return nil, deps.storageError("find account", email, err)
	}

	now := deps.Now().UTC()
	if account.IsLocked(now) {
		deps.MetricInc(deps.Metrics.LoginLocked)
		deps.fail(ctx, email, "account locked", deps.Errors.AccountLocked)
		return nil, &LockedError{Err: deps.Errors.AccountLocked, Until: account.LockedUntil}
	}

	if !account.Active {
		deps.fail(ctx, email, "account disabled", deps.Errors.AccountDisabled)
		return nil, deps.Errors.AccountDisabled
	}

	ok, err := deps.VerifyPassword(password, account.PasswordHash)
	if err != nil {
		deps.Logger.Error("password verification failed", "email", email, "error", err)
		return nil, deps.Errors.Dependency
	}
	if !ok {
		return nil, deps.wrongPassword(ctx, email, now)
	}

	if deps.RequireVerification && !account.EmailVerified {
		deps.MetricInc(deps.Metrics.LoginFailure)
		deps.EmitAudit(ctx, audit.EventLoginFailed, false, email, "", deps.Errors.AccountUnverified, nil)
		return nil, deps.Errors.AccountUnverified
	}

	var sess *session.Session
	err = deps.InTx(ctx, func(r Repos) error {
		if err := r.Accounts.MarkLogin(ctx, email, now); err != nil {
			return err
		}
		if err := r.Stats.RecordLogin(ctx, email, now); err != nil {
			return err
		}
		s, err := r.Sessions.Create(ctx, email, rememberMe, deps.origin(ctx))
		if err != nil {
			return err
		}
		sess = s
		return nil
	})
	if err != nil {
		deps.MetricInc(deps.Metrics.LoginFailure)
		return nil, deps.storageError("issue session", email, err)
	}

	deps.MetricInc(deps.Metrics.LoginSuccess)
	deps.MetricInc(deps.Metrics.SessionCreated)
	deps.logAccess(ctx, email, stores.ActionLoginSuccess, true, "login succeeded")
	deps.EmitAudit(ctx, audit.EventLoginSuccess, true, email, sess.ID, nil, func() map[string]string {
		return map[string]string{"remember_me": strconv.FormatBool(rememberMe)}
	})
	deps.Logger.Info("login succeeded", "email", email, "session_id", sess.ID, "token", internal.TokenPrefix(sess.Token))

	deps.maybeUpgradeHash(ctx, email, password, account.PasswordHash)

	account.FailedAttempts = 0
	account.LockedUntil = time.Time{}
	account.Connected = true
	account.LastLogin = now
	account.LastActivity = now
	return &LoginResult{Session: sess, Account: *account}, nil
}

func (d *LoginDeps) fail(ctx context.Context, email, detail string, err error) {
	d.MetricInc(d.Metrics.LoginFailure)
	d.logAccess(ctx, email, stores.ActionLoginFailed, false, detail)
	d.EmitAudit(ctx, audit.EventLoginFailed, false, email, "", err, func() map[string]string {
		return map[string]string{"reason": detail}
	})
}

// wrongPassword counts the failure atomically and locks the account when the
// threshold is reached. The caller still sees invalid credentials; the lock
// applies from the next attempt. A counter that cannot be updated is a
// storage failure, never an uncounted guess.
func (d *LoginDeps) wrongPassword(ctx context.Context, email string, now time.Time) error {
	attempts, lockedUntil, err := d.Repos.Accounts.RegisterFailure(ctx, email, d.LockoutThreshold, d.LockoutDuration, now)
	if err != nil {
		d.fail(ctx, email, "failed attempt not recorded", d.Errors.Storage)
		return d.storageError("register failure", email, err)
	}
	d.fail(ctx, email, "wrong password", d.Errors.InvalidCredentials)

	if d.LockoutThreshold > 0 && attempts == d.LockoutThreshold && !lockedUntil.IsZero() {
		d.MetricInc(d.Metrics.LoginLocked)
		d.logAccess(ctx, email, stores.ActionAccountLocked, false, "locked until "+lockedUntil.Format(time.RFC3339))
		d.EmitAudit(ctx, audit.EventAccountLocked, false, email, "", d.Errors.AccountLocked, func() map[string]string {
			return map[string]string{
				"attempts":     strconv.Itoa(attempts),
				"locked_until": lockedUntil.Format(time.RFC3339),
			}
		})
		d.Logger.Warn("account locked", "email", email, "attempts", attempts, "locked_until", lockedUntil)
	}
	return d.Errors.InvalidCredentials
}

func (d *LoginDeps) maybeUpgradeHash(ctx context.Context, email, password, current string) {
	if !d.UpgradeOnLogin || d.NeedsUpgrade == nil || d.HashPassword == nil {
		return
	}
	needs, err := d.NeedsUpgrade(current)
	if err != nil || !needs {
		return
	}
	upgraded, err := d.HashPassword(password)
	if err != nil {
		d.Logger.Warn("password rehash failed", "email", email, "error", err)
		return
	}
	if err := d.Repos.Accounts.UpdatePassword(ctx, email, upgraded, false); err != nil {
		d.Logger.Warn("password rehash not stored", "email", email, "error", err)
		return
	}
	d.MetricInc(d.Metrics.PasswordHashUpgraded)
}
