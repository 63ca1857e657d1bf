package flows

import (
	"context"
	"errors"
	"time"

	"github.com/mapvision/authority/internal/audit"
	"github.com/mapvision/authority/internal/limiters"
	"github.com/mapvision/authority/internal/stores"
)

// TokenDeps captures the dependencies of the single-use token flows:
// email verification, password reset and password change.
type TokenDeps struct {
	Common

	ValidateToken    func(string) (string, error)
	ValidateEmail    func(string) (string, error)
	ValidatePassword func(field, password string) error
	VerifyPassword   func(password, hash string) (bool, error)
	HashPassword     func(string) (string, error)

	VerificationTTL time.Duration
	ResetTTL        time.Duration

	// Notify queues a best-effort message; it must not block.
	Notify func(ctx context.Context, kind NotificationKind, to, name, token string)
}

func (d *TokenDeps) normalize() error {
	if err := d.Common.normalize(); err != nil {
		return err
	}
	if d.Notify == nil {
		d.Notify = func(context.Context, NotificationKind, string, string, string) {}
	}
	if d.ValidateToken == nil || d.ValidateEmail == nil || d.Repos.Tokens == nil {
		return d.Errors.EngineNotReady
	}
	return nil
}

// RunVerifyEmail consumes a verification token and marks its account
// verified. The welcome message is sent after commit.
func RunVerifyEmail(ctx context.Context, token string, deps TokenDeps) (string, error) {
	if err := deps.normalize(); err != nil {
		return "", err
	}

	token, err := deps.ValidateToken(token)
	if err != nil {
		deps.MetricInc(deps.Metrics.TokenInvalid)
		return "", deps.Errors.InvalidToken
	}

	var email string
	err = deps.InTx(ctx, func(r Repos) error {
		e, err := r.Tokens.Consume(ctx, token, stores.TokenEmailVerification, deps.Now().UTC())
		if err != nil {
			return err
		}
		email = e
		if err := r.Accounts.MarkVerified(ctx, email); err != nil {
			return err
		}
		return deps.appendAccess(ctx, r, email, stores.ActionEmailVerified, true, "email verified")
	})
	if errors.Is(err, stores.ErrTokenInvalid) || errors.Is(err, stores.ErrAccountNotFound) {
		deps.MetricInc(deps.Metrics.TokenInvalid)
		return "", deps.Errors.InvalidToken
	}
	if err != nil {
		return "", deps.storageError("verify email", email, err)
	}

	deps.MetricInc(deps.Metrics.TokenConsumed)
	deps.MetricInc(deps.Metrics.EmailVerified)
	deps.EmitAudit(ctx, audit.EventEmailVerified, true, email, "", nil, nil)
	deps.Logger.Info("email verified", "email", email)

	name := ""
	if a, err := deps.Repos.Accounts.Find(ctx, email); err == nil {
		name = a.GivenName
	}
	deps.Notify(ctx, NotifyWelcome, email, name, "")
	return email, nil
}

// RunResendVerification issues a fresh verification token for an active,
// unverified account. The outcome is the same whether or not such an account
// exists; every request leaves an access-log row so throttling does not
// depend on existence either.
func RunResendVerification(ctx context.Context, email string, deps TokenDeps) error {
	if err := deps.normalize(); err != nil {
		return err
	}

	email, err := deps.ValidateEmail(email)
	if err != nil {
		return deps.validationError(err)
	}
	if err := deps.throttle(ctx, limiters.ActionResendVerify, email, email); err != nil {
		return err
	}

	account, err := deps.Repos.Accounts.Find(ctx, email)
	if errors.Is(err, stores.ErrAccountNotFound) {
		deps.logAccess(ctx, email, stores.ActionVerificationResent, false, "unknown account")
		return nil
	}
	if err != nil {
		return deps.storageError("find account", email, err)
	}
	if !account.Active || account.EmailVerified {
		deps.logAccess(ctx, email, stores.ActionVerificationResent, false, "not eligible")
		return nil
	}

	var token string
	err = deps.InTx(ctx, func(r Repos) error {
		t, err := r.Tokens.Issue(ctx, email, stores.TokenEmailVerification, deps.VerificationTTL, deps.Now().UTC())
		if err != nil {
			return err
		}
		token = t
		return deps.appendAccess(ctx, r, email, stores.ActionVerificationResent, true, "verification token issued")
	})
	if err != nil {
		return deps.storageError("resend verification", email, err)
	}

	deps.MetricInc(deps.Metrics.TokenIssued)
	deps.Notify(ctx, NotifyVerification, email, account.GivenName, token)
	deps.EmitAudit(ctx, audit.EventVerificationResent, true, email, "", nil, nil)
	return nil
}
