package flows

import (
	"context"
	"errors"

	"github.com/mapvision/authority/internal/audit"
	"github.com/mapvision/authority/internal/limiters"
	"github.com/mapvision/authority/internal/stores"
)

// RunRequestPasswordReset issues a reset token and queues the reset message
// when email belongs to an active account. The caller sees the same outcome
// either way. The request is counted per address and per email before the
// account is looked up.
func RunRequestPasswordReset(ctx context.Context, email string, deps TokenDeps) error {
	if err := deps.normalize(); err != nil {
		return err
	}

	email, err := deps.ValidateEmail(email)
	if err != nil {
		return deps.validationError(err)
	}

	if err := deps.throttle(ctx, limiters.ActionPasswordResetIP, deps.ClientIP(ctx), email); err != nil {
		return err
	}
	if err := deps.throttle(ctx, limiters.ActionPasswordReset, email, email); err != nil {
		return err
	}

	account, err := deps.Repos.Accounts.Find(ctx, email)
	if errors.Is(err, stores.ErrAccountNotFound) {
		deps.logAccess(ctx, email, stores.ActionPasswordResetRequested, false, "unknown account")
		deps.EmitAudit(ctx, audit.EventPasswordResetRequested, false, email, "", deps.Errors.UserNotFound, nil)
		return nil
	}
	if err != nil {
		return deps.storageError("find account", email, err)
	}
	if !account.Active {
		deps.logAccess(ctx, email, stores.ActionPasswordResetRequested, false, "account disabled")
		return nil
	}

	var token string
	err = deps.InTx(ctx, func(r Repos) error {
		t, err := r.Tokens.Issue(ctx, email, stores.TokenPasswordReset, deps.ResetTTL, deps.Now().UTC())
		if err != nil {
			return err
		}
		token = t
		return deps.appendAccess(ctx, r, email, stores.ActionPasswordResetRequested, true, "reset token issued")
	})
	if err != nil {
		return deps.storageError("request password reset", email, err)
	}

	deps.MetricInc(deps.Metrics.PasswordResetRequest)
	deps.MetricInc(deps.Metrics.TokenIssued)
	deps.Notify(ctx, NotifyPasswordReset, email, account.GivenName, token)
	deps.EmitAudit(ctx, audit.EventPasswordResetRequested, true, email, "", nil, nil)
	deps.Logger.Info("password reset requested", "email", email)
	return nil
}

// RunCompletePasswordReset sets a new password through a reset token. The
// token, the password, the lock state and every open session change in one
// transaction; a failure leaves the token usable.
func RunCompletePasswordReset(ctx context.Context, token, newPassword string, deps TokenDeps) error {
	if err := deps.normalize(); err != nil {
		return err
	}
	if deps.ValidatePassword == nil || deps.HashPassword == nil || deps.Repos.Sessions == nil {
		return deps.Errors.EngineNotReady
	}

	token, err := deps.ValidateToken(token)
	if err != nil {
		deps.MetricInc(deps.Metrics.TokenInvalid)
		return deps.Errors.InvalidToken
	}
	if err := deps.ValidatePassword("new_password", newPassword); err != nil {
		return deps.validationError(err)
	}

	hash, err := deps.HashPassword(newPassword)
	if err != nil {
		deps.Logger.Error("password hashing failed", "error", err)
		return deps.Errors.Dependency
	}

	var (
		email  string
		closed int
	)
	err = deps.InTx(ctx, func(r Repos) error {
		e, err := r.Tokens.Consume(ctx, token, stores.TokenPasswordReset, deps.Now().UTC())
		if err != nil {
			return err
		}
		email = e
		if err := r.Accounts.UpdatePassword(ctx, email, hash, true); err != nil {
			return err
		}
		if closed, err = r.Sessions.DestroyAll(ctx, email); err != nil {
			return err
		}
		if err := r.Accounts.SetConnected(ctx, email, false); err != nil {
			return err
		}
		return deps.appendAccess(ctx, r, email, stores.ActionPasswordResetCompleted, true, "password reset")
	})
	if errors.Is(err, stores.ErrTokenInvalid) || errors.Is(err, stores.ErrAccountNotFound) {
		deps.MetricInc(deps.Metrics.TokenInvalid)
		return deps.Errors.InvalidToken
	}
	if err != nil {
		return deps.storageError("complete password reset", email, err)
	}

	deps.MetricInc(deps.Metrics.TokenConsumed)
	deps.MetricInc(deps.Metrics.PasswordResetComplete)
	deps.EmitAudit(ctx, audit.EventPasswordResetCompleted, true, email, "", nil, nil)
	deps.Logger.Info("password reset completed", "email", email, "sessions_closed", closed)
	return nil
}

// RunChangePassword replaces the password of an authenticated account after
// checking the current one. Every session of the account is closed.
func RunChangePassword(ctx context.Context, email, currentPassword, newPassword string, deps TokenDeps) error {
	if err := deps.normalize(); err != nil {
		return err
	}
	if deps.ValidatePassword == nil || deps.HashPassword == nil || deps.VerifyPassword == nil || deps.Repos.Sessions == nil {
		return deps.Errors.EngineNotReady
	}

	email, err := deps.ValidateEmail(email)
	if err != nil {
		return deps.validationError(err)
	}
	if currentPassword == "" {
		return deps.Errors.InvalidCurrentPassword
	}
	if err := deps.ValidatePassword("new_password", newPassword); err != nil {
		return deps.validationError(err)
	}

	account, err := deps.Repos.Accounts.Find(ctx, email)
	if errors.Is(err, stores.ErrAccountNotFound) {
		return deps.Errors.InvalidCurrentPassword
	}
	if err != nil {
		return deps.storageError("find account", email, err)
	}

	ok, err := deps.VerifyPassword(currentPassword, account.PasswordHash)
	if err != nil {
		deps.Logger.Error("password verification failed", "email", email, "error", err)
		return deps.Errors.Dependency
	}
	if !ok {
		deps.EmitAudit(ctx, audit.EventPasswordChanged, false, email, "", deps.Errors.InvalidCurrentPassword, nil)
		return deps.Errors.InvalidCurrentPassword
	}
	if same, _ := deps.VerifyPassword(newPassword, account.PasswordHash); same {
		return deps.Errors.PasswordReuse
	}

	hash, err := deps.HashPassword(newPassword)
	if err != nil {
		deps.Logger.Error("password hashing failed", "email", email, "error", err)
		return deps.Errors.Dependency
	}

	var closed int
	err = deps.InTx(ctx, func(r Repos) error {
		if err := r.Accounts.UpdatePassword(ctx, email, hash, false); err != nil {
			return err
		}
		if closed, err = r.Sessions.DestroyAll(ctx, email); err != nil {
			return err
		}
		if err := r.Accounts.SetConnected(ctx, email, false); err != nil {
			return err
		}
		return deps.appendAccess(ctx, r, email, stores.ActionPasswordChanged, true, "password changed")
	})
	if err != nil {
		return deps.storageError("change password", email, err)
	}

	deps.MetricInc(deps.Metrics.PasswordChanged)
	deps.EmitAudit(ctx, audit.EventPasswordChanged, true, email, "", nil, nil)
	deps.Logger.Info("password changed", "email", email, "sessions_closed", closed)
	return nil
}
