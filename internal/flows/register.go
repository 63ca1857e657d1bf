package flows

import (
	"context"
	"errors"
	"time"

	"github.com/mapvision/authority/internal/audit"
	"github.com/mapvision/authority/internal/limiters"
	"github.com/mapvision/authority/internal/stores"
	"github.com/mapvision/authority/internal/validator"
)

// RegisterDeps captures registration dependencies.
type RegisterDeps struct {
	Common

	Validate        func(context.Context, validator.Registration) (validator.Registration, error)
	HashPassword    func(string) (string, error)
	VerificationTTL time.Duration
	// Notify queues a best-effort message; it must not block.
	Notify func(ctx context.Context, kind NotificationKind, to, name, token string)
}

// RegisterResult describes the created account.
type RegisterResult struct {
	Email string
	Role  string
	// VerificationToken is the issued token. Callers deliver it out of band
	// and never echo it to the registering client.
	VerificationToken string
}

// RunRegister validates input, creates the account together with its first
// verification token in one transaction and queues the verification message.
func RunRegister(ctx context.Context, in validator.Registration, deps RegisterDeps) (RegisterResult, error) {
	if err := deps.normalize(); err != nil {
		return RegisterResult{}, err
	}
	if deps.Validate == nil || deps.HashPassword == nil {
		return RegisterResult{}, deps.Errors.EngineNotReady
	}
	if deps.Notify == nil {
		deps.Notify = func(context.Context, NotificationKind, string, string, string) {}
	}

	clean, err := deps.Validate(ctx, in)
	if err != nil {
		deps.MetricInc(deps.Metrics.RegisterFailure)
		return RegisterResult{}, deps.validationError(err)
	}
	email := clean.Email

	exists, err := deps.Repos.Accounts.Exists(ctx, email)
	if err != nil {
		return RegisterResult{}, deps.storageError("account exists", email, err)
	}
	if exists {
		deps.MetricInc(deps.Metrics.RegisterFailure)
		deps.logAccess(ctx, email, stores.ActionRegisterFailed, false, "email already registered")
		deps.EmitAudit(ctx, audit.EventRegisterFailed, false, email, "", deps.Errors.AccountExists, nil)
		return RegisterResult{}, deps.Errors.AccountExists
	}

	if err := deps.throttle(ctx, limiters.ActionRegister, deps.ClientIP(ctx), email); err != nil {
		deps.MetricInc(deps.Metrics.RegisterFailure)
		return RegisterResult{}, err
	}

	hash, err := deps.HashPassword(clean.Password)
	if err != nil {
		deps.Logger.Error("password hashing failed", "email", email, "error", err)
		return RegisterResult{}, deps.Errors.Dependency
	}

	now := deps.Now().UTC()
	account := &stores.Account{
		Email:        email,
		PasswordHash: hash,
		GivenName:    validator.Sanitize(clean.GivenName),
		FamilyName:   validator.Sanitize(clean.FamilyName),
		Company:      validator.Sanitize(clean.Company),
		Phone:        validator.Sanitize(clean.Phone),
		Role:         clean.Role,
		Active:       true,
		CreatedAt:    now,
	}

	var token string
	err = deps.InTx(ctx, func(r Repos) error {
		if err := r.Accounts.Insert(ctx, account); err != nil {
			return err
		}
		t, err := r.Tokens.Issue(ctx, email, stores.TokenEmailVerification, deps.VerificationTTL, now)
		if err != nil {
			return err
		}
		token = t
		return deps.appendAccess(ctx, r, email, stores.ActionRegisterSuccess, true, "account registered")
	})
	if errors.Is(err, stores.ErrAccountExists) {
		deps.MetricInc(deps.Metrics.RegisterFailure)
		deps.EmitAudit(ctx, audit.EventRegisterFailed, false, email, "", deps.Errors.AccountExists, nil)
		return RegisterResult{}, deps.Errors.AccountExists
	}
	if err != nil {
		deps.MetricInc(deps.Metrics.RegisterFailure)
		return RegisterResult{}, deps.storageError("register account", email, err)
	}

	deps.MetricInc(deps.Metrics.RegisterSuccess)
	deps.MetricInc(deps.Metrics.TokenIssued)
	deps.Notify(ctx, NotifyVerification, email, clean.GivenName, token)
	deps.EmitAudit(ctx, audit.EventRegisterSuccess, true, email, "", nil, func() map[string]string {
		return map[string]string{"role": clean.Role}
	})
	deps.Logger.Info("account registered", "email", email, "role", clean.Role)

	return RegisterResult{Email: email, Role: clean.Role, VerificationToken: token}, nil
}
