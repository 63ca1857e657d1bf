package authority

import (
	"context"
	"errors"
	"fmt"

	internalaudit "github.com/mapvision/authority/internal/audit"
	"github.com/mapvision/authority/internal/stores"
	"github.com/mapvision/authority/internal/validator"
	"github.com/mapvision/authority/store"
)

// EnsureAdministrator creates a verified, active Administrator account when
// no account with email exists. An existing account is left untouched and
// reported as created=false. The password must satisfy the password policy.
func (e *Engine) EnsureAdministrator(ctx context.Context, email, password string) (created bool, err error) {
	if !e.ready() {
		return false, ErrEngineNotReady
	}

	email, err = e.validator.EmailShape(email)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrValidation, validator.FieldErrors{"email": err.Error()})
	}
	if err := e.validator.NewPassword("password", password); err != nil {
		return false, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	hash, err := e.hasher.Hash(password)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrDependency, err)
	}

	now := e.now()
	err = e.db.WithTx(ctx, func(q store.Queryer) error {
		if err := stores.NewAccountStore(q).Insert(ctx, &stores.Account{
			Email:         email,
			PasswordHash:  hash,
			GivenName:     "Administrator",
			Role:          RoleAdministrator.String(),
			Active:        true,
			EmailVerified: true,
			CreatedAt:     now,
		}); err != nil {
			return err
		}
		return stores.NewAccessLogStore(q).Append(ctx, stores.AccessEntry{
			Email:     email,
			Action:    stores.ActionRegisterSuccess,
			Success:   true,
			IP:        ClientIPFromContext(ctx),
			UserAgent: userAgentFromContext(ctx),
			Detail:    "bootstrap administrator",
			CreatedAt: now,
		})
	})
	if errors.Is(err, stores.ErrAccountExists) {
		return false, nil
	}
	if err != nil {
		e.log.Error("bootstrap administrator failed", "email", email, "error", err)
		return false, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	e.emitAudit(ctx, internalaudit.EventRegisterSuccess, true, email, "", nil, func() map[string]string {
		return map[string]string{"role": RoleAdministrator.String(), "source": "bootstrap"}
	})
	e.log.Info("administrator account created", "email", email)
	return true, nil
}
