package flows

import (
	"context"
	"errors"

	"github.com/mapvision/authority/internal/audit"
	"github.com/mapvision/authority/internal/stores"
	"github.com/mapvision/authority/session"
)

// RunVerifySession authenticates token from the request origin. Every
// failure returns a nil view; the error tells invalid sessions apart from
// storage failures for logging only.
func RunVerifySession(ctx context.Context, token string, deps Common) (*session.AccountView, error) {
	if err := deps.normalize(); err != nil {
		return nil, err
	}
	if deps.Repos.Sessions == nil {
		return nil, deps.Errors.EngineNotReady
	}

	view, err := deps.Repos.Sessions.Verify(ctx, token, deps.origin(ctx))
	switch {
	case err == nil:
		return view, nil
	case errors.Is(err, session.ErrAddressMismatch):
		deps.MetricInc(deps.Metrics.SessionInvalidated)
		deps.EmitAudit(ctx, audit.EventSessionAddressRejected, false, "", "", deps.Errors.InvalidToken, nil)
		return nil, deps.Errors.InvalidToken
	case errors.Is(err, session.ErrInvalidSession):
		return nil, deps.Errors.InvalidToken
	default:
		return nil, deps.storageError("verify session", "", err)
	}
}

// RunLogout closes the session for token and clears the account's connected
// flag when no other session remains. Logging out an unknown or already
// closed token succeeds.
func RunLogout(ctx context.Context, token string, deps Common) error {
	if err := deps.normalize(); err != nil {
		return err
	}
	if deps.Repos.Sessions == nil {
		return deps.Errors.EngineNotReady
	}

	var (
		email, sessionID string
		closed           bool
	)
	err := deps.InTx(ctx, func(r Repos) error {
		s, err := r.Sessions.Lookup(ctx, token)
		if errors.Is(err, session.ErrInvalidSession) {
			return nil
		}
		if err != nil {
			return err
		}
		email, sessionID = s.Email, s.ID

		closed, err = r.Sessions.Destroy(ctx, token)
		if err != nil || !closed {
			return err
		}
		remaining, err := r.Sessions.CountActive(ctx, email)
		if err != nil {
			return err
		}
		if remaining == 0 {
			if err := r.Accounts.SetConnected(ctx, email, false); err != nil && !errors.Is(err, stores.ErrAccountNotFound) {
				return err
			}
		}
		return deps.appendAccess(ctx, r, email, stores.ActionLogout, true, "session closed")
	})
	if err != nil {
		return deps.storageError("logout", email, err)
	}
	if !closed {
		return nil
	}

	deps.MetricInc(deps.Metrics.SessionInvalidated)
	deps.EmitAudit(ctx, audit.EventLogout, true, email, sessionID, nil, nil)
	return nil
}
