package flows

import (
	"context"
	"fmt"
	"time"

	"github.com/mapvision/authority/internal/audit"
	"github.com/mapvision/authority/internal/limiters"
)

// MaintenancePolicy tunes RunMaintenance.
type MaintenancePolicy struct {
	// AccessLogRetention is how long access-log rows are kept.
	AccessLogRetention time.Duration
	// UsedTokenRetention is how long consumed tokens are kept.
	UsedTokenRetention time.Duration
}

// MaintenanceReport counts what one maintenance pass removed or changed.
type MaintenanceReport struct {
	TokensDeleted        int64
	SessionsExpired      int
	AccessLogDeleted     int64
	AccountsDisconnected int64
	StartedAt            time.Time
	Duration             time.Duration
}

// RunMaintenance deletes expired tokens, closes expired sessions (folding
// their statistics), prunes old access-log rows, clears the connected flag of
// accounts without sessions and prunes limiter state. Running it twice in a
// row changes nothing the second time.
func RunMaintenance(ctx context.Context, deps AdminDeps) (MaintenanceReport, error) {
	if err := deps.normalize(); err != nil {
		return MaintenanceReport{}, err
	}
	if deps.Repos.Sessions == nil || deps.Repos.Tokens == nil {
		return MaintenanceReport{}, deps.Errors.EngineNotReady
	}

	pol := deps.Maintenance
	if pol.AccessLogRetention <= 0 {
		pol.AccessLogRetention = 180 * 24 * time.Hour
	}
	if pol.UsedTokenRetention <= 0 {
		pol.UsedTokenRetention = 7 * 24 * time.Hour
	}

	started := deps.Now().UTC()
	rep := MaintenanceReport{StartedAt: started}
	var err error

	if rep.TokensDeleted, err = deps.Repos.Tokens.DeleteExpired(ctx, started, pol.UsedTokenRetention); err != nil {
		return rep, deps.storageError("delete expired tokens", "", err)
	}
	if rep.SessionsExpired, err = deps.Repos.Sessions.CleanupExpired(ctx, ""); err != nil {
		return rep, deps.storageError("expire sessions", "", err)
	}
	if rep.AccessLogDeleted, err = deps.Repos.AccessLog.DeleteBefore(ctx, started.Add(-pol.AccessLogRetention)); err != nil {
		return rep, deps.storageError("prune access log", "", err)
	}
	if rep.AccountsDisconnected, err = deps.Repos.Accounts.DisconnectIdle(ctx); err != nil {
		return rep, deps.storageError("disconnect idle accounts", "", err)
	}
	if deps.PruneLimiter != nil {
		if err := deps.PruneLimiter(ctx); err != nil {
			deps.Logger.Warn("limiter prune failed", "error", err)
		}
	}
	rep.Duration = deps.Now().UTC().Sub(started)

	deps.MetricInc(deps.Metrics.MaintenanceRun)
	if rep.SessionsExpired > 0 {
		deps.MetricInc(deps.Metrics.SessionsSwept)
	}
	deps.EmitAudit(ctx, audit.EventMaintenanceRun, true, "", "", nil, func() map[string]string {
		return map[string]string{
			"tokens_deleted":        fmt.Sprint(rep.TokensDeleted),
			"sessions_expired":      fmt.Sprint(rep.SessionsExpired),
			"access_log_deleted":    fmt.Sprint(rep.AccessLogDeleted),
			"accounts_disconnected": fmt.Sprint(rep.AccountsDisconnected),
		}
	})
	deps.Logger.Info("maintenance completed",
		"tokens_deleted", rep.TokensDeleted,
		"sessions_expired", rep.SessionsExpired,
		"access_log_deleted", rep.AccessLogDeleted,
		"accounts_disconnected", rep.AccountsDisconnected,
		"duration", rep.Duration,
	)
	return rep, nil
}

// RunAdminMaintenance runs maintenance on behalf of admin after
// authorization and the maintenance throttle.
func RunAdminMaintenance(ctx context.Context, admin string, deps AdminDeps) (MaintenanceReport, error) {
	if err := deps.normalize(); err != nil {
		return MaintenanceReport{}, err
	}
	actor, err := deps.authorize(ctx, admin)
	if err != nil {
		return MaintenanceReport{}, err
	}
	if err := deps.throttle(ctx, limiters.ActionAdminMaintenance, actor.Email, actor.Email); err != nil {
		return MaintenanceReport{}, err
	}
	return RunMaintenance(ctx, deps)
}
