package flows

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mapvision/authority/internal/audit"
	"github.com/mapvision/authority/internal/limiters"
	"github.com/mapvision/authority/internal/stores"
	"github.com/mapvision/authority/session"
)

// AdminDeps captures dependencies of administrative flows.
type AdminDeps struct {
	Common

	// IsAdministrator reports whether role grants administrative access.
	IsAdministrator func(role string) bool
	Alerts          AlertThresholds
	Maintenance     MaintenancePolicy
	// PruneLimiter drops expired ephemeral limiter state. Nil skips it.
	PruneLimiter func(context.Context) error
}

func (d *AdminDeps) normalize() error {
	if err := d.Common.normalize(); err != nil {
		return err
	}
	if d.IsAdministrator == nil {
		d.IsAdministrator = func(string) bool { return false }
	}
	return nil
}

// authorize resolves the acting administrator. Unknown, disabled and
// non-administrator actors are all refused with PermissionDenied.
func (d *AdminDeps) authorize(ctx context.Context, admin string) (*stores.Account, error) {
	admin = strings.ToLower(strings.TrimSpace(admin))
	if admin == "" {
		return nil, d.deny(ctx, admin, "missing actor")
	}
	account, err := d.Repos.Accounts.Find(ctx, admin)
	if errors.Is(err, stores.ErrAccountNotFound) {
		return nil, d.deny(ctx, admin, "unknown actor")
	}
	if err != nil {
		return nil, d.storageError("find administrator", admin, err)
	}
	if !account.Active || !d.IsAdministrator(account.Role) {
		return nil, d.deny(ctx, admin, "insufficient role")
	}
	return account, nil
}

func (d *AdminDeps) deny(ctx context.Context, admin, reason string) error {
	d.MetricInc(d.Metrics.PermissionDenied)
	d.Logger.Warn("administrative action denied", "actor", admin, "reason", reason)
	return d.Errors.PermissionDenied
}

// RunToggleAccountStatus enables or disables email on behalf of admin.
// Disabling closes every session of the target in the same transaction.
func RunToggleAccountStatus(ctx context.Context, email string, active bool, admin string, deps AdminDeps) error {
	if err := deps.normalize(); err != nil {
		return err
	}
	if deps.Repos.Sessions == nil {
		return deps.Errors.EngineNotReady
	}

	actor, err := deps.authorize(ctx, admin)
	if err != nil {
		return err
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return deps.validationError(errors.New("email is required"))
	}
	if !active && email == actor.Email {
		return deps.Errors.CannotDisableSelf
	}
	if err := deps.throttle(ctx, limiters.ActionAdminToggle, actor.Email, email); err != nil {
		return err
	}

	action, event := stores.ActionAccountEnabled, audit.EventAccountEnabled
	if !active {
		action, event = stores.ActionAccountDisabled, audit.EventAccountDisabled
	}

	closed := 0
	err = deps.InTx(ctx, func(r Repos) error {
		if err := r.Accounts.SetActive(ctx, email, active); err != nil {
			return err
		}
		if !active {
			n, err := r.Sessions.DestroyAll(ctx, email)
			if err != nil {
				return err
			}
			closed = n
		}
		return deps.appendAccess(ctx, r, email, action, true, "by "+actor.Email)
	})
	if errors.Is(err, stores.ErrAccountNotFound) {
		return deps.Errors.UserNotFound
	}
	if err != nil {
		return deps.storageError("toggle account status", email, err)
	}

	deps.MetricInc(deps.Metrics.AccountToggled)
	if closed > 0 {
		deps.MetricInc(deps.Metrics.SessionInvalidated)
	}
	deps.EmitAudit(ctx, event, true, email, "", nil, func() map[string]string {
		return map[string]string{"actor": actor.Email, "sessions_closed": fmt.Sprint(closed)}
	})
	deps.Logger.Info("account status changed", "email", email, "active", active, "actor", actor.Email, "sessions_closed", closed)
	return nil
}

// RunAuthorizeAdmin checks that admin may perform administrative reads and
// applies the read throttle.
func RunAuthorizeAdmin(ctx context.Context, admin string, deps AdminDeps) error {
	if err := deps.normalize(); err != nil {
		return err
	}
	actor, err := deps.authorize(ctx, admin)
	if err != nil {
		return err
	}
	return deps.throttle(ctx, limiters.ActionAdminRead, actor.Email, actor.Email)
}

// GetAccountsStatus lists accounts with their statistics.
func GetAccountsStatus(ctx context.Context, f stores.AccountFilter, deps Common) ([]stores.AccountStatus, error) {
	if err := deps.normalize(); err != nil {
		return nil, err
	}
	out, err := deps.Repos.Accounts.ListStatus(ctx, f, deps.Now().UTC())
	switch {
	case err == nil:
		return out, nil
	case errors.Is(err, stores.ErrStore):
		return nil, deps.storageError("list accounts", "", err)
	default:
		// unknown state or ordering
		return nil, deps.validationError(err)
	}
}

// GetGeneralStats computes the dashboard summary.
func GetGeneralStats(ctx context.Context, deps Common) (stores.SystemStats, error) {
	if err := deps.normalize(); err != nil {
		return stores.SystemStats{}, err
	}
	out, err := deps.Repos.Stats.General(ctx, deps.Now().UTC())
	if err != nil {
		return stores.SystemStats{}, deps.storageError("general stats", "", err)
	}
	return out, nil
}

// GetAccessLog returns the newest access-log rows of email.
func GetAccessLog(ctx context.Context, email string, limit int, deps Common) ([]stores.AccessEntry, error) {
	if err := deps.normalize(); err != nil {
		return nil, err
	}
	email = strings.ToLower(strings.TrimSpace(email))
	out, err := deps.Repos.AccessLog.ForEmail(ctx, email, "", limit)
	if err != nil {
		return nil, deps.storageError("access log", email, err)
	}
	return out, nil
}

// GetActivity aggregates the access log per day over the given span.
func GetActivity(ctx context.Context, span time.Duration, deps Common) ([]stores.DailyActivity, error) {
	if err := deps.normalize(); err != nil {
		return nil, err
	}
	out, err := deps.Repos.AccessLog.Activity(ctx, deps.Now().UTC().Add(-span))
	if err != nil {
		return nil, deps.storageError("activity", "", err)
	}
	return out, nil
}

// ListSessions returns the active sessions of email.
func ListSessions(ctx context.Context, email string, deps Common) ([]session.Session, error) {
	if err := deps.normalize(); err != nil {
		return nil, err
	}
	if deps.Repos.Sessions == nil {
		return nil, deps.Errors.EngineNotReady
	}
	email = strings.ToLower(strings.TrimSpace(email))
	out, err := deps.Repos.Sessions.ListActive(ctx, email)
	if err != nil {
		return nil, deps.storageError("list sessions", email, err)
	}
	return out, nil
}

/* ==== ALERTS ==== */

// Alert levels.
const (
	AlertInfo    = "info"
	AlertWarning = "warning"
	AlertError   = "error"
)

// Alert is one operational condition worth an operator's attention.
type Alert struct {
	Level   string
	Kind    string
	Message string
	Count   int
}

// AlertThresholds tunes RunSystemAlerts.
type AlertThresholds struct {
	FailedLoginsPerHour int
	UnverifiedAge       time.Duration
	LongSessionAge      time.Duration
}

// DefaultAlertThresholds returns the production thresholds.
func DefaultAlertThresholds() AlertThresholds {
	return AlertThresholds{
		FailedLoginsPerHour: 10,
		UnverifiedAge:       24 * time.Hour,
		LongSessionAge:      12 * time.Hour,
	}
}

// RunSystemAlerts evaluates the alert conditions. It never fails: a storage
// error becomes a single error-level alert.
func RunSystemAlerts(ctx context.Context, deps AdminDeps) []Alert {
	if err := deps.normalize(); err != nil {
		return []Alert{{Level: AlertError, Kind: "engine", Message: "authority is not initialized"}}
	}
	th := deps.Alerts
	def := DefaultAlertThresholds()
	if th.FailedLoginsPerHour <= 0 {
		th.FailedLoginsPerHour = def.FailedLoginsPerHour
	}
	if th.UnverifiedAge <= 0 {
		th.UnverifiedAge = def.UnverifiedAge
	}
	if th.LongSessionAge <= 0 {
		th.LongSessionAge = def.LongSessionAge
	}

	alerts, err := evaluateAlerts(ctx, deps, th)
	if err != nil {
		_ = deps.storageError("system alerts", "", err)
		return []Alert{{Level: AlertError, Kind: "storage", Message: "alert conditions could not be evaluated"}}
	}
	return alerts
}

func evaluateAlerts(ctx context.Context, deps AdminDeps, th AlertThresholds) ([]Alert, error) {
	now := deps.Now().UTC()
	var alerts []Alert

	locked, err := deps.Repos.Accounts.CountLocked(ctx, now)
	if err != nil {
		return nil, err
	}
	if locked > 0 {
		alerts = append(alerts, Alert{
			Level: AlertWarning, Kind: "locked_accounts", Count: locked,
			Message: fmt.Sprintf("%d account(s) currently locked", locked),
		})
	}

	failed, err := deps.Repos.AccessLog.CountSince(ctx, stores.ActionLoginFailed, "", "", now.Add(-time.Hour), false)
	if err != nil {
		return nil, err
	}
	if failed > th.FailedLoginsPerHour {
		alerts = append(alerts, Alert{
			Level: AlertError, Kind: "failed_logins", Count: failed,
			Message: fmt.Sprintf("%d failed logins in the last hour", failed),
		})
	}

	unverified, err := deps.Repos.Accounts.CountUnverifiedBefore(ctx, now.Add(-th.UnverifiedAge))
	if err != nil {
		return nil, err
	}
	if unverified > 0 {
		alerts = append(alerts, Alert{
			Level: AlertInfo, Kind: "unverified_accounts", Count: unverified,
			Message: fmt.Sprintf("%d account(s) unverified for more than %s", unverified, th.UnverifiedAge),
		})
	}

	if deps.Repos.Sessions != nil {
		long, err := deps.Repos.Sessions.CountOlderThan(ctx, th.LongSessionAge)
		if err != nil {
			return nil, err
		}
		if long > 0 {
			alerts = append(alerts, Alert{
				Level: AlertWarning, Kind: "long_sessions", Count: long,
				Message: fmt.Sprintf("%d session(s) open for more than %s", long, th.LongSessionAge),
			})
		}
	}
	return alerts, nil
}
