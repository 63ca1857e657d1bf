package authority

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	internalaudit "github.com/mapvision/authority/internal/audit"
	"github.com/mapvision/authority/internal/flows"
	"github.com/mapvision/authority/internal/limiters"
	"github.com/mapvision/authority/internal/stores"
	"github.com/mapvision/authority/internal/validator"
	"github.com/mapvision/authority/notify"
	"github.com/mapvision/authority/password"
	"github.com/mapvision/authority/session"
	"github.com/mapvision/authority/store"
)

var errNotification = errors.New("notification delivery failed")

// Engine is the identity and session authority. Build one with [New] and
// share it; every method is safe for concurrent use. Call Close on shutdown
// so pending notifications and audit events are flushed.
type Engine struct {
	config    Config
	db        *store.DB
	sessions  *session.Authority
	validator *validator.Validator
	hasher    password.Hasher
	limiter   *limiters.Limiter
	templates *notify.Templates
	sender    notify.Sender
	audit     *internalaudit.Dispatcher
	metrics   *Metrics
	log       *slog.Logger
	now       func() time.Time

	flows flows.Service

	// notifyMu orders pending-send registration against Close.
	notifyMu sync.RWMutex
	notifyWG sync.WaitGroup
	closed   atomic.Bool

	maintMu     sync.Mutex
	maintCancel context.CancelFunc
	maintDone   chan struct{}
}

func (e *Engine) flowDeps(dummyHash string) flows.Deps {
	common := flows.Common{
		Now:       e.now,
		ClientIP:  ClientIPFromContext,
		UserAgent: userAgentFromContext,
		Repos:     flows.NewRepos(e.db, e.sessions),
		InTx:      flows.StoreTx(e.db, e.sessions),
		MetricInc: func(id int) { e.metrics.Inc(MetricID(id)) },
		EmitAudit: e.emitAudit,
		Logger:    e.log,
		Metrics:   flowMetrics(),
		Errors: flows.Errors{
			EngineNotReady:         ErrEngineNotReady,
			Validation:             ErrValidation,
			InvalidCredentials:     ErrInvalidCredentials,
			AccountLocked:          ErrAccountLocked,
			AccountDisabled:        ErrAccountDisabled,
			AccountUnverified:      ErrAccountUnverified,
			AccountExists:          ErrAccountExists,
			UserNotFound:           ErrUserNotFound,
			RateLimited:            ErrRateLimited,
			InvalidToken:           ErrInvalidToken,
			InvalidCurrentPassword: ErrInvalidCurrentPassword,
			PasswordReuse:          ErrPasswordReuse,
			CannotDisableSelf:      ErrCannotDisableSelf,
			PermissionDenied:       ErrPermissionDenied,
			Storage:                ErrStorage,
			Dependency:             ErrDependency,
		},
	}
	if e.limiter != nil {
		common.Limit = e.limiter.CheckAndRecord
	}

	cfg := e.config
	admin := flows.AdminDeps{
		Common:          common,
		IsAdministrator: isAdministrator,
		Alerts: flows.AlertThresholds{
			FailedLoginsPerHour: cfg.Alerts.FailedLoginsPerHour,
			UnverifiedAge:       cfg.Alerts.UnverifiedAge,
			LongSessionAge:      cfg.Alerts.LongSessionAge,
		},
		Maintenance: flows.MaintenancePolicy{
			AccessLogRetention: cfg.Maintenance.AccessLogRetention,
			UsedTokenRetention: cfg.Maintenance.UsedTokenRetention,
		},
	}
	if e.limiter != nil {
		admin.PruneLimiter = e.limiter.Prune
	}

	return flows.Deps{
		Common: common,
		Register: flows.RegisterDeps{
			Common:          common,
			Validate:        e.validator.Registration,
			HashPassword:    e.hasher.Hash,
			VerificationTTL: cfg.Tokens.VerificationTTL,
			Notify:          e.notify,
		},
		Login: flows.LoginDeps{
			Common:              common,
			ValidateLogin:       e.validator.Login,
			VerifyPassword:      e.hasher.Verify,
			NeedsUpgrade:        e.hasher.NeedsUpgrade,
			HashPassword:        e.hasher.Hash,
			DummyHash:           dummyHash,
			LockoutThreshold:    cfg.Lockout.Threshold,
			LockoutDuration:     cfg.Lockout.Duration,
			RequireVerification: cfg.Lockout.RequireVerifiedEmail,
			UpgradeOnLogin:      cfg.Password.UpgradeOnLogin,
		},
		Token: flows.TokenDeps{
			Common:           common,
			ValidateToken:    e.validator.Token,
			ValidateEmail:    e.validator.EmailShape,
			ValidatePassword: e.validator.NewPassword,
			VerifyPassword:   e.hasher.Verify,
			HashPassword:     e.hasher.Hash,
			VerificationTTL:  cfg.Tokens.VerificationTTL,
			ResetTTL:         cfg.Tokens.ResetTTL,
			Notify:           e.notify,
		},
		Admin: admin,
	}
}

func (e *Engine) ready() bool {
	return e != nil && !e.closed.Load() && e.flows.Initialized()
}

func sameEmail(a, b string) bool {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	return a != "" && strings.EqualFold(a, b)
}

/* ==== Registration and login ==== */

// Register describes the register operation and its observable behavior.
//
// Register validates the request, creates the account with its first verification token and queues the verification message.
// Register never returns the verification token to the caller.
func (e *Engine) Register(ctx context.Context, req RegisterRequest) Result {
	if !e.ready() {
		return failure(ErrEngineNotReady)
	}
	res, err := e.flows.Register(ctx, req)
	if err != nil {
		return failure(err)
	}
	r := succeeded("Registration successful. Please check your email to verify your account")
	r.Account = &AccountView{Email: res.Email, Role: res.Role}
	return r
}

// Login authenticates email and password and opens a session. On success
// Result.SessionToken carries the opaque token and Result.Account the
// account; a locked account reports BlockedUntil.
func (e *Engine) Login(ctx context.Context, email, password string, rememberMe bool) Result {
	if !e.ready() {
		return failure(ErrEngineNotReady)
	}
	res, err := e.flows.Login(ctx, email, password, rememberMe)
	if err != nil {
		return failure(err)
	}
	a := res.Account
	r := succeeded("Login successful")
	r.SessionToken = res.Session.Token
	r.Account = &AccountView{
		Email:            a.Email,
		GivenName:        a.GivenName,
		FamilyName:       a.FamilyName,
		Company:          a.Company,
		Phone:            a.Phone,
		Role:             a.Role,
		EmailVerified:    a.EmailVerified,
		SessionID:        res.Session.ID,
		SessionCreatedAt: res.Session.CreatedAt,
		SessionExpiresAt: res.Session.ExpiresAt,
	}
	return r
}

// VerifySession authenticates a session token. Every failure returns a nil
// view; the error is ErrInvalidToken for bad sessions and ErrStorage when the
// record store failed.
func (e *Engine) VerifySession(ctx context.Context, token string) (*AccountView, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	start := time.Now()
	view, err := e.flows.VerifySession(ctx, token)
	e.metrics.Observe(MetricVerifySessionLatency, time.Since(start))
	if err != nil {
		e.metrics.Inc(MetricSessionVerifyFailure)
		return nil, err
	}
	return view, nil
}

// Logout closes the session of token. Unknown and already closed tokens
// succeed.
func (e *Engine) Logout(ctx context.Context, token string) Result {
	if !e.ready() {
		return failure(ErrEngineNotReady)
	}
	if err := e.flows.Logout(ctx, token); err != nil {
		return failure(err)
	}
	return succeeded("Logged out")
}

/* ==== Email verification and passwords ==== */

// VerifyEmail consumes a verification token and marks the account verified.
func (e *Engine) VerifyEmail(ctx context.Context, token string) Result {
	if !e.ready() {
		return failure(ErrEngineNotReady)
	}
	email, err := e.flows.VerifyEmail(ctx, token)
	if err != nil {
		return failure(err)
	}
	r := succeeded("Email verified. You can now sign in")
	r.Account = &AccountView{Email: email, EmailVerified: true}
	return r
}

// ResendVerification issues a fresh verification token. The result is the
// same whether or not an eligible account exists.
func (e *Engine) ResendVerification(ctx context.Context, email string) Result {
	if !e.ready() {
		return failure(ErrEngineNotReady)
	}
	if err := e.flows.ResendVerification(ctx, email); err != nil {
		return failure(err)
	}
	return succeeded("If the account exists and is not verified, a new verification email has been sent")
}

// RequestPasswordReset describes the requestpasswordreset operation and its observable behavior.
//
// RequestPasswordReset succeeds whether or not the email belongs to an account, so callers cannot enumerate accounts.
// Only throttling, validation and internal failures are reported.
func (e *Engine) RequestPasswordReset(ctx context.Context, email string) Result {
	if !e.ready() {
		return failure(ErrEngineNotReady)
	}
	if err := e.flows.RequestPasswordReset(ctx, email); err != nil {
		return failure(err)
	}
	return succeeded("If the email is registered, a reset link has been sent")
}

// CompletePasswordReset sets a new password through a reset token, clears
// any lock and closes every session of the account.
func (e *Engine) CompletePasswordReset(ctx context.Context, token, newPassword string) Result {
	if !e.ready() {
		return failure(ErrEngineNotReady)
	}
	if err := e.flows.CompletePasswordReset(ctx, token, newPassword); err != nil {
		return failure(err)
	}
	return succeeded("Password updated. Please sign in again")
}

// ChangePassword replaces the password of an authenticated account. Every
// session of the account, including the caller's, is closed.
func (e *Engine) ChangePassword(ctx context.Context, email, currentPassword, newPassword string) Result {
	if !e.ready() {
		return failure(ErrEngineNotReady)
	}
	if err := e.flows.ChangePassword(ctx, email, currentPassword, newPassword); err != nil {
		return failure(err)
	}
	return succeeded("Password changed. Please sign in again")
}

// PasswordStrength scores password from 0 to 100.
func (e *Engine) PasswordStrength(password string) int {
	return e.validator.Strength(password)
}

// PasswordSuggestions lists ways to strengthen password.
func (e *Engine) PasswordSuggestions(password string) []string {
	return e.validator.Suggestions(password)
}

/* ==== Administration ==== */

// ToggleAccountStatus enables or disables email on behalf of admin.
// Disabling closes every session of the account.
func (e *Engine) ToggleAccountStatus(ctx context.Context, email string, active bool, admin string) Result {
	if !e.ready() {
		return failure(ErrEngineNotReady)
	}
	if err := e.flows.ToggleAccountStatus(ctx, email, active, admin); err != nil {
		return failure(err)
	}
	if active {
		return succeeded("Account enabled")
	}
	return succeeded("Account disabled")
}

// GetAccountsStatus lists accounts for admin.
func (e *Engine) GetAccountsStatus(ctx context.Context, admin string, f AccountFilter) ([]AccountStatus, error) {
	if err := e.authorizeRead(ctx, admin); err != nil {
		return nil, err
	}
	return e.flows.AccountsStatus(ctx, f)
}

// GetSystemAlerts evaluates the alert conditions for admin.
func (e *Engine) GetSystemAlerts(ctx context.Context, admin string) ([]Alert, error) {
	if err := e.authorizeRead(ctx, admin); err != nil {
		return nil, err
	}
	return e.flows.SystemAlerts(ctx), nil
}

// GetGeneralStats computes the dashboard summary for admin.
func (e *Engine) GetGeneralStats(ctx context.Context, admin string) (SystemStats, error) {
	if err := e.authorizeRead(ctx, admin); err != nil {
		return SystemStats{}, err
	}
	return e.flows.GeneralStats(ctx)
}

// GetAccessLog returns up to limit of the newest access-log rows of email.
func (e *Engine) GetAccessLog(ctx context.Context, admin, email string, limit int) ([]AccessEntry, error) {
	if err := e.authorizeRead(ctx, admin); err != nil {
		return nil, err
	}
	return e.flows.AccessLog(ctx, email, limit)
}

// GetActivity aggregates the access log per day over the last span.
func (e *Engine) GetActivity(ctx context.Context, admin string, span time.Duration) ([]DailyActivity, error) {
	if err := e.authorizeRead(ctx, admin); err != nil {
		return nil, err
	}
	return e.flows.Activity(ctx, span)
}

// GetActiveSessions lists the open sessions of email. Account holders may
// list their own; anyone else needs the administrator role.
func (e *Engine) GetActiveSessions(ctx context.Context, actor, email string) ([]Session, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	if !sameEmail(actor, email) {
		if err := e.authorizeRead(ctx, actor); err != nil {
			return nil, err
		}
	}
	return e.flows.ActiveSessions(ctx, email)
}

func (e *Engine) authorizeRead(ctx context.Context, admin string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	return e.flows.AuthorizeAdmin(ctx, admin)
}

/* ==== Maintenance ==== */

// RunMaintenance runs one maintenance pass on behalf of admin. It deletes
// expired tokens, closes expired sessions, prunes the access log and
// limiter state and clears stale connected flags. Running it again right
// away changes nothing.
func (e *Engine) RunMaintenance(ctx context.Context, admin string) (MaintenanceReport, error) {
	if !e.ready() {
		return MaintenanceReport{}, ErrEngineNotReady
	}
	return e.flows.AdminMaintenance(ctx, admin)
}

// StartMaintenance runs a maintenance pass every interval until ctx ends or
// the engine closes. A non-positive interval uses Config.Maintenance.Interval.
// Calling it while a loop is running replaces that loop.
func (e *Engine) StartMaintenance(ctx context.Context, interval time.Duration) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if interval <= 0 {
		interval = e.config.Maintenance.Interval
	}
	if interval <= 0 {
		return errors.New("maintenance interval must be > 0")
	}

	e.stopMaintenance()
	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	e.maintMu.Lock()
	e.maintCancel, e.maintDone = cancel, done
	e.maintMu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				if _, err := e.flows.Maintenance(loopCtx); err != nil {
					e.log.Error("scheduled maintenance failed", "error", err)
				}
			}
		}
	}()
	e.log.Info("maintenance loop started", "interval", interval)
	return nil
}

func (e *Engine) stopMaintenance() {
	e.maintMu.Lock()
	cancel, done := e.maintCancel, e.maintDone
	e.maintCancel, e.maintDone = nil, nil
	e.maintMu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

/* ==== Notifications ==== */

// notify renders and sends one message in the background. Delivery
// failures are logged, counted and audited; they never reach the caller.
func (e *Engine) notify(ctx context.Context, kind flows.NotificationKind, to, name, token string) {
	if !e.config.Notification.Enabled {
		e.metrics.Inc(MetricNotificationSuppressed)
		return
	}

	var (
		msg notify.Message
		err error
	)
	switch kind {
	case flows.NotifyVerification:
		msg, err = e.templates.Verification(to, name, token, e.config.Tokens.VerificationTTL)
	case flows.NotifyPasswordReset:
		msg, err = e.templates.PasswordReset(to, name, token, e.config.Tokens.ResetTTL)
	case flows.NotifyWelcome:
		msg, err = e.templates.Welcome(to, name)
	default:
		err = fmt.Errorf("unknown notification kind %d", kind)
	}
	if err != nil {
		e.log.Error("notification rendering failed", "to", to, "kind", notificationName(kind), "error", err)
		e.metrics.Inc(MetricNotificationFailed)
		return
	}

	e.notifyMu.RLock()
	defer e.notifyMu.RUnlock()
	if e.closed.Load() {
		e.metrics.Inc(MetricNotificationSuppressed)
		return
	}
	e.notifyWG.Add(1)

	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.config.Notification.SendTimeout)
	go func() {
		defer e.notifyWG.Done()
		defer cancel()
		if err := e.sender.Send(sendCtx, msg); err != nil {
			e.metrics.Inc(MetricNotificationFailed)
			e.log.Warn("notification not delivered", "to", to, "kind", notificationName(kind), "error", err)
			e.emitAudit(sendCtx, internalaudit.EventNotificationFailed, false, to, "",
				fmt.Errorf("%w: %v", errNotification, err),
				func() map[string]string { return map[string]string{"kind": notificationName(kind)} })
			return
		}
		e.metrics.Inc(MetricNotificationSent)
	}()
}

func notificationName(kind flows.NotificationKind) string {
	switch kind {
	case flows.NotifyVerification:
		return "verification"
	case flows.NotifyPasswordReset:
		return "password_reset"
	case flows.NotifyWelcome:
		return "welcome"
	default:
		return "unknown"
	}
}

// onSubnetChange records a loose-binding subnet change in the access log.
func (e *Engine) onSubnetChange(ctx context.Context, view session.AccountView, boundIP, currentIP string) {
	e.metrics.Inc(MetricSubnetMismatch)
	err := stores.NewAccessLogStore(e.db).Append(ctx, stores.AccessEntry{
		Email:     view.Email,
		Action:    stores.ActionSessionSubnetChanged,
		Success:   true,
		IP:        currentIP,
		UserAgent: userAgentFromContext(ctx),
		Detail:    "bound to " + boundIP,
		CreatedAt: e.now().UTC(),
	})
	if err != nil {
		e.log.Error("access log write failed", "action", stores.ActionSessionSubnetChanged, "email", view.Email, "error", err)
	}
	e.emitAudit(ctx, internalaudit.EventSessionSubnetChanged, true, view.Email, view.SessionID, nil, func() map[string]string {
		return map[string]string{"bound_ip": boundIP, "current_ip": currentIP}
	})
}

/* ==== Observability and lifecycle ==== */

// MetricsSnapshot returns a copy of the engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil {
		return NewMetrics(MetricsConfig{}).Snapshot()
	}
	return e.metrics.Snapshot()
}

// AuditDropped returns the number of audit events dropped because the
// dispatcher buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

// Ping reports whether the engine accepts work and the record store answers.
func (e *Engine) Ping(ctx context.Context) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if err := e.db.SQL().PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return nil
}

// Config returns a copy of the effective configuration.
func (e *Engine) Config() Config {
	return cloneConfig(e.config)
}

// Close stops the maintenance loop, waits for pending notifications and
// flushes the audit dispatcher. The record store stays open. The engine
// rejects further work after Close.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.stopMaintenance()

	e.notifyMu.Lock()
	already := e.closed.Swap(true)
	e.notifyMu.Unlock()
	if already {
		return
	}

	e.notifyWG.Wait()
	e.audit.Close()
	e.log.Info("authority engine closed")
}
