package flows

import (
	"context"
	"time"

	"github.com/mapvision/authority/internal/stores"
	"github.com/mapvision/authority/internal/validator"
	"github.com/mapvision/authority/session"
)

// Deps groups the per-flow dependency structs.
type Deps struct {
	Common   Common
	Register RegisterDeps
	Login    LoginDeps
	Token    TokenDeps
	Admin    AdminDeps
}

// Service is the centralized flow runner built once by the root engine.
type Service struct {
	deps Deps
}

// New returns a flow service with immutable dependency wiring.
func New(deps Deps) Service {
	return Service{deps: deps}
}

// Initialized reports whether the service has been wired with flow deps.
func (s Service) Initialized() bool {
	return s.deps.Common.InTx != nil && s.deps.Common.Repos.Accounts != nil
}

func (s Service) Register(ctx context.Context, in validator.Registration) (RegisterResult, error) {
	return RunRegister(ctx, in, s.deps.Register)
}

func (s Service) Login(ctx context.Context, email, password string, rememberMe bool) (*LoginResult, error) {
	return RunLogin(ctx, email, password, rememberMe, s.deps.Login)
}

func (s Service) VerifySession(ctx context.Context, token string) (*session.AccountView, error) {
	return RunVerifySession(ctx, token, s.deps.Common)
}

func (s Service) Logout(ctx context.Context, token string) error {
	return RunLogout(ctx, token, s.deps.Common)
}

func (s Service) VerifyEmail(ctx context.Context, token string) (string, error) {
	return RunVerifyEmail(ctx, token, s.deps.Token)
}

func (s Service) ResendVerification(ctx context.Context, email string) error {
	return RunResendVerification(ctx, email, s.deps.Token)
}

func (s Service) RequestPasswordReset(ctx context.Context, email string) error {
	return RunRequestPasswordReset(ctx, email, s.deps.Token)
}

func (s Service) CompletePasswordReset(ctx context.Context, token, newPassword string) error {
	return RunCompletePasswordReset(ctx, token, newPassword, s.deps.Token)
}

func (s Service) ChangePassword(ctx context.Context, email, currentPassword, newPassword string) error {
	return RunChangePassword(ctx, email, currentPassword, newPassword, s.deps.Token)
}

func (s Service) ToggleAccountStatus(ctx context.Context, email string, active bool, admin string) error {
	return RunToggleAccountStatus(ctx, email, active, admin, s.deps.Admin)
}

func (s Service) AuthorizeAdmin(ctx context.Context, admin string) error {
	return RunAuthorizeAdmin(ctx, admin, s.deps.Admin)
}

func (s Service) AccountsStatus(ctx context.Context, f stores.AccountFilter) ([]stores.AccountStatus, error) {
	return GetAccountsStatus(ctx, f, s.deps.Common)
}

func (s Service) SystemAlerts(ctx context.Context) []Alert {
	return RunSystemAlerts(ctx, s.deps.Admin)
}

func (s Service) GeneralStats(ctx context.Context) (stores.SystemStats, error) {
	return GetGeneralStats(ctx, s.deps.Common)
}

func (s Service) AccessLog(ctx context.Context, email string, limit int) ([]stores.AccessEntry, error) {
	return GetAccessLog(ctx, email, limit, s.deps.Common)
}

func (s Service) Activity(ctx context.Context, span time.Duration) ([]stores.DailyActivity, error) {
	return GetActivity(ctx, span, s.deps.Common)
}

func (s Service) ActiveSessions(ctx context.Context, email string) ([]session.Session, error) {
	return ListSessions(ctx, email, s.deps.Common)
}

func (s Service) Maintenance(ctx context.Context) (MaintenanceReport, error) {
	return RunMaintenance(ctx, s.deps.Admin)
}

func (s Service) AdminMaintenance(ctx context.Context, admin string) (MaintenanceReport, error) {
	return RunAdminMaintenance(ctx, admin, s.deps.Admin)
}
