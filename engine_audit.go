package authority

import (
	"context"
	"errors"
)

// AuditErrorCode is the stable error label carried by audit events.
type AuditErrorCode string

const (
	auditErrValidation             AuditErrorCode = "validation"
	auditErrInvalidCredentials     AuditErrorCode = "invalid_credentials"
	auditErrAccountLocked          AuditErrorCode = "account_locked"
	auditErrAccountDisabled        AuditErrorCode = "account_disabled"
	auditErrAccountUnverified      AuditErrorCode = "account_unverified"
	auditErrAccountExists          AuditErrorCode = "account_exists"
	auditErrUserNotFound           AuditErrorCode = "user_not_found"
	auditErrRateLimited            AuditErrorCode = "rate_limited"
	auditErrInvalidToken           AuditErrorCode = "invalid_token"
	auditErrInvalidCurrentPassword AuditErrorCode = "invalid_current_password"
	auditErrPasswordReuse          AuditErrorCode = "password_reuse"
	auditErrCannotDisableSelf      AuditErrorCode = "cannot_disable_self"
	auditErrPermissionDenied       AuditErrorCode = "permission_denied"
	auditErrStorage                AuditErrorCode = "storage_failure"
	auditErrNotification           AuditErrorCode = "notification_failure"
	auditErrInternal               AuditErrorCode = "internal_error"
)

// emitAudit is the flows.AuditFunc of the engine. The metadata builder runs
// only when a dispatcher is configured.
func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	email string,
	sessionID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: e.now().UTC(),
		EventType: eventType,
		Email:     email,
		SessionID: sessionID,
		IP:        ClientIPFromContext(ctx),
		UserAgent: userAgentFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if actor := metadata["actor"]; actor != "" {
		event.Actor = actor
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrValidation):
		return auditErrValidation
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrAccountLocked):
		return auditErrAccountLocked
	case errors.Is(err, ErrAccountDisabled):
		return auditErrAccountDisabled
	case errors.Is(err, ErrAccountUnverified):
		return auditErrAccountUnverified
	case errors.Is(err, ErrAccountExists):
		return auditErrAccountExists
	case errors.Is(err, ErrUserNotFound):
		return auditErrUserNotFound
	case errors.Is(err, ErrRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrInvalidToken):
		return auditErrInvalidToken
	case errors.Is(err, ErrInvalidCurrentPassword):
		return auditErrInvalidCurrentPassword
	case errors.Is(err, ErrPasswordReuse):
		return auditErrPasswordReuse
	case errors.Is(err, ErrCannotDisableSelf):
		return auditErrCannotDisableSelf
	case errors.Is(err, ErrPermissionDenied):
		return auditErrPermissionDenied
	case errors.Is(err, ErrStorage):
		return auditErrStorage
	case errors.Is(err, errNotification):
		return auditErrNotification
	default:
		return auditErrInternal
	}
}
