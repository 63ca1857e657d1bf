package internaldefs

import (
	"github.com/mapvision/authority"
)

// CounterDef names one engine counter for exporters.
type CounterDef struct {
	ID   authority.MetricID
	Name string
	Help string
}

// HistogramDef names one engine histogram for exporters.
type HistogramDef struct {
	ID   authority.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in exposition order.
var CounterDefs = []CounterDef{
	{ID: authority.MetricRegisterSuccess, Name: "authority_register_success_total", Help: "Accounts registered."},
	{ID: authority.MetricRegisterFailure, Name: "authority_register_failure_total", Help: "Rejected registrations."},
	{ID: authority.MetricLoginSuccess, Name: "authority_login_success_total", Help: "Successful logins."},
	{ID: authority.MetricLoginFailure, Name: "authority_login_failure_total", Help: "Failed logins."},
	{ID: authority.MetricLoginLocked, Name: "authority_login_locked_total", Help: "Accounts locked or logins refused while locked."},
	{ID: authority.MetricSessionCreated, Name: "authority_session_created_total", Help: "Sessions opened."},
	{ID: authority.MetricSessionInvalidated, Name: "authority_session_invalidated_total", Help: "Operations that closed sessions."},
	{ID: authority.MetricSessionVerifyFailure, Name: "authority_session_verify_failure_total", Help: "Rejected session checks."},
	{ID: authority.MetricSubnetMismatch, Name: "authority_session_subnet_mismatch_total", Help: "Sessions used from outside their bound subnet."},
	{ID: authority.MetricTokenIssued, Name: "authority_token_issued_total", Help: "Single-use tokens issued."},
	{ID: authority.MetricTokenConsumed, Name: "authority_token_consumed_total", Help: "Single-use tokens consumed."},
	{ID: authority.MetricTokenInvalid, Name: "authority_token_invalid_total", Help: "Rejected single-use tokens."},
	{ID: authority.MetricEmailVerified, Name: "authority_email_verified_total", Help: "Email addresses verified."},
	{ID: authority.MetricPasswordResetRequest, Name: "authority_password_reset_request_total", Help: "Password reset requests."},
	{ID: authority.MetricPasswordResetComplete, Name: "authority_password_reset_complete_total", Help: "Completed password resets."},
	{ID: authority.MetricPasswordChanged, Name: "authority_password_changed_total", Help: "Password changes."},
	{ID: authority.MetricAccountToggled, Name: "authority_account_toggled_total", Help: "Accounts enabled or disabled by an administrator."},
	{ID: authority.MetricRateLimitHit, Name: "authority_rate_limit_hit_total", Help: "Requests denied by a throttle."},
	{ID: authority.MetricPasswordHashUpgraded, Name: "authority_password_hash_upgraded_total", Help: "Password hashes upgraded at login."},
	{ID: authority.MetricPermissionDenied, Name: "authority_permission_denied_total", Help: "Administrative requests denied."},
	{ID: authority.MetricValidationFailure, Name: "authority_validation_failure_total", Help: "Requests rejected by input validation."},
	{ID: authority.MetricStorageFailure, Name: "authority_storage_failure_total", Help: "Record store failures."},
	{ID: authority.MetricNotificationSent, Name: "authority_notification_sent_total", Help: "Messages delivered."},
	{ID: authority.MetricNotificationFailed, Name: "authority_notification_failed_total", Help: "Messages not delivered."},
	{ID: authority.MetricNotificationSuppressed, Name: "authority_notification_suppressed_total", Help: "Messages skipped because delivery is off or the engine is closing."},
	{ID: authority.MetricMaintenanceRun, Name: "authority_maintenance_run_total", Help: "Maintenance passes."},
	{ID: authority.MetricSessionsSwept, Name: "authority_sessions_swept_total", Help: "Expired sessions closed by maintenance."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: authority.MetricVerifySessionLatency, Name: "authority_verify_session_latency_seconds", Help: "VerifySession latency."},
}

// HistogramBounds are the upper bounds of the engine buckets in seconds.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// NormalizeBuckets copies raw into a fixed array, zero-filling missing buckets.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets converts per-bucket counts to the cumulative form
// exporters publish.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
