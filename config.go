package authority

import (
	"errors"
	"fmt"
	"time"

	"github.com/mapvision/authority/internal/flows"
	"github.com/mapvision/authority/internal/validator"
	"github.com/mapvision/authority/notify"
	"github.com/mapvision/authority/password"
	"github.com/mapvision/authority/session"
)

// Config is the complete engine configuration. Obtain one from
// [DefaultConfig] or [LoadConfigFile] and adjust it before handing it to
// [Builder.WithConfig]; the builder keeps its own copy.
type Config struct {
	Session      session.Config     `yaml:"session" toml:"session" envPrefix:"SESSION_"`
	Lockout      LockoutConfig      `yaml:"lockout" toml:"lockout" envPrefix:"LOCKOUT_"`
	Tokens       TokenConfig        `yaml:"tokens" toml:"tokens" envPrefix:"TOKENS_"`
	Password     PasswordConfig     `yaml:"password" toml:"password" envPrefix:"PASSWORD_"`
	Validation   ValidationConfig   `yaml:"validation" toml:"validation" envPrefix:"VALIDATION_"`
	RateLimit    RateLimitConfig    `yaml:"rate_limit" toml:"rate_limit" envPrefix:"RATE_LIMIT_"`
	Notification NotificationConfig `yaml:"notification" toml:"notification" envPrefix:"NOTIFY_"`
	Alerts       AlertConfig        `yaml:"alerts" toml:"alerts" envPrefix:"ALERTS_"`
	Maintenance  MaintenanceConfig  `yaml:"maintenance" toml:"maintenance" envPrefix:"MAINTENANCE_"`
	Audit        AuditConfig        `yaml:"audit" toml:"audit" envPrefix:"AUDIT_"`
	Metrics      MetricsConfig      `yaml:"metrics" toml:"metrics" envPrefix:"METRICS_"`
}

/*
====================================
LOCKOUT CONFIG
====================================
*/

// LockoutConfig controls failed-login lockout.
type LockoutConfig struct {
	// Threshold is the number of consecutive failures that locks an account.
	Threshold int           `yaml:"threshold" toml:"threshold" env:"THRESHOLD"`
	Duration  time.Duration `yaml:"duration" toml:"duration" env:"DURATION"`
	// RequireVerifiedEmail refuses login until the email is verified.
	RequireVerifiedEmail bool `yaml:"require_verified_email" toml:"require_verified_email" env:"REQUIRE_VERIFIED_EMAIL"`
}

/*
====================================
TOKEN CONFIG
====================================
*/

// TokenConfig sets single-use token lifetimes.
type TokenConfig struct {
	VerificationTTL time.Duration `yaml:"verification_ttl" toml:"verification_ttl" env:"VERIFICATION_TTL"`
	ResetTTL        time.Duration `yaml:"reset_ttl" toml:"reset_ttl" env:"RESET_TTL"`
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig selects the hashing scheme.
type PasswordConfig struct {
	// Algorithm is "bcrypt" (default) or "argon2id". Hashes of the other
	// scheme are still verified and upgraded on login when UpgradeOnLogin is set.
	Algorithm      string                `yaml:"algorithm" toml:"algorithm" env:"ALGORITHM"`
	BcryptCost     int                   `yaml:"bcrypt_cost" toml:"bcrypt_cost" env:"BCRYPT_COST"`
	Argon2         password.Argon2Params `yaml:"argon2" toml:"argon2" envPrefix:"ARGON2_"`
	UpgradeOnLogin bool                  `yaml:"upgrade_on_login" toml:"upgrade_on_login" env:"UPGRADE_ON_LOGIN"`
}

/*
====================================
VALIDATION CONFIG
====================================
*/

// ValidationConfig tunes input validation.
type ValidationConfig struct {
	MinPasswordLength   int      `yaml:"min_password_length" toml:"min_password_length" env:"MIN_PASSWORD_LENGTH"`
	MaxPasswordLength   int      `yaml:"max_password_length" toml:"max_password_length" env:"MAX_PASSWORD_LENGTH"`
	RequireMixedClasses bool     `yaml:"require_mixed_classes" toml:"require_mixed_classes" env:"REQUIRE_MIXED_CLASSES"`
	CheckMailDomain     bool     `yaml:"check_mail_domain" toml:"check_mail_domain" env:"CHECK_MAIL_DOMAIN"`
	BlockedDomains      []string `yaml:"blocked_domains" toml:"blocked_domains" env:"BLOCKED_DOMAINS" envSeparator:","`
	CommonPasswords     []string `yaml:"common_passwords" toml:"common_passwords" env:"COMMON_PASSWORDS" envSeparator:","`
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RateLimitConfig overrides the built-in throttle limits. A zero field keeps
// the default rule.
type RateLimitConfig struct {
	Enabled bool `yaml:"enabled" toml:"enabled" env:"ENABLED"`
	// RedisPrefix namespaces ephemeral windows when a Redis client is set.
	RedisPrefix string `yaml:"redis_prefix" toml:"redis_prefix" env:"REDIS_PREFIX"`

	RegisterPerHour      int `yaml:"register_per_hour" toml:"register_per_hour" env:"REGISTER_PER_HOUR"`
	ResetPerEmail        int `yaml:"reset_per_email" toml:"reset_per_email" env:"RESET_PER_EMAIL"`
	ResetPerIPPerMinute  int `yaml:"reset_per_ip_per_minute" toml:"reset_per_ip_per_minute" env:"RESET_PER_IP_PER_MINUTE"`
	ResendPerEmail       int `yaml:"resend_per_email" toml:"resend_per_email" env:"RESEND_PER_EMAIL"`
	AdminTogglePerMinute int `yaml:"admin_toggle_per_minute" toml:"admin_toggle_per_minute" env:"ADMIN_TOGGLE_PER_MINUTE"`
	AdminReadPerMinute   int `yaml:"admin_read_per_minute" toml:"admin_read_per_minute" env:"ADMIN_READ_PER_MINUTE"`
	MaintenancePerMinute int `yaml:"maintenance_per_minute" toml:"maintenance_per_minute" env:"MAINTENANCE_PER_MINUTE"`
}

/*
====================================
NOTIFICATION CONFIG
====================================
*/

// NotificationConfig configures message rendering and delivery retries.
type NotificationConfig struct {
	Enabled   bool                  `yaml:"enabled" toml:"enabled" env:"ENABLED"`
	Templates notify.TemplateConfig `yaml:"templates" toml:"templates" envPrefix:"TEMPLATE_"`
	Retry     notify.RetryConfig    `yaml:"retry" toml:"retry" envPrefix:"RETRY_"`
	// SendTimeout bounds one asynchronous delivery including retries.
	SendTimeout time.Duration `yaml:"send_timeout" toml:"send_timeout" env:"SEND_TIMEOUT"`
}

/*
====================================
ALERT AND MAINTENANCE CONFIG
====================================
*/

// AlertConfig sets the system alert thresholds.
type AlertConfig struct {
	FailedLoginsPerHour int           `yaml:"failed_logins_per_hour" toml:"failed_logins_per_hour" env:"FAILED_LOGINS_PER_HOUR"`
	UnverifiedAge       time.Duration `yaml:"unverified_age" toml:"unverified_age" env:"UNVERIFIED_AGE"`
	LongSessionAge      time.Duration `yaml:"long_session_age" toml:"long_session_age" env:"LONG_SESSION_AGE"`
}

// MaintenanceConfig sets retention and the background interval.
type MaintenanceConfig struct {
	Interval           time.Duration `yaml:"interval" toml:"interval" env:"INTERVAL"`
	AccessLogRetention time.Duration `yaml:"access_log_retention" toml:"access_log_retention" env:"ACCESS_LOG_RETENTION"`
	UsedTokenRetention time.Duration `yaml:"used_token_retention" toml:"used_token_retention" env:"USED_TOKEN_RETENTION"`
}

/*
====================================
AUDIT AND METRICS CONFIG
====================================
*/

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool `yaml:"enabled" toml:"enabled" env:"ENABLED"`
	BufferSize int  `yaml:"buffer_size" toml:"buffer_size" env:"BUFFER_SIZE"`
	DropIfFull bool `yaml:"drop_if_full" toml:"drop_if_full" env:"DROP_IF_FULL"`
}

// MetricsConfig controls in-process counters and histograms.
type MetricsConfig struct {
	Enabled                 bool `yaml:"enabled" toml:"enabled" env:"ENABLED"`
	EnableLatencyHistograms bool `yaml:"enable_latency_histograms" toml:"enable_latency_histograms" env:"ENABLE_LATENCY_HISTOGRAMS"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	vd := validator.DefaultConfig()
	alerts := flows.DefaultAlertThresholds()
	return Config{
		Session: session.DefaultConfig(),
		Lockout: LockoutConfig{
			Threshold:            5,
			Duration:             15 * time.Minute,
			RequireVerifiedEmail: true,
		},
		Tokens: TokenConfig{
			VerificationTTL: 24 * time.Hour,
			ResetTTL:        time.Hour,
		},
		Password: PasswordConfig{
			Algorithm:      "bcrypt",
			BcryptCost:     password.DefaultBcryptCost,
			Argon2:         password.DefaultArgon2Params(),
			UpgradeOnLogin: true,
		},
		Validation: ValidationConfig{
			MinPasswordLength: vd.MinPasswordLength,
			MaxPasswordLength: vd.MaxPasswordLength,
			BlockedDomains:    vd.BlockedDomains,
			CommonPasswords:   vd.CommonPasswords,
		},
		RateLimit: RateLimitConfig{
			Enabled:     true,
			RedisPrefix: "authority:rl",
		},
		Notification: NotificationConfig{
			Enabled:     true,
			Templates:   notify.DefaultTemplateConfig(),
			Retry:       notify.DefaultRetryConfig(),
			SendTimeout: 2 * time.Minute,
		},
		Alerts: AlertConfig{
			FailedLoginsPerHour: alerts.FailedLoginsPerHour,
			UnverifiedAge:       alerts.UnverifiedAge,
			LongSessionAge:      alerts.LongSessionAge,
		},
		Maintenance: MaintenanceConfig{
			Interval:           time.Hour,
			AccessLogRetention: 180 * 24 * time.Hour,
			UsedTokenRetention: 7 * 24 * time.Hour,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(c Config) Config {
	out := c
	out.Validation.BlockedDomains = cloneStrings(c.Validation.BlockedDomains)
	out.Validation.CommonPasswords = cloneStrings(c.Validation.CommonPasswords)
	return out
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

// Validate checks the configuration for values the engine cannot run with.
func (c *Config) Validate() error {
	// Session
	if c.Session.Duration <= 0 {
		return errors.New("session duration must be > 0")
	}
	if c.Session.RememberMeDuration < c.Session.Duration {
		return errors.New("remember-me duration must be >= session duration")
	}
	if c.Session.SubnetPrefixV4 < 1 || c.Session.SubnetPrefixV4 > 32 {
		return errors.New("session subnet_prefix_v4 must be in 1..32")
	}
	if c.Session.SubnetPrefixV6 < 1 || c.Session.SubnetPrefixV6 > 128 {
		return errors.New("session subnet_prefix_v6 must be in 1..128")
	}

	// Lockout
	if c.Lockout.Threshold <= 0 {
		return errors.New("lockout threshold must be > 0")
	}
	if c.Lockout.Duration <= 0 {
		return errors.New("lockout duration must be > 0")
	}

	// Tokens
	if c.Tokens.VerificationTTL <= 0 || c.Tokens.ResetTTL <= 0 {
		return errors.New("token TTLs must be > 0")
	}

	// Password
	switch c.Password.Algorithm {
	case "bcrypt", "":
		if c.Password.BcryptCost < 4 || c.Password.BcryptCost > 31 {
			return fmt.Errorf("bcrypt cost %d outside 4..31", c.Password.BcryptCost)
		}
	case "argon2id":
		if _, err := password.NewArgon2(c.Password.Argon2); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown password algorithm %q", c.Password.Algorithm)
	}

	// Validation
	if c.Validation.MinPasswordLength < 1 {
		return errors.New("min password length must be >= 1")
	}
	if c.Validation.MaxPasswordLength < c.Validation.MinPasswordLength {
		return errors.New("max password length must be >= min password length")
	}

	// Rate limits
	for name, v := range map[string]int{
		"register_per_hour":       c.RateLimit.RegisterPerHour,
		"reset_per_email":         c.RateLimit.ResetPerEmail,
		"reset_per_ip_per_minute": c.RateLimit.ResetPerIPPerMinute,
		"resend_per_email":        c.RateLimit.ResendPerEmail,
		"admin_toggle_per_minute": c.RateLimit.AdminTogglePerMinute,
		"admin_read_per_minute":   c.RateLimit.AdminReadPerMinute,
		"maintenance_per_minute":  c.RateLimit.MaintenancePerMinute,
	} {
		if v < 0 {
			return fmt.Errorf("rate limit %s must be >= 0", name)
		}
	}

	// Notification
	if c.Notification.Enabled && c.Notification.SendTimeout <= 0 {
		return errors.New("notification send timeout must be > 0")
	}
	if c.Notification.Retry.Attempts < 0 || c.Notification.Retry.Delay < 0 {
		return errors.New("notification retry settings must be >= 0")
	}

	// Maintenance
	if c.Maintenance.Interval < 0 {
		return errors.New("maintenance interval must be >= 0")
	}
	if c.Maintenance.AccessLogRetention <= 0 || c.Maintenance.UsedTokenRetention <= 0 {
		return errors.New("maintenance retention must be > 0")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("audit buffer size must be > 0")
	}

	return nil
}
