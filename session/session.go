package session

import (
	"context"
	"errors"
	"time"

	"github.com/mapvision/authority/store"
)

var (
	// ErrInvalidSession covers malformed, unknown, closed and expired tokens
	// and sessions of disabled accounts. Callers treat all of them alike.
	ErrInvalidSession = errors.New("session invalid or expired")
	// ErrAddressMismatch is returned under strict binding when the request
	// address differs from the session's. The session has been destroyed.
	ErrAddressMismatch = errors.New("session address mismatch")
	// ErrStore wraps record store failures.
	ErrStore = errors.New("session store failure")
)

// Config tunes session lifetimes and origin binding.
type Config struct {
	Duration           time.Duration `yaml:"duration" toml:"duration" env:"DURATION"`
	RememberMeDuration time.Duration `yaml:"remember_me_duration" toml:"remember_me_duration" env:"REMEMBER_ME_DURATION"`
	StrictIPBinding    bool          `yaml:"strict_ip_binding" toml:"strict_ip_binding" env:"STRICT_IP_BINDING"`
	SubnetPrefixV4     int           `yaml:"subnet_prefix_v4" toml:"subnet_prefix_v4" env:"SUBNET_PREFIX_V4"`
	SubnetPrefixV6     int           `yaml:"subnet_prefix_v6" toml:"subnet_prefix_v6" env:"SUBNET_PREFIX_V6"`
}

// DefaultConfig returns 24h sessions, 30 day remember-me and loose /24 (/64)
// binding.
func DefaultConfig() Config {
	return Config{
		Duration:           24 * time.Hour,
		RememberMeDuration: 30 * 24 * time.Hour,
		SubnetPrefixV4:     24,
		SubnetPrefixV6:     64,
	}
}

// Origin is the request's network identity.
type Origin struct {
	IP        string
	UserAgent string
}

// Session is one row of the sessions table. Token is populated only by
// [Authority.Create].
type Session struct {
	ID              string
	Token           string
	Email           string
	IP              string
	UserAgent       string
	CreatedAt       time.Time
	ExpiresAt       time.Time
	LastActivity    time.Time
	Active          bool
	EndedAt         time.Time
	DurationMinutes int
}

// AccountView is the canonical account shape returned by a successful verify.
type AccountView struct {
	Email         string
	GivenName     string
	FamilyName    string
	Company       string
	Phone         string
	Role          string
	EmailVerified bool

	SessionID        string
	SessionCreatedAt time.Time
	SessionExpiresAt time.Time
	// SubnetChanged is set when the request came from outside the
	// session's bound subnet and loose binding let it through.
	SubnetChanged bool
}

// StatsFolder receives the connected minutes of closed sessions. It is called
// with the Queryer the authority runs on, so folding joins the same
// transaction as the close.
type StatsFolder func(ctx context.Context, q store.Queryer, email string, totalMinutes, longestMinutes int, now time.Time) error

// SubnetObserver is told about loose-binding subnet changes.
type SubnetObserver func(ctx context.Context, view AccountView, boundIP, currentIP string)
