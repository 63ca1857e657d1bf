package limiters

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mapvision/authority/internal/rate"
)

// Action names a throttled operation.
type Action string

const (
	ActionRegister         Action = "register"
	ActionPasswordReset    Action = "password_reset"
	ActionPasswordResetIP  Action = "password_reset_ip"
	ActionResendVerify     Action = "verification_resend"
	ActionAdminToggle      Action = "admin_toggle"
	ActionAdminMaintenance Action = "admin_maintenance"
	ActionAdminRead        Action = "admin_read"
)

var (
	// ErrUnknownAction is returned for an action without a rule.
	ErrUnknownAction = errors.New("limiter: unknown action")
	// ErrLimiterUnavailable wraps backend failures. The accompanying decision
	// already reflects the rule's fail-open or fail-closed choice.
	ErrLimiterUnavailable = errors.New("limiter backend unavailable")
)

// Rule is the throttle policy of one action.
type Rule struct {
	Limit  int
	Window time.Duration
	// Durable rules count access-log rows of LogAction matched on LogField
	// instead of using the ephemeral window.
	Durable     bool
	LogAction   string
	LogField    rate.LogField
	SuccessOnly bool
	// FailOpen allows the request when the backend fails.
	FailOpen bool
}

// DefaultRules returns the production policies.
func DefaultRules() map[Action]Rule {
	return map[Action]Rule{
		ActionRegister: {
			Limit: 5, Window: time.Hour,
			Durable: true, LogAction: "register_success", LogField: rate.ByIP, SuccessOnly: true,
		},
		ActionPasswordReset: {
			Limit: 3, Window: 15 * time.Minute,
			Durable: true, LogAction: "password_reset_requested", LogField: rate.ByEmail,
		},
		ActionResendVerify: {
			Limit: 3, Window: 15 * time.Minute,
			Durable: true, LogAction: "verification_resent", LogField: rate.ByEmail,
		},
		ActionPasswordResetIP:  {Limit: 10, Window: time.Minute},
		ActionAdminToggle:      {Limit: 20, Window: time.Minute},
		ActionAdminMaintenance: {Limit: 2, Window: time.Minute},
		ActionAdminRead:        {Limit: 60, Window: time.Minute, FailOpen: true},
	}
}

// Limiter applies per-action rules. A nil *Limiter allows everything.
type Limiter struct {
	rules   map[Action]Rule
	windows map[Action]rate.Window
	logged  map[Action]bool
	shared  rate.Window
}

// New builds a limiter. ephemeral backs non-durable rules (memory or Redis);
// durable backs log-counted rules and may be nil when no rule is durable.
func New(rules map[Action]Rule, ephemeral rate.Window, durable rate.LogSource, now func() time.Time) *Limiter {
	if ephemeral == nil {
		ephemeral = rate.NewMemoryWindow(now)
	}

	l := &Limiter{
		rules:   make(map[Action]Rule, len(rules)),
		windows: make(map[Action]rate.Window, len(rules)),
		logged:  make(map[Action]bool, len(rules)),
		shared:  ephemeral,
	}
	for action, rule := range rules {
		l.rules[action] = rule
		if rule.Durable && durable != nil {
			l.windows[action] = rate.NewLogWindow(durable, rule.LogAction, rule.LogField, rule.SuccessOnly, now)
			l.logged[action] = true
			continue
		}
		l.windows[action] = ephemeral
	}
	return l
}

// CheckAndRecord consults the rule for action keyed by actor. On a backend
// failure it returns ErrLimiterUnavailable together with a decision whose
// Allowed field follows the rule's FailOpen setting.
func (l *Limiter) CheckAndRecord(ctx context.Context, action Action, actor string) (rate.Decision, error) {
	if l == nil {
		return rate.Decision{Allowed: true}, nil
	}

	rule, ok := l.rules[action]
	if !ok {
		return rate.Decision{}, fmt.Errorf("%w: %s", ErrUnknownAction, action)
	}
	if rule.Limit <= 0 {
		return rate.Decision{Allowed: true}, nil
	}

	// Log windows filter by action themselves; the shared window needs the
	// action in the key.
	key := strings.ToLower(strings.TrimSpace(actor))
	if !l.logged[action] {
		key = string(action) + ":" + key
	}

	d, err := l.windows[action].CheckAndRecord(ctx, key, rule.Limit, rule.Window)
	if err != nil {
		return rate.Decision{Allowed: rule.FailOpen, Limit: rule.Limit}, fmt.Errorf("%w: %s: %v", ErrLimiterUnavailable, action, err)
	}
	return d, nil
}

// Rule returns the configured rule for action.
func (l *Limiter) Rule(action Action) (Rule, bool) {
	if l == nil {
		return Rule{}, false
	}
	r, ok := l.rules[action]
	return r, ok
}

// Prune drops expired ephemeral state.
func (l *Limiter) Prune(ctx context.Context) error {
	if l == nil || l.shared == nil {
		return nil
	}
	return l.shared.Prune(ctx)
}
