package authority

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	internalaudit "github.com/mapvision/authority/internal/audit"
	"github.com/mapvision/authority/internal/flows"
	"github.com/mapvision/authority/internal/limiters"
	"github.com/mapvision/authority/internal/rate"
	"github.com/mapvision/authority/internal/stores"
	"github.com/mapvision/authority/internal/validator"
	"github.com/mapvision/authority/notify"
	"github.com/mapvision/authority/password"
	"github.com/mapvision/authority/session"
	"github.com/mapvision/authority/store"
	"github.com/redis/go-redis/v9"
)

// Builder assembles an [Engine]. A builder can be built once.
type Builder struct {
	config Config
	db     *store.DB
	redis  redis.UniversalClient

	sender    notify.Sender
	auditSink AuditSink
	resolver  validator.Resolver
	hasher    password.Hasher
	logger    *slog.Logger
	now       func() time.Time

	built bool
}

// New returns a builder holding [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig describes the withconfig operation and its observable behavior.
//
// WithConfig stores a copy of cfg; later changes to the caller's value have no effect.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithStore sets the record store. It is required; the schema must be
// migrated before Build.
func (b *Builder) WithStore(db *store.DB) *Builder {
	b.db = db
	return b
}

// WithRedis moves the ephemeral rate-limit windows to Redis so they are
// shared between processes. Without it they live in process memory.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithSender sets the notification sender. Without one, messages are
// rendered and dropped.
func (b *Builder) WithSender(s notify.Sender) *Builder {
	b.sender = s
	return b
}

// WithAuditSink describes the withauditsink operation and its observable behavior.
//
// WithAuditSink takes effect only when Config.Audit.Enabled is set.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithResolver sets the DNS resolver used when Validation.CheckMailDomain is
// on.
func (b *Builder) WithResolver(r validator.Resolver) *Builder {
	b.resolver = r
	return b
}

// WithHasher replaces the configured password scheme.
func (b *Builder) WithHasher(h password.Hasher) *Builder {
	b.hasher = h
	return b
}

// WithLogger sets the structured logger.
func (b *Builder) WithLogger(l *slog.Logger) *Builder {
	b.logger = l
	return b
}

// WithClock overrides the time source.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// WithMetricsEnabled toggles in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles the VerifySession latency histogram.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build describes the build operation and its observable behavior.
//
// Build may return an error when the configuration is invalid or a required dependency is missing.
// Build marks the builder used; a second call fails.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.db == nil {
		return nil, errors.New("record store required")
	}

	log := b.logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "authority")
	now := b.now
	if now == nil {
		now = time.Now
	}

	hasher := b.hasher
	if hasher == nil {
		h, err := newHasher(cfg.Password)
		if err != nil {
			return nil, err
		}
		hasher = h
	}
	dummy, err := hasher.Hash("authority-timing-equalizer")
	if err != nil {
		return nil, fmt.Errorf("prepare dummy hash: %w", err)
	}

	templates, err := notify.NewTemplates(cfg.Notification.Templates)
	if err != nil {
		return nil, err
	}
	sender := b.sender
	if sender == nil {
		log.Warn("no notification sender configured, messages will be dropped")
		sender = notify.Discard
	}

	e := &Engine{
		config:    cfg,
		db:        b.db,
		log:       log,
		now:       now,
		hasher:    hasher,
		templates: templates,
		sender:    notify.NewRetrying(sender, cfg.Notification.Retry, log),
		metrics:   NewMetrics(cfg.Metrics),
		validator: validator.New(validator.Config{
			MinPasswordLength:   cfg.Validation.MinPasswordLength,
			MaxPasswordLength:   cfg.Validation.MaxPasswordLength,
			RequireMixedClasses: cfg.Validation.RequireMixedClasses,
			CheckMailDomain:     cfg.Validation.CheckMailDomain,
			BlockedDomains:      cfg.Validation.BlockedDomains,
			CommonPasswords:     cfg.Validation.CommonPasswords,
		}, b.resolver),
	}

	e.audit = internalaudit.NewDispatcher(internalaudit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, b.auditSink)

	e.sessions = session.New(b.db, cfg.Session,
		session.WithClock(now),
		session.WithStatsFolder(stores.FoldSessionStats),
		session.WithSubnetObserver(e.onSubnetChange),
		session.WithLogger(log),
	)

	if cfg.RateLimit.Enabled {
		var ephemeral rate.Window
		if b.redis != nil {
			ephemeral = rate.NewRedisWindow(b.redis, cfg.RateLimit.RedisPrefix, now)
		} else {
			ephemeral = rate.NewMemoryWindow(now)
		}
		e.limiter = limiters.New(limiterRules(cfg.RateLimit), ephemeral, stores.NewAccessLogStore(b.db), now)
	}

	e.flows = flows.New(e.flowDeps(dummy))
	b.built = true

	log.Info("authority engine built",
		"store", b.db.Dialect().String(),
		"redis_limiter", b.redis != nil,
		"audit", cfg.Audit.Enabled,
		"metrics", cfg.Metrics.Enabled,
	)
	return e, nil
}

func newHasher(cfg PasswordConfig) (password.Hasher, error) {
	bc, err := password.NewBcrypt(cfg.BcryptCost)
	if err != nil {
		return nil, err
	}
	argon, err := password.NewArgon2(cfg.Argon2)
	if err != nil {
		return nil, err
	}
	if cfg.Algorithm == "argon2id" {
		return password.NewChain(argon, bc), nil
	}
	return password.NewChain(bc, argon), nil
}

// limiterRules applies the configured overrides to the default rules.
func limiterRules(cfg RateLimitConfig) map[limiters.Action]limiters.Rule {
	rules := limiters.DefaultRules()
	set := func(a limiters.Action, limit int) {
		if limit <= 0 {
			return
		}
		r := rules[a]
		r.Limit = limit
		rules[a] = r
	}
	set(limiters.ActionRegister, cfg.RegisterPerHour)
	set(limiters.ActionPasswordReset, cfg.ResetPerEmail)
	set(limiters.ActionPasswordResetIP, cfg.ResetPerIPPerMinute)
	set(limiters.ActionResendVerify, cfg.ResendPerEmail)
	set(limiters.ActionAdminToggle, cfg.AdminTogglePerMinute)
	set(limiters.ActionAdminRead, cfg.AdminReadPerMinute)
	set(limiters.ActionAdminMaintenance, cfg.MaintenancePerMinute)
	return rules
}
