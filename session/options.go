package session

import (
	"log/slog"
	"time"
)

// Option customizes an Authority.
type Option func(*Authority)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(a *Authority) {
		if now != nil {
			a.now = now
		}
	}
}

// WithStatsFolder installs the statistics hook.
func WithStatsFolder(f StatsFolder) Option {
	return func(a *Authority) { a.fold = f }
}

// WithSubnetObserver installs the subnet-change hook.
func WithSubnetObserver(o SubnetObserver) Option {
	return func(a *Authority) { a.onSubnet = o }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Authority) {
		if l != nil {
			a.log = l
		}
	}
}

// WithTokenSource overrides token generation. Tests use it to force
// collisions.
func WithTokenSource(gen func() (string, error)) Option {
	return func(a *Authority) {
		if gen != nil {
			a.newToken = gen
		}
	}
}
