package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"
)

// RetryConfig bounds delivery attempts and the outbound rate.
type RetryConfig struct {
	Attempts int           `yaml:"attempts" toml:"attempts" env:"ATTEMPTS"`
	Delay    time.Duration `yaml:"delay" toml:"delay" env:"DELAY"`
	// PerHour caps messages per hour across the process. Zero disables the
	// throttle.
	PerHour int `yaml:"per_hour" toml:"per_hour" env:"PER_HOUR"`
}

// DefaultRetryConfig returns 3 attempts, 5s apart, at most 100 messages per
// hour.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{Attempts: 3, Delay: 5 * time.Second, PerHour: 100}
}

// Retrying retries a Sender with a fixed delay between attempts and waits on
// a shared token bucket before each message.
type Retrying struct {
	next    Sender
	cfg     RetryConfig
	limiter *rate.Limiter
	log     *slog.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewRetrying wraps next. A nil logger uses slog.Default.
func NewRetrying(next Sender, cfg RetryConfig, log *slog.Logger) *Retrying {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 1
	}
	if log == nil {
		log = slog.Default()
	}
	r := &Retrying{
		next:  next,
		cfg:   cfg,
		log:   log.With("component", "notify"),
		sleep: sleepCtx,
	}
	if cfg.PerHour > 0 {
		burst := cfg.PerHour / 10
		if burst < 1 {
			burst = 1
		}
		r.limiter = rate.NewLimiter(rate.Every(time.Hour/time.Duration(cfg.PerHour)), burst)
	}
	return r
}

// Send delivers msg, retrying up to the configured number of attempts. The
// returned error wraps ErrSendFailed and the last delivery error.
func (r *Retrying) Send(ctx context.Context, msg Message) error {
	if err := msg.validate(); err != nil {
		return err
	}
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%w: throttle: %v", ErrSendFailed, err)
		}
	}

	var last error
	for attempt := 1; attempt <= r.cfg.Attempts; attempt++ {
		last = r.next.Send(ctx, msg)
		if last == nil {
			if attempt > 1 {
				r.log.Info("message delivered after retry", "to", msg.To, "attempt", attempt)
			}
			return nil
		}
		r.log.Warn("message delivery attempt failed",
			"to", msg.To, "attempt", attempt, "max_attempts", r.cfg.Attempts, "error", last)
		if attempt == r.cfg.Attempts {
			break
		}
		if err := r.sleep(ctx, r.cfg.Delay); err != nil {
			last = err
			break
		}
	}
	r.log.Error("message delivery failed", "to", msg.To, "subject", msg.Subject, "error", last)
	return fmt.Errorf("%w: %v", ErrSendFailed, last)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
