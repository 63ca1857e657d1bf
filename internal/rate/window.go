package rate

import (
	"context"
	"time"
)

// Decision is the outcome of one CheckAndRecord call.
type Decision struct {
	Allowed    bool
	Count      int
	Limit      int
	RetryAfter time.Duration
}

// Remaining reports how many more events the window accepts.
func (d Decision) Remaining() int {
	if d.Count >= d.Limit {
		return 0
	}
	return d.Limit - d.Count
}

// Err returns ErrRateLimited for a denied decision.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return ErrRateLimited
}

// Window is a sliding-window counter.
type Window interface {
	// CheckAndRecord records an event for key when fewer than limit events
	// fall inside the trailing window, and reports the outcome.
	CheckAndRecord(ctx context.Context, key string, limit int, window time.Duration) (Decision, error)
	// Prune drops state that can no longer affect a decision.
	Prune(ctx context.Context) error
}

func validate(limit int, window time.Duration) error {
	if limit <= 0 || window <= 0 {
		return ErrInvalidLimit
	}
	return nil
}

func retryAfter(oldest time.Time, window time.Duration, now time.Time) time.Duration {
	d := oldest.Add(window).Sub(now)
	if d < time.Millisecond {
		return time.Millisecond
	}
	return d
}
