package rate

import (
	"context"
	"fmt"
	"time"
)

// LogSource counts durable access-log rows. *stores.AccessLogStore
// satisfies it.
type LogSource interface {
	CountSince(ctx context.Context, action, email, ip string, since time.Time, successOnly bool) (int, error)
	OldestSince(ctx context.Context, action, email, ip string, since time.Time) (time.Time, error)
}

// LogField selects which access-log column the key is matched against.
type LogField int

const (
	ByEmail LogField = iota
	ByIP
)

// LogWindow counts rows of one action keyed by email or IP. It does not
// record: the caller's access-log row for an allowed request is the event.
type LogWindow struct {
	source      LogSource
	action      string
	field       LogField
	successOnly bool
	now         func() time.Time
}

// NewLogWindow returns a durable window over rows of action.
func NewLogWindow(source LogSource, action string, field LogField, successOnly bool, now func() time.Time) *LogWindow {
	if now == nil {
		now = time.Now
	}
	return &LogWindow{source: source, action: action, field: field, successOnly: successOnly, now: now}
}

// CheckAndRecord implements Window.
func (l *LogWindow) CheckAndRecord(ctx context.Context, key string, limit int, window time.Duration) (Decision, error) {
	if err := validate(limit, window); err != nil {
		return Decision{}, err
	}

	email, ip := key, ""
	if l.field == ByIP {
		email, ip = "", key
	}

	now := l.now()
	since := now.Add(-window)
	count, err := l.source.CountSince(ctx, l.action, email, ip, since, l.successOnly)
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if count < limit {
		return Decision{Allowed: true, Count: count + 1, Limit: limit}, nil
	}

	d := Decision{Allowed: false, Count: count, Limit: limit, RetryAfter: window}
	oldest, err := l.source.OldestSince(ctx, l.action, email, ip, since)
	if err == nil && !oldest.IsZero() {
		d.RetryAfter = retryAfter(oldest, window, now)
	}
	return d, nil
}

// Prune is a no-op; access-log retention is handled by maintenance.
func (l *LogWindow) Prune(context.Context) error {
	return nil
}
