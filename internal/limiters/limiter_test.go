package limiters

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mapvision/authority/internal/rate"
)

type countingLog struct {
	counts map[string]int
	err    error
}

func (c *countingLog) CountSince(_ context.Context, action, email, ip string, _ time.Time, _ bool) (int, error) {
	if c.err != nil {
		return 0, c.err
	}
	return c.counts[action+"|"+email+"|"+ip], nil
}

func (c *countingLog) OldestSince(context.Context, string, string, string, time.Time) (time.Time, error) {
	return time.Time{}, nil
}

type brokenWindow struct{}

func (brokenWindow) CheckAndRecord(context.Context, string, int, time.Duration) (rate.Decision, error) {
	return rate.Decision{}, errors.New("connection refused")
}

func (brokenWindow) Prune(context.Context) error { return nil }

func TestNilLimiterAllows(t *testing.T) {
	var l *Limiter
	d, err := l.CheckAndRecord(context.Background(), ActionAdminToggle, "admin@x.com")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestEphemeralRuleThrottlesPerActor(t *testing.T) {
	l := New(map[Action]Rule{ActionAdminToggle: {Limit: 2, Window: time.Minute}}, nil, nil, nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		d, err := l.CheckAndRecord(ctx, ActionAdminToggle, "Admin@x.com")
		require.NoError(t, err)
		require.True(t, d.Allowed)
	}

	d, err := l.CheckAndRecord(ctx, ActionAdminToggle, "admin@x.com ")
	require.NoError(t, err)
	assert.False(t, d.Allowed, "actor keys are normalized")
	assert.Positive(t, d.RetryAfter)

	d, err = l.CheckAndRecord(ctx, ActionAdminToggle, "other@x.com")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestActionsDoNotShareCounters(t *testing.T) {
	l := New(map[Action]Rule{
		ActionAdminToggle: {Limit: 1, Window: time.Minute},
		ActionAdminRead:   {Limit: 1, Window: time.Minute},
	}, nil, nil, nil)
	ctx := context.Background()

	d, err := l.CheckAndRecord(ctx, ActionAdminToggle, "a")
	require.NoError(t, err)
	require.True(t, d.Allowed)

	d, err = l.CheckAndRecord(ctx, ActionAdminRead, "a")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestDurableRuleCountsLog(t *testing.T) {
	src := &countingLog{counts: map[string]int{"register_success||10.0.0.1": 5}}
	l := New(DefaultRules(), nil, src, nil)
	ctx := context.Background()

	d, err := l.CheckAndRecord(ctx, ActionRegister, "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, d.Allowed)

	d, err = l.CheckAndRecord(ctx, ActionRegister, "10.0.0.2")
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	src.counts["password_reset_requested|a@x.com|"] = 2
	d, err = l.CheckAndRecord(ctx, ActionPasswordReset, "A@x.com")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	src.counts["password_reset_requested|a@x.com|"] = 3
	d, err = l.CheckAndRecord(ctx, ActionPasswordReset, "a@x.com")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
}

func TestDurableRulesWithoutLogKeepSeparateCounters(t *testing.T) {
	l := New(DefaultRules(), nil, nil, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := l.CheckAndRecord(ctx, ActionPasswordReset, "a@x.com")
		require.NoError(t, err)
		require.True(t, d.Allowed)
	}
	d, err := l.CheckAndRecord(ctx, ActionPasswordReset, "a@x.com")
	require.NoError(t, err)
	require.False(t, d.Allowed)

	d, err = l.CheckAndRecord(ctx, ActionResendVerify, "a@x.com")
	require.NoError(t, err)
	assert.True(t, d.Allowed, "resend must not inherit the reset counter")
}

func TestBackendFailureFollowsRule(t *testing.T) {
	l := New(DefaultRules(), brokenWindow{}, &countingLog{err: errors.New("db down")}, nil)
	ctx := context.Background()

	d, err := l.CheckAndRecord(ctx, ActionAdminRead, "admin")
	assert.ErrorIs(t, err, ErrLimiterUnavailable)
	assert.True(t, d.Allowed, "admin reads fail open")

	d, err = l.CheckAndRecord(ctx, ActionAdminToggle, "admin")
	assert.ErrorIs(t, err, ErrLimiterUnavailable)
	assert.False(t, d.Allowed, "admin writes fail closed")

	d, err = l.CheckAndRecord(ctx, ActionRegister, "10.0.0.1")
	assert.ErrorIs(t, err, ErrLimiterUnavailable)
	assert.False(t, d.Allowed, "registration fails closed")
}

func TestUnknownAction(t *testing.T) {
	l := New(nil, nil, nil, nil)
	_, err := l.CheckAndRecord(context.Background(), Action("nope"), "x")
	assert.ErrorIs(t, err, ErrUnknownAction)
}
