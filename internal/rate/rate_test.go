package rate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return mr, rdb
}

// exerciseWindow runs the shared sliding-window contract against w.
func exerciseWindow(t *testing.T, w Window, clock *fakeClock) {
	t.Helper()
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		d, err := w.CheckAndRecord(ctx, "k", 3, time.Minute)
		require.NoError(t, err)
		require.True(t, d.Allowed, "attempt %d", i)
		assert.Equal(t, i, d.Count)
		clock.Advance(10 * time.Second)
	}

	d, err := w.CheckAndRecord(ctx, "k", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining())
	assert.ErrorIs(t, d.Err(), ErrRateLimited)
	// oldest event was 30s ago
	assert.Equal(t, 30*time.Second, d.RetryAfter)

	// denied attempts are not recorded
	clock.Advance(31 * time.Second)
	d, err = w.CheckAndRecord(ctx, "k", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 3, d.Count)

	other, err := w.CheckAndRecord(ctx, "other", 3, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, other.Count, "keys are independent")
}

func TestMemoryWindowSlides(t *testing.T) {
	clock := newFakeClock()
	exerciseWindow(t, NewMemoryWindow(clock.Now), clock)
}

func TestRedisWindowSlides(t *testing.T) {
	_, rdb := newTestRedis(t)
	clock := newFakeClock()
	exerciseWindow(t, NewRedisWindow(rdb, "", clock.Now), clock)
}

func TestRedisWindowBackendDown(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer rdb.Close()
	w := NewRedisWindow(rdb, "t:", nil)
	mr.Close()

	_, err = w.CheckAndRecord(context.Background(), "k", 1, time.Minute)
	assert.ErrorIs(t, err, ErrBackendUnavailable)
}

func TestRedisWindowSharedAcrossInstances(t *testing.T) {
	_, rdb := newTestRedis(t)
	clock := newFakeClock()
	a := NewRedisWindow(rdb, "shared:", clock.Now)
	b := NewRedisWindow(rdb, "shared:", clock.Now)
	ctx := context.Background()

	d, err := a.CheckAndRecord(ctx, "ip", 2, time.Minute)
	require.NoError(t, err)
	require.True(t, d.Allowed)
	d, err = b.CheckAndRecord(ctx, "ip", 2, time.Minute)
	require.NoError(t, err)
	require.True(t, d.Allowed)

	d, err = a.CheckAndRecord(ctx, "ip", 2, time.Minute)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
}

func TestMemoryWindowConcurrentNeverExceedsLimit(t *testing.T) {
	w := NewMemoryWindow(nil)
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := w.CheckAndRecord(ctx, "k", 10, time.Hour)
			if err == nil && d.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 10, allowed)
}

func TestMemoryWindowPrune(t *testing.T) {
	clock := newFakeClock()
	w := NewMemoryWindow(clock.Now)
	ctx := context.Background()

	_, err := w.CheckAndRecord(ctx, "short", 5, time.Second)
	require.NoError(t, err)
	_, err = w.CheckAndRecord(ctx, "long", 5, time.Hour)
	require.NoError(t, err)

	clock.Advance(time.Minute)
	require.NoError(t, w.Prune(ctx))
	assert.Equal(t, 1, w.Len())
}

func TestInvalidLimit(t *testing.T) {
	_, err := NewMemoryWindow(nil).CheckAndRecord(context.Background(), "k", 0, time.Minute)
	assert.ErrorIs(t, err, ErrInvalidLimit)
}

type fakeLog struct {
	count  int
	oldest time.Time
	err    error

	gotAction, gotEmail, gotIP string
	gotSuccessOnly             bool
}

func (f *fakeLog) CountSince(_ context.Context, action, email, ip string, _ time.Time, successOnly bool) (int, error) {
	f.gotAction, f.gotEmail, f.gotIP, f.gotSuccessOnly = action, email, ip, successOnly
	return f.count, f.err
}

func (f *fakeLog) OldestSince(context.Context, string, string, string, time.Time) (time.Time, error) {
	return f.oldest, nil
}

func TestLogWindowCountsRows(t *testing.T) {
	clock := newFakeClock()
	src := &fakeLog{count: 2}
	w := NewLogWindow(src, "register_success", ByIP, true, clock.Now)
	ctx := context.Background()

	d, err := w.CheckAndRecord(ctx, "10.0.0.1", 3, time.Hour)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, "register_success", src.gotAction)
	assert.Equal(t, "10.0.0.1", src.gotIP)
	assert.Empty(t, src.gotEmail)
	assert.True(t, src.gotSuccessOnly)

	src.count = 3
	src.oldest = clock.Now().Add(-45 * time.Minute)
	d, err = w.CheckAndRecord(ctx, "10.0.0.1", 3, time.Hour)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 15*time.Minute, d.RetryAfter)

	byEmail := NewLogWindow(src, "password_reset_requested", ByEmail, false, clock.Now)
	_, err = byEmail.CheckAndRecord(ctx, "a@x.com", 3, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", src.gotEmail)
	assert.Empty(t, src.gotIP)

	src.err = errors.New("db down")
	_, err = w.CheckAndRecord(ctx, "10.0.0.1", 3, time.Hour)
	assert.ErrorIs(t, err, ErrBackendUnavailable)
}
