package authority

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestEngineSharesAdminThrottleThroughRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := testConfig()
	cfg.RateLimit.AdminTogglePerMinute = 1
	te := newTestEngine(t, cfg, func(b *Builder) { b.WithRedis(client) })
	te.seedAdmin(t, "root@example.com", "Admin1234")
	te.registerVerified(t, "user@example.com", "Secret123")
	ctx := clientCtx("198.51.100.10")

	if res := te.ToggleAccountStatus(ctx, "user@example.com", false, "root@example.com"); !res.Success {
		t.Fatalf("first toggle: %s", res.Code)
	}
	res := te.ToggleAccountStatus(ctx, "user@example.com", true, "root@example.com")
	if res.Code != CodeRateLimit {
		t.Fatalf("expected %s, got %s", CodeRateLimit, res.Code)
	}
	if res.RetryAfter <= 0 {
		t.Fatalf("expected a retry hint, got %s", res.RetryAfter)
	}
	if len(mr.Keys()) == 0 {
		t.Fatal("expected the throttle window to live in redis")
	}
}

func TestEngineRedisOutageFailsClosedForToggles(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })

	te := newTestEngine(t, testConfig(), func(b *Builder) { b.WithRedis(client) })
	te.seedAdmin(t, "root@example.com", "Admin1234")
	te.registerVerified(t, "user@example.com", "Secret123")
	mr.Close()

	ctx := clientCtx("198.51.100.10")
	res := te.ToggleAccountStatus(ctx, "user@example.com", false, "root@example.com")
	if res.Success || res.Code != CodeInternal {
		t.Fatalf("expected an internal failure while redis is down, got %+v", res)
	}

	// reads fail open
	if _, err := te.GetGeneralStats(ctx, "root@example.com"); err != nil {
		t.Fatalf("expected reads to fail open, got %v", err)
	}
}
