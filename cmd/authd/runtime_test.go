package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/mapvision/authority"
	"github.com/mapvision/authority/store"
)

func testRuntime(t *testing.T, mutate func(*serverConfig, *authority.Config)) *runtime {
	t.Helper()
	cfg := defaultServerConfig()
	cfg.Store = store.Config{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "authd.db")}
	cfg.AdminEmail = "root@example.com"
	cfg.AdminPassword = "Admin1234"
	cfg.ShutdownTimeout = time.Second

	engineCfg := authority.DefaultConfig()
	engineCfg.Password.BcryptCost = 4
	engineCfg.Metrics.Enabled = true
	if mutate != nil {
		mutate(&cfg, &engineCfg)
	}

	rt, err := newRuntime(context.Background(), cfg, engineCfg, io.Discard)
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}
	t.Cleanup(rt.close)
	return rt
}

func serve(rt *runtime, method, path, body, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	rt.httpServer.Handler.ServeHTTP(rec, req)
	return rec
}

func TestRuntimeBootstrapsAdministratorAndMetrics(t *testing.T) {
	rt := testRuntime(t, nil)

	if rec := serve(rt, http.MethodGet, "/healthz", "", ""); rec.Code != http.StatusOK {
		t.Fatalf("healthz: %d %s", rec.Code, rec.Body.String())
	}

	rec := serve(rt, http.MethodPost, "/login", `{"email":"root@example.com","password":"Admin1234"}`, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("admin login: %d %s", rec.Code, rec.Body.String())
	}

	metrics := serve(rt, http.MethodGet, "/metrics", "", "")
	if metrics.Code != http.StatusOK {
		t.Fatalf("metrics: %d", metrics.Code)
	}
	if !bytes.Contains(metrics.Body.Bytes(), []byte("authority_login_success_total 1")) {
		t.Fatalf("expected login counter in metrics output:\n%s", metrics.Body.String())
	}
}

func TestRuntimeWithRedisLimiter(t *testing.T) {
	mr := miniredis.RunT(t)
	rt := testRuntime(t, func(cfg *serverConfig, _ *authority.Config) {
		cfg.Redis.Addr = mr.Addr()
	})

	if rec := serve(rt, http.MethodGet, "/healthz", "", ""); rec.Code != http.StatusOK {
		t.Fatalf("healthz: %d", rec.Code)
	}
}

func TestRuntimeFailsOnUnreachableRedis(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	addr := mr.Addr()
	mr.Close()

	cfg := defaultServerConfig()
	cfg.Store = store.Config{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "authd.db")}
	cfg.Redis.Addr = addr
	engineCfg := authority.DefaultConfig()
	engineCfg.Password.BcryptCost = 4

	if _, err := newRuntime(context.Background(), cfg, engineCfg, io.Discard); err == nil {
		t.Fatal("expected redis connection error")
	}
}

func TestRuntimeRunStopsOnCancel(t *testing.T) {
	rt := testRuntime(t, func(cfg *serverConfig, _ *authority.Config) {
		cfg.Addr = "127.0.0.1:0"
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rt.run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after cancel")
	}
}
