package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := Open(context.Background(), Config{
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "store.db"),
	})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestRebindPostgres(t *testing.T) {
	got := Rebind(DialectPostgres, "SELECT * FROM t WHERE a = ? AND b = '?' AND c = ?")
	want := "SELECT * FROM t WHERE a = $1 AND b = '?' AND c = $2"
	if got != want {
		t.Fatalf("unexpected rebind:\n got %s\nwant %s", got, want)
	}
}

func TestRebindSQLiteUnchanged(t *testing.T) {
	q := "SELECT 1 WHERE a = ?"
	if got := Rebind(DialectSQLite, q); got != q {
		t.Fatalf("expected sqlite query unchanged, got %s", got)
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "oracle", DSN: "x"})
	if !errors.Is(err, ErrUnsupportedDriver) {
		t.Fatalf("expected ErrUnsupportedDriver, got %v", err)
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("first Migrate failed: %v", err)
	}
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("second Migrate failed: %v", err)
	}

	var n int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations").Scan(&n); err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 applied migration, got %d", n)
	}

	for _, table := range []string{"accounts", "sessions", "tokens", "access_log", "account_stats"} {
		if _, err := db.ExecContext(ctx, "SELECT COUNT(*) FROM "+table); err != nil {
			t.Fatalf("table %s missing: %v", table, err)
		}
	}
}

func TestWithTxRollsBackOnError(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}

	boom := errors.New("boom")
	err := db.WithTx(ctx, func(q Queryer) error {
		_, err := q.ExecContext(ctx,
			"INSERT INTO access_log (email, action, created_at) VALUES (?, ?, ?)",
			"a@b.com", "login_success", ToMillis(time.Now()),
		)
		if err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	var n int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM access_log").Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected rollback to discard insert, found %d rows", n)
	}
}

func TestMillisRoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 4, 5, 6, 7, 8_000_000, time.UTC)
	if got := FromMillis(ToMillis(now)); !got.Equal(now) {
		t.Fatalf("expected %v, got %v", now, got)
	}
	if !FromNullMillis(NullMillis(time.Time{})).IsZero() {
		t.Fatal("expected zero time to map through NULL")
	}
}
