package itf

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/iota-uz/effort/migrations"
	"github.com/iota-uz/effort/pkg/composables"
)

// TestEnvironment is a migrated database owned by one test. Ctx carries the
// pool and an open transaction that is rolled back on cleanup.
type TestEnvironment struct {
	Ctx  context.Context
	Pool *pgxpool.Pool
	Tx   pgx.Tx
}

// Setup creates a fresh database named after the test and applies every migration.
func Setup(tb testing.TB) *TestEnvironment {
	tb.Helper()
	RequirePostgres(tb)

	CreateDB(tb.Name())
	pool := NewPool(DbOpts(tb.Name()))
	tb.Cleanup(pool.Close)

	ctx := context.Background()
	db := stdlib.OpenDBFromPool(pool)
	tb.Cleanup(func() { _ = db.Close() })
	provider, err := migrations.NewProvider(db)
	if err != nil {
		tb.Fatal(err)
	}
	if _, err := provider.Up(ctx); err != nil {
		tb.Fatal(err)
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		tb.Fatal(err)
	}
	tb.Cleanup(func() {
		if err := tx.Rollback(context.Background()); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			tb.Logf("Warning: failed to rollback transaction: %v", err)
		}
	})

	ctx = composables.WithPool(ctx, pool)
	ctx = composables.WithTx(ctx, tx)
	return &TestEnvironment{Ctx: ctx, Pool: pool, Tx: tx}
}

// Exec runs statements on the test transaction and fails the test on error.
func (te *TestEnvironment) Exec(tb testing.TB, sql string, args ...any) {
	tb.Helper()
	if _, err := te.Tx.Exec(te.Ctx, sql, args...); err != nil {
		tb.Fatal(err)
	}
}
