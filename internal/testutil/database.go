package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/bissquit/incident-desk/internal/pkg/postgres"
	"github.com/bissquit/incident-desk/migrations"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SetupDatabase starts a PostgreSQL container, applies the embedded
// migrations and returns a pool plus the connection string. The container is
// terminated when the test finishes.
func SetupDatabase(t *testing.T) (*pgxpool.Pool, string) {
	t.Helper()
	ctx := context.Background()

	container, err := NewPostgresContainer(ctx)
	if err != nil {
		t.Fatalf("start postgres: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("terminate postgres: %v", err)
		}
	})

	if err := postgres.Migrate(migrations.FS, container.ConnectionString); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	pool, err := postgres.Connect(connectCtx, postgres.Config{
		URL:             container.ConnectionString,
		MaxOpenConns:    5,
		ConnectAttempts: 3,
		ApplicationName: "incidentdesk-test",
	})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)

	return pool, container.ConnectionString
}

// TruncateAll empties every application table.
func TruncateAll(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()
	if _, err := pool.Exec(context.Background(), `TRUNCATE comments, incidents, users`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
}
