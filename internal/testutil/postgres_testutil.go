package testutil

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/glup3/ghstats/internal/db"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// SetupPostgresContainer starts postgres, applies the migrations and snapshots the
// migrated database. restore resets the database to that snapshot; every pool has to
// be closed before calling it.
func SetupPostgresContainer() (string, func(), func(), error) {
	ctx := context.Background()

	postgresContainer, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("docker.io/postgres:16-alpine"),
		postgres.WithDatabase("ghstats"),
		postgres.WithUsername("ditto"),
		postgres.WithPassword("blubblub"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(10*time.Second)),
	)
	if err != nil {
		return "", nil, nil, fmt.Errorf("failed to start container: %w", err)
	}

	connStr, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		postgresContainer.Terminate(ctx)
		return "", nil, nil, fmt.Errorf("failed to get connection string: %w", err)
	}

	projectRoot, err := findProjectRoot()
	if err != nil {
		postgresContainer.Terminate(ctx)
		return "", nil, nil, err
	}

	if err := db.Migrate(connStr, filepath.Join(projectRoot, "db", "migrations")); err != nil {
		postgresContainer.Terminate(ctx)
		return "", nil, nil, err
	}

	if err := postgresContainer.Snapshot(ctx, postgres.WithSnapshotName("migrated")); err != nil {
		postgresContainer.Terminate(ctx)
		return "", nil, nil, fmt.Errorf("failed to snapshot database: %w", err)
	}

	cleanup := func() {
		if err := postgresContainer.Terminate(ctx); err != nil {
			log.Fatalf("failed to terminate container: %s", err)
		}
	}

	restore := func() {
		if err := postgresContainer.Restore(ctx); err != nil {
			log.Fatalf("failed to restore database: %s", err)
		}
	}

	return connStr, cleanup, restore, nil
}

func findProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get working directory: %w", err)
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		if dir == filepath.Dir(dir) {
			break
		}
		dir = filepath.Dir(dir)
	}

	return "", fmt.Errorf("project root not found")
}
