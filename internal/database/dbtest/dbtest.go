// Package dbtest starts a disposable PostgreSQL for integration tests.
package dbtest

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/helixir/submission-dedup-service/internal/database"
)

// Image is the PostgreSQL image used by integration tests.
const Image = "postgres:16-alpine"

// StartPostgres runs a PostgreSQL container, applies the embedded migrations
// and returns a connected DB. The container is removed when the test ends.
func StartPostgres(t *testing.T) *database.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	ctr, err := postgres.Run(ctx, Image,
		postgres.WithDatabase("submission_dedup_test"),
		postgres.WithUsername("subdedup"),
		postgres.WithPassword("subdedup"),
		postgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := database.NewFromDSN(ctx, dsn, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(db.Close)

	migrator, err := database.NewMigrator(db, "", zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, migrator.Up())
	require.NoError(t, migrator.Close())

	return db
}
