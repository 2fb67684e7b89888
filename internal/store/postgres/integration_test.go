//go:build integration

package postgres_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/emberlane/walletfleet/internal/domain/model"
	"github.com/emberlane/walletfleet/internal/store/postgres"
	"github.com/emberlane/walletfleet/internal/wallet"
)

// testDB returns a connected *postgres.DB. It checks the TEST_DB_URL
// environment variable first; if unset, an ephemeral container is started.
func testDB(t *testing.T) *postgres.DB {
	t.Helper()

	if url := os.Getenv("TEST_DB_URL"); url != "" {
		db, err := postgres.New(postgres.Config{
			URL:             url,
			MaxOpenConns:    5,
			MaxIdleConns:    2,
			ConnMaxLifetime: time.Minute,
		})
		require.NoError(t, err)
		t.Cleanup(func() { db.Close() })
		return db
	}

	ctx := context.Background()
	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("test_walletfleet"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, container.Terminate(context.Background()))
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := postgres.New(postgres.Config{
		URL:             connStr,
		MaxOpenConns:    5,
		MaxIdleConns:    2,
		ConnMaxLifetime: time.Minute,
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRosterRepo_SaveLoadRoundTrip(t *testing.T) {
	db := testDB(t)
	repo := postgres.NewRosterRepo(db)
	ctx := context.Background()
	require.NoError(t, repo.EnsureSchema(ctx))

	w1, err := wallet.Generate("alpha")
	require.NoError(t, err)
	w1.Seasoned = true
	w1.Tag = "patient"
	w2, err := wallet.Generate("beta")
	require.NoError(t, err)

	require.NoError(t, repo.Save(ctx, []model.Wallet{w1, w2}))

	loaded, err := repo.Load(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 2)

	byKey := map[string]model.Wallet{}
	for _, w := range loaded {
		byKey[w.PublicKey] = w
	}
	got, ok := byKey[w1.PublicKey]
	require.True(t, ok)
	assert.Equal(t, w1.PrivateKey, got.PrivateKey)
	assert.True(t, got.Seasoned)
	assert.Equal(t, "patient", got.Tag)
}

func TestRosterRepo_SaveRemovesDroppedWallets(t *testing.T) {
	db := testDB(t)
	repo := postgres.NewRosterRepo(db)
	ctx := context.Background()
	require.NoError(t, repo.EnsureSchema(ctx))

	w1, err := wallet.Generate("alpha")
	require.NoError(t, err)
	w2, err := wallet.Generate("beta")
	require.NoError(t, err)

	require.NoError(t, repo.Save(ctx, []model.Wallet{w1, w2}))
	require.NoError(t, repo.Save(ctx, []model.Wallet{w1}))

	loaded, err := repo.Load(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, w1.PublicKey, loaded[0].PublicKey)
}

func TestRosterRepo_LoadEmpty(t *testing.T) {
	db := testDB(t)
	repo := postgres.NewRosterRepo(db)
	ctx := context.Background()
	require.NoError(t, repo.EnsureSchema(ctx))
	require.NoError(t, repo.Save(ctx, nil))

	loaded, err := repo.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, loaded)
}
