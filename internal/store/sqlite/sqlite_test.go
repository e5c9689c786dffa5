package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"jobmate/recommender-service/internal/store"
	"jobmate/recommender-service/internal/store/sqlite"
	"jobmate/recommender-service/internal/store/storetest"
)

func TestStoreConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		s, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "jobs.db"), zap.NewNop())
		require.NoError(t, err)
		return s
	})
}

func TestOpen_MigratesOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.db")
	ctx := context.Background()

	first, err := sqlite.Open(ctx, path, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := sqlite.Open(ctx, path, zap.NewNop())
	require.NoError(t, err)
	defer second.Close()
	require.NoError(t, second.Ping(ctx))
}
