package cli

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"

	gormadaptor "github.com/tigerroll/chunkbatch/pkg/batch/adaptor/database/gorm"
	config "github.com/tigerroll/chunkbatch/pkg/batch/core/config"
	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/repository"
	tx "github.com/tigerroll/chunkbatch/pkg/batch/core/tx"
	"github.com/tigerroll/chunkbatch/pkg/batch/infrastructure/repository/inmemory"
	sqlrepo "github.com/tigerroll/chunkbatch/pkg/batch/infrastructure/repository/sql"
)

func TestParseParameters(t *testing.T) {
	jp, err := ParseParameters([]string{
		"name=books",
		"failures=3:long",
		"ratio=0.5:DOUBLE",
		"day=2024-01-31:date",
		"at=2024-01-31T10:00:00Z",
		"raw=7(LONG)",
	})
	require.NoError(t, err)

	s, ok := jp.GetString("name")
	assert.True(t, ok)
	assert.Equal(t, "books", s)

	n, ok := jp.GetLong("failures")
	assert.True(t, ok)
	assert.Equal(t, int64(3), n)

	f, ok := jp.GetDouble("ratio")
	assert.True(t, ok)
	assert.Equal(t, 0.5, f)

	d, ok := jp.GetDate("day")
	assert.True(t, ok)
	assert.Equal(t, time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC), d)

	at, ok := jp.GetString("at")
	assert.True(t, ok, "a colon not followed by a type keeps the value a string")
	assert.Equal(t, "2024-01-31T10:00:00Z", at)

	raw, ok := jp.GetLong("raw")
	assert.True(t, ok)
	assert.Equal(t, int64(7), raw)
}

func TestParseParameters_Errors(t *testing.T) {
	for _, args := range [][]string{
		{"novalue"},
		{"=value"},
		{"n=abc:long"},
		{"d=tomorrow:date"},
	} {
		_, err := ParseParameters(args)
		assert.Error(t, err, "%v", args)
	}
}

func TestParseParameters_Empty(t *testing.T) {
	jp, err := ParseParameters(nil)
	require.NoError(t, err)
	assert.True(t, jp.IsEmpty())
	assert.Equal(t, model.NewJobParameters().Identity(), jp.Identity())
}

func TestNewJobStore(t *testing.T) {
	start := func(t *testing.T, cfg *config.Config) repository.JobRepository {
		var repo repository.JobRepository
		var txm tx.TransactionManager
		app := fxtest.New(t,
			fx.Supply(cfg),
			fx.Provide(gormadaptor.NewProvider, newJobStore),
			fx.Populate(&repo, &txm),
		)
		app.RequireStart().RequireStop()
		require.NotNil(t, txm)
		return repo
	}

	t.Run("inmemory", func(t *testing.T) {
		cfg := config.NewConfig()
		cfg.ChunkBatch.Infrastructure.JobRepositoryType = "inmemory"
		assert.IsType(t, &inmemory.JobRepository{}, start(t, cfg))
	})

	t.Run("sql", func(t *testing.T) {
		cfg := config.NewConfig()
		cfg.ChunkBatch.Database["metadata"] = config.DatabaseConfig{Type: "sqlite", Database: filepath.Join(t.TempDir(), "batch.db")}
		assert.IsType(t, &sqlrepo.JobRepository{}, start(t, cfg))
	})

	t.Run("unknown", func(t *testing.T) {
		cfg := config.NewConfig()
		cfg.ChunkBatch.Infrastructure.JobRepositoryType = "redis"
		_, err := newJobStore(storeParams{Lifecycle: fxtest.NewLifecycle(t), Config: cfg, Provider: gormadaptor.NewProvider(cfg)})
		assert.ErrorContains(t, err, "unknown job_repository_type")
	})
}
