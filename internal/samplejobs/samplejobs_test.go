package samplejobs_test

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/chunkbatch/internal/samplejobs"
	gormadaptor "github.com/tigerroll/chunkbatch/pkg/batch/adaptor/database/gorm"
	_ "github.com/tigerroll/chunkbatch/pkg/batch/adaptor/database/gorm/sqlite"
	"github.com/tigerroll/chunkbatch/pkg/batch/adaptor/storage"
	_ "github.com/tigerroll/chunkbatch/pkg/batch/adaptor/storage/local"
	config "github.com/tigerroll/chunkbatch/pkg/batch/core/config"
	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/job/runner"
	sqlrepo "github.com/tigerroll/chunkbatch/pkg/batch/infrastructure/repository/sql"
)

type env struct {
	deps samplejobs.Deps
	repo *sqlrepo.JobRepository
	conn *gormadaptor.GormDBAdapter
}

func newEnv(t *testing.T) *env {
	t.Helper()
	dir := t.TempDir()
	cfg := config.NewConfig()
	cfg.ChunkBatch.Database["metadata"] = config.DatabaseConfig{Type: "sqlite", Database: filepath.Join(dir, "batch.db")}
	cfg.ChunkBatch.Storage[samplejobs.ExportStorage] = config.StorageConfig{Type: "local", BaseDir: filepath.Join(dir, "out")}

	databases := gormadaptor.NewProvider(cfg)
	t.Cleanup(func() { _ = databases.CloseAll() })
	conn, err := databases.Connection("metadata")
	require.NoError(t, err)
	repo := sqlrepo.NewJobRepository(conn)
	require.NoError(t, repo.Migrate(context.Background()))

	stores := storage.NewProvider(cfg)
	t.Cleanup(func() { _ = stores.CloseAll() })

	return &env{
		deps: samplejobs.Deps{
			Config:     cfg,
			Repository: repo,
			TxManager:  gormadaptor.NewGormTransactionManager(conn),
			Databases:  databases,
			Storage:    stores,
		},
		repo: repo,
		conn: conn,
	}
}

func (e *env) run(t *testing.T, build func(samplejobs.Deps) (*runner.FlowJob, error), params model.JobParameters) *model.JobExecution {
	t.Helper()
	job, err := build(e.deps)
	require.NoError(t, err)
	ctx := context.Background()
	ji := model.NewJobInstance(job.JobName(), params)
	require.NoError(t, e.repo.SaveJobInstance(ctx, ji))
	je := model.NewJobExecution(ji, params)
	require.NoError(t, e.repo.SaveJobExecution(ctx, je))
	_ = job.Run(ctx, je)
	return je
}

func stepNames(je *model.JobExecution) []string {
	names := make([]string, 0, len(je.StepExecutions))
	for _, se := range je.StepExecutions {
		names = append(names, se.StepName)
	}
	return names
}

func (e *env) count(t *testing.T, table, where string, args ...any) int64 {
	t.Helper()
	var n int64
	q := e.conn.GetGormDB().Table(table)
	if where != "" {
		q = q.Where(where, args...)
	}
	require.NoError(t, q.Count(&n).Error)
	return n
}

func TestSkipJobs(t *testing.T) {
	tests := []struct {
		name       string
		build      func(samplejobs.Deps) (*runner.FlowJob, error)
		step       string
		readSkips  int
		procSkips  int
		writeSkips int
		writeCount int
	}{
		{name: "reader", build: samplejobs.NewSkipReaderJob, step: "skipReaderStep", readSkips: 2, writeCount: 18},
		{name: "processor", build: samplejobs.NewSkipProcessorJob, step: "skipProcessorStep", procSkips: 2, writeCount: 18},
		{name: "writer", build: samplejobs.NewSkipWriterJob, step: "skipWriterStep", readSkips: 1, writeSkips: 1, writeCount: 18},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			e := newEnv(t)
			je := e.run(t, tc.build, model.NewJobParameters())

			assert.Equal(t, model.BatchStatusCompleted, je.Status)
			se := je.FindStepExecution(tc.step)
			require.NotNil(t, se)
			assert.Equal(t, 20, se.ReadCount+se.ReadSkipCount)
			assert.Equal(t, tc.readSkips, se.ReadSkipCount)
			assert.Equal(t, tc.procSkips, se.ProcessSkipCount)
			assert.Equal(t, tc.writeSkips, se.WriteSkipCount)
			assert.Equal(t, tc.writeCount, se.WriteCount)
		})
	}
}

func TestRetryJob(t *testing.T) {
	e := newEnv(t)
	je := e.run(t, samplejobs.NewRetryJob, model.NewJobParameters())
	require.Equal(t, model.BatchStatusFailed, je.Status)
	se := je.FindStepExecution("retryStep")
	require.NotNil(t, se)
	assert.Equal(t, 0, se.WriteCount)

	params := model.NewJobParametersBuilder().AddLong("failures", 2).ToJobParameters()
	je = e.run(t, samplejobs.NewRetryJob, params)
	require.Equal(t, model.BatchStatusCompleted, je.Status)
	se = je.FindStepExecution("retryStep")
	require.NotNil(t, se)
	assert.Equal(t, 2, se.RetryCount)
	assert.Equal(t, 20, se.WriteCount)

	params = model.NewJobParametersBuilder().AddLong("failures", 3).ToJobParameters()
	je = e.run(t, samplejobs.NewRetryJob, params)
	assert.Equal(t, model.BatchStatusFailed, je.Status)
}

func TestConditionalJob(t *testing.T) {
	tests := []struct {
		exit string
		want []string
	}{
		{exit: "", want: []string{"step1", "step4"}},
		{exit: "FAILED", want: []string{"step1", "step3"}},
		{exit: "NOOP", want: []string{"step1", "step2"}},
	}
	for _, tc := range tests {
		t.Run("exit="+tc.exit, func(t *testing.T) {
			e := newEnv(t)
			b := model.NewJobParametersBuilder()
			if tc.exit != "" {
				b.AddString(samplejobs.ParamStep1Exit, tc.exit)
			}
			je := e.run(t, samplejobs.NewConditionalJob, b.ToJobParameters())
			assert.Equal(t, tc.want, stepNames(je))
		})
	}
}

func TestTaskletJob(t *testing.T) {
	e := newEnv(t)
	je := e.run(t, samplejobs.NewTaskletJob, model.NewJobParameters())
	assert.Equal(t, model.BatchStatusCompleted, je.Status)
	assert.Equal(t, []string{"taskletStep"}, stepNames(je))
}

func TestFirstJob_CopiesEveryProduct(t *testing.T) {
	e := newEnv(t)
	je := e.run(t, samplejobs.NewFirstJob, model.NewJobParameters())
	require.Equal(t, model.BatchStatusCompleted, je.Status, je.ExitDescription)
	assert.Equal(t, []string{"migrateStep", "copyStep"}, stepNames(je))
	assert.EqualValues(t, 50, e.count(t, "product_copy", ""))
	assert.Equal(t, 50, je.FindStepExecution("copyStep").WriteCount)
}

func TestSecondJob_RewardsWinners(t *testing.T) {
	e := newEnv(t)
	je := e.run(t, samplejobs.NewSecondJob, model.NewJobParameters())
	require.Equal(t, model.BatchStatusCompleted, je.Status, je.ExitDescription)
	assert.EqualValues(t, 11, e.count(t, "player", "reward = ?", true))
	assert.EqualValues(t, 0, e.count(t, "player", "reward = ? AND win < ?", true, 10))
}

func TestCursorJob_CopiesUserProducts(t *testing.T) {
	e := newEnv(t)
	je := e.run(t, samplejobs.NewCursorJob, model.NewJobParameters())
	require.Equal(t, model.BatchStatusCompleted, je.Status, je.ExitDescription)
	assert.EqualValues(t, 40, e.count(t, "product_copy", ""))
	assert.EqualValues(t, 0, e.count(t, "product_copy", "description LIKE ?", "admin%"))
}

func TestPagingJob_FiltersByCategory(t *testing.T) {
	e := newEnv(t)
	params := model.NewJobParametersBuilder().AddString(samplejobs.ParamCategory, "books").ToJobParameters()
	je := e.run(t, samplejobs.NewPagingJob, params)
	require.Equal(t, model.BatchStatusCompleted, je.Status, je.ExitDescription)
	assert.EqualValues(t, 16, e.count(t, "product_copy", ""))
	assert.EqualValues(t, 16, e.count(t, "product_copy", "category = ?", "books"))
}

func TestExportJob_WritesOneFilePerCategory(t *testing.T) {
	e := newEnv(t)
	je := e.run(t, samplejobs.NewExportJob, model.NewJobParameters())
	require.Equal(t, model.BatchStatusCompleted, je.Status, je.ExitDescription)

	ctx := context.Background()
	store, err := e.deps.Storage.Connection(ctx, samplejobs.ExportStorage)
	require.NoError(t, err)
	partitions := map[string]int{}
	require.NoError(t, store.ListObjects(ctx, "", samplejobs.ExportBaseDir, func(name string) error {
		if strings.HasSuffix(name, ".parquet") {
			partitions[filepath.Base(filepath.Dir(name))]++
		}
		return nil
	}))
	assert.Equal(t, map[string]int{"category=books": 1, "category=games": 1, "category=tools": 1}, partitions)
}

func TestDataJobs_RerunIsIdempotent(t *testing.T) {
	e := newEnv(t)
	first := e.run(t, samplejobs.NewFirstJob, model.NewJobParametersBuilder().AddLong("run", 1).ToJobParameters())
	require.Equal(t, model.BatchStatusCompleted, first.Status, first.ExitDescription)
	second := e.run(t, samplejobs.NewFirstJob, model.NewJobParametersBuilder().AddLong("run", 2).ToJobParameters())
	require.Equal(t, model.BatchStatusCompleted, second.Status, second.ExitDescription)
	assert.EqualValues(t, 50, e.count(t, "product", ""))
	assert.EqualValues(t, 50, e.count(t, "product_copy", ""))
}
