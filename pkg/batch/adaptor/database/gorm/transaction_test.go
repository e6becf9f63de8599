package gorm_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gormadaptor "github.com/tigerroll/chunkbatch/pkg/batch/adaptor/database/gorm"
	_ "github.com/tigerroll/chunkbatch/pkg/batch/adaptor/database/gorm/sqlite"
	config "github.com/tigerroll/chunkbatch/pkg/batch/core/config"
	tx "github.com/tigerroll/chunkbatch/pkg/batch/core/tx"
)

type item struct {
	ID   int
	Name string
}

func (item) TableName() string { return "items" }

func openTestDB(t *testing.T) *gormadaptor.GormDBAdapter {
	t.Helper()
	conn, err := gormadaptor.Open("test", config.DatabaseConfig{
		Type:     "sqlite",
		Database: filepath.Join(t.TempDir(), "test.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, conn.GetGormDB().Exec("CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT)").Error)
	return conn
}

func countItems(t *testing.T, conn *gormadaptor.GormDBAdapter) int64 {
	t.Helper()
	var n int64
	require.NoError(t, conn.GetGormDB().Model(&item{}).Count(&n).Error)
	return n
}

func TestGormTransactionManager_CommitAndRollback(t *testing.T) {
	conn := openTestDB(t)
	txm := gormadaptor.NewGormTransactionManager(conn)
	ctx := context.Background()

	var outcomes []bool
	committed, err := txm.Begin(ctx)
	require.NoError(t, err)
	committed.AfterCompletion(func(ok bool) { outcomes = append(outcomes, ok) })
	_, err = committed.ExecuteUpdate(ctx, &item{ID: 1, Name: "a"}, "CREATE", "", nil)
	require.NoError(t, err)
	require.NoError(t, txm.Commit(committed))

	rolledBack, err := txm.Begin(ctx)
	require.NoError(t, err)
	rolledBack.AfterCompletion(func(ok bool) { outcomes = append(outcomes, ok) })
	_, err = rolledBack.ExecuteUpdate(ctx, &item{ID: 2, Name: "b"}, "CREATE", "", nil)
	require.NoError(t, err)
	require.NoError(t, txm.Rollback(rolledBack))

	assert.Equal(t, []bool{true, false}, outcomes)
	assert.EqualValues(t, 1, countItems(t, conn))
	assert.ErrorIs(t, txm.Commit(committed), sql.ErrTxDone)
}

func TestGormTransactionManager_Savepoint(t *testing.T) {
	conn := openTestDB(t)
	txm := gormadaptor.NewGormTransactionManager(conn)
	ctx := context.Background()

	t1, err := txm.Begin(ctx)
	require.NoError(t, err)
	_, err = t1.ExecuteUpdate(ctx, &item{ID: 1, Name: "kept"}, "CREATE", "", nil)
	require.NoError(t, err)
	require.NoError(t, t1.Savepoint("chunk"))
	_, err = t1.ExecuteUpdate(ctx, &item{ID: 2, Name: "undone"}, "CREATE", "", nil)
	require.NoError(t, err)
	require.NoError(t, t1.RollbackToSavepoint("chunk"))
	require.NoError(t, txm.Commit(t1))

	var names []string
	require.NoError(t, conn.GetGormDB().Model(&item{}).Order("id").Pluck("name", &names).Error)
	assert.Equal(t, []string{"kept"}, names)
}

func TestGormDBAdapter_UsesTransactionFromContext(t *testing.T) {
	conn := openTestDB(t)
	txm := gormadaptor.NewGormTransactionManager(conn)

	t1, err := txm.Begin(context.Background())
	require.NoError(t, err)
	ctx := tx.WithTx(context.Background(), t1)
	require.NoError(t, conn.DB(ctx).Create(&item{ID: 7, Name: "in-tx"}).Error)
	_, foreign := conn.ForeignTx(ctx)
	assert.False(t, foreign)
	require.NoError(t, txm.Rollback(t1))

	assert.EqualValues(t, 0, countItems(t, conn))

	other := tx.NewResourcelessTransactionManager()
	t2, err := other.Begin(context.Background())
	require.NoError(t, err)
	_, foreign = conn.ForeignTx(tx.WithTx(context.Background(), t2))
	assert.True(t, foreign)
	assert.Error(t, txm.Commit(t2))
}

func TestGormDBAdapter_Upsert(t *testing.T) {
	conn := openTestDB(t)
	ctx := context.Background()

	_, err := conn.ExecuteUpsert(ctx, &item{ID: 1, Name: "first"}, "", []string{"id"}, []string{"name"})
	require.NoError(t, err)
	_, err = conn.ExecuteUpsert(ctx, &item{ID: 1, Name: "second"}, "", []string{"id"}, []string{"name"})
	require.NoError(t, err)

	var got item
	require.NoError(t, conn.GetGormDB().First(&got, 1).Error)
	assert.Equal(t, "second", got.Name)
	assert.EqualValues(t, 1, countItems(t, conn))
}
