package item_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	gormadaptor "github.com/tigerroll/chunkbatch/pkg/batch/adaptor/database/gorm"
	_ "github.com/tigerroll/chunkbatch/pkg/batch/adaptor/database/gorm/sqlite"
	"github.com/tigerroll/chunkbatch/pkg/batch/component/item"
	config "github.com/tigerroll/chunkbatch/pkg/batch/core/config"
	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	tx "github.com/tigerroll/chunkbatch/pkg/batch/core/tx"
)

type player struct {
	ID     int64 `gorm:"primaryKey"`
	Name   string
	Win    int
	Reward bool
}

func (player) TableName() string { return "player" }

func openDB(t *testing.T, name string) *gormadaptor.GormDBAdapter {
	t.Helper()
	conn, err := gormadaptor.Open(name, config.DatabaseConfig{
		Type:     "sqlite",
		Database: filepath.Join(t.TempDir(), name+".db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, conn.GetGormDB().AutoMigrate(&player{}))
	return conn
}

func seedPlayers(t *testing.T, conn *gormadaptor.GormDBAdapter, n int) {
	t.Helper()
	players := make([]player, 0, n)
	for i := 1; i <= n; i++ {
		players = append(players, player{ID: int64(i), Name: fmt.Sprintf("p%d", i), Win: i})
	}
	require.NoError(t, conn.GetGormDB().Create(&players).Error)
}

func byID(db *gorm.DB) *gorm.DB { return db.Order("id") }

func TestPagingReader_ReadsAllPagesInOrder(t *testing.T) {
	conn := openDB(t, "paging")
	seedPlayers(t, conn, 7)

	r := item.NewPagingReader[player](conn, "players", 3, byID)
	require.NoError(t, r.Open(context.Background(), model.NewExecutionContext()))
	got := readAll[player](t, r)
	require.Len(t, got, 7)
	for i, p := range got {
		assert.Equal(t, int64(i+1), p.ID)
	}
}

func TestPagingReader_RestartAndFilter(t *testing.T) {
	conn := openDB(t, "paging")
	seedPlayers(t, conn, 20)

	winners := func(db *gorm.DB) *gorm.DB { return db.Where("win >= ?", 10).Order("id") }
	ctx := context.Background()
	r := item.NewPagingReader[player](conn, "winners", 4, winners)
	require.NoError(t, r.Open(ctx, model.NewExecutionContext()))
	for i := 0; i < 5; i++ {
		_, err := r.Read(ctx)
		require.NoError(t, err)
	}
	ec := model.NewExecutionContext()
	require.NoError(t, r.Update(ctx, ec))

	restarted := item.NewPagingReader[player](conn, "winners", 4, winners)
	require.NoError(t, restarted.Open(ctx, ec))
	got := readAll[player](t, restarted)
	require.Len(t, got, 6)
	assert.Equal(t, int64(15), got[0].ID)
	assert.Equal(t, int64(20), got[5].ID)
}

func countPlayers(t *testing.T, conn *gormadaptor.GormDBAdapter) int64 {
	t.Helper()
	var n int64
	require.NoError(t, conn.GetGormDB().Model(&player{}).Count(&n).Error)
	return n
}

func TestGormWriter_JoinsChunkTransaction(t *testing.T) {
	conn := openDB(t, "writer")
	txm := gormadaptor.NewGormTransactionManager(conn)
	w := item.NewGormWriter[player](conn)

	ctx := context.Background()
	rolledBack, err := txm.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, w.Write(tx.WithTx(ctx, rolledBack), []player{{ID: 1, Name: "a"}, {ID: 2, Name: "b"}}))
	require.NoError(t, txm.Rollback(rolledBack))
	assert.Equal(t, int64(0), countPlayers(t, conn))

	committed, err := txm.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, w.Write(tx.WithTx(ctx, committed), []player{{ID: 1, Name: "a"}, {ID: 2, Name: "b"}}))
	require.NoError(t, txm.Commit(committed))
	assert.Equal(t, int64(2), countPlayers(t, conn))
}

func TestGormWriter_SavepointReplay(t *testing.T) {
	conn := openDB(t, "writer")
	txm := gormadaptor.NewGormTransactionManager(conn)
	w := item.NewGormWriter[player](conn)

	ctx := context.Background()
	chunk, err := txm.Begin(ctx)
	require.NoError(t, err)
	tctx := tx.WithTx(ctx, chunk)

	require.NoError(t, chunk.Savepoint("chunk"))
	err = w.Write(tctx, []player{{ID: 1, Name: "a"}, {ID: 1, Name: "dup"}})
	require.Error(t, err)
	require.NoError(t, chunk.RollbackToSavepoint("chunk"))

	require.NoError(t, w.Write(tctx, []player{{ID: 1, Name: "a"}}))
	require.NoError(t, txm.Commit(chunk))

	var got []player
	require.NoError(t, conn.GetGormDB().Find(&got).Error)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].Name)
}

func TestGormWriter_UpsertAndSave(t *testing.T) {
	conn := openDB(t, "writer")
	seedPlayers(t, conn, 3)
	ctx := context.Background()

	upsert := item.NewGormWriter[player](conn, item.WithUpsert([]string{"id"}, "name"))
	require.NoError(t, upsert.Write(ctx, []player{{ID: 2, Name: "renamed"}, {ID: 4, Name: "new"}}))

	save := item.NewGormWriter[player](conn, item.WithSave())
	require.NoError(t, save.Write(ctx, []player{{ID: 3, Name: "p3", Win: 3, Reward: true}}))

	var got []player
	require.NoError(t, conn.GetGormDB().Order("id").Find(&got).Error)
	require.Len(t, got, 4)
	assert.Equal(t, "renamed", got[1].Name)
	assert.Equal(t, 2, got[1].Win)
	assert.True(t, got[2].Reward)
	assert.Equal(t, "new", got[3].Name)
}

func TestGormWriter_ForeignTransactionWritesLocally(t *testing.T) {
	conn := openDB(t, "writer")
	other := openDB(t, "other")
	txm := gormadaptor.NewGormTransactionManager(other)
	w := item.NewGormWriter[player](conn)

	ctx := context.Background()
	foreign, err := txm.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, w.Write(tx.WithTx(ctx, foreign), []player{{ID: 1, Name: "a"}}))
	require.NoError(t, txm.Rollback(foreign))

	assert.Equal(t, int64(1), countPlayers(t, conn))

	err = w.Write(ctx, []player{{ID: 1, Name: "dup"}})
	assert.Error(t, err)
	assert.False(t, errors.Is(err, gorm.ErrRecordNotFound))
}
