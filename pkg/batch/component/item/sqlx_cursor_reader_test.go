package item_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/chunkbatch/pkg/batch/component/item"
	port "github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
)

type product struct {
	ID          int64  `db:"id"`
	Name        string `db:"name"`
	Description string `db:"description"`
}

const productQuery = "SELECT id, name, description FROM product WHERE description LIKE ? ORDER BY id"

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return sqlx.NewDb(db, "sqlmock"), mock
}

func productRows(ids ...int64) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{"id", "name", "description"})
	for _, id := range ids {
		rows.AddRow(id, "p", "user product")
	}
	return rows
}

func TestCursorReader_StructScanAndUpdate(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery(productQuery).WithArgs("user%").WillReturnRows(productRows(1, 2, 3))

	ctx := context.Background()
	r := item.NewCursorReader[product](db, "productReader", productQuery, []any{"user%"})
	require.NoError(t, r.Open(ctx, model.NewExecutionContext()))

	got := readAll[product](t, r)
	require.Len(t, got, 3)
	assert.Equal(t, int64(3), got[2].ID)
	assert.Equal(t, "user product", got[0].Description)

	ec := model.NewExecutionContext()
	require.NoError(t, r.Update(ctx, ec))
	n, _ := ec.GetInt("productReader.read.count")
	assert.Equal(t, 3, n)

	require.NoError(t, r.Close(ctx))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCursorReader_RestartSkipsCommittedRows(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery(productQuery).WithArgs("user%").WillReturnRows(productRows(1, 2, 3, 4))

	ec := model.NewExecutionContext()
	ec.Put("productReader.read.count", 2)

	r := item.NewCursorReader[product](db, "productReader", productQuery, []any{"user%"})
	require.NoError(t, r.Open(context.Background(), ec))
	got := readAll[product](t, r)
	require.Len(t, got, 2)
	assert.Equal(t, int64(3), got[0].ID)
	assert.Equal(t, int64(4), got[1].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCursorReader_RowMapperFailureConsumesRow(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery(productQuery).WithArgs("user%").WillReturnRows(productRows(1, 2))

	boom := errors.New("bad row")
	mapper := func(rows *sqlx.Rows) (int64, error) {
		var p product
		if err := rows.StructScan(&p); err != nil {
			return 0, err
		}
		if p.ID == 1 {
			return 0, boom
		}
		return p.ID, nil
	}
	ctx := context.Background()
	r := item.NewCursorReader[int64](db, "ids", productQuery, []any{"user%"}, item.WithRowMapper[int64](mapper))
	require.NoError(t, r.Open(ctx, model.NewExecutionContext()))

	_, err := r.Read(ctx)
	assert.ErrorIs(t, err, boom)
	id, err := r.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), id)
	_, err = r.Read(ctx)
	assert.ErrorIs(t, err, port.ErrNoMoreItems)

	ec := model.NewExecutionContext()
	require.NoError(t, r.Update(ctx, ec))
	n, _ := ec.GetInt("ids.read.count")
	assert.Equal(t, 2, n)
}

func TestCursorReader_QueryError(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery(productQuery).WillReturnError(errors.New("connection refused"))

	r := item.NewCursorReader[product](db, "productReader", productQuery, []any{"user%"})
	err := r.Open(context.Background(), model.NewExecutionContext())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")

	_, err = r.Read(context.Background())
	assert.Error(t, err)
	assert.NoError(t, r.Close(context.Background()))
}

func TestCursorReader_SQLiteResumeAfterCommittedRows(t *testing.T) {
	db, err := sqlx.Connect("sqlite3", filepath.Join(t.TempDir(), "items.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	db.MustExec("CREATE TABLE product (id INTEGER PRIMARY KEY, name TEXT, description TEXT)")
	for i := 1; i <= 6; i++ {
		desc := "user product"
		if i%3 == 0 {
			desc = "admin product"
		}
		db.MustExec("INSERT INTO product (id, name, description) VALUES (?, ?, ?)", i, "p", desc)
	}

	ctx := context.Background()
	ec := model.NewExecutionContext()
	r := item.NewCursorReader[product](db, "products", productQuery, []any{"user%"})
	require.NoError(t, r.Open(ctx, ec))
	first, err := r.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.ID)
	second, err := r.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), second.ID)
	require.NoError(t, r.Update(ctx, ec))
	require.NoError(t, r.Close(ctx))

	restarted := item.NewCursorReader[product](db, "products", productQuery, []any{"user%"})
	require.NoError(t, restarted.Open(ctx, ec))
	defer restarted.Close(ctx)
	var ids []int64
	for _, p := range readAll[product](t, restarted) {
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []int64{4, 5}, ids)
}
