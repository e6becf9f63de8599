package item

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	gormadaptor "github.com/tigerroll/chunkbatch/pkg/batch/adaptor/database/gorm"
	port "github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	exception "github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// DefaultPageSize is the page size of a PagingReader created with pageSize <= 0.
const DefaultPageSize = 10

// QueryScope narrows and orders the query of a PagingReader,
// e.g. func(db *gorm.DB) *gorm.DB { return db.Where("win >= ?", 10).Order("id") }.
type QueryScope func(db *gorm.DB) *gorm.DB

// PagingReader reads the rows of a GORM model one page at a time. Each page is
// a separate LIMIT/OFFSET query, so no cursor stays open across chunks. The
// scope must impose a total order for paging and restarts to be correct.
type PagingReader[T any] struct {
	conn     *gormadaptor.GormDBAdapter
	name     string
	pageSize int
	scope    QueryScope

	page      []T
	next      int
	count     int
	exhausted bool
}

var (
	_ port.ItemReader[any] = (*PagingReader[any])(nil)
	_ port.ItemStream      = (*PagingReader[any])(nil)
)

// NewPagingReader creates a PagingReader over the table of T.
func NewPagingReader[T any](conn *gormadaptor.GormDBAdapter, name string, pageSize int, scope QueryScope) *PagingReader[T] {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if scope == nil {
		scope = func(db *gorm.DB) *gorm.DB { return db }
	}
	return &PagingReader[T]{conn: conn, name: name, pageSize: pageSize, scope: scope}
}

// Open restores the number of rows consumed before the last commit.
func (r *PagingReader[T]) Open(_ context.Context, ec model.ExecutionContext) error {
	r.page, r.next, r.exhausted = nil, 0, false
	r.count = restoredCount(ec, r.name)
	if r.count > 0 {
		logger.Infof("PagingReader '%s': resuming at row %d.", r.name, r.count)
	}
	return nil
}

// Read returns the next row, fetching a new page when the current one is used up.
func (r *PagingReader[T]) Read(ctx context.Context) (T, error) {
	var zero T
	if r.next >= len(r.page) {
		if r.exhausted {
			return zero, port.ErrNoMoreItems
		}
		if err := r.fetch(ctx); err != nil {
			return zero, err
		}
		if len(r.page) == 0 {
			return zero, port.ErrNoMoreItems
		}
	}
	item := r.page[r.next]
	r.next++
	r.count++
	return item, nil
}

func (r *PagingReader[T]) fetch(ctx context.Context) error {
	var page []T
	db := r.scope(r.conn.DB(ctx).Model(new(T)))
	if err := db.Offset(r.count).Limit(r.pageSize).Find(&page).Error; err != nil {
		return exception.NewBatchError("reader", fmt.Sprintf("PagingReader '%s': failed to read page at offset %d", r.name, r.count), err, false, false)
	}
	logger.Debugf("PagingReader '%s': fetched %d row(s) at offset %d.", r.name, len(page), r.count)
	r.page, r.next = page, 0
	r.exhausted = len(page) < r.pageSize
	return nil
}

// Update saves the number of rows consumed.
func (r *PagingReader[T]) Update(_ context.Context, ec model.ExecutionContext) error {
	ec.Put(readCountKey(r.name), r.count)
	return nil
}

// Close drops the current page.
func (r *PagingReader[T]) Close(context.Context) error {
	r.page = nil
	return nil
}
