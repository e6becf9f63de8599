package item

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	gormadaptor "github.com/tigerroll/chunkbatch/pkg/batch/adaptor/database/gorm"
	port "github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
	logger "github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// WriteMode selects the statement a GormWriter issues.
type WriteMode int

const (
	// ModeInsert inserts every item.
	ModeInsert WriteMode = iota
	// ModeUpsert inserts items and resolves conflicts on the configured columns.
	ModeUpsert
	// ModeSave updates items by primary key, inserting those without one.
	ModeSave
)

// GormWriter writes items through GORM. When the chunk transaction was begun
// on the same connection the items are written in it; otherwise each Write
// runs in a transaction of its own.
type GormWriter[T any] struct {
	conn      *gormadaptor.GormDBAdapter
	mode      WriteMode
	batchSize int
	conflict  []string
	updates   []string
}

var _ port.ItemWriter[any] = (*GormWriter[any])(nil)

// GormWriterOption configures a GormWriter.
type GormWriterOption func(*gormWriterOptions)

type gormWriterOptions struct {
	mode      WriteMode
	batchSize int
	conflict  []string
	updates   []string
}

// WithUpsert resolves conflicts on conflictColumns by updating updateColumns,
// or by ignoring the item when updateColumns is empty.
func WithUpsert(conflictColumns []string, updateColumns ...string) GormWriterOption {
	return func(o *gormWriterOptions) {
		o.mode = ModeUpsert
		o.conflict = conflictColumns
		o.updates = updateColumns
	}
}

// WithSave writes items with gorm's Save.
func WithSave() GormWriterOption {
	return func(o *gormWriterOptions) { o.mode = ModeSave }
}

// WithBatchSize splits inserts into statements of at most n rows.
func WithBatchSize(n int) GormWriterOption {
	return func(o *gormWriterOptions) { o.batchSize = n }
}

// NewGormWriter creates a GormWriter on conn.
func NewGormWriter[T any](conn *gormadaptor.GormDBAdapter, opts ...GormWriterOption) *GormWriter[T] {
	o := gormWriterOptions{batchSize: 100}
	for _, opt := range opts {
		opt(&o)
	}
	return &GormWriter[T]{
		conn:      conn,
		mode:      o.mode,
		batchSize: o.batchSize,
		conflict:  o.conflict,
		updates:   o.updates,
	}
}

// Write persists items. GORM fills generated keys into the values it writes,
// so it works on a copy and a replayed chunk starts from the original items.
func (w *GormWriter[T]) Write(ctx context.Context, items []T) error {
	if len(items) == 0 {
		return nil
	}
	items = append([]T(nil), items...)
	if _, foreign := w.conn.ForeignTx(ctx); foreign {
		logger.Debugf("GormWriter: chunk transaction is not on '%s'; writing %d item(s) in a local transaction.", w.conn.Name(), len(items))
		return w.conn.GetGormDB().WithContext(ctx).Transaction(func(db *gorm.DB) error {
			return w.write(db, items)
		})
	}
	return w.write(w.conn.DB(ctx), items)
}

func (w *GormWriter[T]) write(db *gorm.DB, items []T) error {
	switch w.mode {
	case ModeSave:
		for i := range items {
			if err := db.Save(&items[i]).Error; err != nil {
				return fmt.Errorf("save item %d of %d: %w", i+1, len(items), err)
			}
		}
		return nil
	case ModeUpsert:
		columns := make([]clause.Column, 0, len(w.conflict))
		for _, c := range w.conflict {
			columns = append(columns, clause.Column{Name: c})
		}
		onConflict := clause.OnConflict{Columns: columns}
		if len(w.updates) > 0 {
			onConflict.DoUpdates = clause.AssignmentColumns(w.updates)
		} else {
			onConflict.DoNothing = true
		}
		db = db.Clauses(onConflict)
	}
	return db.CreateInBatches(&items, w.batchSize).Error
}
