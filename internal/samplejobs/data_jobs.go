package samplejobs

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/tigerroll/chunkbatch/pkg/batch/component/item"
	"github.com/tigerroll/chunkbatch/pkg/batch/component/tasklet/migration"
	port "github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/job/runner"
	chunkstep "github.com/tigerroll/chunkbatch/pkg/batch/engine/step/item"
	"github.com/tigerroll/chunkbatch/pkg/batch/engine/step/scope"
	"github.com/tigerroll/chunkbatch/pkg/batch/engine/step/tasklet"
)

// ParamCategory restricts jdbcPagingJob and exportJob to one product category.
const ParamCategory = "category"

var productColumns = []string{"name", "description", "category", "price"}

// migrateStep creates and seeds the tables of the data jobs.
func (d Deps) migrateStep() port.Step {
	return tasklet.NewScopedStep("migrateStep", func(context.Context, *model.StepExecution) (port.Tasklet, error) {
		conn, err := d.appConnection()
		if err != nil {
			return nil, err
		}
		t, err := migration.NewTasklet(conn, Migrations(), nil)
		if err != nil {
			return nil, err
		}
		return t, nil
	}, d.Repository, d.TxManager, d.taskletOptions()...)
}

func orderByID(db *gorm.DB) *gorm.DB { return db.Order("id") }

// byCategory orders products by id, keeping only the category named by the
// job parameter when it is set.
func byCategory(se *model.StepExecution) item.QueryScope {
	category := ""
	if se.JobExecution != nil {
		category, _ = se.JobExecution.Parameters.GetString(ParamCategory)
	}
	return func(db *gorm.DB) *gorm.DB {
		if category != "" {
			db = db.Where("category = ?", category)
		}
		return db.Order("id")
	}
}

func copyProduct(_ context.Context, p Product) (ProductCopy, error) {
	return ProductCopy(p), nil
}

func (d Deps) productCopyWriter(context.Context, *model.StepExecution) (port.ItemWriter[ProductCopy], error) {
	conn, err := d.appConnection()
	if err != nil {
		return nil, err
	}
	return item.NewGormWriter[ProductCopy](conn, item.WithUpsert([]string{"id"}, productColumns...)), nil
}

func (d Deps) pagingProducts(name string, pageSize int, scopeFor func(*model.StepExecution) item.QueryScope) scope.Provider[port.ItemReader[Product]] {
	return func(_ context.Context, se *model.StepExecution) (port.ItemReader[Product], error) {
		conn, err := d.appConnection()
		if err != nil {
			return nil, err
		}
		return item.NewPagingReader[Product](conn, name, pageSize, scopeFor(se)), nil
	}
}

func (d Deps) copyJob(name, stepName string, chunkSize int, reader scope.Provider[port.ItemReader[Product]]) (*runner.FlowJob, error) {
	opts, err := d.chunkOptions(chunkstep.WithChunkSize(chunkSize))
	if err != nil {
		return nil, err
	}
	step := chunkstep.NewScopedChunkStep(stepName, reader,
		scope.Value[port.ItemProcessor[Product, ProductCopy]](port.ItemProcessorFunc[Product, ProductCopy](copyProduct)),
		d.productCopyWriter, d.Repository, d.TxManager, opts...)
	return d.newJob(name).Start(d.migrateStep()).Next(step).Build()
}

// NewFirstJob copies product into product_copy, ten rows per chunk.
func NewFirstJob(d Deps) (*runner.FlowJob, error) {
	reader := d.pagingProducts("products", 10, func(*model.StepExecution) item.QueryScope { return orderByID })
	return d.copyJob("firstJob", "copyStep", 10, reader)
}

// NewPagingJob copies product into product_copy page by page, twenty rows per chunk.
func NewPagingJob(d Deps) (*runner.FlowJob, error) {
	return d.copyJob("jdbcPagingJob", "pagingStep", 20, d.pagingProducts("products", 20, byCategory))
}

// NewCursorJob copies the products whose description starts with "user"
// through a single cursor.
func NewCursorJob(d Deps) (*runner.FlowJob, error) {
	reader := func(context.Context, *model.StepExecution) (port.ItemReader[Product], error) {
		conn, err := d.appConnection()
		if err != nil {
			return nil, err
		}
		db, err := item.NewSqlxDB(conn)
		if err != nil {
			return nil, err
		}
		return item.NewCursorReader[Product](db, "products",
			"SELECT id, name, description, category, price FROM product WHERE description LIKE ? ORDER BY id",
			[]any{"user%"}), nil
	}
	return d.copyJob("jdbcCursorJob", "cursorStep", 10, reader)
}

// NewSecondJob rewards every player with at least ten wins.
func NewSecondJob(d Deps) (*runner.FlowJob, error) {
	reader := func(context.Context, *model.StepExecution) (port.ItemReader[Player], error) {
		conn, err := d.appConnection()
		if err != nil {
			return nil, err
		}
		return item.NewPagingReader[Player](conn, "players", 10, func(db *gorm.DB) *gorm.DB {
			return db.Where("win >= ?", 10).Order("id")
		}), nil
	}
	processor := port.ItemProcessorFunc[Player, Player](func(_ context.Context, p Player) (Player, error) {
		p.Reward = true
		return p, nil
	})
	writer := func(context.Context, *model.StepExecution) (port.ItemWriter[Player], error) {
		conn, err := d.appConnection()
		if err != nil {
			return nil, err
		}
		return item.NewGormWriter[Player](conn, item.WithSave()), nil
	}
	opts, err := d.chunkOptions(chunkstep.WithChunkSize(10))
	if err != nil {
		return nil, err
	}
	step := chunkstep.NewScopedChunkStep("rewardStep", reader,
		scope.Value[port.ItemProcessor[Player, Player]](processor), writer, d.Repository, d.TxManager, opts...)
	return d.newJob("secondJob").Start(d.migrateStep()).Next(step).Build()
}

// ExportBaseDir is the object prefix of the files written by exportJob.
const ExportBaseDir = "export/products"

// NewExportJob exports products as Parquet files partitioned by category.
func NewExportJob(d Deps) (*runner.FlowJob, error) {
	writer := func(ctx context.Context, se *model.StepExecution) (port.ItemWriter[Product], error) {
		if d.Storage == nil {
			return nil, errors.New("no storage connections are configured")
		}
		store, err := d.Storage.Connection(ctx, ExportStorage)
		if err != nil {
			return nil, err
		}
		w, err := item.NewParquetWriter[Product]("products", store, map[string]interface{}{
			"output_base_dir": ExportBaseDir,
			"rows_per_file":   1000,
		}, func(p Product) (string, error) { return "category=" + p.Category, nil })
		if err != nil {
			return nil, err
		}
		return w, nil
	}
	opts, err := d.chunkOptions(chunkstep.WithChunkSize(10))
	if err != nil {
		return nil, err
	}
	step := chunkstep.NewScopedChunkStep[Product, Product]("exportStep", d.pagingProducts("products", 10, byCategory),
		nil, writer, d.Repository, d.TxManager, opts...)
	return d.newJob("exportJob").Start(d.migrateStep()).Next(step).Build()
}
