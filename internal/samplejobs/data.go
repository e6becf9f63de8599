package samplejobs

import (
	"embed"
	"errors"
	"io/fs"

	gormadaptor "github.com/tigerroll/chunkbatch/pkg/batch/adaptor/database/gorm"
)

//go:embed migrations
var migrationFiles embed.FS

// Migrations returns the schema and seed data of the data jobs, with one
// directory per database type.
func Migrations() fs.FS {
	sub, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

// Product is a row of the product table.
type Product struct {
	ID          int64  `gorm:"primaryKey" db:"id" parquet:"name=id, type=INT64"`
	Name        string `db:"name" parquet:"name=name, type=BYTE_ARRAY, convertedtype=UTF8"`
	Description string `db:"description" parquet:"name=description, type=BYTE_ARRAY, convertedtype=UTF8"`
	Category    string `db:"category" parquet:"name=category, type=BYTE_ARRAY, convertedtype=UTF8"`
	Price       int64  `db:"price" parquet:"name=price, type=INT64"`
}

func (Product) TableName() string { return "product" }

// ProductCopy is a row of product_copy, the target of the copy jobs.
type ProductCopy Product

func (ProductCopy) TableName() string { return "product_copy" }

// Player is a row of the player table.
type Player struct {
	ID     int64 `gorm:"primaryKey"`
	Name   string
	Win    int
	Reward bool
}

func (Player) TableName() string { return "player" }

// appConnection returns the AppDatabase connection, or the job repository
// connection when AppDatabase is not configured.
func (d Deps) appConnection() (*gormadaptor.GormDBAdapter, error) {
	if d.Databases == nil {
		return nil, errors.New("no database connections are configured")
	}
	name := AppDatabase
	if _, ok := d.Config.ChunkBatch.Database[name]; !ok {
		name = d.Config.ChunkBatch.Infrastructure.JobRepositoryDBRef
	}
	return d.Databases.Connection(name)
}
