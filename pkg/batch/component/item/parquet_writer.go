package item

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/tigerroll/chunkbatch/pkg/batch/adaptor/storage"
	port "github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	tx "github.com/tigerroll/chunkbatch/pkg/batch/core/tx"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/configbinder"
	exception "github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// ParquetWriterConfig holds the properties of a ParquetWriter.
type ParquetWriterConfig struct {
	// Bucket overrides the bucket of the storage connection.
	Bucket string `yaml:"bucket"`
	// OutputBaseDir is the object prefix of exported files, e.g. "export/products".
	OutputBaseDir string `yaml:"output_base_dir"`
	// Compression is "SNAPPY" (default), "GZIP" or "NONE".
	Compression string `yaml:"compression"`
	// RowsPerFile starts a new file once that many committed rows are buffered
	// in a partition. 0 writes one file per partition when the step ends.
	RowsPerFile int `yaml:"rows_per_file"`
}

// PartitionKeyFunc returns the Hive-style partition of an item, e.g. "dt=2024-01-31".
// An empty key writes the item directly under OutputBaseDir.
type PartitionKeyFunc[T any] func(item T) (string, error)

// ParquetWriter exports items as Parquet files to object storage. T must be a
// struct with parquet tags.
//
// Items are buffered per transaction and only become part of the export once
// the chunk commits; items of a rolled back chunk are dropped. Files are
// uploaded when a partition reaches RowsPerFile and when the step ends.
type ParquetWriter[T any] struct {
	name         string
	cfg          ParquetWriterConfig
	codec        parquet.CompressionCodec
	store        storage.Storage
	partitionKey PartitionKeyFunc[T]

	mu        sync.Mutex
	committed map[string][]T
	files     int
}

var (
	_ port.ItemWriter[any] = (*ParquetWriter[any])(nil)
	_ port.ItemStream      = (*ParquetWriter[any])(nil)
)

// NewParquetWriter creates a ParquetWriter. properties are bound onto
// ParquetWriterConfig; output_base_dir is required.
func NewParquetWriter[T any](name string, store storage.Storage, properties map[string]interface{}, partitionKey PartitionKeyFunc[T]) (*ParquetWriter[T], error) {
	var cfg ParquetWriterConfig
	if err := configbinder.BindProperties(properties, &cfg); err != nil {
		return nil, exception.NewBatchError("writer", fmt.Sprintf("ParquetWriter '%s': invalid properties", name), err, false, false)
	}
	if cfg.OutputBaseDir == "" {
		return nil, exception.NewBatchErrorf("writer", "ParquetWriter '%s' requires 'output_base_dir'", name)
	}
	if store == nil {
		return nil, exception.NewBatchErrorf("writer", "ParquetWriter '%s' requires a storage connection", name)
	}
	codec, err := compressionCodec(cfg.Compression)
	if err != nil {
		return nil, exception.NewBatchError("writer", fmt.Sprintf("ParquetWriter '%s'", name), err, false, false)
	}
	if partitionKey == nil {
		partitionKey = func(T) (string, error) { return "", nil }
	}
	return &ParquetWriter[T]{
		name:         name,
		cfg:          cfg,
		codec:        codec,
		store:        store,
		partitionKey: partitionKey,
		committed:    make(map[string][]T),
	}, nil
}

// Open clears the buffers.
func (w *ParquetWriter[T]) Open(context.Context, model.ExecutionContext) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.committed = make(map[string][]T)
	w.files = 0
	return nil
}

// Write buffers items until the chunk transaction completes. A call that
// fails buffers nothing, so a replayed chunk is not exported twice.
func (w *ParquetWriter[T]) Write(ctx context.Context, items []T) error {
	if err := w.flush(ctx, false); err != nil {
		return err
	}

	pending := make(map[string][]T)
	for _, it := range items {
		key, err := w.partitionKey(it)
		if err != nil {
			return exception.NewBatchError("writer", fmt.Sprintf("ParquetWriter '%s': failed to get partition key", w.name), err, false, false)
		}
		pending[key] = append(pending[key], it)
	}

	accept := func(committed bool) {
		if !committed {
			logger.Debugf("ParquetWriter '%s': dropped %d item(s) of a rolled back chunk.", w.name, len(items))
			return
		}
		w.mu.Lock()
		defer w.mu.Unlock()
		for key, rows := range pending {
			w.committed[key] = append(w.committed[key], rows...)
		}
	}
	if t, ok := tx.FromContext(ctx); ok {
		t.AfterCompletion(accept)
	} else {
		accept(true)
	}
	return nil
}

// Update implements port.ItemStream. Buffered rows are not part of the
// restart state; they are uploaded at the latest when the step ends.
func (w *ParquetWriter[T]) Update(context.Context, model.ExecutionContext) error { return nil }

// Close uploads every committed row still buffered.
func (w *ParquetWriter[T]) Close(ctx context.Context) error {
	return w.flush(ctx, true)
}

// Files returns the number of files uploaded since Open.
func (w *ParquetWriter[T]) Files() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.files
}

// flush uploads the partitions that reached RowsPerFile, or all of them when all is set.
func (w *ParquetWriter[T]) flush(ctx context.Context, all bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	keys := make([]string, 0, len(w.committed))
	for key, rows := range w.committed {
		if len(rows) == 0 {
			continue
		}
		if all || (w.cfg.RowsPerFile > 0 && len(rows) >= w.cfg.RowsPerFile) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	var result *multierror.Error
	for _, key := range keys {
		if err := w.upload(ctx, key, w.committed[key]); err != nil {
			result = multierror.Append(result, err)
			continue
		}
		delete(w.committed, key)
	}
	return result.ErrorOrNil()
}

func (w *ParquetWriter[T]) upload(ctx context.Context, partition string, rows []T) error {
	buf := new(bytes.Buffer)
	if err := w.encode(buf, rows); err != nil {
		return exception.NewBatchError("writer", fmt.Sprintf("ParquetWriter '%s': failed to encode partition '%s'", w.name, partition), err, false, false)
	}
	fileName := fmt.Sprintf("part-%s-%s.parquet", time.Now().UTC().Format("20060102T150405"), uuid.NewString()[:8])
	objectName := path.Join(w.cfg.OutputBaseDir, partition, fileName)
	size := buf.Len()
	if err := w.store.Upload(ctx, w.cfg.Bucket, objectName, buf, "application/octet-stream"); err != nil {
		return exception.NewBatchError("writer", fmt.Sprintf("ParquetWriter '%s': failed to upload %s", w.name, objectName), err, false, false)
	}
	w.files++
	logger.Infof("ParquetWriter '%s': uploaded %d row(s), %d bytes to %s:%s.", w.name, len(rows), size, w.store.Name(), objectName)
	return nil
}

func (w *ParquetWriter[T]) encode(buf *bytes.Buffer, rows []T) (err error) {
	pw, err := writer.NewParquetWriterFromWriter(buf, new(T), 4)
	if err != nil {
		return err
	}
	pw.CompressionType = w.codec
	for _, row := range rows {
		if err := pw.Write(row); err != nil {
			return err
		}
	}
	// WriteStop panics on some schema mismatches.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("parquet writer panicked: %v", r)
		}
	}()
	return pw.WriteStop()
}

func compressionCodec(name string) (parquet.CompressionCodec, error) {
	switch strings.ToUpper(name) {
	case "", "SNAPPY":
		return parquet.CompressionCodec_SNAPPY, nil
	case "GZIP":
		return parquet.CompressionCodec_GZIP, nil
	case "NONE", "UNCOMPRESSED":
		return parquet.CompressionCodec_UNCOMPRESSED, nil
	default:
		return 0, fmt.Errorf("unsupported compression %q", name)
	}
}
