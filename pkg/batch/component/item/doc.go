// Package item provides ready-made item readers, processors and writers:
// in-memory lists, a sqlx cursor reader, a GORM paging reader, a GORM writer
// that joins the chunk transaction, and a Parquet writer that exports to
// object storage.
//
// Readers that implement port.ItemStream save their position under
// "<name>.read.count" in the step ExecutionContext, so a restarted step
// continues after the last committed item.
package item

import (
	"fmt"

	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
)

// readCountKey returns the ExecutionContext key holding the position of the reader named name.
func readCountKey(name string) string {
	return fmt.Sprintf("%s.read.count", name)
}

// restoredCount returns the position saved by the reader named name, or 0.
func restoredCount(ec model.ExecutionContext, name string) int {
	if ec == nil {
		return 0
	}
	n, ok := ec.GetInt(readCountKey(name))
	if !ok || n < 0 {
		return 0
	}
	return n
}
