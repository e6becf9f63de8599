package fault

// Counters are the skip and retry totals of one step execution. The step
// executor owns them for the whole run and passes them by pointer to the
// chunk provider and processor, so limits apply across chunks.
type Counters struct {
	Skips   int
	Retries int
}

// RecordSkip counts one skipped item.
func (c *Counters) RecordSkip() { c.Skips++ }

// RecordRetry counts one retry.
func (c *Counters) RecordRetry() { c.Retries++ }

// Snapshot returns a copy of c.
func (c *Counters) Snapshot() Counters { return *c }

// Restore resets c to s. Used when a chunk is rolled back and replayed.
func (c *Counters) Restore(s Counters) { *c = s }
