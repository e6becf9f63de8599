package port

import (
	"context"

	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
)

// Step is a single phase of a job.
type Step interface {
	// StepName returns the logical name of the step. It is unique within a job.
	StepName() string
	// Execute runs the step. On return stepExecution carries the final status,
	// exit status and counters; the returned error is the cause of a failure.
	//
	// Parameters:
	//   ctx: The context for the operation.
	//   jobExecution: The current JobExecution.
	//   stepExecution: The StepExecution to run and update.
	//
	// Returns:
	//   error: The failure that ended the step, or nil.
	Execute(ctx context.Context, jobExecution *model.JobExecution, stepExecution *model.StepExecution) error
}

// StepContribution collects the counters a Tasklet reports during one execution.
// They are applied to the StepExecution when the tasklet's transaction commits.
type StepContribution struct {
	StepExecution *model.StepExecution

	ReadCount   int
	WriteCount  int
	FilterCount int
	// ExitStatus, when set, replaces the step's COMPLETED exit status.
	ExitStatus model.ExitStatus
}

// NewStepContribution creates a StepContribution for se.
func NewStepContribution(se *model.StepExecution) *StepContribution {
	return &StepContribution{StepExecution: se}
}

// IncrementReadCount adds n to the read counter.
func (c *StepContribution) IncrementReadCount(n int) { c.ReadCount += n }

// IncrementWriteCount adds n to the write counter.
func (c *StepContribution) IncrementWriteCount(n int) { c.WriteCount += n }

// IncrementFilterCount adds n to the filter counter.
func (c *StepContribution) IncrementFilterCount(n int) { c.FilterCount += n }

// Apply adds the collected counters to the StepExecution and resets them.
func (c *StepContribution) Apply() {
	if c.StepExecution == nil {
		return
	}
	c.StepExecution.ReadCount += c.ReadCount
	c.StepExecution.WriteCount += c.WriteCount
	c.StepExecution.FilterCount += c.FilterCount
	c.ReadCount, c.WriteCount, c.FilterCount = 0, 0, 0
}

// Tasklet is a step body that runs as a single unit of work.
type Tasklet interface {
	// Execute performs the work. It is called again, in the same transaction,
	// for as long as it returns model.RepeatStatusContinuable.
	//
	// Parameters:
	//   ctx: The context for the operation, carrying the step transaction.
	//   contribution: Counters to report for the step.
	//
	// Returns:
	//   model.RepeatStatus: Whether Execute should be called again.
	//   error: Any error, which fails the step.
	Execute(ctx context.Context, contribution *StepContribution) (model.RepeatStatus, error)
}

// TaskletFunc adapts a function to Tasklet.
type TaskletFunc func(ctx context.Context, contribution *StepContribution) (model.RepeatStatus, error)

// Execute calls f.
func (f TaskletFunc) Execute(ctx context.Context, contribution *StepContribution) (model.RepeatStatus, error) {
	return f(ctx, contribution)
}
