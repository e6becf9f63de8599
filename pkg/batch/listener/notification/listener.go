package notification

import (
	"context"

	port "github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	logger "github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// Listener forwards finished jobs and steps to a Notifier.
// Notification failures are logged and never fail the execution.
type Listener struct {
	notifier port.Notifier
	steps    bool
}

var (
	_ port.JobExecutionListener  = (*Listener)(nil)
	_ port.StepExecutionListener = (*Listener)(nil)
)

// NewListener notifies job completions, and step completions too when steps is set.
func NewListener(notifier port.Notifier, steps bool) *Listener {
	return &Listener{notifier: notifier, steps: steps}
}

func (l *Listener) BeforeJob(context.Context, *model.JobExecution) error { return nil }

func (l *Listener) AfterJob(ctx context.Context, je *model.JobExecution) error {
	if err := l.notifier.NotifyJobCompletion(ctx, je); err != nil {
		logger.Warnf("Notification of job '%s' (run %s) failed: %v", je.JobName, je.ID, err)
	}
	return nil
}

func (l *Listener) BeforeStep(context.Context, *model.StepExecution) error { return nil }

func (l *Listener) AfterStep(ctx context.Context, se *model.StepExecution) error {
	if !l.steps {
		return nil
	}
	if err := l.notifier.NotifyStepCompletion(ctx, se); err != nil {
		logger.Warnf("Notification of step '%s' failed: %v", se.StepName, err)
	}
	return nil
}
