package samplejobs

import (
	"context"
	"fmt"
	"strings"

	port "github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/job/runner"
	"github.com/tigerroll/chunkbatch/pkg/batch/engine/step/tasklet"
	"github.com/tigerroll/chunkbatch/pkg/batch/listener"
	logger "github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// ParamStep1Exit is the job parameter that sets the exit status of step1 in
// the conditional job. "FAILED" fails the step.
const ParamStep1Exit = "step1.exit"

func (d Deps) logStep(name string) port.Step {
	return tasklet.NewStep(name, port.TaskletFunc(func(ctx context.Context, c *port.StepContribution) (model.RepeatStatus, error) {
		logger.Infof("Executing %s.", name)
		return model.RepeatStatusFinished, nil
	}), d.Repository, d.TxManager, d.taskletOptions()...)
}

// NewConditionalJob builds "job": step1 is followed by step3 when it fails,
// by step4 when it completes and by step2 on any other exit status.
func NewConditionalJob(d Deps) (*runner.FlowJob, error) {
	step1 := tasklet.NewStep("step1", port.TaskletFunc(func(ctx context.Context, c *port.StepContribution) (model.RepeatStatus, error) {
		exit := ""
		if je := c.StepExecution.JobExecution; je != nil {
			exit, _ = je.Parameters.GetString(ParamStep1Exit)
		}
		switch exit = strings.ToUpper(exit); exit {
		case "", string(model.ExitStatusCompleted):
			logger.Infof("Executing step1.")
		case string(model.ExitStatusFailed):
			return model.RepeatStatusFinished, fmt.Errorf("step1 asked to fail")
		default:
			logger.Infof("Executing step1 with exit status %s.", exit)
			c.ExitStatus = model.ExitStatus(exit)
		}
		return model.RepeatStatusFinished, nil
	}), d.Repository, d.TxManager, d.taskletOptions()...)
	step2, step3, step4 := d.logStep("step2"), d.logStep("step3"), d.logStep("step4")

	banner := listener.JobListenerFuncs{
		Before: func(_ context.Context, je *model.JobExecution) error {
			logger.Infof("########## %s: start (run %s)", je.JobName, je.ID)
			return nil
		},
		After: func(_ context.Context, je *model.JobExecution) error {
			logger.Infof("########## %s: end %s/%s (run %s)", je.JobName, je.Status, je.ExitStatus, je.ID)
			return nil
		},
	}
	return d.newJob("job").
		Listener(banner).
		Start(step1).On(model.WildcardPattern).To(step2).
		From(step1).On(string(model.ExitStatusFailed)).To(step3).
		From(step1).On(string(model.ExitStatusCompleted)).To(step4).
		Build()
}

// NewTaskletJob runs a single tasklet once.
func NewTaskletJob(d Deps) (*runner.FlowJob, error) {
	step := tasklet.NewStep("taskletStep", port.TaskletFunc(func(ctx context.Context, c *port.StepContribution) (model.RepeatStatus, error) {
		logger.Infof("Tasklet executed for run %s.", c.StepExecution.JobExecutionID)
		return model.RepeatStatusFinished, nil
	}), d.Repository, d.TxManager, d.taskletOptions()...)
	return d.newJob("taskletJob").Start(step).Build()
}
