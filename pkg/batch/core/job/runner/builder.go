package runner

import (
	"errors"
	"fmt"

	port "github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/repository"
	metrics "github.com/tigerroll/chunkbatch/pkg/batch/core/metrics"
	"github.com/tigerroll/chunkbatch/pkg/batch/listener"
)

// JobBuilder assembles a FlowJob.
//
//	job, err := runner.NewJobBuilder("importJob", repo).
//		Start(load).
//		On("FAILED").To(cleanup).
//		From(load).On("*").To(report).
//		Build()
type JobBuilder struct {
	job     *FlowJob
	current string
	errs    []error
}

// NewJobBuilder starts the definition of a job.
func NewJobBuilder(name string, repo repository.JobRepository) *JobBuilder {
	return &JobBuilder{
		job: &FlowJob{
			name:        name,
			steps:       make(map[string]port.Step),
			repo:        repo,
			listeners:   listener.NewRegistry(),
			recorder:    metrics.NewNoOpMetricRecorder(),
			tracer:      metrics.NewNoOpTracer(),
			restartable: true,
		},
	}
}

// Start sets the first step of the flow.
func (b *JobBuilder) Start(step port.Step) *JobBuilder {
	if b.job.flow != nil {
		b.errs = append(b.errs, fmt.Errorf("job '%s': start step already set to '%s'", b.job.name, b.job.flow.StartStep))
		return b
	}
	name := b.add(step)
	b.job.flow = model.NewFlowDefinition(name)
	b.current = name
	return b
}

// Next continues with step when the current step does not fail, and fails the
// job otherwise.
func (b *JobBuilder) Next(step port.Step) *JobBuilder {
	from := b.from("Next")
	to := b.add(step)
	if from == "" || to == "" {
		return b
	}
	b.job.flow.AddTransition(model.Transition{From: from, On: string(model.ExitStatusFailed), Fail: true})
	b.job.flow.AddTransition(model.Transition{From: from, On: model.WildcardPattern, To: to})
	b.current = to
	return b
}

// From selects step as the source of the following transitions.
func (b *JobBuilder) From(step port.Step) *JobBuilder {
	b.current = b.add(step)
	return b
}

// On starts a transition from the current step for exit statuses matching
// pattern. "*" matches any run of characters and "?" a single one.
func (b *JobBuilder) On(pattern string) *TransitionBuilder {
	return &TransitionBuilder{parent: b, from: b.from("On"), pattern: pattern}
}

// AddStep registers a step that is reached only through explicit transitions.
func (b *JobBuilder) AddStep(step port.Step) *JobBuilder {
	b.add(step)
	return b
}

// Listener registers job listeners.
func (b *JobBuilder) Listener(ls ...any) *JobBuilder {
	for _, l := range ls {
		if err := b.job.listeners.Register(l); err != nil {
			b.errs = append(b.errs, err)
		}
	}
	return b
}

// Incrementer sets the parameters incrementer used by launches of the next instance.
func (b *JobBuilder) Incrementer(i port.JobParametersIncrementer) *JobBuilder {
	b.job.incrementer = i
	return b
}

// Validator sets the validator run before each launch.
func (b *JobBuilder) Validator(v port.JobParametersValidator) *JobBuilder {
	b.job.validator = v
	return b
}

// PreventRestart makes FAILED or STOPPED runs of the job final.
func (b *JobBuilder) PreventRestart() *JobBuilder {
	b.job.restartable = false
	return b
}

// Recorder sets the metric recorder.
func (b *JobBuilder) Recorder(r metrics.MetricRecorder) *JobBuilder {
	if r != nil {
		b.job.recorder = r
	}
	return b
}

// Tracer sets the tracer.
func (b *JobBuilder) Tracer(t metrics.Tracer) *JobBuilder {
	if t != nil {
		b.job.tracer = t
	}
	return b
}

// Build validates the definition and returns the job.
func (b *JobBuilder) Build() (*FlowJob, error) {
	errs := append([]error(nil), b.errs...)
	if b.job.name == "" {
		errs = append(errs, errors.New("job name is empty"))
	}
	if b.job.repo == nil {
		errs = append(errs, fmt.Errorf("job '%s': no JobRepository", b.job.name))
	}
	if b.job.flow == nil {
		errs = append(errs, fmt.Errorf("job '%s': no start step", b.job.name))
	} else {
		for _, t := range b.job.flow.Transitions {
			if !t.End && !t.Fail && !t.Stop {
				if _, ok := b.job.steps[t.To]; !ok {
					errs = append(errs, fmt.Errorf("job '%s': transition %s targets an unknown step", b.job.name, t))
				}
			}
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return b.job, nil
}

func (b *JobBuilder) add(step port.Step) string {
	if step == nil {
		b.errs = append(b.errs, fmt.Errorf("job '%s': nil step", b.job.name))
		return ""
	}
	name := step.StepName()
	if existing, ok := b.job.steps[name]; ok && existing != step {
		b.errs = append(b.errs, fmt.Errorf("job '%s': duplicate step name '%s'", b.job.name, name))
		return name
	}
	b.job.steps[name] = step
	return name
}

func (b *JobBuilder) from(op string) string {
	if b.job.flow == nil {
		b.errs = append(b.errs, fmt.Errorf("job '%s': %s called before Start", b.job.name, op))
		return ""
	}
	return b.current
}

// TransitionBuilder completes a transition started with JobBuilder.On.
type TransitionBuilder struct {
	parent  *JobBuilder
	from    string
	pattern string
}

// To continues with step. step becomes the current step of the builder.
func (t *TransitionBuilder) To(step port.Step) *JobBuilder {
	to := t.parent.add(step)
	t.add(model.Transition{To: to})
	if to != "" {
		t.parent.current = to
	}
	return t.parent
}

// End completes the job with the exit status of the step.
func (t *TransitionBuilder) End() *JobBuilder {
	t.add(model.Transition{End: true})
	return t.parent
}

// Fail fails the job.
func (t *TransitionBuilder) Fail() *JobBuilder {
	t.add(model.Transition{Fail: true})
	return t.parent
}

// Stop stops the job so that it can be restarted.
func (t *TransitionBuilder) Stop() *JobBuilder {
	t.add(model.Transition{Stop: true})
	return t.parent
}

func (t *TransitionBuilder) add(tr model.Transition) {
	if t.from == "" {
		return
	}
	if t.pattern == "" {
		t.parent.errs = append(t.parent.errs, fmt.Errorf("job '%s': empty transition pattern from '%s'", t.parent.job.name, t.from))
		return
	}
	tr.From = t.from
	tr.On = t.pattern
	t.parent.job.flow.AddTransition(tr)
}
