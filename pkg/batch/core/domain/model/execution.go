package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// NewID returns a new unique identifier.
func NewID() string {
	return uuid.NewString()
}

// FailureList holds failure messages recorded on an execution.
type FailureList []string

// Value implements driver.Valuer.
func (fl FailureList) Value() (driver.Value, error) {
	if fl == nil {
		return "[]", nil
	}
	b, err := json.Marshal(fl)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (fl *FailureList) Scan(value interface{}) error {
	var b []byte
	switch v := value.(type) {
	case nil:
		*fl = FailureList{}
		return nil
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("unsupported Scan type for FailureList: %T", value)
	}
	if len(b) == 0 {
		*fl = FailureList{}
		return nil
	}
	return json.Unmarshal(b, fl)
}

func (fl FailureList) add(err error) (FailureList, bool) {
	msg := exception.ExtractErrorMessage(err)
	if err != nil && msg == "" {
		msg = err.Error()
	}
	for _, existing := range fl {
		if existing == msg {
			return fl, false
		}
	}
	return append(fl, msg), true
}

// JobInstance is a job name bound to one set of identifying parameters.
type JobInstance struct {
	ID             string
	JobName        string
	Parameters     JobParameters
	ParametersHash string
	CreateTime     time.Time
	Version        int
}

// NewJobInstance creates a JobInstance.
func NewJobInstance(jobName string, params JobParameters) *JobInstance {
	return &JobInstance{
		ID:             NewID(),
		JobName:        jobName,
		Parameters:     params,
		ParametersHash: params.Identity(),
		CreateTime:     time.Now(),
	}
}

// JobExecution is one run of a JobInstance. Its ID is the run identifier.
type JobExecution struct {
	ID               string
	JobInstanceID    string
	JobName          string
	Parameters       JobParameters
	Status           BatchStatus
	ExitStatus       ExitStatus
	ExitDescription  string
	StartTime        time.Time
	EndTime          *time.Time
	CreateTime       time.Time
	LastUpdated      time.Time
	Failures         FailureList
	StepExecutions   []*StepExecution
	ExecutionContext ExecutionContext
	CurrentStepName  string
	RestartCount     int
	Version          int

	stop *atomic.Bool
}

// NewJobExecution creates a JobExecution in READY state.
func NewJobExecution(instance *JobInstance, params JobParameters) *JobExecution {
	now := time.Now()
	return &JobExecution{
		ID:               NewID(),
		JobInstanceID:    instance.ID,
		JobName:          instance.JobName,
		Parameters:       params,
		Status:           BatchStatusReady,
		ExitStatus:       ExitStatusUnknown,
		CreateTime:       now,
		LastUpdated:      now,
		Failures:         FailureList{},
		ExecutionContext: NewExecutionContext(),
		stop:             new(atomic.Bool),
	}
}

// RequestStop asks the run to stop at the next chunk boundary.
func (je *JobExecution) RequestStop() {
	if je.stop == nil {
		je.stop = new(atomic.Bool)
	}
	je.stop.Store(true)
}

// IsStopRequested reports whether RequestStop has been called.
func (je *JobExecution) IsStopRequested() bool {
	return je.stop != nil && je.stop.Load()
}

func isValidJobTransition(current, next BatchStatus) bool {
	switch current {
	case BatchStatusReady:
		return next == BatchStatusStarting || next == BatchStatusRunning || next == BatchStatusFailed || next == BatchStatusAbandoned
	case BatchStatusStarting:
		return next == BatchStatusRunning || next == BatchStatusFailed || next == BatchStatusStopped || next == BatchStatusAbandoned
	case BatchStatusRunning:
		return next == BatchStatusStopping || next == BatchStatusCompleted || next == BatchStatusFailed || next == BatchStatusStopped
	case BatchStatusStopping:
		return next == BatchStatusStopped || next == BatchStatusFailed || next == BatchStatusCompleted
	case BatchStatusFailed, BatchStatusStopped:
		return next == BatchStatusAbandoned
	default:
		return false
	}
}

// TransitionTo moves the execution to newStatus if the transition is allowed.
func (je *JobExecution) TransitionTo(newStatus BatchStatus) error {
	if !isValidJobTransition(je.Status, newStatus) {
		return fmt.Errorf("JobExecution (ID: %s): invalid state transition: %s -> %s", je.ID, je.Status, newStatus)
	}
	je.Status = newStatus
	je.LastUpdated = time.Now()
	return nil
}

func (je *JobExecution) force(status BatchStatus) {
	if err := je.TransitionTo(status); err != nil {
		logger.Warnf("%v; forcing %s", err, status)
		je.Status = status
	}
}

func (je *JobExecution) finish(status BatchStatus, exit ExitStatus) {
	je.force(status)
	je.ExitStatus = exit
	now := time.Now()
	je.EndTime = &now
	je.LastUpdated = now
}

// MarkAsStarted moves the execution to RUNNING.
func (je *JobExecution) MarkAsStarted() {
	je.force(BatchStatusRunning)
	je.StartTime = time.Now()
	je.ExitStatus = ExitStatusExecuting
}

// MarkAsCompleted ends the execution as COMPLETED with the given exit status.
func (je *JobExecution) MarkAsCompleted(exit ExitStatus) {
	if exit == "" {
		exit = ExitStatusCompleted
	}
	je.finish(BatchStatusCompleted, exit)
}

// MarkAsFailed ends the execution as FAILED and records err.
func (je *JobExecution) MarkAsFailed(err error) {
	je.finish(BatchStatusFailed, ExitStatusFailed)
	je.AddFailure(err)
}

// MarkAsStopped ends the execution as STOPPED.
func (je *JobExecution) MarkAsStopped() {
	je.finish(BatchStatusStopped, ExitStatusStopped)
}

// MarkAsAbandoned marks a FAILED or STOPPED execution as never to be restarted.
func (je *JobExecution) MarkAsAbandoned() {
	je.finish(BatchStatusAbandoned, ExitStatusAbandoned)
}

// AddFailure records err, ignoring duplicates.
func (je *JobExecution) AddFailure(err error) {
	if err == nil {
		return
	}
	var added bool
	if je.Failures, added = je.Failures.add(err); added {
		je.LastUpdated = time.Now()
		if je.ExitDescription == "" {
			je.ExitDescription = err.Error()
		}
	}
}

// AddStepExecution attaches se to the execution.
func (je *JobExecution) AddStepExecution(se *StepExecution) {
	se.JobExecution = je
	se.JobExecutionID = je.ID
	je.StepExecutions = append(je.StepExecutions, se)
}

// FindStepExecution returns the step execution for stepName in this run.
func (je *JobExecution) FindStepExecution(stepName string) *StepExecution {
	for i := len(je.StepExecutions) - 1; i >= 0; i-- {
		if je.StepExecutions[i].StepName == stepName {
			return je.StepExecutions[i]
		}
	}
	return nil
}

// StepExecution is one run of a step inside a JobExecution.
type StepExecution struct {
	ID               string
	StepName         string
	JobExecutionID   string
	JobExecution     *JobExecution
	Status           BatchStatus
	ExitStatus       ExitStatus
	ExitDescription  string
	StartTime        time.Time
	EndTime          *time.Time
	LastUpdated      time.Time
	ReadCount        int
	WriteCount       int
	FilterCount      int
	CommitCount      int
	RollbackCount    int
	ReadSkipCount    int
	ProcessSkipCount int
	WriteSkipCount   int
	RetryCount       int
	Failures         FailureList
	ExecutionContext ExecutionContext
	Version          int
}

// NewStepExecution creates a StepExecution in READY state and attaches it to je.
func NewStepExecution(stepName string, je *JobExecution) *StepExecution {
	now := time.Now()
	se := &StepExecution{
		ID:               NewID(),
		StepName:         stepName,
		Status:           BatchStatusReady,
		ExitStatus:       ExitStatusUnknown,
		LastUpdated:      now,
		Failures:         FailureList{},
		ExecutionContext: NewExecutionContext(),
	}
	if je != nil {
		je.AddStepExecution(se)
	}
	return se
}

// SkipCount returns the total number of skipped items.
func (se *StepExecution) SkipCount() int {
	return se.ReadSkipCount + se.ProcessSkipCount + se.WriteSkipCount
}

func isValidStepTransition(current, next BatchStatus) bool {
	switch current {
	case BatchStatusReady, BatchStatusStarting:
		return next == BatchStatusRunning || next == BatchStatusFailed || next == BatchStatusStopped || next == BatchStatusAbandoned
	case BatchStatusRunning:
		return next == BatchStatusCompleted || next == BatchStatusFailed || next == BatchStatusStopped
	default:
		return false
	}
}

// TransitionTo moves the step to newStatus if the transition is allowed.
func (se *StepExecution) TransitionTo(newStatus BatchStatus) error {
	if !isValidStepTransition(se.Status, newStatus) {
		return fmt.Errorf("StepExecution (ID: %s): invalid state transition: %s -> %s", se.ID, se.Status, newStatus)
	}
	se.Status = newStatus
	se.LastUpdated = time.Now()
	return nil
}

func (se *StepExecution) finish(status BatchStatus, exit ExitStatus) {
	if err := se.TransitionTo(status); err != nil {
		logger.Warnf("%v; forcing %s", err, status)
		se.Status = status
	}
	se.ExitStatus = exit
	now := time.Now()
	se.EndTime = &now
	se.LastUpdated = now
}

// MarkAsStarted moves the step to RUNNING.
func (se *StepExecution) MarkAsStarted() {
	if err := se.TransitionTo(BatchStatusRunning); err != nil {
		logger.Warnf("%v; forcing %s", err, BatchStatusRunning)
		se.Status = BatchStatusRunning
	}
	se.StartTime = time.Now()
	se.ExitStatus = ExitStatusExecuting
}

// MarkAsCompleted ends the step as COMPLETED.
func (se *StepExecution) MarkAsCompleted() {
	se.finish(BatchStatusCompleted, ExitStatusCompleted)
}

// MarkAsFailed ends the step as FAILED and records err.
func (se *StepExecution) MarkAsFailed(err error) {
	se.finish(BatchStatusFailed, ExitStatusFailed)
	se.AddFailure(err)
}

// MarkAsStopped ends the step as STOPPED.
func (se *StepExecution) MarkAsStopped() {
	se.finish(BatchStatusStopped, ExitStatusStopped)
}

// AddFailure records err, ignoring duplicates.
func (se *StepExecution) AddFailure(err error) {
	if err == nil {
		return
	}
	var added bool
	if se.Failures, added = se.Failures.add(err); added {
		se.LastUpdated = time.Now()
		if se.ExitDescription == "" {
			se.ExitDescription = err.Error()
		}
	}
}

// CopyForRestart copies a step of a previous run into a new run.
// Completed steps keep their outcome and counters; other steps start over
// from READY but keep the execution context so they resume from the last commit.
func (se *StepExecution) CopyForRestart(je *JobExecution) *StepExecution {
	out := NewStepExecution(se.StepName, je)
	out.ExecutionContext = se.ExecutionContext.Copy()
	if se.Status == BatchStatusCompleted {
		out.Status = se.Status
		out.ExitStatus = se.ExitStatus
		out.StartTime = se.StartTime
		out.EndTime = se.EndTime
		out.ReadCount = se.ReadCount
		out.WriteCount = se.WriteCount
		out.FilterCount = se.FilterCount
		out.CommitCount = se.CommitCount
		out.RollbackCount = se.RollbackCount
		out.ReadSkipCount = se.ReadSkipCount
		out.ProcessSkipCount = se.ProcessSkipCount
		out.WriteSkipCount = se.WriteSkipCount
		out.RetryCount = se.RetryCount
	}
	return out
}

// String returns a compact summary used in logs.
func (se *StepExecution) String() string {
	return fmt.Sprintf("StepExecution[name=%s, status=%s, exit=%s, read=%d, write=%d, filter=%d, commit=%d, rollback=%d, skip=%d]",
		se.StepName, se.Status, se.ExitStatus, se.ReadCount, se.WriteCount, se.FilterCount, se.CommitCount, se.RollbackCount, se.SkipCount())
}

// CheckpointData is the committed progress of a step, keyed by job instance and step name.
type CheckpointData struct {
	JobInstanceID    string
	StepName         string
	StepExecutionID  string
	ExecutionContext ExecutionContext
	LastUpdated      time.Time
}
