package model

// BatchStatus is the lifecycle state of a job or step execution.
type BatchStatus string

const (
	BatchStatusReady     BatchStatus = "READY"
	BatchStatusStarting  BatchStatus = "STARTING"
	BatchStatusRunning   BatchStatus = "RUNNING"
	BatchStatusStopping  BatchStatus = "STOPPING"
	BatchStatusStopped   BatchStatus = "STOPPED"
	BatchStatusCompleted BatchStatus = "COMPLETED"
	BatchStatusFailed    BatchStatus = "FAILED"
	BatchStatusAbandoned BatchStatus = "ABANDONED"
	BatchStatusUnknown   BatchStatus = "UNKNOWN"
)

// String returns the string representation of the BatchStatus.
func (s BatchStatus) String() string {
	return string(s)
}

// IsTerminal reports whether no further transition is expected.
func (s BatchStatus) IsTerminal() bool {
	switch s {
	case BatchStatusCompleted, BatchStatusFailed, BatchStatusStopped, BatchStatusAbandoned:
		return true
	default:
		return false
	}
}

// IsRestartable reports whether an execution in this state may be restarted.
func (s BatchStatus) IsRestartable() bool {
	return s == BatchStatusFailed || s == BatchStatusStopped
}

// IsRunning reports whether the execution is in flight.
func (s BatchStatus) IsRunning() bool {
	switch s {
	case BatchStatusStarting, BatchStatusRunning, BatchStatusStopping:
		return true
	default:
		return false
	}
}

// ToExitStatus maps a terminal status onto its default exit status.
func (s BatchStatus) ToExitStatus() ExitStatus {
	switch s {
	case BatchStatusCompleted:
		return ExitStatusCompleted
	case BatchStatusFailed:
		return ExitStatusFailed
	case BatchStatusStopped:
		return ExitStatusStopped
	case BatchStatusAbandoned:
		return ExitStatusAbandoned
	case BatchStatusRunning, BatchStatusStarting, BatchStatusStopping:
		return ExitStatusExecuting
	default:
		return ExitStatusUnknown
	}
}

// ExitStatus is the outcome code of a step or job. Flow transitions match on it.
// Callers may use any custom code, e.g. "FAILED_RETRYABLE".
type ExitStatus string

const (
	ExitStatusUnknown   ExitStatus = "UNKNOWN"
	ExitStatusExecuting ExitStatus = "EXECUTING"
	ExitStatusCompleted ExitStatus = "COMPLETED"
	ExitStatusNoOp      ExitStatus = "NOOP"
	ExitStatusFailed    ExitStatus = "FAILED"
	ExitStatusStopped   ExitStatus = "STOPPED"
	ExitStatusAbandoned ExitStatus = "ABANDONED"
)

// String returns the string representation of the ExitStatus.
func (s ExitStatus) String() string {
	return string(s)
}

// RepeatStatus is returned by a tasklet to tell the step whether to call it again.
type RepeatStatus int

const (
	// RepeatStatusFinished ends the tasklet step.
	RepeatStatusFinished RepeatStatus = iota
	// RepeatStatusContinuable asks for another invocation.
	RepeatStatusContinuable
)

// String returns the string representation of the RepeatStatus.
func (r RepeatStatus) String() string {
	if r == RepeatStatusContinuable {
		return "CONTINUABLE"
	}
	return "FINISHED"
}
