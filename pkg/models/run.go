package models

import "time"

// RunStatus is the terminal state of a pipeline invocation.
type RunStatus string

const (
	RunSuccess RunStatus = "success"
	RunFailed  RunStatus = "failed"
)

// StepOutcome is the terminal state of one transform step within a run.
type StepOutcome struct {
	Name       string        `json:"name"`
	Status     string        `json:"status"`
	Error      string        `json:"error,omitempty"`
	StartedAt  time.Time     `json:"startedAt,omitempty"`
	FinishedAt time.Time     `json:"finishedAt,omitempty"`
	Duration   time.Duration `json:"duration,omitempty"`
}

// RunResult is produced once per pipeline invocation.
type RunResult struct {
	RunID       string        `json:"runId"`
	PipelineID  string        `json:"pipelineId"`
	RunDate     time.Time     `json:"runDate"`
	WindowStart time.Time     `json:"windowStart"`
	WindowEnd   time.Time     `json:"windowEnd"`
	Status      RunStatus     `json:"status"`
	FailedSteps []string      `json:"failedSteps,omitempty"`
	Error       string        `json:"error,omitempty"`
	ErrorCode   ErrorCode     `json:"errorCode,omitempty"`
	Steps       []StepOutcome `json:"steps,omitempty"`
	Batches     []Batch       `json:"-"`
	Advanced    bool          `json:"advanced"`
	StartedAt   time.Time     `json:"startedAt"`
	FinishedAt  time.Time     `json:"finishedAt"`
}

// FailedStep returns the first failing step, or "" when the run succeeded.
func (r *RunResult) FailedStep() string {
	if len(r.FailedSteps) == 0 {
		return ""
	}
	return r.FailedSteps[0]
}
