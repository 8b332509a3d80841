package models

import "time"

// Job represents one external build job in the provisioning chain
type Job struct {
	ID      string // CodeBuild project name
	Name    string
	Kind    JobKind
	Project string            // Owning project, used for tags and logs
	Env     map[string]string // Environment overrides passed to the build
	Timeout time.Duration
}

// JobKind represents what a job produces
type JobKind string

const (
	JobKindDownload JobKind = "download" // Fetch model weights into the model bucket
	JobKindBuild    JobKind = "build"    // Build and push the serving image
)

// JobStatus represents the current status of a job run
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusStopped   JobStatus = "stopped"
	JobStatusTimedOut  JobStatus = "timed_out"
)

// Terminal reports whether the job run will not change status again
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusSucceeded, JobStatusFailed, JobStatusStopped, JobStatusTimedOut:
		return true
	}
	return false
}

// Succeeded reports whether the job run finished successfully
func (s JobStatus) Succeeded() bool {
	return s == JobStatusSucceeded
}

// JobRun is a single started instance of a Job. Runs are never reused.
type JobRun struct {
	JobID      string
	RunID      string
	Status     JobStatus
	StartedAt  time.Time
	FinishedAt *time.Time
	Reason     string
}

// ExecutionStatus represents the status of one chain execution
type ExecutionStatus string

const (
	ExecutionRunning   ExecutionStatus = "RUNNING"
	ExecutionSucceeded ExecutionStatus = "SUCCEEDED"
	ExecutionFailed    ExecutionStatus = "FAILED"
	ExecutionAborted   ExecutionStatus = "ABORTED"
	ExecutionTimedOut  ExecutionStatus = "TIMED_OUT"
)

// ChainExecution is one invocation of the provisioning chain
type ChainExecution struct {
	ID        string
	Status    ExecutionStatus
	StartedAt time.Time
	StoppedAt *time.Time
	Cause     string // Failure detail, when the workflow reports one
}

// Running reports whether the execution has not reached a terminal state
func (e *ChainExecution) Running() bool {
	return e.Status == ExecutionRunning
}

// Failed reports whether the execution ended in any unsuccessful state
func (e *ChainExecution) Failed() bool {
	switch e.Status {
	case ExecutionFailed, ExecutionAborted, ExecutionTimedOut:
		return true
	}
	return false
}
