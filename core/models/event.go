package models

import "time"

// ChainEvent represents a status transition of a job inside a chain execution
type ChainEvent struct {
	ID          int64
	ExecutionID string
	JobID       string
	At          time.Time
	FromStatus  *JobStatus
	ToStatus    JobStatus
	Reason      string
	MetaJSON    map[string]interface{} // Additional metadata
}
