package models

import "fmt"

// ConfigurationError is returned when a configure call names no usable model
// source, or more than one.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "invalid model configuration: " + e.Reason
}

// NotConfiguredError is returned when inference is requested before any
// model has been loaded.
type NotConfiguredError struct{}

func (e *NotConfiguredError) Error() string {
	return "no model loaded: configure the llm engine using /configure"
}

// BadRequestError is returned for a malformed request envelope.
type BadRequestError struct {
	Reason string
}

func (e *BadRequestError) Error() string {
	return "bad request: " + e.Reason
}

// DownstreamFetchError wraps a failed object-store or URL download.
type DownstreamFetchError struct {
	Source string // s3://bucket/key or the URL
	Err    error
}

func (e *DownstreamFetchError) Error() string {
	return fmt.Sprintf("failed to fetch model from %s: %v", e.Source, e.Err)
}

func (e *DownstreamFetchError) Unwrap() error {
	return e.Err
}

// ChainJobFailure reports that a job in the provisioning chain ended
// unsuccessfully, halting the chain.
type ChainJobFailure struct {
	ExecutionID string
	JobID       string
	Status      string
	Cause       string
}

func (e *ChainJobFailure) Error() string {
	msg := fmt.Sprintf("provisioning chain %s failed", e.ExecutionID)
	if e.JobID != "" {
		msg += fmt.Sprintf(": job %s ended %s", e.JobID, e.Status)
	} else if e.Status != "" {
		msg += fmt.Sprintf(": execution ended %s", e.Status)
	}
	if e.Cause != "" {
		msg += " (" + e.Cause + ")"
	}
	return msg
}
