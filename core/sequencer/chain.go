package sequencer

import "llm-endpoint-orchestrator/core/models"

// ChainState is the state of one chain execution
type ChainState string

const (
	ChainNotStarted ChainState = "NOT_STARTED"
	ChainRunning    ChainState = "RUNNING"
	ChainSucceeded  ChainState = "SUCCEEDED"
	ChainFailed     ChainState = "FAILED"
)

// Action is what the driver must do after a step
type Action int

const (
	// ActionNone means nothing is left to do
	ActionNone Action = iota
	// ActionStartJob means the job at Step.Index must be started
	ActionStartJob
	// ActionWait means the current job is still running
	ActionWait
)

// Step is the outcome of Advance
type Step struct {
	State  ChainState
	Index  int // job the chain is on
	Action Action
}

// Advance computes the next chain step from the current state, the index
// of the current job, the chain length, and the last observed status of the
// current job. It has no side effects; the driver performs the Action.
//
// A job is only ever started after its predecessor reported a terminal
// status, and any unsuccessful terminal status fails the chain.
func Advance(state ChainState, index, jobs int, observed models.JobStatus) Step {
	switch state {
	case ChainNotStarted:
		if jobs == 0 {
			return Step{State: ChainSucceeded}
		}
		return Step{State: ChainRunning, Index: 0, Action: ActionStartJob}

	case ChainRunning:
		if !observed.Terminal() {
			return Step{State: ChainRunning, Index: index, Action: ActionWait}
		}
		if !observed.Succeeded() {
			return Step{State: ChainFailed, Index: index}
		}
		if index+1 < jobs {
			return Step{State: ChainRunning, Index: index + 1, Action: ActionStartJob}
		}
		return Step{State: ChainSucceeded, Index: index}
	}

	return Step{State: state, Index: index}
}
