package sequencer

import (
	"testing"

	"llm-endpoint-orchestrator/core/models"
)

func TestAdvance(t *testing.T) {
	tests := []struct {
		name     string
		state    ChainState
		index    int
		jobs     int
		observed models.JobStatus
		want     Step
	}{
		{"start", ChainNotStarted, 0, 2, "", Step{State: ChainRunning, Index: 0, Action: ActionStartJob}},
		{"empty chain", ChainNotStarted, 0, 0, "", Step{State: ChainSucceeded}},
		{"pending", ChainRunning, 0, 2, models.JobStatusPending, Step{State: ChainRunning, Index: 0, Action: ActionWait}},
		{"running", ChainRunning, 0, 2, models.JobStatusRunning, Step{State: ChainRunning, Index: 0, Action: ActionWait}},
		{"first done", ChainRunning, 0, 2, models.JobStatusSucceeded, Step{State: ChainRunning, Index: 1, Action: ActionStartJob}},
		{"last done", ChainRunning, 1, 2, models.JobStatusSucceeded, Step{State: ChainSucceeded, Index: 1}},
		{"failed", ChainRunning, 0, 2, models.JobStatusFailed, Step{State: ChainFailed, Index: 0}},
		{"timed out", ChainRunning, 1, 2, models.JobStatusTimedOut, Step{State: ChainFailed, Index: 1}},
		{"stopped", ChainRunning, 0, 2, models.JobStatusStopped, Step{State: ChainFailed, Index: 0}},
		{"succeeded is final", ChainSucceeded, 1, 2, models.JobStatusFailed, Step{State: ChainSucceeded, Index: 1}},
		{"failed is final", ChainFailed, 0, 2, models.JobStatusSucceeded, Step{State: ChainFailed, Index: 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Advance(tt.state, tt.index, tt.jobs, tt.observed)
			if got != tt.want {
				t.Errorf("expected %+v, got %+v", tt.want, got)
			}
		})
	}
}
