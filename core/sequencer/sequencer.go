package sequencer

import (
	"context"
	"fmt"

	"llm-endpoint-orchestrator/core/models"
	"llm-endpoint-orchestrator/core/monitoring"

	"k8s.io/klog/v2"
)

// Executor runs chain executions. It is implemented by the hosted
// workflow service and by LocalExecutor.
type Executor interface {
	// LatestExecution returns the most recently started execution, or nil
	// when the chain has never been started.
	LatestExecution(ctx context.Context) (*models.ChainExecution, error)
	// StartExecution begins a new execution and returns without waiting.
	StartExecution(ctx context.Context) (*models.ChainExecution, error)
}

// PollResult is the completion signal returned to the provisioning
// controller. Failed is only set together with Complete.
type PollResult struct {
	Complete  bool
	Failed    bool
	Reason    string
	Execution *models.ChainExecution
}

// Poll result labels used for metrics
const (
	PollStarted   = "started"
	PollRunning   = "running"
	PollSucceeded = "succeeded"
	PollFailed    = "failed"
)

// Sequencer starts and observes the provisioning chain
type Sequencer struct {
	executor Executor
	metrics  *monitoring.MetricsExporter
}

// NewSequencer creates a sequencer over executor
func NewSequencer(executor Executor, metrics *monitoring.MetricsExporter) *Sequencer {
	return &Sequencer{
		executor: executor,
		metrics:  metrics,
	}
}

// StartChain begins a new chain execution and returns immediately
func (s *Sequencer) StartChain(ctx context.Context) (*models.ChainExecution, error) {
	exec, err := s.executor.StartExecution(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to start provisioning chain: %w", err)
	}
	klog.FromContext(ctx).Info("Started provisioning chain", "execution", exec.ID)
	return exec, nil
}

// PollStatus reports whether the chain has finished. When no execution
// exists yet it starts one, so the first poll of a fresh deployment both
// triggers and observes the chain. Polling a running execution never
// starts another.
func (s *Sequencer) PollStatus(ctx context.Context) (PollResult, error) {
	logger := klog.FromContext(ctx)

	exec, err := s.executor.LatestExecution(ctx)
	if err != nil {
		return PollResult{}, fmt.Errorf("failed to look up provisioning chain: %w", err)
	}

	if exec == nil {
		exec, err = s.StartChain(ctx)
		if err != nil {
			return PollResult{}, err
		}
		s.metrics.ObserveChainPoll(PollStarted)
		return PollResult{Execution: exec}, nil
	}

	switch {
	case exec.Running():
		logger.V(1).Info("Provisioning chain still running", "execution", exec.ID)
		s.metrics.ObserveChainPoll(PollRunning)
		return PollResult{Execution: exec}, nil

	case exec.Failed():
		logger.Info("Provisioning chain failed", "execution", exec.ID, "status", exec.Status, "cause", exec.Cause)
		s.metrics.ObserveChainPoll(PollFailed)
		reason := string(exec.Status)
		if exec.Cause != "" {
			reason += ": " + exec.Cause
		}
		return PollResult{Complete: true, Failed: true, Reason: reason, Execution: exec}, nil

	default:
		logger.Info("Provisioning chain complete", "execution", exec.ID)
		s.metrics.ObserveChainPoll(PollSucceeded)
		return PollResult{Complete: true, Execution: exec}, nil
	}
}

// Err converts a failed result into a ChainJobFailure
func (r PollResult) Err() error {
	if !r.Failed {
		return nil
	}
	failure := &models.ChainJobFailure{Cause: r.Reason}
	if r.Execution != nil {
		failure.ExecutionID = r.Execution.ID
		failure.Status = string(r.Execution.Status)
		failure.Cause = r.Execution.Cause
	}
	return failure
}
