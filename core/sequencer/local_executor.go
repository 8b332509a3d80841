package sequencer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"llm-endpoint-orchestrator/core/models"

	"github.com/google/uuid"
	"k8s.io/klog/v2"
)

// JobRunner starts and observes external jobs
type JobRunner interface {
	StartJob(ctx context.Context, job models.Job) (runID string, err error)
	DescribeJob(ctx context.Context, runID string) (*models.JobRun, error)
}

// EventSink records job status transitions
type EventSink interface {
	Record(ctx context.Context, event *models.ChainEvent) error
}

// Option configures a LocalExecutor
type Option func(*LocalExecutor)

// WithInterval sets how often the running job is polled
func WithInterval(interval time.Duration) Option {
	return func(le *LocalExecutor) {
		if interval > 0 {
			le.interval = interval
		}
	}
}

// WithClock overrides the clock used for run and event timestamps
func WithClock(clock func() time.Time) Option {
	return func(le *LocalExecutor) {
		if clock != nil {
			le.now = clock
		}
	}
}

// WithEventSink records every job status transition to sink
func WithEventSink(sink EventSink) Option {
	return func(le *LocalExecutor) {
		le.sink = sink
	}
}

// LocalExecutor drives the chain in-process: it starts each job through a
// JobRunner, polls it until terminal and only then starts the next one.
type LocalExecutor struct {
	runner   JobRunner
	jobs     []models.Job
	sink     EventSink
	interval time.Duration
	now      func() time.Time

	root   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	executions []*localExecution
}

type localExecution struct {
	exec models.ChainExecution
	runs []models.JobRun
}

var _ Executor = (*LocalExecutor)(nil)

// NewLocalExecutor creates an executor for the given ordered jobs
func NewLocalExecutor(runner JobRunner, jobs []models.Job, opts ...Option) *LocalExecutor {
	root, cancel := context.WithCancel(context.Background())
	le := &LocalExecutor{
		runner:   runner,
		jobs:     jobs,
		interval: 30 * time.Second,
		now:      time.Now,
		root:     root,
		cancel:   cancel,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(le)
		}
	}
	return le
}

// LatestExecution implements Executor
func (le *LocalExecutor) LatestExecution(ctx context.Context) (*models.ChainExecution, error) {
	le.mu.Lock()
	defer le.mu.Unlock()
	if len(le.executions) == 0 {
		return nil, nil
	}
	exec := le.executions[len(le.executions)-1].exec
	return &exec, nil
}

// StartExecution implements Executor. The execution keeps running after
// ctx is done; Close stops it.
func (le *LocalExecutor) StartExecution(ctx context.Context) (*models.ChainExecution, error) {
	ex := &localExecution{
		exec: models.ChainExecution{
			ID:        uuid.NewString(),
			Status:    models.ExecutionRunning,
			StartedAt: le.now(),
		},
	}

	le.mu.Lock()
	le.executions = append(le.executions, ex)
	exec := ex.exec
	le.mu.Unlock()

	runCtx := klog.NewContext(le.root, klog.FromContext(ctx).WithValues("execution", exec.ID))
	le.wg.Add(1)
	go func() {
		defer le.wg.Done()
		le.run(runCtx, ex)
	}()
	return &exec, nil
}

// Runs returns the job runs of an execution in start order
func (le *LocalExecutor) Runs(executionID string) []models.JobRun {
	le.mu.Lock()
	defer le.mu.Unlock()
	for _, ex := range le.executions {
		if ex.exec.ID == executionID {
			return append([]models.JobRun(nil), ex.runs...)
		}
	}
	return nil
}

// Wait blocks until every started execution has finished
func (le *LocalExecutor) Wait() {
	le.wg.Wait()
}

// Close aborts running executions and waits for them to stop
func (le *LocalExecutor) Close() error {
	le.cancel()
	le.wg.Wait()
	return nil
}

func (le *LocalExecutor) run(ctx context.Context, ex *localExecution) {
	logger := klog.FromContext(ctx)
	ticker := time.NewTicker(le.interval)
	defer ticker.Stop()

	state := ChainNotStarted
	index := 0
	var observed models.JobStatus
	var runID string

	for {
		step := Advance(state, index, len(le.jobs), observed)
		state, index = step.State, step.Index

		switch step.Action {
		case ActionStartJob:
			job := le.jobs[index]
			id, err := le.runner.StartJob(ctx, job)
			if err != nil {
				logger.Error(err, "Failed to start job", "job", job.ID)
				le.finish(ex, models.ExecutionFailed, fmt.Sprintf("job %s could not be started: %v", job.ID, err))
				return
			}
			runID = id
			observed = models.JobStatusPending
			le.startRun(ex, models.JobRun{JobID: job.ID, RunID: id, Status: observed, StartedAt: le.now()})
			le.record(ctx, ex.exec.ID, job.ID, nil, observed, "started")
			logger.Info("Started job", "job", job.ID, "run", id)

		case ActionNone:
			if state == ChainSucceeded {
				le.finish(ex, models.ExecutionSucceeded, "")
			} else {
				run := le.currentRun(ex)
				cause := fmt.Sprintf("job %s ended %s", run.JobID, run.Status)
				if run.Reason != "" {
					cause += ": " + run.Reason
				}
				le.finish(ex, models.ExecutionFailed, cause)
			}
			logger.Info("Chain finished", "state", state)
			return
		}

		select {
		case <-ctx.Done():
			le.finish(ex, models.ExecutionAborted, "executor closed")
			return
		case <-ticker.C:
		}

		run, err := le.runner.DescribeJob(ctx, runID)
		if err != nil {
			logger.Error(err, "Failed to describe job, retrying", "run", runID)
			continue
		}
		if run.Status != observed {
			from := observed
			le.record(ctx, ex.exec.ID, run.JobID, &from, run.Status, run.Reason)
			logger.V(1).Info("Job status changed", "job", run.JobID, "from", from, "to", run.Status)
		}
		observed = run.Status
		le.updateRun(ex, run.Status, run.Reason)
	}
}

func (le *LocalExecutor) startRun(ex *localExecution, run models.JobRun) {
	le.mu.Lock()
	defer le.mu.Unlock()
	ex.runs = append(ex.runs, run)
}

func (le *LocalExecutor) updateRun(ex *localExecution, status models.JobStatus, reason string) {
	le.mu.Lock()
	defer le.mu.Unlock()
	run := &ex.runs[len(ex.runs)-1]
	if run.Status.Terminal() {
		return
	}
	run.Status = status
	run.Reason = reason
	if status.Terminal() {
		finished := le.now()
		run.FinishedAt = &finished
	}
}

func (le *LocalExecutor) currentRun(ex *localExecution) models.JobRun {
	le.mu.Lock()
	defer le.mu.Unlock()
	if len(ex.runs) == 0 {
		return models.JobRun{}
	}
	return ex.runs[len(ex.runs)-1]
}

func (le *LocalExecutor) finish(ex *localExecution, status models.ExecutionStatus, cause string) {
	le.mu.Lock()
	defer le.mu.Unlock()
	stopped := le.now()
	ex.exec.Status = status
	ex.exec.StoppedAt = &stopped
	ex.exec.Cause = cause
}

func (le *LocalExecutor) record(ctx context.Context, executionID, jobID string, from *models.JobStatus, to models.JobStatus, reason string) {
	if le.sink == nil {
		return
	}
	event := &models.ChainEvent{
		ExecutionID: executionID,
		JobID:       jobID,
		At:          le.now(),
		FromStatus:  from,
		ToStatus:    to,
		Reason:      reason,
	}
	if err := le.sink.Record(ctx, event); err != nil {
		klog.FromContext(ctx).Error(err, "Failed to record chain event", "job", jobID)
	}
}
