package aws

import (
	"context"
	"fmt"
	"time"

	"llm-endpoint-orchestrator/core/models"
	"llm-endpoint-orchestrator/core/sequencer"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	"github.com/aws/aws-sdk-go-v2/service/sfn/types"
	"github.com/google/uuid"
	"k8s.io/klog/v2"
)

// WorkflowExecutor runs the provisioning chain as a Step Functions
// state machine
type WorkflowExecutor struct {
	api             StepFunctionsAPI
	stateMachineARN string
}

var _ sequencer.Executor = (*WorkflowExecutor)(nil)

// NewWorkflowExecutor creates an executor for one state machine
func NewWorkflowExecutor(api StepFunctionsAPI, stateMachineARN string) *WorkflowExecutor {
	return &WorkflowExecutor{api: api, stateMachineARN: stateMachineARN}
}

// LatestExecution returns the newest execution of the state machine, or
// nil when it has never run
func (w *WorkflowExecutor) LatestExecution(ctx context.Context) (*models.ChainExecution, error) {
	paginator := sfn.NewListExecutionsPaginator(w.api, &sfn.ListExecutionsInput{
		StateMachineArn: aws.String(w.stateMachineARN),
	}, func(o *sfn.ListExecutionsPaginatorOptions) {
		o.Limit = 1
	})

	page, err := paginator.NextPage(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions of %s: %w", w.stateMachineARN, err)
	}
	if len(page.Executions) == 0 {
		return nil, nil
	}

	item := page.Executions[0]
	exec := &models.ChainExecution{
		ID:        aws.ToString(item.ExecutionArn),
		Status:    executionStatus(item.Status),
		StoppedAt: item.StopDate,
	}
	if item.StartDate != nil {
		exec.StartedAt = *item.StartDate
	}

	if exec.Failed() {
		desc, err := w.api.DescribeExecution(ctx, &sfn.DescribeExecutionInput{ExecutionArn: item.ExecutionArn})
		if err != nil {
			klog.FromContext(ctx).Error(err, "Failed to describe failed execution", "execution", exec.ID)
		} else {
			exec.Cause = failureCause(desc)
		}
	}
	return exec, nil
}

// StartExecution starts a new execution with an empty input document
func (w *WorkflowExecutor) StartExecution(ctx context.Context) (*models.ChainExecution, error) {
	result, err := w.api.StartExecution(ctx, &sfn.StartExecutionInput{
		StateMachineArn: aws.String(w.stateMachineARN),
		Name:            aws.String(uuid.NewString()),
		Input:           aws.String("{}"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start execution of %s: %w", w.stateMachineARN, err)
	}

	exec := &models.ChainExecution{
		ID:        aws.ToString(result.ExecutionArn),
		Status:    models.ExecutionRunning,
		StartedAt: time.Now(),
	}
	if result.StartDate != nil {
		exec.StartedAt = *result.StartDate
	}
	return exec, nil
}

func executionStatus(status types.ExecutionStatus) models.ExecutionStatus {
	switch status {
	case types.ExecutionStatusSucceeded:
		return models.ExecutionSucceeded
	case types.ExecutionStatusFailed, types.ExecutionStatusPendingRedrive:
		return models.ExecutionFailed
	case types.ExecutionStatusAborted:
		return models.ExecutionAborted
	case types.ExecutionStatusTimedOut:
		return models.ExecutionTimedOut
	default:
		return models.ExecutionRunning
	}
}

func failureCause(desc *sfn.DescribeExecutionOutput) string {
	errName, cause := aws.ToString(desc.Error), aws.ToString(desc.Cause)
	switch {
	case errName != "" && cause != "":
		return errName + ": " + cause
	case errName != "":
		return errName
	default:
		return cause
	}
}

// StateMachines creates and updates chain state machines
type StateMachines struct {
	api StepFunctionsAPI
}

// NewStateMachines creates a state machine manager over api
func NewStateMachines(api StepFunctionsAPI) *StateMachines {
	return &StateMachines{api: api}
}

// Ensure creates the named state machine, or updates its definition and
// role when it already exists, and returns its ARN
func (s *StateMachines) Ensure(ctx context.Context, name string, definition []byte, roleARN string) (string, error) {
	logger := klog.FromContext(ctx).WithValues("stateMachine", name)

	arn, err := s.find(ctx, name)
	if err != nil {
		return "", err
	}

	if arn != "" {
		_, err := s.api.UpdateStateMachine(ctx, &sfn.UpdateStateMachineInput{
			StateMachineArn: aws.String(arn),
			Definition:      aws.String(string(definition)),
			RoleArn:         aws.String(roleARN),
		})
		if err != nil {
			return "", fmt.Errorf("failed to update state machine %s: %w", name, err)
		}
		logger.Info("Updated state machine", "arn", arn)
		return arn, nil
	}

	result, err := s.api.CreateStateMachine(ctx, &sfn.CreateStateMachineInput{
		Name:       aws.String(name),
		Definition: aws.String(string(definition)),
		RoleArn:    aws.String(roleARN),
		Type:       types.StateMachineTypeStandard,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create state machine %s: %w", name, err)
	}
	arn = aws.ToString(result.StateMachineArn)
	logger.Info("Created state machine", "arn", arn)
	return arn, nil
}

func (s *StateMachines) find(ctx context.Context, name string) (string, error) {
	paginator := sfn.NewListStateMachinesPaginator(s.api, &sfn.ListStateMachinesInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return "", fmt.Errorf("failed to list state machines: %w", err)
		}
		for _, sm := range page.StateMachines {
			if aws.ToString(sm.Name) == name {
				return aws.ToString(sm.StateMachineArn), nil
			}
		}
	}
	return "", nil
}
