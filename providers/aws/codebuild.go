package aws

import (
	"context"
	"fmt"
	"sort"

	"llm-endpoint-orchestrator/core/models"
	"llm-endpoint-orchestrator/core/sequencer"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/codebuild"
	"github.com/aws/aws-sdk-go-v2/service/codebuild/types"
)

// BuildRunner starts chain jobs as CodeBuild builds
type BuildRunner struct {
	api CodeBuildAPI
}

var _ sequencer.JobRunner = (*BuildRunner)(nil)

// NewBuildRunner creates a runner over api
func NewBuildRunner(api CodeBuildAPI) *BuildRunner {
	return &BuildRunner{api: api}
}

// StartJob starts a build of the job's project and returns the build ID
func (r *BuildRunner) StartJob(ctx context.Context, job models.Job) (string, error) {
	input := &codebuild.StartBuildInput{
		ProjectName:                  aws.String(job.ID),
		EnvironmentVariablesOverride: buildEnv(job.Env),
	}
	if minutes := int32(job.Timeout.Minutes()); minutes > 0 {
		input.TimeoutInMinutesOverride = aws.Int32(minutes)
	}

	result, err := r.api.StartBuild(ctx, input)
	if err != nil {
		return "", fmt.Errorf("failed to start build for %s: %w", job.ID, err)
	}
	if result.Build == nil || result.Build.Id == nil {
		return "", fmt.Errorf("start build for %s returned no build id", job.ID)
	}
	return *result.Build.Id, nil
}

// DescribeJob returns the current state of a build
func (r *BuildRunner) DescribeJob(ctx context.Context, runID string) (*models.JobRun, error) {
	result, err := r.api.BatchGetBuilds(ctx, &codebuild.BatchGetBuildsInput{Ids: []string{runID}})
	if err != nil {
		return nil, fmt.Errorf("failed to describe build %s: %w", runID, err)
	}
	if len(result.Builds) == 0 {
		return nil, fmt.Errorf("build %s not found", runID)
	}

	build := result.Builds[0]
	run := &models.JobRun{
		JobID:      aws.ToString(build.ProjectName),
		RunID:      runID,
		Status:     buildStatus(build.BuildStatus),
		FinishedAt: build.EndTime,
	}
	if build.StartTime != nil {
		run.StartedAt = *build.StartTime
	}
	if !run.Status.Succeeded() && run.Status.Terminal() {
		run.Reason = failedPhase(build.Phases)
	}
	return run, nil
}

func buildStatus(status types.StatusType) models.JobStatus {
	switch status {
	case types.StatusTypeSucceeded:
		return models.JobStatusSucceeded
	case types.StatusTypeFailed, types.StatusTypeFault:
		return models.JobStatusFailed
	case types.StatusTypeStopped:
		return models.JobStatusStopped
	case types.StatusTypeTimedOut:
		return models.JobStatusTimedOut
	case types.StatusTypeInProgress:
		return models.JobStatusRunning
	default:
		return models.JobStatusPending
	}
}

// failedPhase describes the first phase that did not succeed
func failedPhase(phases []types.BuildPhase) string {
	for _, phase := range phases {
		if phase.PhaseStatus == "" || phase.PhaseStatus == types.StatusTypeSucceeded {
			continue
		}
		reason := fmt.Sprintf("phase %s %s", phase.PhaseType, phase.PhaseStatus)
		for _, c := range phase.Contexts {
			if msg := aws.ToString(c.Message); msg != "" {
				reason += ": " + msg
				break
			}
		}
		return reason
	}
	return ""
}

func buildEnv(env map[string]string) []types.EnvironmentVariable {
	if len(env) == 0 {
		return nil
	}
	names := make([]string, 0, len(env))
	for name := range env {
		names = append(names, name)
	}
	sort.Strings(names)

	vars := make([]types.EnvironmentVariable, len(names))
	for i, name := range names {
		vars[i] = types.EnvironmentVariable{
			Name:  aws.String(name),
			Value: aws.String(env[name]),
			Type:  types.EnvironmentVariableTypePlaintext,
		}
	}
	return vars
}
