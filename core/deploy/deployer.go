package deploy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"llm-endpoint-orchestrator/core/models"
	"llm-endpoint-orchestrator/core/monitoring"
	"llm-endpoint-orchestrator/core/sequencer"
	"llm-endpoint-orchestrator/core/spec"
	awsprovider "llm-endpoint-orchestrator/providers/aws"

	"golang.org/x/sync/errgroup"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/klog/v2"
)

const (
	DefaultPollInterval = 30 * time.Second
	DefaultChainTimeout = 2 * time.Hour

	// Projects deployed at once by DeployAll and DestroyAll
	maxParallel = 5

	hoursPerMonth = 730
)

// Result is the outcome of deploying or destroying one project
type Result struct {
	Project     string
	Endpoint    string
	ExecutionID string
	HourlyCost  float64
	Err         error
}

// Deployer runs the deployment pipeline for projects
type Deployer struct {
	backend      Backend
	metrics      *monitoring.MetricsExporter
	pollInterval time.Duration
	chainTimeout time.Duration
	region       string
}

// NewDeployer creates a deployer. Zero durations use the defaults.
func NewDeployer(backend Backend, region string, pollInterval, chainTimeout time.Duration, metrics *monitoring.MetricsExporter) *Deployer {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	if chainTimeout <= 0 {
		chainTimeout = DefaultChainTimeout
	}
	return &Deployer{
		backend:      backend,
		metrics:      metrics,
		pollInterval: pollInterval,
		chainTimeout: chainTimeout,
		region:       region,
	}
}

// Deploy provisions one project: it runs the build chain, creates the
// endpoint and configures it with the downloaded weights
func (d *Deployer) Deploy(ctx context.Context, project *spec.Project) (result Result) {
	logger := klog.FromContext(ctx).WithValues("project", project.Name)
	ctx = klog.NewContext(ctx, logger)
	result = Result{Project: project.Name, Endpoint: project.EndpointName()}

	fail := func(err error) Result {
		logger.Error(err, "Deployment failed")
		result.Err = err
		return result
	}

	for _, warning := range project.Warnings() {
		logger.Info("WARNING: " + warning)
	}
	if err := d.checkArchitecture(ctx, project); err != nil {
		return fail(err)
	}

	jobs := project.Jobs()
	definition, err := sequencer.Definition(project.Name+" model download and image build", jobs)
	if err != nil {
		return fail(err)
	}
	arn, err := d.backend.StateMachines.Ensure(ctx, project.StateMachineName(), definition, project.Infrastructure.StateMachineRoleARN)
	if err != nil {
		return fail(err)
	}

	exec, err := d.runChain(ctx, arn, jobs)
	if exec != nil {
		result.ExecutionID = exec.ID
	}
	if err != nil {
		return fail(err)
	}

	endpoint := endpointSpec(project, d.region)
	if err := d.backend.Endpoints.Create(ctx, endpoint); err != nil {
		return fail(err)
	}

	cfg := models.DefaultModelConfiguration()
	cfg.Bucket = project.Infrastructure.ModelBucket
	cfg.Key = project.Model.FullName
	out, err := d.backend.Configurer.ConfigureEndpoint(ctx, endpoint.EndpointName, cfg)
	if err != nil {
		return fail(err)
	}
	logger.Info("Endpoint configured", "endpoint", endpoint.EndpointName, "response", out)

	result.HourlyCost = d.logCost(ctx, project)
	return result
}

// Destroy removes the project's endpoint, endpoint configuration and model
func (d *Deployer) Destroy(ctx context.Context, project *spec.Project) Result {
	logger := klog.FromContext(ctx).WithValues("project", project.Name)
	ctx = klog.NewContext(ctx, logger)

	result := Result{Project: project.Name, Endpoint: project.EndpointName()}
	if err := d.backend.Endpoints.Delete(ctx, endpointSpec(project, d.region)); err != nil {
		logger.Error(err, "Destroy failed")
		result.Err = err
	}
	return result
}

// DeployAll deploys projects in parallel and returns one result per
// project, in input order. The error joins every per-project failure.
func (d *Deployer) DeployAll(ctx context.Context, projects []spec.Project) ([]Result, error) {
	return d.forEach(ctx, projects, d.Deploy)
}

// DestroyAll destroys projects in parallel, like DeployAll
func (d *Deployer) DestroyAll(ctx context.Context, projects []spec.Project) ([]Result, error) {
	return d.forEach(ctx, projects, d.Destroy)
}

func (d *Deployer) forEach(ctx context.Context, projects []spec.Project, fn func(context.Context, *spec.Project) Result) ([]Result, error) {
	results := make([]Result, len(projects))

	var g errgroup.Group
	g.SetLimit(maxParallel)
	for i := range projects {
		g.Go(func() error {
			results[i] = fn(ctx, &projects[i])
			return nil
		})
	}
	_ = g.Wait()

	var errs []error
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, fmt.Errorf("project %s: %w", r.Project, r.Err))
		}
	}
	return results, errors.Join(errs...)
}

// runChain starts a fresh chain execution and polls until it finishes.
// Older executions of the same state machine are ignored.
func (d *Deployer) runChain(ctx context.Context, stateMachineARN string, jobs []models.Job) (*models.ChainExecution, error) {
	logger := klog.FromContext(ctx)
	executor := d.backend.Workflow(stateMachineARN, jobs)
	if closer, ok := executor.(io.Closer); ok {
		defer closer.Close()
	}
	seq := sequencer.NewSequencer(executor, d.metrics)

	started, err := seq.StartChain(ctx)
	if err != nil {
		return nil, err
	}

	var failure error
	err = wait.PollUntilContextTimeout(ctx, d.pollInterval, d.chainTimeout, false, func(ctx context.Context) (bool, error) {
		res, err := seq.PollStatus(ctx)
		if err != nil {
			logger.Error(err, "Failed to poll provisioning chain")
			return false, nil
		}
		if res.Execution == nil || res.Execution.ID != started.ID {
			logger.V(1).Info("Started execution not listed yet", "execution", started.ID)
			return false, nil
		}
		if res.Failed {
			failure = res.Err()
			return true, nil
		}
		return res.Complete, nil
	})
	if failure != nil {
		return started, failure
	}
	if err != nil {
		return started, fmt.Errorf("provisioning chain %s did not finish: %w", started.ID, err)
	}
	return started, nil
}

func (d *Deployer) checkArchitecture(ctx context.Context, project *spec.Project) error {
	if d.backend.Catalog == nil {
		return nil
	}
	instanceType := spec.EC2InstanceType(project.Inference.InstanceType)
	ok, err := d.backend.Catalog.SupportsArchitecture(ctx, instanceType, project.Architecture())
	if err != nil {
		// Some hosting instance types have no EC2 equivalent
		klog.FromContext(ctx).V(1).Info("Skipping architecture check", "instanceType", instanceType, "err", err)
		return nil
	}
	if !ok {
		return fmt.Errorf("instance type %s does not support %s images (image.platform %s)",
			project.Inference.InstanceType, project.Architecture(), project.Image.Platform)
	}
	return nil
}

// logCost logs the estimated cost of the endpoint and returns the hourly
// price, or zero when it is unknown
func (d *Deployer) logCost(ctx context.Context, project *spec.Project) float64 {
	logger := klog.FromContext(ctx)
	if d.backend.Catalog == nil {
		return 0
	}
	price, err := d.backend.Catalog.HourlyPrice(ctx, project.Inference.InstanceType)
	if err != nil {
		logger.V(1).Info("No price available for instance type", "instanceType", project.Inference.InstanceType, "err", err)
		return 0
	}
	hourly := price * float64(project.Inference.InstanceCount)
	logger.Info("Estimated endpoint cost",
		"instanceType", project.Inference.InstanceType,
		"instances", project.Inference.InstanceCount,
		"usdPerHour", fmt.Sprintf("%.4f", hourly),
		"usdPerMonth", fmt.Sprintf("%.2f", hourly*hoursPerMonth))
	return hourly
}

func endpointSpec(project *spec.Project, region string) awsprovider.EndpointSpec {
	return awsprovider.EndpointSpec{
		ModelName:          project.Inference.SageMakerModelName,
		EndpointConfigName: project.EndpointConfigName(),
		EndpointName:       project.EndpointName(),
		Image:              project.ImageURI(),
		ExecutionRoleARN:   project.Infrastructure.ExecutionRoleARN,
		InstanceType:       project.Inference.InstanceType,
		InstanceCount:      int32(project.Inference.InstanceCount),
		Environment: map[string]string{
			"MMS_MAX_RESPONSE_SIZE":         "20000000",
			"SAGEMAKER_CONTAINER_LOG_LEVEL": "20",
			"SAGEMAKER_REGION":              region,
		},
	}
}
