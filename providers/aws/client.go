package aws

import (
	"context"

	"llm-endpoint-orchestrator/storage"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/codebuild"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/pricing"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sagemaker"
	"github.com/aws/aws-sdk-go-v2/service/sagemakerruntime"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
)

// The Price List API is only served from a few regions
const pricingRegion = "us-east-1"

// CodeBuildAPI is the part of the CodeBuild client used here
type CodeBuildAPI interface {
	StartBuild(ctx context.Context, params *codebuild.StartBuildInput, optFns ...func(*codebuild.Options)) (*codebuild.StartBuildOutput, error)
	BatchGetBuilds(ctx context.Context, params *codebuild.BatchGetBuildsInput, optFns ...func(*codebuild.Options)) (*codebuild.BatchGetBuildsOutput, error)
}

// StepFunctionsAPI is the part of the Step Functions client used here
type StepFunctionsAPI interface {
	ListExecutions(ctx context.Context, params *sfn.ListExecutionsInput, optFns ...func(*sfn.Options)) (*sfn.ListExecutionsOutput, error)
	DescribeExecution(ctx context.Context, params *sfn.DescribeExecutionInput, optFns ...func(*sfn.Options)) (*sfn.DescribeExecutionOutput, error)
	StartExecution(ctx context.Context, params *sfn.StartExecutionInput, optFns ...func(*sfn.Options)) (*sfn.StartExecutionOutput, error)
	ListStateMachines(ctx context.Context, params *sfn.ListStateMachinesInput, optFns ...func(*sfn.Options)) (*sfn.ListStateMachinesOutput, error)
	CreateStateMachine(ctx context.Context, params *sfn.CreateStateMachineInput, optFns ...func(*sfn.Options)) (*sfn.CreateStateMachineOutput, error)
	UpdateStateMachine(ctx context.Context, params *sfn.UpdateStateMachineInput, optFns ...func(*sfn.Options)) (*sfn.UpdateStateMachineOutput, error)
}

// SageMakerAPI is the part of the SageMaker client used here
type SageMakerAPI interface {
	CreateModel(ctx context.Context, params *sagemaker.CreateModelInput, optFns ...func(*sagemaker.Options)) (*sagemaker.CreateModelOutput, error)
	CreateEndpointConfig(ctx context.Context, params *sagemaker.CreateEndpointConfigInput, optFns ...func(*sagemaker.Options)) (*sagemaker.CreateEndpointConfigOutput, error)
	CreateEndpoint(ctx context.Context, params *sagemaker.CreateEndpointInput, optFns ...func(*sagemaker.Options)) (*sagemaker.CreateEndpointOutput, error)
	DescribeEndpoint(ctx context.Context, params *sagemaker.DescribeEndpointInput, optFns ...func(*sagemaker.Options)) (*sagemaker.DescribeEndpointOutput, error)
	DeleteEndpoint(ctx context.Context, params *sagemaker.DeleteEndpointInput, optFns ...func(*sagemaker.Options)) (*sagemaker.DeleteEndpointOutput, error)
	DeleteEndpointConfig(ctx context.Context, params *sagemaker.DeleteEndpointConfigInput, optFns ...func(*sagemaker.Options)) (*sagemaker.DeleteEndpointConfigOutput, error)
	DeleteModel(ctx context.Context, params *sagemaker.DeleteModelInput, optFns ...func(*sagemaker.Options)) (*sagemaker.DeleteModelOutput, error)
}

// RuntimeAPI is the part of the SageMaker runtime client used here
type RuntimeAPI interface {
	InvokeEndpoint(ctx context.Context, params *sagemakerruntime.InvokeEndpointInput, optFns ...func(*sagemakerruntime.Options)) (*sagemakerruntime.InvokeEndpointOutput, error)
}

// EC2API is the part of the EC2 client used here
type EC2API interface {
	DescribeInstanceTypes(ctx context.Context, params *ec2.DescribeInstanceTypesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstanceTypesOutput, error)
}

// PricingAPI is the part of the Price List client used here
type PricingAPI interface {
	GetProducts(ctx context.Context, params *pricing.GetProductsInput, optFns ...func(*pricing.Options)) (*pricing.GetProductsOutput, error)
}

// Client is the AWS provider client
type Client struct {
	region string

	codebuildClient *codebuild.Client
	sfnClient       *sfn.Client
	sagemakerClient *sagemaker.Client
	runtimeClient   *sagemakerruntime.Client
	ec2Client       *ec2.Client
	pricingClient   *pricing.Client
	s3Client        *s3.Client
}

// NewClient creates a new AWS client. An empty region uses the default
// credential chain's region.
func NewClient(ctx context.Context, region string) (*Client, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}

	return &Client{
		region:          cfg.Region,
		codebuildClient: codebuild.NewFromConfig(cfg),
		sfnClient:       sfn.NewFromConfig(cfg),
		sagemakerClient: sagemaker.NewFromConfig(cfg),
		runtimeClient:   sagemakerruntime.NewFromConfig(cfg),
		ec2Client:       ec2.NewFromConfig(cfg),
		pricingClient: pricing.NewFromConfig(cfg, func(o *pricing.Options) {
			o.Region = pricingRegion
		}),
		s3Client: s3.NewFromConfig(cfg),
	}, nil
}

// Region returns the region the clients are bound to
func (c *Client) Region() string {
	return c.region
}

// BuildRunner runs provisioning jobs as CodeBuild builds
func (c *Client) BuildRunner() *BuildRunner {
	return NewBuildRunner(c.codebuildClient)
}

// Workflow observes and starts executions of a state machine
func (c *Client) Workflow(stateMachineARN string) *WorkflowExecutor {
	return NewWorkflowExecutor(c.sfnClient, stateMachineARN)
}

// StateMachines manages state machine definitions
func (c *Client) StateMachines() *StateMachines {
	return NewStateMachines(c.sfnClient)
}

// Endpoints manages hosted inference endpoints
func (c *Client) Endpoints() *EndpointManager {
	return NewEndpointManager(c.sagemakerClient)
}

// Configurer sends configure requests to hosted endpoints
func (c *Client) Configurer() *EndpointConfigurer {
	return NewEndpointConfigurer(c.runtimeClient)
}

// Catalog looks up instance type facts
func (c *Client) Catalog() *InstanceCatalog {
	return NewInstanceCatalog(c.ec2Client, c.pricingClient, c.region)
}

// ArtifactStore downloads model weights from S3
func (c *Client) ArtifactStore() *storage.ArtifactStore {
	return storage.NewArtifactStore(c.s3Client)
}
