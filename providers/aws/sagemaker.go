package aws

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sagemaker"
	"github.com/aws/aws-sdk-go-v2/service/sagemaker/types"
	"github.com/aws/smithy-go"
	"k8s.io/klog/v2"
)

const (
	variantName            = "AllTraffic"
	defaultEndpointTimeout = 30 * time.Minute
)

// EndpointSpec describes a hosted inference endpoint
type EndpointSpec struct {
	ModelName          string
	EndpointConfigName string
	EndpointName       string
	Image              string
	ExecutionRoleARN   string
	InstanceType       string
	InstanceCount      int32
	Environment        map[string]string
}

// EndpointManager creates and deletes SageMaker endpoints
type EndpointManager struct {
	api         SageMakerAPI
	waitTimeout time.Duration
}

// NewEndpointManager creates an endpoint manager over api
func NewEndpointManager(api SageMakerAPI) *EndpointManager {
	return &EndpointManager{api: api, waitTimeout: defaultEndpointTimeout}
}

// WithWaitTimeout sets how long Create waits for the endpoint to come up
func (m *EndpointManager) WithWaitTimeout(timeout time.Duration) *EndpointManager {
	m.waitTimeout = timeout
	return m
}

// Create registers the model, its endpoint configuration and the endpoint,
// then waits until the endpoint is in service
func (m *EndpointManager) Create(ctx context.Context, spec EndpointSpec) error {
	logger := klog.FromContext(ctx).WithValues("endpoint", spec.EndpointName)

	_, err := m.api.CreateModel(ctx, &sagemaker.CreateModelInput{
		ModelName:        aws.String(spec.ModelName),
		ExecutionRoleArn: aws.String(spec.ExecutionRoleARN),
		PrimaryContainer: &types.ContainerDefinition{
			Image:       aws.String(spec.Image),
			Environment: spec.Environment,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create model %s: %w", spec.ModelName, err)
	}
	logger.V(1).Info("Created model", "model", spec.ModelName)

	count := spec.InstanceCount
	if count < 1 {
		count = 1
	}
	_, err = m.api.CreateEndpointConfig(ctx, &sagemaker.CreateEndpointConfigInput{
		EndpointConfigName: aws.String(spec.EndpointConfigName),
		ProductionVariants: []types.ProductionVariant{{
			VariantName:          aws.String(variantName),
			ModelName:            aws.String(spec.ModelName),
			InitialInstanceCount: aws.Int32(count),
			InstanceType:         types.ProductionVariantInstanceType(spec.InstanceType),
			InitialVariantWeight: aws.Float32(1),
		}},
	})
	if err != nil {
		return fmt.Errorf("failed to create endpoint config %s: %w", spec.EndpointConfigName, err)
	}
	logger.V(1).Info("Created endpoint config", "config", spec.EndpointConfigName)

	_, err = m.api.CreateEndpoint(ctx, &sagemaker.CreateEndpointInput{
		EndpointName:       aws.String(spec.EndpointName),
		EndpointConfigName: aws.String(spec.EndpointConfigName),
	})
	if err != nil {
		return fmt.Errorf("failed to create endpoint %s: %w", spec.EndpointName, err)
	}
	logger.Info("Waiting for endpoint to be in service", "timeout", m.waitTimeout)

	waiter := sagemaker.NewEndpointInServiceWaiter(m.api)
	if err := waiter.Wait(ctx, &sagemaker.DescribeEndpointInput{EndpointName: aws.String(spec.EndpointName)}, m.waitTimeout); err != nil {
		return fmt.Errorf("endpoint %s did not reach InService: %w", spec.EndpointName, err)
	}
	logger.Info("Endpoint in service")
	return nil
}

// Delete removes the endpoint, its configuration and the model. Resources
// that are already gone are skipped.
func (m *EndpointManager) Delete(ctx context.Context, spec EndpointSpec) error {
	logger := klog.FromContext(ctx).WithValues("endpoint", spec.EndpointName)

	if _, err := m.api.DeleteEndpoint(ctx, &sagemaker.DeleteEndpointInput{
		EndpointName: aws.String(spec.EndpointName),
	}); err != nil && !isNotFound(err) {
		return fmt.Errorf("failed to delete endpoint %s: %w", spec.EndpointName, err)
	}
	if _, err := m.api.DeleteEndpointConfig(ctx, &sagemaker.DeleteEndpointConfigInput{
		EndpointConfigName: aws.String(spec.EndpointConfigName),
	}); err != nil && !isNotFound(err) {
		return fmt.Errorf("failed to delete endpoint config %s: %w", spec.EndpointConfigName, err)
	}
	if _, err := m.api.DeleteModel(ctx, &sagemaker.DeleteModelInput{
		ModelName: aws.String(spec.ModelName),
	}); err != nil && !isNotFound(err) {
		return fmt.Errorf("failed to delete model %s: %w", spec.ModelName, err)
	}

	logger.Info("Deleted endpoint resources")
	return nil
}

// SageMaker reports missing resources as a ValidationException
func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	if apiErr.ErrorCode() == "ResourceNotFound" {
		return true
	}
	return apiErr.ErrorCode() == "ValidationException" && strings.Contains(apiErr.ErrorMessage(), "Could not find")
}
