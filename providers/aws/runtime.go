package aws

import (
	"context"
	"fmt"

	"llm-endpoint-orchestrator/core/lifecycle"
	"llm-endpoint-orchestrator/core/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sagemakerruntime"
)

// EndpointConfigurer loads a model on a running endpoint by sending it a
// configure envelope
type EndpointConfigurer struct {
	api RuntimeAPI
}

var _ lifecycle.EndpointConfigurer = (*EndpointConfigurer)(nil)

// NewEndpointConfigurer creates a configurer over api
func NewEndpointConfigurer(api RuntimeAPI) *EndpointConfigurer {
	return &EndpointConfigurer{api: api}
}

// ConfigureEndpoint invokes the endpoint with cfg and returns the raw
// response body
func (c *EndpointConfigurer) ConfigureEndpoint(ctx context.Context, endpointName string, cfg models.ModelConfiguration) (string, error) {
	body, err := models.NewConfigureEnvelope(cfg)
	if err != nil {
		return "", err
	}

	result, err := c.api.InvokeEndpoint(ctx, &sagemakerruntime.InvokeEndpointInput{
		EndpointName: aws.String(endpointName),
		ContentType:  aws.String("application/json"),
		Accept:       aws.String("application/json"),
		Body:         body,
	})
	if err != nil {
		return "", fmt.Errorf("failed to configure endpoint %s: %w", endpointName, err)
	}
	return string(result.Body), nil
}
