package lifecycle

import (
	"context"
	"fmt"

	"llm-endpoint-orchestrator/core/models"

	"github.com/aws/aws-lambda-go/cfn"
	"k8s.io/klog/v2"
)

// EndpointConfigurer sends a configure request to a deployed endpoint
type EndpointConfigurer interface {
	ConfigureEndpoint(ctx context.Context, endpointName string, cfg models.ModelConfiguration) (string, error)
}

// ConfigureResponse is returned by the configure callback
type ConfigureResponse struct {
	StatusCode int    `json:"statusCode"`
	Response   string `json:"Response"`
}

// ConfigureHandler loads the model into a freshly created endpoint
type ConfigureHandler struct {
	configurer   EndpointConfigurer
	endpointName string
	bucket       string
	key          string
}

// NewConfigureHandler creates a handler that configures endpointName with
// the model stored at s3://bucket/key
func NewConfigureHandler(configurer EndpointConfigurer, endpointName, bucket, key string) *ConfigureHandler {
	return &ConfigureHandler{
		configurer:   configurer,
		endpointName: endpointName,
		bucket:       bucket,
		key:          key,
	}
}

// Handle configures the endpoint on create and ignores every other event
func (h *ConfigureHandler) Handle(ctx context.Context, event cfn.Event) (ConfigureResponse, error) {
	logger := klog.FromContext(ctx).WithValues("requestType", event.RequestType, "endpoint", h.endpointName)

	if event.RequestType != cfn.RequestCreate {
		return ConfigureResponse{StatusCode: 200, Response: "Not a create request!"}, nil
	}

	cfg := models.DefaultModelConfiguration()
	cfg.Bucket = h.bucket
	cfg.Key = h.key
	if _, err := cfg.ResolveSource(); err != nil {
		return ConfigureResponse{}, err
	}

	out, err := h.configurer.ConfigureEndpoint(ctx, h.endpointName, cfg)
	if err != nil {
		return ConfigureResponse{}, fmt.Errorf("failed to configure endpoint %s: %w", h.endpointName, err)
	}
	logger.Info("Configured endpoint", "bucket", h.bucket, "key", h.key)
	return ConfigureResponse{StatusCode: 200, Response: out}, nil
}
