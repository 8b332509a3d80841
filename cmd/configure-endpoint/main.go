package main

import (
	"context"
	"flag"

	"llm-endpoint-orchestrator/config"
	"llm-endpoint-orchestrator/core/lifecycle"
	awsprovider "llm-endpoint-orchestrator/providers/aws"

	"github.com/aws/aws-lambda-go/lambda"
	"k8s.io/klog/v2"
)

func main() {
	klog.InitFlags(flag.CommandLine)
	flag.Parse()

	cfg := config.Load()
	if cfg.SageMakerEndpointName == "" || cfg.ModelBucketName == "" || cfg.ModelBucketKeyName == "" {
		klog.Fatal("SAGEMAKER_ENDPOINT_NAME, MODEL_BUCKET_NAME and MODEL_BUCKET_KEY_NAME are required")
	}

	client, err := awsprovider.NewClient(context.Background(), cfg.AWSRegion)
	if err != nil {
		klog.Fatalf("Failed to load AWS configuration: %v", err)
	}
	handler := lifecycle.NewConfigureHandler(client.Configurer(), cfg.SageMakerEndpointName, cfg.ModelBucketName, cfg.ModelBucketKeyName)

	klog.InfoS("Starting configure handler", "endpoint", cfg.SageMakerEndpointName)
	lambda.Start(handler.Handle)
}
