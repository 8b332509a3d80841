package main

import (
	"context"
	"flag"

	"llm-endpoint-orchestrator/config"
	"llm-endpoint-orchestrator/core/lifecycle"
	"llm-endpoint-orchestrator/core/sequencer"
	awsprovider "llm-endpoint-orchestrator/providers/aws"

	"github.com/aws/aws-lambda-go/lambda"
	"k8s.io/klog/v2"
)

func main() {
	klog.InitFlags(flag.CommandLine)
	flag.Parse()

	cfg := config.Load()
	if cfg.StateMachineARN == "" {
		klog.Fatal("STATE_MACHINE_ARN is required")
	}

	client, err := awsprovider.NewClient(context.Background(), cfg.AWSRegion)
	if err != nil {
		klog.Fatalf("Failed to load AWS configuration: %v", err)
	}
	seq := sequencer.NewSequencer(client.Workflow(cfg.StateMachineARN), nil)
	handler := lifecycle.NewTriggerHandler(seq)

	klog.InfoS("Starting trigger handler", "handler", cfg.TriggerHandler, "stateMachine", cfg.StateMachineARN)
	switch cfg.TriggerHandler {
	case "on-event":
		lambda.Start(handler.OnEvent)
	case "is-complete":
		lambda.Start(handler.IsComplete)
	default:
		klog.Fatalf("Unknown TRIGGER_HANDLER %q, expected on-event or is-complete", cfg.TriggerHandler)
	}
}
