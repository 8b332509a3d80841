package deploy

import (
	"context"
	"time"

	"llm-endpoint-orchestrator/core/lifecycle"
	"llm-endpoint-orchestrator/core/models"
	"llm-endpoint-orchestrator/core/sequencer"
	awsprovider "llm-endpoint-orchestrator/providers/aws"
)

// StateMachineStore creates or updates a named chain definition
type StateMachineStore interface {
	Ensure(ctx context.Context, name string, definition []byte, roleARN string) (string, error)
}

// EndpointProvisioner creates and deletes hosted endpoints
type EndpointProvisioner interface {
	Create(ctx context.Context, spec awsprovider.EndpointSpec) error
	Delete(ctx context.Context, spec awsprovider.EndpointSpec) error
}

// InstanceCatalog answers instance type questions
type InstanceCatalog interface {
	SupportsArchitecture(ctx context.Context, instanceType, arch string) (bool, error)
	HourlyPrice(ctx context.Context, instanceType string) (float64, error)
}

// Backend is the set of cloud services a deployment talks to. Workflow
// returns the executor for one project's chain.
type Backend struct {
	StateMachines StateMachineStore
	Workflow      func(stateMachineARN string, jobs []models.Job) sequencer.Executor
	Endpoints     EndpointProvisioner
	Configurer    lifecycle.EndpointConfigurer
	Catalog       InstanceCatalog
}

// NewAWSBackend wires a Backend to AWS
func NewAWSBackend(client *awsprovider.Client) Backend {
	return Backend{
		StateMachines: client.StateMachines(),
		Workflow: func(arn string, _ []models.Job) sequencer.Executor {
			return client.Workflow(arn)
		},
		Endpoints:  client.Endpoints(),
		Configurer: client.Configurer(),
		Catalog:    client.Catalog(),
	}
}

// NewLocalBackend is like NewAWSBackend, but runs the chain in-process:
// builds are started and polled directly instead of through a state
// machine. A nil sink discards job events.
func NewLocalBackend(client *awsprovider.Client, sink sequencer.EventSink, interval time.Duration) Backend {
	backend := NewAWSBackend(client)
	backend.StateMachines = localStateMachines{}
	backend.Workflow = func(_ string, jobs []models.Job) sequencer.Executor {
		opts := []sequencer.Option{sequencer.WithInterval(interval)}
		if sink != nil {
			opts = append(opts, sequencer.WithEventSink(sink))
		}
		return sequencer.NewLocalExecutor(client.BuildRunner(), jobs, opts...)
	}
	return backend
}

// localStateMachines has nothing to store; the definition is only validated
type localStateMachines struct{}

func (localStateMachines) Ensure(ctx context.Context, name string, definition []byte, roleARN string) (string, error) {
	return "local:" + name, nil
}
