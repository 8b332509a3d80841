package deploy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"llm-endpoint-orchestrator/core/models"
	"llm-endpoint-orchestrator/core/sequencer"
	"llm-endpoint-orchestrator/core/spec"
	awsprovider "llm-endpoint-orchestrator/providers/aws"
)

type fakeMachines struct {
	mu    sync.Mutex
	names []string
}

func (f *fakeMachines) Ensure(ctx context.Context, name string, definition []byte, roleARN string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.names = append(f.names, name)
	return "arn:sm:" + name, nil
}

// fakeWorkflow reports the started execution as running for a few polls
// and then ends it with final
type fakeWorkflow struct {
	mu      sync.Mutex
	polls   int
	final   models.ExecutionStatus
	started *models.ChainExecution
	stale   *models.ChainExecution
}

func (f *fakeWorkflow) LatestExecution(ctx context.Context) (*models.ChainExecution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	if f.started == nil || f.polls == 1 {
		return f.stale, nil
	}
	exec := *f.started
	if f.polls > 3 {
		exec.Status = f.final
		if f.final == models.ExecutionFailed {
			exec.Cause = "build failed"
		}
	}
	return &exec, nil
}

func (f *fakeWorkflow) StartExecution(ctx context.Context) (*models.ChainExecution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = &models.ChainExecution{ID: "exec-new", Status: models.ExecutionRunning}
	return f.started, nil
}

type fakeEndpoints struct {
	mu      sync.Mutex
	created []string
	deleted []string
	err     error
}

func (f *fakeEndpoints) Create(ctx context.Context, spec awsprovider.EndpointSpec) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, spec.EndpointName)
	return f.err
}

func (f *fakeEndpoints) Delete(ctx context.Context, spec awsprovider.EndpointSpec) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, spec.EndpointName)
	return f.err
}

type fakeConfigurer struct {
	mu   sync.Mutex
	cfgs map[string]models.ModelConfiguration
}

func (f *fakeConfigurer) ConfigureEndpoint(ctx context.Context, endpointName string, cfg models.ModelConfiguration) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cfgs == nil {
		f.cfgs = map[string]models.ModelConfiguration{}
	}
	f.cfgs[endpointName] = cfg
	return `{"status":"success"}`, nil
}

type fakeCatalog struct {
	arm bool
}

func (f *fakeCatalog) SupportsArchitecture(ctx context.Context, instanceType, arch string) (bool, error) {
	if arch == "arm64" {
		return f.arm, nil
	}
	return true, nil
}

func (f *fakeCatalog) HourlyPrice(ctx context.Context, instanceType string) (float64, error) {
	return 1.5, nil
}

type testRig struct {
	machines   *fakeMachines
	workflows  map[string]*fakeWorkflow
	endpoints  *fakeEndpoints
	configurer *fakeConfigurer
	deployer   *Deployer
}

func newRig(final models.ExecutionStatus) *testRig {
	rig := &testRig{
		machines:   &fakeMachines{},
		workflows:  map[string]*fakeWorkflow{},
		endpoints:  &fakeEndpoints{},
		configurer: &fakeConfigurer{},
	}
	var mu sync.Mutex
	backend := Backend{
		StateMachines: rig.machines,
		Workflow: func(arn string, jobs []models.Job) sequencer.Executor {
			mu.Lock()
			defer mu.Unlock()
			wf, ok := rig.workflows[arn]
			if !ok {
				wf = &fakeWorkflow{
					final: final,
					stale: &models.ChainExecution{ID: "exec-old", Status: models.ExecutionSucceeded},
				}
				rig.workflows[arn] = wf
			}
			return wf
		},
		Endpoints:  rig.endpoints,
		Configurer: rig.configurer,
		Catalog:    &fakeCatalog{arm: true},
	}
	rig.deployer = NewDeployer(backend, "us-east-1", time.Millisecond, 5*time.Second, nil)
	return rig
}

func testProject(name string) spec.Project {
	return spec.Project{
		Name:      name,
		Model:     spec.ProjectModel{HFName: "org/" + name, FullName: name + ".gguf"},
		Image:     spec.ProjectImage{Platform: "amd", ImageTag: "latest"},
		Inference: spec.ProjectInference{SageMakerModelName: name, InstanceType: "ml.g5.xlarge", InstanceCount: 2},
		Infrastructure: spec.ProjectInfrastructure{
			ModelBucket:     "models",
			DownloadProject: name + "-model-download",
			BuildProject:    name + "-model-build",
		},
	}
}

func TestDeploy(t *testing.T) {
	rig := newRig(models.ExecutionSucceeded)
	project := testProject("demo")

	result := rig.deployer.Deploy(context.Background(), &project)
	if result.Err != nil {
		t.Fatalf("deploy: %v", result.Err)
	}
	if result.ExecutionID != "exec-new" {
		t.Errorf("expected the fresh execution to be awaited, got %s", result.ExecutionID)
	}
	if result.HourlyCost != 3 {
		t.Errorf("expected hourly cost 3 for two instances, got %v", result.HourlyCost)
	}
	if rig.machines.names[0] != "demo-build-chain" {
		t.Errorf("expected state machine demo-build-chain, got %s", rig.machines.names[0])
	}
	if len(rig.endpoints.created) != 1 || rig.endpoints.created[0] != "demo-endpoint" {
		t.Errorf("expected demo-endpoint to be created, got %v", rig.endpoints.created)
	}
	cfg := rig.configurer.cfgs["demo-endpoint"]
	if cfg.Bucket != "models" || cfg.Key != "demo.gguf" {
		t.Errorf("expected endpoint configured from models/demo.gguf, got %s/%s", cfg.Bucket, cfg.Key)
	}
	if wf := rig.workflows["arn:sm:demo-build-chain"]; wf.polls < 4 {
		t.Errorf("expected polling until the chain finished, got %d polls", wf.polls)
	}
}

func TestDeployChainFailure(t *testing.T) {
	rig := newRig(models.ExecutionFailed)
	project := testProject("demo")

	result := rig.deployer.Deploy(context.Background(), &project)
	var failure *models.ChainJobFailure
	if !errors.As(result.Err, &failure) {
		t.Fatalf("expected ChainJobFailure, got %v", result.Err)
	}
	if failure.ExecutionID != "exec-new" || failure.Cause != "build failed" {
		t.Errorf("unexpected failure %+v", failure)
	}
	if len(rig.endpoints.created) != 0 {
		t.Errorf("expected no endpoint after a failed chain, got %v", rig.endpoints.created)
	}
}

func TestDeployRejectsArchitectureMismatch(t *testing.T) {
	rig := newRig(models.ExecutionSucceeded)
	rig.deployer.backend.Catalog = &fakeCatalog{arm: false}
	project := testProject("demo")
	project.Image.Platform = "arm"

	result := rig.deployer.Deploy(context.Background(), &project)
	if result.Err == nil || !strings.Contains(result.Err.Error(), "does not support arm64") {
		t.Errorf("expected architecture error, got %v", result.Err)
	}
	if len(rig.machines.names) != 0 {
		t.Errorf("expected no state machine for a rejected project")
	}
}

func TestDeployAllCollectsResults(t *testing.T) {
	rig := newRig(models.ExecutionSucceeded)
	var projects []spec.Project
	for i := 0; i < 7; i++ {
		projects = append(projects, testProject(fmt.Sprintf("p%d", i)))
	}
	projects[3].Image.Platform = "arm"
	rig.deployer.backend.Catalog = &fakeCatalog{arm: false}

	results, err := rig.deployer.DeployAll(context.Background(), projects)
	if err == nil || !strings.Contains(err.Error(), "project p3") {
		t.Errorf("expected joined error naming p3, got %v", err)
	}
	if len(results) != 7 {
		t.Fatalf("expected 7 results, got %d", len(results))
	}
	for i, r := range results {
		if r.Project != projects[i].Name {
			t.Errorf("expected result %d for %s, got %s", i, projects[i].Name, r.Project)
		}
		if (r.Err != nil) != (i == 3) {
			t.Errorf("unexpected error state for %s: %v", r.Project, r.Err)
		}
	}
	if len(rig.endpoints.created) != 6 {
		t.Errorf("expected 6 endpoints, got %d", len(rig.endpoints.created))
	}
}

func TestDestroyAll(t *testing.T) {
	rig := newRig(models.ExecutionSucceeded)
	projects := []spec.Project{testProject("a"), testProject("b")}

	results, err := rig.deployer.DestroyAll(context.Background(), projects)
	if err != nil {
		t.Fatalf("destroy: %v", err)
	}
	if len(results) != 2 || len(rig.endpoints.deleted) != 2 {
		t.Errorf("expected both endpoints deleted, got %v", rig.endpoints.deleted)
	}

	rig.endpoints.err = errors.New("access denied")
	if _, err := rig.deployer.DestroyAll(context.Background(), projects); err == nil {
		t.Errorf("expected destroy error")
	}
}
