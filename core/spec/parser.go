package spec

import (
	"fmt"
	"os"
	"strings"
	"time"

	"llm-endpoint-orchestrator/core/models"

	"gopkg.in/yaml.v3"
)

// Image platforms accepted in project files
const (
	PlatformARM = "arm"
	PlatformAMD = "amd"
)

// ProjectFile represents a single-project YAML file
type ProjectFile struct {
	Project Project `yaml:"project"`
}

// MultiProjectFile represents a YAML file deploying several projects
type MultiProjectFile struct {
	Projects []Project `yaml:"project"`
}

// Project represents one model deployment
type Project struct {
	Name           string                `yaml:"name"`
	Model          ProjectModel          `yaml:"model"`
	Image          ProjectImage          `yaml:"image"`
	Inference      ProjectInference      `yaml:"inference"`
	Infrastructure ProjectInfrastructure `yaml:"infrastructure"`
}

// ProjectModel names the weights to download
type ProjectModel struct {
	HFName   string `yaml:"hf_name"`   // Hugging Face repository
	FullName string `yaml:"full_name"` // File name, also the object key in the model bucket
}

// ProjectImage describes the serving image
type ProjectImage struct {
	Platform string `yaml:"platform"` // arm | amd
	ImageTag string `yaml:"image_tag"`
}

// ProjectInference describes the hosted endpoint
type ProjectInference struct {
	SageMakerModelName string `yaml:"sagemaker_model_name"`
	InstanceType       string `yaml:"instance_type"`
	InstanceCount      int    `yaml:"instance_count,omitempty"`
}

// ProjectInfrastructure names pre-existing resources the deployment uses
type ProjectInfrastructure struct {
	ModelBucket         string        `yaml:"model_bucket"`
	ImageRepositoryURI  string        `yaml:"image_repository_uri"`
	ExecutionRoleARN    string        `yaml:"execution_role_arn"`
	StateMachineRoleARN string        `yaml:"state_machine_role_arn"`
	DownloadProject     string        `yaml:"download_project,omitempty"`
	BuildProject        string        `yaml:"build_project,omitempty"`
	BuildTimeout        time.Duration `yaml:"build_timeout,omitempty"`
}

// ParseProject parses a single-project YAML document and validates it
func ParseProject(data []byte) (*Project, error) {
	var file ProjectFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	p := file.Project
	if err := p.normalize(); err != nil {
		return nil, err
	}
	return &p, nil
}

// ParseMultiProject parses a YAML document with a list of projects
func ParseMultiProject(data []byte) ([]Project, error) {
	var file MultiProjectFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if len(file.Projects) == 0 {
		return nil, fmt.Errorf("no projects defined")
	}

	seen := make(map[string]struct{}, len(file.Projects))
	for i := range file.Projects {
		if err := file.Projects[i].normalize(); err != nil {
			return nil, fmt.Errorf("project %d: %w", i, err)
		}
		name := file.Projects[i].Name
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("duplicate project name %q", name)
		}
		seen[name] = struct{}{}
	}
	return file.Projects, nil
}

// LoadProject reads and parses a single-project file
func LoadProject(path string) (*Project, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return ParseProject(data)
}

// LoadMultiProject reads and parses a multi-project file
func LoadMultiProject(path string) ([]Project, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return ParseMultiProject(data)
}

func (p *Project) normalize() error {
	if p.Name == "" {
		return fmt.Errorf("project.name is required")
	}
	if p.Model.HFName == "" || p.Model.FullName == "" {
		return fmt.Errorf("project %s: model.hf_name and model.full_name are required", p.Name)
	}
	if p.Inference.SageMakerModelName == "" || p.Inference.InstanceType == "" {
		return fmt.Errorf("project %s: inference.sagemaker_model_name and inference.instance_type are required", p.Name)
	}

	p.Image.Platform = strings.ToLower(p.Image.Platform)
	if p.Image.Platform != PlatformARM && p.Image.Platform != PlatformAMD {
		return fmt.Errorf("value %s of the \"image.platform\" parameter does not match one of the supported values: [arm, amd]", p.Image.Platform)
	}

	// Set defaults
	if p.Image.ImageTag == "" {
		p.Image.ImageTag = "latest"
	}
	if p.Inference.InstanceCount == 0 {
		p.Inference.InstanceCount = 1
	}
	if p.Infrastructure.DownloadProject == "" {
		p.Infrastructure.DownloadProject = p.Name + "-model-download"
	}
	if p.Infrastructure.BuildProject == "" {
		p.Infrastructure.BuildProject = p.Name + "-model-build"
	}
	return nil
}

// Warnings returns non-fatal configuration problems
func (p *Project) Warnings() []string {
	var warnings []string
	if p.Image.Platform != PlatformARM && IsGravitonLike(p.Inference.InstanceType) {
		warnings = append(warnings, "platform for the image is not set to ARM, however, instance type potentially belongs to the AWS Graviton family")
	}
	return warnings
}

// IsGravitonLike reports whether an instance type looks like a Graviton
// family: a "g" in the family name, except for g5 GPU instances.
func IsGravitonLike(instanceType string) bool {
	parts := strings.Split(instanceType, ".")
	if len(parts) < 2 {
		return false
	}
	family := parts[1]
	if parts[0] != "ml" {
		family = parts[0]
	}
	return strings.Contains(family, "g") && family != "g5"
}

// EC2InstanceType strips the hosting prefix from an instance type
func EC2InstanceType(instanceType string) string {
	return strings.TrimPrefix(instanceType, "ml.")
}

// Architecture returns the CPU architecture the image is built for
func (p *Project) Architecture() string {
	if p.Image.Platform == PlatformARM {
		return "arm64"
	}
	return "x86_64"
}

// StateMachineName is the name of the project's provisioning chain
func (p *Project) StateMachineName() string {
	return p.Name + "-build-chain"
}

// EndpointName is the name of the project's hosted endpoint
func (p *Project) EndpointName() string {
	return p.Name + "-endpoint"
}

// EndpointConfigName is the name of the project's endpoint configuration
func (p *Project) EndpointConfigName() string {
	return p.Name + "-endpoint-config"
}

// ImageURI is the serving image reference
func (p *Project) ImageURI() string {
	return p.Infrastructure.ImageRepositoryURI + ":" + p.Image.ImageTag
}

// Jobs returns the provisioning chain: download the weights into the model
// bucket, then build and push the serving image.
func (p *Project) Jobs() []models.Job {
	return []models.Job{
		{
			ID:      p.Infrastructure.DownloadProject,
			Name:    "ModelDownload",
			Kind:    models.JobKindDownload,
			Project: p.Name,
			Env: map[string]string{
				"MODEL_BUCKET_NAME":          p.Infrastructure.ModelBucket,
				"MODEL_BUCKET_KEY_FULL_NAME": p.Model.FullName,
				"MODEL_HUGGING_FACE_NAME":    p.Model.HFName,
			},
			Timeout: p.Infrastructure.BuildTimeout,
		},
		{
			ID:      p.Infrastructure.BuildProject,
			Name:    "ImageBuild",
			Kind:    models.JobKindBuild,
			Project: p.Name,
			Env: map[string]string{
				"PLATFORM":  p.Image.Platform,
				"IMAGE_TAG": p.Image.ImageTag,
				"ECR":       p.Infrastructure.ImageRepositoryURI,
			},
			Timeout: p.Infrastructure.BuildTimeout,
		},
	}
}
