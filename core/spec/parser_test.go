package spec

import (
	"strings"
	"testing"

	"llm-endpoint-orchestrator/core/models"
)

const projectYAML = `
project:
  name: demo
  model:
    hf_name: TheBloke/Llama-2-7B-GGUF
    full_name: llama-2-7b.Q4_K_M.gguf
  image:
    platform: AMD
  inference:
    sagemaker_model_name: demo-model
    instance_type: ml.c7g.2xlarge
  infrastructure:
    model_bucket: demo-models
    image_repository_uri: 123456789012.dkr.ecr.us-east-1.amazonaws.com/demo
    build_timeout: 1h
`

func TestParseProject(t *testing.T) {
	p, err := ParseProject([]byte(projectYAML))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if p.Image.Platform != PlatformAMD {
		t.Errorf("expected platform to be lowercased, got %s", p.Image.Platform)
	}
	if p.Image.ImageTag != "latest" || p.Inference.InstanceCount != 1 {
		t.Errorf("expected defaults, got tag %q count %d", p.Image.ImageTag, p.Inference.InstanceCount)
	}
	if p.Architecture() != "x86_64" {
		t.Errorf("expected x86_64, got %s", p.Architecture())
	}

	jobs := p.Jobs()
	if len(jobs) != 2 || jobs[0].Kind != models.JobKindDownload || jobs[1].Kind != models.JobKindBuild {
		t.Fatalf("expected download then build, got %+v", jobs)
	}
	if jobs[0].ID != "demo-model-download" || jobs[1].ID != "demo-model-build" {
		t.Errorf("unexpected default build projects %s, %s", jobs[0].ID, jobs[1].ID)
	}
	if jobs[0].Env["MODEL_BUCKET_KEY_FULL_NAME"] != "llama-2-7b.Q4_K_M.gguf" {
		t.Errorf("expected key env var, got %v", jobs[0].Env)
	}
	if jobs[1].Timeout.Hours() != 1 {
		t.Errorf("expected 1h timeout, got %v", jobs[1].Timeout)
	}

	warnings := p.Warnings()
	if len(warnings) != 1 || !strings.Contains(warnings[0], "Graviton") {
		t.Errorf("expected Graviton warning for amd image on c7g, got %v", warnings)
	}
}

func TestParseProjectRejectsUnknownPlatform(t *testing.T) {
	doc := strings.Replace(projectYAML, "platform: AMD", "platform: riscv", 1)
	if _, err := ParseProject([]byte(doc)); err == nil || !strings.Contains(err.Error(), "image.platform") {
		t.Errorf("expected platform error, got %v", err)
	}
}

func TestParseProjectRequiresFields(t *testing.T) {
	if _, err := ParseProject([]byte("project:\n  name: demo\n")); err == nil {
		t.Errorf("expected error for missing model")
	}
	if _, err := ParseProject([]byte("project: [")); err == nil {
		t.Errorf("expected YAML error")
	}
}

func TestIsGravitonLike(t *testing.T) {
	tests := map[string]bool{
		"ml.c7g.2xlarge": true,
		"ml.m6g.large":   true,
		"ml.g4dn.xlarge": true,
		"ml.g5.2xlarge":  false,
		"ml.m5.large":    false,
		"c7g.large":      true,
		"invalid":        false,
	}
	for instanceType, want := range tests {
		if got := IsGravitonLike(instanceType); got != want {
			t.Errorf("IsGravitonLike(%s): expected %v, got %v", instanceType, want, got)
		}
	}
}

func TestParseMultiProject(t *testing.T) {
	doc := `
project:
  - name: a
    model: {hf_name: org/a, full_name: a.gguf}
    image: {platform: arm}
    inference: {sagemaker_model_name: a, instance_type: ml.c7g.xlarge}
  - name: b
    model: {hf_name: org/b, full_name: b.gguf}
    image: {platform: amd}
    inference: {sagemaker_model_name: b, instance_type: ml.g5.xlarge}
`
	projects, err := ParseMultiProject([]byte(doc))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(projects) != 2 || projects[0].Name != "a" || projects[1].Name != "b" {
		t.Fatalf("unexpected projects %+v", projects)
	}
	if projects[0].Architecture() != "arm64" {
		t.Errorf("expected arm64 for arm platform, got %s", projects[0].Architecture())
	}
	if len(projects[0].Warnings()) != 0 || len(projects[1].Warnings()) != 0 {
		t.Errorf("expected no warnings")
	}

	dup := strings.Replace(doc, "name: b", "name: a", 1)
	if _, err := ParseMultiProject([]byte(dup)); err == nil {
		t.Errorf("expected duplicate name error")
	}
}
