package llamacpp

import (
	"slices"
	"testing"

	"llm-endpoint-orchestrator/core/models"
)

func flagValue(cli []string, flag string) (string, bool) {
	i := slices.Index(cli, flag)
	if i < 0 || i+1 >= len(cli) {
		return "", false
	}
	return cli[i+1], true
}

func TestCommandLineDefaults(t *testing.T) {
	args := ServeArgs{ModelPath: "/models/a.gguf", Port: 8100, Config: models.DefaultModelConfiguration()}
	cli, ignored := args.CommandLine()

	expected := map[string]string{
		"--model":          "/models/a.gguf",
		"--host":           "127.0.0.1",
		"--port":           "8100",
		"--ctx-size":       "2048",
		"--seed":           "1337",
		"--batch-size":     "512",
		"--repeat-last-n":  "128",
		"--rope-freq-base": "10000",
	}
	for flag, want := range expected {
		got, ok := flagValue(cli, flag)
		if !ok || got != want {
			t.Errorf("expected %s %s, got %q", flag, want, got)
		}
	}
	for _, flag := range []string{"--no-mmap", "--mlock", "--threads", "--lora", "--tensor-split"} {
		if slices.Contains(cli, flag) {
			t.Errorf("expected %s to be omitted by default", flag)
		}
	}
	if !slices.Equal(ignored, []string{"low_vram"}) {
		t.Errorf("expected only low_vram to be reported as ignored, got %v", ignored)
	}
}

func TestCommandLineOptionalFlags(t *testing.T) {
	cfg := models.DefaultModelConfiguration()
	threads := 6
	lora := "/models/adapter.bin"
	cfg.NThreads = &threads
	cfg.LoraPath = &lora
	cfg.UseMmap = false
	cfg.UseMlock = true
	cfg.TensorSplit = []float64{0.5, 0.25}
	cfg.LowVRAM = false

	cli, ignored := ServeArgs{ModelPath: "m.gguf", Port: 1, Alias: "m", Config: cfg}.CommandLine()

	if v, _ := flagValue(cli, "--threads"); v != "6" {
		t.Errorf("expected --threads 6, got %q", v)
	}
	if v, _ := flagValue(cli, "--lora"); v != lora {
		t.Errorf("expected --lora %s, got %q", lora, v)
	}
	if v, _ := flagValue(cli, "--tensor-split"); v != "0.5,0.25" {
		t.Errorf("expected --tensor-split 0.5,0.25, got %q", v)
	}
	if v, _ := flagValue(cli, "--alias"); v != "m" {
		t.Errorf("expected --alias m, got %q", v)
	}
	if !slices.Contains(cli, "--no-mmap") || !slices.Contains(cli, "--mlock") {
		t.Errorf("expected --no-mmap and --mlock, got %v", cli)
	}
	if len(ignored) != 0 {
		t.Errorf("expected no ignored options, got %v", ignored)
	}
}

func TestCommandLineReportsLoraBase(t *testing.T) {
	cfg := models.DefaultModelConfiguration()
	cfg.LowVRAM = false
	lora, base := "/models/adapter.bin", "/models/base.gguf"
	cfg.LoraPath = &lora
	cfg.LoraBase = &base

	cli, ignored := ServeArgs{ModelPath: "m.gguf", Port: 1, Config: cfg}.CommandLine()

	if slices.Contains(cli, "--lora-base") {
		t.Errorf("expected --lora-base to be omitted, got %v", cli)
	}
	if v, _ := flagValue(cli, "--lora"); v != lora {
		t.Errorf("expected --lora %s, got %q", lora, v)
	}
	if !slices.Equal(ignored, []string{"lora_base"}) {
		t.Errorf("expected lora_base to be reported as ignored, got %v", ignored)
	}
}
