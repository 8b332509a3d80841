package llamacpp

import (
	"fmt"
	"strconv"
	"strings"

	"llm-endpoint-orchestrator/core/models"
)

// ServeArgs describes one llama-server process
type ServeArgs struct {
	ModelPath string // required
	Port      int
	Alias     string
	Config    models.ModelConfiguration
}

// CommandLine renders the llama-server flags for args.
// Loader options without a server flag (f16_kv, low_vram, logits_all,
// vocab_only, n_parts, lora_base) are reported in the second return value.
func (args ServeArgs) CommandLine() ([]string, []string) {
	cfg := args.Config
	cli := []string{
		"--model", args.ModelPath,
		"--host", "127.0.0.1",
		"--port", strconv.Itoa(args.Port),
		"--ctx-size", strconv.Itoa(cfg.NCtx),
		"--n-gpu-layers", strconv.Itoa(cfg.NGPULayers),
		"--seed", strconv.Itoa(cfg.Seed),
		"--batch-size", strconv.Itoa(cfg.NBatch),
		"--repeat-last-n", strconv.Itoa(cfg.LastNTokensSize),
		"--rope-freq-base", formatFloat(cfg.RopeFreqBase),
		"--rope-freq-scale", formatFloat(cfg.RopeFreqScale),
	}

	if args.Alias != "" {
		cli = append(cli, "--alias", args.Alias)
	}
	if cfg.NThreads != nil {
		cli = append(cli, "--threads", strconv.Itoa(*cfg.NThreads))
	}
	if cfg.LoraPath != nil {
		cli = append(cli, "--lora", *cfg.LoraPath)
	}
	if !cfg.UseMmap {
		cli = append(cli, "--no-mmap")
	}
	if cfg.UseMlock {
		cli = append(cli, "--mlock")
	}
	if cfg.Embedding {
		cli = append(cli, "--embedding")
	}
	if len(cfg.TensorSplit) > 0 {
		parts := make([]string, len(cfg.TensorSplit))
		for i, v := range cfg.TensorSplit {
			parts[i] = formatFloat(v)
		}
		cli = append(cli, "--tensor-split", strings.Join(parts, ","))
	}
	if cfg.Verbose {
		cli = append(cli, "--verbose")
	}

	var ignored []string
	if !cfg.F16KV {
		ignored = append(ignored, "f16_kv")
	}
	if cfg.LowVRAM {
		ignored = append(ignored, "low_vram")
	}
	if cfg.LogitsAll {
		ignored = append(ignored, "logits_all")
	}
	if cfg.VocabOnly {
		ignored = append(ignored, "vocab_only")
	}
	if cfg.NParts != -1 {
		ignored = append(ignored, fmt.Sprintf("n_parts=%d", cfg.NParts))
	}
	if cfg.LoraBase != nil {
		ignored = append(ignored, "lora_base")
	}
	return cli, ignored
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
