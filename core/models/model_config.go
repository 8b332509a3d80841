package models

import (
	"bytes"
	"encoding/json"
	"net/url"
	"strings"
)

// ModelConfiguration describes which model to load and how to load it.
// Field names follow the llama.cpp loader parameters.
type ModelConfiguration struct {
	// Source, exactly one of: ModelPath, Bucket+Key, URL.
	// A ModelPath that parses as a URL is treated as a URL source.
	ModelPath string `json:"model_path,omitempty"`
	Bucket    string `json:"bucket,omitempty"`
	Key       string `json:"key,omitempty"`
	URL       string `json:"url,omitempty"`

	NCtx            int       `json:"n_ctx"`
	NParts          int       `json:"n_parts"`
	NGPULayers      int       `json:"n_gpu_layers"`
	Seed            int       `json:"seed"`
	F16KV           bool      `json:"f16_kv"`
	LogitsAll       bool      `json:"logits_all"`
	VocabOnly       bool      `json:"vocab_only"`
	UseMmap         bool      `json:"use_mmap"`
	UseMlock        bool      `json:"use_mlock"`
	Embedding       bool      `json:"embedding"`
	NThreads        *int      `json:"n_threads"`
	NBatch          int       `json:"n_batch"`
	LastNTokensSize int       `json:"last_n_tokens_size"`
	LoraBase        *string   `json:"lora_base"`
	LoraPath        *string   `json:"lora_path"`
	LowVRAM         bool      `json:"low_vram"`
	TensorSplit     []float64 `json:"tensor_split"`
	RopeFreqBase    float64   `json:"rope_freq_base"`
	RopeFreqScale   float64   `json:"rope_freq_scale"`
	Verbose         bool      `json:"verbose"`
}

// DefaultModelConfiguration returns the loader defaults. Decode requests on
// top of it so omitted fields keep their default value.
func DefaultModelConfiguration() ModelConfiguration {
	return ModelConfiguration{
		NCtx:            2048,
		NParts:          -1,
		NGPULayers:      0,
		Seed:            1337,
		F16KV:           true,
		UseMmap:         true,
		NBatch:          512,
		LastNTokensSize: 128,
		LowVRAM:         true,
		RopeFreqBase:    10000,
		RopeFreqScale:   1,
	}
}

// DecodeModelConfiguration decodes raw JSON over the loader defaults
func DecodeModelConfiguration(raw []byte) (ModelConfiguration, error) {
	cfg := DefaultModelConfiguration()
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null")) {
		if err := json.Unmarshal(trimmed, &cfg); err != nil {
			return ModelConfiguration{}, &BadRequestError{Reason: "invalid model configuration: " + err.Error()}
		}
	}
	return cfg, nil
}

// SourceKind identifies where model weights come from
type SourceKind string

const (
	SourcePath   SourceKind = "path"
	SourceObject SourceKind = "object"
	SourceURL    SourceKind = "url"
)

// ModelSource is the single resolved location of the model weights
type ModelSource struct {
	Kind   SourceKind
	Path   string
	Bucket string
	Key    string
	URL    string
}

// String renders the source the way it appears in logs and errors
func (s ModelSource) String() string {
	switch s.Kind {
	case SourceObject:
		return "s3://" + s.Bucket + "/" + s.Key
	case SourceURL:
		return s.URL
	default:
		return s.Path
	}
}

// ResolveSource validates that exactly one model source is set and returns it.
func (c *ModelConfiguration) ResolveSource() (ModelSource, error) {
	var sources []ModelSource

	if c.Bucket != "" || c.Key != "" {
		if c.Bucket == "" || c.Key == "" {
			return ModelSource{}, &ConfigurationError{Reason: "bucket and key must be provided together"}
		}
		sources = append(sources, ModelSource{Kind: SourceObject, Bucket: c.Bucket, Key: c.Key})
	}

	if c.ModelPath != "" {
		if IsURL(c.ModelPath) {
			sources = append(sources, ModelSource{Kind: SourceURL, URL: c.ModelPath})
		} else {
			sources = append(sources, ModelSource{Kind: SourcePath, Path: c.ModelPath})
		}
	}

	if c.URL != "" {
		if !IsURL(c.URL) {
			return ModelSource{}, &ConfigurationError{Reason: "url must be an absolute URL with scheme and host"}
		}
		sources = append(sources, ModelSource{Kind: SourceURL, URL: c.URL})
	}

	switch len(sources) {
	case 0:
		return ModelSource{}, &ConfigurationError{Reason: "model path must be provided when S3 bucket and key are not specified"}
	case 1:
		return sources[0], nil
	default:
		kinds := make([]string, len(sources))
		for i, s := range sources {
			kinds[i] = string(s.Kind)
		}
		return ModelSource{}, &ConfigurationError{Reason: "conflicting model sources: " + strings.Join(kinds, ", ")}
	}
}

// IsURL reports whether s has both a scheme and a host
func IsURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return u.Scheme != "" && u.Host != ""
}
