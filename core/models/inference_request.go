package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// InferenceRequest holds the parameters of one generation call.
// It never mutates service state.
type InferenceRequest struct {
	Prompt           *string       `json:"prompt"`
	Suffix           *string       `json:"suffix,omitempty"`
	MaxTokens        int           `json:"max_tokens"`
	Temperature      float64       `json:"temperature"`
	TopP             float64       `json:"top_p"`
	Logprobs         *int          `json:"logprobs,omitempty"`
	Echo             bool          `json:"echo"`
	Stop             StopSequences `json:"stop"`
	FrequencyPenalty float64       `json:"frequency_penalty"`
	PresencePenalty  float64       `json:"presence_penalty"`
	RepeatPenalty    float64       `json:"repeat_penalty"`
	TopK             int           `json:"top_k"`
	Stream           bool          `json:"stream"`
	TfsZ             float64       `json:"tfs_z"`
	MirostatMode     int           `json:"mirostat_mode"`
	MirostatTau      float64       `json:"mirostat_tau"`
	MirostatEta      float64       `json:"mirostat_eta"`
	Model            *string       `json:"model,omitempty"`
}

// DefaultInferenceRequest returns the sampling defaults
func DefaultInferenceRequest() InferenceRequest {
	return InferenceRequest{
		MaxTokens:     600,
		Temperature:   0.7,
		TopP:          0.95,
		Stop:          StopSequences{},
		RepeatPenalty: 1.1,
		TopK:          40,
		TfsZ:          1,
		MirostatTau:   5,
		MirostatEta:   0.1,
	}
}

// DecodeInferenceRequest decodes raw JSON arguments over the defaults
func DecodeInferenceRequest(raw []byte) (InferenceRequest, error) {
	req := DefaultInferenceRequest()
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &req); err != nil {
			return InferenceRequest{}, &BadRequestError{Reason: "invalid inference arguments: " + err.Error()}
		}
	}
	if err := req.Validate(); err != nil {
		return InferenceRequest{}, err
	}
	return req, nil
}

// Validate checks the fields that have no usable default
func (r *InferenceRequest) Validate() error {
	if r.Prompt == nil {
		return &BadRequestError{Reason: "prompt is required"}
	}
	if r.MaxTokens < 0 {
		return &BadRequestError{Reason: "max_tokens must not be negative"}
	}
	return nil
}

// StopSequences accepts either a single string or a list of strings
type StopSequences []string

// UnmarshalJSON implements json.Unmarshaler
func (s *StopSequences) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*s = StopSequences{}
		return nil
	}

	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*s = StopSequences{single}
		return nil
	}

	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("all elements in the stop list must be strings")
	}
	*s = list
	return nil
}

// HostingRequest is the request shape the managed inference platform sends
// to /invocations.
type HostingRequest struct {
	Inputs     *string                    `json:"inputs"`
	Parameters map[string]json.RawMessage `json:"parameters"`
}

const defaultHostingMaxTokens = 1024

// inferenceFields lists the parameters forwarded from a hosting request
var inferenceFields = map[string]struct{}{
	"prompt": {}, "suffix": {}, "max_tokens": {}, "temperature": {}, "top_p": {},
	"logprobs": {}, "echo": {}, "stop": {}, "frequency_penalty": {},
	"presence_penalty": {}, "repeat_penalty": {}, "top_k": {}, "stream": {},
	"tfs_z": {}, "mirostat_mode": {}, "mirostat_tau": {}, "mirostat_eta": {},
}

// ToInferenceRequest repacks the hosting shape into native inference
// arguments: inputs becomes the prompt, max_new_tokens becomes max_tokens
// (default 1024) and unknown parameters are dropped.
func (h *HostingRequest) ToInferenceRequest() (InferenceRequest, error) {
	args := make(map[string]json.RawMessage, len(h.Parameters)+2)
	for name, value := range h.Parameters {
		if _, ok := inferenceFields[name]; ok {
			args[name] = value
		}
	}

	if h.Inputs != nil {
		prompt, _ := json.Marshal(*h.Inputs)
		args["prompt"] = prompt
	} else {
		delete(args, "prompt")
	}

	args["max_tokens"] = json.RawMessage(fmt.Sprint(defaultHostingMaxTokens))
	if raw, ok := h.Parameters["max_new_tokens"]; ok {
		// integral floats such as 5.0 are accepted
		var f float64
		if err := json.Unmarshal(raw, &f); err != nil || f != math.Trunc(f) {
			return InferenceRequest{}, &BadRequestError{Reason: "max_new_tokens must be an integer"}
		}
		if n := int(f); n != 0 {
			args["max_tokens"] = json.RawMessage(strconv.Itoa(n))
		}
	}

	raw, err := json.Marshal(args)
	if err != nil {
		return InferenceRequest{}, err
	}
	return DecodeInferenceRequest(raw)
}
