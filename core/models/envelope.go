package models

import (
	"bytes"
	"encoding/json"
)

// Envelope is the multiplexed request accepted on the root route
type Envelope struct {
	Configure bool            `json:"configure"`
	Inference bool            `json:"inference"`
	Args      json.RawMessage `json:"args,omitempty"`
}

// Request holds exactly one decoded request variant
type Request struct {
	Configure *ModelConfiguration
	Inference *InferenceRequest
}

// DecodeRequest decodes an envelope into its single variant. Setting both
// discriminators, or neither, is a BadRequestError.
func DecodeRequest(raw []byte) (Request, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Request{}, &BadRequestError{Reason: "invalid request envelope: " + err.Error()}
	}
	if env.Configure == env.Inference {
		return Request{}, &BadRequestError{Reason: "Please specify either 'configure' or 'inference'"}
	}

	if env.Configure {
		cfg, err := DecodeModelConfiguration(env.Args)
		if err != nil {
			return Request{}, err
		}
		return Request{Configure: &cfg}, nil
	}

	req, err := DecodeInferenceRequest(env.Args)
	if err != nil {
		return Request{}, err
	}
	return Request{Inference: &req}, nil
}

// IsEnvelope reports whether raw is a JSON object carrying either
// discriminator, as opposed to a hosting-platform request.
func IsEnvelope(raw []byte) bool {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(bytes.TrimSpace(raw), &probe); err != nil {
		return false
	}
	_, configure := probe["configure"]
	_, inference := probe["inference"]
	return configure || inference
}

// NewConfigureEnvelope wraps a configuration so it can be sent through an
// endpoint that only exposes the invocation route.
func NewConfigureEnvelope(cfg ModelConfiguration) ([]byte, error) {
	args, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Configure: true, Args: args})
}
