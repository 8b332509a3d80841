package models

import (
	"errors"
	"testing"
)

func TestDecodeRequestRejectsAmbiguousEnvelope(t *testing.T) {
	bodies := []string{
		`{"configure": true, "inference": true, "args": {}}`,
		`{"configure": false, "inference": false, "args": {}}`,
		`{"args": {"prompt": "hi"}}`,
		`not json`,
	}
	for _, body := range bodies {
		_, err := DecodeRequest([]byte(body))
		var badReq *BadRequestError
		if !errors.As(err, &badReq) {
			t.Errorf("expected BadRequestError for %s, got %v", body, err)
		}
	}
}

func TestDecodeRequestVariants(t *testing.T) {
	cfgReq, err := DecodeRequest([]byte(`{"configure": true, "args": {"bucket": "m", "key": "model.bin", "n_ctx": 4096}}`))
	if err != nil {
		t.Fatalf("decode configure: %v", err)
	}
	if cfgReq.Configure == nil || cfgReq.Inference != nil {
		t.Fatalf("expected configure variant, got %+v", cfgReq)
	}
	if cfgReq.Configure.Bucket != "m" || cfgReq.Configure.NCtx != 4096 || cfgReq.Configure.Seed != 1337 {
		t.Errorf("expected args over defaults, got %+v", cfgReq.Configure)
	}

	infReq, err := DecodeRequest([]byte(`{"inference": true, "args": {"prompt": "Hello", "max_tokens": 8}}`))
	if err != nil {
		t.Fatalf("decode inference: %v", err)
	}
	if infReq.Inference == nil || infReq.Configure != nil {
		t.Fatalf("expected inference variant, got %+v", infReq)
	}
	if infReq.Inference.MaxTokens != 8 {
		t.Errorf("expected max_tokens 8, got %d", infReq.Inference.MaxTokens)
	}
}

func TestConfigureEnvelopeRoundTrip(t *testing.T) {
	cfg := DefaultModelConfiguration()
	cfg.Bucket = "m"
	cfg.Key = "model.bin"

	raw, err := NewConfigureEnvelope(cfg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !IsEnvelope(raw) {
		t.Errorf("expected encoded envelope to be recognised")
	}
	req, err := DecodeRequest(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if req.Configure == nil || req.Configure.Bucket != "m" || req.Configure.Key != "model.bin" {
		t.Errorf("unexpected configure variant %+v", req.Configure)
	}
	if IsEnvelope([]byte(`{"inputs": "Hello"}`)) {
		t.Errorf("expected hosting request not to be treated as an envelope")
	}
}
