package llamacpp

import (
	"context"

	"llm-endpoint-orchestrator/core/inference"
	"llm-endpoint-orchestrator/core/models"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

// model is a loaded llama-server instance
type model struct {
	client openai.Client
	name   string
	stop   func() error
}

var _ inference.Model = (*model)(nil)

func newModel(baseURL, name string, stop func() error) *model {
	return &model{
		client: openai.NewClient(
			option.WithAPIKey("none"),
			option.WithOrganization(""),
			option.WithProject(""),
			option.WithBaseURL(baseURL),
			option.WithMaxRetries(0),
		),
		name: name,
		stop: stop,
	}
}

func (m *model) Complete(ctx context.Context, req models.InferenceRequest) (*inference.Completion, error) {
	params, opts := m.completionParams(req)
	resp, err := m.client.Completions.New(ctx, params, opts...)
	if err != nil {
		return nil, err
	}

	out := &inference.Completion{Choices: make([]inference.Choice, len(resp.Choices))}
	for i, choice := range resp.Choices {
		out.Choices[i] = inference.Choice{
			Text:         choice.Text,
			FinishReason: string(choice.FinishReason),
		}
	}
	return out, nil
}

func (m *model) Stream(ctx context.Context, req models.InferenceRequest) (inference.TokenStream, error) {
	params, opts := m.completionParams(req)
	stream := m.client.Completions.NewStreaming(ctx, params, opts...)
	if err := stream.Err(); err != nil {
		stream.Close()
		return nil, err
	}
	return &tokenStream{stream: stream}, nil
}

func (m *model) Close() error {
	if m.stop == nil {
		return nil
	}
	return m.stop()
}

// completionParams maps the request onto the completions API. Sampling
// options the OpenAI schema lacks are sent as extra body fields, which
// llama-server understands.
func (m *model) completionParams(req models.InferenceRequest) (openai.CompletionNewParams, []option.RequestOption) {
	maxTokens := int64(req.MaxTokens)
	if maxTokens == 0 {
		// generate until the context is full
		maxTokens = -1
	}

	params := openai.CompletionNewParams{
		Model:            openai.CompletionNewParamsModel(m.name),
		Prompt:           openai.CompletionNewParamsPromptUnion{OfString: openai.String(*req.Prompt)},
		MaxTokens:        openai.Int(maxTokens),
		Temperature:      openai.Float(req.Temperature),
		TopP:             openai.Float(req.TopP),
		FrequencyPenalty: openai.Float(req.FrequencyPenalty),
		PresencePenalty:  openai.Float(req.PresencePenalty),
		Echo:             openai.Bool(req.Echo),
	}
	if req.Suffix != nil {
		params.Suffix = openai.String(*req.Suffix)
	}
	if req.Logprobs != nil {
		params.Logprobs = openai.Int(int64(*req.Logprobs))
	}
	if len(req.Stop) > 0 {
		params.Stop = openai.CompletionNewParamsStopUnion{OfStringArray: []string(req.Stop)}
	}

	opts := []option.RequestOption{
		option.WithJSONSet("top_k", req.TopK),
		option.WithJSONSet("repeat_penalty", req.RepeatPenalty),
		option.WithJSONSet("tfs_z", req.TfsZ),
		option.WithJSONSet("mirostat", req.MirostatMode),
		option.WithJSONSet("mirostat_tau", req.MirostatTau),
		option.WithJSONSet("mirostat_eta", req.MirostatEta),
	}
	return params, opts
}

// completionStream is the part of the SSE stream tokenStream consumes
type completionStream interface {
	Next() bool
	Current() openai.Completion
	Err() error
	Close() error
}

// tokenStream yields the text of each streamed completion chunk
type tokenStream struct {
	stream  completionStream
	current string
}

func (t *tokenStream) Next() bool {
	for t.stream.Next() {
		chunk := t.stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		t.current = chunk.Choices[0].Text
		return true
	}
	return false
}

func (t *tokenStream) Current() string { return t.current }
func (t *tokenStream) Err() error      { return t.stream.Err() }
func (t *tokenStream) Close() error    { return t.stream.Close() }
