package inference

import (
	"context"

	"llm-endpoint-orchestrator/core/models"
)

// Fetcher downloads model artifacts into a local file
type Fetcher interface {
	FetchObject(ctx context.Context, bucket, key, dst string) error
	FetchURL(ctx context.Context, rawURL, dst string) error
}

// LoadSpec is everything a Loader needs to materialize a model
type LoadSpec struct {
	ModelPath string // local file holding the weights
	Config    models.ModelConfiguration
}

// Loader materializes a model configuration into a loaded model instance
type Loader interface {
	Load(ctx context.Context, spec LoadSpec) (Model, error)
}

// Model is a loaded model instance. Complete and Stream may be called
// concurrently; Close is called once, after all calls have returned.
type Model interface {
	Complete(ctx context.Context, req models.InferenceRequest) (*Completion, error)
	Stream(ctx context.Context, req models.InferenceRequest) (TokenStream, error)
	Close() error
}

// Completion is the result of a non-streaming generation call
type Completion struct {
	Choices []Choice
}

// Choice is one generated alternative
type Choice struct {
	Text         string
	FinishReason string
}

// TokenStream is a finite, non-restartable sequence of text fragments.
//
//	for stream.Next() {
//		fmt.Print(stream.Current())
//	}
//	err := stream.Err()
type TokenStream interface {
	Next() bool
	Current() string
	Err() error
	Close() error
}
