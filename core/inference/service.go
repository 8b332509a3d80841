package inference

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"llm-endpoint-orchestrator/core/models"
	"llm-endpoint-orchestrator/core/monitoring"

	"github.com/google/uuid"
	"k8s.io/klog/v2"
)

// State is the configuration state of the service
type State string

const (
	StateUnconfigured State = "UNCONFIGURED"
	StateConfigured   State = "CONFIGURED"
)

// Output modes used for metrics
const (
	ModeComplete = "complete"
	ModeStream   = "stream"
)

// Service holds at most one loaded model instance and swaps it on configure.
//
// Configure calls are serialized: a second call waits for the first to finish
// its download, load and swap. Inference takes a reference to whichever
// instance is current when it starts; a replaced instance is closed once its
// last in-flight call returns.
type Service struct {
	loader   Loader
	fetcher  Fetcher
	cacheDir string
	metrics  *monitoring.MetricsExporter

	configureMu sync.Mutex

	mu      sync.RWMutex
	current *instance
	retired sync.WaitGroup
}

type instance struct {
	model    models.ModelSource
	handle   Model
	artifact string // downloaded file owned by this instance, if any
	loadedAt time.Time
	users    sync.WaitGroup
}

// Status describes the currently loaded model
type Status struct {
	State    State
	Source   string
	LoadedAt *time.Time
}

// NewService creates a service that downloads remote models into cacheDir
func NewService(loader Loader, fetcher Fetcher, cacheDir string, metrics *monitoring.MetricsExporter) *Service {
	return &Service{
		loader:   loader,
		fetcher:  fetcher,
		cacheDir: cacheDir,
		metrics:  metrics,
	}
}

// State returns UNCONFIGURED until the first successful Configure
func (s *Service) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return StateUnconfigured
	}
	return StateConfigured
}

// Status returns the state plus details of the loaded model
func (s *Service) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return Status{State: StateUnconfigured}
	}
	loadedAt := s.current.loadedAt
	return Status{
		State:    StateConfigured,
		Source:   s.current.model.String(),
		LoadedAt: &loadedAt,
	}
}

// Configure loads the model described by cfg and replaces the current one.
// On error the previously loaded model, if any, stays in place.
func (s *Service) Configure(ctx context.Context, cfg models.ModelConfiguration) (err error) {
	defer func() { s.metrics.ObserveConfigure(err) }()

	source, err := cfg.ResolveSource()
	if err != nil {
		return err
	}

	s.configureMu.Lock()
	defer s.configureMu.Unlock()

	logger := klog.FromContext(ctx)
	logger.Info("Configuring model", "source", source.String())

	modelPath, artifact, err := s.materialize(ctx, source)
	if err != nil {
		return err
	}

	handle, err := s.loader.Load(ctx, LoadSpec{ModelPath: modelPath, Config: cfg})
	if err != nil {
		removeArtifact(ctx, artifact)
		return fmt.Errorf("failed to load model from %s: %w", source, err)
	}

	next := &instance{
		model:    source,
		handle:   handle,
		artifact: artifact,
		loadedAt: time.Now(),
	}

	s.mu.Lock()
	prev := s.current
	s.current = next
	s.mu.Unlock()

	s.metrics.SetModelLoaded(true)
	logger.Info("Model loaded", "source", source.String(), "path", modelPath)

	if prev != nil {
		s.retired.Add(1)
		go s.retire(ctx, prev)
	}
	return nil
}

// Infer runs a single, non-streaming generation call
func (s *Service) Infer(ctx context.Context, req models.InferenceRequest) (completion *Completion, err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveInference(ModeComplete, start, err) }()

	inst, err := s.acquire()
	if err != nil {
		return nil, err
	}
	defer inst.users.Done()

	return inst.handle.Complete(ctx, req)
}

// InferStream starts a streaming generation call. The stream is bound to
// ctx: cancelling it ends the stream. Callers must Close the stream.
func (s *Service) InferStream(ctx context.Context, req models.InferenceRequest) (stream TokenStream, err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveInference(ModeStream, start, err) }()

	inst, err := s.acquire()
	if err != nil {
		return nil, err
	}

	inner, err := inst.handle.Stream(ctx, req)
	if err != nil {
		inst.users.Done()
		return nil, err
	}
	return &releasingStream{TokenStream: inner, release: inst.users.Done}, nil
}

// Close unloads the current model and waits for retired models to close
func (s *Service) Close(ctx context.Context) error {
	s.configureMu.Lock()
	defer s.configureMu.Unlock()

	s.mu.Lock()
	prev := s.current
	s.current = nil
	s.mu.Unlock()

	s.metrics.SetModelLoaded(false)
	if prev != nil {
		s.retired.Add(1)
		s.retire(ctx, prev)
	}
	s.retired.Wait()
	return nil
}

func (s *Service) acquire() (*instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return nil, &models.NotConfiguredError{}
	}
	s.current.users.Add(1)
	return s.current, nil
}

// retire waits for in-flight calls on inst and then releases it
func (s *Service) retire(ctx context.Context, inst *instance) {
	defer s.retired.Done()
	logger := klog.FromContext(ctx)

	inst.users.Wait()
	if err := inst.handle.Close(); err != nil {
		logger.Error(err, "Failed to close replaced model", "source", inst.model.String())
	}
	removeArtifact(ctx, inst.artifact)
	logger.V(2).Info("Replaced model released", "source", inst.model.String())
}

// materialize returns a local path for source, downloading it when remote.
// The second return value is the downloaded file, empty for local sources.
func (s *Service) materialize(ctx context.Context, source models.ModelSource) (string, string, error) {
	switch source.Kind {
	case models.SourcePath:
		if _, err := os.Stat(source.Path); err != nil {
			return "", "", &models.ConfigurationError{Reason: fmt.Sprintf("model path %s is not readable: %v", source.Path, err)}
		}
		return source.Path, "", nil

	case models.SourceObject:
		dst, err := s.artifactPath(path.Base(source.Key))
		if err != nil {
			return "", "", err
		}
		if err := s.fetcher.FetchObject(ctx, source.Bucket, source.Key, dst); err != nil {
			removeArtifact(ctx, dst)
			return "", "", &models.DownstreamFetchError{Source: source.String(), Err: err}
		}
		return dst, dst, nil

	case models.SourceURL:
		dst, err := s.artifactPath(urlBase(source.URL))
		if err != nil {
			return "", "", err
		}
		if err := s.fetcher.FetchURL(ctx, source.URL, dst); err != nil {
			removeArtifact(ctx, dst)
			return "", "", &models.DownstreamFetchError{Source: source.String(), Err: err}
		}
		return dst, dst, nil
	}
	return "", "", &models.ConfigurationError{Reason: "unknown model source " + string(source.Kind)}
}

// artifactPath picks a fresh file name so a download never overwrites the
// weights of the model that is still serving.
func (s *Service) artifactPath(base string) (string, error) {
	if err := os.MkdirAll(s.cacheDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create model cache directory: %w", err)
	}
	if base == "" || base == "." || base == "/" {
		base = "model"
	}
	return filepath.Join(s.cacheDir, uuid.NewString()+"-"+base), nil
}

func urlBase(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return path.Base(u.Path)
}

func removeArtifact(ctx context.Context, file string) {
	if file == "" {
		return
	}
	if err := os.Remove(file); err != nil && !errors.Is(err, os.ErrNotExist) {
		klog.FromContext(ctx).Error(err, "Failed to remove model artifact", "path", file)
	}
}

// releasingStream drops the instance reference when the stream is closed
type releasingStream struct {
	TokenStream
	release func()
	once    sync.Once
}

func (r *releasingStream) Close() error {
	err := r.TokenStream.Close()
	r.once.Do(r.release)
	return err
}
