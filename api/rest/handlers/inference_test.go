package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"llm-endpoint-orchestrator/core/inference"
	"llm-endpoint-orchestrator/core/models"

	"github.com/gorilla/mux"
)

type fakeModel struct{}

func (fakeModel) Complete(ctx context.Context, req models.InferenceRequest) (*inference.Completion, error) {
	return &inference.Completion{Choices: []inference.Choice{{Text: "echo " + *req.Prompt}}}, nil
}

func (fakeModel) Stream(ctx context.Context, req models.InferenceRequest) (inference.TokenStream, error) {
	return &sliceStream{tokens: []string{"echo", " ", *req.Prompt}}, nil
}

func (fakeModel) Close() error { return nil }

type sliceStream struct {
	tokens []string
	pos    int
}

func (s *sliceStream) Next() bool {
	if s.pos >= len(s.tokens) {
		return false
	}
	s.pos++
	return true
}

func (s *sliceStream) Current() string { return s.tokens[s.pos-1] }
func (s *sliceStream) Err() error      { return nil }
func (s *sliceStream) Close() error    { return nil }

type fakeLoader struct {
	mu    sync.Mutex
	specs []inference.LoadSpec
}

func (l *fakeLoader) Load(ctx context.Context, spec inference.LoadSpec) (inference.Model, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.specs = append(l.specs, spec)
	return fakeModel{}, nil
}

type fakeFetcher struct {
	mu      sync.Mutex
	objects [][2]string
	err     error
}

func (f *fakeFetcher) FetchObject(ctx context.Context, bucket, key, dst string) error {
	f.mu.Lock()
	f.objects = append(f.objects, [2]string{bucket, key})
	f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	return os.WriteFile(dst, []byte("weights"), 0o644)
}

func (f *fakeFetcher) FetchURL(ctx context.Context, rawURL, dst string) error {
	if f.err != nil {
		return f.err
	}
	return os.WriteFile(dst, []byte("weights"), 0o644)
}

func newTestRouter(t *testing.T) (*mux.Router, *fakeFetcher) {
	t.Helper()
	fetcher := &fakeFetcher{}
	svc := inference.NewService(&fakeLoader{}, fetcher, t.TempDir(), nil)
	t.Cleanup(func() { svc.Close(context.Background()) })

	h := NewInferenceHandler(svc)
	r := mux.NewRouter()
	r.HandleFunc("/ping", h.Ping).Methods("GET")
	r.HandleFunc("/", h.Route).Methods("POST")
	r.HandleFunc("/configure", h.Configure).Methods("POST")
	r.HandleFunc("/invoke", h.Invoke).Methods("POST")
	r.HandleFunc("/invocations", h.Invocations).Methods("POST")
	r.HandleFunc("/invocations-response-stream", h.InvocationsResponseStream).Methods("POST")
	return r, fetcher
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	return resp
}

func TestPing(t *testing.T) {
	r, _ := newTestRouter(t)
	rec := do(r, "GET", "/ping", "")
	if rec.Code != http.StatusOK || rec.Body.Len() != 0 {
		t.Errorf("expected empty 200, got %d %q", rec.Code, rec.Body.String())
	}
}

func TestConfigureFromBucket(t *testing.T) {
	r, fetcher := newTestRouter(t)

	rec := do(r, "POST", "/configure", `{"bucket":"m","key":"model.bin"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if strings.TrimSpace(rec.Body.String()) != `{"status":"success"}` {
		t.Errorf("expected success payload, got %s", rec.Body.String())
	}
	if len(fetcher.objects) != 1 || fetcher.objects[0] != [2]string{"m", "model.bin"} {
		t.Errorf("expected fetch of (m, model.bin), got %v", fetcher.objects)
	}
}

func TestConfigureErrors(t *testing.T) {
	r, fetcher := newTestRouter(t)

	rec := do(r, "POST", "/configure", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without a source, got %d", rec.Code)
	}
	if resp := decodeError(t, rec); resp.ErrorType != "configuration_error" || resp.TracebackErr == "" {
		t.Errorf("unexpected error payload %+v", resp)
	}

	fetcher.err = errors.New("access denied")
	rec = do(r, "POST", "/configure", `{"bucket":"m","key":"model.bin"}`)
	if rec.Code != http.StatusBadGateway {
		t.Errorf("expected 502 on fetch failure, got %d", rec.Code)
	}
	if resp := decodeError(t, rec); resp.ErrorType != "fetch_error" {
		t.Errorf("expected fetch_error, got %s", resp.ErrorType)
	}
}

func TestInvokeBeforeConfigure(t *testing.T) {
	r, _ := newTestRouter(t)
	rec := do(r, "POST", "/invoke", `{"prompt":"Hello"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
	if resp := decodeError(t, rec); resp.ErrorType != "not_configured" {
		t.Errorf("expected not_configured, got %s", resp.ErrorType)
	}
}

func TestInvocationsBeforeConfigure(t *testing.T) {
	r, _ := newTestRouter(t)
	rec := do(r, "POST", "/invocations", `{"inputs":"Hello","parameters":{"max_new_tokens":5}}`)
	if rec.Code != http.StatusRequestTimeout {
		t.Errorf("expected 408, got %d", rec.Code)
	}
	if resp := decodeError(t, rec); resp.TracebackErr == "" {
		t.Errorf("expected diagnostic message")
	}
}

func TestEnvelopeWithBothFlags(t *testing.T) {
	r, _ := newTestRouter(t)
	for _, path := range []string{"/", "/invocations"} {
		rec := do(r, "POST", path, `{"configure": true, "inference": true, "args": {}}`)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", path, rec.Code)
		}
		if resp := decodeError(t, rec); !strings.Contains(resp.TracebackErr, "either 'configure' or 'inference'") {
			t.Errorf("%s: unexpected message %q", path, resp.TracebackErr)
		}
	}
}

func TestEnvelopeConfigureThenInvoke(t *testing.T) {
	r, _ := newTestRouter(t)

	// hosted endpoints are configured through /invocations
	rec := do(r, "POST", "/invocations", `{"configure":true,"args":{"bucket":"m","key":"model.bin"}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = do(r, "POST", "/", `{"inference":true,"args":{"prompt":"Hi"}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var out []GeneratedText
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != 1 || out[0].GeneratedText != "echo Hi" {
		t.Errorf("unexpected output %+v", out)
	}
}

func TestInvocationsHostingShape(t *testing.T) {
	r, _ := newTestRouter(t)
	if rec := do(r, "POST", "/configure", `{"bucket":"m","key":"model.bin"}`); rec.Code != http.StatusOK {
		t.Fatalf("configure: %d", rec.Code)
	}

	rec := do(r, "POST", "/invocations", `{"inputs":"Hello","parameters":{"max_new_tokens":5,"unknown":1}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if strings.TrimSpace(rec.Body.String()) != `[{"generated_text":"echo Hello"}]` {
		t.Errorf("unexpected body %s", rec.Body.String())
	}

	rec = do(r, "POST", "/invocations", `{"inputs":"Hello","parameters":{"stream":true}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for stream, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("expected text/plain stream, got %s", ct)
	}
	if rec.Body.String() != "echo Hello" {
		t.Errorf("expected streamed text, got %q", rec.Body.String())
	}

	rec = do(r, "POST", "/invocations-response-stream", `{"inputs":"Yo","parameters":{}}`)
	if rec.Body.String() != "echo Yo" {
		t.Errorf("expected forced stream, got %q", rec.Body.String())
	}
}

func TestInvocationsMalformedBody(t *testing.T) {
	r, _ := newTestRouter(t)
	rec := do(r, "POST", "/invocations", `not json`)
	if rec.Code != http.StatusRequestTimeout {
		t.Errorf("expected 408, got %d", rec.Code)
	}
}

// pendingStream yields one token and then blocks until its context ends
type pendingStream struct {
	ctx     context.Context
	pos     int
	waiting chan struct{}
	closed  atomic.Bool
}

func (s *pendingStream) Next() bool {
	s.pos++
	if s.pos == 1 {
		return true
	}
	close(s.waiting)
	<-s.ctx.Done()
	return false
}

func (s *pendingStream) Current() string { return "partial" }
func (s *pendingStream) Err() error      { return s.ctx.Err() }

func (s *pendingStream) Close() error {
	s.closed.Store(true)
	return nil
}

type pendingService struct {
	waiting chan struct{}
	stream  *pendingStream
}

func (p *pendingService) Configure(ctx context.Context, cfg models.ModelConfiguration) error {
	return nil
}

func (p *pendingService) Infer(ctx context.Context, req models.InferenceRequest) (*inference.Completion, error) {
	return nil, errors.New("not used")
}

func (p *pendingService) InferStream(ctx context.Context, req models.InferenceRequest) (inference.TokenStream, error) {
	p.stream = &pendingStream{ctx: ctx, waiting: p.waiting}
	return p.stream, nil
}

func TestStreamClosedWhenClientDisconnects(t *testing.T) {
	svc := &pendingService{waiting: make(chan struct{})}
	h := NewInferenceHandler(svc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req := httptest.NewRequest("POST", "/invocations-response-stream", strings.NewReader(`{"inputs":"Hi"}`)).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.InvocationsResponseStream(rec, req)
	}()

	select {
	case <-svc.waiting:
	case <-time.After(5 * time.Second):
		t.Fatalf("stream never started")
	}
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("handler did not return after the client went away")
	}
	if !svc.stream.closed.Load() {
		t.Errorf("expected upstream stream to be closed")
	}
	if rec.Body.String() != "partial" {
		t.Errorf("expected partial output before disconnect, got %q", rec.Body.String())
	}
}
