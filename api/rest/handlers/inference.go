package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"llm-endpoint-orchestrator/core/inference"
	"llm-endpoint-orchestrator/core/models"
	"llm-endpoint-orchestrator/core/monitoring"

	"k8s.io/klog/v2"
)

// Largest request body accepted
const maxBodyBytes = 1 << 20

// InferenceService is the model service behind the HTTP surface
type InferenceService interface {
	Configure(ctx context.Context, cfg models.ModelConfiguration) error
	Infer(ctx context.Context, req models.InferenceRequest) (*inference.Completion, error)
	InferStream(ctx context.Context, req models.InferenceRequest) (inference.TokenStream, error)
}

// InferenceHandler handles configure and inference HTTP requests
type InferenceHandler struct {
	svc InferenceService
}

// NewInferenceHandler creates a new inference handler
func NewInferenceHandler(svc InferenceService) *InferenceHandler {
	return &InferenceHandler{svc: svc}
}

// ErrorResponse is the diagnostic payload returned on failure
type ErrorResponse struct {
	TracebackErr string `json:"traceback_err"`
	ErrorType    string `json:"error_type"`
}

// GeneratedText is one element of an inference response
type GeneratedText struct {
	GeneratedText string `json:"generated_text"`
}

// Ping handles GET /ping
func (h *InferenceHandler) Ping(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// Route handles POST /, the configure-or-inference envelope
func (h *InferenceHandler) Route(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	h.dispatch(w, r, body, statusFor)
}

// Configure handles POST /configure
func (h *InferenceHandler) Configure(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	cfg, err := models.DecodeModelConfiguration(body)
	if err != nil {
		writeError(w, r, statusFor(err), err)
		return
	}
	h.configure(w, r, cfg, statusFor)
}

// Invoke handles POST /invoke
func (h *InferenceHandler) Invoke(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	req, err := models.DecodeInferenceRequest(body)
	if err != nil {
		writeError(w, r, statusFor(err), err)
		return
	}
	h.infer(w, r, req, statusFor)
}

// Invocations handles POST /invocations. The body is the hosting platform
// shape, or the native envelope used to configure a hosted endpoint.
// Failures are reported with 408.
func (h *InferenceHandler) Invocations(w http.ResponseWriter, r *http.Request) {
	h.invocations(w, r, false)
}

// InvocationsResponseStream handles POST /invocations-response-stream,
// which always streams
func (h *InferenceHandler) InvocationsResponseStream(w http.ResponseWriter, r *http.Request) {
	h.invocations(w, r, true)
}

func (h *InferenceHandler) invocations(w http.ResponseWriter, r *http.Request, forceStream bool) {
	body, err := readBody(r)
	if err != nil {
		writeError(w, r, http.StatusRequestTimeout, err)
		return
	}
	if models.IsEnvelope(body) {
		h.dispatch(w, r, body, timeoutStatus)
		return
	}

	var hr models.HostingRequest
	if err := json.Unmarshal(body, &hr); err != nil {
		writeError(w, r, http.StatusRequestTimeout, &models.BadRequestError{Reason: "invalid request body: " + err.Error()})
		return
	}
	req, err := hr.ToInferenceRequest()
	if err != nil {
		writeError(w, r, http.StatusRequestTimeout, err)
		return
	}
	if forceStream {
		req.Stream = true
	}
	h.infer(w, r, req, timeoutStatus)
}

func (h *InferenceHandler) dispatch(w http.ResponseWriter, r *http.Request, body []byte, status func(error) int) {
	decoded, err := models.DecodeRequest(body)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	if decoded.Configure != nil {
		h.configure(w, r, *decoded.Configure, status)
		return
	}
	h.infer(w, r, *decoded.Inference, status)
}

func (h *InferenceHandler) configure(w http.ResponseWriter, r *http.Request, cfg models.ModelConfiguration, status func(error) int) {
	if err := h.svc.Configure(r.Context(), cfg); err != nil {
		writeError(w, r, status(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (h *InferenceHandler) infer(w http.ResponseWriter, r *http.Request, req models.InferenceRequest, status func(error) int) {
	if req.Stream {
		h.stream(w, r, req, status)
		return
	}

	completion, err := h.svc.Infer(r.Context(), req)
	if err != nil {
		writeError(w, r, status(err), err)
		return
	}
	out := make([]GeneratedText, len(completion.Choices))
	for i, choice := range completion.Choices {
		out[i] = GeneratedText{GeneratedText: choice.Text}
	}
	writeJSON(w, http.StatusOK, out)
}

// stream writes tokens as plain text chunks. The generation is bound to
// the request context, so it stops when the client disconnects.
func (h *InferenceHandler) stream(w http.ResponseWriter, r *http.Request, req models.InferenceRequest, status func(error) int) {
	logger := klog.FromContext(r.Context())

	tokens, err := h.svc.InferStream(r.Context(), req)
	if err != nil {
		writeError(w, r, status(err), err)
		return
	}
	defer tokens.Close()

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	rc := http.NewResponseController(w)

	for tokens.Next() {
		if _, err := io.WriteString(w, tokens.Current()); err != nil {
			logger.V(1).Info("Client went away during stream", "err", err)
			return
		}
		if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
			logger.V(1).Info("Failed to flush stream", "err", err)
			return
		}
	}
	if err := tokens.Err(); err != nil {
		if r.Context().Err() != nil {
			logger.V(1).Info("Stream cancelled by client")
			return
		}
		// Headers are already out; the status can no longer change
		logger.Error(err, "Stream ended with error")
	}
}

// statusFor maps an error to the status returned by /, /configure and
// /invoke
func statusFor(err error) int {
	var (
		cfgErr    *models.ConfigurationError
		notCfgErr *models.NotConfiguredError
		badReqErr *models.BadRequestError
		fetchErr  *models.DownstreamFetchError
	)
	switch {
	case errors.As(err, &cfgErr), errors.As(err, &notCfgErr), errors.As(err, &badReqErr):
		return http.StatusBadRequest
	case errors.As(err, &fetchErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// timeoutStatus is the status used by the hosting platform routes. Envelope
// errors stay 400.
func timeoutStatus(err error) int {
	var badReqErr *models.BadRequestError
	if errors.As(err, &badReqErr) {
		return http.StatusBadRequest
	}
	return http.StatusRequestTimeout
}

func readBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return nil, &models.BadRequestError{Reason: "failed to read request body: " + err.Error()}
	}
	if len(body) > maxBodyBytes {
		return nil, &models.BadRequestError{Reason: "request body too large"}
	}
	return body, nil
}

func writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	klog.FromContext(r.Context()).Error(err, "Request failed", "status", status)
	writeJSON(w, status, ErrorResponse{
		TracebackErr: err.Error(),
		ErrorType:    monitoring.ResultLabel(err),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
