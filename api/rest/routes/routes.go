package routes

import (
	"net/http"
	"strings"

	"llm-endpoint-orchestrator/api/rest/handlers"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"k8s.io/klog/v2"
)

// SetupRoutes configures all API routes. When stage is set the inference
// routes are also served under /{stage}, for reverse-proxy mounting.
func SetupRoutes(r *mux.Router, svc handlers.InferenceService, stage string, gatherer prometheus.Gatherer) {
	r.Use(requestLogger)

	h := handlers.NewInferenceHandler(svc)
	register(r, h)

	if stage = strings.Trim(stage, "/"); stage != "" {
		r.HandleFunc("/"+stage, h.Route).Methods("POST")
		register(r.PathPrefix("/"+stage).Subrouter(), h)
	}

	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods("GET")
	}
}

func register(r *mux.Router, h *handlers.InferenceHandler) {
	r.HandleFunc("/ping", h.Ping).Methods("GET")
	r.HandleFunc("/", h.Route).Methods("POST")
	r.HandleFunc("/configure", h.Configure).Methods("POST")
	r.HandleFunc("/invoke", h.Invoke).Methods("POST")
	r.HandleFunc("/invocations", h.Invocations).Methods("POST")
	r.HandleFunc("/invocations-response-stream", h.InvocationsResponseStream).Methods("POST")
}

// requestLogger attaches a request-scoped logger to the request context
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger := klog.FromContext(r.Context()).WithValues("method", r.Method, "path", r.URL.Path)
		logger.V(3).Info("Handling request")
		next.ServeHTTP(w, r.WithContext(klog.NewContext(r.Context(), logger)))
	})
}
