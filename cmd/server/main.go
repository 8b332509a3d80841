package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"llm-endpoint-orchestrator/api/rest/routes"
	"llm-endpoint-orchestrator/config"
	"llm-endpoint-orchestrator/core/inference"
	"llm-endpoint-orchestrator/core/monitoring"
	awsprovider "llm-endpoint-orchestrator/providers/aws"
	"llm-endpoint-orchestrator/providers/llamacpp"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"
	"k8s.io/klog/v2"
)

func main() {
	cfg := config.Load()

	klog.InitFlags(flag.CommandLine)
	pflag.CommandLine.AddGoFlagSet(flag.CommandLine)
	pflag.CommandLine.StringVar(&cfg.ServerPort, "port", cfg.ServerPort, "Port for the HTTP server")
	pflag.CommandLine.StringVar(&cfg.Stage, "stage", cfg.Stage, "Optional route prefix")
	pflag.CommandLine.StringVar(&cfg.ModelPath, "model-cache", cfg.ModelPath, "Directory downloaded models are stored in")
	pflag.CommandLine.StringVar(&cfg.LlamaServerBin, "llama-server", cfg.LlamaServerBin, "Path of the llama-server binary")
	pflag.CommandLine.IntVar(&cfg.LlamaServerBasePort, "llama-server-base-port", cfg.LlamaServerBasePort, "First port handed to llama-server processes")
	pflag.CommandLine.DurationVar(&cfg.LlamaServerReadyTimeout, "llama-server-ready-timeout", cfg.LlamaServerReadyTimeout, "How long to wait for a model to load")
	pflag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	logger := klog.FromContext(ctx)

	pflag.CommandLine.VisitAll(func(f *pflag.Flag) {
		logger.V(1).Info("Flag", "name", f.Name, "value", f.Value.String())
	})

	awsClient, err := awsprovider.NewClient(ctx, cfg.AWSRegion)
	if err != nil {
		klog.Fatalf("Failed to load AWS configuration: %v", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := monitoring.NewMetricsExporter(reg)

	loader := llamacpp.NewLoader(cfg.LlamaServerBin, cfg.LlamaServerBasePort, cfg.LlamaServerReadyTimeout)
	svc := inference.NewService(loader, awsClient.ArtifactStore(), cfg.ModelPath, metrics)

	r := mux.NewRouter()
	routes.SetupRoutes(r, svc, cfg.Stage, reg)

	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Starting server", "port", cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			klog.Fatalf("Server failed to start: %v", err)
		}
	}()

	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		logger.V(1).Info("Failed to notify systemd", "err", err)
	}

	<-ctx.Done()
	status := svc.Status()
	logger.Info("Shutting down server...", "state", status.State, "model", status.Source)
	daemon.SdNotify(false, daemon.SdNotifyStopping)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error(err, "Server forced to shutdown")
	}
	if err := svc.Close(shutdownCtx); err != nil {
		logger.Error(err, "Failed to unload model")
	}
	logger.Info("Server exited")
}
