package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"llm-endpoint-orchestrator/config"
	"llm-endpoint-orchestrator/core/deploy"
	"llm-endpoint-orchestrator/core/repository"
	"llm-endpoint-orchestrator/core/sequencer"
	"llm-endpoint-orchestrator/core/spec"
	awsprovider "llm-endpoint-orchestrator/providers/aws"

	"github.com/spf13/pflag"
	"k8s.io/klog/v2"
)

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s deploy|destroy (--config FILE | --multi FILE) [flags]\n", os.Args[0])
	pflag.PrintDefaults()
}

func main() {
	cfg := config.Load()
	configFile := ""
	multiFile := ""
	localChain := false
	chainTimeout := deploy.DefaultChainTimeout

	klog.InitFlags(flag.CommandLine)
	pflag.CommandLine.AddGoFlagSet(flag.CommandLine)
	pflag.CommandLine.StringVar(&configFile, "config", configFile, "Project YAML file")
	pflag.CommandLine.StringVar(&multiFile, "multi", multiFile, "Multi-project YAML file")
	pflag.CommandLine.StringVar(&cfg.AWSRegion, "region", cfg.AWSRegion, "AWS region")
	pflag.CommandLine.BoolVar(&localChain, "local-chain", localChain, "Run the build chain in-process instead of through Step Functions")
	pflag.CommandLine.DurationVar(&cfg.ChainPollInterval, "poll-interval", cfg.ChainPollInterval, "How often the build chain is polled")
	pflag.CommandLine.DurationVar(&chainTimeout, "chain-timeout", chainTimeout, "How long to wait for the build chain")
	pflag.Usage = usage
	pflag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	logger := klog.FromContext(ctx)

	pflag.CommandLine.VisitAll(func(f *pflag.Flag) {
		logger.V(1).Info("Flag", "name", f.Name, "value", f.Value.String())
	})

	if pflag.NArg() != 1 || (configFile == "") == (multiFile == "") {
		usage()
		os.Exit(2)
	}
	command := pflag.Arg(0)

	projects, err := loadProjects(configFile, multiFile)
	if err != nil {
		klog.Fatalf("Failed to load projects: %v", err)
	}

	client, err := awsprovider.NewClient(ctx, cfg.AWSRegion)
	if err != nil {
		klog.Fatalf("Failed to load AWS configuration: %v", err)
	}

	backend := deploy.NewAWSBackend(client)
	if localChain {
		sink, closeSink := eventSink(ctx, cfg.DatabaseURL)
		defer closeSink()
		backend = deploy.NewLocalBackend(client, sink, cfg.ChainPollInterval)
	}
	deployer := deploy.NewDeployer(backend, client.Region(), cfg.ChainPollInterval, chainTimeout, nil)

	var results []deploy.Result
	switch command {
	case "deploy":
		results, err = deployer.DeployAll(ctx, projects)
	case "destroy":
		results, err = deployer.DestroyAll(ctx, projects)
	default:
		usage()
		os.Exit(2)
	}

	for _, r := range results {
		if r.Err != nil {
			logger.Info("Project failed", "project", r.Project, "err", r.Err.Error())
			continue
		}
		logger.Info("Project done", "project", r.Project, "endpoint", r.Endpoint, "execution", r.ExecutionID, "usdPerHour", r.HourlyCost)
	}
	if err != nil {
		klog.Fatalf("%s failed: %v", command, err)
	}
}

func loadProjects(configFile, multiFile string) ([]spec.Project, error) {
	if multiFile != "" {
		return spec.LoadMultiProject(multiFile)
	}
	project, err := spec.LoadProject(configFile)
	if err != nil {
		return nil, err
	}
	return []spec.Project{*project}, nil
}

// eventSink records chain events to Postgres when a database is configured
func eventSink(ctx context.Context, databaseURL string) (sequencer.EventSink, func()) {
	if databaseURL == "" {
		return nil, func() {}
	}
	logger := klog.FromContext(ctx)

	dbCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	db, err := repository.NewDB(dbCtx, databaseURL)
	if err != nil {
		klog.Fatalf("Failed to connect to database: %v", err)
	}
	if err := db.Migrate(dbCtx); err != nil {
		klog.Fatalf("Failed to migrate database: %v", err)
	}
	logger.Info("Recording chain events to database")
	return repository.NewEventRepository(db), func() { db.Close() }
}
