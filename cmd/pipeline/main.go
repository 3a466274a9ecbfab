package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"

	"github.com/kjstillabower/vienna-weather-pipeline/internal/cleanup"
	"github.com/kjstillabower/vienna-weather-pipeline/internal/command"
	"github.com/kjstillabower/vienna-weather-pipeline/internal/config"
	"github.com/kjstillabower/vienna-weather-pipeline/internal/docker"
	"github.com/kjstillabower/vienna-weather-pipeline/internal/elastic"
	"github.com/kjstillabower/vienna-weather-pipeline/internal/observability"
	"github.com/kjstillabower/vienna-weather-pipeline/internal/pipeline"
	"github.com/kjstillabower/vienna-weather-pipeline/internal/probe"
)

func main() {
	os.Exit(run())
}

func run() int {
	logger, err := observability.NewLogger("pipeline")
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load(config.LoadOptions{AllowMissingFile: true})
	if err != nil {
		logger.Error("config", zap.Error(err))
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner := command.NewRunner(cfg.CommandTimeout, logger)
	dockerMgr := docker.NewManager(runner, logger, docker.WithRetry(cfg.CommandRetryAttempts, cfg.CommandRetryDelay))
	probeClient := probe.NewClient(cfg.Services.ProbeTimeout)
	svc := cfg.Services

	stages := pipeline.DefaultStages(pipeline.Config{
		ProjectRoot:   cfg.Pipeline.ProjectRoot,
		RepoURL:       cfg.Pipeline.RepoURL,
		TempCloneDir:  cfg.Pipeline.TempCloneDir,
		CloneAttempts: cfg.CommandRetryAttempts,
		RetryDelay:    cfg.CommandRetryDelay,
		RequiredFiles: cfg.Pipeline.RequiredFiles,
		ConfigFile:    filepath.Join(cfg.Pipeline.ProjectRoot, "config", cfg.EnvName+".yaml"),
		Containers:    cfg.Pipeline.Containers,
		ComposeFile:   cfg.Pipeline.ComposeFile,
		StabilizeWait: cfg.Pipeline.StabilizeWait,
		MinContainers: cfg.Pipeline.MinContainers,
		MinServices:   cfg.Pipeline.MinServices,
	}, pipeline.Deps{
		Exec:          runner,
		Docker:        dockerMgr,
		Remover:       cleanup.NewRemover(runner, cfg.Cleanup.Attempts, cfg.Cleanup.RetryDelay, logger),
		Connectivity:  probe.URL(probeClient, "connectivity", cfg.Pipeline.ConnectivityURL),
		Elasticsearch: probe.Elasticsearch(probeClient, svc.ElasticsearchURL),
		Services: []probe.Probe{
			probe.Elasticsearch(probeClient, svc.ElasticsearchURL),
			probe.Kibana(probeClient, svc.KibanaURL),
			probe.RabbitMQ(probeClient, svc.RabbitMQManagementURL, cfg.RabbitMQ.Username, cfg.RabbitMQ.Password),
		},
		Logger: logger,
	})

	notifier := elastic.NewNotifier(svc.ElasticsearchURL, svc.NotificationIndex, cfg.Pipeline.Project, svc.NotificationTimeout, logger)
	logger.Info("pipeline configuration",
		zap.String("env", cfg.EnvName),
		zap.Bool("ci", cfg.CI),
		zap.String("projectRoot", cfg.Pipeline.ProjectRoot),
		zap.String("elasticsearch", svc.ElasticsearchURL),
	)

	summary := pipeline.NewRunner(stages, notifier, logger).Run(ctx)
	if !summary.Success() {
		return 1
	}
	logger.Info("services",
		zap.String("kibana", svc.KibanaURL),
		zap.String("rabbitmqManagement", svc.RabbitMQManagementURL),
		zap.String("elasticsearch", svc.ElasticsearchURL),
	)
	return 0
}
