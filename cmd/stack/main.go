// Command stack brings the local ELK and RabbitMQ stack up or down, reports its status and
// provisions the Kibana dashboard.
//
//	stack up | down | status | wait | provision
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/vienna-weather-pipeline/internal/command"
	"github.com/kjstillabower/vienna-weather-pipeline/internal/config"
	"github.com/kjstillabower/vienna-weather-pipeline/internal/docker"
	"github.com/kjstillabower/vienna-weather-pipeline/internal/kibana"
	"github.com/kjstillabower/vienna-weather-pipeline/internal/observability"
	"github.com/kjstillabower/vienna-weather-pipeline/internal/probe"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("stack", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "usage: stack [flags] up|down|status|wait|provision")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return 2
	}

	logger, err := observability.NewLogger("stack")
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

	s := newStack(cfg, command.NewRunner(cfg.CommandTimeout, logger), os.Stdout, logger)

	switch cmd := fs.Arg(0); cmd {
	case "up":
		return s.up(ctx)
	case "down":
		return s.down(ctx)
	case "status":
		s.status(ctx)
		return 0
	case "wait":
		return s.wait(ctx)
	case "provision":
		return s.provision(ctx)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", cmd)
		fs.Usage()
		return 2
	}
}

type stack struct {
	cfg    *config.Config
	docker *docker.Manager
	probes []probe.Probe
	kibana probe.Probe
	out    io.Writer
	logger *zap.Logger
}

// newStack wires the subcommands to ex for docker and to the configured service URLs.
func newStack(cfg *config.Config, ex command.Executor, out io.Writer, logger *zap.Logger) *stack {
	c := probe.NewClient(cfg.Services.ProbeTimeout)
	svc := cfg.Services
	kb := probe.Kibana(c, svc.KibanaURL)
	return &stack{
		cfg:    cfg,
		docker: docker.NewManager(ex, logger, docker.WithRetry(cfg.CommandRetryAttempts, cfg.CommandRetryDelay)),
		probes: []probe.Probe{
			probe.Elasticsearch(c, svc.ElasticsearchURL),
			kb,
			probe.Logstash(c, svc.LogstashURL),
			probe.RabbitMQ(c, svc.RabbitMQManagementURL, cfg.RabbitMQ.Username, cfg.RabbitMQ.Password),
		},
		kibana: kb,
		out:    out,
		logger: logger,
	}
}

func (s *stack) up(ctx context.Context) int {
	if err := s.docker.ComposeUp(ctx, s.cfg.Pipeline.ComposeFile); err != nil {
		s.logger.Warn("compose up had issues, checking services anyway", zap.Error(err))
	}
	return s.wait(ctx)
}

func (s *stack) down(ctx context.Context) int {
	if err := s.docker.ComposeDown(ctx, s.cfg.Pipeline.ComposeFile); err != nil {
		s.logger.Error("compose down failed", zap.Error(err))
		return 1
	}
	s.logger.Info("stack stopped")
	return 0
}

// wait polls every service; it fails only when none become ready.
func (s *stack) wait(ctx context.Context) int {
	ready := 0
	for _, p := range s.probes {
		if _, err := probe.WaitReady(ctx, p, s.cfg.Services.ReadyAttempts, s.cfg.Services.ReadyInterval, s.logger); err != nil {
			s.logger.Warn("service not ready", zap.String("service", p.Name()), zap.Error(err))
			continue
		}
		ready++
	}
	s.logger.Info("stack readiness", zap.Int("ready", ready), zap.Int("total", len(s.probes)))
	if ready == 0 {
		return 1
	}
	return 0
}

func (s *stack) status(ctx context.Context) {
	results := probe.CheckAll(ctx, s.probes)
	tw := tabwriter.NewWriter(s.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SERVICE\tURL\tOK\tSTATUS\tLATENCY")
	for _, r := range results {
		fmt.Fprintf(tw, "%s\t%s\t%t\t%s\t%s\n", r.Service, r.URL, r.OK, r.Status, r.Latency.Round(time.Millisecond))
	}
	_ = tw.Flush()

	running, err := s.docker.RunningContainers(ctx, s.cfg.Pipeline.Containers)
	if err != nil {
		s.logger.Warn("could not list containers", zap.Error(err))
		return
	}
	up := make(map[string]bool, len(running))
	for _, n := range running {
		up[n] = true
	}
	fmt.Fprintln(s.out)
	tw = tabwriter.NewWriter(s.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CONTAINER\tRUNNING")
	for _, n := range s.cfg.Pipeline.Containers {
		fmt.Fprintf(tw, "%s\t%t\n", n, up[n])
	}
	_ = tw.Flush()
	s.logger.Info("containers running", zap.Int("running", len(running)), zap.Int("expected", len(s.cfg.Pipeline.Containers)))
}

func (s *stack) provision(ctx context.Context) int {
	svc := s.cfg.Services
	if _, err := probe.WaitReady(ctx, s.kibana, svc.ReadyAttempts, svc.ReadyInterval, s.logger); err != nil {
		s.logger.Error("kibana not ready, dashboard not provisioned", zap.Error(err))
		return 1
	}
	spec := kibana.DefaultSpec(svc.DataViewID, svc.ReadingsIndex, svc.DashboardID)
	res := kibana.Provision(ctx, kibana.NewClient(svc.KibanaURL, svc.ProbeTimeout), spec, s.logger)
	s.logger.Info("kibana provisioning finished",
		zap.Strings("created", res.Created),
		zap.Int("failed", len(res.Errors)),
		zap.String("dashboard", svc.KibanaURL+"/app/dashboards#/view/"+svc.DashboardID),
	)
	if !res.OK() {
		return 1
	}
	return 0
}
