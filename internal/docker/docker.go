// Package docker manages containers through the docker CLI.
package docker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/vienna-weather-pipeline/internal/command"
	"github.com/kjstillabower/vienna-weather-pipeline/internal/validation"
)

var (
	// ErrUnavailable is returned when the docker CLI is missing or the daemon does not answer.
	ErrUnavailable = errors.New("docker not available")
	// ErrComposeUnavailable is returned when neither "docker compose" nor "docker-compose" works.
	ErrComposeUnavailable = errors.New("docker compose not available")
)

// ContainerSpec describes a container EnsureRunning creates when it does not exist.
type ContainerSpec struct {
	Name     string
	Image    string
	Ports    []string // host:container
	Env      []string // KEY=value
	InitWait time.Duration
}

// Manager wraps the docker CLI.
type Manager struct {
	exec       command.Executor
	logger     *zap.Logger
	sleep      func(ctx context.Context, d time.Duration) error
	attempts   int
	retryDelay time.Duration

	composeOnce sync.Once
	composeCmd  []string
}

// Option configures a Manager.
type Option func(*Manager)

// WithRetry retries container start/run and compose up/down up to attempts times, delay apart.
func WithRetry(attempts int, delay time.Duration) Option {
	return func(m *Manager) {
		m.attempts = attempts
		m.retryDelay = delay
	}
}

// NewManager returns a Manager that runs docker through exec. Without WithRetry each
// state-changing command runs once.
func NewManager(exec command.Executor, logger *zap.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{exec: exec, logger: logger, sleep: sleepCtx, attempts: 1}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// mutate runs a state-changing command with the configured retries.
func (m *Manager) mutate(ctx context.Context, name string, args ...string) error {
	_, err := command.Retry(ctx, m.exec, m.attempts, m.retryDelay, m.logger, name, args...)
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Available reports whether the docker CLI is installed.
func (m *Manager) Available(ctx context.Context) bool {
	res, err := m.exec.Run(ctx, "docker", "--version")
	return err == nil && res.Success()
}

// DaemonReachable reports whether "docker ps" succeeds.
func (m *Manager) DaemonReachable(ctx context.Context) bool {
	res, err := m.exec.Run(ctx, "docker", "ps")
	return err == nil && res.Success()
}

// IsRunning reports whether a running container has exactly this name.
func (m *Manager) IsRunning(ctx context.Context, name string) (bool, error) {
	return m.listed(ctx, name, "ps")
}

// Exists reports whether a container with this name exists in any state.
func (m *Manager) Exists(ctx context.Context, name string) (bool, error) {
	return m.listed(ctx, name, "ps", "-a")
}

func (m *Manager) listed(ctx context.Context, name string, args ...string) (bool, error) {
	if err := validation.ValidateContainerName(name); err != nil {
		return false, fmt.Errorf("%q: %w", name, err)
	}
	args = append(args, "--filter", "name="+name, "--format", "{{.Names}}")
	res, err := m.exec.Run(ctx, "docker", args...)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !res.Success() {
		return false, fmt.Errorf("docker %s: exit %d: %s", strings.Join(args, " "), res.ExitCode, res.Output())
	}
	// The name filter is a substring match; require an exact line.
	for _, line := range splitLines(res.Stdout) {
		if line == name {
			return true, nil
		}
	}
	return false, nil
}

// Start starts an existing stopped container.
func (m *Manager) Start(ctx context.Context, name string) error {
	if err := m.mutate(ctx, "docker", "start", name); err != nil {
		return fmt.Errorf("docker start %s: %w", name, err)
	}
	return nil
}

// RunContainer creates and starts a detached container from spec.
func (m *Manager) RunContainer(ctx context.Context, spec ContainerSpec) error {
	if err := validation.ValidateContainerName(spec.Name); err != nil {
		return fmt.Errorf("%q: %w", spec.Name, err)
	}
	args := []string{"run", "-d", "--name", spec.Name}
	for _, p := range spec.Ports {
		args = append(args, "-p", p)
	}
	for _, e := range spec.Env {
		args = append(args, "-e", e)
	}
	args = append(args, spec.Image)

	if err := m.mutate(ctx, "docker", args...); err != nil {
		return fmt.Errorf("docker run %s: %w", spec.Name, err)
	}
	return nil
}

// EnsureRunning makes sure the container is up: nothing to do when running, docker start
// when it exists but is stopped, otherwise docker run followed by spec.InitWait.
func (m *Manager) EnsureRunning(ctx context.Context, spec ContainerSpec) error {
	if !m.Available(ctx) {
		return ErrUnavailable
	}

	running, err := m.IsRunning(ctx, spec.Name)
	if err != nil {
		return err
	}
	if running {
		m.logger.Info("container already running", zap.String("container", spec.Name))
		return nil
	}

	exists, err := m.Exists(ctx, spec.Name)
	if err != nil {
		return err
	}
	if exists {
		m.logger.Info("starting existing container", zap.String("container", spec.Name))
		return m.Start(ctx, spec.Name)
	}

	m.logger.Info("creating container",
		zap.String("container", spec.Name),
		zap.String("image", spec.Image),
		zap.Strings("ports", spec.Ports),
	)
	if err := m.RunContainer(ctx, spec); err != nil {
		return err
	}
	m.logger.Info("waiting for container to initialize",
		zap.String("container", spec.Name),
		zap.Duration("wait", spec.InitWait),
	)
	return m.sleep(ctx, spec.InitWait)
}

// RunningContainers returns the subset of names that are running, in the order given.
func (m *Manager) RunningContainers(ctx context.Context, names []string) ([]string, error) {
	res, err := m.exec.Run(ctx, "docker", "ps", "--format", "{{.Names}}")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !res.Success() {
		return nil, fmt.Errorf("%w: docker ps exit %d: %s", ErrUnavailable, res.ExitCode, res.Output())
	}
	up := make(map[string]bool)
	for _, line := range splitLines(res.Stdout) {
		up[line] = true
	}
	var running []string
	for _, n := range names {
		if up[n] {
			running = append(running, n)
		}
	}
	return running, nil
}

// ComposeUp runs "up -d" for the compose file.
func (m *Manager) ComposeUp(ctx context.Context, file string) error {
	return m.compose(ctx, "-f", file, "up", "-d")
}

// ComposeDown runs "down" for the compose file.
func (m *Manager) ComposeDown(ctx context.Context, file string) error {
	return m.compose(ctx, "-f", file, "down")
}

func (m *Manager) compose(ctx context.Context, args ...string) error {
	base := m.composeCommand(ctx)
	if base == nil {
		return ErrComposeUnavailable
	}
	full := append(append([]string{}, base[1:]...), args...)
	if err := m.mutate(ctx, base[0], full...); err != nil {
		return fmt.Errorf("%s %s: %w", base[0], strings.Join(full, " "), err)
	}
	return nil
}

// composeCommand prefers the compose plugin and falls back to the standalone binary.
func (m *Manager) composeCommand(ctx context.Context) []string {
	m.composeOnce.Do(func() {
		if res, err := m.exec.Run(ctx, "docker", "compose", "version"); err == nil && res.Success() {
			m.composeCmd = []string{"docker", "compose"}
			return
		}
		if res, err := m.exec.Run(ctx, "docker-compose", "--version"); err == nil && res.Success() {
			m.composeCmd = []string{"docker-compose"}
			return
		}
		m.logger.Warn("neither docker compose nor docker-compose is available")
	})
	return m.composeCmd
}

func splitLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}
