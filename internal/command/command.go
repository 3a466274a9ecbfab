// Package command runs external tools (docker, git, go, robocopy) with a timeout, captured
// output and optional fixed-delay retries.
package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/vienna-weather-pipeline/internal/observability"
)

// ErrNotFound is returned when the executable is not on PATH.
var ErrNotFound = errors.New("command not found")

// waitDelay bounds how long Run waits for orphaned children holding the output pipes
// after the process is killed.
const waitDelay = 2 * time.Second

// Result is the outcome of one command invocation. ExitCode is -1 when the process never ran
// or was killed.
type Result struct {
	Command  string
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Success reports a zero exit code.
func (r Result) Success() bool {
	return r.ExitCode == 0
}

// Output returns trimmed stdout, falling back to stderr when stdout is empty.
func (r Result) Output() string {
	if out := strings.TrimSpace(r.Stdout); out != "" {
		return out
	}
	return strings.TrimSpace(r.Stderr)
}

// Executor is satisfied by Runner; consumers accept it so tests can substitute a fake.
type Executor interface {
	Run(ctx context.Context, name string, args ...string) (Result, error)
}

// Runner executes commands with a per-call timeout.
type Runner struct {
	Timeout time.Duration
	Dir     string
	Env     []string
	logger  *zap.Logger
}

// NewRunner returns a Runner. timeout <= 0 means no per-call limit beyond ctx.
func NewRunner(timeout time.Duration, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{Timeout: timeout, logger: logger}
}

// Run executes name with args. A non-zero exit is reported in Result with a nil error so
// callers can apply their own exit-code rules (robocopy treats 0-7 as success). err is
// non-nil only when the command could not run: missing binary (ErrNotFound), timeout or
// cancellation.
func (r *Runner) Run(ctx context.Context, name string, args ...string) (Result, error) {
	res := Result{Command: name + " " + strings.Join(args, " "), ExitCode: -1}
	label := filepath.Base(name)

	path, err := exec.LookPath(name)
	if err != nil {
		observability.CommandExecutionsTotal.WithLabelValues(label, "not_found").Inc()
		return res, fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Dir = r.Dir
	cmd.WaitDelay = waitDelay
	if len(r.Env) > 0 {
		cmd.Env = append(cmd.Environ(), r.Env...)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	res.Duration = time.Since(start)
	res.Stdout = stdout.String()
	res.Stderr = stderr.String()

	code, err := exitStatus(runErr, ctx.Err())
	res.ExitCode = code
	switch {
	case err != nil && ctx.Err() != nil:
		observability.CommandExecutionsTotal.WithLabelValues(label, "timeout").Inc()
		return res, fmt.Errorf("%s: %w", res.Command, err)
	case err != nil:
		observability.CommandExecutionsTotal.WithLabelValues(label, "error").Inc()
		return res, fmt.Errorf("run %s: %w", res.Command, err)
	}

	result := "success"
	if res.ExitCode != 0 {
		result = "nonzero"
	}
	observability.CommandExecutionsTotal.WithLabelValues(label, result).Inc()
	r.logger.Debug("command finished",
		zap.String("command", res.Command),
		zap.Int("exitCode", res.ExitCode),
		zap.Duration("duration", res.Duration),
	)
	return res, nil
}

// exitStatus maps the outcome of cmd.Run to an exit code. ctxErr is reported only when the
// process itself failed: a command that exited 0 keeps its result even if ctx ended since.
func exitStatus(runErr, ctxErr error) (int, error) {
	if runErr == nil {
		return 0, nil
	}
	if ctxErr != nil {
		return -1, ctxErr
	}
	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return -1, runErr
}

// Retry runs the command through ex up to attempts times, sleeping delay between tries, until
// it exits 0. ErrNotFound is not retried. The last Result is returned with an error describing
// the final failure.
func Retry(ctx context.Context, ex Executor, attempts int, delay time.Duration, logger *zap.Logger, name string, args ...string) (Result, error) {
	if attempts < 1 {
		attempts = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var (
		res Result
		err error
	)
	for attempt := 1; attempt <= attempts; attempt++ {
		res, err = ex.Run(ctx, name, args...)
		if err == nil && res.Success() {
			return res, nil
		}
		if errors.Is(err, ErrNotFound) {
			return res, err
		}
		if err == nil {
			err = fmt.Errorf("%s exited with code %d: %s", res.Command, res.ExitCode, res.Output())
		}
		if attempt == attempts {
			break
		}
		logger.Warn("command failed, retrying",
			zap.String("command", res.Command),
			zap.Int("attempt", attempt),
			zap.Int("maxAttempts", attempts),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return res, ctx.Err()
		case <-time.After(delay):
		}
	}
	if attempts == 1 {
		return res, err
	}
	return res, fmt.Errorf("after %d attempts: %w", attempts, err)
}
