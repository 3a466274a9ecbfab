// Package cleanup deletes CI workspace directories that a plain recursive delete cannot remove:
// read-only files, foreign ownership, paths too long for the shell.
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/vienna-weather-pipeline/internal/command"
	"github.com/kjstillabower/vienna-weather-pipeline/internal/observability"
)

// ErrNotRemoved is returned when every strategy ran and the path still exists.
var ErrNotRemoved = errors.New("path not removed")

// Strategy names one deletion technique.
type Strategy string

const (
	StrategyNone      Strategy = "none" // path was already absent
	StrategyForce     Strategy = "force"
	StrategyOwnership Strategy = "ownership"
	StrategyMirror    Strategy = "mirror"
	StrategyShell     Strategy = "shell"
)

// Report describes one Remove call.
type Report struct {
	Path     string
	Removed  bool
	Strategy Strategy // the strategy that removed the path
	Attempts int      // strategy runs across the whole chain
	Errors   []error
}

type strategy struct {
	name Strategy
	run  func(ctx context.Context, path string) error
}

// Remover tries each strategy in turn until the path is gone. It keeps no state between
// strategies or calls.
type Remover struct {
	exec       command.Executor
	attempts   int
	delay      time.Duration
	goos       string
	logger     *zap.Logger
	sleep      func(ctx context.Context, d time.Duration) error
	strategies []strategy
}

// NewRemover returns a Remover that runs each strategy up to attempts times, delay apart.
func NewRemover(exec command.Executor, attempts int, delay time.Duration, logger *zap.Logger) *Remover {
	return newRemover(exec, attempts, delay, runtime.GOOS, logger)
}

func newRemover(exec command.Executor, attempts int, delay time.Duration, goos string, logger *zap.Logger) *Remover {
	if attempts < 1 {
		attempts = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Remover{
		exec:     exec,
		attempts: attempts,
		delay:    delay,
		goos:     goos,
		logger:   logger,
		sleep:    sleepCtx,
	}
	r.strategies = []strategy{
		{StrategyForce, r.force},
		{StrategyOwnership, r.ownership},
		{StrategyMirror, r.mirror},
		{StrategyShell, r.shell},
	}
	return r
}

// Remove deletes path. A path that does not exist is a successful no-op. When every strategy
// fails the error wraps ErrNotRemoved and each strategy's error.
func (r *Remover) Remove(ctx context.Context, path string) (Report, error) {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	rep := Report{Path: path}
	if !exists(path) {
		rep.Removed = true
		rep.Strategy = StrategyNone
		return rep, nil
	}

	for _, s := range r.strategies {
		for attempt := 1; attempt <= r.attempts; attempt++ {
			if err := ctx.Err(); err != nil {
				rep.Errors = append(rep.Errors, err)
				return rep, fmt.Errorf("%w: %s: %w", ErrNotRemoved, path, errors.Join(rep.Errors...))
			}
			rep.Attempts++
			err := s.run(ctx, path)
			if !exists(path) {
				observability.CleanupAttemptsTotal.WithLabelValues(string(s.name), "removed").Inc()
				rep.Removed = true
				rep.Strategy = s.name
				r.logger.Info("workspace removed",
					zap.String("path", path),
					zap.String("strategy", string(s.name)),
					zap.Int("attempts", rep.Attempts),
				)
				return rep, nil
			}
			if err == nil {
				err = errors.New("path still exists")
			}
			observability.CleanupAttemptsTotal.WithLabelValues(string(s.name), "failed").Inc()
			rep.Errors = append(rep.Errors, fmt.Errorf("%s attempt %d: %w", s.name, attempt, err))
			r.logger.Warn("cleanup strategy failed",
				zap.String("path", path),
				zap.String("strategy", string(s.name)),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			if attempt < r.attempts {
				if err := r.sleep(ctx, r.delay); err != nil {
					break
				}
			}
		}
	}
	return rep, fmt.Errorf("%w: %s: %w", ErrNotRemoved, path, errors.Join(rep.Errors...))
}

// Workspace removes every entry of root except the names in keep. Each child is handled
// independently; the returned error joins the children that could not be removed.
func (r *Remover) Workspace(ctx context.Context, root string, keep []string) ([]Report, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read workspace %s: %w", root, err)
	}

	var reports []Report
	var errs []error
	for _, e := range entries {
		if slices.Contains(keep, e.Name()) {
			continue
		}
		rep, err := r.Remove(ctx, filepath.Join(root, e.Name()))
		reports = append(reports, rep)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return reports, errors.Join(errs...)
}

// force clears read-only bits across the tree, then deletes it.
func (r *Remover) force(_ context.Context, path string) error {
	_ = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		mode := info.Mode().Perm() | 0o600
		if d.IsDir() {
			mode |= 0o700
		}
		_ = os.Chmod(p, mode)
		return nil
	})
	return os.RemoveAll(path)
}

// ownership takes ownership (Windows) or restores owner permissions (elsewhere), then deletes.
func (r *Remover) ownership(ctx context.Context, path string) error {
	var errs []error
	if r.goos == "windows" {
		errs = append(errs,
			r.run(ctx, "takeown", "/f", path, "/r", "/d", "y"),
			r.run(ctx, "icacls", path, "/grant", "*S-1-3-4:F", "/t", "/c", "/q"),
		)
	} else {
		errs = append(errs, r.run(ctx, "chmod", "-R", "u+rwx", path))
	}
	errs = append(errs, os.RemoveAll(path))
	return errors.Join(errs...)
}

// mirror empties the tree before removing it. On Windows robocopy mirrors an empty directory
// over it, which copes with paths longer than MAX_PATH.
func (r *Remover) mirror(ctx context.Context, path string) error {
	if r.goos != "windows" {
		return emptyBottomUp(path)
	}

	empty, err := os.MkdirTemp("", "cleanup-empty-")
	if err != nil {
		return fmt.Errorf("create empty dir: %w", err)
	}
	defer os.RemoveAll(empty)

	res, err := r.exec.Run(ctx, "robocopy", empty, path, "/MIR", "/NFL", "/NDL", "/NJH", "/NJS")
	if err != nil {
		return err
	}
	// robocopy exit codes 0-7 report success variants; 8 and above are failures.
	if res.ExitCode < 0 || res.ExitCode >= 8 {
		return fmt.Errorf("robocopy exit %d: %s", res.ExitCode, res.Output())
	}
	return os.Remove(path)
}

// shell hands the delete to the platform's own recursive remove.
func (r *Remover) shell(ctx context.Context, path string) error {
	if r.goos == "windows" {
		return r.run(ctx, "cmd", "/c", "rmdir", "/s", "/q", path)
	}
	return r.run(ctx, "rm", "-rf", path)
}

func (r *Remover) run(ctx context.Context, name string, args ...string) error {
	res, err := r.exec.Run(ctx, name, args...)
	if err != nil {
		return err
	}
	if !res.Success() {
		return fmt.Errorf("%s exit %d: %s", name, res.ExitCode, res.Output())
	}
	return nil
}

// emptyBottomUp removes files first, then directories deepest first, then path itself.
func emptyBottomUp(path string) error {
	var entries []string
	walkErr := filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		entries = append(entries, p)
		return nil
	})

	var errs []error
	if walkErr != nil {
		errs = append(errs, walkErr)
	}
	// WalkDir visits parents before children, so reverse order removes children first.
	for i := len(entries) - 1; i >= 0; i-- {
		if err := os.Remove(entries[i]); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func exists(path string) bool {
	_, err := os.Lstat(path)
	return !errors.Is(err, fs.ErrNotExist)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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
