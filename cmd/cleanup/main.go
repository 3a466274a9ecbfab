// Command cleanup deletes a CI workspace directory, falling back through progressively
// stronger strategies when files are locked or read-only.
//
//	cleanup -path <dir> [-children] [-keep a,b]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/kjstillabower/vienna-weather-pipeline/internal/cleanup"
	"github.com/kjstillabower/vienna-weather-pipeline/internal/command"
	"github.com/kjstillabower/vienna-weather-pipeline/internal/config"
	"github.com/kjstillabower/vienna-weather-pipeline/internal/observability"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fset := flag.NewFlagSet("cleanup", flag.ContinueOnError)
	path := fset.String("path", "", "directory to delete (required)")
	children := fset.Bool("children", false, "delete the contents of -path but keep the directory")
	keep := fset.String("keep", "", "comma-separated child names to keep with -children")
	if err := fset.Parse(args); err != nil {
		return 2
	}
	if *path == "" {
		fmt.Fprintln(fset.Output(), "cleanup: -path is required")
		fset.PrintDefaults()
		return 2
	}

	logger, err := observability.NewLogger("cleanup")
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

	remover := cleanup.NewRemover(command.NewRunner(cfg.CommandTimeout, logger), cfg.Cleanup.Attempts, cfg.Cleanup.RetryDelay, logger)

	if *children {
		reports, err := remover.Workspace(ctx, *path, splitKeep(*keep))
		removed := 0
		for _, r := range reports {
			if r.Removed {
				removed++
			}
		}
		logger.Info("workspace cleanup finished", zap.String("path", *path), zap.Int("removed", removed), zap.Int("total", len(reports)))
		if err != nil {
			logger.Error("some entries could not be removed", zap.Error(err))
			return 1
		}
		return 0
	}

	rep, err := remover.Remove(ctx, *path)
	if err != nil {
		logger.Error("workspace cleanup failed", zap.String("path", rep.Path), zap.Int("attempts", rep.Attempts), zap.Error(err))
	}
	if _, statErr := os.Stat(*path); !errors.Is(statErr, fs.ErrNotExist) {
		return 1
	}
	return 0
}

func splitKeep(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
