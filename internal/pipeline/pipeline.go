// Package pipeline runs the CI stages (clone, build, unittest, deploy) in order, reporting
// every stage to the notifications index.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/vienna-weather-pipeline/internal/models"
	"github.com/kjstillabower/vienna-weather-pipeline/internal/observability"
)

// Notifier records stage outcomes. Delivery is best effort.
type Notifier interface {
	Notify(ctx context.Context, pipelineID, stage string, status models.StageStatus, details string) bool
}

// Stage is one named step. A failed status stops the pipeline; a warning lets it continue.
type Stage struct {
	Name string
	Run  func(ctx context.Context) (models.StageStatus, string)
}

// Summary is the outcome of a pipeline run.
type Summary struct {
	PipelineID string
	Completed  int
	Total      int
	Duration   time.Duration
	Results    []models.StageResult
}

// Success reports whether every stage completed.
func (s Summary) Success() bool {
	return s.Completed == s.Total
}

// Runner executes stages sequentially.
type Runner struct {
	id       string
	stages   []Stage
	notifier Notifier
	logger   *zap.Logger
	now      func() time.Time
}

// NewRunner returns a Runner with id "pipeline-<unix seconds>". notifier may be nil.
func NewRunner(stages []Stage, notifier Notifier, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		id:       fmt.Sprintf("pipeline-%d", time.Now().Unix()),
		stages:   stages,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

// ID returns the pipeline id used in notifications.
func (r *Runner) ID() string {
	return r.id
}

// Run executes the stages until one fails or ctx is cancelled.
func (r *Runner) Run(ctx context.Context) Summary {
	start := r.now()
	sum := Summary{PipelineID: r.id, Total: len(r.stages)}
	logger := r.logger.With(zap.String("pipelineId", r.id))
	logger.Info("pipeline started", zap.Int("stages", len(r.stages)))

	for i, st := range r.stages {
		stageStart := r.now()
		var status models.StageStatus
		var details string
		if err := ctx.Err(); err != nil {
			status, details = models.StatusFailed, "Pipeline cancelled: "+err.Error()
		} else {
			logger.Info("stage started", zap.Int("stage", i+1), zap.String("name", st.Name))
			status, details = st.Run(ctx)
		}
		result := models.StageResult{
			Stage:    st.Name,
			Status:   status,
			Details:  details,
			Duration: r.now().Sub(stageStart),
		}
		sum.Results = append(sum.Results, result)
		observability.PipelineStagesTotal.WithLabelValues(st.Name, string(status)).Inc()
		observability.PipelineStageDuration.WithLabelValues(st.Name).Observe(result.Duration.Seconds())
		r.notify(ctx, st.Name, status, details)

		fields := []zap.Field{
			zap.String("name", st.Name),
			zap.String("status", string(status)),
			zap.String("details", details),
			zap.Duration("duration", result.Duration),
		}
		switch status {
		case models.StatusFailed:
			logger.Error("stage failed, stopping pipeline", fields...)
		case models.StatusWarning:
			logger.Warn("stage completed with warnings", fields...)
		default:
			logger.Info("stage completed", fields...)
		}
		if status == models.StatusFailed {
			break
		}
		sum.Completed++
	}

	sum.Duration = r.now().Sub(start)
	if sum.Success() {
		logger.Info("pipeline succeeded",
			zap.Int("completed", sum.Completed),
			zap.Int("total", sum.Total),
			zap.Duration("duration", sum.Duration),
		)
		r.notify(ctx, "pipeline", models.StatusSuccess, fmt.Sprintf("All %d stages completed", sum.Total))
	} else {
		logger.Error("pipeline failed",
			zap.Int("completed", sum.Completed),
			zap.Int("total", sum.Total),
			zap.Duration("duration", sum.Duration),
		)
		r.notify(ctx, "pipeline", models.StatusFailed, fmt.Sprintf("Failed at stage %d", sum.Completed+1))
	}
	return sum
}

func (r *Runner) notify(ctx context.Context, stage string, status models.StageStatus, details string) {
	if r.notifier == nil {
		return
	}
	// Notifications still go out after cancellation so the failure is recorded.
	r.notifier.Notify(context.WithoutCancel(ctx), r.id, stage, status, details)
}
