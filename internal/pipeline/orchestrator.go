package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"storepulse.app/analysis/common/logger"
	"storepulse.app/analysis/internal/model"
	"storepulse.app/analysis/internal/store"
)

const (
	noStepsWarning  = "No enabled pipeline steps configured"
	noStepsIssue    = "No analysis performed - all steps disabled"
	noStepsPayload  = "No pipeline steps were enabled"
	stepErrorSuffix = " (error)"
)

// Orchestrator runs the configured steps against one review.
type Orchestrator struct {
	reviews  store.ReviewStore
	configs  store.PipelineConfigStore
	results  store.AnalysisResultStore
	registry *Registry
	deps     Deps
}

func NewOrchestrator(
	reviews store.ReviewStore,
	configs store.PipelineConfigStore,
	results store.AnalysisResultStore,
	registry *Registry,
	deps Deps,
) *Orchestrator {
	return &Orchestrator{
		reviews:  reviews,
		configs:  configs,
		results:  results,
		registry: registry,
		deps:     deps,
	}
}

// Run analyzes one review. The summary is never nil. A non-nil error is a
// *RunError; step failures are recorded in the run and do not surface here.
func (o *Orchestrator) Run(ctx context.Context, reviewID int64) (*RunSummary, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		ReviewID:  logger.Ptr(reviewID),
		Component: "pipeline",
	})
	span := logger.StartSpan(ctx, "pipeline.run",
		trace.WithAttributes(attribute.Int64("review_id", reviewID)))
	defer span.End()
	ctx = span.Context()

	summary, err := o.run(ctx, reviewID)
	if err != nil {
		span.RecordError(err)
		slog.ErrorContext(ctx, "pipeline run failed", "error", err, "retryable", IsRetryable(err))
		return summary, err
	}

	span.SetAttributes(
		attribute.StringSlice("executed_steps", summary.ExecutedSteps),
		attribute.Int("issues_count", summary.IssuesCount),
	)
	slog.InfoContext(ctx, "pipeline run completed",
		"executed_steps", summary.ExecutedSteps,
		"analysis_source", summary.AnalysisSource,
		"issues_count", summary.IssuesCount)
	return summary, nil
}

func (o *Orchestrator) run(ctx context.Context, reviewID int64) (*RunSummary, error) {
	review, err := o.reviews.GetByID(ctx, reviewID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			err = fmt.Errorf("%w: %d", ErrReviewNotFound, reviewID)
			return failedSummary(reviewID, err), NewFatalError(err)
		}
		err = fmt.Errorf("loading review %d: %w", reviewID, err)
		return failedSummary(reviewID, err), NewRetryableError(err)
	}
	ctx = logger.WithLogFields(ctx, logger.LogFields{AppID: logger.Ptr(review.AppID)})

	configs, err := o.configs.ListEnabled(ctx)
	if err != nil {
		err = fmt.Errorf("loading pipeline config: %w", err)
		return failedSummary(reviewID, err), NewRetryableError(err)
	}
	sort.SliceStable(configs, func(i, j int) bool {
		if configs[i].Order != configs[j].Order {
			return configs[i].Order < configs[j].Order
		}
		return configs[i].StepLabel < configs[j].StepLabel
	})

	run := NewRunContext(review)
	if len(configs) == 0 {
		return o.persistEmpty(ctx, run)
	}

	for _, cfg := range configs {
		if err := ctx.Err(); err != nil {
			err = fmt.Errorf("run cancelled before %s: %w", cfg.StepKey, err)
			summary := summaryFromRun(run)
			summary.Success = false
			summary.Error = err.Error()
			return summary, NewRetryableError(err)
		}
		o.execute(ctx, review, run, cfg)
	}

	summary := summaryFromRun(run)
	if !slices.Contains(run.ExecutedSteps, StepPersistence) {
		slog.WarnContext(ctx, "persistence step did not run, analysis not saved",
			"executed_steps", run.ExecutedSteps)
		summary.Warning = "Persistence step not executed; analysis was not saved"
	}
	return summary, nil
}

// execute builds and runs one configured step, isolating any failure to it.
func (o *Orchestrator) execute(ctx context.Context, review *model.Review, run *RunContext, cfg model.StepConfig) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{StepKey: logger.Ptr(cfg.StepKey)})

	construct, ok := o.registry.Lookup(cfg.StepKey)
	if !ok {
		slog.WarnContext(ctx, "no step registered for configured key, skipping")
		return
	}

	span := logger.StartSpan(ctx, "pipeline.step",
		trace.WithAttributes(attribute.String("step_key", cfg.StepKey)))
	defer span.End()
	ctx = span.Context()

	if err := runStep(ctx, construct, o.deps, review, run, cfg); err != nil {
		span.RecordError(err)
		slog.ErrorContext(ctx, "pipeline step failed", "error", err)
		run.ExecutedSteps = append(run.ExecutedSteps, cfg.StepKey+stepErrorSuffix)
		run.RecordStepError(cfg.StepKey, err)
		return
	}
	run.ExecutedSteps = append(run.ExecutedSteps, cfg.StepKey)
}

func runStep(ctx context.Context, construct Constructor, deps Deps, review *model.Review, run *RunContext, cfg model.StepConfig) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "pipeline step panicked",
				"panic", r,
				"stack", string(debug.Stack()))
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	params, perr := ParseParams(cfg.Params)
	if perr != nil {
		slog.WarnContext(ctx, "invalid step params, using defaults", "error", perr)
	}

	step, err := construct(deps, params)
	if err != nil {
		return fmt.Errorf("building step: %w", err)
	}
	if invalid := params.Invalid(); len(invalid) > 0 {
		slog.WarnContext(ctx, "mistyped step params, using defaults", "keys", invalid)
	}

	return step.Process(ctx, review, run)
}

// persistEmpty records that the review was seen with no steps enabled.
func (o *Orchestrator) persistEmpty(ctx context.Context, run *RunContext) (*RunSummary, error) {
	slog.WarnContext(ctx, "no enabled pipeline steps, saving placeholder result")

	result := &model.AnalysisResult{
		ReviewID:        run.ReviewID,
		Tone:            model.ToneNeutral,
		RawPolarity:     0,
		RawSubjectivity: 0.5,
		Issues:          []string{noStepsIssue},
		Confidence:      0,
		AnalysisSource:  model.AnalysisSourceNone,
		FullPayload: map[string]any{
			"executed_steps": []string{},
			"warning":        noStepsPayload,
		},
	}
	id, created, err := o.results.Upsert(ctx, result)
	if err != nil {
		err = fmt.Errorf("saving placeholder result: %w", err)
		return failedSummary(run.ReviewID, err), NewRetryableError(err)
	}
	run.AnalysisResultID = ptr(id)
	run.AnalysisCreated = ptr(created)
	run.Tone = result.Tone
	run.Issues = result.Issues
	run.AnalysisSource = result.AnalysisSource

	summary := summaryFromRun(run)
	summary.Warning = noStepsWarning
	return summary, nil
}
