package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"

	"storepulse.app/analysis/internal/model"
	"storepulse.app/analysis/internal/store"
)

type persistenceStep struct {
	tx     store.TxRunner
	policy TicketPolicy
}

func NewPersistenceStep(deps Deps, params *Params) (Step, error) {
	if deps.Tx == nil {
		return nil, errors.New("persistence requires a transaction runner")
	}
	def := DefaultTicketPolicy()
	return &persistenceStep{
		tx: deps.Tx,
		policy: TicketPolicy{
			AutoForProblems: params.Bool("auto_ticket_for_problems", def.AutoForProblems),
			AutoForComplex:  params.Bool("auto_ticket_for_complex", def.AutoForComplex),
			OnlyForNegative: params.Bool("ticket_only_for_negative", def.OnlyForNegative),
		},
	}, nil
}

func (s *persistenceStep) Process(ctx context.Context, review *model.Review, run *RunContext) error {
	result := BuildResult(run)

	var (
		resultID int64
		created  bool
	)
	err := s.tx.WithTx(ctx, func(stores store.TxStores) error {
		var err error
		resultID, created, err = stores.AnalysisResults().Upsert(ctx, result)
		return err
	})
	if err != nil {
		return fmt.Errorf("saving analysis result: %w", err)
	}
	result.ID = resultID
	run.AnalysisResultID = ptr(resultID)
	run.AnalysisCreated = ptr(created)

	slog.InfoContext(ctx, "analysis result saved",
		"analysis_result_id", resultID,
		"created", created,
		"tone", result.Tone,
		"issues_count", len(result.Issues))

	if !ShouldOpenTicket(s.policy, result, review.Rating) {
		return nil
	}

	ticketID, err := s.upsertTicket(ctx, result)
	if err != nil {
		slog.ErrorContext(ctx, "ticket upsert failed, analysis result kept", "error", err)
		run.TicketError = ptr(err.Error())
		return nil
	}
	run.TicketID = ptr(ticketID)
	return nil
}

// upsertTicket re-points the review's active ticket at result, or opens one.
// A concurrent writer winning the insert is handled by re-pointing its ticket.
func (s *persistenceStep) upsertTicket(ctx context.Context, result *model.AnalysisResult) (int64, error) {
	var ticketID int64
	err := s.tx.WithTx(ctx, func(stores store.TxStores) error {
		tickets := stores.Tickets()

		repoint := func() error {
			existing, err := tickets.FindActive(ctx, result.ReviewID)
			if err != nil {
				return err
			}
			if err := tickets.Repoint(ctx, existing.ID, result.ID); err != nil {
				return fmt.Errorf("repointing ticket %d: %w", existing.ID, err)
			}
			ticketID = existing.ID
			slog.InfoContext(ctx, "active ticket repointed", "ticket_id", existing.ID)
			return nil
		}

		err := repoint()
		if err == nil || !errors.Is(err, store.ErrNotFound) {
			return err
		}

		ticket := &model.ReviewTicket{
			ReviewID:         result.ReviewID,
			AnalysisResultID: result.ID,
			Status:           model.TicketStatusOpen,
			Priority:         Priority(result),
			Notes:            TicketNotes(result),
		}
		err = tickets.Create(ctx, ticket)
		if errors.Is(err, store.ErrActiveTicketExists) {
			return repoint()
		}
		if err != nil {
			return fmt.Errorf("creating ticket: %w", err)
		}
		ticketID = ticket.ID
		slog.InfoContext(ctx, "ticket opened", "ticket_id", ticket.ID, "priority", ticket.Priority)
		return nil
	})
	return ticketID, err
}

// BuildResult assembles the analysis result from what the run accumulated,
// filling defaults for fields no step produced.
func BuildResult(run *RunContext) *model.AnalysisResult {
	tone := run.Tone
	if tone == "" {
		tone = model.ToneNeutral
	}
	source := run.AnalysisSource
	if source == "" {
		source = model.AnalysisSourceLocal
	}
	issues := run.Issues
	if issues == nil {
		issues = []string{}
	}

	var vader any = map[string]any{}
	if run.VaderScores != nil {
		vader = *run.VaderScores
	}

	executed := slices.Clone(run.ExecutedSteps)
	if !slices.Contains(executed, StepPersistence) {
		executed = append(executed, StepPersistence)
	}

	return &model.AnalysisResult{
		ReviewID:        run.ReviewID,
		Tone:            tone,
		RawPolarity:     run.Polarity(),
		RawSubjectivity: run.Subjectivity(),
		Issues:          issues,
		ComplexReview:   run.ComplexReview(),
		Notes:           run.Notes,
		Confidence:      derefOr(run.Confidence, 1.0),
		AnalysisSource:  source,
		FlagSupport:     flagSupport(run.Rating, issues),
		FullPayload: map[string]any{
			"vader_scores":   vader,
			"gpt_cost":       run.GPTCost,
			"gpt_error":      run.GPTError,
			"executed_steps": executed,
			"skip_gpt":       run.SkipGPT,
			"context_keys":   persistedKeys(run),
		},
	}
}

// persistedKeys is the run's key set as seen once persistence records itself.
func persistedKeys(run *RunContext) []string {
	keys := run.Keys()
	if !slices.Contains(keys, "executed_steps") {
		keys = append(keys, "executed_steps")
		sort.Strings(keys)
	}
	return keys
}
