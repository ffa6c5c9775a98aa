package service

import (
	"context"
	"fmt"
	"log/slog"

	"storepulse.app/analysis/internal/model"
	"storepulse.app/analysis/internal/pipeline"
	"storepulse.app/analysis/internal/store"
)

type SeedOptions struct {
	// WithConfig also seeds the default pipeline: every built-in step enabled in order.
	WithConfig bool
	// Reset deletes configured steps, the step catalog and prompt templates first.
	Reset bool
}

type SeedCount struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
}

func (c *SeedCount) add(created bool) {
	if created {
		c.Created++
		return
	}
	c.Updated++
}

type SeedResult struct {
	StepTypes SeedCount `json:"step_types"`
	Configs   SeedCount `json:"configs"`
	Prompts   SeedCount `json:"prompts"`
	// Unregistered lists catalog keys no step constructor is registered for.
	Unregistered []string `json:"unregistered,omitempty"`
}

type SeedService interface {
	Seed(ctx context.Context, opts SeedOptions) (*SeedResult, error)
}

type seedService struct {
	txRunner store.TxRunner
	registry *pipeline.Registry
}

func NewSeedService(txRunner store.TxRunner, registry *pipeline.Registry) SeedService {
	return &seedService{txRunner: txRunner, registry: registry}
}

func (s *seedService) Seed(ctx context.Context, opts SeedOptions) (*SeedResult, error) {
	result := &SeedResult{}

	err := s.txRunner.WithTx(ctx, func(stores store.TxStores) error {
		configs := stores.PipelineConfigs()
		prompts := stores.Prompts()

		if opts.Reset {
			if err := configs.Reset(ctx); err != nil {
				return fmt.Errorf("resetting pipeline configs: %w", err)
			}
			if err := prompts.Reset(ctx); err != nil {
				return fmt.Errorf("resetting prompt templates: %w", err)
			}
			slog.InfoContext(ctx, "pipeline catalog reset")
		}

		for _, st := range pipeline.BuiltinStepTypes() {
			created, err := configs.UpsertStepType(ctx, st)
			if err != nil {
				return fmt.Errorf("upserting step type %s: %w", st.Key, err)
			}
			result.StepTypes.add(created)
			if _, ok := s.registry.Lookup(st.Key); !ok {
				result.Unregistered = append(result.Unregistered, st.Key)
			}
		}

		if opts.WithConfig {
			for _, cfg := range pipeline.DefaultStepConfigs() {
				created, err := configs.UpsertConfig(ctx, cfg)
				if err != nil {
					return fmt.Errorf("upserting config %s: %w", cfg.StepKey, err)
				}
				result.Configs.add(created)
			}
		}

		return seedPrompts(ctx, prompts, pipeline.DefaultPrompts(), &result.Prompts)
	})
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "pipeline catalog seeded",
		"step_types_created", result.StepTypes.Created,
		"configs_created", result.Configs.Created,
		"prompts_created", result.Prompts.Created,
		"with_config", opts.WithConfig,
		"reset", opts.Reset)
	return result, nil
}

func seedPrompts(ctx context.Context, prompts store.PromptStore, templates []model.PromptTemplate, count *SeedCount) error {
	for _, p := range templates {
		created, err := prompts.Upsert(ctx, p)
		if err != nil {
			return fmt.Errorf("upserting prompt %s@%s: %w", p.PromptID, p.Version, err)
		}
		count.add(created)
	}
	return nil
}
