package service

import (
	"fmt"
	"log/slog"

	"storepulse.app/analysis/common/llm"
	"storepulse.app/analysis/common/nlp"
	"storepulse.app/analysis/core/config"
	"storepulse.app/analysis/internal/pipeline"
	"storepulse.app/analysis/internal/queue"
	"storepulse.app/analysis/internal/store"
)

type Services struct {
	stores   *store.Stores
	txRunner store.TxRunner
	registry *pipeline.Registry
	deps     pipeline.Deps
	producer queue.Producer
}

// NewServices binds the pipeline to stores. deps supplies the NLP and LLM
// capabilities; its Prompts and Tx are filled in here. producer may be nil.
func NewServices(stores *store.Stores, txRunner store.TxRunner, deps pipeline.Deps, producer queue.Producer) *Services {
	deps.Prompts = stores.Prompts()
	deps.Tx = txRunner
	return &Services{
		stores:   stores,
		txRunner: txRunner,
		registry: pipeline.NewBuiltinRegistry(),
		deps:     deps,
		producer: producer,
	}
}

func (s *Services) Registry() *pipeline.Registry {
	return s.registry
}

func (s *Services) Orchestrator() *pipeline.Orchestrator {
	return pipeline.NewOrchestrator(
		s.stores.Reviews(),
		s.stores.PipelineConfigs(),
		s.stores.AnalysisResults(),
		s.registry,
		s.deps,
	)
}

func (s *Services) Analysis() AnalysisService {
	return NewAnalysisService(s.Orchestrator(), s.stores.Reviews(), s.producer)
}

func (s *Services) Seed() SeedService {
	return NewSeedService(s.txRunner, s.registry)
}

// NewCapabilities builds the NLP and LLM collaborators from cfg. A missing
// API key disables the LLM step rather than failing start-up.
func NewCapabilities(cfg config.Config) (pipeline.Deps, error) {
	deps := pipeline.Deps{Scorer: nlp.NewVaderScorer()}

	if cfg.NLP.ParserEnabled {
		parser, err := nlp.NewProseParser()
		if err != nil {
			return pipeline.Deps{}, fmt.Errorf("creating parser: %w", err)
		}
		deps.Parser = parser
	} else {
		slog.Warn("linguistic parser disabled, issue phrases and parse-based heuristics are off")
	}

	if !cfg.LLM.Enabled() {
		slog.Warn("LLM API key not configured, gpt_analysis step will be a no-op")
		return deps, nil
	}

	client, err := llm.New(llm.Config{
		Provider: cfg.LLM.Provider,
		APIKey:   cfg.LLM.APIKey,
		BaseURL:  cfg.LLM.BaseURL,
		Model:    cfg.LLM.Model,
	})
	if err != nil {
		return pipeline.Deps{}, fmt.Errorf("creating LLM client: %w", err)
	}
	deps.LLM = client
	slog.Info("LLM client configured", "provider", cfg.LLM.Provider, "model", client.Model())
	return deps, nil
}
