package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/redis/go-redis/v9"

	"storepulse.app/analysis/common/id"
	"storepulse.app/analysis/common/logger"
	"storepulse.app/analysis/common/otel"
	"storepulse.app/analysis/core/config"
	"storepulse.app/analysis/core/db"
	"storepulse.app/analysis/internal/model"
	"storepulse.app/analysis/internal/pipeline"
	"storepulse.app/analysis/internal/queue"
	"storepulse.app/analysis/internal/service"
	"storepulse.app/analysis/internal/store"
	"storepulse.app/analysis/internal/worker"
)

// Runtime is what commands need from the environment.
type Runtime interface {
	Analysis() service.AnalysisService
	Seed() service.SeedService
	// Janitor builds a ticket janitor. Zero days uses the configured retention.
	Janitor(retentionDays int) (*worker.Janitor, error)
	StepTypes(ctx context.Context) ([]model.StepType, error)
	EnabledConfigs(ctx context.Context) ([]model.StepConfig, error)
	Registry() *pipeline.Registry
}

type openOptions struct {
	// Queue connects to Redis for commands that enqueue.
	Queue bool
	// Analysis loads the NLP and LLM capabilities for commands that run the pipeline.
	Analysis bool
}

type opener func(ctx context.Context, opts openOptions) (Runtime, func(), error)

type liveRuntime struct {
	cfg      config.Config
	stores   *store.Stores
	services *service.Services
}

func openLive(ctx context.Context, opts openOptions) (_ Runtime, _ func(), err error) {
	var closers []func()
	cleanup := func() {
		for _, c := range slices.Backward(closers) {
			c()
		}
	}
	defer func() {
		if err != nil {
			cleanup()
		}
	}()

	cfg, err := config.Load(config.ServiceTypeCLI)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}

	telemetry, err := otel.Setup(ctx, cfg.OTel, config.ServiceTypeCLI)
	if err != nil {
		return nil, nil, fmt.Errorf("initializing otel: %w", err)
	}
	closers = append(closers, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = telemetry.Shutdown(shutdownCtx)
	})

	logger.SetupWithWriter(cfg, os.Stderr)

	if err := id.Init(cfg.NodeID); err != nil {
		return nil, nil, fmt.Errorf("initializing id generator: %w", err)
	}

	database, err := db.New(ctx, cfg.DB)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to database: %w", err)
	}
	closers = append(closers, database.Close)

	var producer queue.Producer
	if opts.Queue {
		redisOpts, err := redis.ParseURL(cfg.Pipeline.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("parsing redis url: %w", err)
		}
		redisClient := redis.NewClient(redisOpts)
		closers = append(closers, func() { _ = redisClient.Close() })
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return nil, nil, fmt.Errorf("connecting to redis: %w", err)
		}
		producer = queue.NewRedisProducer(redisClient, cfg.Pipeline.RedisStream, cfg.Pipeline.DedupeTTL, slog.Default())
	}

	var capabilities pipeline.Deps
	if opts.Analysis {
		if capabilities, err = service.NewCapabilities(cfg); err != nil {
			return nil, nil, err
		}
	}

	stores := store.NewStores(database.Conn())
	return &liveRuntime{
		cfg:      cfg,
		stores:   stores,
		services: service.NewServices(stores, service.NewTxRunner(database), capabilities, producer),
	}, cleanup, nil
}

func (r *liveRuntime) Analysis() service.AnalysisService {
	return r.services.Analysis()
}

func (r *liveRuntime) Seed() service.SeedService {
	return r.services.Seed()
}

func (r *liveRuntime) Janitor(retentionDays int) (*worker.Janitor, error) {
	cfg := worker.JanitorConfig{
		Schedule:      r.cfg.Janitor.Schedule,
		RetentionDays: r.cfg.Janitor.RetentionDays,
	}
	if retentionDays != 0 {
		cfg.RetentionDays = retentionDays
	}
	if cfg.Schedule == "" {
		cfg.Schedule = "@daily"
	}
	return worker.NewJanitor(r.stores.Tickets(), cfg)
}

func (r *liveRuntime) StepTypes(ctx context.Context) ([]model.StepType, error) {
	return r.stores.PipelineConfigs().ListStepTypes(ctx)
}

func (r *liveRuntime) EnabledConfigs(ctx context.Context) ([]model.StepConfig, error) {
	return r.stores.PipelineConfigs().ListEnabled(ctx)
}

func (r *liveRuntime) Registry() *pipeline.Registry {
	return r.services.Registry()
}
