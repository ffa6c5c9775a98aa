package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"storepulse.app/analysis/common/id"
	"storepulse.app/analysis/common/logger"
	"storepulse.app/analysis/common/otel"
	"storepulse.app/analysis/core/config"
	"storepulse.app/analysis/core/db"
	"storepulse.app/analysis/internal/queue"
	"storepulse.app/analysis/internal/service"
	"storepulse.app/analysis/internal/store"
	"storepulse.app/analysis/internal/worker"
)

const shutdownTimeout = 30 * time.Second

func main() {
	ctx := context.Background()

	cfg, err := config.Load(config.ServiceTypeWorker)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	telemetry, err := otel.Setup(ctx, cfg.OTel, config.ServiceTypeWorker)
	if err != nil {
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}

	fmt.Printf("%s\n", banner)
	logger.Setup(cfg)

	slog.InfoContext(ctx, "analysis worker starting",
		"env", cfg.Env,
		"consumer_group", cfg.Pipeline.RedisGroup,
		"consumer_name", cfg.Pipeline.RedisConsumer)

	// Use a different SNOWFLAKE_NODE_ID per worker replica
	if err := id.Init(cfg.NodeID); err != nil {
		slog.ErrorContext(ctx, "failed to initialize id generator", "error", err)
		os.Exit(1)
	}

	database, err := db.New(ctx, cfg.DB)
	if err != nil {
		slog.ErrorContext(ctx, "failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer database.Close()
	slog.InfoContext(ctx, "database connected")

	redisOpts, err := redis.ParseURL(cfg.Pipeline.RedisURL)
	if err != nil {
		slog.ErrorContext(ctx, "failed to parse redis url", "error", err)
		os.Exit(1)
	}

	redisClient := redis.NewClient(redisOpts)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		slog.ErrorContext(ctx, "failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()
	slog.InfoContext(ctx, "redis connected", "stream", cfg.Pipeline.RedisStream)

	consumer, err := queue.NewRedisConsumer(redisClient, queue.ConsumerConfig{
		Stream:      cfg.Pipeline.RedisStream,
		Group:       cfg.Pipeline.RedisGroup,
		Consumer:    cfg.Pipeline.RedisConsumer,
		DLQStream:   cfg.Pipeline.RedisDLQStream,
		BatchSize:   cfg.Worker.BatchSize,
		Block:       cfg.Worker.BlockTimeout,
		MaxAttempts: cfg.Worker.MaxAttempts,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to create consumer", "error", err)
		os.Exit(1)
	}

	capabilities, err := service.NewCapabilities(cfg)
	if err != nil {
		slog.ErrorContext(ctx, "failed to initialize analysis capabilities", "error", err)
		os.Exit(1)
	}

	stores := store.NewStores(database.Conn())
	services := service.NewServices(stores, service.NewTxRunner(database), capabilities, nil)

	w := worker.New(consumer, services.Orchestrator(), worker.Config{
		MaxAttempts:    cfg.Worker.MaxAttempts,
		RetryBaseDelay: cfg.Worker.RetryBaseDelay,
		RunTimeout:     cfg.Worker.RunTimeout,
	})

	reclaimer := worker.NewRedisReclaimer(redisClient, worker.RedisReclaimerConfig{
		Stream:        cfg.Pipeline.RedisStream,
		Group:         cfg.Pipeline.RedisGroup,
		Consumer:      cfg.Pipeline.RedisConsumer + "-reclaimer",
		MinIdle:       cfg.Worker.ReclaimIdle,
		Interval:      time.Minute,
		BatchSize:     cfg.Worker.BatchSize,
		MaxDeliveries: int64(cfg.Worker.MaxAttempts) + 1,
	}, consumer, w.ProcessMessage)

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// In-flight runs keep going after a signal until the shutdown timeout.
	workCtx, cancelWork := context.WithCancel(ctx)
	defer cancelWork()

	g, gCtx := errgroup.WithContext(sigCtx)
	g.Go(func() error {
		return w.Run(workCtx)
	})
	g.Go(func() error {
		<-gCtx.Done()
		slog.InfoContext(ctx, "shutting down worker...")
		timer := time.AfterFunc(shutdownTimeout, func() {
			slog.WarnContext(ctx, "shutdown timeout exceeded, cancelling in-flight run")
			cancelWork()
		})
		defer timer.Stop()
		w.Stop()
		return nil
	})
	g.Go(func() error {
		return reclaimer.Run(gCtx)
	})

	if cfg.Janitor.Enabled() {
		janitor, err := worker.NewJanitor(stores.Tickets(), worker.JanitorConfig{
			Schedule:      cfg.Janitor.Schedule,
			RetentionDays: cfg.Janitor.RetentionDays,
		})
		if err != nil {
			slog.ErrorContext(ctx, "failed to create ticket janitor", "error", err)
			os.Exit(1)
		}
		g.Go(func() error {
			return janitor.Run(gCtx)
		})
	} else {
		slog.InfoContext(ctx, "ticket janitor disabled")
	}

	slog.InfoContext(ctx, "worker initialized and running")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.ErrorContext(ctx, "worker stopped with error", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := telemetry.Shutdown(shutdownCtx); err != nil {
		slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
	}

	slog.InfoContext(ctx, "worker shutdown complete")
}

const banner = `
 ___ _                 ___      _          
/ __| |_ ___ _ _ ___  | _ \_  _| |___ ___ 
\__ \  _/ _ \ '_/ -_) |  _/ || | (_-</ -_)
|___/\__\___/_| \___| |_|  \_,_|_/__/\___|
        analysis worker
`
