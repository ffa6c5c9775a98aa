package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"storepulse.app/analysis/common/id"
	"storepulse.app/analysis/common/logger"
	"storepulse.app/analysis/common/otel"
	"storepulse.app/analysis/core/config"
	"storepulse.app/analysis/core/db"
	"storepulse.app/analysis/internal/http/handler"
	"storepulse.app/analysis/internal/http/middleware"
	httprouter "storepulse.app/analysis/internal/http/router"
	"storepulse.app/analysis/internal/queue"
	"storepulse.app/analysis/internal/service"
	"storepulse.app/analysis/internal/store"
)

const shutdownTimeout = 10 * time.Second

func main() {
	fmt.Printf("%s\n", banner)

	cfg, err := config.Load(config.ServiceTypeServer)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// OTel before the logger: in production the slog handler exports through it.
	telemetry, err := otel.Setup(context.Background(), cfg.OTel, config.ServiceTypeServer)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize otel: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err = run(ctx, cfg)
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if shutdownErr := telemetry.Shutdown(shutdownCtx); shutdownErr != nil {
		slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", shutdownErr)
	}

	if err != nil {
		slog.Error("analysis api stopped", "error", err)
		os.Exit(1)
	}
	slog.Info("shutdown complete")
}

func run(ctx context.Context, cfg config.Config) error {
	if cfg.OTel.Enabled() {
		slog.InfoContext(ctx, "otel initialized", "endpoint", cfg.OTel.Endpoint)
	} else {
		slog.InfoContext(ctx, "otel disabled (no endpoint configured)")
	}
	slog.InfoContext(ctx, "analysis api starting", "env", cfg.Env, "service", cfg.OTel.ServiceName)

	if err := id.Init(cfg.NodeID); err != nil {
		return fmt.Errorf("initializing snowflake id generator: %w", err)
	}

	database, err := db.New(ctx, cfg.DB)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer database.Close()
	slog.InfoContext(ctx, "database connected")

	redisClient, err := connectRedis(ctx, cfg.Pipeline.RedisURL)
	if err != nil {
		return err
	}
	slog.InfoContext(ctx, "redis connected", "stream", cfg.Pipeline.RedisStream)

	// The producer owns the client and closes it.
	producer := queue.NewRedisProducer(redisClient, cfg.Pipeline.RedisStream, cfg.Pipeline.DedupeTTL, slog.Default())
	defer func() {
		if err := producer.Close(); err != nil {
			slog.Error("redis close error", "error", err)
		}
	}()

	capabilities, err := service.NewCapabilities(cfg)
	if err != nil {
		return fmt.Errorf("initializing analysis capabilities: %w", err)
	}

	services := service.NewServices(
		store.NewStores(database.Conn()),
		service.NewTxRunner(database),
		capabilities,
		producer,
	)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
		if cfg.AdminAPIKey == "" {
			slog.WarnContext(ctx, "ANALYSIS_API_KEY not set, trigger api is unauthenticated")
		}
	}

	checks := map[string]handler.HealthCheck{
		"database": database.Ping,
		"redis":    func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
	}
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           setupRouter(cfg, services, checks),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Synchronous runs and batch reanalysis may call the LLM per review.
		WriteTimeout:      cfg.Worker.RunTimeout + 30*time.Second,
		IdleTimeout:       120 * time.Second,
	}

	return serve(ctx, server)
}

// serve blocks until ctx is done or the listener fails, then drains in-flight requests.
func serve(ctx context.Context, server *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		slog.InfoContext(ctx, "http server starting", "addr", server.Addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	slog.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	return nil
}

func connectRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return client, nil
}

func setupRouter(cfg config.Config, services *service.Services, checks map[string]handler.HealthCheck) *gin.Engine {
	router := gin.New()

	// otelgin opens the span, Recovery sits inside it, Logger sees the trace ids.
	if cfg.OTel.Enabled() {
		router.Use(otelgin.Middleware(cfg.OTel.ServiceName))
	}
	router.Use(middleware.Recovery(), middleware.Logger())

	httprouter.SetupRoutes(router, services.Analysis(), httprouter.RouterConfig{
		TraceHeaderName: cfg.Pipeline.TraceHeaderName,
		APIKey:          cfg.AdminAPIKey,
		Checks:          checks,
	})

	return router
}

const banner = `
 ___ _                 ___      _          
/ __| |_ ___ _ _ ___  | _ \_  _| |___ ___ 
\__ \  _/ _ \ '_/ -_) |  _/ || | (_-</ -_)
|___/\__\___/_| \___| |_|  \_,_|_/__/\___|
        analysis api
`
