package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/assistantd/assistantd/internal/api"
	"github.com/assistantd/assistantd/internal/config"
	"github.com/assistantd/assistantd/internal/engine"
	"github.com/assistantd/assistantd/internal/files"
	"github.com/assistantd/assistantd/internal/llm"
	"github.com/assistantd/assistantd/internal/observability"
	"github.com/assistantd/assistantd/internal/queue"
	"github.com/assistantd/assistantd/internal/retrieval"
	"github.com/assistantd/assistantd/internal/retry"
	"github.com/assistantd/assistantd/internal/sandbox"
	"github.com/assistantd/assistantd/internal/service"
	"github.com/assistantd/assistantd/internal/storage"
	"github.com/assistantd/assistantd/internal/tools"
)

// runServe starts the process: always the engine workers, and the API
// server too unless running in worker-only mode.
func runServe(ctx context.Context, configPath string, withAPI bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	metrics := observability.NewMetrics(nil)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var tracer *observability.Tracer
	if cfg.Tracing.Enabled {
		tracer, err = observability.SetupTracing(ctx, observability.TracingConfig{
			Enabled:     true,
			Endpoint:    cfg.Tracing.Endpoint,
			ServiceName: "assistantd",
			SampleRatio: cfg.Tracing.SampleRatio,
		})
		if err != nil {
			return fmt.Errorf("setup tracing: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = tracer.Shutdown(shutdownCtx)
		}()
	}

	stores, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer stores.Close()

	runQueue, err := openQueue(ctx, cfg)
	if err != nil {
		return err
	}
	defer runQueue.Close()

	model, err := llm.NewOpenAI(llm.OpenAIOptions{
		APIKey:  cfg.LLM.APIKey,
		BaseURL: cfg.LLM.BaseURL,
		Timeout: cfg.LLM.Timeout,
	})
	if err != nil {
		return fmt.Errorf("model client: %w", err)
	}

	retriever, err := retrieval.New(retrieval.Options{
		IndexPath: cfg.Retrieval.IndexPath,
		EmbedFunc: retrieval.NewOpenAIEmbedding(cfg.LLM.APIKey, cfg.Retrieval.EmbeddingModel),
	})
	if err != nil {
		return fmt.Errorf("retrieval store: %w", err)
	}

	dispatcher, err := buildDispatcher(cfg, retriever, logger, metrics)
	if err != nil {
		return err
	}

	fileSvc, err := files.New(files.Options{
		Dir:       cfg.Files.Dir,
		Files:     stores.Files,
		Chunks:    stores.Chunks,
		Retriever: retriever,
		Chunker:   files.NewChunker(cfg.Files.ChunkSize, cfg.Files.ChunkOverlap),
	})
	if err != nil {
		return fmt.Errorf("files service: %w", err)
	}

	svc := service.New(service.Options{
		Stores:    stores,
		Queue:     runQueue,
		Logger:    logger,
		RunExpiry: cfg.Engine.RunExpiry,
	})

	modelRetry := retry.DefaultConfig()
	if cfg.LLM.MaxRetries > 0 {
		modelRetry.MaxAttempts = cfg.LLM.MaxRetries + 1
	}
	eng := engine.New(engine.Options{
		Stores:              stores,
		Queue:               runQueue,
		Model:               model,
		Dispatcher:          dispatcher,
		Logger:              logger,
		Metrics:             metrics,
		Tracer:              tracer,
		Workers:             cfg.Engine.Workers,
		Lease:               cfg.Queue.LeaseDuration,
		RenewInterval:       cfg.Queue.RenewInterval,
		RunTimeout:          cfg.Engine.RunTimeout,
		MaxModelCalls:       cfg.Engine.MaxModelCalls,
		MaxCorrectionRounds: cfg.Sandbox.MaxRounds,
		SweepInterval:       cfg.Engine.SweepInterval,
		ModelRetry:          modelRetry,
	})

	errCh := make(chan error, 3)

	go func() {
		logger.Info(ctx, "engine started", "workers", cfg.Engine.Workers)
		if err := eng.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("engine: %w", err)
		}
	}()

	var apiServer, metricsServer *http.Server
	if withAPI {
		handler := api.NewHandler(api.Options{
			Service:        svc,
			Files:          fileSvc,
			Logger:         logger,
			Metrics:        metrics,
			MaxUploadBytes: cfg.Server.MaxUploadBytes,
		})
		apiServer = &http.Server{
			Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.HTTPPort),
			Handler:           handler.Routes(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info(ctx, "api server listening", "addr", apiServer.Addr)
			if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("api server: %w", err)
			}
		}()
	}

	if cfg.Server.MetricsPort > 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.MetricsPort),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info(ctx, "metrics server listening", "addr", metricsServer.Addr)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info(ctx, "shutting down")
	case err := <-errCh:
		stop()
		logger.Error(ctx, "fatal error, shutting down", "err", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if apiServer != nil {
		_ = apiServer.Shutdown(shutdownCtx)
	}
	if metricsServer != nil {
		_ = metricsServer.Shutdown(shutdownCtx)
	}
	return nil
}

func openStores(cfg *config.Config) (*storage.Set, error) {
	if cfg.Database.URL == "" {
		return storage.NewMemory(), nil
	}
	pgCfg := storage.DefaultPostgresConfig()
	if cfg.Database.MaxConnections > 0 {
		pgCfg.MaxOpenConns = cfg.Database.MaxConnections
	}
	if cfg.Database.ConnMaxLifetime > 0 {
		pgCfg.ConnMaxLifetime = cfg.Database.ConnMaxLifetime
	}
	stores, err := storage.NewPostgres(cfg.Database.URL, pgCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return stores, nil
}

func openQueue(ctx context.Context, cfg *config.Config) (queue.Queue, error) {
	if cfg.Queue.RedisAddr == "" {
		return queue.NewMemory(), nil
	}
	q, err := queue.NewRedis(ctx, queue.RedisConfig{
		Addr:      cfg.Queue.RedisAddr,
		Password:  cfg.Queue.RedisPassword,
		DB:        cfg.Queue.RedisDB,
		Namespace: cfg.Queue.Namespace,
	})
	if err != nil {
		return nil, fmt.Errorf("open redis queue: %w", err)
	}
	return q, nil
}

func buildDispatcher(cfg *config.Config, retriever retrieval.Retriever, logger *observability.Logger, metrics *observability.Metrics) (*tools.Dispatcher, error) {
	opts := tools.DispatcherOptions{
		Retrieval: tools.NewRetrievalTool(tools.RetrievalOptions{
			Retriever:  retriever,
			TopK:       cfg.Retrieval.TopK,
			Budget:     cfg.Retrieval.MaxContextBytes,
			MaxRetries: cfg.Retrieval.MaxRetries,
		}),
		Action: tools.NewActionTool(tools.ActionOptions{
			Timeout:   cfg.Engine.ActionTimeout,
			MaxOutput: cfg.Engine.MaxToolOutput,
		}),
		Logger:  logger,
		Metrics: metrics,
	}
	if cfg.Sandbox.Enabled {
		sb, err := sandbox.NewLocal(sandbox.Options{
			Command: cfg.Sandbox.Command,
			WorkDir: cfg.Sandbox.WorkDir,
			Timeout: cfg.Sandbox.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("sandbox: %w", err)
		}
		opts.Interpreter = tools.NewInterpreterTool(sb, cfg.Engine.MaxToolOutput)
	}
	return tools.NewDispatcher(opts), nil
}

// runMigrate applies the schema to the configured database.
func runMigrate(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.Database.URL == "" {
		return errors.New("database url is required for migrations")
	}
	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	if err := storage.Migrate(ctx, db); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	fmt.Println("migrations applied")
	return nil
}
