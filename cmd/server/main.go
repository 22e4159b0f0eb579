// Package main provides the entry point for the recommendation service.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/spoton/recommendation-service/internal/agents"
	"github.com/spoton/recommendation-service/internal/config"
	"github.com/spoton/recommendation-service/internal/database"
	"github.com/spoton/recommendation-service/internal/events"
	"github.com/spoton/recommendation-service/internal/export"
	"github.com/spoton/recommendation-service/internal/llm"
	"github.com/spoton/recommendation-service/internal/observability"
	"github.com/spoton/recommendation-service/internal/repository"
	"github.com/spoton/recommendation-service/internal/run"
	"github.com/spoton/recommendation-service/internal/search"
	"github.com/spoton/recommendation-service/internal/server"
	httpserver "github.com/spoton/recommendation-service/internal/server/http"
	"github.com/spoton/recommendation-service/internal/workflow"
)

func main() {
	if err := runServer(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func runServer() error {
	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Set up structured logging.
	logger := observability.NewLogger(observability.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		AddSource:  cfg.Logging.AddSource,
		TimeFormat: cfg.Logging.TimeFormat,
	})
	logger = logger.With().Str("component", "server").Logger()
	logger.Info().Msg("spoton recommendation service starting")

	var metrics *observability.Metrics
	if cfg.Metrics.Enabled {
		metrics = observability.NewMetrics(cfg.Metrics.Namespace)
	}

	// Set up context with graceful shutdown via OS signals.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect to PostgreSQL.
	db, err := database.New(ctx, &cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()
	logger.Info().Msg("database connection established")

	// Run migrations if configured.
	if cfg.Database.MigrationAutoRun {
		if err := migrate(db, cfg.Database.MigrationPath, logger); err != nil {
			return err
		}
	}

	store := repository.NewPgRunRepository(db)

	// Collaborators.
	searcher, err := search.NewTavilyClient(search.Config{
		BaseURL:        cfg.Search.BaseURL,
		APIKey:         cfg.Search.APIKey,
		SearchTimeout:  cfg.Search.SearchTimeout,
		ExtractTimeout: cfg.Search.ExtractTimeout,
		RateLimit:      cfg.Search.RateLimit,
		BurstSize:      cfg.Search.BurstSize,
		MaxRetries:     cfg.Search.MaxRetries,
		RetryDelay:     cfg.Search.RetryDelay,
	}, metrics, logger)
	if err != nil {
		return fmt.Errorf("create search client: %w", err)
	}

	llmClient, err := llm.NewClient(llm.FactoryConfig{
		Provider:    cfg.LLM.Provider,
		Temperature: cfg.LLM.Temperature,
		Timeout:     cfg.LLM.Timeout,
		MaxRetries:  cfg.LLM.MaxRetries,
		OpenAI: llm.OpenAIConfig{
			APIKey:  cfg.LLM.OpenAI.APIKey,
			Model:   cfg.LLM.OpenAI.Model,
			BaseURL: cfg.LLM.OpenAI.BaseURL,
		},
		Anthropic: llm.AnthropicConfig{
			APIKey:  cfg.LLM.Anthropic.APIKey,
			Model:   cfg.LLM.Anthropic.Model,
			BaseURL: cfg.LLM.Anthropic.BaseURL,
		},
	})
	if err != nil {
		return fmt.Errorf("create LLM client: %w", err)
	}
	llmClient = llm.Instrument(llmClient, metrics, logger)
	logger.Info().
		Str("provider", llmClient.Provider()).
		Str("model", llmClient.Model()).
		Msg("LLM client configured")

	// Recommendation graph and executor.
	graph, err := agents.BuildGraph(agents.Deps{
		Search: searcher,
		LLM:    llmClient,
		Logger: logger,
	}, graphConfig(cfg.Workflow, cfg.Search))
	if err != nil {
		return fmt.Errorf("build recommendation graph: %w", err)
	}

	executor, err := workflow.NewExecutor(
		workflow.WithPoolSize(cfg.Workflow.PoolSize),
		workflow.WithMaxSteps(cfg.Workflow.MaxSteps),
		workflow.WithLogger(logger),
		workflow.WithMetrics(metrics),
	)
	if err != nil {
		return fmt.Errorf("create executor: %w", err)
	}
	defer executor.Close()

	// Kafka fan-out of run and node events.
	deps := run.Deps{
		Store:    store,
		Executor: executor,
		Graph:    graph,
		Metrics:  metrics,
		Logger:   logger,
	}
	var publisher *events.Publisher
	if cfg.Kafka.Enabled {
		publisher = events.NewPublisher(events.PublisherConfig{
			Brokers:      cfg.Kafka.Brokers,
			Topic:        cfg.Kafka.EventTopic,
			BatchSize:    cfg.Kafka.BatchSize,
			BatchTimeout: cfg.Kafka.BatchTimeout,
		}, metrics, logger)
		defer func() {
			if err := publisher.Close(); err != nil {
				logger.Error().Err(err).Msg("failed to close event publisher")
			}
		}()
		deps.Sink = events.NewMultiSink(store, logger, publisher)
		deps.Publisher = publisher
		logger.Info().
			Strs("brokers", cfg.Kafka.Brokers).
			Str("topic", cfg.Kafka.EventTopic).
			Msg("kafka event publisher enabled")
	}

	controller, err := run.NewController(deps, run.Config{RunTimeout: cfg.Workflow.RunTimeout})
	if err != nil {
		return fmt.Errorf("create run controller: %w", err)
	}

	// Channel to collect server errors.
	errCh := make(chan error, 4)

	if cfg.Kafka.Enabled {
		listener := events.NewControlListener(events.ListenerConfig{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.ControlTopic,
			GroupID: cfg.Kafka.GroupID,
		}, controller, logger)
		defer func() {
			if err := listener.Close(); err != nil {
				logger.Error().Err(err).Msg("failed to close control listener")
			}
		}()
		go func() {
			if err := listener.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("control listener error: %w", err)
			}
		}()
	}

	// gRPC health and reflection.
	grpcAddr := cfg.Server.GRPCAddress()
	grpcListener, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		return fmt.Errorf("listen on gRPC port: %w", err)
	}
	grpcSrv := server.NewGRPCServer(server.Config{Address: grpcAddr}, db, logger)

	// HTTP REST API.
	httpCfg := httpserver.Config{
		Address:         cfg.Server.HTTPAddress(),
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     2 * time.Minute,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		CORSOrigins:     cfg.Server.CORSOrigins,
		Stream: httpserver.StreamConfig{
			PollInterval: cfg.Stream.PollInterval,
			IdleTimeout:  cfg.Stream.IdleTimeout,
			MaxDuration:  cfg.Stream.MaxDuration,
			Heartbeat:    cfg.Stream.Heartbeat,
		},
	}
	httpSrv := httpserver.NewServer(httpCfg, httpserver.Deps{
		Runs:     controller,
		Events:   store,
		Health:   db,
		Exporter: export.New(),
		Metrics:  metrics,
		Logger:   logger,
	})

	// Set up Prometheus metrics handler on a separate port if configured.
	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		metricsMux := http.NewServeMux()
		metricsMux.Handle(cfg.Metrics.Path, promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress(),
			Handler:      metricsMux,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		}
	}

	go func() {
		if err := grpcSrv.Serve(ctx, grpcListener); err != nil {
			errCh <- err
		}
	}()

	go func() {
		logger.Info().
			Str("address", httpCfg.Address).
			Msg("HTTP REST API server starting")
		if err := httpSrv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	if metricsServer != nil {
		go func() {
			logger.Info().
				Str("address", metricsServer.Addr).
				Msg("metrics server starting")
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server error: %w", err)
			}
		}()
	}

	readyLog := logger.Info().
		Str("grpc_address", grpcAddr).
		Str("http_address", httpCfg.Address)
	if metricsServer != nil {
		readyLog = readyLog.Str("metrics_address", metricsServer.Addr)
	}
	readyLog.Msg("spoton recommendation service is ready")

	// Wait for shutdown signal or server error.
	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info().Msg("received shutdown signal")
	case serveErr = <-errCh:
		logger.Error().Err(serveErr).Msg("server error")
	}

	// Graceful shutdown.
	logger.Info().Msg("shutting down spoton recommendation service")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	// Stop accepting requests before cancelling in-flight runs so terminal
	// statuses are still persisted.
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	}
	if err := controller.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Int("active_runs", controller.Active()).Msg("run controller shutdown error")
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("metrics server shutdown error")
		}
	}
	grpcSrv.Shutdown(shutdownCtx)

	logger.Info().Msg("spoton recommendation service shutdown complete")
	return serveErr
}

// migrate applies pending migrations over the service pool.
func migrate(db *database.DB, path string, logger zerolog.Logger) error {
	migrator, err := database.NewMigrator(db, path, logger)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil {
			logger.Error().Err(closeErr).Msg("failed to close migrator")
		}
	}()

	if err := migrator.Up(); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// graphConfig maps service configuration onto the recommendation graph.
func graphConfig(w config.WorkflowConfig, s config.SearchConfig) agents.Config {
	return agents.Config{
		GapThreshold:       w.GapThreshold,
		MaxPasses:          w.MaxPasses,
		EnrichBatchSize:    w.EnrichBatchSize,
		EnrichContentLimit: w.EnrichContentLimit,
		SearchConcurrency:  s.Concurrency,
		SearchRetries:      w.SearchRetries,
		Timeouts: agents.Timeouts{
			Parse:       w.Timeouts.Parse,
			Restaurants: w.Timeouts.Restaurants,
			Attractions: w.Timeouts.Attractions,
			Hotels:      w.Timeouts.Hotels,
			Transport:   w.Timeouts.Transport,
			Normalize:   w.Timeouts.Normalize,
			Enrich:      w.Timeouts.Enrich,
			Report:      w.Timeouts.Report,
		},
	}
}
