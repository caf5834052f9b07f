package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/guild-achievements/internal/config"
	"github.com/guild-achievements/internal/docstore"
	"github.com/guild-achievements/internal/handler"
	"github.com/guild-achievements/internal/kafka"
	"github.com/guild-achievements/internal/postgres"
	"github.com/guild-achievements/internal/service"
	"github.com/guild-achievements/internal/storage"
	"github.com/guild-achievements/internal/websocket"
	"github.com/guild-achievements/internal/worker"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, cfgErr := config.Load(*configPath)
	if cfgErr != nil {
		cfg = config.DefaultConfig()
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(&cfg.Log),
	}))
	slog.SetDefault(logger)

	if cfgErr != nil {
		logger.Warn("failed to load config file, using defaults", "error", cfgErr)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("opening storage backend", "backend", cfg.Storage.Backend)
	backend, err := storage.Open(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	store := docstore.NewManager(backend, logger)
	defer store.Close()

	var opts []service.Option
	var eventLog handler.EventLog
	if cfg.Audit.Enabled {
		repo, closeRepo, err := openAuditLog(ctx, cfg, backend, logger)
		if err != nil {
			return err
		}
		defer closeRepo()
		opts = append(opts, service.WithAuditLog(repo))
		eventLog = repo
	}

	achievementService := service.NewAchievementService(store, &cfg.Achievements, logger, opts...)

	wsHub := websocket.NewHub(logger)
	go wsHub.Run()
	defer wsHub.Stop()
	achievementService.OnProgress(wsHub.BroadcastProgress)
	achievementService.OnComplete(wsHub.BroadcastCompletion)

	g, gctx := errgroup.WithContext(ctx)

	// a corrupted JSON file stops the whole server
	if file, ok := backend.(*docstore.JSONFile); ok && cfg.Storage.JSON.IntegrityCheckEnabled() {
		failures := make(chan error, 1)
		checker := worker.NewIntegrityChecker(file, cfg.Storage.JSON.CheckingInterval, func(err error) {
			select {
			case failures <- err:
			default:
			}
		}, logger)

		if err := checker.Start(gctx); err != nil {
			return fmt.Errorf("starting integrity checker: %w", err)
		}
		defer checker.Stop()

		g.Go(func() error {
			select {
			case err := <-failures:
				return fmt.Errorf("storage integrity check: %w", err)
			case <-gctx.Done():
				return nil
			}
		})
	}

	if cfg.Kafka.Enabled {
		logger.Info("initializing Kafka consumer",
			"brokers", cfg.Kafka.Brokers,
			"topic", cfg.Kafka.Topic,
		)
		consumer, err := kafka.NewConsumer(&cfg.Kafka, achievementService, logger)
		if err != nil {
			logger.Warn("failed to create Kafka consumer, continuing without Kafka", "error", err)
		} else if err := consumer.Start(); err != nil {
			logger.Warn("failed to start Kafka consumer, continuing without Kafka", "error", err)
		} else {
			defer func() {
				if err := consumer.Stop(); err != nil {
					logger.Error("failed to stop Kafka consumer", "error", err)
				}
			}()
		}
	}

	httpHandler := handler.NewHandler(achievementService, wsHub, eventLog, logger)
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      httpHandler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g.Go(func() error {
		logger.Info("starting HTTP server", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// openAuditLog reuses the storage repository when PostgreSQL is already the
// backend and opens a dedicated pool otherwise
func openAuditLog(ctx context.Context, cfg *config.Config, backend docstore.Backend, logger *slog.Logger) (*postgres.Repository, func(), error) {
	if repo, ok := backend.(*postgres.Repository); ok {
		return repo, func() {}, nil
	}

	repo, err := postgres.NewRepository(&cfg.Postgres, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting audit log: %w", err)
	}
	if err := repo.RunMigrations(ctx); err != nil {
		_ = repo.Close()
		return nil, nil, fmt.Errorf("migrating audit log: %w", err)
	}
	return repo, func() { _ = repo.Close() }, nil
}

func logLevel(cfg *config.LogConfig) slog.Level {
	if cfg.Debug {
		return slog.LevelDebug
	}
	switch strings.ToLower(cfg.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
