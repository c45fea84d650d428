// Package pipeline runs the telemetry consumer: one worker per sensor-type
// queue, persisting validated readings to PostgreSQL and mirroring derived
// state into Redis, with liveness and readiness endpoints on the side.
package pipeline

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

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"

	"citysense.dev/pipeline/internal/cache"
	"citysense.dev/pipeline/internal/notify"
	"citysense.dev/pipeline/internal/sensor"
	"citysense.dev/pipeline/internal/store"
	"citysense.dev/pipeline/pkg/metrics"
	"citysense.dev/pipeline/pkg/mq"
)

const httpShutdownTimeout = 5 * time.Second

// Server wires the per-queue workers to the database, the cache and the
// HTTP health endpoints, and manages their lifecycle.
type Server struct {
	logger     *slog.Logger
	config     *ServerConfig
	db         *gorm.DB
	redis      *redis.Client
	workers    []*Worker
	httpServer *http.Server
}

// ServerConfig holds the configuration for the Server.
type ServerConfig struct {
	Logger *slog.Logger

	// Database configuration
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// RabbitMQ configuration
	RabbitMQURL string
	AirQueue    string
	SoundQueue  string
	WaterQueue  string

	// Redis configuration
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Webhook configuration; empty URL disables alert forwarding.
	WebhookURL   string
	WebhookToken string

	// HTTP port for /healthz, /readyz and /metrics
	HTTPPort int

	// FailureBudget is the consecutive-persistence-failure limit before
	// the process reports itself unhealthy. Zero means DefaultFailureBudget.
	FailureBudget int
}

// NewServer creates a new Server instance.
func NewServer(cfg *ServerConfig) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("server config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.RabbitMQURL == "" {
		return nil, errors.New("rabbitmq URL cannot be empty")
	}

	if cfg.AirQueue == "" || cfg.SoundQueue == "" || cfg.WaterQueue == "" {
		return nil, errors.New("all three queue names must be set")
	}

	if cfg.DBHost == "" {
		return nil, errors.New("database host cannot be empty")
	}

	if cfg.DBPort <= 0 {
		return nil, errors.New("database port must be positive")
	}

	if cfg.DBUser == "" {
		return nil, errors.New("database user cannot be empty")
	}

	if cfg.DBName == "" {
		return nil, errors.New("database name cannot be empty")
	}

	if cfg.RedisAddr == "" {
		return nil, errors.New("redis address cannot be empty")
	}

	if cfg.HTTPPort <= 0 {
		return nil, errors.New("HTTP port must be positive")
	}

	return &Server{
		logger: cfg.Logger,
		config: cfg,
	}, nil
}

// queueForKind maps each sensor kind to its configured queue name.
func (s *Server) queueForKind(kind sensor.Kind) string {
	switch kind {
	case sensor.KindAir:
		return s.config.AirQueue
	case sensor.KindSound:
		return s.config.SoundQueue
	default:
		return s.config.WaterQueue
	}
}

// Run starts the consumer pipeline and blocks until shutdown.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting pipeline server")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	// Initialize database
	db, err := store.NewDB(&store.DBConfig{
		Logger:   s.logger,
		Host:     s.config.DBHost,
		Port:     s.config.DBPort,
		User:     s.config.DBUser,
		Password: s.config.DBPassword,
		DBName:   s.config.DBName,
		SSLMode:  s.config.DBSSLMode,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	s.db = db

	persister, err := store.New(db, s.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}

	// Initialize cache. A dead cache is tolerated at startup: the mirror
	// is best-effort and the relational store is the source of truth.
	s.redis = cache.NewClient(s.config.RedisAddr, s.config.RedisPassword, s.config.RedisDB)
	if err := s.redis.Ping(ctx).Err(); err != nil {
		s.logger.Warn("redis unreachable at startup, cache writes will fail until it recovers",
			"addr", s.config.RedisAddr,
			"error", err,
		)
	}

	cacheWriter, err := cache.NewWriter(&cache.WriterConfig{
		Client: s.redis,
		Logger: s.logger,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize cache writer: %w", err)
	}

	// Optional alert webhook
	var notifier AlertNotifier
	if s.config.WebhookURL != "" {
		webhook, err := notify.NewWebhook(&notify.WebhookConfig{
			Logger:    s.logger,
			URL:       s.config.WebhookURL,
			AuthToken: s.config.WebhookToken,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize webhook notifier: %w", err)
		}
		notifier = webhook
	}

	// Metrics and health
	pipelineMetrics := metrics.NewPipelineMetrics("pipeline")
	mqMetrics := metrics.NewMQMetrics("pipeline")

	health := NewHealth(s.config.FailureBudget,
		Check{
			Name: "postgres",
			Probe: func(ctx context.Context) error {
				sqlDB, err := s.db.DB()
				if err != nil {
					return err
				}
				return sqlDB.PingContext(ctx)
			},
		},
		Check{
			Name: "redis",
			Probe: func(ctx context.Context) error {
				return s.redis.Ping(ctx).Err()
			},
		},
	)

	// One queue client and worker per sensor kind
	for _, kind := range sensor.Kinds() {
		queueName := s.queueForKind(kind)

		mqClient := mq.New(queueName, s.config.RabbitMQURL, s.logger)
		mqClient.SetMetrics(mqMetrics)

		worker, err := NewWorker(&WorkerConfig{
			Logger:    s.logger,
			Kind:      kind,
			QueueName: queueName,
			Source:    mqClient,
			Persister: persister,
			Cache:     cacheWriter,
			Notifier:  notifier,
			Metrics:   pipelineMetrics,
			Health:    health,
		})
		if err != nil {
			return fmt.Errorf("failed to create %s worker: %w", kind, err)
		}
		s.workers = append(s.workers, worker)
	}

	// Wait for MQ clients to be ready
	time.Sleep(2 * time.Second)

	for _, worker := range s.workers {
		if err := worker.Start(ctx); err != nil {
			return fmt.Errorf("failed to start worker: %w", err)
		}
	}

	// HTTP server for health and metrics
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.HTTPPort),
		Handler:           health.Router(metrics.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	httpErr := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "address", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErr <- fmt.Errorf("HTTP server error: %w", err)
		}
		close(httpErr)
	}()

	s.logger.Info("pipeline server started successfully")

	// Wait for shutdown signal or HTTP error
	select {
	case sig := <-sigChan:
		s.logger.Info("received shutdown signal", "signal", sig.String())
		cancel()
	case <-ctx.Done():
		s.logger.Info("context canceled")
	case err := <-httpErr:
		if err != nil {
			s.logger.Error("HTTP server error", "error", err)
			cancel()
			return err
		}
	}

	return s.Shutdown()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() error {
	s.logger.Info("shutting down pipeline server")

	var shutdownErr error

	// Stop workers first so no message is processed against closing stores.
	for _, worker := range s.workers {
		if err := worker.Stop(); err != nil {
			s.logger.Error("failed to stop worker", "error", err)
			shutdownErr = appendErr(shutdownErr, fmt.Errorf("worker shutdown error: %w", err))
		}
	}

	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Error("failed to shut down HTTP server", "error", err)
			shutdownErr = appendErr(shutdownErr, fmt.Errorf("HTTP shutdown error: %w", err))
		}
	}

	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Error("failed to close redis client", "error", err)
			shutdownErr = appendErr(shutdownErr, fmt.Errorf("redis close error: %w", err))
		}
	}

	if s.db != nil {
		if err := store.CloseDB(s.db, s.logger); err != nil {
			s.logger.Error("failed to close database", "error", err)
			shutdownErr = appendErr(shutdownErr, fmt.Errorf("database close error: %w", err))
		}
	}

	if shutdownErr != nil {
		s.logger.Error("pipeline server shutdown completed with errors", "error", shutdownErr)
		return shutdownErr
	}

	s.logger.Info("pipeline server shutdown completed successfully")
	return nil
}

func appendErr(existing, next error) error {
	if existing == nil {
		return next
	}
	return fmt.Errorf("%w; %w", existing, next)
}
