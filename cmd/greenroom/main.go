package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/greenroom-live/greenroom/pkg/chat"
	"github.com/greenroom-live/greenroom/pkg/conference"
	"github.com/greenroom-live/greenroom/pkg/config"
	"github.com/greenroom-live/greenroom/pkg/presence"
	"github.com/greenroom-live/greenroom/pkg/roles"
	"github.com/greenroom-live/greenroom/pkg/server"
	"github.com/greenroom-live/greenroom/pkg/session"
	"github.com/greenroom-live/greenroom/pkg/store"
	"github.com/greenroom-live/greenroom/pkg/telemetry"
	"github.com/greenroom-live/greenroom/pkg/twilio"
	"github.com/greenroom-live/greenroom/pkg/video"
	"github.com/greenroom-live/greenroom/pkg/webhook"
)

func main() {
	// A missing .env file is fine; the environment wins either way.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	logger := newLogger(cfg.Observability)

	shutdownTracing, err := telemetry.InitTracing(logger, cfg.Observability.ServiceName, cfg.Observability.ServiceVersion)
	if err != nil {
		logger.Fatalf("Failed to initialize tracing: %v", err)
	}

	st, closeStore, err := openStore(cfg.Storage, logger)
	if err != nil {
		logger.Fatalf("Failed to initialize storage: %v", err)
	}
	defer closeStore()

	var presenceStore webhook.PresenceStore
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			logger.Fatalf("Failed to connect to redis: %v", err)
		}
		presenceStore = presence.NewStore(rdb, cfg.Redis.PresenceTTL)
		logger.WithField("addr", cfg.Redis.Addr).Info("Presence tracking enabled")
	} else {
		logger.Info("No redis address configured, presence tracking disabled")
	}

	retryer := twilio.NewRetryer(twilio.RetryConfig{
		MaxAttempts:  cfg.Retry.MaxAttempts,
		InitialDelay: cfg.Retry.InitialDelay,
		MaxDelay:     cfg.Retry.MaxDelay,
	}, logger)

	engine := roles.NewEngine(st, logger, cfg.Cache.RoleSize, cfg.Cache.RoleTTL)
	configs := conference.NewConfigResolver(st, cfg.Cache.ConfigSize, cfg.Cache.ConfigTTL)
	clients := conference.NewClientCache(twilio.NewRESTClient, cfg.Cache.ClientSize, cfg.Cache.ConferenceTTL)
	reconciler := conference.NewReconciler(st, engine, logger)
	conferences := conference.NewResolver(st, configs, clients, reconciler, logger, cfg.Cache.ConferenceSize, cfg.Cache.ConferenceTTL)
	sessions := session.NewResolver(st, conferences)

	chatService := chat.NewService(st, engine, retryer, logger)
	chatService.SetTokenTTL(cfg.Tokens.ChatTTL)
	videoService := video.NewService(st, engine, retryer, logger)
	videoService.SetTokenTTL(cfg.Tokens.VideoTTL)

	opts := server.Options{
		Logger:      logger,
		Store:       st,
		Sessions:    sessions,
		Conferences: conferences,
		Roles:       engine,
		Chat:        chatService,
		Video:       videoService,
		ChatEvents:  webhook.NewChatMachine(st, engine, presenceStore, retryer, logger),
		VideoEvents: webhook.NewVideoMachine(st, logger),
	}
	if cfg.Observability.MetricsEnabled {
		registry := prometheus.NewRegistry()
		metrics := telemetry.NewMetrics(registry)
		opts.Metrics = metrics
		opts.Registry = registry
		retryer.SetMetrics(metrics)
		reconciler.SetMetrics(metrics)
		conferences.SetMetrics(metrics)
	}
	srv := server.New(opts)

	if !cfg.SkipInit {
		warmConferences(st, conferences, logger)
	}

	httpServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      telemetry.TraceHandler(srv.Handler(), cfg.Observability.ServiceName),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.WithField("addr", httpServer.Addr).Info("Server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Errorf("Server shutdown failed: %v", err)
	}
	if err := shutdownTracing(ctx); err != nil {
		logger.Errorf("Tracing shutdown failed: %v", err)
	}
	logger.Info("Server stopped")
}

func newLogger(obs config.ObservabilityConfig) *logrus.Logger {
	logger := logrus.New()
	if obs.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	level, err := logrus.ParseLevel(obs.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}

func openStore(cfg config.StorageConfig, logger *logrus.Logger) (store.Store, func(), error) {
	if cfg.Type == "memory" {
		logger.Warn("Using in-memory storage, all data is lost on restart")
		return store.NewMemoryStore(), func() {}, nil
	}

	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		return nil, nil, err
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, nil, err
	}
	if err := store.Migrate(db); err != nil {
		db.Close()
		return nil, nil, err
	}
	logger.Info("Connected to postgres")
	return store.NewPostgresStore(db), func() { db.Close() }, nil
}

// warmConferences resolves every known conference so caches are hot and
// provider-side roles exist before the first request. Failures are
// logged and skipped, a single broken tenant must not block startup.
func warmConferences(st store.Store, conferences *conference.Resolver, logger *logrus.Logger) {
	ctx := context.Background()
	all, err := st.ListConferences(ctx)
	if err != nil {
		logger.Errorf("Failed to list conferences for warm-up: %v", err)
		return
	}
	for _, conf := range all {
		if _, err := conferences.Resolve(ctx, conf.ID); err != nil {
			logger.WithError(err).WithField("conference", conf.ID).Warn("Conference warm-up failed")
			continue
		}
		logger.WithField("conference", conf.ID).Debug("Conference warmed")
	}
	logger.WithField("count", len(all)).Info("Conference warm-up complete")
}
