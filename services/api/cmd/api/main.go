package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"bookie/internal/telemetry"
	"bookie/internal/util"
	"bookie/pkg/ai"
	"bookie/pkg/queue"
	"bookie/pkg/storage"
	"bookie/pkg/store"
	"bookie/services/api/internal/app"
	"bookie/services/api/internal/config"
	"bookie/services/api/internal/googlebooks"
	"bookie/services/api/internal/hub"
	"bookie/services/api/internal/server"
)

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		util.Fatal(nil, "failed to load config", "err", err)
	}
	logger := util.InitLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := telemetry.InitTracer(ctx, telemetry.Config{
		Exporter:     cfg.Tracing.Exporter,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		ServiceName:  cfg.Tracing.ServiceName,
	})
	if err != nil {
		util.Fatal(logger, "failed to init tracing", "err", err)
	}

	sessionTTL, err := config.ParseDuration("sessionTTL", cfg.SessionTTL)
	if err != nil {
		util.Fatal(logger, "failed to parse session TTL", "err", err)
	}
	refreshTTL, err := config.ParseDuration("refreshTTL", cfg.RefreshTTL)
	if err != nil {
		util.Fatal(logger, "failed to parse refresh TTL", "err", err)
	}
	leeway, err := config.ParseDuration("jwtLeeway", cfg.JWTLeeway)
	if err != nil {
		util.Fatal(logger, "failed to parse JWT leeway", "err", err)
	}
	retryDelay, err := config.ParseDuration("queue.retryDelay", cfg.Queue.RetryDelay)
	if err != nil {
		util.Fatal(logger, "failed to parse queue retry delay", "err", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	pingCtx, cancelPing := context.WithTimeout(ctx, 5*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		cancelPing()
		util.Fatal(logger, "failed to connect to redis", "addr", cfg.RedisAddr, "err", err)
	}
	cancelPing()

	dataStore, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		util.Fatal(logger, "failed to init database", "err", err)
	}
	sessions, err := store.NewJWTSessionStore(cfg.JWTSecret, sessionTTL, store.NewRedisTokenRevoker(redisClient, refreshTTL), store.JWTOptions{
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		Leeway:   leeway,
	})
	if err != nil {
		util.Fatal(logger, "failed to init sessions", "err", err)
	}

	var generator ai.ChatStreamer
	switch cfg.GenerationProvider {
	case "ollama":
		generator = ai.NewOllamaGenerator(ai.NewOllamaClient(cfg.GenerationBaseURL), cfg.GenerationModel)
	default:
		generator = ai.NewOpenAICompatGenerator(cfg.GenerationBaseURL, cfg.GenerationAPIKey, cfg.GenerationModel)
	}

	var objects storage.ObjectStore
	if cfg.Storage.Endpoint != "" {
		minioStore, err := storage.NewMinioStore(ctx, storage.MinioConfig{
			Endpoint:      cfg.Storage.Endpoint,
			AccessKey:     cfg.Storage.AccessKey,
			SecretKey:     cfg.Storage.SecretKey,
			Bucket:        cfg.Storage.Bucket,
			UseSSL:        cfg.Storage.UseSSL,
			PublicBaseURL: cfg.Storage.PublicBaseURL,
		})
		if err != nil {
			util.Fatal(logger, "failed to init object storage", "err", err)
		}
		objects = minioStore
	} else {
		logger.Warn("object storage not configured, avatar uploads disabled")
	}

	var jobs queue.Queue
	switch cfg.Queue.Backend {
	case "local":
		logger.Warn("using in-process job queue, pending jobs are lost on restart")
		jobs = queue.NewLocalQueue(0, cfg.Queue.MaxRetries, retryDelay, logger)
	default:
		redisJobs, err := queue.NewRedisJobQueue(redisClient, queue.RedisQueueConfig{
			Stream:     cfg.Queue.Stream,
			Group:      cfg.Queue.Group,
			Consumer:   cfg.Queue.Consumer,
			MaxRetries: cfg.Queue.MaxRetries,
			RetryDelay: retryDelay,
			Logger:     logger,
		})
		if err != nil {
			util.Fatal(logger, "failed to init job queue", "err", err)
		}
		jobs = redisJobs
	}

	appCore, err := app.New(app.Config{
		Store:         dataStore,
		Sessions:      sessions,
		RefreshTokens: store.NewRedisRefreshTokenStore(redisClient, refreshTTL),
		Queue:         jobs,
		Objects:       objects,
		Catalog:       googlebooks.NewClient(cfg.GoogleBooksURL, cfg.GoogleBooksAPIKey),
		Generator:     generator,
		Logger:        logger,
	})
	if err != nil {
		util.Fatal(logger, "failed to init app", "err", err)
	}
	jobs.Start(ctx, cfg.Queue.Concurrency, appCore.HandleJob)

	realtime := hub.New(appCore, hub.Config{
		AllowedOrigins: cfg.AllowedOrigins,
		Logger:         logger,
	})
	go realtime.Run(ctx)

	httpServer, err := server.New(server.Config{
		App:                        appCore,
		Hub:                        realtime,
		Redis:                      redisClient,
		AllowedOrigins:             cfg.AllowedOrigins,
		TrustedProxies:             cfg.TrustedProxies,
		SignupRateLimitPerMinute:   cfg.SignupRateLimitPerMinute,
		LoginRateLimitPerMinute:    cfg.LoginRateLimitPerMinute,
		RefreshRateLimitPerMinute:  cfg.RefreshRateLimitPerMinute,
		PasswordRateLimitPerMinute: cfg.PasswordRateLimitPerMinute,
		AIChatRateLimitPerMinute:   cfg.AIChatRateLimitPerMinute,
		MaxAvatarBytes:             cfg.Storage.MaxAvatarBytes,
		Logger:                     logger,
	})
	if err != nil {
		util.Fatal(logger, "failed to init server", "err", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           httpServer.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// SSE and websocket responses outlive any fixed write deadline.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "err", err)
	}
	if err := shutdownTracer(shutdownCtx); err != nil {
		logger.Error("tracer shutdown failed", "err", err)
	}
	if err := redisClient.Close(); err != nil {
		logger.Warn("redis close failed", "err", err)
	}
}
