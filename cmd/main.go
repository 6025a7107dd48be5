package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"convertapi/internal/config"
	"convertapi/internal/infrastructure"
	"convertapi/internal/interfaces"
	httpapi "convertapi/internal/interfaces/http"
	"convertapi/internal/repository"
	"convertapi/internal/usecases"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/cors"
)

const shutdownTimeout = 30 * time.Second

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Fatalf("load .env: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	base, err := infrastructure.NewLogger(infrastructure.LoggerConfig{Level: cfg.LogLevel, Dev: cfg.LogDev})
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer base.Sync()
	logger := base.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg)
	if err != nil {
		logger.Fatalw("open store", "driver", cfg.StoreDriver, "error", err)
	}
	defer store.Close()

	artifacts, err := openArtifacts(ctx, cfg)
	if err != nil {
		logger.Fatalw("open artifact store", "driver", cfg.ArtifactDriver, "error", err)
	}

	var notifier interfaces.Notifier
	if cfg.TelegramEnabled() {
		tg, err := infrastructure.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramAlertChatID, cfg.TelegramNotifyCompleted)
		if err != nil {
			logger.Warnw("telegram notifier disabled", "error", err)
		} else {
			notifier = tg
		}
	}

	metrics := infrastructure.NewMetrics()
	engine := infrastructure.NewSimulatedEngine(artifacts, cfg.EngineDelay)

	// Initialize Usecases & Services
	tokens := usecases.NewTokenIssuer(cfg.JWTSecret, cfg.SessionTTL)
	apiKeys := usecases.NewAPIKeyUsecase(store)
	auth := usecases.NewAuthUsecase(store, tokens, apiKeys)
	ledger := usecases.NewQuotaLedger(store, metrics)
	keyVerifier := usecases.NewAPIKeyVerifier(store, store, logger)
	gateway := usecases.NewCredentialGateway(keyVerifier, usecases.NewSessionVerifier(store, tokens), ledger)
	registry := usecases.NewJobRegistry(store)

	dispatcher := usecases.NewDispatcher(registry, engine, artifacts, notifier, metrics, logger, usecases.DispatcherConfig{
		Workers:   cfg.Workers,
		QueueSize: cfg.QueueSize,
		Timeout:   cfg.ConversionTimeout,
	})
	dispatcher.Start()

	conversions := usecases.NewConversionUsecase(registry, ledger, dispatcher, artifacts, metrics, logger, cfg.AllowAnonymous)
	status := usecases.NewStatusUsecase(registry, artifacts, tokens, cfg.PublicBaseURL, cfg.DownloadLinkTTL)
	dashboard := usecases.NewDashboardUsecase(store, ledger, registry)

	// Ensure Admin User
	if created, err := auth.EnsureAdmin(ctx, cfg.AdminEmail, cfg.AdminPassword); err != nil {
		logger.Warnw("ensure admin user", "error", err)
	} else if created {
		logger.Infow("admin user created", "email", cfg.AdminEmail)
	}

	limiter := infrastructure.NewKeyedLimiter(cfg.RequestRate, cfg.RequestBurst, 10*time.Minute)
	defer limiter.Stop()
	anonLimiter := infrastructure.NewKeyedLimiter(cfg.AnonRate, cfg.AnonBurst, 10*time.Minute)
	defer anonLimiter.Stop()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	middleware := httpapi.NewMiddleware(gateway, limiter, anonLimiter, metrics, logger, cfg.AllowAnonymous)
	httpapi.SetupRoutes(r, httpapi.Services{
		Auth:           auth,
		APIKeys:        apiKeys,
		Conversions:    conversions,
		Status:         status,
		Dashboard:      dashboard,
		Metrics:        metrics,
		Logger:         logger,
		MaxUploadBytes: cfg.MaxUploadBytes(),
	}, middleware)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		ExposedHeaders: []string{"Content-Disposition", "Retry-After", httpapi.DownloadURLHeader},
		MaxAge:         600,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           corsHandler.Handler(r),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       5 * time.Minute,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       2 * time.Minute,
	}

	go func() {
		logger.Infow("server starting", "port", cfg.Port, "env", cfg.Environment,
			"store", cfg.StoreDriver, "artifacts", cfg.ArtifactDriver, "workers", cfg.Workers)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorw("server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnw("http shutdown", "error", err)
	}
	if err := dispatcher.Shutdown(shutdownCtx); err != nil {
		logger.Warnw("dispatcher shutdown", "error", err)
	}
	keyVerifier.Wait()
	logger.Info("shutdown complete")
}

func openStore(ctx context.Context, cfg *config.Config) (interfaces.Store, error) {
	switch cfg.StoreDriver {
	case "postgres":
		client, err := infrastructure.NewPostgresClient(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return repository.NewPostgresStore(client.Pool), nil
	case "sqlite":
		store, err := repository.NewSQLiteStore(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return repository.NewMemoryStore(), nil
	}
}

func openArtifacts(ctx context.Context, cfg *config.Config) (interfaces.ArtifactStore, error) {
	if cfg.ArtifactDriver == "s3" {
		s3, err := infrastructure.NewS3ArtifactStore(ctx, infrastructure.S3Config{
			Endpoint:  cfg.S3Endpoint,
			Region:    cfg.S3Region,
			Bucket:    cfg.S3Bucket,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Prefix:    cfg.S3Prefix,
		})
		if err != nil {
			return nil, err
		}
		return s3, nil
	}
	local, err := infrastructure.NewLocalArtifactStore(cfg.UploadDir)
	if err != nil {
		return nil, err
	}
	return local, nil
}
