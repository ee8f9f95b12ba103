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

	"github.com/cuentasxpagar/backend/config"
	"github.com/cuentasxpagar/backend/handler"
	"github.com/cuentasxpagar/backend/middleware"
	"github.com/cuentasxpagar/backend/pkg/logger"
	"github.com/cuentasxpagar/backend/service"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func main() {
	// .env is optional; real deployments set the environment directly
	_ = godotenv.Load()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", "path", configPath, "error", err)
		os.Exit(1)
	}

	logger.Init(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})
	slog.Info("configuration loaded successfully", "storage", cfg.Storage.Driver, "model", cfg.Gemini.Model)

	if cfg.Gemini.APIKey == "" {
		slog.Warn("gemini api key is empty, every extraction will fail")
	}

	blobs, err := newBlobStorage(cfg)
	if err != nil {
		slog.Error("failed to initialize blob storage", "driver", cfg.Storage.Driver, "error", err)
		os.Exit(1)
	}

	store, closeStore, err := newStore(cfg)
	if err != nil {
		slog.Error("failed to initialize document store", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	ingestor := service.NewIngestor(store, blobs, service.NewGeminiClient(&cfg.Gemini))
	attachments := service.NewAttachmentService(store, blobs)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	router.Use(middleware.RequestID())
	router.Use(middleware.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.CORS(cfg.CORS.AllowedOrigins))
	router.Use(middleware.RateLimit(cfg.RateLimit.Requests, cfg.RateLimit.Window()))
	router.Use(middleware.BodyLimit(cfg.Upload.MaxBytes()))
	router.MaxMultipartMemory = cfg.Upload.MaxBytes()

	handler.RegisterRoutes(router,
		handler.NewCompanyHandler(store),
		handler.NewInvoiceHandler(ingestor, attachments, store),
	)

	// WriteTimeout leaves room for the extraction call
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: cfg.Gemini.Timeout() + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("server starting", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("failed to start server", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("shutting down server...")

	// in-flight ingestions get the extraction timeout to finish or compensate
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Gemini.Timeout()+5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
		return
	}

	slog.Info("server exited gracefully")
}

func newBlobStorage(cfg *config.Config) (service.BlobStorage, error) {
	switch cfg.Storage.Driver {
	case config.StorageMinio:
		s, err := service.NewMinioStorage(&cfg.Minio)
		if err != nil {
			return nil, err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		slog.Info("using minio blob storage", "endpoint", cfg.Minio.Endpoint, "bucket", cfg.Minio.Bucket)
		return s, nil
	default:
		slog.Info("using local blob storage", "dir", cfg.Storage.LocalDir)
		return service.NewLocalStorage(cfg.Storage.LocalDir)
	}
}

func newStore(cfg *config.Config) (service.Store, func(), error) {
	if cfg.Database.DSN == "" {
		slog.Warn("no database configured, records are kept in memory")
		return service.NewMemoryStore(), func() {}, nil
	}

	s, err := service.NewPostgresStore(cfg.Database.DSN)
	if err != nil {
		return nil, nil, err
	}
	return s, func() {
		if err := s.Close(); err != nil {
			slog.Error("failed to close database", "error", err)
		}
	}, nil
}
