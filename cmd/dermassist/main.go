package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/dermassist/internal/api/router"
	"github.com/wolfman30/dermassist/internal/app/bootstrap"
	appconfig "github.com/wolfman30/dermassist/internal/config"
	"github.com/wolfman30/dermassist/internal/diagnosis"
	"github.com/wolfman30/dermassist/internal/observability/metrics"
	"github.com/wolfman30/dermassist/internal/results"
	"github.com/wolfman30/dermassist/internal/session"
	"github.com/wolfman30/dermassist/internal/speech"
	"github.com/wolfman30/dermassist/pkg/logging"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := appconfig.Load()
	logger := logging.NewWithWriter(cfg.LogLevel, cfg.LogFormat, os.Stdout)
	logger.Info("starting dermassist",
		"env", cfg.Env,
		"port", cfg.Port,
		"diagnosis_api", cfg.DiagnosisAPIURL,
	)

	ctx := context.Background()
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      a.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	// In-flight classifications finish and persist before resources close.
	a.close()

	logger.Info("server stopped")
	fmt.Println("Server exited gracefully")
}

type app struct {
	handler http.Handler
	manager *session.Manager
	stores  *bootstrap.ResultStores
	redis   *redis.Client
}

func (a *app) close() {
	a.manager.Close()
	a.stores.Close()
	if a.redis != nil {
		_ = a.redis.Close()
	}
}

func newApp(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (*app, error) {
	metricsHandler, workflowMetrics := setupMetrics()

	client, err := diagnosis.New(diagnosis.Config{
		BaseURL: cfg.DiagnosisAPIURL,
		Timeout: cfg.DiagnosisTimeout,
		Logger:  logger,
	})
	if err != nil {
		return nil, fmt.Errorf("diagnosis client: %w", err)
	}

	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	if redisClient != nil {
		logger.Info("speech cache enabled", "ttl", cfg.SpeechCacheTTL.String())
	}
	synth := speech.NewCache(client, redisClient, cfg.SpeechCacheTTL, logger)

	stores, err := bootstrap.BuildResultStores(ctx, cfg, logger)
	if err != nil {
		if redisClient != nil {
			_ = redisClient.Close()
		}
		return nil, err
	}
	recorder := results.NewRecorder(stores.Store, cfg.PersistTimeout, logger, workflowMetrics)

	manager := session.NewManager(session.Deps{
		Classifier:  client,
		Synthesizer: synth,
		Recorder:    recorder,
		Chat:        client,
		Metrics:     workflowMetrics,
		Logger:      logger,
	}, cfg.SessionTTL)

	sessions := session.NewHandler(session.HandlerConfig{
		Manager:        manager,
		MaxImageBytes:  int64(cfg.MaxImageBytes),
		AllowedOrigins: cfg.CORSAllowedOrigins,
		Logger:         logger,
	})

	handler := router.New(&router.Config{
		Logger:             logger,
		Sessions:           sessions,
		Backend:            client,
		MetricsHandler:     metricsHandler,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
	})

	return &app{handler: handler, manager: manager, stores: stores, redis: redisClient}, nil
}

func setupMetrics() (http.Handler, *metrics.WorkflowMetrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	workflowMetrics := metrics.NewWorkflowMetrics(reg)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), workflowMetrics
}
