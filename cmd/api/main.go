package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/KalpanieErandika/CosmoMed-Navigator-sub001/internal/api"
	"github.com/KalpanieErandika/CosmoMed-Navigator-sub001/internal/auth"
	"github.com/KalpanieErandika/CosmoMed-Navigator-sub001/internal/config"
	"github.com/KalpanieErandika/CosmoMed-Navigator-sub001/internal/database"
	"github.com/KalpanieErandika/CosmoMed-Navigator-sub001/internal/notify"
	"github.com/KalpanieErandika/CosmoMed-Navigator-sub001/internal/observability"
	"github.com/KalpanieErandika/CosmoMed-Navigator-sub001/internal/workflow"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Log, cfg.Telemetry.ServiceName)
	if err != nil {
		log.Fatalf("Create logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.SetupTracing(ctx, cfg.Telemetry)
	if err != nil {
		logger.Fatal("Setup tracing", zap.Error(err))
	}

	teed, shutdownLogs, err := observability.SetupLogExport(ctx, cfg.Telemetry, logger)
	if err != nil {
		logger.Fatal("Setup log export", zap.Error(err))
	}
	logger = teed
	defer logger.Sync()

	db, err := database.NewConnection(&cfg.Database)
	if err != nil {
		logger.Fatal("Connect to database", zap.Error(err))
	}
	defer db.Close()

	logger.Info("Connected to database successfully")

	channels := []notify.Channel{notify.NewInAppChannel(db)}
	if cfg.SMTP.Host != "" {
		channels = append(channels, notify.NewEmailChannel(cfg.SMTP))
		logger.Info("Email notifications enabled", zap.String("smtp_host", cfg.SMTP.Host))
	}
	var events *notify.EventChannel
	if len(cfg.Kafka.Brokers) > 0 {
		events = notify.NewEventChannel(notify.NewKafkaWriter(cfg.Kafka))
		channels = append(channels, events)
		logger.Info("Order events enabled",
			zap.Strings("brokers", cfg.Kafka.Brokers),
			zap.String("topic", cfg.Kafka.Topic),
		)
	}

	fanout := notify.NewFanout(logger, notify.Options{
		Timeout:        cfg.Notify.Timeout,
		MaxRetries:     cfg.Notify.MaxRetries,
		InitialBackoff: cfg.Notify.InitialBackoff,
	}, channels...)

	service := workflow.NewService(db, fanout, logger)
	handler := api.NewHandler(service, logger)
	health := func(ctx context.Context) error { return database.Ping(ctx, db) }

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      api.NewRouter(handler, auth.NewVerifier(cfg.Auth.JWTSecret), health, logger),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Server starting", zap.String("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			logger.Error("Server error", zap.Error(err))
		}
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown", zap.Error(err))
	}
	if err := fanout.Wait(shutdownCtx); err != nil {
		logger.Warn("Pending notifications abandoned", zap.Error(err))
	}
	if events != nil {
		if err := events.Close(); err != nil {
			logger.Warn("Close event writer", zap.Error(err))
		}
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("Shutdown tracing", zap.Error(err))
	}

	logger.Info("Server stopped")
	if err := shutdownLogs(shutdownCtx); err != nil {
		logger.Warn("Shutdown log export", zap.Error(err))
	}
}
