package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"harvester-telemetry-backend/config"
	"harvester-telemetry-backend/internal/api"
	"harvester-telemetry-backend/internal/broker"
	"harvester-telemetry-backend/internal/db"
	"harvester-telemetry-backend/internal/ingest"
	"harvester-telemetry-backend/internal/logging"
	"harvester-telemetry-backend/internal/store"
	"harvester-telemetry-backend/internal/upstream"
)

func main() {
	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml" // Default path for local development
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("failed to load configuration from %s: %v", configPath, err)
	}

	logger := logging.New(&cfg.Logging, "harvester-telemetry")
	logger.Info().Str("path", configPath).Str("env", cfg.Env).Msg("configuration loaded")

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Initialize database
	gormDB, err := db.Init(&cfg.Database, logging.Component(logger, "db"))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize database")
	}
	appStore := store.NewGormStore(gormDB)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pipeline := ingest.New(cfg.Ingest, appStore, logging.Component(logger, "ingest"))
	pipeline.Start(ctx)

	mqttBroker, err := broker.New(cfg.MQTT, pipeline, logging.Component(logger, "broker"))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create MQTT broker")
	}
	if err := mqttBroker.Start(); err != nil {
		logger.Fatal().Err(err).Msg("failed to start MQTT broker")
	}

	var subscriber api.DeviceSubscriber
	var upstreamClient *upstream.Client
	if cfg.Upstream.Enabled {
		upstreamClient = upstream.New(cfg.Upstream, pipeline, logging.Component(logger, "upstream"))
		if err := upstreamClient.Start(); err != nil {
			logger.Error().Err(err).Msg("upstream client disabled")
			upstreamClient = nil
		} else {
			subscriber = upstreamClient
		}
	}

	router := api.NewRouter(appStore, cfg.Server, subscriber, logging.Component(logger, "http"))
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info().Int("port", cfg.Server.Port).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("HTTP server ListenAndServe")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	<-stop
	logger.Info().Msg("shutdown signal received, stopping services")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown")
	}
	if err := mqttBroker.Close(); err != nil {
		logger.Error().Err(err).Msg("MQTT broker close")
	}
	if upstreamClient != nil {
		upstreamClient.Stop()
	}

	// Workers drain what is already queued before returning.
	cancel()
	pipeline.Wait()

	if sqlDB, err := gormDB.DB(); err == nil {
		_ = sqlDB.Close()
	}
	logger.Info().Msg("server gracefully stopped")
}
