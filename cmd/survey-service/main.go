package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hard-gainer/survey-service/internal/api"
	"github.com/hard-gainer/survey-service/internal/config"
	"github.com/hard-gainer/survey-service/internal/db"
	"github.com/hard-gainer/survey-service/internal/logger"
	"github.com/hard-gainer/survey-service/internal/mattermost"
	"github.com/hard-gainer/survey-service/internal/notification"
	"github.com/hard-gainer/survey-service/internal/service"
	"github.com/tarantool/go-tarantool"
)

const (
	connectAttempts = 3
	connectDelay    = 2 * time.Second
)

func main() {
	cfg := config.NewConfig()

	logger.InitLogger(cfg.LogLevel)
	slog.Info("Starting survey service...")

	slog.Info("Config loaded",
		"storage_driver", cfg.StorageDriver,
		"api_http_addr", cfg.APIHTTPAddr,
		"mattermost_enabled", cfg.MattermostEnabled(),
		"kafka_enabled", cfg.KafkaEnabled(),
	)

	if cfg.JWTSecret == "" {
		slog.Error("JWT_SECRET is required")
		os.Exit(1)
	}

	var storage db.Storage
	var err error

	for attempts := 1; attempts <= connectAttempts; attempts++ {
		slog.Info("Connection attempt", "driver", cfg.StorageDriver, "attempt", attempts)

		storage, err = openStorage(cfg)
		if err == nil {
			break
		}

		slog.Error("Failed to connect to storage", "error", err, "attempt", attempts)

		if attempts < connectAttempts {
			slog.Info("Retrying in 2 seconds...")
			time.Sleep(connectDelay)
		}
	}

	if err != nil {
		slog.Error("All connection attempts to storage failed", "error", err)
		os.Exit(1)
	}

	defer func() {
		if err := storage.Close(); err != nil {
			slog.Error("Error closing storage", "error", err)
		}
	}()

	slog.Info("Connected to storage successfully")

	var events notification.EventPublisher
	if cfg.KafkaEnabled() {
		publisher := notification.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer func() {
			if err := publisher.Close(); err != nil {
				slog.Error("Error closing Kafka publisher", "error", err)
			}
		}()
		events = publisher
	}

	surveyService := service.NewService(storage, storage, nil, events)

	httpHandler := api.NewHTTPHandler(cfg.HTTPConfig, cfg.AuthConfig, surveyService)

	if cfg.MattermostEnabled() {
		slog.Info("Connecting to Mattermost...")

		mmClient, err := mattermost.NewClient(cfg.MattermostConfig, surveyService)
		if err != nil {
			slog.Error("Failed to connect to Mattermost", "error", err)
			os.Exit(1)
		}
		defer mmClient.Close()

		if err := mmClient.RegisterCommands(cfg.MattermostConfig); err != nil {
			slog.Error("Failed to register commands", "error", err)
			os.Exit(1)
		}

		commandTokens := append(cfg.MattermostCommandTokens, mmClient.CommandTokens()...)
		if len(commandTokens) == 0 {
			slog.Warn("No slash command tokens known, POST /commands rejects every request")
		}

		surveyService.SetNotifier(mmClient)
		httpHandler.SetCommandHandler(mmClient, commandTokens...)

		if err := mmClient.StartListening(); err != nil {
			slog.Error("Failed to listen to Mattermost events", "error", err)
			os.Exit(1)
		}

		slog.Info("Connected to Mattermost successfully")
	}

	httpHandler.Start()
	defer func() {
		if err := httpHandler.Stop(); err != nil {
			slog.Error("Failed to stop HTTP handler", "error", err)
		}
	}()

	slog.Info("Service is now running. Press CTRL+C to exit.")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	slog.Info("Shutting down service...")
}

// openStorage constructs the storage client for the configured driver
func openStorage(cfg *config.Config) (db.Storage, error) {
	switch cfg.StorageDriver {
	case config.DriverTarantool:
		return db.NewTarantoolStorage(cfg.TarantoolAddr, tarantool.Opts{
			User:          cfg.TarantoolUser,
			Pass:          cfg.TarantoolPass,
			Timeout:       5 * time.Second,
			Reconnect:     1 * time.Second,
			MaxReconnects: 5,
		})
	case config.DriverMongo:
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		client, err := db.NewMongoClient(ctx, cfg.MongoURI)
		if err != nil {
			return nil, err
		}
		storage, err := db.NewMongoStorage(ctx, client, cfg.MongoDB)
		if err != nil {
			client.Disconnect(context.Background())
			return nil, err
		}
		return storage, nil
	case config.DriverPostgres:
		return db.NewPostgresStorage(cfg.PostgresDSN)
	case config.DriverMemory:
		slog.Warn("Using in-memory storage, answers are lost on restart")
		return db.NewMemoryStorage(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
	}
}
