package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/MikhailOznobikhin/moznods/internal/access"
	"github.com/MikhailOznobikhin/moznods/internal/client"
	"github.com/MikhailOznobikhin/moznods/internal/config"
	"github.com/MikhailOznobikhin/moznods/internal/handler"
	"github.com/MikhailOznobikhin/moznods/internal/hub"
	"github.com/MikhailOznobikhin/moznods/internal/kafka"
	"github.com/MikhailOznobikhin/moznods/internal/presence"
	"github.com/MikhailOznobikhin/moznods/internal/service"
	pkglog "github.com/MikhailOznobikhin/moznods/pkg/log"
	"github.com/MikhailOznobikhin/moznods/pkg/pubsub"

	"github.com/gorilla/mux"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		l := pkglog.L()
		l.Fatal().Err(err).Msg("failed to load configuration")
	}

	pkglog.Init(pkglog.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty, ServiceName: "moznods"})
	logger := pkglog.L()

	logger.Info().Str("host", cfg.Server.Host).Int("port", cfg.Server.Port).Msg("starting moznods")

	// Initialize presence store
	store, err := presence.New(cfg.Presence)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize presence store")
	}
	defer store.Close()
	logger.Info().Str("driver", cfg.Presence.Driver).Msg("presence store ready")

	// Initialize hub, with an optional cross-instance relay
	wsHub := hub.NewHub(cfg.WebSocket)
	go wsHub.Run()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.PubSub.Driver != "none" {
		instanceID := uuid.New().String()

		// Every instance must see every frame; with the Kafka driver that
		// means a consumer group per instance, not a shared one.
		cfg.PubSub.Kafka.GroupID = fmt.Sprintf("%s-%s", cfg.PubSub.Kafka.GroupID, instanceID)

		ps, err := pubsub.NewPubSub(cfg.PubSub)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to initialize pubsub")
		}
		defer ps.Close()

		wsHub.SetRelay(ps, instanceID)

		bridge := hub.NewBridge(wsHub, ps, instanceID)
		go func() {
			if err := bridge.Run(ctx); err != nil {
				logger.Error().Err(err).Msg("fanout bridge stopped")
			}
		}()
		logger.Info().Str("driver", cfg.PubSub.Driver).Msg("cross-instance fanout enabled")
	}

	// Initialize collaborator clients
	authResolver, err := client.NewAuthResolver(cfg.Auth)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create auth resolver")
	}
	logger.Info().Str("driver", cfg.Auth.Driver).Msg("auth resolver configured")

	roomClient := client.NewRoomClient(cfg.Room.HTTPAddress, cfg.Room.CacheTTL)
	logger.Info().Str("address", cfg.Room.HTTPAddress).Msg("room service client configured")

	messageClient := client.NewMessageClient(cfg.Message.HTTPAddress)
	logger.Info().Str("address", cfg.Message.HTTPAddress).Msg("message service client configured")

	// Initialize Kafka producer for call events
	var kafkaProducer kafka.CallEventProducer
	if cfg.Kafka.Enabled {
		kafkaProducer, err = kafka.NewConfluentProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.Partitions)
		if err != nil {
			logger.Warn().Err(err).Msg("failed to create kafka producer, call events disabled")
			kafkaProducer = nil // Service works without Kafka
		} else {
			defer kafkaProducer.Close()
			logger.Info().Str("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.Topic).Msg("connected to kafka")
		}
	}

	// Initialize services and handler
	guard := access.NewGuard(roomClient)
	signalSvc := service.NewSignalService(wsHub, store, kafkaProducer)
	chatSvc := service.NewChatService(wsHub, messageClient)

	wsHandler := handler.NewWSHandler(wsHub, authResolver, guard, signalSvc, chatSvc)

	// Setup HTTP server
	router := mux.NewRouter()
	wsHandler.RegisterRoutes(router)

	// Health check endpoint
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      pkglog.HTTPMiddleware(logger)(router),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info().Str("host", cfg.Server.Host).Int("port", cfg.Server.Port).Msg("moznods listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down moznods")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}

	logger.Info().Msg("moznods stopped")
}
