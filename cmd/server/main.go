package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/cypherlabdev/odds-aggregator-service/internal/config"
	"github.com/cypherlabdev/odds-aggregator-service/internal/gateway"
	httpHandler "github.com/cypherlabdev/odds-aggregator-service/internal/handler/http"
	"github.com/cypherlabdev/odds-aggregator-service/internal/messaging"
	"github.com/cypherlabdev/odds-aggregator-service/internal/opportunity"
	"github.com/cypherlabdev/odds-aggregator-service/internal/relay"
	"github.com/cypherlabdev/odds-aggregator-service/internal/service"
	"github.com/cypherlabdev/odds-aggregator-service/internal/snapshot"
	"github.com/cypherlabdev/odds-aggregator-service/internal/telemetry"
)

func main() {
	configPath := "config/config.yaml"
	if p := os.Getenv("ODDS_AGGREGATOR_CONFIG"); p != "" {
		configPath = p
	}

	// Load configuration
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)
	logger.Info().
		Str("store", cfg.Store.Backend).
		Bool("relay", cfg.Relay.Enabled).
		Msg("starting odds-aggregator-service")

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics := telemetry.New(prometheus.DefaultRegisterer)

	// Snapshot store
	var (
		store       service.SnapshotStore
		redisClient *redis.Client
	)
	switch cfg.Store.Backend {
	case "redis":
		redisStore := snapshot.NewRedisStore(snapshot.RedisStoreConfig{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
		}, logger)
		store = redisStore
		redisClient = redisStore.Client()
	default:
		store = snapshot.NewMemoryStore(logger)
	}
	defer store.Close()

	if redisClient == nil && cfg.UsesRedis() {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
	}

	// Test Redis connection
	if redisClient != nil {
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to Redis")
		}
		logger.Info().Str("addr", cfg.Redis.Addr).Msg("connected to Redis")
	}

	// Opportunity store and detector
	var oppStore opportunity.Store
	if cfg.Opportunities.Backend == "redis" {
		oppStore = opportunity.NewRedisStore(redisClient, logger)
	} else {
		oppStore = opportunity.NewMemoryStore()
	}
	detector := opportunity.NewDetector(oppStore, cfg.Opportunities.ToThresholds(), logger)
	logger.Info().Str("backend", cfg.Opportunities.Backend).Msg("opportunity detector initialized")

	// Gateway hub
	hub := gateway.NewHub(gateway.HubConfig{BroadcastBuffer: cfg.Gateway.BroadcastBuffer}, metrics, logger)
	go hub.Run(ctx)

	// Committed diffs go straight to the local hub, or through the relay
	// stream when several instances serve subscribers
	var publisher service.DiffPublisher = hub
	if cfg.Relay.Enabled {
		publisher = relay.NewStreamPublisher(redisClient, relay.StreamPublisherConfig{
			Stream: cfg.Relay.Stream,
			MaxLen: cfg.Relay.MaxLen,
		}, logger)

		relayConsumer := relay.NewStreamConsumer(redisClient, relay.StreamConsumerConfig{
			Stream: cfg.Relay.Stream,
			Block:  cfg.Relay.Block,
		}, hub, logger)
		go func() {
			if err := relayConsumer.Run(ctx); err != nil {
				logger.Error().Err(err).Msg("relay consumer failed")
			}
		}()
		logger.Info().Str("stream", cfg.Relay.Stream).Msg("diff relay enabled")
	}

	// Aggregator service
	aggregator := service.NewAggregatorService(
		service.AggregatorConfig{
			ExpiryGrace:      cfg.Store.ExpiryGrace,
			MaxCommitRetries: cfg.Store.MaxCommitRetries,
		},
		store,
		detector,
		publisher,
		metrics,
		logger,
	)
	go func() {
		if err := aggregator.RunExpiry(ctx, cfg.Store.ExpiryInterval); err != nil && ctx.Err() == nil {
			logger.Error().Err(err).Msg("expiry sweep stopped")
		}
	}()

	reader := service.NewReaderService(service.ReaderConfig{
		DefaultPageSize: cfg.Reader.DefaultPageSize,
		MaxPageSize:     cfg.Reader.MaxPageSize,
		MaxResolve:      cfg.Reader.MaxResolve,
		ResolveChunk:    cfg.Reader.ResolveChunk,
	}, store, metrics, logger)
	logger.Info().Msg("services initialized")

	// Create Kafka consumer
	if cfg.Kafka.Enabled {
		consumer := messaging.NewKafkaConsumer(
			messaging.KafkaConsumerConfig{
				Brokers:      cfg.Kafka.Brokers,
				Topic:        cfg.Kafka.Topic,
				GroupID:      cfg.Kafka.GroupID,
				MaxRetries:   cfg.Kafka.MaxRetries,
				RetryBackoff: cfg.Kafka.RetryBackoff,
			},
			aggregator,
			logger,
		)
		defer consumer.Close()

		// Start Kafka consumer in goroutine
		go func() {
			if err := consumer.Start(ctx); err != nil && ctx.Err() == nil {
				logger.Error().Err(err).Msg("Kafka consumer failed")
			}
		}()
	}

	// Push channel
	var auth gateway.Authorizer = gateway.HeaderAuthorizer{Header: cfg.Gateway.GrantHeader}
	if cfg.Gateway.AuthMode == "open" {
		logger.Warn().Msg("gateway auth disabled, every key is granted")
		auth = gateway.OpenAuthorizer{}
	}
	stream := gateway.NewHandler(ctx, hub, auth, gateway.SubscriberConfig{
		WriteWait:      cfg.Gateway.WriteWait,
		PongWait:       cfg.Gateway.PongWait,
		PingPeriod:     cfg.Gateway.PingPeriod,
		MaxMessageSize: cfg.Gateway.MaxMessageSize,
		SendBuffer:     cfg.Gateway.SendBuffer,
	}, logger)

	// Initialize HTTP handlers
	router := httpHandler.NewRouter(
		httpHandler.RouterConfig{
			AllowedOrigins: cfg.Server.CORSOrigins,
			RequestTimeout: cfg.Server.RequestTimeout,
		},
		httpHandler.NewPropsHandler(reader, cfg.Reader.MaxResolve, logger),
		httpHandler.NewOpportunityHandler(oppStore, logger),
		stream,
		reader,
		prometheus.DefaultGatherer,
		logger,
	)
	logger.Info().Msg("API routes registered")

	// No WriteTimeout: it would cut stream connections. The router bounds
	// request routes instead.
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
	}

	// Start HTTP server in goroutine
	go func() {
		logger.Info().Int("port", cfg.Server.Port).Msg("starting HTTP server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("HTTP server failed")
			cancel()
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigChan:
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down gracefully...")

	// Cancel context to stop consumers, the hub and open streams
	cancel()

	// Shutdown HTTP server
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	logger.Info().Msg("shutdown complete")
}

// setupLogger configures the logger based on config
func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	// Set log level
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	// Set format
	if cfg.Format == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}

	return log.Logger.With().Str("service", "odds-aggregator").Logger()
}
