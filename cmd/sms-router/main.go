package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/sms-router/internal/config"
	"github.com/example/sms-router/internal/gateway"
	"github.com/example/sms-router/internal/handler"
	"github.com/example/sms-router/internal/handler/echo"
	"github.com/example/sms-router/internal/kafka/ingest"
	"github.com/example/sms-router/internal/kafka/producer"
	kafkapublisher "github.com/example/sms-router/internal/kafka/publisher"
	"github.com/example/sms-router/internal/logger"
	"github.com/example/sms-router/internal/retry"
	"github.com/example/sms-router/internal/router"
	"github.com/example/sms-router/internal/store"
	"github.com/example/sms-router/internal/util"
	"github.com/example/sms-router/internal/web"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fail("config load", err)
	}

	baseLogger, err := logger.New(cfg.App.Env, cfg.App.LogLevel)
	if err != nil {
		fail("logger init", err)
	}
	log := baseLogger.With().Str("service", "sms-router").Logger()

	st, closeStore, err := openStore(cfg.Storage)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open message store")
	}
	defer func() {
		if err := closeStore(); err != nil {
			log.Error().Err(err).Msg("failed to close message store")
		}
	}()

	if cfg.Gateway.URL != "" {
		if _, err := util.ValidateHTTPURL(cfg.Gateway.URL); err != nil {
			log.Fatal().Err(err).Msg("invalid gateway url")
		}
	}
	deliverer := gateway.New(cfg.Gateway.URL,
		log.With().Str("component", "gateway").Logger(),
		gateway.WithTimeout(time.Duration(cfg.Gateway.TimeoutSeconds)*time.Second))
	if !deliverer.Configured() {
		log.Warn().Msg("no gateway url configured, outgoing messages will be queued")
	}

	var events router.EventPublisher
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaLogger := log.With().Str("component", "kafka").Logger()
		prod, err := producer.New(cfg.Kafka.Brokers, kafkaLogger)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create kafka producer")
		}
		defer func() {
			if err := prod.Close(); err != nil {
				log.Error().Err(err).Msg("failed to close kafka producer")
			}
		}()
		events = kafkapublisher.New(prod, cfg.Kafka.EventsTopic,
			log.With().Str("component", "event-publisher").Logger())
	}

	registry := handler.NewRegistry(log.With().Str("component", "handlers").Logger())
	if err := registry.Register("echo", func(l zerolog.Logger) (handler.Handler, error) {
		return echo.New(l), nil
	}); err != nil {
		log.Fatal().Err(err).Msg("failed to register built-in handlers")
	}

	rtr, err := router.New(
		router.Config{Handlers: cfg.Router.Handlers},
		router.Dependencies{
			Store:     st,
			Deliverer: deliverer,
			Registry:  registry,
			Events:    events,
			Logger:    log,
		})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialise router")
	}

	worker, err := retry.New(
		retry.Config{
			PollInterval: time.Duration(cfg.Retry.PollIntervalSeconds) * time.Second,
			Concurrency:  cfg.Retry.Concurrency,
		},
		st, deliverer, events,
		log.With().Str("component", "retry-worker").Logger())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialise retry worker")
	}

	srv, err := web.NewServer(rtr, st, log.With().Str("component", "web").Logger())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialise http server")
	}

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.App.Port),
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 3)

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	go func() {
		if err := rtr.EnsureStarted(ctx); err != nil {
			errCh <- fmt.Errorf("router start: %w", err)
			return
		}
		worker.Seed(rtr.DrainBacklog())
		if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("retry worker: %w", err)
		}
	}()

	if len(cfg.Kafka.Brokers) > 0 && cfg.Kafka.IngestTopic != "" {
		cons, err := ingest.New(cfg.Kafka.Brokers, cfg.Kafka.IngestGroup, rtr,
			log.With().Str("component", "kafka-ingest").Logger())
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create kafka ingest consumer")
		}
		defer func() {
			if err := cons.Close(); err != nil {
				log.Error().Err(err).Msg("failed to close kafka ingest consumer")
			}
		}()
		go func() {
			if err := cons.Run(ctx, cfg.Kafka.IngestTopic); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("kafka ingest: %w", err)
			}
		}()
	}

	log.Info().
		Int("port", cfg.App.Port).
		Strs("handlers", cfg.Router.Handlers).
		Msg("sms router started")

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("component terminated with error")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown failed")
	}
}

func openStore(cfg config.StorageConfig) (store.Store, func() error, error) {
	switch cfg.Driver {
	case "memory":
		return store.NewMemoryStore(), func() error { return nil }, nil
	default:
		st, err := store.OpenSQLite(cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		return st, st.Close, nil
	}
}

func fail(stage string, err error) {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	logger.Fatal().Err(err).Str("stage", stage).Msg("sms router init failed")
}
