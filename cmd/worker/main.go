package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gatewire/gatewire/internal/bootstrap"
	"github.com/gatewire/gatewire/internal/domain/attempt"
	"github.com/gatewire/gatewire/internal/domain/outbox"
	"github.com/gatewire/gatewire/internal/gateway"
	"github.com/gatewire/gatewire/internal/infrastructure/config"
	infraRedis "github.com/gatewire/gatewire/internal/infrastructure/redis"
	"github.com/gatewire/gatewire/internal/repository/postgres"
	"github.com/gatewire/gatewire/internal/service"
	"github.com/gatewire/gatewire/internal/worker"
	"github.com/gatewire/gatewire/pkg/retry"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := bootstrap.New(ctx, "gatewire-worker", "gatewire_worker")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()

	cfg := app.Config

	// --- Repositories ---
	orderRepo := postgres.NewOrderRepository(app.Pool)
	attemptRepo := postgres.NewAttemptRepository(app.Pool)
	notificationRepo := postgres.NewNotificationRepository(app.Pool)
	outboxRepo := postgres.NewOutboxRepository(app.Pool)
	txManager := postgres.NewTxManager(app.Pool, cfg.Reconcile.LockTimeout)

	// --- Gateways ---
	registry := gateway.NewRegistry(
		gateway.NewHTTPCharger(cfg.Reconcile.ChargeTimeout),
		gateway.NewPayU(gatewayCredentials(cfg.Gateways.PayU)),
		gateway.NewWompi(gatewayCredentials(cfg.Gateways.Wompi)),
		gateway.NewPayValida(gatewayCredentials(cfg.Gateways.PayValida)),
	)

	// --- Reconciliation (for the stale-notification retry loop) ---
	retryCfg := retry.Config{
		MaxAttempts:  uint(cfg.Reconcile.MaxRetries),
		InitialDelay: cfg.Reconcile.RetryDelay,
		MaxDelay:     cfg.Reconcile.LockTimeout,
	}
	reconcileService := service.NewReconcileService(
		registry, notificationRepo, attemptRepo, orderRepo, outboxRepo,
		txManager, retryCfg, app.Logger,
	)

	workerCfg := cfg.Worker
	streamProducer := infraRedis.NewStreamProducer(app.Redis)

	// --- Outbox dispatcher (outbox table -> Redis stream) ---
	dispatcher := worker.NewDispatcher(
		txManager,
		outboxRepo,
		streamProducer,
		app.Metrics,
		app.Logger,
		workerCfg.OutboxPollInterval,
		int(workerCfg.BatchSize),
	)

	// --- Stale notification retrier ---
	retrier := worker.NewNotificationRetrier(
		notificationRepo,
		func(ctx context.Context, gw attempt.Gateway, body []byte, sigHeader string) error {
			_, err := reconcileService.Reconcile(ctx, gw, body, sigHeader)
			return err
		},
		app.Logger,
		workerCfg.NotificationRetryAge,
		workerCfg.NotificationPollInterval,
		int(workerCfg.BatchSize),
	)

	// --- Hook consumer (Redis stream -> downstream collaborators) ---
	streamConsumer := infraRedis.NewStreamConsumer(
		app.Redis,
		infraRedis.HookStream,
		workerCfg.ConsumerGroup,
		cfg.InstanceID,
		workerCfg.BatchSize,
		workerCfg.BlockDuration,
	)
	if err := streamConsumer.CreateGroup(ctx); err != nil {
		app.Logger.Error().Err(err).Msg("Failed to create consumer group (may already exist)")
	}

	consumer := worker.NewHookConsumer(
		streamConsumer,
		streamProducer,
		hookHandlers(app.Redis, cfg.Hooks, workerCfg.IdempotencyTTL, app.Logger),
		retryCfg,
		app.Metrics,
		app.Logger,
	)

	app.Logger.Info().
		Str("stream", infraRedis.HookStream).
		Str("group", workerCfg.ConsumerGroup).
		Str("consumer", cfg.InstanceID).
		Msg("Worker started, listening for messages...")

	// Signal handling
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	g, gCtx := errgroup.WithContext(ctx)

	// 1. Hook consumer (reads from Redis Streams).
	g.Go(func() error {
		return consumer.Run(gCtx)
	})

	// 2. Outbox dispatcher (polls outbox table and publishes to Redis Streams).
	g.Go(func() error {
		return dispatcher.Run(gCtx)
	})

	// 3. Stale notification retrier (re-drives unprocessed webhook deliveries).
	g.Go(func() error {
		return retrier.Run(gCtx)
	})

	// 4. Wait for shutdown signal.
	g.Go(func() error {
		select {
		case <-gCtx.Done():
			return gCtx.Err()
		case <-quit:
			app.Logger.Info().Msg("Shutting down worker...")
			cancel()
			return nil
		}
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		app.Logger.Error().Err(err).Msg("Worker error")
	}
	app.Logger.Info().Msg("Worker exited")
}

// hookHandlers wires one HTTP handler per downstream collaborator, each
// wrapped with Redis-backed dedup so redelivered stream entries do not
// re-fire the side effect.
func hookHandlers(
	client *goredis.Client,
	hooks config.HooksConfig,
	dedupTTL time.Duration,
	logger zerolog.Logger,
) map[outbox.Hook]worker.HookHandler {
	httpClient := &http.Client{Timeout: 10 * time.Second}
	wrap := func(url string) worker.HookHandler {
		return worker.NewDedupHandler(client, dedupTTL, worker.NewHTTPHookHandler(httpClient, url, logger), logger)
	}
	return map[outbox.Hook]worker.HookHandler{
		outbox.HookCommission:   wrap(hooks.CommissionURL),
		outbox.HookStock:        wrap(hooks.StockURL),
		outbox.HookNotification: wrap(hooks.NotificationURL),
	}
}

func gatewayCredentials(cfg config.GatewayConfig) gateway.Credentials {
	return gateway.Credentials{
		MerchantID:   cfg.MerchantID,
		APIKey:       cfg.APIKey,
		EventsSecret: cfg.EventsSecret,
		BaseURL:      cfg.BaseURL,
	}
}
