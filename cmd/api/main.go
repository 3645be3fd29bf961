package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gatewire/gatewire/internal/bootstrap"
	"github.com/gatewire/gatewire/internal/controller"
	"github.com/gatewire/gatewire/internal/gateway"
	"github.com/gatewire/gatewire/internal/infrastructure/config"
	"github.com/gatewire/gatewire/internal/repository/postgres"
	"github.com/gatewire/gatewire/internal/service"
	"github.com/gatewire/gatewire/pkg/retry"
)

func main() {
	ctx := context.Background()

	app, err := bootstrap.New(ctx, "gatewire-api", "gatewire")
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
	idempotencyRepo := postgres.NewIdempotencyRepository(app.Pool)
	txManager := postgres.NewTxManager(app.Pool, cfg.Reconcile.LockTimeout)

	// --- Gateways ---
	registry := gateway.NewRegistry(
		gateway.NewHTTPCharger(cfg.Reconcile.ChargeTimeout),
		gateway.NewPayU(gatewayCredentials(cfg.Gateways.PayU)),
		gateway.NewWompi(gatewayCredentials(cfg.Gateways.Wompi)),
		gateway.NewPayValida(gatewayCredentials(cfg.Gateways.PayValida)),
	)

	// --- Services ---
	retryCfg := retry.Config{
		MaxAttempts:  uint(cfg.Reconcile.MaxRetries),
		InitialDelay: cfg.Reconcile.RetryDelay,
		MaxDelay:     cfg.Reconcile.LockTimeout,
	}
	reconcileService := service.NewReconcileService(
		registry, notificationRepo, attemptRepo, orderRepo, outboxRepo,
		txManager, retryCfg, app.Logger,
	)
	initiateService := service.NewInitiateService(
		registry, orderRepo, attemptRepo, reconcileService, app.Logger,
	)
	statusService := service.NewStatusService(orderRepo, attemptRepo)

	// --- Build router ---
	router := controller.NewRouter(controller.RouterDeps{
		Pool:             app.Pool,
		RedisClient:      app.Redis,
		ReconcileService: reconcileService,
		InitiateService:  initiateService,
		StatusService:    statusService,
		IdempotencyRepo:  idempotencyRepo,
		Metrics:          app.Metrics,
		CORSConfig:       cfg.Server.CORS,
		WebhookRateLimit: cfg.Server.WebhookRateLimit,
		Logger:           app.Logger,
	})

	// --- HTTP server ---
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		app.Logger.Info().Str("addr", addr).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			app.Logger.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	app.Logger.Info().Msg("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		app.Logger.Error().Err(err).Msg("Server forced to shutdown")
	}
	app.Logger.Info().Msg("Server exited")
}

func gatewayCredentials(cfg config.GatewayConfig) gateway.Credentials {
	return gateway.Credentials{
		MerchantID:   cfg.MerchantID,
		APIKey:       cfg.APIKey,
		EventsSecret: cfg.EventsSecret,
		BaseURL:      cfg.BaseURL,
	}
}
