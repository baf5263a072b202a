package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rentchain/internal/agreement"
	"rentchain/internal/api"
	"rentchain/internal/broadcast"
	"rentchain/internal/chain"
	"rentchain/internal/chain/retry"
	"rentchain/internal/config"
	"rentchain/internal/lifecycle"
	"rentchain/internal/storage"

	"github.com/joho/godotenv"
)

func main() {
	log.Println("🏠 Starting rentchain agreement coordinator...")

	// 1. Load configuration
	_ = godotenv.Load()
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("❌ Invalid configuration: %v", err)
	}

	// 2. Configure logger
	var logLevel slog.Level
	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("Configuration loaded",
		"rpc_url", cfg.RPCURL,
		"port", cfg.Port,
		"log_level", cfg.LogLevel,
		"confirm_timeout", cfg.ConfirmTimeout,
	)

	ctx := context.Background()

	// 3. Initialize the store: Postgres when configured, in-memory otherwise
	var store storage.Repository
	if cfg.DatabaseURL != "" {
		repository, err := storage.NewPostgresRepository(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("❌ Failed to connect to database: %v", err)
		}
		if err := repository.EnsureSchema(ctx); err != nil {
			log.Fatalf("❌ Failed to ensure database schema: %v", err)
		}
		store = repository
		slog.Info("Database connected successfully")
	} else {
		store = storage.NewMemoryRepository()
		slog.Warn("DATABASE_URL not set, using in-memory store; state is lost on restart")
	}
	defer store.Close()

	// 4. Connect to the chain endpoint
	strategy := retry.NewStrategy(cfg.Retry)
	client, err := chain.Dial(cfg.RPCURL, strategy)
	if err != nil {
		log.Fatalf("❌ Failed to connect to chain endpoint: %v", err)
	}

	chainID, err := client.ChainID(ctx)
	if err != nil {
		log.Fatalf("❌ Failed to query chain id: %v", err)
	}
	slog.Info("Chain endpoint connected", "chain_id", chainID)

	// 5. Custodial signer and contract binding
	signer, err := chain.NewSigner(cfg.PrivateKey)
	if err != nil {
		log.Fatalf("❌ Failed to load signer key: %v", err)
	}
	slog.Info("Custodial signer loaded", "address", signer.Address().Hex())

	bytecode, err := cfg.Bytecode()
	if err != nil {
		log.Fatalf("❌ Failed to load contract bytecode: %v", err)
	}
	binding, err := chain.NewAgreement(bytecode)
	if err != nil {
		log.Fatalf("❌ Failed to build agreement binding: %v", err)
	}

	// 6. Broadcast queue, read aggregator, lifecycle coordinator
	queue := broadcast.NewQueue(client, signer, store, cfg.ReceiptPollInterval)
	aggregator := agreement.NewAggregator(client, binding)
	coordinator := lifecycle.NewCoordinator(store, queue, aggregator, binding, lifecycle.Config{
		ConfirmTimeout: cfg.ConfirmTimeout,
		DeployGasLimit: cfg.DeployGasLimit,
		CallGasLimit:   cfg.CallGasLimit,
	})

	// 7. Reconciliation sweeper
	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()

	sweeper := lifecycle.NewSweeper(coordinator, store, queue, client, lifecycle.SweeperConfig{
		Interval:       cfg.SweepInterval,
		StaleAfter:     cfg.SweepStaleAfter,
		ReplaceEnabled: cfg.SweepReplaceEnabled,
	})
	go sweeper.Run(sweepCtx)

	// 8. HTTP API
	server := api.NewServer(store, coordinator, aggregator, cfg.Port)

	errChan := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil {
			errChan <- err
		}
	}()

	// 9. Wait for interrupt or server error, then drain gracefully
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		slog.Warn("Interrupt received, shutting down...")
	case err := <-errChan:
		slog.Error("API server error", "error", err)
	}

	stopSweep()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Error shutting down API server", "error", err)
	}

	slog.Info("Shutdown complete 👋")
}
