// Package main provides the payment-ledger server entry point.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/payment-ledger/internal/adapter"
	"github.com/payment-ledger/internal/api"
	"github.com/payment-ledger/internal/config"
	"github.com/payment-ledger/internal/dedup"
	"github.com/payment-ledger/internal/entitlement"
	"github.com/payment-ledger/internal/ledger"
	"github.com/payment-ledger/internal/logging"
	"github.com/payment-ledger/internal/storage"
	"github.com/payment-ledger/internal/types"
	"github.com/payment-ledger/internal/verify"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize structured logging
	logLevel := logging.ParseLogLevel(cfg.Logging.Level)
	logFormat := logging.ParseLogFormat(cfg.Logging.Format)
	logging.InitGlobalLogger(logLevel, logFormat)

	logger := logging.GetGlobalLogger()
	logger.WithFields(map[string]interface{}{
		"level":  cfg.Logging.Level,
		"format": cfg.Logging.Format,
	}).Info("Structured logging initialized")

	// Connect to Postgres
	logger.Info("Connecting to databases...")
	postgres, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Postgres")
	}
	defer postgres.Close()

	accounts := storage.NewAccountRepository(postgres)

	// The dedup store is process-local unless Redis is configured; a Redis
	// store shares the window across instances.
	var dedupStore dedup.Store
	if cfg.Database.Redis.Enabled {
		redis, err := storage.NewRedisCache(&cfg.Database.Redis)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to Redis")
		}
		defer redis.Close() //nolint:errcheck // process exit path
		dedupStore = dedup.NewRedisStore(redis.Client())
		logger.Info("Using shared Redis dedup store")
	} else {
		dedupStore = dedup.NewMemoryStore(cfg.Dedup.Capacity)
	}
	guard := dedup.NewGuard(dedupStore, cfg.Dedup.Window)

	// ClickHouse archive is optional
	var archive ledger.Archive
	if cfg.Database.ClickHouse.Enabled {
		clickhouse, err := storage.NewClickHouseDB(&cfg.Database.ClickHouse)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to ClickHouse")
		}
		defer clickhouse.Close() //nolint:errcheck // process exit path

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := clickhouse.EnsureArchiveSchema(ctx); err != nil {
			cancel()
			logger.WithError(err).Fatal("Failed to ensure archive schema")
		}
		cancel()

		paymentArchive := storage.NewPaymentArchive(clickhouse, logger)
		defer paymentArchive.Close()
		archive = paymentArchive
		logger.Info("ClickHouse archive enabled")
	}

	// Chain clients
	logger.Info("Initializing chain clients...")
	evmPool := adapter.NewEVMPool(cfg.Chains.EVM, logger)
	defer evmPool.Close()
	for chain, endpoints := range cfg.Chains.EVM {
		logger.WithFields(map[string]interface{}{
			"chain":     chain,
			"endpoints": len(endpoints),
		}).Info("EVM chain enabled")
	}

	solanaClient := adapter.NewSolanaClient(cfg.Chains.SolanaEndpoints, logger)

	var ownership entitlement.OwnershipAPI
	if cfg.Entitlement.OwnershipAPIBase != "" {
		ownership = adapter.NewOwnershipClient(cfg.Entitlement.OwnershipAPIBase, cfg.Entitlement.OwnershipAPIKey)
		logger.Info("Indexed ownership API enabled")
	}

	// Entitlement checker
	checker := entitlement.NewChecker(entitlement.CheckerConfig{
		Collections:  cfg.Entitlement.Collections,
		EVM:          entitlement.PoolSource{Pool: evmPool},
		Solana:       solanaClient,
		Ownership:    ownership,
		CacheTTL:     cfg.Entitlement.CacheTTL,
		CheckTimeout: cfg.Entitlement.CheckTimeout,
		Logger:       logger,
	})
	defer checker.Stop()

	// Payment verifiers
	registry := verify.NewRegistry()
	registry.Register(types.RailEVM, verify.NewEVMVerifier(verify.EVMVerifierConfig{
		Source:         verify.PoolSource{Pool: evmPool},
		Wallet:         cfg.Payment.EVMWallet,
		TokenContracts: cfg.Payment.EVMTokenContract,
		CallTimeout:    cfg.Payment.CallTimeout,
		Logger:         logger,
	}))
	registry.Register(types.RailSolana, verify.NewSolanaVerifier(verify.SolanaVerifierConfig{
		RPC:       solanaClient,
		Wallet:    cfg.Payment.SolanaWallet,
		Mint:      cfg.Payment.SolanaTokenMint,
		MaxTxAge:  cfg.Payment.MaxTxAge,
		Tolerance: cfg.Payment.AmountTolerance,
		Logger:    logger,
	}))
	registry.Register(types.RailCard, verify.CardVerifier{})

	// Credit ledger
	svc := ledger.NewService(ledger.ServiceConfig{
		Store:        accounts,
		Verifier:     registry,
		Entitlements: checker,
		Guard:        guard,
		Archive:      archive,
		Rates:        ledger.NewRateTable(cfg.Rates.BaseCreditsPerUnit, cfg.Rates.NFTMultiplier, cfg.Rates.CardHolderBonus),
		Logger:       logger,
	})

	// HTTP ingress
	serverConfig := &api.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    15 * time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
	server := api.NewServer(serverConfig, svc, logger)

	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	logger.WithFields(map[string]interface{}{
		"host": cfg.Server.Host,
		"port": cfg.Server.Port,
	}).Info("Payment ledger is accepting claims")

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), serverConfig.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Forced shutdown")
	}

	logger.Info("Payment ledger stopped")
}
