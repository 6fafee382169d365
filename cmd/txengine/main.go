package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/vietddude/stylelog"
	"github.com/vietddude/txengine/internal/control"
	"github.com/vietddude/txengine/internal/core/config"
	"github.com/vietddude/txengine/internal/core/domain"
	"github.com/vietddude/txengine/internal/infra/wallet"
)

func main() {
	// Parse flags
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	isDebug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	// Load .env before config so ${VAR} expansion sees it
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		// Fall back to default logger for config load errors
		stylelog.InitDefault()
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	slogLevel := slog.LevelInfo
	if *isDebug || cfg.Logging.Level == "debug" {
		slogLevel = slog.LevelDebug
	}

	// Initialize stylelog with tint.Options for level control
	stylelog.InitDefault(
		&tint.Options{
			Level:      slogLevel,
			TimeFormat: time.RFC3339,
		})
	slog.Info("Logger initialized", "level", slogLevel.String())

	// Wire the wallet daemon backends for the non-custodial chains
	walletClient := wallet.NewClient(cfg.Wallet, slog.Default())
	collab := control.Collaborators{
		UTXO: map[domain.Asset]control.UTXOBackend{
			domain.AssetBTC: utxoBackend(walletClient, domain.AssetBTC),
			domain.AssetBCH: utxoBackend(walletClient, domain.AssetBCH),
		},
		ETHNode:      walletClient.NodeBackend(),
		Horizon:      walletClient.HorizonBackend(),
		WalletHealth: walletClient.Health,
	}

	// Setup Context with Cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := control.NewService(ctx, cfg, collab)
	if err != nil {
		slog.Error("Failed to initialize service", "error", err)
		os.Exit(1)
	}

	// Handle OS Signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Start App
	if err := app.Start(ctx); err != nil {
		slog.Error("Failed to start service", "error", err)
		os.Exit(1)
	}

	// Wait for Signal
	sig := <-sigChan
	slog.Info("Received signal, shutting down...", "signal", sig)

	// Graceful Shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := app.Stop(shutdownCtx); err != nil {
		slog.Error("Error during shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Service stopped gracefully")
}

func utxoBackend(client *wallet.Client, asset domain.Asset) control.UTXOBackend {
	backend := client.UTXOBackend(asset)
	return control.UTXOBackend{
		Unspent:  backend,
		Fees:     backend,
		Payments: backend,
	}
}
