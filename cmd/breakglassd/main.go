package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/adamscao/breakglass/internal/api"
	"github.com/adamscao/breakglass/internal/app"
	"github.com/adamscao/breakglass/internal/config"
	"github.com/adamscao/breakglass/internal/logging"
	"github.com/adamscao/breakglass/internal/metrics"
	"github.com/adamscao/breakglass/internal/signature"
)

var (
	// Version information (set via ldflags)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "/etc/breakglass/config.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("Break-glass Credential Server\n")
		fmt.Printf("Version:    %s\n", Version)
		fmt.Printf("Commit:     %s\n", Commit)
		fmt.Printf("Build Time: %s\n", BuildTime)
		os.Exit(0)
	}

	// Load configuration
	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting break-glass server",
		"version", Version,
		"commit", Commit,
		"ledger_backend", cfg.Ledger.Backend,
		"nonce_backend", cfg.Nonce.Backend,
	)

	// Metrics
	m := metrics.NewMetrics()
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if err := m.Register(reg); err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	// Database, ledger, nonce store, signing key and services
	logger.Info("opening database", "path", cfg.Database.Path)
	a, err := app.Open(ctx, cfg, app.Options{
		Logger:      logger,
		Metrics:     m,
		GenerateKey: true,
	})
	if err != nil {
		return err
	}
	defer a.Close()

	logger.Info("signing key ready",
		"generated", a.KeyGenerated,
		"fingerprint", signature.Fingerprint(a.SigningKey.PublicKey),
	)
	if res, broken := a.Ledger.Broken(); broken {
		// Reads stay available so the damage can be inspected; appends fail.
		logger.Error("ledger chain is broken, write operations are disabled",
			"broken_at", res.BrokenAt,
			"reason", res.Reason,
		)
	}

	// Expire stale requests in the background
	sweepCtx, cancelSweep := context.WithCancel(ctx)
	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		a.Manager.RunSweeper(sweepCtx, cfg.GetSweepInterval())
	}()
	stopSweeper := func() {
		cancelSweep()
		<-sweepDone
	}

	// Create HTTP server
	server := api.NewServer(cfg, api.Services{
		Manager:   a.Manager,
		Finalizer: a.Finalizer,
		Ledger:    a.Ledger,
		DB:        a.DB,
		Gatherer:  reg,
		Logger:    logger,
		Version:   Version,
	})

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting HTTP server", "addr", cfg.Server.ListenAddr)
		errCh <- server.Run()
	}()

	// Wait for a signal or a server failure
	select {
	case <-ctx.Done():
		logger.Info("shutting down server")
	case err := <-errCh:
		stopSweeper()
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", "error", err)
	}
	stopSweeper()

	logger.Info("server stopped")
	return nil
}
