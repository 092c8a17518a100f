package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"cdr.dev/slog"
	"cdr.dev/slog/sloggers/sloghuman"
	"github.com/coder/quartz"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"minder/internal/api"
	"minder/internal/config"
	"minder/internal/ledger"
	"minder/internal/storage"
	"minder/internal/unlock"
)

var Version = "1.0.0"

func main() {
	// Parse command line flags
	configPath := flag.String("config", "configs/minderd.json", "Path to config file")
	verbose := flag.Bool("verbose", false, "Enable debug logging")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("minderd v%s\n", Version)
		os.Exit(0)
	}

	logger := slog.Make(sloghuman.Sink(os.Stderr))
	if *verbose {
		logger = logger.Leveled(slog.LevelDebug)
	}
	ctx := context.Background()

	logger.Info(ctx, "starting minderd", slog.F("version", Version))

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal(ctx, "failed to load config", slog.Error(err))
	}
	logger.Info(ctx, "loaded config", slog.F("path", *configPath))

	// Ensure data directory exists
	dataDir := cfg.Storage.DataDir
	if !filepath.IsAbs(dataDir) {
		execDir, _ := os.Getwd()
		dataDir = filepath.Join(execDir, dataDir)
	}

	// Initialize storage
	store, err := storage.New(dataDir)
	if err != nil {
		logger.Fatal(ctx, "failed to initialize storage", slog.Error(err))
	}
	logger.Info(ctx, "storage initialized",
		slog.F("data_dir", dataDir),
		slog.F("users", store.UserCount()),
	)

	// Initialize services
	clock := quartz.NewReal()
	ledgerSvc := ledger.New(store, clock, logger)

	var sender unlock.Sender
	if cfg.SMTP.Addr != "" {
		sender = &unlock.SMTPSender{
			Addr:     cfg.SMTP.Addr,
			From:     cfg.SMTP.From,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
		}
	} else {
		logger.Warn(ctx, "no smtp relay configured, unlock codes go to the log")
		sender = &unlock.LogSender{Log: logger}
	}
	unlockSvc := unlock.New(store, clock, logger, unlock.Options{
		Sender:      sender,
		CodeLength:  cfg.Unlock.CodeLength,
		CodeTTL:     time.Duration(cfg.Unlock.CodeExpiryMinutes) * time.Minute,
		OverrideDur: time.Duration(cfg.Unlock.DurationMinutes) * time.Minute,
	})

	// Metrics registry with the standard process/runtime collectors
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// Setup HTTP router
	router := api.NewRouter(cfg, ledgerSvc, unlockSvc, logger, registry)
	handler := router.Setup()

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	// Start server in goroutine
	go func() {
		logger.Info(ctx, "http server listening", slog.F("addr", addr))
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal(ctx, "http server error", slog.Error(err))
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info(ctx, "shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		server.Close()
	}

	logger.Info(ctx, "minderd stopped")
}
