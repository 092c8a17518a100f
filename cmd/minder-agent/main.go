package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"cdr.dev/slog"
	"cdr.dev/slog/sloggers/sloghuman"
	"github.com/coder/quartz"
	"github.com/google/uuid"

	"minder/internal/agent/enforce"
	"minder/internal/agent/session"
	"minder/internal/agentsdk"
)

var Version = "1.0.0"

func main() {
	serverURL := flag.String("url", "http://127.0.0.1:8080", "minderd server URL")
	stateDir := flag.String("state", defaultStateDir(), "Directory for agent state (identity, snapshot)")
	host := flag.String("host", "", "Hostname to enforce and report for this session")
	interval := flag.Duration("interval", 30*time.Second, "Heartbeat reporting interval")
	verbose := flag.Bool("verbose", false, "Enable debug logging")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("minder-agent v%s\n", Version)
		os.Exit(0)
	}

	logger := slog.Make(sloghuman.Sink(os.Stderr))
	if *verbose {
		logger = logger.Leveled(slog.LevelDebug)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *host == "" {
		logger.Fatal(ctx, "missing -host")
	}
	if err := os.MkdirAll(*stateDir, 0755); err != nil {
		logger.Fatal(ctx, "failed to create state dir", slog.Error(err))
	}

	client, err := agentsdk.New(*serverURL)
	if err != nil {
		logger.Fatal(ctx, "invalid server url", slog.Error(err))
	}

	userID, err := loadIdentity(filepath.Join(*stateDir, "identity"))
	if err != nil {
		logger.Fatal(ctx, "failed to load identity", slog.Error(err))
	}
	if err := client.Init(ctx, userID); err != nil {
		// The agent still works from the cached snapshot.
		logger.Warn(ctx, "server init failed, starting degraded", slog.Error(err))
	}
	logger.Info(ctx, "agent identity", slog.F("user_id", userID))

	clock := quartz.NewReal()
	engine := enforce.New(enforce.Options{
		Client: client,
		UserID: userID,
		Store:  &enforce.FileStore{Path: filepath.Join(*stateDir, "snapshot.json")},
		Clock:  clock,
		Logger: logger,
	})
	defer engine.Close()

	// Synchronous local-first check before anything touches the network.
	verdict := engine.Check(ctx, *host)
	logger.Info(ctx, "initial decision", slog.F("host", *host), slog.F("verdict", verdict.String()))

	go func() {
		if err := engine.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error(ctx, "engine stopped", slog.Error(err))
		}
	}()

	timer := session.NewTimer(client, userID, *host, *interval, clock, logger)
	timer.Start(ctx)

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info(ctx, "shutting down")

	// Flush the partial interval before tearing the context down.
	timer.Stop()
	cancel()

	verdict = enforce.Decide(engine.Snapshot(), *host)
	logger.Info(ctx, "final decision", slog.F("host", *host), slog.F("verdict", verdict.String()))
}

// loadIdentity reads the persisted user UUID, generating one on first run.
func loadIdentity(path string) (uuid.UUID, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		return uuid.Parse(strings.TrimSpace(string(data)))
	}
	if !os.IsNotExist(err) {
		return uuid.Nil, err
	}

	id := uuid.New()
	if err := os.WriteFile(path, []byte(id.String()+"\n"), 0600); err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

func defaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".minder-agent"
	}
	return filepath.Join(home, ".minder-agent")
}
