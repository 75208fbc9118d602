package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/appforge/appforge/pkg/config"
	"github.com/appforge/appforge/pkg/model/gemini"
	"github.com/appforge/appforge/pkg/protocol"
	"github.com/appforge/appforge/pkg/sandbox"
	"github.com/appforge/appforge/pkg/sandbox/docker"
	"github.com/appforge/appforge/pkg/server"
	"github.com/appforge/appforge/pkg/store/sqlite"
	"github.com/appforge/appforge/pkg/watcher"
)

func main() {
	// Setup logger.
	opts := &slog.HandlerOptions{Level: slog.LevelDebug}
	logger := slog.New(slog.NewTextHandler(os.Stderr, opts))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	// Initialize store.
	dbPath := filepath.Join(cfg.DataDir, "appforge.db")
	os.MkdirAll(cfg.DataDir, 0755)

	store, err := sqlite.New(dbPath)
	if err != nil {
		slog.Error("Failed to initialize store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	// Initialize model provider.
	provider, err := gemini.New(ctx, cfg.GeminiAPIKey)
	if err != nil {
		slog.Error("Failed to initialize Gemini provider", "error", err)
		os.Exit(1)
	}

	// Initialize sandbox factory.
	workspacesDir := filepath.Join(cfg.DataDir, "workspaces")
	factory, err := docker.NewFactory(cfg.SandboxImage, cfg.AppPort, workspacesDir)
	if err != nil {
		slog.Error("Failed to initialize sandbox factory", "error", err)
		os.Exit(1)
	}
	defer factory.Close()

	// The watcher's callback targets the registry, which does not exist yet
	// when the watcher is constructed.
	var registry *server.Registry
	watch := watcher.New(func(sessionID string, tree []protocol.FileNode) {
		if registry != nil {
			registry.BroadcastTree(sessionID, tree)
		}
	})
	defer watch.Shutdown()

	registry = server.NewRegistry(server.RegistryConfig{
		NewSandbox: func(sessionID string) (sandbox.Sandbox, error) {
			return factory.New(sessionID)
		},
		Provider:     provider,
		Sessions:     store,
		Transcripts:  store,
		Watcher:      watch,
		DefaultModel: cfg.Model,
		MaxSessions:  cfg.MaxSessions,
	})
	defer registry.CloseAll()

	// Start server.
	srv := server.New(registry, store, store, provider, watch)
	if err := srv.Start(cfg.Addr); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
}
