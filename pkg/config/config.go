// Package config loads server configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds everything the server binary needs to start.
type Config struct {
	// Addr is the HTTP listen address.
	Addr string
	// GeminiAPIKey authenticates against the Gemini API. Required.
	GeminiAPIKey string
	// Model is the default model for new sessions.
	Model string
	// SandboxImage is the container image booted for each session.
	SandboxImage string
	// AppPort is the container port probed for a running app server.
	AppPort string
	// DataDir holds the SQLite database and session workspaces.
	DataDir string
	// MaxSessions caps concurrent live sessions. 0 means unlimited.
	MaxSessions int
}

// Load reads configuration from the environment, applying defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Addr:         envOr("APPFORGE_ADDR", ":8080"),
		GeminiAPIKey: os.Getenv("GEMINI_API_KEY"),
		Model:        envOr("APPFORGE_MODEL", "gemini-2.0-flash"),
		SandboxImage: envOr("APPFORGE_SANDBOX_IMAGE", "appforge-sandbox:latest"),
		AppPort:      envOr("APPFORGE_APP_PORT", "3000"),
		DataDir:      envOr("APPFORGE_DATA_DIR", "data"),
	}

	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY environment variable not set")
	}

	maxSessions := envOr("APPFORGE_MAX_SESSIONS", "10")
	n, err := strconv.Atoi(maxSessions)
	if err != nil || n < 0 {
		return nil, fmt.Errorf("invalid APPFORGE_MAX_SESSIONS %q", maxSessions)
	}
	cfg.MaxSessions = n

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
