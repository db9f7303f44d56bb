package main

import (
	"log/slog"
	"os"
	"path/filepath"
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	Mode         string     // "stdio" or "http"
	HTTPAddr     string     // "127.0.0.1:8080"
	RegistryFile string     // path to the registry document (§3)
	AuditDSN     string     // sqlite file path for the audit log
	AgeKeyPath   string     // path to age identity file
	LogLevel     slog.Level // slog level
}

// defaultDataPath returns ~/.mcpgate/<filename>, falling back to a
// CWD-relative path if the home directory can't be resolved.
func defaultDataPath(filename string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filename
	}
	return filepath.Join(home, ".mcpgate", filename)
}

func loadConfig() (*Config, error) {
	cfg := &Config{
		Mode:         envOr("MCPGATE_MODE", "stdio"),
		HTTPAddr:     envOr("MCPGATE_HTTP_ADDR", "127.0.0.1:8080"),
		RegistryFile: envOr("MCPGATE_REGISTRY", defaultDataPath("registry.json")),
		AuditDSN:     envOr("MCPGATE_AUDIT_DSN", defaultDataPath("audit.db")),
		AgeKeyPath:   envOr("MCPGATE_AGE_KEY", defaultDataPath("mcpgate.age")),
		LogLevel:     parseLogLevel(envOr("MCPGATE_LOG_LEVEL", "info")),
	}
	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseLogLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
