package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/revittco/mcpgate/internal/audit"
	"github.com/revittco/mcpgate/internal/backend"
	"github.com/revittco/mcpgate/internal/gateway"
	"github.com/revittco/mcpgate/internal/registry"
	"github.com/revittco/mcpgate/internal/secrets"
	"github.com/revittco/mcpgate/internal/transform"
)

func cmdServe(args []string) error {
	ctx, cancel := signal.NotifyContext(
		context.Background(), syscall.SIGINT, syscall.SIGTERM,
	)
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyFlags(cfg, args)

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	doc, err := os.ReadFile(cfg.RegistryFile)
	if err != nil {
		return fmt.Errorf("reading registry file %s: %w", cfg.RegistryFile, err)
	}
	resolved, warnings, err := registry.Load(doc)
	if err != nil {
		return fmt.Errorf("loading registry: %w", err)
	}
	for _, w := range warnings {
		logger.Warn("registry warning", "detail", w)
	}

	enc, err := secrets.EnsureKeyFile(cfg.AgeKeyPath)
	if err != nil {
		logger.Warn("failed to load or create age key, oauth backends will be unauthenticated", "error", err)
		enc = nil
	}
	authFor := buildAuthInjector(resolved, enc)

	manager := backend.NewManager(authFor)
	gw := gateway.New(resolved, manager, transform.Options{JSONInTextEnabled: true})
	for _, def := range resolved.Servers {
		manager.Register(def)
	}
	manager.BindExpectedTools(resolved)
	if err := manager.WarmUp(ctx); err != nil {
		logger.Warn("warm-up encountered errors", "error", err)
	}
	defer manager.Shutdown()

	auditDB, err := audit.Open(ctx, cfg.AuditDSN)
	if err != nil {
		logger.Warn("audit log unavailable, proceeding without it", "error", err)
	} else {
		defer auditDB.Close()
		gw.SetAuditSink(&auditAdapter{logger: audit.NewLogger(auditDB, nil)}, uuid.NewString())
	}

	switch cfg.Mode {
	case "stdio":
		logger.Info("starting in stdio mode")
		return runStdio(ctx, gw)
	case "http":
		return runHTTP(ctx, cfg, gw)
	default:
		return fmt.Errorf("unknown mode %q (want stdio or http)", cfg.Mode)
	}
}

// applyFlags parses --mode=X, --addr=X and --registry=X flags from the args list.
func applyFlags(cfg *Config, args []string) {
	for _, arg := range args {
		if v, ok := strings.CutPrefix(arg, "--mode="); ok {
			cfg.Mode = v
		}
		if v, ok := strings.CutPrefix(arg, "--addr="); ok {
			cfg.HTTPAddr = v
		}
		if v, ok := strings.CutPrefix(arg, "--registry="); ok {
			cfg.RegistryFile = v
		}
	}
}

func runStdio(ctx context.Context, gw *gateway.Gateway) error {
	srv := gateway.NewServer(gw)
	return srv.RunStdio(ctx)
}

func runHTTP(ctx context.Context, cfg *Config, gw *gateway.Gateway) error {
	httpSrv := gateway.NewHTTPServer(gw)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpSrv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MiB
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down http server")
		return srv.Shutdown(context.Background())
	case err := <-errCh:
		return err
	}
}

// buildAuthInjector resolves a bearer Authorization header for each
// "auth: oauth" backend (§3). Tokens are supplied out of band (§1's OAuth
// browser flow Non-goal): either an age-encrypted blob at
// "~/.mcpgate/tokens/<backend>.age" (defaultDataPath), decrypted with enc, or a plain
// MCPGATE_TOKEN_<BACKEND> environment variable as a fallback for local
// testing without at-rest encryption.
func buildAuthInjector(resolved *registry.Resolved, enc *secrets.AgeEncryptor) func(registry.ServerDef) string {
	return func(def registry.ServerDef) string {
		if def.Auth != registry.AuthOAuth {
			return ""
		}

		if enc != nil {
			if tok, err := loadEncryptedToken(def.Name, enc); err == nil && tok != "" {
				return "Bearer " + tok
			}
		}

		envKey := "MCPGATE_TOKEN_" + sanitizeEnvKey(def.Name)
		if tok := os.Getenv(envKey); tok != "" {
			return "Bearer " + tok
		}

		slog.Warn("no token available for oauth backend", "backend", def.Name)
		return ""
	}
}

func loadEncryptedToken(backendName string, enc *secrets.AgeEncryptor) (string, error) {
	path := defaultDataPath("tokens/" + backendName + ".age")
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	plain, err := enc.Decrypt(data)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(plain)), nil
}

// auditAdapter satisfies gateway.AuditSink over an *audit.Logger.
type auditAdapter struct {
	logger *audit.Logger
}

func (a *auditAdapter) Record(ctx context.Context, sessionID, backendName, exposedName, upstreamName, status, errorCode, errorMessage string, latencyMs int) {
	err := a.logger.Record(ctx, &audit.Record{
		SessionID:    sessionID,
		BackendName:  backendName,
		ExposedName:  exposedName,
		UpstreamName: upstreamName,
		Status:       status,
		ErrorCode:    errorCode,
		ErrorMessage: errorMessage,
		LatencyMs:    latencyMs,
	})
	if err != nil {
		slog.Warn("audit record failed", "error", err)
	}
}

func sanitizeEnvKey(name string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(name) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	return b.String()
}
