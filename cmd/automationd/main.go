// automationd runs the conversation workflow automation engine: the durable
// task runner, the schedule sweeper, the HTTP ingestion surface, and
// optionally the MCP stdio surface for agent operators.
package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/convohq/automation/internal/actions"
	"github.com/convohq/automation/internal/collab"
	"github.com/convohq/automation/internal/conditions"
	"github.com/convohq/automation/internal/engine"
	"github.com/convohq/automation/internal/evalctx"
	"github.com/convohq/automation/internal/ingest"
	"github.com/convohq/automation/internal/logging"
	"github.com/convohq/automation/internal/matcher"
	"github.com/convohq/automation/internal/scheduler"
	"github.com/convohq/automation/internal/secrets"
	"github.com/convohq/automation/internal/store"
	"github.com/convohq/automation/internal/tasks"
	"github.com/convohq/automation/internal/tenant"
	"github.com/convohq/automation/internal/ttlstate"
	"github.com/convohq/automation/internal/validation"
	"github.com/convohq/automation/pkg/mcp"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "automationd:", err)
		os.Exit(1)
	}
}

// allowAllEntitlements treats every owner as active. The daemon uses it
// when no billing collaborator is configured.
type allowAllEntitlements struct{}

func (allowAllEntitlements) IsActive(_ context.Context, _ string) (bool, error) {
	return true, nil
}

func run() error {
	cfg := loadConfig()
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	s, err := store.NewLibSQLStore("file:" + cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer s.Close()
	if err := s.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate store: %w", err)
	}

	// Collaborator adapters. In-memory implementations stand in until the
	// platform services are wired; swap them per deployment.
	messenger := collab.NewMemoryMessenger()
	ai := collab.NewStaticAI("")
	customers := collab.NewMemoryCustomers()
	conversations := collab.NewMemoryConversations()
	var entitlements collab.Entitlements = allowAllEntitlements{}
	if cfg.ActiveOwner != "" {
		entitlements = collab.NewStaticEntitlements(cfg.ActiveOwner)
	}

	state := ttlstate.New(time.Minute)
	sandbox := conditions.NewCodeSandbox(0, logger)
	evaluator := conditions.NewEvaluator(sandbox, ai, logger)

	var vault secrets.Vault
	if cfg.VaultKey != "" {
		key, decErr := base64.StdEncoding.DecodeString(cfg.VaultKey)
		if decErr != nil {
			return fmt.Errorf("decode vault key: %w", decErr)
		}
		vault, err = secrets.NewAESVault(s, secrets.VaultConfig{MasterKey: key})
		if err != nil {
			return fmt.Errorf("open vault: %w", err)
		}
	}

	registry, err := actions.DefaultRegistry(actions.Deps{
		Messenger:     messenger,
		AI:            ai,
		Customers:     customers,
		Conversations: conversations,
		State:         state,
		Sandbox:       sandbox,
		HTTPClient:    &http.Client{Timeout: 30 * time.Second},
		Vault:         vault,
		Logger:        logger,
	})
	if err != nil {
		return fmt.Errorf("build action registry: %w", err)
	}

	guards, err := engine.NewGuardEngine(logger)
	if err != nil {
		return fmt.Errorf("build guard engine: %w", err)
	}
	executor := engine.New(s, registry, evaluator, guards, messenger, ai, state, logger)

	builder := evalctx.NewBuilder(customers, conversations, logger)
	resolver := tenant.NewResolver(conversations, entitlements, state)
	m := matcher.New(s, builder, evaluator, resolver, logger)

	runner := tasks.NewRunner(s, m, executor, registry, tasks.Config{
		Concurrency: cfg.Workers,
	}, logger)

	sched := scheduler.New(s, runner, state, logger)
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer sched.Stop()

	validator, err := validation.NewWorkflowValidator(registry)
	if err != nil {
		return fmt.Errorf("build validator: %w", err)
	}

	httpSrv := ingest.NewServer(ingest.Config{
		Addr:            cfg.ListenAddr,
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    30 * time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}, runner, s, logger)

	errCh := make(chan error, 3)
	go func() {
		runner.Run(ctx)
		errCh <- nil
	}()
	go func() {
		errCh <- httpSrv.Start(ctx)
	}()
	if cfg.MCP {
		mcpSrv := mcp.NewServer(mcp.ServerDeps{
			Store:     s,
			Submitter: runner,
			Canceller: executor,
			Validator: validator,
			Logger:    logger,
		})
		go func() {
			errCh <- mcpSrv.Serve(ctx)
		}()
	}

	logger.Info("automationd started", "addr", cfg.ListenAddr, "db", cfg.DBPath, "workers", cfg.Workers, "mcp", cfg.MCP)

	select {
	case err := <-errCh:
		stop()
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	logger.Info("automationd shutting down")
	return nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	inner := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(logging.NewCorrelationHandler(inner))
}
