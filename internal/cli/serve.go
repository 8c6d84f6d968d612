package cli

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilnforge/orchestrator/internal/api"
	"github.com/kilnforge/orchestrator/internal/cloud/gcp"
	"github.com/kilnforge/orchestrator/internal/config"
	"github.com/kilnforge/orchestrator/internal/gateway"
	"github.com/kilnforge/orchestrator/internal/observability"
	"github.com/kilnforge/orchestrator/internal/orchestrator"
	"github.com/kilnforge/orchestrator/internal/provider/bot"
	"github.com/kilnforge/orchestrator/internal/provider/chat"
	"github.com/kilnforge/orchestrator/internal/sandbox"
	"github.com/kilnforge/orchestrator/internal/sandbox/transport"
	"github.com/kilnforge/orchestrator/internal/session"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the orchestrator HTTP server",
	Long: `serve loads configuration, dials the sandbox host over SSH, wires the
Agent Gateway and Execution Orchestrator behind an HTTP API, and runs
until SIGINT/SIGTERM, at which point it stops accepting new executions
and tears down every running sandbox container.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// shutdownGrace bounds how long serve waits, after a signal, for
// CleanupAll to finish destroying sandbox containers.
const shutdownGrace = 30 * time.Second

// runServe performs the wiring described in SPEC_FULL.md §1.5, in the
// order the teacher's cmd/controller/main.go establishes its
// dependencies: config, then transport, then the domain components that
// depend on it, then the process's external surface.
func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	logger := gcp.NewLogger(ctx, "serve", gcp.WithLabels(map[string]string{"component": "orchestrator"}))
	defer logger.Close()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cfg.SecretManager.ProjectID != "" {
		secretClient, err := gcp.NewSecretManagerClient(ctx)
		if err != nil {
			return fmt.Errorf("connect to secret manager: %w", err)
		}
		defer secretClient.Close()

		if err := cfg.ResolveSecrets(ctx, secretClient); err != nil {
			return fmt.Errorf("resolve secrets: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	sshTransport, err := transport.NewSSHTransport(transport.SSHConfig{
		Host:       cfg.VPS.Host,
		User:       cfg.VPS.User,
		PrivateKey: []byte(cfg.VPS.SSHKeyPEM),
	})
	if err != nil {
		return fmt.Errorf("connect sandbox transport: %w", err)
	}

	sandboxMgr := sandbox.New(sshTransport, cfg.Container.MaxConcurrent)

	botProvider := bot.New(bot.NewHTTPClient(cfg.Bot.BaseURL, cfg.ChatTimeout()))
	chatProvider := chat.New(
		chat.Endpoint{URL: cfg.Chat.Primary.URL, BearerToken: cfg.Chat.Primary.APIKey},
		chat.Endpoint{URL: cfg.Chat.Fallback.URL},
	)

	models := gateway.ModelConfig{
		Large: cfg.Models.Large,
		Mid:   cfg.Models.Mid,
		Small: cfg.Models.Small,
		Fixer: cfg.Models.Fixer,
	}
	onAlert := func(waited time.Duration) {
		logger.LogWarning(fmt.Sprintf("gateway queue wait exceeded threshold: %s", waited))
	}
	gw := gateway.New(botProvider, chatProvider, models, cfg.Gateway.Concurrency, onAlert)

	orch := orchestrator.New(gw, sandboxMgr, orchestrator.DefaultAgentSet).WithTracer(newTracer(cfg))
	sessions := session.NewStore()

	stopReapers := make(chan struct{})
	go sessions.RunReaper(session.TTL, stopReapers)
	go sandboxMgr.RunReaper(sandbox.ReaperInterval, stopReapers)
	defer close(stopReapers)

	srv := api.NewServer(orch, sessions, logger)
	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler: srv.Router(),
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.LogInfo(fmt.Sprintf("orchestrator listening on :%d (vps=%s, max_containers=%d, gateway_concurrency=%d)",
			cfg.HTTP.Port, cfg.VPS.Host, cfg.Container.MaxConcurrent, cfg.Gateway.Concurrency))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.LogInfo("shutdown signal received, draining")
	case err := <-serveErr:
		logger.LogError(fmt.Sprintf("http server exited: %v", err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.LogWarning(fmt.Sprintf("http server shutdown: %v", err))
	}

	result := sandboxMgr.CleanupAll(shutdownCtx)
	logger.LogInfo(fmt.Sprintf("sandbox cleanup: %d destroyed, %d failed", result.OK, result.Failed))

	return nil
}

// newTracer builds the orchestrator's Tracer from config. With no
// Langfuse public key configured, tracing is a no-op.
func newTracer(cfg *config.Config) observability.Tracer {
	if cfg.Observability.PublicKey == "" {
		return &observability.NoOpTracer{}
	}
	return observability.NewLangfuseTracer(observability.LangfuseConfig{
		PublicKey: cfg.Observability.PublicKey,
		SecretKey: cfg.Observability.SecretKey,
		BaseURL:   cfg.Observability.BaseURL,
	}, nil)
}
