package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ppiankov/promptguard/internal/config"
	"github.com/ppiankov/promptguard/internal/intercept"
	"github.com/ppiankov/promptguard/internal/scan"
)

var (
	proxyPort     int
	proxyUpstream string
	proxyAuditLog string
	proxyWatch    bool
)

func init() {
	rootCmd.AddCommand(proxyCmd)
	proxyCmd.Flags().IntVar(&proxyPort, "port", 0, "Port to listen on (default from config, 9999)")
	proxyCmd.Flags().StringVar(&proxyUpstream, "upstream", "", "Upstream LLM API URL (default from config)")
	proxyCmd.Flags().StringVar(&proxyAuditLog, "audit-log", "", "Path to audit log JSONL file")
	proxyCmd.Flags().BoolVar(&proxyWatch, "watch", true, "Reload scan settings when the config file changes")
}

var proxyCmd = &cobra.Command{
	Use:   "proxy",
	Short: "Start a reverse proxy that scans LLM requests",
	Long: `Reverse proxy between an application and an LLM API. Every JSON request body
is scanned before it is forwarded; unsafe prompts get a 403 in the provider's
error format. Responses, including SSE streams, are relayed unchanged.

Usage: ANTHROPIC_BASE_URL=http://localhost:9999 python app.py`,
	RunE: runProxy,
}

func runProxy(cmd *cobra.Command, args []string) error {
	cfg, hash, err := loadConfig()
	if err != nil {
		return err
	}
	if proxyPort != 0 {
		cfg.Proxy.Port = proxyPort
	}
	if proxyUpstream != "" {
		cfg.Proxy.Upstream = proxyUpstream
	}
	if proxyAuditLog != "" {
		cfg.AuditLog = expandHome(proxyAuditLog)
	}

	log := newLogger("promptguard-proxy")
	hooks, closeHooks, err := observers(cfg, hash, log)
	if err != nil {
		return err
	}
	defer closeHooks()

	sc, err := scan.New(cfg.APIKey, append(cfg.ScanOptions(), scan.WithLogger(log))...)
	if err != nil {
		return err
	}
	srv, err := intercept.NewServer(intercept.Config{
		Port:     cfg.Proxy.Port,
		Upstream: cfg.Proxy.Upstream,
		Hooks:    hooks,
		Logger:   log,
	}, sc)
	if err != nil {
		sc.Close()
		return fmt.Errorf("failed to create proxy: %w", err)
	}
	defer srv.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if proxyWatch {
		startReloader(ctx, srv, log)
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "promptguard proxy listening on :%d (fail mode %s)\n", cfg.Proxy.Port, cfg.FailMode)
	fmt.Fprintf(cmd.ErrOrStderr(), "Upstream: %s\n", cfg.Proxy.Upstream)
	fmt.Fprintf(cmd.ErrOrStderr(), "Set ANTHROPIC_BASE_URL=http://localhost:%d to route traffic\n", cfg.Proxy.Port)

	return srv.Start(ctx)
}

// startReloader swaps in a new scan client whenever the config file changes.
// Port, upstream and hooks are fixed for the life of the process.
func startReloader(ctx context.Context, srv *intercept.Server, log *slog.Logger) {
	r, err := config.NewReloader(configPath, reloadScanner(srv, log), log)
	if err != nil {
		log.Warn("config hot-reload disabled", "error", err)
		return
	}
	go r.Run(ctx)
}

// reloadScanner builds the reload callback. Command-line overrides are
// re-applied so an edited file cannot relax --fail-mode closed.
func reloadScanner(srv *intercept.Server, log *slog.Logger) func(*config.Config, string) {
	return func(cfg *config.Config, hash string) {
		if err := applyFlagOverrides(cfg); err != nil {
			log.Error("reloaded config rejected", "error", err)
			return
		}
		sc, err := scan.New(cfg.APIKey, append(cfg.ScanOptions(), scan.WithLogger(log))...)
		if err != nil {
			log.Error("reloaded config rejected", "error", err)
			return
		}
		srv.SetScanner(sc)
		log.Info("scan settings reloaded", "config_hash", hash, "fail_mode", string(cfg.FailMode))
	}
}
