package cli

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	pgmcp "github.com/ppiankov/promptguard/internal/mcp"
	"github.com/ppiankov/promptguard/internal/scan"
)

func init() {
	rootCmd.AddCommand(mcpCmd)
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP tool server for agent integration",
	Long:  "Runs promptguard as an MCP (Model Context Protocol) server over stdio.\nExposes scan tools: promptguard_scan, promptguard_scan_sql, promptguard_scan_file.",
	RunE:  runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	cfg, hash, err := loadConfig()
	if err != nil {
		return err
	}

	// stdout carries the protocol; diagnostics go to stderr.
	log := slog.New(slog.NewTextHandler(os.Stderr, nil)).With("process", "promptguard-mcp")

	hooks, closeHooks, err := observers(cfg, hash, log)
	if err != nil {
		return err
	}
	defer closeHooks()

	sc, err := scan.New(cfg.APIKey, append(cfg.ScanOptions(), scan.WithLogger(log))...)
	if err != nil {
		return err
	}
	defer sc.Close()

	srv, err := pgmcp.New(pgmcp.Config{Hooks: hooks, Logger: log}, sc)
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return srv.Run(ctx)
}
