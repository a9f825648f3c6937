// Package mcp exposes the scanners as MCP tools so agents can check prompts,
// SQL and file writes before acting on them.
package mcp

import (
	"context"
	"errors"
	"log/slog"
	"time"
	"unicode/utf8"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ppiankov/promptguard/internal/guard"
	"github.com/ppiankov/promptguard/internal/scan"
	"github.com/ppiankov/promptguard/internal/verdict"
)

// Scanner is the scan surface the tools call. *scan.Client implements it.
type Scanner interface {
	Scan(ctx context.Context, prompt, context string) (verdict.Verdict, error)
	ScanSQL(ctx context.Context, query, database string, allowDestructive bool) (verdict.Verdict, error)
	ScanFile(ctx context.Context, path, content string) (verdict.Verdict, error)
}

// Config holds MCP server configuration.
type Config struct {
	Hooks  []guard.Hook
	Logger *slog.Logger
}

// Server wraps the MCP SDK server with promptguard scan tools.
type Server struct {
	mcpServer *mcpsdk.Server
	scanner   Scanner
	hooks     []guard.Hook
	logger    *slog.Logger
}

// New creates an MCP server backed by s.
func New(cfg Config, s Scanner) (*Server, error) {
	if s == nil {
		return nil, errors.New("scanner is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	srv := &Server{
		scanner: s,
		hooks:   cfg.Hooks,
		logger:  logger.With("component", "mcp"),
	}
	srv.mcpServer = mcpsdk.NewServer(
		&mcpsdk.Implementation{
			Name:    "promptguard",
			Version: scan.SDKVersion,
		},
		nil,
	)
	srv.registerTools()
	return srv, nil
}

// Run starts the MCP server on stdio transport. Blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.mcpServer.Run(ctx, &mcpsdk.StdioTransport{})
}

// registerTools adds all promptguard tools to the MCP server.
func (s *Server) registerTools() {
	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "promptguard_scan",
		Description: "Scan a prompt for injection, jailbreak, data exfiltration and other threats before sending it to a model.",
	}, s.handleScan)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "promptguard_scan_sql",
		Description: "Scan a SQL query for injection and destructive statements before executing it.",
	}, s.handleScanSQL)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "promptguard_scan_file",
		Description: "Scan a file path, and optionally the content about to be written, for traversal and secret leakage.",
	}, s.handleScanFile)
}

// observe reports a tool scan to the configured hooks.
func (s *Server) observe(ctx context.Context, tool, text string, v verdict.Verdict, err error, start time.Time) {
	ev := guard.Event{
		Binding:  "mcp." + tool,
		Chars:    utf8.RuneCountInString(text),
		Verdict:  v,
		Err:      err,
		Duration: time.Since(start),
	}
	for _, h := range s.hooks {
		h(ctx, ev)
	}
}
