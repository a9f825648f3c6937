package mcp

import (
	"context"
	"errors"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ppiankov/promptguard/internal/scan"
	"github.com/ppiankov/promptguard/internal/verdict"
)

// --- Input/Output types ---

// ScanInput defines parameters for the promptguard_scan tool.
type ScanInput struct {
	Prompt  string `json:"prompt" jsonschema:"prompt text to scan"`
	Context string `json:"context,omitempty" jsonschema:"prior conversation context"`
}

// SQLInput defines parameters for the promptguard_scan_sql tool.
type SQLInput struct {
	Query            string `json:"query" jsonschema:"SQL query to scan"`
	Database         string `json:"database,omitempty" jsonschema:"database engine (postgres/mysql/sqlite)"`
	AllowDestructive bool   `json:"allow_destructive,omitempty" jsonschema:"permit DROP/TRUNCATE/DELETE without WHERE"`
}

// FileInput defines parameters for the promptguard_scan_file tool.
type FileInput struct {
	Path    string `json:"path" jsonschema:"file path to be read or written"`
	Content string `json:"content,omitempty" jsonschema:"content about to be written"`
}

// ViolationOutput mirrors a verdict violation.
type ViolationOutput struct {
	Type        string `json:"type"`
	Description string `json:"description"`
}

// ScanOutput is the sanitized verdict, or the scan failure.
type ScanOutput struct {
	Safe       bool              `json:"safe"`
	ThreatType string            `json:"threat_type,omitempty"`
	Severity   string            `json:"severity,omitempty"`
	Confidence string            `json:"confidence,omitempty"`
	Reason     string            `json:"reason,omitempty"`
	Guidance   string            `json:"guidance,omitempty"`
	Violations []ViolationOutput `json:"violations,omitempty"`
	Error      string            `json:"error,omitempty"`
	ErrorKind  string            `json:"error_kind,omitempty"`
}

// --- Handlers ---

func (s *Server) handleScan(ctx context.Context, req *mcpsdk.CallToolRequest, input ScanInput) (*mcpsdk.CallToolResult, ScanOutput, error) {
	start := time.Now()
	v, err := s.scanner.Scan(ctx, input.Prompt, input.Context)
	s.observe(ctx, "scan", input.Prompt+input.Context, v, err, start)
	return s.result(v, err)
}

func (s *Server) handleScanSQL(ctx context.Context, req *mcpsdk.CallToolRequest, input SQLInput) (*mcpsdk.CallToolResult, ScanOutput, error) {
	start := time.Now()
	v, err := s.scanner.ScanSQL(ctx, input.Query, input.Database, input.AllowDestructive)
	s.observe(ctx, "scan_sql", input.Query, v, err, start)
	return s.result(v, err)
}

func (s *Server) handleScanFile(ctx context.Context, req *mcpsdk.CallToolRequest, input FileInput) (*mcpsdk.CallToolResult, ScanOutput, error) {
	start := time.Now()
	v, err := s.scanner.ScanFile(ctx, input.Path, input.Content)
	s.observe(ctx, "scan_file", input.Path+input.Content, v, err, start)
	return s.result(v, err)
}

// result turns a scan outcome into tool output. An unsafe verdict is a
// successful answer; only a failed scan is a tool error.
func (s *Server) result(v verdict.Verdict, err error) (*mcpsdk.CallToolResult, ScanOutput, error) {
	if err != nil {
		out := ScanOutput{Error: err.Error()}
		var se *scan.ScanError
		if errors.As(err, &se) {
			out.ErrorKind = string(se.Kind)
		}
		s.logger.Warn("scan tool failed", "error", err)
		return &mcpsdk.CallToolResult{IsError: true}, out, nil
	}
	return nil, toOutput(v), nil
}

func toOutput(v verdict.Verdict) ScanOutput {
	out := ScanOutput{
		Safe:       v.Safe,
		ThreatType: string(v.ThreatType),
		Severity:   string(v.Severity),
		Confidence: string(v.Confidence),
		Reason:     v.Reason,
		Guidance:   v.Guidance,
	}
	for _, viol := range v.Violations {
		out.Violations = append(out.Violations, ViolationOutput{Type: viol.Type, Description: viol.Description})
	}
	return out
}
