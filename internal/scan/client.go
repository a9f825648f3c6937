// Package scan owns the round trip to the remote scan service: local size
// pre-flight, the HTTP request, failure policy, and verdict sanitization.
package scan

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ppiankov/promptguard/internal/verdict"
)

const (
	// SDKName and SDKVersion identify this client to the scan service.
	SDKName    = "go"
	SDKVersion = "0.4.0"

	maxResponseSize = 1 << 20 // 1MB
)

// ContentType selects the specialized scanner on the backend.
type ContentType string

const (
	ContentSQL         ContentType = "sql"
	ContentFilePath    ContentType = "file_path"
	ContentFileContent ContentType = "file_content"
)

// Request is the body of POST /scan.
type Request struct {
	Prompt  string `json:"prompt"`
	Context string `json:"context,omitempty"`
}

// SpecializedRequest is the body of POST /api/scan/specialized.
type SpecializedRequest struct {
	Content     string            `json:"content"`
	ContentType ContentType       `json:"content_type"`
	Context     map[string]string `json:"context,omitempty"`
}

// Client scans prompts against the remote scan service.
// Safe for concurrent use; holds no per-call state.
type Client struct {
	apiKey   string
	endpoint string
	timeout  time.Duration
	failMode FailMode
	http     *http.Client
	owned    *http.Transport
	logger   *slog.Logger
	closed   atomic.Bool
}

// New creates a Client. Invalid configuration fails here with a *ConfigError,
// never at scan time.
func New(apiKey string, opts ...Option) (*Client, error) {
	cfg := clientConfig{
		endpoint: DefaultEndpoint,
		failMode: DefaultFailMode,
		timeout:  DefaultTimeout,
	}
	for _, o := range opts {
		o(&cfg)
	}

	if !cfg.failMode.Valid() {
		return nil, &ConfigError{Field: "fail_mode", Value: string(cfg.failMode), Reason: `must be "open" or "closed"`}
	}
	if cfg.timeout <= 0 {
		return nil, &ConfigError{Field: "scan_timeout", Value: cfg.timeout.String(), Reason: "must be positive"}
	}
	endpoint := strings.TrimRight(strings.TrimSpace(cfg.endpoint), "/")
	u, err := url.Parse(endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, &ConfigError{Field: "endpoint", Value: cfg.endpoint, Reason: "must be an absolute http(s) URL"}
	}

	c := &Client{
		apiKey:   apiKey,
		endpoint: endpoint,
		timeout:  cfg.timeout,
		failMode: cfg.failMode,
		http:     cfg.httpClient,
		logger:   cfg.logger,
	}
	if c.http == nil {
		c.owned = http.DefaultTransport.(*http.Transport).Clone()
		c.http = &http.Client{Transport: c.owned}
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.logger = c.logger.With("component", "scan")
	return c, nil
}

// FailMode returns the configured failure policy.
func (c *Client) FailMode() FailMode { return c.failMode }

// Endpoint returns the normalized scan service base URL.
func (c *Client) Endpoint() string { return c.endpoint }

// Scan checks a prompt (and optional conversation context).
// The only error it returns is *ScanError.
func (c *Client) Scan(ctx context.Context, prompt, context string) (verdict.Verdict, error) {
	if v := CheckSize(prompt, context); v != nil {
		return *v, nil
	}
	if strings.TrimSpace(prompt) == "" {
		return verdict.SafeVerdict("no content to scan"), nil
	}
	return c.send(ctx, "/scan", Request{Prompt: prompt, Context: context})
}

// ScanSQL checks a SQL query for injection and destructive statements.
func (c *Client) ScanSQL(ctx context.Context, query, database string, allowDestructive bool) (verdict.Verdict, error) {
	if v := CheckSize(query, ""); v != nil {
		return *v, nil
	}
	if strings.TrimSpace(query) == "" {
		return verdict.SafeVerdict("no content to scan"), nil
	}
	return c.send(ctx, "/api/scan/specialized", SpecializedRequest{
		Content:     query,
		ContentType: ContentSQL,
		Context: map[string]string{
			"database":          database,
			"allow_destructive": strconv.FormatBool(allowDestructive),
		},
	})
}

// ScanFile checks a file path and, when given, the content about to be written there.
func (c *Client) ScanFile(ctx context.Context, path, content string) (verdict.Verdict, error) {
	if v := CheckSize(path, content); v != nil {
		return *v, nil
	}
	if strings.TrimSpace(path) == "" && strings.TrimSpace(content) == "" {
		return verdict.SafeVerdict("no content to scan"), nil
	}
	req := SpecializedRequest{Content: path, ContentType: ContentFilePath}
	if content != "" {
		req.ContentType = ContentFileContent
		req.Context = map[string]string{"file_content": content}
	}
	return c.send(ctx, "/api/scan/specialized", req)
}

// Close releases pooled connections. Safe to call more than once and from
// any goroutine; scans issued afterwards fail with ErrClosed.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	if c.owned != nil {
		c.owned.CloseIdleConnections()
	} else {
		c.http.CloseIdleConnections()
	}
	return nil
}

func (c *Client) send(ctx context.Context, path string, payload any) (verdict.Verdict, error) {
	requestID := uuid.NewString()
	if c.closed.Load() {
		return verdict.Verdict{}, newScanError(FailureClosed, requestID, 0, ErrClosed)
	}

	raw, serr := c.roundTrip(ctx, path, payload, requestID)
	if serr != nil {
		return c.fail(serr)
	}
	return verdict.Sanitize(raw), nil
}

// fail applies the failure policy. Caller cancellation and use-after-close
// are never converted into an allow.
func (c *Client) fail(serr *ScanError) (verdict.Verdict, error) {
	if serr.Kind == FailureCancelled || serr.Kind == FailureClosed {
		return verdict.Verdict{}, serr
	}
	if c.failMode == FailClosed {
		return verdict.Verdict{}, serr
	}

	reason := serr.openReason()
	attrs := []any{
		"request_id", serr.RequestID,
		"kind", string(serr.Kind),
		"error", serr.Err,
	}
	if serr.ClientError() {
		// 4xx repeats on every call until someone fixes the config.
		c.logger.Error("scan rejected by service, failing open", append(attrs, "status", serr.StatusCode)...)
	} else {
		c.logger.Warn("scan failed, failing open", attrs...)
	}
	v := verdict.SafeVerdict(reason)
	v.Degraded = true
	return v, nil
}

func (c *Client) roundTrip(ctx context.Context, path string, payload any, requestID string) (verdict.Raw, *ScanError) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, newScanError(FailureTransport, requestID, 0, err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.endpoint+path, bytes.NewReader(data))
	if err != nil {
		return nil, newScanError(FailureTransport, requestID, 0, err)
	}
	for k, v := range Headers(c.apiKey, requestID) {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classify(ctx, err, requestID)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, classify(ctx, err, requestID)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, newScanError(FailureStatus, requestID, resp.StatusCode,
			errors.New(http.StatusText(resp.StatusCode)))
	}

	raw, err := verdict.Decode(body)
	if err != nil {
		return nil, newScanError(FailureMalformed, requestID, resp.StatusCode, err)
	}
	return raw, nil
}

// classify separates caller cancellation from scan timeouts and transport errors.
func classify(parent context.Context, err error, requestID string) *ScanError {
	if parent.Err() != nil {
		return newScanError(FailureCancelled, requestID, 0, parent.Err())
	}
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return newScanError(FailureTimeout, requestID, 0, err)
	}
	return newScanError(FailureTransport, requestID, 0, err)
}

// Headers returns the request headers for a scan call.
func Headers(apiKey, requestID string) map[string]string {
	if requestID == "" {
		requestID = uuid.NewString()
	}
	return map[string]string{
		"Authorization": "Bearer " + apiKey,
		"Content-Type":  "application/json",
		"User-Agent":    "promptguard-" + SDKName + "/" + SDKVersion,
		"X-SDK":         SDKName,
		"X-SDK-Version": SDKVersion,
		"X-Request-ID":  requestID,
	}
}
