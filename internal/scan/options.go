package scan

import (
	"log/slog"
	"net/http"
	"time"
)

const (
	// DefaultEndpoint is the production scan service.
	DefaultEndpoint = "https://api.shrikesecurity.com/agent"
	// DefaultTimeout tolerates backend cold starts.
	DefaultTimeout = 10 * time.Second
)

// Option configures a Client at creation time.
type Option func(*clientConfig)

type clientConfig struct {
	endpoint   string
	failMode   FailMode
	timeout    time.Duration
	httpClient *http.Client
	logger     *slog.Logger
}

// WithEndpoint overrides the scan service base URL (e.g. for VPC deployments).
func WithEndpoint(endpoint string) Option {
	return func(c *clientConfig) { c.endpoint = endpoint }
}

// WithFailMode sets behaviour on scan failure.
func WithFailMode(mode FailMode) Option {
	return func(c *clientConfig) { c.failMode = mode }
}

// WithTimeout sets the per-request scan timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *clientConfig) { c.timeout = d }
}

// WithHTTPClient replaces the owned transport. The caller keeps ownership of
// the client's transport; Close only drops its idle connections.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *clientConfig) { c.httpClient = hc }
}

// WithLogger sets the logger used for fail-open diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(c *clientConfig) { c.logger = l }
}
