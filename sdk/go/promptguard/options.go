package promptguard

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/ppiankov/promptguard/internal/config"
)

// Option configures a Client at creation time.
type Option func(*clientConfig)

type clientConfig struct {
	apiKey      string
	endpoint    string
	failMode    FailMode
	timeout     time.Duration
	httpClient  *http.Client
	logger      *slog.Logger
	hooks       []Hook
	auditPath   string
	alerts      []AlertConfig
	configHash  string
	providerKey string
	providerURL string
	providerHC  *http.Client
	env         *config.Config
	err         error
}

// WithAPIKey sets the scan service API key.
func WithAPIKey(key string) Option {
	return func(c *clientConfig) { c.apiKey = key }
}

// WithEndpoint overrides the scan service base URL.
func WithEndpoint(endpoint string) Option {
	return func(c *clientConfig) { c.endpoint = endpoint }
}

// WithFailMode sets behaviour on scan failure. Unknown modes fail New with a *ConfigError.
func WithFailMode(mode FailMode) Option {
	return func(c *clientConfig) { c.failMode = mode }
}

// WithScanTimeout sets the per-request scan timeout.
func WithScanTimeout(d time.Duration) Option {
	return func(c *clientConfig) { c.timeout = d }
}

// WithHTTPClient sets the HTTP client used for scan requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *clientConfig) { c.httpClient = hc }
}

// WithLogger sets the logger for fail-open and hook diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(c *clientConfig) { c.logger = l }
}

// WithHook registers an observer for every scan outcome.
func WithHook(h Hook) Option {
	return func(c *clientConfig) { c.hooks = append(c.hooks, h) }
}

// WithAuditLog records every scan decision to a hash-chained JSONL file.
func WithAuditLog(path string) Option {
	return func(c *clientConfig) { c.auditPath = path }
}

// WithAlerts sends webhook alerts for blocked calls and scan failures.
func WithAlerts(alerts ...AlertConfig) Option {
	return func(c *clientConfig) { c.alerts = append(c.alerts, alerts...) }
}

// WithConfigFile loads settings from a YAML file. Options after it override the file.
func WithConfigFile(path string) Option {
	return func(c *clientConfig) {
		cfg, hash, err := config.LoadWithHash(path)
		if err != nil {
			c.err = err
			return
		}
		c.env = cfg
		c.apiKey = cfg.APIKey
		c.endpoint = cfg.Endpoint
		c.failMode = cfg.FailMode
		c.timeout = cfg.ScanTimeout
		c.auditPath = cfg.AuditLog
		c.alerts = cfg.Alerts
		c.configHash = hash
	}
}

// WithProviderAPIKey sets the upstream model API key.
func WithProviderAPIKey(key string) Option {
	return func(c *clientConfig) { c.providerKey = key }
}

// WithProviderBaseURL points the upstream model client at a proxy or test server.
func WithProviderBaseURL(u string) Option {
	return func(c *clientConfig) { c.providerURL = u }
}

// WithProviderHTTPClient sets the HTTP client for upstream model calls.
func WithProviderHTTPClient(hc *http.Client) Option {
	return func(c *clientConfig) { c.providerHC = hc }
}
