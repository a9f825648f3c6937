// Package config loads promptguard settings from YAML and the environment.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/promptguard/internal/alert"
	"github.com/ppiankov/promptguard/internal/scan"
)

// Environment variables that override file settings.
const (
	EnvAPIKey       = "PROMPTGUARD_API_KEY"
	EnvEndpoint     = "PROMPTGUARD_ENDPOINT"
	EnvFailMode     = "PROMPTGUARD_FAIL_MODE"
	EnvScanTimeout  = "PROMPTGUARD_SCAN_TIMEOUT"
	EnvAuditLog     = "PROMPTGUARD_AUDIT_LOG"
	EnvAnthropicKey = "ANTHROPIC_API_KEY"
	EnvGeminiKey    = "GEMINI_API_KEY"
)

// Config is the full promptguard configuration.
type Config struct {
	APIKey      string              `yaml:"api_key"`
	Endpoint    string              `yaml:"endpoint"`
	FailMode    scan.FailMode       `yaml:"fail_mode"`
	ScanTimeout time.Duration       `yaml:"scan_timeout"`
	Anthropic   ProviderConfig      `yaml:"anthropic"`
	Gemini      ProviderConfig      `yaml:"gemini"`
	Proxy       ProxyConfig         `yaml:"proxy"`
	AuditLog    string              `yaml:"audit_log"`
	Alerts      []alert.AlertConfig `yaml:"alerts"`
}

// ProviderConfig holds upstream model credentials.
type ProviderConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// ProxyConfig configures the scanning reverse proxy.
type ProxyConfig struct {
	Port     int    `yaml:"port"`
	Upstream string `yaml:"upstream"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Endpoint:    scan.DefaultEndpoint,
		FailMode:    scan.DefaultFailMode,
		ScanTimeout: scan.DefaultTimeout,
		Proxy: ProxyConfig{
			Port:     9999,
			Upstream: "https://api.anthropic.com",
		},
	}
}

// DefaultPath returns ~/.promptguard/config.yaml, or "" when there is no home directory.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".promptguard", "config.yaml")
}

// Load reads configuration from a YAML file, then applies environment overrides.
// Empty path falls back to DefaultPath. A missing file yields defaults.
func Load(path string) (*Config, error) {
	cfg, _, err := LoadWithHash(path)
	return cfg, err
}

// LoadWithHash is Load that also returns the SHA-256 of the raw file bytes.
// When no file exists the hash is that of empty input.
func LoadWithHash(path string) (*Config, string, error) {
	if path == "" {
		path = DefaultPath()
	}

	var data []byte
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, "", fmt.Errorf("failed to read config: %w", err)
		}
		data = b
	}

	h := sha256.Sum256(data)
	hash := "sha256:" + hex.EncodeToString(h[:])

	// Start with defaults, YAML overwrites only specified fields
	cfg := Default()
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, "", fmt.Errorf("failed to parse config: %w", err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, "", err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}
	return cfg, hash, nil
}

// ApplyEnv overlays environment variables on cfg. lookup is usually os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	set(EnvAPIKey, &c.APIKey)
	set(EnvEndpoint, &c.Endpoint)
	set(EnvAuditLog, &c.AuditLog)
	set(EnvAnthropicKey, &c.Anthropic.APIKey)
	set(EnvGeminiKey, &c.Gemini.APIKey)

	if v, ok := lookup(EnvFailMode); ok && v != "" {
		m, err := scan.ParseFailMode(v)
		if err != nil {
			return err
		}
		c.FailMode = m
	}
	if v, ok := lookup(EnvScanTimeout); ok && v != "" {
		d, err := parseTimeout(v)
		if err != nil {
			return &scan.ConfigError{Field: "scan_timeout", Value: v, Reason: "must be a duration such as 10s"}
		}
		c.ScanTimeout = d
	}
	return nil
}

// parseTimeout accepts Go durations and bare seconds ("2.5").
func parseTimeout(s string) (time.Duration, error) {
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	var secs float64
	if _, err := fmt.Sscanf(s, "%g", &secs); err != nil {
		return 0, err
	}
	return time.Duration(secs * float64(time.Second)), nil
}

// Validate reports the first invalid setting as a *scan.ConfigError.
func (c *Config) Validate() error {
	mode, err := scan.ParseFailMode(string(c.FailMode))
	if err != nil {
		return err
	}
	c.FailMode = mode

	if c.ScanTimeout <= 0 {
		return &scan.ConfigError{Field: "scan_timeout", Value: c.ScanTimeout.String(), Reason: "must be positive"}
	}
	if err := checkURL("endpoint", c.Endpoint); err != nil {
		return err
	}
	if c.Proxy.Upstream != "" {
		if err := checkURL("proxy.upstream", c.Proxy.Upstream); err != nil {
			return err
		}
	}
	if c.Proxy.Port < 0 || c.Proxy.Port > 65535 {
		return &scan.ConfigError{Field: "proxy.port", Value: fmt.Sprint(c.Proxy.Port), Reason: "out of range"}
	}
	for i, a := range c.Alerts {
		field := fmt.Sprintf("alerts[%d].url", i)
		if err := checkURL(field, a.URL); err != nil {
			return err
		}
		switch a.Format {
		case "", "generic", "slack", "pagerduty":
		default:
			return &scan.ConfigError{Field: fmt.Sprintf("alerts[%d].format", i), Value: a.Format, Reason: "must be generic, slack or pagerduty"}
		}
	}
	return nil
}

func checkURL(field, raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return &scan.ConfigError{Field: field, Value: raw, Reason: "must be an absolute http(s) URL"}
	}
	return nil
}

// ScanOptions converts the scan settings into client options.
func (c *Config) ScanOptions() []scan.Option {
	return []scan.Option{
		scan.WithEndpoint(c.Endpoint),
		scan.WithFailMode(c.FailMode),
		scan.WithTimeout(c.ScanTimeout),
	}
}

// DefaultConfigYAML returns a commented starter configuration.
func DefaultConfigYAML() string {
	return `# promptguard configuration
# Environment variables (PROMPTGUARD_*, ANTHROPIC_API_KEY, GEMINI_API_KEY)
# override values in this file.

api_key: ""
endpoint: ` + scan.DefaultEndpoint + `

# open: allow the call when the scan service is unreachable (logged)
# closed: refuse the call with a scan error
fail_mode: open
scan_timeout: 10s

anthropic:
  api_key: ""
gemini:
  api_key: ""

proxy:
  port: 9999
  upstream: https://api.anthropic.com

# audit_log: ~/.promptguard/audit.jsonl

# alerts:
#   - url: https://hooks.slack.com/services/...
#     format: slack
#     events: [blocked, scan_error]
`
}
