package alert

// Event names an AlertConfig can subscribe to.
const (
	EventBlocked   = "blocked"    // scan verdict unsafe
	EventScanError = "scan_error" // scan failed and the call was refused
	EventFailOpen  = "fail_open"  // scan failed and the call was allowed anyway
)

// AlertConfig defines a webhook alert destination.
type AlertConfig struct {
	URL     string            `yaml:"url"     json:"url"`
	Format  string            `yaml:"format"  json:"format"` // "generic", "slack", "pagerduty"
	Events  []string          `yaml:"events"  json:"events"` // ["blocked", "scan_error", "fail_open"]
	Headers map[string]string `yaml:"headers" json:"headers"`
}

// AlertEvent is the payload sent to webhook endpoints.
type AlertEvent struct {
	Timestamp  string `json:"timestamp"`
	Source     string `json:"source"` // binding or proxy route that was guarded
	Event      string `json:"event"`
	ThreatType string `json:"threat_type,omitempty"`
	Severity   string `json:"severity,omitempty"`
	Confidence string `json:"confidence,omitempty"`
	Reason     string `json:"reason"`
}
