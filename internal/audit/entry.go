package audit

// Decision values recorded in audit entries.
const (
	DecisionAllow     = "allow"
	DecisionBlock     = "block"
	DecisionScanError = "scan_error"
	DecisionFailOpen  = "fail_open"
)

// AuditEntry is one line in the hash-chained JSONL audit log.
// All fields are scalars (no map[string]any) to guarantee deterministic
// json.Marshal field order for reproducible hashing. Prompt text is never
// recorded, only its length.
type AuditEntry struct {
	Timestamp  string `json:"ts"`
	TraceID    string `json:"trace_id"`
	Source     string `json:"source"`
	Decision   string `json:"decision"`
	ThreatType string `json:"threat_type,omitempty"`
	Severity   string `json:"severity,omitempty"`
	Confidence string `json:"confidence,omitempty"`
	Reason     string `json:"reason"`
	Chars      int    `json:"chars"`
	DurationMS int64  `json:"duration_ms"`
	ConfigHash string `json:"config_hash"`
	PrevHash   string `json:"prev_hash"`
}
