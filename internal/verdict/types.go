// Package verdict turns raw scan responses into stable, externally safe
// classifications. Detection internals never cross this package.
package verdict

// ThreatType is a canonical, externally documented threat category.
type ThreatType string

const (
	PromptInjection      ThreatType = "prompt_injection"
	Jailbreak            ThreatType = "jailbreak"
	SystemPromptLeak     ThreatType = "system_prompt_leak"
	DataExfiltration     ThreatType = "data_exfiltration"
	SQLInjection         ThreatType = "sql_injection"
	PathTraversal        ThreatType = "path_traversal"
	SecretsExposure      ThreatType = "secrets_exposure"
	PIIExposure          ThreatType = "pii_exposure"
	BlockedDomain        ThreatType = "blocked_domain"
	Toxicity             ThreatType = "toxicity"
	MaliciousCode        ThreatType = "malicious_code"
	HarmfulIntent        ThreatType = "harmful_intent"
	SocialEngineering    ThreatType = "social_engineering"
	PrivilegeEscalation  ThreatType = "privilege_escalation"
	DestructiveOperation ThreatType = "destructive_operation"
	ScanError            ThreatType = "scan_error"
	SizeLimitExceeded    ThreatType = "size_limit_exceeded"
	Unknown              ThreatType = "unknown"
)

// Severity orders threats: critical > high > medium > low.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Confidence is a bucketed detection confidence. Raw scores never leave the package.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Raw is a decoded backend scan response. It may carry internal fields.
type Raw map[string]any

// Violation is a structured record attached to locally synthesized verdicts.
type Violation struct {
	Type        string `json:"type"`
	Description string `json:"description"`
}

// Verdict is the externally safe classification of one scan.
type Verdict struct {
	Safe       bool        `json:"safe"`
	ThreatType ThreatType  `json:"threat_type,omitempty"`
	Severity   Severity    `json:"severity,omitempty"`
	Confidence Confidence  `json:"confidence,omitempty"`
	Reason     string      `json:"reason"`
	Guidance   string      `json:"guidance,omitempty"`
	Violations []Violation `json:"violations,omitempty"`

	// Degraded marks a safe verdict synthesized by fail-open policy
	// rather than returned by the scan service. Never serialized.
	Degraded bool `json:"-"`
}

// Allowed is a synonym for Safe, kept for call sites that read as decisions.
func (v Verdict) Allowed() bool {
	return v.Safe
}

// SafeVerdict builds a safe verdict with the given reason.
func SafeVerdict(reason string) Verdict {
	return Verdict{Safe: true, Reason: reason}
}

// Map renders the verdict as the canonical external schema.
// Safe verdicts carry only safe and reason.
func (v Verdict) Map() map[string]any {
	if v.Safe {
		return map[string]any{
			"safe":   true,
			"reason": v.Reason,
		}
	}
	m := map[string]any{
		"safe":        false,
		"threat_type": string(v.ThreatType),
		"severity":    string(v.Severity),
		"confidence":  string(v.Confidence),
		"reason":      v.Reason,
		"guidance":    v.Guidance,
	}
	if len(v.Violations) > 0 {
		vs := make([]any, 0, len(v.Violations))
		for _, viol := range v.Violations {
			vs = append(vs, map[string]any{
				"type":        viol.Type,
				"description": viol.Description,
			})
		}
		m["violations"] = vs
	}
	return m
}
