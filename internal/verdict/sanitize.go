package verdict

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// NormalizeThreatType maps an internal detection label onto a canonical category.
// Absent or unlisted labels normalize to Unknown.
func NormalizeThreatType(raw string) ThreatType {
	if raw == "" {
		return Unknown
	}
	key := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(raw)), "-", "_")
	if t, ok := threatTypes[key]; ok {
		return t
	}
	return Unknown
}

// DeriveSeverity returns the backend-supplied severity when it is one of the
// four known levels (case-insensitive), otherwise the default for the threat type.
func DeriveSeverity(t ThreatType, raw string) Severity {
	switch s := Severity(strings.ToLower(strings.TrimSpace(raw))); s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
		return s
	}
	if s, ok := defaultSeverity[t]; ok {
		return s
	}
	return SeverityMedium
}

// BucketConfidence converts a raw score into a coarse bucket.
// A nil score means the backend did not report one and buckets as medium.
func BucketConfidence(score *float64) Confidence {
	if score == nil {
		return ConfidenceMedium
	}
	switch {
	case *score >= 0.9:
		return ConfidenceHigh
	case *score >= 0.7:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// Guidance returns the fixed remediation text for a canonical threat type.
func Guidance(t ThreatType) string {
	if g, ok := guidance[t]; ok {
		return g
	}
	return guidance[Unknown]
}

// IsInternalField reports whether a response key exposes detection internals.
func IsInternalField(name string) bool {
	_, ok := internalFields[name]
	return ok
}

// Sanitize maps a raw backend response onto the canonical external schema.
// Nothing outside the six external fields survives.
func Sanitize(raw Raw) Verdict {
	if isSafe(raw) {
		reason, _ := raw["reason"].(string)
		return SafeVerdict(reason)
	}

	rawType, _ := raw["threat_type"].(string)
	threat := NormalizeThreatType(rawType)
	rawSeverity, _ := raw["severity"].(string)
	g := Guidance(threat)

	reason, _ := raw["reason"].(string)
	if reason == "" {
		reason = g
	}

	return Verdict{
		Safe:       false,
		ThreatType: threat,
		Severity:   DeriveSeverity(threat, rawSeverity),
		Confidence: confidenceOf(raw["confidence"]),
		Reason:     reason,
		Guidance:   g,
	}
}

// Strip returns a copy of raw restricted to external fields.
func Strip(raw Raw) Raw {
	out := make(Raw, len(raw))
	for k, v := range raw {
		if IsInternalField(k) {
			continue
		}
		if _, ok := externalFields[k]; !ok {
			continue
		}
		out[k] = v
	}
	return out
}

// ErrMalformed is returned by Decode when a body is not a scan response.
var ErrMalformed = errors.New("malformed scan response")

// Decode parses a backend response body. The body must be a JSON object
// and "safe", when present, must be a boolean.
func Decode(body []byte) (Raw, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var raw Raw
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: expected JSON object", ErrMalformed)
	}
	if v, ok := raw["safe"]; ok {
		if _, isBool := v.(bool); !isBool {
			return nil, fmt.Errorf("%w: \"safe\" is %T, not bool", ErrMalformed, v)
		}
	}
	return raw, nil
}

func isSafe(raw Raw) bool {
	v, ok := raw["safe"]
	if !ok {
		return true
	}
	b, ok := v.(bool)
	return ok && b
}

// confidenceOf buckets whatever the backend put under "confidence".
// Already bucketed strings pass through so sanitization is idempotent.
func confidenceOf(v any) Confidence {
	switch c := v.(type) {
	case nil:
		return BucketConfidence(nil)
	case float64:
		return BucketConfidence(&c)
	case float32:
		f := float64(c)
		return BucketConfidence(&f)
	case int:
		f := float64(c)
		return BucketConfidence(&f)
	case json.Number:
		f, err := c.Float64()
		if err != nil {
			return ConfidenceLow
		}
		return BucketConfidence(&f)
	case string:
		switch b := Confidence(strings.ToLower(c)); b {
		case ConfidenceHigh, ConfidenceMedium, ConfidenceLow:
			return b
		}
		f, err := strconv.ParseFloat(c, 64)
		if err != nil {
			return ConfidenceLow
		}
		return BucketConfidence(&f)
	default:
		return ConfidenceLow
	}
}
