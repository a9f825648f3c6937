package scan

import "strings"

// FailMode decides what happens when the scan service cannot produce a verdict.
type FailMode string

const (
	// FailOpen allows the guarded call and logs a warning.
	FailOpen FailMode = "open"
	// FailClosed returns a *ScanError and the guarded call never happens.
	FailClosed FailMode = "closed"
)

// DefaultFailMode favours availability.
const DefaultFailMode = FailOpen

// Valid reports whether m is a known mode.
func (m FailMode) Valid() bool {
	return m == FailOpen || m == FailClosed
}

// ParseFailMode parses "open" or "closed" (case-insensitive).
// An empty string yields the default.
func ParseFailMode(s string) (FailMode, error) {
	switch m := FailMode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return DefaultFailMode, nil
	case FailOpen, FailClosed:
		return m, nil
	default:
		return "", &ConfigError{
			Field:  "fail_mode",
			Value:  s,
			Reason: `must be "open" or "closed"`,
		}
	}
}
