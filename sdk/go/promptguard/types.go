package promptguard

import (
	"github.com/ppiankov/promptguard/internal/alert"
	"github.com/ppiankov/promptguard/internal/guard"
	"github.com/ppiankov/promptguard/internal/scan"
	"github.com/ppiankov/promptguard/internal/verdict"
)

// Verdict is the externally safe classification of one scan.
type Verdict = verdict.Verdict

// Violation is a structured record attached to some verdicts.
type Violation = verdict.Violation

// ThreatType, Severity and Confidence are the canonical verdict enums.
type (
	ThreatType = verdict.ThreatType
	Severity   = verdict.Severity
	Confidence = verdict.Confidence
)

// BlockedError is returned when the scan verdict is unsafe.
type BlockedError = guard.BlockedError

// ScanError is returned when no verdict could be produced and the call was refused.
type ScanError = scan.ScanError

// ConfigError reports invalid construction-time configuration.
type ConfigError = scan.ConfigError

// FailMode decides what happens when the scan service cannot produce a verdict.
type FailMode = scan.FailMode

const (
	FailOpen   = scan.FailOpen
	FailClosed = scan.FailClosed
)

// ParseFailMode parses "open" or "closed".
func ParseFailMode(s string) (FailMode, error) { return scan.ParseFailMode(s) }

// Future is the pending result of an async guarded call.
type Future[R any] = guard.Future[R]

// Event describes one guarded call after its scan resolved.
type Event = guard.Event

// Hook observes scan outcomes.
type Hook = guard.Hook

// AlertConfig defines a webhook alert destination.
type AlertConfig = alert.AlertConfig
