// Package guard runs the scan, decide, delegate sequence shared by every
// provider binding.
package guard

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/ppiankov/promptguard/internal/verdict"
)

// Scanner produces a verdict for user text. *scan.Client implements it.
type Scanner interface {
	Scan(ctx context.Context, prompt, context string) (verdict.Verdict, error)
}

// BlockedError is returned when the scan verdict is unsafe.
// The wrapped provider is never called when it is returned.
type BlockedError struct {
	Message    string
	ThreatType verdict.ThreatType
	Severity   verdict.Severity
	Confidence verdict.Confidence
	Guidance   string
	Violations []verdict.Violation
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("promptguard blocked (%s): %s", e.ThreatType, e.Message)
}

// Verdict reconstructs the unsafe verdict that produced the error.
func (e *BlockedError) Verdict() verdict.Verdict {
	return verdict.Verdict{
		Safe:       false,
		ThreatType: e.ThreatType,
		Severity:   e.Severity,
		Confidence: e.Confidence,
		Reason:     e.Message,
		Guidance:   e.Guidance,
		Violations: e.Violations,
	}
}

func blocked(v verdict.Verdict) *BlockedError {
	return &BlockedError{
		Message:    v.Reason,
		ThreatType: v.ThreatType,
		Severity:   v.Severity,
		Confidence: v.Confidence,
		Guidance:   v.Guidance,
		Violations: v.Violations,
	}
}

// Event describes one guarded call after its scan resolved.
type Event struct {
	Binding  string
	Chars    int // length of the scanned text in characters
	Verdict  verdict.Verdict
	Err      error // scan failure; nil when a verdict was produced
	Duration time.Duration
}

// Blocked reports whether the call was refused.
func (e Event) Blocked() bool { return e.Err != nil || !e.Verdict.Safe }

// Hook observes scan outcomes. Hooks run synchronously on the calling
// goroutine and must not block.
type Hook func(ctx context.Context, ev Event)

// Guard decides whether a guarded call may proceed.
type Guard struct {
	scanner Scanner
	hooks   []Hook
}

// New creates a Guard around s.
func New(s Scanner, hooks ...Hook) *Guard {
	return &Guard{scanner: s, hooks: hooks}
}

// Check scans text and returns the verdict when the call may proceed.
// Unsafe verdicts come back as *BlockedError, scan failures as the
// scanner's error.
func (g *Guard) Check(ctx context.Context, name, text string) (verdict.Verdict, error) {
	start := time.Now()
	v, err := g.scanner.Scan(ctx, text, "")
	ev := Event{
		Binding:  name,
		Chars:    utf8.RuneCountInString(text),
		Verdict:  v,
		Err:      err,
		Duration: time.Since(start),
	}
	for _, h := range g.hooks {
		h(ctx, ev)
	}
	if err != nil {
		return verdict.Verdict{}, err
	}
	if !v.Safe {
		return v, blocked(v)
	}
	return v, nil
}
