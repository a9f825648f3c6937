package scan

import (
	"fmt"
	"unicode/utf8"

	"github.com/ppiankov/promptguard/internal/verdict"
)

// MaxContentSize is the largest prompt+context, in characters, worth a round trip.
// It matches the backend's request body limit.
const MaxContentSize = 100 * 1024

// CheckSize returns a blocked verdict when prompt and context together exceed
// MaxContentSize, and nil otherwise. It never touches the network.
func CheckSize(prompt, context string) *verdict.Verdict {
	total := utf8.RuneCountInString(prompt) + utf8.RuneCountInString(context)
	if total <= MaxContentSize {
		return nil
	}

	limitKB := MaxContentSize / 1024
	return &verdict.Verdict{
		Safe:       false,
		ThreatType: verdict.SizeLimitExceeded,
		Severity:   verdict.SeverityLow,
		Confidence: verdict.ConfidenceHigh,
		Reason:     fmt.Sprintf("Content too large (%dKB > %dKB limit)", total/1024, limitKB),
		Guidance:   verdict.Guidance(verdict.SizeLimitExceeded),
		Violations: []verdict.Violation{{
			Type:        "size_limit",
			Description: fmt.Sprintf("Content exceeds maximum size of %dKB", limitKB),
		}},
	}
}
