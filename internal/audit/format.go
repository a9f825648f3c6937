package audit

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

const separator = "──────────────────────────────────────────────────────────────────"

// FormatTimeline renders a ReplayResult as a human-readable text timeline.
func FormatTimeline(result *ReplayResult) string {
	label := result.TraceID
	if label == "" {
		label = "all"
	}
	if len(result.Entries) == 0 {
		return fmt.Sprintf("Trace: %s | No entries found.\n", label)
	}

	var b strings.Builder

	first := formatDateRange(result.Summary.FirstTimestamp)
	last := formatTimeOnly(result.Summary.LastTimestamp)
	b.WriteString(fmt.Sprintf("Trace: %s | %s–%s UTC\n", label, first, last))
	b.WriteString(separator + "\n")

	for _, e := range result.Entries {
		ts := formatTimeOnly(e.Timestamp)
		decision := strings.ToUpper(e.Decision)
		source := truncate(e.Source, 28)
		threat := e.ThreatType
		if threat == "" {
			threat = "-"
		}
		b.WriteString(fmt.Sprintf("%-10s %-11s %-28s %-22s %s\n",
			ts, decision, source, truncate(threat, 22), truncate(e.Reason, 40)))
	}

	b.WriteString(separator + "\n")
	b.WriteString(formatSummary(result.Summary))

	return b.String()
}

// FormatJSON renders a ReplayResult as indented JSON.
func FormatJSON(result *ReplayResult) (string, error) {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal replay result: %w", err)
	}
	return string(data), nil
}

func formatDateRange(ts string) string {
	t, err := time.Parse(TimestampFormat, ts)
	if err != nil {
		return ts
	}
	return t.Format("2006-01-02 15:04:05")
}

func formatTimeOnly(ts string) string {
	t, err := time.Parse(TimestampFormat, ts)
	if err != nil {
		return ts
	}
	return t.Format("15:04:05")
}

func formatSummary(s ReplaySummary) string {
	parts := []string{}
	if s.AllowCount > 0 {
		parts = append(parts, fmt.Sprintf("%d allow", s.AllowCount))
	}
	if s.BlockCount > 0 {
		parts = append(parts, fmt.Sprintf("%d block", s.BlockCount))
	}
	if s.FailOpenCount > 0 {
		parts = append(parts, fmt.Sprintf("%d fail-open", s.FailOpenCount))
	}
	if s.ScanErrorCount > 0 {
		parts = append(parts, fmt.Sprintf("%d scan error", s.ScanErrorCount))
	}

	threats := make([]string, 0, len(s.Threats))
	for t := range s.Threats {
		threats = append(threats, t)
	}
	sort.Strings(threats)
	for i, t := range threats {
		threats[i] = fmt.Sprintf("%s=%d", t, s.Threats[t])
	}

	worst := s.MaxSeverity
	if worst == "" {
		worst = "none"
	}
	line := fmt.Sprintf("Summary: %s | Max severity: %s", strings.Join(parts, ", "), worst)
	if len(threats) > 0 {
		line += " | Threats: " + strings.Join(threats, ", ")
	}
	return line + "\n"
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
