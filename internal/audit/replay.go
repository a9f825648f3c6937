package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// TimestampFormat is the layout used in audit entry timestamps.
const TimestampFormat = "2006-01-02T15:04:05.000Z"

// ReplayFilter holds filtering criteria for replay. Zero values match everything.
type ReplayFilter struct {
	TraceID  string
	Decision string
	From     time.Time
	To       time.Time
}

// ReplaySummary holds decision counts and metadata for replayed entries.
type ReplaySummary struct {
	Total          int            `json:"total"`
	AllowCount     int            `json:"allow_count"`
	BlockCount     int            `json:"block_count"`
	ScanErrorCount int            `json:"scan_error_count"`
	FailOpenCount  int            `json:"fail_open_count"`
	Threats        map[string]int `json:"threats,omitempty"`
	MaxSeverity    string         `json:"max_severity,omitempty"`
	FirstTimestamp string         `json:"first_timestamp"`
	LastTimestamp  string         `json:"last_timestamp"`
}

// ReplayResult holds filtered entries and summary.
type ReplayResult struct {
	TraceID string        `json:"trace_id,omitempty"`
	Entries []AuditEntry  `json:"entries"`
	Summary ReplaySummary `json:"summary"`
}

// Replay reads the audit log and returns entries matching the filter.
func Replay(path string, filter ReplayFilter) (*ReplayResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	result := &ReplayResult{TraceID: filter.TraceID}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		var entry AuditEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue // skip malformed lines
		}
		if !filter.match(entry) {
			continue
		}
		result.Entries = append(result.Entries, entry)
		updateSummary(&result.Summary, entry)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read audit log: %w", err)
	}
	return result, nil
}

func (f ReplayFilter) match(entry AuditEntry) bool {
	if f.TraceID != "" && entry.TraceID != f.TraceID {
		return false
	}
	if f.Decision != "" && entry.Decision != f.Decision {
		return false
	}
	if f.From.IsZero() && f.To.IsZero() {
		return true
	}
	ts, err := time.Parse(TimestampFormat, entry.Timestamp)
	if err != nil {
		return false
	}
	if !f.From.IsZero() && ts.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && ts.After(f.To) {
		return false
	}
	return true
}

var severityRank = map[string]int{"low": 1, "medium": 2, "high": 3, "critical": 4}

func updateSummary(s *ReplaySummary, entry AuditEntry) {
	s.Total++

	switch entry.Decision {
	case DecisionAllow:
		s.AllowCount++
	case DecisionBlock:
		s.BlockCount++
		if s.Threats == nil {
			s.Threats = make(map[string]int)
		}
		s.Threats[entry.ThreatType]++
	case DecisionScanError:
		s.ScanErrorCount++
	case DecisionFailOpen:
		s.FailOpenCount++
	}

	if severityRank[entry.Severity] > severityRank[s.MaxSeverity] {
		s.MaxSeverity = entry.Severity
	}

	if s.FirstTimestamp == "" {
		s.FirstTimestamp = entry.Timestamp
	}
	s.LastTimestamp = entry.Timestamp
}
