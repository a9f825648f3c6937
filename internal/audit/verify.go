package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
)

// VerifyResult holds the outcome of a hash chain verification.
type VerifyResult struct {
	Valid     bool           `json:"valid"`
	Lines     int            `json:"lines"`
	Decisions map[string]int `json:"decisions,omitempty"`
	Error     string         `json:"error,omitempty"`
	ErrorLine int            `json:"error_line,omitempty"`
}

// Verify reads a JSONL audit log and validates both the hash chain and each
// entry's decision record. It stops at the first broken line.
func Verify(path string) VerifyResult {
	f, err := os.Open(path)
	if err != nil {
		return VerifyResult{Error: fmt.Sprintf("open: %v", err)}
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	res := VerifyResult{Decisions: map[string]int{}}
	want := GenesisHash
	fail := func(format string, args ...any) VerifyResult {
		return VerifyResult{Error: fmt.Sprintf(format, args...), ErrorLine: res.Lines}
	}

	for scanner.Scan() {
		res.Lines++
		line := scanner.Bytes()

		var entry AuditEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			return fail("parse error: %v", err)
		}
		if err := checkEntry(entry); err != nil {
			return fail("%v", err)
		}
		if entry.PrevHash != want {
			if res.Lines == 1 {
				return fail("first entry prev_hash is %q, expected genesis hash", entry.PrevHash)
			}
			return fail("hash mismatch: expected %s, got %s", want, entry.PrevHash)
		}

		want = HashLine(line)
		res.Decisions[entry.Decision]++
	}

	if err := scanner.Err(); err != nil {
		return VerifyResult{Error: fmt.Sprintf("scan: %v", err)}
	}
	res.Valid = true
	return res
}

// checkEntry rejects records no guarded call could have produced.
func checkEntry(e AuditEntry) error {
	switch e.Decision {
	case "":
		return fmt.Errorf("entry has no decision")
	case DecisionBlock:
		if e.ThreatType == "" {
			return fmt.Errorf("block entry has no threat_type")
		}
	case DecisionAllow, DecisionFailOpen:
		if e.ThreatType != "" {
			return fmt.Errorf("%s entry carries threat_type %q", e.Decision, e.ThreatType)
		}
	case DecisionScanError:
	default:
		return fmt.Errorf("unknown decision %q", e.Decision)
	}
	if e.Chars < 0 || e.DurationMS < 0 {
		return fmt.Errorf("negative chars or duration")
	}
	return nil
}
