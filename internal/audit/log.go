package audit

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ppiankov/promptguard/internal/guard"
)

// GenesisHash is the prev_hash for the first entry in a new audit log.
const GenesisHash = "sha256:0000000000000000000000000000000000000000000000000000000000000000"

// maxLineSize bounds a single JSONL entry when reading the log back.
const maxLineSize = 1 << 20

// Log is an append-only JSONL audit log with SHA-256 hash chaining.
// Each entry's prev_hash is the hash of the previous entry's JSON line,
// forming a tamper-evident chain.
type Log struct {
	path     string
	file     *os.File
	prevHash string
	mu       sync.Mutex
}

// Open opens (or creates) an audit log file for appending.
// If the file already exists, it reads the last line to recover the chain tail.
func Open(path string) (*Log, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("audit: create directory: %w", err)
	}

	prevHash := GenesisHash

	// Read existing file to find chain tail
	if info, err := os.Stat(path); err == nil && info.Size() > 0 {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("audit: read existing log: %w", err)
		}
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
		var lastLine []byte
		for scanner.Scan() {
			lastLine = make([]byte, len(scanner.Bytes()))
			copy(lastLine, scanner.Bytes())
		}
		f.Close()
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("audit: scan existing log: %w", err)
		}
		if len(lastLine) > 0 {
			prevHash = HashLine(lastLine)
		}
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("audit: open file: %w", err)
	}

	return &Log{
		path:     path,
		file:     file,
		prevHash: prevHash,
	}, nil
}

// Record appends an AuditEntry to the log with hash chaining.
// It sets the entry's PrevHash and Timestamp (if empty), marshals to JSON,
// writes the line, and syncs to disk.
func (l *Log) Record(entry AuditEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if entry.Timestamp == "" {
		entry.Timestamp = time.Now().UTC().Format(TimestampFormat)
	}
	entry.PrevHash = l.prevHash

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("audit: marshal entry: %w", err)
	}

	if _, err := l.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("audit: write entry: %w", err)
	}

	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("audit: sync: %w", err)
	}

	l.prevHash = HashLine(line)
	return nil
}

// Path returns the log file location.
func (l *Log) Path() string { return l.path }

// Hook records every guard outcome. Write failures are logged, never
// surfaced to the guarded call.
func (l *Log) Hook(traceID, configHash string, logger *slog.Logger) guard.Hook {
	if logger == nil {
		logger = slog.Default()
	}
	return func(_ context.Context, ev guard.Event) {
		if err := l.Record(EntryFromEvent(ev, traceID, configHash)); err != nil {
			logger.Error("audit record failed", "component", "audit", "path", l.path, "error", err)
		}
	}
}

// EntryFromEvent flattens a guard outcome into an audit entry.
func EntryFromEvent(ev guard.Event, traceID, configHash string) AuditEntry {
	e := AuditEntry{
		TraceID:    traceID,
		Source:     ev.Binding,
		Chars:      ev.Chars,
		DurationMS: ev.Duration.Milliseconds(),
		ConfigHash: configHash,
	}
	switch {
	case ev.Err != nil:
		e.Decision = DecisionScanError
		e.Reason = ev.Err.Error()
	case !ev.Verdict.Safe:
		e.Decision = DecisionBlock
		e.ThreatType = string(ev.Verdict.ThreatType)
		e.Severity = string(ev.Verdict.Severity)
		e.Confidence = string(ev.Verdict.Confidence)
		e.Reason = ev.Verdict.Reason
	case ev.Verdict.Degraded:
		e.Decision = DecisionFailOpen
		e.Reason = ev.Verdict.Reason
	default:
		e.Decision = DecisionAllow
		e.Reason = ev.Verdict.Reason
	}
	return e
}

// Close flushes and closes the underlying file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

// HashLine returns "sha256:<hex>" of the given bytes.
func HashLine(line []byte) string {
	h := sha256.Sum256(line)
	return "sha256:" + hex.EncodeToString(h[:])
}
