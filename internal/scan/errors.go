package scan

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// FailureKind classifies why a scan round trip produced no verdict.
type FailureKind string

const (
	FailureTimeout   FailureKind = "timeout"
	FailureTransport FailureKind = "transport"
	FailureStatus    FailureKind = "status"
	FailureMalformed FailureKind = "malformed"
	FailureCancelled FailureKind = "cancelled"
	FailureClosed    FailureKind = "closed"
)

// ErrClosed is wrapped by scans issued after Close.
var ErrClosed = errors.New("scan client closed")

// ScanError is returned when a scan could not produce a verdict and the
// failure is not absorbed by fail-open mode.
type ScanError struct {
	Kind       FailureKind
	StatusCode int // set for FailureStatus
	RequestID  string
	Message    string
	Err        error
}

func (e *ScanError) Error() string {
	return "promptguard scan error: " + e.Message
}

func (e *ScanError) Unwrap() error {
	return e.Err
}

// ClientError reports whether the backend rejected the request itself (4xx),
// which usually means misconfiguration rather than a transient outage.
func (e *ScanError) ClientError() bool {
	return e.Kind == FailureStatus && e.StatusCode >= 400 && e.StatusCode < 500
}

// openReason is the explanation carried by the safe verdict synthesized in fail-open mode.
func (e *ScanError) openReason() string {
	switch e.Kind {
	case FailureTimeout:
		return "scan timeout, failing open"
	case FailureStatus:
		return fmt.Sprintf("scan API error: %d, failing open", e.StatusCode)
	default:
		return fmt.Sprintf("scan error: %v, failing open", e.Err)
	}
}

// ClosedError is the error for a scan refused because its client was shut down.
func ClosedError() *ScanError {
	return newScanError(FailureClosed, uuid.NewString(), 0, ErrClosed)
}

func newScanError(kind FailureKind, requestID string, status int, err error) *ScanError {
	var msg string
	switch kind {
	case FailureTimeout:
		msg = "scan request timed out and fail mode is closed"
	case FailureStatus:
		msg = fmt.Sprintf("scan API returned error: %d", status)
	case FailureCancelled:
		msg = fmt.Sprintf("scan abandoned: %v", err)
	case FailureClosed:
		msg = "scan client is closed"
	default:
		msg = fmt.Sprintf("scan failed: %v", err)
	}
	return &ScanError{
		Kind:       kind,
		StatusCode: status,
		RequestID:  requestID,
		Message:    msg,
		Err:        err,
	}
}

// ConfigError reports invalid construction-time configuration.
type ConfigError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("promptguard config: %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("promptguard config: %s=%q: %s", e.Field, e.Value, e.Reason)
}
