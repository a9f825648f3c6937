package intercept

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/ppiankov/promptguard/internal/guard"
	"github.com/ppiankov/promptguard/internal/scan"
)

// maxBodySize bounds how much of a request body is buffered for scanning.
const maxBodySize = 10 << 20 // 10MB

// BindingPrefix names proxy scans in hook events, e.g. "proxy.anthropic".
const BindingPrefix = "proxy."

// Middleware scans the user text of JSON LLM request bodies before passing
// them to next. Unsafe prompts get 403 and scan failures in closed mode get
// 503, both in the provider's error envelope. Requests without a JSON body
// pass through untouched.
func Middleware(g *guard.Guard, logger *slog.Logger, next http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "intercept")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		serveGuarded(w, r, g, logger, next)
	})
}

func serveGuarded(w http.ResponseWriter, r *http.Request, g *guard.Guard, logger *slog.Logger, next http.Handler) {
	if r.Body == nil || r.Body == http.NoBody || r.Method == http.MethodGet || r.Method == http.MethodHead {
		next.ServeHTTP(w, r)
		return
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
	r.Body.Close()
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}
	if len(data) > maxBodySize {
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return
	}
	restore(r, data)

	text, body, ok := ExtractPrompt(data)
	if !ok {
		next.ServeHTTP(w, r)
		return
	}
	format := DetectFormat(r.URL.Path, r.Header, body)

	_, err = g.Check(r.Context(), BindingPrefix+format.String(), text)
	if err == nil {
		next.ServeHTTP(w, r)
		return
	}

	var be *guard.BlockedError
	var se *scan.ScanError
	switch {
	case errors.As(err, &be):
		logger.Info("request blocked",
			"path", r.URL.Path,
			"format", format.String(),
			"threat_type", string(be.ThreatType),
			"severity", string(be.Severity),
		)
		writeJSON(w, http.StatusForbidden, BlockedBody(format, be))
	case errors.As(err, &se):
		if se.Kind == scan.FailureCancelled {
			// Client went away; nobody is reading the response.
			return
		}
		logger.Warn("scan failed, rejecting request",
			"path", r.URL.Path,
			"kind", string(se.Kind),
			"request_id", se.RequestID,
			"error", se.Err,
		)
		writeJSON(w, http.StatusServiceUnavailable, ScanErrorBody(format, se))
	default:
		logger.Error("unexpected scan error", "error", err)
		http.Error(w, "scan failed", http.StatusInternalServerError)
	}
}

func restore(r *http.Request, data []byte) {
	r.Body = io.NopCloser(bytes.NewReader(data))
	r.ContentLength = int64(len(data))
	r.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}
}

func writeJSON(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}
