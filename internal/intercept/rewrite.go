package intercept

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/ppiankov/promptguard/internal/guard"
	"github.com/ppiankov/promptguard/internal/scan"
)

// BlockedBody renders a refusal in the error envelope of the caller's API so
// existing SDKs surface it as a normal API error. The sanitized verdict rides
// along under "promptguard".
func BlockedBody(format LLMFormat, be *guard.BlockedError) []byte {
	v := be.Verdict().Map()
	msg := be.Error()

	var body map[string]any
	switch format {
	case FormatGemini:
		body = map[string]any{
			"error": map[string]any{
				"code":    http.StatusForbidden,
				"message": msg,
				"status":  "PERMISSION_DENIED",
			},
		}
	case FormatOpenAI:
		body = map[string]any{
			"error": map[string]any{
				"message": msg,
				"type":    "content_policy_violation",
				"code":    string(be.ThreatType),
			},
		}
	default:
		body = map[string]any{
			"type": "error",
			"error": map[string]any{
				"type":    "permission_error",
				"message": msg,
			},
		}
	}
	body["promptguard"] = v
	out, _ := json.Marshal(body)
	return out
}

// ScanErrorBody renders a fail-closed scan failure. The message is built from
// the failure kind alone; the cause text names the scan backend and stays in
// the server log.
func ScanErrorBody(format LLMFormat, se *scan.ScanError) []byte {
	msg := fmt.Sprintf("promptguard scan unavailable (%s)", se.Kind)

	var body map[string]any
	switch format {
	case FormatGemini:
		body = map[string]any{
			"error": map[string]any{
				"code":    http.StatusServiceUnavailable,
				"message": msg,
				"status":  "UNAVAILABLE",
			},
		}
	case FormatOpenAI:
		body = map[string]any{
			"error": map[string]any{
				"message": msg,
				"type":    "server_error",
				"code":    "scan_unavailable",
			},
		}
	default:
		body = map[string]any{
			"type": "error",
			"error": map[string]any{
				"type":    "api_error",
				"message": msg,
			},
		}
	}
	body["promptguard"] = map[string]any{
		"scan_error": string(se.Kind),
		"request_id": se.RequestID,
	}
	out, _ := json.Marshal(body)
	return out
}
