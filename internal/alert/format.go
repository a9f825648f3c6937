package alert

import (
	"encoding/json"
	"fmt"
)

// FormatPayload builds the webhook body for the given format.
func FormatPayload(format string, event AlertEvent) ([]byte, error) {
	switch format {
	case "slack":
		return formatSlack(event)
	case "pagerduty":
		return formatPagerDuty(event)
	default:
		return formatGeneric(event)
	}
}

func formatGeneric(event AlertEvent) ([]byte, error) {
	return json.Marshal(event)
}

func formatSlack(event AlertEvent) ([]byte, error) {
	payload := map[string]any{
		"blocks": []any{
			map[string]any{
				"type": "header",
				"text": map[string]any{
					"type": "plain_text",
					"text": fmt.Sprintf("promptguard: %s", event.Event),
				},
			},
			map[string]any{
				"type": "section",
				"fields": []any{
					map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Source:* %s", event.Source)},
					map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Threat:* %s", orDash(event.ThreatType))},
					map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Severity:* %s", orDash(event.Severity))},
					map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Reason:* %s", event.Reason)},
				},
			},
		},
	}
	return json.Marshal(payload)
}

func formatPagerDuty(event AlertEvent) ([]byte, error) {
	payload := map[string]any{
		"event_action": "trigger",
		"payload": map[string]any{
			"summary":  fmt.Sprintf("promptguard %s: %s", event.Event, orDash(event.ThreatType)),
			"severity": pagerDutySeverity(event),
			"source":   "promptguard",
			"custom_details": map[string]any{
				"source":      event.Source,
				"threat_type": event.ThreatType,
				"confidence":  event.Confidence,
				"reason":      event.Reason,
			},
		},
	}
	return json.Marshal(payload)
}

func pagerDutySeverity(event AlertEvent) string {
	switch event.Event {
	case EventScanError:
		return "error"
	case EventFailOpen:
		return "warning"
	}
	switch event.Severity {
	case "critical":
		return "critical"
	case "high":
		return "error"
	case "medium":
		return "warning"
	default:
		return "info"
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
