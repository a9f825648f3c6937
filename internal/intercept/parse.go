package intercept

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/ppiankov/promptguard/internal/extract"
)

// LLMFormat identifies the API dialect of a proxied request.
type LLMFormat int

const (
	FormatUnknown LLMFormat = iota
	FormatAnthropic
	FormatOpenAI
	FormatGemini
)

func (f LLMFormat) String() string {
	switch f {
	case FormatAnthropic:
		return "anthropic"
	case FormatOpenAI:
		return "openai"
	case FormatGemini:
		return "gemini"
	default:
		return "unknown"
	}
}

// DetectFormat identifies the request dialect from its path, headers, and
// decoded body. Path wins over headers, headers over body shape.
func DetectFormat(path string, headers http.Header, body map[string]any) LLMFormat {
	switch {
	case strings.HasSuffix(path, "/messages"):
		return FormatAnthropic
	case strings.Contains(path, "/chat/completions"), strings.HasSuffix(path, "/completions"):
		return FormatOpenAI
	case strings.Contains(path, ":generateContent"), strings.Contains(path, ":streamGenerateContent"):
		return FormatGemini
	}

	if headers.Get("anthropic-version") != "" {
		return FormatAnthropic
	}
	if headers.Get("x-goog-api-key") != "" {
		return FormatGemini
	}

	if _, ok := body["contents"]; ok {
		return FormatGemini
	}
	if _, ok := body["messages"]; ok {
		if _, hasMax := body["max_tokens"]; hasMax {
			if _, hasSystem := body["system"]; hasSystem {
				return FormatAnthropic
			}
		}
		return FormatOpenAI
	}
	if _, ok := body["prompt"]; ok {
		return FormatOpenAI
	}
	return FormatUnknown
}

// ExtractPrompt returns the user text of a JSON request body. ok is false
// when the body is not a JSON object; such requests are not LLM calls.
func ExtractPrompt(data []byte) (text string, body map[string]any, ok bool) {
	if err := json.Unmarshal(data, &body); err != nil || body == nil {
		return "", nil, false
	}
	if msgs := extract.MessagesFromBody(body); msgs != nil {
		return extract.UserText(msgs), body, true
	}
	// Legacy completions carry the prompt as a string or list of strings.
	if p, exists := body["prompt"]; exists {
		return extract.TextOf(extract.FromJSON(p)), body, true
	}
	return "", body, true
}
