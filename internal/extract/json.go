package extract

// FromJSON converts a decoded JSON value (encoding/json into any) into Content.
// Unrecognized shapes return nil and contribute nothing.
func FromJSON(v any) Content {
	switch x := v.(type) {
	case string:
		return Text(x)
	case []any:
		parts := make(Parts, 0, len(x))
		for _, item := range x {
			if c := FromJSON(item); c != nil {
				parts = append(parts, c)
			}
		}
		return parts
	case map[string]any:
		return objectContent(x)
	default:
		return nil
	}
}

// objectContent handles JSON objects. A "type" discriminant makes it a Block
// (Anthropic/OpenAI content blocks); otherwise "text" or "parts" make it Structured
// (Gemini parts and contents).
func objectContent(obj map[string]any) Content {
	if typ, ok := obj["type"].(string); ok {
		text, _ := obj["text"].(string)
		return Block{Type: typ, Text: text}
	}
	if text, ok := obj["text"].(string); ok {
		return Structured{Text: &text}
	}
	if parts, ok := obj["parts"]; ok {
		p, _ := FromJSON(parts).(Parts)
		return Structured{Parts: p}
	}
	return nil
}

// MessagesFromBody extracts role-tagged messages from an LLM API request body.
//
// Anthropic and OpenAI: {"messages": [{"role": "user", "content": ...}]}
// Gemini: {"contents": [{"role": "user", "parts": [...]}]} where a missing role means user.
func MessagesFromBody(body map[string]any) []Message {
	if msgs, ok := body["messages"].([]any); ok {
		return roleMessages(msgs)
	}
	if contents, ok := body["contents"]; ok {
		return geminiContents(contents)
	}
	return nil
}

func roleMessages(items []any) []Message {
	var out []Message
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		role, _ := obj["role"].(string)
		out = append(out, Message{
			Role:    role,
			Content: FromJSON(obj["content"]),
		})
	}
	return out
}

func geminiContents(v any) []Message {
	switch x := v.(type) {
	case string:
		return []Message{{Role: RoleUser, Content: Text(x)}}
	case map[string]any:
		return geminiContents([]any{x})
	case []any:
		var out []Message
		for _, item := range x {
			obj, ok := item.(map[string]any)
			if !ok {
				out = append(out, Message{Role: RoleUser, Content: FromJSON(item)})
				continue
			}
			role, _ := obj["role"].(string)
			if role == "" {
				role = RoleUser
			}
			out = append(out, Message{Role: role, Content: objectContent(obj)})
		}
		return out
	default:
		return nil
	}
}
