// Package extract reduces provider conversation payloads to the
// user-authored text that gets scanned.
package extract

import "strings"

// Content is the closed set of payload shapes: Text, Block, Parts, Structured.
type Content interface {
	isContent()
}

// Text is a plain string.
type Text string

// Block is a typed content block. Only Type "text" contributes.
type Block struct {
	Type string
	Text string
}

// Parts is an ordered list of content.
type Parts []Content

// Structured is an object carrying either a text field or nested parts.
// Text wins when both are set.
type Structured struct {
	Text  *string
	Parts Parts
}

func (Text) isContent()       {}
func (Block) isContent()      {}
func (Parts) isContent()      {}
func (Structured) isContent() {}

// RoleUser is the only role whose messages are scanned.
const RoleUser = "user"

// Message is one role-tagged conversation turn.
type Message struct {
	Role    string
	Content Content
}

// TextOf returns the text a Content contributes, recursing into lists and
// structured parts. Pieces are joined with newlines in order.
func TextOf(c Content) string {
	switch v := c.(type) {
	case nil:
		return ""
	case Text:
		return string(v)
	case Block:
		if v.Type != "text" {
			return ""
		}
		return v.Text
	case Parts:
		return join(v)
	case Structured:
		if v.Text != nil {
			return *v.Text
		}
		return join(v.Parts)
	default:
		return ""
	}
}

// UserText returns the text of user messages only, in order, newline-joined.
func UserText(msgs []Message) string {
	var texts []string
	for _, m := range msgs {
		if m.Role != RoleUser {
			continue
		}
		if t := TextOf(m.Content); t != "" {
			texts = append(texts, t)
		}
	}
	return strings.Join(texts, "\n")
}

func join(parts Parts) string {
	var texts []string
	for _, p := range parts {
		if t := TextOf(p); t != "" {
			texts = append(texts, t)
		}
	}
	return strings.Join(texts, "\n")
}

// StringPtr is a helper for building Structured literals.
func StringPtr(s string) *string { return &s }
