package promptguard

import (
	"context"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/ppiankov/promptguard/internal/extract"
	"github.com/ppiankov/promptguard/internal/guard"
)

// GeminiModel is the generation surface guarded by Model.
// *genai.GenerativeModel implements it.
type GeminiModel interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
	GenerateContentStream(ctx context.Context, parts ...genai.Part) *genai.GenerateContentResponseIterator
}

// GeminiChat is the multi-turn surface guarded by Chat.
// *genai.ChatSession implements it.
type GeminiChat interface {
	SendMessage(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
	SendMessageStream(ctx context.Context, parts ...genai.Part) *genai.GenerateContentResponseIterator
}

// Gemini is a guarded Google Gemini client.
type Gemini struct {
	*Client
	genai *genai.Client
}

// NewGemini creates a guarded client over the Gemini API.
// The provider key comes from WithProviderAPIKey or GEMINI_API_KEY.
func NewGemini(ctx context.Context, opts ...Option) (*Gemini, error) {
	c, cfg, err := newClient(opts)
	if err != nil {
		return nil, err
	}

	key := cfg.providerKey
	if key == "" {
		key = cfg.env.Gemini.APIKey
	}
	gopts := []option.ClientOption{option.WithAPIKey(key)}
	if u := firstNonEmpty(cfg.providerURL, cfg.env.Gemini.BaseURL); u != "" {
		gopts = append(gopts, option.WithEndpoint(u))
	}
	if cfg.providerHC != nil {
		gopts = append(gopts, option.WithHTTPClient(cfg.providerHC))
	}

	gc, err := genai.NewClient(ctx, gopts...)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("promptguard: gemini client: %w", err)
	}
	c.closers = append(c.closers, gc.Close)
	return &Gemini{Client: c, genai: gc}, nil
}

// GenerativeModel returns a guarded model. Tune generation through the
// embedded *genai.GenerativeModel fields before the first call.
func (g *Gemini) GenerativeModel(name string) *Model {
	m := g.genai.GenerativeModel(name)
	model := g.WrapModel(m)
	model.GenerativeModel = m
	return model
}

// WrapModel guards any GeminiModel with this client's scanner.
func (c *Client) WrapModel(m GeminiModel) *Model {
	return &Model{
		client: c,
		model:  m,
		generate: guard.Binding[[]genai.Part, *genai.GenerateContentResponse]{
			Name:    "gemini.generate_content",
			Extract: geminiText,
			Delegate: func(ctx context.Context, parts []genai.Part) (*genai.GenerateContentResponse, error) {
				return m.GenerateContent(ctx, parts...)
			},
		},
		stream: guard.Binding[[]genai.Part, *genai.GenerateContentResponseIterator]{
			Name:    "gemini.generate_content_stream",
			Extract: geminiText,
			Delegate: func(ctx context.Context, parts []genai.Part) (*genai.GenerateContentResponseIterator, error) {
				return m.GenerateContentStream(ctx, parts...), nil
			},
		},
	}
}

// Model mirrors genai.GenerativeModel with a scan before every call.
type Model struct {
	// GenerativeModel is the wrapped model, nil when built with WrapModel.
	GenerativeModel *genai.GenerativeModel

	client   *Client
	model    GeminiModel
	generate guard.Binding[[]genai.Part, *genai.GenerateContentResponse]
	stream   guard.Binding[[]genai.Part, *genai.GenerateContentResponseIterator]
}

// GenerateContent scans the text parts, then generates.
func (m *Model) GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error) {
	return guard.Call(ctx, m.client.guard, m.generate, parts)
}

// GenerateContentStream scans the text parts, then starts streaming.
// Unlike genai it returns an error, since the scan can refuse the call.
func (m *Model) GenerateContentStream(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponseIterator, error) {
	return guard.Call(ctx, m.client.guard, m.stream, parts)
}

// GenerateContentAsync is GenerateContent on its own goroutine.
func (m *Model) GenerateContentAsync(ctx context.Context, parts ...genai.Part) *Future[*genai.GenerateContentResponse] {
	return goGuarded(ctx, m.client, m.generate, parts)
}

// GenerateContentStreamAsync is GenerateContentStream on its own goroutine.
func (m *Model) GenerateContentStreamAsync(ctx context.Context, parts ...genai.Part) *Future[*genai.GenerateContentResponseIterator] {
	return goGuarded(ctx, m.client, m.stream, parts)
}

// StartChat opens a guarded chat session. It requires a model created by
// Gemini.GenerativeModel; use Client.WrapChat for other chat implementations.
func (m *Model) StartChat() *Chat {
	if m.GenerativeModel == nil {
		panic("promptguard: StartChat on a model without a genai.GenerativeModel; use WrapChat")
	}
	cs := m.GenerativeModel.StartChat()
	chat := m.client.WrapChat(cs)
	chat.Session = cs
	return chat
}

// WrapChat guards any GeminiChat with this client's scanner.
// Only the new message is scanned on each turn; history was scanned when sent.
func (c *Client) WrapChat(cs GeminiChat) *Chat {
	return &Chat{
		client: c,
		send: guard.Binding[[]genai.Part, *genai.GenerateContentResponse]{
			Name:    "gemini.chat.send_message",
			Extract: geminiText,
			Delegate: func(ctx context.Context, parts []genai.Part) (*genai.GenerateContentResponse, error) {
				return cs.SendMessage(ctx, parts...)
			},
		},
		stream: guard.Binding[[]genai.Part, *genai.GenerateContentResponseIterator]{
			Name:    "gemini.chat.send_message_stream",
			Extract: geminiText,
			Delegate: func(ctx context.Context, parts []genai.Part) (*genai.GenerateContentResponseIterator, error) {
				return cs.SendMessageStream(ctx, parts...), nil
			},
		},
	}
}

// Chat mirrors genai.ChatSession with a scan before every turn.
type Chat struct {
	// Session is the wrapped session, nil when built with WrapChat.
	Session *genai.ChatSession

	client *Client
	send   guard.Binding[[]genai.Part, *genai.GenerateContentResponse]
	stream guard.Binding[[]genai.Part, *genai.GenerateContentResponseIterator]
}

// SendMessage scans the message, then sends it.
func (c *Chat) SendMessage(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error) {
	return guard.Call(ctx, c.client.guard, c.send, parts)
}

// SendMessageStream scans the message, then streams the reply.
func (c *Chat) SendMessageStream(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponseIterator, error) {
	return guard.Call(ctx, c.client.guard, c.stream, parts)
}

// SendMessageAsync is SendMessage on its own goroutine.
func (c *Chat) SendMessageAsync(ctx context.Context, parts ...genai.Part) *Future[*genai.GenerateContentResponse] {
	return goGuarded(ctx, c.client, c.send, parts)
}

// History returns the session history, or nil for wrapped chats.
func (c *Chat) History() []*genai.Content {
	if c.Session == nil {
		return nil
	}
	return c.Session.History
}

// geminiText keeps text parts; blobs, file data and function parts
// contribute nothing.
func geminiText(parts []genai.Part) string {
	content := make(extract.Parts, 0, len(parts))
	for _, p := range parts {
		switch v := p.(type) {
		case genai.Text:
			content = append(content, extract.Text(v))
		case *genai.Text:
			if v != nil {
				content = append(content, extract.Text(*v))
			}
		default:
			content = append(content, extract.Block{Type: fmt.Sprintf("%T", p)})
		}
	}
	return extract.TextOf(content)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
