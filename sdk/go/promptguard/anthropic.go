package promptguard

import (
	"context"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/ppiankov/promptguard/internal/extract"
	"github.com/ppiankov/promptguard/internal/guard"
)

// Anthropic Messages API types, re-exported from the official SDK.
type (
	MessageNewParams = anthropic.MessageNewParams
	MessageParam     = anthropic.MessageParam
	ContentBlock     = anthropic.ContentBlockParamUnion
	Message          = anthropic.Message
	StreamEvent      = anthropic.MessageStreamEventUnion
	MessageStream    = ssestream.Stream[anthropic.MessageStreamEventUnion]
	AnthropicError   = anthropic.Error
)

// NewUserMessage, NewAssistantMessage, NewTextBlock and NewImageBlock build message params.
var (
	NewUserMessage      = anthropic.NewUserMessage
	NewAssistantMessage = anthropic.NewAssistantMessage
	NewTextBlock        = anthropic.NewTextBlock
	NewImageBlock       = anthropic.NewImageBlockBase64
)

// MessagesAPI is the provider surface guarded by Messages.
// *anthropic.MessageService satisfies it.
type MessagesAPI interface {
	New(ctx context.Context, body anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
	NewStreaming(ctx context.Context, body anthropic.MessageNewParams, opts ...option.RequestOption) *ssestream.Stream[anthropic.MessageStreamEventUnion]
}

var _ MessagesAPI = (*anthropic.MessageService)(nil)

// Anthropic is a guarded Anthropic Messages client.
type Anthropic struct {
	*Client
	Messages *Messages
}

// NewAnthropic creates a guarded client over the Anthropic Messages API.
// The provider key comes from WithProviderAPIKey or ANTHROPIC_API_KEY.
func NewAnthropic(opts ...Option) (*Anthropic, error) {
	c, cfg, err := newClient(opts)
	if err != nil {
		return nil, err
	}

	key, baseURL := cfg.providerKey, cfg.providerURL
	if key == "" {
		key = cfg.env.Anthropic.APIKey
	}
	if baseURL == "" {
		baseURL = cfg.env.Anthropic.BaseURL
	}
	var popts []option.RequestOption
	if key != "" {
		popts = append(popts, option.WithAPIKey(key))
	}
	if baseURL != "" {
		popts = append(popts, option.WithBaseURL(baseURL))
	}
	if cfg.providerHC != nil {
		popts = append(popts, option.WithHTTPClient(cfg.providerHC))
	}
	api := anthropic.NewClient(popts...)

	return &Anthropic{Client: c, Messages: newMessages(c, &api.Messages)}, nil
}

// WrapAnthropic guards an existing Messages implementation, usually
// &client.Messages from an anthropic.Client the caller already built.
func WrapAnthropic(api MessagesAPI, opts ...Option) (*Anthropic, error) {
	c, _, err := newClient(opts)
	if err != nil {
		return nil, err
	}
	return &Anthropic{Client: c, Messages: newMessages(c, api)}, nil
}

// Messages mirrors the Messages API with a scan before every call.
type Messages struct {
	client *Client
	create guard.Binding[MessageNewParams, *Message]
	stream guard.Binding[MessageNewParams, *MessageStream]
}

func newMessages(c *Client, api MessagesAPI) *Messages {
	return &Messages{
		client: c,
		create: guard.Binding[MessageNewParams, *Message]{
			Name:    "anthropic.messages.new",
			Extract: anthropicText,
			Delegate: func(ctx context.Context, p MessageNewParams) (*Message, error) {
				return api.New(ctx, p)
			},
		},
		stream: guard.Binding[MessageNewParams, *MessageStream]{
			Name:    "anthropic.messages.stream",
			Extract: anthropicText,
			Delegate: func(ctx context.Context, p MessageNewParams) (*MessageStream, error) {
				return api.NewStreaming(ctx, p), nil
			},
		},
	}
}

// New scans the user messages, then creates the message.
func (m *Messages) New(ctx context.Context, params MessageNewParams) (*Message, error) {
	return guard.Call(ctx, m.client.guard, m.create, params)
}

// NewStreaming scans the user messages, then opens the event stream.
// Nothing is sent upstream before the verdict. Provider errors surface
// through the stream's Err, as with the unguarded SDK.
func (m *Messages) NewStreaming(ctx context.Context, params MessageNewParams) (*MessageStream, error) {
	return guard.Call(ctx, m.client.guard, m.stream, params)
}

// NewAsync is New on its own goroutine.
func (m *Messages) NewAsync(ctx context.Context, params MessageNewParams) *Future[*Message] {
	return goGuarded(ctx, m.client, m.create, params)
}

// NewStreamingAsync is NewStreaming on its own goroutine.
func (m *Messages) NewStreamingAsync(ctx context.Context, params MessageNewParams) *Future[*MessageStream] {
	return goGuarded(ctx, m.client, m.stream, params)
}

// anthropicText returns the user-authored text blocks; the system prompt and
// assistant turns are not scanned.
func anthropicText(p MessageNewParams) string {
	msgs := make([]extract.Message, 0, len(p.Messages))
	for _, m := range p.Messages {
		parts := make(extract.Parts, 0, len(m.Content))
		for _, b := range m.Content {
			if b.OfText != nil {
				parts = append(parts, extract.Block{Type: "text", Text: b.OfText.Text})
			}
		}
		msgs = append(msgs, extract.Message{Role: string(m.Role), Content: parts})
	}
	return extract.UserText(msgs)
}
