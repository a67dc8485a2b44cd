package providers

import "context"

// Provider is the interface completion backends implement.
type Provider interface {
	// Chat sends the exchange to the model and returns its reply.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)

	// DefaultModel returns the model used when a request names none.
	DefaultModel() string

	// Name returns the provider identifier (e.g. "openai").
	Name() string
}

// Exchange roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ChatRequest contains the input for a Chat call.
type ChatRequest struct {
	Messages []Message `json:"messages"`
	Model    string    `json:"model,omitempty"`
	Params   Params    `json:"params,omitempty"`
}

// Params are per-guild generation parameters. Nil pointers mean "use the
// backend's default".
type Params struct {
	Temperature      *float32       `json:"temperature,omitempty"`
	TopP             *float32       `json:"top_p,omitempty"`
	PresencePenalty  *float32       `json:"presence_penalty,omitempty"`
	FrequencyPenalty *float32       `json:"frequency_penalty,omitempty"`
	MaxTokens        int            `json:"max_tokens,omitempty"`
	Seed             *int           `json:"seed,omitempty"`
	Stop             []string       `json:"stop,omitempty"`
	LogitBias        map[string]int `json:"logit_bias,omitempty"` // token id -> bias ("weights")
}

// ChatResponse is the result of a completion.
type ChatResponse struct {
	Content      string `json:"content"`
	FinishReason string `json:"finish_reason"` // "stop", "length", ...
	Usage        *Usage `json:"usage,omitempty"`
}

// PartType discriminates content parts.
type PartType string

const (
	PartText     PartType = "text"
	PartImageURL PartType = "image_url"
)

// Part is one element of a multi-part message body.
type Part struct {
	Type     PartType `json:"type"`
	Text     string   `json:"text,omitempty"`
	ImageURL string   `json:"image_url,omitempty"`
}

// Message is one role-tagged exchange entry. Content holds plain text;
// Parts, when set, replaces it with an ordered list of text/image parts.
// Entries are never built with empty content and are treated as immutable
// once created.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content,omitempty"`
	Parts   []Part `json:"parts,omitempty"`
}

// Text returns the concatenated textual content of the entry.
func (m Message) Text() string {
	if len(m.Parts) == 0 {
		return m.Content
	}
	var n int
	for _, p := range m.Parts {
		n += len(p.Text)
	}
	buf := make([]byte, 0, n)
	for _, p := range m.Parts {
		if p.Type == PartText {
			buf = append(buf, p.Text...)
		}
	}
	return string(buf)
}

// IsEmpty reports whether the entry carries no content at all.
func (m Message) IsEmpty() bool {
	return m.Content == "" && len(m.Parts) == 0
}

// Usage tracks token consumption.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
