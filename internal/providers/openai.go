package providers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// DefaultTimeout bounds a single completion request.
const DefaultTimeout = 120 * time.Second

// RateLimitError is returned when the backend answers HTTP 429. Reset is the
// raw reset hint from the response headers ("6m0s", "250ms", ...), empty
// when the backend sent none.
type RateLimitError struct {
	Reset string
	Err   error
}

func (e *RateLimitError) Error() string {
	if e.Reset == "" {
		return fmt.Sprintf("rate limited: %v", e.Err)
	}
	return fmt.Sprintf("rate limited (reset %s): %v", e.Reset, e.Err)
}

func (e *RateLimitError) Unwrap() error { return e.Err }

// OpenAIProvider implements Provider for OpenAI-compatible APIs
// (OpenAI, OpenRouter, llama.cpp, vLLM, LocalAI, etc.)
type OpenAIProvider struct {
	name         string
	apiBase      string
	defaultModel string
	client       *openai.Client

	mu          sync.RWMutex
	onRateLimit func(reset string)
}

// NewOpenAIProvider creates a client for an OpenAI-compatible endpoint.
// An empty apiBase targets api.openai.com; a zero timeout uses DefaultTimeout.
func NewOpenAIProvider(name, apiKey, apiBase, defaultModel string, timeout time.Duration) *OpenAIProvider {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if apiKey == "" {
		// local endpoints ignore the key but go-openai always sends one
		apiKey = "sk-placeholderkey"
	}

	p := &OpenAIProvider{name: name, defaultModel: defaultModel}

	cfg := openai.DefaultConfig(apiKey)
	if apiBase != "" {
		cfg.BaseURL = strings.TrimRight(apiBase, "/")
	}
	p.apiBase = cfg.BaseURL
	cfg.HTTPClient = &http.Client{
		Timeout:   timeout,
		Transport: &rateLimitTransport{base: http.DefaultTransport, notify: p.notifyRateLimit},
	}
	p.client = openai.NewClientWithConfig(cfg)
	return p
}

// WithRateLimitHook registers fn to be called with the reset hint whenever a
// response shows the quota is exhausted (HTTP 429 or a zero remaining count).
func (p *OpenAIProvider) WithRateLimitHook(fn func(reset string)) *OpenAIProvider {
	p.mu.Lock()
	p.onRateLimit = fn
	p.mu.Unlock()
	return p
}

func (p *OpenAIProvider) Name() string         { return p.name }
func (p *OpenAIProvider) DefaultModel() string { return p.defaultModel }
func (p *OpenAIProvider) APIBase() string      { return p.apiBase }

func (p *OpenAIProvider) resolveModel(model string) string {
	if model == "" {
		return p.defaultModel
	}
	return model
}

func (p *OpenAIProvider) notifyRateLimit(reset string) {
	p.mu.RLock()
	fn := p.onRateLimit
	p.mu.RUnlock()
	if fn != nil {
		fn(reset)
	}
}

func (p *OpenAIProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("chat: empty exchange")
	}

	hint := &resetHint{}
	ctx = context.WithValue(ctx, resetHintKey{}, hint)

	resp, err := p.client.CreateChatCompletion(ctx, p.buildRequest(req))
	if err != nil {
		if isTooManyRequests(err) || hint.limited() {
			return nil, &RateLimitError{Reset: hint.get(), Err: err}
		}
		return nil, fmt.Errorf("%s: create chat completion: %w", p.name, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%s: response has no choices", p.name)
	}

	choice := resp.Choices[0]
	return &ChatResponse{
		Content:      choice.Message.Content,
		FinishReason: string(choice.FinishReason),
		Usage: &Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

// ListModels returns the model ids the endpoint advertises, sorted.
func (p *OpenAIProvider) ListModels(ctx context.Context) ([]string, error) {
	list, err := p.client.ListModels(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: list models: %w", p.name, err)
	}
	ids := make([]string, 0, len(list.Models))
	for _, m := range list.Models {
		ids = append(ids, m.ID)
	}
	slices.Sort(ids)
	return ids, nil
}

func (p *OpenAIProvider) buildRequest(req ChatRequest) openai.ChatCompletionRequest {
	out := openai.ChatCompletionRequest{
		Model:    p.resolveModel(req.Model),
		Messages: make([]openai.ChatCompletionMessage, 0, len(req.Messages)),
	}
	for _, m := range req.Messages {
		if m.IsEmpty() {
			continue
		}
		out.Messages = append(out.Messages, toOpenAIMessage(m))
	}

	params := req.Params
	if params.Temperature != nil {
		out.Temperature = *params.Temperature
	}
	if params.TopP != nil {
		out.TopP = *params.TopP
	}
	if params.PresencePenalty != nil {
		out.PresencePenalty = *params.PresencePenalty
	}
	if params.FrequencyPenalty != nil {
		out.FrequencyPenalty = *params.FrequencyPenalty
	}
	if params.MaxTokens > 0 {
		out.MaxTokens = params.MaxTokens
	}
	out.Seed = params.Seed
	if len(params.Stop) > 0 {
		out.Stop = params.Stop
	}
	if len(params.LogitBias) > 0 {
		out.LogitBias = params.LogitBias
	}
	return out
}

// toOpenAIMessage maps an entry onto the wire message. Multi-part entries go
// through MultiContent; Content must stay empty in that case.
func toOpenAIMessage(m Message) openai.ChatCompletionMessage {
	if len(m.Parts) == 0 {
		return openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}
	parts := make([]openai.ChatMessagePart, 0, len(m.Parts))
	for _, part := range m.Parts {
		switch part.Type {
		case PartImageURL:
			parts = append(parts, openai.ChatMessagePart{
				Type:     openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{URL: part.ImageURL, Detail: openai.ImageURLDetailAuto},
			})
		default:
			parts = append(parts, openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: part.Text})
		}
	}
	return openai.ChatCompletionMessage{Role: m.Role, MultiContent: parts}
}

func isTooManyRequests(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusTooManyRequests {
		return true
	}
	var reqErr *openai.RequestError
	return errors.As(err, &reqErr) && reqErr.HTTPStatusCode == http.StatusTooManyRequests
}

// --- rate limit header capture ---

type resetHintKey struct{}

// resetHint carries the reset header of the last response back to Chat.
type resetHint struct {
	mu         sync.Mutex
	reset      string
	limited429 bool
}

func (h *resetHint) set(reset string, status int) {
	h.mu.Lock()
	h.reset = reset
	h.limited429 = status == http.StatusTooManyRequests
	h.mu.Unlock()
}

func (h *resetHint) get() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.reset
}

func (h *resetHint) limited() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.limited429
}

// rateLimitTransport inspects x-ratelimit-* headers on every response.
type rateLimitTransport struct {
	base   http.RoundTripper
	notify func(reset string)
}

func (t *rateLimitTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return resp, err
	}

	reset, exhausted := resetFromHeaders(resp.Header)
	if resp.StatusCode != http.StatusTooManyRequests && !exhausted {
		return resp, nil
	}
	slog.Warn("completion endpoint rate limited", "status", resp.StatusCode, "reset", reset)
	if h, ok := req.Context().Value(resetHintKey{}).(*resetHint); ok {
		h.set(reset, resp.StatusCode)
	}
	if t.notify != nil {
		t.notify(reset)
	}
	return resp, nil
}

// resetFromHeaders returns the reset hint for whichever quota is exhausted,
// falling back to the first reset header present and then to Retry-After.
func resetFromHeaders(h http.Header) (reset string, exhausted bool) {
	for _, kind := range []string{"requests", "tokens"} {
		if h.Get("x-ratelimit-remaining-"+kind) == "0" {
			return h.Get("x-ratelimit-reset-" + kind), true
		}
	}
	for _, kind := range []string{"requests", "tokens"} {
		if v := h.Get("x-ratelimit-reset-" + kind); v != "" {
			return v, false
		}
	}
	if v := strings.TrimSpace(h.Get("Retry-After")); v != "" && !strings.ContainsAny(v, " ,") {
		return v + "s", false
	}
	return "", false
}
