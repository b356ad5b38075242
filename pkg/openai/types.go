package openai

import (
	"encoding/json"
)

// Error envelope types. Every non-2xx response from the gateway carries one
// of these in the "error.type" field.
const (
	ErrTypeAuthentication = "authentication_error"
	ErrTypeInvalidRequest = "invalid_request_error"
	ErrTypeRateLimit      = "rate_limit_exceeded"
	ErrTypeBackend        = "backend_error"
)

// ErrorResponse is the error envelope returned on every failure.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes a single gateway error.
type ErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    int    `json:"code,omitempty"`
}

// ChatMessage is a single chat turn. Content is a pointer so the dispatcher
// can tell an omitted "content" key apart from an empty string and reject it.
type ChatMessage struct {
	Role    string  `json:"role"`
	Content *string `json:"content"`
	Name    string  `json:"name,omitempty"`
}

// ChatCompletionRequest is the request for /v1/chat/completions. Optional
// fields are pointers so that values the client never sent stay off the wire.
type ChatCompletionRequest struct {
	Model       string          `json:"model"`
	Messages    []ChatMessage   `json:"messages"`
	MaxTokens   *int            `json:"max_tokens,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
	TopP        *float64        `json:"top_p,omitempty"`
	Stream      bool            `json:"stream,omitempty"`
	Stop        json.RawMessage `json:"stop,omitempty"`
	Seed        *int            `json:"seed,omitempty"`

	// ResponseModel is the client-visible model identity, echoed back by
	// translating adapters. It never reaches a backend.
	ResponseModel string `json:"-"`
}

// CompletionRequest is the request for /v1/completions. Prompt may be a JSON
// string or an array of strings.
type CompletionRequest struct {
	Model       string          `json:"model"`
	Prompt      json.RawMessage `json:"prompt"`
	MaxTokens   *int            `json:"max_tokens,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
	TopP        *float64        `json:"top_p,omitempty"`
	Stream      bool            `json:"stream,omitempty"`
	Stop        json.RawMessage `json:"stop,omitempty"`
	Seed        *int            `json:"seed,omitempty"`

	ResponseModel string `json:"-"`
}

// EmbeddingRequest is the request for /v1/embeddings. Input may be a JSON
// string or an array.
type EmbeddingRequest struct {
	Model string          `json:"model"`
	Input json.RawMessage `json:"input"`

	ResponseModel string `json:"-"`
}

// Usage reports token counts when the backend supplied them. Each field
// serializes as null when the backend did not report that side; the total is
// non-null only when both sides are known.
type Usage struct {
	PromptTokens     *int `json:"prompt_tokens"`
	CompletionTokens *int `json:"completion_tokens"`
	TotalTokens      *int `json:"total_tokens"`
}

// ChatChoice is a single chat completion result.
type ChatChoice struct {
	Index        int         `json:"index"`
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

// ChatCompletion is the non-streaming response for /v1/chat/completions.
type ChatCompletion struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []ChatChoice `json:"choices"`
	Usage   *Usage       `json:"usage,omitempty"`
}

// Delta is the incremental message fragment in a streaming chunk. An empty
// delta serializes as {}.
type Delta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

// ChunkChoice is a single choice in a streaming chunk. FinishReason is null
// on every chunk except the final one.
type ChunkChoice struct {
	Index        int     `json:"index"`
	Delta        Delta   `json:"delta"`
	FinishReason *string `json:"finish_reason"`
}

// ChatCompletionChunk is one streamed event for /v1/chat/completions.
type ChatCompletionChunk struct {
	ID      string        `json:"id"`
	Object  string        `json:"object"`
	Created int64         `json:"created"`
	Model   string        `json:"model"`
	Choices []ChunkChoice `json:"choices"`
}

// CompletionChoice is a single text completion result. Logprobs is always
// null; FinishReason is null on streamed chunks until the final one.
type CompletionChoice struct {
	Text         string      `json:"text"`
	Index        int         `json:"index"`
	Logprobs     interface{} `json:"logprobs"`
	FinishReason *string     `json:"finish_reason"`
}

// Completion is the response shape for /v1/completions, both buffered and
// per-chunk when streaming.
type Completion struct {
	ID      string             `json:"id"`
	Object  string             `json:"object"`
	Created int64              `json:"created"`
	Model   string             `json:"model"`
	Choices []CompletionChoice `json:"choices"`
	Usage   *Usage             `json:"usage,omitempty"`
}

// Embedding is a single embedding vector.
type Embedding struct {
	Object    string    `json:"object"`
	Embedding []float64 `json:"embedding"`
	Index     int       `json:"index"`
}

// EmbeddingResponse is the response for /v1/embeddings.
type EmbeddingResponse struct {
	Object string      `json:"object"`
	Data   []Embedding `json:"data"`
	Model  string      `json:"model"`
}

// ModelList is the response for /v1/models. Entries keep whatever fields the
// owning backend reported.
type ModelList struct {
	Data []map[string]any `json:"data"`
}

// Text returns a pointer to s, for filling ChatMessage.Content.
func Text(s string) *string {
	return &s
}

// AsString returns the value of raw when it holds a JSON string.
func AsString(raw json.RawMessage) (string, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// AsStringSlice returns the value of raw when it holds a JSON array of
// strings.
func AsStringSlice(raw json.RawMessage) ([]string, bool) {
	var ss []string
	if err := json.Unmarshal(raw, &ss); err != nil {
		return nil, false
	}
	return ss, true
}
