package ollama

import (
	"encoding/json"

	"github.com/docker/model-gateway/pkg/openai"
)

// chatRequest is the request for /api/chat. Stream is always serialized
// because Ollama defaults to streaming when the key is absent.
type chatRequest struct {
	Model    string               `json:"model"`
	Messages []openai.ChatMessage `json:"messages"`
	Stream   bool                 `json:"stream"`
	Options  *requestOptions      `json:"options,omitempty"`
	Stop     json.RawMessage      `json:"stop,omitempty"`
}

// generateRequest is the request for /api/generate.
type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Options *requestOptions `json:"options,omitempty"`
	Stop    json.RawMessage `json:"stop,omitempty"`
}

// embeddingsRequest is the request for /api/embeddings.
type embeddingsRequest struct {
	Model  string          `json:"model"`
	Prompt json.RawMessage `json:"prompt"`
}

// requestOptions carries the sampling parameters Ollama accepts under
// "options".
type requestOptions struct {
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	Seed        *int     `json:"seed,omitempty"`
	NumPredict  *int     `json:"num_predict,omitempty"`
}

// chatFrame is one response object from /api/chat: the whole body when not
// streaming, or a single NDJSON frame when streaming.
type chatFrame struct {
	CreatedAt string `json:"created_at"`
	Message   struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done            bool   `json:"done"`
	DoneReason      string `json:"done_reason"`
	PromptEvalCount *int   `json:"prompt_eval_count"`
	EvalCount       *int   `json:"eval_count"`
}

// generateFrame is one response object from /api/generate.
type generateFrame struct {
	CreatedAt       string `json:"created_at"`
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	DoneReason      string `json:"done_reason"`
	PromptEvalCount *int   `json:"prompt_eval_count"`
	EvalCount       *int   `json:"eval_count"`
}

// embeddingsResponse is the response from /api/embeddings.
type embeddingsResponse struct {
	Embedding []float64 `json:"embedding"`
}

// tagsResponse is the response from /api/tags.
type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// buildOptions maps OpenAI sampling fields onto Ollama options, returning
// nil when no known option was provided so the key stays off the wire.
func buildOptions(temperature, topP *float64, seed, maxTokens *int) *requestOptions {
	if temperature == nil && topP == nil && seed == nil && maxTokens == nil {
		return nil
	}
	return &requestOptions{
		Temperature: temperature,
		TopP:        topP,
		Seed:        seed,
		NumPredict:  maxTokens,
	}
}
