// Package backends defines the interface between the gateway dispatcher and
// backend protocol adapters.
package backends

import (
	"context"
	"encoding/json"
	"io"

	"github.com/docker/model-gateway/pkg/openai"
)

// Adapter is the interface implemented by backend protocol adapters. An
// adapter receives requests whose Model field has already been rewritten to
// the backend-local name, with the client-visible name in ResponseModel.
// Adapter implementations must be safe for concurrent use.
type Adapter interface {
	// Name returns the backend name. It is used as the model prefix, in the
	// X-Proxy-Backend header, and in logs. The package providing the adapter
	// implementation should also expose a constant called Name which matches
	// the value returned by this method.
	Name() string
	// ChatCompletions executes a buffered chat completion and returns the
	// OpenAI-format response body.
	ChatCompletions(ctx context.Context, req *openai.ChatCompletionRequest) (json.RawMessage, error)
	// StreamChatCompletions executes a streaming chat completion. The
	// returned reader yields OpenAI SSE bytes; the caller must close it. A
	// read error means the stream was truncated and no [DONE] event was
	// delivered.
	StreamChatCompletions(ctx context.Context, req *openai.ChatCompletionRequest) (io.ReadCloser, error)
	// Completions executes a buffered text completion.
	Completions(ctx context.Context, req *openai.CompletionRequest) (json.RawMessage, error)
	// StreamCompletions executes a streaming text completion with the same
	// reader contract as StreamChatCompletions.
	StreamCompletions(ctx context.Context, req *openai.CompletionRequest) (io.ReadCloser, error)
	// Embeddings computes embeddings and returns the OpenAI-format body.
	Embeddings(ctx context.Context, req *openai.EmbeddingRequest) (json.RawMessage, error)
	// ListModels returns the backend's model entries in OpenAI model-object
	// form. Entries are namespaced by the model aggregator, except where the
	// adapter already namespaces them itself.
	ListModels(ctx context.Context) ([]map[string]any, error)
}
