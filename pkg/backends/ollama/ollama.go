// Package ollama adapts the gateway's OpenAI-compatible surface onto the
// Ollama native API, translating requests, buffered responses, and NDJSON
// streams.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/docker/model-gateway/pkg/logging"
	"github.com/docker/model-gateway/pkg/openai"
)

// Name is the backend name used in model prefixes and headers.
const Name = "ollama"

// Adapter is the translating adapter for an Ollama server.
type Adapter struct {
	log        logging.Logger
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	now        func() time.Time
}

// NewAdapter creates an adapter for the Ollama server at baseURL. The
// timeout bounds buffered calls end to end and acts as the per-frame idle
// limit on streams.
func NewAdapter(log logging.Logger, baseURL string, httpClient *http.Client, timeout time.Duration) *Adapter {
	return &Adapter{
		log:        log,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		timeout:    timeout,
		now:        time.Now,
	}
}

// Name implements backends.Adapter.Name.
func (a *Adapter) Name() string {
	return Name
}

// ChatCompletions translates a buffered chat completion through /api/chat.
func (a *Adapter) ChatCompletions(ctx context.Context, req *openai.ChatCompletionRequest) (json.RawMessage, error) {
	body := chatRequest{
		Model:    req.Model,
		Messages: req.Messages,
		Stream:   false,
		Options:  buildOptions(req.Temperature, req.TopP, req.Seed, req.MaxTokens),
		Stop:     req.Stop,
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	var frame chatFrame
	if err := a.do(ctx, http.MethodPost, "/api/chat", body, &frame); err != nil {
		return nil, err
	}

	result := openai.ChatCompletion{
		ID:      openai.NewChatCompletionID(),
		Object:  "chat.completion",
		Created: a.parseCreated(frame.CreatedAt),
		Model:   responseModel(req.ResponseModel, req.Model),
		Choices: []openai.ChatChoice{{
			Index:        0,
			Message:      openai.ChatMessage{Role: "assistant", Content: openai.Text(frame.Message.Content)},
			FinishReason: finishReason(frame.DoneReason),
		}},
		Usage: usageFrom(frame.PromptEvalCount, frame.EvalCount),
	}
	return json.Marshal(result)
}

// StreamChatCompletions starts a streaming chat completion and returns a
// reader of translated SSE events.
func (a *Adapter) StreamChatCompletions(ctx context.Context, req *openai.ChatCompletionRequest) (io.ReadCloser, error) {
	body := chatRequest{
		Model:    req.Model,
		Messages: req.Messages,
		Stream:   true,
		Options:  buildOptions(req.Temperature, req.TopP, req.Seed, req.MaxTokens),
		Stop:     req.Stop,
	}
	resp, cancel, err := a.startStream(ctx, "/api/chat", body)
	if err != nil {
		return nil, err
	}
	return newChatStream(a.log, resp.Body, cancel, streamParams{
		id:      openai.NewChatCompletionID(),
		created: a.now().Unix(),
		model:   responseModel(req.ResponseModel, req.Model),
		idle:    a.timeout,
	}), nil
}

// Completions translates a buffered text completion through /api/generate.
// The dispatcher guarantees the prompt is a plain string by the time it gets
// here.
func (a *Adapter) Completions(ctx context.Context, req *openai.CompletionRequest) (json.RawMessage, error) {
	prompt, ok := openai.AsString(req.Prompt)
	if !ok {
		return nil, fmt.Errorf("ollama backend requires a string prompt")
	}
	body := generateRequest{
		Model:   req.Model,
		Prompt:  prompt,
		Stream:  false,
		Options: buildOptions(req.Temperature, req.TopP, req.Seed, req.MaxTokens),
		Stop:    req.Stop,
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	var frame generateFrame
	if err := a.do(ctx, http.MethodPost, "/api/generate", body, &frame); err != nil {
		return nil, err
	}

	reason := finishReason(frame.DoneReason)
	result := openai.Completion{
		ID:      openai.NewCompletionID(),
		Object:  "text_completion",
		Created: a.parseCreated(frame.CreatedAt),
		Model:   responseModel(req.ResponseModel, req.Model),
		Choices: []openai.CompletionChoice{{
			Text:         frame.Response,
			Index:        0,
			FinishReason: &reason,
		}},
		Usage: usageFrom(frame.PromptEvalCount, frame.EvalCount),
	}
	return json.Marshal(result)
}

// StreamCompletions starts a streaming text completion and returns a reader
// of translated SSE events.
func (a *Adapter) StreamCompletions(ctx context.Context, req *openai.CompletionRequest) (io.ReadCloser, error) {
	prompt, ok := openai.AsString(req.Prompt)
	if !ok {
		return nil, fmt.Errorf("ollama backend requires a string prompt")
	}
	body := generateRequest{
		Model:   req.Model,
		Prompt:  prompt,
		Stream:  true,
		Options: buildOptions(req.Temperature, req.TopP, req.Seed, req.MaxTokens),
		Stop:    req.Stop,
	}
	resp, cancel, err := a.startStream(ctx, "/api/generate", body)
	if err != nil {
		return nil, err
	}
	return newCompletionStream(a.log, resp.Body, cancel, streamParams{
		id:      openai.NewCompletionID(),
		created: a.now().Unix(),
		model:   responseModel(req.ResponseModel, req.Model),
		idle:    a.timeout,
	}), nil
}

// Embeddings translates an embedding request through /api/embeddings. The
// input passes through as the Ollama prompt.
func (a *Adapter) Embeddings(ctx context.Context, req *openai.EmbeddingRequest) (json.RawMessage, error) {
	body := embeddingsRequest{Model: req.Model, Prompt: req.Input}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	var parsed embeddingsResponse
	if err := a.do(ctx, http.MethodPost, "/api/embeddings", body, &parsed); err != nil {
		return nil, err
	}

	embedding := parsed.Embedding
	if embedding == nil {
		embedding = []float64{}
	}
	result := openai.EmbeddingResponse{
		Object: "list",
		Data: []openai.Embedding{{
			Object:    "embedding",
			Embedding: embedding,
			Index:     0,
		}},
		Model: responseModel(req.ResponseModel, req.Model),
	}
	return json.Marshal(result)
}

// ListModels lists the server's local models from /api/tags, already
// namespaced with the backend prefix.
func (a *Adapter) ListModels(ctx context.Context) ([]map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	var parsed tagsResponse
	if err := a.do(ctx, http.MethodGet, "/api/tags", nil, &parsed); err != nil {
		return nil, err
	}

	models := make([]map[string]any, 0, len(parsed.Models))
	for _, m := range parsed.Models {
		if m.Name == "" {
			continue
		}
		models = append(models, map[string]any{
			"id":       Name + ":" + m.Name,
			"object":   "model",
			"owned_by": Name,
		})
	}
	return models, nil
}

// do executes one buffered round trip and decodes the response into out.
func (a *Adapter) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("unable to encode %s request: %w", path, err)
		}
		reader = bytes.NewReader(encoded)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("unable to create %s request: %w", path, err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama %s returned status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("unable to decode %s response: %w", path, err)
	}
	return nil
}

// startStream issues a streaming POST and verifies the status line before
// any translation begins. The returned cancel releases the upstream request
// and is also armed as the stream's idle watchdog.
func (a *Adapter) startStream(ctx context.Context, path string, body any) (*http.Response, context.CancelFunc, error) {
	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, nil, fmt.Errorf("unable to encode %s request: %w", path, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		cancel()
		return nil, nil, fmt.Errorf("unable to create %s request: %w", path, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		cancel()
		return nil, nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return nil, nil, fmt.Errorf("ollama %s returned status %d", path, resp.StatusCode)
	}
	return resp, cancel, nil
}

func (a *Adapter) parseCreated(createdAt string) int64 {
	if createdAt == "" {
		return a.now().Unix()
	}
	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return a.now().Unix()
	}
	return t.Unix()
}

func responseModel(responseModel, model string) string {
	if responseModel != "" {
		return responseModel
	}
	return model
}

func finishReason(doneReason string) string {
	if doneReason == "" {
		return "stop"
	}
	return doneReason
}

func usageFrom(promptEval, eval *int) *openai.Usage {
	if promptEval == nil && eval == nil {
		return nil
	}
	usage := &openai.Usage{
		PromptTokens:     promptEval,
		CompletionTokens: eval,
	}
	if promptEval != nil && eval != nil {
		total := *promptEval + *eval
		usage.TotalTokens = &total
	}
	return usage
}
