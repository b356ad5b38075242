// Package vllm forwards OpenAI-native requests to an OpenAI-compatible
// server such as vLLM without translation.
package vllm

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
const Name = "vllm"

// Adapter is the pass-through adapter for an OpenAI-compatible server.
type Adapter struct {
	log        logging.Logger
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
}

// NewAdapter creates an adapter for the OpenAI-compatible server at baseURL.
// The timeout bounds buffered calls end to end and acts as the idle limit
// between stream reads.
func NewAdapter(log logging.Logger, baseURL string, httpClient *http.Client, timeout time.Duration) *Adapter {
	return &Adapter{
		log:        log,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		timeout:    timeout,
	}
}

// Name implements backends.Adapter.Name.
func (a *Adapter) Name() string {
	return Name
}

// ChatCompletions forwards a buffered chat completion.
func (a *Adapter) ChatCompletions(ctx context.Context, req *openai.ChatCompletionRequest) (json.RawMessage, error) {
	return a.post(ctx, "/v1/chat/completions", req)
}

// StreamChatCompletions forwards a streaming chat completion, returning the
// backend's SSE bytes unmodified.
func (a *Adapter) StreamChatCompletions(ctx context.Context, req *openai.ChatCompletionRequest) (io.ReadCloser, error) {
	return a.stream(ctx, "/v1/chat/completions", req)
}

// Completions forwards a buffered text completion.
func (a *Adapter) Completions(ctx context.Context, req *openai.CompletionRequest) (json.RawMessage, error) {
	return a.post(ctx, "/v1/completions", req)
}

// StreamCompletions forwards a streaming text completion.
func (a *Adapter) StreamCompletions(ctx context.Context, req *openai.CompletionRequest) (io.ReadCloser, error) {
	return a.stream(ctx, "/v1/completions", req)
}

// Embeddings forwards an embedding request.
func (a *Adapter) Embeddings(ctx context.Context, req *openai.EmbeddingRequest) (json.RawMessage, error) {
	return a.post(ctx, "/v1/embeddings", req)
}

// ListModels returns the backend's /v1/models data array verbatim. The
// aggregator namespaces the ids.
func (a *Adapter) ListModels(ctx context.Context) ([]map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/v1/models", nil)
	if err != nil {
		return nil, fmt.Errorf("unable to create /v1/models request: %w", err)
	}

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("vllm /v1/models returned status %d", resp.StatusCode)
	}

	var parsed struct {
		Data []map[string]any `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("unable to decode /v1/models response: %w", err)
	}
	return parsed.Data, nil
}

func (a *Adapter) post(ctx context.Context, path string, body any) (json.RawMessage, error) {
	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("unable to encode %s request: %w", path, err)
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("unable to create %s request: %w", path, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("vllm %s returned status %d", path, resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("unable to read %s response: %w", path, err)
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("vllm %s returned invalid JSON", path)
	}
	return raw, nil
}

func (a *Adapter) stream(ctx context.Context, path string, body any) (io.ReadCloser, error) {
	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("unable to encode %s request: %w", path, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("unable to create %s request: %w", path, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		cancel()
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("vllm %s returned status %d", path, resp.StatusCode)
	}
	return newIdleReader(resp.Body, cancel, a.timeout), nil
}

// idleReader cancels the upstream request when no bytes arrive within the
// idle window, so a stalled backend cannot hold a client stream open
// forever.
type idleReader struct {
	body     io.ReadCloser
	cancel   context.CancelFunc
	watchdog *time.Timer
	idle     time.Duration
}

func newIdleReader(body io.ReadCloser, cancel context.CancelFunc, idle time.Duration) *idleReader {
	return &idleReader{
		body:     body,
		cancel:   cancel,
		watchdog: time.AfterFunc(idle, cancel),
		idle:     idle,
	}
}

func (r *idleReader) Read(p []byte) (int, error) {
	n, err := r.body.Read(p)
	if err == nil {
		r.watchdog.Reset(r.idle)
	}
	return n, err
}

func (r *idleReader) Close() error {
	r.watchdog.Stop()
	r.cancel()
	return r.body.Close()
}
