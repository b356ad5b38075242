package ollama

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docker/model-gateway/pkg/logging"
	"github.com/docker/model-gateway/pkg/openai"
)

func testLogger() logging.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logging.NewLogrusAdapter(l)
}

const fixedNow = 1700000000

func newTestAdapter(t *testing.T, handler http.HandlerFunc) *Adapter {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	a := NewAdapter(testLogger(), server.URL, server.Client(), time.Minute)
	a.now = func() time.Time { return time.Unix(fixedNow, 0) }
	return a
}

func readBody(t *testing.T, r *http.Request) string {
	t.Helper()
	data, err := io.ReadAll(r.Body)
	require.NoError(t, err)
	return string(data)
}

func TestChatCompletions(t *testing.T) {
	var gotPath, gotBody string
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotBody = readBody(t, r)
		_, _ = w.Write([]byte(`{
			"model": "llama3",
			"created_at": "2024-01-15T10:00:00Z",
			"message": {"role": "assistant", "content": "hello"},
			"done": true,
			"done_reason": "stop",
			"prompt_eval_count": 3,
			"eval_count": 5
		}`))
	})

	raw, err := a.ChatCompletions(context.Background(), &openai.ChatCompletionRequest{
		Model:         "llama3",
		Messages:      []openai.ChatMessage{{Role: "user", Content: openai.Text("hi")}},
		ResponseModel: "ollama:llama3",
	})
	require.NoError(t, err)

	assert.Equal(t, "/api/chat", gotPath)
	assert.Equal(t, `{"model":"llama3","messages":[{"role":"user","content":"hi"}],"stream":false}`, gotBody)

	var result openai.ChatCompletion
	require.NoError(t, json.Unmarshal(raw, &result))
	assert.True(t, strings.HasPrefix(result.ID, "chatcmpl-"))
	assert.Equal(t, "chat.completion", result.Object)
	assert.Equal(t, int64(1705312800), result.Created)
	assert.Equal(t, "ollama:llama3", result.Model)
	require.Len(t, result.Choices, 1)
	assert.Equal(t, openai.ChatMessage{Role: "assistant", Content: openai.Text("hello")}, result.Choices[0].Message)
	assert.Equal(t, "stop", result.Choices[0].FinishReason)
	require.NotNil(t, result.Usage)
	assert.Equal(t, 3, *result.Usage.PromptTokens)
	assert.Equal(t, 5, *result.Usage.CompletionTokens)
	assert.Equal(t, 8, *result.Usage.TotalTokens)
}

func TestChatCompletionsOptionsAndStop(t *testing.T) {
	var gotBody string
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		gotBody = readBody(t, r)
		_, _ = w.Write([]byte(`{"message":{"role":"assistant","content":"ok"},"done":true}`))
	})

	temperature, topP := 0.2, 0.9
	seed, maxTokens := 42, 128
	_, err := a.ChatCompletions(context.Background(), &openai.ChatCompletionRequest{
		Model:       "llama3",
		Messages:    []openai.ChatMessage{{Role: "user", Content: openai.Text("hi")}},
		Temperature: &temperature,
		TopP:        &topP,
		Seed:        &seed,
		MaxTokens:   &maxTokens,
		Stop:        json.RawMessage(`["\n"]`),
	})
	require.NoError(t, err)

	assert.Equal(t,
		`{"model":"llama3","messages":[{"role":"user","content":"hi"}],"stream":false,`+
			`"options":{"temperature":0.2,"top_p":0.9,"seed":42,"num_predict":128},"stop":["\n"]}`,
		gotBody)
}

func TestChatCompletionsCreatedFallback(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"created_at":"not a timestamp","message":{"content":"x"},"done":true}`))
	})

	raw, err := a.ChatCompletions(context.Background(), &openai.ChatCompletionRequest{
		Model:    "llama3",
		Messages: []openai.ChatMessage{{Role: "user", Content: openai.Text("hi")}},
	})
	require.NoError(t, err)

	var result openai.ChatCompletion
	require.NoError(t, json.Unmarshal(raw, &result))
	assert.Equal(t, int64(fixedNow), result.Created)
	// Without a response model the backend model is echoed.
	assert.Equal(t, "llama3", result.Model)
}

func TestChatCompletionsUsage(t *testing.T) {
	tests := []struct {
		name     string
		response string
		want     func(t *testing.T, usage *openai.Usage)
	}{
		{
			name:     "absent counts omit usage",
			response: `{"message":{"content":"x"},"done":true}`,
			want: func(t *testing.T, usage *openai.Usage) {
				assert.Nil(t, usage)
			},
		},
		{
			name:     "one-sided count keeps the other null",
			response: `{"message":{"content":"x"},"done":true,"eval_count":5}`,
			want: func(t *testing.T, usage *openai.Usage) {
				require.NotNil(t, usage)
				assert.Nil(t, usage.PromptTokens)
				require.NotNil(t, usage.CompletionTokens)
				assert.Equal(t, 5, *usage.CompletionTokens)
				assert.Nil(t, usage.TotalTokens)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(tt.response))
			})
			raw, err := a.ChatCompletions(context.Background(), &openai.ChatCompletionRequest{
				Model:    "llama3",
				Messages: []openai.ChatMessage{{Role: "user", Content: openai.Text("hi")}},
			})
			require.NoError(t, err)
			var result openai.ChatCompletion
			require.NoError(t, json.Unmarshal(raw, &result))
			tt.want(t, result.Usage)
		})
	}
}

func TestChatCompletionsBackendError(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	_, err := a.ChatCompletions(context.Background(), &openai.ChatCompletionRequest{
		Model:    "llama3",
		Messages: []openai.ChatMessage{{Role: "user", Content: openai.Text("hi")}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
}

func TestCompletions(t *testing.T) {
	var gotPath, gotBody string
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotBody = readBody(t, r)
		_, _ = w.Write([]byte(`{
			"created_at": "2024-01-15T10:00:00Z",
			"response": "two plus two is four",
			"done": true,
			"done_reason": "length",
			"prompt_eval_count": 7,
			"eval_count": 6
		}`))
	})

	raw, err := a.Completions(context.Background(), &openai.CompletionRequest{
		Model:         "llama3",
		Prompt:        json.RawMessage(`"two plus two"`),
		ResponseModel: "ollama:llama3",
	})
	require.NoError(t, err)

	assert.Equal(t, "/api/generate", gotPath)
	assert.Equal(t, `{"model":"llama3","prompt":"two plus two","stream":false}`, gotBody)

	var result openai.Completion
	require.NoError(t, json.Unmarshal(raw, &result))
	assert.True(t, strings.HasPrefix(result.ID, "cmpl-"))
	assert.Equal(t, "text_completion", result.Object)
	assert.Equal(t, "ollama:llama3", result.Model)
	require.Len(t, result.Choices, 1)
	assert.Equal(t, "two plus two is four", result.Choices[0].Text)
	require.NotNil(t, result.Choices[0].FinishReason)
	assert.Equal(t, "length", *result.Choices[0].FinishReason)
	require.NotNil(t, result.Usage)
	assert.Equal(t, 13, *result.Usage.TotalTokens)

	// The wire shape keeps the null logprobs field.
	assert.Contains(t, string(raw), `"logprobs":null`)
}

func TestCompletionsRejectsArrayPrompt(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("the backend must not be called")
	})

	_, err := a.Completions(context.Background(), &openai.CompletionRequest{
		Model:  "llama3",
		Prompt: json.RawMessage(`["a","b"]`),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "string prompt")
}

func TestEmbeddings(t *testing.T) {
	var gotPath, gotBody string
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotBody = readBody(t, r)
		_, _ = w.Write([]byte(`{"embedding":[0.25,-0.5]}`))
	})

	raw, err := a.Embeddings(context.Background(), &openai.EmbeddingRequest{
		Model:         "nomic-embed-text",
		Input:         json.RawMessage(`"hello"`),
		ResponseModel: "ollama:nomic-embed-text",
	})
	require.NoError(t, err)

	assert.Equal(t, "/api/embeddings", gotPath)
	assert.Equal(t, `{"model":"nomic-embed-text","prompt":"hello"}`, gotBody)

	var result openai.EmbeddingResponse
	require.NoError(t, json.Unmarshal(raw, &result))
	assert.Equal(t, "list", result.Object)
	assert.Equal(t, "ollama:nomic-embed-text", result.Model)
	require.Len(t, result.Data, 1)
	assert.Equal(t, "embedding", result.Data[0].Object)
	assert.Equal(t, []float64{0.25, -0.5}, result.Data[0].Embedding)
	assert.Equal(t, 0, result.Data[0].Index)
}

func TestEmbeddingsMissingVector(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})

	raw, err := a.Embeddings(context.Background(), &openai.EmbeddingRequest{
		Model: "m",
		Input: json.RawMessage(`"hello"`),
	})
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"embedding":[]`)
}

func TestListModels(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/tags", r.URL.Path)
		assert.Equal(t, http.MethodGet, r.Method)
		_, _ = w.Write([]byte(`{"models":[{"name":"llama3:8b"},{"name":""},{"size":42}]}`))
	})

	models, err := a.ListModels(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 1)
	assert.Equal(t, map[string]any{
		"id":       "ollama:llama3:8b",
		"object":   "model",
		"owned_by": "ollama",
	}, models[0])
}

func TestStreamChatCompletions(t *testing.T) {
	var gotBody string
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		gotBody = readBody(t, r)
		flusher := w.(http.Flusher)
		for _, line := range []string{
			`{"message":{"role":"assistant","content":"Hel"},"done":false}`,
			`{"message":{"content":"lo"},"done":false}`,
			`{"done":true,"done_reason":"stop"}`,
		} {
			_, _ = w.Write([]byte(line + "\n"))
			flusher.Flush()
		}
	})

	stream, err := a.StreamChatCompletions(context.Background(), &openai.ChatCompletionRequest{
		Model:         "llama3",
		Messages:      []openai.ChatMessage{{Role: "user", Content: openai.Text("hi")}},
		Stream:        true,
		ResponseModel: "ollama:llama3",
	})
	require.NoError(t, err)
	defer stream.Close()

	data, err := io.ReadAll(stream)
	require.NoError(t, err)

	assert.Equal(t, `{"model":"llama3","messages":[{"role":"user","content":"hi"}],"stream":true}`, gotBody)
	out := string(data)
	assert.Contains(t, out, `"delta":{"role":"assistant","content":"Hel"}`)
	assert.Contains(t, out, `"delta":{"content":"lo"}`)
	assert.Contains(t, out, `"finish_reason":"stop"`)
	assert.True(t, strings.HasSuffix(out, "data: [DONE]\n\n"))
	assert.Contains(t, out, `"model":"ollama:llama3"`)
}

func TestStreamChatCompletionsStatusError(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such model", http.StatusNotFound)
	})

	_, err := a.StreamChatCompletions(context.Background(), &openai.ChatCompletionRequest{
		Model:    "missing",
		Messages: []openai.ChatMessage{{Role: "user", Content: openai.Text("hi")}},
		Stream:   true,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
}

func TestStreamChatCompletionsIdleTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"message":{"content":"a"},"done":false}` + "\n"))
		w.(http.Flusher).Flush()
		// Go quiet until the client hangs up.
		<-r.Context().Done()
	}))
	t.Cleanup(server.Close)

	a := NewAdapter(testLogger(), server.URL, server.Client(), 50*time.Millisecond)
	stream, err := a.StreamChatCompletions(context.Background(), &openai.ChatCompletionRequest{
		Model:    "llama3",
		Messages: []openai.ChatMessage{{Role: "user", Content: openai.Text("hi")}},
		Stream:   true,
	})
	require.NoError(t, err)
	defer stream.Close()

	data, err := io.ReadAll(stream)
	require.Error(t, err, "an idle backend must truncate the stream")
	assert.NotContains(t, string(data), "[DONE]")
}

func TestStreamCompletions(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		for _, line := range []string{
			`{"response":"four","done":false}`,
			`{"done":true,"done_reason":"stop"}`,
		} {
			_, _ = w.Write([]byte(line + "\n"))
			flusher.Flush()
		}
	})

	stream, err := a.StreamCompletions(context.Background(), &openai.CompletionRequest{
		Model:  "llama3",
		Prompt: json.RawMessage(`"two plus two"`),
		Stream: true,
	})
	require.NoError(t, err)
	defer stream.Close()

	data, err := io.ReadAll(stream)
	require.NoError(t, err)
	out := string(data)
	assert.Contains(t, out, `"object":"text_completion"`)
	assert.Contains(t, out, `"text":"four"`)
	assert.True(t, strings.HasSuffix(out, "data: [DONE]\n\n"))
}
