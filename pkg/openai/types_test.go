package openai

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustMarshal(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return string(data)
}

func TestDeltaWireShape(t *testing.T) {
	assert.Equal(t, `{}`, mustMarshal(t, Delta{}))
	assert.Equal(t, `{"role":"assistant","content":"hi"}`, mustMarshal(t, Delta{Role: "assistant", Content: "hi"}))
}

func TestChunkChoiceFinishReasonNull(t *testing.T) {
	assert.Equal(t, `{"index":0,"delta":{},"finish_reason":null}`, mustMarshal(t, ChunkChoice{}))

	stop := "stop"
	assert.Equal(t, `{"index":0,"delta":{},"finish_reason":"stop"}`, mustMarshal(t, ChunkChoice{FinishReason: &stop}))
}

func TestUsageWireShape(t *testing.T) {
	three, four := 3, 4
	tests := []struct {
		name  string
		usage Usage
		want  string
	}{
		{
			name:  "prompt only",
			usage: Usage{PromptTokens: &three},
			want:  `{"prompt_tokens":3,"completion_tokens":null,"total_tokens":null}`,
		},
		{
			name:  "completion only",
			usage: Usage{CompletionTokens: &four},
			want:  `{"prompt_tokens":null,"completion_tokens":4,"total_tokens":null}`,
		},
		{
			name:  "both sides known",
			usage: Usage{PromptTokens: &three, CompletionTokens: &four, TotalTokens: ptr(7)},
			want:  `{"prompt_tokens":3,"completion_tokens":4,"total_tokens":7}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, mustMarshal(t, tt.usage))
		})
	}
}

func TestCompletionChoiceLogprobsNull(t *testing.T) {
	stop := "stop"
	got := mustMarshal(t, CompletionChoice{Text: "out", FinishReason: &stop})
	assert.Equal(t, `{"text":"out","index":0,"logprobs":null,"finish_reason":"stop"}`, got)
}

func TestRequestOptionalFieldsStayOffTheWire(t *testing.T) {
	req := ChatCompletionRequest{
		Model:         "m",
		Messages:      []ChatMessage{{Role: "user", Content: Text("hi")}},
		ResponseModel: "client-visible",
	}
	assert.Equal(t, `{"model":"m","messages":[{"role":"user","content":"hi"}]}`, mustMarshal(t, req))

	temp := 0.5
	req.Temperature = &temp
	req.MaxTokens = ptr(16)
	req.Stream = true
	req.Stop = json.RawMessage(`["\n"]`)
	assert.Equal(t,
		`{"model":"m","messages":[{"role":"user","content":"hi"}],"max_tokens":16,"temperature":0.5,"stream":true,"stop":["\n"]}`,
		mustMarshal(t, req))
}

func TestAsString(t *testing.T) {
	s, ok := AsString(json.RawMessage(`"hello"`))
	require.True(t, ok)
	assert.Equal(t, "hello", s)

	_, ok = AsString(json.RawMessage(`["a"]`))
	assert.False(t, ok)
}

func TestAsStringSlice(t *testing.T) {
	ss, ok := AsStringSlice(json.RawMessage(`["a","b"]`))
	require.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, ss)

	_, ok = AsStringSlice(json.RawMessage(`"a"`))
	assert.False(t, ok)
}

func ptr(n int) *int {
	return &n
}
