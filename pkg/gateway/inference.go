package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/docker/model-gateway/pkg/auth"
	"github.com/docker/model-gateway/pkg/backends"
	"github.com/docker/model-gateway/pkg/middleware"
	"github.com/docker/model-gateway/pkg/openai"
	"github.com/docker/model-gateway/pkg/ratelimit"
)

// resolveBackend splits an optional backend prefix off the client-supplied
// model string. Models without a known prefix route to the default backend.
func (h *Handler) resolveBackend(model string) (string, string) {
	if backendModel, ok := strings.CutPrefix(model, "ollama:"); ok {
		return "ollama", backendModel
	}
	if backendModel, ok := strings.CutPrefix(model, "vllm:"); ok {
		return "vllm", backendModel
	}
	return h.cfg.DefaultBackend, model
}

// checkDeclaredBodySize rejects requests whose declared Content-Length
// exceeds the configured bound. Bodies without the header are bounded at
// read time by the body-limit middleware instead.
func (h *Handler) checkDeclaredBodySize(w http.ResponseWriter, r *http.Request) bool {
	if r.ContentLength > h.cfg.MaxBodyBytes {
		openai.WriteError(w, http.StatusRequestEntityTooLarge, openai.ErrorDetail{
			Message: "request body too large",
			Type:    openai.ErrTypeInvalidRequest,
		})
		return false
	}
	return true
}

// decodeBody decodes the request body into out, mapping read-bound overruns
// to 413 and malformed JSON to 400.
func (h *Handler) decodeBody(w http.ResponseWriter, r *http.Request, out any) bool {
	err := json.NewDecoder(r.Body).Decode(out)
	if err == nil {
		return true
	}
	var maxBytesError *http.MaxBytesError
	if errors.As(err, &maxBytesError) {
		openai.WriteError(w, http.StatusRequestEntityTooLarge, openai.ErrorDetail{
			Message: "request body too large",
			Type:    openai.ErrTypeInvalidRequest,
		})
		return false
	}
	openai.WriteError(w, http.StatusBadRequest, openai.ErrorDetail{
		Message: "invalid request body",
		Type:    openai.ErrTypeInvalidRequest,
	})
	return false
}

func writeValidationError(w http.ResponseWriter, message string) {
	openai.WriteError(w, http.StatusUnprocessableEntity, openai.ErrorDetail{
		Message: message,
		Type:    openai.ErrTypeInvalidRequest,
	})
}

// admit consumes one unit from both of the token's windows. On failure it
// writes the error envelope and returns the status it wrote; an admitted
// request returns status 0.
func (h *Handler) admit(w http.ResponseWriter, r *http.Request, token auth.TokenConfig) (ratelimit.Snapshot, int) {
	snapshot, err := h.limiter.ConsumeOrDeny(r.Context(), token.Token, token.RPM, token.RPD)
	if err != nil {
		var denied *ratelimit.DeniedError
		if errors.As(err, &denied) {
			if h.metrics != nil {
				h.metrics.ObserveRateLimitDenial(token.Label, denied.Window)
			}
			openai.WriteError(w, http.StatusTooManyRequests, openai.ErrorDetail{
				Message: denied.Message,
				Type:    openai.ErrTypeRateLimit,
			})
			return ratelimit.Snapshot{}, http.StatusTooManyRequests
		}
		h.log.WithError(err).Error("rate limiter failed")
		openai.WriteError(w, http.StatusInternalServerError, openai.ErrorDetail{
			Message: "rate limiter unavailable",
			Type:    openai.ErrTypeBackend,
		})
		return ratelimit.Snapshot{}, http.StatusInternalServerError
	}
	return snapshot, 0
}

func setRateHeaders(w http.ResponseWriter, snapshot ratelimit.Snapshot) {
	w.Header().Set("X-RateLimit-Limit-Minute", strconv.Itoa(snapshot.LimitMinute))
	w.Header().Set("X-RateLimit-Remaining-Minute", strconv.Itoa(snapshot.RemainingMinute))
	w.Header().Set("X-RateLimit-Limit-Day", strconv.Itoa(snapshot.LimitDay))
	w.Header().Set("X-RateLimit-Remaining-Day", strconv.Itoa(snapshot.RemainingDay))
}

// selectAdapter resolves the backend name to an enabled adapter. A model
// prefix naming a disabled backend is a configuration problem, not a client
// one, hence 500.
func (h *Handler) selectAdapter(w http.ResponseWriter, name string) (backends.Adapter, bool) {
	adapter, ok := h.adapters[name]
	if !ok {
		openai.WriteError(w, http.StatusInternalServerError, openai.ErrorDetail{
			Message: "backend not available",
			Type:    openai.ErrTypeBackend,
		})
		return nil, false
	}
	return adapter, true
}

func writeBackendError(w http.ResponseWriter, err error) {
	openai.WriteError(w, http.StatusBadGateway, openai.ErrorDetail{
		Message: err.Error(),
		Type:    openai.ErrTypeBackend,
		Code:    http.StatusBadGateway,
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, body json.RawMessage) int {
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(body); err != nil {
		h.log.WithError(err).Debug("client went away before the response was written")
	}
	return http.StatusOK
}

// relayStream copies translated SSE bytes to the client, flushing per
// write. A read failure after the 200 status line truncates the stream
// without a [DONE] event; the access log records it as a 500.
func (h *Handler) relayStream(w http.ResponseWriter, r *http.Request, stream io.ReadCloser) int {
	defer stream.Close()
	if h.metrics != nil {
		done := h.metrics.StreamStarted()
		defer done()
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)

	buf := make([]byte, 32*1024)
	for {
		n, err := stream.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return http.StatusOK
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err == io.EOF {
			return http.StatusOK
		}
		if err != nil {
			h.log.WithError(err).Warn("stream truncated")
			if c := middleware.LogContextFromRequest(r); c != nil {
				c.OverrideStatus(http.StatusInternalServerError)
			}
			return http.StatusInternalServerError
		}
	}
}

func (h *Handler) observe(endpoint, backend string, status int, start time.Time) {
	if h.metrics != nil {
		h.metrics.ObserveRequest(endpoint, backend, status, time.Since(start))
	}
}

func enrichLog(r *http.Request, token auth.TokenConfig, model, backend string, stream bool, promptChars int) {
	if c := middleware.LogContextFromRequest(r); c != nil {
		c.Update(map[string]any{
			"token_label":  token.Label,
			"model":        model,
			"backend":      backend,
			"stream":       stream,
			"prompt_chars": promptChars,
		})
	}
}

func (h *Handler) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	token, ok := h.authenticate(w, r)
	if !ok {
		h.observe("chat_completions", "", http.StatusUnauthorized, start)
		return
	}
	if !h.checkDeclaredBodySize(w, r) {
		h.observe("chat_completions", "", http.StatusRequestEntityTooLarge, start)
		return
	}
	var req openai.ChatCompletionRequest
	if !h.decodeBody(w, r, &req) {
		h.observe("chat_completions", "", http.StatusBadRequest, start)
		return
	}
	if req.Model == "" {
		writeValidationError(w, "model is required")
		h.observe("chat_completions", "", http.StatusUnprocessableEntity, start)
		return
	}
	if len(req.Messages) == 0 {
		writeValidationError(w, "messages must not be empty")
		h.observe("chat_completions", "", http.StatusUnprocessableEntity, start)
		return
	}
	for i, message := range req.Messages {
		if message.Role == "" {
			writeValidationError(w, fmt.Sprintf("messages[%d] is missing a role", i))
			h.observe("chat_completions", "", http.StatusUnprocessableEntity, start)
			return
		}
		if message.Content == nil {
			writeValidationError(w, fmt.Sprintf("messages[%d] is missing content", i))
			h.observe("chat_completions", "", http.StatusUnprocessableEntity, start)
			return
		}
	}

	snapshot, errStatus := h.admit(w, r, token)
	if errStatus != 0 {
		h.observe("chat_completions", "", errStatus, start)
		return
	}
	setRateHeaders(w, snapshot)

	backendName, backendModel := h.resolveBackend(req.Model)
	promptChars := 0
	for _, message := range req.Messages {
		promptChars += len(*message.Content)
	}
	enrichLog(r, token, req.Model, backendName, req.Stream, promptChars)

	adapter, ok := h.selectAdapter(w, backendName)
	if !ok {
		h.observe("chat_completions", backendName, http.StatusInternalServerError, start)
		return
	}
	w.Header().Set("X-Proxy-Backend", backendName)

	req.ResponseModel = req.Model
	req.Model = backendModel

	if req.Stream {
		stream, err := adapter.StreamChatCompletions(r.Context(), &req)
		if err != nil {
			writeBackendError(w, err)
			h.observe("chat_completions", backendName, http.StatusBadGateway, start)
			return
		}
		status := h.relayStream(w, r, stream)
		h.observe("chat_completions", backendName, status, start)
		return
	}

	body, err := adapter.ChatCompletions(r.Context(), &req)
	if err != nil {
		writeBackendError(w, err)
		h.observe("chat_completions", backendName, http.StatusBadGateway, start)
		return
	}
	h.observe("chat_completions", backendName, h.writeJSON(w, body), start)
}

func (h *Handler) handleCompletions(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	token, ok := h.authenticate(w, r)
	if !ok {
		h.observe("completions", "", http.StatusUnauthorized, start)
		return
	}
	if !h.checkDeclaredBodySize(w, r) {
		h.observe("completions", "", http.StatusRequestEntityTooLarge, start)
		return
	}
	var req openai.CompletionRequest
	if !h.decodeBody(w, r, &req) {
		h.observe("completions", "", http.StatusBadRequest, start)
		return
	}
	if req.Model == "" {
		writeValidationError(w, "model is required")
		h.observe("completions", "", http.StatusUnprocessableEntity, start)
		return
	}
	prompt, isString := openai.AsString(req.Prompt)
	prompts, isSlice := openai.AsStringSlice(req.Prompt)
	if !isString && !isSlice {
		writeValidationError(w, "prompt must be a string or an array of strings")
		h.observe("completions", "", http.StatusUnprocessableEntity, start)
		return
	}

	snapshot, errStatus := h.admit(w, r, token)
	if errStatus != 0 {
		h.observe("completions", "", errStatus, start)
		return
	}
	setRateHeaders(w, snapshot)

	backendName, backendModel := h.resolveBackend(req.Model)
	promptChars := len(prompt)
	for _, p := range prompts {
		promptChars += len(p)
	}
	enrichLog(r, token, req.Model, backendName, req.Stream, promptChars)

	// Ollama's generate endpoint takes a single prompt; batching arrays is
	// not supported there, so those requests fail up front instead of
	// silently dropping prompts.
	if isSlice && backendName == "ollama" {
		openai.WriteError(w, http.StatusBadRequest, openai.ErrorDetail{
			Message: "prompt arrays are not supported by the ollama backend",
			Type:    openai.ErrTypeInvalidRequest,
		})
		h.observe("completions", backendName, http.StatusBadRequest, start)
		return
	}

	adapter, ok := h.selectAdapter(w, backendName)
	if !ok {
		h.observe("completions", backendName, http.StatusInternalServerError, start)
		return
	}
	w.Header().Set("X-Proxy-Backend", backendName)

	req.ResponseModel = req.Model
	req.Model = backendModel

	if req.Stream {
		stream, err := adapter.StreamCompletions(r.Context(), &req)
		if err != nil {
			writeBackendError(w, err)
			h.observe("completions", backendName, http.StatusBadGateway, start)
			return
		}
		status := h.relayStream(w, r, stream)
		h.observe("completions", backendName, status, start)
		return
	}

	body, err := adapter.Completions(r.Context(), &req)
	if err != nil {
		writeBackendError(w, err)
		h.observe("completions", backendName, http.StatusBadGateway, start)
		return
	}
	h.observe("completions", backendName, h.writeJSON(w, body), start)
}

func (h *Handler) handleEmbeddings(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	token, ok := h.authenticate(w, r)
	if !ok {
		h.observe("embeddings", "", http.StatusUnauthorized, start)
		return
	}
	if !h.checkDeclaredBodySize(w, r) {
		h.observe("embeddings", "", http.StatusRequestEntityTooLarge, start)
		return
	}
	var req openai.EmbeddingRequest
	if !h.decodeBody(w, r, &req) {
		h.observe("embeddings", "", http.StatusBadRequest, start)
		return
	}
	if req.Model == "" {
		writeValidationError(w, "model is required")
		h.observe("embeddings", "", http.StatusUnprocessableEntity, start)
		return
	}
	input, isString := openai.AsString(req.Input)
	inputs, isSlice := openai.AsStringSlice(req.Input)
	if !isString && !isSlice {
		writeValidationError(w, "input must be a string or an array of strings")
		h.observe("embeddings", "", http.StatusUnprocessableEntity, start)
		return
	}

	snapshot, errStatus := h.admit(w, r, token)
	if errStatus != 0 {
		h.observe("embeddings", "", errStatus, start)
		return
	}
	setRateHeaders(w, snapshot)

	backendName, backendModel := h.resolveBackend(req.Model)
	promptChars := len(input)
	for _, in := range inputs {
		promptChars += len(in)
	}
	enrichLog(r, token, req.Model, backendName, false, promptChars)

	adapter, ok := h.selectAdapter(w, backendName)
	if !ok {
		h.observe("embeddings", backendName, http.StatusInternalServerError, start)
		return
	}
	w.Header().Set("X-Proxy-Backend", backendName)

	req.ResponseModel = req.Model
	req.Model = backendModel

	body, err := adapter.Embeddings(r.Context(), &req)
	if err != nil {
		writeBackendError(w, err)
		h.observe("embeddings", backendName, http.StatusBadGateway, start)
		return
	}
	h.observe("embeddings", backendName, h.writeJSON(w, body), start)
}
