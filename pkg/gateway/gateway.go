// Package gateway implements the request dispatcher: it authenticates,
// admits, routes and rewrites inference requests, invokes the selected
// backend adapter, and relays buffered or streaming responses with the
// gateway's rate-limit and backend headers attached.
package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/docker/model-gateway/pkg/auth"
	"github.com/docker/model-gateway/pkg/backends"
	"github.com/docker/model-gateway/pkg/logging"
	"github.com/docker/model-gateway/pkg/metrics"
	"github.com/docker/model-gateway/pkg/middleware"
	"github.com/docker/model-gateway/pkg/models"
	"github.com/docker/model-gateway/pkg/openai"
	"github.com/docker/model-gateway/pkg/ratelimit"
)

// Handler is the gateway's HTTP surface.
type Handler struct {
	log         logging.Logger
	cfg         *Config
	registry    *auth.Registry
	limiter     ratelimit.Limiter
	adapters    map[string]backends.Adapter
	catalog     *models.Catalog
	metrics     *metrics.Metrics
	router      *http.ServeMux
	httpHandler http.Handler
}

// NewHandler wires the dispatcher. The metrics argument may be nil to
// disable the /metrics endpoint and instrumentation.
func NewHandler(
	log logging.Logger,
	cfg *Config,
	registry *auth.Registry,
	limiter ratelimit.Limiter,
	adapters []backends.Adapter,
	catalog *models.Catalog,
	m *metrics.Metrics,
) *Handler {
	h := &Handler{
		log:      log,
		cfg:      cfg,
		registry: registry,
		limiter:  limiter,
		adapters: make(map[string]backends.Adapter, len(adapters)),
		catalog:  catalog,
		metrics:  m,
		router:   http.NewServeMux(),
	}
	for _, adapter := range adapters {
		h.adapters[adapter.Name()] = adapter
	}

	h.router.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		openai.WriteError(w, http.StatusNotFound, openai.ErrorDetail{
			Message: "Not Found",
			Type:    openai.ErrTypeInvalidRequest,
		})
	})
	for route, handler := range h.routeHandlers() {
		h.router.HandleFunc(route, handler)
	}
	if m != nil {
		h.router.Handle("GET /metrics", m.Handler())
	}

	wrapped := middleware.BodyLimit(cfg.MaxBodyBytes, h.router)
	wrapped = middleware.CorsMiddleware(cfg.AllowedOrigins, wrapped)
	wrapped = middleware.AccessLog(log.WithField("component", "access"), wrapped)
	h.httpHandler = middleware.RequestID(wrapped)

	return h
}

// ServeHTTP implements the http.Handler interface.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.httpHandler.ServeHTTP(w, r)
}

// routeHandlers returns the mapping of routes to their handlers.
func (h *Handler) routeHandlers() map[string]http.HandlerFunc {
	return map[string]http.HandlerFunc{
		"GET /healthz":              h.handleHealthz,
		"GET /v1/models":            h.handleListModels,
		"POST /v1/chat/completions": h.handleChatCompletions,
		"POST /v1/completions":      h.handleCompletions,
		"POST /v1/embeddings":       h.handleEmbeddings,
	}
}

func (h *Handler) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]bool{"ok": true})
}

// handleListModels serves the aggregated model list. It requires a valid
// token but does not consume rate-limit quota.
func (h *Handler) handleListModels(w http.ResponseWriter, r *http.Request) {
	token, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	if c := middleware.LogContextFromRequest(r); c != nil {
		c.Update(map[string]any{"token_label": token.Label})
	}

	list := openai.ModelList{Data: h.catalog.List(r.Context())}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(list)
}

// authenticate resolves the bearer token, writing the 401 envelope on
// failure.
func (h *Handler) authenticate(w http.ResponseWriter, r *http.Request) (auth.TokenConfig, bool) {
	token, err := h.registry.Authenticate(r)
	if err != nil {
		w.Header().Set("WWW-Authenticate", "Bearer")
		openai.WriteError(w, http.StatusUnauthorized, openai.ErrorDetail{
			Message: err.Error(),
			Type:    openai.ErrTypeAuthentication,
		})
		return auth.TokenConfig{}, false
	}
	return token, true
}
