// Package auth resolves bearer tokens against the static token registry
// loaded from configuration.
package auth

import (
	"errors"
	"net/http"
	"strings"
)

// Authentication failures. The error text is returned verbatim in the error
// envelope.
var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid bearer token")
)

// TokenConfig describes one API token and its rate limits.
type TokenConfig struct {
	Token string `json:"token"`
	Label string `json:"label"`
	RPM   int    `json:"rpm"`
	RPD   int    `json:"rpd"`
}

// Registry resolves bearer tokens to their configuration.
type Registry struct {
	tokens map[string]TokenConfig
}

// NewRegistry indexes the configured tokens.
func NewRegistry(tokens []TokenConfig) *Registry {
	indexed := make(map[string]TokenConfig, len(tokens))
	for _, t := range tokens {
		indexed[t.Token] = t
	}
	return &Registry{tokens: indexed}
}

// Resolve looks up a raw token value.
func (r *Registry) Resolve(token string) (TokenConfig, bool) {
	t, ok := r.tokens[token]
	return t, ok
}

// Authenticate extracts the bearer token from the request and resolves it.
// It returns ErrMissingToken when no bearer credential is present and
// ErrInvalidToken when the credential is unknown.
func (r *Registry) Authenticate(req *http.Request) (TokenConfig, error) {
	raw, ok := BearerToken(req.Header.Get("Authorization"))
	if !ok {
		return TokenConfig{}, ErrMissingToken
	}
	t, ok := r.Resolve(raw)
	if !ok {
		return TokenConfig{}, ErrInvalidToken
	}
	return t, nil
}

// BearerToken extracts the token from an Authorization header value. The
// scheme match is case-insensitive and surrounding whitespace is trimmed.
func BearerToken(header string) (string, bool) {
	if header == "" {
		return "", false
	}
	if !strings.HasPrefix(strings.ToLower(header), "bearer ") {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	return strings.TrimSpace(parts[1]), true
}
