package gateway

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/pkg/errors"

	"github.com/docker/model-gateway/pkg/auth"
)

// Rate-limit store selectors.
const (
	StoreMemory = "memory"
	StoreShared = "shared"
)

// DefaultMaxBodyBytes bounds request bodies when MAX_BODY_BYTES is unset.
const DefaultMaxBodyBytes = 2 * 1024 * 1024

// Config is the gateway's startup configuration, read from the environment.
type Config struct {
	Host     string
	Port     int
	LogLevel string

	DefaultBackend string
	OllamaBaseURL  string
	VLLMBaseURL    string

	Tokens []auth.TokenConfig

	RateLimitStore string
	RedisURL       string

	MaxBodyBytes  int64
	ModelCacheTTL time.Duration

	OllamaTimeout time.Duration
	VLLMTimeout   time.Duration

	AllowedOrigins []string
	DisableMetrics bool
}

// FromEnv reads and validates the configuration. Any failure here aborts
// startup.
func FromEnv() (*Config, error) {
	cfg := &Config{
		Host:           envOr("HOST", "0.0.0.0"),
		LogLevel:       envOr("LOG_LEVEL", "info"),
		DefaultBackend: os.Getenv("DEFAULT_BACKEND"),
		OllamaBaseURL:  os.Getenv("OLLAMA_BASE_URL"),
		VLLMBaseURL:    os.Getenv("VLLM_BASE_URL"),
		RateLimitStore: envOr("RATE_LIMIT_STORE", StoreMemory),
		RedisURL:       os.Getenv("REDIS_URL"),
		MaxBodyBytes:   DefaultMaxBodyBytes,
		DisableMetrics: os.Getenv("DISABLE_METRICS") == "1",
	}

	var err error
	if cfg.Port, err = envInt("PORT", 8080); err != nil {
		return nil, err
	}

	if raw := os.Getenv("MAX_BODY_BYTES"); raw != "" {
		size, err := units.RAMInBytes(raw)
		if err != nil {
			return nil, errors.Wrap(err, "invalid MAX_BODY_BYTES")
		}
		if size <= 0 {
			return nil, fmt.Errorf("MAX_BODY_BYTES must be positive")
		}
		cfg.MaxBodyBytes = size
	}

	ttl, err := envInt("MODEL_CACHE_TTL", 300)
	if err != nil {
		return nil, err
	}
	cfg.ModelCacheTTL = time.Duration(ttl) * time.Second

	ollamaTimeout, err := envInt("OLLAMA_TIMEOUT", 60)
	if err != nil {
		return nil, err
	}
	cfg.OllamaTimeout = time.Duration(ollamaTimeout) * time.Second

	vllmTimeout, err := envInt("VLLM_TIMEOUT", 30)
	if err != nil {
		return nil, err
	}
	cfg.VLLMTimeout = time.Duration(vllmTimeout) * time.Second

	if raw := os.Getenv("TOKENS_JSON"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &cfg.Tokens); err != nil {
			return nil, errors.Wrap(err, "invalid TOKENS_JSON")
		}
	}

	if raw := os.Getenv("ALLOWED_ORIGINS"); raw != "" {
		for _, origin := range strings.Split(raw, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, origin)
			}
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.DefaultBackend {
	case "ollama":
		if c.OllamaBaseURL == "" {
			return fmt.Errorf("DEFAULT_BACKEND set to ollama but OLLAMA_BASE_URL missing")
		}
	case "vllm":
		if c.VLLMBaseURL == "" {
			return fmt.Errorf("DEFAULT_BACKEND set to vllm but VLLM_BASE_URL missing")
		}
	case "":
		return fmt.Errorf("DEFAULT_BACKEND must be set")
	default:
		return fmt.Errorf("DEFAULT_BACKEND must be ollama or vllm, got %q", c.DefaultBackend)
	}

	if len(c.Tokens) == 0 {
		return fmt.Errorf("TOKENS_JSON must provide at least one token")
	}
	for i, t := range c.Tokens {
		if t.Token == "" || t.Label == "" {
			return fmt.Errorf("TOKENS_JSON entry %d is missing token or label", i)
		}
		if t.RPM <= 0 || t.RPD <= 0 {
			return fmt.Errorf("TOKENS_JSON entry %q must have positive rpm and rpd", t.Label)
		}
	}

	switch c.RateLimitStore {
	case StoreMemory:
	case StoreShared:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL must be configured for the shared rate-limit store")
		}
	default:
		return fmt.Errorf("RATE_LIMIT_STORE must be memory or shared, got %q", c.RateLimitStore)
	}
	return nil
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid %s", key)
	}
	if value <= 0 {
		return 0, fmt.Errorf("%s must be positive", key)
	}
	return value, nil
}
