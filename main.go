package main

import (
	"context"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/docker/model-gateway/pkg/auth"
	"github.com/docker/model-gateway/pkg/backends"
	"github.com/docker/model-gateway/pkg/backends/ollama"
	"github.com/docker/model-gateway/pkg/backends/vllm"
	"github.com/docker/model-gateway/pkg/gateway"
	"github.com/docker/model-gateway/pkg/logging"
	"github.com/docker/model-gateway/pkg/metrics"
	"github.com/docker/model-gateway/pkg/models"
	"github.com/docker/model-gateway/pkg/ratelimit"
)

var log = logrus.New()

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := gateway.FromEnv()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Invalid LOG_LEVEL: %v", err)
	}
	log.SetLevel(level)

	registry := auth.NewRegistry(cfg.Tokens)

	limiter, redisClient, err := newLimiter(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize rate limiter: %v", err)
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	httpClient := &http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}

	// Configuration order; the model aggregator lists backends in this
	// order too.
	var adapters []backends.Adapter
	if cfg.OllamaBaseURL != "" {
		adapters = append(adapters, ollama.NewAdapter(
			componentLogger("ollama"), cfg.OllamaBaseURL, httpClient, cfg.OllamaTimeout))
		log.Infof("Ollama backend enabled at %s", cfg.OllamaBaseURL)
	}
	if cfg.VLLMBaseURL != "" {
		adapters = append(adapters, vllm.NewAdapter(
			componentLogger("vllm"), cfg.VLLMBaseURL, httpClient, cfg.VLLMTimeout))
		log.Infof("vLLM backend enabled at %s", cfg.VLLMBaseURL)
	}

	sources := make([]models.Source, len(adapters))
	for i, adapter := range adapters {
		sources[i] = adapter
	}
	catalog := models.NewCatalog(componentLogger("models"), sources, cfg.ModelCacheTTL)

	var gatewayMetrics *metrics.Metrics
	if !cfg.DisableMetrics {
		gatewayMetrics = metrics.New()
		log.Info("Metrics endpoint enabled at /metrics")
	} else {
		log.Info("Metrics endpoint disabled")
	}

	handler := gateway.NewHandler(
		componentLogger("gateway"),
		cfg,
		registry,
		limiter,
		adapters,
		catalog,
		gatewayMetrics,
	)

	server := &http.Server{
		Addr:              net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serverErrors := make(chan error, 1)
	log.Infof("Listening on %s", server.Addr)
	go func() {
		serverErrors <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if err != nil {
			log.Errorf("Server error: %v", err)
		}
	case <-ctx.Done():
		log.Infoln("Shutdown signal received")
		log.Infoln("Shutting down the server")
		if err := server.Close(); err != nil {
			log.Errorf("Server shutdown error: %v", err)
		}
	}
}

// newLimiter selects the rate-limit store. The shared store is pinged before
// the gateway starts serving so that a misconfigured Redis fails startup
// instead of every admission.
func newLimiter(ctx context.Context, cfg *gateway.Config) (ratelimit.Limiter, *redis.Client, error) {
	if cfg.RateLimitStore != gateway.StoreShared {
		return ratelimit.NewMemoryLimiter(), nil, nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, nil, err
	}
	return ratelimit.NewRedisLimiter(client), client, nil
}

func componentLogger(component string) logging.Logger {
	return logging.NewLogrusAdapterFromEntry(log.WithField("component", component))
}
