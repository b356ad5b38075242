// Package models aggregates the model lists of all enabled backends behind
// a TTL cache.
package models

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/docker/model-gateway/pkg/logging"
)

// Source lists the models of one backend.
type Source interface {
	Name() string
	ListModels(ctx context.Context) ([]map[string]any, error)
}

// Catalog caches the aggregated model list. Entries appear grouped by
// backend in configuration order, each id namespaced as "<backend>:<id>"
// unless the backend already namespaced it. A refresh replaces the whole
// cache with the entries of the currently reachable backends; a backend that
// fails to answer simply drops out until a later refresh sees it healthy.
type Catalog struct {
	log     logging.Logger
	sources []Source
	ttl     time.Duration
	now     func() time.Time

	mu      sync.Mutex
	cached  []map[string]any
	expires time.Time

	group singleflight.Group
}

// NewCatalog creates a catalog over the given backends.
func NewCatalog(log logging.Logger, sources []Source, ttl time.Duration) *Catalog {
	return &Catalog{
		log:     log,
		sources: sources,
		ttl:     ttl,
		now:     time.Now,
	}
}

// List returns the cached aggregate, refreshing it first when the TTL has
// lapsed. Concurrent refreshes are coalesced into one.
func (c *Catalog) List(ctx context.Context) []map[string]any {
	c.mu.Lock()
	if c.cached != nil && c.now().Before(c.expires) {
		models := c.cached
		c.mu.Unlock()
		return models
	}
	c.mu.Unlock()

	// The refresh outlives any single caller; backend timeouts still bound
	// it.
	refreshCtx := context.WithoutCancel(ctx)
	result, _, _ := c.group.Do("refresh", func() (any, error) {
		models := c.refresh(refreshCtx)
		c.mu.Lock()
		c.cached = models
		c.expires = c.now().Add(c.ttl)
		c.mu.Unlock()
		return models, nil
	})
	return result.([]map[string]any)
}

func (c *Catalog) refresh(ctx context.Context) []map[string]any {
	results := make([][]map[string]any, len(c.sources))
	var g errgroup.Group
	for i, source := range c.sources {
		g.Go(func() error {
			entries, err := source.ListModels(ctx)
			if err != nil {
				c.log.WithError(err).Warnf("skipping %s models", source.Name())
				return nil
			}
			results[i] = entries
			return nil
		})
	}
	_ = g.Wait()

	models := make([]map[string]any, 0)
	for i, source := range c.sources {
		prefix := source.Name() + ":"
		for _, entry := range results[i] {
			id, _ := entry["id"].(string)
			if id == "" {
				continue
			}
			if !strings.HasPrefix(id, prefix) {
				namespaced := make(map[string]any, len(entry))
				for k, v := range entry {
					namespaced[k] = v
				}
				namespaced["id"] = prefix + id
				entry = namespaced
			}
			models = append(models, entry)
		}
	}
	return models
}
