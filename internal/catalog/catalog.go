// Package catalog maintains the normalized, per-gateway model catalog and
// resolves which provider should serve a given model id.
//
// Each gateway (e.g. "openrouter", "groq") owns one cache entry holding the
// models it currently advertises. Entries are refreshed on a TTL, with a
// single in-flight refresh per gateway guaranteed by golang.org/x/sync/singleflight —
// the same dependency the teacher already pulls in for its errgroup-based
// app shutdown, here put to its other canonical use.
package catalog

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// AllGateway is the pseudo-gateway name that aggregates every populated
// gateway's models, deduplicated by (source_gateway, id).
const AllGateway = "all"

// Model is a single normalized catalog entry.
type Model struct {
	ID              string  `json:"id"`
	SourceGateway   string  `json:"source_gateway"`
	DisplayName     string  `json:"display_name,omitempty"`
	ContextLength   int     `json:"context_length,omitempty"`
	PromptPrice     float64 `json:"prompt_price_per_million"`
	CompletionPrice float64 `json:"completion_price_per_million"`
}

// Fetcher retrieves the current model list for a gateway from its upstream
// source (a provider's /models endpoint, a static manifest, etc).
type Fetcher interface {
	FetchCatalog(ctx context.Context, gateway string) ([]Model, error)
}

// FetcherFunc adapts a plain function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, gateway string) ([]Model, error)

func (f FetcherFunc) FetchCatalog(ctx context.Context, gateway string) ([]Model, error) {
	return f(ctx, gateway)
}

type entry struct {
	models    []Model
	fetchedAt time.Time
	ttl       time.Duration
}

func (e *entry) stale(refreshFraction float64) bool {
	if e.fetchedAt.IsZero() {
		return true
	}
	age := time.Since(e.fetchedAt)
	threshold := time.Duration(float64(e.ttl) * refreshFraction)
	return age >= threshold
}

func (e *entry) expired() bool {
	return e.fetchedAt.IsZero() || time.Since(e.fetchedAt) >= e.ttl
}

// Cache holds the per-gateway catalog entries.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*entry

	fetcher Fetcher
	group   singleflight.Group

	ttl             time.Duration
	refreshFraction float64
}

// New creates a Cache backed by fetcher, with the given default TTL and
// refresh fraction (e.g. 0.8 triggers a background refresh at 80% of TTL).
func New(fetcher Fetcher, ttl time.Duration, refreshFraction float64) *Cache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if refreshFraction <= 0 || refreshFraction > 1 {
		refreshFraction = 0.8
	}
	return &Cache{
		entries:         make(map[string]*entry),
		fetcher:         fetcher,
		ttl:             ttl,
		refreshFraction: refreshFraction,
	}
}

// Get returns the gateway's current model list. A cold or fully expired
// entry is fetched synchronously; an entry past the refresh fraction is
// served stale while a background refresh is kicked off.
func (c *Cache) Get(ctx context.Context, gateway string) ([]Model, error) {
	if gateway == AllGateway {
		return c.Aggregate(ctx)
	}

	c.mu.RLock()
	e, ok := c.entries[gateway]
	c.mu.RUnlock()

	if !ok || e.expired() {
		return c.refresh(ctx, gateway)
	}
	if e.stale(c.refreshFraction) {
		go func() {
			// Detached refresh: intentionally not tied to the caller's ctx
			// lifetime, so a client disconnect doesn't cancel the revalidation.
			_, _ = c.refresh(context.Background(), gateway)
		}()
	}
	return e.models, nil
}

// Refresh forces an immediate (deduplicated) refresh of gateway's catalog.
func (c *Cache) Refresh(ctx context.Context, gateway string) ([]Model, error) {
	return c.refresh(ctx, gateway)
}

func (c *Cache) refresh(ctx context.Context, gateway string) ([]Model, error) {
	v, err, _ := c.group.Do(gateway, func() (any, error) {
		models, err := c.fetcher.FetchCatalog(ctx, gateway)
		if err != nil {
			return nil, fmt.Errorf("catalog: fetch %s: %w", gateway, err)
		}
		normalized := normalize(gateway, models)

		c.mu.Lock()
		c.entries[gateway] = &entry{models: normalized, fetchedAt: time.Now(), ttl: c.ttl}
		c.mu.Unlock()

		return normalized, nil
	})
	if err != nil {
		// Serve stale data over a hard failure when we have any.
		c.mu.RLock()
		e, ok := c.entries[gateway]
		c.mu.RUnlock()
		if ok {
			return e.models, nil
		}
		return nil, err
	}
	return v.([]Model), nil
}

// normalize sanitizes pricing sentinels (negative or -1 → 0) and stamps
// source_gateway on every record so aggregation can dedupe correctly. The id
// is expected to contain a "/" (provider/model); records that don't are left
// as-is — callers decide whether to reject or namespace them.
func normalize(gateway string, in []Model) []Model {
	out := make([]Model, len(in))
	for i, m := range in {
		m.SourceGateway = gateway
		if m.PromptPrice < 0 {
			m.PromptPrice = 0
		}
		if m.CompletionPrice < 0 {
			m.CompletionPrice = 0
		}
		out[i] = m
	}
	return out
}

// Aggregate builds the "all" pseudo-gateway: every populated gateway's
// models concatenated and deduplicated on (source_gateway, id), keeping the
// first occurrence. Gateways with no cached entry yet are skipped rather
// than triggering N synchronous fetches.
func (c *Cache) Aggregate(_ context.Context) ([]Model, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	seen := make(map[[2]string]struct{})
	var out []Model

	gateways := make([]string, 0, len(c.entries))
	for g := range c.entries {
		gateways = append(gateways, g)
	}
	sort.Strings(gateways) // deterministic aggregation order

	for _, g := range gateways {
		for _, m := range c.entries[g].models {
			key := [2]string{m.SourceGateway, m.ID}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, m)
		}
	}
	return out, nil
}

// Clear drops the cached entry for a single gateway.
func (c *Cache) Clear(gateway string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, gateway)
}

// ClearAll drops every cached entry.
func (c *Cache) ClearAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry)
}

// Lookup finds a single model record by (gateway, id) from whatever is
// currently cached, without triggering a fetch. Used by the pricing service
// and the model transformer's cache-assisted resolution step.
func (c *Cache) Lookup(gateway, id string) (Model, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if gateway != "" && gateway != AllGateway {
		e, ok := c.entries[gateway]
		if !ok {
			return Model{}, false
		}
		for _, m := range e.models {
			if m.ID == id {
				return m, true
			}
		}
		return Model{}, false
	}

	for _, e := range c.entries {
		for _, m := range e.models {
			if m.ID == id {
				return m, true
			}
		}
	}
	return Model{}, false
}
