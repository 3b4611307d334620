// Package pricing computes request cost from token counts and per-model
// prompt/completion rates, preferring live catalog data over the static
// fallback table.
package pricing

import (
	"log/slog"
	"strings"

	"github.com/nulpointcorp/llm-gateway/internal/catalog"
)

// Service looks up per-model rates and computes cost.
type Service struct {
	cache *catalog.Cache
	log   *slog.Logger
}

// New creates a pricing Service backed by the catalog cache. cache may be
// nil — lookups then fall straight through to the manual table.
func New(cache *catalog.Cache, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{cache: cache, log: log}
}

// Rates is a prompt/completion price pair, in USD per million tokens.
type Rates struct {
	Prompt     float64
	Completion float64
}

// Lookup returns the rates for model, preferring the catalog cache, then the
// manual fallback table keyed by provider/id prefix, then zero with a logged
// warning for entirely unknown models. Never returns a negative rate.
func (s *Service) Lookup(provider, model string) Rates {
	if s.cache != nil {
		if m, ok := s.cache.Lookup(provider, model); ok {
			return Rates{Prompt: clampNonNegative(m.PromptPrice), Completion: clampNonNegative(m.CompletionPrice)}
		}
	}

	if r, ok := manualTable[provider]; ok {
		return r
	}
	if r, ok := manualTableByPrefix(model); ok {
		return r
	}

	s.log.Warn("pricing: no rate found, defaulting to zero",
		slog.String("provider", provider), slog.String("model", model))
	return Rates{}
}

// Cost computes the USD cost of a request given its token counts. Never
// returns a negative value.
func (s *Service) Cost(provider, model string, promptTokens, completionTokens int) float64 {
	r := s.Lookup(provider, model)
	cost := (float64(promptTokens)*r.Prompt + float64(completionTokens)*r.Completion) / 1_000_000
	if cost < 0 {
		return 0
	}
	return cost
}

func clampNonNegative(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}

func manualTableByPrefix(model string) (Rates, bool) {
	for prefix, r := range manualPrefixTable {
		if strings.HasPrefix(model, prefix) {
			return r, true
		}
	}
	return Rates{}, false
}
