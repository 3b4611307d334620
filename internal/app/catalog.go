package app

import (
	"context"
	"sort"

	"github.com/nulpointcorp/llm-gateway/internal/catalog"
	"github.com/nulpointcorp/llm-gateway/internal/pricing"
	"github.com/nulpointcorp/llm-gateway/internal/providers"
)

// aliasesByGateway builds the inverse of providers.ModelAliases: for each
// gateway, every model ID known to route to it.
func aliasesByGateway(aliases map[string]string) map[string][]string {
	byGateway := make(map[string][]string)
	for model, gw := range aliases {
		byGateway[gw] = append(byGateway[gw], model)
	}
	for gw := range byGateway {
		sort.Strings(byGateway[gw])
	}
	return byGateway
}

// staticCatalogFetcher seeds the catalog cache from the compiled-in alias
// tables rather than a live per-provider model-listing call (none of the
// wired provider clients expose one) — it gives ResolveProvider's
// cache-assisted step and the "all" aggregate view real content from startup,
// priced from the same manual table pricing.Service falls back to.
func staticCatalogFetcher() catalog.FetcherFunc {
	chatByGateway := aliasesByGateway(providers.ModelAliases)
	embedByGateway := aliasesByGateway(providers.EmbeddingModelAliases)

	return func(_ context.Context, gateway string) ([]catalog.Model, error) {
		seen := make(map[string]struct{})
		var models []catalog.Model

		rate, _ := pricing.ManualRate(gateway)
		add := func(id string) {
			if _, ok := seen[id]; ok {
				return
			}
			seen[id] = struct{}{}
			models = append(models, catalog.Model{
				ID:              id,
				DisplayName:     id,
				PromptPrice:     rate.Prompt,
				CompletionPrice: rate.Completion,
			})
		}
		for _, id := range chatByGateway[gateway] {
			add(id)
		}
		for _, id := range embedByGateway[gateway] {
			add(id)
		}
		return models, nil
	}
}
