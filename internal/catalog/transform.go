package catalog

import "strings"

// ResolveProvider determines which provider should serve model, following
// (in order):
//
//  1. explicit — an out-of-band provider selection (e.g. a "gateway" request
//     field or query parameter) always wins when non-empty; the name is not
//     checked against the set of known providers.
//  2. an "@provider/rest-of-id" prefix embedded in the model string itself.
//  3. aliases — a static table: an exact key match first, then the longest
//     key ending in "/" that prefixes model. Substring matches are not
//     recognized (a model id that merely contains a family name such as
//     "qwen" does not match).
//  4. cache-assisted — a hit in the catalog cache's currently known models.
//  5. fallback — "openrouter", which aggregates enough upstream coverage to
//     have a fair shot at any model id a client might send.
//
// It returns the provider name and the upstream model id to send (with any
// "@provider/" prefix stripped; every other step returns model unchanged).
func (c *Cache) ResolveProvider(model, explicit string, aliases map[string]string) (provider, upstreamID string) {
	upstreamID = model

	if explicit != "" {
		return explicit, upstreamID
	}

	if p, rest, ok := splitProviderPrefix(model); ok {
		return p, rest
	}

	if p, ok := aliases[model]; ok {
		return p, upstreamID
	}

	if p := matchByPrefix(model, aliases); p != "" {
		return p, upstreamID
	}

	if c != nil {
		if m, ok := c.Lookup(AllGateway, model); ok {
			return m.SourceGateway, upstreamID
		}
	}

	return "openrouter", upstreamID
}

// splitProviderPrefix recognizes the explicit "@provider/model" routing
// convention, e.g. "@groq/llama-3.3-70b-versatile".
func splitProviderPrefix(model string) (provider, rest string, ok bool) {
	if !strings.HasPrefix(model, "@") {
		return "", "", false
	}
	trimmed := model[1:]
	idx := strings.IndexByte(trimmed, '/')
	if idx <= 0 || idx == len(trimmed)-1 {
		return "", "", false
	}
	return trimmed[:idx], trimmed[idx+1:], true
}

// matchByPrefix checks model against alias keys that are themselves
// namespace prefixes (e.g. "meta-llama/" → "together"), for catalogs where
// exact aliasing every model id isn't practical.
func matchByPrefix(model string, aliases map[string]string) string {
	longestPrefix := ""
	provider := ""
	for key, p := range aliases {
		if strings.HasSuffix(key, "/") && strings.HasPrefix(model, key) {
			if len(key) > len(longestPrefix) {
				longestPrefix = key
				provider = p
			}
		}
	}
	return provider
}
