package catalog

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func staticFetcher(calls *int64, data map[string][]Model) Fetcher {
	return FetcherFunc(func(_ context.Context, gateway string) ([]Model, error) {
		atomic.AddInt64(calls, 1)
		return data[gateway], nil
	})
}

func TestCacheGetFetchesOnColdMiss(t *testing.T) {
	var calls int64
	c := New(staticFetcher(&calls, map[string][]Model{
		"groq": {{ID: "meta/llama-3", PromptPrice: 1}},
	}), time.Minute, 0.8)

	models, err := c.Get(context.Background(), "groq")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(models) != 1 || models[0].SourceGateway != "groq" {
		t.Fatalf("unexpected models: %+v", models)
	}
	if atomic.LoadInt64(&calls) != 1 {
		t.Fatalf("expected 1 fetch, got %d", calls)
	}
}

func TestCacheNormalizesNegativePricing(t *testing.T) {
	var calls int64
	c := New(staticFetcher(&calls, map[string][]Model{
		"groq": {{ID: "m1", PromptPrice: -1, CompletionPrice: -5}},
	}), time.Minute, 0.8)

	models, err := c.Get(context.Background(), "groq")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if models[0].PromptPrice != 0 || models[0].CompletionPrice != 0 {
		t.Fatalf("expected sanitized pricing, got %+v", models[0])
	}
}

func TestAggregateDedupesBySourceAndID(t *testing.T) {
	var calls int64
	c := New(staticFetcher(&calls, map[string][]Model{
		"groq":       {{ID: "shared-model"}, {ID: "groq-only"}},
		"openrouter": {{ID: "shared-model"}},
	}), time.Minute, 0.8)

	if _, err := c.Get(context.Background(), "groq"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Get(context.Background(), "openrouter"); err != nil {
		t.Fatal(err)
	}

	all, err := c.Aggregate(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 deduped records, got %d: %+v", len(all), all)
	}
}

func TestResolveProviderExplicitWins(t *testing.T) {
	c := New(staticFetcher(new(int64), nil), time.Minute, 0.8)
	p, id := c.ResolveProvider("gpt-4o", "azure", nil)
	if p != "azure" || id != "gpt-4o" {
		t.Fatalf("got %s/%s", p, id)
	}
}

func TestResolveProviderPrefixSyntax(t *testing.T) {
	c := New(staticFetcher(new(int64), nil), time.Minute, 0.8)
	p, id := c.ResolveProvider("@groq/llama-3.3-70b-versatile", "", nil)
	if p != "groq" || id != "llama-3.3-70b-versatile" {
		t.Fatalf("got %s/%s", p, id)
	}
}

func TestResolveProviderAliasTable(t *testing.T) {
	c := New(staticFetcher(new(int64), nil), time.Minute, 0.8)
	aliases := map[string]string{"gpt-4o": "openai"}
	p, _ := c.ResolveProvider("gpt-4o", "", aliases)
	if p != "openai" {
		t.Fatalf("got %s", p)
	}
}

func TestResolveProviderCacheAssisted(t *testing.T) {
	var calls int64
	c := New(staticFetcher(&calls, map[string][]Model{
		"fireworks": {{ID: "custom/unlisted-model"}},
	}), time.Minute, 0.8)
	if _, err := c.Get(context.Background(), "fireworks"); err != nil {
		t.Fatal(err)
	}

	p, _ := c.ResolveProvider("custom/unlisted-model", "", nil)
	if p != "fireworks" {
		t.Fatalf("got %s", p)
	}
}

func TestResolveProviderFallsBackToOpenRouter(t *testing.T) {
	c := New(staticFetcher(new(int64), nil), time.Minute, 0.8)
	p, _ := c.ResolveProvider("totally-unknown-model", "", nil)
	if p != "openrouter" {
		t.Fatalf("got %s", p)
	}
}

func TestResolveProviderIsIdempotent(t *testing.T) {
	c := New(staticFetcher(new(int64), nil), time.Minute, 0.8)
	aliases := map[string]string{"meta-llama/": "together"}
	p1, id1 := c.ResolveProvider("meta-llama/Llama-3.3-70B-Instruct-Turbo", "", aliases)
	p2, id2 := c.ResolveProvider(id1, "", aliases)
	if p1 != p2 || id1 != id2 {
		t.Fatalf("resolution not idempotent: (%s,%s) vs (%s,%s)", p1, id1, p2, id2)
	}
}

func TestClearAndClearAll(t *testing.T) {
	var calls int64
	c := New(staticFetcher(&calls, map[string][]Model{"groq": {{ID: "m"}}}), time.Minute, 0.8)
	if _, err := c.Get(context.Background(), "groq"); err != nil {
		t.Fatal(err)
	}
	c.Clear("groq")
	if _, ok := c.Lookup("groq", "m"); ok {
		t.Fatal("expected cleared entry to miss lookup")
	}

	if _, err := c.Get(context.Background(), "groq"); err != nil {
		t.Fatal(err)
	}
	c.ClearAll()
	if _, ok := c.Lookup("groq", "m"); ok {
		t.Fatal("expected ClearAll to drop every entry")
	}
}
