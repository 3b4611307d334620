package proxy

import (
	"context"
	"testing"
	"time"

	"github.com/nulpointcorp/llm-gateway/internal/catalog"
)

func TestResolveProvider_KnownModels(t *testing.T) {
	tests := []struct {
		model    string
		expected string
	}{
		// OpenAI
		{"gpt-4", "openai"},
		{"gpt-4o", "openai"},
		{"gpt-4-turbo", "openai"},
		{"gpt-3.5-turbo", "openai"},
		// Anthropic
		{"claude-3-5-sonnet", "anthropic"},
		{"claude-3-opus", "anthropic"},
		{"claude-3-haiku", "anthropic"},
		// Google
		{"gemini-pro", "gemini"},
		{"gemini-1.5-pro", "gemini"},
		{"gemini-1.5-flash", "gemini"},
		// Mistral
		{"mistral-large", "mistral"},
		{"mistral-medium", "mistral"},
		{"mixtral-8x7b", "mistral"},
	}

	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			got := resolveProvider(tt.model)
			if got != tt.expected {
				t.Errorf("resolveProvider(%q) = %q, want %q", tt.model, got, tt.expected)
			}
		})
	}
}

func TestResolveProvider_UnknownModel_DefaultsToOpenAI(t *testing.T) {
	got := resolveProvider("some-unknown-model")
	if got != "openai" {
		t.Errorf("resolveProvider(unknown) = %q, want 'openai'", got)
	}
}

func TestResolveProvider_EmptyString(t *testing.T) {
	got := resolveProvider("")
	if got != "openai" {
		t.Errorf("resolveProvider('') = %q, want 'openai'", got)
	}
}

func TestResolveChatProviderFallsBackToAliasMapWithoutCatalog(t *testing.T) {
	g := NewGateway(context.Background(), nil, nil)

	if got := g.resolveChatProvider("gpt-4"); got != "openai" {
		t.Errorf("resolveChatProvider(%q) = %q, want 'openai'", "gpt-4", got)
	}
}

func TestResolveChatProviderUsesExplicitPrefix(t *testing.T) {
	g := NewGateway(context.Background(), nil, nil)
	g.SetCatalog(catalog.New(catalog.FetcherFunc(func(_ context.Context, gateway string) ([]catalog.Model, error) {
		return nil, nil
	}), time.Minute, 0.8))

	if got := g.resolveChatProvider("@groq/llama-3.3-70b-versatile"); got != "groq" {
		t.Errorf("resolveChatProvider with @provider/ prefix = %q, want 'groq'", got)
	}
}

func TestResolveChatProviderFallsBackToCatalogLookup(t *testing.T) {
	c := catalog.New(catalog.FetcherFunc(func(_ context.Context, gateway string) ([]catalog.Model, error) {
		if gateway == "fireworks" {
			return []catalog.Model{{ID: "some-custom-model"}}, nil
		}
		return nil, nil
	}), time.Minute, 0.8)

	// Populate the fireworks entry first: ResolveProvider's cache-assisted
	// step only consults whatever's already cached, it never triggers a
	// fetch of its own.
	if _, err := c.Get(context.Background(), "fireworks"); err != nil {
		t.Fatal(err)
	}

	g := NewGateway(context.Background(), nil, nil)
	g.SetCatalog(c)

	if got := g.resolveChatProvider("some-custom-model"); got != "fireworks" {
		t.Errorf("resolveChatProvider(%q) = %q, want 'fireworks'", "some-custom-model", got)
	}
}
