// Package huggingface adapts the Hugging Face Inference Providers router
// (an OpenAI-compatible endpoint) to providers.Provider.
//
// Hugging Face resolves a bare model id to whichever backing inference
// provider it has configured for that model. Explicitly pinning the
// ":hf-inference" suffix routes the request to HF's own serverless runtime
// instead of a third-party backend, which is what this adapter always does.
package huggingface

import (
	"context"
	"strings"

	"github.com/nulpointcorp/llm-gateway/internal/providers"
	"github.com/nulpointcorp/llm-gateway/internal/providers/openaicompat"
)

const (
	providerName   = "huggingface"
	defaultBaseURL = "https://router.huggingface.co/v1"
	suffix         = ":hf-inference"
)

// Provider routes chat completions through the HF router, rewriting the
// model id to carry the hf-inference backend suffix exactly once.
type Provider struct {
	inner *openaicompat.Provider
}

// New creates a Hugging Face Provider. baseURL overrides are accepted
// through the same Option pattern as the other providers.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{}
	cfg := options{baseURL: defaultBaseURL}
	for _, o := range opts {
		o(&cfg)
	}
	p.inner = openaicompat.New(providerName, apiKey, cfg.baseURL)
	return p
}

type options struct{ baseURL string }

// Option configures a Provider.
type Option func(*options)

// WithBaseURL overrides the router base URL (useful for testing).
func WithBaseURL(url string) Option {
	return func(o *options) { o.baseURL = url }
}

func (p *Provider) Name() string { return providerName }

func (p *Provider) HealthCheck(ctx context.Context) error {
	return p.inner.HealthCheck(ctx)
}

func (p *Provider) Request(ctx context.Context, req *providers.ProxyRequest) (*providers.ProxyResponse, error) {
	rewritten := *req
	rewritten.Model = withHFInferenceSuffix(req.Model)
	return p.inner.Request(ctx, &rewritten)
}

// withHFInferenceSuffix appends ":hf-inference" to id unless it is already
// present, making the rewrite idempotent under repeated resolution passes.
func withHFInferenceSuffix(id string) string {
	if strings.HasSuffix(id, suffix) {
		return id
	}
	return id + suffix
}
