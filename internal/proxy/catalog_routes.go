package proxy

import (
	"github.com/nulpointcorp/llm-gateway/internal/catalog"
	"github.com/nulpointcorp/llm-gateway/pkg/apierr"
	"github.com/valyala/fasthttp"
)

// handlePing is a minimal liveness probe distinct from /health — it reports
// process aliveness without touching the cache or provider health checker.
func (g *Gateway) handlePing(ctx *fasthttp.RequestCtx) {
	writeJSON(ctx, map[string]string{"status": "pong"})
}

// handleListModels serves GET /v1/models?gateway=<name>|all, returning the
// catalog cache's aggregated model list for the requested gateway.
func (g *Gateway) handleListModels(ctx *fasthttp.RequestCtx) {
	if g.catalog == nil {
		writeJSON(ctx, map[string]any{"object": "list", "data": []catalog.Model{}})
		return
	}

	gateway := string(ctx.QueryArgs().Peek("gateway"))
	if gateway == "" {
		gateway = catalog.AllGateway
	}

	models, err := g.catalog.Get(ctx, gateway)
	if err != nil {
		apierr.WriteProviderError(ctx, fasthttp.StatusBadGateway, "catalog: "+err.Error())
		return
	}

	writeJSON(ctx, map[string]any{"object": "list", "data": models})
}

// handleGetModel serves GET /catalog/model/{provider}/{model:*}, looking up
// a single model's catalog entry (pricing, context length) for one gateway.
func (g *Gateway) handleGetModel(ctx *fasthttp.RequestCtx) {
	provider, _ := ctx.UserValue("provider").(string)
	model, _ := ctx.UserValue("model").(string)

	if g.catalog == nil {
		apierr.Write(ctx, fasthttp.StatusNotFound, "catalog not configured",
			apierr.TypeInvalidRequest, apierr.CodeInvalidRequest)
		return
	}

	m, ok := g.catalog.Lookup(provider, model)
	if !ok {
		apierr.Write(ctx, fasthttp.StatusNotFound,
			"model not found in catalog", apierr.TypeInvalidRequest, apierr.CodeInvalidRequest)
		return
	}

	writeJSON(ctx, m)
}
