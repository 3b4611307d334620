package proxy

import (
	"github.com/nulpointcorp/llm-gateway/pkg/apierr"
	"github.com/valyala/fasthttp"
)

// handleBalance serves GET /v1/billing/balance for the caller's API key,
// returning the current credit balance. Requires both a user store (to
// resolve the key) and a ledger; either missing reports billing disabled.
func (g *Gateway) handleBalance(ctx *fasthttp.RequestCtx) {
	clientKeyID := extractCallerKeyID(ctx)
	userID, ok := g.identify(ctx, clientKeyID)
	if !ok || g.ledger == nil {
		apierr.Write(ctx, fasthttp.StatusNotFound,
			"billing not configured for this API key", apierr.TypeInvalidRequest, apierr.CodeInvalidRequest)
		return
	}

	bal, err := g.ledger.Balance(ctx, userID)
	if err != nil {
		apierr.Write(ctx, fasthttp.StatusInternalServerError,
			err.Error(), apierr.TypeServerError, apierr.CodeInternalError)
		return
	}

	writeJSON(ctx, map[string]any{"user_id": userID, "balance_usd": bal})
}

// handleTransactions serves GET /v1/billing/transactions for the caller's
// API key, returning the append-only ledger history oldest-first.
func (g *Gateway) handleTransactions(ctx *fasthttp.RequestCtx) {
	clientKeyID := extractCallerKeyID(ctx)
	userID, ok := g.identify(ctx, clientKeyID)
	if !ok || g.ledger == nil {
		apierr.Write(ctx, fasthttp.StatusNotFound,
			"billing not configured for this API key", apierr.TypeInvalidRequest, apierr.CodeInvalidRequest)
		return
	}

	txs, err := g.ledger.Transactions(ctx, userID)
	if err != nil {
		apierr.Write(ctx, fasthttp.StatusInternalServerError,
			err.Error(), apierr.TypeServerError, apierr.CodeInternalError)
		return
	}

	writeJSON(ctx, map[string]any{"user_id": userID, "transactions": txs})
}
