package proxy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nulpointcorp/llm-gateway/internal/activity"
	"github.com/nulpointcorp/llm-gateway/internal/billing"
	"github.com/nulpointcorp/llm-gateway/internal/ratelimit"
)

// charsPerToken approximates the OpenAI-style ~4 characters-per-token ratio
// used elsewhere in this package for streaming token estimation.
const charsPerToken = 4

// defaultEstimatedCompletionTokens is the completion-length assumption used
// to size a pre-flight reservation when the caller didn't set max_tokens.
const defaultEstimatedCompletionTokens = 512

// estimatePromptTokens gives a rough prompt-token count for reservation
// sizing — the exact count comes back from the provider's usage field and
// is what settlement actually bills against.
func estimatePromptTokens(msgs []inboundMessage) int {
	chars := 0
	for _, m := range msgs {
		chars += len(m.Content)
	}
	tokens := chars / charsPerToken
	if tokens == 0 {
		tokens = 1
	}
	return tokens
}

// estimateTextTokens gives the same char/4 estimate as estimatePromptTokens
// for a flat list of embedding inputs, which carry no role/content envelope.
func estimateTextTokens(texts []string) int {
	chars := 0
	for _, t := range texts {
		chars += len(t)
	}
	tokens := chars / charsPerToken
	if tokens == 0 {
		tokens = 1
	}
	return tokens
}

// identify resolves the billed user for a request, given the client's API
// key ID. Returns ("", false) when no user store is configured or the key
// is unrecognized — callers treat that as "unmetered".
func (g *Gateway) identify(ctx context.Context, clientKeyID string) (userID string, ok bool) {
	if g.userStore == nil || clientKeyID == "" {
		return "", false
	}
	u, err := g.userStore.Lookup(ctx, clientKeyID)
	if err != nil {
		return "", false
	}
	return u.ID, true
}

// admit checks the multi-window rate limiter for (userID, keyID, model).
// A nil limiter always admits.
func (g *Gateway) admit(ctx context.Context, userID, keyID, model string) (bool, ratelimit.Window, error) {
	if g.limiter == nil {
		return true, "", nil
	}
	return g.limiter.Check(ctx, userID, keyID, model, g.limits)
}

// recordUsage tallies one admitted request against the rate limiter. Errors
// are logged, never surfaced to the client — metering must not fail a
// request that was already admitted.
func (g *Gateway) recordUsage(ctx context.Context, userID, keyID, model string) {
	if g.limiter == nil {
		return
	}
	_ = g.limiter.Record(ctx, userID, keyID, model, g.limits)
}

// reserveForRequest holds an estimated cost against the user's balance
// before the upstream call. Returns reserved=0, err=nil when billing isn't
// configured or the model has no known price — such requests are never
// blocked on insufficient balance.
func (g *Gateway) reserveForRequest(ctx context.Context, userID, provider, model string, promptTokens, maxTokens int) (reserved float64, err error) {
	if g.ledger == nil || g.pricer == nil || userID == "" {
		return 0, nil
	}
	estCompletion := maxTokens
	if estCompletion <= 0 {
		estCompletion = defaultEstimatedCompletionTokens
	}
	reserved = g.pricer.Cost(provider, model, promptTokens, estCompletion)
	if reserved <= 0 {
		return 0, nil
	}
	if _, err := g.ledger.Reserve(ctx, userID, reserved, fmt.Sprintf("reserve:%s", model)); err != nil {
		if errors.Is(err, billing.ErrInsufficientBalance) {
			return 0, billing.ErrInsufficientBalance
		}
		return 0, err
	}
	return reserved, nil
}

// settle reconciles a reservation against the exact token counts a request
// used, crediting back an overestimate or debiting an underestimate. Used
// for non-streaming responses where both token counts are known up front.
func (g *Gateway) settle(ctx context.Context, userID, provider, model string, reserved float64, promptTokens, completionTokens int) float64 {
	if g.ledger == nil || userID == "" {
		return 0
	}
	actual := g.pricer.Cost(provider, model, promptTokens, completionTokens)
	diff := reserved - actual
	switch {
	case diff > 0:
		_, _ = g.ledger.Credit(ctx, userID, diff, "release overestimate")
	case diff < 0:
		_, _ = g.ledger.Debit(ctx, userID, -diff, "settle underestimate")
	}
	return actual
}

// settleStream reconciles a reservation against tokens actually emitted by a
// streamed response. Underestimates are debited; overestimates are not
// refunded — once a stream starts, the reservation covers whatever the
// connection drops before completion, so the unused portion is forfeited
// rather than credited back.
func (g *Gateway) settleStream(ctx context.Context, userID, provider, model string, reserved float64, promptTokens, completionTokens int) float64 {
	if g.ledger == nil || userID == "" {
		return 0
	}
	actual := g.pricer.Cost(provider, model, promptTokens, completionTokens)
	if actual > reserved {
		_, _ = g.ledger.Debit(ctx, userID, actual-reserved, "settle underestimate")
	}
	return actual
}

// release credits back a reservation in full — used when a request never
// reaches an upstream provider (cache hit, provider error) so nothing was
// actually billable.
func (g *Gateway) release(ctx context.Context, userID string, reserved float64) {
	if g.ledger == nil || userID == "" || reserved <= 0 {
		return
	}
	_, _ = g.ledger.Credit(ctx, userID, reserved, "release: request not billed")
}

// logActivity submits a usage event to the activity logger. A nil logger
// makes this a no-op.
func (g *Gateway) logActivity(userID, sessionID, endpoint, provider, model string, promptTokens, completionTokens int, cost float64, latency time.Duration, finishReason string, cached bool) {
	if g.activityLg == nil {
		return
	}
	g.activityLg.Record(activity.Event{
		UserID:           userID,
		SessionID:        sessionID,
		Endpoint:         endpoint,
		Provider:         provider,
		Model:            model,
		PromptTokens:     uint32(promptTokens),
		CompletionTokens: uint32(completionTokens),
		TotalTokens:      uint32(promptTokens + completionTokens),
		CostUSD:          cost,
		LatencyMs:        uint32(latency.Milliseconds()),
		FinishReason:     finishReason,
		Cached:           cached,
	})
}
