package proxy

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/nulpointcorp/llm-gateway/internal/providers"
)

// Backoff bounds applied between failover attempts, each against a
// different provider. Jitter avoids synchronized retry storms across
// concurrently failing requests.
const (
	backoffBase   = 250 * time.Millisecond
	backoffCap    = 2 * time.Second
	backoffJitter = 0.20
)

// backoffDelay returns the delay before retry attempt n (0-indexed),
// exponential with a cap and ±backoffJitter randomisation.
func backoffDelay(attempt int) time.Duration {
	d := backoffBase << attempt
	if d > backoffCap || d <= 0 {
		d = backoffCap
	}
	jitter := 1 + (rand.Float64()*2-1)*backoffJitter //nolint:gosec // non-cryptographic jitter
	return time.Duration(float64(d) * jitter)
}

// failoverEvent records one failover attempt for observability.
type failoverEvent struct {
	From      string
	To        string
	Reason    string
	LatencyMs int64
}

// requestWithFailover tries the primary provider and, on retryable errors,
// walks through providers.DefaultFallbackOrder until one succeeds or
// g.maxRetries is exhausted.
//
// It skips providers whose circuit breaker is in the Open state.
// Returns the successful response, the name of the provider that served it,
// and nil — or nil, "", and an error if every candidate fails.
func (g *Gateway) requestWithFailover(
	ctx context.Context,
	req *providers.ProxyRequest,
	primary string,
	route string,
) (*providers.ProxyResponse, string, error) {

	candidates := buildCandidateList(primary)

	var lastErr error

	prevProvider := ""
	prevReason := ""
	havePrevFailure := false
	attempts := 0

	for _, name := range candidates {
		if attempts >= g.maxRetries {
			break
		}

		prov, ok := g.providers[name]
		if !ok {
			continue // provider not configured, skip
		}

		// Skip providers whose circuit breaker is open.
		if g.cb != nil && !g.cb.Allow(name) {
			g.log.WarnContext(ctx, "circuit_breaker_open",
				slog.String("request_id", req.RequestID),
				slog.String("provider", name),
			)
			if g.metrics != nil {
				g.metrics.RecordCircuitBreakerRejection(name, g.cb.StateLabel(name))
				g.metrics.SetCircuitBreaker(name, int64(g.cb.State(name)))
				g.metrics.ObserveUpstreamAttempt(name, route, "circuit_reject", 0)
			}
			continue
		}

		// We are switching to a different provider after a failure.
		if havePrevFailure && prevProvider != "" && prevProvider != name {
			if g.metrics != nil {
				g.metrics.RecordFailover(primary, prevProvider, name, prevReason)
			}
		}

		start := time.Now()
		resp, err := prov.Request(ctx, req)
		dur := time.Since(start)
		latencyMs := dur.Milliseconds()
		attempts++

		if err == nil {
			if g.metrics != nil {
				g.metrics.ObserveUpstreamAttempt(name, route, "success", dur)
			}
			// ── Success ───────────────────────────────────────────────────────
			if g.cb != nil {
				g.cb.RecordSuccess(name)
				if g.metrics != nil {
					g.metrics.SetCircuitBreaker(name, int64(g.cb.State(name)))
				}
			}
			if name != primary {
				g.log.InfoContext(ctx, "failover_success",
					slog.String("request_id", req.RequestID),
					slog.String("from", primary),
					slog.String("to", name),
					slog.Int64("latency_ms", latencyMs),
				)
				if g.metrics != nil {
					g.metrics.RecordFailoverSuccess(primary, name)
				}
			}
			return resp, name, nil
		}

		// ── Failure ───────────────────────────────────────────────────────────
		if g.cb != nil {
			g.cb.RecordFailure(name)
			if g.metrics != nil {
				g.metrics.SetCircuitBreaker(name, int64(g.cb.State(name)))
			}
		}

		reason := classifyError(err)
		if g.metrics != nil {
			g.metrics.ObserveUpstreamAttempt(name, route, reason, dur)
			g.metrics.RecordError(name, reason)
		}
		g.log.WarnContext(ctx, "provider_attempt_failed",
			slog.String("request_id", req.RequestID),
			slog.String("from", primary),
			slog.String("to", name),
			slog.String("reason", reason),
			slog.Int64("latency_ms", latencyMs),
			slog.String("error", err.Error()),
		)

		lastErr = err
		prevProvider = name
		prevReason = reason
		havePrevFailure = true

		// Non-retryable errors (4xx auth/validation/not_found) abort failover
		// immediately — further providers are unlikely to return a different
		// result for the same request parameters.
		if !isRetryable(err) {
			break
		}

		// Rate-limit responses move to the next candidate immediately — the
		// limiting provider won't recover within this request's lifetime.
		if errorKindOf(err) == kindRateLimit {
			continue
		}

		if attempts < g.maxRetries {
			select {
			case <-time.After(backoffDelay(attempts - 1)):
			case <-ctx.Done():
				return nil, "", ctx.Err()
			}
		}
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no providers available")
	}
	if g.metrics != nil {
		g.metrics.RecordFailoverExhausted(primary)
	}
	return nil, "", fmt.Errorf("failover: all providers failed after %d attempt(s): %w", attempts, lastErr)
}

// buildCandidateList returns an ordered slice starting with primary, followed
// by the remaining providers in DefaultFallbackOrder (deduped).
func buildCandidateList(primary string) []string {
	seen := map[string]bool{primary: true}
	out := []string{primary}
	for _, name := range providers.DefaultFallbackOrder {
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	return out
}

// isRetryable returns true for errors that should trigger provider failover.
//
//   - auth / validation / not_found → NOT retryable (won't change on retry)
//   - rate_limit / bad_gateway / timeout / unknown → retryable
func isRetryable(err error) bool {
	switch errorKindOf(err) {
	case kindAuth, kindValidation, kindNotFound:
		return false
	default:
		return true
	}
}

// classifyError converts an error into a short human-readable category string
// used in log fields and metrics labels.
func classifyError(err error) string {
	if err == context.DeadlineExceeded {
		return "timeout"
	}
	if sc, ok := err.(providers.StatusCoder); ok {
		return fmt.Sprintf("http_%d", sc.HTTPStatus())
	}
	return "unknown"
}

// errorKind is the coarse-grained failure taxonomy that drives the
// retry-vs-abort decision in the failover loop.
type errorKind string

const (
	kindAuth       errorKind = "auth"
	kindValidation errorKind = "validation"
	kindNotFound   errorKind = "not_found"
	kindRateLimit  errorKind = "rate_limit"
	kindBadGateway errorKind = "bad_gateway"
	kindTimeout    errorKind = "timeout"
	kindUnknown    errorKind = "unknown"
)

// errorKindOf classifies err into the taxonomy above based on its HTTP status
// (when the error implements providers.StatusCoder) or its identity
// (context.DeadlineExceeded).
func errorKindOf(err error) errorKind {
	if err == context.DeadlineExceeded {
		return kindTimeout
	}
	sc, ok := err.(providers.StatusCoder)
	if !ok {
		return kindUnknown
	}
	switch status := sc.HTTPStatus(); {
	case status == 401 || status == 403:
		return kindAuth
	case status == 400 || status == 422:
		return kindValidation
	case status == 404:
		return kindNotFound
	case status == 429:
		return kindRateLimit
	case status >= 500 && status < 600:
		return kindBadGateway
	default:
		return kindUnknown
	}
}
