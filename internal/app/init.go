package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nulpointcorp/llm-gateway/internal/activity"
	"github.com/nulpointcorp/llm-gateway/internal/billing"
	npCache "github.com/nulpointcorp/llm-gateway/internal/cache"
	"github.com/nulpointcorp/llm-gateway/internal/catalog"
	"github.com/nulpointcorp/llm-gateway/internal/metrics"
	"github.com/nulpointcorp/llm-gateway/internal/pricing"
	"github.com/nulpointcorp/llm-gateway/internal/proxy"
	"github.com/nulpointcorp/llm-gateway/internal/ratelimit"
	"github.com/nulpointcorp/llm-gateway/internal/users"
)

// initInfra establishes optional external connections.
// Redis is only required when CACHE_MODE=redis.
func (a *App) initInfra(ctx context.Context) error {
	if a.cfg.Cache.Mode == "redis" {
		a.log.Info("connecting to redis", slog.String("url", redactURL(a.cfg.Redis.URL)))

		rdb, err := connectRedis(ctx, a.cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		a.rdb = rdb
		a.log.Info("redis connected")
	}

	return nil
}

// initProviders builds the LLM provider map. At least one provider must be
// configured — this is enforced by the validation step of config.Load before
// we reach here.
func (a *App) initProviders(_ context.Context) error {
	a.provs = buildProviders(a.baseCtx, a.cfg)
	if len(a.provs) == 0 {
		return fmt.Errorf("no provider API keys configured")
	}

	names := make([]string, 0, len(a.provs))
	for n := range a.provs {
		names = append(names, n)
	}
	a.log.Info("providers loaded", slog.Any("providers", names))

	return nil
}

// initServices creates the cache backend and Prometheus metrics registry.
func (a *App) initServices(ctx context.Context) error {
	switch a.cfg.Cache.Mode {
	case "redis":
		// ExactCache wraps the already-connected Redis client.
		a.log.Info("cache backend: redis")

	case "memory":
		// MemoryCache — zero external dependencies, not shared across replicas.
		a.memCache = npCache.NewMemoryCache(ctx)
		a.log.Info("cache backend: memory (in-process)")

	case "none":
		a.log.Info("cache backend: disabled")

	default:
		return fmt.Errorf("unknown cache mode: %s", a.cfg.Cache.Mode)
	}

	a.prom = metrics.New()
	a.prom.SetBuildInfo(a.version)

	return nil
}

// initBilling constructs the catalog cache, pricing service, credit ledger,
// user store, multi-window rate limiter, and activity logger. External store
// URLs (USERS_STORE_URL, BILLING_STORE_URL) are reserved for a production
// deployment's own Ledger/Store implementations; unset, each defaults to its
// in-memory reference implementation.
func (a *App) initBilling(ctx context.Context) error {
	a.catalogCache = catalog.New(staticCatalogFetcher(), a.cfg.Catalog.TTL, a.cfg.Catalog.RefreshFraction)
	a.pricer = pricing.New(a.catalogCache, a.log)

	a.ledger = billing.NewMemLedger()
	a.userStore = users.NewMemStore()

	if a.cfg.Redis.URL != "" && a.rdb != nil {
		a.limiter = ratelimit.NewRedisLimiter(a.rdb)
	} else {
		a.limiter = ratelimit.NewMemoryLimiter()
	}

	var sink activity.Sink
	if a.cfg.ActivityClickHouseDSN != "" {
		chSink, err := activity.NewClickHouseSink(ctx, a.cfg.ActivityClickHouseDSN)
		if err != nil {
			return fmt.Errorf("activity: clickhouse: %w", err)
		}
		a.activitySink = chSink
		sink = chSink
		a.log.Info("activity sink: clickhouse")
	} else {
		sink = activity.NewSlogSink(a.log)
		a.log.Info("activity sink: slog")
	}

	reqLog, err := activity.New(a.baseCtx, sink)
	if err != nil {
		return fmt.Errorf("activity: %w", err)
	}
	a.activityLog = reqLog

	return nil
}

// initGateway wires together the Gateway with all configured subsystems.
func (a *App) initGateway(_ context.Context) error {
	// ── Determine cache implementation ────────────────────────────────────────
	var cacheImpl npCache.Cache
	var cacheReady func() bool

	switch a.cfg.Cache.Mode {
	case "redis":
		cacheImpl = npCache.NewExactCacheFromClient(a.rdb)
		cacheReady = redisPinger(a.baseCtx, a.rdb)
	case "memory":
		cacheImpl = a.memCache
		cacheReady = func() bool { return true }
	case "none":
		// nil cache — gateway handles nil gracefully (no caching)
	}

	// ── Build the gateway ────────────────────────────────────────────────────
	opts := proxy.GatewayOptions{
		Logger:             a.log,
		MaxRetries:         a.cfg.Failover.MaxRetries,
		ProviderTimeout:    a.cfg.Failover.ProviderTimeout,
		CacheTTL:           a.cfg.Cache.TTL,
		Metrics:            a.prom,
		AllowClientAPIKeys: a.cfg.AllowClientAPIKeys,
		CBConfig: proxy.CBConfig{
			ErrorThreshold:  a.cfg.CircuitBreaker.ErrorThreshold,
			TimeWindow:      a.cfg.CircuitBreaker.TimeWindow,
			HalfOpenTimeout: a.cfg.CircuitBreaker.HalfOpenTimeout,
		},
	}

	gw := proxy.NewGatewayWithOptions(a.baseCtx, a.provs, cacheImpl, cacheReady, opts)

	// ── Optional subsystems ──────────────────────────────────────────────────

	// Rate limiting — only when Redis is available.
	if a.rdb != nil && a.cfg.RateLimit.RPMLimit > 0 {
		gw.SetRateLimiters(ratelimit.NewRPMLimiter(a.rdb, a.cfg.RateLimit.RPMLimit))
		a.log.Info("rate limiting enabled", slog.Int("rpm_limit", a.cfg.RateLimit.RPMLimit))
	}

	// Catalog, pricing, credit ledger, per-(user,key,model) rate limiting,
	// and the activity logger — always wired; external store URLs (not yet
	// configured in this build) would replace the in-memory reference
	// implementations constructed in initBilling without touching the gateway.
	gw.SetCatalog(a.catalogCache)
	gw.SetPricing(a.pricer)
	gw.SetBilling(a.ledger, a.userStore, a.limiter, ratelimit.Limits{
		PerSecond: a.cfg.RateLimit.PerSecondLimit,
		PerMinute: a.cfg.RateLimit.PerMinuteLimit,
		PerHour:   a.cfg.RateLimit.PerHourLimit,
		PerDay:    a.cfg.RateLimit.PerDayLimit,
	})
	gw.SetActivityLog(a.activityLog)

	// CORS.
	gw.SetCORSOrigins(a.cfg.CORSOrigins)

	// Cache exclusions.
	if len(a.cfg.Cache.ExcludeExact) > 0 || len(a.cfg.Cache.ExcludePatterns) > 0 {
		el, err := npCache.NewExclusionList(a.cfg.Cache.ExcludeExact, a.cfg.Cache.ExcludePatterns)
		if err != nil {
			return fmt.Errorf("cache exclusions: %w", err)
		}
		gw.SetCacheExclusions(el)
		a.log.Info("cache exclusions loaded", slog.Int("rules", el.Len()))
	}

	// ── Management routes ────────────────────────────────────────────────────
	a.mgmt = &proxy.ManagementRoutes{
		Metrics: a.prom.Handler(),
	}

	a.gw = gw

	return nil
}

// redactURL replaces the userinfo portion of a URL with "***" for safe logging.
// e.g. "redis://:secret@localhost:6379" → "redis://***@localhost:6379"
func redactURL(raw string) string {
	for i, c := range raw {
		if c == '@' {
			// Find the scheme end ("://") and keep only scheme + "***" + @host.
			for j := i - 1; j >= 0; j-- {
				if j+2 < len(raw) && raw[j:j+3] == "://" {
					return raw[:j+3] + "***" + raw[i:]
				}
			}
			return "***" + raw[i:]
		}
	}
	return raw
}
