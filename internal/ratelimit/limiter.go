package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Window names a fixed checking interval tracked per (user, key, model).
type Window string

const (
	WindowSecond Window = "1s"
	WindowMinute Window = "1m"
	WindowHour   Window = "1h"
	WindowDay    Window = "24h"
)

var windowDurations = map[Window]time.Duration{
	WindowSecond: time.Second,
	WindowMinute: time.Minute,
	WindowHour:   time.Hour,
	WindowDay:    24 * time.Hour,
}

// Limits is the set of request-count ceilings for each window. A zero value
// disables the check for that window.
type Limits struct {
	PerSecond int
	PerMinute int
	PerHour   int
	PerDay    int
}

func (l Limits) forWindow(w Window) int {
	switch w {
	case WindowSecond:
		return l.PerSecond
	case WindowMinute:
		return l.PerMinute
	case WindowHour:
		return l.PerHour
	case WindowDay:
		return l.PerDay
	default:
		return 0
	}
}

// Limiter checks and records request counts across the four fixed windows
// for a (user_id, key_id, model) triple. Check and Record are deliberately
// separate, non-atomic operations — the caller decides whether to record
// only on requests that are actually dispatched.
type Limiter interface {
	// Check returns (true, "") if every configured window still has budget,
	// or (false, window) naming the first window that is exhausted.
	Check(ctx context.Context, userID, keyID, model string, limits Limits) (bool, Window, error)
	// Record increments every configured window's counter by one request.
	Record(ctx context.Context, userID, keyID, model string, limits Limits) error
}

// RedisLimiter implements Limiter using the package's sliding-window Lua
// script, reusing one sorted-set key per (user, key, model, window).
type RedisLimiter struct {
	rdb *redis.Client
}

// NewRedisLimiter creates a Redis-backed multi-window Limiter.
func NewRedisLimiter(rdb *redis.Client) *RedisLimiter {
	return &RedisLimiter{rdb: rdb}
}

func (r *RedisLimiter) Check(ctx context.Context, userID, keyID, model string, limits Limits) (bool, Window, error) {
	for _, w := range []Window{WindowSecond, WindowMinute, WindowHour, WindowDay} {
		limit := limits.forWindow(w)
		if limit <= 0 {
			continue
		}
		count, err := r.count(ctx, counterKey(userID, keyID, model, w), windowDurations[w])
		if err != nil {
			// Redis unavailable — allow the request (graceful degradation,
			// matching RPMLimiter's existing behaviour).
			continue
		}
		if count >= limit {
			return false, w, nil
		}
	}
	return true, "", nil
}

func (r *RedisLimiter) Record(ctx context.Context, userID, keyID, model string, limits Limits) error {
	var firstErr error
	for _, w := range []Window{WindowSecond, WindowMinute, WindowHour, WindowDay} {
		if limits.forWindow(w) <= 0 {
			continue
		}
		// A count above the configured limit is allowed through here —
		// Record only tallies usage; Check already made the admission call.
		_, err := r.incr(ctx, counterKey(userID, keyID, model, w), windowDurations[w], 1_000_000_000)
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *RedisLimiter) count(ctx context.Context, key string, window time.Duration) (int, error) {
	return r.incr(ctx, key, window, -1) // -1: observe only, don't add a member
}

// incr runs the shared sliding-window script. limit < 0 means "observe
// current count without admitting", used by Check.
func (r *RedisLimiter) incr(ctx context.Context, key string, window time.Duration, limit int) (int, error) {
	now := time.Now().UnixNano()
	if limit < 0 {
		// Peek: a limit of 0 always reports "at capacity" via the script, so
		// we instead count the window's members with ZCOUNT for an
		// observe-only count.
		n, err := r.rdb.ZCount(ctx, key, fmt.Sprintf("%d", now-window.Nanoseconds()), "+inf").Result()
		return int(n), err
	}
	return slidingWindowScript.Run(ctx, r.rdb,
		[]string{key}, now, window.Nanoseconds(), limit,
	).Int()
}

func counterKey(userID, keyID, model string, w Window) string {
	return fmt.Sprintf("ratelimit:%s:%s:%s:%s", userID, keyID, model, w)
}

// MemoryLimiter is an in-process Limiter for CACHE_MODE=memory deployments —
// not shared across replicas, mirroring cache.MemoryCache's own tradeoff.
type MemoryLimiter struct {
	mu       sync.Mutex
	counters map[string][]time.Time
}

// NewMemoryLimiter creates an empty in-process Limiter.
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{counters: make(map[string][]time.Time)}
}

func (m *MemoryLimiter) Check(_ context.Context, userID, keyID, model string, limits Limits) (bool, Window, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for _, w := range []Window{WindowSecond, WindowMinute, WindowHour, WindowDay} {
		limit := limits.forWindow(w)
		if limit <= 0 {
			continue
		}
		key := counterKey(userID, keyID, model, w)
		kept := pruneBefore(m.counters[key], now.Add(-windowDurations[w]))
		m.counters[key] = kept
		if len(kept) >= limit {
			return false, w, nil
		}
	}
	return true, "", nil
}

func (m *MemoryLimiter) Record(_ context.Context, userID, keyID, model string, limits Limits) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for _, w := range []Window{WindowSecond, WindowMinute, WindowHour, WindowDay} {
		if limits.forWindow(w) <= 0 {
			continue
		}
		key := counterKey(userID, keyID, model, w)
		kept := pruneBefore(m.counters[key], now.Add(-windowDurations[w]))
		m.counters[key] = append(kept, now)
	}
	return nil
}

func pruneBefore(times []time.Time, cutoff time.Time) []time.Time {
	out := times[:0]
	for _, t := range times {
		if t.After(cutoff) {
			out = append(out, t)
		}
	}
	return out
}
