package services

import (
	"context"
	"fmt"
	"itdesk/internal/metrics"
	"itdesk/internal/models"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// CounterStore increments the fixed-window counter stored under key and
// reports the new count together with the time the window resets. A counter
// read at or after its reset time starts a fresh window.
type CounterStore interface {
	Increment(ctx context.Context, key string, window time.Duration) (int64, time.Time, error)
}

// incrWindow runs INCR and arms the window TTL in one atomic step so
// concurrent instances never observe a counter without an expiry.
var incrWindow = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
	ttl = tonumber(ARGV[1])
end
return {n, ttl}
`)

type RedisStore struct {
	client redis.Scripter
	now    func() time.Time
}

func NewRedisStore(client redis.Scripter) *RedisStore {
	return &RedisStore{client: client, now: time.Now}
}

func (s *RedisStore) Increment(ctx context.Context, key string, window time.Duration) (int64, time.Time, error) {
	res, err := incrWindow.Run(ctx, s.client, []string{"ratelimit:" + key}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("failed to increment counter: %w", err)
	}
	if len(res) != 2 {
		return 0, time.Time{}, fmt.Errorf("unexpected counter reply: %v", res)
	}
	return res[0], s.now().Add(time.Duration(res[1]) * time.Millisecond), nil
}

type windowRecord struct {
	count   int64
	resetAt time.Time
}

// MemoryStore is the process-local counter used when no shared store is
// configured or the shared store is failing. Records are never evicted.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*windowRecord
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*windowRecord), now: time.Now}
}

// NewMemoryStoreWithClock is NewMemoryStore with an injected time source.
func NewMemoryStoreWithClock(now func() time.Time) *MemoryStore {
	return &MemoryStore{records: make(map[string]*windowRecord), now: now}
}

func (s *MemoryStore) Increment(_ context.Context, key string, window time.Duration) (int64, time.Time, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		rec = &windowRecord{resetAt: now.Add(window)}
		s.records[key] = rec
	}
	if !now.Before(rec.resetAt) {
		rec.count = 0
		rec.resetAt = now.Add(window)
	}
	rec.count++
	return rec.count, rec.resetAt, nil
}

type Decision struct {
	Allowed   bool
	Limit     int
	Count     int64
	Remaining int
	ResetAt   time.Time
}

type RateLimiter struct {
	shared  CounterStore
	local   CounterStore
	limits  map[models.RouteClass]int
	window  time.Duration
	log     *zap.Logger
	metrics *metrics.Metrics
}

// NewRateLimiter builds a limiter over shared, which may be nil to count
// locally only. limits maps each route class to its per-window ceiling;
// unknown classes use the api ceiling.
func NewRateLimiter(shared CounterStore, limits map[models.RouteClass]int, window time.Duration, log *zap.Logger, m *metrics.Metrics) *RateLimiter {
	return &RateLimiter{
		shared:  shared,
		local:   NewMemoryStore(),
		limits:  limits,
		window:  window,
		log:     log,
		metrics: m,
	}
}

// WithLocalStore replaces the fallback store, mainly for tests.
func (r *RateLimiter) WithLocalStore(local CounterStore) *RateLimiter {
	r.local = local
	return r
}

func (r *RateLimiter) Limit(class models.RouteClass) int {
	if limit, ok := r.limits[class]; ok {
		return limit
	}
	return r.limits[models.RouteClassAPI]
}

// Check counts one request for (identity, class). The count keeps climbing
// past the ceiling while the window is open. Shared store errors fall back
// to local counting; Check itself never fails.
func (r *RateLimiter) Check(ctx context.Context, identity string, class models.RouteClass) Decision {
	key := fmt.Sprintf("%s:%s", class, identity)
	limit := r.Limit(class)

	count, resetAt, err := r.increment(ctx, key)
	if err != nil {
		// local store does not fail; keep the request flowing regardless
		r.log.Error("rate limit check failed", zap.String("key", key), zap.Error(err))
		return Decision{Allowed: true, Limit: limit, Remaining: limit}
	}

	allowed := count <= int64(limit)
	r.metrics.RateLimitDecision(string(class), allowed)

	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   allowed,
		Limit:     limit,
		Count:     count,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
}

func (r *RateLimiter) increment(ctx context.Context, key string) (int64, time.Time, error) {
	if r.shared != nil {
		count, resetAt, err := r.shared.Increment(ctx, key, r.window)
		if err == nil {
			return count, resetAt, nil
		}
		r.log.Warn("shared rate limit store unavailable, counting locally", zap.Error(err))
	}
	return r.local.Increment(ctx, key, r.window)
}
