package ratelimit

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	redisclient "funnel-server/internal/clients/redis"
	"funnel-server/internal/observability"
	"funnel-server/internal/store"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Limit pairs a request budget with its window.
type Limit struct {
	Max    int
	Window time.Duration
}

// Budgets for the public funnel endpoints. Lead submission is throttled per
// IP and per email; the global budget caps everything else.
var (
	IPLimit     = Limit{Max: 10, Window: time.Hour}
	EmailLimit  = Limit{Max: 3, Window: 24 * time.Hour}
	GlobalLimit = Limit{Max: 100, Window: time.Minute}
)

// RateLimitResult represents the result of a rate limit check
type RateLimitResult struct {
	Allowed      bool      `json:"allowed"`
	Limit        int       `json:"limit"`
	Remaining    int       `json:"remaining"`
	ResetAt      time.Time `json:"reset_at"`
	RetryAfterMs int       `json:"retry_after_ms,omitempty"`
}

// RetryAfterSeconds converts the retry delay for the Retry-After header,
// rounding up so clients never retry inside the window.
func (r RateLimitResult) RetryAfterSeconds() int {
	if r.RetryAfterMs <= 0 {
		return 0
	}
	return (r.RetryAfterMs + 999) / 1000
}

// Service enforces the funnel's abuse budgets. Redis gives a sliding window
// shared across instances; when Redis is unreachable the check falls back to
// a fixed window in PostgreSQL.
type Service struct {
	redis  *redisclient.Client
	store  *store.Store
	logger *observability.Logger
}

// NewService creates a new rate limiting service
func NewService(redis *redisclient.Client, store *store.Store, logger *observability.Logger) *Service {
	return &Service{
		redis:  redis,
		store:  store,
		logger: logger,
	}
}

// CheckIP consumes one slot of the per-IP lead submission budget.
func (s *Service) CheckIP(ctx context.Context, ip string) (RateLimitResult, error) {
	return s.check(ctx, "rl:ip:"+ip, IPLimit)
}

// CheckEmail consumes one slot of the per-email lead submission budget. The
// address is hashed so raw emails never become Redis keys or fallback rows.
func (s *Service) CheckEmail(ctx context.Context, email string) (RateLimitResult, error) {
	return s.check(ctx, "rl:email:"+emailKey(email), EmailLimit)
}

// CheckGlobal consumes one slot of the shared budget across all public
// endpoints.
func (s *Service) CheckGlobal(ctx context.Context) (RateLimitResult, error) {
	return s.check(ctx, "rl:global", GlobalLimit)
}

func emailKey(email string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(email))))
	return hex.EncodeToString(sum[:])
}

func (s *Service) check(ctx context.Context, key string, limit Limit) (RateLimitResult, error) {
	result, err := s.checkRedis(ctx, key, limit)
	if err != nil {
		s.logger.Warn(ctx, "Redis rate limit check failed, falling back to PostgreSQL",
			observability.Field{Key: "key", Value: key},
			observability.Field{Key: "error", Value: err.Error()},
		)
		return s.checkPostgres(ctx, key, limit)
	}
	return result, nil
}

// checkRedis implements sliding-window rate limiting with a sorted set per
// key: members are request markers, scores are timestamps in milliseconds.
func (s *Service) checkRedis(ctx context.Context, key string, limit Limit) (RateLimitResult, error) {
	now := time.Now()
	nowMs := now.UnixMilli()
	windowStartMs := now.Add(-limit.Window).UnixMilli()

	// Drop entries that slid out of the window.
	if _, err := s.redis.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", windowStartMs)); err != nil {
		return RateLimitResult{}, fmt.Errorf("failed to trim rate limit window: %w", err)
	}

	count, err := s.redis.ZCard(ctx, key)
	if err != nil {
		return RateLimitResult{}, fmt.Errorf("failed to count requests in window: %w", err)
	}

	if int(count) >= limit.Max {
		// The oldest entry decides when the next slot frees up.
		resetAt := now.Add(limit.Window)
		oldest, err := s.redis.ZRangeWithScores(ctx, key, 0, 0)
		if err == nil && len(oldest) > 0 {
			resetAt = time.UnixMilli(int64(oldest[0].Score)).Add(limit.Window)
		}
		retryAfter := resetAt.Sub(now)
		if retryAfter < 0 {
			retryAfter = 0
		}
		return RateLimitResult{
			Allowed:      false,
			Limit:        limit.Max,
			Remaining:    0,
			ResetAt:      resetAt,
			RetryAfterMs: int(retryAfter.Milliseconds()),
		}, nil
	}

	member := fmt.Sprintf("%d:%s", nowMs, uuid.New().String())
	if err := s.redis.ZAdd(ctx, key, redis.Z{Score: float64(nowMs), Member: member}); err != nil {
		return RateLimitResult{}, fmt.Errorf("failed to record request: %w", err)
	}
	if err := s.redis.Expire(ctx, key, limit.Window+time.Minute); err != nil {
		return RateLimitResult{}, fmt.Errorf("failed to set rate limit key expiry: %w", err)
	}

	return RateLimitResult{
		Allowed:   true,
		Limit:     limit.Max,
		Remaining: limit.Max - int(count) - 1,
		ResetAt:   now.Add(limit.Window),
	}, nil
}

type rateLimitWindow struct {
	ID            uuid.UUID `db:"id"`
	ScopeKey      string    `db:"scope_key"`
	WindowStart   time.Time `db:"window_start"`
	WindowEnd     time.Time `db:"window_end"`
	RequestsCount int       `db:"requests_count"`
	RequestsLimit int       `db:"requests_limit"`
	IsThrottled   bool      `db:"is_throttled"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}

// checkPostgres implements fixed-window rate limiting as the fallback. The
// window is coarser than the Redis path but keeps abuse bounded while Redis
// is down.
func (s *Service) checkPostgres(ctx context.Context, key string, limit Limit) (RateLimitResult, error) {
	now := time.Now()
	windowStart := now.Truncate(limit.Window)
	windowEnd := windowStart.Add(limit.Window)

	var window rateLimitWindow
	query := `
		SELECT id, scope_key, window_start, window_end, requests_count, requests_limit,
		       is_throttled, created_at, updated_at
		FROM rate_limits
		WHERE scope_key = $1 AND window_start = $2
	`
	err := s.store.DB().GetContext(ctx, &window, query, key, windowStart)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return RateLimitResult{}, fmt.Errorf("failed to get rate limit window: %w", err)
	}

	if errors.Is(err, sql.ErrNoRows) {
		createQuery := `
			INSERT INTO rate_limits (scope_key, window_start, window_end, requests_count, requests_limit, is_throttled)
			VALUES ($1, $2, $3, 1, $4, false)
			RETURNING id, scope_key, window_start, window_end, requests_count, requests_limit,
			          is_throttled, created_at, updated_at
		`
		if err := s.store.DB().GetContext(ctx, &window, createQuery, key, windowStart, windowEnd, limit.Max); err != nil {
			return RateLimitResult{}, fmt.Errorf("failed to create rate limit window: %w", err)
		}
		return RateLimitResult{
			Allowed:   true,
			Limit:     limit.Max,
			Remaining: limit.Max - 1,
			ResetAt:   windowEnd,
		}, nil
	}

	if window.RequestsCount >= limit.Max {
		retryAfter := windowEnd.Sub(now)
		if retryAfter < 0 {
			retryAfter = 0
		}
		return RateLimitResult{
			Allowed:      false,
			Limit:        limit.Max,
			Remaining:    0,
			ResetAt:      windowEnd,
			RetryAfterMs: int(retryAfter.Milliseconds()),
		}, nil
	}

	updateQuery := `
		UPDATE rate_limits
		SET requests_count = requests_count + 1,
		    is_throttled = (requests_count + 1 >= requests_limit),
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
		RETURNING requests_count
	`
	var newCount int
	if err := s.store.DB().GetContext(ctx, &newCount, updateQuery, window.ID); err != nil {
		return RateLimitResult{}, fmt.Errorf("failed to increment rate limit window: %w", err)
	}

	return RateLimitResult{
		Allowed:   true,
		Limit:     limit.Max,
		Remaining: limit.Max - newCount,
		ResetAt:   windowEnd,
	}, nil
}
