// Package ratelimit enforces a per-project token bucket over incoming hook
// POST requests, backed by Redis so the limit holds across every replica
// of the pipeline server.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/dguik/discode/lib/redisx"
)

var (
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrInvalidConfig     = errors.New("invalid rate limiter configuration")
	ErrRedisConnection   = errors.New("redis connection error")
)

// Config holds rate limiter configuration.
type Config struct {
	RequestsPerMinute int           // default: 60
	BurstSize         int           // default: 10
	TokenRefillRate   time.Duration // default: 1s

	// KeyPrefix namespaces Redis keys (default "ratelimit").
	KeyPrefix string

	Logger *slog.Logger
}

// DefaultConfig returns sensible defaults for hook ingestion.
func DefaultConfig() Config {
	return Config{
		RequestsPerMinute: 60,
		BurstSize:         10,
		TokenRefillRate:   1 * time.Second,
		KeyPrefix:         "ratelimit",
		Logger:            slog.Default(),
	}
}

// Limiter implements a distributed token bucket rate limiter, keyed per
// project name, using Redis as the shared state backend.
type Limiter struct {
	config Config
	client *redisx.Client
	logger *slog.Logger
}

// New creates a Limiter backed by client.
func New(client *redisx.Client, config Config) (*Limiter, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: redis client is nil", ErrInvalidConfig)
	}
	if config.RequestsPerMinute <= 0 {
		return nil, fmt.Errorf("%w: requests per minute must be positive", ErrInvalidConfig)
	}
	if config.BurstSize <= 0 {
		return nil, fmt.Errorf("%w: burst size must be positive", ErrInvalidConfig)
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = "ratelimit"
	}
	if config.TokenRefillRate == 0 {
		config.TokenRefillRate = 1 * time.Second
	}

	return &Limiter{config: config, client: client, logger: config.Logger}, nil
}

// allowScript is the server-side token bucket: read, refill, consume,
// and write back in one atomic step, so concurrent requests for the same
// project can never all read the same token count and over-admit past
// BurstSize.
const allowScript = `
	local key = KEYS[1]
	local time_key = KEYS[2]
	local max_tokens = tonumber(ARGV[1])
	local tokens_per_second = tonumber(ARGV[2])
	local now = tonumber(ARGV[3])
	local ttl = tonumber(ARGV[4])

	local current_tokens = tonumber(redis.call('GET', key))
	local last_refill = tonumber(redis.call('GET', time_key))

	if not current_tokens then
		current_tokens = max_tokens
		last_refill = now
	end
	if not last_refill then
		last_refill = now
	end

	local elapsed = now - last_refill
	current_tokens = math.min(current_tokens + elapsed * tokens_per_second, max_tokens)

	local allowed = 0
	if current_tokens >= 1.0 then
		current_tokens = current_tokens - 1.0
		allowed = 1
	end

	redis.call('SET', key, tostring(current_tokens), 'EX', ttl)
	redis.call('SET', time_key, tostring(now), 'EX', ttl)

	return {allowed, math.floor(current_tokens), now + ttl}
`

// bucketTTLSeconds bounds how long an idle project's bucket state lives.
const bucketTTLSeconds = 60

// Allow checks whether a hook POST for projectName should be admitted.
// Returns allowed, remaining tokens, and the time the bucket next refills.
//
// The check runs as a Lua script so the read-refill-consume-write cycle
// is atomic on the Redis server. When the client is REST-only (no
// scripting), Allow degrades to a non-atomic approximation whose race
// window can briefly over-admit; see allowNonAtomic.
func (l *Limiter) Allow(ctx context.Context, projectName string) (bool, int, time.Time, error) {
	if projectName == "" {
		return false, 0, time.Now(), errors.New("project name is required")
	}

	key := l.buildKey(projectName)
	now := time.Now()

	tokensPerSecond := float64(l.config.RequestsPerMinute) / 60.0
	maxTokens := l.config.BurstSize

	res, err := l.client.Eval(ctx, allowScript,
		[]string{key, key + ":time"},
		maxTokens, tokensPerSecond, now.Unix(), bucketTTLSeconds)
	if err == nil {
		return l.parseAllowReply(projectName, now, res)
	}
	if !errors.Is(err, redisx.ErrScriptingUnavailable) {
		l.logger.Error("rate limit script failed", "key", key, "error", err)
		return false, 0, now, fmt.Errorf("%w: %v", ErrRedisConnection, err)
	}

	return l.allowNonAtomic(ctx, projectName, key, now, tokensPerSecond, maxTokens)
}

// parseAllowReply decodes the script's {allowed, remaining, reset_at}
// array reply.
func (l *Limiter) parseAllowReply(projectName string, now time.Time, res any) (bool, int, time.Time, error) {
	reply, ok := res.([]any)
	if !ok || len(reply) != 3 {
		return false, 0, now, fmt.Errorf("%w: unexpected script reply %v", ErrRedisConnection, res)
	}
	allowed := toInt64(reply[0]) == 1
	remaining := int(toInt64(reply[1]))
	resetAt := time.Unix(toInt64(reply[2]), 0)

	if !allowed {
		l.logger.Warn("rate limit exceeded", "project", projectName, "remaining", remaining)
	}
	return allowed, remaining, resetAt, nil
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case string:
		parsed, _ := strconv.ParseInt(n, 10, 64)
		return parsed
	default:
		return 0
	}
}

// allowNonAtomic is the REST-only degradation: two Get round-trips and
// two Set round-trips with no atomicity between them. Concurrent
// requests racing in the window can each read the same token count and
// all be admitted, so the bucket briefly over-admits under contention;
// the limit still converges once the writes land. Acceptable only
// because a REST-only deployment has already accepted best-effort
// semantics for every other Redis-backed feature.
func (l *Limiter) allowNonAtomic(ctx context.Context, projectName, key string, now time.Time, tokensPerSecond float64, maxTokens int) (bool, int, time.Time, error) {
	currentTokensStr, err := l.client.Get(ctx, key)
	var currentTokens float64
	var lastRefill time.Time

	if err != nil || currentTokensStr == "" {
		currentTokens = float64(maxTokens)
		lastRefill = now
	} else {
		currentTokens, err = strconv.ParseFloat(currentTokensStr, 64)
		if err != nil {
			currentTokens = float64(maxTokens)
			lastRefill = now
		} else {
			lastRefillStr, _ := l.client.Get(ctx, key+":time")
			if lastRefillStr != "" {
				lastRefillUnix, _ := strconv.ParseInt(lastRefillStr, 10, 64)
				lastRefill = time.Unix(lastRefillUnix, 0)
			} else {
				lastRefill = now
			}
		}
	}

	elapsed := now.Sub(lastRefill).Seconds()
	currentTokens = minFloat(currentTokens+elapsed*tokensPerSecond, float64(maxTokens))

	allowed := currentTokens >= 1.0
	if allowed {
		currentTokens -= 1.0
	}

	if err := l.client.Set(ctx, key, fmt.Sprintf("%.2f", currentTokens), time.Minute); err != nil {
		l.logger.Error("failed to update rate limit state", "key", key, "error", err)
		return false, 0, now, fmt.Errorf("%w: %v", ErrRedisConnection, err)
	}
	if err := l.client.Set(ctx, key+":time", strconv.FormatInt(now.Unix(), 10), time.Minute); err != nil {
		l.logger.Error("failed to update rate limit state", "key", key, "error", err)
		return false, 0, now, fmt.Errorf("%w: %v", ErrRedisConnection, err)
	}

	if !allowed {
		l.logger.Warn("rate limit exceeded", "project", projectName, "remaining", int(currentTokens))
	}

	return allowed, int(currentTokens), now.Add(time.Minute), nil
}

// Reset clears the bucket for projectName. Used by admin operations and
// tests.
func (l *Limiter) Reset(ctx context.Context, projectName string) error {
	key := l.buildKey(projectName)
	if err := l.client.Delete(ctx, key); err != nil {
		return fmt.Errorf("failed to delete rate limit key: %w", err)
	}
	return l.client.Delete(ctx, key+":time")
}

func (l *Limiter) buildKey(projectName string) string {
	return fmt.Sprintf("%s:project:%s", l.config.KeyPrefix, projectName)
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

// Error represents a rate limit exceeded error with retry details.
type Error struct {
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	return fmt.Sprintf("rate limit exceeded (remaining: %d, reset at: %s, retry after: %s)",
		e.Remaining, e.ResetAt.Format(time.RFC3339), e.RetryAfter)
}

// NewError builds an Error from the remaining/resetAt pair Allow returns.
func NewError(remaining int, resetAt time.Time) *Error {
	retryAfter := time.Until(resetAt)
	if retryAfter < 0 {
		retryAfter = 0
	}
	return &Error{Remaining: remaining, ResetAt: resetAt, RetryAfter: retryAfter}
}

// IsRateLimitError reports whether err is an *Error.
func IsRateLimitError(err error) bool {
	var rlErr *Error
	return errors.As(err, &rlErr)
}
