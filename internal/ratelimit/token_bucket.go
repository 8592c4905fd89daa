// Package ratelimit throttles run starts per caller and webhook deliveries
// per destination host with a Redis-backed token bucket.
package ratelimit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"net/url"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	ScopeStartRun = "start_run"
	ScopeWebhook  = "webhook"
)

const defaultKeyPrefix = "personaq:rl"

type Bucket struct {
	RequestsPerMinute int `yaml:"requestsPerMinute"`
	BurstSize         int `yaml:"burstSize"`
}

func (b Bucket) Enabled() bool {
	return b.RequestsPerMinute > 0 && b.BurstSize > 0
}

func (b Bucket) perSecond() float64 { return float64(b.RequestsPerMinute) / 60.0 }

// Decision is the outcome of one Allow call. Remaining is the whole number
// of tokens left after the call; it is -1 when the bucket is disabled.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

func unlimited() Decision { return Decision{Allowed: true, Remaining: -1} }

type Limiter interface {
	Allow(ctx context.Context, scope string, subject string, bucket Bucket) (Decision, error)
}

type Option func(*TokenBucketLimiter)

func WithKeyPrefix(prefix string) Option {
	return func(l *TokenBucketLimiter) {
		if p := strings.TrimSpace(prefix); p != "" {
			l.prefix = p
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(l *TokenBucketLimiter) {
		if now != nil {
			l.now = now
		}
	}
}

type TokenBucketLimiter struct {
	rdb    *redis.Client
	prefix string
	now    func() time.Time
}

func NewTokenBucketLimiter(rdb *redis.Client, opts ...Option) *TokenBucketLimiter {
	l := &TokenBucketLimiter{rdb: rdb, prefix: defaultKeyPrefix, now: time.Now}
	for _, o := range opts {
		o(l)
	}
	return l
}

// KEYS[1] bucket hash. ARGV: refill tokens/sec, capacity, now (ms), ttl (ms).
// Returns {allowed, remaining, retry_after_seconds}.
var tokenBucketScript = redis.NewScript(`
local state = redis.call("HMGET", KEYS[1], "tokens", "ts")
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local tokens = tonumber(state[1]) or capacity
local ts = tonumber(state[2]) or now
if ts > now then ts = now end

tokens = math.min(capacity, tokens + (now - ts) * rate / 1000.0)

local allowed = 0
local wait = 0
if tokens >= 1.0 then
  allowed = 1
  tokens = tokens - 1.0
elseif rate > 0 then
  wait = math.max(1, math.ceil((1.0 - tokens) / rate))
else
  wait = 60
end

redis.call("HSET", KEYS[1], "tokens", tokens, "ts", now)
redis.call("PEXPIRE", KEYS[1], tonumber(ARGV[4]))
return {allowed, math.floor(tokens), wait}
`)

func (l *TokenBucketLimiter) Allow(ctx context.Context, scope string, subject string, bucket Bucket) (Decision, error) {
	if l == nil || l.rdb == nil || !bucket.Enabled() {
		return unlimited(), nil
	}
	key := l.key(scope, subject)
	rate := bucket.perSecond()
	capacity := float64(bucket.BurstSize)

	res, err := tokenBucketScript.Run(ctx, l.rdb, []string{key},
		rate, capacity, l.now().UTC().UnixMilli(), bucketTTL(rate, capacity).Milliseconds()).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit %s: %w", scope, err)
	}
	vals, ok := res.([]interface{})
	if !ok || len(vals) < 3 {
		return Decision{}, fmt.Errorf("unexpected redis ratelimit response: %T", res)
	}

	allowed, _ := vals[0].(int64)
	remaining, _ := vals[1].(int64)
	wait, _ := vals[2].(int64)
	d := Decision{Allowed: allowed == 1, Remaining: int(remaining)}
	if !d.Allowed {
		if wait <= 0 {
			wait = 1
		}
		d.RetryAfter = time.Duration(wait) * time.Second
	}
	return d, nil
}

func (l *TokenBucketLimiter) key(scope, subject string) string {
	scope = strings.TrimSpace(scope)
	if scope == "" {
		scope = "default"
	}
	subject = strings.TrimSpace(subject)
	if subject == "" {
		subject = "unknown"
	}
	sum := sha256.Sum256([]byte(subject))
	return l.prefix + ":" + scope + ":" + hex.EncodeToString(sum[:])
}

// bucketTTL keeps idle state for two full refills, clamped to [30s, 1h].
func bucketTTL(ratePerSec, capacity float64) time.Duration {
	const (
		minTTL = 30 * time.Second
		maxTTL = time.Hour
	)
	if ratePerSec <= 0 || capacity <= 0 {
		return 2 * time.Minute
	}
	ttl := time.Duration(math.Ceil(2*capacity/ratePerSec))*time.Second + 5*time.Second
	switch {
	case ttl < minTTL:
		return minTTL
	case ttl > maxTTL:
		return maxTTL
	}
	return ttl
}

// WebhookSubject buckets deliveries by destination host so that distinct
// paths on one receiver share a budget.
func WebhookSubject(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return rawURL
	}
	return strings.ToLower(u.Host)
}
