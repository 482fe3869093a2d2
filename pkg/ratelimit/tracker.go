package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Prometheus metrics for rate limit tracking.
var (
	helixRateLimitRemaining = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "helix_rate_limit_remaining",
		Help: "Points remaining in the current Helix rate limit bucket",
	})

	helixRateLimitThrottlesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "helix_rate_limit_throttles_total",
		Help: "Total number of responses that started or extended a cooldown",
	})

	helixRateLimitWaitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "helix_rate_limit_waits_total",
		Help: "Total number of requests held back by a cooldown",
	})

	helixRateLimitWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "helix_rate_limit_wait_seconds",
		Help:    "Time requests spent waiting for a cooldown to end",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60},
	})
)

// extendBlock sets KEYS[1] to ARGV[1] (unix millis) only if that is later
// than the stored value, expiring the key after ARGV[2] milliseconds.
var extendBlock = redis.NewScript(`
local current = tonumber(redis.call("GET", KEYS[1]) or "0")
if tonumber(ARGV[1]) > current then
	redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
	return 1
end
return 0
`)

// Tracker holds requests back while the server has signalled a cooldown.
// It is safe for concurrent use; every request of a client shares one.
type Tracker struct {
	redis   *redis.Client
	limiter *rate.Limiter
	logger  zerolog.Logger

	mu           sync.Mutex
	state        RateLimitState
	blockedUntil time.Time
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithRedis shares the cooldown with every tracker using the same Redis.
func WithRedis(client *redis.Client) Option {
	return func(t *Tracker) {
		t.redis = client
	}
}

// WithRequestRate adds a client-side limit of perSecond requests with the
// given burst. A non-positive rate disables it.
func WithRequestRate(perSecond float64, burst int) Option {
	return func(t *Tracker) {
		if perSecond <= 0 {
			t.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		t.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// NewTracker creates a new rate limit tracker.
func NewTracker(logger zerolog.Logger, opts ...Option) *Tracker {
	t := &Tracker{logger: logger}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// State returns the last bucket state parsed by this tracker.
func (t *Tracker) State() RateLimitState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// GetState retrieves the bucket state, preferring the shared copy in Redis.
// Without Redis, or when Redis holds nothing yet, the local state is returned.
func (t *Tracker) GetState(ctx context.Context) (*RateLimitState, error) {
	local := t.State()
	if t.redis == nil {
		return &local, nil
	}

	remaining, err := t.redis.Get(ctx, RedisKeyRemaining).Int()
	if errors.Is(err, redis.Nil) {
		return &local, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get remaining: %w", err)
	}

	resetTimestamp, err := t.redis.Get(ctx, RedisKeyResetTimestamp).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get reset timestamp: %w", err)
	}

	state := &RateLimitState{
		Limit:     local.Limit,
		Remaining: remaining,
		ResetAt:   time.Unix(resetTimestamp, 0),
	}

	lastUpdateStr, err := t.redis.Get(ctx, RedisKeyLastUpdate).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get last update: %w", err)
	}
	if lastUpdateStr != "" {
		if err := json.Unmarshal([]byte(lastUpdateStr), &state.LastUpdate); err != nil {
			return nil, fmt.Errorf("parse last update: %w", err)
		}
	}

	return state, nil
}

// BlockedUntil returns the instant before which no request may be sent.
// The zero time means no cooldown was ever signalled.
func (t *Tracker) BlockedUntil(ctx context.Context) time.Time {
	t.mu.Lock()
	until := t.blockedUntil
	t.mu.Unlock()

	if t.redis == nil {
		return until
	}

	millis, err := t.redis.Get(ctx, RedisKeyBlockedUntil).Int64()
	if err != nil {
		if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
			t.logger.Warn().Err(err).Msg("Failed to read shared cooldown, using local state")
		}
		return until
	}
	if shared := time.UnixMilli(millis); shared.After(until) {
		return shared
	}
	return until
}

// Block holds requests back until the given instant. A cooldown is only ever
// extended, never shortened.
func (t *Tracker) Block(ctx context.Context, until time.Time) {
	t.mu.Lock()
	extended := until.After(t.blockedUntil)
	if extended {
		t.blockedUntil = until
	}
	t.mu.Unlock()

	if !extended {
		return
	}

	helixRateLimitThrottlesTotal.Inc()
	t.logger.Warn().
		Time("blocked_until", until).
		Dur("cooldown", time.Until(until)).
		Msg("Helix rate limit cooldown started")

	if t.redis == nil {
		return
	}
	ttl := time.Until(until)
	if ttl <= 0 {
		return
	}
	if err := extendBlock.Run(ctx, t.redis, []string{RedisKeyBlockedUntil}, until.UnixMilli(), ttl.Milliseconds()+1).Err(); err != nil {
		t.logger.Warn().Err(err).Msg("Failed to share cooldown in Redis")
	}
}

// Wait suspends the caller while a cooldown is active. The deadline is read
// again after every wait, so a cooldown extended in the meantime is honoured.
func (t *Tracker) Wait(ctx context.Context) error {
	for {
		until := t.BlockedUntil(ctx)
		d := time.Until(until)
		if until.IsZero() || d <= 0 {
			break
		}

		helixRateLimitWaitsTotal.Inc()
		helixRateLimitWaitSeconds.Observe(d.Seconds())
		t.logger.Debug().
			Dur("wait", d).
			Time("blocked_until", until).
			Msg("Waiting for rate limit cooldown")

		timer := time.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	if t.limiter == nil {
		return nil
	}
	return t.limiter.Wait(ctx)
}

// UpdateFromHeaders parses the Helix rate limit headers of a response and
// starts a cooldown when the response was throttled (429) or the bucket is
// empty. It must be called for every response, successful or not.
func (t *Tracker) UpdateFromHeaders(ctx context.Context, statusCode int, headers http.Header) error {
	state, parseErr := parseHeaders(headers)

	throttled := statusCode == http.StatusTooManyRequests
	if state != nil {
		t.mu.Lock()
		t.state = *state
		t.mu.Unlock()

		helixRateLimitRemaining.Set(float64(state.Remaining))
		if state.IsExhausted() {
			throttled = true
		}
		t.store(ctx, state)
	}

	if throttled {
		t.Block(ctx, cooldownEnd(state, headers))
	}

	if state != nil {
		logEvent := t.logger.Debug()
		if throttled {
			logEvent = t.logger.Warn()
		}
		logEvent.
			Int("limit", state.Limit).
			Int("remaining", state.Remaining).
			Time("reset_at", state.ResetAt).
			Bool("throttled", throttled).
			Msg("Helix rate limit state updated")
	}

	return parseErr
}

// store writes the bucket state to Redis atomically.
func (t *Tracker) store(ctx context.Context, state *RateLimitState) {
	if t.redis == nil {
		return
	}

	lastUpdateJSON, err := json.Marshal(state.LastUpdate)
	if err != nil {
		t.logger.Warn().Err(err).Msg("Failed to marshal last update")
		return
	}

	pipe := t.redis.Pipeline()
	pipe.Set(ctx, RedisKeyRemaining, state.Remaining, 0)
	pipe.Set(ctx, RedisKeyResetTimestamp, state.ResetAt.Unix(), 0)
	pipe.Set(ctx, RedisKeyLastUpdate, lastUpdateJSON, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		t.logger.Warn().Err(err).Msg("Failed to store rate limit state in Redis")
	}
}

// parseHeaders returns nil when the response carries no Ratelimit-Remaining
// header, which is normal for the token endpoint and some legacy endpoints.
func parseHeaders(headers http.Header) (*RateLimitState, error) {
	remainStr := headers.Get(HeaderRemaining)
	if remainStr == "" {
		return nil, nil
	}

	remaining, err := strconv.Atoi(remainStr)
	if err != nil {
		return nil, fmt.Errorf("parse %s header: %w", HeaderRemaining, err)
	}

	resetStr := headers.Get(HeaderReset)
	if resetStr == "" {
		return nil, fmt.Errorf("%s header missing", HeaderReset)
	}
	resetUnix, err := strconv.ParseInt(resetStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse %s header: %w", HeaderReset, err)
	}

	state := &RateLimitState{
		Remaining:  remaining,
		ResetAt:    time.Unix(resetUnix, 0),
		LastUpdate: time.Now(),
	}

	if limitStr := headers.Get(HeaderLimit); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			return state, fmt.Errorf("parse %s header: %w", HeaderLimit, err)
		}
		state.Limit = limit
	}

	return state, nil
}

// cooldownEnd picks the end of a cooldown: the bucket reset if it lies in the
// future, else Retry-After, else DefaultCooldown from now.
func cooldownEnd(state *RateLimitState, headers http.Header) time.Time {
	now := time.Now()
	if state != nil && state.ResetAt.After(now) {
		return state.ResetAt
	}

	if retryAfter := headers.Get(HeaderRetryAfter); retryAfter != "" {
		if seconds, err := strconv.ParseFloat(retryAfter, 64); err == nil && seconds > 0 {
			return now.Add(time.Duration(seconds * float64(time.Second)))
		}
		if at, err := http.ParseTime(retryAfter); err == nil && at.After(now) {
			return at
		}
	}

	return now.Add(DefaultCooldown)
}
