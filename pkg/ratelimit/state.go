// Package ratelimit implements Helix rate limit tracking and request gating.
// It reads the Ratelimit-Limit, Ratelimit-Remaining and Ratelimit-Reset
// headers and holds requests back while the server has signalled a cooldown.
package ratelimit

import (
	"time"
)

// Helix rate limit response headers.
const (
	HeaderLimit      = "Ratelimit-Limit"
	HeaderRemaining  = "Ratelimit-Remaining"
	HeaderReset      = "Ratelimit-Reset"
	HeaderRetryAfter = "Retry-After"
)

// Redis keys for rate limit state storage.
const (
	RedisKeyRemaining      = "helix:rate_limit:remaining"
	RedisKeyResetTimestamp = "helix:rate_limit:reset_timestamp"
	RedisKeyLastUpdate     = "helix:rate_limit:last_update"
	RedisKeyBlockedUntil   = "helix:rate_limit:blocked_until"
)

// DefaultCooldown is used when the server throttles a request (429) without
// saying when to come back.
const DefaultCooldown = 1 * time.Second

// RateLimitState is the rate limit bucket as last reported by the server.
type RateLimitState struct {
	// Limit is the bucket size from the Ratelimit-Limit header.
	Limit int `json:"limit"`

	// Remaining is the number of points left, from Ratelimit-Remaining.
	Remaining int `json:"remaining"`

	// ResetAt is when the bucket refills, from Ratelimit-Reset (unix seconds).
	ResetAt time.Time `json:"reset_at"`

	// LastUpdate is when this state was parsed.
	LastUpdate time.Time `json:"last_update"`
}

// IsExhausted returns true if no points are left and the bucket has not
// refilled yet.
func (s *RateLimitState) IsExhausted() bool {
	return s.Remaining <= 0 && time.Now().Before(s.ResetAt)
}

// IsStale returns true if the state data is older than the given duration.
func (s *RateLimitState) IsStale(maxAge time.Duration) bool {
	return time.Since(s.LastUpdate) > maxAge
}

// TimeUntilReset returns the duration until the bucket refills.
// Returns 0 if the reset time has already passed.
func (s *RateLimitState) TimeUntilReset() time.Duration {
	duration := time.Until(s.ResetAt)
	if duration < 0 {
		return 0
	}
	return duration
}
