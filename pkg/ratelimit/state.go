// Package ratelimit paces outgoing requests and honours the rate limit the
// remote API announces.
//
// Two mechanisms work together. A Pacer is a local token bucket that caps
// the request rate of this process. A Tracker reads the
// X-RateLimit-Remaining and X-RateLimit-Reset response headers and keeps the
// resulting state in Redis, so every harvester sharing the Redis instance
// backs off together when the remote budget runs low.
package ratelimit

import (
	"time"
)

// Response headers the tracker reads.
const (
	HeaderRemaining = "X-RateLimit-Remaining"
	HeaderReset     = "X-RateLimit-Reset"
)

// RedisKeyPrefix namespaces the per-host state hashes in Redis.
const RedisKeyPrefix = "harvester:rate_limit:"

// Default thresholds for request gating.
const (
	// DefaultCriticalRemaining blocks requests while fewer requests than
	// this remain in the window.
	DefaultCriticalRemaining = 2

	// DefaultWarningRemaining throttles requests while fewer requests than
	// this remain in the window.
	DefaultWarningRemaining = 10
)

// State is the remote rate limit state of one host.
type State struct {
	// Remaining is the number of requests left in the current window.
	Remaining int `json:"remaining"`

	// ResetAt is when the window resets.
	ResetAt time.Time `json:"reset_at"`

	// LastUpdate is when the state was last read from response headers.
	LastUpdate time.Time `json:"last_update"`
}

// IsStale returns true if the state is older than maxAge.
func (s *State) IsStale(maxAge time.Duration) bool {
	return time.Since(s.LastUpdate) > maxAge
}

// TimeUntilReset returns the duration until the window resets, or 0.
func (s *State) TimeUntilReset() time.Duration {
	d := time.Until(s.ResetAt)
	if d < 0 {
		return 0
	}
	return d
}

// Level classifies a state against thresholds.
type Level int

const (
	LevelHealthy Level = iota
	LevelWarning
	LevelCritical
)

func (l Level) String() string {
	switch l {
	case LevelWarning:
		return "warning"
	case LevelCritical:
		return "critical"
	default:
		return "healthy"
	}
}

// Level classifies the state. A window that already reset is healthy.
func (s *State) Level(critical, warning int) Level {
	if s.TimeUntilReset() == 0 {
		return LevelHealthy
	}
	switch {
	case s.Remaining < critical:
		return LevelCritical
	case s.Remaining < warning:
		return LevelWarning
	default:
		return LevelHealthy
	}
}
