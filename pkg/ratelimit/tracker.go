package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Prometheus metrics for rate limit tracking.
var (
	rateLimitRemaining = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "harvester_rate_limit_remaining",
		Help: "Requests remaining in the remote rate limit window",
	}, []string{"host"})

	rateLimitBlocksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_rate_limit_blocks_total",
		Help: "Requests blocked because the remote budget was exhausted",
	})

	rateLimitThrottlesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_rate_limit_throttles_total",
		Help: "Requests delayed because the remote budget ran low",
	})
)

// TrackerConfig holds tracker thresholds.
type TrackerConfig struct {
	CriticalRemaining int
	WarningRemaining  int

	// ThrottleDelay is how long a request is delayed in the warning level.
	ThrottleDelay time.Duration

	// MaxStateAge is how long a state read from headers gates requests. An
	// older state no longer reflects the remote window and is ignored.
	MaxStateAge time.Duration
}

// DefaultTrackerConfig returns the default thresholds.
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{
		CriticalRemaining: DefaultCriticalRemaining,
		WarningRemaining:  DefaultWarningRemaining,
		ThrottleDelay:     time.Second,
		MaxStateAge:       5 * time.Minute,
	}
}

// Tracker keeps remote rate limit state per host in Redis and gates requests.
type Tracker struct {
	redis  *redis.Client
	config TrackerConfig
	logger zerolog.Logger
}

// NewTracker creates a tracker.
func NewTracker(redisClient *redis.Client, config TrackerConfig, logger zerolog.Logger) *Tracker {
	defaults := DefaultTrackerConfig()
	if config.CriticalRemaining <= 0 {
		config.CriticalRemaining = defaults.CriticalRemaining
	}
	if config.WarningRemaining <= 0 {
		config.WarningRemaining = defaults.WarningRemaining
	}
	if config.ThrottleDelay <= 0 {
		config.ThrottleDelay = defaults.ThrottleDelay
	}
	if config.MaxStateAge <= 0 {
		config.MaxStateAge = defaults.MaxStateAge
	}
	return &Tracker{
		redis:  redisClient,
		config: config,
		logger: logger,
	}
}

func redisKey(host string) string {
	return RedisKeyPrefix + host
}

// GetState returns the state of host, or nil if none is known.
func (t *Tracker) GetState(ctx context.Context, host string) (*State, error) {
	values, err := t.redis.HGetAll(ctx, redisKey(host)).Result()
	if err != nil {
		return nil, fmt.Errorf("get rate limit state: %w", err)
	}
	if len(values) == 0 {
		return nil, nil
	}

	remaining, err := strconv.Atoi(values["remaining"])
	if err != nil {
		return nil, fmt.Errorf("parse remaining: %w", err)
	}
	resetAt, err := strconv.ParseInt(values["reset_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse reset_at: %w", err)
	}
	lastUpdate, err := strconv.ParseInt(values["last_update"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse last_update: %w", err)
	}

	return &State{
		Remaining:  remaining,
		ResetAt:    time.UnixMilli(resetAt),
		LastUpdate: time.UnixMilli(lastUpdate),
	}, nil
}

// UpdateFromHeaders stores the state announced by a response of host.
// Responses without rate limit headers are ignored. The Redis key expires
// when the window resets.
func (t *Tracker) UpdateFromHeaders(ctx context.Context, host string, headers http.Header) error {
	remainStr := headers.Get(HeaderRemaining)
	if remainStr == "" {
		return nil
	}
	remaining, err := strconv.Atoi(remainStr)
	if err != nil {
		return fmt.Errorf("parse %s header: %w", HeaderRemaining, err)
	}

	resetStr := headers.Get(HeaderReset)
	if resetStr == "" {
		return fmt.Errorf("%s header missing", HeaderReset)
	}
	resetSeconds, err := strconv.Atoi(resetStr)
	if err != nil {
		return fmt.Errorf("parse %s header: %w", HeaderReset, err)
	}
	if resetSeconds < 1 {
		resetSeconds = 1
	}

	now := time.Now()
	state := State{
		Remaining:  remaining,
		ResetAt:    now.Add(time.Duration(resetSeconds) * time.Second),
		LastUpdate: now,
	}

	key := redisKey(host)
	pipe := t.redis.TxPipeline()
	pipe.HSet(ctx, key,
		"remaining", state.Remaining,
		"reset_at", state.ResetAt.UnixMilli(),
		"last_update", state.LastUpdate.UnixMilli(),
	)
	pipe.ExpireAt(ctx, key, state.ResetAt)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store rate limit state in redis: %w", err)
	}

	rateLimitRemaining.WithLabelValues(host).Set(float64(remaining))

	level := state.Level(t.config.CriticalRemaining, t.config.WarningRemaining)
	switch level {
	case LevelCritical:
		t.logger.Warn().
			Str("host", host).
			Int("remaining", remaining).
			Time("reset_at", state.ResetAt).
			Msg("Rate limit critical - requests will be blocked")
	case LevelWarning:
		t.logger.Info().
			Str("host", host).
			Int("remaining", remaining).
			Msg("Rate limit low - requests will be throttled")
	default:
		t.logger.Debug().
			Str("host", host).
			Int("remaining", remaining).
			Msg("Rate limit state updated")
	}
	return nil
}

// ErrBudgetExhausted is returned by Allow when the window has no requests
// left.
var ErrBudgetExhausted = errors.New("remote rate limit exhausted")

// Allow gates a request to host. In the critical level it returns
// ErrBudgetExhausted together with the time until the window resets. In the
// warning level it delays the request by ThrottleDelay. States older than
// MaxStateAge are ignored.
func (t *Tracker) Allow(ctx context.Context, host string) (time.Duration, error) {
	state, err := t.GetState(ctx, host)
	if err != nil {
		return 0, err
	}
	if state == nil {
		return 0, nil
	}
	if state.IsStale(t.config.MaxStateAge) {
		t.logger.Debug().
			Str("host", host).
			Time("last_update", state.LastUpdate).
			Msg("Ignoring stale rate limit state")
		return 0, nil
	}

	switch state.Level(t.config.CriticalRemaining, t.config.WarningRemaining) {
	case LevelCritical:
		rateLimitBlocksTotal.Inc()
		wait := state.TimeUntilReset()
		t.logger.Warn().
			Str("host", host).
			Int("remaining", state.Remaining).
			Dur("wait", wait).
			Msg("Rate limit critical - blocking request")
		return wait, ErrBudgetExhausted

	case LevelWarning:
		rateLimitThrottlesTotal.Inc()
		timer := time.NewTimer(t.config.ThrottleDelay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	return 0, nil
}
