package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func setupTracker(t *testing.T, config TrackerConfig) (*Tracker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewTracker(client, config, zerolog.Nop()), mr
}

func headers(remaining, reset string) http.Header {
	h := http.Header{}
	if remaining != "" {
		h.Set(HeaderRemaining, remaining)
	}
	if reset != "" {
		h.Set(HeaderReset, reset)
	}
	return h
}

func TestTracker_UpdateFromHeaders(t *testing.T) {
	tests := []struct {
		name          string
		headers       http.Header
		wantErr       bool
		wantState     bool
		wantRemaining int
	}{
		{name: "healthy", headers: headers("100", "60"), wantState: true, wantRemaining: 100},
		{name: "critical", headers: headers("0", "30"), wantState: true, wantRemaining: 0},
		{name: "no headers", headers: http.Header{}, wantState: false},
		{name: "invalid remaining", headers: headers("many", "60"), wantErr: true},
		{name: "missing reset", headers: headers("5", ""), wantErr: true},
		{name: "invalid reset", headers: headers("5", "soon"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracker, _ := setupTracker(t, TrackerConfig{})
			ctx := context.Background()

			err := tracker.UpdateFromHeaders(ctx, "vsco.co", tt.headers)
			if (err != nil) != tt.wantErr {
				t.Fatalf("UpdateFromHeaders() error = %v, wantErr %v", err, tt.wantErr)
			}

			state, err := tracker.GetState(ctx, "vsco.co")
			if err != nil {
				t.Fatalf("GetState() error = %v", err)
			}
			if (state != nil) != tt.wantState {
				t.Fatalf("GetState() = %+v, want state %v", state, tt.wantState)
			}
			if state != nil && state.Remaining != tt.wantRemaining {
				t.Errorf("Remaining = %d, want %d", state.Remaining, tt.wantRemaining)
			}
		})
	}
}

func TestTracker_StateExpiresWithWindow(t *testing.T) {
	tracker, mr := setupTracker(t, TrackerConfig{})
	ctx := context.Background()

	if err := tracker.UpdateFromHeaders(ctx, "vsco.co", headers("0", "30")); err != nil {
		t.Fatal(err)
	}
	if !mr.Exists(RedisKeyPrefix + "vsco.co") {
		t.Fatal("state not stored")
	}

	mr.FastForward(31 * time.Second)
	state, err := tracker.GetState(ctx, "vsco.co")
	if err != nil {
		t.Fatal(err)
	}
	if state != nil {
		t.Errorf("state survived its window: %+v", state)
	}
}

func TestTracker_StatePerHost(t *testing.T) {
	tracker, _ := setupTracker(t, TrackerConfig{})
	ctx := context.Background()

	if err := tracker.UpdateFromHeaders(ctx, "a.test", headers("0", "30")); err != nil {
		t.Fatal(err)
	}
	if _, err := tracker.Allow(ctx, "b.test"); err != nil {
		t.Errorf("Allow(b.test) = %v, want nil", err)
	}
}

func TestTracker_Allow(t *testing.T) {
	tests := []struct {
		name      string
		remaining string
		wantErr   error
		wantDelay bool
	}{
		{name: "healthy", remaining: "50"},
		{name: "warning", remaining: "5", wantDelay: true},
		{name: "critical", remaining: "1", wantErr: ErrBudgetExhausted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracker, _ := setupTracker(t, TrackerConfig{ThrottleDelay: 30 * time.Millisecond})
			ctx := context.Background()
			if err := tracker.UpdateFromHeaders(ctx, "vsco.co", headers(tt.remaining, "20")); err != nil {
				t.Fatal(err)
			}

			start := time.Now()
			wait, err := tracker.Allow(ctx, "vsco.co")
			elapsed := time.Since(start)

			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Allow() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr != nil && (wait <= 0 || wait > 20*time.Second) {
				t.Errorf("Allow() wait = %v, want time until reset", wait)
			}
			if tt.wantDelay && elapsed < 30*time.Millisecond {
				t.Errorf("warning level not throttled (took %v)", elapsed)
			}
			if !tt.wantDelay && elapsed > 25*time.Millisecond {
				t.Errorf("request delayed by %v", elapsed)
			}
		})
	}
}

func TestTracker_AllowThrottleCancelled(t *testing.T) {
	tracker, _ := setupTracker(t, TrackerConfig{ThrottleDelay: time.Hour})
	if err := tracker.UpdateFromHeaders(context.Background(), "vsco.co", headers("5", "60")); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := tracker.Allow(ctx, "vsco.co"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Allow() = %v, want deadline exceeded", err)
	}
}

func TestTracker_AllowIgnoresStaleState(t *testing.T) {
	tracker, mr := setupTracker(t, TrackerConfig{MaxStateAge: time.Minute})
	ctx := context.Background()

	now := time.Now()
	mr.HSet(redisKey("vsco.co"),
		"remaining", "0",
		"reset_at", strconv.FormatInt(now.Add(time.Hour).UnixMilli(), 10),
		"last_update", strconv.FormatInt(now.Add(-2*time.Minute).UnixMilli(), 10),
	)

	if _, err := tracker.Allow(ctx, "vsco.co"); err != nil {
		t.Errorf("Allow() error = %v, want nil for a stale state", err)
	}

	mr.HSet(redisKey("vsco.co"), "last_update", strconv.FormatInt(now.UnixMilli(), 10))
	if _, err := tracker.Allow(ctx, "vsco.co"); !errors.Is(err, ErrBudgetExhausted) {
		t.Errorf("Allow() error = %v, want ErrBudgetExhausted for a fresh state", err)
	}
}
