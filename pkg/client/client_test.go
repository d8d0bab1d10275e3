package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/grid-harvester/pkg/ratelimit"
)

func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return rdb
}

func newTestClient(t *testing.T, rdb *redis.Client, attempts int) *Client {
	t.Helper()
	cfg := DefaultConfig("grid-harvester-test/1.0")
	cfg.Redis = rdb
	cfg.Retry = fastRetry(attempts)
	cfg.RateLimit.ThrottleDelay = time.Millisecond
	c, err := New(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(data)
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Config{}, zerolog.Nop()); err == nil {
		t.Error("expected error for missing user agent")
	}

	cfg := DefaultConfig("ua")
	cfg.RequestsPerSecond = -1
	if _, err := New(cfg, zerolog.Nop()); err == nil {
		t.Error("expected error for negative rate")
	}
}

func TestClient_UserAgent(t *testing.T) {
	var got string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("User-Agent")
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	c := newTestClient(t, nil, 1)
	resp, err := c.Get(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	resp.Body.Close()

	if got != "grid-harvester-test/1.0" {
		t.Errorf("User-Agent = %q", got)
	}
}

func TestClient_CacheHit(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Cache-Control", "max-age=60")
		w.Write([]byte(`{"total":1}`))
	}))
	defer server.Close()

	c := newTestClient(t, setupRedis(t), 1)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		resp, err := c.Get(ctx, server.URL+"/grid?page=1")
		if err != nil {
			t.Fatalf("Get() #%d error = %v", i, err)
		}
		if body := readBody(t, resp); body != `{"total":1}` {
			t.Errorf("body #%d = %q", i, body)
		}
	}

	if n := calls.Load(); n != 1 {
		t.Errorf("server calls = %d, want 1", n)
	}
}

func TestClient_StreamBypassesCache(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Cache-Control", "max-age=60")
		w.Write([]byte("jpeg"))
	}))
	defer server.Close()

	c := newTestClient(t, setupRedis(t), 1)
	for i := 0; i < 2; i++ {
		resp, err := c.Stream(context.Background(), server.URL+"/img.jpg")
		if err != nil {
			t.Fatalf("Stream() error = %v", err)
		}
		readBody(t, resp)
	}

	if n := calls.Load(); n != 2 {
		t.Errorf("server calls = %d, want 2", n)
	}
}

func TestClient_NotModified(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		w.Header().Set("Cache-Control", "max-age=0")
		w.Write([]byte(`{"v":1}`))
	}))
	defer server.Close()

	c := newTestClient(t, setupRedis(t), 1)
	ctx := context.Background()

	resp, err := c.Get(ctx, server.URL)
	if err != nil {
		t.Fatalf("first Get() error = %v", err)
	}
	readBody(t, resp)

	resp, err = c.Get(ctx, server.URL)
	if err != nil {
		t.Fatalf("second Get() error = %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200 from cache", resp.StatusCode)
	}
	if body := readBody(t, resp); body != `{"v":1}` {
		t.Errorf("body = %q", body)
	}
	if n := calls.Load(); n != 2 {
		t.Errorf("server calls = %d, want 2", n)
	}
}

func TestClient_Retry(t *testing.T) {
	tests := []struct {
		name      string
		statuses  []int
		attempts  int
		wantCalls int32
		wantErr   error
		wantCode  int
	}{
		{name: "server error then success", statuses: []int{500, 200}, attempts: 3, wantCalls: 2, wantCode: 200},
		{name: "rate limited then success", statuses: []int{429, 200}, attempts: 3, wantCalls: 2, wantCode: 200},
		{name: "not found returned", statuses: []int{404}, attempts: 3, wantCalls: 1, wantCode: 404},
		{name: "exhausted", statuses: []int{503, 503, 503}, attempts: 3, wantCalls: 3, wantErr: ErrRetryExhausted},
		{name: "no retry by default", statuses: []int{500, 200}, attempts: 1, wantCalls: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				n := int(calls.Add(1)) - 1
				status := tt.statuses[min(n, len(tt.statuses)-1)]
				w.WriteHeader(status)
				w.Write([]byte(strconv.Itoa(status)))
			}))
			defer server.Close()

			c := newTestClient(t, nil, tt.attempts)
			resp, err := c.Get(context.Background(), server.URL)

			if n := calls.Load(); n != tt.wantCalls {
				t.Errorf("calls = %d, want %d", n, tt.wantCalls)
			}
			switch {
			case tt.wantErr != nil:
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("error = %v, want %v", err, tt.wantErr)
				}
			case tt.wantCode != 0:
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				defer resp.Body.Close()
				if resp.StatusCode != tt.wantCode {
					t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantCode)
				}
			default:
				var apiErr *APIError
				if !errors.As(err, &apiErr) || apiErr.Class != ErrorClassServer {
					t.Errorf("error = %v, want server APIError", err)
				}
			}
		})
	}
}

func TestClient_RateLimited(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set(ratelimit.HeaderRemaining, "1")
		w.Header().Set(ratelimit.HeaderReset, "60")
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	c := newTestClient(t, setupRedis(t), 1)
	ctx := context.Background()

	resp, err := c.Stream(ctx, server.URL)
	if err != nil {
		t.Fatalf("first request error = %v", err)
	}
	resp.Body.Close()

	_, err = c.Stream(ctx, server.URL)
	if !errors.Is(err, ErrRateLimited) {
		t.Errorf("error = %v, want ErrRateLimited", err)
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("server calls = %d, want 1", n)
	}
}

func TestClient_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	c := newTestClient(t, nil, 3)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := c.Get(ctx, server.URL); !errors.Is(err, ErrContextCancelled) {
		t.Errorf("error = %v, want ErrContextCancelled", err)
	}
}
