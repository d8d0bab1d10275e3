package cache

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// setupTestRedis starts an in-memory Redis. Integration tests use a real
// instance through testcontainers-go.
func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client, mr
}

var testKey = Key{Host: "vsco.co", Path: "/medias", Query: map[string][]string{"page": {"2"}}}

func TestNewManager_Panic(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("NewManager should panic with nil redis client")
		}
	}()
	NewManager(nil)
}

func TestManager_SetAndGet(t *testing.T) {
	client, mr := setupTestRedis(t)
	manager := NewManager(client)
	ctx := context.Background()

	entry := &Entry{
		Data:       []byte(`{"media": []}`),
		ETag:       `"abc123"`,
		Expires:    time.Now().Add(5 * time.Minute),
		StatusCode: 200,
		Headers:    http.Header{"Content-Type": []string{"application/json"}},
		CachedAt:   time.Now(),
	}

	if err := manager.Set(ctx, testKey, entry, 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if !mr.Exists(testKey.String()) {
		t.Fatalf("key %s not stored", testKey)
	}

	got, err := manager.Get(ctx, testKey)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got.Data) != string(entry.Data) {
		t.Errorf("Data mismatch: got %s, want %s", got.Data, entry.Data)
	}
	if got.ETag != entry.ETag {
		t.Errorf("ETag mismatch: got %s, want %s", got.ETag, entry.ETag)
	}
}

func TestManager_Get_CacheMiss(t *testing.T) {
	client, _ := setupTestRedis(t)
	manager := NewManager(client)

	_, err := manager.Get(context.Background(), Key{Host: "h", Path: "/missing"})
	if !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Expected ErrCacheMiss, got %v", err)
	}
}

func TestManager_Set_Expired(t *testing.T) {
	client, mr := setupTestRedis(t)
	manager := NewManager(client)

	entry := &Entry{Data: []byte("x"), Expires: time.Now().Add(-time.Hour)}
	if err := manager.Set(context.Background(), testKey, entry, time.Hour); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if mr.Exists(testKey.String()) {
		t.Error("expired entry without validators was stored")
	}
}

func TestManager_RedisTTL(t *testing.T) {
	client, mr := setupTestRedis(t)
	manager := NewManager(client)
	ctx := context.Background()

	entry := &Entry{Data: []byte("x"), Expires: time.Now().Add(time.Minute)}
	if err := manager.Set(ctx, testKey, entry, time.Hour); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	mr.FastForward(2 * time.Minute)
	if mr.Exists(testKey.String()) {
		t.Error("entry without validators outlived its expiry")
	}
}

func TestManager_StaleEntryKeptForRevalidation(t *testing.T) {
	client, mr := setupTestRedis(t)
	manager := NewManager(client)
	ctx := context.Background()

	entry := &Entry{Data: []byte("x"), ETag: `"v1"`, Expires: time.Now().Add(50 * time.Millisecond)}
	if err := manager.Set(ctx, testKey, entry, time.Hour); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if ttl := mr.TTL(testKey.String()); ttl < time.Hour {
		t.Errorf("Redis TTL = %v, want at least the retain period", ttl)
	}

	time.Sleep(60 * time.Millisecond)

	stale, err := manager.Get(ctx, testKey)
	if !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("Expected ErrCacheMiss for stale entry, got %v", err)
	}
	if stale == nil || stale.ETag != `"v1"` {
		t.Fatalf("stale entry not returned for revalidation: %+v", stale)
	}

	if err := manager.Refresh(ctx, testKey, stale, time.Now().Add(time.Minute), time.Hour); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	fresh, err := manager.Get(ctx, testKey)
	if err != nil {
		t.Fatalf("Get after Refresh failed: %v", err)
	}
	if string(fresh.Data) != "x" {
		t.Errorf("Data = %s, want x", fresh.Data)
	}
}

func TestManager_InvalidEntry(t *testing.T) {
	client, mr := setupTestRedis(t)
	manager := NewManager(client)

	if err := mr.Set(testKey.String(), "not json"); err != nil {
		t.Fatal(err)
	}

	_, err := manager.Get(context.Background(), testKey)
	if !errors.Is(err, ErrInvalidEntry) {
		t.Errorf("Expected ErrInvalidEntry, got %v", err)
	}
	if mr.Exists(testKey.String()) {
		t.Error("invalid entry was not removed")
	}
}

func TestManager_Delete(t *testing.T) {
	client, _ := setupTestRedis(t)
	manager := NewManager(client)
	ctx := context.Background()

	entry := &Entry{Data: []byte("x"), Expires: time.Now().Add(time.Minute)}
	if err := manager.Set(ctx, testKey, entry, 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := manager.Delete(ctx, testKey); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := manager.Get(ctx, testKey); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Expected ErrCacheMiss after Delete, got %v", err)
	}
}

func TestManager_NilEntry(t *testing.T) {
	client, _ := setupTestRedis(t)
	manager := NewManager(client)

	if err := manager.Set(context.Background(), testKey, nil, 0); err == nil {
		t.Error("Set with nil entry should return error")
	}
	if err := manager.Refresh(context.Background(), testKey, nil, time.Now(), 0); err == nil {
		t.Error("Refresh with nil entry should return error")
	}
}
