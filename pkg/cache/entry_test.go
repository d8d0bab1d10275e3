package cache

import (
	"io"
	"net/http"
	"testing"
	"time"
)

func TestEntry_IsExpired(t *testing.T) {
	tests := []struct {
		name    string
		expires time.Time
		want    bool
	}{
		{
			name:    "expired entry",
			expires: time.Now().Add(-1 * time.Hour),
			want:    true,
		},
		{
			name:    "valid entry",
			expires: time.Now().Add(1 * time.Hour),
			want:    false,
		},
		{
			name:    "zero expiry",
			expires: time.Time{},
			want:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry := &Entry{Expires: tt.expires}
			if got := entry.IsExpired(); got != tt.want {
				t.Errorf("IsExpired() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEntry_TTL(t *testing.T) {
	entry := &Entry{Expires: time.Now().Add(5 * time.Minute)}
	if got := entry.TTL(); got < 4*time.Minute+59*time.Second || got > 5*time.Minute {
		t.Errorf("TTL() = %v, want about 5m", got)
	}

	expired := &Entry{Expires: time.Now().Add(-time.Minute)}
	if got := expired.TTL(); got != 0 {
		t.Errorf("TTL() of expired entry = %v, want 0", got)
	}
}

func TestEntry_Response(t *testing.T) {
	req, _ := http.NewRequest(http.MethodGet, "http://example.test/x", nil)
	entry := &Entry{
		Data:       []byte(`{"media": []}`),
		StatusCode: http.StatusOK,
		Headers:    http.Header{"Content-Type": []string{"application/json"}},
	}

	resp := entry.Response(req)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want 200", resp.StatusCode)
	}
	if resp.Request != req {
		t.Error("Response not bound to request")
	}
	if got := resp.Header.Get("Content-Type"); got != "application/json" {
		t.Errorf("Content-Type = %q", got)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != `{"media": []}` {
		t.Errorf("Body = %s", body)
	}

	// The entry headers are not shared with the response.
	resp.Header.Set("X-Test", "1")
	if entry.Headers.Get("X-Test") != "" {
		t.Error("Response mutated the cached headers")
	}
}
