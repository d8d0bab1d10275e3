package cache

import (
	"bytes"
	"io"
	"net/http"
	"strconv"
	"time"
)

// Entry is a cached HTTP response.
type Entry struct {
	// Data is the response body.
	Data []byte `json:"data"`

	// ETag for If-None-Match revalidation.
	ETag string `json:"etag,omitempty"`

	// Expires is when the entry becomes stale.
	Expires time.Time `json:"expires"`

	// LastModified for If-Modified-Since revalidation.
	LastModified time.Time `json:"last_modified,omitzero"`

	StatusCode int         `json:"status_code"`
	Headers    http.Header `json:"headers,omitempty"`
	CachedAt   time.Time   `json:"cached_at"`
}

// IsExpired returns true if the entry is stale.
func (e *Entry) IsExpired() bool {
	return !time.Now().Before(e.Expires)
}

// TTL returns the time until expiration, or 0 if already expired.
func (e *Entry) TTL() time.Duration {
	ttl := time.Until(e.Expires)
	if ttl < 0 {
		return 0
	}
	return ttl
}

// Response rebuilds an HTTP response for req from the entry.
func (e *Entry) Response(req *http.Request) *http.Response {
	header := e.Headers.Clone()
	if header == nil {
		header = make(http.Header)
	}
	header.Set("Content-Length", strconv.Itoa(len(e.Data)))

	status := e.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	return &http.Response{
		Status:        strconv.Itoa(status) + " " + http.StatusText(status),
		StatusCode:    status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(e.Data)),
		ContentLength: int64(len(e.Data)),
		Request:       req,
	}
}
