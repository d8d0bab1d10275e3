package imagecache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/Sternrassler/grid-harvester/pkg/record"
)

// DefaultExt is the file extension of cached images.
const DefaultExt = "jpg"

// ErrNoResource is returned for records that do not reference an image.
var ErrNoResource = errors.New("record has no resource url")

// Key returns the object key of a cached resource: {owner}/{id}-{width}.{ext}.
func Key(owner, id string, width int, ext string) string {
	if ext == "" {
		ext = DefaultExt
	}
	return owner + "/" + id + "-" + strconv.Itoa(width) + "." + ext
}

// ResourceURL returns the address of a record's image at the given width.
// The API serves responsive_url without a scheme; http is assumed then.
func ResourceURL(doc record.Document, width int) (string, error) {
	raw := doc.ResponsiveURL()
	if raw == "" {
		return "", ErrNoResource
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + strings.TrimPrefix(raw, "//")
	}
	sep := "?"
	if strings.Contains(raw, "?") {
		sep = "&"
	}
	return raw + sep + "w=" + strconv.Itoa(width), nil
}

// Fetcher opens the body of a resource.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (io.ReadCloser, error)
}

// Streamer performs an uncached GET. *client.Client implements it.
type Streamer interface {
	Stream(ctx context.Context, url string) (*http.Response, error)
}

// StatusError reports a resource response with a non-success status.
type StatusError struct {
	URL        string
	StatusCode int
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("resource %s: unexpected status %d", e.URL, e.StatusCode)
}

// HTTPFetcher fetches resources over HTTP.
type HTTPFetcher struct {
	client Streamer
}

// NewHTTPFetcher creates a fetcher on top of client.
func NewHTTPFetcher(client Streamer) *HTTPFetcher {
	return &HTTPFetcher{client: client}
}

// Fetch returns the response body of url. The caller closes it.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (io.ReadCloser, error) {
	resp, err := f.client.Stream(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("get resource: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		return nil, &StatusError{URL: url, StatusCode: resp.StatusCode}
	}
	return resp.Body, nil
}
