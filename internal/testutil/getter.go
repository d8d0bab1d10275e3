package testutil

import (
	"context"
	"net/http"
)

// HTTPGetter adapts an *http.Client to the Get(ctx, url) shape the
// harvester packages consume, without caching or rate limiting.
type HTTPGetter struct {
	Client *http.Client
}

// Get performs a plain GET request.
func (g HTTPGetter) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	c := g.Client
	if c == nil {
		c = http.DefaultClient
	}
	return c.Do(req)
}

// Stream performs a plain GET request. It exists so HTTPGetter can stand in
// for the client wherever an uncached stream is requested.
func (g HTTPGetter) Stream(ctx context.Context, url string) (*http.Response, error) {
	return g.Get(ctx, url)
}
