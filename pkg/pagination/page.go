package pagination

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/Sternrassler/grid-harvester/pkg/record"
)

// DefaultRecordsField is where the grid API puts the record list.
const DefaultRecordsField = "media"

// Page is one decoded response of the records endpoint.
type Page struct {
	Number int

	// Total and Size are nil when the response omitted them.
	Total *int
	Size  *int

	Docs []record.Document
}

// Counts returns the probe's total and page size, or ErrMalformedProbe if
// either is missing.
func (p *Page) Counts() (total, size int, err error) {
	if p == nil || p.Total == nil || p.Size == nil {
		return 0, 0, ErrMalformedProbe
	}
	return *p.Total, *p.Size, nil
}

// DecodePage parses a records response. The record list is read from
// recordsField; a missing list decodes as an empty page.
func DecodePage(r io.Reader, recordsField string) (*Page, error) {
	var raw map[string]json.RawMessage
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode page: %w", err)
	}

	page := &Page{}
	if v, ok := raw["total"]; ok {
		n, err := decodeCount(v)
		if err != nil {
			return nil, fmt.Errorf("decode total: %w", err)
		}
		page.Total = n
	}
	if v, ok := raw["size"]; ok {
		n, err := decodeCount(v)
		if err != nil {
			return nil, fmt.Errorf("decode size: %w", err)
		}
		page.Size = n
	}

	if v, ok := raw[recordsField]; ok {
		dec := json.NewDecoder(bytes.NewReader(v))
		dec.UseNumber()
		if err := dec.Decode(&page.Docs); err != nil {
			return nil, fmt.Errorf("decode %s: %w", recordsField, err)
		}
	}
	return page, nil
}

func decodeCount(v json.RawMessage) (*int, error) {
	var n *int
	if err := json.Unmarshal(v, &n); err != nil {
		return nil, err
	}
	return n, nil
}

// StatusError reports a page response with a non-success status.
type StatusError struct {
	URL        string
	StatusCode int
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("page %s: unexpected status %d", e.URL, e.StatusCode)
}

// Getter performs a GET request. *client.Client implements it.
type Getter interface {
	Get(ctx context.Context, url string) (*http.Response, error)
}

// HTTPSource fetches pages of one endpoint over HTTP.
type HTTPSource struct {
	client       Getter
	endpoint     Endpoint
	recordsField string
}

// NewHTTPSource creates a page source for endpoint.
func NewHTTPSource(client Getter, endpoint Endpoint, recordsField string) *HTTPSource {
	if recordsField == "" {
		recordsField = DefaultRecordsField
	}
	return &HTTPSource{
		client:       client,
		endpoint:     endpoint,
		recordsField: recordsField,
	}
}

// PageURL returns the address of a page.
func (s *HTTPSource) PageURL(page int) string {
	return s.endpoint.URL(page)
}

// Probe fetches page 1 and checks that it carries the total record count
// and page size.
func (s *HTTPSource) Probe(ctx context.Context) (*Page, error) {
	page, err := s.FetchPage(ctx, Job{Page: 1, URL: s.PageURL(1)})
	if err != nil {
		return nil, fmt.Errorf("probe: %w", err)
	}
	if _, _, err := page.Counts(); err != nil {
		return nil, fmt.Errorf("probe %s: %w", s.PageURL(1), err)
	}
	return page, nil
}

// FetchPage fetches and decodes one page.
func (s *HTTPSource) FetchPage(ctx context.Context, job Job) (*Page, error) {
	resp, err := s.client.Get(ctx, job.URL)
	if err != nil {
		return nil, fmt.Errorf("get page %d: %w", job.Page, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &StatusError{URL: job.URL, StatusCode: resp.StatusCode}
	}

	page, err := DecodePage(resp.Body, s.recordsField)
	if err != nil {
		return nil, fmt.Errorf("page %d: %w", job.Page, err)
	}
	page.Number = job.Page
	return page, nil
}
