package pagination

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// ErrMalformedProbe is returned when the probe response does not carry a
// usable total count and page size. It aborts the whole run.
var ErrMalformedProbe = errors.New("malformed probe response")

// Job is one page to fetch. Jobs are immutable once enqueued.
type Job struct {
	Page int
	URL  string
}

// Plan returns the jobs needed to retrieve total records when the probe
// already returned the first pageSize of them. Page 1 is never included.
func Plan(total, pageSize int, pageURL func(page int) string) ([]Job, error) {
	remaining := total - pageSize
	if remaining <= 0 {
		return nil, nil
	}
	if pageSize <= 0 {
		return nil, fmt.Errorf("%w: page size %d with %d records", ErrMalformedProbe, pageSize, total)
	}

	pages := (remaining + pageSize - 1) / pageSize
	jobs := make([]Job, 0, pages)
	for page := 2; page <= pages+1; page++ {
		jobs = append(jobs, Job{Page: page, URL: pageURL(page)})
	}
	return jobs, nil
}

// Endpoint describes how to address one page of the records endpoint.
type Endpoint struct {
	// BaseURL is scheme and host, e.g. "https://vsco.co".
	BaseURL string

	// Path of the records endpoint. It may embed an access token.
	Path string

	// Params are sent with every page request (e.g. site_id).
	Params url.Values

	// PageParam and SizeParam name the paging query parameters.
	PageParam string
	SizeParam string

	// PageSize is the number of records requested per page.
	PageSize int
}

// URL returns the address of the given page.
func (e Endpoint) URL(page int) string {
	q := url.Values{}
	for k, vs := range e.Params {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	pageParam, sizeParam := e.PageParam, e.SizeParam
	if pageParam == "" {
		pageParam = "page"
	}
	if sizeParam == "" {
		sizeParam = "size"
	}
	q.Set(pageParam, strconv.Itoa(page))
	if e.PageSize > 0 {
		q.Set(sizeParam, strconv.Itoa(e.PageSize))
	}

	base := strings.TrimRight(e.BaseURL, "/")
	path := "/" + strings.TrimLeft(e.Path, "/")
	return base + path + "?" + q.Encode()
}
