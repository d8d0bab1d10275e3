// Package testutil provides testing utilities for the harvester.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MediaPath is the records endpoint served by MockAPI.
const MediaPath = "/ajxp/test-token/2.0/medias"

// ImagePathPrefix is where MockAPI serves image bytes.
const ImagePathPrefix = "/images/"

var presets = []string{"A6", "C1", "HB2"}

// MockAPI is a configurable mock of the paginated grid API and its image
// host.
type MockAPI struct {
	server *httptest.Server
	owner  string

	mu           sync.RWMutex
	records      []map[string]any
	pageSize     int
	pageStatus   map[int]int
	pageDelay    time.Duration
	omitCounts   bool
	imageStatus  int
	pageRequests map[int]int
	imageHits    int
	lastHeader   http.Header
}

// NewMockAPI serves count generated records for owner, pageSize per page.
func NewMockAPI(owner string, count, pageSize int) *MockAPI {
	m := &MockAPI{
		owner:        owner,
		pageSize:     pageSize,
		pageStatus:   make(map[int]int),
		pageRequests: make(map[int]int),
		imageStatus:  http.StatusOK,
	}

	mux := http.NewServeMux()
	mux.HandleFunc(MediaPath, m.handleMedia)
	mux.HandleFunc(ImagePathPrefix, m.handleImage)
	m.server = httptest.NewServer(mux)

	for i := 0; i < count; i++ {
		m.records = append(m.records, m.newRecord(i))
	}
	return m
}

func (m *MockAPI) newRecord(i int) map[string]any {
	id := RecordID(i)
	host := strings.TrimPrefix(m.server.URL, "http://")
	return map[string]any{
		"_id":             id,
		"perma_subdomain": m.owner,
		"responsive_url":  host + ImagePathPrefix + id + ".jpg",
		"width":           1024,
		"height":          768,
		"site_id":         113950,
		"is_video":        false,
		"image_meta":      map[string]any{"make": "FUJIFILM", "model": "X100S", "iso": 200},
		"preset":          map[string]any{"short_name": presets[i%len(presets)], "color": "#000000"},
	}
}

// RecordID returns the identifier of the i-th generated record.
func RecordID(i int) string {
	return fmt.Sprintf("rec-%05d", i)
}

// URL returns the mock server URL.
func (m *MockAPI) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockAPI) Close() {
	m.server.Close()
}

// SetPageStatus makes a page answer with status instead of records.
func (m *MockAPI) SetPageStatus(page, status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pageStatus[page] = status
}

// SetPageDelay delays every page response.
func (m *MockAPI) SetPageDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pageDelay = d
}

// OmitCounts drops "total" and "size" from responses.
func (m *MockAPI) OmitCounts(omit bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.omitCounts = omit
}

// SetImageStatus makes every image request answer with status.
func (m *MockAPI) SetImageStatus(status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.imageStatus = status
}

// UpdateRecord replaces a field of the i-th record.
func (m *MockAPI) UpdateRecord(i int, field string, value any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[i][field] = value
}

// PageRequests returns how often a page was requested.
func (m *MockAPI) PageRequests(page int) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pageRequests[page]
}

// TotalPageRequests returns the number of records endpoint requests.
func (m *MockAPI) TotalPageRequests() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	total := 0
	for _, n := range m.pageRequests {
		total += n
	}
	return total
}

// ImageRequests returns the number of image requests.
func (m *MockAPI) ImageRequests() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.imageHits
}

// LastRequestHeader returns the headers of the latest request.
func (m *MockAPI) LastRequestHeader() http.Header {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastHeader
}

// ImageBody returns the bytes served for a record id at width.
func ImageBody(id string, width string) []byte {
	return []byte("jpeg:" + id + ":" + width)
}

func (m *MockAPI) handleMedia(w http.ResponseWriter, r *http.Request) {
	page, err := strconv.Atoi(r.URL.Query().Get("page"))
	if err != nil || page < 1 {
		http.Error(w, `{"error": "bad page"}`, http.StatusBadRequest)
		return
	}
	size := m.pageSize
	if s, err := strconv.Atoi(r.URL.Query().Get("size")); err == nil && s > 0 {
		size = s
	}

	m.mu.Lock()
	m.pageRequests[page]++
	m.lastHeader = r.Header.Clone()
	status, forced := m.pageStatus[page]
	delay := m.pageDelay
	omit := m.omitCounts
	start := (page - 1) * size
	end := start + size
	if start > len(m.records) {
		start = len(m.records)
	}
	if end > len(m.records) {
		end = len(m.records)
	}
	media := make([]map[string]any, 0, end-start)
	for _, rec := range m.records[start:end] {
		cp := make(map[string]any, len(rec))
		for k, v := range rec {
			cp[k] = v
		}
		media = append(media, cp)
	}
	total := len(m.records)
	m.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-RateLimit-Remaining", "100")
	w.Header().Set("X-RateLimit-Reset", "60")
	if forced {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"error": "forced"}`))
		return
	}

	body := map[string]any{"media": media, "page": page}
	if !omit {
		body["total"] = total
		body["size"] = size
	}
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(body)
}

func (m *MockAPI) handleImage(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.imageHits++
	m.lastHeader = r.Header.Clone()
	status := m.imageStatus
	m.mu.Unlock()

	if status != http.StatusOK {
		w.WriteHeader(status)
		return
	}

	id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, ImagePathPrefix), ".jpg")
	w.Header().Set("Content-Type", "image/jpeg")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(ImageBody(id, r.URL.Query().Get("w")))
}
