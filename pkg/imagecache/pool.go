// Package imagecache downloads the image of every record into a
// content-addressed blob cache.
//
// Objects are keyed by owner, record id and width. An object that already
// exists is never fetched again, so repeated runs only download what is
// new. Writes go through a blob writer that is aborted on any error; with
// fileblob the object appears atomically on Close, so a failed download never
// leaves a partial image behind.
package imagecache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"gocloud.dev/blob"

	"github.com/Sternrassler/grid-harvester/pkg/queue"
	"github.com/Sternrassler/grid-harvester/pkg/record"
)

var (
	imagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvester_images_total",
		Help: "Resources processed by the image cache, by result",
	}, []string{"result"})

	imageBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_image_bytes_total",
		Help: "Bytes written to the image cache",
	})
)

// Config holds image cache configuration.
type Config struct {
	// Workers is the number of parallel downloads.
	Workers int

	// Width is the requested image width. Zero uses each record's own
	// width.
	Width int

	// Ext is the extension of cached objects.
	Ext string

	// PollInterval bounds each queue poll of a worker.
	PollInterval time.Duration
}

// DefaultConfig returns the default image cache configuration.
func DefaultConfig() Config {
	return Config{
		Workers:      5,
		Width:        300,
		Ext:          DefaultExt,
		PollInterval: 50 * time.Millisecond,
	}
}

// Stats counts what the pool did.
type Stats struct {
	Cached  int64
	Skipped int64
	Failed  int64
}

// Pool downloads resources of queued records into a bucket.
type Pool struct {
	bucket  *blob.Bucket
	fetcher Fetcher
	config  Config
	logger  zerolog.Logger

	cached  atomic.Int64
	skipped atomic.Int64
	failed  atomic.Int64
}

// New creates an image cache pool writing into bucket.
func New(bucket *blob.Bucket, fetcher Fetcher, config Config, logger zerolog.Logger) *Pool {
	defaults := DefaultConfig()
	if config.Workers <= 0 {
		config.Workers = defaults.Workers
	}
	if config.Ext == "" {
		config.Ext = defaults.Ext
	}
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	return &Pool{
		bucket:  bucket,
		fetcher: fetcher,
		config:  config,
		logger:  logger,
	}
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Cached:  p.cached.Load(),
		Skipped: p.skipped.Load(),
		Failed:  p.failed.Load(),
	}
}

// Run caches the resources of records taken from in until in is closed and
// drained. It returns ctx.Err() if ctx was cancelled first.
func (p *Pool) Run(ctx context.Context, in *queue.Queue[record.Record]) error {
	var wg sync.WaitGroup
	for i := 0; i < p.config.Workers; i++ {
		wg.Add(1)
		go p.worker(ctx, i, in, &wg)
	}
	wg.Wait()

	stats := p.Stats()
	p.logger.Info().
		Int64("cached", stats.Cached).
		Int64("skipped", stats.Skipped).
		Int64("failed", stats.Failed).
		Msg("Image cache finished")
	return ctx.Err()
}

func (p *Pool) worker(ctx context.Context, workerID int, in *queue.Queue[record.Record], wg *sync.WaitGroup) {
	defer wg.Done()
	logger := p.logger.With().Int("worker_id", workerID).Logger()

	for ctx.Err() == nil {
		r, err := in.Get(ctx, p.config.PollInterval)
		switch {
		case errors.Is(err, queue.ErrEmpty):
			continue
		case err != nil:
			return
		}

		p.process(ctx, logger, r)
		if err := in.Done(); err != nil {
			logger.Error().Err(err).Str("key", r.Key).Msg("Image queue acknowledgement failed")
		}
	}
}

func (p *Pool) process(ctx context.Context, logger zerolog.Logger, r record.Record) {
	result, err := p.cache(ctx, r)
	imagesTotal.WithLabelValues(result).Inc()
	switch result {
	case "cached":
		p.cached.Add(1)
	case "skipped":
		p.skipped.Add(1)
	default:
		p.failed.Add(1)
		logger.Warn().Err(err).Str("key", r.Key).Msg("Image not cached")
	}
}

// cache stores one record's resource and reports what happened.
func (p *Pool) cache(ctx context.Context, r record.Record) (string, error) {
	owner := r.Doc.Owner()
	if owner == "" {
		return "failed", fmt.Errorf("record %s: missing %s", r.Key, record.FieldOwner)
	}
	width := p.config.Width
	if width <= 0 {
		w, ok := r.Doc.Width()
		if !ok || w <= 0 {
			return "failed", fmt.Errorf("record %s: missing %s", r.Key, record.FieldWidth)
		}
		width = w
	}

	key := Key(owner, r.Key, width, p.config.Ext)
	exists, err := p.bucket.Exists(ctx, key)
	if err != nil {
		return "failed", fmt.Errorf("check %s: %w", key, err)
	}
	if exists {
		return "skipped", nil
	}

	url, err := ResourceURL(r.Doc, width)
	if err != nil {
		return "failed", fmt.Errorf("record %s: %w", r.Key, err)
	}

	body, err := p.fetcher.Fetch(ctx, url)
	if err != nil {
		return "failed", err
	}
	defer body.Close()

	n, err := p.write(ctx, key, body)
	if err != nil {
		return "failed", err
	}
	imageBytesTotal.Add(float64(n))
	return "cached", nil
}

// write streams body into key. On error the writer is aborted and no object
// is created.
func (p *Pool) write(ctx context.Context, key string, body io.Reader) (int64, error) {
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w, err := p.bucket.NewWriter(wctx, key, nil)
	if err != nil {
		return 0, fmt.Errorf("create writer %s: %w", key, err)
	}

	n, err := io.Copy(w, body)
	if err != nil {
		// Cancelling before Close discards the object.
		cancel()
		_ = w.Close()
		return 0, fmt.Errorf("write %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return 0, fmt.Errorf("close %s: %w", key, err)
	}
	return n, nil
}

// EnqueueStore puts every record of store on q and returns how many were
// queued. It does not close q.
func EnqueueStore(ctx context.Context, store *record.Store, q *queue.Queue[record.Record]) (int, error) {
	n := 0
	var err error
	store.Each(func(r record.Record) bool {
		if err = q.Put(ctx, r); err != nil {
			return false
		}
		n++
		return true
	})
	if err != nil {
		return n, fmt.Errorf("enqueue records: %w", err)
	}
	return n, nil
}
