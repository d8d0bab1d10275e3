package pagination

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/grid-harvester/pkg/queue"
	"github.com/Sternrassler/grid-harvester/pkg/record"
)

// Prometheus metrics for page fetching.
var (
	pagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvester_pages_total",
		Help: "Pages processed by fetch workers, by outcome",
	}, []string{"status"})

	pageFetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "harvester_page_fetch_duration_seconds",
		Help:    "Duration of a single page fetch including decoding",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	})

	recordsSkippedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_records_skipped_total",
		Help: "Records dropped because they carried no key",
	})
)

// PageFetcher fetches one page. *HTTPSource implements it.
type PageFetcher interface {
	FetchPage(ctx context.Context, job Job) (*Page, error)
}

// PoolConfig holds fetch worker pool configuration.
type PoolConfig struct {
	// Workers is the number of parallel fetch workers.
	Workers int

	// PollInterval bounds how long a worker waits on an empty queue before
	// checking again.
	PollInterval time.Duration

	// FetchTimeout limits a single page fetch. Zero means no limit.
	FetchTimeout time.Duration

	// KeyField is the document field records are keyed by.
	KeyField string
}

// DefaultPoolConfig returns the default worker pool configuration.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		Workers:      5,
		PollInterval: 50 * time.Millisecond,
		KeyField:     record.FieldID,
	}
}

// PoolStats counts what the workers did.
type PoolStats struct {
	Fetched int64
	Failed  int64
	Records int64
}

// WorkerPool runs fetch workers that turn jobs into record batches.
type WorkerPool struct {
	fetcher PageFetcher
	config  PoolConfig
	logger  zerolog.Logger

	fetched atomic.Int64
	failed  atomic.Int64
	records atomic.Int64
}

// NewWorkerPool creates a worker pool.
func NewWorkerPool(fetcher PageFetcher, config PoolConfig, logger zerolog.Logger) *WorkerPool {
	defaults := DefaultPoolConfig()
	if config.Workers <= 0 {
		config.Workers = defaults.Workers
	}
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.KeyField == "" {
		config.KeyField = defaults.KeyField
	}

	return &WorkerPool{
		fetcher: fetcher,
		config:  config,
		logger:  logger,
	}
}

// Stats returns a snapshot of the pool counters.
func (p *WorkerPool) Stats() PoolStats {
	return PoolStats{
		Fetched: p.fetched.Load(),
		Failed:  p.failed.Load(),
		Records: p.records.Load(),
	}
}

// Run starts the workers and blocks until all of them have exited. Workers
// exit once work is closed and drained, or when ctx is cancelled between
// jobs.
func (p *WorkerPool) Run(ctx context.Context, work *queue.Queue[Job], results *queue.Queue[record.Batch]) {
	var wg sync.WaitGroup
	for i := 0; i < p.config.Workers; i++ {
		wg.Add(1)
		go p.worker(ctx, i, work, results, &wg)
	}
	wg.Wait()
}

// worker processes jobs from the work queue
func (p *WorkerPool) worker(ctx context.Context, workerID int, work *queue.Queue[Job], results *queue.Queue[record.Batch], wg *sync.WaitGroup) {
	defer wg.Done()
	logger := p.logger.With().Int("worker_id", workerID).Logger()
	jobsProcessed := 0

	for {
		if ctx.Err() != nil {
			logger.Debug().
				Int("jobs_processed", jobsProcessed).
				Msg("Worker stopping (context cancelled)")
			return
		}

		job, err := work.Get(ctx, p.config.PollInterval)
		switch {
		case errors.Is(err, queue.ErrEmpty):
			continue
		case errors.Is(err, queue.ErrClosed):
			logger.Debug().
				Int("jobs_processed", jobsProcessed).
				Msg("Worker completed")
			return
		case err != nil:
			logger.Debug().
				Err(err).
				Int("jobs_processed", jobsProcessed).
				Msg("Worker stopping (context cancelled)")
			return
		}

		p.process(ctx, logger, job, results)
		jobsProcessed++

		if err := work.Done(); err != nil {
			logger.Error().Err(err).Int("page", job.Page).Msg("Work queue acknowledgement failed")
		}
	}
}

// process fetches one job and hands its batch to the result queue.
// Failures are logged and the page is dropped.
func (p *WorkerPool) process(ctx context.Context, logger zerolog.Logger, job Job, results *queue.Queue[record.Batch]) {
	fetchCtx := ctx
	if p.config.FetchTimeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, p.config.FetchTimeout)
		defer cancel()
	}

	start := time.Now()
	page, err := p.fetcher.FetchPage(fetchCtx, job)
	pageFetchDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		p.failed.Add(1)
		pagesTotal.WithLabelValues("failed").Inc()
		logger.Warn().
			Err(err).
			Int("page", job.Page).
			Str("url", job.URL).
			Msg("Page fetch failed, records dropped")
		return
	}

	batch, skipped := record.NewBatch(job.Page, page.Docs, p.config.KeyField)
	if len(skipped) > 0 {
		recordsSkippedTotal.Add(float64(len(skipped)))
		logger.Warn().
			Int("page", job.Page).
			Int("skipped", len(skipped)).
			Str("key_field", p.config.KeyField).
			Msg("Records without key dropped")
	}

	if err := results.Put(ctx, batch); err != nil {
		p.failed.Add(1)
		pagesTotal.WithLabelValues("failed").Inc()
		logger.Warn().Err(err).Int("page", job.Page).Msg("Result handoff failed, records dropped")
		return
	}

	p.fetched.Add(1)
	p.records.Add(int64(batch.Len()))
	pagesTotal.WithLabelValues("ok").Inc()
	logger.Debug().
		Int("page", job.Page).
		Int("records", batch.Len()).
		Dur("duration", time.Since(start)).
		Msg("Page fetched")
}
