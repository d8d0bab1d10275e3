// Package harvest runs one complete metadata harvest of an owner's grid.
//
// A run probes page 1 for the total record count and page size, plans the
// remaining pages, and hands them to a pool of fetch workers. Every fetched
// page becomes a batch on the result queue, which a single aggregator merges
// into the owner's store. Once both queues are joined the aggregator is
// stopped and persists the store. When a resource cache is configured, every
// merged record is forwarded to it while the merge is still running.
//
// # Usage
//
//	source := pagination.NewHTTPSource(apiClient, endpoint, "media")
//	persister := storage.NewPersister(bucket, storage.StoreKey("slowed"), logger)
//
//	h := harvest.New(source, persister, harvest.DefaultConfig(), logger)
//	result, err := h.Run(ctx)
//	if err != nil {
//		return err
//	}
//	fmt.Printf("%d records stored\n", result.StoreSize)
package harvest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/Sternrassler/grid-harvester/pkg/aggregator"
	"github.com/Sternrassler/grid-harvester/pkg/pagination"
	"github.com/Sternrassler/grid-harvester/pkg/queue"
	"github.com/Sternrassler/grid-harvester/pkg/record"
)

// Source probes and fetches pages. *pagination.HTTPSource implements it.
type Source interface {
	pagination.PageFetcher
	Probe(ctx context.Context) (*pagination.Page, error)
	PageURL(page int) string
}

// Persister loads the store before a run and saves it after.
// *storage.Persister implements it.
type Persister interface {
	Load(ctx context.Context) (*record.Store, error)
	aggregator.Persister
}

// ResourceCache consumes merged records until its queue is closed and
// drained. *imagecache.Pool implements it.
type ResourceCache interface {
	Run(ctx context.Context, in *queue.Queue[record.Record]) error
}

// Config holds harvest configuration.
type Config struct {
	// Workers is the maximum number of fetch workers. Fewer are started
	// when there are fewer pages.
	Workers int

	// PollInterval bounds each work queue poll of a fetch worker.
	PollInterval time.Duration

	// MergeWait bounds each result queue poll of the aggregator.
	MergeWait time.Duration

	// ResultCapacity bounds the result queue. Zero means unbounded.
	ResultCapacity int

	// FetchTimeout limits a single page fetch. Zero means no limit.
	FetchTimeout time.Duration

	// KeyField is the document field records are keyed by.
	KeyField string

	// Images, if set, receives every merged record.
	Images ResourceCache
}

// DefaultConfig returns the default harvest configuration.
func DefaultConfig() Config {
	return Config{
		Workers:      5,
		PollInterval: 50 * time.Millisecond,
		MergeWait:    500 * time.Millisecond,
		KeyField:     record.FieldID,
	}
}

// Result summarizes a finished run.
type Result struct {
	RunID        string
	Total        int
	Jobs         int
	Workers      int
	PagesFetched int64
	PagesFailed  int64
	Batches      int64
	Records      int64
	Added        int64
	StoreSize    int
	Duration     time.Duration
}

// Harvester runs harvests. A Harvester runs one harvest at a time.
type Harvester struct {
	source    Source
	persister Persister
	config    Config
	logger    zerolog.Logger

	runMu    sync.Mutex
	progress progressTracker
}

// New creates a harvester.
func New(source Source, persister Persister, config Config, logger zerolog.Logger) *Harvester {
	defaults := DefaultConfig()
	if config.Workers <= 0 {
		config.Workers = defaults.Workers
	}
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.MergeWait <= 0 {
		config.MergeWait = defaults.MergeWait
	}
	if config.KeyField == "" {
		config.KeyField = defaults.KeyField
	}

	return &Harvester{
		source:    source,
		persister: persister,
		config:    config,
		logger:    logger,
	}
}

// Progress returns a snapshot of the current or last run.
func (h *Harvester) Progress() Progress {
	return h.progress.snapshot()
}

// Run performs one harvest. A malformed probe or an unreadable store aborts
// the run before any page is fetched. Pages that fail to fetch are logged
// and dropped. When ctx is cancelled the records merged so far are still
// persisted and the cancellation error is returned.
func (h *Harvester) Run(ctx context.Context) (*Result, error) {
	h.runMu.Lock()
	defer h.runMu.Unlock()

	start := time.Now()
	runID := uuid.NewString()
	logger := h.logger.With().Str("run_id", runID).Logger()
	h.progress.begin(runID, start)

	result, err := h.run(ctx, runID, logger)
	if result != nil {
		result.Duration = time.Since(start)
	}
	if err != nil {
		h.progress.finish(PhaseFailed)
		logger.Error().Err(err).Dur("duration", time.Since(start)).Msg("Harvest failed")
		return result, err
	}

	h.progress.finish(PhaseDone)
	logger.Info().
		Int("jobs", result.Jobs).
		Int64("pages_fetched", result.PagesFetched).
		Int64("pages_failed", result.PagesFailed).
		Int64("added", result.Added).
		Int("store_size", result.StoreSize).
		Dur("duration", result.Duration).
		Msg("Harvest completed")
	return result, nil
}

func (h *Harvester) run(ctx context.Context, runID string, logger zerolog.Logger) (*Result, error) {
	// 1. Probe, plan and load.
	h.progress.setPhase(PhaseProbing)
	probe, err := h.source.Probe(ctx)
	if err != nil {
		return nil, fmt.Errorf("harvest: %w", err)
	}
	total, size, err := probe.Counts()
	if err != nil {
		return nil, fmt.Errorf("harvest: %w", err)
	}
	jobs, err := pagination.Plan(total, size, h.source.PageURL)
	if err != nil {
		return nil, fmt.Errorf("harvest: %w", err)
	}

	h.progress.setPhase(PhaseLoading)
	store, err := h.persister.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("harvest: load store: %w", err)
	}

	workers := min(h.config.Workers, len(jobs))
	result := &Result{
		RunID:   runID,
		Total:   total,
		Jobs:    len(jobs),
		Workers: workers,
	}
	logger.Info().
		Int("total", total).
		Int("page_size", size).
		Int("jobs", len(jobs)).
		Int("workers", workers).
		Int("stored", store.Len()).
		Msg("Harvest started")

	// 2. Fill the queues. The probe page is merged but never refetched.
	work := queue.New[pagination.Job](0)
	results := queue.New[record.Batch](h.config.ResultCapacity)

	probeBatch, skipped := record.NewBatch(1, probe.Docs, h.config.KeyField)
	if len(skipped) > 0 {
		logger.Warn().Int("page", 1).Int("skipped", len(skipped)).Msg("Records without key dropped")
	}
	if err := results.Put(ctx, probeBatch); err != nil {
		return result, fmt.Errorf("harvest: queue probe page: %w", err)
	}
	for _, job := range jobs {
		if err := work.Put(ctx, job); err != nil {
			return result, fmt.Errorf("harvest: queue job: %w", err)
		}
	}
	work.Close()

	// 3. and 4. Start workers, aggregator and resource cache.
	var images *queue.Queue[record.Record]
	aggConfig := aggregator.Config{MergeWait: h.config.MergeWait}
	if h.config.Images != nil {
		images = queue.New[record.Record](0)
		aggConfig.Forward = func(r record.Record) {
			if err := images.Put(ctx, r); err != nil {
				logger.Debug().Err(err).Str("key", r.Key).Msg("Record not forwarded to resource cache")
			}
		}
	}

	agg := aggregator.New(store, results, h.persister, aggConfig, logger.With().Str("component", "aggregator").Logger())
	pool := pagination.NewWorkerPool(h.source, pagination.PoolConfig{
		Workers:      workers,
		PollInterval: h.config.PollInterval,
		FetchTimeout: h.config.FetchTimeout,
		KeyField:     h.config.KeyField,
	}, logger.With().Str("component", "fetcher").Logger())
	h.progress.attach(len(jobs), pool, agg, images)
	h.progress.setPhase(PhaseFetching)

	g, gctx := errgroup.WithContext(ctx)
	aggDone := make(chan struct{})
	g.Go(func() error {
		defer close(aggDone)
		return agg.Run(gctx)
	})
	if images != nil {
		g.Go(func() error {
			return h.config.Images.Run(gctx, images)
		})
	}
	if workers > 0 {
		g.Go(func() error {
			pool.Run(gctx, work, results)
			return nil
		})
	}

	// 5. to 8. Join both queues, then stop the aggregator and wait for it.
	joinErr := work.Join(gctx)
	if joinErr == nil {
		h.progress.setPhase(PhaseMerging)
		joinErr = results.Join(gctx)
	}
	h.progress.setPhase(PhasePersisting)
	agg.Stop()
	<-aggDone

	// 9. Let the resource cache finish what was forwarded.
	if images != nil {
		images.Close()
		if joinErr == nil {
			h.progress.setPhase(PhaseCaching)
			joinErr = images.Join(gctx)
		}
	}

	groupErr := g.Wait()

	stats := pool.Stats()
	result.PagesFetched = stats.Fetched
	result.PagesFailed = stats.Failed
	result.Records = stats.Records + int64(probeBatch.Len())
	result.Batches = agg.Merged()
	result.Added = agg.Added()
	if agg.State() == aggregator.Done {
		result.StoreSize = agg.Store().Len()
	}

	if groupErr != nil {
		return result, fmt.Errorf("harvest: %w", groupErr)
	}
	if ctx.Err() != nil {
		return result, fmt.Errorf("harvest: %w", ctx.Err())
	}
	if joinErr != nil {
		return result, fmt.Errorf("harvest: %w", joinErr)
	}
	return result, nil
}
