// Package aggregator merges record batches from the result queue into the
// owner's store and persists the store once the run is complete.
//
// The aggregator is the only goroutine that touches the store while a run is
// in progress. It moves through a fixed sequence of states:
//
//	Loading -> Merging -> Draining -> Persisting -> Done
//
// Loading is done by the caller (the store is handed over already loaded).
// Merging polls the result queue until Stop is called. Draining merges
// whatever is still queued without waiting. Persisting writes the store
// exactly once. A failed write ends in the Failed state and is fatal to the
// run.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/grid-harvester/pkg/queue"
	"github.com/Sternrassler/grid-harvester/pkg/record"
)

// ErrPersist wraps a failure to write the store.
var ErrPersist = errors.New("persist store")

// Prometheus metrics for the aggregator.
var (
	batchesMergedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_batches_merged_total",
		Help: "Record batches merged into the store",
	})

	storeRecords = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "harvester_store_records",
		Help: "Number of records in the store being merged",
	})

	persistDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "harvester_persist_duration_seconds",
		Help:    "Duration of writing the store",
		Buckets: prometheus.DefBuckets,
	})
)

// State is the aggregator lifecycle state.
type State int32

const (
	Loading State = iota
	Merging
	Draining
	Persisting
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case Loading:
		return "loading"
	case Merging:
		return "merging"
	case Draining:
		return "draining"
	case Persisting:
		return "persisting"
	case Done:
		return "done"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Persister writes the merged store. *storage.Persister implements it.
type Persister interface {
	Save(ctx context.Context, store *record.Store) error
}

// Config holds aggregator configuration.
type Config struct {
	// MergeWait bounds each poll of the result queue while merging.
	MergeWait time.Duration

	// Forward, if set, is called with every record after it was merged.
	// It runs on the aggregator goroutine and must not block for long.
	Forward func(record.Record)
}

// DefaultConfig returns the default aggregator configuration.
func DefaultConfig() Config {
	return Config{MergeWait: 500 * time.Millisecond}
}

// Aggregator owns the store for the duration of a run.
type Aggregator struct {
	store     *record.Store
	results   *queue.Queue[record.Batch]
	persister Persister
	config    Config
	logger    zerolog.Logger

	stop   atomic.Bool
	state  atomic.Int32
	merged atomic.Int64
	added  atomic.Int64
}

// New creates an aggregator over an already loaded store.
func New(store *record.Store, results *queue.Queue[record.Batch], persister Persister, config Config, logger zerolog.Logger) *Aggregator {
	if config.MergeWait <= 0 {
		config.MergeWait = DefaultConfig().MergeWait
	}
	if store == nil {
		store = record.NewStore()
	}
	return &Aggregator{
		store:     store,
		results:   results,
		persister: persister,
		config:    config,
		logger:    logger,
	}
}

// Stop asks the aggregator to finish. Only call it once every batch that
// should be merged has been put on the result queue.
func (a *Aggregator) Stop() {
	a.stop.Store(true)
}

// State returns the current lifecycle state.
func (a *Aggregator) State() State {
	return State(a.state.Load())
}

// Merged returns the number of batches merged so far.
func (a *Aggregator) Merged() int64 {
	return a.merged.Load()
}

// Added returns the number of keys that were new to the store.
func (a *Aggregator) Added() int64 {
	return a.added.Load()
}

// Store returns the store. It must not be read before Run returned.
func (a *Aggregator) Store() *record.Store {
	return a.store
}

// Run merges until stopped, closes and drains the result queue and persists
// the store. The store is persisted even when ctx is cancelled, so everything
// merged so far survives an interrupted run.
func (a *Aggregator) Run(ctx context.Context) error {
	a.setState(Merging)
	storeRecords.Set(float64(a.store.Len()))
	a.logger.Debug().Int("records", a.store.Len()).Msg("Aggregator merging")

	for !a.stop.Load() {
		batch, err := a.results.Get(ctx, a.config.MergeWait)
		if err != nil {
			if errors.Is(err, queue.ErrEmpty) {
				continue
			}
			// Closed or cancelled: nothing more can arrive.
			break
		}
		a.merge(batch)
	}

	// Late puts fail with queue.ErrClosed instead of landing after the drain.
	a.results.Close()
	a.setState(Draining)
	drained := 0
	for {
		batch, ok := a.results.TryGet()
		if !ok {
			break
		}
		a.merge(batch)
		drained++
	}
	if drained > 0 {
		a.logger.Debug().Int("batches", drained).Msg("Drained remaining batches")
	}

	a.setState(Persisting)
	start := time.Now()
	err := a.persister.Save(context.WithoutCancel(ctx), a.store)
	persistDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		a.setState(Failed)
		a.logger.Error().Err(err).Msg("Persisting store failed")
		return fmt.Errorf("%w: %w", ErrPersist, err)
	}

	a.setState(Done)
	a.logger.Info().
		Int64("batches", a.merged.Load()).
		Int64("added", a.added.Load()).
		Int("records", a.store.Len()).
		Msg("Aggregator done")
	return nil
}

func (a *Aggregator) merge(batch record.Batch) {
	added := a.store.Merge(batch)
	a.merged.Add(1)
	a.added.Add(int64(added))
	batchesMergedTotal.Inc()
	storeRecords.Set(float64(a.store.Len()))
	a.logger.Debug().
		Int("page", batch.Page).
		Int("records", batch.Len()).
		Int("added", added).
		Msg("Batch merged")

	if a.config.Forward != nil {
		for _, r := range batch.Records {
			a.config.Forward(r)
		}
	}

	if err := a.results.Done(); err != nil {
		a.logger.Error().Err(err).Int("page", batch.Page).Msg("Result queue acknowledgement failed")
	}
}

func (a *Aggregator) setState(s State) {
	a.state.Store(int32(s))
}
