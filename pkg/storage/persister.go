package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"gocloud.dev/blob"

	"github.com/Sternrassler/grid-harvester/pkg/record"
)

// Prometheus metrics for the durable store.
var (
	storeLoadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvester_store_loads_total",
		Help: "Store loads by outcome (existing, missing, corrupt)",
	}, []string{"outcome"})

	storeBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "harvester_store_bytes",
		Help: "Size of the last persisted store in bytes",
	})
)

// StoreKey returns the object key of an owner's store.
func StoreKey(owner string) string {
	return owner + ".json"
}

// Persister loads and saves one record store object.
type Persister struct {
	bucket *blob.Bucket
	key    string
	logger zerolog.Logger
}

// NewPersister creates a persister for key inside bucket.
func NewPersister(bucket *blob.Bucket, key string, logger zerolog.Logger) *Persister {
	return &Persister{
		bucket: bucket,
		key:    key,
		logger: logger.With().Str("store", key).Logger(),
	}
}

// Load reads the store. A missing object yields an empty store. An object
// that is not a valid JSON object is logged and replaced by an empty store;
// it is overwritten on the next Save. Values that are not objects themselves
// are kept. Any other read error is returned.
func (p *Persister) Load(ctx context.Context) (*record.Store, error) {
	data, err := p.bucket.ReadAll(ctx, p.key)
	if err != nil {
		if IsNotExist(err) {
			storeLoadsTotal.WithLabelValues("missing").Inc()
			p.logger.Info().Msg("No existing store, starting empty")
			return record.NewStore(), nil
		}
		return nil, fmt.Errorf("storage: read %s: %w", p.key, err)
	}

	store := record.NewStore()
	if err := store.UnmarshalJSON(data); err != nil {
		storeLoadsTotal.WithLabelValues("corrupt").Inc()
		p.logger.Warn().
			Err(err).
			Int("bytes", len(data)).
			Msg("Store is not valid JSON, starting empty")
		return record.NewStore(), nil
	}

	storeLoadsTotal.WithLabelValues("existing").Inc()
	p.logger.Info().Int("records", store.Len()).Msg("Store loaded")
	return store, nil
}

// Save replaces the stored object with the full contents of store.
func (p *Persister) Save(ctx context.Context, store *record.Store) error {
	if store == nil {
		return errors.New("storage: nil store")
	}

	start := time.Now()
	data, err := store.MarshalJSON()
	if err != nil {
		return fmt.Errorf("storage: encode %s: %w", p.key, err)
	}
	if err := p.bucket.WriteAll(ctx, p.key, data, &blob.WriterOptions{ContentType: "application/json"}); err != nil {
		return fmt.Errorf("storage: write %s: %w", p.key, err)
	}

	storeBytes.Set(float64(len(data)))
	p.logger.Info().
		Int("records", store.Len()).
		Int("bytes", len(data)).
		Dur("duration", time.Since(start)).
		Msg("Store persisted")
	return nil
}
