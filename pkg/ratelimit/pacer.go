package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"
)

var pacerWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "harvester_rate_limit_pacer_wait_seconds",
	Help:    "Time requests waited for a local rate limit token",
	Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
})

// Pacer limits the local request rate with a token bucket. A nil Pacer does
// not limit.
type Pacer struct {
	limiter *rate.Limiter
}

// NewPacer allows requestsPerSecond with the given burst. It returns nil
// when requestsPerSecond <= 0.
func NewPacer(requestsPerSecond float64, burst int) *Pacer {
	if requestsPerSecond <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return &Pacer{limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), burst)}
}

// Wait blocks until a request may be sent or ctx is done.
func (p *Pacer) Wait(ctx context.Context) error {
	if p == nil {
		return nil
	}
	start := time.Now()
	if err := p.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("pacer: %w", err)
	}
	pacerWaitSeconds.Observe(time.Since(start).Seconds())
	return nil
}
