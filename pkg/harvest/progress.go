package harvest

import (
	"sync"
	"time"

	"github.com/Sternrassler/grid-harvester/pkg/aggregator"
	"github.com/Sternrassler/grid-harvester/pkg/pagination"
	"github.com/Sternrassler/grid-harvester/pkg/queue"
	"github.com/Sternrassler/grid-harvester/pkg/record"
)

// Phase is the stage a run is in.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseProbing    Phase = "probing"
	PhaseLoading    Phase = "loading"
	PhaseFetching   Phase = "fetching"
	PhaseMerging    Phase = "merging"
	PhasePersisting Phase = "persisting"
	PhaseCaching    Phase = "caching"
	PhaseDone       Phase = "done"
	PhaseFailed     Phase = "failed"
)

// Progress is a point-in-time view of a run.
type Progress struct {
	RunID           string    `json:"run_id,omitempty"`
	Phase           Phase     `json:"phase"`
	StartedAt       time.Time `json:"started_at,omitzero"`
	FinishedAt      time.Time `json:"finished_at,omitzero"`
	Jobs            int       `json:"jobs"`
	PagesPending    int       `json:"pages_pending"`
	PagesFetched    int64     `json:"pages_fetched"`
	PagesFailed     int64     `json:"pages_failed"`
	BatchesMerged   int64     `json:"batches_merged"`
	RecordsAdded    int64     `json:"records_added"`
	AggregatorState string    `json:"aggregator_state,omitempty"`
	ImagesPending   int       `json:"images_pending"`
}

// progressTracker holds references to the live components of a run.
type progressTracker struct {
	mu       sync.Mutex
	runID    string
	phase    Phase
	started  time.Time
	finished time.Time
	jobs     int
	pool     *pagination.WorkerPool
	agg      *aggregator.Aggregator
	images   *queue.Queue[record.Record]
}

func (p *progressTracker) begin(runID string, started time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.runID = runID
	p.phase = PhaseProbing
	p.started = started
	p.finished = time.Time{}
	p.jobs = 0
	p.pool = nil
	p.agg = nil
	p.images = nil
}

func (p *progressTracker) attach(jobs int, pool *pagination.WorkerPool, agg *aggregator.Aggregator, images *queue.Queue[record.Record]) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.jobs = jobs
	p.pool = pool
	p.agg = agg
	p.images = images
}

func (p *progressTracker) setPhase(phase Phase) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.phase = phase
}

func (p *progressTracker) finish(phase Phase) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.phase = phase
	p.finished = time.Now()
}

func (p *progressTracker) snapshot() Progress {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := Progress{
		RunID:      p.runID,
		Phase:      p.phase,
		StartedAt:  p.started,
		FinishedAt: p.finished,
		Jobs:       p.jobs,
	}
	if out.Phase == "" {
		out.Phase = PhaseIdle
	}
	if p.pool != nil {
		stats := p.pool.Stats()
		out.PagesFetched = stats.Fetched
		out.PagesFailed = stats.Failed
		out.PagesPending = p.jobs - int(stats.Fetched+stats.Failed)
	}
	if p.agg != nil {
		out.BatchesMerged = p.agg.Merged()
		out.RecordsAdded = p.agg.Added()
		out.AggregatorState = p.agg.State().String()
	}
	if p.images != nil {
		out.ImagesPending = p.images.Pending() + p.images.InFlight()
	}
	return out
}
