package kvrouter

import (
	"math"
	"sort"
	"sync/atomic"
)

// WorkerSelector picks one worker for a request given its overlap vector,
// the live worker set, and current load (spec §4.5: "the Scheduler accepts
// an implementation of select_worker(endpoints, request, block_size) →
// SelectionResult | Error"). Implementations must not mutate their inputs
// and must be safe for concurrent use — the Scheduler invokes Select
// synchronously from the request path with no locking of its own.
type WorkerSelector interface {
	Select(live []WorkerID, overlap OverlapVector, load map[WorkerID]LoadSnapshot, req SchedulingRequest, blockSize int, coeff Coefficients) (SelectionResult, error)
}

// Scheduler combines the Indexer's overlap vector with the Metrics
// Aggregator's load snapshot to choose one worker per request (spec §4.5).
// It owns no threads: Schedule runs synchronously on the caller's
// goroutine.
type Scheduler struct {
	endpoints *EndpointSet
	metrics   *MetricsAggregator
	selector  WorkerSelector
	blockSize int

	// coeff is swapped atomically rather than guarded by a mutex so the
	// degraded-mode β-halving (spec §7) never adds lock contention to the
	// request path.
	coeff atomic.Pointer[Coefficients]
}

// NewScheduler wires a Scheduler to its dependencies. blockSize must match
// the Hasher's configured block size.
func NewScheduler(endpoints *EndpointSet, metrics *MetricsAggregator, selector WorkerSelector, blockSize int, coeff Coefficients) *Scheduler {
	s := &Scheduler{endpoints: endpoints, metrics: metrics, selector: selector, blockSize: blockSize}
	c := coeff
	s.coeff.Store(&c)
	return s
}

// EffectiveCoefficients returns the coefficients currently in effect.
func (s *Scheduler) EffectiveCoefficients() Coefficients {
	return *s.coeff.Load()
}

// Degrade halves β on the active coefficients (spec §7: the index is
// degraded when the discovery feed gap exceeds the staleness threshold).
// Safe to call concurrently with Schedule.
func (s *Scheduler) Degrade() {
	degraded := s.EffectiveCoefficients().Halved()
	s.coeff.Store(&degraded)
}

// Recover restores coeff as the active, non-degraded coefficients.
func (s *Scheduler) Recover(coeff Coefficients) {
	c := coeff
	s.coeff.Store(&c)
}

// Schedule selects a worker for req given overlap, the latest overlap
// vector from the Indexer. Returns ErrNoWorkersAvailable if the live set is
// empty.
func (s *Scheduler) Schedule(overlap OverlapVector, req SchedulingRequest) (SelectionResult, error) {
	live := s.endpoints.LiveWorkers()
	if len(live) == 0 {
		return SelectionResult{}, ErrNoWorkersAvailable
	}
	load := s.metrics.Current()
	return s.selector.Select(live, overlap, load, req, s.blockSize, s.EffectiveCoefficients())
}

// DefaultSelector implements the scoring policy of spec §4.5: lower score
// wins, with a capacity filter and a deterministic tie-break.
type DefaultSelector struct{}

// Select implements WorkerSelector.
func (DefaultSelector) Select(live []WorkerID, overlap OverlapVector, load map[WorkerID]LoadSnapshot, req SchedulingRequest, blockSize int, coeff Coefficients) (SelectionResult, error) {
	if len(live) == 0 {
		return SelectionResult{}, ErrNoWorkersAvailable
	}

	type candidate struct {
		id           WorkerID
		cacheBlocks  uint32
		active       uint32
		score        float64
		capacityOK   bool
	}

	medianWaiting := medianKnownWaitingTokens(live, load)

	cands := make([]candidate, 0, len(live))
	for _, w := range live {
		cacheBlocks := overlap[w]
		cachedTokens := uint64(cacheBlocks) * uint64(blockSize)
		prefillTokens := int64(req.InputSequenceLen) - int64(cachedTokens)
		if prefillTokens < 0 {
			prefillTokens = 0
		}

		snap, known := load[w]
		var expectedQueue float64
		var active uint32
		capacityOK := true
		if known {
			expectedQueue = float64(snap.WaitingTokens) + float64(prefillTokens)
			active = snap.ActiveRequests
			neededBlocks := ceilDiv(req.InputSequenceLen, uint32(blockSize))
			capacityOK = snap.FreeKVBlocks >= neededBlocks
		} else {
			expectedQueue = medianWaiting + float64(prefillTokens)
		}

		score := coeff.Alpha*expectedQueue - coeff.Beta*float64(cachedTokens) + coeff.Gamma*float64(active)

		cands = append(cands, candidate{
			id:          w,
			cacheBlocks: cacheBlocks,
			active:      active,
			score:       score,
			capacityOK:  capacityOK,
		})
	}

	filtered := make([]candidate, 0, len(cands))
	for _, c := range cands {
		if c.capacityOK {
			filtered = append(filtered, c)
		}
	}
	if len(filtered) == 0 {
		// Relax capacity: select among all live workers rather than fail,
		// per spec §4.5 step 3.
		filtered = cands
	}

	sort.Slice(filtered, func(i, j int) bool {
		a, b := filtered[i], filtered[j]
		if a.score != b.score {
			return a.score < b.score
		}
		if a.cacheBlocks != b.cacheBlocks {
			return a.cacheBlocks > b.cacheBlocks
		}
		if a.active != b.active {
			return a.active < b.active
		}
		return a.id < b.id
	})

	best := filtered[0]
	reason := "scored"
	if len(filtered) > 1 && filtered[0].score == filtered[1].score {
		reason = "tiebreak"
	}
	return SelectionResult{
		WorkerID:               best.id,
		PredictedOverlapBlocks: best.cacheBlocks,
		TiebreakReason:         reason,
	}, nil
}

// medianKnownWaitingTokens returns the median WaitingTokens across workers
// with a known load snapshot, or 0 if none are known (spec §4.5 step 1:
// "treat unknown as median of known, or 0 if none known").
func medianKnownWaitingTokens(live []WorkerID, load map[WorkerID]LoadSnapshot) float64 {
	known := make([]float64, 0, len(live))
	for _, w := range live {
		if snap, ok := load[w]; ok {
			known = append(known, float64(snap.WaitingTokens))
		}
	}
	if len(known) == 0 {
		return 0
	}
	sort.Float64s(known)
	mid := len(known) / 2
	if len(known)%2 == 1 {
		return known[mid]
	}
	return (known[mid-1] + known[mid]) / 2
}

func ceilDiv(a, b uint32) uint32 {
	if b == 0 {
		return 0
	}
	return uint32(math.Ceil(float64(a) / float64(b)))
}
