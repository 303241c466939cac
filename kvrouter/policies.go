package kvrouter

import (
	"fmt"
	"math/rand"
	"sort"
	"sync"
)

// Valid selector name registry, mirroring the teacher's validRoutingPolicies
// pattern (sim/bundle.go), checked by Config.Validate. NewSelector's switch
// accepts the same names.
var validSelectors = map[string]bool{
	"":            true, // empty defers to "default"
	"default":     true,
	"random":      true,
	"round_robin": true,
}

// IsValidSelector reports whether name is a recognized selection policy.
func IsValidSelector(name string) bool { return validSelectors[name] }

// ValidSelectorNames returns the sorted, non-empty selector names.
func ValidSelectorNames() []string {
	names := make([]string, 0, len(validSelectors))
	for name := range validSelectors {
		if name != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// NewSelector constructs a WorkerSelector by name. Empty string defaults to
// "default" (spec §4.5's scored policy). Panics on unrecognized names,
// matching the teacher's NewRoutingPolicy/NewScheduler factories.
func NewSelector(name string) WorkerSelector {
	switch name {
	case "", "default":
		return DefaultSelector{}
	case "random":
		return &RandomSelector{}
	case "round_robin":
		return &RoundRobinSelector{}
	default:
		panic(fmt.Sprintf("kvrouter: unknown selection policy %q", name))
	}
}

// RandomSelector ignores overlap and load, picking uniformly among the
// capacity-filtered candidates (or all live workers if none pass). Useful
// as a baseline to compare the default policy's cache-awareness against.
type RandomSelector struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// Select implements WorkerSelector.
func (r *RandomSelector) Select(live []WorkerID, overlap OverlapVector, load map[WorkerID]LoadSnapshot, req SchedulingRequest, blockSize int, coeff Coefficients) (SelectionResult, error) {
	if len(live) == 0 {
		return SelectionResult{}, ErrNoWorkersAvailable
	}
	candidates := capacityFilter(live, load, req, blockSize)

	r.mu.Lock()
	if r.rng == nil {
		r.rng = rand.New(rand.NewSource(int64(DefaultHashSeed)))
	}
	idx := r.rng.Intn(len(candidates))
	r.mu.Unlock()

	w := candidates[idx]
	return SelectionResult{
		WorkerID:               w,
		PredictedOverlapBlocks: overlap[w],
		TiebreakReason:         "random",
	}, nil
}

// RoundRobinSelector cycles through the live worker set in ascending id
// order, ignoring overlap and load.
type RoundRobinSelector struct {
	mu      sync.Mutex
	counter int
}

// Select implements WorkerSelector.
func (rr *RoundRobinSelector) Select(live []WorkerID, overlap OverlapVector, load map[WorkerID]LoadSnapshot, req SchedulingRequest, blockSize int, coeff Coefficients) (SelectionResult, error) {
	if len(live) == 0 {
		return SelectionResult{}, ErrNoWorkersAvailable
	}
	ordered := append([]WorkerID(nil), live...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i] < ordered[j] })

	rr.mu.Lock()
	idx := rr.counter % len(ordered)
	rr.counter++
	rr.mu.Unlock()

	w := ordered[idx]
	return SelectionResult{
		WorkerID:               w,
		PredictedOverlapBlocks: overlap[w],
		TiebreakReason:         fmt.Sprintf("round-robin[%d]", idx),
	}, nil
}

// capacityFilter drops workers whose free KV blocks cannot fit req, falling
// back to the full live set if filtering would empty it (spec §4.5 step 3).
func capacityFilter(live []WorkerID, load map[WorkerID]LoadSnapshot, req SchedulingRequest, blockSize int) []WorkerID {
	needed := ceilDiv(req.InputSequenceLen, uint32(blockSize))
	filtered := make([]WorkerID, 0, len(live))
	for _, w := range live {
		snap, known := load[w]
		if !known || snap.FreeKVBlocks >= needed {
			filtered = append(filtered, w)
		}
	}
	if len(filtered) == 0 {
		return live
	}
	return filtered
}
