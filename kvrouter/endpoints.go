package kvrouter

import (
	"sync"

	"github.com/puzpuzpuz/xsync/v4"
	"github.com/sirupsen/logrus"
)

// downWatchCapacity bounds the Down-event watch channel. When a slow
// watcher's channel is full, Down drops the new notification (logged at
// warn) rather than blocking; a dropped notification is not redelivered.
// Registered purgers still run for every Down regardless.
const downWatchCapacity = 256

// PurgeFunc removes all state keyed by a worker id. The Indexer and Metrics
// Aggregator each register one at wiring time; the Endpoint Set calls every
// registered purger, synchronously and in registration order, before a
// Down event is considered drained (spec §4.2: "the Endpoint Set delays
// acknowledging the down-event until both report drained").
type PurgeFunc func(WorkerID)

// EndpointSet is the authoritative, sole source of truth for worker
// liveness (spec §4.2, §3). It is safe for concurrent use: IsLive and
// LiveWorkers may be called concurrently with Up/Down and with each other.
type EndpointSet struct {
	live *xsync.Map[WorkerID, struct{}]
	dead *xsync.Map[WorkerID, struct{}]

	mu       sync.Mutex // guards purgers and watchers registration
	purgers  []PurgeFunc
	watchers []chan WorkerEvent

	suspectMu sync.Mutex
	suspect   map[WorkerID]int
}

// NewEndpointSet constructs an empty, live-worker-free EndpointSet.
func NewEndpointSet() *EndpointSet {
	return &EndpointSet{
		live:    xsync.NewMap[WorkerID, struct{}](),
		dead:    xsync.NewMap[WorkerID, struct{}](),
		suspect: make(map[WorkerID]int),
	}
}

// RegisterPurger adds a PurgeFunc invoked synchronously on every Down. Must
// be called before workers start arriving; not safe to call concurrently
// with Down.
func (s *EndpointSet) RegisterPurger(f PurgeFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgers = append(s.purgers, f)
}

// Subscribe returns a channel that receives a WorkerEvent{Kind: WorkerDown}
// for every worker the set drops. The channel is buffered; while it is
// full, newer events are dropped with a warning (see downWatchCapacity).
func (s *EndpointSet) Subscribe() <-chan WorkerEvent {
	ch := make(chan WorkerEvent, downWatchCapacity)
	s.mu.Lock()
	s.watchers = append(s.watchers, ch)
	s.mu.Unlock()
	return ch
}

// Up marks id live. Reusing an id that was previously reported Down is a
// discovery-layer invariant violation (spec §3: "Reused ids are forbidden
// while the prior holder is live") — logged at warn and ignored rather than
// panicking, since the core must stay available.
func (s *EndpointSet) Up(id WorkerID) {
	if _, wasDead := s.dead.Load(id); wasDead {
		logrus.Warnf("kvrouter: discovery reported Up for worker %d, previously reported Down; ignoring (id-reuse violation)", id)
		return
	}
	s.live.Store(id, struct{}{})
}

// Down marks id no longer live, drains every registered purger, then
// broadcasts the transition to subscribers. By the time Down returns, the
// Indexer and Metrics Aggregator (if registered as purgers) have already
// purged all state for id, satisfying the drain-before-ack contract.
func (s *EndpointSet) Down(id WorkerID) {
	s.live.Delete(id)
	s.dead.Store(id, struct{}{})

	s.mu.Lock()
	purgers := append([]PurgeFunc(nil), s.purgers...)
	watchers := append([]chan WorkerEvent(nil), s.watchers...)
	s.mu.Unlock()

	for _, purge := range purgers {
		purge(id)
	}

	event := WorkerEvent{Kind: WorkerDown, ID: id}
	for _, ch := range watchers {
		select {
		case ch <- event:
		default:
			logrus.Warnf("kvrouter: Down watch channel full, dropping notification for worker %d", id)
		}
	}
}

// IsLive reports whether id is currently live.
func (s *EndpointSet) IsLive(id WorkerID) bool {
	_, ok := s.live.Load(id)
	return ok
}

// LiveWorkers returns a snapshot of every currently live worker id. The
// returned slice is owned by the caller.
func (s *EndpointSet) LiveWorkers() []WorkerID {
	out := make([]WorkerID, 0, s.live.Size())
	s.live.Range(func(id WorkerID, _ struct{}) bool {
		out = append(out, id)
		return true
	})
	return out
}

// Suspect records id as having produced malformed events repeatedly (spec
// §7). This is advisory only — it never evicts the worker; eviction is an
// operator policy decision outside the router's authority.
func (s *EndpointSet) Suspect(id WorkerID, reason string) {
	s.suspectMu.Lock()
	s.suspect[id]++
	count := s.suspect[id]
	s.suspectMu.Unlock()
	logrus.Warnf("kvrouter: worker %d marked suspect (%d total): %s", id, count, reason)
}

// SuspectCount returns how many times id has been marked suspect.
func (s *EndpointSet) SuspectCount(id WorkerID) int {
	s.suspectMu.Lock()
	defer s.suspectMu.Unlock()
	return s.suspect[id]
}
