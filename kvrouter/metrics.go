package kvrouter

import (
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"github.com/sirupsen/logrus"
)

// watchCapacity bounds each subscriber's snapshot-update channel.
const watchCapacity = 128

// MetricsAggregator holds the latest LoadSnapshot reported by each live
// worker (spec §4.4). Record may be called concurrently (the scrape adapter
// records each worker from its own goroutine), as may the readers.
type MetricsAggregator struct {
	latest *xsync.Map[WorkerID, LoadSnapshot]

	mu       sync.Mutex
	watchers []chan LoadSnapshot
}

// NewMetricsAggregator constructs an empty aggregator.
func NewMetricsAggregator() *MetricsAggregator {
	return &MetricsAggregator{latest: xsync.NewMap[WorkerID, LoadSnapshot]()}
}

// Record stores snap as the latest snapshot for its InstanceID and notifies
// watchers. A snapshot older than the one already on file for that worker
// is still accepted — the scrape adapter is responsible for ordering within
// a single worker's stream; the aggregator does not reorder.
func (m *MetricsAggregator) Record(snap LoadSnapshot) {
	m.latest.Store(snap.InstanceID, snap)

	m.mu.Lock()
	watchers := append([]chan LoadSnapshot(nil), m.watchers...)
	m.mu.Unlock()

	for _, ch := range watchers {
		select {
		case ch <- snap:
		default:
			logrus.Warnf("kvrouter: metrics watch channel full, dropping update for worker %d", snap.InstanceID)
		}
	}
}

// Subscribe returns a channel that receives every Record call's snapshot.
func (m *MetricsAggregator) Subscribe() <-chan LoadSnapshot {
	ch := make(chan LoadSnapshot, watchCapacity)
	m.mu.Lock()
	m.watchers = append(m.watchers, ch)
	m.mu.Unlock()
	return ch
}

// Current returns a cheap, independently-owned snapshot of every worker's
// latest reported load. Callers must still check Stale themselves against
// whatever staleness threshold applies.
func (m *MetricsAggregator) Current() map[WorkerID]LoadSnapshot {
	out := make(map[WorkerID]LoadSnapshot, m.latest.Size())
	m.latest.Range(func(id WorkerID, snap LoadSnapshot) bool {
		out[id] = snap
		return true
	})
	return out
}

// Get returns the latest snapshot for id, if any.
func (m *MetricsAggregator) Get(id WorkerID) (LoadSnapshot, bool) {
	return m.latest.Load(id)
}

// PurgeWorker drops the stored snapshot for w. Registered as an Endpoint
// Set PurgeFunc so a Down event removes stale load data immediately.
func (m *MetricsAggregator) PurgeWorker(w WorkerID) {
	m.latest.Delete(w)
}

// Degraded reports whether the feed for id is missing or stale relative to
// now and threshold. The Scheduler does not call it; stale snapshots reach
// the selector unchanged.
func (m *MetricsAggregator) Degraded(id WorkerID, now time.Time, threshold time.Duration) bool {
	snap, ok := m.latest.Load(id)
	if !ok {
		return true
	}
	return snap.Stale(now, threshold)
}
