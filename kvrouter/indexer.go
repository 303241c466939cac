package kvrouter

import (
	"container/list"
	"context"
	"sync"

	"github.com/puzpuzpuz/xsync/v4"
	"github.com/sirupsen/logrus"
)

// Indexer is the reverse index from block hash to the set of workers that
// currently hold it (spec §4.3). It is the router's single source of truth
// for cache residency; everything it knows comes from applying BlockEvents
// in order, one at a time, from a single writer goroutine.
//
// Reads (Overlap) are lock-free against the underlying maps and may run
// concurrently with the writer; a read started after event e was applied
// observes e (and nothing after whatever the writer has reached), matching
// the linearizable-per-event read consistency spec §4.3 requires.
type Indexer struct {
	byBlock *xsync.Map[BlockHash, *xsync.Map[WorkerID, struct{}]]

	// mu guards perWorker and every worker's LRU bookkeeping: besides the
	// writer goroutine, PurgeWorker runs on whichever goroutine calls
	// EndpointSet.Down, and WorkerBlockCount may be called from anywhere.
	mu        sync.Mutex
	perWorker map[WorkerID]*workerBlocks

	capacity int
	events   chan BlockEvent
	done     chan struct{}
	wg       sync.WaitGroup
}

// workerBlocks is one worker's LRU-bounded set of resident block hashes.
type workerBlocks struct {
	order *list.List // front = most recently touched
	elems map[BlockHash]*list.Element
}

func newWorkerBlocks() *workerBlocks {
	return &workerBlocks{order: list.New(), elems: make(map[BlockHash]*list.Element)}
}

func (w *workerBlocks) touch(h BlockHash) {
	if el, ok := w.elems[h]; ok {
		w.order.MoveToFront(el)
		return
	}
	el := w.order.PushFront(h)
	w.elems[h] = el
}

func (w *workerBlocks) remove(h BlockHash) bool {
	el, ok := w.elems[h]
	if !ok {
		return false
	}
	w.order.Remove(el)
	delete(w.elems, h)
	return true
}

func (w *workerBlocks) evictLRU() (BlockHash, bool) {
	back := w.order.Back()
	if back == nil {
		return 0, false
	}
	h := back.Value.(BlockHash)
	w.order.Remove(back)
	delete(w.elems, h)
	return h, true
}

func (w *workerBlocks) len() int { return len(w.elems) }

// NewIndexer constructs an Indexer with the given bounded event-channel
// capacity and per-worker LRU capacity (SPEC_FULL §per_worker_block_capacity).
// Call Run to start the single writer goroutine before any events are sent.
func NewIndexer(channelCapacity int, perWorkerCapacity int) *Indexer {
	if perWorkerCapacity <= 0 {
		perWorkerCapacity = 1
	}
	return &Indexer{
		byBlock:   xsync.NewMap[BlockHash, *xsync.Map[WorkerID, struct{}]](),
		perWorker: make(map[WorkerID]*workerBlocks),
		capacity:  perWorkerCapacity,
		events:    make(chan BlockEvent, channelCapacity),
		done:      make(chan struct{}),
	}
}

// Run starts the single writer goroutine that drains the event channel and
// applies events to the index in order. Run returns immediately; stop the
// writer with Close.
func (idx *Indexer) Run(ctx context.Context) {
	idx.wg.Add(1)
	go func() {
		defer idx.wg.Done()
		for {
			select {
			case e := <-idx.events:
				idx.apply(e)
			case <-ctx.Done():
				return
			case <-idx.done:
				return
			}
		}
	}()
}

// Close stops the writer goroutine and waits for it to exit.
func (idx *Indexer) Close() {
	close(idx.done)
	idx.wg.Wait()
}

// Submit enqueues e for application by the writer goroutine. If the channel
// is full, Submit drops the oldest still-buffered event from the same
// worker to make room (spec §4.3 backpressure policy: drop-oldest-per-worker
// rather than block the discovery feed or drop the newest, most relevant,
// event). If no same-worker event is found to drop, the new event itself is
// dropped and logged — better to miss one update than to stall ingestion.
func (idx *Indexer) Submit(e BlockEvent) {
	select {
	case idx.events <- e:
		return
	default:
	}
	if idx.dropOldestFrom(e.Worker) {
		select {
		case idx.events <- e:
			return
		default:
		}
	}
	logrus.Warnf("kvrouter: indexer event channel full, dropping event for worker %d", e.Worker)
}

// dropOldestFrom scans the buffered channel for the oldest event from
// worker w and removes it, returning true if one was found. It drains the
// entire channel into a local slice and refills it minus the dropped entry;
// this runs only under backpressure, which is expected to be rare.
func (idx *Indexer) dropOldestFrom(w WorkerID) bool {
	n := len(idx.events)
	buffered := make([]BlockEvent, 0, n)
	for i := 0; i < n; i++ {
		select {
		case e := <-idx.events:
			buffered = append(buffered, e)
		default:
		}
	}
	dropped := false
	for i, e := range buffered {
		if !dropped && e.Worker == w {
			dropped = true
			continue
		}
		select {
		case idx.events <- e:
		default:
			_ = i
		}
	}
	return dropped
}

// ApplyEvent applies e synchronously, bypassing the channel. Intended for
// tests and for callers that already serialize their own event delivery.
func (idx *Indexer) ApplyEvent(e BlockEvent) { idx.apply(e) }

func (idx *Indexer) apply(e BlockEvent) {
	switch e.Op {
	case BlockStore:
		idx.store(e.Worker, e.BlockHash)
	case BlockEvict:
		idx.evict(e.Worker, e.BlockHash)
	case BlockClear:
		idx.clear(e.Worker)
	}
}

func (idx *Indexer) store(w WorkerID, h BlockHash) {
	workers, _ := idx.byBlock.LoadOrStore(h, xsync.NewMap[WorkerID, struct{}]())
	workers.Store(w, struct{}{}) // idempotent: storing twice is a no-op

	idx.mu.Lock()
	wb, ok := idx.perWorker[w]
	if !ok {
		wb = newWorkerBlocks()
		idx.perWorker[w] = wb
	}
	wb.touch(h)
	if wb.len() > idx.capacity {
		if evicted, ok := wb.evictLRU(); ok {
			idx.removeFromByBlock(w, evicted)
		}
	}
	idx.mu.Unlock()
}

func (idx *Indexer) evict(w WorkerID, h BlockHash) {
	idx.mu.Lock()
	wb, ok := idx.perWorker[w]
	if !ok || !wb.remove(h) {
		idx.mu.Unlock()
		logrus.Debugf("kvrouter: evict of absent block %d for worker %d, ignoring", h, w)
		return
	}
	idx.mu.Unlock()
	idx.removeFromByBlock(w, h)
}

func (idx *Indexer) clear(w WorkerID) {
	idx.mu.Lock()
	wb, ok := idx.perWorker[w]
	if !ok {
		idx.mu.Unlock()
		return
	}
	hashes := make([]BlockHash, 0, wb.len())
	for h := range wb.elems {
		hashes = append(hashes, h)
	}
	delete(idx.perWorker, w)
	idx.mu.Unlock()

	for _, h := range hashes {
		idx.removeFromByBlock(w, h)
	}
}

func (idx *Indexer) removeFromByBlock(w WorkerID, h BlockHash) {
	workers, ok := idx.byBlock.Load(h)
	if !ok {
		return
	}
	workers.Delete(w)
	if workers.Size() == 0 {
		idx.byBlock.Delete(h)
	}
}

// PurgeWorker drops all index state for w. Registered with the Endpoint Set
// as a PurgeFunc so that a Down event fully evicts the worker's residency
// before Down returns (spec §4.2 drain-before-ack).
func (idx *Indexer) PurgeWorker(w WorkerID) {
	idx.clear(w)
}

// Overlap computes, for each candidate worker, the length of the longest
// strict prefix of blockHashes that worker holds (spec §3, §9: strict-prefix
// matching — a worker holding h0, h2 but not h1 scores 1, not 2). Overlap
// never blocks on the writer; it reads whatever the index currently
// reflects.
func (idx *Indexer) Overlap(blockHashes []BlockHash) OverlapVector {
	return idx.OverlapContext(context.Background(), blockHashes)
}

// OverlapContext is Overlap with deadline support. If ctx is already done
// on entry, OverlapContext returns an empty vector; if it becomes done
// during the scan, it returns the prefix lengths counted so far. It never
// returns an error — callers (the Router) proceed on the
// scoring policy's fallback path for zero-overlap instead of failing the
// whole request (SPEC_FULL §Router Facade).
func (idx *Indexer) OverlapContext(ctx context.Context, blockHashes []BlockHash) OverlapVector {
	if len(blockHashes) == 0 {
		return OverlapVector{}
	}
	select {
	case <-ctx.Done():
		return OverlapVector{}
	default:
	}

	workersAtZero, ok := idx.byBlock.Load(blockHashes[0])
	if !ok {
		return OverlapVector{}
	}
	candidates := make(map[WorkerID]struct{})
	workersAtZero.Range(func(w WorkerID, _ struct{}) bool {
		candidates[w] = struct{}{}
		return true
	})
	if len(candidates) == 0 {
		return OverlapVector{}
	}

	result := make(OverlapVector, len(candidates))
	for w := range candidates {
		result[w] = 1
	}

	for i := 1; i < len(blockHashes); i++ {
		select {
		case <-ctx.Done():
			return result
		default:
		}
		if len(candidates) == 0 {
			break
		}
		workers, ok := idx.byBlock.Load(blockHashes[i])
		if !ok {
			break
		}
		next := make(map[WorkerID]struct{})
		for w := range candidates {
			if _, held := workers.Load(w); held {
				next[w] = struct{}{}
				result[w] = uint32(i + 1)
			}
		}
		candidates = next
	}
	return result
}

// WorkerBlockCount reports how many distinct blocks w currently holds, per
// the index's view. Used by diagnostics and tests; not on the routing hot
// path.
func (idx *Indexer) WorkerBlockCount(w WorkerID) int {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	wb, ok := idx.perWorker[w]
	if !ok {
		return 0
	}
	return wb.len()
}
