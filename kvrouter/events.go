package kvrouter

import "time"

// WorkerID uniquely identifies a live worker process, assigned by the
// external discovery layer. Ids are never reused while the prior holder is
// live (spec §3).
type WorkerID int64

// WorkerEventKind distinguishes a worker liveness transition.
type WorkerEventKind int

const (
	// WorkerUp announces a newly live worker.
	WorkerUp WorkerEventKind = iota
	// WorkerDown announces that a worker is no longer live. Per spec §3, an
	// id reported Down is never reported Up again during the process
	// lifetime.
	WorkerDown
)

// WorkerEvent is a single liveness transition from the discovery stream.
type WorkerEvent struct {
	Kind WorkerEventKind
	ID   WorkerID
}

// BlockEventOp distinguishes a block residency transition.
type BlockEventOp int

const (
	// BlockStore announces a worker now holds a block.
	BlockStore BlockEventOp = iota
	// BlockEvict announces a worker no longer holds a block.
	BlockEvict
	// BlockClear announces a worker's entire cache dropped.
	BlockClear
)

// BlockEvent is one Block Residency Event (spec §3). ParentHash is carried
// for diagnostics and future hierarchical validation; the Indexer does not
// currently require it to apply Store.
type BlockEvent struct {
	Worker     WorkerID
	Op         BlockEventOp
	BlockHash  BlockHash
	ParentHash BlockHash
}

// LoadSnapshot is a worker's most recently observed load (spec §3).
type LoadSnapshot struct {
	InstanceID     WorkerID
	ActiveRequests uint32
	WaitingTokens  uint32
	FreeKVBlocks   uint32
	LastUpdated    time.Time
}

// Stale reports whether the snapshot is older than threshold relative to
// now.
func (s LoadSnapshot) Stale(now time.Time, threshold time.Duration) bool {
	return now.Sub(s.LastUpdated) > threshold
}

// SchedulingRequest is the input to the Scheduler (spec §3): a request's
// block-hash list plus its raw input length and optional LoRA id.
type SchedulingRequest struct {
	BlockHashes        []BlockHash
	InputSequenceLen   uint32
	LoraID             *uint64
}

// SelectionResult is the Scheduler's decision for one request (spec §3).
type SelectionResult struct {
	WorkerID               WorkerID
	PredictedOverlapBlocks uint32
	TiebreakReason         string
}

// OverlapVector maps worker id to the length of the longest block-hash
// prefix that worker holds (spec §3).
type OverlapVector map[WorkerID]uint32
