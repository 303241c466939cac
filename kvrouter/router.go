package kvrouter

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"
)

// Router is the single entry point described in spec §4.6: given a token
// sequence and an optional LoRA adapter id, it returns the worker id that
// should serve the request.
type Router struct {
	hasher    *BlockHasher
	indexer   *Indexer
	scheduler *Scheduler
}

// NewRouter wires the three components a route decision touches. Callers
// are expected to have already started the Indexer's writer goroutine
// (Indexer.Run) and registered PurgeWorker funcs with the Endpoint Set.
func NewRouter(hasher *BlockHasher, indexer *Indexer, scheduler *Scheduler) *Router {
	return &Router{hasher: hasher, indexer: indexer, scheduler: scheduler}
}

// Route implements the spec §4.6 contract: hash tokens into blocks,
// look up their overlap vector, and schedule. loraID is accepted and
// threaded through to the scheduling request but is otherwise ignored —
// the index is not currently partitioned per LoRA adapter (SPEC_FULL
// Open Question: per-LoRA indexing, resolved as a single safe-default
// partition until request volume justifies splitting the index).
func (r *Router) Route(tokens []Token, loraID *uint64) (WorkerID, error) {
	return r.RouteWithDeadline(context.Background(), tokens, loraID)
}

// RouteWithDeadline is Route with an explicit context governing the
// Indexer's overlap query. A cancelled ctx fails with ErrCancelled. If ctx's
// deadline is exceeded, before or during the query, the Router proceeds
// with whatever overlap vector was computed (empty or partial)
// instead of failing the whole request — the Scheduler then falls back to
// scoring on load alone for workers it couldn't confirm overlap for (spec
// §7: "exceeding it returns Timeout and the caller may proceed with an
// empty overlap vector").
func (r *Router) RouteWithDeadline(ctx context.Context, tokens []Token, loraID *uint64) (WorkerID, error) {
	if errors.Is(ctx.Err(), context.Canceled) {
		return 0, ErrCancelled
	}

	blocks, _ := r.hasher.Split(tokens)
	overlap := r.indexer.OverlapContext(ctx, blocks)

	req := SchedulingRequest{
		BlockHashes:      blocks,
		InputSequenceLen: uint32(len(tokens)),
		LoraID:           loraID,
	}

	result, err := r.scheduler.Schedule(overlap, req)
	if err != nil {
		logrus.WithError(err).WithField("input_tokens", len(tokens)).Debug("kvrouter: scheduling failed")
		return 0, err
	}
	return result.WorkerID, nil
}
