package kvrouter

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// routeDeadline bounds how long a single HTTP route request waits on the
// Indexer's overlap query before falling back to load-only scheduling.
const routeDeadline = 50 * time.Millisecond

// routeRequest is the wire shape of an incoming route call (spec §6).
type routeRequest struct {
	Tokens []uint32 `json:"tokens"`
	LoraID *uint64  `json:"lora_id,omitempty"`
}

// routeResponse is streamed as a single element for compatibility with the
// surrounding streaming framework (spec §6): `{ worker_id: i64 }`.
type routeResponse struct {
	WorkerID int64 `json:"worker_id"`
}

// HitRateSink receives one hit-rate sample per routed request, best-effort
// (spec §6's kv-hit-rate topic). Implementations must not block.
type HitRateSink func(worker WorkerID, requestISL uint32, cachedBlocks uint32)

// ServeHandler builds the HTTP handler for the router's single route
// operation. sink may be nil if hit-rate telemetry is not wired.
func ServeHandler(router *Router, sink HitRateSink) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var req routeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "malformed request body", http.StatusBadRequest)
			return
		}

		tokens := make([]Token, len(req.Tokens))
		for i, t := range req.Tokens {
			tokens[i] = Token(t)
		}

		ctx, cancel := context.WithTimeout(r.Context(), routeDeadline)
		defer cancel()

		workerID, err := router.RouteWithDeadline(ctx, tokens, req.LoraID)
		if err != nil {
			writeRouteError(w, err)
			return
		}

		if sink != nil {
			blocks, _ := router.hasher.Split(tokens)
			overlap := router.indexer.Overlap(blocks)
			sink(workerID, uint32(len(tokens)), overlap[workerID])
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(routeResponse{WorkerID: int64(workerID)}); err != nil {
			logrus.WithError(err).Warn("kvrouter: serve: failed writing response")
		}
	}
}

func writeRouteError(w http.ResponseWriter, err error) {
	switch {
	case err == ErrNoWorkersAvailable, err == ErrAllWorkersOverloaded:
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	case err == ErrCancelled, err == ErrTimeout:
		http.Error(w, err.Error(), http.StatusGatewayTimeout)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
