// Package telemetry exposes router-internal counters and gauges via
// Prometheus, and runs a best-effort hit-rate event emitter for the
// "kv-hit-rate" topic (spec §6).
package telemetry

import (
	"context"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/kvcache-router/kvcache-router/kvrouter"
)

// hitRateChannelCapacity bounds the buffered queue feeding the hit-rate
// emitter; a full channel means telemetry is shed, never the request path.
const hitRateChannelCapacity = 4096

// Registry wraps the Prometheus metrics the router exposes.
type Registry struct {
	DroppedEvents      *prometheus.CounterVec
	SchedulingOutcomes *prometheus.CounterVec
	WorkerOverlap      *prometheus.GaugeVec
	WorkerHitRate      *prometheus.GaugeVec
	SuspectWorkers     *prometheus.CounterVec

	hitRate chan HitRateSample
}

// HitRateSample is one observation of a worker's predicted cache overlap
// fraction for a scheduled request (spec §6's kv-hit-rate topic).
type HitRateSample struct {
	Worker          kvrouter.WorkerID
	OverlapBlocks   uint32
	TotalBlocks     uint32
}

// NewRegistry constructs and registers all router metrics against reg.
func NewRegistry(reg prometheus.Registerer) *Registry {
	r := &Registry{
		DroppedEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kvrouter_dropped_events_total",
			Help: "Hit-rate telemetry samples dropped due to backpressure, by reason.",
		}, []string{"reason"}),
		SchedulingOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kvrouter_scheduling_outcomes_total",
			Help: "Scheduling decisions, by outcome.",
		}, []string{"outcome"}),
		WorkerOverlap: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "kvrouter_worker_predicted_overlap_blocks",
			Help: "Most recently predicted cache overlap, in blocks, per worker.",
		}, []string{"worker"}),
		WorkerHitRate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "kvrouter_worker_hit_rate",
			Help: "Fraction of a scheduled request's blocks already cached on its worker.",
		}, []string{"worker"}),
		SuspectWorkers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kvrouter_suspect_events_total",
			Help: "Times a worker was marked suspect for malformed events.",
		}, []string{"worker"}),
		hitRate: make(chan HitRateSample, hitRateChannelCapacity),
	}
	reg.MustRegister(r.DroppedEvents, r.SchedulingOutcomes, r.WorkerOverlap, r.WorkerHitRate, r.SuspectWorkers)
	return r
}

// EmitHitRate enqueues a hit-rate sample for the background emitter to
// consume. Non-blocking: a full channel drops the sample and counts it as
// a dropped event rather than stalling the caller, which is always on the
// request path.
func (r *Registry) EmitHitRate(s HitRateSample) {
	select {
	case r.hitRate <- s:
	default:
		r.DroppedEvents.WithLabelValues("hit_rate_telemetry").Inc()
		logrus.Debug("kvrouter: telemetry: hit-rate channel full, dropping sample")
	}
}

// Run drains hit-rate samples and updates WorkerHitRate until ctx is
// cancelled.
func (r *Registry) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case s := <-r.hitRate:
			worker := workerLabel(s.Worker)
			r.WorkerOverlap.WithLabelValues(worker).Set(float64(s.OverlapBlocks))
			if s.TotalBlocks > 0 {
				r.WorkerHitRate.WithLabelValues(worker).Set(float64(s.OverlapBlocks) / float64(s.TotalBlocks))
			}
		}
	}
}

func workerLabel(w kvrouter.WorkerID) string {
	return strconv.FormatInt(int64(w), 10)
}
