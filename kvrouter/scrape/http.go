// Package scrape periodically polls each live worker's load-snapshot
// endpoint and records the result into a kvrouter.MetricsAggregator. It
// uses net/http directly: the request shape is a single blocking GET with
// a deadline, which no example in the retrieval pack wires a dedicated
// client framework for (see DESIGN.md).
package scrape

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kvcache-router/kvcache-router/kvrouter"
)

// rpcDeadline bounds a single scrape's HTTP round trip (spec §7: "Metric-
// publish RPC has its own deadline, default 1s").
const rpcDeadline = time.Second

// wireSnapshot is the JSON shape each worker's metrics endpoint returns.
type wireSnapshot struct {
	ActiveRequests uint32 `json:"active_requests"`
	WaitingTokens  uint32 `json:"waiting_tokens"`
	FreeKVBlocks   uint32 `json:"free_kv_blocks"`
}

// EndpointResolver maps a worker id to the URL its load snapshot can be
// scraped from.
type EndpointResolver func(id kvrouter.WorkerID) string

// Scraper polls every worker in an EndpointSet on a fixed interval and
// records results into a MetricsAggregator.
type Scraper struct {
	endpoints *kvrouter.EndpointSet
	metrics   *kvrouter.MetricsAggregator
	resolve   EndpointResolver
	client    *http.Client
	interval  time.Duration
}

// NewScraper constructs a Scraper. interval is the polling period (spec
// §6's metric_scrape_interval_ms).
func NewScraper(endpoints *kvrouter.EndpointSet, metrics *kvrouter.MetricsAggregator, resolve EndpointResolver, interval time.Duration) *Scraper {
	return &Scraper{
		endpoints: endpoints,
		metrics:   metrics,
		resolve:   resolve,
		client:    &http.Client{Timeout: rpcDeadline},
		interval:  interval,
	}
}

// Run polls every live worker every interval until ctx is cancelled. Each
// worker is scraped concurrently so one slow or dead worker cannot delay
// the rest of the round.
func (s *Scraper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.scrapeRound(ctx)
		}
	}
}

func (s *Scraper) scrapeRound(ctx context.Context) {
	for _, id := range s.endpoints.LiveWorkers() {
		go s.scrapeOne(ctx, id)
	}
}

func (s *Scraper) scrapeOne(ctx context.Context, id kvrouter.WorkerID) {
	reqCtx, cancel := context.WithTimeout(ctx, rpcDeadline)
	defer cancel()

	url := s.resolve(id)
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		logrus.WithError(err).Warnf("kvrouter: scrape: building request for worker %d", id)
		return
	}
	resp, err := s.client.Do(req)
	if err != nil {
		logrus.WithError(err).Debugf("kvrouter: scrape: worker %d unreachable", id)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		logrus.Warnf("kvrouter: scrape: worker %d returned %s", id, resp.Status)
		return
	}

	var wire wireSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		logrus.WithError(err).Warnf("kvrouter: scrape: decoding snapshot for worker %d", id)
		return
	}

	s.metrics.Record(kvrouter.LoadSnapshot{
		InstanceID:     id,
		ActiveRequests: wire.ActiveRequests,
		WaitingTokens:  wire.WaitingTokens,
		FreeKVBlocks:   wire.FreeKVBlocks,
		LastUpdated:    time.Now(),
	})
}

// DefaultResolver builds an EndpointResolver from a base URL template such
// as "http://worker-%d.internal:9000/metrics".
func DefaultResolver(template string) EndpointResolver {
	return func(id kvrouter.WorkerID) string {
		return fmt.Sprintf(template, id)
	}
}
