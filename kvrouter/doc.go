// Package kvrouter implements the KV-cache-aware router core: given a
// tokenized request, it picks the worker instance whose local KV cache is
// most likely to already hold the request's prefix.
//
// # Reading Guide
//
// Start with these files to understand the request path:
//   - hash.go: deterministic token-block chunking and hash chaining
//   - indexer.go: the live block-hash → worker index and overlap scoring
//   - metrics.go: per-worker load snapshots
//   - scheduler.go, policies.go: worker selection given overlap + load
//   - router.go: the single entry point wiring the above together
//
// # Architecture
//
// kvrouter defines the core decision engine and the interfaces its
// surrounding collaborators must satisfy. Concrete adapters for those
// collaborators (worker discovery, load-snapshot scraping, telemetry
// publishing) live in sibling packages:
//   - kvrouter/discovery: etcd-backed worker up/down watch
//   - kvrouter/scrape: periodic HTTP load-snapshot polling
//   - kvrouter/telemetry: Prometheus metrics and hit-rate publishing
//
// None of kvrouter's core types import those packages. Adapters only ever
// hold a reference to EndpointSet, Indexer, or MetricsAggregator and call
// their already-exported Up/Down/ApplyEvent/Submit/Record methods, so the
// core stays testable without any network dependency. The Router holds
// strong ownership of the Indexer and Scheduler; background adapters hold
// only channels and the handles they were constructed with.
package kvrouter
