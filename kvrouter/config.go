package kvrouter

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Coefficients are the scoring weights from spec §4.5. Lower score wins;
// each cached token saved is worth one token of avoided queue by default.
type Coefficients struct {
	Alpha float64 `yaml:"alpha"`
	Beta  float64 `yaml:"beta"`
	Gamma float64 `yaml:"gamma"`
}

// DefaultCoefficients returns the spec §4.5 defaults (α=1.0, β=1.0, γ=0.5).
func DefaultCoefficients() Coefficients {
	return Coefficients{Alpha: 1.0, Beta: 1.0, Gamma: 0.5}
}

// Halved returns a copy with Beta halved, used when the index is degraded
// (spec §7: "the scheduler's β (cache weight) is halved until recovery").
func (c Coefficients) Halved() Coefficients {
	c.Beta /= 2
	return c
}

// Config is the full enumerated router configuration (spec §6).
type Config struct {
	// BlockSize must match every worker; immutable per process.
	BlockSize int `yaml:"block_size"`
	// HashSeed is mixed into the first block's hash chain.
	HashSeed uint64 `yaml:"hash_seed"`
	// StalenessThresholdMS is exposed as StalenessThreshold(); cmd/serve.go
	// uses it as the discovery-watch gap after which the Scheduler is
	// degraded. The Scheduler does not apply it to load snapshots: a stale
	// snapshot is scored like a fresh one.
	StalenessThresholdMS uint32 `yaml:"staleness_threshold_ms"`
	// EventChannelCapacity bounds the Indexer's inbound event queue.
	EventChannelCapacity uint32 `yaml:"event_channel_capacity"`
	// MetricScrapeIntervalMS is the load-snapshot polling period.
	MetricScrapeIntervalMS uint32 `yaml:"metric_scrape_interval_ms"`
	// SelectionPolicy names the Scheduler's WorkerSelector: "default" (or
	// empty), "random", or "round_robin". Validate rejects every other
	// name, "custom" included.
	SelectionPolicy string `yaml:"selection_policy"`
	// Coefficients configures the default selector's scoring weights.
	Coefficients Coefficients `yaml:"coefficients"`
	// PerWorkerBlockCapacity bounds the Indexer's per-worker LRU (SPEC_FULL
	// supplement grounded in the teacher's defaultLRUCapacity /
	// gateway-api-inference-extension's LRUCapacityPerServer).
	PerWorkerBlockCapacity int `yaml:"per_worker_block_capacity"`
}

// DefaultConfig returns the spec §6 defaults.
func DefaultConfig() Config {
	return Config{
		BlockSize:              16,
		HashSeed:               DefaultHashSeed,
		StalenessThresholdMS:   5000,
		EventChannelCapacity:   16384,
		MetricScrapeIntervalMS: 1000,
		SelectionPolicy:        "default",
		Coefficients:           DefaultCoefficients(),
		PerWorkerBlockCapacity: 10000,
	}
}

// StalenessThreshold returns StalenessThresholdMS as a time.Duration.
func (c Config) StalenessThreshold() time.Duration {
	return time.Duration(c.StalenessThresholdMS) * time.Millisecond
}

// MetricScrapeInterval returns MetricScrapeIntervalMS as a time.Duration.
func (c Config) MetricScrapeInterval() time.Duration {
	return time.Duration(c.MetricScrapeIntervalMS) * time.Millisecond
}

// Validate checks the configuration errors spec §7 classifies as fatal at
// startup: invalid block size, unknown policy name.
func (c Config) Validate() error {
	if c.BlockSize <= 0 {
		return fmt.Errorf("%w: block_size must be positive, got %d", ErrConfig, c.BlockSize)
	}
	if !IsValidSelector(c.SelectionPolicy) {
		return fmt.Errorf("%w: unknown selection_policy %q", ErrConfig, c.SelectionPolicy)
	}
	if c.EventChannelCapacity == 0 {
		return fmt.Errorf("%w: event_channel_capacity must be positive", ErrConfig)
	}
	return nil
}

// LoadConfig reads and strictly parses a YAML configuration file, starting
// from DefaultConfig so unset fields keep their defaults. Mirrors the
// teacher's LoadPolicyBundle (sim/bundle.go): unknown keys (typos) are
// rejected.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading router config: %w", err)
	}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: parsing router config: %v", ErrConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
