package polarisdb

import (
	"github.com/hugoev/PolarisDB/distance"
	"github.com/hugoev/PolarisDB/hnsw"
)

// IndexKind selects which VectorIndex implementation backs a collection.
type IndexKind string

const (
	IndexHNSW       IndexKind = "hnsw"
	IndexBruteForce IndexKind = "brute_force"
)

// Config holds a collection's configuration. Dimension and Metric are
// required; everything else has a documented default. Config is persisted
// (in simplified form) to metadata.json on first open.
type Config struct {
	Dimension int
	Metric    distance.Metric
	IndexKind IndexKind

	HNSW hnsw.Config
	// hnswExplicit records whether WithHNSWConfig was applied, so reopening
	// an existing collection knows whether to prefer the persisted tuning
	// over DefaultConfig's HNSW values.
	hnswExplicit bool

	// SnapshotTriggerBytes, when non-zero, asks the collection to snapshot
	// automatically once the WAL grows past this size.
	SnapshotTriggerBytes uint64

	// ReadOnly opens the collection without taking the writer lock file
	// and rejects every mutating call with ErrReadOnly.
	ReadOnly bool

	// CompressWAL wraps WAL records in zstd. Off by default.
	CompressWAL bool

	// WALSync selects whether every Append fsyncs immediately. On by
	// default, matching spec.md's durability-first default; set to false
	// only for workloads that can tolerate losing the unflushed tail.
	WALSync bool

	Logger  *Logger
	Metrics MetricsCollector
}

// Option mutates a Config under construction.
type Option func(*Config)

// DefaultConfig returns the baseline configuration for dimension/metric;
// apply Options on top to override index kind, HNSW tuning, or ambient
// wiring.
func DefaultConfig(dimension int, metric distance.Metric) Config {
	return Config{
		Dimension: dimension,
		Metric:    metric,
		IndexKind: IndexHNSW,
		HNSW:      hnsw.DefaultConfig(16),
		WALSync:   true,
		Logger:    NoopLogger(),
		Metrics:   NoopMetricsCollector{},
	}
}

func WithIndexKind(kind IndexKind) Option {
	return func(c *Config) { c.IndexKind = kind }
}

func WithHNSWConfig(cfg hnsw.Config) Option {
	return func(c *Config) {
		c.HNSW = cfg
		c.hnswExplicit = true
	}
}

func WithSnapshotTriggerBytes(n uint64) Option {
	return func(c *Config) { c.SnapshotTriggerBytes = n }
}

func WithReadOnly() Option {
	return func(c *Config) { c.ReadOnly = true }
}

func WithWALCompression() Option {
	return func(c *Config) { c.CompressWAL = true }
}

func WithWALSync(sync bool) Option {
	return func(c *Config) { c.WALSync = sync }
}

func WithLogger(l *Logger) Option {
	return func(c *Config) {
		if l != nil {
			c.Logger = l
		}
	}
}

func WithMetrics(m MetricsCollector) Option {
	return func(c *Config) {
		if m != nil {
			c.Metrics = m
		}
	}
}

// persistedConfig is the metadata.json shape: only the fields that must
// agree across reopens, not ambient wiring like Logger/Metrics.
type persistedConfig struct {
	FormatVersion  int    `json:"format_version"`
	Dimension      int    `json:"dimension"`
	Metric         string `json:"metric"`
	IndexKind      string `json:"index_kind"`
	M              int    `json:"hnsw_m"`
	MMax0          int    `json:"hnsw_m_max0"`
	EFConstruction int    `json:"hnsw_ef_construction"`
	EFSearch       int    `json:"hnsw_ef_search"`
	LevelMult      float64 `json:"hnsw_level_mult"`
	Seed           int64   `json:"hnsw_seed"`
}

const metadataFormatVersion = 1

func toPersisted(c Config) persistedConfig {
	return persistedConfig{
		FormatVersion:  metadataFormatVersion,
		Dimension:      c.Dimension,
		Metric:         c.Metric.String(),
		IndexKind:      string(c.IndexKind),
		M:              c.HNSW.M,
		MMax0:          c.HNSW.MMax0,
		EFConstruction: c.HNSW.EFConstruction,
		EFSearch:       c.HNSW.EFSearch,
		LevelMult:      c.HNSW.LevelMult,
		Seed:           c.HNSW.Seed,
	}
}
