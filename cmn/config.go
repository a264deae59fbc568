package cmn

import (
	"encoding/json"
	"os"
	"time"

	"go.uber.org/atomic"
)

// Config holds every tunable of the write/compact/read pipeline. It is
// loaded once at process start and thereafter swapped atomically (see
// GCO below), a single package-level "global config owner".
type Config struct {
	Writer     WriterConf     `json:"writer"`
	Compaction CompactionConf `json:"compaction"`
	Cache      CacheConf      `json:"cache"`
	Router     RouterConf     `json:"router"`
	Metrics    MetricsConf    `json:"metrics"`
}

type WriterConf struct {
	MaxBatchSize     int           `json:"max_batch_size"`
	FlushInterval    time.Duration `json:"flush_interval"`
	MaxRetries       int           `json:"max_retries"`
	RetryBackoffBase time.Duration `json:"retry_backoff_base"`
}

type CompactionConf struct {
	L1ThresholdBytes int64         `json:"l1_threshold_bytes"`
	L2ThresholdBytes int64         `json:"l2_threshold_bytes"`
	MinChunksToMerge int           `json:"min_chunks_to_merge"`
	LockTimeout      time.Duration `json:"lock_timeout"`
}

type CacheConf struct {
	ManifestMaxAge time.Duration `json:"manifest_max_age"`
	ManifestSWR    time.Duration `json:"manifest_swr"`
	ChunkMaxAge    time.Duration `json:"chunk_max_age"`
	BloomMaxAge    time.Duration `json:"bloom_max_age"`
	SegmentMaxAge  time.Duration `json:"segment_max_age"`
}

type RouterConf struct {
	ShardCount    int `json:"shard_count"`
	QueryCacheTTL int `json:"query_cache_ttl"` // seconds a cacheable routeQuery result may be cached for
}

type MetricsConf struct {
	Window          time.Duration `json:"window"`
	MaxDetailEntries int          `json:"max_detail_entries"`
}

// Default returns the baseline tuning for the write/compact/read
// pipeline (batch size 1000, flush 100ms, 3 retries/100ms base,
// 8MiB/128MiB compaction thresholds, min 4 chunks, 60s/300s manifest
// policy, 1y content-addressed TTL, 256 shards, 300s query cache TTL,
// 5-minute metrics window).
func Default() *Config {
	return &Config{
		Writer: WriterConf{
			MaxBatchSize:     1000,
			FlushInterval:    100 * time.Millisecond,
			MaxRetries:       3,
			RetryBackoffBase: 100 * time.Millisecond,
		},
		Compaction: CompactionConf{
			L1ThresholdBytes: 8 << 20,
			L2ThresholdBytes: 128 << 20,
			MinChunksToMerge: 4,
			LockTimeout:      5 * time.Minute,
		},
		Cache: CacheConf{
			ManifestMaxAge: 60 * time.Second,
			ManifestSWR:    300 * time.Second,
			ChunkMaxAge:    365 * 24 * time.Hour,
			BloomMaxAge:    365 * 24 * time.Hour,
			SegmentMaxAge:  60 * time.Second,
		},
		Router: RouterConf{
			ShardCount:    256,
			QueryCacheTTL: 300,
		},
		Metrics: MetricsConf{
			Window:           5 * time.Minute,
			MaxDetailEntries: 1000,
		},
	}
}

// gco is a single process-wide, atomically swappable pointer to the
// live configuration.
var gco atomic.Value

func init() { gco.Store(Default()) }

// GCO returns the live configuration. Safe for concurrent use.
func GCO() *Config { return gco.Load().(*Config) }

// SetGCO atomically replaces the live configuration.
func SetGCO(c *Config) { gco.Store(c) }

// LoadConfig reads a JSON file into a copy of Default() and installs
// it as the live config.
func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	c := Default()
	if err := json.Unmarshal(b, c); err != nil {
		return nil, err
	}
	SetGCO(c)
	return c, nil
}
