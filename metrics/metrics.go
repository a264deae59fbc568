// Package metrics implements hit/miss/latency accounting and the cache
// invalidator contracts (C10). Counter bookkeeping follows a
// statsTracker shape: an atomically-updated running total plus a
// snapshot, specialized here to a single window that runs from
// creation or the last Reset rather than a cluster-wide proxy/target
// split.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package metrics

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dot-do/graphdb-sub005/cmn"
	"github.com/dot-do/graphdb-sub005/compact"
	"github.com/dot-do/graphdb-sub005/edgecache"
	"github.com/golang/glog"
	"go.uber.org/atomic"
)

// DetailEntry is one bounded per-request record kept for operator
// inspection (returned in Snapshot.Detail).
type DetailEntry struct {
	Namespace string
	Hit       bool
	LatencyMs float64
	Bytes     int64
	At        time.Time
}

type nsCounters struct {
	hits   atomic.Int64
	misses atomic.Int64
}

// Collector accumulates hit/miss/latency/byte counters from creation
// (or the last Reset) and exposes point-in-time snapshots. Samples are
// not expired by age: cfg.Window is not consulted, and the window only
// restarts on Reset.
type Collector struct {
	cfg cmn.MetricsConf

	hits          atomic.Int64
	misses        atomic.Int64
	invalidations atomic.Int64
	compactions   atomic.Int64
	bytesServed   atomic.Int64
	bytesSaved    atomic.Int64

	mu         sync.Mutex
	latencies  []float64
	byNS       map[string]*nsCounters
	detail     []DetailEntry
	windowFrom time.Time
}

func New(cfg cmn.MetricsConf) *Collector {
	return &Collector{cfg: cfg, byNS: map[string]*nsCounters{}, windowFrom: time.Now()}
}

// RecordHit records a cache hit for namespace, its latency, and the
// bytes served (and thereby saved from the blob store).
func (c *Collector) RecordHit(namespace string, latencyMs float64, bytes int64) {
	c.hits.Add(1)
	c.bytesServed.Add(bytes)
	c.bytesSaved.Add(bytes)
	c.record(namespace, true, latencyMs, bytes)
}

// RecordMiss records a cache miss for namespace and its latency
// (typically the cost of falling through to the blob store).
func (c *Collector) RecordMiss(namespace string, latencyMs float64, bytes int64) {
	c.misses.Add(1)
	c.bytesServed.Add(bytes)
	c.record(namespace, false, latencyMs, bytes)
}

func (c *Collector) record(namespace string, hit bool, latencyMs float64, bytes int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	nc, ok := c.byNS[namespace]
	if !ok {
		nc = &nsCounters{}
		c.byNS[namespace] = nc
	}
	if hit {
		nc.hits.Add(1)
	} else {
		nc.misses.Add(1)
	}

	c.latencies = append(c.latencies, latencyMs)

	if c.cfg.MaxDetailEntries > 0 {
		c.detail = append(c.detail, DetailEntry{Namespace: namespace, Hit: hit, LatencyMs: latencyMs, Bytes: bytes, At: time.Now()})
		if len(c.detail) > c.cfg.MaxDetailEntries {
			c.detail = c.detail[len(c.detail)-c.cfg.MaxDetailEntries:]
		}
	}
}

// NamespaceCounters is an immutable view of one namespace's hit/miss
// totals, returned by Snapshot.
type NamespaceCounters struct {
	Hits   int64
	Misses int64
}

// Snapshot is a point-in-time view of the collector's counters.
type Snapshot struct {
	Hits          int64
	Misses        int64
	Invalidations int64
	Compactions   int64
	BytesServed   int64
	BytesSaved    int64
	HitRate       float64
	P95LatencyMs  float64
	ByNamespace   map[string]NamespaceCounters
	Detail        []DetailEntry
	At            time.Time
	WindowFrom    time.Time
}

// HitRate is hits/(hits+misses), or 0 for an empty window.
func HitRate(hits, misses int64) float64 {
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

// P95 returns the 95th percentile of samples, or 0 for an empty slice.
// A sorted copy is used; samples itself is left unchanged.
func P95(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	sorted := make([]float64, len(samples))
	copy(sorted, samples)
	sort.Float64s(sorted)
	idx := int(float64(len(sorted))*0.95)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// Snapshot captures the collector's current state. It does not reset
// counters; use Compare against a prior Snapshot for deltas, or call
// Reset explicitly to start a new window.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	byNS := make(map[string]NamespaceCounters, len(c.byNS))
	for ns, nc := range c.byNS {
		byNS[ns] = NamespaceCounters{Hits: nc.hits.Load(), Misses: nc.misses.Load()}
	}
	detail := make([]DetailEntry, len(c.detail))
	copy(detail, c.detail)

	hits, misses := c.hits.Load(), c.misses.Load()
	return Snapshot{
		Hits:          hits,
		Misses:        misses,
		Invalidations: c.invalidations.Load(),
		Compactions:   c.compactions.Load(),
		BytesServed:   c.bytesServed.Load(),
		BytesSaved:    c.bytesSaved.Load(),
		HitRate:       HitRate(hits, misses),
		P95LatencyMs:  P95(c.latencies),
		ByNamespace:   byNS,
		Detail:        detail,
		At:            time.Now(),
		WindowFrom:    c.windowFrom,
	}
}

// Delta is the difference between two snapshots of the same
// collector, plus the elapsed wall-clock time between them.
type Delta struct {
	Hits          int64
	Misses        int64
	Invalidations int64
	Compactions   int64
	BytesServed   int64
	BytesSaved    int64
	Elapsed       time.Duration
}

// Compare returns prev -> cur as a Delta.
func Compare(prev, cur Snapshot) Delta {
	return Delta{
		Hits:          cur.Hits - prev.Hits,
		Misses:        cur.Misses - prev.Misses,
		Invalidations: cur.Invalidations - prev.Invalidations,
		Compactions:   cur.Compactions - prev.Compactions,
		BytesServed:   cur.BytesServed - prev.BytesServed,
		BytesSaved:    cur.BytesSaved - prev.BytesSaved,
		Elapsed:       cur.At.Sub(prev.At),
	}
}

// Reset clears counters and starts a new window, for callers that
// drive window rollover on a timer (cfg.Window) rather than relying on
// Compare against an earlier snapshot.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hits.Store(0)
	c.misses.Store(0)
	c.invalidations.Store(0)
	c.compactions.Store(0)
	c.bytesServed.Store(0)
	c.bytesSaved.Store(0)
	c.latencies = nil
	c.byNS = map[string]*nsCounters{}
	c.detail = nil
	c.windowFrom = time.Now()
}

// InvalidateResult is invalidateChunks's batched-delete report.
type InvalidateResult struct {
	Success          bool
	InvalidatedCount int
	InvalidatedKeys  []string
	Errors           []error
}

// Invalidator removes cached artifacts via the edge cache plane and
// tracks invalidation counts in a Collector.
type Invalidator struct {
	plane       *edgecache.Plane
	metrics     *Collector
	batchSize   int
	cachePrefix string
}

func NewInvalidator(plane *edgecache.Plane, metrics *Collector, cachePrefix string) *Invalidator {
	return &Invalidator{plane: plane, metrics: metrics, batchSize: 50, cachePrefix: cachePrefix}
}

// InvalidateChunk deletes a single chunk's cache entry.
func (inv *Invalidator) InvalidateChunk(ctx context.Context, encNamespace, chunkID string) {
	key := edgecache.ChunkCacheKey(inv.cachePrefix, encNamespace, chunkID)
	inv.plane.Delete(ctx, key)
	if inv.metrics != nil {
		inv.metrics.invalidations.Add(1)
	}
}

// InvalidateChunks deletes chunkIDs' cache entries in parallel
// batches of inv.batchSize, continuing past individual failures.
func (inv *Invalidator) InvalidateChunks(ctx context.Context, encNamespace string, chunkIDs []string) InvalidateResult {
	result := InvalidateResult{Success: true}
	for start := 0; start < len(chunkIDs); start += inv.batchSize {
		end := start + inv.batchSize
		if end > len(chunkIDs) {
			end = len(chunkIDs)
		}
		batch := chunkIDs[start:end]

		var wg sync.WaitGroup
		var mu sync.Mutex
		for _, id := range batch {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				key := edgecache.ChunkCacheKey(inv.cachePrefix, encNamespace, id)
				inv.plane.Delete(ctx, key)
				mu.Lock()
				result.InvalidatedCount++
				result.InvalidatedKeys = append(result.InvalidatedKeys, key)
				mu.Unlock()
			}(id)
		}
		wg.Wait()
	}
	if inv.metrics != nil {
		inv.metrics.invalidations.Add(int64(result.InvalidatedCount))
	}
	return result
}

// InvalidateOpts controls InvalidateNamespace's scope.
type InvalidateOpts struct {
	IncludeChunks []string // chunk ids to also invalidate
	SkipManifest  bool
}

// InvalidateNamespace deletes the namespace's manifest cache entry
// (unless skipped) and any chunk ids listed in opts.
func (inv *Invalidator) InvalidateNamespace(ctx context.Context, encNamespace string, opts InvalidateOpts) InvalidateResult {
	if !opts.SkipManifest {
		inv.plane.Delete(ctx, edgecache.ManifestCacheKey(inv.cachePrefix, encNamespace))
		if inv.metrics != nil {
			inv.metrics.invalidations.Add(1)
		}
	}
	if len(opts.IncludeChunks) == 0 {
		return InvalidateResult{Success: true}
	}
	return inv.InvalidateChunks(ctx, encNamespace, opts.IncludeChunks)
}

// OnCompaction invalidates every source chunk a compaction retired,
// then the namespace's manifest, and increments the compaction
// counter.
func (inv *Invalidator) OnCompaction(ctx context.Context, encNamespace string, ev *compact.Event) {
	if ev == nil {
		return
	}
	// ev.SourceChunks carries blob-store keys; this implementation
	// caches chunks under that same key rather than a separate
	// content-id scheme, so deleting by key invalidates the cache entry.
	for _, key := range ev.SourceChunks {
		inv.plane.Delete(ctx, key)
	}
	inv.plane.Delete(ctx, edgecache.ManifestCacheKey(inv.cachePrefix, encNamespace))
	if inv.metrics != nil {
		inv.metrics.invalidations.Add(int64(len(ev.SourceChunks)) + 1)
		inv.metrics.compactions.Add(1)
	}
	glog.V(3).Infof("metrics: invalidated %d source chunks + manifest for %s after compaction", len(ev.SourceChunks), encNamespace)
}
