package metrics_test

import (
	"context"
	"testing"

	"github.com/dot-do/graphdb-sub005/cmn"
	"github.com/dot-do/graphdb-sub005/compact"
	"github.com/dot-do/graphdb-sub005/edgecache"
	"github.com/dot-do/graphdb-sub005/metrics"
	"github.com/dot-do/graphdb-sub005/store/memstore"
	"github.com/stretchr/testify/require"
)

func TestHitRateEmptyWindowIsZero(t *testing.T) {
	require.Equal(t, float64(0), metrics.HitRate(0, 0))
}

func TestHitRateComputed(t *testing.T) {
	require.InDelta(t, 0.75, metrics.HitRate(3, 1), 0.0001)
}

func TestP95EmptyIsZero(t *testing.T) {
	require.Equal(t, float64(0), metrics.P95(nil))
}

func TestP95Computed(t *testing.T) {
	samples := make([]float64, 100)
	for i := range samples {
		samples[i] = float64(i + 1) // 1..100
	}
	require.InDelta(t, 96, metrics.P95(samples), 1)
}

func TestCollectorRecordsHitsAndMisses(t *testing.T) {
	c := metrics.New(cmn.Default().Metrics)
	c.RecordHit("ns1", 5, 100)
	c.RecordHit("ns1", 7, 100)
	c.RecordMiss("ns1", 20, 0)

	snap := c.Snapshot()
	require.EqualValues(t, 2, snap.Hits)
	require.EqualValues(t, 1, snap.Misses)
	require.InDelta(t, 2.0/3.0, snap.HitRate, 0.0001)
	require.EqualValues(t, 200, snap.BytesSaved)
	require.Equal(t, 2, int(snap.ByNamespace["ns1"].Hits))
}

func TestCollectorCompareDelta(t *testing.T) {
	c := metrics.New(cmn.Default().Metrics)
	c.RecordHit("ns1", 1, 10)
	s1 := c.Snapshot()
	c.RecordHit("ns1", 1, 10)
	c.RecordMiss("ns1", 1, 0)
	s2 := c.Snapshot()

	delta := metrics.Compare(s1, s2)
	require.EqualValues(t, 1, delta.Hits)
	require.EqualValues(t, 1, delta.Misses)
}

func TestCollectorResetClearsCounters(t *testing.T) {
	c := metrics.New(cmn.Default().Metrics)
	c.RecordHit("ns1", 1, 10)
	c.Reset()
	snap := c.Snapshot()
	require.Zero(t, snap.Hits)
	require.Empty(t, snap.ByNamespace)
}

func TestDetailLogBounded(t *testing.T) {
	cfg := cmn.Default().Metrics
	cfg.MaxDetailEntries = 2
	c := metrics.New(cfg)
	c.RecordHit("ns1", 1, 1)
	c.RecordHit("ns1", 2, 1)
	c.RecordHit("ns1", 3, 1)

	snap := c.Snapshot()
	require.Len(t, snap.Detail, 2)
	require.Equal(t, float64(2), snap.Detail[0].LatencyMs)
	require.Equal(t, float64(3), snap.Detail[1].LatencyMs)
}

func TestInvalidateChunkIncrementsCounter(t *testing.T) {
	plane := edgecache.New(memstore.NewCache(), cmn.Default().Cache)
	c := metrics.New(cmn.Default().Metrics)
	inv := metrics.NewInvalidator(plane, c, "v1")

	inv.InvalidateChunk(context.Background(), "enc-ns", "chunk-1")
	require.EqualValues(t, 1, c.Snapshot().Invalidations)
}

func TestInvalidateChunksBatchedReportsAllKeys(t *testing.T) {
	plane := edgecache.New(memstore.NewCache(), cmn.Default().Cache)
	c := metrics.New(cmn.Default().Metrics)
	inv := metrics.NewInvalidator(plane, c, "v1")

	ids := []string{"a", "b", "c"}
	result := inv.InvalidateChunks(context.Background(), "enc-ns", ids)
	require.True(t, result.Success)
	require.Equal(t, 3, result.InvalidatedCount)
	require.Len(t, result.InvalidatedKeys, 3)
}

func TestInvalidateNamespaceDeletesManifestAndChunks(t *testing.T) {
	cache := memstore.NewCache()
	plane := edgecache.New(cache, cmn.Default().Cache)
	plane.PutManifest(context.Background(), edgecache.ManifestCacheKey("v1", "enc-ns"), []byte("{}"))

	c := metrics.New(cmn.Default().Metrics)
	inv := metrics.NewInvalidator(plane, c, "v1")

	result := inv.InvalidateNamespace(context.Background(), "enc-ns", metrics.InvalidateOpts{IncludeChunks: []string{"chunk-1"}})
	require.True(t, result.Success)
	require.Nil(t, plane.GetManifest(context.Background(), edgecache.ManifestCacheKey("v1", "enc-ns")))
}

func TestOnCompactionInvalidatesSourcesAndManifest(t *testing.T) {
	cache := memstore.NewCache()
	plane := edgecache.New(cache, cmn.Default().Cache)
	c := metrics.New(cmn.Default().Metrics)
	inv := metrics.NewInvalidator(plane, c, "v1")

	ev := &compact.Event{
		Namespace:    "https://example.com/crm/",
		SourceChunks: []string{"src1", "src2"},
		TargetChunk:  "target1",
	}
	inv.OnCompaction(context.Background(), "enc-ns", ev)

	snap := c.Snapshot()
	require.EqualValues(t, 1, snap.Compactions)
	require.EqualValues(t, 3, snap.Invalidations) // 2 sources + manifest
}

func TestOnCompactionNilEventIsNoop(t *testing.T) {
	plane := edgecache.New(memstore.NewCache(), cmn.Default().Cache)
	c := metrics.New(cmn.Default().Metrics)
	inv := metrics.NewInvalidator(plane, c, "v1")
	require.NotPanics(t, func() { inv.OnCompaction(context.Background(), "enc-ns", nil) })
	require.Zero(t, c.Snapshot().Compactions)
}
