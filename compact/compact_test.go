package compact_test

import (
	"context"
	"testing"
	"time"

	"github.com/dot-do/graphdb-sub005/chunkpath"
	"github.com/dot-do/graphdb-sub005/cmn"
	"github.com/dot-do/graphdb-sub005/compact"
	"github.com/dot-do/graphdb-sub005/gcol"
	"github.com/dot-do/graphdb-sub005/manifest"
	"github.com/dot-do/graphdb-sub005/store/memstore"
	"github.com/dot-do/graphdb-sub005/triple"
	"github.com/dot-do/graphdb-sub005/value"
	"github.com/stretchr/testify/require"
)

func testConf() cmn.CompactionConf {
	return cmn.CompactionConf{
		L1ThresholdBytes: 200,
		L2ThresholdBytes: 2000,
		MinChunksToMerge: 2,
		LockTimeout:      time.Minute,
	}
}

func TestSelectChunksForCompaction(t *testing.T) {
	candidates := []compact.ChunkInfo{
		{Key: "c", Size: 50, MinTimestamp: 300},
		{Key: "a", Size: 50, MinTimestamp: 100},
		{Key: "b", Size: 50, MinTimestamp: 200},
	}
	selected := compact.SelectChunksForCompaction(candidates, 120, 2)
	require.Len(t, selected, 2)
	require.Equal(t, "a", selected[0].Key)
	require.Equal(t, "b", selected[1].Key)
}

func TestSelectChunksBelowMinReturnsEmpty(t *testing.T) {
	candidates := []compact.ChunkInfo{
		{Key: "a", Size: 50, MinTimestamp: 100},
	}
	selected := compact.SelectChunksForCompaction(candidates, 1000, 2)
	require.Empty(t, selected)
}

func TestSelectChunksForcesMinEvenOverThreshold(t *testing.T) {
	candidates := []compact.ChunkInfo{
		{Key: "a", Size: 500, MinTimestamp: 100},
		{Key: "b", Size: 500, MinTimestamp: 200},
	}
	selected := compact.SelectChunksForCompaction(candidates, 100, 2)
	require.Len(t, selected, 2)
}

func writeSourceChunk(t *testing.T, bs *memstore.Blob, nsPath string, ts uint64) {
	t.Helper()
	tr, err := triple.New("https://example.com/crm/acme", "name", value.Value{Type: value.String, Str: "x"}, ts)
	require.NoError(t, err)
	data, err := gcol.Encode([]triple.Triple{tr})
	require.NoError(t, err)
	key := chunkpath.Format(nsPath, chunkpath.L0, ts, "")
	require.NoError(t, bs.Put(context.Background(), key, data))
}

func TestCompactMergesAndDeletesSources(t *testing.T) {
	bs := memstore.NewBlob()
	nsPath := ".com/.example/crm"
	writeSourceChunk(t, bs, nsPath, 100)
	writeSourceChunk(t, bs, nsPath, 200)

	cfg := testConf()
	cfg.MinChunksToMerge = 2
	cfg.L1ThresholdBytes = 1 // force selection regardless of size
	c := compact.New(bs, cfg)

	ev, err := c.Compact(context.Background(), "https://example.com/crm/", nsPath, chunkpath.L0)
	require.NoError(t, err)
	require.NotNil(t, ev)
	require.Len(t, ev.SourceChunks, 2)
	require.Equal(t, chunkpath.L1, ev.Level)

	objs, err := bs.List(context.Background(), chunkpath.Prefix(nsPath, chunkpath.L0))
	require.NoError(t, err)
	require.Empty(t, objs)

	data, found, err := bs.Get(context.Background(), ev.TargetChunk)
	require.NoError(t, err)
	require.True(t, found)
	triples, err := gcol.Decode(data)
	require.NoError(t, err)
	require.Len(t, triples, 2)
}

func TestCompactNoCandidatesBelowMinReturnsNil(t *testing.T) {
	bs := memstore.NewBlob()
	nsPath := ".com/.example/crm"
	writeSourceChunk(t, bs, nsPath, 100)

	cfg := testConf()
	cfg.MinChunksToMerge = 4
	c := compact.New(bs, cfg)

	ev, err := c.Compact(context.Background(), "https://example.com/crm/", nsPath, chunkpath.L0)
	require.NoError(t, err)
	require.Nil(t, ev)

	objs, err := bs.List(context.Background(), chunkpath.Prefix(nsPath, chunkpath.L0))
	require.NoError(t, err)
	require.Len(t, objs, 1) // source untouched
}

func TestCompactRespectsFreshLock(t *testing.T) {
	bs := memstore.NewBlob()
	nsPath := ".com/.example/crm"
	writeSourceChunk(t, bs, nsPath, 100)
	writeSourceChunk(t, bs, nsPath, 200)

	require.NoError(t, bs.Put(context.Background(), nsPath+"/_compaction.lock",
		[]byte(`{"lockedAt":`+itoa(nowMillis())+`,"owner":"other"}`)))

	cfg := testConf()
	cfg.MinChunksToMerge = 2
	c := compact.New(bs, cfg)

	ev, err := c.Compact(context.Background(), "https://example.com/crm/", nsPath, chunkpath.L0)
	require.NoError(t, err)
	require.Nil(t, ev)

	objs, err := bs.List(context.Background(), chunkpath.Prefix(nsPath, chunkpath.L0))
	require.NoError(t, err)
	require.Len(t, objs, 2) // untouched, lock held
}

func TestCompactReplacesSourcesWithTargetInManifest(t *testing.T) {
	bs := memstore.NewBlob()
	nsPath := ".com/.example/crm"
	writeSourceChunk(t, bs, nsPath, 100)
	writeSourceChunk(t, bs, nsPath, 200)

	ms := manifest.New(bs)
	srcA := chunkpath.Format(nsPath, chunkpath.L0, 100, "")
	srcB := chunkpath.Format(nsPath, chunkpath.L0, 200, "")
	_, err := ms.Mutate(context.Background(), nsPath, []string{srcA, srcB}, nil)
	require.NoError(t, err)

	cfg := testConf()
	cfg.MinChunksToMerge = 2
	cfg.L1ThresholdBytes = 1
	c := compact.New(bs, cfg).WithManifestStore(ms)

	ev, err := c.Compact(context.Background(), "https://example.com/crm/", nsPath, chunkpath.L0)
	require.NoError(t, err)
	require.NotNil(t, ev)

	m, err := ms.Load(context.Background(), nsPath)
	require.NoError(t, err)
	require.Equal(t, []string{ev.TargetChunk}, m.ChunkIDs)
	require.EqualValues(t, 2, m.Version)
}

func nowMillis() int64 { return time.Now().UnixMilli() }

func itoa(v int64) string {
	if v == 0 {
		return "0"
	}
	neg := v < 0
	if neg {
		v = -v
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
