package edgecache_test

import (
	"context"
	"errors"
	"testing"

	"github.com/dot-do/graphdb-sub005/cmn"
	"github.com/dot-do/graphdb-sub005/edgecache"
	"github.com/dot-do/graphdb-sub005/store/memstore"
	"github.com/stretchr/testify/require"
)

func TestChunkPutGetRoundTrip(t *testing.T) {
	cache := memstore.NewCache()
	p := edgecache.New(cache, cmn.Default().Cache)
	key := edgecache.ChunkCacheKey("v1", "enc-ns", "chunk-1")

	p.PutChunk(context.Background(), key, "chunk-1", []byte("hello"))
	got := p.GetChunk(context.Background(), key)
	require.Equal(t, []byte("hello"), got)
}

func TestChunkMissReturnsNil(t *testing.T) {
	cache := memstore.NewCache()
	p := edgecache.New(cache, cmn.Default().Cache)
	require.Nil(t, p.GetChunk(context.Background(), "missing"))
}

func TestBloomVersionMismatchIsMiss(t *testing.T) {
	cache := memstore.NewCache()
	p := edgecache.New(cache, cmn.Default().Cache)
	key := edgecache.BloomCacheKey("v1", "enc-ns", "v1")

	p.PutBloom(context.Background(), key, "v1", []byte("bits"))
	require.Equal(t, []byte("bits"), p.GetBloom(context.Background(), key, "v1"))
	require.Nil(t, p.GetBloom(context.Background(), key, "v2"))
}

func TestCacheUnavailableAbsorbedOnRead(t *testing.T) {
	cache := memstore.NewCache()
	cache.Unavailable = true
	p := edgecache.New(cache, cmn.Default().Cache)
	require.Nil(t, p.GetChunk(context.Background(), "anything"))
}

func TestCacheUnavailableAbsorbedOnWrite(t *testing.T) {
	cache := memstore.NewCache()
	cache.Unavailable = true
	p := edgecache.New(cache, cmn.Default().Cache)
	require.NotPanics(t, func() {
		p.PutChunk(context.Background(), "k", "id", []byte("x"))
	})
}

func TestGetSegmentFallsBackAndCachesOnMiss(t *testing.T) {
	cache := memstore.NewCache()
	p := edgecache.New(cache, cmn.Default().Cache)
	key := edgecache.SegmentCacheKey("v1", "enc-ns", "seg-1")

	var calls int
	fetch := func(ctx context.Context) ([]byte, error) {
		calls++
		return []byte("fallback-data"), nil
	}

	data, err := p.GetSegment(context.Background(), key, fetch, true, 0)
	require.NoError(t, err)
	require.Equal(t, []byte("fallback-data"), data)
	require.Equal(t, 1, calls)

	// second call should hit the cache, not call fetch again
	data2, err := p.GetSegment(context.Background(), key, fetch, true, 0)
	require.NoError(t, err)
	require.Equal(t, []byte("fallback-data"), data2)
	require.Equal(t, 1, calls)
}

func TestGetSegmentFetchErrorPropagates(t *testing.T) {
	cache := memstore.NewCache()
	p := edgecache.New(cache, cmn.Default().Cache)
	fetch := func(ctx context.Context) ([]byte, error) { return nil, errors.New("origin down") }

	_, err := p.GetSegment(context.Background(), "k", fetch, false, 0)
	require.Error(t, err)
}

func TestHeadersAreBitExact(t *testing.T) {
	h := edgecache.ChunkHeaders("chunk-1", 1000)
	require.Equal(t, "public, max-age=31536000, s-maxage=31536000, immutable", h["Cache-Control"])
	require.Equal(t, "application/octet-stream", h["Content-Type"])

	m := edgecache.ManifestHeaders()
	require.Equal(t, "public, max-age=60, s-maxage=60, stale-while-revalidate=300", m["Cache-Control"])

	b := edgecache.BloomHeaders("v3")
	require.Equal(t, "public, max-age=31536000, s-maxage=31536000, immutable", b["Cache-Control"])
	require.Equal(t, "v3", b["X-Bloom-Version"])
}

func TestDeleteAbsorbsUnavailable(t *testing.T) {
	cache := memstore.NewCache()
	cache.Unavailable = true
	p := edgecache.New(cache, cmn.Default().Cache)
	require.NotPanics(t, func() {
		p.Delete(context.Background(), "k")
	})
}

func TestCacheTagFormats(t *testing.T) {
	require.Equal(t, "chunk:enc-ns:chunk-1", edgecache.TagForChunk("enc-ns", "chunk-1"))
	require.Equal(t, "ns:example.com/crm", edgecache.TagForNamespace("example.com", "/crm"))
	require.Equal(t, "host:example.com", edgecache.TagForHost("example.com"))
}

