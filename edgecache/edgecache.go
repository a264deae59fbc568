// Package edgecache implements the edge cache plane (C8): artifact-
// specific read/write wrappers over the store.Cache capability, each
// carrying the bit-exact Cache-Control headers §6 requires and the
// freshness policy appropriate to its artifact (immutable for
// content-addressed chunks/bloom filters, short-TTL stale-while-
// revalidate for mutable manifests). Every method absorbs cache
// failures per the "never throw" policy (§7): reads degrade to a
// miss, writes drop silently.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package edgecache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/dot-do/graphdb-sub005/cmn"
	"github.com/dot-do/graphdb-sub005/store"
	"github.com/golang/glog"
)

const (
	hdrCacheVersion   = "X-Cache-Version"
	hdrCacheTimestamp = "X-Cache-Timestamp"
	hdrChunkID        = "X-Chunk-Id"
	hdrBloomVersion   = "X-Bloom-Version"
)

// ChunkHeaders returns the bit-exact header set a chunk cache entry
// carries (§6).
func ChunkHeaders(chunkID string, insertedAtMillis int64) map[string]string {
	return map[string]string{
		"Content-Type":      "application/octet-stream",
		"Cache-Control":     "public, max-age=31536000, s-maxage=31536000, immutable",
		hdrChunkID:          chunkID,
		hdrCacheTimestamp:   strconv.FormatInt(insertedAtMillis, 10),
	}
}

// ManifestHeaders returns the header set a manifest cache entry
// carries (§6): short max-age plus stale-while-revalidate.
func ManifestHeaders() map[string]string {
	return map[string]string{
		"Content-Type":  "application/json",
		"Cache-Control": "public, max-age=60, s-maxage=60, stale-while-revalidate=300",
	}
}

// BloomHeaders returns the header set a bloom-filter cache entry
// carries (§6), tagged with its content-addressed version.
func BloomHeaders(version string) map[string]string {
	return map[string]string{
		"Content-Type":    "application/json",
		"Cache-Control":   "public, max-age=31536000, s-maxage=31536000, immutable",
		hdrBloomVersion:   version,
	}
}

// segmentHeaders is derived from cfg.SegmentMaxAge; swr is appended
// only when non-zero, matching §6's "optional swr" wording.
func segmentHeaders(maxAge time.Duration, swr time.Duration) map[string]string {
	cc := fmt.Sprintf("max-age=%d", int(maxAge.Seconds()))
	if swr > 0 {
		cc += fmt.Sprintf(", stale-while-revalidate=%d", int(swr.Seconds()))
	}
	return map[string]string{"Cache-Control": cc}
}

// TagForChunk, TagForNamespace, TagForHost build the logical
// invalidation tags named in §6. The store.Cache capability itself
// has no tag-indexed delete, and the Plane does not attach these tags
// to the entries it writes.
func TagForChunk(encNamespace, chunkID string) string { return "chunk:" + encNamespace + ":" + chunkID }
func TagForNamespace(host, path string) string         { return "ns:" + host + path }
func TagForHost(host string) string                    { return "host:" + host }

// Plane wraps a store.Cache with the artifact-specific policies.
type Plane struct {
	cache store.Cache
	cfg   cmn.CacheConf
}

func New(cache store.Cache, cfg cmn.CacheConf) *Plane { return &Plane{cache: cache, cfg: cfg} }

func (p *Plane) get(ctx context.Context, key string) *store.CacheResponse {
	resp, err := p.cache.Match(ctx, store.CacheRequest{Key: key})
	if err != nil {
		if cmn.IsKind(err, cmn.KindCacheUnavailable) {
			glog.V(2).Infof("edgecache: cache unavailable on read of %s, treating as miss", key)
		} else {
			glog.Warningf("edgecache: read error for %s: %v", key, err)
		}
		return nil
	}
	return resp
}

func (p *Plane) put(ctx context.Context, key string, resp store.CacheResponse) {
	if err := p.cache.Put(ctx, store.CacheRequest{Key: key}, resp); err != nil {
		glog.Warningf("edgecache: write dropped for %s: %v", key, err)
	}
}

// GetChunk returns a chunk's bytes, or nil on a miss or any cache
// failure. Chunks are content-addressed: there is no version to
// mismatch, any hit is valid.
func (p *Plane) GetChunk(ctx context.Context, key string) []byte {
	resp := p.get(ctx, key)
	if resp == nil {
		return nil
	}
	return resp.Body
}

// PutChunk stores a chunk's bytes under key, stamping the insertion
// timestamp and chunk id headers. Failures are dropped silently.
func (p *Plane) PutChunk(ctx context.Context, key, chunkID string, data []byte) {
	p.put(ctx, key, store.CacheResponse{Body: data, Headers: ChunkHeaders(chunkID, time.Now().UnixMilli())})
}

// GetManifest returns a manifest's bytes, or nil on miss/failure.
// Callers apply their own stale-while-revalidate logic against the
// Cache-Control header on the returned response if they need it; this
// wrapper's job is freshness headers, not swr scheduling.
func (p *Plane) GetManifest(ctx context.Context, key string) []byte {
	resp := p.get(ctx, key)
	if resp == nil {
		return nil
	}
	return resp.Body
}

// PutManifest stores manifest bytes under key with the swr header set.
func (p *Plane) PutManifest(ctx context.Context, key string, data []byte) {
	p.put(ctx, key, store.CacheResponse{Body: data, Headers: ManifestHeaders()})
}

// GetBloom returns a bloom filter's bytes iff the cached entry's
// X-Bloom-Version header matches version. A version mismatch is
// treated as a clean miss (§6: "mismatched X-Cache-Version header ⇒
// cache miss" — bloom filters key their version under X-Bloom-Version
// rather than the generic header since the cache key is already
// content-addressed by version; kept distinct from chunks/manifests
// for clarity).
func (p *Plane) GetBloom(ctx context.Context, key, version string) []byte {
	resp := p.get(ctx, key)
	if resp == nil {
		return nil
	}
	if resp.Headers[hdrBloomVersion] != version {
		return nil
	}
	return resp.Body
}

// PutBloom stores filter bytes tagged with version.
func (p *Plane) PutBloom(ctx context.Context, key, version string, data []byte) {
	p.put(ctx, key, store.CacheResponse{Body: data, Headers: BloomHeaders(version)})
}

// SegmentFetcher retrieves a segment from its origin (e.g. an R2
// fallback) when the cache misses.
type SegmentFetcher func(ctx context.Context) ([]byte, error)

// GetSegment checks the cache first; on a miss it calls fetch (the
// injected R2 fallback) and, when cacheOnMiss is true, populates the
// cache with the fetched bytes before returning them.
func (p *Plane) GetSegment(ctx context.Context, key string, fetch SegmentFetcher, cacheOnMiss bool, swr time.Duration) ([]byte, error) {
	if resp := p.get(ctx, key); resp != nil {
		return resp.Body, nil
	}
	if fetch == nil {
		return nil, nil
	}
	data, err := fetch(ctx)
	if err != nil {
		return nil, err
	}
	if cacheOnMiss {
		p.put(ctx, key, store.CacheResponse{Body: data, Headers: segmentHeaders(p.cfg.SegmentMaxAge, swr)})
	}
	return data, nil
}

// Delete removes a cache entry (chunk, manifest, bloom or segment),
// absorbing any failure per the never-throw policy.
func (p *Plane) Delete(ctx context.Context, key string) {
	if _, err := p.cache.Delete(ctx, store.CacheRequest{Key: key}); err != nil {
		glog.Warningf("edgecache: delete dropped for %s: %v", key, err)
	}
}

// ChunkCacheKey, ManifestCacheKey, BloomCacheKey build the cache keys
// named in §6's artifact table.
func ChunkCacheKey(prefix, encNamespace, chunkID string) string {
	return fmt.Sprintf("%s/%s/chunks/%s.gcol", prefix, encNamespace, chunkID)
}

func ManifestCacheKey(prefix, encNamespace string) string {
	return fmt.Sprintf("%s/%s/manifest.json", prefix, encNamespace)
}

func BloomCacheKey(prefix, encNamespace, version string) string {
	return fmt.Sprintf("%s/%s/%s", prefix, encNamespace, version)
}

func SegmentCacheKey(prefix, encNamespace, segmentID string) string {
	return fmt.Sprintf("%s/segment/%s/%s", prefix, encNamespace, segmentID)
}
