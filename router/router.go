// Package router implements the bloom/edge router (C9): cache-first
// negative-existence lookups against per-namespace bloom filters, and
// query-text routing — URL extraction, namespace/shard resolution,
// cacheability classification, and a bounded cost estimate.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package router

import (
	"context"
	"hash/fnv"
	"regexp"
	"sort"
	"strings"

	"github.com/dot-do/graphdb-sub005/bloom"
	"github.com/dot-do/graphdb-sub005/cmn"
	"github.com/dot-do/graphdb-sub005/cmn/cos"
	"github.com/dot-do/graphdb-sub005/edgecache"
	"github.com/dot-do/graphdb-sub005/nsid"
	"github.com/golang/glog"
)

// BloomLoader fetches a namespace/version's filter when it is not in
// cache. A nil filter with no error means none exists.
type BloomLoader func(ctx context.Context, namespace, version string) (*bloom.Filter, error)

// Router resolves query text to shards and consults the bloom/edge
// cache for entity existence checks.
type Router struct {
	plane       *edgecache.Plane
	cfg         cmn.RouterConf
	cachePrefix string
	loader      BloomLoader
	cacheOnLoad bool
}

func New(plane *edgecache.Plane, cfg cmn.RouterConf, cachePrefix string, loader BloomLoader) *Router {
	return &Router{plane: plane, cfg: cfg, cachePrefix: cachePrefix, loader: loader, cacheOnLoad: true}
}

// SetCacheOnLoad controls whether a fallback-loaded filter is written
// back to cache (default true, per §4.9).
func (r *Router) SetCacheOnLoad(v bool) { r.cacheOnLoad = v }

// CheckEntity answers whether entityID might exist in namespace at
// version. It tries the edge cache first; on a miss it consults the
// fallback loader; if neither yields a filter, it returns a safe
// pass-through (mightExist=true, cacheHit=false). Every error
// downgrades to pass-through — the router never turns a downstream
// failure into a false negative.
func (r *Router) CheckEntity(ctx context.Context, namespace, version, entityID string) (mightExist bool, cacheHit bool) {
	key := edgecache.BloomCacheKey(r.cachePrefix, encodeNamespace(namespace), version)

	if data := r.plane.GetBloom(ctx, key, version); data != nil {
		var s bloom.Serialized
		if err := cos.UnmarshalJSON(data, &s); err != nil {
			glog.Warningf("router: corrupt cached bloom filter for %s@%s: %v", namespace, version, err)
			return true, false
		}
		f, err := bloom.Deserialize(s)
		if err != nil {
			glog.Warningf("router: corrupt cached bloom filter for %s@%s: %v", namespace, version, err)
			return true, false
		}
		return f.MightExist(entityID), true
	}

	if r.loader == nil {
		return true, false
	}
	f, err := r.loader(ctx, namespace, version)
	if err != nil {
		glog.Warningf("router: bloom fallback loader failed for %s@%s: %v", namespace, version, err)
		return true, false
	}
	if f == nil {
		return true, false
	}
	if r.cacheOnLoad {
		if raw, err := cos.MarshalJSON(f.Serialize()); err == nil {
			r.plane.PutBloom(ctx, key, version, raw)
		}
	}
	return f.MightExist(entityID), false
}

// urlPattern is the conservative URL-extraction regex: it stops at
// whitespace, angle/square brackets, and quotes — the traversal and
// delimiter syntax a query string would otherwise smuggle a URL
// boundary inside.
var urlPattern = regexp.MustCompile(`https?://[^\s<>\[\]"']+`)

// uncacheableKeywords is checked against the uppercased query text.
var uncacheableKeywords = []string{
	"MUTATE", "INSERT", "DELETE", "UPDATE", "SET",
	"NOW()", "CURRENT_TIMESTAMP", "CURRENT_DATE",
}

// recognizedTLDs bounds the hop heuristic: a dot-segment matching one
// of these inside a bare domain mention (outside a URL's authority,
// which is already excluded) is a restated TLD, not a property hop.
var recognizedTLDs = map[string]bool{
	"com": true, "org": true, "net": true, "io": true, "dev": true,
	"app": true, "co": true, "gov": true, "edu": true, "ai": true,
}

var hopPattern = regexp.MustCompile(`\.[A-Za-z_][A-Za-z0-9_]*`)

// RouteResult is routeQuery's output.
type RouteResult struct {
	Namespaces []string
	ShardIDs   []string
	Cacheable  bool
	CacheKey   string // empty when !Cacheable
	TTL        int    // seconds a cacheable result may be cached for; zero when !Cacheable
	Cost       int
}

// RouteQuery extracts candidate URLs from text, resolves each to a
// namespace and shard, classifies cacheability, and estimates cost.
func (r *Router) RouteQuery(text string) RouteResult {
	urls := urlPattern.FindAllStringIndex(text, -1)

	var namespaces []string
	seen := map[string]bool{}
	var authoritySpans [][2]int

	for _, span := range urls {
		raw := text[span[0]:span[1]]
		if authStart, authEnd, ok := authorityRange(raw); ok {
			authoritySpans = append(authoritySpans, [2]int{span[0] + authStart, span[0] + authEnd})
		}
		u, err := nsid.ParseEntityURL(raw)
		if err != nil {
			continue
		}
		ns := nsid.Namespace(u)
		if !seen[ns] {
			seen[ns] = true
			namespaces = append(namespaces, ns)
		}
	}

	if len(namespaces) == 0 && len(urls) > 0 {
		namespaces = []string{text[urls[0][0]:urls[0][1]]}
	}

	shardIDs := make([]string, 0, len(namespaces))
	for _, ns := range namespaces {
		_, shardID := nsid.Shard(ns, r.cfg.ShardCount)
		shardIDs = append(shardIDs, shardID)
	}
	sort.Strings(shardIDs)

	cacheable := IsCacheable(text)
	var cacheKey string
	var ttl int
	if cacheable {
		cacheKey = CacheKeyFor(text)
		ttl = r.cfg.QueryCacheTTL
	}

	cost := EstimateQueryCost(text, namespaces, authoritySpans)

	return RouteResult{
		Namespaces: namespaces,
		ShardIDs:   shardIDs,
		Cacheable:  cacheable,
		CacheKey:   cacheKey,
		TTL:        ttl,
		Cost:       cost,
	}
}

// authorityRange returns the [start, end) byte offsets within raw
// spanning the URL's authority (host[:port]), or ok=false if raw
// doesn't look like "scheme://...".
func authorityRange(raw string) (start, end int, ok bool) {
	idx := strings.Index(raw, "://")
	if idx < 0 {
		return 0, 0, false
	}
	start = idx + 3
	rest := raw[start:]
	rel := strings.IndexAny(rest, "/?#")
	if rel < 0 {
		return start, len(raw), true
	}
	return start, start + rel, true
}

// IsCacheable implements P5: false iff the uppercased text contains
// any mutation keyword.
func IsCacheable(text string) bool {
	upper := strings.ToUpper(text)
	for _, kw := range uncacheableKeywords {
		if strings.Contains(upper, kw) {
			return false
		}
	}
	return true
}

// CacheKeyFor builds the `gdb-{fnv1a:8hex}` cache key from the
// normalized (trimmed) query text.
func CacheKeyFor(text string) string {
	normalized := strings.TrimSpace(text)
	h := fnv.New32a()
	_, _ = h.Write([]byte(normalized))
	return "gdb-" + hex8(h.Sum32())
}

func hex8(v uint32) string {
	const digits = "0123456789abcdef"
	out := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		out[i] = digits[v&0xf]
		v >>= 4
	}
	return string(out)
}

// EstimateQueryCost implements P6: base 1, plus one per qualifying
// hop, plus 5 per namespace beyond the first, plus 2 per `[?` filter
// marker, capped at 100.
func EstimateQueryCost(text string, namespaces []string, authoritySpans [][2]int) int {
	cost := 1

	for _, m := range hopPattern.FindAllStringIndex(text, -1) {
		if withinAny(m[0], authoritySpans) {
			continue
		}
		token := strings.ToLower(text[m[0]+1 : m[1]])
		if recognizedTLDs[token] {
			continue
		}
		cost++
	}

	if n := len(namespaces); n > 1 {
		cost += 5 * (n - 1)
	}

	cost += 2 * strings.Count(text, "[?")

	if cost > 100 {
		cost = 100
	}
	if cost < 1 {
		cost = 1
	}
	return cost
}

func withinAny(pos int, spans [][2]int) bool {
	for _, s := range spans {
		if pos >= s[0] && pos < s[1] {
			return true
		}
	}
	return false
}

func encodeNamespace(ns string) string {
	return strings.NewReplacer("://", "_", "/", "_").Replace(ns)
}
