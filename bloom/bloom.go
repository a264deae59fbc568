// Package bloom implements the content-addressed bloom filter (C4): a
// classic m-bit array with k hash functions computed via double
// hashing, serializable, mergeable, and incrementally buildable.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package bloom

import (
	"encoding/base64"
	"hash/fnv"
	"math"
	"strconv"

	"github.com/dot-do/graphdb-sub005/cmn"
)

// Filter is an m-bit array queried via k double-hashed probes.
type Filter struct {
	Bits    []byte // len = ceil(M/8)
	M       uint64
	K       uint64
	Version string
}

// New sizes a filter for capacity items at the given target
// false-positive rate, using the standard m/k formulas.
func New(capacity uint64, falsePositiveRate float64) *Filter {
	if capacity == 0 {
		capacity = 1
	}
	if falsePositiveRate <= 0 || falsePositiveRate >= 1 {
		falsePositiveRate = 0.01
	}
	m := optimalM(capacity, falsePositiveRate)
	k := optimalK(m, capacity)
	return &Filter{
		Bits: make([]byte, (m+7)/8),
		M:    m,
		K:    k,
	}
}

func optimalM(n uint64, p float64) uint64 {
	m := math.Ceil(-(float64(n) * math.Log(p)) / (math.Ln2 * math.Ln2))
	if m < 8 {
		m = 8
	}
	return uint64(m)
}

func optimalK(m, n uint64) uint64 {
	if n == 0 {
		return 1
	}
	k := math.Round((float64(m) / float64(n)) * math.Ln2)
	if k < 1 {
		k = 1
	}
	return uint64(k)
}

// hashPair returns the two independent 64-bit hashes double hashing
// derives every probe from: h_i = (h1 + i*h2) mod m.
func hashPair(item string) (uint64, uint64) {
	h1 := fnv.New64a()
	_, _ = h1.Write([]byte(item))
	v1 := h1.Sum64()

	h2 := fnv.New64a()
	_, _ = h2.Write([]byte{0x5a})
	_, _ = h2.Write([]byte(item))
	v2 := h2.Sum64()
	if v2 == 0 {
		v2 = 1 // avoid a degenerate all-zero second hash collapsing every probe onto bit h1
	}
	return v1, v2
}

func (f *Filter) probes(item string) []uint64 {
	h1, h2 := hashPair(item)
	out := make([]uint64, f.K)
	for i := uint64(0); i < f.K; i++ {
		out[i] = (h1 + i*h2) % f.M
	}
	return out
}

func (f *Filter) setBit(pos uint64) {
	f.Bits[pos/8] |= 1 << (pos % 8)
}

func (f *Filter) getBit(pos uint64) bool {
	return f.Bits[pos/8]&(1<<(pos%8)) != 0
}

// Add inserts item into the filter.
func (f *Filter) Add(item string) {
	if f == nil || f.M == 0 {
		return
	}
	for _, p := range f.probes(item) {
		f.setBit(p)
	}
}

// AddMany inserts every item.
func (f *Filter) AddMany(items []string) {
	for _, it := range items {
		f.Add(it)
	}
}

// MightExist answers the probabilistic membership query. An empty or
// unconfigured filter (M==0) is a pass-through: it always answers
// true, so callers never get a false "definitely absent" from a
// filter that was never built.
func (f *Filter) MightExist(item string) bool {
	if f == nil || f.M == 0 {
		return true
	}
	for _, p := range f.probes(item) {
		if !f.getBit(p) {
			return false
		}
	}
	return true
}

// Serialized is the wire form: base64 bit array plus {k, m, version}.
type Serialized struct {
	Bits    string `json:"bits"`
	K       uint64 `json:"k"`
	M       uint64 `json:"m"`
	Version string `json:"version"`
}

// Serialize encodes f for cache storage / transport.
func (f *Filter) Serialize() Serialized {
	return Serialized{
		Bits:    base64.StdEncoding.EncodeToString(f.Bits),
		K:       f.K,
		M:       f.M,
		Version: f.Version,
	}
}

// Deserialize is the inverse of Serialize.
func Deserialize(s Serialized) (*Filter, error) {
	bits, err := base64.StdEncoding.DecodeString(s.Bits)
	if err != nil {
		return nil, cmn.Wrap(cmn.KindChunkDecode, err, "bad bloom filter base64")
	}
	return &Filter{Bits: bits, M: s.M, K: s.K, Version: s.Version}, nil
}

// Merge bitwise-ORs other into f. Requires identical (M, K); this is
// the invariant that makes a merged filter still a valid bloom filter
// over the same hash family.
func (f *Filter) Merge(other *Filter) error {
	if f.M != other.M || f.K != other.K {
		return cmn.NewError(cmn.KindJSONConversion, "cannot merge bloom filters with different (m,k)")
	}
	for i := range f.Bits {
		f.Bits[i] |= other.Bits[i]
	}
	return nil
}

// Builder supports append-only incremental construction, bumping a
// running version string on every batch of insertions so the result
// can be content-addressed by (namespace, version) per I4.
type Builder struct {
	filter  *Filter
	version uint64
}

// NewBuilder starts an incremental build targeting capacity/fpr.
func NewBuilder(capacity uint64, falsePositiveRate float64) *Builder {
	f := New(capacity, falsePositiveRate)
	f.Version = "v0"
	return &Builder{filter: f}
}

// Add inserts item and returns the new version string.
func (b *Builder) Add(item string) string {
	b.filter.Add(item)
	return b.bumpVersion()
}

// AddMany inserts items and returns the new version string.
func (b *Builder) AddMany(items []string) string {
	b.filter.AddMany(items)
	return b.bumpVersion()
}

func (b *Builder) bumpVersion() string {
	b.version++
	b.filter.Version = "v" + strconv.FormatUint(b.version, 10)
	return b.filter.Version
}

// Filter returns the current filter; safe to serialize/cache under
// Filter().Version.
func (b *Builder) Filter() *Filter { return b.filter }

// Version returns the current version string.
func (b *Builder) Version() string { return b.filter.Version }
