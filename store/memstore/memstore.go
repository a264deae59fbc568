// Package memstore provides in-memory fakes of the blob-store and
// cache capabilities, used by every other package's tests as a
// lightweight test-double provider.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dot-do/graphdb-sub005/store"
)

// Blob is an in-memory store.BlobStore.
type Blob struct {
	mu      sync.RWMutex
	objects map[string][]byte
	meta    map[string]store.ObjectMeta
	// FailPut, when set, makes Put fail for keys containing this
	// substring; used to simulate BlobStoreTransient/Fatal in tests.
	FailPut string
}

func NewBlob() *Blob {
	return &Blob{objects: map[string][]byte{}, meta: map[string]store.ObjectMeta{}}
}

func (b *Blob) Put(_ context.Context, key string, data []byte) error {
	if b.FailPut != "" && strings.Contains(key, b.FailPut) {
		return errTransient{key}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	b.objects[key] = cp
	b.meta[key] = store.ObjectMeta{Key: key, Size: int64(len(cp)), ETag: etagOf(cp), Uploaded: time.Now()}
	return nil
}

func (b *Blob) Get(_ context.Context, key string) ([]byte, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.objects[key]
	if !ok {
		return nil, false, nil
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, true, nil
}

func (b *Blob) Head(_ context.Context, key string) (store.ObjectMeta, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	m, ok := b.meta[key]
	return m, ok, nil
}

func (b *Blob) Delete(_ context.Context, keys ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, k := range keys {
		delete(b.objects, k)
		delete(b.meta, k)
	}
	return nil
}

func (b *Blob) List(_ context.Context, prefix string) ([]store.ObjectMeta, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]store.ObjectMeta, 0)
	for k, m := range b.meta {
		if strings.HasPrefix(k, prefix) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

type errTransient struct{ key string }

func (e errTransient) Error() string { return "memstore: simulated transient failure on " + e.key }

func etagOf(b []byte) string {
	var h uint32 = 2166136261
	for _, c := range b {
		h ^= uint32(c)
		h *= 16777619
	}
	return string(rune('a' + h%26))
}

// Cache is an in-memory store.Cache.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]store.CacheResponse
	// Unavailable, when true, makes every operation fail (simulates
	// CacheUnavailable for edgecache's absorption-policy tests).
	Unavailable bool
}

func NewCache() *Cache { return &Cache{entries: map[string]store.CacheResponse{}} }

func (c *Cache) Match(_ context.Context, req store.CacheRequest) (*store.CacheResponse, error) {
	if c.Unavailable {
		return nil, errCacheUnavailable{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.entries[req.Key]
	if !ok {
		return nil, nil
	}
	cp := v
	return &cp, nil
}

func (c *Cache) Put(_ context.Context, req store.CacheRequest, resp store.CacheResponse) error {
	if c.Unavailable {
		return errCacheUnavailable{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[req.Key] = resp
	return nil
}

func (c *Cache) Delete(_ context.Context, req store.CacheRequest) (bool, error) {
	if c.Unavailable {
		return false, errCacheUnavailable{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[req.Key]
	delete(c.entries, req.Key)
	return ok, nil
}

type errCacheUnavailable struct{}

func (errCacheUnavailable) Error() string { return "memstore: cache unavailable" }
