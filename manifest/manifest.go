// Package manifest implements the per-namespace manifest (§3): a
// small JSON index of the chunk ids currently live under a namespace,
// plus a version counter that strictly increases on every mutation
// that changes the live chunk set (I5). Manifests are persisted
// through cmn/jsp's signature+checksum envelope so a truncated or
// corrupted manifest object is detected rather than silently
// misread.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package manifest

import (
	"context"
	"strings"
	"sync"

	"github.com/dot-do/graphdb-sub005/cmn"
	"github.com/dot-do/graphdb-sub005/cmn/jsp"
	"github.com/dot-do/graphdb-sub005/store"
)

// Manifest is the live-chunk index for one namespace.
type Manifest struct {
	ChunkIDs []string `json:"chunkIds"`
	Version  uint64   `json:"version"`
}

func empty() *Manifest { return &Manifest{} }

func key(nsPath string) string { return strings.TrimSuffix(nsPath, "/") + "/manifest.json" }

// Store persists manifests to a blob store, serializing concurrent
// mutations of the same namespace with an in-process mutex (not a lock
// file in the blob store, unlike compaction's).
type Store struct {
	bs store.BlobStore
	mu sync.Mutex
}

func New(bs store.BlobStore) *Store { return &Store{bs: bs} }

// Load reads the namespace's manifest, returning an empty
// version-0 manifest when none exists yet.
func (s *Store) Load(ctx context.Context, nsPath string) (*Manifest, error) {
	data, found, err := s.bs.Get(ctx, key(nsPath))
	if err != nil {
		return nil, cmn.Wrap(cmn.KindBlobStoreTransient, err, "read manifest")
	}
	if !found {
		return empty(), nil
	}
	var m Manifest
	if _, err := jsp.Decode(data, &m); err != nil {
		return nil, cmn.Wrap(cmn.KindChunkDecode, err, "decode manifest")
	}
	return &m, nil
}

func (s *Store) save(ctx context.Context, nsPath string, m *Manifest) error {
	data, err := jsp.EncodeBytes(m, uint32(m.Version))
	if err != nil {
		return cmn.Wrap(cmn.KindJSONConversion, err, "encode manifest")
	}
	if err := s.bs.Put(ctx, key(nsPath), data); err != nil {
		return cmn.Wrap(cmn.KindBlobStoreTransient, err, "write manifest")
	}
	return nil
}

// Mutate applies a compound change to the namespace's live chunk set
// — any combination of additions and removals — as a single version
// bump, satisfying I5 without inflating the version counter once per
// individual chunk. Returns the manifest as stored.
func (s *Store) Mutate(ctx context.Context, nsPath string, add []string, remove []string) (*Manifest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.Load(ctx, nsPath)
	if err != nil {
		return nil, err
	}
	if len(add) == 0 && len(remove) == 0 {
		return m, nil
	}

	removeSet := make(map[string]bool, len(remove))
	for _, id := range remove {
		removeSet[id] = true
	}
	changed := false
	kept := make([]string, 0, len(m.ChunkIDs))
	for _, id := range m.ChunkIDs {
		if !removeSet[id] {
			kept = append(kept, id)
		} else {
			changed = true
		}
	}
	existing := make(map[string]bool, len(kept))
	for _, id := range kept {
		existing[id] = true
	}
	for _, id := range add {
		if !existing[id] {
			kept = append(kept, id)
			existing[id] = true
			changed = true
		}
	}
	if !changed {
		return m, nil
	}

	m.ChunkIDs = kept
	m.Version++
	if err := s.save(ctx, nsPath, m); err != nil {
		return nil, err
	}
	return m, nil
}

// AddChunk is Mutate with a single addition — the common path after a
// writer flush lands a new WAL chunk.
func (s *Store) AddChunk(ctx context.Context, nsPath, chunkID string) (*Manifest, error) {
	return s.Mutate(ctx, nsPath, []string{chunkID}, nil)
}

// ReplaceChunks is Mutate with a single addition replacing a batch of
// removals — the compaction path: sources go, the merged target
// arrives, both under one version bump.
func (s *Store) ReplaceChunks(ctx context.Context, nsPath string, sources []string, target string) (*Manifest, error) {
	return s.Mutate(ctx, nsPath, []string{target}, sources)
}
