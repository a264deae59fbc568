// Package compact implements the tiered compactor (C6): it selects
// small source-level chunks, merge-sorts their triples, writes a
// single target chunk at the next level, and deletes the sources —
// all under a best-effort per-namespace lock file (I3).
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package compact

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dot-do/graphdb-sub005/chunkpath"
	"github.com/dot-do/graphdb-sub005/cmn"
	"github.com/dot-do/graphdb-sub005/cmn/cos"
	"github.com/dot-do/graphdb-sub005/gcol"
	"github.com/dot-do/graphdb-sub005/manifest"
	"github.com/dot-do/graphdb-sub005/store"
	"github.com/dot-do/graphdb-sub005/triple"
	"github.com/golang/glog"
	"github.com/oklog/ulid/v2"
)

// ChunkInfo is a candidate source chunk's fast-path stats (size from
// list, the rest via get + gcol.GetChunkStats, never a full decode).
type ChunkInfo struct {
	Key          string
	Size         int64
	MinTimestamp uint64
	MaxTimestamp uint64
}

// Event is emitted on a successful compaction, for downstream cache
// invalidation (C8/C10).
type Event struct {
	Namespace    string
	SourceChunks []string
	TargetChunk  string
	Timestamp    time.Time
	Level        chunkpath.Level // the target level
}

type lockFile struct {
	LockedAt int64  `json:"lockedAt"`
	Owner    string `json:"owner"`
}

// Compactor runs compactions for one blob store, honoring cfg's
// thresholds and lock timeout.
type Compactor struct {
	bs        store.BlobStore
	cfg       cmn.CompactionConf
	owner     string
	manifests *manifest.Store
}

func New(bs store.BlobStore, cfg cmn.CompactionConf) *Compactor {
	return &Compactor{bs: bs, cfg: cfg, owner: ulid.Make().String()}
}

// WithManifestStore has the compactor update nsPath's manifest (I5) in
// the same pass that retires source chunks and lands the target,
// keeping the live chunk-id list in sync with what compaction did.
// Without it, Compact runs exactly as before.
func (c *Compactor) WithManifestStore(m *manifest.Store) *Compactor {
	c.manifests = m
	return c
}

// levelTarget maps a source level to its destination and threshold.
func (c *Compactor) levelTarget(source chunkpath.Level) (target chunkpath.Level, threshold int64, ok bool) {
	switch source {
	case chunkpath.L0:
		return chunkpath.L1, c.cfg.L1ThresholdBytes, true
	case chunkpath.L1:
		return chunkpath.L2, c.cfg.L2ThresholdBytes, true
	default:
		return 0, 0, false
	}
}

// SelectChunksForCompaction implements §4.6's selection rule: sort by
// minTimestamp ascending (stable), greedily accumulate while adding
// the next chunk keeps the running total within threshold or the
// selection is still short of minChunks, stop once the total reaches
// threshold and at least minChunks are selected. Fewer than minChunks
// accumulated yields no selection.
func SelectChunksForCompaction(candidates []ChunkInfo, threshold int64, minChunks int) []ChunkInfo {
	sorted := make([]ChunkInfo, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].MinTimestamp < sorted[j].MinTimestamp })

	var selected []ChunkInfo
	var total int64
	for _, c := range sorted {
		if total >= threshold && len(selected) >= minChunks {
			break
		}
		if total+c.Size <= threshold || len(selected) < minChunks {
			selected = append(selected, c)
			total += c.Size
			continue
		}
		break
	}
	if len(selected) < minChunks {
		return nil
	}
	return selected
}

func lockPath(nsPath string) string { return strings.TrimSuffix(nsPath, "/") + "/_compaction.lock" }

// acquireLock returns true if the lock was acquired (fresh or absent
// or malformed existing lock). A lock held by another, still-fresh
// owner yields false with no mutation (LockHeld, §7).
func (c *Compactor) acquireLock(ctx context.Context, nsPath string) (bool, error) {
	key := lockPath(nsPath)
	data, found, err := c.bs.Get(ctx, key)
	if err != nil {
		return false, cmn.Wrap(cmn.KindBlobStoreTransient, err, "read compaction lock")
	}
	if found {
		var lf lockFile
		if jsonErr := cos.UnmarshalJSON(data, &lf); jsonErr == nil {
			age := time.Since(time.UnixMilli(lf.LockedAt))
			if age < c.cfg.LockTimeout {
				return false, nil // fresh lock held by someone else
			}
		}
		// malformed or stale: fall through and overwrite
	}
	newLock := lockFile{LockedAt: time.Now().UnixMilli(), Owner: c.owner}
	if err := c.bs.Put(ctx, key, cos.MustMarshal(newLock)); err != nil {
		return false, cmn.Wrap(cmn.KindBlobStoreTransient, err, "write compaction lock")
	}
	return true, nil
}

// releaseLock is best-effort: failures are logged, never propagated.
func (c *Compactor) releaseLock(ctx context.Context, nsPath string) {
	if err := c.bs.Delete(ctx, lockPath(nsPath)); err != nil {
		glog.Warningf("compact: failed to release lock for %s: %v", nsPath, err)
	}
}

// Compact runs one compaction pass for nsPath at sourceLevel. Returns
// (nil, nil) when the lock is held elsewhere or there is nothing to
// compact; an *Event describing the merge on success.
func (c *Compactor) Compact(ctx context.Context, namespace, nsPath string, sourceLevel chunkpath.Level) (*Event, error) {
	targetLevel, threshold, ok := c.levelTarget(sourceLevel)
	if !ok {
		return nil, cmn.NewError(cmn.KindBlobStoreFatal, "no target level for "+sourceLevel.String())
	}

	acquired, err := c.acquireLock(ctx, nsPath)
	if err != nil {
		return nil, err
	}
	if !acquired {
		return nil, nil
	}
	defer c.releaseLock(ctx, nsPath)

	infos, err := c.listCandidates(ctx, nsPath, sourceLevel)
	if err != nil {
		return nil, err
	}

	selected := SelectChunksForCompaction(infos, threshold, c.cfg.MinChunksToMerge)
	if len(selected) == 0 {
		return nil, nil
	}

	triples, err := c.readAndMerge(ctx, selected)
	if err != nil {
		return nil, err // fatal: chunk parse error aborts, sources remain
	}

	var maxTS uint64
	for _, t := range triples {
		if t.Timestamp > maxTS {
			maxTS = t.Timestamp
		}
	}

	target := chunkpath.Format(nsPath, targetLevel, maxTS, ulid.Make().String()[20:])
	data, err := gcol.Encode(triples)
	if err != nil {
		return nil, cmn.Wrap(cmn.KindChunkDecode, err, "encode merged chunk")
	}

	if err := c.putWithRetry(ctx, target, data); err != nil {
		return nil, cmn.Wrap(cmn.KindBlobStoreTransient, err, "write target chunk")
	}

	sourceKeys := make([]string, len(selected))
	for i, s := range selected {
		sourceKeys[i] = s.Key
	}
	if err := c.bs.Delete(ctx, sourceKeys...); err != nil {
		// target is already durable; sources may be retried for
		// deletion by a later compaction pass over the same prefix.
		glog.Errorf("compact: wrote target %s but failed to delete sources: %v", target, err)
	}

	if c.manifests != nil {
		if _, err := c.manifests.ReplaceChunks(ctx, nsPath, sourceKeys, target); err != nil {
			glog.Errorf("compact: wrote target %s but failed to update manifest: %v", target, err)
		}
	}

	return &Event{
		Namespace:    namespace,
		SourceChunks: sourceKeys,
		TargetChunk:  target,
		Timestamp:    time.Now(),
		Level:        targetLevel,
	}, nil
}

func (c *Compactor) listCandidates(ctx context.Context, nsPath string, level chunkpath.Level) ([]ChunkInfo, error) {
	objs, err := c.bs.List(ctx, chunkpath.Prefix(nsPath, level))
	if err != nil {
		return nil, cmn.Wrap(cmn.KindBlobStoreTransient, err, "list source chunks")
	}
	infos := make([]ChunkInfo, 0, len(objs))
	for _, o := range objs {
		if !strings.HasSuffix(o.Key, ".gcol") {
			continue
		}
		data, found, err := c.bs.Get(ctx, o.Key)
		if err != nil || !found {
			continue // transient/missing: skip; the chunk stays in place for a later pass
		}
		stats, err := gcol.GetChunkStats(data)
		if err != nil {
			continue // ChunkDecode on a non-selected candidate: skip, not fatal
		}
		infos = append(infos, ChunkInfo{
			Key:          o.Key,
			Size:         o.Size,
			MinTimestamp: stats.MinTimestamp,
			MaxTimestamp: stats.MaxTimestamp,
		})
	}
	return infos, nil
}

func (c *Compactor) readAndMerge(ctx context.Context, selected []ChunkInfo) ([]triple.Triple, error) {
	var all []triple.Triple
	for _, s := range selected {
		data, found, err := c.bs.Get(ctx, s.Key)
		if err != nil {
			return nil, cmn.Wrap(cmn.KindBlobStoreTransient, err, "read source chunk "+s.Key)
		}
		if !found {
			return nil, cmn.NewError(cmn.KindBlobStoreFatal, "source chunk vanished: "+s.Key)
		}
		triples, err := gcol.Decode(data)
		if err != nil {
			// a parse error on a chunk selected for merge is fatal:
			// abort the whole compaction, leaving sources untouched.
			return nil, cmn.Wrap(cmn.KindChunkDecode, err, "fatal: cannot decode selected chunk "+s.Key)
		}
		all = append(all, triples...)
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].Timestamp < all[j].Timestamp })
	return all, nil
}

func (c *Compactor) putWithRetry(ctx context.Context, key string, data []byte) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	wrapped := backoff.WithMaxRetries(bo, 3)
	wrapped = backoff.WithContext(wrapped, ctx)
	return backoff.Retry(func() error {
		if err := c.bs.Put(ctx, key, data); err != nil {
			return cmn.Wrap(cmn.KindBlobStoreTransient, err, "put target chunk")
		}
		return nil
	}, wrapped)
}
