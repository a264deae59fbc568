// Command graphdb is the operator CLI for the write/compact/restore/
// route/stats pipeline, wired over urfave/cli the same way the
// teacher's cmd/cli wraps its own cluster operations.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/dot-do/graphdb-sub005/bloom"
	"github.com/dot-do/graphdb-sub005/cdcwriter"
	"github.com/dot-do/graphdb-sub005/chunkpath"
	"github.com/dot-do/graphdb-sub005/cmn"
	"github.com/dot-do/graphdb-sub005/compact"
	"github.com/dot-do/graphdb-sub005/edgecache"
	"github.com/dot-do/graphdb-sub005/gcol"
	"github.com/dot-do/graphdb-sub005/manifest"
	"github.com/dot-do/graphdb-sub005/metrics"
	"github.com/dot-do/graphdb-sub005/nsid"
	"github.com/dot-do/graphdb-sub005/restore"
	"github.com/dot-do/graphdb-sub005/router"
	"github.com/dot-do/graphdb-sub005/store"
	"github.com/dot-do/graphdb-sub005/store/memstore"
	"github.com/dot-do/graphdb-sub005/triple"
	"github.com/dot-do/graphdb-sub005/value"
	"github.com/golang/glog"
	"github.com/urfave/cli/v2"
)

// openBlobStore resolves the backing store for a run. Only the
// in-memory fake ships with this module; a real deployment supplies
// its own store.BlobStore (S3, GCS, etc.) built from the same
// interface, wired here via a future --backend flag.
func openBlobStore() store.BlobStore { return memstore.NewBlob() }

// configPath is set by -config, mirroring the teacher's
// flag.StringVar(&daemon.cli.globalConfigPath, "config", ...) in
// ais/daemon.go: a stdlib flag parsed before any subcommand, loading a
// JSON file over cmn.Default() and installing it as the live cmn.GCO().
var configPath string

func init() {
	flag.StringVar(&configPath, "config", "", "path to a JSON file overriding the compiled-in cmn.Config defaults")
}

func main() {
	defer glog.Flush()

	flag.Parse()
	if configPath != "" {
		if _, err := cmn.LoadConfig(configPath); err != nil {
			glog.Fatalf("graphdb: failed to load -config %s: %v", configPath, err)
		}
	}

	app := &cli.App{
		Name:  "graphdb",
		Usage: "operate the namespaced triple-store storage core",
		Commands: []*cli.Command{
			writeCmd(),
			compactCmd(),
			restoreCmd(),
			routeCmd(),
			lookupCmd(),
			statsCmd(),
		},
	}
	// flag.Parse() already consumed -config; hand urfave/cli the
	// remaining positional args (subcommand + its own arguments).
	args := append([]string{os.Args[0]}, flag.Args()...)
	if err := app.Run(args); err != nil {
		glog.Errorf("graphdb: %v", err)
		os.Exit(1)
	}
}

func writeCmd() *cli.Command {
	return &cli.Command{
		Name:      "write",
		Usage:     "append one triple to a namespace's CDC writer and flush it",
		ArgsUsage: "<subject-url> <predicate> <string-value>",
		Action: func(c *cli.Context) error {
			if c.NArg() < 3 {
				return cli.Exit("usage: graphdb write <subject-url> <predicate> <string-value>", 1)
			}
			subject, predicate, val := c.Args().Get(0), c.Args().Get(1), c.Args().Get(2)

			eu, err := nsid.ParseEntityURL(subject)
			if err != nil {
				return cli.Exit(fmt.Sprintf("invalid subject: %v", err), 1)
			}
			nsPath := nsid.StoragePath(eu)

			tr, err := triple.New(subject, predicate, value.Value{Type: value.String, Str: val}, triple.Now())
			if err != nil {
				return cli.Exit(fmt.Sprintf("invalid triple: %v", err), 1)
			}

			bs := openBlobStore()
			ms := manifest.New(bs)
			var flushErr *cdcwriter.ErrorEvent
			w := cdcwriter.New(subject, nsPath, bs, cmn.GCO().Writer, func(e cdcwriter.ErrorEvent) { flushErr = &e }).
				WithManifestStore(ms)
			w.Write(cdcwriter.Event{Type: cdcwriter.EventInsert, Triple: tr})
			if err := w.Flush(c.Context); err != nil {
				return cli.Exit(fmt.Sprintf("write failed: %v", err), 1)
			}
			if flushErr != nil {
				return cli.Exit(fmt.Sprintf("write failed: %v", flushErr.Err), 1)
			}

			m, err := ms.Load(c.Context, nsPath)
			if err != nil {
				return cli.Exit(fmt.Sprintf("wrote triple but failed to read back manifest: %v", err), 1)
			}
			fmt.Printf("wrote %s txId=%s manifestVersion=%d liveChunks=%d\n", subject, tr.TxID, m.Version, len(m.ChunkIDs))
			return nil
		},
	}
}

func compactCmd() *cli.Command {
	return &cli.Command{
		Name:      "compact",
		Usage:     "run one compaction pass for a namespace at a source level",
		ArgsUsage: "<namespace-url> <l0|l1>",
		Action: func(c *cli.Context) error {
			if c.NArg() < 2 {
				return cli.Exit("usage: graphdb compact <namespace-url> <l0|l1>", 1)
			}
			namespace, levelArg := c.Args().Get(0), c.Args().Get(1)
			eu, err := nsid.ParseEntityURL(namespace)
			if err != nil {
				return cli.Exit(fmt.Sprintf("invalid namespace: %v", err), 1)
			}
			var lvl chunkpath.Level
			switch levelArg {
			case "l0":
				lvl = chunkpath.L0
			case "l1":
				lvl = chunkpath.L1
			default:
				return cli.Exit("level must be l0 or l1", 1)
			}

			bs := openBlobStore()
			comp := compact.New(bs, cmn.GCO().Compaction).WithManifestStore(manifest.New(bs))
			ev, err := comp.Compact(c.Context, namespace, nsid.StoragePath(eu), lvl)
			if err != nil {
				return cli.Exit(fmt.Sprintf("compaction failed: %v", err), 1)
			}
			if ev == nil {
				fmt.Println("no compaction performed (lock held or nothing to merge)")
				return nil
			}
			fmt.Printf("compacted %d chunks -> %s\n", len(ev.SourceChunks), ev.TargetChunk)
			return nil
		},
	}
}

func restoreCmd() *cli.Command {
	return &cli.Command{
		Name:      "restore",
		Usage:     "replay a namespace's triples up to a point in time",
		ArgsUsage: "<namespace-url> <asOf-epoch-millis> [resume-token]",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "batch-size", Value: 0, Usage: "events accumulated across chunks before replaying a batch (0 = default 1000)"},
			&cli.BoolFlag{Name: "include-deletes", Value: true, Usage: "include delete-type events in the replay"},
			&cli.BoolFlag{Name: "dry-run", Value: false, Usage: "compute restore accounting without invoking the handler"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 2 {
				return cli.Exit("usage: graphdb restore <namespace-url> <asOf-epoch-millis> [resume-token]", 1)
			}
			namespace := c.Args().Get(0)
			asOf, err := strconv.ParseUint(c.Args().Get(1), 10, 64)
			if err != nil {
				return cli.Exit("asOf must be an epoch-millis integer", 1)
			}
			var token string
			if c.NArg() >= 3 {
				token = c.Args().Get(2)
			}
			cursor, err := restore.DecodeCursor(token)
			if err != nil {
				return cli.Exit(fmt.Sprintf("bad resume token: %v", err), 1)
			}

			eu, err := nsid.ParseEntityURL(namespace)
			if err != nil {
				return cli.Exit(fmt.Sprintf("invalid namespace: %v", err), 1)
			}

			bs := openBlobStore()
			engine := restore.New(bs)
			res, err := engine.Restore(c.Context, nsid.StoragePath(eu), func(batch []triple.Triple) (bool, error) {
				return true, nil
			}, restore.Options{
				TargetTimestamp: asOf,
				BatchSize:       c.Int("batch-size"),
				IncludeDeletes:  c.Bool("include-deletes"),
				DryRun:          c.Bool("dry-run"),
				Resume:          cursor,
				OnProgress: func(p restore.Progress) {
					glog.V(3).Infof("restore: namespace=%s filesProcessed=%d replayed=%d skipped=%d percent=%.0f",
						namespace, p.FilesProcessed, p.EventsReplayed, p.EventsSkipped, p.PercentComplete)
				},
			})
			if err != nil {
				return cli.Exit(fmt.Sprintf("restore failed: %v", err), 1)
			}
			fmt.Printf("success=%v eventsReplayed=%d eventsSkipped=%d filesProcessed=%d durationMs=%d latestTimestamp=%d resumeToken=%s\n",
				res.Success, res.EventsReplayed, res.EventsSkipped, res.FilesProcessed, res.DurationMs, res.LatestTimestamp, res.ResumeToken)
			return nil
		},
	}
}

func routeCmd() *cli.Command {
	return &cli.Command{
		Name:      "route",
		Usage:     "classify a query string: shards, cacheability, cost",
		ArgsUsage: "<query-text>",
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return cli.Exit("usage: graphdb route <query-text>", 1)
			}
			text := c.Args().Get(0)
			res := classifyQuery(text)
			fmt.Printf("namespaces=%v shards=%v cacheable=%v cacheKey=%q ttl=%d cost=%d\n",
				res.Namespaces, res.ShardIDs, res.Cacheable, res.CacheKey, res.TTL, res.Cost)
			return nil
		},
	}
}

// classifyQuery runs the cacheability/cost/shard classification
// without requiring a live cache plane, since `route` is meant as an
// offline diagnostic for query text.
func classifyQuery(text string) router.RouteResult {
	r := router.New(nil, cmn.GCO().Router, "v1", nil)
	return r.RouteQuery(text)
}

func lookupCmd() *cli.Command {
	return &cli.Command{
		Name:      "lookup",
		Usage:     "check whether an entity might exist via the bloom/edge-cache router, recording a metrics sample",
		ArgsUsage: "<namespace-url> <entity-url>",
		Action: func(c *cli.Context) error {
			if c.NArg() < 2 {
				return cli.Exit("usage: graphdb lookup <namespace-url> <entity-url>", 1)
			}
			namespace, entity := c.Args().Get(0), c.Args().Get(1)
			eu, err := nsid.ParseEntityURL(namespace)
			if err != nil {
				return cli.Exit(fmt.Sprintf("invalid namespace: %v", err), 1)
			}
			nsPath := nsid.StoragePath(eu)

			bs := openBlobStore()
			plane := edgecache.New(memstore.NewCache(), cmn.GCO().Cache)
			collector := metrics.New(cmn.GCO().Metrics)

			const bloomVersion = "v1"
			loader := func(ctx context.Context, ns, version string) (*bloom.Filter, error) {
				return buildBloomFilter(ctx, bs, nsPath)
			}
			r := router.New(plane, cmn.GCO().Router, "v1", loader)
			r.SetCacheOnLoad(true)

			start := time.Now()
			mightExist, cacheHit := r.CheckEntity(c.Context, namespace, bloomVersion, entity)
			elapsed := float64(time.Since(start).Milliseconds())
			if cacheHit {
				collector.RecordHit(namespace, elapsed, int64(len(entity)))
			} else {
				collector.RecordMiss(namespace, elapsed, 0)
			}

			snap := collector.Snapshot()
			fmt.Printf("mightExist=%v cacheHit=%v hitRate=%.2f p95ms=%.2f\n", mightExist, cacheHit, snap.HitRate, snap.P95LatencyMs)
			return nil
		},
	}
}

// buildBloomFilter scans every live chunk under nsPath and builds a
// fresh bloom filter over the distinct subject URLs found, standing
// in for the injected "(namespace, version) -> filter" fallback the
// router expects when nothing is cached yet (§4.9's "Bloom filter
// fallback").
func buildBloomFilter(ctx context.Context, bs store.BlobStore, nsPath string) (*bloom.Filter, error) {
	var subjects []string
	for _, lvl := range []chunkpath.Level{chunkpath.L0, chunkpath.L1, chunkpath.L2} {
		objs, err := bs.List(ctx, chunkpath.Prefix(nsPath, lvl))
		if err != nil {
			continue
		}
		for _, o := range objs {
			data, found, err := bs.Get(ctx, o.Key)
			if err != nil || !found {
				continue
			}
			triples, err := gcol.Decode(data)
			if err != nil {
				continue // corrupt chunk: skip, this is a best-effort filter
			}
			for _, t := range triples {
				subjects = append(subjects, t.Subject)
			}
		}
	}
	b := bloom.NewBuilder(uint64(len(subjects)+1), 0.01)
	b.AddMany(subjects)
	f := b.Filter()
	f.Version = "v1"
	return f, nil
}

func statsCmd() *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "print the live configuration (placeholder until a running collector is wired to a transport)",
		Action: func(c *cli.Context) error {
			cfg := cmn.GCO()
			fmt.Printf("writer: batch=%d flush=%s\n", cfg.Writer.MaxBatchSize, cfg.Writer.FlushInterval)
			fmt.Printf("compaction: l1=%dB l2=%dB minChunks=%d lockTimeout=%s\n",
				cfg.Compaction.L1ThresholdBytes, cfg.Compaction.L2ThresholdBytes, cfg.Compaction.MinChunksToMerge, cfg.Compaction.LockTimeout)
			fmt.Printf("router: shardCount=%d\n", cfg.Router.ShardCount)
			fmt.Printf("metrics: window=%s maxDetailEntries=%d\n", cfg.Metrics.Window, cfg.Metrics.MaxDetailEntries)
			return nil
		},
	}
}
