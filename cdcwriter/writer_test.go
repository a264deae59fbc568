package cdcwriter_test

import (
	"context"
	"testing"
	"time"

	"github.com/dot-do/graphdb-sub005/cdcwriter"
	"github.com/dot-do/graphdb-sub005/cmn"
	"github.com/dot-do/graphdb-sub005/gcol"
	"github.com/dot-do/graphdb-sub005/manifest"
	"github.com/dot-do/graphdb-sub005/store/memstore"
	"github.com/dot-do/graphdb-sub005/triple"
	"github.com/dot-do/graphdb-sub005/value"
	"github.com/stretchr/testify/require"
)

func mkEvent(ts uint64) cdcwriter.Event {
	tr, err := triple.New("https://example.com/crm/acme", "name", value.Value{Type: value.String, Str: "x"}, ts)
	if err != nil {
		panic(err)
	}
	return cdcwriter.Event{Type: cdcwriter.EventInsert, Triple: tr}
}

func testConf() cmn.WriterConf {
	return cmn.WriterConf{
		MaxBatchSize:     4,
		FlushInterval:    time.Hour, // disabled for deterministic tests
		MaxRetries:       3,
		RetryBackoffBase: time.Millisecond,
	}
}

func TestExplicitFlushPersistsAndClearsBuffer(t *testing.T) {
	bs := memstore.NewBlob()
	w := cdcwriter.New("https://example.com/crm/", ".com/.example/crm", bs, testConf(), nil)

	w.Write(mkEvent(100), mkEvent(101), mkEvent(102))
	require.Equal(t, 3, w.PendingEventCount())

	require.NoError(t, w.Flush(context.Background()))
	require.Equal(t, 0, w.PendingEventCount())
	require.EqualValues(t, 3, w.EventsWritten())

	objs, err := bs.List(context.Background(), ".com/.example/crm/_wal/")
	require.NoError(t, err)
	require.Len(t, objs, 1)

	data, found, err := bs.Get(context.Background(), objs[0].Key)
	require.NoError(t, err)
	require.True(t, found)
	triples, err := gcol.Decode(data)
	require.NoError(t, err)
	require.Len(t, triples, 3)
}

func TestFlushFailurePreservesBuffer(t *testing.T) {
	bs := memstore.NewBlob()
	bs.FailPut = "_wal"
	w := cdcwriter.New("https://example.com/crm/", ".com/.example/crm", bs, testConf(), nil)

	w.Write(mkEvent(1), mkEvent(2))
	err := w.Flush(context.Background())
	require.Error(t, err)
	require.Equal(t, 2, w.PendingEventCount())
	require.EqualValues(t, 0, w.EventsWritten())
}

func TestCloseDoesNotImplicitlyFlush(t *testing.T) {
	bs := memstore.NewBlob()
	w := cdcwriter.New("https://example.com/crm/", ".com/.example/crm", bs, testConf(), nil)
	w.Start()
	w.Write(mkEvent(1))
	w.Close()
	require.Equal(t, 1, w.PendingEventCount())
}

func TestWriteTriggersAutoFlushAtBatchSize(t *testing.T) {
	bs := memstore.NewBlob()
	w := cdcwriter.New("https://example.com/crm/", ".com/.example/crm", bs, testConf(), nil)
	w.Write(mkEvent(1), mkEvent(2), mkEvent(3), mkEvent(4)) // == MaxBatchSize
	require.Eventually(t, func() bool {
		return w.PendingEventCount() == 0
	}, time.Second, 5*time.Millisecond)
}

func TestErrorEventEmittedOnTerminalFailure(t *testing.T) {
	bs := memstore.NewBlob()
	bs.FailPut = "_wal"
	var got *cdcwriter.ErrorEvent
	w := cdcwriter.New("https://example.com/crm/", ".com/.example/crm", bs, testConf(), func(e cdcwriter.ErrorEvent) {
		got = &e
	})
	w.Write(mkEvent(1))
	_ = w.Flush(context.Background())
	require.NotNil(t, got)
	require.Equal(t, 1, got.EventCount)
}

func TestFlushRegistersChunkInManifest(t *testing.T) {
	bs := memstore.NewBlob()
	ms := manifest.New(bs)
	w := cdcwriter.New("https://example.com/crm/", ".com/.example/crm", bs, testConf(), nil).WithManifestStore(ms)

	w.Write(mkEvent(1), mkEvent(2))
	require.NoError(t, w.Flush(context.Background()))

	m, err := ms.Load(context.Background(), ".com/.example/crm")
	require.NoError(t, err)
	require.Len(t, m.ChunkIDs, 1)
	require.EqualValues(t, 1, m.Version)

	w.Write(mkEvent(3), mkEvent(4))
	require.NoError(t, w.Flush(context.Background()))

	m2, err := ms.Load(context.Background(), ".com/.example/crm")
	require.NoError(t, err)
	require.Len(t, m2.ChunkIDs, 2)
	require.EqualValues(t, 2, m2.Version)
}
