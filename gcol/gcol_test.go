package gcol_test

import (
	"sort"
	"testing"

	"github.com/dot-do/graphdb-sub005/gcol"
	"github.com/dot-do/graphdb-sub005/triple"
	"github.com/dot-do/graphdb-sub005/value"
	"github.com/stretchr/testify/require"
)

func sampleTriples(n int) []triple.Triple {
	out := make([]triple.Triple, 0, n)
	base := uint64(1700000000000)
	for i := 0; i < n; i++ {
		ts := base + uint64(n-i) // intentionally descending to exercise the sort
		tr, err := triple.New(
			"https://example.com/crm/acme",
			"name",
			value.Value{Type: value.String, Str: "v"},
			ts,
		)
		if err != nil {
			panic(err)
		}
		out = append(out, tr)
	}
	return out
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	in := sampleTriples(10)
	b, err := gcol.Encode(in)
	require.NoError(t, err)

	out, err := gcol.Decode(b)
	require.NoError(t, err)
	require.Len(t, out, len(in))

	sort.SliceStable(in, func(i, j int) bool { return in[i].Timestamp < in[j].Timestamp })
	for i := range in {
		require.Equal(t, in[i].Subject, out[i].Subject)
		require.Equal(t, in[i].Timestamp, out[i].Timestamp)
		require.Equal(t, in[i].TxID, out[i].TxID)
	}
}

func TestGetChunkStatsWithoutDecode(t *testing.T) {
	in := sampleTriples(5)
	b, err := gcol.Encode(in)
	require.NoError(t, err)

	stats, err := gcol.GetChunkStats(b)
	require.NoError(t, err)
	require.EqualValues(t, 5, stats.TripleCount)
	require.Contains(t, stats.Predicates, "name")
	require.LessOrEqual(t, stats.MinTimestamp, stats.MaxTimestamp)
}

func TestBadMagic(t *testing.T) {
	_, err := gcol.Decode([]byte("not a chunk: plain text, no magic prefix"))
	require.Error(t, err)
}

func TestTruncated(t *testing.T) {
	in := sampleTriples(3)
	b, err := gcol.Encode(in)
	require.NoError(t, err)
	_, err = gcol.Decode(b[:len(b)-2])
	require.Error(t, err)
}

func TestMultiplePredicatesGroupedCorrectly(t *testing.T) {
	t1, _ := triple.New("https://example.com/crm/acme", "name", value.Value{Type: value.String, Str: "a"}, 100)
	t2, _ := triple.New("https://example.com/crm/acme", "age", value.Value{Type: value.Int64, Int64: 30}, 101)
	b, err := gcol.Encode([]triple.Triple{t1, t2})
	require.NoError(t, err)

	stats, err := gcol.GetChunkStats(b)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"name", "age"}, stats.Predicates)

	out, err := gcol.Decode(b)
	require.NoError(t, err)
	require.Len(t, out, 2)
}
