package nsid_test

import (
	"fmt"
	"testing"

	"github.com/dot-do/graphdb-sub005/nsid"
	"github.com/stretchr/testify/require"
)

func TestParseEntityURL(t *testing.T) {
	u, err := nsid.ParseEntityURL("https://api.example.com/v1/users/123")
	require.NoError(t, err)
	require.Equal(t, "https", u.Scheme)
	require.Equal(t, "api.example.com", u.Host)
	require.Equal(t, "v1/users/123", u.Path)
}

func TestParseEntityURLRejections(t *testing.T) {
	cases := map[string]string{
		"":                              "",
		"ftp://example.com/a":           "",
		"https://user:pw@example.com/a": "",
		"not a url at all$$$":           "",
	}
	for raw := range cases {
		_, err := nsid.ParseEntityURL(raw)
		require.Error(t, err)
	}
}

func TestStoragePathRoundTrip(t *testing.T) {
	u, err := nsid.ParseEntityURL("https://api.example.com/v1/users/123")
	require.NoError(t, err)
	path := nsid.StoragePath(u)
	require.Equal(t, ".com/.example/.api/v1/users/123", path)

	back, err := nsid.ReverseStoragePath(path)
	require.NoError(t, err)
	require.Equal(t, "https://api.example.com/v1/users/123", back)
}

func TestNamespace(t *testing.T) {
	u, err := nsid.ParseEntityURL("https://example.com/crm/acme")
	require.NoError(t, err)
	require.Equal(t, "https://example.com/crm/", nsid.Namespace(u))

	u2, err := nsid.ParseEntityURL("https://example.com/")
	require.NoError(t, err)
	require.Equal(t, "https://example.com/", nsid.Namespace(u2))
}

func TestShardStable(t *testing.T) {
	idx1, id1 := nsid.Shard("https://example.com/", 256)
	idx2, id2 := nsid.Shard("https://example.com/", 256)
	require.Equal(t, idx1, idx2)
	require.Equal(t, id1, id2)
}

// TestShardDistribution implements P4: 1000 distinct namespaces over
// 256 shards must occupy >=100 shards; chi-square over 32 shards and
// 3200 draws must stay under ~80.
func TestShardDistribution(t *testing.T) {
	seen := map[int]struct{}{}
	for i := 0; i < 1000; i++ {
		ns := fmt.Sprintf("https://tenant-%d.example.com/", i)
		idx, _ := nsid.Shard(ns, 256)
		seen[idx] = struct{}{}
	}
	require.GreaterOrEqual(t, len(seen), 100)

	const buckets = 32
	const draws = 3200
	counts := make([]int, buckets)
	for i := 0; i < draws; i++ {
		ns := fmt.Sprintf("https://draw-%d.example.com/", i)
		idx, _ := nsid.Shard(ns, buckets)
		counts[idx]++
	}
	expected := float64(draws) / float64(buckets)
	chi2 := 0.0
	for _, c := range counts {
		d := float64(c) - expected
		chi2 += d * d / expected
	}
	require.Less(t, chi2, 80.0)
}
