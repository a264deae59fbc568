package bloom_test

import (
	"testing"

	"github.com/dot-do/graphdb-sub005/bloom"
	"github.com/stretchr/testify/require"
)

// TestNegativeLookup implements S3.
func TestNegativeLookup(t *testing.T) {
	f := bloom.New(1000, 0.01)
	f.Add("https://example.com/api/entity/123")

	require.True(t, f.MightExist("https://example.com/api/entity/123"))
	require.False(t, f.MightExist("https://example.com/api/entity/999"))
}

func TestEmptyFilterIsPassThrough(t *testing.T) {
	var f bloom.Filter
	require.True(t, f.MightExist("anything"))
}

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	f := bloom.New(500, 0.01)
	f.AddMany([]string{"a", "b", "c"})
	f.Version = "v7"

	s := f.Serialize()
	back, err := bloom.Deserialize(s)
	require.NoError(t, err)
	require.Equal(t, f.M, back.M)
	require.Equal(t, f.K, back.K)
	require.Equal(t, f.Version, back.Version)
	require.True(t, back.MightExist("a"))
	require.True(t, back.MightExist("b"))
}

func TestMergeRequiresIdenticalParams(t *testing.T) {
	a := bloom.New(100, 0.01)
	b := bloom.New(100, 0.01)
	a.Add("x")
	b.Add("y")
	require.NoError(t, a.Merge(b))
	require.True(t, a.MightExist("x"))
	require.True(t, a.MightExist("y"))

	c := bloom.New(10000, 0.01) // different m/k
	require.Error(t, a.Merge(c))
}

func TestBuilderVersionBumpsOnInsert(t *testing.T) {
	builder := bloom.NewBuilder(100, 0.01)
	v1 := builder.Add("one")
	v2 := builder.Add("two")
	require.NotEqual(t, v1, v2)
	require.True(t, builder.Filter().MightExist("one"))
	require.True(t, builder.Filter().MightExist("two"))
}
