package value_test

import (
	"testing"

	"github.com/dot-do/graphdb-sub005/value"
	"github.com/stretchr/testify/require"
)

func roundTripRow(t *testing.T, v value.Value) {
	t.Helper()
	row := value.ToRow(v)
	back := value.FromRow(row)
	require.Equal(t, v.Type, back.Type)
}

func TestRowRoundTrip(t *testing.T) {
	cases := []value.Value{
		{Type: value.Null},
		{Type: value.Bool, Bool: true},
		{Type: value.Int64, Int64: 42},
		{Type: value.Float64, Float64: 3.5},
		{Type: value.String, Str: "hello"},
		{Type: value.Binary, Bin: []byte{1, 2, 3}},
		{Type: value.Timestamp, Int64: 1700000000000},
		{Type: value.Date, Int64: 19000},
		{Type: value.Duration, Str: "P1D"},
		{Type: value.Ref, Str: "https://example.com/a/b"},
		{Type: value.RefArray, RefArray: []string{"https://example.com/a", "https://example.com/b"}},
		{Type: value.URL, Str: "https://example.com/"},
		{Type: value.GeoPoint, Geo: value.LatLng{Lat: 1.5, Lng: -2.5}},
	}
	for _, c := range cases {
		t.Run(string(c.Type), func(t *testing.T) { roundTripRow(t, c) })
	}
}

func TestWireRoundTripPrimitives(t *testing.T) {
	cases := []value.Value{
		{Type: value.Bool, Bool: false},
		{Type: value.Int64, Int64: 9007199254740993}, // beyond float64 safe-int range
		{Type: value.Float64, Float64: -1.25},
		{Type: value.String, Str: "triples"},
		{Type: value.Ref, Str: "https://example.com/x"},
		{Type: value.GeoPoint, Geo: value.LatLng{Lat: 10, Lng: 20}},
	}
	for _, c := range cases {
		w := value.ToWire(c)
		back, err := value.FromWire(w)
		require.NoError(t, err)
		require.Equal(t, c.Type, back.Type)
		switch c.Type {
		case value.Int64:
			require.Equal(t, c.Int64, back.Int64)
		case value.Float64:
			require.InDelta(t, c.Float64, back.Float64, 1e-9)
		case value.String, value.Ref:
			require.Equal(t, c.Str, back.Str)
		case value.GeoPoint:
			require.InDelta(t, c.Geo.Lat, back.Geo.Lat, 1e-6)
			require.InDelta(t, c.Geo.Lng, back.Geo.Lng, 1e-6)
		}
	}
}

func TestUnknownTypeDecodesToNull(t *testing.T) {
	row := value.Row{Type: value.Type("BOGUS")}
	back := value.FromRow(row)
	require.Equal(t, value.Null, back.Type)
}

func TestJSONConversionEqualsUnderJSONEquality(t *testing.T) {
	v := value.Value{Type: value.JSON, Bin: []byte(`{"a":1,"b":[1,2,3]}`)}
	w := value.ToWire(v)
	back, err := value.FromWire(w)
	require.NoError(t, err)
	require.JSONEq(t, string(v.Bin), string(back.Bin))
}
