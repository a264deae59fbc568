// Package value implements the typed value codec (C2): a tagged sum
// type covering every ObjectType the triple model supports, with two
// total, mutually inverse mappings onto a sparse "row" struct (for
// columnar storage, see package gcol) and a "wire" JSON form (for
// client-facing payloads).
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package value

import (
	"strconv"

	"github.com/dot-do/graphdb-sub005/cmn"
	"github.com/dot-do/graphdb-sub005/cmn/cos"
)

// Type tags every ObjectType the triple model supports.
type Type string

const (
	Null          Type = "NULL"
	Bool          Type = "BOOL"
	Int32         Type = "INT32"
	Int64         Type = "INT64"
	Float64       Type = "FLOAT64"
	String        Type = "STRING"
	Binary        Type = "BINARY"
	Timestamp     Type = "TIMESTAMP"
	Date          Type = "DATE"
	Duration      Type = "DURATION"
	Ref           Type = "REF"
	RefArray      Type = "REF_ARRAY"
	JSON          Type = "JSON"
	GeoPoint      Type = "GEO_POINT"
	GeoPolygon    Type = "GEO_POLYGON"
	GeoLineString Type = "GEO_LINESTRING"
	URL           Type = "URL"
)

// LatLng is the GEO_POINT payload; other geo types carry their
// coordinates as UTF-8 JSON in Binary (see Row below).
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Value is the in-memory tagged-sum representation used by callers
// constructing/inspecting triples. Exactly one field beyond Type is
// meaningful, selected by Type.
type Value struct {
	Type     Type
	Bool     bool
	Int64    int64
	Float64  float64
	Str      string // STRING, DURATION, REF, URL
	Bin      []byte // BINARY, and the JSON-encoded form of JSON/GEO_POLYGON/GEO_LINESTRING
	Geo      LatLng // GEO_POINT
	RefArray []string
}

// Row is the sparse typed-column ("row") encoding used by the chunk
// codec: one discriminator plus per-kind optional columns, so a
// column of all-NULLs or all-INT64 never allocates the unused kinds.
type Row struct {
	Type      Type    `json:"t"`
	BoolV     *bool   `json:"b,omitempty"`
	Int64V    *int64  `json:"i,omitempty"`
	Float64V  *float64 `json:"f,omitempty"`
	StringV   *string `json:"s,omitempty"`
	BinaryV   []byte  `json:"x,omitempty"`
	LatV      *float64 `json:"lat,omitempty"`
	LngV      *float64 `json:"lng,omitempty"`
	RefV      *string `json:"ref,omitempty"`
}

// Wire is the `{type, value}` JSON form exchanged with clients. Large
// integers and timestamps are carried as decimal strings to survive a
// JSON number's 53-bit safe-integer ceiling.
type Wire struct {
	Type  Type        `json:"type"`
	Value interface{} `json:"value"`
}

type wireRef struct {
	Ref string `json:"@ref"`
}

// ToRow converts a Value to its sparse row form. Total on the
// supported algebra; unknown Types are treated as Null by the decode
// side (ToRow never needs to "unknow" anything, it is a forward map).
func ToRow(v Value) Row {
	r := Row{Type: v.Type}
	switch v.Type {
	case Null:
	case Bool:
		b := v.Bool
		r.BoolV = &b
	case Int32, Int64, Timestamp, Date:
		i := v.Int64
		r.Int64V = &i
	case Float64:
		f := v.Float64
		r.Float64V = &f
	case String, Duration, URL:
		s := v.Str
		r.StringV = &s
	case Binary:
		r.BinaryV = v.Bin
	case Ref:
		s := v.Str
		r.RefV = &s
	case RefArray:
		r.BinaryV = cos.MustMarshal(v.RefArray)
	case JSON:
		r.BinaryV = v.Bin
	case GeoPoint:
		lat, lng := v.Geo.Lat, v.Geo.Lng
		r.LatV, r.LngV = &lat, &lng
	case GeoPolygon, GeoLineString:
		r.BinaryV = v.Bin
	default:
		r.Type = Null
	}
	return r
}

// FromRow is the inverse of ToRow. An unrecognized Type tag decodes
// to Null so the conversion is total over any Row value.
func FromRow(r Row) Value {
	switch r.Type {
	case Bool:
		if r.BoolV == nil {
			return Value{Type: Null}
		}
		return Value{Type: Bool, Bool: *r.BoolV}
	case Int32, Int64, Timestamp, Date:
		if r.Int64V == nil {
			return Value{Type: Null}
		}
		return Value{Type: r.Type, Int64: *r.Int64V}
	case Float64:
		if r.Float64V == nil {
			return Value{Type: Null}
		}
		return Value{Type: Float64, Float64: *r.Float64V}
	case String, Duration, URL:
		if r.StringV == nil {
			return Value{Type: Null}
		}
		return Value{Type: r.Type, Str: *r.StringV}
	case Binary, JSON, GeoPolygon, GeoLineString:
		return Value{Type: r.Type, Bin: r.BinaryV}
	case Ref:
		if r.RefV == nil {
			return Value{Type: Null}
		}
		return Value{Type: Ref, Str: *r.RefV}
	case RefArray:
		var arr []string
		if len(r.BinaryV) > 0 {
			if err := cos.UnmarshalJSON(r.BinaryV, &arr); err != nil {
				return Value{Type: Null}
			}
		}
		return Value{Type: RefArray, RefArray: arr}
	case GeoPoint:
		if r.LatV == nil || r.LngV == nil {
			return Value{Type: Null}
		}
		return Value{Type: GeoPoint, Geo: LatLng{Lat: *r.LatV, Lng: *r.LngV}}
	default:
		return Value{Type: Null}
	}
}

// ToWire converts a Value to its client-facing {type, value} JSON form.
func ToWire(v Value) Wire {
	switch v.Type {
	case Null:
		return Wire{Type: Null, Value: nil}
	case Bool:
		return Wire{Type: Bool, Value: v.Bool}
	case Int32, Int64, Timestamp:
		return Wire{Type: v.Type, Value: strconv.FormatInt(v.Int64, 10)}
	case Date:
		return Wire{Type: Date, Value: v.Int64}
	case Float64:
		return Wire{Type: Float64, Value: v.Float64}
	case String, Duration, URL:
		return Wire{Type: v.Type, Value: v.Str}
	case Binary:
		return Wire{Type: Binary, Value: v.Bin}
	case Ref:
		return Wire{Type: Ref, Value: wireRef{Ref: v.Str}}
	case RefArray:
		return Wire{Type: RefArray, Value: v.RefArray}
	case JSON:
		var payload interface{}
		_ = cos.UnmarshalJSON(v.Bin, &payload)
		return Wire{Type: JSON, Value: payload}
	case GeoPoint:
		return Wire{Type: GeoPoint, Value: v.Geo}
	case GeoPolygon, GeoLineString:
		var payload interface{}
		_ = cos.UnmarshalJSON(v.Bin, &payload)
		return Wire{Type: v.Type, Value: payload}
	default:
		return Wire{Type: Null, Value: nil}
	}
}

// FromWire is the inverse of ToWire; an unknown Type decodes to Null.
func FromWire(w Wire) (Value, error) {
	switch w.Type {
	case Null:
		return Value{Type: Null}, nil
	case Bool:
		b, ok := w.Value.(bool)
		if !ok {
			return Value{}, cmn.NewSubError(cmn.KindJSONConversion, cmn.SubInvalidType, "BOOL value must be bool")
		}
		return Value{Type: Bool, Bool: b}, nil
	case Int32, Int64, Timestamp:
		s, i, err := asIntString(w.Value)
		if err != nil {
			return Value{}, err
		}
		_ = s
		return Value{Type: w.Type, Int64: i}, nil
	case Date:
		if i, ok := w.Value.(int64); ok {
			return Value{Type: Date, Int64: i}, nil
		}
		i, err := asInt64(w.Value)
		if err != nil {
			return Value{}, err
		}
		return Value{Type: Date, Int64: i}, nil
	case Float64:
		f, ok := toFloat(w.Value)
		if !ok {
			return Value{}, cmn.NewSubError(cmn.KindJSONConversion, cmn.SubInvalidType, "FLOAT64 value must be numeric")
		}
		return Value{Type: Float64, Float64: f}, nil
	case String, Duration, URL:
		s, ok := w.Value.(string)
		if !ok {
			return Value{}, cmn.NewSubError(cmn.KindJSONConversion, cmn.SubInvalidType, string(w.Type)+" value must be string")
		}
		return Value{Type: w.Type, Str: s}, nil
	case Binary:
		b, err := asBytes(w.Value)
		if err != nil {
			return Value{}, err
		}
		return Value{Type: Binary, Bin: b}, nil
	case Ref:
		switch vv := w.Value.(type) {
		case string:
			return Value{Type: Ref, Str: vv}, nil
		case wireRef:
			return Value{Type: Ref, Str: vv.Ref}, nil
		case map[string]interface{}:
			r, ok := vv["@ref"].(string)
			if !ok {
				return Value{}, cmn.NewSubError(cmn.KindJSONConversion, cmn.SubMissingField, "REF value missing @ref")
			}
			return Value{Type: Ref, Str: r}, nil
		default:
			return Value{}, cmn.NewSubError(cmn.KindJSONConversion, cmn.SubInvalidType, "REF value must be string or {@ref}")
		}
	case RefArray:
		if arr, ok := w.Value.([]string); ok {
			return Value{Type: RefArray, RefArray: arr}, nil
		}
		raw, ok := w.Value.([]interface{})
		if !ok {
			return Value{}, cmn.NewSubError(cmn.KindJSONConversion, cmn.SubInvalidType, "REF_ARRAY value must be an array")
		}
		arr := make([]string, 0, len(raw))
		for _, e := range raw {
			s, ok := e.(string)
			if !ok {
				return Value{}, cmn.NewSubError(cmn.KindJSONConversion, cmn.SubInvalidValue, "REF_ARRAY element must be string")
			}
			arr = append(arr, s)
		}
		return Value{Type: RefArray, RefArray: arr}, nil
	case JSON:
		b := cos.MustMarshal(w.Value)
		return Value{Type: JSON, Bin: b}, nil
	case GeoPoint:
		b := cos.MustMarshal(w.Value)
		var ll LatLng
		if err := cos.UnmarshalJSON(b, &ll); err != nil {
			return Value{}, cmn.Wrap(cmn.KindJSONConversion, err, "invalid GEO_POINT")
		}
		return Value{Type: GeoPoint, Geo: ll}, nil
	case GeoPolygon, GeoLineString:
		b := cos.MustMarshal(w.Value)
		return Value{Type: w.Type, Bin: b}, nil
	default:
		return Value{Type: Null}, nil
	}
}

func asIntString(v interface{}) (string, int64, error) {
	switch vv := v.(type) {
	case string:
		i, err := strconv.ParseInt(vv, 10, 64)
		if err != nil {
			return "", 0, cmn.Wrap(cmn.KindJSONConversion, err, "invalid integer string")
		}
		return vv, i, nil
	case float64:
		return strconv.FormatInt(int64(vv), 10), int64(vv), nil
	default:
		return "", 0, cmn.NewSubError(cmn.KindJSONConversion, cmn.SubInvalidType, "integer value must be string or number")
	}
}

func asInt64(v interface{}) (int64, error) {
	_, i, err := asIntString(v)
	return i, err
}

func toFloat(v interface{}) (float64, bool) {
	switch vv := v.(type) {
	case float64:
		return vv, true
	case string:
		f, err := strconv.ParseFloat(vv, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func asBytes(v interface{}) ([]byte, error) {
	switch vv := v.(type) {
	case []byte:
		return vv, nil
	case []interface{}:
		b := make([]byte, len(vv))
		for i, e := range vv {
			f, ok := e.(float64)
			if !ok {
				return nil, cmn.NewSubError(cmn.KindJSONConversion, cmn.SubInvalidValue, "BINARY element must be numeric byte")
			}
			b[i] = byte(f)
		}
		return b, nil
	case string:
		return []byte(vv), nil
	default:
		return nil, cmn.NewSubError(cmn.KindJSONConversion, cmn.SubInvalidType, "BINARY value must be a byte array")
	}
}
