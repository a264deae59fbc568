// Package gcol implements the GraphCol columnar chunk codec (C3): an
// immutable, self-describing blob holding one namespace's triples,
// encoded with per-predicate columns so that chunk statistics
// (triple count, timestamp range, predicate list) can be read without
// a full decode.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package gcol

import (
	"bytes"
	"encoding/binary"
	"sort"

	"github.com/dot-do/graphdb-sub005/cmn"
	"github.com/dot-do/graphdb-sub005/cmn/cos"
	"github.com/dot-do/graphdb-sub005/triple"
	"github.com/dot-do/graphdb-sub005/value"
	"github.com/klauspost/compress/zstd"
)

const (
	magic        = "GCOL"
	version byte = 1
)

// Stats is what getChunkStats returns without materializing triples.
type Stats struct {
	TripleCount   uint32
	MinTimestamp  uint64
	MaxTimestamp  uint64
	Predicates    []string
}

type columnDir struct {
	predicate  string
	offset     uint32
	length     uint32 // compressed length
	rowCount   uint32
}

// columnRow is one triple within a predicate column: the predicate
// itself is not repeated per row, it is carried once in the directory.
type columnRow struct {
	Subject   string     `json:"s"`
	Object    value.Row  `json:"o"`
	Timestamp uint64     `json:"ts"`
	TxID      string     `json:"tx"`
}

var encoder = mustEncoder()
var decoder = mustDecoder()

func mustEncoder() *zstd.Encoder {
	w, err := zstd.NewWriter(nil)
	if err != nil {
		panic(err)
	}
	return w
}

func mustDecoder() *zstd.Decoder {
	r, err := zstd.NewReader(nil)
	if err != nil {
		panic(err)
	}
	return r
}

// Encode serializes triples (sorted ascending by timestamp, stable)
// into a self-describing GraphCol blob (P1, P2).
func Encode(triples []triple.Triple) ([]byte, error) {
	sorted := make([]triple.Triple, len(triples))
	copy(sorted, triples)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Timestamp < sorted[j].Timestamp })

	// Group by predicate, preserving first-seen column order and each
	// column's internal (already sorted) order.
	order := []string{}
	byPred := map[string][]columnRow{}
	for _, t := range sorted {
		if _, ok := byPred[t.Predicate]; !ok {
			order = append(order, t.Predicate)
		}
		byPred[t.Predicate] = append(byPred[t.Predicate], columnRow{
			Subject:   t.Subject,
			Object:    value.ToRow(t.Object),
			Timestamp: t.Timestamp,
			TxID:      t.TxID,
		})
	}

	var minTS, maxTS uint64
	if len(sorted) > 0 {
		minTS = sorted[0].Timestamp
		maxTS = sorted[len(sorted)-1].Timestamp
		for _, t := range sorted {
			if t.Timestamp < minTS {
				minTS = t.Timestamp
			}
			if t.Timestamp > maxTS {
				maxTS = t.Timestamp
			}
		}
	}

	dirs := make([]columnDir, 0, len(order))
	var payload bytes.Buffer
	for _, pred := range order {
		rows := byPred[pred]
		raw, err := cos.MarshalJSON(rows)
		if err != nil {
			return nil, cmn.Wrap(cmn.KindChunkDecode, err, "encode column")
		}
		compressed := encoder.EncodeAll(raw, nil)
		dirs = append(dirs, columnDir{
			predicate: pred,
			offset:    uint32(payload.Len()),
			length:    uint32(len(compressed)),
			rowCount:  uint32(len(rows)),
		})
		payload.Write(compressed)
	}

	var buf bytes.Buffer
	buf.WriteString(magic)
	buf.WriteByte(version)
	writeU32(&buf, uint32(len(sorted)))
	writeU64(&buf, minTS)
	writeU64(&buf, maxTS)
	writeU16(&buf, uint16(len(dirs)))
	for _, d := range dirs {
		writeU16(&buf, uint16(len(d.predicate)))
		buf.WriteString(d.predicate)
		writeU32(&buf, d.offset)
		writeU32(&buf, d.length)
		writeU32(&buf, d.rowCount)
	}
	buf.Write(payload.Bytes())
	return buf.Bytes(), nil
}

// GetChunkStats reads the header and column directory only, without
// decompressing or unmarshaling any column payload.
func GetChunkStats(b []byte) (Stats, error) {
	hdr, _, _, err := parseHeader(b)
	if err != nil {
		return Stats{}, err
	}
	preds := make([]string, len(hdr.dirs))
	for i, d := range hdr.dirs {
		preds[i] = d.predicate
	}
	return Stats{
		TripleCount:  hdr.tripleCount,
		MinTimestamp: hdr.minTS,
		MaxTimestamp: hdr.maxTS,
		Predicates:   preds,
	}, nil
}

// Decode fully materializes the triple sequence, sorted ascending by
// timestamp (stable), matching Encode's P2 round-trip law regardless
// of per-predicate column grouping.
func Decode(b []byte) ([]triple.Triple, error) {
	hdr, payloadOff, _, err := parseHeader(b)
	if err != nil {
		return nil, err
	}
	payload := b[payloadOff:]
	out := make([]triple.Triple, 0, hdr.tripleCount)
	for _, d := range hdr.dirs {
		if int(d.offset)+int(d.length) > len(payload) {
			return nil, cmn.NewError(cmn.KindChunkDecode, "ColumnCorrupt: column payload out of bounds")
		}
		compressed := payload[d.offset : d.offset+d.length]
		raw, err := decoder.DecodeAll(compressed, nil)
		if err != nil {
			return nil, cmn.Wrap(cmn.KindChunkDecode, err, "ColumnCorrupt: decompress")
		}
		var rows []columnRow
		if err := cos.UnmarshalJSON(raw, &rows); err != nil {
			return nil, cmn.Wrap(cmn.KindChunkDecode, err, "ColumnCorrupt: unmarshal")
		}
		for _, r := range rows {
			out = append(out, triple.Triple{
				Subject:   r.Subject,
				Predicate: d.predicate,
				Object:    value.FromRow(r.Object),
				Timestamp: r.Timestamp,
				TxID:      r.TxID,
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out, nil
}

type header struct {
	tripleCount uint32
	minTS, maxTS uint64
	dirs        []columnDir
}

func parseHeader(b []byte) (header, int, int, error) {
	const fixedLen = 4 + 1 + 4 + 8 + 8 + 2
	if len(b) < fixedLen {
		return header{}, 0, 0, cmn.NewError(cmn.KindChunkDecode, "Truncated: header")
	}
	if string(b[0:4]) != magic {
		return header{}, 0, 0, cmn.NewError(cmn.KindChunkDecode, "BadMagic")
	}
	if b[4] != version {
		return header{}, 0, 0, cmn.NewError(cmn.KindChunkDecode, "VersionUnsupported")
	}
	off := 5
	tripleCount := binary.BigEndian.Uint32(b[off:])
	off += 4
	minTS := binary.BigEndian.Uint64(b[off:])
	off += 8
	maxTS := binary.BigEndian.Uint64(b[off:])
	off += 8
	numPred := binary.BigEndian.Uint16(b[off:])
	off += 2

	dirs := make([]columnDir, 0, numPred)
	for i := 0; i < int(numPred); i++ {
		if off+2 > len(b) {
			return header{}, 0, 0, cmn.NewError(cmn.KindChunkDecode, "Truncated: directory")
		}
		nameLen := int(binary.BigEndian.Uint16(b[off:]))
		off += 2
		if off+nameLen+12 > len(b) {
			return header{}, 0, 0, cmn.NewError(cmn.KindChunkDecode, "Truncated: directory entry")
		}
		name := string(b[off : off+nameLen])
		off += nameLen
		offset := binary.BigEndian.Uint32(b[off:])
		off += 4
		length := binary.BigEndian.Uint32(b[off:])
		off += 4
		rowCount := binary.BigEndian.Uint32(b[off:])
		off += 4
		dirs = append(dirs, columnDir{predicate: name, offset: offset, length: length, rowCount: rowCount})
	}
	return header{tripleCount: tripleCount, minTS: minTS, maxTS: maxTS, dirs: dirs}, off, off, nil
}

func writeU16(b *bytes.Buffer, v uint16) {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	b.Write(tmp[:])
}
func writeU32(b *bytes.Buffer, v uint32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	b.Write(tmp[:])
}
func writeU64(b *bytes.Buffer, v uint64) {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	b.Write(tmp[:])
}
