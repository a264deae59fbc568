// Package cos ("common os/string stuff") collects the handful of
// small, dependency-free helpers the rest of graphdb reaches for
// repeatedly — the same role `cmn/cos` plays for aistore.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package cos

import (
	"hash/crc32"

	jsoniter "github.com/json-iterator/go"
)

const SizeofI64 = 8

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// MustMarshal panics on a Marshal error; used at call sites where the
// input type is statically known to be marshalable (mirrors the
// teacher's `cos.MustMarshal` used throughout `api/`).
func MustMarshal(v interface{}) []byte {
	b, err := jsonAPI.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func MarshalJSON(v interface{}) ([]byte, error) { return jsonAPI.Marshal(v) }

func UnmarshalJSON(b []byte, v interface{}) error { return jsonAPI.Unmarshal(b, v) }

// Cksum is a simple CRC32C checksum wrapper, used by jsp to detect
// corrupt manifest blobs.
type Cksum struct {
	Val uint32
}

func NewCksum(b []byte) *Cksum { return &Cksum{Val: crc32.Checksum(b, crc32.MakeTable(crc32.Castagnoli))} }

func (c *Cksum) Equal(other *Cksum) bool {
	if c == nil || other == nil {
		return c == other
	}
	return c.Val == other.Val
}

// ErrBadCksum is returned by jsp.Decode when the embedded checksum
// does not match the payload.
type ErrBadCksum struct{ Detail string }

func (e *ErrBadCksum) Error() string { return "bad checksum: " + e.Detail }
