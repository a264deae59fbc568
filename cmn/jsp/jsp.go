// Package jsp (JSON persistence) encodes/decodes arbitrary JSON-encoded
// structures behind a small signature+version+checksum preamble. The
// teacher's `cmn/jsp` persists to local files; here the same envelope
// wraps blobs headed to the blob-store capability instead (manifests,
// primarily), since graphdb has no local filesystem of its own.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package jsp

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/dot-do/graphdb-sub005/cmn/cos"
)

const (
	signature = "graphdb"
	// [ signature (8) | jsp version (4) | meta version (4) | checksum (4) ]
	prefLen = 8 + 4 + 4 + 4

	Metaver = 1
)

// Encode writes the envelope-wrapped JSON encoding of v.
func Encode(w io.Writer, v interface{}, metaVersion uint32) error {
	payload, err := cos.MarshalJSON(v)
	if err != nil {
		return err
	}
	var pref [prefLen]byte
	copy(pref[0:8], signature)
	binary.BigEndian.PutUint32(pref[8:12], Metaver)
	binary.BigEndian.PutUint32(pref[12:16], metaVersion)
	binary.BigEndian.PutUint32(pref[16:20], cos.NewCksum(payload).Val)
	if _, err := w.Write(pref[:]); err != nil {
		return err
	}
	_, err = w.Write(payload)
	return err
}

// EncodeBytes is Encode over an in-memory buffer, the common case for
// blob-store backed objects.
func EncodeBytes(v interface{}, metaVersion uint32) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, v, metaVersion); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode validates the envelope and unmarshals the payload into v,
// returning the meta version stored at encode time.
func Decode(b []byte, v interface{}) (metaVersion uint32, err error) {
	if len(b) < prefLen {
		return 0, &cos.ErrBadCksum{Detail: "truncated envelope"}
	}
	if string(b[0:8]) != signature+"\x00" {
		return 0, &cos.ErrBadCksum{Detail: "bad signature"}
	}
	metaVersion = binary.BigEndian.Uint32(b[12:16])
	wantCksum := binary.BigEndian.Uint32(b[16:20])
	payload := b[prefLen:]
	if cos.NewCksum(payload).Val != wantCksum {
		return metaVersion, &cos.ErrBadCksum{Detail: "checksum mismatch"}
	}
	if err := cos.UnmarshalJSON(payload, v); err != nil {
		return metaVersion, err
	}
	return metaVersion, nil
}
