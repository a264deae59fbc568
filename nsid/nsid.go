// Package nsid implements identifier and namespace handling (C1):
// entity URL validation, namespace derivation, the reversible
// namespace<->storage-path mapping, and FNV-1a consistent-hash shard
// assignment.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package nsid

import (
	"fmt"
	"hash/fnv"
	"net/url"
	"strconv"
	"strings"
	"unicode"

	"github.com/dot-do/graphdb-sub005/cmn"
)

const maxEntityURLLen = 2048

// EntityURL is a validated, parsed entity URL.
type EntityURL struct {
	Raw    string
	Scheme string
	Host   string // host[:port], lowercase
	Path   string // leading slash stripped
}

// ParseEntityURL validates raw per §3/§4.1 and returns its parsed form.
// Failures are *cmn.Error with Kind=KindInvalidEntityID and one of the
// documented sub-codes.
func ParseEntityURL(raw string) (*EntityURL, error) {
	if raw == "" {
		return nil, cmn.NewSubError(cmn.KindInvalidEntityID, cmn.SubEmpty, "entity url is empty")
	}
	if len(raw) > maxEntityURLLen {
		return nil, cmn.NewSubError(cmn.KindInvalidEntityID, cmn.SubTooLong, fmt.Sprintf("entity url exceeds %d bytes", maxEntityURLLen))
	}
	if err := checkCharacters(raw); err != nil {
		return nil, err
	}
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() {
		return nil, cmn.NewSubError(cmn.KindInvalidEntityID, cmn.SubInvalidURL, "not an absolute url")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, cmn.NewSubError(cmn.KindInvalidEntityID, cmn.SubInvalidProtocol, "scheme must be http or https")
	}
	if u.User != nil {
		return nil, cmn.NewSubError(cmn.KindInvalidEntityID, cmn.SubHasUserInfo, "url must not carry userinfo")
	}
	if u.Hostname() == "" || !validHostname(u.Hostname()) {
		return nil, cmn.NewSubError(cmn.KindInvalidEntityID, cmn.SubInvalidHostname, "invalid hostname")
	}
	return &EntityURL{
		Raw:    raw,
		Scheme: u.Scheme,
		Host:   strings.ToLower(u.Host),
		Path:   strings.TrimPrefix(u.EscapedPath(), "/"),
	}, nil
}

// checkCharacters rejects control, zero-width, BOM, and replacement
// code points anywhere in the raw URL text.
func checkCharacters(raw string) error {
	for _, r := range raw {
		switch {
		case unicode.IsControl(r):
			return cmn.NewSubError(cmn.KindInvalidEntityID, cmn.SubInvalidCharacters, "control character in url")
		case r == '\ufeff':
			return cmn.NewSubError(cmn.KindInvalidEntityID, cmn.SubInvalidCharacters, "BOM in url")
		case r == '\ufffd':
			return cmn.NewSubError(cmn.KindInvalidEntityID, cmn.SubInvalidCharacters, "replacement character in url")
		case isZeroWidth(r):
			return cmn.NewSubError(cmn.KindInvalidEntityID, cmn.SubInvalidCharacters, "zero-width character in url")
		}
	}
	return nil
}

func isZeroWidth(r rune) bool {
	switch r {
	case '\u200b', '\u200c', '\u200d', '\u2060':
		return true
	default:
		return false
	}
}

func validHostname(h string) bool {
	if h == "" || len(h) > 253 {
		return false
	}
	labels := strings.Split(h, ".")
	for _, l := range labels {
		if l == "" || len(l) > 63 {
			return false
		}
		for _, r := range l {
			if !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-') {
				return false
			}
		}
	}
	return true
}

func pathSegments(path string) []string {
	if path == "" {
		return nil
	}
	parts := strings.Split(path, "/")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Namespace derives the routing key: `{origin}/{firstPathSegment}/`
// when the URL has >=2 path segments, else `{origin}/`.
func Namespace(u *EntityURL) string {
	origin := u.Scheme + "://" + u.Host
	segs := pathSegments(u.Path)
	if len(segs) >= 2 {
		return origin + "/" + segs[0] + "/"
	}
	return origin + "/"
}

// StoragePath reversibly maps u onto the blob-store keyspace: reversed
// host labels (each prefixed with '.') followed by the full path, e.g.
// https://api.example.com/v1/users/123 -> .com/.example/.api/v1/users/123.
func StoragePath(u *EntityURL) string {
	host := u.Host
	if i := strings.IndexByte(host, ':'); i >= 0 {
		host = host[:i] // port carries no namespace meaning
	}
	labels := strings.Split(host, ".")
	rev := make([]string, len(labels))
	for i, l := range labels {
		rev[len(labels)-1-i] = "." + l
	}
	out := strings.Join(rev, "/")
	if segs := pathSegments(u.Path); len(segs) > 0 {
		out += "/" + strings.Join(segs, "/")
	}
	return out
}

// ReverseStoragePath reconstructs the original URL from a storage
// path produced by StoragePath. The scheme is not encoded in the
// storage path, so https is assumed (matching S1's only defined
// scenario); callers who wrote with scheme http must track that out
// of band.
func ReverseStoragePath(path string) (string, error) {
	segs := strings.Split(path, "/")
	var hostLabelsRev []string
	i := 0
	for ; i < len(segs); i++ {
		if !strings.HasPrefix(segs[i], ".") {
			break
		}
		hostLabelsRev = append(hostLabelsRev, strings.TrimPrefix(segs[i], "."))
	}
	if len(hostLabelsRev) == 0 {
		return "", cmn.NewSubError(cmn.KindInvalidEntityID, cmn.SubInvalidURL, "storage path has no reversed host labels")
	}
	labels := make([]string, len(hostLabelsRev))
	for j, l := range hostLabelsRev {
		labels[len(hostLabelsRev)-1-j] = l
	}
	host := strings.Join(labels, ".")
	out := "https://" + host
	if rest := segs[i:]; len(rest) > 0 {
		out += "/" + strings.Join(rest, "/")
	}
	return out, nil
}

// FNV1a32 hashes s with 32-bit FNV-1a, the consistent-hash primitive
// used for shard assignment (I6: shard assignment depends only on
// namespace).
func FNV1a32(s string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return h.Sum32()
}

// Shard assigns namespace to one of shardCount logical shards via
// FNV-1a; the same namespace always maps to the same shard.
func Shard(namespace string, shardCount int) (index int, shardID string) {
	h := FNV1a32(namespace)
	index = int(h) % shardCount
	if index < 0 {
		index += shardCount
	}
	shardID = "shard-" + strconv.Itoa(index) + "-" + strconv.FormatUint(uint64(h), 16)
	return index, shardID
}
