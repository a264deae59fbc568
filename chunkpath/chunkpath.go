// Package chunkpath builds and parses the chunk path format shared by
// the CDC writer and the tiered compactor:
// {reversedDomain}/{pathSegments...}/_wal|_l1|_l2/{YYYY-MM-DD}/{HHMMSS-mmm}[-suffix].gcol
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package chunkpath

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Level is a position in the tiered compaction hierarchy.
type Level int

const (
	L0 Level = iota // WAL
	L1
	L2
)

func (l Level) dir() string {
	switch l {
	case L0:
		return "_wal"
	case L1:
		return "_l1"
	case L2:
		return "_l2"
	default:
		return "_wal"
	}
}

func (l Level) String() string {
	switch l {
	case L0:
		return "L0"
	case L1:
		return "L1"
	case L2:
		return "L2"
	default:
		return "L?"
	}
}

// LevelDir returns the source-prefix directory name for level l.
func LevelDir(l Level) string { return l.dir() }

// Format builds a chunk path rooted at nsPath for level, derived from
// tsMillis (UTC). suffix, when non-empty, is appended after a '-' to
// the HHMMSS-mmm segment to guarantee uniqueness between concurrent
// writers landing in the same millisecond (see spec Open Question O3).
func Format(nsPath string, level Level, tsMillis uint64, suffix string) string {
	t := time.UnixMilli(int64(tsMillis)).UTC()
	date := t.Format("2006-01-02")
	seq := fmt.Sprintf("%02d%02d%02d-%03d", t.Hour(), t.Minute(), t.Second(), t.Nanosecond()/1e6)
	if suffix != "" {
		seq += "-" + suffix
	}
	return fmt.Sprintf("%s/%s/%s/%s.gcol", strings.TrimSuffix(nsPath, "/"), level.dir(), date, seq)
}

// Prefix returns the source-level prefix under nsPath, used to List()
// candidate chunks for compaction / restore enumeration.
func Prefix(nsPath string, level Level) string {
	return fmt.Sprintf("%s/%s/", strings.TrimSuffix(nsPath, "/"), level.dir())
}

// Parsed holds the pieces recovered from a chunk path.
type Parsed struct {
	NSPath string
	Level  Level
	Date   string // YYYY-MM-DD
	Seq    string // HHMMSS-mmm[-suffix], or legacy NNN
}

// Parse recovers the namespace path, level, and date/sequence from a
// chunk path produced by Format, including the legacy {NNN}.gcol
// sequence form that must still parse for old chunks (§6).
func Parse(path string) (Parsed, bool) {
	if !strings.HasSuffix(path, ".gcol") {
		return Parsed{}, false
	}
	trimmed := strings.TrimSuffix(path, ".gcol")
	parts := strings.Split(trimmed, "/")
	if len(parts) < 3 {
		return Parsed{}, false
	}
	seq := parts[len(parts)-1]
	date := parts[len(parts)-2]
	levelDir := parts[len(parts)-3]
	nsPath := strings.Join(parts[:len(parts)-3], "/")

	var lvl Level
	switch levelDir {
	case "_wal":
		lvl = L0
	case "_l1":
		lvl = L1
	case "_l2":
		lvl = L2
	default:
		return Parsed{}, false
	}
	return Parsed{NSPath: nsPath, Level: lvl, Date: date, Seq: seq}, true
}

// SortKey returns a lexically-sortable key equal to Date+"/"+Seq,
// exploiting the path format's chronological-within-namespace
// ordering guarantee (§3).
func (p Parsed) SortKey() string { return p.Date + "/" + p.Seq }

// IsLegacySeq recognizes the accepted-but-deprecated {NNN}.gcol
// sequence form mentioned in §6.
func IsLegacySeq(seq string) bool {
	if len(seq) == 0 {
		return false
	}
	for _, r := range seq {
		if r < '0' || r > '9' {
			return false
		}
	}
	_, err := strconv.Atoi(seq)
	return err == nil
}
