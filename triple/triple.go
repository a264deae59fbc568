// Package triple defines the Triple data model (§3): a validated
// subject URL, an opaque predicate, a tagged object value, a monotone
// timestamp, and a sortable transaction id.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package triple

import (
	"crypto/rand"
	"strings"
	"time"
	"unicode"

	"github.com/dot-do/graphdb-sub005/cmn"
	"github.com/dot-do/graphdb-sub005/nsid"
	"github.com/dot-do/graphdb-sub005/value"
	"github.com/oklog/ulid/v2"
)

// Triple is (subject, predicate, object, timestamp, txId).
type Triple struct {
	Subject   string       `json:"subject"`
	Predicate string       `json:"predicate"`
	Object    value.Value  `json:"-"`
	Timestamp uint64       `json:"timestamp"` // ms since epoch, monotone per writer
	TxID      string       `json:"txId"`      // 26-char Crockford base32
}

// ValidatePredicate enforces the "simple field name" character class
// and the `:` exclusion called out in §3.
func ValidatePredicate(p string) error {
	if p == "" {
		return cmn.NewSubError(cmn.KindInvalidEntityID, cmn.SubEmpty, "predicate is empty")
	}
	if strings.ContainsRune(p, ':') {
		return cmn.NewSubError(cmn.KindInvalidEntityID, cmn.SubInvalidCharacters, "predicate must not contain ':'")
	}
	for _, r := range p {
		if !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '-' || r == '.') {
			return cmn.NewSubError(cmn.KindInvalidEntityID, cmn.SubInvalidCharacters, "predicate has invalid character")
		}
	}
	return nil
}

// ValidateSubject delegates to nsid's entity-URL validation.
func ValidateSubject(s string) (*nsid.EntityURL, error) { return nsid.ParseEntityURL(s) }

var entropyPool = ulid.Monotonic(rand.Reader, 0)

// NewTxID returns a fresh 26-char Crockford base32 txId, sortable by
// its time prefix, for the given millisecond timestamp.
func NewTxID(tsMillis uint64) string {
	id := ulid.MustNew(tsMillis, entropyPool)
	return id.String()
}

// ValidateTxID checks the 26-char Crockford base32 shape.
func ValidateTxID(s string) error {
	if len(s) != 26 {
		return cmn.NewSubError(cmn.KindInvalidEntityID, cmn.SubInvalidValue, "txId must be 26 characters")
	}
	if _, err := ulid.ParseStrict(s); err != nil {
		return cmn.Wrap(cmn.KindInvalidEntityID, err, "txId is not valid Crockford base32")
	}
	return nil
}

// New validates and constructs a Triple, always stamping a fresh TxID
// derived from timestamp.
func New(subject, predicate string, object value.Value, timestampMs uint64) (Triple, error) {
	if _, err := ValidateSubject(subject); err != nil {
		return Triple{}, err
	}
	if err := ValidatePredicate(predicate); err != nil {
		return Triple{}, err
	}
	return Triple{
		Subject:   subject,
		Predicate: predicate,
		Object:    object,
		Timestamp: timestampMs,
		TxID:      NewTxID(timestampMs),
	}, nil
}

// Now returns the current time in epoch milliseconds, the unit the
// spec defines Triple.Timestamp in.
func Now() uint64 { return uint64(time.Now().UnixMilli()) }
