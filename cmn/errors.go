// Package cmn provides common constants, error kinds, and the
// atomically-swappable configuration shared by every graphdb package.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package cmn

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind identifies one of the error categories from the error-handling
// design (§7): the policy attached to an error (retry, surface, abort,
// absorb) is a function of its Kind, not its Go type.
type Kind string

const (
	KindInvalidEntityID    Kind = "InvalidEntityId"
	KindLexerError         Kind = "LexerError" // never raised by the core; contract only
	KindJSONConversion     Kind = "JsonConversionError"
	KindChunkDecode        Kind = "ChunkDecode"
	KindCacheUnavailable   Kind = "CacheUnavailable"
	KindBlobStoreTransient Kind = "BlobStoreTransient"
	KindBlobStoreFatal     Kind = "BlobStoreFatal"
	KindLockHeld           Kind = "LockHeld"
)

// SubCode further narrows KindInvalidEntityID and KindJSONConversion per
// §1/§7.
type SubCode string

const (
	SubEmpty             SubCode = "Empty"
	SubTooLong           SubCode = "TooLong"
	SubInvalidCharacters SubCode = "InvalidCharacters"
	SubInvalidURL        SubCode = "InvalidUrl"
	SubInvalidProtocol   SubCode = "InvalidProtocol"
	SubInvalidHostname   SubCode = "InvalidHostname"
	SubHasUserInfo       SubCode = "HasUserInfo"

	SubMissingField SubCode = "MissingField"
	SubInvalidType  SubCode = "InvalidType"
	SubInvalidValue SubCode = "InvalidValue"
	SubInvalidInput SubCode = "InvalidInput"
)

// Error is the one error type the core raises; Kind/Sub drive caller
// policy, Msg and the wrapped cause are for humans and logs.
type Error struct {
	Kind  Kind
	Sub   SubCode
	Msg   string
	cause error
}

func (e *Error) Error() string {
	if e.Sub != "" {
		if e.cause != nil {
			return fmt.Sprintf("%s(%s): %s: %v", e.Kind, e.Sub, e.Msg, e.cause)
		}
		return fmt.Sprintf("%s(%s): %s", e.Kind, e.Sub, e.Msg)
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.cause }

// Is lets errors.Is(err, &Error{Kind: K}) match on Kind alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != "" && t.Kind != e.Kind {
		return false
	}
	if t.Sub != "" && t.Sub != e.Sub {
		return false
	}
	return true
}

func NewError(kind Kind, msg string) *Error { return &Error{Kind: kind, Msg: msg} }

func NewSubError(kind Kind, sub SubCode, msg string) *Error {
	return &Error{Kind: kind, Sub: sub, Msg: msg}
}

func Wrap(kind Kind, cause error, msg string) *Error {
	return &Error{Kind: kind, Msg: msg, cause: errors.WithStack(cause)}
}

// KindOf reports the Kind of err if it (or something it wraps) is a
// *Error, else "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err's Kind equals kind.
func IsKind(err error, kind Kind) bool { return KindOf(err) == kind }
