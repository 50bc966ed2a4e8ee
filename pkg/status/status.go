// Package status defines the structured error taxonomy shared by every
// layer of the stack: inode store, catalog, pool manager, I/O driver and
// the C facade all report failures as a Status (code + message), from
// which both a throw-style error and a return-style code can be derived
// without loss, per the spec's "exceptions as control flow" design note.
package status

import (
	"fmt"

	"github.com/pkg/errors"
)

// Code is a 32-bit status code, high byte partitions the category.
type Code uint32

const (
	categoryShift = 24

	CategoryUser          Code = 1 << categoryShift
	CategorySystem        Code = 2 << categoryShift
	CategoryConfiguration Code = 3 << categoryShift
	CategoryDatabase      Code = 4 << categoryShift
)

// Category returns the high-byte partition of a code.
func (c Code) Category() Code { return c &^ (Code(1)<<categoryShift - 1) }

// Named high-level codes, §4.10.
const (
	OK Code = 0

	NoSuchFile Code = CategoryUser + iota + 1
	NoSuchReplica
	NoReplicas
	NoSuchPool
	NoSuchUser
	NoSuchGroup
	Exists
	NotDirectory
	IsDirectory
	IsCwd
	TooManySymlinks
	Forbidden
	BadOperation
	NoComment
	InvalidACL
	NoSecurityContext
	UnknownPoolType
	UnknownKey
	NotImplemented
	QueryFailed
	InternalError
)

var names = map[Code]string{
	OK:                 "OK",
	NoSuchFile:         "NO_SUCH_FILE",
	NoSuchReplica:      "NO_SUCH_REPLICA",
	NoReplicas:         "NO_REPLICAS",
	NoSuchPool:         "NO_SUCH_POOL",
	NoSuchUser:         "NO_SUCH_USER",
	NoSuchGroup:        "NO_SUCH_GROUP",
	Exists:             "EXISTS",
	NotDirectory:       "NOT_DIRECTORY",
	IsDirectory:        "IS_DIRECTORY",
	IsCwd:              "IS_CWD",
	TooManySymlinks:    "TOO_MANY_SYMLINKS",
	Forbidden:          "FORBIDDEN",
	BadOperation:       "BAD_OPERATION",
	NoComment:          "NO_COMMENT",
	InvalidACL:         "INVALID_ACL",
	NoSecurityContext:  "NO_SECURITY_CONTEXT",
	UnknownPoolType:    "UNKNOWN_POOL_TYPE",
	UnknownKey:         "UNKNOWN_KEY",
	NotImplemented:     "NOT_IMPLEMENTED",
	QueryFailed:        "QUERY_FAILED",
	InternalError:      "INTERNAL_ERROR",
}

func (c Code) String() string {
	if n, ok := names[c]; ok {
		return n
	}
	return fmt.Sprintf("CODE(%#x)", uint32(c))
}

// Status is the value-style result carried across layer boundaries where
// allocating an error would be wasteful; the C facade (pkg/capi) uses it.
type Status struct {
	Code Code
	Msg  string
}

// OKStatus is the zero-cost success value.
var OKStatus = Status{Code: OK}

func (s Status) IsOK() bool { return s.Code == OK }

func (s Status) Error() string {
	if s.Msg == "" {
		return s.Code.String()
	}
	return fmt.Sprintf("%s: %s", s.Code, s.Msg)
}

// New builds a Status carrying a formatted message.
func New(code Code, format string, args ...interface{}) Status {
	return Status{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// Err is the throw-style counterpart of Status; it implements error and
// wraps github.com/pkg/errors so Cause()/stack frames survive re-raises
// across the inode store -> catalog -> stack chain (§7).
type Err struct {
	Status
	cause error
}

func (e *Err) Error() string { return e.Status.Error() }

func (e *Err) Unwrap() error { return e.cause }

// Raise converts a Status into a throw-style error.
func Raise(s Status) error {
	if s.IsOK() {
		return nil
	}
	return &Err{Status: s}
}

// Raisef is a convenience constructor combining New and Raise.
func Raisef(code Code, format string, args ...interface{}) error {
	return Raise(New(code, format, args...))
}

// Wrap attaches a status code to an arbitrary lower-layer error, preserving
// its stack trace via pkg/errors so the outermost API can still recover the
// original cause.
func Wrap(err error, code Code, msg string) error {
	if err == nil {
		return nil
	}
	return &Err{Status: Status{Code: code, Msg: msg}, cause: errors.WithMessage(err, msg)}
}

// FromError recovers a Status from an arbitrary error, defaulting to
// InternalError if it was never one of ours.
func FromError(err error) Status {
	if err == nil {
		return OKStatus
	}
	var e *Err
	if errors.As(err, &e) {
		return e.Status
	}
	return Status{Code: InternalError, Msg: err.Error()}
}

// Is reports whether err (or something it wraps) carries the given code.
func Is(err error, code Code) bool {
	return FromError(err).Code == code
}
