// Package capi is the C-facing facade (§4.10's "outermost public API
// converts exceptions to status codes on the C facade"): opaque
// int64 handles in place of pointers, every call returning a status
// code rather than an error value, and a per-handle "last error"
// retrieval call — the shape a cgo `//export` shim would sit directly
// on top of, without this package itself depending on cgo.
package capi

import (
	"sync"

	"github.com/dpmgo/dpmgo/pkg/catalog"
	"github.com/dpmgo/dpmgo/pkg/inode"
	"github.com/dpmgo/dpmgo/pkg/security"
	"github.com/dpmgo/dpmgo/pkg/status"
)

// Handle is an opaque reference to a live StackInstance-like session,
// stable across the C boundary in place of a Go pointer.
type Handle int64

type session struct {
	cat *catalog.Catalog
	ctx security.Context

	mu      sync.Mutex
	lastErr status.Status
}

var (
	mu       sync.Mutex
	sessions = make(map[Handle]*session)
	nextID   Handle
)

// Open creates a new session bound to cat, returning the handle a
// caller threads through every subsequent call.
func Open(cat *catalog.Catalog) Handle {
	mu.Lock()
	defer mu.Unlock()
	nextID++
	sessions[nextID] = &session{cat: cat}
	return nextID
}

// Close releases a session; calls against a closed handle return
// NoSecurityContext.
func Close(h Handle) {
	mu.Lock()
	defer mu.Unlock()
	delete(sessions, h)
}

func lookup(h Handle) (*session, bool) {
	mu.Lock()
	defer mu.Unlock()
	s, ok := sessions[h]
	return s, ok
}

// SetSecurityContext installs the identity subsequent calls on h run
// as, mirroring the stack's setSecurityContext propagation (§4.1).
func SetSecurityContext(h Handle, ctx security.Context) status.Code {
	s, ok := lookup(h)
	if !ok {
		return status.NoSecurityContext
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctx = ctx
	return status.OK
}

// LastError returns the Status of the most recent failing call on h,
// OKStatus if the last call succeeded or none has been made yet.
func LastError(h Handle) status.Status {
	s, ok := lookup(h)
	if !ok {
		return status.Status{Code: status.NoSecurityContext, Msg: "unknown handle"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func (s *session) record(err error) status.Code {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		s.lastErr = status.OKStatus
		return status.OK
	}
	st := status.FromError(err)
	s.lastErr = st
	return st.Code
}

// Stat wraps Catalog.ExtendedStat, returning a zero ExtendedStat and a
// non-OK code on failure; the caller recovers the message via LastError.
func Stat(h Handle, path string, followLast bool) (inode.ExtendedStat, status.Code) {
	s, ok := lookup(h)
	if !ok {
		return inode.ExtendedStat{}, status.NoSecurityContext
	}
	st, err := s.cat.ExtendedStat(s.ctx, path, followLast)
	return st, s.record(err)
}

// Create wraps Catalog.Create.
func Create(h Handle, path string, mode uint32) (inode.ExtendedStat, status.Code) {
	s, ok := lookup(h)
	if !ok {
		return inode.ExtendedStat{}, status.NoSecurityContext
	}
	st, err := s.cat.Create(s.ctx, path, mode)
	return st, s.record(err)
}

// MakeDir wraps Catalog.MakeDir.
func MakeDir(h Handle, path string, mode uint32) (inode.ExtendedStat, status.Code) {
	s, ok := lookup(h)
	if !ok {
		return inode.ExtendedStat{}, status.NoSecurityContext
	}
	st, err := s.cat.MakeDir(s.ctx, path, mode)
	return st, s.record(err)
}

// Unlink wraps Catalog.Unlink.
func Unlink(h Handle, path string) status.Code {
	s, ok := lookup(h)
	if !ok {
		return status.NoSecurityContext
	}
	return s.record(s.cat.Unlink(s.ctx, path))
}

// RemoveDir wraps Catalog.RemoveDir.
func RemoveDir(h Handle, path string) status.Code {
	s, ok := lookup(h)
	if !ok {
		return status.NoSecurityContext
	}
	return s.record(s.cat.RemoveDir(s.ctx, path))
}

// Rename wraps Catalog.Rename.
func Rename(h Handle, oldPath, newPath string) status.Code {
	s, ok := lookup(h)
	if !ok {
		return status.NoSecurityContext
	}
	return s.record(s.cat.Rename(s.ctx, oldPath, newPath))
}

// SetMode wraps Catalog.SetMode.
func SetMode(h Handle, path string, mode uint32) status.Code {
	s, ok := lookup(h)
	if !ok {
		return status.NoSecurityContext
	}
	return s.record(s.cat.SetMode(s.ctx, path, mode))
}

// SetOwner wraps Catalog.SetOwner.
func SetOwner(h Handle, path string, uid, gid uint32) status.Code {
	s, ok := lookup(h)
	if !ok {
		return status.NoSecurityContext
	}
	return s.record(s.cat.SetOwner(s.ctx, path, uid, gid))
}

// GetComment wraps Catalog.GetComment.
func GetComment(h Handle, path string) (string, status.Code) {
	s, ok := lookup(h)
	if !ok {
		return "", status.NoSecurityContext
	}
	text, err := s.cat.GetComment(s.ctx, path)
	return text, s.record(err)
}

// SetComment wraps Catalog.SetComment.
func SetComment(h Handle, path, text string) status.Code {
	s, ok := lookup(h)
	if !ok {
		return status.NoSecurityContext
	}
	return s.record(s.cat.SetComment(s.ctx, path, text))
}

// GetReplicas wraps Catalog.GetReplicas.
func GetReplicas(h Handle, path string) ([]inode.Replica, status.Code) {
	s, ok := lookup(h)
	if !ok {
		return nil, status.NoSecurityContext
	}
	reps, err := s.cat.GetReplicas(s.ctx, path)
	return reps, s.record(err)
}

// AddReplica wraps Catalog.AddReplica.
func AddReplica(h Handle, path string, r inode.Replica) (inode.Replica, status.Code) {
	s, ok := lookup(h)
	if !ok {
		return inode.Replica{}, status.NoSecurityContext
	}
	rep, err := s.cat.AddReplica(s.ctx, path, r)
	return rep, s.record(err)
}

// ReadDir wraps Catalog.ReadDir.
func ReadDir(h Handle, path string) ([]inode.ExtendedStat, status.Code) {
	s, ok := lookup(h)
	if !ok {
		return nil, status.NoSecurityContext
	}
	entries, err := s.cat.ReadDir(s.ctx, path)
	return entries, s.record(err)
}
