// Package iodriver implements server-side file access (§4.9): opening a
// handle against a physical file name (pfn), the POSIX-flavored
// read/write/seek operation set on that handle, and the doneWriting
// front-end counterpart to the pool manager's write-completion call.
package iodriver

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/gofrs/flock"

	"github.com/dpmgo/dpmgo/pkg/dmval"
	"github.com/dpmgo/dpmgo/pkg/pool"
	"github.com/dpmgo/dpmgo/pkg/security"
	"github.com/dpmgo/dpmgo/pkg/status"
	"github.com/dpmgo/dpmgo/pkg/utils"
)

var logger = utils.GetLogger("iodriver")

// Flag mirrors POSIX open(2) flags plus the INSECURE bit (§4.9) that
// bypasses token validation for trusted local administrative paths.
type Flag int

const (
	ReadOnly Flag = 1 << iota
	WriteOnly
	ReadWrite
	Create
	Truncate
	Append
	Insecure
)

func (f Flag) has(bit Flag) bool { return f&bit != 0 }

// Driver creates handles against local physical files, verifying the
// caller's token unless the INSECURE flag is set.
type Driver struct {
	tokens *security.TokenAuthority
	pool   *pool.Manager
}

func New(tokens *security.TokenAuthority, mgr *pool.Manager) *Driver {
	return &Driver{tokens: tokens, pool: mgr}
}

// CreateIOHandler implements §4.9 createIOHandler: flags follow POSIX
// semantics; unless INSECURE is set, extras.token must verify against
// pfn, the caller's client id and the requested mode.
func (d *Driver) CreateIOHandler(ctx security.Context, pfn string, flags Flag, extras dmval.Extensible, mode uint32) (*Handle, error) {
	if !flags.has(Insecure) {
		wantMode := security.ModeRead
		if flags.has(WriteOnly) || flags.has(ReadWrite) || flags.has(Create) || flags.has(Truncate) {
			wantMode = security.ModeWrite
		}
		token := extras.GetString("token", "")
		useIP := extras.GetBool("tokenUsesIP", false)
		outcome := d.tokens.Verify(token, ctx.ClientID(useIP), pfn, wantMode)
		if outcome != security.OutcomeOK {
			return nil, status.Raisef(status.Forbidden, "token verification failed for %s: %s", pfn, outcome)
		}
	}

	osFlags := toOSFlags(flags)
	f, err := os.OpenFile(pfn, osFlags, os.FileMode(mode))
	if err != nil {
		return nil, status.Wrap(err, status.InternalError, fmt.Sprintf("open %s", pfn))
	}

	h := &Handle{file: f, pfn: pfn}
	if flags.has(Insecure) {
		lk := d.acquireAdvisory(pfn)
		h.lock = lk
	}
	return h, nil
}

func toOSFlags(flags Flag) int {
	osFlags := os.O_RDONLY
	switch {
	case flags.has(ReadWrite):
		osFlags = os.O_RDWR
	case flags.has(WriteOnly):
		osFlags = os.O_WRONLY
	}
	if flags.has(Create) {
		osFlags |= os.O_CREATE
	}
	if flags.has(Truncate) {
		osFlags |= os.O_TRUNC
	}
	if flags.has(Append) {
		osFlags |= os.O_APPEND
	}
	return osFlags
}

// acquireAdvisory locks pfn with gofrs/flock so two local INSECURE
// handles on the same pfn never race a truncate. Released on Close.
func (d *Driver) acquireAdvisory(pfn string) *flock.Flock {
	lk := flock.New(pfn + ".lock")
	if err := lk.Lock(); err != nil {
		logger.WithError(err).Warnf("advisory lock on %s failed, proceeding unlocked", pfn)
		return nil
	}
	return lk
}

// DoneWriting is the front-end counterpart to §4.8's doneWriting: it
// forwards the completion report to the pool manager, which talks to the
// owning driver and updates the replica/inode bookkeeping.
func (d *Driver) DoneWriting(ctx security.Context, path string, replicaID int64, poolName, putRequestID string) error {
	return d.pool.DoneWriting(ctx, path, replicaID, poolName, putRequestID)
}

// Handle is one open server-side file access, §4.9's handle operations.
type Handle struct {
	mu   sync.Mutex
	file *os.File
	pfn  string
	pos  int64
	lock *flock.Flock
}

func (h *Handle) Read(p []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	n, err := h.file.ReadAt(p, h.pos)
	h.pos += int64(n)
	return n, translateIOErr(err)
}

func (h *Handle) Write(p []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	n, err := h.file.WriteAt(p, h.pos)
	h.pos += int64(n)
	return n, translateIOErr(err)
}

// Readv has the default implementation of §4.9: loop over single-buffer
// reads. A driver with a true vectored syscall available would override
// this; the local-file driver has no efficiency gain from one.
func (h *Handle) Readv(bufs [][]byte) (int, error) {
	total := 0
	for _, b := range bufs {
		n, err := h.Read(b)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Writev has the same default-loop implementation as Readv.
func (h *Handle) Writev(bufs [][]byte) (int, error) {
	total := 0
	for _, b := range bufs {
		n, err := h.Write(b)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (h *Handle) Pread(p []byte, offset int64) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	n, err := h.file.ReadAt(p, offset)
	return n, translateIOErr(err)
}

func (h *Handle) Pwrite(p []byte, offset int64) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	n, err := h.file.WriteAt(p, offset)
	return n, translateIOErr(err)
}

func (h *Handle) Seek(offset int64, whence int) (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	pos, err := h.file.Seek(offset, whence)
	if err != nil {
		return 0, status.Wrap(err, status.InternalError, "seek")
	}
	h.pos = pos
	return pos, nil
}

func (h *Handle) Tell() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pos
}

// Fstat populates at least size, per §4.9.
func (h *Handle) Fstat() (size int64, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	fi, err := h.file.Stat()
	if err != nil {
		return 0, status.Wrap(err, status.InternalError, "fstat")
	}
	return fi.Size(), nil
}

func (h *Handle) Eof() (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	fi, err := h.file.Stat()
	if err != nil {
		return false, status.Wrap(err, status.InternalError, "fstat")
	}
	return h.pos >= fi.Size(), nil
}

func (h *Handle) Flush() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return translateIOErr(h.file.Sync())
}

func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	err := h.file.Close()
	if h.lock != nil {
		_ = h.lock.Unlock()
	}
	return translateIOErr(err)
}

func translateIOErr(err error) error {
	if err == nil || err == io.EOF {
		return err
	}
	return status.Wrap(err, status.InternalError, "i/o")
}
