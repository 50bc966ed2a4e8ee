// Package fsdriver implements the "filesystem" pool type (§4.8): a
// single local directory tree standing in for a disk-pool node,
// exercised directly by the I/O driver without a wire protocol. It is
// the simplest concrete PoolDriver, always reporting its one
// filesystem available.
package fsdriver

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/dpmgo/dpmgo/pkg/dmval"
	"github.com/dpmgo/dpmgo/pkg/inode"
	"github.com/dpmgo/dpmgo/pkg/pool"
	"github.com/dpmgo/dpmgo/pkg/status"
	"github.com/dpmgo/dpmgo/pkg/utils"
	"github.com/google/uuid"
)

var logger = utils.GetLogger("fsdriver")

// Driver is a pool.Driver backed by a local base directory; its single
// "filesystem" is named "fs0" and its single "host" is Hostname.
type Driver struct {
	BaseDir  string
	Hostname string

	mu      sync.Mutex
	pending map[string]string // put-request id -> rfn
}

func New(baseDir, hostname string) *Driver {
	return &Driver{BaseDir: baseDir, Hostname: hostname, pending: make(map[string]string)}
}

func (d *Driver) Type() string { return "filesystem" }

// IsReplicaAvailable reports whether the backing file exists and is a
// regular file; the local driver has no separate disabled/read-only
// flag, so existence is the whole health check.
func (d *Driver) IsReplicaAvailable(r inode.Replica) bool {
	fi, err := os.Stat(d.localPath(r.RFN))
	return err == nil && !fi.IsDir()
}

func (d *Driver) SelectFilesystem(_ pool.Info) (fs, host string, err error) {
	return "fs0", d.Hostname, nil
}

func (d *Driver) BeginWrite(p pool.Info, fs, host, logicalPath string) (putRequestID, rfn string, err error) {
	rfn = pool.BuildRFN(p.Name, fs, host, logicalPath)
	local := d.localPath(rfn)
	if err := os.MkdirAll(filepath.Dir(local), 0755); err != nil {
		return "", "", status.Wrap(err, status.InternalError, "mkdir parent")
	}
	putRequestID = uuid.NewString()
	d.mu.Lock()
	d.pending[putRequestID] = rfn
	d.mu.Unlock()
	logger.Debugf("begin write %s -> %s (put-request %s)", logicalPath, rfn, putRequestID)
	return putRequestID, rfn, nil
}

func (d *Driver) FinalizeWrite(putRequestID string, _ dmval.Extensible) (size uint64, csumType, csumValue string, err error) {
	d.mu.Lock()
	rfn, ok := d.pending[putRequestID]
	delete(d.pending, putRequestID)
	d.mu.Unlock()
	if !ok {
		return 0, "", "", status.Raisef(status.QueryFailed, "unknown put-request %s", putRequestID)
	}
	fi, err := os.Stat(d.localPath(rfn))
	if err != nil {
		return 0, "", "", status.Wrap(err, status.QueryFailed, "stat finalized upload")
	}
	return uint64(fi.Size()), "", "", nil
}

func (d *Driver) CancelWrite(putRequestID string) error {
	d.mu.Lock()
	rfn, ok := d.pending[putRequestID]
	delete(d.pending, putRequestID)
	d.mu.Unlock()
	if ok {
		_ = os.Remove(d.localPath(rfn))
	}
	return nil
}

// localPath maps a "host:/pool/fs/path" rfn onto a path under BaseDir by
// taking everything after the last '/'-delimited "fs/" segment's host
// prefix; the driver only ever dereferences rfns it minted itself via
// pool.BuildRFN, so the exact split point is the colon.
func (d *Driver) LocalPath(rfn string) string { return d.localPath(rfn) }

func (d *Driver) localPath(rfn string) string {
	for i := 0; i < len(rfn); i++ {
		if rfn[i] == ':' {
			return filepath.Join(d.BaseDir, rfn[i+1:])
		}
	}
	return filepath.Join(d.BaseDir, rfn)
}
