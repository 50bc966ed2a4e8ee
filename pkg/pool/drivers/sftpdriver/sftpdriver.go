// Package sftpdriver implements the "sftp" pool type (§4.8): a second
// concrete PoolDriver exercising a real wire protocol to a remote disk
// node, alongside fsdriver's local "filesystem" type — demonstrating the
// heterogeneous pool-type dispatch the pool manager requires. Client
// connections are leased from a respool.Pool so concurrent operations
// share a bounded number of SSH sessions.
package sftpdriver

import (
	"path"
	"sync"

	"github.com/dpmgo/dpmgo/pkg/dmval"
	"github.com/dpmgo/dpmgo/pkg/inode"
	"github.com/dpmgo/dpmgo/pkg/pool"
	"github.com/dpmgo/dpmgo/pkg/respool"
	"github.com/dpmgo/dpmgo/pkg/status"
	"github.com/dpmgo/dpmgo/pkg/utils"
	"github.com/google/uuid"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

var logger = utils.GetLogger("sftpdriver")

// client bundles the ssh connection with the sftp session riding it, so
// both close together when the pool destroys the element.
type client struct {
	ssh  *ssh.Client
	sftp *sftp.Client
}

// factory dials addr and opens an SFTP subsystem on each Create.
type factory struct {
	addr   string
	config *ssh.ClientConfig
}

func (f *factory) Create() (*client, error) {
	conn, err := ssh.Dial("tcp", f.addr, f.config)
	if err != nil {
		return nil, status.Wrap(err, status.QueryFailed, "ssh dial")
	}
	sc, err := sftp.NewClient(conn)
	if err != nil {
		conn.Close()
		return nil, status.Wrap(err, status.QueryFailed, "sftp handshake")
	}
	return &client{ssh: conn, sftp: sc}, nil
}

func (f *factory) Destroy(c *client) {
	c.sftp.Close()
	c.ssh.Close()
}

func (f *factory) IsValid(c *client) bool {
	_, err := c.sftp.Getwd()
	return err == nil
}

// Driver is a pool.Driver backed by one remote SFTP endpoint, with one
// named filesystem ("fs0" by convention, same as fsdriver) under RootDir.
type Driver struct {
	Hostname string
	RootDir  string

	conns *respool.Pool[*client]

	mu      sync.Mutex
	pending map[string]string // put-request id -> remote path
}

// New dials addr lazily (on first use) via a bounded pool of n
// connections, authenticating with config.
func New(hostname, addr, rootDir string, config *ssh.ClientConfig, n int) *Driver {
	return &Driver{
		Hostname: hostname,
		RootDir:  rootDir,
		conns:    respool.New[*client](n, &factory{addr: addr, config: config}),
		pending:  make(map[string]string),
	}
}

func (d *Driver) Type() string { return "sftp" }

func (d *Driver) withClient(fn func(*sftp.Client) error) error {
	c, h, err := d.conns.Acquire(true)
	if err != nil {
		return err
	}
	defer d.conns.Release(h)
	return fn(c.sftp)
}

func (d *Driver) IsReplicaAvailable(r inode.Replica) bool {
	ok := false
	_ = d.withClient(func(c *sftp.Client) error {
		fi, err := c.Stat(d.remotePath(r.RFN))
		ok = err == nil && !fi.IsDir()
		return nil
	})
	return ok
}

func (d *Driver) SelectFilesystem(_ pool.Info) (fs, host string, err error) {
	return "fs0", d.Hostname, nil
}

func (d *Driver) BeginWrite(p pool.Info, fs, host, logicalPath string) (putRequestID, rfn string, err error) {
	rfn = pool.BuildRFN(p.Name, fs, host, logicalPath)
	remote := d.remotePath(rfn)
	err = d.withClient(func(c *sftp.Client) error {
		return c.MkdirAll(path.Dir(remote))
	})
	if err != nil {
		return "", "", status.Wrap(err, status.QueryFailed, "mkdir remote parent")
	}
	putRequestID = uuid.NewString()
	d.mu.Lock()
	d.pending[putRequestID] = rfn
	d.mu.Unlock()
	logger.Debugf("begin remote write %s -> %s (put-request %s)", logicalPath, rfn, putRequestID)
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
	var sz int64
	err = d.withClient(func(c *sftp.Client) error {
		fi, err := c.Stat(d.remotePath(rfn))
		if err != nil {
			return err
		}
		sz = fi.Size()
		return nil
	})
	if err != nil {
		return 0, "", "", status.Wrap(err, status.QueryFailed, "stat finalized upload")
	}
	return uint64(sz), "", "", nil
}

func (d *Driver) CancelWrite(putRequestID string) error {
	d.mu.Lock()
	rfn, ok := d.pending[putRequestID]
	delete(d.pending, putRequestID)
	d.mu.Unlock()
	if !ok {
		return nil
	}
	return d.withClient(func(c *sftp.Client) error {
		return c.Remove(d.remotePath(rfn))
	})
}

func (d *Driver) remotePath(rfn string) string {
	for i := 0; i < len(rfn); i++ {
		if rfn[i] == ':' {
			return path.Join(d.RootDir, rfn[i+1:])
		}
	}
	return path.Join(d.RootDir, rfn)
}

// Close releases pooled connections.
func (d *Driver) Close() { d.conns.Close() }
