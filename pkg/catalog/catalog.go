// Package catalog implements the namespace engine (§4.6): path
// resolution, symlink traversal, POSIX+ACL permission enforcement, and
// the transactional mutations (create, unlink, rename, mkdir/rmdir,
// chmod/chown/ACL/utime) layered on top of the low-level inode store.
package catalog

import (
	"sync"

	"github.com/dpmgo/dpmgo/pkg/inode"
	"github.com/dpmgo/dpmgo/pkg/security"
	"github.com/dpmgo/dpmgo/pkg/status"
	"github.com/dpmgo/dpmgo/pkg/utils"
)

var logger = utils.GetLogger("catalog")

// DefaultSymlinkLimit is used when Config.SymlinkLimit is zero or negative.
const DefaultSymlinkLimit = 16

// Config carries the per-stack configuration directives relevant to the
// catalog (§6): SymlinkLimit bounds symlink-loop traversal.
type Config struct {
	SymlinkLimit int
}

// Catalog is a StackInstance-owned namespace engine: not thread-safe (one
// StackInstance per request, §4.1/§5), it holds the per-session cwd and
// umask on top of a shared inode.Store.
type Catalog struct {
	mu     sync.Mutex // guards cwd/umask only; callers still shouldn't share a Catalog across goroutines
	store  inode.Store
	cfg    Config
	cwd    inode.Ino
	umask  uint32
}

// New constructs a Catalog rooted at the filesystem root as its initial
// working directory.
func New(store inode.Store, cfg Config) *Catalog {
	if cfg.SymlinkLimit <= 0 {
		cfg.SymlinkLimit = DefaultSymlinkLimit
	}
	return &Catalog{store: store, cfg: cfg, cwd: inode.RootIno, umask: 0022}
}

// Umask sets the process-local creation mask, returning the previous
// value (§4.6 umask(mask)).
func (c *Catalog) Umask(mask uint32) uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.umask
	c.umask = mask & 0777
	return prev
}

// ChangeDir updates the session's working directory inode after
// resolving path with the given security context.
func (c *Catalog) ChangeDir(ctx security.Context, path string) error {
	st, err := c.ExtendedStat(ctx, path, true)
	if err != nil {
		return err
	}
	if !st.IsDir() {
		return status.Raisef(status.NotDirectory, "%s", path)
	}
	if !security.CheckPermissions(ctx, subjectOf(st), security.Execute) {
		return status.Raisef(status.Forbidden, "%s", path)
	}
	c.mu.Lock()
	c.cwd = st.Ino
	c.mu.Unlock()
	return nil
}

func subjectOf(st inode.ExtendedStat) security.Subject {
	acl, _ := security.ParseACL(st.ACL)
	return security.Subject{OwnerUID: st.UID, OwnerGID: st.GID, Mode: uint16(st.Mode & 07777), ACL: acl}
}

// deref reads a fresh stat of inode ino, used after a mutation that may
// have changed fields the caller then needs to return.
func (c *Catalog) deref(tx inode.Tx, ino inode.Ino) (inode.ExtendedStat, error) {
	return c.store.StatByIno(tx, ino)
}
