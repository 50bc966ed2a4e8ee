package catalog

import (
	"time"

	"github.com/dpmgo/dpmgo/pkg/dmval"
	"github.com/dpmgo/dpmgo/pkg/inode"
	"github.com/dpmgo/dpmgo/pkg/security"
	"github.com/dpmgo/dpmgo/pkg/status"
)

// withTx runs fn inside a fresh top-level transaction, committing on
// success and rolling back on any error or panic.
func (c *Catalog) withTx(fn func(tx inode.Tx) error) error {
	tx, err := c.store.Begin()
	if err != nil {
		return status.Wrap(err, status.InternalError, "begin")
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (c *Catalog) creationMode(requested uint32) uint32 {
	c.mu.Lock()
	umask := c.umask
	c.mu.Unlock()
	return requested &^ umask
}

// Create makes a new regular file at path, owned by ctx's identity, and
// returns its stat (§4.6 create).
func (c *Catalog) Create(ctx security.Context, path string, mode uint32) (inode.ExtendedStat, error) {
	return c.make(ctx, path, inode.IFREG|c.creationMode(mode&0777))
}

// MakeDir creates a directory at path (§4.6 makeDir).
func (c *Catalog) MakeDir(ctx security.Context, path string, mode uint32) (inode.ExtendedStat, error) {
	return c.make(ctx, path, inode.IFDIR|c.creationMode(mode&07777))
}

func (c *Catalog) make(ctx security.Context, path string, mode uint32) (inode.ExtendedStat, error) {
	var out inode.ExtendedStat
	err := c.withTx(func(tx inode.Tx) error {
		parent, name, err := c.resolveParent(ctx, tx, path)
		if err != nil {
			return err
		}
		if !security.CheckPermissions(ctx, subjectOf(parent), security.Write) {
			return status.Raisef(status.Forbidden, "%s", path)
		}
		existing, statErr := c.store.StatByParentName(tx, parent.Ino, name)
		if statErr == nil {
			// §4.6 create: an existing entry with replicas is a hard
			// EXISTS, but a replica-less placeholder (e.g. left behind by
			// an aborted put) is silently truncated and reused instead.
			if existing.IsRegular() {
				reps, err := c.store.GetReplicas(tx, existing.Ino)
				if err != nil {
					return err
				}
				if len(reps) == 0 {
					if err := c.store.SetSize(tx, existing.Ino, 0); err != nil {
						return err
					}
					st, err := c.store.StatByIno(tx, existing.Ino)
					if err != nil {
						return err
					}
					out = st
					return nil
				}
			}
			return status.Raisef(status.Exists, "%s", path)
		}

		isDir := mode&inode.IFDIR != 0
		gid := ctx.PrimaryGID()
		if parent.Mode&inode.ISGID != 0 {
			gid = parent.GID // setgid directory propagates its group to new children
		}
		acl := security.InheritDefaults(mustParseACL(parent.ACL), isDir, uint16(mode&0777))

		st, err := c.store.Create(tx, inode.CreateFields{
			Parent: parent.Ino,
			Name:   name,
			Mode:   mode,
			UID:    ctx.User.UID,
			GID:    gid,
			ACL:    acl.Serialize(),
			Xattr:  dmval.New(),
		})
		if err != nil {
			return err
		}
		out = st
		return nil
	})
	return out, err
}

// Symlink creates a symbolic link at path pointing at target.
func (c *Catalog) Symlink(ctx security.Context, path, target string) (inode.ExtendedStat, error) {
	var out inode.ExtendedStat
	err := c.withTx(func(tx inode.Tx) error {
		parent, name, err := c.resolveParent(ctx, tx, path)
		if err != nil {
			return err
		}
		if !security.CheckPermissions(ctx, subjectOf(parent), security.Write) {
			return status.Raisef(status.Forbidden, "%s", path)
		}
		st, err := c.store.Create(tx, inode.CreateFields{
			Parent: parent.Ino,
			Name:   name,
			Mode:   inode.IFLNK | 0777,
			UID:    ctx.User.UID,
			GID:    ctx.PrimaryGID(),
			Xattr:  dmval.New(),
		})
		if err != nil {
			return err
		}
		if err := c.store.Symlink(tx, st.Ino, target); err != nil {
			return err
		}
		out = st
		return nil
	})
	return out, err
}

// ReadLink resolves path without following its final component and
// returns the link's target text.
func (c *Catalog) ReadLink(ctx security.Context, path string) (string, error) {
	var target string
	err := c.withTx(func(tx inode.Tx) error {
		st, err := c.resolve(ctx, tx, path, false, c.cfg.SymlinkLimit)
		if err != nil {
			return err
		}
		if !st.IsSymlink() {
			return status.Raisef(status.BadOperation, "%s is not a symlink", path)
		}
		target, err = c.store.ReadLink(tx, st.Ino)
		return err
	})
	return target, err
}

// Unlink removes a non-directory entry at path (§4.6 unlink). The
// parent's write permission and the sticky-bit restricted-deletion rule
// (S3) are enforced before the store mutation.
func (c *Catalog) Unlink(ctx security.Context, path string) error {
	return c.withTx(func(tx inode.Tx) error {
		parent, name, err := c.resolveParent(ctx, tx, path)
		if err != nil {
			return err
		}
		target, err := c.store.StatByParentName(tx, parent.Ino, name)
		if err != nil {
			return err
		}
		if target.IsDir() {
			return status.Raisef(status.IsDirectory, "%s", path)
		}
		if err := c.checkDeletable(ctx, parent, target); err != nil {
			return err
		}
		return c.store.Unlink(tx, target.Ino)
	})
}

// RemoveDir removes an empty directory at path (§4.6 removeDir).
func (c *Catalog) RemoveDir(ctx security.Context, path string) error {
	return c.withTx(func(tx inode.Tx) error {
		parent, name, err := c.resolveParent(ctx, tx, path)
		if err != nil {
			return err
		}
		target, err := c.store.StatByParentName(tx, parent.Ino, name)
		if err != nil {
			return err
		}
		if !target.IsDir() {
			return status.Raisef(status.NotDirectory, "%s", path)
		}
		if target.Ino == c.currentDir() {
			return status.Raisef(status.IsCwd, "%s", path)
		}
		if err := c.checkDeletable(ctx, parent, target); err != nil {
			return err
		}
		return c.store.Unlink(tx, target.Ino)
	})
}

func (c *Catalog) currentDir() inode.Ino {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cwd
}

// checkDeletable enforces write permission on the parent, plus the
// sticky-bit restricted-deletion flag (§4.6 edge case, scenario S3): if
// the parent has ISVTX set, only root, the parent's owner, or the
// entry's own owner may remove it.
func (c *Catalog) checkDeletable(ctx security.Context, parent, target inode.ExtendedStat) error {
	if !security.CheckPermissions(ctx, subjectOf(parent), security.Write) {
		return status.Raisef(status.Forbidden, "no write permission on parent directory")
	}
	if parent.Mode&inode.ISVTX != 0 && !ctx.IsRoot() {
		if ctx.User.UID != parent.UID && ctx.User.UID != target.UID {
			return status.Raisef(status.Forbidden, "sticky bit restricts deletion to owner")
		}
	}
	return nil
}

// Rename moves/renames the entry at oldPath to newPath, possibly across
// directories, as a single transaction (§9 open question: resolved in
// favor of an atomic replace, matching POSIX rename(2) semantics — a
// rename onto an existing empty directory silently replaces it).
func (c *Catalog) Rename(ctx security.Context, oldPath, newPath string) error {
	return c.withTx(func(tx inode.Tx) error {
		oldParent, oldName, err := c.resolveParent(ctx, tx, oldPath)
		if err != nil {
			return err
		}
		src, err := c.store.StatByParentName(tx, oldParent.Ino, oldName)
		if err != nil {
			return err
		}
		if err := c.checkDeletable(ctx, oldParent, src); err != nil {
			return err
		}

		newParent, newName, err := c.resolveParent(ctx, tx, newPath)
		if err != nil {
			return err
		}
		if !security.CheckPermissions(ctx, subjectOf(newParent), security.Write) {
			return status.Raisef(status.Forbidden, "%s", newPath)
		}

		if dst, err := c.store.StatByParentName(tx, newParent.Ino, newName); err == nil {
			if dst.IsDir() != src.IsDir() {
				if dst.IsDir() {
					return status.Raisef(status.IsDirectory, "%s", newPath)
				}
				return status.Raisef(status.NotDirectory, "%s", newPath)
			}
			if err := c.checkDeletable(ctx, newParent, dst); err != nil {
				return err
			}
			if err := c.store.Unlink(tx, dst.Ino); err != nil {
				return err
			}
		}

		if newParent.Ino != oldParent.Ino {
			if err := c.store.Move(tx, src.Ino, newParent.Ino); err != nil {
				return err
			}
		}
		if newName != oldName {
			if err := c.store.Rename(tx, src.Ino, newName); err != nil {
				return err
			}
		}
		return nil
	})
}

// SetMode changes path's permission bits (§4.6 setMode). Only root or
// the entry's owner may do so. Setgid is stripped if the caller does not
// belong to the file's group, sticky is stripped on non-directories for
// non-root callers (both matching POSIX chmod(2)'s silent-ignore rules
// rather than failing the call), and the stored USER_OBJ/GROUP_OBJ/
// OTHER/MASK ACL entries are re-derived from the resulting mode bits.
func (c *Catalog) SetMode(ctx security.Context, path string, mode uint32) error {
	return c.withTx(func(tx inode.Tx) error {
		st, err := c.resolve(ctx, tx, path, true, c.cfg.SymlinkLimit)
		if err != nil {
			return err
		}
		if !ctx.IsRoot() && ctx.User.UID != st.UID {
			return status.Raisef(status.Forbidden, "only owner or root may chmod")
		}
		requested := mode & 07777
		if requested&inode.ISGID != 0 && !ctx.IsRoot() && !ctx.HasGID(st.GID) {
			requested &^= inode.ISGID
		}
		if requested&inode.ISVTX != 0 && !st.IsDir() && !ctx.IsRoot() {
			requested &^= inode.ISVTX
		}
		newMode := (st.Mode &^ 07777) | requested

		if existing := mustParseACL(st.ACL); len(existing) > 0 {
			acl := security.ApplyModeMask(existing, uint16(newMode&0777))
			if err := c.store.SetACL(tx, st.Ino, acl.Serialize()); err != nil {
				return err
			}
		}
		return c.store.SetMode(tx, st.Ino, newMode)
	})
}

// SetOwner changes path's uid/gid (§4.6 setOwner). Reassigning the owner
// uid is root-only, but the owner may change the group to one of its own
// groups without being root, matching POSIX chown(2)'s "owner may change
// group to a group it belongs to" allowance.
func (c *Catalog) SetOwner(ctx security.Context, path string, uid, gid uint32) error {
	return c.withTx(func(tx inode.Tx) error {
		st, err := c.resolve(ctx, tx, path, true, c.cfg.SymlinkLimit)
		if err != nil {
			return err
		}
		if !ctx.IsRoot() {
			ownerChangingGroup := ctx.User.UID == st.UID && uid == st.UID && ctx.HasGID(gid)
			if !ownerChangingGroup {
				return status.Raisef(status.Forbidden, "only root may chown")
			}
		}
		return c.store.SetOwner(tx, st.Ino, uid, gid)
	})
}

// SetACL replaces path's extended ACL, validating it structurally first
// against whether path is itself a directory (DEFAULT entries only make
// sense there).
func (c *Catalog) SetACL(ctx security.Context, path string, acl security.ACL) error {
	return c.withTx(func(tx inode.Tx) error {
		st, err := c.resolve(ctx, tx, path, true, c.cfg.SymlinkLimit)
		if err != nil {
			return err
		}
		if err := acl.Validate(st.IsDir()); err != nil {
			return err
		}
		if !ctx.IsRoot() && ctx.User.UID != st.UID {
			return status.Raisef(status.Forbidden, "only owner or root may set ACL")
		}
		return c.store.SetACL(tx, st.Ino, acl.Serialize())
	})
}

// SetGUID sets path's globally unique identifier (§4.6 setGuid).
func (c *Catalog) SetGUID(ctx security.Context, path, guid string) error {
	return c.withTx(func(tx inode.Tx) error {
		st, err := c.resolve(ctx, tx, path, true, c.cfg.SymlinkLimit)
		if err != nil {
			return err
		}
		return c.store.SetGUID(tx, st.Ino, guid)
	})
}

// Utime sets path's access/modification times (§4.6 utime).
func (c *Catalog) Utime(ctx security.Context, path string, atime, mtime time.Time) error {
	return c.withTx(func(tx inode.Tx) error {
		st, err := c.resolve(ctx, tx, path, true, c.cfg.SymlinkLimit)
		if err != nil {
			return err
		}
		return c.store.Utime(tx, st.Ino, atime.Unix(), mtime.Unix())
	})
}

// SetComment attaches a free-text comment to path (§4.6 setComment).
func (c *Catalog) SetComment(ctx security.Context, path, text string) error {
	return c.withTx(func(tx inode.Tx) error {
		st, err := c.resolve(ctx, tx, path, true, c.cfg.SymlinkLimit)
		if err != nil {
			return err
		}
		return c.store.SetComment(tx, st.Ino, text)
	})
}

// GetComment returns path's comment, NoComment if none was set.
func (c *Catalog) GetComment(ctx security.Context, path string) (string, error) {
	var text string
	err := c.withTx(func(tx inode.Tx) error {
		st, err := c.resolve(ctx, tx, path, true, c.cfg.SymlinkLimit)
		if err != nil {
			return err
		}
		text, err = c.store.GetComment(tx, st.Ino)
		return err
	})
	return text, err
}

// AddReplica registers a new physical replica of the file at path.
func (c *Catalog) AddReplica(ctx security.Context, path string, r inode.Replica) (inode.Replica, error) {
	var out inode.Replica
	err := c.withTx(func(tx inode.Tx) error {
		st, err := c.resolve(ctx, tx, path, true, c.cfg.SymlinkLimit)
		if err != nil {
			return err
		}
		if !st.IsRegular() {
			return status.Raisef(status.IsDirectory, "%s is not a regular file", path)
		}
		if !security.CheckPermissions(ctx, subjectOf(st), security.Write) {
			return status.Raisef(status.Forbidden, "%s", path)
		}
		r.FileIno = st.Ino
		out, err = c.store.AddReplica(tx, r)
		return err
	})
	return out, err
}

// UpdateReplica persists changes to an existing replica row (§4.8
// doneWriting flips a replica from being-populated to available here).
func (c *Catalog) UpdateReplica(ctx security.Context, path string, r inode.Replica) error {
	return c.withTx(func(tx inode.Tx) error {
		st, err := c.resolve(ctx, tx, path, true, c.cfg.SymlinkLimit)
		if err != nil {
			return err
		}
		if !security.CheckPermissions(ctx, subjectOf(st), security.Write) {
			return status.Raisef(status.Forbidden, "%s", path)
		}
		return c.store.UpdateReplica(tx, r)
	})
}

// SetSizeAndChecksum updates a regular file's size and checksum fields,
// the inode-side half of a write's completion (§4.8 doneWriting).
func (c *Catalog) SetSizeAndChecksum(ctx security.Context, path string, size uint64, csumType, csumValue string) error {
	return c.withTx(func(tx inode.Tx) error {
		st, err := c.resolve(ctx, tx, path, true, c.cfg.SymlinkLimit)
		if err != nil {
			return err
		}
		if err := c.store.SetSize(tx, st.Ino, size); err != nil {
			return err
		}
		if csumType == "" {
			return nil
		}
		return c.store.SetChecksum(tx, st.Ino, csumType, csumValue)
	})
}

// DeleteReplica removes a replica from path's replica set.
func (c *Catalog) DeleteReplica(ctx security.Context, path string, replicaID int64) error {
	return c.withTx(func(tx inode.Tx) error {
		st, err := c.resolve(ctx, tx, path, true, c.cfg.SymlinkLimit)
		if err != nil {
			return err
		}
		if !security.CheckPermissions(ctx, subjectOf(st), security.Write) {
			return status.Raisef(status.Forbidden, "%s", path)
		}
		return c.store.DeleteReplica(tx, replicaID)
	})
}

// GetReplicas lists path's replicas (§4.6 getReplicas).
func (c *Catalog) GetReplicas(ctx security.Context, path string) ([]inode.Replica, error) {
	var out []inode.Replica
	err := c.withTx(func(tx inode.Tx) error {
		st, err := c.resolve(ctx, tx, path, true, c.cfg.SymlinkLimit)
		if err != nil {
			return err
		}
		if !security.CheckPermissions(ctx, subjectOf(st), security.Read) {
			return status.Raisef(status.Forbidden, "%s", path)
		}
		out, err = c.store.GetReplicas(tx, st.Ino)
		return err
	})
	return out, err
}

// ReadDir lists path's children, requiring both Execute (traverse) and
// Read permission on the directory (§4.6 readDir).
func (c *Catalog) ReadDir(ctx security.Context, path string) ([]inode.ExtendedStat, error) {
	var out []inode.ExtendedStat
	err := c.withTx(func(tx inode.Tx) error {
		st, err := c.resolve(ctx, tx, path, true, c.cfg.SymlinkLimit)
		if err != nil {
			return err
		}
		if !st.IsDir() {
			return status.Raisef(status.NotDirectory, "%s", path)
		}
		if !security.CheckPermissions(ctx, subjectOf(st), security.Read|security.Execute) {
			return status.Raisef(status.Forbidden, "%s", path)
		}
		cur, err := c.store.OpenDir(tx, st.Ino)
		if err != nil {
			return err
		}
		defer cur.Close()
		for {
			entry, ok, err := cur.Next()
			if err != nil {
				return err
			}
			if !ok {
				break
			}
			out = append(out, entry)
		}
		return nil
	})
	return out, err
}

func mustParseACL(s string) security.ACL {
	acl, err := security.ParseACL(s)
	if err != nil {
		logger.Warnf("discarding malformed stored ACL %q: %v", s, err)
		return nil
	}
	return acl
}
