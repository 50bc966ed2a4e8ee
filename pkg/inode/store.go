package inode

import "github.com/dpmgo/dpmgo/pkg/dmval"

// CreateFields is the set of attributes supplied to Create/MakeDir/Symlink;
// Ino/Nlink/Ctime/Mtime/Atime are computed by the store.
type CreateFields struct {
	Parent Ino
	Name   string
	Mode   uint32
	UID    uint32
	GID    uint32
	GUID   string
	ACL    string
	Xattr  dmval.Extensible
}

// DirCursor is a single-pass, lazily-fetched directory iterator (§4.4
// "pointer-heavy directory iterators" note): iteration state lives
// entirely inside the cursor, which borrows from the store.
type DirCursor interface {
	// Next advances the cursor and returns the next entry, or ok=false
	// at exhaustion. Ordering is implementation-defined but stable for
	// the cursor's lifetime.
	Next() (entry ExtendedStat, ok bool, err error)
	Close() error
}

// Store is the low-level CRUD interface over the metadata schema (§4.4),
// with no security checks — the Catalog enforces permissions on top of
// it. All multi-statement mutations must run inside a Tx.
type Store interface {
	// Begin starts (or nests into) a transaction on this store handle.
	Begin() (Tx, error)

	Create(tx Tx, f CreateFields) (ExtendedStat, error)
	Symlink(tx Tx, ino Ino, target string) error
	ReadLink(tx Tx, ino Ino) (string, error)

	// Unlink removes inode's row (and paired symlink/comment rows),
	// decrementing the parent's nlink. Refuses non-empty directories.
	Unlink(tx Tx, ino Ino) error
	Move(tx Tx, ino Ino, newParent Ino) error
	Rename(tx Tx, ino Ino, newName string) error

	StatByIno(tx Tx, ino Ino) (ExtendedStat, error)
	StatByParentName(tx Tx, parent Ino, name string) (ExtendedStat, error)
	StatByGUID(tx Tx, guid string) (ExtendedStat, error)

	Utime(tx Tx, ino Ino, atime, mtime int64) error
	SetMode(tx Tx, ino Ino, mode uint32) error
	SetOwner(tx Tx, ino Ino, uid, gid uint32) error
	SetSize(tx Tx, ino Ino, size uint64) error
	SetChecksum(tx Tx, ino Ino, csumType, csumValue string) error
	SetGUID(tx Tx, ino Ino, guid string) error
	SetACL(tx Tx, ino Ino, acl string) error
	UpdateXattr(tx Tx, ino Ino, xattr dmval.Extensible) error

	SetComment(tx Tx, ino Ino, text string) error
	GetComment(tx Tx, ino Ino) (string, error)
	DeleteComment(tx Tx, ino Ino) error

	AddReplica(tx Tx, r Replica) (Replica, error)
	UpdateReplica(tx Tx, r Replica) error
	DeleteReplica(tx Tx, replicaID int64) error
	GetReplicas(tx Tx, fileIno Ino) ([]Replica, error)
	GetReplicaByRFN(tx Tx, rfn string) (Replica, error)

	OpenDir(tx Tx, ino Ino) (DirCursor, error)
}

// Tx is a handle to a nested transaction scope (§4.4, §5): Begin
// increments a counter, Commit decrements it and only actually commits
// at zero, Rollback forces the counter to zero and rolls back. Commit
// without a matching Begin is a protocol error.
type Tx interface {
	Begin() error
	Commit() error
	Rollback() error
	// Depth returns the current nesting counter, for tests.
	Depth() int
}
