// Package inode implements the low-level inode store (§4.4): CRUD over
// the metadata schema (§6) with no security checks, nested transactions,
// and lazy directory cursors. The Catalog (pkg/catalog) layers path
// resolution, permission enforcement and POSIX semantics on top of it.
package inode

import (
	"time"

	"github.com/dpmgo/dpmgo/pkg/dmval"
)

// Ino is an inode id. The root directory is always inode 1, with parent 0.
type Ino uint64

const RootIno Ino = 1

// File-type bits packed into Mode, mirroring POSIX S_IFxxx.
const (
	IFDIR  uint32 = 0040000
	IFREG  uint32 = 0100000
	IFLNK  uint32 = 0120000
	ISUID  uint32 = 0004000
	ISGID  uint32 = 0002000
	ISVTX  uint32 = 0001000
	ModePerm uint32 = 0777
)

// Status is the online/migrated flag persisted on file_metadata.status.
type Status byte

const (
	StatusOnline   Status = '-'
	StatusMigrated Status = 'm'
)

// ExtendedStat is the inode record (§3), corresponding to one row of
// file_metadata plus its derived ACL/xattr bags.
type ExtendedStat struct {
	Ino      Ino
	Parent   Ino
	Name     string
	GUID     string
	Mode     uint32 // file-type bits | permission bits | sticky/setuid/setgid
	UID      uint32
	GID      uint32
	Size     uint64
	Nlink    uint32
	Atime    time.Time
	Mtime    time.Time
	Ctime    time.Time
	Class    string
	FStatus  Status
	CsumType string
	CsumValue string
	ACL      string // serialized security.ACL text form; opaque to this layer
	Xattr    dmval.Extensible
}

func (s ExtendedStat) IsDir() bool     { return s.Mode&0170000 == IFDIR }
func (s ExtendedStat) IsRegular() bool { return s.Mode&0170000 == IFREG }
func (s ExtendedStat) IsSymlink() bool { return s.Mode&0170000 == IFLNK }

// Symlink is the paired symlink row (§3): inode -> target string.
type Symlink struct {
	Ino    Ino
	Target string
}

// ReplicaStatus is the file_replica.status column (§3).
type ReplicaStatus byte

const (
	ReplicaAvailable    ReplicaStatus = '-'
	ReplicaBeingPopulated ReplicaStatus = 'P'
	ReplicaToBeDeleted  ReplicaStatus = 'D'
)

// ReplicaType is the file_replica.r_type column: volatile vs permanent.
type ReplicaType byte

const (
	ReplicaVolatile  ReplicaType = 'V'
	ReplicaPermanent ReplicaType = 'P'
)

// Replica is one physical copy of a file's contents (§3).
type Replica struct {
	ReplicaID   int64
	FileIno     Ino
	Status      ReplicaStatus
	Type        ReplicaType
	AccessCount int64
	Atime       time.Time
	Ptime       time.Time
	Ltime       time.Time
	Host        string
	RFN         string // replica file name / URL
	Pool        string
	FS          string
	SpaceToken  string
	Xattr       dmval.Extensible
}

// Comment is the user_metadata row (§6): a free-text comment on a file.
type Comment struct {
	Ino  Ino
	Text string
}
