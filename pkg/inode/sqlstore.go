package inode

import (
	"time"

	"xorm.io/xorm"

	"github.com/dpmgo/dpmgo/pkg/dmval"
	"github.com/dpmgo/dpmgo/pkg/status"
	"github.com/dpmgo/dpmgo/pkg/utils"
)

var logger = utils.GetLogger("inode")

// fileMetadataRow mirrors the file_metadata table (§6). The SQL dialect
// itself (MySQL vs. sqlite3 vs. Oracle OCCI) is an external collaborator
// per spec §1; SQLStore talks to it only through xorm's Engine, the same
// way the teacher's SQL meta engines do.
type fileMetadataRow struct {
	FileID       int64  `xorm:"pk autoincr 'fileid'"`
	ParentFileID int64  `xorm:"'parent_fileid' index"`
	GUID         string `xorm:"'guid' index"`
	Name         string `xorm:"'name'"`
	FileMode     uint32 `xorm:"'filemode'"`
	Nlink        uint32 `xorm:"'nlink'"`
	OwnerUID     uint32 `xorm:"'owner_uid'"`
	GID          uint32 `xorm:"'gid'"`
	FileSize     uint64 `xorm:"'filesize'"`
	Atime        int64  `xorm:"'atime'"`
	Mtime        int64  `xorm:"'mtime'"`
	Ctime        int64  `xorm:"'ctime'"`
	FileClass    string `xorm:"'fileclass'"`
	FStatus      string `xorm:"'status'"`
	CsumType     string `xorm:"'csumtype'"`
	CsumValue    string `xorm:"'csumvalue'"`
	ACL          string `xorm:"'acl' text"`
	Xattr        string `xorm:"'xattr' text"`
}

func (fileMetadataRow) TableName() string { return "file_metadata" }

type symlinkRow struct {
	FileID   int64  `xorm:"pk 'fileid'"`
	LinkName string `xorm:"'linkname'"`
}

func (symlinkRow) TableName() string { return "symlinks" }

type userMetadataRow struct {
	UFileID  int64  `xorm:"pk 'u_fileid'"`
	Comments string `xorm:"'comments' text"`
}

func (userMetadataRow) TableName() string { return "user_metadata" }

type fileReplicaRow struct {
	ReplicaID   int64  `xorm:"pk autoincr 'replicaid'"`
	FileID      int64  `xorm:"'fileid' index"`
	NbAccesses  int64  `xorm:"'nbaccesses'"`
	Ctime       int64  `xorm:"'ctime'"`
	Atime       int64  `xorm:"'atime'"`
	Ptime       int64  `xorm:"'ptime'"`
	Ltime       int64  `xorm:"'ltime'"`
	RType       string `xorm:"'r_type'"`
	Status      string `xorm:"'status'"`
	FType       string `xorm:"'f_type'"`
	SetName     string `xorm:"'setname'"`
	PoolName    string `xorm:"'poolname'"`
	Host        string `xorm:"'host'"`
	FS          string `xorm:"'fs'"`
	SFN         string `xorm:"'sfn' unique"`
	Xattr       string `xorm:"'xattr' text"`
}

func (fileReplicaRow) TableName() string { return "file_replica" }

// SQLStore is the xorm-backed Store implementation, the production
// backend behind MySQL or (for local/test deployments) sqlite3 — the
// same two-driver split the teacher uses for its SQL meta engines.
type SQLStore struct {
	engine *xorm.Engine
}

// OpenMySQL opens a MySQL-backed store for the given DSN (Host/NsDatabase/
// DbUsername/DbPassword/DbPort configuration directives, §6).
func OpenMySQL(dsn string) (*SQLStore, error) {
	e, err := xorm.NewEngine("mysql", dsn)
	if err != nil {
		return nil, status.Wrap(err, status.InternalError, "open mysql engine")
	}
	return &SQLStore{engine: e}, nil
}

// OpenSQLite opens a sqlite3-backed store, used for local test harnesses
// and the CLI's embedded mode.
func OpenSQLite(path string) (*SQLStore, error) {
	e, err := xorm.NewEngine("sqlite3", path)
	if err != nil {
		return nil, status.Wrap(err, status.InternalError, "open sqlite3 engine")
	}
	return &SQLStore{engine: e}, nil
}

// Migrate creates/updates the schema tables, idempotent.
func (s *SQLStore) Migrate() error {
	return s.engine.Sync2(new(fileMetadataRow), new(symlinkRow), new(userMetadataRow), new(fileReplicaRow))
}

func (s *SQLStore) Begin() (Tx, error) {
	session := s.engine.NewSession()
	if err := session.Begin(); err != nil {
		session.Close()
		return nil, status.Wrap(err, status.InternalError, "begin transaction")
	}
	return newNestedTx(&sqlRealTx{session: session}), nil
}

type sqlRealTx struct {
	session *xorm.Session
}

func (t *sqlRealTx) Commit() error {
	defer t.session.Close()
	return t.session.Commit()
}

func (t *sqlRealTx) Rollback() error {
	defer t.session.Close()
	return t.session.Rollback()
}

// session extracts the *xorm.Session backing tx, or a fresh
// auto-committing one if tx is nil (single-statement reads).
func (s *SQLStore) session(tx Tx) *xorm.Session {
	if tx == nil {
		return s.engine.NewSession()
	}
	if nt, ok := tx.(*nestedTx); ok {
		if rt, ok := nt.real.(*sqlRealTx); ok {
			return rt.session
		}
	}
	return s.engine.NewSession()
}

func toRow(st ExtendedStat) fileMetadataRow {
	xattr, _ := st.Xattr.Serialize()
	return fileMetadataRow{
		FileID: int64(st.Ino), ParentFileID: int64(st.Parent), GUID: st.GUID,
		Name: st.Name, FileMode: st.Mode, Nlink: st.Nlink,
		OwnerUID: st.UID, GID: st.GID, FileSize: st.Size,
		Atime: st.Atime.Unix(), Mtime: st.Mtime.Unix(), Ctime: st.Ctime.Unix(),
		FileClass: st.Class, FStatus: string(st.FStatus),
		CsumType: st.CsumType, CsumValue: st.CsumValue,
		ACL: st.ACL, Xattr: xattr,
	}
}

func fromRow(r fileMetadataRow) ExtendedStat {
	xattr, err := dmval.Deserialize(r.Xattr)
	if err != nil {
		xattr = dmval.New()
	}
	var fstatus Status
	if len(r.FStatus) > 0 {
		fstatus = Status(r.FStatus[0])
	}
	return ExtendedStat{
		Ino: Ino(r.FileID), Parent: Ino(r.ParentFileID), Name: r.Name, GUID: r.GUID,
		Mode: r.FileMode, UID: r.OwnerUID, GID: r.GID, Size: r.FileSize, Nlink: r.Nlink,
		Atime: time.Unix(r.Atime, 0), Mtime: time.Unix(r.Mtime, 0), Ctime: time.Unix(r.Ctime, 0),
		Class: r.FileClass, FStatus: fstatus, CsumType: r.CsumType, CsumValue: r.CsumValue,
		ACL: r.ACL, Xattr: xattr,
	}
}

func (s *SQLStore) Create(tx Tx, f CreateFields) (ExtendedStat, error) {
	sess := s.session(tx)
	exists, err := sess.Where("parent_fileid = ? AND name = ?", int64(f.Parent), f.Name).Exist(new(fileMetadataRow))
	if err != nil {
		return ExtendedStat{}, status.Wrap(err, status.InternalError, "check existing entry")
	}
	if exists {
		return ExtendedStat{}, status.Raisef(status.Exists, "%s", f.Name)
	}
	now := time.Now()
	nlink := uint32(1)
	if f.Mode&0170000 == IFDIR {
		nlink = 0
	}
	xattr := f.Xattr
	if xattr == nil {
		xattr = dmval.New()
	}
	xattrStr, _ := xattr.Serialize()
	row := fileMetadataRow{
		ParentFileID: int64(f.Parent), GUID: f.GUID, Name: f.Name, FileMode: f.Mode,
		Nlink: nlink, OwnerUID: f.UID, GID: f.GID,
		Atime: now.Unix(), Mtime: now.Unix(), Ctime: now.Unix(),
		FStatus: string(StatusOnline), ACL: f.ACL, Xattr: xattrStr,
	}
	if _, err := sess.Insert(&row); err != nil {
		return ExtendedStat{}, status.Wrap(err, status.InternalError, "insert file_metadata")
	}
	if _, err := sess.Exec("UPDATE file_metadata SET nlink = nlink + 1, ctime = ? WHERE fileid = ?", now.Unix(), int64(f.Parent)); err != nil {
		return ExtendedStat{}, status.Wrap(err, status.InternalError, "bump parent nlink")
	}
	return fromRow(row), nil
}

func (s *SQLStore) Symlink(tx Tx, ino Ino, target string) error {
	sess := s.session(tx)
	_, err := sess.Insert(&symlinkRow{FileID: int64(ino), LinkName: target})
	if err != nil {
		return status.Wrap(err, status.InternalError, "insert symlink")
	}
	return nil
}

func (s *SQLStore) ReadLink(tx Tx, ino Ino) (string, error) {
	sess := s.session(tx)
	var row symlinkRow
	ok, err := sess.Where("fileid = ?", int64(ino)).Get(&row)
	if err != nil {
		return "", status.Wrap(err, status.InternalError, "select symlink")
	}
	if !ok {
		return "", status.Raisef(status.NoSuchFile, "no symlink for inode %d", ino)
	}
	return row.LinkName, nil
}

func (s *SQLStore) Unlink(tx Tx, ino Ino) error {
	sess := s.session(tx)
	var row fileMetadataRow
	ok, err := sess.ID(int64(ino)).Get(&row)
	if err != nil {
		return status.Wrap(err, status.InternalError, "select inode")
	}
	if !ok {
		return status.Raisef(status.NoSuchFile, "inode %d", ino)
	}
	if row.FileMode&0170000 == IFDIR {
		n, err := sess.Where("parent_fileid = ?", int64(ino)).Count(new(fileMetadataRow))
		if err != nil {
			return status.Wrap(err, status.InternalError, "count children")
		}
		if n > 0 {
			return status.Raisef(status.IsDirectory, "inode %d is a non-empty directory", ino)
		}
	}
	if _, err := sess.Delete(&symlinkRow{FileID: int64(ino)}); err != nil {
		return status.Wrap(err, status.InternalError, "delete symlink")
	}
	if _, err := sess.Delete(&userMetadataRow{UFileID: int64(ino)}); err != nil {
		return status.Wrap(err, status.InternalError, "delete comment")
	}
	if _, err := sess.ID(int64(ino)).Delete(new(fileMetadataRow)); err != nil {
		return status.Wrap(err, status.InternalError, "delete inode")
	}
	_, err = sess.Exec("UPDATE file_metadata SET nlink = nlink - 1, ctime = ? WHERE fileid = ?", time.Now().Unix(), row.ParentFileID)
	if err != nil {
		return status.Wrap(err, status.InternalError, "bump parent nlink")
	}
	return nil
}

func (s *SQLStore) Move(tx Tx, ino Ino, newParent Ino) error {
	sess := s.session(tx)
	var row fileMetadataRow
	ok, err := sess.ID(int64(ino)).Get(&row)
	if err != nil {
		return status.Wrap(err, status.InternalError, "select inode")
	}
	if !ok {
		return status.Raisef(status.NoSuchFile, "inode %d", ino)
	}
	now := time.Now().Unix()
	if _, err := sess.Exec("UPDATE file_metadata SET parent_fileid = ?, ctime = ? WHERE fileid = ?", int64(newParent), now, int64(ino)); err != nil {
		return status.Wrap(err, status.InternalError, "update parent")
	}
	if row.ParentFileID != int64(newParent) {
		if _, err := sess.Exec("UPDATE file_metadata SET nlink = nlink - 1 WHERE fileid = ?", row.ParentFileID); err != nil {
			return status.Wrap(err, status.InternalError, "decrement old parent nlink")
		}
		if _, err := sess.Exec("UPDATE file_metadata SET nlink = nlink + 1 WHERE fileid = ?", int64(newParent)); err != nil {
			return status.Wrap(err, status.InternalError, "increment new parent nlink")
		}
	}
	return nil
}

func (s *SQLStore) Rename(tx Tx, ino Ino, newName string) error {
	sess := s.session(tx)
	_, err := sess.Exec("UPDATE file_metadata SET name = ?, ctime = ? WHERE fileid = ?", newName, time.Now().Unix(), int64(ino))
	if err != nil {
		return status.Wrap(err, status.InternalError, "rename")
	}
	return nil
}

func (s *SQLStore) StatByIno(tx Tx, ino Ino) (ExtendedStat, error) {
	sess := s.session(tx)
	var row fileMetadataRow
	ok, err := sess.ID(int64(ino)).Get(&row)
	if err != nil {
		return ExtendedStat{}, status.Wrap(err, status.InternalError, "select inode")
	}
	if !ok {
		return ExtendedStat{}, status.Raisef(status.NoSuchFile, "inode %d", ino)
	}
	return fromRow(row), nil
}

func (s *SQLStore) StatByParentName(tx Tx, parent Ino, name string) (ExtendedStat, error) {
	sess := s.session(tx)
	var row fileMetadataRow
	ok, err := sess.Where("parent_fileid = ? AND name = ?", int64(parent), name).Get(&row)
	if err != nil {
		return ExtendedStat{}, status.Wrap(err, status.InternalError, "select by parent/name")
	}
	if !ok {
		return ExtendedStat{}, status.Raisef(status.NoSuchFile, "%s", name)
	}
	return fromRow(row), nil
}

func (s *SQLStore) StatByGUID(tx Tx, guid string) (ExtendedStat, error) {
	sess := s.session(tx)
	var row fileMetadataRow
	ok, err := sess.Where("guid = ?", guid).Get(&row)
	if err != nil {
		return ExtendedStat{}, status.Wrap(err, status.InternalError, "select by guid")
	}
	if !ok {
		return ExtendedStat{}, status.Raisef(status.NoSuchFile, "guid %s", guid)
	}
	return fromRow(row), nil
}

func (s *SQLStore) Utime(tx Tx, ino Ino, atime, mtime int64) error {
	sess := s.session(tx)
	_, err := sess.Exec("UPDATE file_metadata SET atime = ?, mtime = ?, ctime = ? WHERE fileid = ?", atime, mtime, time.Now().Unix(), int64(ino))
	return status.Wrap(err, status.InternalError, "utime")
}

func (s *SQLStore) SetMode(tx Tx, ino Ino, mode uint32) error {
	sess := s.session(tx)
	_, err := sess.Exec("UPDATE file_metadata SET filemode = (filemode & 0xFFFFF000) | (? & 0xFFF), ctime = ? WHERE fileid = ?", mode&0007777, time.Now().Unix(), int64(ino))
	return status.Wrap(err, status.InternalError, "set mode")
}

func (s *SQLStore) SetOwner(tx Tx, ino Ino, uid, gid uint32) error {
	sess := s.session(tx)
	_, err := sess.Exec("UPDATE file_metadata SET owner_uid = ?, gid = ?, ctime = ? WHERE fileid = ?", uid, gid, time.Now().Unix(), int64(ino))
	return status.Wrap(err, status.InternalError, "set owner")
}

func (s *SQLStore) SetSize(tx Tx, ino Ino, size uint64) error {
	sess := s.session(tx)
	now := time.Now().Unix()
	_, err := sess.Exec("UPDATE file_metadata SET filesize = ?, mtime = ?, ctime = ? WHERE fileid = ?", size, now, now, int64(ino))
	return status.Wrap(err, status.InternalError, "set size")
}

func (s *SQLStore) SetChecksum(tx Tx, ino Ino, csumType, csumValue string) error {
	sess := s.session(tx)
	_, err := sess.Exec("UPDATE file_metadata SET csumtype = ?, csumvalue = ? WHERE fileid = ?", csumType, csumValue, int64(ino))
	return status.Wrap(err, status.InternalError, "set checksum")
}

func (s *SQLStore) SetGUID(tx Tx, ino Ino, guid string) error {
	sess := s.session(tx)
	_, err := sess.Exec("UPDATE file_metadata SET guid = ? WHERE fileid = ?", guid, int64(ino))
	return status.Wrap(err, status.InternalError, "set guid")
}

func (s *SQLStore) SetACL(tx Tx, ino Ino, acl string) error {
	sess := s.session(tx)
	_, err := sess.Exec("UPDATE file_metadata SET acl = ? WHERE fileid = ?", acl, int64(ino))
	return status.Wrap(err, status.InternalError, "set acl")
}

func (s *SQLStore) UpdateXattr(tx Tx, ino Ino, xattr dmval.Extensible) error {
	str, err := xattr.Serialize()
	if err != nil {
		return status.Wrap(err, status.InternalError, "serialize xattr")
	}
	sess := s.session(tx)
	_, err = sess.Exec("UPDATE file_metadata SET xattr = ? WHERE fileid = ?", str, int64(ino))
	return status.Wrap(err, status.InternalError, "update xattr")
}

func (s *SQLStore) SetComment(tx Tx, ino Ino, text string) error {
	sess := s.session(tx)
	exists, err := sess.ID(int64(ino)).Exist(new(userMetadataRow))
	if err != nil {
		return status.Wrap(err, status.InternalError, "check comment")
	}
	if exists {
		_, err = sess.ID(int64(ino)).Cols("comments").Update(&userMetadataRow{Comments: text})
	} else {
		_, err = sess.Insert(&userMetadataRow{UFileID: int64(ino), Comments: text})
	}
	return status.Wrap(err, status.InternalError, "set comment")
}

func (s *SQLStore) GetComment(tx Tx, ino Ino) (string, error) {
	sess := s.session(tx)
	var row userMetadataRow
	ok, err := sess.ID(int64(ino)).Get(&row)
	if err != nil {
		return "", status.Wrap(err, status.InternalError, "get comment")
	}
	if !ok {
		return "", status.Raisef(status.NoComment, "inode %d", ino)
	}
	return row.Comments, nil
}

func (s *SQLStore) DeleteComment(tx Tx, ino Ino) error {
	sess := s.session(tx)
	_, err := sess.Delete(&userMetadataRow{UFileID: int64(ino)})
	return status.Wrap(err, status.InternalError, "delete comment")
}

func replicaToRow(r Replica) fileReplicaRow {
	xattr, _ := r.Xattr.Serialize()
	return fileReplicaRow{
		ReplicaID: r.ReplicaID, FileID: int64(r.FileIno), NbAccesses: r.AccessCount,
		Ctime: time.Now().Unix(), Atime: r.Atime.Unix(), Ptime: r.Ptime.Unix(), Ltime: r.Ltime.Unix(),
		RType: string(r.Type), Status: string(r.Status), FType: "P",
		SetName: r.SpaceToken, PoolName: r.Pool, Host: r.Host, FS: r.FS, SFN: r.RFN, Xattr: xattr,
	}
}

func rowToReplica(r fileReplicaRow) Replica {
	xattr, err := dmval.Deserialize(r.Xattr)
	if err != nil {
		xattr = dmval.New()
	}
	var st ReplicaStatus
	if len(r.Status) > 0 {
		st = ReplicaStatus(r.Status[0])
	}
	var rt ReplicaType
	if len(r.RType) > 0 {
		rt = ReplicaType(r.RType[0])
	}
	return Replica{
		ReplicaID: r.ReplicaID, FileIno: Ino(r.FileID), Status: st, Type: rt,
		AccessCount: r.NbAccesses, Atime: time.Unix(r.Atime, 0), Ptime: time.Unix(r.Ptime, 0),
		Ltime: time.Unix(r.Ltime, 0), Host: r.Host, RFN: r.SFN, Pool: r.PoolName, FS: r.FS,
		SpaceToken: r.SetName, Xattr: xattr,
	}
}

func (s *SQLStore) AddReplica(tx Tx, r Replica) (Replica, error) {
	sess := s.session(tx)
	var st fileMetadataRow
	ok, err := sess.ID(int64(r.FileIno)).Get(&st)
	if err != nil {
		return Replica{}, status.Wrap(err, status.InternalError, "select file inode")
	}
	if !ok {
		return Replica{}, status.Raisef(status.NoSuchFile, "inode %d", r.FileIno)
	}
	if st.FileMode&0170000 != IFREG {
		return Replica{}, status.Raisef(status.BadOperation, "inode %d is not a regular file", r.FileIno)
	}
	row := replicaToRow(r)
	if _, err := sess.Insert(&row); err != nil {
		return Replica{}, status.Wrap(err, status.Exists, "insert replica")
	}
	return rowToReplica(row), nil
}

func (s *SQLStore) UpdateReplica(tx Tx, r Replica) error {
	sess := s.session(tx)
	row := replicaToRow(r)
	n, err := sess.ID(r.ReplicaID).AllCols().Update(&row)
	if err != nil {
		return status.Wrap(err, status.InternalError, "update replica")
	}
	if n == 0 {
		return status.Raisef(status.NoSuchReplica, "replica %d", r.ReplicaID)
	}
	return nil
}

func (s *SQLStore) DeleteReplica(tx Tx, replicaID int64) error {
	sess := s.session(tx)
	n, err := sess.ID(replicaID).Delete(new(fileReplicaRow))
	if err != nil {
		return status.Wrap(err, status.InternalError, "delete replica")
	}
	if n == 0 {
		return status.Raisef(status.NoSuchReplica, "replica %d", replicaID)
	}
	return nil
}

func (s *SQLStore) GetReplicas(tx Tx, fileIno Ino) ([]Replica, error) {
	sess := s.session(tx)
	var rows []fileReplicaRow
	if err := sess.Where("fileid = ?", int64(fileIno)).Find(&rows); err != nil {
		return nil, status.Wrap(err, status.InternalError, "select replicas")
	}
	out := make([]Replica, len(rows))
	for i, r := range rows {
		out[i] = rowToReplica(r)
	}
	return out, nil
}

func (s *SQLStore) GetReplicaByRFN(tx Tx, rfn string) (Replica, error) {
	sess := s.session(tx)
	var row fileReplicaRow
	ok, err := sess.Where("sfn = ?", rfn).Get(&row)
	if err != nil {
		return Replica{}, status.Wrap(err, status.InternalError, "select replica by rfn")
	}
	if !ok {
		return Replica{}, status.Raisef(status.NoSuchReplica, "rfn %s", rfn)
	}
	return rowToReplica(row), nil
}

type sqlCursor struct {
	rows *xorm.Rows
}

func (c *sqlCursor) Next() (ExtendedStat, bool, error) {
	if !c.rows.Next() {
		return ExtendedStat{}, false, nil
	}
	var row fileMetadataRow
	if err := c.rows.Scan(&row); err != nil {
		return ExtendedStat{}, false, status.Wrap(err, status.InternalError, "scan directory row")
	}
	return fromRow(row), true, nil
}

func (c *sqlCursor) Close() error { return c.rows.Close() }

func (s *SQLStore) OpenDir(tx Tx, ino Ino) (DirCursor, error) {
	sess := s.session(tx)
	rows, err := sess.Where("parent_fileid = ?", int64(ino)).Rows(new(fileMetadataRow))
	if err != nil {
		return nil, status.Wrap(err, status.InternalError, "open directory cursor")
	}
	return &sqlCursor{rows: rows}, nil
}
