package inode

import (
	"sort"
	"sync"
	"time"

	"github.com/dpmgo/dpmgo/pkg/dmval"
	"github.com/dpmgo/dpmgo/pkg/status"
)

// MemStore is a complete in-memory Store implementation: the reference
// behaviour every backend (SQLStore included) must match, and what the
// catalog's own test suite runs against so tests don't need a database.
type MemStore struct {
	mu         sync.Mutex
	nextIno    Ino
	nextRepID  int64
	stats      map[Ino]*ExtendedStat
	byParent   map[Ino]map[string]Ino // parent -> name -> ino
	symlinks   map[Ino]string
	comments   map[Ino]string
	replicas   map[int64]*Replica
	replByFile map[Ino]map[int64]bool
	replByRFN  map[string]int64
	guidIndex  map[string]Ino
	txCounter  int
}

// NewMemStore returns a ready-to-use store seeded with the root
// directory (inode 1, parent 0, mode 0755), per §3.
func NewMemStore() *MemStore {
	m := &MemStore{
		nextIno:    2,
		stats:      make(map[Ino]*ExtendedStat),
		byParent:   make(map[Ino]map[string]Ino),
		symlinks:   make(map[Ino]string),
		comments:   make(map[Ino]string),
		replicas:   make(map[int64]*Replica),
		replByFile: make(map[Ino]map[int64]bool),
		replByRFN:  make(map[string]int64),
		guidIndex:  make(map[string]Ino),
	}
	now := time.Now()
	m.stats[RootIno] = &ExtendedStat{
		Ino: RootIno, Parent: 0, Name: "", Mode: IFDIR | 0755,
		Nlink: 0, Atime: now, Mtime: now, Ctime: now,
		FStatus: StatusOnline, Xattr: dmval.New(),
	}
	m.byParent[RootIno] = make(map[string]Ino)
	return m
}

// memTx is a no-op realTx: MemStore mutates state immediately (there's
// no separate WAL to defer), but still enforces begin/commit/rollback
// counting via nestedTx so callers written against the Tx contract
// behave identically against MemStore and SQLStore.
type memTx struct{}

func (memTx) Commit() error   { return nil }
func (memTx) Rollback() error { return nil }

func (m *MemStore) Begin() (Tx, error) {
	return newNestedTx(memTx{}), nil
}

func (m *MemStore) Create(tx Tx, f CreateFields) (ExtendedStat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.stats[f.Parent]; !ok {
		return ExtendedStat{}, status.Raisef(status.NoSuchFile, "parent %d", f.Parent)
	}
	if _, ok := m.byParent[f.Parent][f.Name]; ok {
		return ExtendedStat{}, status.Raisef(status.Exists, "%s", f.Name)
	}

	ino := m.nextIno
	m.nextIno++
	now := time.Now()
	nlink := uint32(1)
	if f.Mode&0170000 == IFDIR {
		nlink = 0
	}
	xattr := f.Xattr
	if xattr == nil {
		xattr = dmval.New()
	}
	st := &ExtendedStat{
		Ino: ino, Parent: f.Parent, Name: f.Name, GUID: f.GUID,
		Mode: f.Mode, UID: f.UID, GID: f.GID, Nlink: nlink,
		Atime: now, Mtime: now, Ctime: now, FStatus: StatusOnline,
		ACL: f.ACL, Xattr: xattr,
	}
	m.stats[ino] = st
	if m.byParent[ino] == nil && st.IsDir() {
		m.byParent[ino] = make(map[string]Ino)
	}
	m.byParent[f.Parent][f.Name] = ino
	if f.GUID != "" {
		m.guidIndex[f.GUID] = ino
	}
	m.bumpParentNlink(f.Parent, 1)
	out := *st
	return out, nil
}

func (m *MemStore) bumpParentNlink(parent Ino, delta int) {
	p, ok := m.stats[parent]
	if !ok {
		return
	}
	p.Nlink = uint32(int(p.Nlink) + delta)
	p.Ctime = time.Now()
	p.Mtime = p.Ctime
}

func (m *MemStore) Symlink(tx Tx, ino Ino, target string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.stats[ino]
	if !ok {
		return status.Raisef(status.NoSuchFile, "inode %d", ino)
	}
	if !st.IsSymlink() {
		return status.Raisef(status.BadOperation, "inode %d is not a symlink", ino)
	}
	m.symlinks[ino] = target
	return nil
}

func (m *MemStore) ReadLink(tx Tx, ino Ino) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.symlinks[ino]
	if !ok {
		return "", status.Raisef(status.NoSuchFile, "no symlink for inode %d", ino)
	}
	return t, nil
}

func (m *MemStore) Unlink(tx Tx, ino Ino) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.stats[ino]
	if !ok {
		return status.Raisef(status.NoSuchFile, "inode %d", ino)
	}
	if st.IsDir() && len(m.byParent[ino]) > 0 {
		return status.Raisef(status.IsDirectory, "inode %d is a non-empty directory", ino)
	}
	delete(m.symlinks, ino)
	delete(m.comments, ino)
	delete(m.byParent, ino)
	delete(m.byParent[st.Parent], st.Name)
	if st.GUID != "" {
		delete(m.guidIndex, st.GUID)
	}
	delete(m.stats, ino)
	m.bumpParentNlink(st.Parent, -1)
	return nil
}

func (m *MemStore) Move(tx Tx, ino Ino, newParent Ino) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.stats[ino]
	if !ok {
		return status.Raisef(status.NoSuchFile, "inode %d", ino)
	}
	if _, ok := m.stats[newParent]; !ok {
		return status.Raisef(status.NoSuchFile, "parent %d", newParent)
	}
	oldParent := st.Parent
	delete(m.byParent[oldParent], st.Name)
	if m.byParent[newParent] == nil {
		m.byParent[newParent] = make(map[string]Ino)
	}
	m.byParent[newParent][st.Name] = ino
	st.Parent = newParent
	st.Ctime = time.Now()
	if oldParent != newParent {
		m.bumpParentNlink(oldParent, -1)
		m.bumpParentNlink(newParent, 1)
	}
	return nil
}

func (m *MemStore) Rename(tx Tx, ino Ino, newName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.stats[ino]
	if !ok {
		return status.Raisef(status.NoSuchFile, "inode %d", ino)
	}
	if _, taken := m.byParent[st.Parent][newName]; taken {
		return status.Raisef(status.Exists, "%s", newName)
	}
	delete(m.byParent[st.Parent], st.Name)
	m.byParent[st.Parent][newName] = ino
	st.Name = newName
	st.Ctime = time.Now()
	return nil
}

func (m *MemStore) StatByIno(tx Tx, ino Ino) (ExtendedStat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.stats[ino]
	if !ok {
		return ExtendedStat{}, status.Raisef(status.NoSuchFile, "inode %d", ino)
	}
	return *st, nil
}

func (m *MemStore) StatByParentName(tx Tx, parent Ino, name string) (ExtendedStat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ino, ok := m.byParent[parent][name]
	if !ok {
		return ExtendedStat{}, status.Raisef(status.NoSuchFile, "%s", name)
	}
	return *m.stats[ino], nil
}

func (m *MemStore) StatByGUID(tx Tx, guid string) (ExtendedStat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ino, ok := m.guidIndex[guid]
	if !ok {
		return ExtendedStat{}, status.Raisef(status.NoSuchFile, "guid %s", guid)
	}
	return *m.stats[ino], nil
}

func (m *MemStore) mutate(ino Ino, f func(*ExtendedStat)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.stats[ino]
	if !ok {
		return status.Raisef(status.NoSuchFile, "inode %d", ino)
	}
	f(st)
	return nil
}

func (m *MemStore) Utime(tx Tx, ino Ino, atime, mtime int64) error {
	return m.mutate(ino, func(st *ExtendedStat) {
		if atime >= 0 {
			st.Atime = time.Unix(atime, 0)
		}
		if mtime >= 0 {
			st.Mtime = time.Unix(mtime, 0)
		}
		st.Ctime = time.Now()
	})
}

func (m *MemStore) SetMode(tx Tx, ino Ino, mode uint32) error {
	return m.mutate(ino, func(st *ExtendedStat) {
		st.Mode = (st.Mode &^ 0007777) | (mode & 0007777)
		st.Ctime = time.Now()
	})
}

func (m *MemStore) SetOwner(tx Tx, ino Ino, uid, gid uint32) error {
	return m.mutate(ino, func(st *ExtendedStat) {
		st.UID = uid
		st.GID = gid
		st.Ctime = time.Now()
	})
}

func (m *MemStore) SetSize(tx Tx, ino Ino, size uint64) error {
	return m.mutate(ino, func(st *ExtendedStat) {
		st.Size = size
		st.Mtime = time.Now()
		st.Ctime = st.Mtime
	})
}

func (m *MemStore) SetChecksum(tx Tx, ino Ino, csumType, csumValue string) error {
	return m.mutate(ino, func(st *ExtendedStat) {
		st.CsumType = csumType
		st.CsumValue = csumValue
	})
}

func (m *MemStore) SetGUID(tx Tx, ino Ino, guid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.stats[ino]
	if !ok {
		return status.Raisef(status.NoSuchFile, "inode %d", ino)
	}
	if st.GUID != "" {
		delete(m.guidIndex, st.GUID)
	}
	st.GUID = guid
	if guid != "" {
		m.guidIndex[guid] = ino
	}
	return nil
}

func (m *MemStore) SetACL(tx Tx, ino Ino, acl string) error {
	return m.mutate(ino, func(st *ExtendedStat) { st.ACL = acl })
}

func (m *MemStore) UpdateXattr(tx Tx, ino Ino, xattr dmval.Extensible) error {
	return m.mutate(ino, func(st *ExtendedStat) { st.Xattr = xattr })
}

func (m *MemStore) SetComment(tx Tx, ino Ino, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.stats[ino]; !ok {
		return status.Raisef(status.NoSuchFile, "inode %d", ino)
	}
	m.comments[ino] = text
	return nil
}

func (m *MemStore) GetComment(tx Tx, ino Ino) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.comments[ino]
	if !ok {
		return "", status.Raisef(status.NoComment, "inode %d", ino)
	}
	return c, nil
}

func (m *MemStore) DeleteComment(tx Tx, ino Ino) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.comments, ino)
	return nil
}

func (m *MemStore) AddReplica(tx Tx, r Replica) (Replica, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.stats[r.FileIno]
	if !ok {
		return Replica{}, status.Raisef(status.NoSuchFile, "inode %d", r.FileIno)
	}
	if !st.IsRegular() {
		return Replica{}, status.Raisef(status.BadOperation, "inode %d is not a regular file", r.FileIno)
	}
	if _, dup := m.replByRFN[r.RFN]; dup {
		return Replica{}, status.Raisef(status.Exists, "replica rfn %s", r.RFN)
	}
	m.nextRepID++
	r.ReplicaID = m.nextRepID
	if r.Atime.IsZero() {
		r.Atime = time.Now()
	}
	stored := r
	m.replicas[r.ReplicaID] = &stored
	if m.replByFile[r.FileIno] == nil {
		m.replByFile[r.FileIno] = make(map[int64]bool)
	}
	m.replByFile[r.FileIno][r.ReplicaID] = true
	m.replByRFN[r.RFN] = r.ReplicaID
	return stored, nil
}

func (m *MemStore) UpdateReplica(tx Tx, r Replica) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.replicas[r.ReplicaID]
	if !ok {
		return status.Raisef(status.NoSuchReplica, "replica %d", r.ReplicaID)
	}
	if existing.RFN != r.RFN {
		delete(m.replByRFN, existing.RFN)
		m.replByRFN[r.RFN] = r.ReplicaID
	}
	*existing = r
	return nil
}

func (m *MemStore) DeleteReplica(tx Tx, replicaID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.replicas[replicaID]
	if !ok {
		return status.Raisef(status.NoSuchReplica, "replica %d", replicaID)
	}
	delete(m.replByRFN, r.RFN)
	delete(m.replByFile[r.FileIno], replicaID)
	delete(m.replicas, replicaID)
	return nil
}

func (m *MemStore) GetReplicas(tx Tx, fileIno Ino) ([]Replica, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := m.replByFile[fileIno]
	out := make([]Replica, 0, len(ids))
	for id := range ids {
		out = append(out, *m.replicas[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReplicaID < out[j].ReplicaID })
	return out, nil
}

func (m *MemStore) GetReplicaByRFN(tx Tx, rfn string) (Replica, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.replByRFN[rfn]
	if !ok {
		return Replica{}, status.Raisef(status.NoSuchReplica, "rfn %s", rfn)
	}
	return *m.replicas[id], nil
}

type memCursor struct {
	entries []ExtendedStat
	pos     int
}

func (c *memCursor) Next() (ExtendedStat, bool, error) {
	if c.pos >= len(c.entries) {
		return ExtendedStat{}, false, nil
	}
	e := c.entries[c.pos]
	c.pos++
	return e, true, nil
}

func (c *memCursor) Close() error { return nil }

func (m *MemStore) OpenDir(tx Tx, ino Ino) (DirCursor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	children, ok := m.byParent[ino]
	if !ok {
		return nil, status.Raisef(status.NotDirectory, "inode %d", ino)
	}
	names := make([]string, 0, len(children))
	for name := range children {
		names = append(names, name)
	}
	sort.Strings(names)
	entries := make([]ExtendedStat, 0, len(names))
	for _, name := range names {
		entries = append(entries, *m.stats[children[name]])
	}
	return &memCursor{entries: entries}, nil
}
