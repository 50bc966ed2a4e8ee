package catalog

import (
	"testing"

	"github.com/dpmgo/dpmgo/pkg/inode"
	"github.com/dpmgo/dpmgo/pkg/security"
)

func rootCtx() security.Context {
	return security.Context{User: security.UserInfo{UID: 0}, Groups: []security.GroupInfo{{GID: 0}}}
}

func userCtx(uid uint32, gids ...uint32) security.Context {
	groups := make([]security.GroupInfo, len(gids))
	for i, g := range gids {
		groups[i] = security.GroupInfo{GID: g}
	}
	return security.Context{User: security.UserInfo{UID: uid}, Groups: groups}
}

func newTestCatalog() *Catalog {
	return New(inode.NewMemStore(), Config{SymlinkLimit: 4})
}

func TestCreateAndStat(t *testing.T) {
	c := newTestCatalog()
	if _, err := c.MakeDir(rootCtx(), "/a", 0755); err != nil {
		t.Fatal(err)
	}
	st, err := c.Create(userCtx(100, 100), "/a/f", 0644)
	if err != nil {
		t.Fatal(err)
	}
	if st.UID != 100 || !st.IsRegular() {
		t.Fatalf("unexpected stat %+v", st)
	}
}

func TestCreateDuplicateFails(t *testing.T) {
	c := newTestCatalog()
	if _, err := c.Create(rootCtx(), "/f", 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := c.AddReplica(rootCtx(), "/f", inode.Replica{RFN: "r1", Pool: "p", Status: inode.ReplicaAvailable}); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Create(rootCtx(), "/f", 0644); err == nil {
		t.Fatal("expected Exists error on duplicate create")
	}
}

// TestSymlinkTraversal implements scenario S2: a symlink chain within the
// budget resolves; one that loops past the budget fails TooManySymlinks.
func TestSymlinkTraversal(t *testing.T) {
	c := newTestCatalog()
	if _, err := c.Create(rootCtx(), "/target", 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Symlink(rootCtx(), "/link1", "/target"); err != nil {
		t.Fatal(err)
	}
	st, err := c.ExtendedStat(rootCtx(), "/link1", true)
	if err != nil {
		t.Fatal(err)
	}
	if !st.IsRegular() {
		t.Fatalf("expected symlink to resolve to the regular target, got mode %o", st.Mode)
	}

	// a self-referential loop must fail rather than hang.
	if _, err := c.Symlink(rootCtx(), "/loop", "/loop"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.ExtendedStat(rootCtx(), "/loop", true); err == nil {
		t.Fatal("expected TooManySymlinks on a self-referential symlink")
	}
}

// TestSymlinkBudgetIsSharedAcrossSequentialComponents implements the
// canonical S2 case: /a/loop is a symlink to /a, so each "loop" path
// component resolves to a directory in a single hop rather than chasing a
// nested chain. The total number of symlinks followed while resolving the
// whole path must still be bounded by SymlinkLimit, not reset per
// component.
func TestSymlinkBudgetIsSharedAcrossSequentialComponents(t *testing.T) {
	c := newTestCatalog() // SymlinkLimit: 4
	if _, err := c.MakeDir(rootCtx(), "/a", 0755); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Symlink(rootCtx(), "/a/loop", "/a"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.ExtendedStat(rootCtx(), "/a/loop/loop/loop/loop", true); err != nil {
		t.Fatalf("expected exactly 4 sequential symlink follows to stay within budget: %v", err)
	}
	if _, err := c.ExtendedStat(rootCtx(), "/a/loop/loop/loop/loop/loop", true); err == nil {
		t.Fatal("expected TooManySymlinks once sequential follows exceed the shared budget")
	}
}

// TestStickyBitRestrictsDeletion implements scenario S3: with the sticky
// bit set on a shared directory, only the file's owner (or root) may
// remove it, even though the directory itself grants group/other write.
func TestStickyBitRestrictsDeletion(t *testing.T) {
	c := newTestCatalog()
	c.Umask(0)
	if _, err := c.MakeDir(rootCtx(), "/tmp", 01777); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Create(userCtx(200), "/tmp/owned", 0644); err != nil {
		t.Fatal(err)
	}
	if err := c.Unlink(userCtx(300), "/tmp/owned"); err == nil {
		t.Fatal("expected sticky bit to forbid deletion by a non-owner")
	}
	if err := c.Unlink(userCtx(200), "/tmp/owned"); err != nil {
		t.Fatalf("owner should be able to remove its own file: %v", err)
	}
}

// TestACLInheritanceOnCreate implements scenario S4: a directory default
// ACL is inherited as an effective (and, for subdirectories, also
// default) ACL on newly created children.
func TestACLInheritanceOnCreate(t *testing.T) {
	c := newTestCatalog()
	if _, err := c.MakeDir(rootCtx(), "/shared", 0750); err != nil {
		t.Fatal(err)
	}
	acl := security.ACL{
		{Type: security.TypeUserObj, Perm: security.PermR | security.PermW | security.PermX},
		{Type: security.TypeGroupObj, Perm: security.PermR | security.PermX},
		{Type: security.TypeOther, Perm: 0},
		{Type: security.TypeUser | security.TypeDefault, ID: 42, Perm: security.PermR},
		{Type: security.TypeUserObj | security.TypeDefault, Perm: security.PermR | security.PermW | security.PermX},
		{Type: security.TypeGroupObj | security.TypeDefault, Perm: security.PermR | security.PermX},
		{Type: security.TypeOther | security.TypeDefault, Perm: 0},
		{Type: security.TypeMask | security.TypeDefault, Perm: security.PermR | security.PermW | security.PermX},
	}
	if err := c.SetACL(rootCtx(), "/shared", acl); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Create(rootCtx(), "/shared/child", 0640); err != nil {
		t.Fatal(err)
	}
	childCtx := userCtx(42)
	if !security.CheckPermissions(childCtx, subjectFor(t, c, "/shared/child"), security.Read) {
		t.Fatal("expected inherited named-user ACL entry to grant read access")
	}
}

func subjectFor(t *testing.T, c *Catalog, path string) security.Subject {
	t.Helper()
	st, err := c.ExtendedStat(rootCtx(), path, true)
	if err != nil {
		t.Fatal(err)
	}
	return subjectOf(st)
}

func TestRenameAcrossDirectories(t *testing.T) {
	c := newTestCatalog()
	c.MakeDir(rootCtx(), "/a", 0755)
	c.MakeDir(rootCtx(), "/b", 0755)
	c.Create(rootCtx(), "/a/f", 0644)
	if err := c.Rename(rootCtx(), "/a/f", "/b/g"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.ExtendedStat(rootCtx(), "/a/f", true); err == nil {
		t.Fatal("expected old path to be gone after rename")
	}
	if _, err := c.ExtendedStat(rootCtx(), "/b/g", true); err != nil {
		t.Fatalf("expected new path to exist after rename: %v", err)
	}
}

func TestRemoveDirRefusesCwd(t *testing.T) {
	c := newTestCatalog()
	c.MakeDir(rootCtx(), "/cur", 0755)
	if err := c.ChangeDir(rootCtx(), "/cur"); err != nil {
		t.Fatal(err)
	}
	if err := c.RemoveDir(rootCtx(), "/cur"); err == nil {
		t.Fatal("expected IsCwd error removing the current working directory")
	}
}

func TestReadDirLists(t *testing.T) {
	c := newTestCatalog()
	c.MakeDir(rootCtx(), "/d", 0755)
	c.Create(rootCtx(), "/d/a", 0644)
	c.Create(rootCtx(), "/d/b", 0644)
	entries, err := c.ReadDir(rootCtx(), "/d")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
}

// TestSetModeStripsSetgidWithoutGroupMembership implements §4.6 setMode:
// a setgid request from a caller that doesn't belong to the file's group
// is silently dropped rather than rejected, matching POSIX chmod(2).
func TestSetModeStripsSetgidWithoutGroupMembership(t *testing.T) {
	c := newTestCatalog()
	if _, err := c.Create(userCtx(100, 100), "/f", 0644); err != nil {
		t.Fatal(err)
	}
	owner := security.Context{User: security.UserInfo{UID: 100}} // no groups
	if err := c.SetMode(owner, "/f", inode.ISGID|0644); err != nil {
		t.Fatal(err)
	}
	st, err := c.ExtendedStat(rootCtx(), "/f", true)
	if err != nil {
		t.Fatal(err)
	}
	if st.Mode&inode.ISGID != 0 {
		t.Fatal("expected setgid to be stripped when the caller does not belong to the file's group")
	}
}

// TestSetModeStripsStickyOnNonDirectory implements §4.6 setMode: sticky
// only means something on a directory (restricted deletion); requesting
// it on a regular file is dropped for a non-root caller.
func TestSetModeStripsStickyOnNonDirectory(t *testing.T) {
	c := newTestCatalog()
	if _, err := c.Create(userCtx(100, 100), "/f", 0644); err != nil {
		t.Fatal(err)
	}
	if err := c.SetMode(userCtx(100, 100), "/f", inode.ISVTX|0644); err != nil {
		t.Fatal(err)
	}
	st, err := c.ExtendedStat(rootCtx(), "/f", true)
	if err != nil {
		t.Fatal(err)
	}
	if st.Mode&inode.ISVTX != 0 {
		t.Fatal("expected sticky bit to be stripped on a non-directory for a non-root caller")
	}
}

// TestSetModeRederivesACLEntries implements §4.6 setMode: an existing
// extended ACL's USER_OBJ/MASK entries track the new mode bits.
func TestSetModeRederivesACLEntries(t *testing.T) {
	c := newTestCatalog()
	if _, err := c.Create(rootCtx(), "/f", 0644); err != nil {
		t.Fatal(err)
	}
	acl := security.ACL{
		{Type: security.TypeUserObj, Perm: security.PermR | security.PermW},
		{Type: security.TypeGroupObj, Perm: security.PermR},
		{Type: security.TypeOther, Perm: 0},
		{Type: security.TypeUser, ID: 42, Perm: security.PermR | security.PermW},
		{Type: security.TypeMask, Perm: security.PermR | security.PermW},
	}
	if err := c.SetACL(rootCtx(), "/f", acl); err != nil {
		t.Fatal(err)
	}
	if err := c.SetMode(rootCtx(), "/f", 0700); err != nil {
		t.Fatal(err)
	}
	subj := subjectFor(t, c, "/f")
	for _, e := range subj.ACL {
		switch e.Type {
		case security.TypeUserObj:
			if e.Perm != security.PermR|security.PermW|security.PermX {
				t.Fatalf("expected USER_OBJ to follow new mode, got %o", e.Perm)
			}
		case security.TypeMask:
			if e.Perm != 0 {
				t.Fatalf("expected MASK to follow new mode's group bits, got %o", e.Perm)
			}
		}
	}
}

// TestCreateTruncatesReplicaLessExisting implements §4.6 create: an
// existing entry with no replicas is truncated and reused; one with
// replicas is a hard EXISTS.
func TestCreateTruncatesReplicaLessExisting(t *testing.T) {
	c := newTestCatalog()
	st1, err := c.Create(rootCtx(), "/f", 0644)
	if err != nil {
		t.Fatal(err)
	}
	st2, err := c.Create(rootCtx(), "/f", 0644)
	if err != nil {
		t.Fatalf("expected re-create of a replica-less file to succeed: %v", err)
	}
	if st1.Ino != st2.Ino {
		t.Fatal("expected truncate to reuse the same inode")
	}

	if _, err := c.AddReplica(rootCtx(), "/f", inode.Replica{RFN: "r1", Pool: "p", Status: inode.ReplicaAvailable}); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Create(rootCtx(), "/f", 0644); err == nil {
		t.Fatal("expected Exists error when the file already has replicas")
	}
}

// TestAddReplicaRequiresWritePermission implements §4.6: registering a
// replica requires write on the target inode, not just it being regular.
func TestAddReplicaRequiresWritePermission(t *testing.T) {
	c := newTestCatalog()
	if _, err := c.Create(userCtx(100, 100), "/f", 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := c.AddReplica(userCtx(200, 200), "/f", inode.Replica{RFN: "r1", Pool: "p"}); err == nil {
		t.Fatal("expected Forbidden adding a replica without write permission")
	}
	if _, err := c.AddReplica(userCtx(100, 100), "/f", inode.Replica{RFN: "r1", Pool: "p"}); err != nil {
		t.Fatal(err)
	}
}
