package inode

import "testing"

func TestCreateAndStat(t *testing.T) {
	s := NewMemStore()
	st, err := s.Create(nil, CreateFields{Parent: RootIno, Name: "f", Mode: IFREG | 0644})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if st.Nlink != 1 {
		t.Errorf("nlink = %d, want 1", st.Nlink)
	}

	got, err := s.StatByParentName(nil, RootIno, "f")
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if got.Ino != st.Ino {
		t.Errorf("inode mismatch: %d != %d", got.Ino, st.Ino)
	}

	root, _ := s.StatByIno(nil, RootIno)
	if root.Nlink != 1 {
		t.Errorf("root nlink after create = %d, want 1", root.Nlink)
	}
}

func TestCreateDuplicateNameFails(t *testing.T) {
	s := NewMemStore()
	_, _ = s.Create(nil, CreateFields{Parent: RootIno, Name: "f", Mode: IFREG | 0644})
	if _, err := s.Create(nil, CreateFields{Parent: RootIno, Name: "f", Mode: IFREG | 0644}); err == nil {
		t.Fatal("expected Exists error on duplicate name")
	}
}

func TestMkdirThenUnlinkAdjustsNlink(t *testing.T) {
	s := NewMemStore()
	dir, _ := s.Create(nil, CreateFields{Parent: RootIno, Name: "d", Mode: IFDIR | 0755})
	s.byParent[dir.Ino] = make(map[string]Ino)

	child, _ := s.Create(nil, CreateFields{Parent: dir.Ino, Name: "c", Mode: IFREG | 0644})
	mid, _ := s.StatByIno(nil, dir.Ino)
	if mid.Nlink != 1 {
		t.Fatalf("nlink after one child = %d, want 1", mid.Nlink)
	}

	if err := s.Unlink(nil, child.Ino); err != nil {
		t.Fatalf("unlink: %v", err)
	}
	after, _ := s.StatByIno(nil, dir.Ino)
	if after.Nlink != 0 {
		t.Fatalf("nlink after unlink = %d, want 0", after.Nlink)
	}
}

func TestUnlinkNonEmptyDirFails(t *testing.T) {
	s := NewMemStore()
	dir, _ := s.Create(nil, CreateFields{Parent: RootIno, Name: "d", Mode: IFDIR | 0755})
	s.byParent[dir.Ino] = make(map[string]Ino)
	_, _ = s.Create(nil, CreateFields{Parent: dir.Ino, Name: "c", Mode: IFREG | 0644})

	if err := s.Unlink(nil, dir.Ino); err == nil {
		t.Fatal("expected IsDirectory error for non-empty directory")
	}
}

func TestReplicaLifecycle(t *testing.T) {
	s := NewMemStore()
	f, _ := s.Create(nil, CreateFields{Parent: RootIno, Name: "f", Mode: IFREG | 0644})

	if _, err := s.GetReplicas(nil, f.Ino); err != nil {
		t.Fatalf("getreplicas: %v", err)
	}

	r, err := s.AddReplica(nil, Replica{FileIno: f.Ino, Host: "h1", RFN: "h1:/pool/a/f", Status: ReplicaAvailable, Type: ReplicaPermanent, Pool: "p1", FS: "fs1"})
	if err != nil {
		t.Fatalf("addreplica: %v", err)
	}
	reps, _ := s.GetReplicas(nil, f.Ino)
	if len(reps) != 1 || reps[0].Host != "h1" {
		t.Fatalf("unexpected replicas: %+v", reps)
	}

	if err := s.DeleteReplica(nil, r.ReplicaID); err != nil {
		t.Fatalf("deletereplica: %v", err)
	}
	reps, _ = s.GetReplicas(nil, f.Ino)
	if len(reps) != 0 {
		t.Fatalf("expected no replicas after delete, got %d", len(reps))
	}
}

func TestOpenDirOrdering(t *testing.T) {
	s := NewMemStore()
	for _, name := range []string{"c", "a", "b"} {
		_, _ = s.Create(nil, CreateFields{Parent: RootIno, Name: name, Mode: IFREG | 0644})
	}
	cur, err := s.OpenDir(nil, RootIno)
	if err != nil {
		t.Fatalf("opendir: %v", err)
	}
	var names []string
	for {
		e, ok, err := cur.Next()
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			break
		}
		names = append(names, e.Name)
	}
	want := []string{"a", "b", "c"}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("names = %v, want %v", names, want)
		}
	}
}
