package authn

import "testing"

func TestResolveRootDN(t *testing.T) {
	s := NewMemStore(nil)
	u, groups, err := s.Resolve(RootDN, nil)
	if err != nil {
		t.Fatal(err)
	}
	if u.UID != 0 {
		t.Errorf("expected uid 0 for host DN, got %d", u.UID)
	}
	if len(groups) != 1 || groups[0].GID != 0 {
		t.Errorf("expected synthetic root group, got %+v", groups)
	}
}

func TestResolveAllocatesMonotonicUID(t *testing.T) {
	s := NewMemStore(nil)
	u1, _, err := s.Resolve("/C=CH/CN=alice", []string{"/vo.example/Role=NULL"})
	if err != nil {
		t.Fatal(err)
	}
	u2, _, err := s.Resolve("/C=CH/CN=bob", []string{"/vo.example/Role=NULL"})
	if err != nil {
		t.Fatal(err)
	}
	if u2.UID != u1.UID+1 {
		t.Errorf("expected monotonic uid allocation, got %d then %d", u1.UID, u2.UID)
	}

	// resolving alice again must return the same uid, not a new one.
	u1Again, _, err := s.Resolve("/C=CH/CN=alice", []string{"/vo.example/Role=NULL"})
	if err != nil {
		t.Fatal(err)
	}
	if u1Again.UID != u1.UID {
		t.Errorf("expected stable uid on repeat resolve, got %d != %d", u1Again.UID, u1.UID)
	}
}

func TestResolveFQANStripsRole(t *testing.T) {
	s := NewMemStore(nil)
	_, groups, err := s.Resolve("/C=CH/CN=alice", []string{"/vo.example/Role=production"})
	if err != nil {
		t.Fatal(err)
	}
	if len(groups) != 1 || groups[0].Name != "/vo.example" {
		t.Errorf("expected role-stripped VO name, got %+v", groups)
	}
}

func TestResolveFallsBackToMapfile(t *testing.T) {
	mf := NewMapfile()
	mf.AddRule("/C=CH/CN=", "/vo.fallback")
	s := NewMemStore(mf)
	_, groups, err := s.Resolve("/C=CH/CN=carol", nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(groups) != 1 || groups[0].Name != "/vo.fallback" {
		t.Errorf("expected mapfile-derived VO, got %+v", groups)
	}
}

func TestResolveNoFQANNoMapfileFails(t *testing.T) {
	s := NewMemStore(nil)
	if _, _, err := s.Resolve("/C=CH/CN=dave", nil); err == nil {
		t.Fatal("expected error with no FQANs and no mapfile")
	}
}
