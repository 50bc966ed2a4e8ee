package capi

import (
	"testing"

	"github.com/dpmgo/dpmgo/pkg/catalog"
	"github.com/dpmgo/dpmgo/pkg/inode"
	"github.com/dpmgo/dpmgo/pkg/security"
	"github.com/dpmgo/dpmgo/pkg/status"
)

func rootCtx() security.Context {
	return security.Context{User: security.UserInfo{UID: 0}, Groups: []security.GroupInfo{{GID: 0}}}
}

func newSession() Handle {
	cat := catalog.New(inode.NewMemStore(), catalog.Config{})
	h := Open(cat)
	SetSecurityContext(h, rootCtx())
	return h
}

func TestCreateStatRoundTrip(t *testing.T) {
	h := newSession()
	defer Close(h)

	if _, code := Create(h, "/f", 0644); code != status.OK {
		t.Fatalf("create failed: %s (%s)", code, LastError(h).Msg)
	}
	st, code := Stat(h, "/f", true)
	if code != status.OK {
		t.Fatalf("stat failed: %s", code)
	}
	if st.Mode&0777 != 0644 {
		t.Fatalf("unexpected mode %o", st.Mode)
	}
}

func TestUnknownHandleReturnsNoSecurityContext(t *testing.T) {
	if _, code := Stat(Handle(999999), "/f", true); code != status.NoSecurityContext {
		t.Fatalf("expected NoSecurityContext for an unknown handle, got %s", code)
	}
}

func TestLastErrorReflectsMostRecentCall(t *testing.T) {
	h := newSession()
	defer Close(h)

	if _, code := Stat(h, "/nope", true); code == status.OK {
		t.Fatal("expected a NoSuchFile-flavored failure")
	}
	if LastError(h).Code == status.OK {
		t.Fatal("expected LastError to reflect the failing stat")
	}
	if _, code := Create(h, "/g", 0644); code != status.OK {
		t.Fatalf("create failed: %s", code)
	}
	if LastError(h).Code != status.OK {
		t.Fatal("expected LastError to reset to OK after a successful call")
	}
}
