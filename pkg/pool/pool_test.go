package pool

import (
	"os"
	"testing"

	"github.com/dpmgo/dpmgo/pkg/catalog"
	"github.com/dpmgo/dpmgo/pkg/inode"
	"github.com/dpmgo/dpmgo/pkg/pool/drivers/fsdriver"
	"github.com/dpmgo/dpmgo/pkg/security"
)

func rootCtx() security.Context {
	return security.Context{User: security.UserInfo{UID: 0}, Groups: []security.GroupInfo{{GID: 0}}}
}

func newTestManager(t *testing.T) (*Manager, *catalog.Catalog, *fsdriver.Driver) {
	t.Helper()
	dir, err := os.MkdirTemp("", "dpmgo-fsdriver-*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	cat := catalog.New(inode.NewMemStore(), catalog.Config{})
	tokens := security.NewTokenAuthority("test-secret")
	mgr := New(cat, tokens, ManagerConfig{DefaultPool: "default"})
	drv := fsdriver.New(dir, "node1.example.org")
	mgr.RegisterDriver(drv)
	mgr.AddPool(Info{Name: "default", DriverType: "filesystem"})
	return mgr, cat, drv
}

func TestWhereToWriteThenRead(t *testing.T) {
	mgr, cat, drv := newTestManager(t)
	ctx := rootCtx()

	loc, err := mgr.WhereToWrite(ctx, "/f", 0644)
	if err != nil {
		t.Fatal(err)
	}
	if len(loc) != 1 || loc[0].Query.GetString("token", "") == "" {
		t.Fatalf("expected one chunk with a write token, got %+v", loc)
	}
	putID := loc[0].Query.GetString("putRequestId", "")
	if putID == "" {
		t.Fatal("expected a put-request id in the write location")
	}

	// simulate the client writing bytes to the local path fsdriver minted.
	local := drv.BaseDir + "/" + "default/fs0/f"
	if err := os.MkdirAll(local[:len(local)-len("/f")], 0755); err == nil {
		_ = os.WriteFile(local, []byte("hello"), 0644)
	}

	replicas, err := cat.GetReplicas(ctx, "/f")
	if err != nil {
		t.Fatal(err)
	}
	if len(replicas) != 1 {
		t.Fatalf("expected 1 replica after whereToWrite, got %d", len(replicas))
	}

	if err := mgr.DoneWriting(ctx, "/f", replicas[0].ReplicaID, "default", putID); err != nil {
		t.Fatal(err)
	}

	readLoc, err := mgr.WhereToRead(ctx, "/f")
	if err != nil {
		t.Fatal(err)
	}
	if len(readLoc) != 1 || readLoc[0].Host != "node1.example.org" {
		t.Fatalf("unexpected read location %+v", readLoc)
	}
}

func TestWhereToReadNoReplicasFails(t *testing.T) {
	mgr, cat, _ := newTestManager(t)
	ctx := rootCtx()
	if _, err := cat.Create(ctx, "/empty", 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := mgr.WhereToRead(ctx, "/empty"); err == nil {
		t.Fatal("expected NoReplicas error for a file with no replicas")
	}
}

func TestGetPoolUnknown(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	if _, err := mgr.GetPool("nope"); err == nil {
		t.Fatal("expected NoSuchPool error")
	}
}
