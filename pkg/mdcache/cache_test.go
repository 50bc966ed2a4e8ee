package mdcache

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dpmgo/dpmgo/pkg/inode"
)

// TestConcurrentStatLoadCoalesces implements scenario S6: 100 concurrent
// callers requesting the same cold key must trigger exactly one
// underlying store lookup.
func TestConcurrentStatLoadCoalesces(t *testing.T) {
	c := New(Config{TTL: time.Minute, NegativeTTL: time.Second, MaxEntries: 100})
	var calls int32
	load := func() (inode.ExtendedStat, error) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(10 * time.Millisecond)
		return inode.ExtendedStat{Ino: 42, Mode: inode.IFREG | 0644}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			st, err := c.StatByIno(42, load)
			if err != nil {
				t.Error(err)
			}
			if st.Ino != 42 {
				t.Errorf("unexpected ino %d", st.Ino)
			}
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected exactly 1 underlying lookup, got %d", got)
	}
}

func TestStatByPathIndexesIno(t *testing.T) {
	c := New(DefaultConfig())
	calls := 0
	load := func() (inode.ExtendedStat, error) {
		calls++
		return inode.ExtendedStat{Ino: 7, Parent: 1, Name: "f", Mode: inode.IFREG | 0644}, nil
	}
	if _, err := c.StatByPath(1, "f", load); err != nil {
		t.Fatal(err)
	}
	// a subsequent StatByIno lookup for the same inode should hit without
	// calling load again.
	st, err := c.StatByIno(7, func() (inode.ExtendedStat, error) {
		t.Fatal("should not be called, ino 7 should already be cached")
		return inode.ExtendedStat{}, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if st.Ino != 7 || calls != 1 {
		t.Fatalf("unexpected state: st=%+v calls=%d", st, calls)
	}
}

func TestNegativeCaching(t *testing.T) {
	c := New(Config{TTL: time.Minute, NegativeTTL: time.Minute, MaxEntries: 10})
	calls := 0
	load := func() (inode.ExtendedStat, error) {
		calls++
		return inode.ExtendedStat{}, errNoSuchFile
	}
	if _, err := c.StatByPath(1, "missing", load); err == nil {
		t.Fatal("expected error")
	}
	if _, err := c.StatByPath(1, "missing", load); err == nil {
		t.Fatal("expected cached negative error")
	}
	if calls != 1 {
		t.Fatalf("expected negative result to be served from cache, got %d loader calls", calls)
	}
}

func TestInvalidateWipesBothKeys(t *testing.T) {
	c := New(DefaultConfig())
	load := func() (inode.ExtendedStat, error) {
		return inode.ExtendedStat{Ino: 9, Parent: 1, Name: "old", Mode: inode.IFREG | 0644}, nil
	}
	if _, err := c.StatByPath(1, "old", load); err != nil {
		t.Fatal(err)
	}
	c.Invalidate(9)

	calls := 0
	if _, err := c.StatByIno(9, func() (inode.ExtendedStat, error) {
		calls++
		return inode.ExtendedStat{Ino: 9}, nil
	}); err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Fatal("expected invalidate to force a fresh load by ino")
	}
	if _, ok := c.pathIndex[PathKey(1, "old")]; ok {
		t.Fatal("expected path index entry to be wiped by Invalidate")
	}
}

var errNoSuchFile = &testErr{"no such file"}

type testErr struct{ msg string }

func (e *testErr) Error() string { return e.msg }
