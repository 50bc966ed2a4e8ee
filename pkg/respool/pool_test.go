package respool

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeConn struct{ id int32 }

type fakeFactory struct {
	created atomic.Int32
	destroyed atomic.Int32
}

func (f *fakeFactory) Create() (*fakeConn, error) {
	return &fakeConn{id: f.created.Add(1)}, nil
}
func (f *fakeFactory) Destroy(*fakeConn)        { f.destroyed.Add(1) }
func (f *fakeFactory) IsValid(*fakeConn) bool   { return true }

func TestAcquireReleaseBasic(t *testing.T) {
	f := &fakeFactory{}
	p := New[*fakeConn](2, f)

	c1, h1, err := p.Acquire(false)
	if err != nil {
		t.Fatal(err)
	}
	if c1.id != 1 {
		t.Fatalf("expected first created conn id 1, got %d", c1.id)
	}
	if err := p.Release(h1); err != nil {
		t.Fatal(err)
	}
	leased, free := p.InUse()
	if leased != 0 || free != 1 {
		t.Fatalf("leased=%d free=%d, want 0,1", leased, free)
	}

	// second acquire should reuse the freed element, not create a new one.
	c2, h2, err := p.Acquire(false)
	if err != nil {
		t.Fatal(err)
	}
	if c2.id != 1 {
		t.Fatalf("expected reuse of conn 1, got %d", c2.id)
	}
	_ = p.Release(h2)
}

func TestAcquireHandleRefcount(t *testing.T) {
	f := &fakeFactory{}
	p := New[*fakeConn](1, f)

	_, h, err := p.Acquire(false)
	if err != nil {
		t.Fatal(err)
	}
	if err := p.AcquireHandle(h); err != nil {
		t.Fatal(err)
	}
	// first release must not free the element yet (refcount 2 -> 1)
	if err := p.Release(h); err != nil {
		t.Fatal(err)
	}
	if _, free := p.InUse(); free != 0 {
		t.Fatalf("expected still leased after first release, free=%d", free)
	}
	if err := p.Release(h); err != nil {
		t.Fatal(err)
	}
	if _, free := p.InUse(); free != 1 {
		t.Fatalf("expected freed after second release, free=%d", free)
	}
}

func TestAcquireNonBlockingFailsAtBurstCeiling(t *testing.T) {
	f := &fakeFactory{}
	p := New[*fakeConn](1, f) // burst ceiling = 2

	_, _, err := p.Acquire(false)
	if err != nil {
		t.Fatal(err)
	}
	_, _, err = p.Acquire(false)
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := p.Acquire(false); err == nil {
		t.Fatal("expected resource unavailable at burst ceiling")
	}
}

func TestConcurrentAcquireRelease(t *testing.T) {
	f := &fakeFactory{}
	p := New[*fakeConn](4, f)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, h, err := p.Acquire(true)
			if err != nil {
				t.Error(err)
				return
			}
			time.Sleep(time.Millisecond)
			_ = p.Release(h)
		}()
	}
	wg.Wait()
}
