package daemon

import (
	"sync"
	"testing"

	"github.com/dpmgo/dpmgo/pkg/pool"
)

// fakeClient simulates a disk-pool daemon: the first Poll per request
// reports RUNNING, the second reports the configured terminal state.
type fakeClient struct {
	mu       sync.Mutex
	polls    map[string]int
	terminal State
	failSubmits int
}

func (f *fakeClient) Submit(poolName, fs, path string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSubmits > 0 {
		f.failSubmits--
		return "", assertErr{"transient submit failure"}
	}
	id := poolName + "/" + fs + path
	f.polls[id] = 0
	return id, nil
}

func (f *fakeClient) Poll(requestID string) (State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls[requestID]++
	if f.polls[requestID] < 2 {
		return Running, nil
	}
	return f.terminal, nil
}

func (f *fakeClient) Finalize(requestID string) error { return nil }
func (f *fakeClient) Cancel(requestID string) error   { return nil }

type assertErr struct{ msg string }

func (e assertErr) Error() string { return e.msg }

func TestRetryingClientSubmitSucceeds(t *testing.T) {
	fc := &fakeClient{polls: map[string]int{}, terminal: Success}
	c := NewRetryingClient(fc, pool.RetryConfig{Limit: 3})
	c.pollEvery = 0
	id, err := c.Submit("default", "fs0", "/f")
	if err != nil {
		t.Fatal(err)
	}
	if id == "" {
		t.Fatal("expected a request id")
	}
}

func TestRetryingClientSubmitTerminalFailure(t *testing.T) {
	fc := &fakeClient{polls: map[string]int{}, terminal: Failed}
	c := NewRetryingClient(fc, pool.RetryConfig{Limit: 3})
	c.pollEvery = 0
	if _, err := c.Submit("default", "fs0", "/f"); err == nil {
		t.Fatal("expected an error mapping FAILED terminal state")
	}
}

func TestStateIsTerminal(t *testing.T) {
	for _, s := range []State{Success, Done, Failed, Aborted, Expired} {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []State{Queued, Running, Active, Ready} {
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}
