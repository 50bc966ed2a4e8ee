package inode

import (
	"sync"

	"github.com/dpmgo/dpmgo/pkg/status"
)

// realTx is the underlying single-shot transaction (an *xorm.Session in
// SQLStore, a no-op in the in-memory test store) that nestedTx commits
// or rolls back exactly once regardless of how many times Begin/Commit
// were nested around it.
type realTx interface {
	Commit() error
	Rollback() error
}

// nestedTx implements Tx's begin-counter semantics from §4.4/§5: "begin"
// increments, "commit" decrements and actually commits on reaching zero,
// "rollback" forces the counter to zero and rolls back unconditionally.
// A commit with the counter already at zero is a protocol error.
type nestedTx struct {
	mu     sync.Mutex
	real   realTx
	depth  int
	done   bool // real tx has been committed or rolled back
}

func newNestedTx(real realTx) *nestedTx {
	return &nestedTx{real: real, depth: 1}
}

func (t *nestedTx) Begin() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return status.Raisef(status.InternalError, "begin on a completed transaction")
	}
	t.depth++
	return nil
}

func (t *nestedTx) Commit() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.depth == 0 {
		return status.Raisef(status.InternalError, "commit without a matching begin")
	}
	t.depth--
	if t.depth > 0 {
		return nil
	}
	if t.done {
		return nil
	}
	t.done = true
	return t.real.Commit()
}

func (t *nestedTx) Rollback() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.depth = 0
	if t.done {
		return nil
	}
	t.done = true
	return t.real.Rollback()
}

func (t *nestedTx) Depth() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.depth
}
