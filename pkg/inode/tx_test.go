package inode

import "testing"

type countingRealTx struct {
	commits   int
	rollbacks int
}

func (c *countingRealTx) Commit() error   { c.commits++; return nil }
func (c *countingRealTx) Rollback() error { c.rollbacks++; return nil }

func TestNestedTxCommitsOnceAtDepthZero(t *testing.T) {
	real := &countingRealTx{}
	tx := newNestedTx(real)

	if err := tx.Begin(); err != nil { // depth 2
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil { // depth 1, no real commit yet
		t.Fatal(err)
	}
	if real.commits != 0 {
		t.Fatalf("expected no commit yet, got %d", real.commits)
	}
	if err := tx.Commit(); err != nil { // depth 0, real commit fires
		t.Fatal(err)
	}
	if real.commits != 1 {
		t.Fatalf("expected exactly one real commit, got %d", real.commits)
	}
}

func TestNestedTxCommitWithoutBeginIsProtocolError(t *testing.T) {
	real := &countingRealTx{}
	tx := newNestedTx(real)
	_ = tx.Commit() // consumes the initial depth=1 from newNestedTx
	if err := tx.Commit(); err == nil {
		t.Fatal("expected protocol error committing a completed transaction")
	}
}

func TestNestedTxRollbackForcesDepthZero(t *testing.T) {
	real := &countingRealTx{}
	tx := newNestedTx(real)
	_ = tx.Begin()
	_ = tx.Begin()
	if err := tx.Rollback(); err != nil {
		t.Fatal(err)
	}
	if tx.Depth() != 0 {
		t.Fatalf("depth after rollback = %d, want 0", tx.Depth())
	}
	if real.rollbacks != 1 {
		t.Fatalf("expected exactly one real rollback, got %d", real.rollbacks)
	}
	// a further commit must not re-trigger the real transaction.
	_ = tx.Commit()
	if real.commits != 0 {
		t.Fatal("commit after rollback must not commit the real transaction")
	}
}
