// Package daemon implements a DomeTalker-style client for the disk-pool
// daemon (§4.8): every call is wrapped with retry-then-map-to-taxonomy,
// and a write request is polled through its state machine until a
// terminal state is observed, bounded by an overall poll timeout.
// Concrete transports (a real daemon's wire protocol is out of scope,
// per spec.md §1) implement Client; pool drivers that talk to an actual
// disk-pool daemon wrap one in a RetryingClient.
package daemon

import (
	"time"

	"github.com/dpmgo/dpmgo/pkg/pool"
	"github.com/dpmgo/dpmgo/pkg/status"
	"github.com/dpmgo/dpmgo/pkg/utils"
)

var logger = utils.GetLogger("pooldaemon")

// State is the write-request state machine observed by the driver (§4.8).
type State int

const (
	Queued State = iota
	Running
	Active
	Ready
	Success
	Done
	Failed
	Aborted
	Expired
)

func (s State) String() string {
	switch s {
	case Queued:
		return "QUEUED"
	case Running:
		return "RUNNING"
	case Active:
		return "ACTIVE"
	case Ready:
		return "READY"
	case Success:
		return "SUCCESS"
	case Done:
		return "DONE"
	case Failed:
		return "FAILED"
	case Aborted:
		return "ABORTED"
	case Expired:
		return "EXPIRED"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal reports whether s ends polling, successfully or not.
func (s State) IsTerminal() bool {
	switch s {
	case Success, Done, Failed, Aborted, Expired:
		return true
	default:
		return false
	}
}

// IsSuccess reports whether a terminal state represents a completed
// write.
func (s State) IsSuccess() bool { return s == Success || s == Done }

// Client is the minimal surface a disk-pool daemon transport exposes.
type Client interface {
	Submit(poolName, fs, path string) (requestID string, err error)
	Poll(requestID string) (State, error)
	Finalize(requestID string) error
	Cancel(requestID string) error
}

// RetryingClient wraps a Client with the retry/backoff and bounded
// poll loop every call goes through, so concrete transports stay free
// of that bookkeeping.
type RetryingClient struct {
	inner       Client
	retry       pool.RetryConfig
	pollEvery   time.Duration
	pollTimeout time.Duration
}

func NewRetryingClient(inner Client, retry pool.RetryConfig) *RetryingClient {
	if retry.Limit <= 0 {
		retry = pool.DefaultRetryConfig()
	}
	return &RetryingClient{inner: inner, retry: retry, pollEvery: 50 * time.Millisecond, pollTimeout: 30 * time.Second}
}

// Submit retries the initial submission and then polls until a terminal
// state is observed, mapping a non-success terminal state to QueryFailed.
func (c *RetryingClient) Submit(poolName, fs, path string) (string, error) {
	var requestID string
	err := pool.Retry(c.retry, func() error {
		id, err := c.inner.Submit(poolName, fs, path)
		if err != nil {
			return err
		}
		requestID = id
		return nil
	})
	if err != nil {
		return "", err
	}

	deadline := time.Now().Add(c.pollTimeout)
	for {
		var st State
		err := pool.Retry(c.retry, func() error {
			s, err := c.inner.Poll(requestID)
			st = s
			return err
		})
		if err != nil {
			return requestID, err
		}
		if st.IsTerminal() {
			if !st.IsSuccess() {
				return requestID, status.Raisef(status.QueryFailed, "put-request %s ended in state %s", requestID, st)
			}
			return requestID, nil
		}
		if time.Now().After(deadline) {
			return requestID, status.Raisef(status.QueryFailed, "put-request %s did not reach a terminal state within %s", requestID, c.pollTimeout)
		}
		time.Sleep(c.pollEvery)
	}
}

func (c *RetryingClient) Finalize(requestID string) error {
	return pool.Retry(c.retry, func() error { return c.inner.Finalize(requestID) })
}

func (c *RetryingClient) Cancel(requestID string) error {
	// cancellation is safe to call multiple times (§4.8); it is not
	// retried, and the inner client's result is returned unchanged.
	return c.inner.Cancel(requestID)
}
