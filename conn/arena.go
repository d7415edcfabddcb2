package conn

import (
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/pzhenzhou/respcore"
)

// handle addresses a responseExpectation without exposing a raw pointer
// across goroutines; handles are invalidated in bulk on Close without a
// global mutex by simply clearing the backing map.
type handle uint64

// Result is the outcome of one Exec call: the terminal error (nil on
// success) and the number of wire bytes its replies consumed.
type Result struct {
	Err       error
	BytesRead int
}

// responseExpectation is one enqueued request waiting for its replies.
type responseExpectation struct {
	req       *respcore.Request
	adapter   respcore.Adapter
	remaining int
	done      chan Result
	// bytesRead accumulates the wire size of the replies consumed so
	// far for this request.
	bytesRead int
	// consumedAny reports whether at least one node of this reply has
	// already been delivered to adapter; if the connection drops with
	// consumedAny true and remaining > 0, the request is failed with
	// ErrReadInterrupted rather than replayed.
	consumedAny bool
	// failed latches the first adapter (or server) error across every
	// reply of this pipeline; once set, the remaining replies are drained
	// off the wire without touching the adapter, and the latched error is
	// what the waiter receives.
	failed error
}

// arena is the concurrent handle-indexed store of in-flight
// responseExpectation entries. The reader and writer loops reference an
// entry by handle instead of by pointer, so a bulk invalidation on Close
// cannot race a concurrent dereference.
type arena struct {
	entries *xsync.MapOf[handle, *responseExpectation]
	next    atomic.Uint64
}

func newArena() *arena {
	return &arena{entries: xsync.NewMapOf[handle, *responseExpectation]()}
}

func (a *arena) put(e *responseExpectation) handle {
	h := handle(a.next.Add(1))
	a.entries.Store(h, e)
	return h
}

func (a *arena) get(h handle) (*responseExpectation, bool) {
	return a.entries.Load(h)
}

func (a *arena) delete(h handle) {
	a.entries.Delete(h)
}

// drainAll invokes fn for every entry currently held and clears the arena;
// used by Close and by a failed reconnect to fail every outstanding waiter
// in one pass.
func (a *arena) drainAll(fn func(*responseExpectation)) {
	a.entries.Range(func(h handle, e *responseExpectation) bool {
		fn(e)
		a.entries.Delete(h)
		return true
	})
}

func (a *arena) len() int {
	return a.entries.Size()
}

// deliver resolves a waiter at most once. done is buffered for a single
// value and each waiter receives exactly once, so a losing racer (Close
// tearing down while the reader loop finishes the same reply) simply
// drops its send instead of blocking a loop goroutine.
func deliver(e *responseExpectation, err error) {
	select {
	case e.done <- Result{Err: err, BytesRead: e.bytesRead}:
	default:
	}
}
