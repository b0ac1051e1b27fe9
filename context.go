// SPDX-License-Identifier: GPL-3.0-or-later

package corox

import "errors"

// Status is the result of entering a [Context] via Spawn or Continue.
type Status int

const (
	// StatusCompleted means the coroutine's user function returned.
	StatusCompleted = Status(iota)

	// StatusSuspended means the coroutine yielded and is waiting
	// for a subsequent Continue.
	StatusSuspended
)

// String implements [fmt.Stringer].
func (s Status) String() string {
	switch s {
	case StatusCompleted:
		return "completed"
	case StatusSuspended:
		return "suspended"
	default:
		return "unknown"
	}
}

// MinStackSize is the smallest stack-size hint accepted by Spawn.
//
// The hint exists for parity with systems-language implementations of
// this API where the caller lends the coroutine a fixed stack buffer.
// Goroutine stacks grow on demand, so the hint does not bound the
// coroutine's actual stack usage.
const MinStackSize = 16 * 1024

// DefaultStackSize is the stack-size hint used by [NewConfig].
//
// Real client-library calls typically need more stack than
// [MinStackSize]; this default leaves ample headroom.
const DefaultStackSize = 64 * 1024

// ErrContextActive indicates an operation that requires an inactive
// context was attempted while the coroutine had not completed yet.
var ErrContextActive = errors.New("corox: context is active")

// ErrContextNotActive indicates Yield was called on a context whose
// coroutine already completed or was never spawned.
var ErrContextNotActive = errors.New("corox: context is not active")

// ErrStackTooSmall indicates the stack-size hint passed to Spawn was
// below [MinStackSize].
var ErrStackTooSmall = errors.New("corox: stack size below minimum")

// Context is a stackful coroutine: an independently scheduled thread
// of control with its own call stack, explicitly switched in and out
// by the code that owns it.
//
// The contract is strictly cooperative and single-threaded: at most
// one side (caller or coroutine) executes at any time, Spawn and
// Continue must be called from the owning side, and Yield must be
// called from inside the coroutine. Because every switch is a channel
// handoff, everything written by the coroutine before a Yield is
// visible to the caller when Spawn or Continue returns, and vice
// versa.
//
// Two implementations exist with identical semantics: [ChanContext]
// is the reference and [FastContext] optimizes repeated calls on the
// same handle. See their documentation for the trade-offs.
type Context interface {
	// Spawn starts the coroutine running fn and performs the first
	// entry into it. It returns StatusCompleted if fn returned
	// without yielding, StatusSuspended if fn yielded, and an error
	// if the context is already active or the stack-size hint is
	// below [MinStackSize].
	//
	// State flows into fn through its closure environment and flows
	// back out the same way, which is safe because the caller is
	// blocked for as long as the coroutine runs.
	Spawn(fn func(), stackSize int) (Status, error)

	// Continue resumes the coroutine after a yield. It returns
	// StatusSuspended on the next yield and StatusCompleted when fn
	// returns. Calling Continue after completion is a no-op that
	// returns StatusCompleted.
	Continue() (Status, error)

	// Yield suspends the coroutine, causing the Spawn or Continue
	// call that most recently entered it to return StatusSuspended.
	// Yield returns nil once the caller invokes Continue, and
	// [ErrContextNotActive] when there is no active coroutine.
	Yield() error

	// Active reports whether a spawned user function has not
	// returned yet.
	Active() bool

	// Close releases any resources held by the context. Closing an
	// active context returns [ErrContextActive]: the coroutine would
	// leak its stack and whatever it holds, so the owner must drive
	// it to completion (or Abandon it at a higher layer) first.
	Close() error
}
