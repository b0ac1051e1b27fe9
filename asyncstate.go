//go:build unix

// SPDX-License-Identifier: GPL-3.0-or-later

package corox

import (
	"errors"
	"time"
)

// ErrCallSuspended indicates that a new call was started on a state
// whose previous call is still suspended.
var ErrCallSuspended = errors.New("corox: call is suspended")

// ErrCallNotSuspended indicates that a Cont function or Abandon was
// invoked while no call was suspended.
var ErrCallNotSuspended = errors.New("corox: call is not suspended")

// ErrResultType indicates that the result stored by the coroutine
// does not have the type expected by the caller, which happens when a
// Cont function does not match the pending Start function.
var ErrResultType = errors.New("corox: unexpected result type")

// NewAsyncCallState returns a new [*AsyncCallState].
//
// The cfg argument contains the common configuration for corox
// operations; the state takes its [Context] backend, [Syscalls]
// table, and stack-size hint from it.
func NewAsyncCallState(cfg *Config) *AsyncCallState {
	return &AsyncCallState{
		ctx:         cfg.NewContext(),
		readyMask:   0,
		result:      nil,
		stackSize:   cfg.StackSize,
		suspended:   false,
		sys:         cfg.Syscalls,
		timeoutHint: 0,
		waitMask:    0,
		callActive:  false,
	}
}

// AsyncCallState is the per-handle state owning one [Context] and
// bridging between the I/O shims and the start/cont call protocol.
//
// A handle wrapping a synchronous library owns one AsyncCallState and
// threads it explicitly through its I/O layer. This replaces the
// process-global hook pointers a C implementation would use: the shim
// always knows which call it belongs to without any global lookup.
//
// An AsyncCallState must not be shared across concurrent callers: the
// external event loop serializes all Start and Cont entries for a
// given handle.
type AsyncCallState struct {
	// ctx is the coroutine running the wrapped synchronous body.
	ctx Context

	// readyMask is the event mask reported by the caller on the
	// most recent Cont, read back by the shims after resuming.
	readyMask WaitMask

	// result holds the wrapped call's return value once the
	// coroutine completes.
	result any

	// stackSize is the hint passed to Spawn.
	stackSize int

	// suspended is true while a coroutine exists and has yielded at
	// least once without completing.
	suspended bool

	// sys is the per-handle syscall dispatch table used by the shims.
	sys Syscalls

	// timeoutHint is the pending timeout, meaningful while suspended
	// with [WaitTimeout] set in waitMask.
	timeoutHint time.Duration

	// waitMask is the event mask set by the shims before yielding.
	waitMask WaitMask

	// callActive is true while control is inside a Start or Cont
	// invocation. The shims use it to tell "I may yield" apart from
	// "I am running synchronously and must block instead".
	callActive bool
}

// Suspended reports whether a call is suspended on this state.
func (s *AsyncCallState) Suspended() bool {
	return s.suspended
}

// TimeoutValue returns the pending timeout when a call is suspended
// with [WaitTimeout] set in its wait mask, and zero otherwise. Event
// loops use it to bound their poll when the returned mask contains
// [WaitTimeout].
func (s *AsyncCallState) TimeoutValue() time.Duration {
	if s.suspended && s.waitMask&WaitTimeout != 0 {
		return s.timeoutHint
	}
	return 0
}

// Abandon unwinds a suspended call without waiting for its I/O to
// become ready. It repeatedly re-enters the coroutine with a
// distinguished ready mask that makes the shims fail the in-flight
// operation, so the synchronous body sees an error and returns. The
// call's result is discarded.
//
// Returns [ErrCallNotSuspended] when no call is suspended.
func (s *AsyncCallState) Abandon() error {
	if !s.suspended {
		return ErrCallNotSuspended
	}
	s.suspended = false
	for {
		s.readyMask = waitAbandon
		s.callActive = true
		status, err := s.ctx.Continue()
		s.callActive = false
		if err != nil {
			return err
		}
		if status == StatusCompleted {
			s.result = nil
			return nil
		}
	}
}

// Close releases the state's context. Closing while a call is
// suspended returns [ErrCallSuspended]: drive the call to completion
// or call Abandon first, otherwise the coroutine and everything it
// holds would leak.
func (s *AsyncCallState) Close() error {
	if s.suspended {
		return ErrCallSuspended
	}
	return s.ctx.Close()
}
