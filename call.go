//go:build unix

// SPDX-License-Identifier: GPL-3.0-or-later

package corox

// StartCall begins a wrapped call on the given state by spawning a
// coroutine that runs fn, the synchronous library body.
//
// When the returned [WaitMask] is zero the call completed and the
// first return value is fn's result. When the mask is nonzero the
// call suspended waiting for the indicated events: the result is not
// meaningful yet and the caller must wait for the events and then
// invoke [ContinueCall] with the same result type R.
//
// fn's arguments travel through its closure environment, which is
// safe because the caller is blocked on the coroutine switch for as
// long as the coroutine runs.
//
// Returns [ErrCallSuspended] when a previous call on this state has
// not completed yet.
func StartCall[R any](state *AsyncCallState, fn func() R) (R, WaitMask, error) {
	var zero R
	if state.suspended {
		return zero, 0, ErrCallSuspended
	}

	state.callActive = true
	status, err := state.ctx.Spawn(func() {
		state.result = fn()
	}, state.stackSize)
	state.callActive = false

	return finishCall[R](state, status, err)
}

// ContinueCall resumes a call previously suspended by [StartCall].
//
// The ready argument tells the shims which of the awaited events
// occurred; pass [WaitTimeout] to report that the pending timeout
// expired instead of the I/O becoming ready. The return values follow
// the same protocol as [StartCall].
//
// Returns [ErrCallNotSuspended] when no call is suspended.
func ContinueCall[R any](state *AsyncCallState, ready WaitMask) (R, WaitMask, error) {
	var zero R
	if !state.suspended {
		return zero, 0, ErrCallNotSuspended
	}

	state.suspended = false
	state.readyMask = ready
	state.callActive = true
	status, err := state.ctx.Continue()
	state.callActive = false

	return finishCall[R](state, status, err)
}

// finishCall translates the context status into the (result, mask,
// error) triple surfaced to the caller.
func finishCall[R any](state *AsyncCallState, status Status, err error) (R, WaitMask, error) {
	var zero R

	if err != nil {
		// The coroutine machine state is unknown; the handle owner
		// must discard the state.
		state.suspended = false
		return zero, 0, err
	}

	if status == StatusSuspended {
		state.suspended = true
		return zero, state.waitMask, nil
	}

	state.suspended = false
	result := state.result
	state.result = nil
	if result == nil {
		// fn returned the zero value of an interface-typed R.
		return zero, 0, nil
	}
	typed, ok := result.(R)
	if !ok {
		return zero, 0, ErrResultType
	}
	return typed, 0, nil
}
