//go:build unix

// SPDX-License-Identifier: GPL-3.0-or-later

package corox

import (
	"errors"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// AsyncConnect connects fd to sa on behalf of the synchronous body
// running inside state's coroutine.
//
// The socket is switched to non-blocking mode first. When the connect
// cannot complete immediately, the shim records the timeout hint,
// announces a {write, timeout} wait mask, and yields; after resuming
// it treats a reported timeout as ETIMEDOUT and otherwise consults
// SO_ERROR for the connect outcome. Outside a Start/Cont window the
// shim blocks in poll instead of yielding, preserving plain blocking
// semantics for synchronous callers.
//
// A timeout of zero means no timeout: the wait mask then omits
// [WaitTimeout] and the synchronous fallback blocks indefinitely.
func AsyncConnect(state *AsyncCallState, fd int, sa unix.Sockaddr, timeout time.Duration) error {
	if err := state.sys.SetNonblock(fd, true); err != nil {
		return os.NewSyscallError("setnonblock", err)
	}

	err := state.sys.Connect(fd, sa)
	for errors.Is(err, unix.EINTR) {
		err = state.sys.Connect(fd, sa)
	}
	if err == nil {
		return nil
	}
	if !errors.Is(err, unix.EINPROGRESS) && !errors.Is(err, unix.EALREADY) && !errors.Is(err, unix.EAGAIN) {
		return os.NewSyscallError("connect", err)
	}

	if err := waitWritable(state, fd, timeout, "connect"); err != nil {
		return err
	}

	soerr, err := state.sys.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return os.NewSyscallError("getsockopt", err)
	}
	if soerr != 0 {
		return os.NewSyscallError("connect", unix.Errno(soerr))
	}
	return nil
}

// AsyncRead reads from fd into buf on behalf of the synchronous body
// running inside state's coroutine.
//
// On EAGAIN the shim announces a read wait mask and yields, then
// retries once resumed. Outside a Start/Cont window it blocks in poll
// instead. A zero return with nil error means the peer closed the
// connection, as with the underlying read system call.
func AsyncRead(state *AsyncCallState, fd int, buf []byte) (int, error) {
	for {
		n, err := state.sys.Read(fd, buf)
		switch {
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			if werr := waitReady(state, fd, WaitRead, unix.POLLIN, 0, "read"); werr != nil {
				return 0, werr
			}
		case err != nil:
			return 0, os.NewSyscallError("read", err)
		default:
			return n, nil
		}
	}
}

// AsyncWrite writes buf to fd on behalf of the synchronous body
// running inside state's coroutine.
//
// On EAGAIN the shim announces a write wait mask and yields, then
// retries once resumed. Outside a Start/Cont window it blocks in poll
// instead. Short writes are possible; callers that need the full
// buffer written must loop.
func AsyncWrite(state *AsyncCallState, fd int, buf []byte) (int, error) {
	for {
		n, err := state.sys.Write(fd, buf)
		switch {
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			if werr := waitReady(state, fd, WaitWrite, unix.POLLOUT, 0, "write"); werr != nil {
				return 0, werr
			}
		case err != nil:
			return 0, os.NewSyscallError("write", err)
		default:
			return n, nil
		}
	}
}

// waitWritable waits until fd is writable, honoring the timeout hint.
func waitWritable(state *AsyncCallState, fd int, timeout time.Duration, op string) error {
	return waitReady(state, fd, WaitWrite, unix.POLLOUT, timeout, op)
}

// waitReady suspends until the caller reports the awaited event, or,
// when invoked outside a Start/Cont window, blocks in poll until the
// socket is ready. The op name is used for error wrapping only.
func waitReady(state *AsyncCallState, fd int, mask WaitMask, events int16, timeout time.Duration, op string) error {
	if state.callActive {
		return suspendOn(state, mask, timeout, op)
	}
	return blockOn(state, fd, events, timeout, op)
}

// suspendOn records the wait mask and timeout hint, yields, and
// interprets the ready mask reported by the caller on resume.
func suspendOn(state *AsyncCallState, mask WaitMask, timeout time.Duration, op string) error {
	state.timeoutHint = timeout
	if timeout > 0 {
		mask |= WaitTimeout
	}
	state.waitMask = mask
	if err := state.ctx.Yield(); err != nil {
		return err
	}
	ready := state.readyMask
	if ready&waitAbandon != 0 {
		return os.NewSyscallError(op, unix.ECANCELED)
	}
	if ready&WaitTimeout != 0 {
		return os.NewSyscallError(op, unix.ETIMEDOUT)
	}
	return nil
}

// blockOn is the synchronous fallback: poll the socket until it is
// ready or the timeout expires.
func blockOn(state *AsyncCallState, fd int, events int16, timeout time.Duration, op string) error {
	ms := -1
	if timeout > 0 {
		ms = int(timeout / time.Millisecond)
	}
	pfd := []unix.PollFd{{Fd: int32(fd), Events: events}}
	for {
		n, err := state.sys.Poll(pfd, ms)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return os.NewSyscallError("poll", err)
		}
		if n == 0 {
			return os.NewSyscallError(op, unix.ETIMEDOUT)
		}
		return nil
	}
}
