//go:build unix

// SPDX-License-Identifier: GPL-3.0-or-later

package corox

import "golang.org/x/sys/unix"

// Syscalls abstracts the raw socket operations used by the I/O shims
// and by [FDConn].
//
// By making the shims depend on an abstract implementation we allow
// for unit testing without touching real sockets, and each handle
// carries its own table instead of redirecting I/O through
// process-global hook pointers.
//
// The default implementation returned by [DefaultSyscalls] calls
// [golang.org/x/sys/unix] directly.
type Syscalls interface {
	Socket(domain, typ, proto int) (int, error)
	SetNonblock(fd int, nonblocking bool) error
	Connect(fd int, sa unix.Sockaddr) error
	Read(fd int, p []byte) (int, error)
	Write(fd int, p []byte) (int, error)
	GetsockoptInt(fd, level, opt int) (int, error)
	Getsockname(fd int) (unix.Sockaddr, error)
	Getpeername(fd int) (unix.Sockaddr, error)
	Poll(fds []unix.PollFd, timeout int) (int, error)
	Close(fd int) error
}

// DefaultSyscalls returns the default [Syscalls] implementation,
// which invokes the real system calls.
func DefaultSyscalls() Syscalls {
	return realSyscalls{}
}

// realSyscalls calls [golang.org/x/sys/unix] directly.
type realSyscalls struct{}

var _ Syscalls = realSyscalls{}

// Socket implements [Syscalls].
func (realSyscalls) Socket(domain, typ, proto int) (int, error) {
	return unix.Socket(domain, typ, proto)
}

// SetNonblock implements [Syscalls].
func (realSyscalls) SetNonblock(fd int, nonblocking bool) error {
	return unix.SetNonblock(fd, nonblocking)
}

// Connect implements [Syscalls].
func (realSyscalls) Connect(fd int, sa unix.Sockaddr) error {
	return unix.Connect(fd, sa)
}

// Read implements [Syscalls].
func (realSyscalls) Read(fd int, p []byte) (int, error) {
	return unix.Read(fd, p)
}

// Write implements [Syscalls].
func (realSyscalls) Write(fd int, p []byte) (int, error) {
	return unix.Write(fd, p)
}

// GetsockoptInt implements [Syscalls].
func (realSyscalls) GetsockoptInt(fd, level, opt int) (int, error) {
	return unix.GetsockoptInt(fd, level, opt)
}

// Getsockname implements [Syscalls].
func (realSyscalls) Getsockname(fd int) (unix.Sockaddr, error) {
	return unix.Getsockname(fd)
}

// Getpeername implements [Syscalls].
func (realSyscalls) Getpeername(fd int) (unix.Sockaddr, error) {
	return unix.Getpeername(fd)
}

// Poll implements [Syscalls].
func (realSyscalls) Poll(fds []unix.PollFd, timeout int) (int, error) {
	return unix.Poll(fds, timeout)
}

// Close implements [Syscalls].
func (realSyscalls) Close(fd int) error {
	return unix.Close(fd)
}
