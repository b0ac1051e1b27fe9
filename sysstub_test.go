//go:build unix

// SPDX-License-Identifier: GPL-3.0-or-later

package corox

import "golang.org/x/sys/unix"

// funcSyscalls is a configurable [Syscalls] stub in the spirit of
// netstub. Methods panic when the corresponding field is unset so
// that tests fail loudly on unexpected syscalls.
type funcSyscalls struct {
	SocketFunc        func(domain, typ, proto int) (int, error)
	SetNonblockFunc   func(fd int, nonblocking bool) error
	ConnectFunc       func(fd int, sa unix.Sockaddr) error
	ReadFunc          func(fd int, p []byte) (int, error)
	WriteFunc         func(fd int, p []byte) (int, error)
	GetsockoptIntFunc func(fd, level, opt int) (int, error)
	GetsocknameFunc   func(fd int) (unix.Sockaddr, error)
	GetpeernameFunc   func(fd int) (unix.Sockaddr, error)
	PollFunc          func(fds []unix.PollFd, timeout int) (int, error)
	CloseFunc         func(fd int) error
}

var _ Syscalls = &funcSyscalls{}

// Socket implements [Syscalls].
func (s *funcSyscalls) Socket(domain, typ, proto int) (int, error) {
	return s.SocketFunc(domain, typ, proto)
}

// SetNonblock implements [Syscalls].
func (s *funcSyscalls) SetNonblock(fd int, nonblocking bool) error {
	return s.SetNonblockFunc(fd, nonblocking)
}

// Connect implements [Syscalls].
func (s *funcSyscalls) Connect(fd int, sa unix.Sockaddr) error {
	return s.ConnectFunc(fd, sa)
}

// Read implements [Syscalls].
func (s *funcSyscalls) Read(fd int, p []byte) (int, error) {
	return s.ReadFunc(fd, p)
}

// Write implements [Syscalls].
func (s *funcSyscalls) Write(fd int, p []byte) (int, error) {
	return s.WriteFunc(fd, p)
}

// GetsockoptInt implements [Syscalls].
func (s *funcSyscalls) GetsockoptInt(fd, level, opt int) (int, error) {
	return s.GetsockoptIntFunc(fd, level, opt)
}

// Getsockname implements [Syscalls].
func (s *funcSyscalls) Getsockname(fd int) (unix.Sockaddr, error) {
	return s.GetsocknameFunc(fd)
}

// Getpeername implements [Syscalls].
func (s *funcSyscalls) Getpeername(fd int) (unix.Sockaddr, error) {
	return s.GetpeernameFunc(fd)
}

// Poll implements [Syscalls].
func (s *funcSyscalls) Poll(fds []unix.PollFd, timeout int) (int, error) {
	return s.PollFunc(fds, timeout)
}

// Close implements [Syscalls].
func (s *funcSyscalls) Close(fd int) error {
	return s.CloseFunc(fd)
}

// newTestState returns an [*AsyncCallState] using the given stub and
// the reference context backend.
func newTestState(sys Syscalls) *AsyncCallState {
	cfg := NewConfig()
	cfg.NewContext = func() Context { return NewChanContext() }
	cfg.Syscalls = sys
	return NewAsyncCallState(cfg)
}
