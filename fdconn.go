//go:build unix

// SPDX-License-Identifier: GPL-3.0-or-later

package corox

import (
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// NewFDConn returns a new [*FDConn] wrapping the given descriptor.
// Closing the returned connection closes the descriptor.
func NewFDConn(sys Syscalls, fd int) *FDConn {
	return &FDConn{
		closeonce: sync.Once{},
		fd:        fd,
		sys:       sys,
	}
}

// FDConn adapts a connected socket descriptor to [net.Conn].
//
// Use this to hand a socket established through the asynchronous
// machinery to code written against [net.Conn], for example after the
// protocol handshake completed. Reads and writes emulate blocking
// semantics by polling the non-blocking descriptor, so they must not
// be used while an asynchronous call is suspended on the same socket.
//
// Deadlines are not supported and return [os.ErrNoDeadline]; bind the
// connection lifetime to a context or use the asynchronous call
// protocol when you need timeouts.
type FDConn struct {
	// closeonce makes Close one-shot.
	closeonce sync.Once

	// fd is the wrapped socket descriptor, closed by Close.
	fd int

	// sys is the syscall dispatch table.
	sys Syscalls
}

var _ net.Conn = &FDConn{}

// Read implements [net.Conn].
func (c *FDConn) Read(p []byte) (int, error) {
	for {
		n, err := c.sys.Read(c.fd, p)
		switch {
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			if perr := c.pollFor(unix.POLLIN); perr != nil {
				return 0, perr
			}
		case err != nil:
			return 0, os.NewSyscallError("read", err)
		case n == 0 && len(p) > 0:
			return 0, io.EOF
		default:
			return n, nil
		}
	}
}

// Write implements [net.Conn]. Per the [net.Conn] contract it loops
// until the whole buffer is written or an error occurs.
func (c *FDConn) Write(p []byte) (int, error) {
	written := 0
	for written < len(p) {
		n, err := c.sys.Write(c.fd, p[written:])
		switch {
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			if perr := c.pollFor(unix.POLLOUT); perr != nil {
				return written, perr
			}
		case err != nil:
			return written, os.NewSyscallError("write", err)
		default:
			written += n
		}
	}
	return written, nil
}

// Close implements [net.Conn]. Subsequent calls return
// [net.ErrClosed], consistent with Go's standard library behavior
// for closed connections.
func (c *FDConn) Close() (err error) {
	err = net.ErrClosed
	c.closeonce.Do(func() {
		err = c.sys.Close(c.fd)
	})
	return
}

// LocalAddr implements [net.Conn].
func (c *FDConn) LocalAddr() net.Addr {
	sa, err := c.sys.Getsockname(c.fd)
	if err != nil {
		return nil
	}
	return sockaddrToTCPAddr(sa)
}

// RemoteAddr implements [net.Conn].
func (c *FDConn) RemoteAddr() net.Addr {
	sa, err := c.sys.Getpeername(c.fd)
	if err != nil {
		return nil
	}
	return sockaddrToTCPAddr(sa)
}

// SetDeadline implements [net.Conn].
func (c *FDConn) SetDeadline(t time.Time) error {
	return os.ErrNoDeadline
}

// SetReadDeadline implements [net.Conn].
func (c *FDConn) SetReadDeadline(t time.Time) error {
	return os.ErrNoDeadline
}

// SetWriteDeadline implements [net.Conn].
func (c *FDConn) SetWriteDeadline(t time.Time) error {
	return os.ErrNoDeadline
}

// pollFor blocks until the descriptor reports the given events.
func (c *FDConn) pollFor(events int16) error {
	pfd := []unix.PollFd{{Fd: int32(c.fd), Events: events}}
	for {
		_, err := c.sys.Poll(pfd, -1)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return os.NewSyscallError("poll", err)
		}
		return nil
	}
}

// sockaddrToTCPAddr converts the socket addresses used by this
// package into [*net.TCPAddr] for address reporting.
func sockaddrToTCPAddr(sa unix.Sockaddr) net.Addr {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: net.IP(sa.Addr[:]), Port: sa.Port}
	case *unix.SockaddrInet6:
		return &net.TCPAddr{IP: net.IP(sa.Addr[:]), Port: sa.Port}
	default:
		return nil
	}
}
