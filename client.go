//go:build unix

// SPDX-License-Identifier: GPL-3.0-or-later

package corox

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/netip"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/bassosimone/safeconn"
	"golang.org/x/sys/unix"
)

// ErrAlreadyConnected indicates Connect was called on a connected client.
var ErrAlreadyConnected = errors.New("corox: client is already connected")

// ErrNotConnected indicates an operation that requires an established
// connection was attempted before Connect succeeded.
var ErrNotConnected = errors.New("corox: client is not connected")

// ErrProtocol indicates the peer violated the line protocol.
var ErrProtocol = errors.New("corox: protocol violation")

// ServerError is an error reported by the server in a response line.
type ServerError struct {
	// Message is the text following the "-" marker.
	Message string
}

var _ error = &ServerError{}

// Error implements error.
func (e *ServerError) Error() string {
	return "corox: server error: " + e.Message
}

// NewClient returns a new [*Client].
//
// The cfg argument contains the common configuration for corox
// operations.
//
// The logger argument is the [SLogger] to use for structured logging.
func NewClient(cfg *Config, logger SLogger) *Client {
	return &Client{
		ConnectTimeout: cfg.ConnectTimeout,
		ErrClassifier:  cfg.ErrClassifier,
		Logger:         logger,
		Syscalls:       cfg.Syscalls,
		TimeNow:        cfg.TimeNow,
		closeonce:      sync.Once{},
		conn:           nil,
		connected:      false,
		fd:             -1,
		laddr:          "",
		pending:        nil,
		raddr:          "",
		state:          NewAsyncCallState(cfg),
	}
}

// Client speaks a line-oriented request/response protocol over TCP.
//
// The wire format is deliberately small: on connect the server sends
// a single greeting line starting with "+"; each request is one
// CRLF-terminated line; each response is one line starting with "+"
// (success, rest of the line is the payload) or "-" (failure, rest of
// the line is the message).
//
// The interesting part is not the protocol but how the client is
// written: Connect and Query are plain blocking code on top of
// [AsyncConnect], [AsyncRead], and [AsyncWrite]. Called directly they
// block. Called through ConnectStart/ConnectCont and
// QueryStart/QueryCont the exact same body runs inside a coroutine
// that suspends whenever the socket would block, so an external event
// loop can drive many clients from one thread.
//
// A Client must not be shared across concurrent callers: the event
// loop serializes all Start and Cont entries for a given client.
//
// All exported fields are safe to modify after construction but
// before first use.
type Client struct {
	// ConnectTimeout is the timeout hint announced when an
	// asynchronous connect suspends.
	//
	// Set by [NewClient] from [Config.ConnectTimeout].
	ConnectTimeout time.Duration

	// ErrClassifier classifies errors for structured logging.
	//
	// Set by [NewClient] from [Config.ErrClassifier].
	ErrClassifier ErrClassifier

	// Logger is the [SLogger] to use (configurable for testing or
	// custom logging).
	//
	// Set by [NewClient] to the user-provided logger.
	Logger SLogger

	// Syscalls is the syscall dispatch table used to create and
	// close the socket and by the connection returned by NetConn.
	// Connect, read, and write go through the I/O shims, which use
	// the table the client's call state took from [Config.Syscalls]
	// in [NewClient]; changing this field does not affect them.
	//
	// Set by [NewClient] from [Config.Syscalls].
	Syscalls Syscalls

	// TimeNow is the function to get the current time (configurable
	// for testing).
	//
	// Set by [NewClient] from [Config.TimeNow].
	TimeNow func() time.Time

	// closeonce makes Close one-shot.
	closeonce sync.Once

	// conn is the established socket as an observed [net.Conn],
	// nil until Connect succeeds.
	conn net.Conn

	// connected is true once Connect succeeded.
	connected bool

	// fd is the socket descriptor, -1 while disconnected.
	fd int

	// laddr and raddr cache the endpoint addresses for logging.
	laddr string
	raddr string

	// pending buffers bytes read past the most recent line.
	pending []byte

	// state is the per-handle async call state.
	state *AsyncCallState
}

// Connect synchronously connects to the given TCP endpoint and reads
// the server greeting. It blocks until done or failed.
func (c *Client) Connect(address netip.AddrPort) error {
	return c.connect(address)
}

// ConnectStart begins an asynchronous Connect. A zero returned mask
// means the connect completed (inspect the error); a nonzero mask
// means the call suspended and the caller must wait for the indicated
// events on [*Client.SocketFD] and then invoke [*Client.ConnectCont].
func (c *Client) ConnectStart(address netip.AddrPort) (WaitMask, error) {
	res, mask, err := StartCall(c.state, func() error {
		return c.connect(address)
	})
	if err != nil {
		return 0, err
	}
	if mask != 0 {
		return mask, nil
	}
	return 0, res
}

// ConnectCont resumes a suspended Connect with the events that
// occurred. The return protocol is the same as [*Client.ConnectStart].
func (c *Client) ConnectCont(ready WaitMask) (WaitMask, error) {
	res, mask, err := ContinueCall[error](c.state, ready)
	if err != nil {
		return 0, err
	}
	if mask != 0 {
		return mask, nil
	}
	return 0, res
}

// Query synchronously sends one request line and returns the server's
// response payload. It blocks until done or failed.
func (c *Client) Query(query string) (string, error) {
	return c.query(query)
}

// queryResult carries the wrapped Query return values through the
// state's result slot.
type queryResult struct {
	resp string
	err  error
}

// QueryStart begins an asynchronous Query. A zero returned mask means
// the query completed (inspect response and error); a nonzero mask
// means the call suspended and the caller must wait for the indicated
// events and then invoke [*Client.QueryCont].
func (c *Client) QueryStart(query string) (string, WaitMask, error) {
	res, mask, err := StartCall(c.state, func() queryResult {
		resp, qerr := c.query(query)
		return queryResult{resp: resp, err: qerr}
	})
	if err != nil {
		return "", 0, err
	}
	if mask != 0 {
		return "", mask, nil
	}
	return res.resp, 0, res.err
}

// QueryCont resumes a suspended Query with the events that occurred.
// The return protocol is the same as [*Client.QueryStart].
func (c *Client) QueryCont(ready WaitMask) (string, WaitMask, error) {
	res, mask, err := ContinueCall[queryResult](c.state, ready)
	if err != nil {
		return "", 0, err
	}
	if mask != 0 {
		return "", mask, nil
	}
	return res.resp, 0, res.err
}

// SocketFD returns the socket descriptor for the event loop to poll,
// or -1 while the client is disconnected. During an asynchronous
// Connect the descriptor is valid from the first suspension onwards.
func (c *Client) SocketFD() int {
	return c.fd
}

// TimeoutValue returns the pending timeout when a call is suspended
// with [WaitTimeout] in its wait mask, and zero otherwise.
func (c *Client) TimeoutValue() time.Duration {
	return c.state.TimeoutValue()
}

// Suspended reports whether an asynchronous call is suspended.
func (c *Client) Suspended() bool {
	return c.state.Suspended()
}

// Abandon unwinds a suspended asynchronous call, discarding its
// result. See [*AsyncCallState.Abandon].
func (c *Client) Abandon() error {
	return c.state.Abandon()
}

// NetConn returns the established socket as a [net.Conn] wrapped for
// structured I/O logging, or nil while the client is disconnected.
//
// Use this to hand the socket to [net.Conn]-based code after the
// protocol handshake. Reads and writes through the returned
// connection are logged at Debug and must not race with a suspended
// asynchronous call on the same client. Closing the returned
// connection closes the client's socket.
func (c *Client) NetConn() net.Conn {
	return c.conn
}

// Close closes the socket and releases the client's coroutine
// resources. The socket is closed through the observed connection, so
// closeStart/closeDone events are logged. Closing while a call is
// suspended returns [ErrCallSuspended]: call Abandon first.
// Subsequent calls return [net.ErrClosed], consistent with Go's
// standard library behavior for closed connections.
func (c *Client) Close() error {
	if c.state.Suspended() {
		return ErrCallSuspended
	}
	err := net.ErrClosed
	c.closeonce.Do(func() {
		err = nil
		if c.conn != nil {
			err = c.conn.Close()
			c.conn = nil
		} else if c.fd >= 0 {
			err = c.Syscalls.Close(c.fd)
		}
		c.fd = -1
		c.connected = false
		if serr := c.state.Close(); err == nil {
			err = serr
		}
	})
	return err
}

// connect is the synchronous library body for Connect.
func (c *Client) connect(address netip.AddrPort) error {
	t0 := c.TimeNow()
	c.logConnectStart(address, t0)
	conn, err := c.doConnect(address)
	c.logConnectDone(address, t0, conn, err)
	return err
}

// doConnect creates the socket, performs the non-blocking connect
// through the shim, and reads the server greeting. On success it
// returns a [net.Conn] view of the socket used for address logging.
func (c *Client) doConnect(address netip.AddrPort) (net.Conn, error) {
	if c.connected {
		return nil, ErrAlreadyConnected
	}

	family, sa := sockaddrFromAddrPort(address)
	fd, err := c.Syscalls.Socket(family, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, os.NewSyscallError("socket", err)
	}

	// Expose the descriptor before the first possible suspension so
	// that the event loop can poll it while the connect is pending.
	c.fd = fd
	c.pending = nil

	if err := AsyncConnect(c.state, fd, sa, c.ConnectTimeout); err != nil {
		c.Syscalls.Close(fd)
		c.fd = -1
		return nil, err
	}

	// The greeting read goes through the shim too, so a slow server
	// suspends an asynchronous connect rather than blocking it.
	line, err := c.readLine()
	if err != nil {
		c.Syscalls.Close(fd)
		c.fd = -1
		return nil, err
	}
	if !strings.HasPrefix(line, "+") {
		c.Syscalls.Close(fd)
		c.fd = -1
		return nil, fmt.Errorf("%w: unexpected greeting %q", ErrProtocol, line)
	}

	// Keep the established socket as an observed connection so that
	// close (and any traffic through NetConn) shares the same
	// structured log stream as the handshake.
	observer := &ConnObserver{
		ErrClassifier: c.ErrClassifier,
		Logger:        c.Logger,
		TimeNow:       c.TimeNow,
	}
	conn := observer.Observe(NewFDConn(c.Syscalls, fd))
	c.conn = conn
	c.laddr = safeconn.LocalAddr(conn)
	c.raddr = safeconn.RemoteAddr(conn)
	c.connected = true
	return conn, nil
}

// query is the synchronous library body for Query.
func (c *Client) query(query string) (string, error) {
	t0 := c.TimeNow()
	c.logQueryStart(query, t0)
	resp, err := c.doQuery(query)
	c.logQueryDone(query, t0, resp, err)
	return resp, err
}

func (c *Client) doQuery(query string) (string, error) {
	if !c.connected {
		return "", ErrNotConnected
	}
	if strings.ContainsAny(query, "\r\n") {
		return "", fmt.Errorf("%w: query contains line terminator", ErrProtocol)
	}

	if err := c.writeAll([]byte(query + "\r\n")); err != nil {
		return "", err
	}
	line, err := c.readLine()
	if err != nil {
		return "", err
	}
	switch {
	case strings.HasPrefix(line, "+"):
		return line[1:], nil
	case strings.HasPrefix(line, "-"):
		return "", &ServerError{Message: line[1:]}
	default:
		return "", fmt.Errorf("%w: unexpected response %q", ErrProtocol, line)
	}
}

// writeAll writes the whole buffer through the shim, looping over
// short writes.
func (c *Client) writeAll(data []byte) error {
	for len(data) > 0 {
		n, err := AsyncWrite(c.state, c.fd, data)
		if err != nil {
			return err
		}
		data = data[n:]
	}
	return nil
}

// readLine reads through the shim until a full line is buffered and
// returns it without the trailing CRLF.
func (c *Client) readLine() (string, error) {
	for {
		if i := bytes.IndexByte(c.pending, '\n'); i >= 0 {
			line := strings.TrimSuffix(string(c.pending[:i]), "\r")
			c.pending = c.pending[i+1:]
			return line, nil
		}
		buf := make([]byte, 4096)
		n, err := AsyncRead(c.state, c.fd, buf)
		if err != nil {
			return "", err
		}
		if n == 0 {
			return "", io.ErrUnexpectedEOF
		}
		c.pending = append(c.pending, buf[:n]...)
	}
}

func (c *Client) logConnectStart(address netip.AddrPort, t0 time.Time) {
	c.Logger.Info(
		"connectStart",
		slog.String("protocol", "tcp"),
		slog.String("remoteAddr", address.String()),
		slog.Duration("timeout", c.ConnectTimeout),
		slog.Time("t", t0),
	)
}

func (c *Client) logConnectDone(
	address netip.AddrPort, t0 time.Time, conn net.Conn, err error) {
	c.Logger.Info(
		"connectDone",
		slog.Any("err", err),
		slog.String("errClass", c.ErrClassifier.Classify(err)),
		slog.String("localAddr", safeconn.LocalAddr(conn)),
		slog.String("protocol", "tcp"),
		slog.String("remoteAddr", address.String()),
		slog.Time("t0", t0),
		slog.Time("t", c.TimeNow()),
	)
}

func (c *Client) logQueryStart(query string, t0 time.Time) {
	c.Logger.Info(
		"queryStart",
		slog.String("localAddr", c.laddr),
		slog.String("protocol", "tcp"),
		slog.String("query", query),
		slog.String("remoteAddr", c.raddr),
		slog.Time("t", t0),
	)
}

func (c *Client) logQueryDone(query string, t0 time.Time, resp string, err error) {
	c.Logger.Info(
		"queryDone",
		slog.Any("err", err),
		slog.String("errClass", c.ErrClassifier.Classify(err)),
		slog.String("localAddr", c.laddr),
		slog.String("protocol", "tcp"),
		slog.String("query", query),
		slog.String("remoteAddr", c.raddr),
		slog.Int("responseSize", len(resp)),
		slog.Time("t0", t0),
		slog.Time("t", c.TimeNow()),
	)
}

// sockaddrFromAddrPort converts a [netip.AddrPort] into the address
// family and [unix.Sockaddr] for the socket and connect calls.
func sockaddrFromAddrPort(address netip.AddrPort) (int, unix.Sockaddr) {
	if addr := address.Addr(); addr.Is4() || addr.Is4In6() {
		return unix.AF_INET, &unix.SockaddrInet4{
			Port: int(address.Port()),
			Addr: addr.As4(),
		}
	}
	return unix.AF_INET6, &unix.SockaddrInet6{
		Port: int(address.Port()),
		Addr: address.Addr().As16(),
	}
}
