//go:build unix

// SPDX-License-Identifier: GPL-3.0-or-later

package corox

import (
	"bufio"
	"errors"
	"net"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// startTestServer starts a loopback server speaking the line protocol.
//
// The server greets each connection, answers "PING" with "+PONG",
// echoes any "ECHO <text>" as "+<text>", never answers "HANG", and
// answers anything else with "-unknown command".
func startTestServer(t *testing.T) netip.AddrPort {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { listener.Close() })

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go serveTestConn(conn)
		}
	}()

	return netip.MustParseAddrPort(listener.Addr().String())
}

func serveTestConn(conn net.Conn) {
	defer conn.Close()
	if _, err := conn.Write([]byte("+hello\r\n")); err != nil {
		return
	}
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := strings.TrimSuffix(scanner.Text(), "\r")
		var reply string
		switch {
		case line == "PING":
			reply = "+PONG\r\n"
		case strings.HasPrefix(line, "ECHO "):
			reply = "+" + strings.TrimPrefix(line, "ECHO ") + "\r\n"
		case line == "HANG":
			continue
		default:
			reply = "-unknown command\r\n"
		}
		if _, err := conn.Write([]byte(reply)); err != nil {
			return
		}
	}
}

// driveClient runs an event loop over the fd/mask surface until the
// pending asynchronous call completes, returning how many times it
// continued the call.
func driveClient(t *testing.T, client *Client, mask WaitMask, cont func(ready WaitMask) (WaitMask, error)) int {
	steps := 0
	for mask != 0 {
		ready := awaitSocket(t, client, mask)
		var err error
		mask, err = cont(ready)
		require.NoError(t, err)
		steps++
		require.Less(t, steps, 1000, "event loop does not converge")
	}
	return steps
}

// awaitSocket polls the client's socket for the awaited events,
// bounding the wait by the pending timeout when requested.
func awaitSocket(t *testing.T, client *Client, mask WaitMask) WaitMask {
	events := int16(0)
	if mask&WaitRead != 0 {
		events |= unix.POLLIN
	}
	if mask&WaitWrite != 0 {
		events |= unix.POLLOUT
	}
	timeout := -1
	if mask&WaitTimeout != 0 {
		timeout = int(client.TimeoutValue() / time.Millisecond)
	}
	pfd := []unix.PollFd{{Fd: int32(client.SocketFD()), Events: events}}
	for {
		n, err := unix.Poll(pfd, timeout)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		require.NoError(t, err)
		if n == 0 {
			return WaitTimeout
		}
		ready := WaitMask(0)
		if pfd[0].Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0 {
			ready |= WaitRead
		}
		if pfd[0].Revents&(unix.POLLOUT|unix.POLLERR) != 0 {
			ready |= WaitWrite
		}
		return ready
	}
}

// NewClient populates all fields from Config and the provided logger.
func TestNewClient(t *testing.T) {
	cfg := NewConfig()
	logger := DefaultSLogger()

	client := NewClient(cfg, logger)

	require.NotNil(t, client)
	assert.Equal(t, cfg.ConnectTimeout, client.ConnectTimeout)
	assert.NotNil(t, client.ErrClassifier)
	assert.NotNil(t, client.Logger)
	assert.NotNil(t, client.Syscalls)
	assert.NotNil(t, client.TimeNow)
	assert.Equal(t, -1, client.SocketFD())
	assert.False(t, client.Suspended())
}

// The synchronous path connects, queries, and closes while polling
// the same socket from the same thread, never suspending.
func TestClientSyncRoundTrip(t *testing.T) {
	addr := startTestServer(t)
	client := NewClient(NewConfig(), DefaultSLogger())

	require.NoError(t, client.Connect(addr))
	assert.False(t, client.Suspended())
	assert.GreaterOrEqual(t, client.SocketFD(), 0)

	resp, err := client.Query("PING")
	require.NoError(t, err)
	assert.Equal(t, "PONG", resp)
	assert.False(t, client.Suspended())

	resp, err = client.Query("ECHO hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", resp)

	require.NoError(t, client.Close())
}

// The asynchronous path produces the same results as the synchronous
// one when driven by a poll loop.
func TestClientAsyncRoundTrip(t *testing.T) {
	addr := startTestServer(t)
	client := NewClient(NewConfig(), DefaultSLogger())

	mask, err := client.ConnectStart(addr)
	require.NoError(t, err)
	driveClient(t, client, mask, client.ConnectCont)
	assert.False(t, client.Suspended())

	resp, mask, err := client.QueryStart("PING")
	require.NoError(t, err)
	for mask != 0 {
		ready := awaitSocket(t, client, mask)
		resp, mask, err = client.QueryCont(ready)
		require.NoError(t, err)
	}
	assert.Equal(t, "PONG", resp)

	require.NoError(t, client.Close())
}

// Both paths observe identical results and error side effects.
func TestClientRoundTripParity(t *testing.T) {
	addr := startTestServer(t)

	queries := []string{"PING", "ECHO parity", "BOOM"}

	runSync := func() ([]string, []error) {
		client := NewClient(NewConfig(), DefaultSLogger())
		require.NoError(t, client.Connect(addr))
		defer client.Close()
		var results []string
		var errs []error
		for _, q := range queries {
			resp, err := client.Query(q)
			results = append(results, resp)
			errs = append(errs, err)
		}
		return results, errs
	}

	runAsync := func() ([]string, []error) {
		client := NewClient(NewConfig(), DefaultSLogger())
		mask, err := client.ConnectStart(addr)
		require.NoError(t, err)
		driveClient(t, client, mask, client.ConnectCont)
		defer client.Close()
		var results []string
		var errs []error
		for _, q := range queries {
			// While the mask is nonzero the call is still in flight
			// and the error is necessarily nil; the final iteration
			// carries the body's verdict.
			resp, mask, err := client.QueryStart(q)
			for mask != 0 {
				ready := awaitSocket(t, client, mask)
				resp, mask, err = client.QueryCont(ready)
			}
			results = append(results, resp)
			errs = append(errs, err)
		}
		return results, errs
	}

	syncResults, syncErrs := runSync()
	asyncResults, asyncErrs := runAsync()

	assert.Equal(t, syncResults, asyncResults)
	require.Len(t, asyncErrs, len(syncErrs))
	for i := range syncErrs {
		if syncErrs[i] == nil {
			assert.NoError(t, asyncErrs[i])
			continue
		}
		var syncSrv, asyncSrv *ServerError
		require.ErrorAs(t, syncErrs[i], &syncSrv)
		require.ErrorAs(t, asyncErrs[i], &asyncSrv)
		assert.Equal(t, syncSrv.Message, asyncSrv.Message)
	}
}

// Querying before connecting fails the same way on both paths.
func TestClientQueryNotConnected(t *testing.T) {
	client := NewClient(NewConfig(), DefaultSLogger())

	_, err := client.Query("PING")
	assert.ErrorIs(t, err, ErrNotConnected)

	resp, mask, err := client.QueryStart("PING")
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Equal(t, WaitMask(0), mask)
	assert.Equal(t, "", resp)
}

// Connecting twice is rejected.
func TestClientConnectTwice(t *testing.T) {
	addr := startTestServer(t)
	client := NewClient(NewConfig(), DefaultSLogger())

	require.NoError(t, client.Connect(addr))
	defer client.Close()

	assert.ErrorIs(t, client.Connect(addr), ErrAlreadyConnected)
}

// A connect to a dead endpoint reports a connection failure.
func TestClientConnectRefused(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := netip.MustParseAddrPort(listener.Addr().String())
	require.NoError(t, listener.Close())

	client := NewClient(NewConfig(), DefaultSLogger())

	cerr := client.Connect(addr)

	require.Error(t, cerr)
	assert.Equal(t, -1, client.SocketFD())
	require.NoError(t, client.Close())
}

// Queries containing line terminators are rejected before touching
// the wire.
func TestClientQueryRejectsNewline(t *testing.T) {
	addr := startTestServer(t)
	client := NewClient(NewConfig(), DefaultSLogger())
	require.NoError(t, client.Connect(addr))
	defer client.Close()

	_, err := client.Query("PING\r\nPING")

	assert.ErrorIs(t, err, ErrProtocol)
}

// Abandon unwinds a query the server will never answer, after which
// the client can be closed.
func TestClientAbandonHangingQuery(t *testing.T) {
	addr := startTestServer(t)
	client := NewClient(NewConfig(), DefaultSLogger())

	mask, err := client.ConnectStart(addr)
	require.NoError(t, err)
	driveClient(t, client, mask, client.ConnectCont)

	_, mask, err = client.QueryStart("HANG")
	require.NoError(t, err)
	require.NotZero(t, mask)
	require.True(t, client.Suspended())

	assert.ErrorIs(t, client.Close(), ErrCallSuspended)

	require.NoError(t, client.Abandon())
	assert.False(t, client.Suspended())
	require.NoError(t, client.Close())
}

// Close is one-shot; later calls return net.ErrClosed.
func TestClientCloseOnce(t *testing.T) {
	addr := startTestServer(t)
	client := NewClient(NewConfig(), DefaultSLogger())
	require.NoError(t, client.Connect(addr))

	require.NoError(t, client.Close())

	assert.ErrorIs(t, client.Close(), net.ErrClosed)
}

// Connect, Query, and Close emit their span events in order.
func TestClientLogging(t *testing.T) {
	addr := startTestServer(t)
	logger, records := newCapturingLogger()
	client := NewClient(NewConfig(), logger)

	require.NoError(t, client.Connect(addr))
	_, err := client.Query("PING")
	require.NoError(t, err)
	require.NoError(t, client.Close())

	var messages []string
	for _, record := range *records {
		messages = append(messages, record.Message)
	}
	assert.Equal(t, []string{
		"connectStart", "connectDone", "queryStart", "queryDone",
		"closeStart", "closeDone",
	}, messages)
}

// NetConn exposes the post-handshake socket for net.Conn-based code,
// with its I/O logged at Debug.
func TestClientNetConn(t *testing.T) {
	addr := startTestServer(t)
	logger, records := newCapturingLogger()
	client := NewClient(NewConfig(), logger)

	assert.Nil(t, client.NetConn())

	require.NoError(t, client.Connect(addr))
	defer client.Close()

	conn := client.NetConn()
	require.NotNil(t, conn)

	// Speak one protocol exchange directly over the connection.
	_, err := conn.Write([]byte("PING\r\n"))
	require.NoError(t, err)
	var reply []byte
	for !strings.HasSuffix(string(reply), "\r\n") {
		buf := make([]byte, 64)
		n, rerr := conn.Read(buf)
		require.NoError(t, rerr)
		reply = append(reply, buf[:n]...)
	}
	assert.Equal(t, "+PONG\r\n", string(reply))

	var messages []string
	for _, record := range *records {
		messages = append(messages, record.Message)
	}
	assert.Contains(t, messages, "writeStart")
	assert.Contains(t, messages, "writeDone")
	assert.Contains(t, messages, "readStart")
	assert.Contains(t, messages, "readDone")
}

// The async machinery works identically with the reference context
// backend.
func TestClientAsyncRoundTripChanBackend(t *testing.T) {
	addr := startTestServer(t)
	cfg := NewConfig()
	cfg.NewContext = func() Context { return NewChanContext() }
	client := NewClient(cfg, DefaultSLogger())

	mask, err := client.ConnectStart(addr)
	require.NoError(t, err)
	driveClient(t, client, mask, client.ConnectCont)

	resp, mask, err := client.QueryStart("ECHO backend")
	require.NoError(t, err)
	for mask != 0 {
		ready := awaitSocket(t, client, mask)
		resp, mask, err = client.QueryCont(ready)
		require.NoError(t, err)
	}
	assert.Equal(t, "backend", resp)

	require.NoError(t, client.Close())
}
