//go:build unix

// SPDX-License-Identifier: GPL-3.0-or-later

package corox_test

import (
	"bufio"
	"net"
	"net/netip"
	"strings"

	"github.com/bassosimone/runtimex"
)

// startExampleServer starts a loopback server speaking the line
// protocol used by [corox.Client]: it greets each connection with a
// "+" line and answers "PING" with "+PONG". The returned function
// stops the server.
func startExampleServer() (netip.AddrPort, func()) {
	listener := runtimex.PanicOnError1(net.Listen("tcp", "127.0.0.1:0"))

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go serveExampleConn(conn)
		}
	}()

	addr := netip.MustParseAddrPort(listener.Addr().String())
	return addr, func() { listener.Close() }
}

func serveExampleConn(conn net.Conn) {
	defer conn.Close()
	if _, err := conn.Write([]byte("+hello\r\n")); err != nil {
		return
	}
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := strings.TrimSuffix(scanner.Text(), "\r")
		reply := "-unknown command\r\n"
		if line == "PING" {
			reply = "+PONG\r\n"
		}
		if _, err := conn.Write([]byte(reply)); err != nil {
			return
		}
	}
}
