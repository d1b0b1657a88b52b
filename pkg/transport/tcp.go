// TCP server socket
//
// Copyright (C) 2026  PARMCO Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package transport

import (
	stderrors "errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sys/unix"

	"parmco-go-migration/pkg/errors"
	"parmco-go-migration/pkg/log"
)

// tcpListener is the bench stand-in for the RFCOMM listener: same
// one-client non-blocking surface over an IPv4 socket.
type tcpListener struct {
	mu     sync.Mutex
	fd     int
	addr   string
	logger *log.Logger
	closed bool
}

// NewTCPListener binds and listens on addr (host:port). Port 0 binds
// a kernel-assigned port; Addr reports the actual one.
func NewTCPListener(addr string) (Listener, error) {
	ip, port, err := parseBindAddr(addr)
	if err != nil {
		return nil, errors.TransportBindError("tcp", addr, err)
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, errors.TransportBindError("tcp", addr, err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, errors.TransportBindError("tcp", addr, err)
	}
	if err := unix.Bind(fd, &unix.SockaddrInet4{Port: port, Addr: ip}); err != nil {
		unix.Close(fd)
		return nil, errors.TransportBindError("tcp", addr, err)
	}
	if err := unix.Listen(fd, 1); err != nil {
		unix.Close(fd)
		return nil, errors.TransportBindError("tcp", addr, err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, errors.TransportBindError("tcp", addr, err)
	}

	bound := addr
	if sa, err := unix.Getsockname(fd); err == nil {
		if isa, ok := sa.(*unix.SockaddrInet4); ok {
			bound = inetString(isa)
		}
	}

	l := &tcpListener{
		fd:     fd,
		addr:   bound,
		logger: log.GetLogger("transport"),
	}
	l.logger.WithField("addr", bound).Info("TCP listener ready")
	return l, nil
}

// Accept returns the next pending client or ErrWouldBlock.
func (l *tcpListener) Accept() (Conn, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, ErrClosed
	}

	for {
		nfd, sa, err := unix.Accept(l.fd)
		if err == nil {
			if err := unix.SetNonblock(nfd, true); err != nil {
				unix.Close(nfd)
				return nil, errors.TransportAcceptError("tcp", err)
			}
			remote := "unknown"
			if isa, ok := sa.(*unix.SockaddrInet4); ok {
				remote = inetString(isa)
			}
			return newFdConn(nfd, remote), nil
		}
		if stderrors.Is(err, unix.EINTR) {
			continue
		}
		if stderrors.Is(err, unix.EAGAIN) || stderrors.Is(err, unix.EWOULDBLOCK) {
			return nil, ErrWouldBlock
		}
		return nil, errors.TransportAcceptError("tcp", err)
	}
}

// Close releases the server socket.
func (l *tcpListener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return unix.Close(l.fd)
}

// Addr returns the bound address.
func (l *tcpListener) Addr() string {
	return l.addr
}

// parseBindAddr splits host:port into an IPv4 address and port.
// An empty or wildcard host binds every interface.
func parseBindAddr(addr string) ([4]byte, int, error) {
	var ip [4]byte

	idx := strings.LastIndex(addr, ":")
	if idx < 0 {
		return ip, 0, fmt.Errorf("missing port in %q", addr)
	}
	host, portStr := addr[:idx], addr[idx+1:]

	port, err := strconv.Atoi(portStr)
	if err != nil || port < 0 || port > 65535 {
		return ip, 0, fmt.Errorf("invalid port %q", portStr)
	}

	switch host {
	case "", "0.0.0.0", "*":
		return ip, port, nil
	case "localhost":
		return [4]byte{127, 0, 0, 1}, port, nil
	}

	parts := strings.Split(host, ".")
	if len(parts) != 4 {
		return ip, 0, fmt.Errorf("host %q is not a dotted quad", host)
	}
	for i, part := range parts {
		v, err := strconv.Atoi(part)
		if err != nil || v < 0 || v > 255 {
			return ip, 0, fmt.Errorf("host %q is not a dotted quad", host)
		}
		ip[i] = byte(v)
	}
	return ip, port, nil
}

func inetString(sa *unix.SockaddrInet4) string {
	return fmt.Sprintf("%d.%d.%d.%d:%d",
		sa.Addr[0], sa.Addr[1], sa.Addr[2], sa.Addr[3], sa.Port)
}
