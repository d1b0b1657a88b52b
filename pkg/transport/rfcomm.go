// RFCOMM server socket
//
// Copyright (C) 2026  PARMCO Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package transport

import (
	stderrors "errors"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"

	"parmco-go-migration/pkg/errors"
	"parmco-go-migration/pkg/log"
)

// rfcommListener accepts one Bluetooth serial client on a fixed
// channel, bound to any local adapter.
type rfcommListener struct {
	mu      sync.Mutex
	fd      int
	channel uint8
	logger  *log.Logger
	closed  bool
}

// NewRFCOMMListener binds and listens on the given RFCOMM channel.
func NewRFCOMMListener(channel uint8) (Listener, error) {
	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_STREAM, unix.BTPROTO_RFCOMM)
	if err != nil {
		return nil, errors.TransportBindError("rfcomm", channelAddr(channel), err)
	}

	// Zero Addr is BDADDR_ANY: listen on every local adapter.
	sa := &unix.SockaddrRFCOMM{Channel: channel}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, errors.TransportBindError("rfcomm", channelAddr(channel), err)
	}
	if err := unix.Listen(fd, 1); err != nil {
		unix.Close(fd)
		return nil, errors.TransportBindError("rfcomm", channelAddr(channel), err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, errors.TransportBindError("rfcomm", channelAddr(channel), err)
	}

	l := &rfcommListener{
		fd:      fd,
		channel: channel,
		logger:  log.GetLogger("transport"),
	}
	l.logger.WithField("channel", channel).Info("RFCOMM listener ready")
	return l, nil
}

// Accept returns the next pending client or ErrWouldBlock.
func (l *rfcommListener) Accept() (Conn, error) {
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
				return nil, errors.TransportAcceptError("rfcomm", err)
			}
			remote := "unknown"
			if rsa, ok := sa.(*unix.SockaddrRFCOMM); ok {
				remote = bdaddrString(rsa.Addr)
			}
			return newFdConn(nfd, remote), nil
		}
		if stderrors.Is(err, unix.EINTR) {
			continue
		}
		if stderrors.Is(err, unix.EAGAIN) || stderrors.Is(err, unix.EWOULDBLOCK) {
			return nil, ErrWouldBlock
		}
		return nil, errors.TransportAcceptError("rfcomm", err)
	}
}

// Close releases the server socket.
func (l *rfcommListener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return unix.Close(l.fd)
}

// Addr returns the bound channel in rfcomm:<n> form.
func (l *rfcommListener) Addr() string {
	return channelAddr(l.channel)
}

func channelAddr(channel uint8) string {
	return fmt.Sprintf("rfcomm:%d", channel)
}

// bdaddrString formats a Bluetooth device address. The kernel stores
// bdaddr bytes in reverse of the conventional display order.
func bdaddrString(addr [6]uint8) string {
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X",
		addr[5], addr[4], addr[3], addr[2], addr[1], addr[0])
}
