// File-descriptor backed connection
//
// Copyright (C) 2026  PARMCO Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package transport

import (
	stderrors "errors"
	"io"
	"sync"

	"golang.org/x/sys/unix"

	"parmco-go-migration/pkg/errors"
)

// fdConn adapts a non-blocking socket fd to the Conn interface. Both
// listeners hand out fdConns; only the remote address formatting
// differs.
type fdConn struct {
	mu     sync.Mutex
	fd     int
	remote string
	closed bool
}

func newFdConn(fd int, remote string) *fdConn {
	return &fdConn{fd: fd, remote: remote}
}

// Read fills p with whatever is available. It never waits: with no
// data pending it returns ErrWouldBlock, and it returns io.EOF once
// the peer has shut the stream down.
func (c *fdConn) Read(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, ErrClosed
	}

	for {
		n, err := unix.Read(c.fd, p)
		if err == nil {
			if n == 0 {
				return 0, io.EOF
			}
			return n, nil
		}
		if stderrors.Is(err, unix.EINTR) {
			continue
		}
		if stderrors.Is(err, unix.EAGAIN) || stderrors.Is(err, unix.EWOULDBLOCK) {
			return 0, ErrWouldBlock
		}
		return 0, errors.TransportIOError("read", err)
	}
}

// Write attempts a single non-blocking write of p. A full socket
// buffer yields ErrWouldBlock; the caller retries the whole payload
// later.
func (c *fdConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, ErrClosed
	}

	for {
		n, err := unix.Write(c.fd, p)
		if err == nil {
			return n, nil
		}
		if stderrors.Is(err, unix.EINTR) {
			continue
		}
		if stderrors.Is(err, unix.EAGAIN) || stderrors.Is(err, unix.EWOULDBLOCK) {
			return 0, ErrWouldBlock
		}
		return 0, errors.TransportIOError("write", err)
	}
}

// Close shuts the stream down. Safe to call twice.
func (c *fdConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return unix.Close(c.fd)
}

// RemoteAddr returns the peer address in transport-specific form.
func (c *fdConn) RemoteAddr() string {
	return c.remote
}
