// Client-facing byte stream transports
//
// The session protocol is transport-agnostic: one remote client over
// a point-to-point byte stream. Production uses an RFCOMM socket; a
// TCP listener provides the same non-blocking surface for bench
// setups without a Bluetooth stack.
//
// Copyright (C) 2026  PARMCO Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package transport

import (
	"errors"

	"parmco-go-migration/pkg/config"
	hosterrors "parmco-go-migration/pkg/errors"
)

// Common errors
var (
	ErrWouldBlock = errors.New("transport: operation would block")
	ErrClosed     = errors.New("transport: closed")
)

// Conn is one accepted client stream. All operations are non-blocking:
// Read and Write return ErrWouldBlock instead of waiting, and Read
// returns io.EOF once the peer has closed.
type Conn interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
	RemoteAddr() string
}

// Listener accepts one client at a time without blocking. Accept
// returns ErrWouldBlock while nobody is dialing.
type Listener interface {
	Accept() (Conn, error)
	Close() error
	Addr() string
}

// New creates the listener selected by cfg.Kind.
func New(cfg config.TransportConfig) (Listener, error) {
	switch cfg.Kind {
	case config.TransportRFCOMM:
		return NewRFCOMMListener(cfg.Channel)
	case config.TransportTCP:
		return NewTCPListener(cfg.TCPAddr)
	default:
		return nil, hosterrors.ConfigValidationError("transport", "kind",
			"unknown transport '"+cfg.Kind+"'")
	}
}
