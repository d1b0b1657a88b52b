// Object pools for reducing GC pressure in hot paths
//
// The control loop formats a telemetry line and encodes pigpiod
// frames every cycle, and the monitor rebuilds a status document per
// request. Pooling those buffers keeps the steady state allocation
// free.
//
// Copyright (C) 2026  PARMCO Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package pool

import (
	"strconv"
	"sync"
)

const (
	// Telemetry lines and pigpiod frames fit comfortably in 64 bytes.
	bufferStartCap = 64

	// Buffers that grew past this are left for the GC instead of
	// being pooled.
	bufferMaxPooledCap = 4096

	// Status maps that collected more entries than this are dropped
	// on return, since map storage never shrinks.
	statusMaxPooledLen = 64
)

// ByteBuffer is a pooled append-only byte slice with the few write
// helpers the hot paths need. Get one with GetByteBuffer and hand it
// back with PutByteBuffer when done.
type ByteBuffer struct {
	data []byte
}

var byteBuffers = sync.Pool{
	New: func() any {
		return &ByteBuffer{data: make([]byte, 0, bufferStartCap)}
	},
}

// GetByteBuffer returns an empty buffer from the pool.
func GetByteBuffer() *ByteBuffer {
	b := byteBuffers.Get().(*ByteBuffer)
	b.data = b.data[:0]
	return b
}

// PutByteBuffer hands b back for reuse. Oversized buffers are not
// retained.
func PutByteBuffer(b *ByteBuffer) {
	if b == nil || cap(b.data) > bufferMaxPooledCap {
		return
	}
	byteBuffers.Put(b)
}

// Bytes returns the accumulated contents. The slice is only valid
// until the buffer goes back to the pool.
func (b *ByteBuffer) Bytes() []byte { return b.data }

// Len returns the number of bytes written so far.
func (b *ByteBuffer) Len() int { return len(b.data) }

// Cap returns the buffer's current capacity.
func (b *ByteBuffer) Cap() int { return cap(b.data) }

// Reset empties the buffer keeping its storage.
func (b *ByteBuffer) Reset() { b.data = b.data[:0] }

// Write appends p. The error is always nil; the signature satisfies
// io.Writer.
func (b *ByteBuffer) Write(p []byte) (int, error) {
	b.data = append(b.data, p...)
	return len(p), nil
}

// WriteString appends s.
func (b *ByteBuffer) WriteString(s string) (int, error) {
	b.data = append(b.data, s...)
	return len(s), nil
}

// WriteByte appends a single byte.
func (b *ByteBuffer) WriteByte(c byte) error {
	b.data = append(b.data, c)
	return nil
}

// WriteInt appends n in decimal.
func (b *ByteBuffer) WriteInt(n int) {
	b.data = strconv.AppendInt(b.data, int64(n), 10)
}

// WriteUint32 appends n in decimal.
func (b *ByteBuffer) WriteUint32(n uint32) {
	b.data = strconv.AppendUint(b.data, uint64(n), 10)
}

// Grow reserves room for at least n more bytes.
func (b *ByteBuffer) Grow(n int) {
	if cap(b.data)-len(b.data) >= n {
		return
	}
	grown := make([]byte, len(b.data), 2*cap(b.data)+n)
	copy(grown, b.data)
	b.data = grown
}

var statusMaps = sync.Pool{
	New: func() any {
		return make(map[string]any, 16)
	},
}

// GetStatusMap returns an empty map for composing a status document.
func GetStatusMap() map[string]any {
	return statusMaps.Get().(map[string]any)
}

// PutStatusMap clears m and hands it back for reuse. Maps that grew
// unusually large are dropped.
func PutStatusMap(m map[string]any) {
	if m == nil || len(m) > statusMaxPooledLen {
		return
	}
	clear(m)
	statusMaps.Put(m)
}
