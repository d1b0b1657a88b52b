// Pulse counting for the rotation sensor
//
// Copyright (C) 2026  PARMCO Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package tach

import (
	"sync/atomic"

	"parmco-go-migration/pkg/config"
)

// Sensor line levels as delivered by the hardware notification stream.
const (
	LevelLow     = 0
	LevelHigh    = 1
	LevelTimeout = 2
)

// LevelProbe re-reads the sensor line on demand. Used by the
// rising-while-high edge mode to discard pulses that ended before the
// edge could be confirmed. ok is false when the line could not be read.
type LevelProbe func() (level int, ok bool)

// Counter accumulates qualifying sensor edges. OnEdge is called from
// the hardware notification goroutine while ReadAndReset runs on the
// control loop, so the count is the only shared word and is accessed
// atomically.
type Counter struct {
	pulses atomic.Uint32
	edge   config.EdgeMode
	probe  LevelProbe
}

// NewCounter creates a counter qualifying edges per the given mode.
func NewCounter(edge config.EdgeMode) *Counter {
	return &Counter{edge: edge}
}

// SetLevelProbe installs the confirmation probe used by
// EdgeRisingWhileHigh. Without a probe that mode counts plain rising
// edges.
func (c *Counter) SetLevelProbe(probe LevelProbe) {
	c.probe = probe
}

// OnEdge records one sensor transition and reports whether it
// qualified. level is LevelLow, LevelHigh or LevelTimeout; tick is
// the hardware microsecond timestamp of the report. Only the
// configured qualifying edge increments the count; falling edges and
// watchdog timeouts never do.
func (c *Counter) OnEdge(level int, tick uint32) bool {
	if level != LevelHigh {
		return false
	}
	if c.edge == config.EdgeRisingWhileHigh && c.probe != nil {
		if lv, ok := c.probe(); !ok || lv != LevelHigh {
			return false
		}
	}
	c.pulses.Add(1)
	return true
}

// ReadAndReset returns the pulses accumulated since the previous call
// and zeroes the count in a single atomic exchange, so edges arriving
// during the call land in the next window.
func (c *Counter) ReadAndReset() uint32 {
	return c.pulses.Swap(0)
}

// Peek returns the current count without resetting it.
func (c *Counter) Peek() uint32 {
	return c.pulses.Load()
}
