// RPM estimation from windowed pulse counts
//
// Copyright (C) 2026  PARMCO Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package tach

import (
	"parmco-go-migration/pkg/config"
)

// Sample rejection reasons.
const (
	RejectPhysicalMax = "physical_max"
	RejectSpike       = "spike"
	RejectDropout     = "dropout"
	RejectNoWindow    = "no_window"
)

// Sample is the outcome of one estimation window. Raw is the
// uninspected measurement for the window; Smoothed is the filtered
// estimate after the accept/reject decision, which holds its previous
// value when the sample is rejected.
type Sample struct {
	Raw      int
	Smoothed int
	Accepted bool
	Reason   string
}

// Estimator converts windowed pulse counts into a smoothed RPM
// estimate. It owns the measurement window: each Update drains the
// counter, advances the window start and applies the rejection and
// smoothing policy. Not safe for concurrent use; it runs on the
// control loop only.
type Estimator struct {
	counter *Counter
	cfg     config.EstimatorConfig
	ppr     int

	lastTick uint32
	haveTick bool
	raw      int
	smoothed int
}

// NewEstimator creates an estimator reading from counter. ppr is the
// sensor's pulses-per-revolution constant.
func NewEstimator(counter *Counter, ppr int, cfg config.EstimatorConfig) *Estimator {
	return &Estimator{counter: counter, cfg: cfg, ppr: ppr}
}

// Rearm starts a fresh measurement window at now, discarding any
// pulses accumulated outside a window. Called when a session becomes
// active so stale counts never produce a sample.
func (e *Estimator) Rearm(now uint32) {
	e.counter.ReadAndReset()
	e.lastTick = now
	e.haveTick = true
}

// Update closes the current window at tick now and produces a sample.
// drivePercent and autoActive describe whether the motor is being
// commanded to turn; a zero reading while driving is a sensor dropout,
// not a stop. The tick counter wraps, so the elapsed time is an
// unsigned subtraction.
func (e *Estimator) Update(now uint32, drivePercent int, autoActive bool) Sample {
	if !e.haveTick {
		e.Rearm(now)
		return Sample{Smoothed: e.smoothed, Reason: RejectNoWindow}
	}

	elapsed := now - e.lastTick
	if elapsed == 0 {
		return Sample{Smoothed: e.smoothed, Reason: RejectNoWindow}
	}

	pulses := e.counter.ReadAndReset()
	e.lastTick = now

	revolutions := float64(pulses) / float64(e.ppr)
	seconds := float64(elapsed) / 1e6
	raw := int((revolutions / seconds) * 60.0)

	s := Sample{Raw: raw, Smoothed: e.smoothed}

	driving := drivePercent > e.cfg.DropoutDriveThreshold || autoActive
	switch {
	case raw > e.cfg.MaxPhysicalRpm:
		s.Reason = RejectPhysicalMax
	case e.smoothed >= e.cfg.NontrivialRpm && float64(raw) > e.cfg.SpikeMultiple*float64(e.smoothed):
		s.Reason = RejectSpike
	case raw == 0 && driving:
		s.Reason = RejectDropout
	default:
		alpha := e.cfg.SmoothingAlpha
		e.raw = raw
		e.smoothed = int(alpha*float64(e.smoothed) + (1.0-alpha)*float64(raw))
		s.Smoothed = e.smoothed
		s.Accepted = true
	}
	return s
}

// Raw returns the most recently accepted raw RPM.
func (e *Estimator) Raw() int {
	return e.raw
}

// Smoothed returns the current smoothed RPM estimate.
func (e *Estimator) Smoothed() int {
	return e.smoothed
}

// Reset zeroes the estimate and invalidates the measurement window.
// The next Update only rearms.
func (e *Estimator) Reset() {
	e.raw = 0
	e.smoothed = 0
	e.haveTick = false
}
