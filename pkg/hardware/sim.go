// In-memory motor model for bench simulation
//
// Copyright (C) 2026  PARMCO Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package hardware

// Sim is a first-order model of the motor and its tachometer. Inputs
// mirror the output pins: the shaft turns only while the master gate
// is high and exactly one H-bridge line is driven, and speed follows
// the PWM duty with the configured time constant. Advance steps the
// model and returns the tachometer pulses emitted during the step.
// mock-pigpiod drives it; callers serialize access.
type Sim struct {
	maxRpm float64
	tau    float64
	ppr    int

	master bool
	dirA   bool
	dirB   bool
	duty   float64

	rpm      float64
	pulseAcc float64
}

// NewSim builds a model reaching maxRpm at full duty with time
// constant tau seconds, emitting ppr pulses per revolution.
func NewSim(maxRpm, tau float64, ppr int) *Sim {
	return &Sim{maxRpm: maxRpm, tau: tau, ppr: ppr}
}

// SetInputs latches the drive pin states for subsequent steps. duty
// is the PWM fraction in [0,1].
func (s *Sim) SetInputs(master, dirA, dirB bool, duty float64) {
	s.master = master
	s.dirA = dirA
	s.dirB = dirB
	if duty < 0 {
		duty = 0
	}
	if duty > 1 {
		duty = 1
	}
	s.duty = duty
}

// Target returns the steady-state RPM for the current inputs. Coast
// and brake line states both target zero; the shaft still winds down
// through the time constant.
func (s *Sim) Target() float64 {
	if !s.master || s.dirA == s.dirB {
		return 0
	}
	return s.duty * s.maxRpm
}

// Advance steps the model by dt seconds and returns the tachometer
// pulses emitted during the step. Fractional pulses carry over, so
// the long-run pulse rate matches RPM x ppr exactly.
func (s *Sim) Advance(dt float64) int {
	alpha := dt / s.tau
	if alpha > 1 {
		alpha = 1
	}
	s.rpm += (s.Target() - s.rpm) * alpha

	s.pulseAcc += s.rpm / 60.0 * float64(s.ppr) * dt
	n := int(s.pulseAcc)
	s.pulseAcc -= float64(n)
	return n
}

// Rpm returns the modelled shaft speed.
func (s *Sim) Rpm() float64 {
	return s.rpm
}
