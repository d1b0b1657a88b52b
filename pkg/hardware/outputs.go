// H-bridge output port
//
// Copyright (C) 2026  PARMCO Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package hardware

import (
	"parmco-go-migration/pkg/config"
	"parmco-go-migration/pkg/errors"
	"parmco-go-migration/pkg/metrics"
	"parmco-go-migration/pkg/pigpio"
)

// Outputs drives the H-bridge pins through the daemon. It is the
// motor driver's output port; drive is a duty percentage in [0,100]
// scaled to the daemon's hardware PWM range.
type Outputs struct {
	client *pigpio.Client
	cfg    config.MotorConfig
	mm     *metrics.MotorMetrics
}

func level(on bool) uint32 {
	if on {
		return 1
	}
	return 0
}

// done accounts one daemon command and wraps its failure.
func (o *Outputs) done(op string, pin int, err error) error {
	o.mm.PigpioCommands.Inc(nil)
	if err != nil {
		o.mm.PigpioErrors.Inc(nil)
		return errors.HardwareIOError(op, pin, err)
	}
	return nil
}

// WriteMaster sets the power stage gate.
func (o *Outputs) WriteMaster(on bool) error {
	return o.done("write master", o.cfg.MasterPin,
		o.client.WritePin(uint32(o.cfg.MasterPin), level(on)))
}

// WriteDirection sets the two H-bridge legs. Both pins are always
// written; the first error wins.
func (o *Outputs) WriteDirection(a, b bool) error {
	errA := o.done("write dir a", o.cfg.DirAPin,
		o.client.WritePin(uint32(o.cfg.DirAPin), level(a)))
	errB := o.done("write dir b", o.cfg.DirBPin,
		o.client.WritePin(uint32(o.cfg.DirBPin), level(b)))
	if errA != nil {
		return errA
	}
	return errB
}

// WriteDrive sets the PWM duty as a percentage at the configured
// drive frequency.
func (o *Outputs) WriteDrive(percent int) error {
	if percent < 0 {
		percent = 0
	} else if percent > 100 {
		percent = 100
	}
	duty := uint32(percent) * (pigpio.HardwarePWMRange / 100)
	return o.done("write drive", o.cfg.SpeedPin,
		o.client.HardwarePWM(uint32(o.cfg.SpeedPin), uint32(o.cfg.PWMFrequency), duty))
}
