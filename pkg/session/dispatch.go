// Command dispatch
//
// Copyright (C) 2026  PARMCO Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package session

import (
	"parmco-go-migration/pkg/command"
	"parmco-go-migration/pkg/control"
	"parmco-go-migration/pkg/motor"
)

// Command applies one single-character command. Unknown bytes are
// counted and dropped; the client protocol has no error channel.
func (s *Session) Command(flag byte) {
	switch flag {
	case command.CmdStart:
		// Arms the power stage at the current drive. The strategy
		// accumulators restart so an old integral cannot kick the
		// motor.
		s.driver.SetMaster(true)
		s.ctrl.Reset()

	case command.CmdStop:
		s.stopAll()

	case command.CmdClockwise:
		s.driver.SetDirection(motor.Clockwise)

	case command.CmdCounterClockwise:
		s.driver.SetDirection(motor.CounterClockwise)

	case command.CmdFaster:
		if s.Mode() == control.Manual {
			s.driver.AdjustDrive(s.cfg.DriveStep)
		}

	case command.CmdSlower:
		if s.Mode() == control.Manual {
			s.driver.AdjustDrive(-s.cfg.DriveStep)
		}

	case command.CmdAuto:
		s.enterAuto()

	case command.CmdManual:
		s.mu.Lock()
		s.mode = control.Manual
		s.mu.Unlock()
		s.mm.SetControlMode(false)
		s.logger.Info("manual mode")

	case command.CmdTargetUp:
		s.bumpTarget(s.cfg.TargetStep)

	case command.CmdTargetDown:
		s.bumpTarget(-s.cfg.TargetStep)

	default:
		s.mm.ParseIgnored.Inc(nil)
		s.logger.WithField("byte", int(flag)).Debug("ignoring unknown command")
		return
	}
	s.mm.RecordCommand(string(flag))
}

// Setpoint applies a target frame. The target is taken verbatim, zero
// included; only the bare auto command substitutes a default. A frame
// arriving in manual mode may engage auto, but unlike the auto
// command it leaves the strategy accumulators alone.
func (s *Session) Setpoint(targetRpm int) {
	s.mm.SetpointFrames.Inc(nil)

	s.mu.Lock()
	s.target = targetRpm
	wasAuto := s.mode == control.Auto
	s.mu.Unlock()
	s.logger.WithField("target", targetRpm).Info("setpoint received")

	if s.cfg.AutoSwitchOnSetpoint && !wasAuto {
		s.driver.SetMaster(true)
		s.driver.EnsureDirection(motor.Clockwise)
		s.mu.Lock()
		s.mode = control.Auto
		s.mu.Unlock()
		s.mm.SetControlMode(true)
	}
}

// enterAuto is the bare auto command: master on, a direction if the
// bridge is coasting, the default target if none is set, fresh
// accumulators.
func (s *Session) enterAuto() {
	s.driver.SetMaster(true)
	s.driver.EnsureDirection(motor.Clockwise)

	s.mu.Lock()
	s.mode = control.Auto
	if s.target <= 0 {
		s.target = s.cfg.DefaultAutoTarget
	}
	target := s.target
	s.mu.Unlock()

	s.ctrl.Reset()
	s.mm.SetControlMode(true)
	s.logger.WithField("target", target).Info("auto mode engaged")
}

// bumpTarget nudges the target while in auto mode, floored at zero.
func (s *Session) bumpTarget(delta int) {
	s.mu.Lock()
	if s.mode == control.Auto {
		s.target += delta
		if s.target < 0 {
			s.target = 0
		}
	}
	target := s.target
	mode := s.mode
	s.mu.Unlock()

	if mode == control.Auto {
		s.logger.WithField("target", target).Info("target adjusted")
	}
}
