// Speed control algorithms
//
// Copyright (C) 2026  PARMCO Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package control

import (
	"parmco-go-migration/pkg/config"
	"parmco-go-migration/pkg/errors"
)

// Mode selects between operator-driven and closed-loop drive.
type Mode int

const (
	Manual Mode = iota
	Auto
)

// String returns the mode name.
func (m Mode) String() string {
	if m == Auto {
		return "auto"
	}
	return "manual"
}

// MotorController is the slice of the motor driver the strategies
// drive through.
type MotorController interface {
	Drive() int
	SetDrive(percent int) error
	Running() bool
}

// Algorithm is the interface for speed control strategies.
type Algorithm interface {
	// SetMotor sets the motor reference
	SetMotor(m MotorController)

	// SpeedUpdate is called once per control period with the current
	// target and the freshly sampled smoothed RPM. sensorOK is false
	// when the estimator rejected the window as a sensor dropout.
	SpeedUpdate(targetRpm, measuredRpm int, sensorOK bool)

	// CheckSteady reports whether the measured speed has settled on
	// the target
	CheckSteady(measuredRpm, targetRpm int) bool

	// Reset zeroes strategy-internal accumulators
	Reset()

	// Name returns the configured strategy name
	Name() string
}

// New creates the strategy selected by cfg.Strategy.
func New(cfg config.ControlConfig) (Algorithm, error) {
	switch cfg.Strategy {
	case config.StrategyPID:
		return NewControlPID(cfg)
	case config.StrategyFeedForward:
		return NewControlFeedForward(cfg)
	case config.StrategyHysteretic:
		return NewControlHysteretic(cfg)
	default:
		return nil, errors.ConfigValidationError("control", "strategy",
			"unknown strategy '"+cfg.Strategy+"'")
	}
}

// Controller owns the active strategy and gates it on the control
// mode and the master enable state. Closed-loop updates only happen
// in Auto mode with the motor running; otherwise the cycle is a no-op
// and nothing is written to the drive output.
type Controller struct {
	motor MotorController
	alg   Algorithm
}

// NewController builds the configured strategy bound to m.
func NewController(cfg config.ControlConfig, m MotorController) (*Controller, error) {
	alg, err := New(cfg)
	if err != nil {
		return nil, err
	}
	alg.SetMotor(m)
	return &Controller{motor: m, alg: alg}, nil
}

// Update runs one control cycle.
func (c *Controller) Update(mode Mode, targetRpm, measuredRpm int, sensorOK bool) {
	if mode != Auto || !c.motor.Running() {
		return
	}
	c.alg.SpeedUpdate(targetRpm, measuredRpm, sensorOK)
}

// Steady reports whether the measured speed has settled on target.
func (c *Controller) Steady(measuredRpm, targetRpm int) bool {
	return c.alg.CheckSteady(measuredRpm, targetRpm)
}

// Reset zeroes the strategy accumulators.
func (c *Controller) Reset() {
	c.alg.Reset()
}

// Strategy returns the active strategy name.
func (c *Controller) Strategy() string {
	return c.alg.Name()
}

// ControlPID implements proportional-integral-derivative control with
// anti-windup and per-cycle rate limiting.
type ControlPID struct {
	motor       MotorController
	kp          float64
	ki          float64
	kd          float64
	integralMin float64
	integralMax float64
	maxStep     int
	settleBand  int

	// State
	integral  float64
	lastError float64
}

// NewControlPID creates a new PID strategy.
func NewControlPID(cfg config.ControlConfig) (*ControlPID, error) {
	if cfg.PID_Kp <= 0 {
		return nil, errors.ConfigValidationError("control", "pid_kp", "must be positive")
	}
	if cfg.PID_Ki < 0 || cfg.PID_Kd < 0 {
		return nil, errors.ConfigValidationError("control", "pid_ki/pid_kd", "must not be negative")
	}
	if cfg.IntegralMin >= cfg.IntegralMax {
		return nil, errors.ConfigValidationError("control", "integral_min",
			"must be below integral_max")
	}
	if cfg.MaxStep <= 0 {
		return nil, errors.ConfigValidationError("control", "max_step", "must be positive")
	}

	return &ControlPID{
		kp:          cfg.PID_Kp,
		ki:          cfg.PID_Ki,
		kd:          cfg.PID_Kd,
		integralMin: cfg.IntegralMin,
		integralMax: cfg.IntegralMax,
		maxStep:     cfg.MaxStep,
		settleBand:  cfg.Deadband,
	}, nil
}

// SetMotor sets the motor reference
func (c *ControlPID) SetMotor(m MotorController) {
	c.motor = m
}

// SpeedUpdate implements PID control
func (c *ControlPID) SpeedUpdate(targetRpm, measuredRpm int, sensorOK bool) {
	speedErr := float64(targetRpm - measuredRpm)

	c.integral += speedErr
	if c.integral > c.integralMax {
		c.integral = c.integralMax
	}
	if c.integral < c.integralMin {
		c.integral = c.integralMin
	}

	derivative := speedErr - c.lastError
	output := c.kp*speedErr + c.ki*c.integral + c.kd*derivative

	// Rate limit before applying to avoid mechanical jerk.
	change := int(output)
	if change > c.maxStep {
		change = c.maxStep
	}
	if change < -c.maxStep {
		change = -c.maxStep
	}

	if c.motor != nil {
		c.motor.SetDrive(c.motor.Drive() + change)
	}
	c.lastError = speedErr
}

// CheckSteady reports whether the speed error is inside the settle band
func (c *ControlPID) CheckSteady(measuredRpm, targetRpm int) bool {
	diff := targetRpm - measuredRpm
	if diff < 0 {
		diff = -diff
	}
	return diff <= c.settleBand
}

// Reset zeroes the integral and error memory
func (c *ControlPID) Reset() {
	c.integral = 0
	c.lastError = 0
}

// Name returns the strategy name
func (c *ControlPID) Name() string {
	return config.StrategyPID
}

// ControlFeedForward implements open-loop band lookup plus a bounded
// closed-loop trim.
type ControlFeedForward struct {
	motor         MotorController
	bands         []config.FeedForwardBand
	baselineCeil  int
	trimGain      float64
	trimAuthority float64
	settleBand    int

	// State
	trim float64
}

// NewControlFeedForward creates a new feed-forward strategy.
func NewControlFeedForward(cfg config.ControlConfig) (*ControlFeedForward, error) {
	if len(cfg.Bands) == 0 {
		return nil, errors.ConfigValidationError("control", "bands", "at least one band required")
	}
	prev := config.FeedForwardBand{MaxTarget: 0, Baseline: -1}
	for _, b := range cfg.Bands {
		if b.MaxTarget <= prev.MaxTarget {
			return nil, errors.ConfigValidationError("control", "bands",
				"targets must be strictly ascending")
		}
		if b.Baseline < prev.Baseline || b.Baseline > 100 {
			return nil, errors.ConfigValidationError("control", "bands",
				"baselines must be nondecreasing within [0,100]")
		}
		prev = b
	}
	if cfg.BaselineCeil < prev.Baseline || cfg.BaselineCeil > 100 {
		return nil, errors.ConfigValidationError("control", "baseline_ceil",
			"must be within [last band baseline, 100]")
	}
	if cfg.TrimGain < 0 {
		return nil, errors.ConfigValidationError("control", "trim_gain", "must not be negative")
	}
	if cfg.TrimAuthority < 0 {
		return nil, errors.ConfigValidationError("control", "trim_authority", "must not be negative")
	}

	return &ControlFeedForward{
		bands:         cfg.Bands,
		baselineCeil:  cfg.BaselineCeil,
		trimGain:      cfg.TrimGain,
		trimAuthority: float64(cfg.TrimAuthority),
		settleBand:    cfg.Deadband,
	}, nil
}

// SetMotor sets the motor reference
func (c *ControlFeedForward) SetMotor(m MotorController) {
	c.motor = m
}

// baseline returns the open-loop duty estimate for targetRpm.
func (c *ControlFeedForward) baseline(targetRpm int) int {
	for _, b := range c.bands {
		if targetRpm <= b.MaxTarget {
			return b.Baseline
		}
	}
	return c.baselineCeil
}

// SpeedUpdate implements feed-forward control with bounded trim
func (c *ControlFeedForward) SpeedUpdate(targetRpm, measuredRpm int, sensorOK bool) {
	if targetRpm <= 0 {
		c.trim = 0
		if c.motor != nil {
			c.motor.SetDrive(0)
		}
		return
	}

	if !sensorOK {
		// Decay rather than wind up while the sensor is out.
		if c.trim > 0 {
			c.trim--
			if c.trim < 0 {
				c.trim = 0
			}
		} else if c.trim < 0 {
			c.trim++
			if c.trim > 0 {
				c.trim = 0
			}
		}
	} else {
		c.trim += c.trimGain * float64(targetRpm-measuredRpm)
		if c.trim > c.trimAuthority {
			c.trim = c.trimAuthority
		}
		if c.trim < -c.trimAuthority {
			c.trim = -c.trimAuthority
		}
	}

	if c.motor != nil {
		c.motor.SetDrive(c.baseline(targetRpm) + int(c.trim))
	}
}

// CheckSteady reports whether the speed error is inside the settle band
func (c *ControlFeedForward) CheckSteady(measuredRpm, targetRpm int) bool {
	diff := targetRpm - measuredRpm
	if diff < 0 {
		diff = -diff
	}
	return diff <= c.settleBand
}

// Reset zeroes the trim
func (c *ControlFeedForward) Reset() {
	c.trim = 0
}

// Name returns the strategy name
func (c *ControlFeedForward) Name() string {
	return config.StrategyFeedForward
}

// ControlHysteretic implements deadband stepping: raise the drive
// when measurably slow, lower it when fast, hold inside the band.
// A zero reading under a nonzero target is a stall or failed sensor
// and holds the drive rather than winding it up; the kickstart floor
// breaks genuine stalls at low duty.
type ControlHysteretic struct {
	motor          MotorController
	deadband       int
	step           int
	kickstartRpm   int
	kickstartFloor int
}

// NewControlHysteretic creates a new hysteretic strategy.
func NewControlHysteretic(cfg config.ControlConfig) (*ControlHysteretic, error) {
	if cfg.Deadband < 0 {
		return nil, errors.ConfigValidationError("control", "deadband", "must not be negative")
	}
	if cfg.Step <= 0 {
		return nil, errors.ConfigValidationError("control", "step", "must be positive")
	}
	if cfg.KickstartFloor < 0 || cfg.KickstartFloor > 100 {
		return nil, errors.ConfigValidationError("control", "kickstart_floor",
			"must be within [0,100]")
	}
	if cfg.KickstartRpm < 0 {
		return nil, errors.ConfigValidationError("control", "kickstart_rpm",
			"must not be negative")
	}

	return &ControlHysteretic{
		deadband:       cfg.Deadband,
		step:           cfg.Step,
		kickstartRpm:   cfg.KickstartRpm,
		kickstartFloor: cfg.KickstartFloor,
	}, nil
}

// SetMotor sets the motor reference
func (c *ControlHysteretic) SetMotor(m MotorController) {
	c.motor = m
}

// SpeedUpdate implements hysteretic band control
func (c *ControlHysteretic) SpeedUpdate(targetRpm, measuredRpm int, sensorOK bool) {
	if c.motor == nil {
		return
	}
	drive := c.motor.Drive()

	switch {
	case targetRpm == 0:
		drive = 0
	case measuredRpm == 0:
		// Stall or failed sensor: hold the last drive.
	default:
		speedErr := targetRpm - measuredRpm
		if speedErr > c.deadband {
			drive += c.step
		} else if speedErr < -c.deadband {
			drive -= c.step
		}
	}

	if targetRpm > 0 && measuredRpm < c.kickstartRpm && drive < c.kickstartFloor {
		drive = c.kickstartFloor
	}

	c.motor.SetDrive(drive)
}

// CheckSteady reports whether the speed error is inside the deadband
func (c *ControlHysteretic) CheckSteady(measuredRpm, targetRpm int) bool {
	diff := targetRpm - measuredRpm
	if diff < 0 {
		diff = -diff
	}
	return diff <= c.deadband
}

// Reset is a no-op; the drive percentage itself is the only state
func (c *ControlHysteretic) Reset() {}

// Name returns the strategy name
func (c *ControlHysteretic) Name() string {
	return config.StrategyHysteretic
}
