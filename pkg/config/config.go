// Configuration for the PARMCO Go migration
//
// There is no configuration file. Tunables live in typed structs with
// compiled-in defaults; deployment-level fields (addresses, strategy,
// log level) are overridden by command line flags in cmd/parmco-server.
//
// Copyright (C) 2026  PARMCO Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package config

import (
	"strings"
	"time"

	"parmco-go-migration/pkg/errors"
)

// EdgeMode selects which sensor transitions count as a pulse.
// The IR wheel sensors used across rig revisions disagree on wiring:
// some need a plain rising edge, some only count reliably when the
// level reads high at callback time.
type EdgeMode int

const (
	// EdgeRising counts every rising edge callback.
	EdgeRising EdgeMode = iota

	// EdgeRisingWhileHigh counts rising edges only when the reported
	// level is still high.
	EdgeRisingWhileHigh
)

func (e EdgeMode) String() string {
	switch e {
	case EdgeRising:
		return "rising"
	case EdgeRisingWhileHigh:
		return "rising-while-high"
	default:
		return "unknown"
	}
}

// ParseEdgeMode parses an edge mode name.
func ParseEdgeMode(s string) (EdgeMode, error) {
	switch strings.ToLower(s) {
	case "rising":
		return EdgeRising, nil
	case "rising-while-high", "rising_while_high":
		return EdgeRisingWhileHigh, nil
	default:
		return EdgeRising, errors.ConfigValidationError("sensor", "edge",
			"must be 'rising' or 'rising-while-high'")
	}
}

// Pull selects the pull resistor applied to the sensor input.
type Pull int

const (
	PullNone Pull = iota
	PullDown
	PullUp
)

func (p Pull) String() string {
	switch p {
	case PullNone:
		return "none"
	case PullDown:
		return "down"
	case PullUp:
		return "up"
	default:
		return "unknown"
	}
}

// Strategy names accepted by the control factory.
const (
	StrategyPID         = "pid"
	StrategyFeedForward = "feedforward"
	StrategyHysteretic  = "hysteretic"
)

// Listener kinds accepted by the transport factory.
const (
	TransportRFCOMM = "rfcomm"
	TransportTCP    = "tcp"
)

// PigpioConfig holds the daemon connection settings.
type PigpioConfig struct {
	// Addr is the pigpiod command socket address (host:port).
	Addr string

	// ConnectTimeout bounds the startup connection attempt.
	ConnectTimeout time.Duration
}

// DefaultPigpioConfig returns the daemon defaults.
func DefaultPigpioConfig() PigpioConfig {
	return PigpioConfig{
		Addr:           "127.0.0.1:8888",
		ConnectTimeout: 10 * time.Second,
	}
}

// Validate checks the pigpio settings.
func (c PigpioConfig) Validate() error {
	if c.Addr == "" {
		return errors.ConfigOptionError("pigpio", "addr")
	}
	return nil
}

// MotorConfig holds the H-bridge output pin assignments.
type MotorConfig struct {
	// MasterPin gates the power stage (active high).
	MasterPin int

	// DirAPin and DirBPin form the H-bridge direction truth table:
	// 00 coast, 01 one direction, 10 the other.
	DirAPin int
	DirBPin int

	// SpeedPin carries the PWM drive signal.
	SpeedPin int

	// PWMFrequency is the fixed drive frequency in Hz.
	PWMFrequency int
}

// DefaultMotorConfig returns the rig's wiring.
func DefaultMotorConfig() MotorConfig {
	return MotorConfig{
		MasterPin:    17,
		DirAPin:      27,
		DirBPin:      22,
		SpeedPin:     18,
		PWMFrequency: 1000,
	}
}

// Validate checks pin assignments for obvious wiring mistakes.
func (c MotorConfig) Validate() error {
	pins := map[string]int{
		"master_pin": c.MasterPin,
		"dir_a_pin":  c.DirAPin,
		"dir_b_pin":  c.DirBPin,
		"speed_pin":  c.SpeedPin,
	}
	seen := make(map[int]string, len(pins))
	for name, pin := range pins {
		if pin < 0 || pin > 53 {
			return errors.HardwarePinError("motor", pin, "outside BCM range 0-53")
		}
		if prev, dup := seen[pin]; dup {
			return errors.ConfigValidationError("motor", name,
				"pin already assigned to "+prev)
		}
		seen[pin] = name
	}
	if c.PWMFrequency <= 0 {
		return errors.ConfigValidationError("motor", "pwm_frequency", "must be positive")
	}
	return nil
}

// SensorConfig holds the rotation sensor input settings.
type SensorConfig struct {
	// Pin is the sensor input GPIO.
	Pin int

	// Pull selects the pull resistor.
	Pull Pull

	// GlitchFilterUs ignores transitions shorter than this many
	// microseconds.
	GlitchFilterUs int

	// PulsesPerRev is sensor specific: observed rigs used 1, 3 and 20
	// depending on the encoder wheel. There is no universal value.
	PulsesPerRev int

	// Edge selects the qualifying transition.
	Edge EdgeMode
}

// DefaultSensorConfig returns the final rig's sensor wiring.
func DefaultSensorConfig() SensorConfig {
	return SensorConfig{
		Pin:            23,
		Pull:           PullUp,
		GlitchFilterUs: 100,
		PulsesPerRev:   3,
		Edge:           EdgeRisingWhileHigh,
	}
}

// Validate checks the sensor settings.
func (c SensorConfig) Validate() error {
	if c.Pin < 0 || c.Pin > 53 {
		return errors.HardwarePinError("sensor", c.Pin, "outside BCM range 0-53")
	}
	if c.PulsesPerRev <= 0 {
		return errors.ConfigValidationError("sensor", "pulses_per_rev", "must be positive")
	}
	if c.GlitchFilterUs < 0 {
		return errors.ConfigValidationError("sensor", "glitch_filter_us", "must not be negative")
	}
	return nil
}

// EstimatorConfig holds the RPM estimation and filtering settings.
type EstimatorConfig struct {
	// SmoothingAlpha weights the previous smoothed value:
	// smoothed = alpha*smoothed + (1-alpha)*raw. Must be in (0,1).
	SmoothingAlpha float64

	// MaxPhysicalRpm rejects samples no real motor on this rig can
	// produce.
	MaxPhysicalRpm int

	// SpikeMultiple rejects a sample exceeding this multiple of the
	// current smoothed value.
	SpikeMultiple float64

	// NontrivialRpm is the smoothed floor below which spike rejection
	// does not apply (a cold estimator accepts anything plausible).
	NontrivialRpm int

	// DropoutDriveThreshold: a zero raw sample is rejected as a sensor
	// dropout while drive is above this percentage.
	DropoutDriveThreshold int
}

// DefaultEstimatorConfig returns the tuned filter settings.
func DefaultEstimatorConfig() EstimatorConfig {
	return EstimatorConfig{
		SmoothingAlpha:        0.5,
		MaxPhysicalRpm:        12000,
		SpikeMultiple:         3.0,
		NontrivialRpm:         100,
		DropoutDriveThreshold: 10,
	}
}

// Validate checks the estimator settings.
func (c EstimatorConfig) Validate() error {
	if c.SmoothingAlpha <= 0 || c.SmoothingAlpha >= 1 {
		return errors.ConfigValidationError("estimator", "smoothing_alpha",
			"must be in (0,1)")
	}
	if c.MaxPhysicalRpm <= 0 {
		return errors.ConfigValidationError("estimator", "max_physical_rpm", "must be positive")
	}
	if c.SpikeMultiple <= 1 {
		return errors.ConfigValidationError("estimator", "spike_multiple", "must exceed 1")
	}
	if c.DropoutDriveThreshold < 0 || c.DropoutDriveThreshold > 100 {
		return errors.ConfigValidationError("estimator", "dropout_drive_threshold",
			"must be in [0,100]")
	}
	return nil
}

// FeedForwardBand maps targets up to MaxTarget to a baseline duty.
type FeedForwardBand struct {
	MaxTarget int
	Baseline  int
}

// ControlConfig holds the control strategy selection and tuning.
type ControlConfig struct {
	// Strategy selects the active algorithm: pid, feedforward or
	// hysteretic.
	Strategy string

	// PID tuning.
	PID_Kp      float64
	PID_Ki      float64
	PID_Kd      float64
	IntegralMin float64
	IntegralMax float64
	// MaxStep bounds the drive change applied in one cycle.
	MaxStep int

	// Feed-forward tuning. Bands must be sorted ascending by MaxTarget;
	// targets beyond the last band use BaselineCeil.
	Bands         []FeedForwardBand
	BaselineCeil  int
	TrimGain      float64
	TrimAuthority int

	// Hysteretic tuning.
	Deadband       int
	Step           int
	KickstartRpm   int
	KickstartFloor int
}

// DefaultControlConfig returns the tuned strategy settings.
func DefaultControlConfig() ControlConfig {
	return ControlConfig{
		Strategy:    StrategyPID,
		PID_Kp:      0.01,
		PID_Ki:      0.005,
		PID_Kd:      0.0,
		IntegralMin: -50,
		IntegralMax: 50,
		MaxStep:     5,

		Bands: []FeedForwardBand{
			{MaxTarget: 300, Baseline: 20},
			{MaxTarget: 600, Baseline: 35},
			{MaxTarget: 900, Baseline: 50},
			{MaxTarget: 1200, Baseline: 65},
			{MaxTarget: 1500, Baseline: 75},
			{MaxTarget: 2000, Baseline: 85},
		},
		BaselineCeil:  95,
		TrimGain:      0.02,
		TrimAuthority: 20,

		Deadband:       25,
		Step:           1,
		KickstartRpm:   30,
		KickstartFloor: 20,
	}
}

// Validate checks the control settings for the selected strategy.
func (c ControlConfig) Validate() error {
	switch c.Strategy {
	case StrategyPID:
		if c.PID_Kp == 0 && c.PID_Ki == 0 && c.PID_Kd == 0 {
			return errors.ConfigValidationError("control", "pid gains",
				"at least one gain must be non-zero")
		}
		if c.IntegralMin >= c.IntegralMax {
			return errors.ConfigValidationError("control", "integral bounds",
				"integral_min must be below integral_max")
		}
		if c.MaxStep <= 0 {
			return errors.ConfigValidationError("control", "max_step", "must be positive")
		}
	case StrategyFeedForward:
		if len(c.Bands) == 0 {
			return errors.ConfigValidationError("control", "bands", "table must not be empty")
		}
		prevTarget, prevBase := 0, -1
		for _, b := range c.Bands {
			if b.MaxTarget <= prevTarget && prevTarget != 0 {
				return errors.ConfigValidationError("control", "bands",
					"targets must be strictly ascending")
			}
			if b.Baseline < prevBase {
				return errors.ConfigValidationError("control", "bands",
					"baselines must be monotonic")
			}
			if b.Baseline < 0 || b.Baseline > 100 {
				return errors.ConfigValidationError("control", "bands",
					"baseline outside [0,100]")
			}
			prevTarget, prevBase = b.MaxTarget, b.Baseline
		}
		if c.TrimAuthority <= 0 || c.TrimAuthority > 100 {
			return errors.ConfigValidationError("control", "trim_authority",
				"must be in (0,100]")
		}
	case StrategyHysteretic:
		if c.Deadband < 0 {
			return errors.ConfigValidationError("control", "deadband", "must not be negative")
		}
		if c.Step <= 0 {
			return errors.ConfigValidationError("control", "step", "must be positive")
		}
	default:
		return errors.ConfigValidationError("control", "strategy",
			"must be pid, feedforward or hysteretic")
	}
	return nil
}

// SessionConfig holds the session loop cadence and command semantics.
type SessionConfig struct {
	// ControlPeriod is the estimator+controller cadence.
	ControlPeriod time.Duration

	// TelemetryPeriod is the status line cadence.
	TelemetryPeriod time.Duration

	// PollInterval bounds CPU usage of the cooperative loop.
	PollInterval time.Duration

	// AcceptRetry is the sleep between accept attempts while listening.
	AcceptRetry time.Duration

	// TargetStep is the +/- command increment.
	TargetStep int

	// DriveStep is the f/d manual drive increment.
	DriveStep int

	// DefaultAutoTarget is applied when entering Auto mode with no
	// target set.
	DefaultAutoTarget int

	// AutoSwitchOnSetpoint switches to Auto mode when a setpoint frame
	// arrives (rig revisions disagreed; the final one switched).
	AutoSwitchOnSetpoint bool

	// ExtendedTelemetry selects DATA:<rpm>,<target>,<mode> lines over
	// plain RPM:<rpm>.
	ExtendedTelemetry bool

	// MaxSetpointDigits bounds the r:<digits> accumulator; excess
	// digits are dropped silently.
	MaxSetpointDigits int
}

// DefaultSessionConfig returns the loop cadence used on the rig.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		ControlPeriod:        time.Second,
		TelemetryPeriod:      500 * time.Millisecond,
		PollInterval:         10 * time.Millisecond,
		AcceptRetry:          100 * time.Millisecond,
		TargetStep:           100,
		DriveStep:            10,
		DefaultAutoTarget:    500,
		AutoSwitchOnSetpoint: true,
		ExtendedTelemetry:    false,
		MaxSetpointDigits:    15,
	}
}

// Validate checks the session settings.
func (c SessionConfig) Validate() error {
	if c.ControlPeriod <= 0 {
		return errors.ConfigValidationError("session", "control_period", "must be positive")
	}
	if c.TelemetryPeriod <= 0 {
		return errors.ConfigValidationError("session", "telemetry_period", "must be positive")
	}
	if c.PollInterval <= 0 {
		return errors.ConfigValidationError("session", "poll_interval", "must be positive")
	}
	if c.MaxSetpointDigits <= 0 {
		return errors.ConfigValidationError("session", "max_setpoint_digits", "must be positive")
	}
	if c.DriveStep <= 0 || c.TargetStep <= 0 {
		return errors.ConfigValidationError("session", "steps", "must be positive")
	}
	return nil
}

// TransportConfig holds the client-facing listener settings.
type TransportConfig struct {
	// Kind selects the listener: rfcomm or tcp.
	Kind string

	// Channel is the RFCOMM channel to bind.
	Channel uint8

	// TCPAddr is the bind address for the tcp listener.
	TCPAddr string
}

// DefaultTransportConfig returns the RFCOMM defaults.
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		Kind:    TransportRFCOMM,
		Channel: 22,
		TCPAddr: "0.0.0.0:8422",
	}
}

// Validate checks the transport settings.
func (c TransportConfig) Validate() error {
	switch c.Kind {
	case TransportRFCOMM:
		if c.Channel < 1 || c.Channel > 30 {
			return errors.ConfigValidationError("transport", "channel",
				"RFCOMM channel must be in [1,30]")
		}
	case TransportTCP:
		if c.TCPAddr == "" {
			return errors.ConfigOptionError("transport", "tcp_addr")
		}
	default:
		return errors.ConfigValidationError("transport", "kind",
			"must be rfcomm or tcp")
	}
	return nil
}

// MonitorConfig holds the read-only status server settings.
type MonitorConfig struct {
	Enabled bool
	Addr    string

	// Period is the websocket broadcast cadence.
	Period time.Duration
}

// DefaultMonitorConfig returns the monitor defaults (disabled).
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		Enabled: false,
		Addr:    ":7130",
		Period:  500 * time.Millisecond,
	}
}

// MetricsConfig holds the Prometheus endpoint settings.
type MetricsConfig struct {
	Enabled bool
	Addr    string
}

// DefaultMetricsConfig returns the metrics defaults (disabled).
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled: false,
		Addr:    ":9102",
	}
}

// Config aggregates every subsystem's settings.
type Config struct {
	Pigpio    PigpioConfig
	Motor     MotorConfig
	Sensor    SensorConfig
	Estimator EstimatorConfig
	Control   ControlConfig
	Session   SessionConfig
	Transport TransportConfig
	Monitor   MonitorConfig
	Metrics   MetricsConfig
}

// Default returns the complete compiled-in configuration.
func Default() Config {
	return Config{
		Pigpio:    DefaultPigpioConfig(),
		Motor:     DefaultMotorConfig(),
		Sensor:    DefaultSensorConfig(),
		Estimator: DefaultEstimatorConfig(),
		Control:   DefaultControlConfig(),
		Session:   DefaultSessionConfig(),
		Transport: DefaultTransportConfig(),
		Monitor:   DefaultMonitorConfig(),
		Metrics:   DefaultMetricsConfig(),
	}
}

// Validate checks every subsystem section.
func (c Config) Validate() error {
	if err := c.Pigpio.Validate(); err != nil {
		return err
	}
	if err := c.Motor.Validate(); err != nil {
		return err
	}
	if err := c.Sensor.Validate(); err != nil {
		return err
	}
	if err := c.Estimator.Validate(); err != nil {
		return err
	}
	if err := c.Control.Validate(); err != nil {
		return err
	}
	if err := c.Session.Validate(); err != nil {
		return err
	}
	if err := c.Transport.Validate(); err != nil {
		return err
	}
	// Sensor and motor pins must not collide
	motorPins := []int{c.Motor.MasterPin, c.Motor.DirAPin, c.Motor.DirBPin, c.Motor.SpeedPin}
	for _, p := range motorPins {
		if p == c.Sensor.Pin {
			return errors.HardwarePinError("config", p,
				"assigned to both motor output and sensor input")
		}
	}
	return nil
}
