// Hardware rig assembly
//
// Copyright (C) 2026  PARMCO Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

// Package hardware binds the pigpiod connection to the motor domain:
// it claims pin modes, forces every output off, exposes the H-bridge
// as the motor driver's output port and routes sensor notifications
// into the pulse counter.
package hardware

import (
	"parmco-go-migration/pkg/config"
	"parmco-go-migration/pkg/errors"
	"parmco-go-migration/pkg/log"
	"parmco-go-migration/pkg/metrics"
	"parmco-go-migration/pkg/pigpio"
	"parmco-go-migration/pkg/tach"
)

// Rig is the assembled hardware surface for one motor stand.
type Rig struct {
	client    *pigpio.Client
	notifier  *pigpio.Notifier
	motorCfg  config.MotorConfig
	sensorCfg config.SensorConfig
	counter   *tach.Counter
	outputs   *Outputs
	logger    *log.Logger
	mm        *metrics.MotorMetrics
}

// New claims the rig's pins on an established daemon connection. All
// outputs are driven to their off state before New returns, so a
// host restart never inherits a spinning motor. The counter is shared
// with the speed estimator; edges start flowing as soon as the sensor
// watch is registered.
func New(client *pigpio.Client, notifier *pigpio.Notifier,
	motorCfg config.MotorConfig, sensorCfg config.SensorConfig,
	counter *tach.Counter) (*Rig, error) {

	mm := metrics.GlobalMetrics()
	r := &Rig{
		client:    client,
		notifier:  notifier,
		motorCfg:  motorCfg,
		sensorCfg: sensorCfg,
		counter:   counter,
		outputs:   &Outputs{client: client, cfg: motorCfg, mm: mm},
		logger:    log.GetLogger("hardware"),
		mm:        mm,
	}

	for _, pin := range []int{motorCfg.MasterPin, motorCfg.DirAPin,
		motorCfg.DirBPin, motorCfg.SpeedPin} {
		if err := client.SetMode(uint32(pin), pigpio.ModeOutput); err != nil {
			return nil, errors.HardwareIOError("set output mode", pin, err)
		}
	}

	// Same off sequence the driver's safe state uses: duty, then the
	// bridge legs, then the master gate.
	if err := r.outputs.WriteDrive(0); err != nil {
		return nil, err
	}
	if err := r.outputs.WriteDirection(false, false); err != nil {
		return nil, err
	}
	if err := r.outputs.WriteMaster(false); err != nil {
		return nil, err
	}

	if err := client.SetMode(uint32(sensorCfg.Pin), pigpio.ModeInput); err != nil {
		return nil, errors.HardwareIOError("set input mode", sensorCfg.Pin, err)
	}
	if err := client.SetPull(uint32(sensorCfg.Pin), pullBits(sensorCfg.Pull)); err != nil {
		return nil, errors.HardwareIOError("set pull", sensorCfg.Pin, err)
	}
	if sensorCfg.GlitchFilterUs > 0 {
		if err := client.SetGlitchFilter(uint32(sensorCfg.Pin),
			uint32(sensorCfg.GlitchFilterUs)); err != nil {
			return nil, errors.HardwareIOError("set glitch filter", sensorCfg.Pin, err)
		}
	}

	if sensorCfg.Edge == config.EdgeRisingWhileHigh {
		pin := uint32(sensorCfg.Pin)
		counter.SetLevelProbe(func() (int, bool) {
			lv, err := client.ReadPin(pin)
			return lv, err == nil
		})
	}

	if err := notifier.Watch(sensorCfg.Pin, func(gpio, lvl int, tick uint32) {
		if counter.OnEdge(lvl, tick) {
			mm.PulsesTotal.Inc(nil)
		}
	}); err != nil {
		return nil, errors.HardwareIOError("watch sensor", sensorCfg.Pin, err)
	}

	mm.PigpioConnected.SetBool(nil, true)

	fields := log.Fields{
		"addr":   client.Addr(),
		"sensor": sensorCfg.Pin,
		"edge":   sensorCfg.Edge.String(),
	}
	if ver, err := client.Version(); err == nil {
		fields["pigpio_version"] = ver
	}
	if rev, err := client.HardwareRevision(); err == nil {
		fields["hw_revision"] = rev
	}
	r.logger.WithFields(fields).Info("rig initialised")

	return r, nil
}

func pullBits(p config.Pull) uint32 {
	switch p {
	case config.PullDown:
		return pigpio.PudDown
	case config.PullUp:
		return pigpio.PudUp
	default:
		return pigpio.PudOff
	}
}

// Outputs returns the H-bridge output port for the motor driver.
func (r *Rig) Outputs() *Outputs {
	return r.outputs
}

// Tick returns the daemon's microsecond clock, the timebase of the
// speed estimation windows.
func (r *Rig) Tick() (uint32, error) {
	r.mm.PigpioCommands.Inc(nil)
	tick, err := r.client.CurrentTick()
	if err != nil {
		r.mm.PigpioErrors.Inc(nil)
		return 0, errors.HardwareIOError("read tick", -1, err)
	}
	return tick, nil
}

// SensorLevel returns the last sensor line level seen on the
// notification stream. known is false before the first snapshot.
func (r *Rig) SensorLevel() (lvl int, known bool) {
	return r.notifier.LastLevel(r.sensorCfg.Pin)
}

// Status returns a snapshot for the monitor surface.
func (r *Rig) Status() map[string]interface{} {
	lvl, known := r.SensorLevel()
	if !known {
		lvl = -1
	}
	return map[string]interface{}{
		"pigpio_addr":    r.client.Addr(),
		"sensor_pin":     r.sensorCfg.Pin,
		"sensor_level":   lvl,
		"pending_pulses": r.counter.Peek(),
		"master_pin":     r.motorCfg.MasterPin,
		"dir_a_pin":      r.motorCfg.DirAPin,
		"dir_b_pin":      r.motorCfg.DirBPin,
		"speed_pin":      r.motorCfg.SpeedPin,
	}
}

// Close stops sensor edge delivery. The daemon connections themselves
// belong to the caller.
func (r *Rig) Close() error {
	r.mm.PigpioConnected.SetBool(nil, false)
	if err := r.notifier.Unwatch(r.sensorCfg.Pin); err != nil {
		return errors.HardwareIOError("unwatch sensor", r.sensorCfg.Pin, err)
	}
	return nil
}
