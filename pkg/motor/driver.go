// H-bridge motor driver state
//
// Copyright (C) 2026  PARMCO Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package motor

import (
	"sync"

	"parmco-go-migration/pkg/log"
)

// Direction of rotation, encoded by the two H-bridge direction lines.
type Direction int

const (
	Coast            Direction = iota // both lines inactive
	Clockwise                         // A low, B high
	CounterClockwise                  // A high, B low
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case Clockwise:
		return "clockwise"
	case CounterClockwise:
		return "counterclockwise"
	default:
		return "coast"
	}
}

// Pins returns the direction line levels for d.
func (d Direction) Pins() (a, b bool) {
	switch d {
	case Clockwise:
		return false, true
	case CounterClockwise:
		return true, false
	default:
		return false, false
	}
}

// Outputs is the hardware surface the driver writes through: a master
// enable line, the two direction lines and a PWM drive output taking
// 0-100 percent duty.
type Outputs interface {
	WriteMaster(on bool) error
	WriteDirection(a, b bool) error
	WriteDrive(percent int) error
}

// State is a point-in-time copy of the commanded motor state.
type State struct {
	Master    bool
	Direction Direction
	Drive     int
}

// Driver tracks the commanded motor state and keeps it consistent
// with the hardware lines. Direction lines are always written as a
// pair and the drive percentage is clamped to [0,100] before it
// reaches the PWM output.
type Driver struct {
	mu     sync.Mutex
	out    Outputs
	logger *log.Logger

	master    bool
	direction Direction
	drive     int
}

// NewDriver creates a driver over the given output surface.
func NewDriver(out Outputs) *Driver {
	return &Driver{
		out:    out,
		logger: log.GetLogger("motor"),
	}
}

// SetMaster switches the master enable line.
func (d *Driver) SetMaster(on bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.out.WriteMaster(on); err != nil {
		return err
	}
	d.master = on
	return nil
}

// Running reports whether the master enable line is active.
func (d *Driver) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.master
}

// SetDirection writes both direction lines for dir.
func (d *Driver) SetDirection(dir Direction) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	a, b := dir.Pins()
	if err := d.out.WriteDirection(a, b); err != nil {
		return err
	}
	d.direction = dir
	return nil
}

// Direction returns the commanded direction.
func (d *Driver) Direction() Direction {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.direction
}

// EnsureDirection sets the default direction if both lines are
// inactive, so enabling closed-loop control never drives a coasting
// bridge.
func (d *Driver) EnsureDirection(def Direction) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.direction != Coast {
		return nil
	}
	a, b := def.Pins()
	if err := d.out.WriteDirection(a, b); err != nil {
		return err
	}
	d.direction = def
	return nil
}

// SetDrive clamps percent to [0,100] and writes it to the PWM output.
func (d *Driver) SetDrive(percent int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.setDriveLocked(percent)
}

// AdjustDrive changes the drive percentage by delta, clamped to
// [0,100].
func (d *Driver) AdjustDrive(delta int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.setDriveLocked(d.drive + delta)
}

func (d *Driver) setDriveLocked(percent int) error {
	if percent > 100 {
		percent = 100
	}
	if percent < 0 {
		percent = 0
	}
	if err := d.out.WriteDrive(percent); err != nil {
		return err
	}
	d.drive = percent
	return nil
}

// Drive returns the commanded drive percentage.
func (d *Driver) Drive() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.drive
}

// SafeState forces the motor to a stopped state: drive zero, both
// direction lines inactive, master off, written in that order. The
// tracked state is zeroed even if a hardware write fails, so a retry
// or exit path never believes the motor is still commanded on. The
// first write error is returned.
func (d *Driver) SafeState() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var firstErr error
	if err := d.out.WriteDrive(0); err != nil {
		firstErr = err
	}
	if err := d.out.WriteDirection(false, false); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := d.out.WriteMaster(false); err != nil && firstErr == nil {
		firstErr = err
	}

	d.drive = 0
	d.direction = Coast
	d.master = false

	if firstErr != nil {
		d.logger.WithError(firstErr).Error("safe state write failed")
	}
	return firstErr
}

// Snapshot returns a copy of the commanded state.
func (d *Driver) Snapshot() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return State{Master: d.master, Direction: d.direction, Drive: d.drive}
}
