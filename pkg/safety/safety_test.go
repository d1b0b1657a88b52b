// Safety manager tests
//
// Copyright (C) 2026  PARMCO Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package safety

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type mockDisabler struct {
	disabled atomic.Int32
	fail     bool
}

func (d *mockDisabler) SafeState() error {
	d.disabled.Add(1)
	if d.fail {
		return errors.New("write failed")
	}
	return nil
}

func TestFreshManagerIsRunning(t *testing.T) {
	m := New()
	if got := m.GetState(); got != StateRunning {
		t.Errorf("initial state = %s, want running", got)
	}
	if m.IsShutdown() || !m.IsOperational() {
		t.Errorf("fresh manager: IsShutdown=%v IsOperational=%v", m.IsShutdown(), m.IsOperational())
	}
	if reason, msg, when := m.GetShutdownInfo(); reason != ReasonNone || msg != "" || !when.IsZero() {
		t.Errorf("fresh manager carries shutdown info: %s %q %v", reason, msg, when)
	}
}

func TestStateNames(t *testing.T) {
	want := map[ShutdownState]string{
		StateRunning:      "running",
		StateShuttingDown: "shutting_down",
		StateShutdown:     "shutdown",
		StateError:        "error",
		ShutdownState(99): "unknown",
	}
	for state, name := range want {
		if got := state.String(); got != name {
			t.Errorf("ShutdownState(%d).String() = %q, want %q", state, got, name)
		}
	}
}

func TestShutdownDisablesEverything(t *testing.T) {
	m := New()
	motor := &mockDisabler{}
	failing := &mockDisabler{fail: true}
	last := &mockDisabler{}

	m.Register("motor", motor)
	m.Register("failing", failing)
	m.Register("last", last)

	if err := m.DaemonLost("command socket dropped"); err != nil {
		t.Fatalf("DaemonLost() error = %v", err)
	}

	if m.GetState() != StateError {
		t.Errorf("state = %s, want error", m.GetState())
	}
	if motor.disabled.Load() != 1 {
		t.Error("motor disabler was not invoked")
	}
	if last.disabled.Load() != 1 {
		t.Error("disabler after a failing one was skipped")
	}

	reason, msg, when := m.GetShutdownInfo()
	if reason != ReasonDaemonLost {
		t.Errorf("reason = %s, want daemon_lost", reason)
	}
	if msg != "command socket dropped" {
		t.Errorf("msg = %q", msg)
	}
	if when.IsZero() {
		t.Error("shutdown time not set")
	}
}

func TestFinalStateByReason(t *testing.T) {
	tests := []struct {
		name    string
		trigger func(m *Manager) error
		want    ShutdownState
	}{
		{"Signal is clean", func(m *Manager) error { return m.SignalShutdown("SIGTERM") }, StateShutdown},
		{"User request is clean", func(m *Manager) error { return m.RequestShutdown("operator") }, StateShutdown},
		{"Daemon loss is a fault", func(m *Manager) error { return m.DaemonLost("gone") }, StateError},
		{"Watchdog is a fault", func(m *Manager) error { return m.WatchdogTimeout() }, StateError},
		{"Fatal error is a fault", func(m *Manager) error { return m.FatalError("session", "boom") }, StateError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New()
			if err := tt.trigger(m); err != nil {
				t.Fatalf("trigger error = %v", err)
			}
			if got := m.GetState(); got != tt.want {
				t.Errorf("state = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestCheckOperational(t *testing.T) {
	m := New()

	if err := m.CheckOperational(); err != nil {
		t.Errorf("CheckOperational() on running host error = %v", err)
	}

	m.FatalError("test", "broken")

	err := m.CheckOperational()
	if err == nil {
		t.Fatal("CheckOperational() after shutdown error = nil")
	}
	if !errors.Is(err, ErrShutdown) {
		t.Errorf("error %v does not wrap ErrShutdown", err)
	}
}

func TestCallbacksFireOnStop(t *testing.T) {
	m := New()

	type shutdownEvent struct {
		reason ShutdownReason
		msg    string
	}
	type transition struct {
		from, to ShutdownState
	}
	var stops []shutdownEvent
	var moves []transition

	m.OnShutdown(func(reason ShutdownReason, msg string) {
		stops = append(stops, shutdownEvent{reason, msg})
	})
	m.OnStateChange(func(old, new ShutdownState) {
		moves = append(moves, transition{old, new})
	})

	m.DaemonLost("callback test")

	if len(stops) != 1 {
		t.Fatalf("shutdown callback fired %d times, want 1", len(stops))
	}
	if stops[0].reason != ReasonDaemonLost || stops[0].msg != "callback test" {
		t.Errorf("shutdown callback got %+v", stops[0])
	}
	if len(moves) != 1 {
		t.Fatalf("state change callback fired %d times, want 1", len(moves))
	}
	if moves[0].from != StateRunning || moves[0].to != StateError {
		t.Errorf("transition %s -> %s, want running -> error", moves[0].from, moves[0].to)
	}

	// A second trigger settles without firing anything again
	m.SignalShutdown("SIGTERM")
	if len(stops) != 1 || len(moves) != 1 {
		t.Error("callbacks fired again on an already stopped host")
	}
}

func TestFirstReasonWins(t *testing.T) {
	m := New()
	motor := &mockDisabler{}
	m.Register("motor", motor)

	m.DaemonLost("first")
	if err := m.SignalShutdown("SIGTERM"); err != nil {
		t.Errorf("second shutdown error = %v", err)
	}

	reason, msg, _ := m.GetShutdownInfo()
	if reason != ReasonDaemonLost {
		t.Errorf("reason = %s, want daemon_lost", reason)
	}
	if msg != "first" {
		t.Errorf("msg = %q, want first", msg)
	}
	if motor.disabled.Load() != 1 {
		t.Errorf("disabler invoked %d times, want 1", motor.disabled.Load())
	}
}

func TestWatchdogHeartbeat(t *testing.T) {
	m := New()
	m.Configure(Config{WatchdogTimeout: 200 * time.Millisecond})

	m.StartWatchdog()
	defer m.StopWatchdog()

	for i := 0; i < 5; i++ {
		m.Heartbeat()
		time.Sleep(60 * time.Millisecond)
	}

	if !m.IsOperational() {
		t.Error("host stopped despite regular heartbeats")
	}
}

func TestWatchdogTrigger(t *testing.T) {
	m := New()
	m.Configure(Config{WatchdogTimeout: 80 * time.Millisecond})
	motor := &mockDisabler{}
	m.Register("motor", motor)

	m.StartWatchdog()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && m.IsOperational() {
		time.Sleep(10 * time.Millisecond)
	}

	if m.GetState() != StateError {
		t.Fatalf("state = %s, want error after heartbeat lapse", m.GetState())
	}
	reason, _, _ := m.GetShutdownInfo()
	if reason != ReasonWatchdogTimeout {
		t.Errorf("reason = %s, want watchdog_timeout", reason)
	}
	if motor.disabled.Load() != 1 {
		t.Error("disabler not invoked on watchdog trip")
	}
}

func TestReset(t *testing.T) {
	m := New()

	if err := m.Reset(); err == nil {
		t.Error("Reset() while running error = nil")
	}

	m.RequestShutdown("restart test")
	if err := m.Reset(); err != nil {
		t.Fatalf("Reset() after shutdown error = %v", err)
	}

	if !m.IsOperational() {
		t.Error("host not operational after reset")
	}
	reason, msg, when := m.GetShutdownInfo()
	if reason != ReasonNone || msg != "" || !when.IsZero() {
		t.Error("shutdown info not cleared by reset")
	}
}

func TestGetStatus(t *testing.T) {
	m := New()

	st := m.GetStatus()
	if st.State != "running" || !st.IsOperational {
		t.Errorf("running status = %+v", st)
	}

	m.DaemonLost("status test")

	st = m.GetStatus()
	if st.State != "error" {
		t.Errorf("State = %s, want error", st.State)
	}
	if st.ShutdownReason != "daemon_lost" {
		t.Errorf("ShutdownReason = %s, want daemon_lost", st.ShutdownReason)
	}
	if st.IsOperational {
		t.Error("IsOperational = true after fault stop")
	}
}
