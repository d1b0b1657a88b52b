// Session loop tests
//
// Copyright (C) 2026  PARMCO Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package session

import (
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"parmco-go-migration/pkg/config"
	"parmco-go-migration/pkg/control"
	"parmco-go-migration/pkg/motor"
	"parmco-go-migration/pkg/tach"
	"parmco-go-migration/pkg/transport"
)

// fakeOutputs accepts every write; the tests assert on the driver's
// tracked state instead.
type fakeOutputs struct{}

func (fakeOutputs) WriteMaster(bool) error          { return nil }
func (fakeOutputs) WriteDirection(bool, bool) error { return nil }
func (fakeOutputs) WriteDrive(int) error            { return nil }

// fakeClock is a settable microsecond timebase.
type fakeClock struct {
	mu   sync.Mutex
	us   uint32
	fail bool
}

func (c *fakeClock) Tick() (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return 0, errors.New("tick source gone")
	}
	return c.us, nil
}

func (c *fakeClock) advance(us uint32) {
	c.mu.Lock()
	c.us += us
	c.mu.Unlock()
}

func (c *fakeClock) setFail(fail bool) {
	c.mu.Lock()
	c.fail = fail
	c.mu.Unlock()
}

// scriptConn plays back a fixed script of read results. A nil chunk
// reads as would-block; once the script drains, reads report EOF when
// eof is set and would-block otherwise.
type scriptConn struct {
	mu       sync.Mutex
	script   [][]byte
	eof      bool
	writeErr error
	written  []string
	closed   bool
}

func (c *scriptConn) Read(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.script) > 0 {
		chunk := c.script[0]
		c.script = c.script[1:]
		if chunk == nil {
			return 0, transport.ErrWouldBlock
		}
		return copy(p, chunk), nil
	}
	if c.eof {
		return 0, io.EOF
	}
	return 0, transport.ErrWouldBlock
}

func (c *scriptConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return 0, c.writeErr
	}
	c.written = append(c.written, string(p))
	return len(p), nil
}

func (c *scriptConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *scriptConn) RemoteAddr() string { return "AA:BB:CC:DD:EE:FF" }

func (c *scriptConn) lines() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.written))
	copy(out, c.written)
	return out
}

func (c *scriptConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// queueListener hands out queued connections, then reports closed so
// Run returns once the script is over.
type queueListener struct {
	mu    sync.Mutex
	conns []transport.Conn
}

func (l *queueListener) Accept() (transport.Conn, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.conns) == 0 {
		return nil, transport.ErrClosed
	}
	c := l.conns[0]
	l.conns = l.conns[1:]
	return c, nil
}

func (l *queueListener) Close() error { return nil }
func (l *queueListener) Addr() string { return "test:0" }

type countBeat struct{ n atomic.Int32 }

func (b *countBeat) Heartbeat() { b.n.Add(1) }

type harness struct {
	s       *Session
	driver  *motor.Driver
	counter *tach.Counter
	clk     *fakeClock
}

func newHarness(t *testing.T, mutate func(*config.Config)) *harness {
	t.Helper()

	cfg := config.Default()
	cfg.Sensor.PulsesPerRev = 1
	cfg.Sensor.Edge = config.EdgeRising
	cfg.Session.ControlPeriod = 4 * time.Millisecond
	cfg.Session.TelemetryPeriod = 2 * time.Millisecond
	cfg.Session.PollInterval = time.Millisecond
	cfg.Session.AcceptRetry = time.Millisecond
	if mutate != nil {
		mutate(&cfg)
	}

	driver := motor.NewDriver(fakeOutputs{})
	counter := tach.NewCounter(cfg.Sensor.Edge)
	est := tach.NewEstimator(counter, cfg.Sensor.PulsesPerRev, cfg.Estimator)
	ctrl, err := control.NewController(cfg.Control, driver)
	if err != nil {
		t.Fatalf("NewController() error = %v", err)
	}
	clk := &fakeClock{}
	s := New(cfg.Session, &queueListener{}, driver, est, ctrl, clk, nil)
	s.resetAll()
	return &harness{s: s, driver: driver, counter: counter, clk: clk}
}

// cycle feeds pulses into the counter, advances the clock and runs
// one control cycle.
func (h *harness) cycle(elapsedUs uint32, pulses int) {
	for i := 0; i < pulses; i++ {
		h.counter.OnEdge(tach.LevelHigh, 0)
	}
	h.clk.advance(elapsedUs)
	h.s.controlCycle()
}

func (h *harness) feed(s string) {
	h.s.parser.FeedBytes([]byte(s))
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestCommandStateMachine(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		mode   control.Mode
		target int
		master bool
		dir    motor.Direction
		drive  int
	}{
		{"start arms master", "s", control.Manual, 0, true, motor.Coast, 0},
		{"clockwise", "c", control.Manual, 0, false, motor.Clockwise, 0},
		{"counterclockwise", "v", control.Manual, 0, false, motor.CounterClockwise, 0},
		{"manual drive up", "sff", control.Manual, 0, true, motor.Coast, 20},
		{"manual drive floors at zero", "sfdd", control.Manual, 0, true, motor.Coast, 0},
		{"auto defaults target", "a", control.Auto, 500, true, motor.Clockwise, 0},
		{"auto keeps chosen direction", "va", control.Auto, 500, true, motor.CounterClockwise, 0},
		{"drive nudges ignored in auto", "aff", control.Auto, 500, true, motor.Clockwise, 0},
		{"target up", "a+", control.Auto, 600, true, motor.Clockwise, 0},
		{"target down floors at zero", "a--------", control.Auto, 0, true, motor.Clockwise, 0},
		{"target nudges ignored in manual", "+-", control.Manual, 0, false, motor.Coast, 0},
		{"manual keeps target and drive", "sfam", control.Manual, 500, true, motor.Clockwise, 10},
		{"stop resets everything", "sfcax", control.Manual, 0, false, motor.Coast, 0},
		{"unknown bytes dropped", "sq!", control.Manual, 0, true, motor.Coast, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			h.feed(tt.input)

			if got := h.s.Mode(); got != tt.mode {
				t.Errorf("Mode() = %v, want %v", got, tt.mode)
			}
			if got := h.s.Target(); got != tt.target {
				t.Errorf("Target() = %v, want %v", got, tt.target)
			}
			st := h.driver.Snapshot()
			if st.Master != tt.master {
				t.Errorf("Master = %v, want %v", st.Master, tt.master)
			}
			if st.Direction != tt.dir {
				t.Errorf("Direction = %v, want %v", st.Direction, tt.dir)
			}
			if st.Drive != tt.drive {
				t.Errorf("Drive = %v, want %v", st.Drive, tt.drive)
			}
		})
	}
}

func TestStopIsIdempotent(t *testing.T) {
	h := newHarness(t, nil)
	h.feed("a")
	h.cycle(1e6, 10)

	h.feed("x")
	first := h.s.GetSnapshot()
	h.feed("x")
	second := h.s.GetSnapshot()

	if first != second {
		t.Errorf("second stop changed state: %+v vs %+v", second, first)
	}
	if first.Master || first.Drive != 0 || first.TargetRpm != 0 {
		t.Errorf("stop left motor state: %+v", first)
	}
	if first.Mode != "manual" {
		t.Errorf("Mode after stop = %q, want %q", first.Mode, "manual")
	}
	if first.SmoothedRpm != 0 || first.RawRpm != 0 {
		t.Errorf("stop kept speed estimate: %+v", first)
	}
}

func TestSetpointFrames(t *testing.T) {
	t.Run("frame engages auto from manual", func(t *testing.T) {
		h := newHarness(t, nil)
		h.feed("r:1000\n")

		if got := h.s.Target(); got != 1000 {
			t.Errorf("Target() = %v, want 1000", got)
		}
		if got := h.s.Mode(); got != control.Auto {
			t.Errorf("Mode() = %v, want auto", got)
		}
		st := h.driver.Snapshot()
		if !st.Master || st.Direction != motor.Clockwise {
			t.Errorf("motor state = %+v, want master on clockwise", st)
		}
	})

	t.Run("zero target taken verbatim", func(t *testing.T) {
		h := newHarness(t, nil)
		h.feed("a")
		h.feed("r:0\n")

		if got := h.s.Target(); got != 0 {
			t.Errorf("Target() = %v, want 0", got)
		}
		if got := h.s.Mode(); got != control.Auto {
			t.Errorf("Mode() = %v, want auto", got)
		}
	})

	t.Run("switch disabled leaves manual mode", func(t *testing.T) {
		h := newHarness(t, func(cfg *config.Config) {
			cfg.Session.AutoSwitchOnSetpoint = false
		})
		h.feed("r:800\n")

		if got := h.s.Target(); got != 800 {
			t.Errorf("Target() = %v, want 800", got)
		}
		if got := h.s.Mode(); got != control.Manual {
			t.Errorf("Mode() = %v, want manual", got)
		}
		if st := h.driver.Snapshot(); st.Master {
			t.Error("setpoint armed master with switching disabled")
		}
	})
}

// A setpoint frame must leave the strategy accumulators alone even
// when it re-engages auto mode; only the bare auto command starts
// from fresh accumulators. With a derivative-only strategy the
// difference is one drive step.
func TestSetpointKeepsAccumulators(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) {
		cfg.Control.PID_Kp = 1e-9
		cfg.Control.PID_Ki = 0
		cfg.Control.PID_Kd = 0.01
		cfg.Control.MaxStep = 100
	})

	h.feed("a")
	h.cycle(1e6, 0)
	if got := h.driver.Drive(); got != 5 {
		t.Fatalf("drive after first cycle = %v, want 5", got)
	}

	h.feed("m")
	h.s.Setpoint(500)
	if got := h.s.Mode(); got != control.Auto {
		t.Fatalf("Mode() after setpoint = %v, want auto", got)
	}
	h.cycle(1e6, 0)
	if got := h.driver.Drive(); got != 5 {
		t.Errorf("drive after setpoint cycle = %v, want 5 (error memory kept)", got)
	}

	h.feed("a")
	h.cycle(1e6, 0)
	if got := h.driver.Drive(); got != 10 {
		t.Errorf("drive after auto command cycle = %v, want 10 (accumulators reset)", got)
	}
}

func TestAutoRampHoldsDriveBounds(t *testing.T) {
	h := newHarness(t, nil)
	h.feed("a")
	h.feed("r:1000\n")

	// With no pulses the error stays at full target, so each cycle
	// adds exactly the per-cycle step until the drive saturates.
	for i := 1; i <= 25; i++ {
		h.cycle(1e6, 0)
		want := 5 * i
		if want > 100 {
			want = 100
		}
		if got := h.driver.Drive(); got != want {
			t.Fatalf("drive after cycle %d = %v, want %v", i, got, want)
		}
	}
	for i := 0; i < 3; i++ {
		h.cycle(1e6, 0)
		if got := h.driver.Drive(); got != 100 {
			t.Errorf("drive left [0,100]: %v", got)
		}
	}
}

func TestOverspeedBacksOff(t *testing.T) {
	h := newHarness(t, nil)
	h.feed("a")
	h.driver.SetDrive(40)

	h.cycle(1e6, 100)
	if got := h.driver.Drive(); got != 35 {
		t.Errorf("drive after first overspeed cycle = %v, want 35", got)
	}
	h.cycle(1e6, 100)
	if got := h.driver.Drive(); got != 30 {
		t.Errorf("drive after second overspeed cycle = %v, want 30", got)
	}
}

func TestControlGating(t *testing.T) {
	t.Run("manual mode leaves drive alone", func(t *testing.T) {
		h := newHarness(t, nil)
		h.feed("s")
		h.driver.SetDrive(30)

		h.cycle(1e6, 10)
		h.cycle(1e6, 10)
		if got := h.driver.Drive(); got != 30 {
			t.Errorf("drive = %v, want 30", got)
		}
	})

	t.Run("master off stops the strategy", func(t *testing.T) {
		h := newHarness(t, nil)
		h.feed("a")
		h.driver.SetMaster(false)

		h.cycle(1e6, 0)
		h.cycle(1e6, 0)
		if got := h.driver.Drive(); got != 0 {
			t.Errorf("drive = %v, want 0", got)
		}
	})
}

func TestDropoutHoldsEstimate(t *testing.T) {
	h := newHarness(t, nil)
	h.feed("a")

	h.cycle(1e6, 10)
	snap := h.s.GetSnapshot()
	if snap.RawRpm != 600 || snap.SmoothedRpm != 300 {
		t.Fatalf("primed estimate = raw %v smoothed %v, want 600/300",
			snap.RawRpm, snap.SmoothedRpm)
	}

	// A zero window while commanding the motor is a dropout: the
	// estimate holds instead of collapsing to zero.
	h.cycle(1e6, 0)
	snap = h.s.GetSnapshot()
	if snap.SmoothedRpm != 300 {
		t.Errorf("SmoothedRpm after dropout = %v, want 300", snap.SmoothedRpm)
	}
	if snap.RawRpm != 600 {
		t.Errorf("RawRpm after dropout = %v, want 600", snap.RawRpm)
	}
}

func TestTelemetryFormats(t *testing.T) {
	t.Run("plain line", func(t *testing.T) {
		h := newHarness(t, nil)
		conn := &scriptConn{}

		ok, cause := h.s.sendTelemetry(conn)
		if !ok || cause != "" {
			t.Fatalf("sendTelemetry() = %v, %q, want true, \"\"", ok, cause)
		}
		if got := conn.lines(); len(got) != 1 || got[0] != "RPM:0\n" {
			t.Errorf("telemetry = %q, want [\"RPM:0\\n\"]", got)
		}

		h.feed("a")
		h.cycle(1e6, 10)
		h.s.sendTelemetry(conn)
		if got := conn.lines(); got[len(got)-1] != "RPM:300\n" {
			t.Errorf("telemetry = %q, want \"RPM:300\\n\"", got[len(got)-1])
		}
	})

	t.Run("extended line", func(t *testing.T) {
		h := newHarness(t, func(cfg *config.Config) {
			cfg.Session.ExtendedTelemetry = true
		})
		conn := &scriptConn{}

		h.s.sendTelemetry(conn)
		if got := conn.lines(); got[0] != "DATA:0,0,0\n" {
			t.Errorf("telemetry = %q, want \"DATA:0,0,0\\n\"", got[0])
		}

		h.feed("a")
		h.cycle(1e6, 10)
		h.s.sendTelemetry(conn)
		if got := conn.lines(); got[len(got)-1] != "DATA:300,500,1\n" {
			t.Errorf("telemetry = %q, want \"DATA:300,500,1\\n\"", got[len(got)-1])
		}
	})

	t.Run("full buffer is not fatal", func(t *testing.T) {
		h := newHarness(t, nil)
		conn := &scriptConn{writeErr: transport.ErrWouldBlock}

		ok, cause := h.s.sendTelemetry(conn)
		if !ok || cause != "" {
			t.Errorf("sendTelemetry() = %v, %q, want true, \"\"", ok, cause)
		}
	})

	t.Run("hard write error ends the session", func(t *testing.T) {
		h := newHarness(t, nil)
		conn := &scriptConn{writeErr: errors.New("wire cut")}

		ok, cause := h.s.sendTelemetry(conn)
		if ok || cause != "write_error" {
			t.Errorf("sendTelemetry() = %v, %q, want false, \"write_error\"", ok, cause)
		}
	})
}

func TestClockFailureSkipsCycle(t *testing.T) {
	h := newHarness(t, nil)
	h.feed("a")

	h.clk.setFail(true)
	h.s.controlCycle()
	h.s.controlCycle()
	if got := h.driver.Drive(); got != 0 {
		t.Errorf("drive after failed cycles = %v, want 0", got)
	}

	h.clk.setFail(false)
	h.cycle(1e6, 0)
	if got := h.driver.Drive(); got != 2 {
		t.Errorf("drive after recovery = %v, want 2", got)
	}
}

func TestSessionLifecycle(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) {
		cfg.Session.ExtendedTelemetry = true
	})

	script := [][]byte{[]byte("r:750\n")}
	for i := 0; i < 12; i++ {
		script = append(script, nil)
	}
	conn := &scriptConn{script: script, eof: true}
	beats := &countBeat{}
	h.s.listener = &queueListener{conns: []transport.Conn{conn}}
	h.s.hb = beats

	done := make(chan error, 1)
	go func() { done <- h.s.Run() }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return")
	}

	if !conn.isClosed() {
		t.Error("connection left open after client EOF")
	}
	lines := conn.lines()
	if len(lines) == 0 {
		t.Fatal("no telemetry written during session")
	}
	if got := lines[len(lines)-1]; got != "DATA:0,750,1\n" {
		t.Errorf("last telemetry = %q, want \"DATA:0,750,1\\n\"", got)
	}
	if beats.n.Load() == 0 {
		t.Error("no heartbeats during session")
	}

	// The exit reset clears everything the setpoint frame set up.
	snap := h.s.GetSnapshot()
	if snap.Active || snap.Master || snap.TargetRpm != 0 || snap.Drive != 0 {
		t.Errorf("state after session = %+v, want full reset", snap)
	}
	if snap.Mode != "manual" {
		t.Errorf("Mode after session = %q, want %q", snap.Mode, "manual")
	}
}

func TestHostStopEndsSession(t *testing.T) {
	h := newHarness(t, nil)
	conn := &scriptConn{}
	h.s.listener = &queueListener{conns: []transport.Conn{conn}}

	done := make(chan error, 1)
	go func() { done <- h.s.Run() }()

	waitFor(t, func() bool { return len(conn.lines()) > 0 }, "first telemetry line")
	h.s.Stop()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after Stop")
	}

	if !conn.isClosed() {
		t.Error("connection left open after host stop")
	}
	if st := h.driver.Snapshot(); st.Master || st.Drive != 0 {
		t.Errorf("motor state after stop = %+v, want off", st)
	}
	for _, line := range conn.lines() {
		if !strings.HasPrefix(line, "RPM:") {
			t.Errorf("telemetry line %q, want RPM: prefix", line)
		}
	}
}

func TestWriteErrorDisconnects(t *testing.T) {
	h := newHarness(t, nil)
	conn := &scriptConn{writeErr: errors.New("wire cut")}
	h.s.listener = &queueListener{conns: []transport.Conn{conn}}

	done := make(chan error, 1)
	go func() { done <- h.s.Run() }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return")
	}

	if !conn.isClosed() {
		t.Error("connection left open after write error")
	}
	if st := h.driver.Snapshot(); st.Master {
		t.Error("master still on after disconnect")
	}
}

type panicClock struct{}

func (panicClock) Tick() (uint32, error) { panic("tick source corrupted") }

func TestPanicInLoopReturnsError(t *testing.T) {
	h := newHarness(t, nil)
	h.s.clock = panicClock{}
	h.s.listener = &queueListener{conns: []transport.Conn{&scriptConn{}}}

	done := make(chan error, 1)
	go func() { done <- h.s.Run() }()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("Run() error = nil, want the converted panic")
		}
		if !strings.Contains(err.Error(), "tick source corrupted") {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after a panic in the loop")
	}
}

func TestGetSnapshot(t *testing.T) {
	h := newHarness(t, nil)
	h.feed("a")
	h.cycle(1e6, 10)

	snap := h.s.GetSnapshot()
	if snap.Mode != "auto" {
		t.Errorf("Mode = %q, want %q", snap.Mode, "auto")
	}
	if snap.TargetRpm != 500 {
		t.Errorf("TargetRpm = %v, want 500", snap.TargetRpm)
	}
	if snap.RawRpm != 600 || snap.SmoothedRpm != 300 {
		t.Errorf("speeds = %v/%v, want 600/300", snap.RawRpm, snap.SmoothedRpm)
	}
	if !snap.Master || snap.Direction != "clockwise" {
		t.Errorf("motor = master %v dir %q, want on clockwise", snap.Master, snap.Direction)
	}
	if snap.Strategy != "pid" {
		t.Errorf("Strategy = %q, want %q", snap.Strategy, "pid")
	}
}
