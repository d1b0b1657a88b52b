// Client session loop
//
// Copyright (C) 2026  PARMCO Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

// Package session owns the host's main loop: wait for one client,
// then interleave speed estimation, closed-loop control, telemetry
// and command input on a fixed poll cadence until the client goes
// away. Every entry to and exit from the active state passes through
// a full reset, so a new client always finds a stopped motor and a
// lost client always leaves one.
package session

import (
	stderrors "errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"parmco-go-migration/pkg/command"
	"parmco-go-migration/pkg/config"
	"parmco-go-migration/pkg/control"
	"parmco-go-migration/pkg/errors"
	"parmco-go-migration/pkg/log"
	"parmco-go-migration/pkg/metrics"
	"parmco-go-migration/pkg/motor"
	"parmco-go-migration/pkg/pool"
	"parmco-go-migration/pkg/tach"
	"parmco-go-migration/pkg/transport"
)

// readDrainLimit bounds reads per iteration so a flooding client
// cannot starve the control and telemetry timers.
const readDrainLimit = 4

// Clock is the microsecond timebase for estimation windows.
type Clock interface {
	Tick() (uint32, error)
}

// Heartbeater is pinged once per loop iteration.
type Heartbeater interface {
	Heartbeat()
}

// Snapshot is the session state exposed to the monitor surface.
type Snapshot struct {
	Active      bool   `json:"active"`
	Client      string `json:"client,omitempty"`
	Mode        string `json:"mode"`
	TargetRpm   int    `json:"target_rpm"`
	RawRpm      int    `json:"raw_rpm"`
	SmoothedRpm int    `json:"smoothed_rpm"`
	Drive       int    `json:"drive_percent"`
	Master      bool   `json:"master"`
	Direction   string `json:"direction"`
	Strategy    string `json:"strategy"`
	Steady      bool   `json:"steady"`
}

// Session runs the Listening/Active loop for one client at a time.
type Session struct {
	cfg      config.SessionConfig
	listener transport.Listener
	driver   *motor.Driver
	est      *tach.Estimator
	ctrl     *control.Controller
	clock    Clock
	hb       Heartbeater
	parser   *command.Parser
	logger   *log.Logger
	mm       *metrics.MotorMetrics

	stopped atomic.Bool

	mu       sync.Mutex
	mode     control.Mode
	target   int
	client   string
	lastRaw  int
	lastRpm  int
	steady   bool
	epoch    time.Time
}

// New assembles a session loop. hb may be nil when no watchdog runs.
func New(cfg config.SessionConfig, listener transport.Listener,
	driver *motor.Driver, est *tach.Estimator, ctrl *control.Controller,
	clock Clock, hb Heartbeater) *Session {

	s := &Session{
		cfg:      cfg,
		listener: listener,
		driver:   driver,
		est:      est,
		ctrl:     ctrl,
		clock:    clock,
		hb:       hb,
		logger:   log.GetLogger("session"),
		mm:       metrics.GlobalMetrics(),
		epoch:    time.Now(),
	}
	s.parser = command.NewParser(s, cfg.MaxSetpointDigits)
	return s
}

// Stop makes Run return after the current iteration, resetting any
// active session on the way out.
func (s *Session) Stop() {
	s.stopped.Store(true)
}

// now returns monotonic seconds since the session was created.
func (s *Session) now() float64 {
	return time.Since(s.epoch).Seconds()
}

func (s *Session) beat() {
	if s.hb != nil {
		s.hb.Heartbeat()
	}
}

// Run alternates between listening for a client and serving one until
// Stop is called or the listener fails. A panic anywhere in the loop
// comes back as an error so the caller can still force the outputs
// safe.
func (s *Session) Run() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.FromPanic(r)
			s.logger.WithError(err).Error("session loop panicked")
		}
	}()

	s.logger.WithField("addr", s.listener.Addr()).Info("listening for client")

	for !s.stopped.Load() {
		s.beat()

		conn, err := s.listener.Accept()
		if err != nil {
			if stderrors.Is(err, transport.ErrWouldBlock) {
				time.Sleep(s.cfg.AcceptRetry)
				continue
			}
			if stderrors.Is(err, transport.ErrClosed) {
				return nil
			}
			return err
		}

		s.mm.SessionsTotal.Inc(nil)
		s.serveClient(conn)
		if !s.stopped.Load() {
			s.logger.WithField("addr", s.listener.Addr()).Info("listening for client")
		}
	}
	return nil
}

// serveClient runs the active state for one connection. The full
// reset on both edges is the session's core safety property.
func (s *Session) serveClient(conn transport.Conn) {
	s.logger.WithField("client", conn.RemoteAddr()).Info("client connected")
	s.setClient(conn.RemoteAddr())
	s.mm.SessionActive.SetBool(nil, true)
	s.resetAll()

	cause := s.clientLoop(conn)

	conn.Close()
	s.resetAll()
	s.setClient("")
	s.mm.SessionActive.SetBool(nil, false)
	s.mm.RecordDisconnect(cause)
	s.logger.WithField("cause", cause).Info("client disconnected")
}

// clientLoop interleaves control, telemetry and input until the
// client goes away. Returns the disconnect cause.
func (s *Session) clientLoop(conn transport.Conn) string {
	readBuf := make([]byte, 1024)
	nextControl := s.now() + s.cfg.ControlPeriod.Seconds()
	nextTelemetry := s.now() + s.cfg.TelemetryPeriod.Seconds()

	for {
		if s.stopped.Load() {
			return "host_stop"
		}
		s.beat()
		iterDone := s.mm.LoopIteration.Timer(nil)

		if now := s.now(); now >= nextControl {
			nextControl = now + s.cfg.ControlPeriod.Seconds()
			s.controlCycle()
		}

		if now := s.now(); now >= nextTelemetry {
			ok, cause := s.sendTelemetry(conn)
			if !ok {
				iterDone()
				return cause
			}
			// The timer advances on success and on a full client
			// buffer alike; a stalled reader only loses lines.
			nextTelemetry = now + s.cfg.TelemetryPeriod.Seconds()
		}

		for i := 0; i < readDrainLimit; i++ {
			n, err := conn.Read(readBuf)
			if err == nil {
				s.parser.FeedBytes(readBuf[:n])
				continue
			}
			if stderrors.Is(err, transport.ErrWouldBlock) {
				break
			}
			iterDone()
			if err == io.EOF {
				return "client_eof"
			}
			s.logger.WithError(err).Warn("client read failed")
			return "read_error"
		}

		iterDone()
		time.Sleep(s.cfg.PollInterval)
	}
}

// controlCycle closes one estimation window and runs the strategy.
func (s *Session) controlCycle() {
	done := s.mm.ControlCycleTime.Timer(nil)
	defer done()

	tick, err := s.clock.Tick()
	if err != nil {
		s.logger.WithError(err).Warn("clock read failed, skipping cycle")
		s.mm.RecordError("clock")
		return
	}

	s.mu.Lock()
	mode := s.mode
	target := s.target
	s.mu.Unlock()

	autoActive := mode == control.Auto && target > 0
	sample := s.est.Update(tick, s.driver.Drive(), autoActive)

	if sample.Accepted {
		s.mm.SetSpeed(sample.Raw, sample.Smoothed, target)
	} else if sample.Reason != tach.RejectNoWindow {
		s.mm.RecordRejectedSample(sample.Reason)
		s.logger.WithFields(log.Fields{
			"raw":    sample.Raw,
			"reason": sample.Reason,
		}).Debug("sample rejected")
	}

	sensorOK := sample.Reason != tach.RejectDropout
	s.ctrl.Update(mode, target, sample.Smoothed, sensorOK)
	s.mm.ControlCycles.Inc(nil)

	st := s.driver.Snapshot()
	s.mm.SetMotorState(st.Master, int(st.Direction), st.Drive)

	s.mu.Lock()
	if sample.Accepted {
		s.lastRaw = sample.Raw
	}
	s.lastRpm = sample.Smoothed
	s.steady = s.ctrl.Steady(sample.Smoothed, target)
	s.mu.Unlock()
}

// sendTelemetry writes one status line. ok stays true on a full
// client buffer; only a hard write error ends the session.
func (s *Session) sendTelemetry(conn transport.Conn) (ok bool, cause string) {
	buf := pool.GetByteBuffer()
	defer pool.PutByteBuffer(buf)

	s.mu.Lock()
	mode := s.mode
	target := s.target
	rpm := s.lastRpm
	s.mu.Unlock()

	if s.cfg.ExtendedTelemetry {
		buf.WriteString("DATA:")
		buf.WriteInt(rpm)
		buf.WriteByte(',')
		buf.WriteInt(target)
		buf.WriteByte(',')
		buf.WriteInt(int(mode))
		buf.WriteByte('\n')
	} else {
		buf.WriteString("RPM:")
		buf.WriteInt(rpm)
		buf.WriteByte('\n')
	}

	if _, err := conn.Write(buf.Bytes()); err != nil {
		if stderrors.Is(err, transport.ErrWouldBlock) {
			s.mm.TelemetryRetries.Inc(nil)
			return true, ""
		}
		s.logger.WithError(err).Warn("telemetry write failed")
		return false, "write_error"
	}
	s.mm.TelemetryLines.Inc(nil)
	return true, ""
}

// resetAll is the full safety reset on session entry and exit: a
// stop plus a fresh estimation window.
func (s *Session) resetAll() {
	s.stopAll()
	if tick, err := s.clock.Tick(); err == nil {
		s.est.Rearm(tick)
	}
}

// stopAll is the stop command: outputs off and every piece of session
// state zeroed, the speed estimate included. Idempotent.
func (s *Session) stopAll() {
	s.mu.Lock()
	s.mode = control.Manual
	s.target = 0
	s.lastRaw = 0
	s.lastRpm = 0
	s.steady = false
	s.mu.Unlock()

	if err := s.driver.SafeState(); err != nil {
		s.logger.WithError(err).Error("safe state failed")
	}
	s.est.Reset()
	s.ctrl.Reset()
	s.parser.Reset()
	s.mm.SetControlMode(false)
	s.mm.RpmRaw.Set(nil, 0)
	s.mm.RpmSmoothed.Set(nil, 0)
	s.mm.TargetRpm.Set(nil, 0)
}

func (s *Session) setClient(addr string) {
	s.mu.Lock()
	s.client = addr
	s.mu.Unlock()
}

// Mode returns the current control mode.
func (s *Session) Mode() control.Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// Target returns the current target speed.
func (s *Session) Target() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.target
}

// GetSnapshot returns the state seen by the monitor surface.
func (s *Session) GetSnapshot() Snapshot {
	st := s.driver.Snapshot()

	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Active:      s.client != "",
		Client:      s.client,
		Mode:        s.mode.String(),
		TargetRpm:   s.target,
		RawRpm:      s.lastRaw,
		SmoothedRpm: s.lastRpm,
		Drive:       st.Drive,
		Master:      st.Master,
		Direction:   st.Direction.String(),
		Strategy:    s.ctrl.Strategy(),
		Steady:      s.steady,
	}
}
