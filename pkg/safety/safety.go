// Shutdown state management for the motor host
//
// Copyright (C) 2026  PARMCO Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

// Package safety owns the host's shutdown state machine. Anything
// that can leave the motor energised registers a disabler; every
// shutdown path funnels through the manager so the power stage is
// forced off exactly once, with the first reason winning.
package safety

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"parmco-go-migration/pkg/log"
	"parmco-go-migration/pkg/metrics"
)

// ShutdownState represents the host's lifecycle state.
type ShutdownState int

const (
	// StateRunning indicates normal operation.
	StateRunning ShutdownState = iota

	// StateShuttingDown indicates shutdown is in progress.
	StateShuttingDown

	// StateShutdown indicates a clean stop.
	StateShutdown

	// StateError indicates a fault-triggered stop.
	StateError
)

var stateNames = map[ShutdownState]string{
	StateRunning:      "running",
	StateShuttingDown: "shutting_down",
	StateShutdown:     "shutdown",
	StateError:        "error",
}

func (s ShutdownState) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// ShutdownReason describes why the host stopped.
type ShutdownReason string

const (
	ReasonNone            ShutdownReason = ""
	ReasonSignal          ShutdownReason = "signal"
	ReasonUserRequest     ShutdownReason = "user_request"
	ReasonDaemonLost      ShutdownReason = "daemon_lost"
	ReasonWatchdogTimeout ShutdownReason = "watchdog_timeout"
	ReasonFatalError      ShutdownReason = "fatal_error"
)

// finalState maps a reason to the terminal state it lands in. Losing
// the daemon, a lapsed heartbeat or a fatal error are faults; the
// rest are clean stops.
func finalState(reason ShutdownReason) ShutdownState {
	switch reason {
	case ReasonDaemonLost, ReasonWatchdogTimeout, ReasonFatalError:
		return StateError
	}
	return StateShutdown
}

// ErrShutdown is wrapped by CheckOperational once the host stopped.
var ErrShutdown = errors.New("safety: host is shut down")

// Disabler forces one output-owning component into its safe state.
type Disabler interface {
	SafeState() error
}

type namedDisabler struct {
	name string
	d    Disabler
}

const (
	defaultWatchdogTimeout = 5 * time.Second
	watchdogPoll           = 50 * time.Millisecond
)

// Manager runs the shutdown state machine and the loop heartbeat
// watchdog.
type Manager struct {
	mu      sync.RWMutex
	state   ShutdownState
	reason  ShutdownReason
	detail  string
	stopped time.Time

	disablers     []namedDisabler
	onShutdown    []func(reason ShutdownReason, msg string)
	onStateChange []func(oldState, newState ShutdownState)

	wd struct {
		sync.Mutex
		stop    chan struct{}
		timeout time.Duration
		beat    time.Time
	}

	logger *log.Logger
}

// New creates a safety manager in the running state.
func New() *Manager {
	m := &Manager{
		state:  StateRunning,
		logger: log.GetLogger("safety"),
	}
	m.wd.timeout = defaultWatchdogTimeout
	return m
}

// Config holds the manager's tunables.
type Config struct {
	WatchdogTimeout time.Duration
}

// Configure applies configuration to the manager.
func (m *Manager) Configure(cfg Config) {
	m.wd.Lock()
	defer m.wd.Unlock()
	if cfg.WatchdogTimeout > 0 {
		m.wd.timeout = cfg.WatchdogTimeout
	}
}

// Register adds a disabler invoked on every shutdown, in registration
// order.
func (m *Manager) Register(name string, d Disabler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disablers = append(m.disablers, namedDisabler{name, d})
}

// OnShutdown registers a callback invoked after the outputs are safe.
func (m *Manager) OnShutdown(fn func(reason ShutdownReason, msg string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onShutdown = append(m.onShutdown, fn)
}

// OnStateChange registers a callback invoked on the transition into
// the terminal state.
func (m *Manager) OnStateChange(fn func(oldState, newState ShutdownState)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onStateChange = append(m.onStateChange, fn)
}

// GetState returns the current shutdown state.
func (m *Manager) GetState() ShutdownState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// GetShutdownInfo reports why, with what message, and when the host
// stopped.
func (m *Manager) GetShutdownInfo() (ShutdownReason, string, time.Time) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reason, m.detail, m.stopped
}

// IsShutdown returns true once the host has stopped.
func (m *Manager) IsShutdown() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state == StateShutdown || m.state == StateError
}

// IsOperational returns true while the host runs normally.
func (m *Manager) IsOperational() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state == StateRunning
}

// CheckOperational returns an error wrapping ErrShutdown if the host
// is no longer running.
func (m *Manager) CheckOperational() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state != StateRunning {
		return fmt.Errorf("%w: %s (%s)", ErrShutdown, m.reason, m.detail)
	}
	return nil
}

// SignalShutdown triggers a clean stop on a termination signal.
func (m *Manager) SignalShutdown(sig string) error {
	return m.shutdown(ReasonSignal, "received "+sig)
}

// RequestShutdown triggers a clean stop by operator request.
func (m *Manager) RequestShutdown(msg string) error {
	return m.shutdown(ReasonUserRequest, msg)
}

// DaemonLost triggers a fault stop after losing the GPIO daemon.
func (m *Manager) DaemonLost(msg string) error {
	return m.shutdown(ReasonDaemonLost, msg)
}

// WatchdogTimeout triggers a fault stop after the loop heartbeat
// lapsed.
func (m *Manager) WatchdogTimeout() error {
	return m.shutdown(ReasonWatchdogTimeout, "session loop heartbeat timeout")
}

// FatalError triggers a fault stop for an unrecoverable error.
func (m *Manager) FatalError(component, msg string) error {
	return m.shutdown(ReasonFatalError, component+": "+msg)
}

// shutdown drives the stop sequence: claim the state machine, force
// every output safe, then settle into the terminal state and notify.
// A second caller finds the machine already claimed and returns
// immediately.
func (m *Manager) shutdown(reason ShutdownReason, msg string) error {
	prev, first := m.begin(reason, msg)
	if !first {
		return nil
	}

	m.logger.WithFields(log.Fields{
		"reason": string(reason),
		"msg":    msg,
	}).Warn("shutting down")
	metrics.GlobalMetrics().RecordShutdown(string(reason))

	m.StopWatchdog()
	m.disableAll()
	m.settle(prev, finalState(reason), reason, msg)
	return nil
}

// begin claims the state machine. It reports the previous state and
// whether this caller won the claim.
func (m *Manager) begin(reason ShutdownReason, msg string) (ShutdownState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateRunning {
		return m.state, false
	}
	prev := m.state
	m.state = StateShuttingDown
	m.reason = reason
	m.detail = msg
	m.stopped = time.Now()
	return prev, true
}

// disableAll forces every registered disabler to its safe state. A
// failing disabler is logged and the rest still run.
func (m *Manager) disableAll() {
	m.mu.RLock()
	disablers := make([]namedDisabler, len(m.disablers))
	copy(disablers, m.disablers)
	m.mu.RUnlock()

	for _, nd := range disablers {
		if err := nd.d.SafeState(); err != nil {
			m.logger.WithError(err).WithField("component", nd.name).
				Error("safe state failed")
		}
	}
}

// settle records the terminal state and fires the callbacks outside
// the lock.
func (m *Manager) settle(prev, final ShutdownState, reason ShutdownReason, msg string) {
	m.mu.Lock()
	m.state = final
	stateFns := append(([]func(ShutdownState, ShutdownState))(nil), m.onStateChange...)
	downFns := append(([]func(ShutdownReason, string))(nil), m.onShutdown...)
	m.mu.Unlock()

	for _, fn := range stateFns {
		fn(prev, final)
	}
	for _, fn := range downFns {
		fn(reason, msg)
	}
}

// StartWatchdog arms the heartbeat watchdog. Arming twice is a no-op.
func (m *Manager) StartWatchdog() {
	m.wd.Lock()
	defer m.wd.Unlock()

	if m.wd.stop != nil {
		return
	}
	m.wd.stop = make(chan struct{})
	m.wd.beat = time.Now()
	go m.watch(m.wd.stop)
}

// StopWatchdog disarms the heartbeat watchdog.
func (m *Manager) StopWatchdog() {
	m.wd.Lock()
	defer m.wd.Unlock()

	if m.wd.stop != nil {
		close(m.wd.stop)
		m.wd.stop = nil
	}
}

// Heartbeat marks the loop alive. Called every session loop
// iteration.
func (m *Manager) Heartbeat() {
	m.wd.Lock()
	defer m.wd.Unlock()
	m.wd.beat = time.Now()
}

func (m *Manager) heartbeatLapsed() bool {
	m.wd.Lock()
	defer m.wd.Unlock()
	return time.Since(m.wd.beat) > m.wd.timeout
}

// watch polls the heartbeat and trips a fault stop once it lapses.
func (m *Manager) watch(stop chan struct{}) {
	tick := time.NewTicker(watchdogPoll)
	defer tick.Stop()

	for {
		select {
		case <-stop:
			return
		case <-tick.C:
			if m.heartbeatLapsed() {
				m.WatchdogTimeout()
				return
			}
		}
	}
}

// Reset arms the manager again after a stop, for a host restart
// without process exit.
func (m *Manager) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateRunning || m.state == StateShuttingDown {
		return errors.New("safety: cannot reset while running or shutting down")
	}

	m.state = StateRunning
	m.reason = ReasonNone
	m.detail = ""
	m.stopped = time.Time{}
	return nil
}

// Status is the exportable state snapshot.
type Status struct {
	State          string
	ShutdownReason string
	ShutdownMsg    string
	ShutdownTime   time.Time
	IsOperational  bool
}

// GetStatus returns the current status.
func (m *Manager) GetStatus() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return Status{
		State:          m.state.String(),
		ShutdownReason: string(m.reason),
		ShutdownMsg:    m.detail,
		ShutdownTime:   m.stopped,
		IsOperational:  m.state == StateRunning,
	}
}
