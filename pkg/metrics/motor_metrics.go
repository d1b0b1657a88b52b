// Motor host metrics definitions
//
// Defines all metrics for the motor host including:
// - Speed estimation metrics (raw/smoothed RPM, rejected samples)
// - Control loop metrics (drive, target, cycle timing)
// - Session metrics (commands, telemetry, disconnects)
// - System metrics
//
// Copyright (C) 2026  PARMCO Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package metrics

import (
	goruntime "runtime"
	"sync"
	"time"
)

// MotorMetrics holds all motor host metrics
type MotorMetrics struct {
	// Speed estimation metrics
	RpmRaw          *Gauge
	RpmSmoothed     *Gauge
	TargetRpm       *Gauge
	PulsesTotal     *Counter
	SamplesTotal    *Counter
	SamplesRejected *Counter

	// Motor output metrics
	DrivePercent  *Gauge
	MasterEnabled *Gauge
	Direction     *Gauge
	ControlMode   *Gauge

	// Control loop metrics
	ControlCycles    *Counter
	ControlCycleTime *Histogram
	LoopIteration    *Histogram

	// Session metrics
	SessionActive    *Gauge
	SessionsTotal    *Counter
	DisconnectsTotal *Counter
	CommandsTotal    *Counter
	SetpointFrames   *Counter
	ParseIgnored     *Counter
	TelemetryLines   *Counter
	TelemetryRetries *Counter

	// Daemon connection metrics
	PigpioConnected *Gauge
	PigpioCommands  *Counter
	PigpioErrors    *Counter

	// Safety metrics
	ShutdownEvents *Counter

	// System metrics
	HostUptime   *Counter
	GoGoroutines *Gauge
	GoMemoryHeap *Gauge
	GoGCCycles   *Counter
	ErrorsTotal  *Counter

	startTime time.Time
	registry  *Registry
}

// NewMotorMetrics creates and registers all motor host metrics
func NewMotorMetrics() *MotorMetrics {
	mm := &MotorMetrics{
		startTime: time.Now(),
		registry:  NewRegistry(),
	}

	// Speed estimation metrics
	mm.RpmRaw = NewGauge("parmco_rpm_raw",
		"Most recent raw RPM sample before filtering")
	mm.RpmSmoothed = NewGauge("parmco_rpm_smoothed",
		"Exponentially smoothed RPM estimate")
	mm.TargetRpm = NewGauge("parmco_target_rpm",
		"Current target speed in RPM")
	mm.PulsesTotal = NewCounter("parmco_sensor_pulses_total",
		"Total qualifying sensor edges counted")
	mm.SamplesTotal = NewCounter("parmco_tach_samples_total",
		"Total RPM samples computed")
	mm.SamplesRejected = NewCounter("parmco_tach_samples_rejected_total",
		"Total RPM samples rejected by reason")

	// Motor output metrics
	mm.DrivePercent = NewGauge("parmco_drive_percent",
		"Current PWM drive percentage (0-100)")
	mm.MasterEnabled = NewGauge("parmco_master_enabled",
		"Master enable state (1=running, 0=stopped)")
	mm.Direction = NewGauge("parmco_direction",
		"Rotation direction (0=coast, 1=cw, 2=ccw)")
	mm.ControlMode = NewGauge("parmco_control_mode",
		"Control mode (0=manual, 1=auto)")

	// Control loop metrics
	mm.ControlCycles = NewCounter("parmco_control_cycles_total",
		"Total closed-loop control cycles executed")
	mm.ControlCycleTime = NewHistogram("parmco_control_cycle_seconds",
		"Time spent in one estimator plus controller pass",
		ExponentialBuckets(0.00005, 4, 8))
	mm.LoopIteration = NewHistogram("parmco_loop_iteration_seconds",
		"Session loop iteration time including poll sleep",
		[]float64{0.001, 0.005, 0.01, 0.02, 0.05, 0.1, 0.5})

	// Session metrics
	mm.SessionActive = NewGauge("parmco_session_active",
		"Whether a client session is active (1) or the host is listening (0)")
	mm.SessionsTotal = NewCounter("parmco_sessions_total",
		"Total client sessions accepted")
	mm.DisconnectsTotal = NewCounter("parmco_disconnects_total",
		"Total session terminations by cause")
	mm.CommandsTotal = NewCounter("parmco_commands_total",
		"Total single-character commands dispatched")
	mm.SetpointFrames = NewCounter("parmco_setpoint_frames_total",
		"Total r:<digits> setpoint frames applied")
	mm.ParseIgnored = NewCounter("parmco_parse_ignored_total",
		"Total input bytes ignored by the parser")
	mm.TelemetryLines = NewCounter("parmco_telemetry_lines_total",
		"Total telemetry lines written to the client")
	mm.TelemetryRetries = NewCounter("parmco_telemetry_retries_total",
		"Total telemetry writes deferred on a full client buffer")

	// Daemon connection metrics
	mm.PigpioConnected = NewGauge("parmco_pigpio_connected",
		"pigpiod connection state (1=connected, 0=disconnected)")
	mm.PigpioCommands = NewCounter("parmco_pigpio_commands_total",
		"Total commands sent to pigpiod")
	mm.PigpioErrors = NewCounter("parmco_pigpio_errors_total",
		"Total pigpiod command failures")

	// Safety metrics
	mm.ShutdownEvents = NewCounter("parmco_safety_shutdowns_total",
		"Total safety shutdown events by reason")

	// System metrics
	mm.HostUptime = NewCounter("parmco_host_uptime_seconds_total",
		"Total host uptime in seconds")
	mm.GoGoroutines = NewGauge("parmco_go_goroutines",
		"Number of active goroutines")
	mm.GoMemoryHeap = NewGauge("parmco_go_memory_heap_bytes",
		"Go heap memory in use")
	mm.GoGCCycles = NewCounter("parmco_go_gc_cycles_total",
		"Total Go garbage collection cycles")
	mm.ErrorsTotal = NewCounter("parmco_errors_total",
		"Total errors by type")

	mm.registerAll()

	return mm
}

// registerAll registers all metrics with the internal registry
func (mm *MotorMetrics) registerAll() {
	all := []Metric{
		mm.RpmRaw, mm.RpmSmoothed, mm.TargetRpm,
		mm.PulsesTotal, mm.SamplesTotal, mm.SamplesRejected,
		mm.DrivePercent, mm.MasterEnabled, mm.Direction, mm.ControlMode,
		mm.ControlCycles, mm.ControlCycleTime, mm.LoopIteration,
		mm.SessionActive, mm.SessionsTotal, mm.DisconnectsTotal,
		mm.CommandsTotal, mm.SetpointFrames, mm.ParseIgnored,
		mm.TelemetryLines, mm.TelemetryRetries,
		mm.PigpioConnected, mm.PigpioCommands, mm.PigpioErrors,
		mm.ShutdownEvents,
		mm.HostUptime, mm.GoGoroutines, mm.GoMemoryHeap, mm.GoGCCycles,
		mm.ErrorsTotal,
	}
	for _, m := range all {
		mm.registry.MustRegister(m)
	}
}

// UpdateSystemMetrics updates Go runtime metrics
func (mm *MotorMetrics) UpdateSystemMetrics() {
	var m goruntime.MemStats
	goruntime.ReadMemStats(&m)

	mm.GoGoroutines.Set(nil, float64(goruntime.NumGoroutine()))
	mm.GoMemoryHeap.Set(nil, float64(m.HeapAlloc))
	mm.GoGCCycles.Add(nil, uint64(m.NumGC)-mm.GoGCCycles.Get(nil))
	mm.HostUptime.Add(nil, uint64(time.Since(mm.startTime).Seconds())-mm.HostUptime.Get(nil))
}

// SetSpeed updates the RPM gauges after an estimator pass
func (mm *MotorMetrics) SetSpeed(raw, smoothed, target int) {
	mm.RpmRaw.Set(nil, float64(raw))
	mm.RpmSmoothed.Set(nil, float64(smoothed))
	mm.TargetRpm.Set(nil, float64(target))
	mm.SamplesTotal.Inc(nil)
}

// RecordRejectedSample records an RPM sample discarded by the filter
func (mm *MotorMetrics) RecordRejectedSample(reason string) {
	mm.SamplesRejected.Inc(Labels{"reason": reason})
}

// SetMotorState updates the output gauges after a drive write
func (mm *MotorMetrics) SetMotorState(master bool, direction int, drive int) {
	mm.MasterEnabled.SetBool(nil, master)
	mm.Direction.Set(nil, float64(direction))
	mm.DrivePercent.Set(nil, float64(drive))
}

// SetControlMode updates the mode gauge (false=manual, true=auto)
func (mm *MotorMetrics) SetControlMode(auto bool) {
	mm.ControlMode.SetBool(nil, auto)
}

// RecordCommand records a dispatched single-character command
func (mm *MotorMetrics) RecordCommand(flag string) {
	mm.CommandsTotal.Inc(Labels{"command": flag})
}

// RecordDisconnect records a session termination
func (mm *MotorMetrics) RecordDisconnect(cause string) {
	mm.DisconnectsTotal.Inc(Labels{"cause": cause})
}

// RecordShutdown records a safety shutdown event
func (mm *MotorMetrics) RecordShutdown(reason string) {
	mm.ShutdownEvents.Inc(Labels{"reason": reason})
}

// RecordError records an error
func (mm *MotorMetrics) RecordError(errorType string) {
	mm.ErrorsTotal.Inc(Labels{"type": errorType})
}

// Gather returns all metrics in Prometheus text format
func (mm *MotorMetrics) Gather() string {
	mm.UpdateSystemMetrics()
	return mm.registry.Gather()
}

// Registry returns the internal registry
func (mm *MotorMetrics) Registry() *Registry {
	return mm.registry
}

// Global metrics instance
var globalMetrics *MotorMetrics
var globalMetricsOnce sync.Once

// GlobalMetrics returns the global motor metrics instance
func GlobalMetrics() *MotorMetrics {
	globalMetricsOnce.Do(func() {
		globalMetrics = NewMotorMetrics()
	})
	return globalMetrics
}
