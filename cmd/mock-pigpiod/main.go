// Simulated pigpio daemon for bench testing without a Raspberry Pi
//
// Copyright (C) 2026  PARMCO Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

// mock-pigpiod is a simulated pigpio daemon for testing the host
// without real hardware. It implements the socket command subset the
// host uses:
// - GPIO mode, pull, read, write and bank queries
// - hardware PWM with the dutycycle extension
// - soft PWM dutycycle, range and frequency
// - glitch filter and watchdog configuration
// - notification streams (NOIB/NB/NP/NC) with 12-byte reports
// - tick, hardware revision and library version
//
// Behind the pin state sits a first-order motor model: shaft RPM
// follows the PWM dutycycle with a configurable time constant while
// the master gate is high and exactly one H-bridge line is driven,
// and the tachometer pin pulses at RPM x pulses/rev. Pulses reach
// notification streams as ordinary level reports, so the host's
// sensor path runs unmodified. Pin assignments follow the host
// defaults (master 17, direction 27/22, PWM 18, sensor 23).
//
// Usage:
//
//	mock-pigpiod [-listen 127.0.0.1:8888] [-trace]
//
// Options:
//
//	-listen string   TCP listen address (default "127.0.0.1:8888")
//	-max-rpm float   shaft speed at 100% duty (default 3000)
//	-tau duration    motor spin-up time constant (default 400ms)
//	-ppr int         tachometer pulses per revolution (default from host config)
//	-trace           print every command and the model state
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"parmco-go-migration/pkg/config"
	"parmco-go-migration/pkg/hardware"
	"parmco-go-migration/pkg/pigpio"
)

const (
	hardwareRevision = 0xc03111 // Pi 4B board code
	libraryVersion   = 79
	defaultPWMRange  = 255

	simStep        = 2 * time.Millisecond
	keepaliveEvery = 10 * time.Second
)

// Result codes returned by the command handlers, matching the real
// daemon's error numbers.
const (
	resBadUserGpio    = -2
	resBadGpio        = -3
	resBadMode        = -4
	resBadLevel       = -5
	resBadPud         = -6
	resBadDutycycle   = -8
	resBadWdogTime    = -15
	resBadDutyrange   = -21
	resBadHandle      = -25
	resUnknownCommand = -88
	resBadHpwmDuty    = -99
	resHpwmIllegal    = -100
	resBadFilter      = -125
)

// rigModel binds the simulated motor to its pin assignment.
type rigModel struct {
	masterPin uint32
	dirAPin   uint32
	dirBPin   uint32
	speedPin  uint32
	sensorPin uint32
	sim       *hardware.Sim
}

type notifyStream struct {
	handle    uint32
	conn      net.Conn
	bits      uint32
	paused    bool
	seq       uint16
	lastWrite time.Time
}

type watchdogState struct {
	timeoutMs uint32
	deadline  time.Time
}

// Daemon state
type DaemonState struct {
	mu sync.Mutex

	startTime time.Time

	// GPIO bank 1 (0-31)
	modes map[uint32]uint32
	pulls map[uint32]uint32
	bank  uint32

	// Soft PWM: pin -> settings
	pwmDuty  map[uint32]uint32
	pwmRange map[uint32]uint32
	pwmFreq  map[uint32]uint32

	// Hardware PWM: pin -> settings
	hpFreq map[uint32]uint32
	hpDuty map[uint32]uint32

	glitch    map[uint32]uint32
	watchdogs map[uint32]*watchdogState

	// Notification streams: handle -> stream
	streams    map[uint32]*notifyStream
	nextHandle uint32

	motor rigModel
}

func NewDaemonState(motor rigModel) *DaemonState {
	return &DaemonState{
		startTime: time.Now(),
		modes:     make(map[uint32]uint32),
		pulls:     make(map[uint32]uint32),
		pwmDuty:   make(map[uint32]uint32),
		pwmRange:  make(map[uint32]uint32),
		pwmFreq:   make(map[uint32]uint32),
		hpFreq:    make(map[uint32]uint32),
		hpDuty:    make(map[uint32]uint32),
		glitch:    make(map[uint32]uint32),
		watchdogs: make(map[uint32]*watchdogState),
		streams:   make(map[uint32]*notifyStream),
		motor:     motor,
	}
}

// GetTick returns the simulated microsecond tick counter. Like the
// real daemon it wraps about every 72 minutes.
func (d *DaemonState) GetTick() uint32 {
	return uint32(time.Since(d.startTime).Microseconds())
}

// hardwarePWMPin reports whether a GPIO is wired to a PWM peripheral
// on the Pi header.
func hardwarePWMPin(gpio uint32) bool {
	switch gpio {
	case 12, 13, 18, 19:
		return true
	}
	return false
}

// setLevelLocked changes a pin level, feeds the watchdog for that pin
// and delivers a report to every stream watching it. Caller holds mu.
func (d *DaemonState) setLevelLocked(gpio, level uint32) {
	if d.bank>>gpio&1 == level {
		return
	}
	if level != 0 {
		d.bank |= 1 << gpio
	} else {
		d.bank &^= 1 << gpio
	}
	if w, ok := d.watchdogs[gpio]; ok {
		w.deadline = time.Now().Add(time.Duration(w.timeoutMs) * time.Millisecond)
	}
	mask := uint32(1) << gpio
	for _, st := range d.streams {
		if !st.paused && st.bits&mask != 0 {
			d.writeReportLocked(st, 0)
		}
	}
}

// writeReportLocked sends one 12-byte report carrying the current bank
// snapshot. A dead stream is dropped. Caller holds mu.
func (d *DaemonState) writeReportLocked(st *notifyStream, flags uint16) {
	b := make([]byte, 0, pigpio.ReportSize)
	b = binary.LittleEndian.AppendUint16(b, st.seq)
	b = binary.LittleEndian.AppendUint16(b, flags)
	b = binary.LittleEndian.AppendUint32(b, d.GetTick())
	b = binary.LittleEndian.AppendUint32(b, d.bank)
	st.seq++
	st.lastWrite = time.Now()
	if _, err := st.conn.Write(b); err != nil {
		fmt.Printf("Notify stream %d gone: %v\n", st.handle, err)
		delete(d.streams, st.handle)
	}
}

// simulate advances the motor model on a fixed step until stopped.
func (d *DaemonState) simulate(stopCh chan struct{}, trace bool) {
	ticker := time.NewTicker(simStep)
	defer ticker.Stop()

	last := time.Now()
	sinceTrace := 0.0
	for {
		select {
		case <-stopCh:
			return
		case now := <-ticker.C:
			dt := now.Sub(last).Seconds()
			last = now
			d.step(dt)
			if trace {
				sinceTrace += dt
				if sinceTrace >= 1.0 {
					sinceTrace = 0
					d.traceModel()
				}
			}
		}
	}
}

// step runs one simulation interval: spin the shaft toward the drive
// target, emit tachometer pulses, fire quiet-line watchdogs and keep
// idle streams alive.
func (d *DaemonState) step(dt float64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	m := &d.motor
	duty := 0.0
	if d.hpFreq[m.speedPin] > 0 {
		duty = float64(d.hpDuty[m.speedPin]) / pigpio.HardwarePWMRange
	}
	m.sim.SetInputs(
		d.bank&(1<<m.masterPin) != 0,
		d.bank&(1<<m.dirAPin) != 0,
		d.bank&(1<<m.dirBPin) != 0,
		duty)

	pulses := m.sim.Advance(dt)
	for i := 0; i < pulses; i++ {
		d.setLevelLocked(m.sensorPin, 1)
		d.setLevelLocked(m.sensorPin, 0)
	}

	now := time.Now()
	for gpio, w := range d.watchdogs {
		if now.After(w.deadline) {
			w.deadline = now.Add(time.Duration(w.timeoutMs) * time.Millisecond)
			flags := pigpio.FlagWatchdog | uint16(gpio&0x1f)
			mask := uint32(1) << gpio
			for _, st := range d.streams {
				if !st.paused && st.bits&mask != 0 {
					d.writeReportLocked(st, flags)
				}
			}
		}
	}

	for _, st := range d.streams {
		if now.Sub(st.lastWrite) > keepaliveEvery {
			d.writeReportLocked(st, pigpio.FlagAlive)
		}
	}
}

func (d *DaemonState) traceModel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	m := &d.motor
	dir := "coast"
	dirA := d.bank&(1<<m.dirAPin) != 0
	dirB := d.bank&(1<<m.dirBPin) != 0
	switch {
	case dirB && !dirA:
		dir = "cw"
	case dirA && !dirB:
		dir = "ccw"
	case dirA && dirB:
		dir = "brake"
	}
	fmt.Printf("  model: rpm=%.0f duty=%d master=%v dir=%s streams=%d\n",
		m.sim.Rpm(), d.hpDuty[m.speedPin], d.bank&(1<<m.masterPin) != 0, dir, len(d.streams))
}

// openStream turns conn into a notification stream. The handle
// response has to reach the client before any report, so the response
// write happens under the lock that gates report writes.
func (d *DaemonState) openStream(conn net.Conn, p1, p2 uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()

	h := d.nextHandle
	d.nextHandle++
	if err := writeResponse(conn, pigpio.CmdNOIB, p1, p2, int32(h)); err != nil {
		conn.Close()
		return
	}
	d.streams[h] = &notifyStream{handle: h, conn: conn, lastWrite: time.Now()}
}

// execute runs a single command against the daemon state and returns
// the result word.
func (d *DaemonState) execute(cmd, p1, p2 uint32, ext []byte, trace bool) int32 {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch cmd {
	case pigpio.CmdModes:
		if p1 > 53 {
			return resBadGpio
		}
		if p2 > 7 {
			return resBadMode
		}
		if trace {
			fmt.Printf("  set mode gpio=%d mode=%d\n", p1, p2)
		}
		d.modes[p1] = p2
		return 0

	case pigpio.CmdPud:
		if p1 > 53 {
			return resBadGpio
		}
		if p2 > 2 {
			return resBadPud
		}
		d.pulls[p1] = p2
		return 0

	case pigpio.CmdRead:
		if p1 > 31 {
			return resBadUserGpio
		}
		return int32(d.bank >> p1 & 1)

	case pigpio.CmdWrite:
		if p1 > 31 {
			return resBadUserGpio
		}
		if p2 > 1 {
			return resBadLevel
		}
		if trace {
			fmt.Printf("  write gpio=%d level=%d\n", p1, p2)
		}
		d.setLevelLocked(p1, p2)
		return 0

	case pigpio.CmdPWM:
		if p1 > 31 {
			return resBadUserGpio
		}
		rng := uint32(defaultPWMRange)
		if r, ok := d.pwmRange[p1]; ok {
			rng = r
		}
		if p2 > rng {
			return resBadDutycycle
		}
		d.pwmDuty[p1] = p2
		return 0

	case pigpio.CmdPRS:
		if p1 > 31 {
			return resBadUserGpio
		}
		if p2 < 25 || p2 > 40000 {
			return resBadDutyrange
		}
		d.pwmRange[p1] = p2
		return int32(p2)

	case pigpio.CmdPFS:
		if p1 > 31 {
			return resBadUserGpio
		}
		d.pwmFreq[p1] = p2
		return int32(p2)

	case pigpio.CmdWdog:
		if p1 > 31 {
			return resBadUserGpio
		}
		if p2 > 60000 {
			return resBadWdogTime
		}
		if trace {
			fmt.Printf("  watchdog gpio=%d timeout=%dms\n", p1, p2)
		}
		if p2 == 0 {
			delete(d.watchdogs, p1)
			return 0
		}
		d.watchdogs[p1] = &watchdogState{
			timeoutMs: p2,
			deadline:  time.Now().Add(time.Duration(p2) * time.Millisecond),
		}
		return 0

	case pigpio.CmdBR1:
		return int32(d.bank)

	case pigpio.CmdTick:
		return int32(d.GetTick())

	case pigpio.CmdHwver:
		return hardwareRevision

	case pigpio.CmdNB:
		st, ok := d.streams[p1]
		if !ok {
			return resBadHandle
		}
		if trace {
			fmt.Printf("  notify begin handle=%d bits=%08x\n", p1, p2)
		}
		st.bits = p2
		st.paused = false
		return 0

	case pigpio.CmdNP:
		st, ok := d.streams[p1]
		if !ok {
			return resBadHandle
		}
		st.paused = true
		return 0

	case pigpio.CmdNC:
		if _, ok := d.streams[p1]; !ok {
			return resBadHandle
		}
		if trace {
			fmt.Printf("  notify close handle=%d\n", p1)
		}
		delete(d.streams, p1)
		return 0

	case pigpio.CmdPigpv:
		return libraryVersion

	case pigpio.CmdHP:
		if p1 > 31 {
			return resBadUserGpio
		}
		if !hardwarePWMPin(p1) {
			return resHpwmIllegal
		}
		var duty uint32
		if len(ext) >= 4 {
			duty = binary.LittleEndian.Uint32(ext)
		}
		if duty > pigpio.HardwarePWMRange {
			return resBadHpwmDuty
		}
		if trace {
			fmt.Printf("  hardware pwm gpio=%d freq=%d duty=%d\n", p1, p2, duty)
		}
		d.hpFreq[p1] = p2
		d.hpDuty[p1] = duty
		return 0

	case pigpio.CmdFG:
		if p1 > 31 {
			return resBadUserGpio
		}
		if p2 > 300000 {
			return resBadFilter
		}
		d.glitch[p1] = p2
		return 0

	default:
		if trace {
			fmt.Printf("  unknown command %d\n", cmd)
		}
		return resUnknownCommand
	}
}

func writeResponse(conn net.Conn, cmd, p1, p2 uint32, result int32) error {
	resp := make([]byte, 0, pigpio.ResponseSize)
	resp = binary.LittleEndian.AppendUint32(resp, cmd)
	resp = binary.LittleEndian.AppendUint32(resp, p1)
	resp = binary.LittleEndian.AppendUint32(resp, p2)
	resp = binary.LittleEndian.AppendUint32(resp, uint32(result))
	_, err := conn.Write(resp)
	return err
}

func handleConnection(conn net.Conn, state *DaemonState, trace bool) {
	frame := make([]byte, pigpio.RequestSize)
	for {
		if _, err := io.ReadFull(conn, frame); err != nil {
			fmt.Printf("Client disconnected: %v\n", err)
			conn.Close()
			return
		}

		cmd := binary.LittleEndian.Uint32(frame[0:4])
		p1 := binary.LittleEndian.Uint32(frame[4:8])
		p2 := binary.LittleEndian.Uint32(frame[8:12])
		p3 := binary.LittleEndian.Uint32(frame[12:16])

		var ext []byte
		if p3 > 0 {
			ext = make([]byte, p3)
			if _, err := io.ReadFull(conn, ext); err != nil {
				fmt.Printf("Client disconnected: %v\n", err)
				conn.Close()
				return
			}
		}

		if trace {
			fmt.Printf("CMD %s p1=%d p2=%d p3=%d\n", pigpio.CommandName(cmd), p1, p2, p3)
		}

		if cmd == pigpio.CmdNOIB {
			// The connection belongs to the report stream from here
			// on; the simulation goroutine owns the write side.
			state.openStream(conn, p1, p2)
			return
		}

		result := state.execute(cmd, p1, p2, ext, trace)
		if err := writeResponse(conn, cmd, p1, p2, result); err != nil {
			fmt.Printf("Client disconnected: %v\n", err)
			conn.Close()
			return
		}
	}
}

func main() {
	listenAddr := flag.String("listen", "127.0.0.1:8888", "TCP listen address")
	maxRpm := flag.Float64("max-rpm", 3000, "Shaft speed at 100% duty")
	tau := flag.Duration("tau", 400*time.Millisecond, "Motor spin-up time constant")
	ppr := flag.Int("ppr", 0, "Tachometer pulses per revolution (0 = host default)")
	trace := flag.Bool("trace", false, "Enable trace output")
	flag.Parse()

	cfg := config.Default()
	pulses := cfg.Sensor.PulsesPerRev
	if *ppr > 0 {
		pulses = *ppr
	}

	state := NewDaemonState(rigModel{
		masterPin: uint32(cfg.Motor.MasterPin),
		dirAPin:   uint32(cfg.Motor.DirAPin),
		dirBPin:   uint32(cfg.Motor.DirBPin),
		speedPin:  uint32(cfg.Motor.SpeedPin),
		sensorPin: uint32(cfg.Sensor.Pin),
		sim:       hardware.NewSim(*maxRpm, tau.Seconds(), pulses),
	})

	ln, err := net.Listen("tcp", *listenAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to listen on %s: %v\n", *listenAddr, err)
		os.Exit(1)
	}
	defer ln.Close()

	fmt.Printf("Mock pigpiod listening on %s\n", *listenAddr)
	fmt.Printf("Motor model: %.0f RPM at full duty, tau %s, %d pulses/rev\n",
		*maxRpm, *tau, pulses)
	fmt.Println("Press Ctrl+C to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	connCh := make(chan net.Conn, 1)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			connCh <- conn
		}
	}()

	stopCh := make(chan struct{})
	go state.simulate(stopCh, *trace)

	for {
		select {
		case <-sigCh:
			fmt.Println("\nShutting down...")
			close(stopCh)
			return
		case conn := <-connCh:
			fmt.Printf("Client connected from %s\n", conn.RemoteAddr())
			go handleConnection(conn, state, *trace)
		}
	}
}
