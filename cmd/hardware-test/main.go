// Motor rig exerciser
//
// Copyright (C) 2026  PARMCO Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

// hardware-test is a command-line tool for checking the motor rig
// through a pigpio daemon (real or mock-pigpiod) without starting the
// host. It verifies daemon connectivity, output pin wiring and the
// tachometer path step by step, using the same hardware surfaces the
// host runs on.
//
// Usage:
//
//	hardware-test -test connect [options]
//
// Options:
//
//	-pigpiod string    pigpiod address (default "127.0.0.1:8888")
//	-timeout duration  daemon connect timeout (default 10s)
//	-test string       Test to run: "connect", "pins", "sensor", "spin", "all"
//	-duty int          drive percentage for the spin test (default 40)
//	-duration duration observation window for sensor and spin tests (default 5s)
//	-ppr int           pulses per revolution override (0 = config default)
//	-trace             enable debug logging
//
// Examples:
//
//	# Verify the daemon answers
//	hardware-test -test connect
//
//	# Toggle the output pins and read them back
//	hardware-test -test pins
//
//	# Spin at 40% for five seconds against mock-pigpiod
//	hardware-test -pigpiod 127.0.0.1:8888 -test spin
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"parmco-go-migration/pkg/config"
	"parmco-go-migration/pkg/hardware"
	"parmco-go-migration/pkg/log"
	"parmco-go-migration/pkg/motor"
	"parmco-go-migration/pkg/pigpio"
	"parmco-go-migration/pkg/tach"
)

// rigHarness bundles the connected surfaces the tests exercise.
type rigHarness struct {
	cfg      config.Config
	client   *pigpio.Client
	rig      *hardware.Rig
	driver   *motor.Driver
	counter  *tach.Counter
	est      *tach.Estimator
	duty     int
	duration time.Duration
}

type pinLevel struct {
	name string
	pin  int
	want int
}

// expectLevels reads bank 1 and checks each pin against its expected
// level.
func (h *rigHarness) expectLevels(pins []pinLevel) error {
	bank, err := h.client.ReadBank1()
	if err != nil {
		return fmt.Errorf("read bank: %w", err)
	}
	for _, p := range pins {
		got := int(bank >> uint(p.pin) & 1)
		if got != p.want {
			return fmt.Errorf("%s (gpio %d) level %d, want %d", p.name, p.pin, got, p.want)
		}
		fmt.Printf("  %s (gpio %d) = %d ok\n", p.name, p.pin, got)
	}
	return nil
}

// testConnect queries the daemon identity and clock.
func testConnect(h *rigHarness) error {
	fmt.Println("=== Test: Daemon Connection ===")

	ver, err := h.client.Version()
	if err != nil {
		return fmt.Errorf("version: %w", err)
	}
	fmt.Printf("pigpio library version: %d\n", ver)

	rev, err := h.client.HardwareRevision()
	if err != nil {
		return fmt.Errorf("hardware revision: %w", err)
	}
	fmt.Printf("Hardware revision: %06x\n", rev)

	t1, err := h.client.CurrentTick()
	if err != nil {
		return fmt.Errorf("tick: %w", err)
	}
	time.Sleep(100 * time.Millisecond)
	t2, err := h.client.CurrentTick()
	if err != nil {
		return fmt.Errorf("tick: %w", err)
	}
	fmt.Printf("Tick advanced %d us over 100 ms\n", t2-t1)
	if t2-t1 == 0 {
		return fmt.Errorf("daemon tick counter is not advancing")
	}

	bank, err := h.client.ReadBank1()
	if err != nil {
		return fmt.Errorf("read bank: %w", err)
	}
	fmt.Printf("Bank 1 levels: %032b\n", bank)

	return nil
}

// testPins walks the output pins through the driver and reads each
// state back from the daemon.
func testPins(h *rigHarness) error {
	fmt.Println("=== Test: Output Pins ===")
	mc := h.cfg.Motor
	defer h.driver.SafeState()

	fmt.Println("Master on...")
	if err := h.driver.SetMaster(true); err != nil {
		return fmt.Errorf("master on: %w", err)
	}
	if err := h.expectLevels([]pinLevel{{"master", mc.MasterPin, 1}}); err != nil {
		return err
	}

	fmt.Println("Direction clockwise...")
	if err := h.driver.SetDirection(motor.Clockwise); err != nil {
		return fmt.Errorf("direction cw: %w", err)
	}
	if err := h.expectLevels([]pinLevel{
		{"dir A", mc.DirAPin, 0},
		{"dir B", mc.DirBPin, 1},
	}); err != nil {
		return err
	}

	fmt.Println("Direction counterclockwise...")
	if err := h.driver.SetDirection(motor.CounterClockwise); err != nil {
		return fmt.Errorf("direction ccw: %w", err)
	}
	if err := h.expectLevels([]pinLevel{
		{"dir A", mc.DirAPin, 1},
		{"dir B", mc.DirBPin, 0},
	}); err != nil {
		return err
	}

	fmt.Println("Safe state...")
	if err := h.driver.SafeState(); err != nil {
		return fmt.Errorf("safe state: %w", err)
	}
	if err := h.expectLevels([]pinLevel{
		{"master", mc.MasterPin, 0},
		{"dir A", mc.DirAPin, 0},
		{"dir B", mc.DirBPin, 0},
	}); err != nil {
		return err
	}
	snap := h.driver.Snapshot()
	fmt.Printf("Driver state: master=%v direction=%s drive=%d%%\n",
		snap.Master, snap.Direction, snap.Drive)

	return nil
}

// testSensor watches the tachometer input with the motor untouched.
// Useful for checking input wiring and electrical noise.
func testSensor(h *rigHarness) error {
	fmt.Println("=== Test: Tachometer Input ===")
	fmt.Printf("Watching gpio %d for %s (motor not driven)...\n",
		h.cfg.Sensor.Pin, h.duration)

	h.counter.ReadAndReset()
	total := uint32(0)
	for i := 0; i < windowSeconds(h.duration); i++ {
		time.Sleep(time.Second)
		n := h.counter.ReadAndReset()
		total += n
		lvl, known := h.rig.SensorLevel()
		state := "unknown"
		if known {
			state = fmt.Sprintf("%d", lvl)
		}
		fmt.Printf("  t+%ds pulses=%d level=%s\n", i+1, n, state)
	}
	fmt.Printf("Total pulses: %d\n", total)
	if total > 0 {
		fmt.Println("Input is live; pulses with the motor stopped mean noise or an external spin")
	}

	return nil
}

// testSpin drives the motor open loop and runs the speed estimator
// against the resulting pulses.
func testSpin(h *rigHarness) error {
	fmt.Println("=== Test: Motor Spin ===")
	defer h.driver.SafeState()

	fmt.Printf("Spinning clockwise at %d%% drive for %s...\n", h.duty, h.duration)
	if err := h.driver.SetMaster(true); err != nil {
		return fmt.Errorf("master on: %w", err)
	}
	if err := h.driver.SetDirection(motor.Clockwise); err != nil {
		return fmt.Errorf("direction: %w", err)
	}
	if err := h.driver.SetDrive(h.duty); err != nil {
		return fmt.Errorf("drive: %w", err)
	}

	now, err := h.rig.Tick()
	if err != nil {
		return fmt.Errorf("tick: %w", err)
	}
	h.est.Rearm(now)

	var last tach.Sample
	for i := 0; i < windowSeconds(h.duration); i++ {
		time.Sleep(time.Second)
		now, err := h.rig.Tick()
		if err != nil {
			return fmt.Errorf("tick: %w", err)
		}
		s := h.est.Update(now, h.driver.Drive(), false)
		status := "accepted"
		if !s.Accepted {
			status = "rejected: " + s.Reason
		}
		fmt.Printf("  t+%ds raw=%d rpm smoothed=%d rpm (%s)\n",
			i+1, s.Raw, s.Smoothed, status)
		last = s
	}

	fmt.Println("Stopping...")
	if err := h.driver.SafeState(); err != nil {
		return fmt.Errorf("safe state: %w", err)
	}
	if last.Smoothed == 0 {
		return fmt.Errorf("motor driven at %d%% but no rotation measured; check sensor wiring", h.duty)
	}
	fmt.Printf("Final estimate: %d rpm\n", last.Smoothed)

	return nil
}

// testAll chains the individual tests in bring-up order.
func testAll(h *rigHarness) error {
	if err := testConnect(h); err != nil {
		return err
	}
	fmt.Println()
	if err := testPins(h); err != nil {
		return err
	}
	fmt.Println()
	return testSpin(h)
}

func windowSeconds(d time.Duration) int {
	s := int(d / time.Second)
	if s < 1 {
		s = 1
	}
	return s
}

func main() {
	pigpiodAddr := flag.String("pigpiod", "127.0.0.1:8888", "pigpiod address")
	timeout := flag.Duration("timeout", 10*time.Second, "Daemon connect timeout")
	test := flag.String("test", "connect", "Test to run: connect, pins, sensor, spin, all")
	duty := flag.Int("duty", 40, "Drive percentage for the spin test")
	duration := flag.Duration("duration", 5*time.Second, "Observation window for sensor and spin tests")
	ppr := flag.Int("ppr", 0, "Pulses per revolution override (0 = config default)")
	trace := flag.Bool("trace", false, "Enable debug logging")
	flag.Parse()

	base := log.New("hardware-test")
	if *trace {
		base.SetLevel(log.DEBUG)
	} else {
		base.SetLevel(log.WARN)
	}
	log.SetDefaultLogger(base)

	cfg := config.Default()
	cfg.Pigpio.Addr = *pigpiodAddr
	cfg.Pigpio.ConnectTimeout = *timeout
	if *ppr > 0 {
		cfg.Sensor.PulsesPerRev = *ppr
	}

	fmt.Printf("Connecting to pigpiod at %s...\n", cfg.Pigpio.Addr)
	client, err := pigpio.Connect(cfg.Pigpio.Addr, cfg.Pigpio.ConnectTimeout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error connecting to pigpiod: %v\n", err)
		os.Exit(1)
	}
	defer client.Close()

	notifier, err := pigpio.NewNotifier(client, cfg.Pigpio.ConnectTimeout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening notification stream: %v\n", err)
		os.Exit(1)
	}
	defer notifier.Close()

	counter := tach.NewCounter(cfg.Sensor.Edge)
	rig, err := hardware.New(client, notifier, cfg.Motor, cfg.Sensor, counter)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error configuring rig: %v\n", err)
		os.Exit(1)
	}
	defer rig.Close()

	h := &rigHarness{
		cfg:      cfg,
		client:   client,
		rig:      rig,
		driver:   motor.NewDriver(rig.Outputs()),
		counter:  counter,
		est:      tach.NewEstimator(counter, cfg.Sensor.PulsesPerRev, cfg.Estimator),
		duty:     *duty,
		duration: *duration,
	}
	fmt.Println("Rig configured")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	doneCh := make(chan error, 1)
	go func() {
		var err error
		switch *test {
		case "connect":
			err = testConnect(h)
		case "pins":
			err = testPins(h)
		case "sensor":
			err = testSensor(h)
		case "spin":
			err = testSpin(h)
		case "all":
			err = testAll(h)
		default:
			err = fmt.Errorf("unknown test: %s", *test)
		}
		doneCh <- err
	}()

	select {
	case err := <-doneCh:
		if err != nil {
			h.driver.SafeState()
			fmt.Fprintf(os.Stderr, "Test failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("\nAll tests passed!")
	case sig := <-sigCh:
		fmt.Printf("\nReceived signal %v, stopping motor...\n", sig)
		if err := h.driver.SafeState(); err != nil {
			fmt.Fprintf(os.Stderr, "Safe state failed: %v\n", err)
			os.Exit(1)
		}
		os.Exit(130)
	}
}
