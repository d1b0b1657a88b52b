// Motor controller host binary
//
// Copyright (C) 2026  PARMCO Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

// parmco-server is the closed-loop DC motor controller host. It talks
// to a pigpiod daemon for GPIO, accepts one client over RFCOMM or
// TCP, and runs the speed control session loop until stopped.
//
// Usage:
//
//	parmco-server [options]
//
// Options:
//
//	-pigpiod string    pigpiod address (default "127.0.0.1:8888")
//	-transport string  client transport, rfcomm or tcp (default "rfcomm")
//	-channel int       RFCOMM channel to bind (default 22)
//	-listen string     tcp transport bind address (default "0.0.0.0:8422")
//	-strategy string   control strategy: pid, feedforward, hysteretic
//	-edge string       pulse edge: rising or rising-while-high
//	-extended          send DATA: telemetry instead of RPM:
//	-monitor string    status server address ("" disables)
//	-metrics string    metrics endpoint address ("" disables)
//	-loglevel string   log level: debug, info, warn, error
//	-logformat string  log format: text or json
//	-logfile string    log to a rotating file as well as stderr
//	-version           print version and exit
//
// Examples:
//
//	# Production rig: RFCOMM channel 22, hardware defaults
//	parmco-server
//
//	# Bench setup against mock-pigpiod over TCP, with the monitor
//	parmco-server -pigpiod 127.0.0.1:8888 -transport tcp -monitor :7130
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"parmco-go-migration/pkg/config"
	"parmco-go-migration/pkg/control"
	"parmco-go-migration/pkg/hardware"
	"parmco-go-migration/pkg/log"
	"parmco-go-migration/pkg/metrics"
	"parmco-go-migration/pkg/monitor"
	"parmco-go-migration/pkg/motor"
	"parmco-go-migration/pkg/pigpio"
	"parmco-go-migration/pkg/safety"
	"parmco-go-migration/pkg/session"
	"parmco-go-migration/pkg/tach"
	"parmco-go-migration/pkg/transport"
)

const version = "1.0.0"

func main() {
	pigpiodAddr := flag.String("pigpiod", "127.0.0.1:8888", "pigpiod address")
	transportKind := flag.String("transport", config.TransportRFCOMM, "client transport: rfcomm or tcp")
	channel := flag.Int("channel", 22, "RFCOMM channel to bind")
	listenAddr := flag.String("listen", "0.0.0.0:8422", "tcp transport bind address")
	strategy := flag.String("strategy", config.StrategyPID, "control strategy: pid, feedforward or hysteretic")
	edge := flag.String("edge", "", "pulse edge: rising or rising-while-high (default from config)")
	extended := flag.Bool("extended", false, "send DATA: telemetry instead of RPM:")
	monitorAddr := flag.String("monitor", "", "status server address (empty disables)")
	metricsAddr := flag.String("metrics", "", "metrics endpoint address (empty disables)")
	logLevel := flag.String("loglevel", "info", "log level: debug, info, warn or error")
	logFormat := flag.String("logformat", "text", "log format: text or json")
	logFile := flag.String("logfile", "", "log to a rotating file as well as stderr")
	showVersion := flag.Bool("version", false, "print version and exit")

	flag.Parse()

	if *showVersion {
		fmt.Printf("parmco-server %s\n", version)
		return
	}

	// Logging must be settled before any subsystem derives a logger.
	base := log.New("parmco")
	base.SetLevel(log.ParseLevel(*logLevel))
	if *logFormat == "json" {
		base.SetFormat(log.FormatJSON)
	}
	if *logFile != "" {
		w, err := log.NewRotatingFileWriter(log.RotationConfig{Filename: *logFile})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening log file: %v\n", err)
			os.Exit(1)
		}
		defer w.Close()
		base.SetWriter(log.NewMultiWriter(os.Stderr, w))
		base.SetColorize(false)
	}
	log.SetDefaultLogger(base)
	logger := log.GetLogger("main")

	cfg := config.Default()
	cfg.Pigpio.Addr = *pigpiodAddr
	cfg.Transport.Kind = *transportKind
	cfg.Transport.Channel = uint8(*channel)
	cfg.Transport.TCPAddr = *listenAddr
	cfg.Control.Strategy = *strategy
	cfg.Session.ExtendedTelemetry = *extended
	if *edge != "" {
		mode, err := config.ParseEdgeMode(*edge)
		if err != nil {
			logger.WithError(err).Error("invalid -edge")
			os.Exit(1)
		}
		cfg.Sensor.Edge = mode
	}
	if *monitorAddr != "" {
		cfg.Monitor.Enabled = true
		cfg.Monitor.Addr = *monitorAddr
	}
	if *metricsAddr != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Addr = *metricsAddr
	}

	if err := cfg.Validate(); err != nil {
		logger.WithError(err).Error("invalid configuration")
		os.Exit(1)
	}

	logger.WithFields(log.Fields{
		"version":   version,
		"pigpiod":   cfg.Pigpio.Addr,
		"transport": cfg.Transport.Kind,
		"strategy":  cfg.Control.Strategy,
		"edge":      cfg.Sensor.Edge.String(),
	}).Info("parmco host starting")

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("host failed")
		os.Exit(1)
	}
	logger.Info("parmco host stopped")
}

// run wires the host together and serves until a shutdown cause.
// Every exit path passes through the safety manager, so the motor is
// off before the process ends.
func run(cfg config.Config, logger *log.Logger) error {
	client, err := pigpio.Connect(cfg.Pigpio.Addr, cfg.Pigpio.ConnectTimeout)
	if err != nil {
		return err
	}
	defer client.Close()

	notifier, err := pigpio.NewNotifier(client, cfg.Pigpio.ConnectTimeout)
	if err != nil {
		return err
	}
	defer notifier.Close()

	counter := tach.NewCounter(cfg.Sensor.Edge)
	rig, err := hardware.New(client, notifier, cfg.Motor, cfg.Sensor, counter)
	if err != nil {
		return err
	}
	defer rig.Close()

	driver := motor.NewDriver(rig.Outputs())
	est := tach.NewEstimator(counter, cfg.Sensor.PulsesPerRev, cfg.Estimator)
	ctrl, err := control.NewController(cfg.Control, driver)
	if err != nil {
		return err
	}

	listener, err := transport.New(cfg.Transport)
	if err != nil {
		return err
	}
	defer listener.Close()

	mgr := safety.New()
	mgr.Register("motor", driver)

	sess := session.New(cfg.Session, listener, driver, est, ctrl, rig, mgr)
	mgr.OnShutdown(func(reason safety.ShutdownReason, msg string) {
		sess.Stop()
		listener.Close()
	})

	var mon *monitor.Server
	if cfg.Monitor.Enabled {
		mon = monitor.New(cfg.Monitor, sess)
		mon.AddSection("hardware", rig.Status)
		mon.AddSection("safety", func() map[string]any {
			st := mgr.GetStatus()
			return map[string]any{
				"state":       st.State,
				"operational": st.IsOperational,
				"reason":      st.ShutdownReason,
				"message":     st.ShutdownMsg,
			}
		})
		go func() {
			if err := mon.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.WithError(err).Error("monitor server failed")
			}
		}()
		defer mon.Stop()
	}

	var ms *metrics.MetricsServer
	if cfg.Metrics.Enabled {
		msCfg := metrics.DefaultMetricsServerConfig()
		msCfg.Address = cfg.Metrics.Addr
		ms = metrics.NewMetricsServerWithConfig(metrics.GlobalMetrics(), msCfg)
		ms.StartAsync()
		defer func() {
			ctx, cancel := shutdownContext()
			defer cancel()
			ms.Shutdown(ctx)
		}()
	}

	mgr.StartWatchdog()
	defer mgr.StopWatchdog()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.WithField("signal", sig.String()).Info("shutdown signal received")
		mgr.SignalShutdown(sig.String())
	}()

	runErr := sess.Run()

	// The loop can end without a shutdown having run (listener error);
	// force the safe state before the defers tear the stack down.
	if mgr.IsOperational() {
		if runErr != nil {
			mgr.FatalError("session", runErr.Error())
		} else {
			mgr.RequestShutdown("session loop ended")
		}
	}
	return runErr
}

func shutdownContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 2*time.Second)
}
