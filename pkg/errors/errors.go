// Unified error handling for the PARMCO Go migration
//
// Copyright (C) 2026  PARMCO Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

// Package errors defines the host's error type. Every failure
// surfaces as a HostError carrying a category code, the originating
// component and optionally the GPIO pin involved, so the startup path
// can decide between aborting and recovering without string matching.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode is the failure category.
type ErrorCode string

const (
	// Configuration errors
	ErrConfigOption     ErrorCode = "CONFIG_OPTION"
	ErrConfigValidation ErrorCode = "CONFIG_VALIDATION"

	// Hardware surface errors
	ErrHardwareInit ErrorCode = "HARDWARE_INIT"
	ErrHardwareIO   ErrorCode = "HARDWARE_IO"
	ErrHardwarePin  ErrorCode = "HARDWARE_PIN"

	// pigpio daemon errors
	ErrPigpioConnect ErrorCode = "PIGPIO_CONNECT"
	ErrPigpioCommand ErrorCode = "PIGPIO_COMMAND"
	ErrPigpioNotify  ErrorCode = "PIGPIO_NOTIFY"

	// Transport errors
	ErrTransportBind   ErrorCode = "TRANSPORT_BIND"
	ErrTransportAccept ErrorCode = "TRANSPORT_ACCEPT"
	ErrTransportIO     ErrorCode = "TRANSPORT_IO"

	// Runtime errors
	ErrRuntime     ErrorCode = "RUNTIME"
	ErrRuntimeInit ErrorCode = "RUNTIME_INIT"

	// Session errors
	ErrSession ErrorCode = "SESSION"
)

// HostError carries a categorized failure through the host.
type HostError struct {
	// Code is the failure category.
	Code ErrorCode

	// Message describes what went wrong.
	Message string

	// Component names the subsystem that raised the error.
	Component string

	// Pin is the GPIO pin involved, -1 when not applicable.
	Pin int

	// Err is the wrapped cause, if any.
	Err error

	// Context holds extra key/value details.
	Context map[string]any
}

func (e *HostError) Error() string {
	if e.Component != "" {
		return fmt.Sprintf("[%s:%s] %s", e.Code, e.Component, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *HostError) Unwrap() error {
	return e.Err
}

// SetComponent records the originating subsystem and returns e for
// chaining.
func (e *HostError) SetComponent(component string) *HostError {
	e.Component = component
	return e
}

// SetPin records the GPIO pin involved and returns e for chaining.
func (e *HostError) SetPin(pin int) *HostError {
	e.Pin = pin
	return e
}

// SetContext attaches one extra detail and returns e for chaining.
func (e *HostError) SetContext(key string, value any) *HostError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// New creates a HostError with no underlying cause.
func New(code ErrorCode, message string) *HostError {
	return &HostError{Code: code, Message: message, Pin: -1}
}

// Wrap creates a HostError around an underlying cause.
func Wrap(err error, code ErrorCode, message string) *HostError {
	return &HostError{Code: code, Message: message, Pin: -1, Err: err}
}

// Config errors

// ConfigOptionError reports a missing or unusable option.
func ConfigOptionError(component, option string) *HostError {
	return New(ErrConfigOption, fmt.Sprintf("option '%s' missing or unusable", option)).
		SetComponent(component)
}

// ConfigValidationError reports an option that failed validation.
func ConfigValidationError(component, option string, reason string) *HostError {
	return New(ErrConfigValidation, fmt.Sprintf("option '%s': %s", option, reason)).
		SetComponent(component)
}

// Hardware errors

// HardwareInitError reports a hardware surface setup failure.
func HardwareInitError(component string, reason string) *HostError {
	return New(ErrHardwareInit, fmt.Sprintf("failed to initialize %s: %s", component, reason)).
		SetComponent(component)
}

// HardwareIOError reports a failed pin operation.
func HardwareIOError(op string, pin int, err error) *HostError {
	return Wrap(err, ErrHardwareIO, fmt.Sprintf("%s on pin %d failed", op, pin)).
		SetPin(pin)
}

// HardwarePinError reports an invalid pin assignment.
func HardwarePinError(component string, pin int, reason string) *HostError {
	return New(ErrHardwarePin, fmt.Sprintf("pin %d: %s", pin, reason)).
		SetComponent(component).
		SetPin(pin)
}

// pigpio errors

// PigpioConnectError reports a daemon connection failure.
func PigpioConnectError(addr string, err error) *HostError {
	return Wrap(err, ErrPigpioConnect, fmt.Sprintf("cannot reach pigpiod at %s", addr)).
		SetComponent("pigpio")
}

// PigpioCommandError reports a daemon command rejection. status is
// the (negative) result word returned by the daemon.
func PigpioCommandError(cmd string, status int) *HostError {
	return New(ErrPigpioCommand, fmt.Sprintf("command %s rejected with status %d", cmd, status)).
		SetComponent("pigpio").
		SetContext("status", status)
}

// PigpioNotifyError reports a notification stream failure.
func PigpioNotifyError(reason string, err error) *HostError {
	return Wrap(err, ErrPigpioNotify, reason).
		SetComponent("pigpio")
}

// Transport errors

// TransportBindError reports a bind/listen failure.
func TransportBindError(kind, addr string, err error) *HostError {
	return Wrap(err, ErrTransportBind, fmt.Sprintf("%s bind/listen on %s failed", kind, addr)).
		SetComponent("transport")
}

// TransportAcceptError reports an accept failure.
func TransportAcceptError(kind string, err error) *HostError {
	return Wrap(err, ErrTransportAccept, fmt.Sprintf("%s accept failed", kind)).
		SetComponent("transport")
}

// TransportIOError reports a read/write failure on a live session.
func TransportIOError(op string, err error) *HostError {
	return Wrap(err, ErrTransportIO, fmt.Sprintf("%s failed", op)).
		SetComponent("transport")
}

// Runtime errors

// RuntimeError reports a general runtime failure.
func RuntimeError(message string) *HostError {
	return New(ErrRuntime, message)
}

// RuntimeErrorInit reports an initialization failure.
func RuntimeErrorInit(component string, reason string) *HostError {
	return New(ErrRuntimeInit, fmt.Sprintf("failed to initialize %s: %s", component, reason)).
		SetComponent(component)
}

// SessionError reports a session-level failure.
func SessionError(message string) *HostError {
	return New(ErrSession, message).SetComponent("session")
}

// FromPanic converts a value recovered from a panic into a
// HostError. recover itself must happen in the caller's deferred
// function; a helper calling recover one frame down never sees the
// panic.
func FromPanic(r any) *HostError {
	if r == nil {
		return nil
	}
	if err, ok := r.(error); ok {
		return Wrap(err, ErrRuntime, "panic: "+err.Error())
	}
	return RuntimeError(fmt.Sprintf("panic: %v", r))
}

// Is reports whether err, or any error in its chain, is a HostError
// with the given code.
func Is(err error, code ErrorCode) bool {
	var he *HostError
	if stderrors.As(err, &he) {
		return he.Code == code
	}
	return false
}

// matchesAny reports whether err carries one of the given codes.
func matchesAny(err error, codes ...ErrorCode) bool {
	var he *HostError
	if !stderrors.As(err, &he) {
		return false
	}
	for _, code := range codes {
		if he.Code == code {
			return true
		}
	}
	return false
}

// IsConfig reports whether err is a configuration error.
func IsConfig(err error) bool {
	return matchesAny(err, ErrConfigOption, ErrConfigValidation)
}

// IsHardware reports whether err is a hardware or daemon error.
func IsHardware(err error) bool {
	return matchesAny(err,
		ErrHardwareInit, ErrHardwareIO, ErrHardwarePin,
		ErrPigpioConnect, ErrPigpioCommand, ErrPigpioNotify)
}

// IsTransport reports whether err is a transport error.
func IsTransport(err error) bool {
	return matchesAny(err, ErrTransportBind, ErrTransportAccept, ErrTransportIO)
}

// IsFatal reports whether the error should abort process startup.
// Only initialization-class failures are fatal; session and sensor
// level problems are always recovered.
func IsFatal(err error) bool {
	return matchesAny(err,
		ErrConfigOption, ErrConfigValidation,
		ErrHardwareInit, ErrHardwarePin,
		ErrPigpioConnect, ErrTransportBind,
		ErrRuntimeInit)
}
