// pigpiod socket interface wire format
//
// The daemon speaks fixed-size little-endian frames on TCP port 8888.
// A request is 16 bytes {cmd, p1, p2, p3}; the response echoes the
// first three words and carries the result in the fourth. Commands
// with extra payload set p3 to the extension length and append the
// extension bytes. Notification streams deliver 12-byte reports.
//
// Copyright (C) 2026  PARMCO Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package pigpio

import (
	"encoding/binary"
	"fmt"
)

// Frame sizes
const (
	RequestSize  = 16
	ResponseSize = 16
	ReportSize   = 12
)

// Command numbers understood by the daemon
const (
	CmdModes uint32 = 0  // set GPIO mode
	CmdPud   uint32 = 2  // set pull resistor
	CmdRead  uint32 = 3  // read GPIO level
	CmdWrite uint32 = 4  // write GPIO level
	CmdPWM   uint32 = 5  // set soft PWM dutycycle
	CmdPRS   uint32 = 6  // set soft PWM range
	CmdPFS   uint32 = 7  // set soft PWM frequency
	CmdWdog  uint32 = 9  // set GPIO watchdog
	CmdBR1   uint32 = 10 // read levels bank 1 (GPIO 0-31)
	CmdTick  uint32 = 16 // current tick (microseconds)
	CmdHwver uint32 = 17 // hardware revision
	CmdNB    uint32 = 19 // notify begin
	CmdNP    uint32 = 20 // notify pause
	CmdNC    uint32 = 21 // notify close
	CmdPigpv uint32 = 26 // pigpio library version
	CmdHP    uint32 = 86 // hardware PWM (extension: dutycycle)
	CmdFG    uint32 = 97 // set glitch filter
	CmdNOIB  uint32 = 99 // notify open in-band
)

// GPIO modes
const (
	ModeInput  uint32 = 0
	ModeOutput uint32 = 1
)

// Pull resistor settings
const (
	PudOff  uint32 = 0
	PudDown uint32 = 1
	PudUp   uint32 = 2
)

// HardwarePWMRange is the dutycycle scale of the HP command: a duty
// of 1000000 is fully on.
const HardwarePWMRange = 1000000

// Report flag bits
const (
	FlagWatchdog uint16 = 1 << 5 // watchdog timeout, GPIO in low bits
	FlagAlive    uint16 = 1 << 6 // keepalive, no level information
	FlagEvent    uint16 = 1 << 7 // event report, event id in low bits
)

// Levels passed to edge callbacks. Watchdog timeouts report
// LevelTimeout instead of a line state.
const (
	LevelLow     = 0
	LevelHigh    = 1
	LevelTimeout = 2
)

// Response is a decoded 16-byte command response.
type Response struct {
	Cmd    uint32
	P1     uint32
	P2     uint32
	Result int32
}

// Report is a decoded 12-byte notification report.
type Report struct {
	Seqno uint16
	Flags uint16
	Tick  uint32
	Level uint32
}

// EncodeRequest appends a 16-byte request with no extension to buf.
func EncodeRequest(buf []byte, cmd, p1, p2 uint32) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, cmd)
	buf = binary.LittleEndian.AppendUint32(buf, p1)
	buf = binary.LittleEndian.AppendUint32(buf, p2)
	buf = binary.LittleEndian.AppendUint32(buf, 0)
	return buf
}

// EncodeRequestExt appends a request carrying an extension. p3 holds
// the extension length per the daemon's framing.
func EncodeRequestExt(buf []byte, cmd, p1, p2 uint32, ext []byte) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, cmd)
	buf = binary.LittleEndian.AppendUint32(buf, p1)
	buf = binary.LittleEndian.AppendUint32(buf, p2)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(ext)))
	buf = append(buf, ext...)
	return buf
}

// EncodeUint32 appends a little-endian uint32, used for extensions.
func EncodeUint32(buf []byte, v uint32) []byte {
	return binary.LittleEndian.AppendUint32(buf, v)
}

// DecodeResponse decodes a 16-byte response frame. The final word is
// interpreted as a signed result; negative values are daemon errors
// except for commands returning full 32-bit quantities.
func DecodeResponse(b []byte) Response {
	return Response{
		Cmd:    binary.LittleEndian.Uint32(b[0:4]),
		P1:     binary.LittleEndian.Uint32(b[4:8]),
		P2:     binary.LittleEndian.Uint32(b[8:12]),
		Result: int32(binary.LittleEndian.Uint32(b[12:16])),
	}
}

// Uint32Result reinterprets the result word as unsigned, for commands
// like BR1 and TICK whose full range is meaningful.
func (r Response) Uint32Result() uint32 {
	return uint32(r.Result)
}

// DecodeReport decodes a 12-byte notification report.
func DecodeReport(b []byte) Report {
	return Report{
		Seqno: binary.LittleEndian.Uint16(b[0:2]),
		Flags: binary.LittleEndian.Uint16(b[2:4]),
		Tick:  binary.LittleEndian.Uint32(b[4:8]),
		Level: binary.LittleEndian.Uint32(b[8:12]),
	}
}

// WatchdogGpio extracts the GPIO number from a watchdog report.
func (r Report) WatchdogGpio() int {
	return int(r.Flags & 0x1f)
}

// LevelBit returns the level of a single GPIO from the bank snapshot.
func (r Report) LevelBit(gpio int) int {
	return int(r.Level>>uint(gpio)) & 1
}

// CommandName returns the mnemonic for a command number, for logs and
// errors.
func CommandName(cmd uint32) string {
	switch cmd {
	case CmdModes:
		return "MODES"
	case CmdPud:
		return "PUD"
	case CmdRead:
		return "READ"
	case CmdWrite:
		return "WRITE"
	case CmdPWM:
		return "PWM"
	case CmdPRS:
		return "PRS"
	case CmdPFS:
		return "PFS"
	case CmdWdog:
		return "WDOG"
	case CmdBR1:
		return "BR1"
	case CmdTick:
		return "TICK"
	case CmdHwver:
		return "HWVER"
	case CmdNB:
		return "NB"
	case CmdNP:
		return "NP"
	case CmdNC:
		return "NC"
	case CmdPigpv:
		return "PIGPV"
	case CmdHP:
		return "HP"
	case CmdFG:
		return "FG"
	case CmdNOIB:
		return "NOIB"
	default:
		return fmt.Sprintf("CMD%d", cmd)
	}
}

// Daemon error codes (subset relevant to this host)
const (
	errInitFailed   = -1
	errBadUserGpio  = -2
	errBadGpio      = -3
	errBadMode      = -4
	errBadLevel     = -5
	errBadPud       = -6
	errBadDutycycle = -8
	errBadWdogTime  = -15
	errBadDutyrange = -21
	errBadHandle    = -25
	errNotPermitted = -41
	errBadHpwmFreq  = -98
	errBadHpwmDuty  = -99
	errHpwmIllegal  = -100
	errBadFilter    = -125
)

// ErrorText returns a description for a negative daemon result.
func ErrorText(code int32) string {
	switch code {
	case errInitFailed:
		return "daemon initialisation failed"
	case errBadUserGpio:
		return "GPIO not 0-31"
	case errBadGpio:
		return "GPIO not 0-53"
	case errBadMode:
		return "mode not 0-7"
	case errBadLevel:
		return "level not 0-1"
	case errBadPud:
		return "pull not 0-2"
	case errBadDutycycle:
		return "dutycycle outside set range"
	case errBadWdogTime:
		return "watchdog timeout not 0-60000"
	case errBadDutyrange:
		return "dutycycle range not 25-40000"
	case errBadHandle:
		return "unknown handle"
	case errNotPermitted:
		return "GPIO operation not permitted"
	case errBadHpwmFreq:
		return "hardware PWM frequency not 1-125M"
	case errBadHpwmDuty:
		return "hardware PWM dutycycle not 0-1M"
	case errHpwmIllegal:
		return "GPIO has no hardware PWM"
	case errBadFilter:
		return "bad glitch filter parameter"
	default:
		return fmt.Sprintf("daemon error %d", code)
	}
}
