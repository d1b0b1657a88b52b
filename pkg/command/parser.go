// Byte-stream command and setpoint parsing
//
// The session payload is a stream of single-character commands with
// one framed construct, `r:<digits><terminator>`, carrying a target
// RPM. Bytes arrive arbitrarily fragmented, so the parser is a state
// machine fed one byte at a time.
//
// Copyright (C) 2026  PARMCO Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package command

import (
	"strconv"

	"parmco-go-migration/pkg/log"
)

// Command bytes of the session protocol.
const (
	CmdStart            byte = 's'
	CmdStop             byte = 'x'
	CmdClockwise        byte = 'c'
	CmdCounterClockwise byte = 'v'
	CmdFaster           byte = 'f'
	CmdSlower           byte = 'd'
	CmdAuto             byte = 'a'
	CmdManual           byte = 'm'
	CmdTargetUp         byte = '+'
	CmdTargetDown       byte = '-'
)

// Dispatcher consumes what the parser recognizes. Command receives
// each single-character command byte; Setpoint receives the parsed
// target of a complete setpoint frame. Policy (which commands exist,
// whether a setpoint switches modes) lives entirely behind this
// interface.
type Dispatcher interface {
	Command(flag byte)
	Setpoint(targetRpm int)
}

type phase int

const (
	phaseNormal phase = iota
	phaseWaitColon
	phaseReadingDigits
)

// Parser reassembles the byte stream. Not safe for concurrent use;
// it is fed from the session loop only.
type Parser struct {
	dispatcher Dispatcher
	logger     *log.Logger

	phase     phase
	digits    []byte
	maxDigits int
}

// NewParser creates a parser feeding d. maxDigits bounds the setpoint
// buffer; digits beyond it are silently dropped.
func NewParser(d Dispatcher, maxDigits int) *Parser {
	if maxDigits <= 0 {
		maxDigits = 15
	}
	return &Parser{
		dispatcher: d,
		logger:     log.GetLogger("command"),
		digits:     make([]byte, 0, maxDigits),
		maxDigits:  maxDigits,
	}
}

// Feed advances the state machine by one byte.
func (p *Parser) Feed(b byte) {
	switch p.phase {
	case phaseNormal:
		if b == 'r' {
			p.phase = phaseWaitColon
			return
		}
		p.dispatcher.Command(b)

	case phaseWaitColon:
		if b == ':' {
			p.phase = phaseReadingDigits
			p.digits = p.digits[:0]
			return
		}
		// The pending 'r' was not a frame start; this byte is an
		// ordinary command.
		p.phase = phaseNormal
		p.dispatcher.Command(b)

	case phaseReadingDigits:
		if b >= '0' && b <= '9' {
			if len(p.digits) < p.maxDigits {
				p.digits = append(p.digits, b)
			}
			return
		}
		if len(p.digits) > 0 {
			if target, err := strconv.Atoi(string(p.digits)); err == nil {
				p.dispatcher.Setpoint(target)
			} else {
				p.logger.WithField("frame", string(p.digits)).Warn("setpoint overflow ignored")
			}
		}
		p.phase = phaseNormal
		// Newline and carriage return only close the frame; anything
		// else doubles as the next command.
		if b != '\n' && b != '\r' {
			p.dispatcher.Command(b)
		}
	}
}

// FeedBytes feeds each byte of data in order.
func (p *Parser) FeedBytes(data []byte) {
	for _, b := range data {
		p.Feed(b)
	}
}

// Reset returns the parser to its initial state, discarding any
// partial frame. Part of the full session reset.
func (p *Parser) Reset() {
	p.phase = phaseNormal
	p.digits = p.digits[:0]
}
