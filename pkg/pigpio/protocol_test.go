// Wire format tests
//
// Copyright (C) 2026  PARMCO Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package pigpio

import (
	"bytes"
	"testing"
)

func TestEncodeRequest_KnownBytes(t *testing.T) {
	// WRITE gpio 17 level 1: all words little-endian, p3 zero
	b := EncodeRequest(nil, CmdWrite, 17, 1)
	want := []byte{
		4, 0, 0, 0,
		17, 0, 0, 0,
		1, 0, 0, 0,
		0, 0, 0, 0,
	}
	if !bytes.Equal(b, want) {
		t.Fatalf("frame=% x want % x", b, want)
	}
	if len(b) != RequestSize {
		t.Fatalf("len=%d want %d", len(b), RequestSize)
	}
}

func TestEncodeRequestExt_HardwarePWM(t *testing.T) {
	// HP gpio 18 freq 1000 duty 620000: p3 carries the extension
	// length, duty follows as a little-endian word
	ext := EncodeUint32(nil, 620000)
	b := EncodeRequestExt(nil, CmdHP, 18, 1000, ext)

	if len(b) != RequestSize+4 {
		t.Fatalf("len=%d want %d", len(b), RequestSize+4)
	}
	if b[0] != 86 {
		t.Fatalf("cmd byte=%d want 86", b[0])
	}
	// p3 = 4 (extension bytes)
	if b[12] != 4 || b[13] != 0 || b[14] != 0 || b[15] != 0 {
		t.Fatalf("p3 bytes=% x want 04 00 00 00", b[12:16])
	}
	// 620000 = 0x00097620
	if b[16] != 0x20 || b[17] != 0x76 || b[18] != 0x09 || b[19] != 0x00 {
		t.Fatalf("ext bytes=% x want 20 76 09 00", b[16:20])
	}
}

func TestDecodeResponse(t *testing.T) {
	tests := []struct {
		name       string
		frame      []byte
		wantCmd    uint32
		wantResult int32
	}{
		{
			name: "read returns level 1",
			frame: []byte{
				3, 0, 0, 0,
				23, 0, 0, 0,
				0, 0, 0, 0,
				1, 0, 0, 0,
			},
			wantCmd:    CmdRead,
			wantResult: 1,
		},
		{
			name: "bad gpio error",
			frame: []byte{
				4, 0, 0, 0,
				99, 0, 0, 0,
				1, 0, 0, 0,
				0xfd, 0xff, 0xff, 0xff, // -3
			},
			wantCmd:    CmdWrite,
			wantResult: -3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := DecodeResponse(tt.frame)
			if r.Cmd != tt.wantCmd {
				t.Errorf("Cmd = %d, want %d", r.Cmd, tt.wantCmd)
			}
			if r.Result != tt.wantResult {
				t.Errorf("Result = %d, want %d", r.Result, tt.wantResult)
			}
		})
	}
}

func TestResponseUint32Result(t *testing.T) {
	// BR1 with GPIO 31 high: result word has the top bit set and must
	// not be treated as an error
	frame := []byte{
		10, 0, 0, 0,
		0, 0, 0, 0,
		0, 0, 0, 0,
		0x00, 0x00, 0x80, 0x80,
	}
	r := DecodeResponse(frame)
	if r.Result >= 0 {
		t.Fatal("expected negative signed interpretation")
	}
	if r.Uint32Result() != 0x80800000 {
		t.Fatalf("Uint32Result = %#x, want 0x80800000", r.Uint32Result())
	}
}

func TestDecodeReport(t *testing.T) {
	// seqno 5, no flags, tick 0x01020304, level with bit 23 set
	frame := []byte{
		5, 0,
		0, 0,
		0x04, 0x03, 0x02, 0x01,
		0x00, 0x00, 0x80, 0x00,
	}
	r := DecodeReport(frame)

	if r.Seqno != 5 {
		t.Errorf("Seqno = %d, want 5", r.Seqno)
	}
	if r.Flags != 0 {
		t.Errorf("Flags = %#x, want 0", r.Flags)
	}
	if r.Tick != 0x01020304 {
		t.Errorf("Tick = %#x, want 0x01020304", r.Tick)
	}
	if r.LevelBit(23) != 1 {
		t.Error("LevelBit(23) = 0, want 1")
	}
	if r.LevelBit(17) != 0 {
		t.Error("LevelBit(17) = 1, want 0")
	}
}

func TestReportWatchdogGpio(t *testing.T) {
	frame := []byte{
		9, 0,
		byte(FlagWatchdog) | 23, 0,
		0, 0, 0, 0,
		0, 0, 0, 0,
	}
	r := DecodeReport(frame)

	if r.Flags&FlagWatchdog == 0 {
		t.Fatal("watchdog flag missing")
	}
	if r.WatchdogGpio() != 23 {
		t.Errorf("WatchdogGpio = %d, want 23", r.WatchdogGpio())
	}
}

func TestCommandName(t *testing.T) {
	tests := []struct {
		cmd  uint32
		want string
	}{
		{CmdWrite, "WRITE"},
		{CmdHP, "HP"},
		{CmdNOIB, "NOIB"},
		{CmdFG, "FG"},
		{12345, "CMD12345"},
	}

	for _, tt := range tests {
		if got := CommandName(tt.cmd); got != tt.want {
			t.Errorf("CommandName(%d) = %q, want %q", tt.cmd, got, tt.want)
		}
	}
}

func TestErrorText(t *testing.T) {
	if got := ErrorText(-3); got != "GPIO not 0-53" {
		t.Errorf("ErrorText(-3) = %q", got)
	}
	if got := ErrorText(-100); got != "GPIO has no hardware PWM" {
		t.Errorf("ErrorText(-100) = %q", got)
	}
	if got := ErrorText(-12345); got != "daemon error -12345" {
		t.Errorf("ErrorText(-12345) = %q", got)
	}
}
