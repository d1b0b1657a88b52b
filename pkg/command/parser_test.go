// Command parser unit tests
//
// Copyright (C) 2026  PARMCO Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package command

import (
	"reflect"
	"strconv"
	"testing"
)

// recorder captures dispatched events in order.
type recorder struct {
	events []string
}

func (r *recorder) Command(flag byte) {
	r.events = append(r.events, "cmd:"+string(flag))
}

func (r *recorder) Setpoint(targetRpm int) {
	r.events = append(r.events, "set:"+strconv.Itoa(targetRpm))
}

// TestParserTransitions tests the three-state machine against byte
// sequences
func TestParserTransitions(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{
			name:  "Plain command",
			input: "s",
			want:  []string{"cmd:s"},
		},
		{
			name:  "Command burst",
			input: "scv",
			want:  []string{"cmd:s", "cmd:c", "cmd:v"},
		},
		{
			name:  "Setpoint frame with newline",
			input: "r:500\n",
			want:  []string{"set:500"},
		},
		{
			name:  "Setpoint frame with carriage return",
			input: "r:42\r",
			want:  []string{"set:42"},
		},
		{
			name:  "Terminator doubles as command",
			input: "r:500f",
			want:  []string{"set:500", "cmd:f"},
		},
		{
			name:  "Spurious r falls back to command",
			input: "rs",
			want:  []string{"cmd:s"},
		},
		{
			name:  "Double r dispatches the second",
			input: "rr:5\n",
			want:  []string{"cmd:r", "cmd::", "cmd:5", "cmd:\n"},
		},
		{
			name:  "Empty frame ignored",
			input: "r:\n",
			want:  nil,
		},
		{
			name:  "Empty frame terminator still dispatched",
			input: "r:x",
			want:  []string{"cmd:x"},
		},
		{
			name:  "Leading zeros",
			input: "r:007\n",
			want:  []string{"set:7"},
		},
		{
			name:  "Frames back to back",
			input: "r:100\nr:200\n",
			want:  []string{"set:100", "set:200"},
		},
		{
			name:  "Commands between frames",
			input: "ar:1000\nm",
			want:  []string{"cmd:a", "set:1000", "cmd:m"},
		},
		{
			name:  "Newline in normal state dispatched",
			input: "\n",
			want:  []string{"cmd:\n"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{}
			p := NewParser(rec, 15)
			p.FeedBytes([]byte(tt.input))
			if !reflect.DeepEqual(rec.events, tt.want) {
				t.Errorf("events = %v, want %v", rec.events, tt.want)
			}
		})
	}
}

// TestParserFragmentation tests that frames split across reads parse
// identically
func TestParserFragmentation(t *testing.T) {
	rec := &recorder{}
	p := NewParser(rec, 15)

	for _, chunk := range []string{"r", ":", "5", "0", "0", "\n", "f"} {
		p.FeedBytes([]byte(chunk))
	}

	want := []string{"set:500", "cmd:f"}
	if !reflect.DeepEqual(rec.events, want) {
		t.Errorf("events = %v, want %v", rec.events, want)
	}
}

// TestParserDigitBound tests that excess digits are silently dropped
func TestParserDigitBound(t *testing.T) {
	rec := &recorder{}
	p := NewParser(rec, 15)

	p.FeedBytes([]byte("r:12345678901234567890\n"))

	want := []string{"set:123456789012345"}
	if !reflect.DeepEqual(rec.events, want) {
		t.Errorf("events = %v, want %v", rec.events, want)
	}
}

// TestParserReset tests mid-frame reset
func TestParserReset(t *testing.T) {
	rec := &recorder{}
	p := NewParser(rec, 15)

	p.FeedBytes([]byte("r:12"))
	p.Reset()
	p.FeedBytes([]byte("s"))

	want := []string{"cmd:s"}
	if !reflect.DeepEqual(rec.events, want) {
		t.Errorf("events = %v, want %v", rec.events, want)
	}
}
