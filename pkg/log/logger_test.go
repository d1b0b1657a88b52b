// Logger tests
//
// Copyright (C) 2026  PARMCO Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package log

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
)

// capture returns a plain-text DEBUG logger writing into the returned
// buffer, colors off so assertions can match raw text.
func capture(prefix string) (*Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	l := New(prefix)
	l.SetWriter(buf)
	l.SetLevel(DEBUG)
	l.SetColorize(false)
	return l, buf
}

func decodeLine(t *testing.T, buf *bytes.Buffer) jsonEntry {
	t.Helper()
	var je jsonEntry
	if err := json.Unmarshal(buf.Bytes(), &je); err != nil {
		t.Fatalf("bad JSON line %q: %v", buf.String(), err)
	}
	return je
}

func TestTextLineShape(t *testing.T) {
	l, buf := capture("session")
	l.Info("target %d rpm", 500)

	line := buf.String()
	for _, want := range []string{"[INFO ]", "session:", "target 500 rpm"} {
		if !strings.Contains(line, want) {
			t.Errorf("line %q missing %q", line, want)
		}
	}
	if !strings.HasSuffix(line, "\n") {
		t.Errorf("line %q not newline terminated", line)
	}
}

func TestLevelFiltering(t *testing.T) {
	cases := []struct {
		min     LogLevel
		logged  LogLevel
		written bool
	}{
		{INFO, DEBUG, false},
		{INFO, INFO, true},
		{INFO, ERROR, true},
		{WARN, INFO, false},
		{WARN, WARN, true},
		{ERROR, WARN, false},
		{DEBUG, DEBUG, true},
	}
	for _, tc := range cases {
		l, buf := capture("filter")
		l.SetLevel(tc.min)
		l.emit(tc.logged, "probe", nil)
		if got := buf.Len() > 0; got != tc.written {
			t.Errorf("min=%v logged=%v: written=%v, want %v",
				tc.min, tc.logged, got, tc.written)
		}
	}
}

func TestJSONLine(t *testing.T) {
	l, buf := capture("tach")
	l.SetFormat(FormatJSON)
	l.Warn("sample rejected")

	je := decodeLine(t, buf)
	if je.Level != "WARN" || je.Logger != "tach" || je.Message != "sample rejected" {
		t.Errorf("unexpected entry: %+v", je)
	}
	if je.Caller != "" {
		t.Errorf("caller should be empty when disabled, got %q", je.Caller)
	}
}

func TestTextFieldsSorted(t *testing.T) {
	l, buf := capture("control")
	l.WithFields(Fields{"target": 1500, "drive": 62, "raw": 1520}).Info("cycle")

	line := buf.String()
	want := "{drive=62, raw=1520, target=1500}"
	if !strings.Contains(line, want) {
		t.Errorf("fields not sorted: %q, want %q", line, want)
	}
}

func TestJSONFields(t *testing.T) {
	l, buf := capture("session")
	l.SetFormat(FormatJSON)
	l.WithFields(Fields{"command": "s", "mode": "manual"}).Info("dispatched")

	je := decodeLine(t, buf)
	if je.Fields["command"] != "s" || je.Fields["mode"] != "manual" {
		t.Errorf("unexpected fields: %v", je.Fields)
	}
}

func TestWithErrorField(t *testing.T) {
	l, buf := capture("transport")
	l.SetFormat(FormatJSON)
	l.WithError(errors.New("connection reset")).Error("telemetry write failed")

	je := decodeLine(t, buf)
	if je.Fields["error"] != "connection reset" {
		t.Errorf("expected error field, got %v", je.Fields)
	}
}

func TestEntryChaining(t *testing.T) {
	l, buf := capture("control")
	l.SetFormat(FormatJSON)

	l.WithField("raw", 1520).
		WithField("smoothed", 1460).
		WithFields(Fields{"smoothed": 1470, "target": 1500}).
		Info("cycle")

	je := decodeLine(t, buf)
	if len(je.Fields) != 3 {
		t.Fatalf("expected 3 fields, got %v", je.Fields)
	}
	// Later WithFields wins on key collision.
	if je.Fields["smoothed"] != float64(1470) {
		t.Errorf("expected smoothed=1470 after override, got %v", je.Fields["smoothed"])
	}
}

func TestEntryFormatted(t *testing.T) {
	l, buf := capture("session")
	l.WithField("peer", "AA:BB").Infof("client %s after %d ms", "gone", 40)

	if !strings.Contains(buf.String(), "client gone after 40 ms") {
		t.Errorf("formatted message missing: %q", buf.String())
	}
	if !strings.Contains(buf.String(), "peer=AA:BB") {
		t.Errorf("field missing: %q", buf.String())
	}
}

func TestWithPrefixInherits(t *testing.T) {
	parent, buf := capture("host")
	parent.SetLevel(WARN)

	child := parent.WithPrefix("motor")
	child.Info("filtered")
	if buf.Len() != 0 {
		t.Errorf("child should inherit WARN level, wrote %q", buf.String())
	}
	child.Warn("spins")
	if !strings.Contains(buf.String(), "motor:") {
		t.Errorf("expected child prefix, got %q", buf.String())
	}

	// Settings are copied at derive time, not linked.
	parent.SetLevel(ERROR)
	buf.Reset()
	child.Warn("still warn")
	if buf.Len() == 0 {
		t.Error("child level should be unaffected by later parent changes")
	}
}

func TestCallerTag(t *testing.T) {
	l, buf := capture("rig")
	l.SetCaller(true)
	l.Info("probe")

	if !strings.Contains(buf.String(), "logger_test.go:") {
		t.Errorf("expected caller tag, got %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]LogLevel{
		"DEBUG":   DEBUG,
		"debug":   DEBUG,
		"INFO":    INFO,
		"WARN":    WARN,
		"Warning": WARN,
		"error":   ERROR,
		"bogus":   INFO,
		"":        INFO,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestLevelString(t *testing.T) {
	if DEBUG.String() != "DEBUG" || ERROR.String() != "ERROR" {
		t.Error("level names wrong")
	}
	if LogLevel(42).String() != "UNKNOWN" {
		t.Errorf("out-of-range level: %s", LogLevel(42).String())
	}
}

func TestGetLoggerPrefix(t *testing.T) {
	l := GetLogger("tach")
	if l == nil || l.prefix != "tach" {
		t.Fatalf("GetLogger: %+v", l)
	}
}

func TestConcurrentUse(t *testing.T) {
	l, buf := capture("conc")

	var wg sync.WaitGroup
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				l.WithField("g", g).Info("line")
			}
		}(g)
	}
	wg.Wait()

	if n := strings.Count(buf.String(), "\n"); n != 500 {
		t.Errorf("expected 500 complete lines, got %d", n)
	}
}

func BenchmarkTextLine(b *testing.B) {
	l, buf := capture("bench")
	l.SetLevel(INFO)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		buf.Reset()
		l.Info("cycle %d", i)
	}
}

func BenchmarkFilteredLine(b *testing.B) {
	l, _ := capture("bench")
	l.SetLevel(ERROR)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		l.Info("dropped")
	}
}
