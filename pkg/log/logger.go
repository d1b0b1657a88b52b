// Leveled structured logging for the PARMCO Go migration
//
// Copyright (C) 2026  PARMCO Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

// Package log provides the host's leveled logger. Every subsystem
// takes a *Logger (usually via GetLogger) with its own prefix; output
// is a single text or JSON line per message with optional key=value
// fields. The default logger is configured from PARMCO_LOG_*
// environment variables at init and can be replaced wholesale with
// SetDefaultLogger before subsystems are constructed.
package log

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"
)

// LogLevel orders message severities. Messages below a logger's level
// are dropped.
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

var levelNames = [...]string{"DEBUG", "INFO", "WARN", "ERROR"}

func (l LogLevel) String() string {
	if l < DEBUG || l > ERROR {
		return "UNKNOWN"
	}
	return levelNames[l]
}

// ParseLevel maps a level name to its LogLevel. Unknown names fall
// back to INFO.
func ParseLevel(s string) LogLevel {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return DEBUG
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return INFO
	}
}

// OutputFormat selects the rendering of a log line.
type OutputFormat int

const (
	FormatText OutputFormat = iota
	FormatJSON
)

// Fields carries the key=value pairs attached to one entry.
type Fields map[string]interface{}

// Per-level ANSI colors for the prefix in text output.
var levelColors = [...]string{
	DEBUG: "\x1b[36m",
	INFO:  "\x1b[32m",
	WARN:  "\x1b[33m",
	ERROR: "\x1b[31m",
}

const colorReset = "\x1b[0m"

// Logger writes leveled messages for one named subsystem. All
// configuration and output goes through one mutex, so a Logger may be
// shared across goroutines.
type Logger struct {
	mu        sync.Mutex
	prefix    string
	out       io.Writer
	level     LogLevel
	stampFmt  string
	color     bool
	format    OutputFormat
	addCaller bool
}

// Entry is a pending message with fields attached. Entries are
// immutable; each With* call returns a copy.
type Entry struct {
	logger *Logger
	fields Fields
}

var defaultLogger *Logger

// New creates a text-format logger on stderr at INFO level.
func New(prefix string) *Logger {
	return &Logger{
		prefix:   prefix,
		out:      os.Stderr,
		level:    INFO,
		stampFmt: "2006-01-02 15:04:05.000",
		color:    os.Getenv("NO_COLOR") == "",
		format:   FormatText,
	}
}

// SetLevel sets the minimum level that gets written.
func (l *Logger) SetLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// GetLevel returns the minimum level that gets written.
func (l *Logger) GetLevel() LogLevel {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.level
}

// SetWriter redirects output, e.g. to a rotating file writer.
func (l *Logger) SetWriter(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.out = w
}

// SetColorize enables or disables ANSI colors in text output.
func (l *Logger) SetColorize(enable bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.color = enable
}

// SetFormat switches between text and JSON lines.
func (l *Logger) SetFormat(format OutputFormat) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.format = format
}

// SetCaller enables file:line of the call site in each message.
func (l *Logger) SetCaller(enable bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.addCaller = enable
}

// WithField starts an entry carrying one field.
func (l *Logger) WithField(key string, value interface{}) *Entry {
	return &Entry{logger: l, fields: Fields{key: value}}
}

// WithFields starts an entry carrying the given fields.
func (l *Logger) WithFields(fields Fields) *Entry {
	return &Entry{logger: l, fields: fields}
}

// WithError starts an entry with the error under the "error" key.
func (l *Logger) WithError(err error) *Entry {
	return l.WithField("error", err.Error())
}

// WithPrefix derives a logger for another subsystem, inheriting the
// writer, level, format and color settings at call time.
func (l *Logger) WithPrefix(prefix string) *Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	return &Logger{
		prefix:    prefix,
		out:       l.out,
		level:     l.level,
		stampFmt:  l.stampFmt,
		color:     l.color,
		format:    l.format,
		addCaller: l.addCaller,
	}
}

// callSite resolves the user frame for caller annotation. The skip
// count covers callSite, emit and the public level helper.
func callSite() string {
	_, file, line, ok := runtime.Caller(3)
	if !ok {
		return "unknown"
	}
	return filepath.Base(file) + ":" + fmt.Sprint(line)
}

// emit renders and writes one message. Every public logging method
// lands here exactly one frame deep, which callSite relies on.
func (l *Logger) emit(level LogLevel, msg string, fields Fields) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if level < l.level {
		return
	}

	caller := ""
	if l.addCaller {
		caller = callSite()
	}

	var line string
	if l.format == FormatJSON {
		line = l.renderJSON(level, msg, caller, fields)
	} else {
		line = l.renderText(level, msg, caller, fields)
	}
	fmt.Fprint(l.out, line)
}

// renderText produces "stamp [LEVEL] prefix: msg (caller) {k=v, ...}".
func (l *Logger) renderText(level LogLevel, msg, caller string, fields Fields) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s [%-5s] ", time.Now().Format(l.stampFmt), level)
	if l.color {
		sb.WriteString(levelColors[level])
		sb.WriteString(l.prefix)
		sb.WriteString(colorReset)
	} else {
		sb.WriteString(l.prefix)
	}
	sb.WriteString(": ")
	sb.WriteString(msg)
	if caller != "" {
		fmt.Fprintf(&sb, " (%s)", caller)
	}
	if len(fields) > 0 {
		sb.WriteString(" {")
		for i, k := range sortedKeys(fields) {
			if i > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "%s=%v", k, fields[k])
		}
		sb.WriteString("}")
	}
	sb.WriteString("\n")
	return sb.String()
}

type jsonEntry struct {
	Timestamp string                 `json:"timestamp"`
	Level     string                 `json:"level"`
	Logger    string                 `json:"logger"`
	Message   string                 `json:"message"`
	Caller    string                 `json:"caller,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

func (l *Logger) renderJSON(level LogLevel, msg, caller string, fields Fields) string {
	je := jsonEntry{
		Timestamp: time.Now().Format(time.RFC3339Nano),
		Level:     level.String(),
		Logger:    l.prefix,
		Message:   msg,
		Caller:    caller,
		Fields:    fields,
	}
	data, err := json.Marshal(je)
	if err != nil {
		return fmt.Sprintf(`{"error":"log marshal: %v"}`+"\n", err)
	}
	return string(data) + "\n"
}

func sortedKeys(fields Fields) []string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Debug logs at DEBUG level with optional Printf args.
func (l *Logger) Debug(msg string, args ...interface{}) {
	l.emit(DEBUG, sprintf(msg, args), nil)
}

// Info logs at INFO level with optional Printf args.
func (l *Logger) Info(msg string, args ...interface{}) {
	l.emit(INFO, sprintf(msg, args), nil)
}

// Warn logs at WARN level with optional Printf args.
func (l *Logger) Warn(msg string, args ...interface{}) {
	l.emit(WARN, sprintf(msg, args), nil)
}

// Error logs at ERROR level with optional Printf args.
func (l *Logger) Error(msg string, args ...interface{}) {
	l.emit(ERROR, sprintf(msg, args), nil)
}

func sprintf(msg string, args []interface{}) string {
	if len(args) == 0 {
		return msg
	}
	return fmt.Sprintf(msg, args...)
}

// WithField adds one more field, keeping the existing ones.
func (e *Entry) WithField(key string, value interface{}) *Entry {
	return e.WithFields(Fields{key: value})
}

// WithFields adds fields, keeping the existing ones. Later keys win.
func (e *Entry) WithFields(fields Fields) *Entry {
	merged := make(Fields, len(e.fields)+len(fields))
	for k, v := range e.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &Entry{logger: e.logger, fields: merged}
}

// WithError adds the error under the "error" key.
func (e *Entry) WithError(err error) *Entry {
	return e.WithField("error", err.Error())
}

func (e *Entry) Debug(msg string) { e.logger.emit(DEBUG, msg, e.fields) }
func (e *Entry) Info(msg string)  { e.logger.emit(INFO, msg, e.fields) }
func (e *Entry) Warn(msg string)  { e.logger.emit(WARN, msg, e.fields) }
func (e *Entry) Error(msg string) { e.logger.emit(ERROR, msg, e.fields) }

func (e *Entry) Debugf(format string, args ...interface{}) {
	e.logger.emit(DEBUG, fmt.Sprintf(format, args...), e.fields)
}

func (e *Entry) Infof(format string, args ...interface{}) {
	e.logger.emit(INFO, fmt.Sprintf(format, args...), e.fields)
}

func (e *Entry) Warnf(format string, args ...interface{}) {
	e.logger.emit(WARN, fmt.Sprintf(format, args...), e.fields)
}

func (e *Entry) Errorf(format string, args ...interface{}) {
	e.logger.emit(ERROR, fmt.Sprintf(format, args...), e.fields)
}

// SetDefaultLogger replaces the logger that GetLogger derives from.
// Call it before constructing subsystems; loggers already handed out
// keep their old settings.
func SetDefaultLogger(logger *Logger) {
	defaultLogger = logger
}

// GetLogger returns a subsystem logger derived from the default.
func GetLogger(prefix string) *Logger {
	if defaultLogger == nil {
		defaultLogger = New("parmco")
	}
	return defaultLogger.WithPrefix(prefix)
}

// Package-level helpers on the default logger.

func Debug(msg string, args ...interface{}) { GetLogger("").Debug(msg, args...) }
func Info(msg string, args ...interface{})  { GetLogger("").Info(msg, args...) }
func Warn(msg string, args ...interface{})  { GetLogger("").Warn(msg, args...) }
func Error(msg string, args ...interface{}) { GetLogger("").Error(msg, args...) }

func init() {
	defaultLogger = New("parmco")
	ConfigureFromEnv(defaultLogger)
}

// ConfigureFromEnv applies environment overrides:
//
//	PARMCO_LOG_LEVEL   DEBUG, INFO, WARN, ERROR
//	PARMCO_LOG_FORMAT  text, json
//	PARMCO_LOG_CALLER  non-empty enables caller info
//	NO_COLOR           non-empty disables colors
func ConfigureFromEnv(l *Logger) {
	if s := os.Getenv("PARMCO_LOG_LEVEL"); s != "" {
		l.SetLevel(ParseLevel(s))
	}
	switch strings.ToLower(os.Getenv("PARMCO_LOG_FORMAT")) {
	case "json":
		l.SetFormat(FormatJSON)
	case "text":
		l.SetFormat(FormatText)
	}
	if os.Getenv("PARMCO_LOG_CALLER") != "" {
		l.SetCaller(true)
	}
	if os.Getenv("NO_COLOR") != "" {
		l.SetColorize(false)
	}
}
