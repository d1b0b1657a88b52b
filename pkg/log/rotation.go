// Log file rotation for the PARMCO Go migration
//
// The host runs headless on a Pi; when a log file is configured it is
// rotated by size with a bounded number of numbered backups.
//
// Copyright (C) 2026  PARMCO Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package log

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

const (
	defaultMaxSizeMB  = 5
	defaultMaxBackups = 3
)

// RotationConfig describes where the log file lives and when it
// rolls over.
type RotationConfig struct {
	// Filename is the log file path. Required.
	Filename string

	// MaxSize is the rollover threshold in megabytes, 5 if zero.
	MaxSize int

	// MaxBackups is how many rotated files to keep, 3 if zero.
	MaxBackups int
}

// RotatingFileWriter is an io.Writer that rolls the file over once it
// reaches a size limit. Backups are kept as <name>.1 .. <name>.N,
// .1 being the most recent.
type RotatingFileWriter struct {
	mu          sync.Mutex
	path        string
	limit       int64
	backups     int
	currentSize int64
	f           *os.File
}

// NewRotatingFileWriter opens config.Filename for appending, creating
// parent directories as needed.
func NewRotatingFileWriter(config RotationConfig) (*RotatingFileWriter, error) {
	if config.Filename == "" {
		return nil, fmt.Errorf("filename is required")
	}

	w := &RotatingFileWriter{
		path:    config.Filename,
		limit:   int64(config.MaxSize) * 1024 * 1024,
		backups: config.MaxBackups,
	}
	if config.MaxSize <= 0 {
		w.limit = defaultMaxSizeMB * 1024 * 1024
	}
	if config.MaxBackups <= 0 {
		w.backups = defaultMaxBackups
	}

	if err := w.open(); err != nil {
		return nil, err
	}
	return w, nil
}

// open points w at the live log file and records its size.
func (w *RotatingFileWriter) open() error {
	if err := os.MkdirAll(filepath.Dir(w.path), 0755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}

	f, err := os.OpenFile(w.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat log file: %w", err)
	}

	w.f = f
	w.currentSize = info.Size()
	return nil
}

// Write appends p, rotating first if the file would grow past the
// size limit.
func (w *RotatingFileWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.currentSize+int64(len(p)) > w.limit {
		if err := w.rotate(); err != nil {
			return 0, fmt.Errorf("rotate log file: %w", err)
		}
	}

	n, err := w.f.Write(p)
	w.currentSize += int64(n)
	return n, err
}

func (w *RotatingFileWriter) backupName(i int) string {
	return fmt.Sprintf("%s.%d", w.path, i)
}

// rotate shifts the backup chain up one slot and starts a fresh file.
// Renaming .N-1 over .N drops the oldest backup; missing slots in the
// chain are skipped silently.
func (w *RotatingFileWriter) rotate() error {
	if err := w.f.Close(); err != nil {
		return fmt.Errorf("close current file: %w", err)
	}

	for i := w.backups - 1; i >= 1; i-- {
		os.Rename(w.backupName(i), w.backupName(i+1))
	}
	if err := os.Rename(w.path, w.backupName(1)); err != nil {
		// Keep logging into the old file rather than losing output
		w.open()
		return fmt.Errorf("rename log file: %w", err)
	}

	return w.open()
}

// Close closes the underlying file.
func (w *RotatingFileWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.f == nil {
		return nil
	}
	return w.f.Close()
}

// Sync flushes the underlying file to stable storage.
func (w *RotatingFileWriter) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.f == nil {
		return nil
	}
	return w.f.Sync()
}

// CurrentSize returns the size of the live log file.
func (w *RotatingFileWriter) CurrentSize() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.currentSize
}

// Filename returns the path of the live log file.
func (w *RotatingFileWriter) Filename() string {
	return w.path
}

// MultiWriter fans writes out to several sinks. Unlike io.MultiWriter
// a failing sink does not starve the rest; every sink sees every
// write and the first error is reported.
type MultiWriter struct {
	writers []io.Writer
}

func NewMultiWriter(writers ...io.Writer) *MultiWriter {
	return &MultiWriter{writers: writers}
}

func (mw *MultiWriter) Write(p []byte) (int, error) {
	var firstErr error
	for _, w := range mw.writers {
		if _, err := w.Write(p); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return 0, firstErr
	}
	return len(p), nil
}

// NewConsoleAndFileLogger builds a logger writing to both stderr and
// a rotating file. Colors are disabled so the file stays readable.
func NewConsoleAndFileLogger(prefix string, config RotationConfig) (*Logger, *RotatingFileWriter, error) {
	fileWriter, err := NewRotatingFileWriter(config)
	if err != nil {
		return nil, nil, err
	}

	logger := New(prefix)
	logger.SetWriter(NewMultiWriter(os.Stderr, fileWriter))
	logger.SetColorize(false)
	return logger, fileWriter, nil
}
