// Package logging builds the per-component loggers used across todosync.
//
// Every component gets a standard *log.Logger with a bracketed prefix such as
// "[sync] ". Output goes to stderr when verbose, to a size-rotated file when
// one is configured, to both, or nowhere.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options selects log destinations.
type Options struct {
	Verbose bool

	// File enables a rotating log file.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool

	// Stderr overrides os.Stderr for verbose output.
	Stderr io.Writer
}

// Logs owns the shared log destination.
type Logs struct {
	out    io.Writer
	rotate *lumberjack.Logger
}

// Setup opens the destinations described by opts.
func Setup(opts Options) (*Logs, error) {
	var writers []io.Writer

	if opts.Verbose {
		stderr := opts.Stderr
		if stderr == nil {
			stderr = os.Stderr
		}
		writers = append(writers, stderr)
	}

	l := &Logs{}
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o700); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		l.rotate = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   opts.Compress,
		}
		writers = append(writers, l.rotate)
	}

	switch len(writers) {
	case 0:
		l.out = io.Discard
	case 1:
		l.out = writers[0]
	default:
		l.out = io.MultiWriter(writers...)
	}
	return l, nil
}

// Discard returns Logs that drop everything.
func Discard() *Logs {
	return &Logs{out: io.Discard}
}

// Logger returns a logger prefixed with "[component] ".
func (l *Logs) Logger(component string) *log.Logger {
	return log.New(l.out, "["+component+"] ", log.LstdFlags)
}

// Writer returns the shared destination.
func (l *Logs) Writer() io.Writer {
	return l.out
}

// Enabled reports whether anything is written at all.
func (l *Logs) Enabled() bool {
	return l.out != io.Discard
}

// Rotate starts a new log file. It is a no-op without a log file.
func (l *Logs) Rotate() error {
	if l.rotate == nil {
		return nil
	}
	return l.rotate.Rotate()
}

// Close closes the log file, if any.
func (l *Logs) Close() error {
	if l.rotate == nil {
		return nil
	}
	return l.rotate.Close()
}
