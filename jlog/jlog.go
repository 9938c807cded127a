// Public domain.

// Package jlog defines the logging sink used throughout jointfit.
//
// Fitters, models, and the association stage all take a Logger at
// construction rather than writing to a global.  Callers embedding the
// library pick the implementation; the command uses Std, tests
// typically use NullLogger.
package jlog

import (
	"io"
	"log"
)

// Logger is a leveled printf-style sink.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// StdLogger writes through a stdlib *log.Logger, tagging each line with
// its level.  Debug lines are dropped unless Verbose is set.
type StdLogger struct {
	L       *log.Logger
	Verbose bool
}

// Std returns a StdLogger on w with stdlib default flags.
func Std(w io.Writer, verbose bool) *StdLogger {
	return &StdLogger{L: log.New(w, "", log.LstdFlags), Verbose: verbose}
}

func (s *StdLogger) Debugf(format string, args ...interface{}) {
	if s.Verbose {
		s.L.Printf("debug: "+format, args...)
	}
}

func (s *StdLogger) Infof(format string, args ...interface{}) {
	s.L.Printf("info: "+format, args...)
}

func (s *StdLogger) Warnf(format string, args ...interface{}) {
	s.L.Printf("warn: "+format, args...)
}

func (s *StdLogger) Errorf(format string, args ...interface{}) {
	s.L.Printf("error: "+format, args...)
}

// NullLogger discards everything.
type NullLogger struct{}

func (NullLogger) Debugf(string, ...interface{}) {}
func (NullLogger) Infof(string, ...interface{})  {}
func (NullLogger) Warnf(string, ...interface{})  {}
func (NullLogger) Errorf(string, ...interface{}) {}
