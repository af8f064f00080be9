package plsk

import (
	"log"
	"time"
)

// Statter is the interface stats collectors implement to get counts out of
// the pipeline. The collector reports per-stage record counts and edition
// timings through it; termstat has an implementation for terminal use.
type Statter interface {
	Count(name string, value int64, tags ...string)
	Gauge(name string, value float64, tags ...string)
	Timing(name string, value time.Duration, tags ...string)
}

// NopStatter does nothing.
type NopStatter struct{}

// Count does nothing.
func (NopStatter) Count(name string, value int64, tags ...string) {}

// Gauge does nothing.
func (NopStatter) Gauge(name string, value float64, tags ...string) {}

// Timing does nothing.
func (NopStatter) Timing(name string, value time.Duration, tags ...string) {}

// Logger is the interface loggers must implement to get pipeline logs.
type Logger interface {
	Printf(format string, v ...interface{})
	Debugf(format string, v ...interface{})
}

// NopLogger logs nothing.
type NopLogger struct{}

// Printf does nothing.
func (NopLogger) Printf(format string, v ...interface{}) {}

// Debugf does nothing.
func (NopLogger) Debugf(format string, v ...interface{}) {}

// StdLogger only prints on Printf.
type StdLogger struct {
	*log.Logger
}

// Printf implements Logger.
func (s StdLogger) Printf(format string, v ...interface{}) {
	s.Logger.Printf(format, v...)
}

// Debugf implements Logger, but prints nothing.
func (StdLogger) Debugf(format string, v ...interface{}) {}

// VerboseLogger prints on both Printf and Debugf.
type VerboseLogger struct {
	*log.Logger
}

// Printf implements Logger.
func (s VerboseLogger) Printf(format string, v ...interface{}) {
	s.Logger.Printf(format, v...)
}

// Debugf implements Logger.
func (s VerboseLogger) Debugf(format string, v ...interface{}) {
	s.Logger.Printf(format, v...)
}
