// Package logging is the structured logger shared by the timing engines, the
// broadcast server and the relay.
package logging

import (
	"context"
	"io"
	"strings"
	"sync"
)

// LogLevel orders entries by severity; entries below the configured level are dropped.
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

var levelNames = map[LogLevel]string{
	DebugLevel: "DEBUG",
	InfoLevel:  "INFO",
	WarnLevel:  "WARN",
	ErrorLevel: "ERROR",
}

func (l LogLevel) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return "UNKNOWN"
}

// ParseLevel maps LOG_LEVEL text onto a level. "warning" is accepted as warn;
// anything unrecognised logs at info.
func ParseLevel(text string) LogLevel {
	text = strings.ToUpper(strings.TrimSpace(text))
	if text == "WARNING" {
		return WarnLevel
	}
	for level, name := range levelNames {
		if name == text {
			return level
		}
	}
	return InfoLevel
}

// Field is one structured key/value attached to an entry.
type Field struct {
	Key   string
	Value interface{}
}

// Logger is what every component receives; tests pass NewNopLogger.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, err error, fields ...Field)
	WithFields(fields ...Field) Logger
	WithContext(ctx context.Context) Logger
}

// LogConfig selects the level, destination and timestamp layout. A nil Output
// writes to stdout.
type LogConfig struct {
	Level      LogLevel
	Output     io.Writer
	TimeFormat string
}

var (
	globalMu     sync.RWMutex
	globalLogger Logger
	globalOnce   sync.Once
)

// SetGlobalLogger replaces the process logger. Once set, the lazy stdout
// default is never installed over it.
func SetGlobalLogger(logger Logger) {
	globalOnce.Do(func() {})
	globalMu.Lock()
	globalLogger = logger
	globalMu.Unlock()
}

// GetGlobalLogger returns the process logger, building the stdout default on
// first use if nothing was installed.
func GetGlobalLogger() Logger {
	globalOnce.Do(func() { globalLogger = NewDefaultLogger() })
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalLogger
}

// Info writes to the process logger; used by the binaries before components
// hold their own logger.
func Info(msg string, fields ...Field) {
	GetGlobalLogger().Info(msg, fields...)
}

// Error writes to the process logger.
func Error(msg string, err error, fields ...Field) {
	GetGlobalLogger().Error(msg, err, fields...)
}
