package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// LogLevel represents the severity of a log message
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	SILENT // No logging
)

func (l LogLevel) zerolog() zerolog.Level {
	switch l {
	case DEBUG:
		return zerolog.DebugLevel
	case INFO:
		return zerolog.InfoLevel
	case WARN:
		return zerolog.WarnLevel
	case ERROR:
		return zerolog.ErrorLevel
	default:
		return zerolog.Disabled
	}
}

// Logger provides leveled logging with module support
type Logger struct {
	mu    sync.RWMutex
	level LogLevel
	zl    zerolog.Logger
}

var defaultLogger *Logger
var once sync.Once

// Init initializes the global logger (call once at startup)
func Init(level LogLevel, output io.Writer, useColor bool) {
	once.Do(func() {
		defaultLogger = New(level, output, useColor)
	})
}

// New creates a new Logger instance writing console lines prefixed with the
// module tag
func New(level LogLevel, output io.Writer, useColor bool) *Logger {
	if output == nil {
		output = os.Stderr
	}
	w := zerolog.ConsoleWriter{
		Out:        output,
		NoColor:    !useColor,
		TimeFormat: "2006/01/02 15:04:05.000000",
	}

	zl := zerolog.New(w).Level(level.zerolog()).With().Timestamp().Logger()
	return &Logger{level: level, zl: zl}
}

// SetLevel changes the log level
func (l *Logger) SetLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
	l.zl = l.zl.Level(level.zerolog())
}

// GetLevel returns the current log level
func (l *Logger) GetLevel() LogLevel {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.level
}

// Zerolog returns the underlying logger scoped to module, for callers that
// want structured fields
func (l *Logger) Zerolog(module string) zerolog.Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.zl.With().Str("module", module).Logger()
}

func (l *Logger) log(level LogLevel, module string, format string, args ...interface{}) {
	l.mu.RLock()
	if level < l.level || level >= SILENT {
		l.mu.RUnlock()
		return
	}
	zl := l.zl
	l.mu.RUnlock()

	var ev *zerolog.Event
	switch level {
	case DEBUG:
		ev = zl.Debug()
	case INFO:
		ev = zl.Info()
	case WARN:
		ev = zl.Warn()
	case ERROR:
		ev = zl.Error()
	default:
		return
	}
	msg := fmt.Sprintf(format, args...)
	if module != "" {
		msg = "[" + module + "] " + msg
	}
	ev.Msg(msg)
}

// Debug logs a debug message
func (l *Logger) Debug(module string, format string, args ...interface{}) {
	l.log(DEBUG, module, format, args...)
}

// Info logs an info message
func (l *Logger) Info(module string, format string, args ...interface{}) {
	l.log(INFO, module, format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(module string, format string, args ...interface{}) {
	l.log(WARN, module, format, args...)
}

// Error logs an error message
func (l *Logger) Error(module string, format string, args ...interface{}) {
	l.log(ERROR, module, format, args...)
}

var nop = New(SILENT, io.Discard, false)

// std is the logger behind the package-level functions; output is dropped
// until Init runs
func std() *Logger {
	if defaultLogger != nil {
		return defaultLogger
	}
	return nop
}

// SetLevel sets the global log level
func SetLevel(level LogLevel) { std().SetLevel(level) }

// GetLevel returns the global log level
func GetLevel() LogLevel {
	if defaultLogger == nil {
		return INFO
	}
	return defaultLogger.GetLevel()
}

// Named returns a structured logger for module
func Named(module string) zerolog.Logger { return std().Zerolog(module) }

func Debug(module string, format string, args ...interface{}) { std().Debug(module, format, args...) }
func Info(module string, format string, args ...interface{})  { std().Info(module, format, args...) }
func Warn(module string, format string, args ...interface{})  { std().Warn(module, format, args...) }
func Error(module string, format string, args ...interface{}) { std().Error(module, format, args...) }

// ParseLevel parses a log level string
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DEBUG, nil
	case "info":
		return INFO, nil
	case "warn", "warning":
		return WARN, nil
	case "error":
		return ERROR, nil
	case "silent", "none":
		return SILENT, nil
	default:
		return INFO, fmt.Errorf("invalid log level: %s", s)
	}
}

func (l LogLevel) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	case SILENT:
		return "SILENT"
	}
	return "UNKNOWN"
}
