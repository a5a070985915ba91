package logger

import (
	"fmt"
	"log"
	"strings"
	"sync"
)

type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

var (
	defaultLogger *Logger
	once          sync.Once
)

// Logger is a leveled logger instance. Output goes through the standard
// library log package so timestamps and destinations stay configurable
// from one place.
type Logger struct {
	level Level
	mu    sync.RWMutex
}

// New creates a Logger at the named level ("debug", "info", "warn", "error").
func New(level string) *Logger {
	return &Logger{level: ParseLevel(level)}
}

func getDefaultLogger() *Logger {
	once.Do(func() {
		defaultLogger = &Logger{level: INFO}
	})
	return defaultLogger
}

// ParseLevel converts a level name to a Level, defaulting to INFO.
func ParseLevel(level string) Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return DEBUG
	case "INFO":
		return INFO
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return INFO
	}
}

// SetLevel sets the global default log level.
func SetLevel(level string) {
	getDefaultLogger().SetLevel(level)
}

// SetLevel sets this instance's level.
func (l *Logger) SetLevel(level string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = ParseLevel(level)
}

func (l *Logger) shouldLog(level Level) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return level >= l.level
}

func logMessage(level string, format string, v ...any) {
	log.Printf("[%s] %s", level, fmt.Sprintf(format, v...))
}

func (l *Logger) Debug(format string, v ...any) {
	if l.shouldLog(DEBUG) {
		logMessage("DEBUG", format, v...)
	}
}

func (l *Logger) Info(format string, v ...any) {
	if l.shouldLog(INFO) {
		logMessage("INFO", format, v...)
	}
}

func (l *Logger) Warn(format string, v ...any) {
	if l.shouldLog(WARN) {
		logMessage("WARN", format, v...)
	}
}

func (l *Logger) Error(format string, v ...any) {
	if l.shouldLog(ERROR) {
		logMessage("ERROR", format, v...)
	}
}

// Package-level helpers that write through the default logger.

func Debug(format string, v ...any) { getDefaultLogger().Debug(format, v...) }
func Info(format string, v ...any)  { getDefaultLogger().Info(format, v...) }
func Warn(format string, v ...any)  { getDefaultLogger().Warn(format, v...) }
func Error(format string, v ...any) { getDefaultLogger().Error(format, v...) }
