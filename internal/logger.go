package internal

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// LogLevel represents different logging levels
type LogLevel int

const (
	// LevelDebug for detailed debug information
	LevelDebug LogLevel = iota
	// LevelInfo for general operational information
	LevelInfo
	// LevelWarning for potentially problematic situations
	LevelWarning
	// LevelError for error conditions
	LevelError
	// LevelNone disables all logging
	LevelNone
)

var (
	currentLevel LogLevel = LevelInfo

	logger = log.New(os.Stderr, "", 0)

	// debugMode adds caller info and enables Debug output
	debugMode = false
)

// InitLogger initializes the logger with specified options
func InitLogger(level LogLevel, debugEnabled bool) {
	currentLevel = level
	debugMode = debugEnabled

	// Release builds only report errors unless asked otherwise
	if !debugEnabled && level == LevelInfo {
		currentLevel = LevelError
	}
}

// SetLogLevel changes the current logging level
func SetLogLevel(level LogLevel) {
	currentLevel = level
}

// SetLogOutput redirects log output, mostly useful in tests
func SetLogOutput(w io.Writer) {
	logger.SetOutput(w)
}

// DebugEnabled reports whether debug logging is on
func DebugEnabled() bool {
	return debugMode && currentLevel <= LevelDebug
}

func callerInfo() string {
	if !debugMode {
		return ""
	}

	// log.Output -> formatLog -> level func -> caller
	_, file, line, ok := runtime.Caller(3)
	if !ok {
		return ""
	}
	return fmt.Sprintf("[%s:%d] ", filepath.Base(file), line)
}

func formatLog(level string, format string, args ...interface{}) string {
	timestamp := time.Now().Format("2006/01/02 15:04:05")

	message := format
	if len(args) > 0 {
		message = fmt.Sprintf(format, args...)
	}

	return fmt.Sprintf("%s %s%s: %s", timestamp, callerInfo(), level, message)
}

// Debug logs debug level messages
func Debug(format string, args ...interface{}) {
	if !DebugEnabled() {
		return
	}
	logger.Output(2, formatLog("DEBUG", format, args...))
}

// Info logs info level messages
func Info(format string, args ...interface{}) {
	if currentLevel > LevelInfo {
		return
	}
	logger.Output(2, formatLog("INFO", format, args...))
}

// Warn logs warning level messages
func Warn(format string, args ...interface{}) {
	if currentLevel > LevelWarning {
		return
	}
	logger.Output(2, formatLog("WARN", format, args...))
}

// Error logs error level messages
func Error(format string, args ...interface{}) {
	if currentLevel > LevelError {
		return
	}
	logger.Output(2, formatLog("ERROR", format, args...))
}

// Fatal logs a fatal error message and exits the program
func Fatal(format string, args ...interface{}) {
	logger.Output(2, formatLog("FATAL", format, args...))
	os.Exit(1)
}
