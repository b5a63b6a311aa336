package log

import (
	"io"
	stdlog "log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/xiaoyuanzhu-com/claude-agent-go/config"
)

var (
	logger     zerolog.Logger
	loggerLock sync.RWMutex
)

func init() {
	cfg := config.Get()

	var output io.Writer
	if cfg.IsDevelopment() {
		output = zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.Kitchen,
		}
	} else {
		output = os.Stderr
	}

	logger = zerolog.New(output).
		Level(parseLogLevel(cfg.LogLevel)).
		With().
		Timestamp().
		Logger()
}

// SetLevel sets the global log level at runtime
func SetLevel(levelStr string) {
	level := parseLogLevel(levelStr)
	loggerLock.Lock()
	logger = logger.Level(level)
	loggerLock.Unlock()
}

// SetOutput replaces the log destination. Tests use it to capture output.
func SetOutput(w io.Writer) {
	loggerLock.Lock()
	logger = logger.Output(w)
	loggerLock.Unlock()
}

// parseLogLevel converts a string log level to zerolog.Level
func parseLogLevel(levelStr string) zerolog.Level {
	switch strings.ToLower(levelStr) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "disabled", "off":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

func current() *zerolog.Logger {
	loggerLock.RLock()
	l := logger
	loggerLock.RUnlock()
	return &l
}

// Debug logs a debug message
func Debug() *zerolog.Event {
	return current().Debug()
}

// Info logs an info message
func Info() *zerolog.Event {
	return current().Info()
}

// Warn logs a warning message
func Warn() *zerolog.Event {
	return current().Warn()
}

// Error logs an error message
func Error() *zerolog.Event {
	return current().Error()
}

// Fatal logs a fatal message and exits
func Fatal() *zerolog.Event {
	return current().Fatal()
}

// Logger returns the underlying zerolog.Logger for integrations
func Logger() zerolog.Logger {
	return *current()
}

// With returns a child logger carrying the given string field,
// e.g. log.With("session", id).Info().Msg("...").
func With(key, value string) zerolog.Logger {
	return current().With().Str(key, value).Logger()
}

// zerologWriter wraps a zerolog.Logger to implement io.Writer
type zerologWriter struct {
	logger zerolog.Logger
}

func (w zerologWriter) Write(p []byte) (n int, err error) {
	// Trim trailing newline that stdlib log adds
	msg := strings.TrimSuffix(string(p), "\n")
	w.logger.Warn().Msg(msg)
	return len(p), nil
}

// StdErrorLogger returns a standard library *log.Logger that writes to zerolog.
// Useful for passing to http.Server.ErrorLog.
func StdErrorLogger() *stdlog.Logger {
	return stdlog.New(zerologWriter{logger: *current()}, "", 0)
}
