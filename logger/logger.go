// Package logger provides the component-scoped structured logger used across dockhand.
// Entries are emitted as JSON lines through zap.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log levels accepted in LogEntry.Level.
const (
	LevelDebug = "DEBUG"
	LevelInfo  = "INFO"
	LevelWarn  = "WARN"
	LevelError = "ERROR"
)

type LogEntry struct {
	Level    string
	LogType  string
	Msg      string
	Duration time.Duration
	Vars     map[string]interface{}
}

type Logger struct {
	z              *zap.Logger
	file           *os.File
	Component      string
	DefaultLogType string
}

// New creates a Logger writing JSON lines to out, or only to filePath when it is set.
// level is one of debug, info, warn, error (case-insensitive); empty means info.
func New(component string, out io.Writer, filePath string, level string) (*Logger, error) {
	var lvl zapcore.Level
	if level != "" {
		if err := lvl.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", level, err)
		}
	}

	var (
		f  *os.File
		ws zapcore.WriteSyncer
	)
	if filePath != "" {
		if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create log dir for %s: %w", filePath, err)
		}
		file, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", filePath, err)
		}
		f = file
		ws = zapcore.AddSync(file)
	} else {
		if out == nil {
			out = os.Stderr
		}
		ws = zapcore.AddSync(out)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), ws, zap.NewAtomicLevelAt(lvl))

	l := FromZap(component, zap.New(core))
	l.file = f
	return l, nil
}

// FromZap wraps an existing zap logger.
func FromZap(component string, z *zap.Logger) *Logger {
	if z == nil {
		z = zap.NewNop()
	}
	return &Logger{
		z:         z,
		Component: component,
	}
}

// Nop returns a Logger that discards everything.
func Nop() *Logger {
	return &Logger{z: zap.NewNop()}
}

// Named returns a child logger for another component sharing the same sink.
func (l *Logger) Named(component string) *Logger {
	return &Logger{
		z:              l.z,
		Component:      component,
		DefaultLogType: l.DefaultLogType,
	}
}

func (l *Logger) Emit(entry LogEntry) {
	if entry.LogType == "" {
		entry.LogType = l.DefaultLogType
	}

	fields := make([]zap.Field, 0, len(entry.Vars)+3)
	if l.Component != "" {
		fields = append(fields, zap.String("component", l.Component))
	}
	if entry.LogType != "" {
		fields = append(fields, zap.String("log_type", entry.LogType))
	}
	if entry.Duration > 0 {
		fields = append(fields, zap.Int64("duration_ms", entry.Duration.Milliseconds()))
	}

	// sorted so identical entries encode identically
	keys := make([]string, 0, len(entry.Vars))
	for k := range entry.Vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := entry.Vars[k]
		if err, ok := v.(error); ok {
			fields = append(fields, zap.NamedError(k, err))
			continue
		}
		fields = append(fields, zap.Any(k, v))
	}

	l.z.Log(zapLevel(entry.Level), entry.Msg, fields...)
}

func (l *Logger) Debug(msg string, vars map[string]interface{}) {
	l.Emit(LogEntry{Level: LevelDebug, Msg: msg, Vars: vars})
}

func (l *Logger) Info(msg string, vars map[string]interface{}) {
	l.Emit(LogEntry{Level: LevelInfo, Msg: msg, Vars: vars})
}

func (l *Logger) Error(msg string, vars map[string]interface{}) {
	l.Emit(LogEntry{Level: LevelError, Msg: msg, Vars: vars})
}

func (l *Logger) SetDefaultLogType(t string) {
	l.DefaultLogType = t
}

// Close flushes buffered entries and closes the log file, if any.
func (l *Logger) Close() error {
	_ = l.z.Sync()
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

func zapLevel(level string) zapcore.Level {
	switch strings.ToUpper(level) {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn, "WARNING":
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
