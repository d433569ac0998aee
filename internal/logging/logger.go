// Package logging provides structured JSON logging with component tagging
// and request-scoped trace IDs.
package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Logger is the structured logging interface used across the server.
type Logger interface {
	Debug(msg string, fields ...any)
	Info(msg string, fields ...any)
	Warn(msg string, fields ...any)
	Error(msg string, fields ...any)

	// Context-aware variants pick up the trace ID from the context.
	InfoContext(ctx context.Context, msg string, fields ...any)
	ErrorContext(ctx context.Context, msg string, fields ...any)

	WithComponent(component string) Logger
}

// LogLevel represents logging levels.
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

// ParseLogLevel parses a level name, defaulting to INFO.
func ParseLogLevel(level string) LogLevel {
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

// ContextKey is the key type for logging values stored in contexts.
type ContextKey string

// TraceIDKey carries the request trace ID through contexts.
const TraceIDKey ContextKey = "trace_id"

// logEntry is the JSON shape of one log line.
type logEntry struct {
	Timestamp string         `json:"timestamp"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	TraceID   string         `json:"trace_id,omitempty"`
	Component string         `json:"component,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// StructuredLogger implements Logger with JSON or plain-text output.
type StructuredLogger struct {
	level     LogLevel
	component string
	useJSON   bool
}

// NewLogger creates a new structured logger.
func NewLogger(level LogLevel, format string) Logger {
	return &StructuredLogger{
		level:   level,
		useJSON: format != "text",
	}
}

// WithComponent creates a new logger with a component name.
func (l *StructuredLogger) WithComponent(component string) Logger {
	return &StructuredLogger{
		level:     l.level,
		component: component,
		useJSON:   l.useJSON,
	}
}

// Debug logs a debug message.
func (l *StructuredLogger) Debug(msg string, fields ...any) {
	if l.level <= DEBUG {
		l.log("DEBUG", msg, "", fields...)
	}
}

// Info logs an info message.
func (l *StructuredLogger) Info(msg string, fields ...any) {
	if l.level <= INFO {
		l.log("INFO", msg, "", fields...)
	}
}

// Warn logs a warning message.
func (l *StructuredLogger) Warn(msg string, fields ...any) {
	if l.level <= WARN {
		l.log("WARN", msg, "", fields...)
	}
}

// Error logs an error message.
func (l *StructuredLogger) Error(msg string, fields ...any) {
	if l.level <= ERROR {
		l.log("ERROR", msg, "", fields...)
	}
}

// InfoContext logs an info message with the context trace ID.
func (l *StructuredLogger) InfoContext(ctx context.Context, msg string, fields ...any) {
	if l.level <= INFO {
		l.log("INFO", msg, GetTraceID(ctx), fields...)
	}
}

// ErrorContext logs an error message with the context trace ID.
func (l *StructuredLogger) ErrorContext(ctx context.Context, msg string, fields ...any) {
	if l.level <= ERROR {
		l.log("ERROR", msg, GetTraceID(ctx), fields...)
	}
}

// log builds and writes one entry. Fields are alternating key/value pairs.
func (l *StructuredLogger) log(level, msg, traceID string, fields ...any) {
	var fieldMap map[string]any
	if len(fields) > 0 {
		fieldMap = make(map[string]any, len(fields)/2)
		for i := 0; i < len(fields); i += 2 {
			key := fmt.Sprintf("%v", fields[i])
			if i+1 < len(fields) {
				fieldMap[key] = fields[i+1]
			} else {
				fieldMap[key] = nil
			}
		}
	}

	entry := logEntry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Level:     level,
		Message:   msg,
		TraceID:   traceID,
		Component: l.component,
		Fields:    fieldMap,
	}

	if l.useJSON {
		data, err := json.Marshal(entry)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to marshal log entry: %v\n", err)
			return
		}
		fmt.Println(string(data))
		return
	}

	parts := []string{entry.Timestamp, "[" + entry.Level + "]"}
	if entry.TraceID != "" {
		parts = append(parts, "trace:"+shortTrace(entry.TraceID))
	}
	if entry.Component != "" {
		parts = append(parts, "component:"+entry.Component)
	}
	parts = append(parts, entry.Message)
	for k, v := range entry.Fields {
		parts = append(parts, fmt.Sprintf("%s=%v", k, v))
	}
	fmt.Println(strings.Join(parts, " "))
}

func shortTrace(traceID string) string {
	if len(traceID) > 8 {
		return traceID[:8]
	}
	return traceID
}

// Default logger instance used by the package-level helpers.
var defaultLogger Logger = NewLogger(INFO, "json")

// SetDefaultLogger sets the default logger instance.
func SetDefaultLogger(logger Logger) {
	defaultLogger = logger
}

// WithComponent returns a component-scoped logger off the default instance.
func WithComponent(component string) Logger {
	return defaultLogger.WithComponent(component)
}

// Info logs an info message on the default logger.
func Info(msg string, fields ...any) { defaultLogger.Info(msg, fields...) }

// Warn logs a warning message on the default logger.
func Warn(msg string, fields ...any) { defaultLogger.Warn(msg, fields...) }

// Error logs an error message on the default logger.
func Error(msg string, fields ...any) { defaultLogger.Error(msg, fields...) }

// Debug logs a debug message on the default logger.
func Debug(msg string, fields ...any) { defaultLogger.Debug(msg, fields...) }

// GenerateTraceID returns a fresh trace ID.
func GenerateTraceID() string {
	return uuid.New().String()
}

// WithTraceID attaches a trace ID to the context, generating one if empty.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	if traceID == "" {
		traceID = GenerateTraceID()
	}
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// GetTraceID extracts the trace ID from a context, if any.
func GetTraceID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if traceID, ok := ctx.Value(TraceIDKey).(string); ok {
		return traceID
	}
	return ""
}
