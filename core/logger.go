package core

import (
	"fmt"
	"os"
	"time"
)

var loggerInstance Logger = *NewDevelopmentLogger() // default to development logger

// SetLogger sets the global logger instance.
func SetLogger(logger Logger) {
	loggerInstance = logger
}

// GetLogger retrieves the global logger instance.
func GetLogger() *Logger {
	return &loggerInstance
}

// Logger routes structured log lines to a handler function. Session-scoped
// loggers are derived with With and carried in the job context.
type Logger struct {
	handlerFunc func(level string, msg string, attrs map[string]any)
	attrs       map[string]any
}

func NewLogger(handler func(level string, msg string, attrs map[string]any)) *Logger {
	return &Logger{
		handlerFunc: handler,
		attrs:       make(map[string]any),
	}
}

// NewDevelopmentLogger creates a logger with readable console output.
func NewDevelopmentLogger() *Logger {
	handler := func(level string, msg string, attrs map[string]any) {
		timestamp := time.Now().Format(time.RFC3339)
		attrStr := ""
		for k, v := range attrs {
			attrStr += fmt.Sprintf(" %s=%v", k, v)
		}
		logLine := fmt.Sprintf("%s [%s] %s%s\n", timestamp, level, msg, attrStr)
		if level == "FATAL" {
			fmt.Fprint(os.Stderr, logLine)
			os.Exit(1)
		}
		fmt.Print(logLine)
	}
	return &Logger{
		handlerFunc: handler,
		attrs:       make(map[string]any),
	}
}

func (l *Logger) log(level string, msg string, args ...any) {
	if l.handlerFunc == nil {
		return
	}
	if len(args) > 0 {
		// slog-style key-value pairs: even count, string keys.
		if isKeyValuePairs(args) {
			attrs := make(map[string]any, len(l.attrs)+len(args)/2)
			for k, v := range l.attrs {
				attrs[k] = v
			}
			for i := 0; i < len(args)-1; i += 2 {
				key, _ := args[i].(string)
				attrs[key] = args[i+1]
			}
			l.handlerFunc(level, msg, attrs)
			return
		}
		msg = fmt.Sprintf(msg, args...)
	}
	l.handlerFunc(level, msg, l.attrs)
}

func isKeyValuePairs(args []any) bool {
	if len(args)%2 != 0 {
		return false
	}
	for i := 0; i < len(args); i += 2 {
		if _, ok := args[i].(string); !ok {
			return false
		}
	}
	return true
}

func (l *Logger) Debug(msg string, args ...any) { l.log("DEBUG", msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.log("INFO", msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.log("WARN", msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.log("ERROR", msg, args...) }
func (l *Logger) Fatal(msg string, args ...any) { l.log("FATAL", msg, args...) }

func (l *Logger) Debugf(format string, args ...any) { l.log("DEBUG", format, args...) }
func (l *Logger) Infof(format string, args ...any)  { l.log("INFO", format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.log("WARN", format, args...) }
func (l *Logger) Errorf(format string, args ...any) { l.log("ERROR", format, args...) }

// With returns a derived logger carrying additional attributes.
func (l *Logger) With(attrs map[string]any) *Logger {
	combined := make(map[string]any, len(l.attrs)+len(attrs))
	for k, v := range l.attrs {
		combined[k] = v
	}
	for k, v := range attrs {
		combined[k] = v
	}
	return &Logger{
		handlerFunc: l.handlerFunc,
		attrs:       combined,
	}
}
