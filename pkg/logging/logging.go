// Package logging provides the structured, leveled logger used across
// wincachefs: field-accumulating, text/JSON formatting, optional caller
// capture, six levels from TRACE through FATAL. Every method is
// nil-receiver-safe so collaborators can run without a logger wired.
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"
)

// Level is the logging severity level.
type Level int

const (
	TRACE Level = iota
	DEBUG
	INFO
	WARN
	ERROR
	FATAL
)

func (l Level) String() string {
	switch l {
	case TRACE:
		return "TRACE"
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	case FATAL:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel parses a case-insensitive level name.
func ParseLevel(s string) (Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE":
		return TRACE, nil
	case "DEBUG":
		return DEBUG, nil
	case "INFO":
		return INFO, nil
	case "WARN", "WARNING":
		return WARN, nil
	case "ERROR":
		return ERROR, nil
	case "FATAL":
		return FATAL, nil
	default:
		return INFO, fmt.Errorf("invalid log level: %s", s)
	}
}

// Format selects the wire representation of emitted log entries.
type Format int

const (
	FormatText Format = iota
	FormatJSON
)

// Entry is one emitted log record.
type Entry struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	Caller    string                 `json:"caller,omitempty"`
	Stack     string                 `json:"stack,omitempty"`
}

// Logger is a structured, leveled, field-accumulating logger. The zero
// value is not usable; construct with New. All methods are nil-receiver
// safe for *Logger so components that receive an unconfigured logger
// (tests, early bring-up) never need to branch on "is logging wired".
type Logger struct {
	mu              sync.RWMutex
	level           Level
	output          io.Writer
	format          Format
	contextFields   map[string]interface{}
	includeCaller   bool
	includeStack    bool
	componentLevels map[string]Level
	rotator         *Rotator
}

// Config configures a new Logger.
type Config struct {
	Level         Level
	Output        io.Writer
	Format        Format
	IncludeCaller bool
	IncludeStack  bool
	Rotation      *RotationConfig
}

// DefaultConfig returns the default logger configuration: INFO level,
// text format to stdout, caller capture on, stack capture off.
func DefaultConfig() *Config {
	return &Config{
		Level:         INFO,
		Output:        os.Stdout,
		Format:        FormatText,
		IncludeCaller: true,
		IncludeStack:  false,
	}
}

// New constructs a Logger. A nil config uses DefaultConfig.
func New(config *Config) (*Logger, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Output == nil {
		config.Output = os.Stdout
	}

	l := &Logger{
		level:           config.Level,
		output:          config.Output,
		format:          config.Format,
		contextFields:   make(map[string]interface{}),
		includeCaller:   config.IncludeCaller,
		includeStack:    config.IncludeStack,
		componentLevels: make(map[string]Level),
	}

	if config.Rotation != nil {
		rotator, err := NewRotator(config.Rotation)
		if err != nil {
			return nil, fmt.Errorf("failed to create log rotator: %w", err)
		}
		l.rotator = rotator
		l.output = rotator
	}

	return l, nil
}

// Nop returns a logger that discards everything, for tests and
// components that run without a configured log sink.
func Nop() *Logger {
	l, _ := New(&Config{Level: FATAL + 1, Output: io.Discard})
	return l
}

// WithField returns a derived logger with an additional context field.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	if l == nil {
		return nil
	}
	l.mu.RLock()
	defer l.mu.RUnlock()

	fields := make(map[string]interface{}, len(l.contextFields)+1)
	for k, v := range l.contextFields {
		fields[k] = v
	}
	fields[key] = value

	return &Logger{
		level:           l.level,
		output:          l.output,
		format:          l.format,
		contextFields:   fields,
		includeCaller:   l.includeCaller,
		includeStack:    l.includeStack,
		componentLevels: l.componentLevels,
		rotator:         l.rotator,
	}
}

// WithComponent returns a derived logger tagged with a component name,
// which SetComponentLevel can filter independently of the global level.
func (l *Logger) WithComponent(component string) *Logger {
	if l == nil {
		return nil
	}
	return l.WithField("component", component)
}

// SetComponentLevel overrides the level for a named component.
func (l *Logger) SetComponentLevel(component string, level Level) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.componentLevels[component] = level
}

// SetLevel sets the logger's global level.
func (l *Logger) SetLevel(level Level) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

func (l *Logger) isEnabled(level Level) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if component, ok := l.contextFields["component"]; ok {
		if name, ok := component.(string); ok {
			if lvl, exists := l.componentLevels[name]; exists {
				return level >= lvl
			}
		}
	}
	return level >= l.level
}

func (l *Logger) log(level Level, message string, fields map[string]interface{}) {
	if l == nil || !l.isEnabled(level) {
		return
	}

	entry := Entry{
		Timestamp: time.Now(),
		Level:     level.String(),
		Message:   message,
		Fields:    make(map[string]interface{}),
	}

	l.mu.RLock()
	for k, v := range l.contextFields {
		entry.Fields[k] = v
	}
	l.mu.RUnlock()
	for k, v := range fields {
		entry.Fields[k] = v
	}

	if l.includeCaller {
		if _, file, line, ok := runtime.Caller(2); ok {
			parts := strings.Split(file, "/")
			entry.Caller = fmt.Sprintf("%s:%d", parts[len(parts)-1], line)
		}
	}
	if l.includeStack && (level == ERROR || level == FATAL) {
		buf := make([]byte, 4096)
		n := runtime.Stack(buf, false)
		entry.Stack = string(buf[:n])
	}

	var out string
	if l.format == FormatJSON {
		if b, err := json.Marshal(entry); err == nil {
			out = string(b) + "\n"
		} else {
			out = formatText(entry)
		}
	} else {
		out = formatText(entry)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = l.output.Write([]byte(out))
}

func formatText(entry Entry) string {
	var sb strings.Builder
	sb.WriteString(entry.Timestamp.Format("2006-01-02 15:04:05.000"))
	sb.WriteString(" [")
	sb.WriteString(entry.Level)
	sb.WriteString("] ")
	if entry.Caller != "" {
		sb.WriteString("[")
		sb.WriteString(entry.Caller)
		sb.WriteString("] ")
	}
	sb.WriteString(entry.Message)
	if len(entry.Fields) > 0 {
		sb.WriteString(" {")
		first := true
		for k, v := range entry.Fields {
			if !first {
				sb.WriteString(", ")
			}
			first = false
			sb.WriteString(k)
			sb.WriteString("=")
			sb.WriteString(fmt.Sprintf("%v", v))
		}
		sb.WriteString("}")
	}
	sb.WriteString("\n")
	if entry.Stack != "" {
		sb.WriteString("Stack trace:\n")
		sb.WriteString(entry.Stack)
		sb.WriteString("\n")
	}
	return sb.String()
}

func (l *Logger) Tracef(format string, args ...interface{}) {
	if l == nil {
		return
	}
	l.log(TRACE, fmt.Sprintf(format, args...), nil)
}

func (l *Logger) Debugf(format string, args ...interface{}) {
	if l == nil {
		return
	}
	l.log(DEBUG, fmt.Sprintf(format, args...), nil)
}

func (l *Logger) Infof(format string, args ...interface{}) {
	if l == nil {
		return
	}
	l.log(INFO, fmt.Sprintf(format, args...), nil)
}

func (l *Logger) Warnf(format string, args ...interface{}) {
	if l == nil {
		return
	}
	l.log(WARN, fmt.Sprintf(format, args...), nil)
}

func (l *Logger) Errorf(format string, args ...interface{}) {
	if l == nil {
		return
	}
	l.log(ERROR, fmt.Sprintf(format, args...), nil)
}

// Fatalf logs at FATAL and exits the process.
func (l *Logger) Fatalf(format string, args ...interface{}) {
	if l != nil {
		l.log(FATAL, fmt.Sprintf(format, args...), nil)
	}
	os.Exit(1)
}

// Close releases the logger's rotator, if any.
func (l *Logger) Close() error {
	if l == nil || l.rotator == nil {
		return nil
	}
	return l.rotator.Close()
}

// Sync flushes the logger's rotator, if any.
func (l *Logger) Sync() error {
	if l == nil || l.rotator == nil {
		return nil
	}
	return l.rotator.Sync()
}
