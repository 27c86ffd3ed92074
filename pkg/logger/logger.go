package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

type LogLevel string

const (
	LevelDebug LogLevel = "DEBUG"
	LevelInfo  LogLevel = "INFO"
	LevelError LogLevel = "ERROR"
)

func (l LogLevel) rank() int {
	switch l {
	case LevelDebug:
		return 0
	case LevelError:
		return 2
	default:
		return 1
	}
}

// ParseLevel maps a config string to a LogLevel, defaulting to INFO.
func ParseLevel(s string) LogLevel {
	switch LogLevel(strings.ToUpper(strings.TrimSpace(s))) {
	case LevelDebug:
		return LevelDebug
	case LevelError:
		return LevelError
	default:
		return LevelInfo
	}
}

type LogFields map[string]interface{}

type Logger interface {
	WithFields(fields LogFields) Logger

	Info(action, message string)
	Debug(action, message string)
	Error(action string, err error)
}

// Options configures a logger beyond its service name.
type Options struct {
	Level LogLevel
	// File, when set, receives log lines instead of stdout and is rotated by size.
	File string
	// Out overrides the destination entirely. Used by tests.
	Out io.Writer
}

// jsonLogger writes one JSON object per line.
type jsonLogger struct {
	mu         *sync.Mutex
	out        io.Writer
	level      LogLevel
	service    string
	hostname   string
	baseFields LogFields
}

// logEntry is the wire shape of a log line. Trip and booking ids are
// promoted to top-level keys so they can be indexed.
type logEntry struct {
	Timestamp string   `json:"timestamp"`
	Level     LogLevel `json:"level"`
	Service   string   `json:"service"`
	Action    string   `json:"action"`
	Message   string   `json:"message"`
	Hostname  string   `json:"hostname"`
	RequestID string   `json:"request_id,omitempty"`
	TripID    string   `json:"trip_id,omitempty"`
	BookingID string   `json:"booking_id,omitempty"`

	Error *errorEntry `json:"error,omitempty"`

	Fields LogFields `json:"fields,omitempty"`
}

type errorEntry struct {
	Msg   string `json:"msg"`
	Stack string `json:"stack"`
}

// NewLogger creates a structured JSON logger writing to stdout at INFO.
func NewLogger(serviceName string) Logger {
	return New(serviceName, Options{Level: LevelInfo})
}

// New creates a structured JSON logger with explicit options.
func New(serviceName string, opts Options) Logger {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}

	out := opts.Out
	if out == nil && opts.File != "" {
		out = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     14,
			Compress:   true,
		}
	}
	if out == nil {
		out = os.Stdout
	}
	if opts.Level == "" {
		opts.Level = LevelInfo
	}

	return &jsonLogger{
		mu:         &sync.Mutex{},
		out:        out,
		level:      opts.Level,
		service:    serviceName,
		hostname:   host,
		baseFields: make(LogFields),
	}
}

// WithFields returns a child logger carrying the parent's fields plus fields.
func (l *jsonLogger) WithFields(fields LogFields) Logger {
	newFields := make(LogFields, len(l.baseFields)+len(fields))
	for k, v := range l.baseFields {
		newFields[k] = v
	}
	for k, v := range fields {
		newFields[k] = v
	}

	return &jsonLogger{
		mu:         l.mu,
		out:        l.out,
		level:      l.level,
		service:    l.service,
		hostname:   l.hostname,
		baseFields: newFields,
	}
}

func (l *jsonLogger) Info(action, message string) {
	l.log(LevelInfo, action, message, nil)
}

func (l *jsonLogger) Debug(action, message string) {
	l.log(LevelDebug, action, message, nil)
}

// Error logs err with a trimmed stack trace. A nil err is logged as a plain
// error-level message.
func (l *jsonLogger) Error(action string, err error) {
	if err == nil {
		l.log(LevelError, action, action, nil)
		return
	}

	buf := make([]byte, 4096)
	n := runtime.Stack(buf, false)

	errData := &errorEntry{
		Msg:   err.Error(),
		Stack: cleanStack(string(buf[:n])),
	}
	l.log(LevelError, action, err.Error(), errData)
}

func (l *jsonLogger) log(level LogLevel, action, message string, errData *errorEntry) {
	if level.rank() < l.level.rank() {
		return
	}

	entry := &logEntry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Level:     level,
		Service:   l.service,
		Action:    action,
		Message:   message,
		Hostname:  l.hostname,
		Error:     errData,
		Fields:    make(LogFields),
	}

	for k, v := range l.baseFields {
		s, isString := v.(string)
		switch {
		case k == "trip_id" && isString:
			entry.TripID = s
		case k == "booking_id" && isString:
			entry.BookingID = s
		case k == "request_id" && isString:
			entry.RequestID = s
		default:
			entry.Fields[k] = v
		}
	}

	if len(entry.Fields) == 0 {
		entry.Fields = nil
	}

	line, err := json.Marshal(entry)
	if err != nil {
		// Fallback to plain text if JSON marshaling fails
		fmt.Fprintf(os.Stderr, "Failed to marshal log: %v\n", err)
		l.mu.Lock()
		fmt.Fprintf(l.out, "%s [%s] %s: %s\n", entry.Timestamp, entry.Level, entry.Action, entry.Message)
		l.mu.Unlock()
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintln(l.out, string(line))
}

// cleanStack drops runtime, testing and logger frames from a goroutine dump.
func cleanStack(stack string) string {
	lines := strings.Split(stack, "\n")
	var cleaned []string

	if len(lines) > 0 {
		cleaned = append(cleaned, lines[0])
	}

	for i := 1; i+1 < len(lines); i += 2 {
		funcName := lines[i]
		filePath := lines[i+1]

		if strings.HasPrefix(funcName, "runtime.") ||
			strings.HasPrefix(funcName, "testing.") ||
			strings.Contains(funcName, "logger.(*jsonLogger)") ||
			strings.Contains(filePath, "runtime/panic.go") {
			continue
		}

		cleaned = append(cleaned, funcName, "    "+strings.TrimSpace(filePath))
	}

	return strings.Join(cleaned, "\n")
}

// Nop discards everything.
func Nop() Logger {
	return New("nop", Options{Out: io.Discard, Level: LevelError})
}
