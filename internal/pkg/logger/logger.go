package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Level represents the severity of a log entry.
type Level int32

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

func (l Level) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	}
	return "INFO"
}

// ParseLevel maps a config string ("debug", "info", "warn", "error") to a
// Level. Unknown values fall back to INFO.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DEBUG
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	}
	return INFO
}

// sink is the process-wide output shared by every Logger.
type sink struct {
	level     atomic.Int32
	redactPII atomic.Bool
	mu        sync.Mutex
	out       io.Writer
}

var std = newSink()

func newSink() *sink {
	s := &sink{out: os.Stderr}
	s.level.Store(int32(INFO))
	s.redactPII.Store(true)
	return s
}

// SetLevel sets the minimum level written.
func SetLevel(l Level) { std.level.Store(int32(l)) }

// SetRedactPII turns e-mail masking on or off. Secrets are always masked.
func SetRedactPII(r bool) { std.redactPII.Store(r) }

// SetOutput redirects all loggers.
func SetOutput(w io.Writer) {
	std.mu.Lock()
	std.out = w
	std.mu.Unlock()
}

// Logger writes JSON lines. The zero value is usable; Component and With
// derive loggers that carry fixed fields.
type Logger struct {
	fields []interface{}
}

var root = &Logger{}

// Debug logs at DEBUG on the root logger.
func Debug(msg string, fields ...interface{}) { root.write(DEBUG, msg, fields) }

// Info logs at INFO on the root logger.
func Info(msg string, fields ...interface{}) { root.write(INFO, msg, fields) }

// Warn logs at WARN on the root logger.
func Warn(msg string, fields ...interface{}) { root.write(WARN, msg, fields) }

// Error logs at ERROR on the root logger.
func Error(msg string, fields ...interface{}) { root.write(ERROR, msg, fields) }

// Component returns a logger that tags entries with component=name.
func Component(name string) *Logger {
	return &Logger{fields: []interface{}{"component", name}}
}

// With returns a logger that adds the given key/value pairs to every entry.
func (l *Logger) With(fields ...interface{}) *Logger {
	merged := make([]interface{}, 0, len(l.fields)+len(fields))
	merged = append(merged, l.fields...)
	return &Logger{fields: append(merged, fields...)}
}

func (l *Logger) Debug(msg string, fields ...interface{}) { l.write(DEBUG, msg, fields) }
func (l *Logger) Info(msg string, fields ...interface{})  { l.write(INFO, msg, fields) }
func (l *Logger) Warn(msg string, fields ...interface{})  { l.write(WARN, msg, fields) }
func (l *Logger) Error(msg string, fields ...interface{}) { l.write(ERROR, msg, fields) }

func (l *Logger) write(level Level, msg string, fields []interface{}) {
	if int32(level) < std.level.Load() {
		return
	}
	entry := map[string]string{
		"time":  time.Now().UTC().Format(time.RFC3339),
		"level": level.String(),
		"msg":   msg,
	}
	redactPII := std.redactPII.Load()
	put := func(kv []interface{}) {
		for i := 0; i < len(kv); i += 2 {
			key := fmt.Sprint(kv[i])
			if i+1 == len(kv) {
				entry[key] = "!MISSING"
				break
			}
			entry[key] = redactValue(key, fmt.Sprint(kv[i+1]), redactPII)
		}
	}
	put(l.fields)
	put(fields)

	data, _ := json.Marshal(entry)
	std.mu.Lock()
	fmt.Fprintln(std.out, string(data))
	std.mu.Unlock()
}

var emailRegex = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)

var secretKeys = []string{"api_key", "apikey", "token", "secret", "password", "authorization"}

func redactValue(key, val string, pii bool) string {
	key = strings.ToLower(key)
	for _, s := range secretKeys {
		if strings.Contains(key, s) {
			return RedactSecret(val)
		}
	}
	if !pii {
		return val
	}
	// notification recipients are the only addresses this service handles
	if strings.Contains(key, "email") || strings.Contains(key, "recipient") {
		return RedactEmail(val)
	}
	return emailRegex.ReplaceAllStringFunc(val, RedactEmail)
}
