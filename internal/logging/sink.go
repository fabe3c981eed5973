// Package logging is the error/log sink of the server.
//
// Every entry is printed for the operator. Warnings and errors are also
// appended to a durable log file, one JSON object per line. Entries at or above
// the relay level are handed to a relay function, which the hub uses to forward
// them to monitoring dashboards.
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime/debug"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Entry is a log record handed to the relay
type Entry struct {
	Time    time.Time
	Level   string
	Message string
}

// RelayFunc receives relayed entries. It must not block.
type RelayFunc func(Entry)

// Options configures a Sink
type Options struct {
	Level      string    // minimum level printed for the operator
	RelayLevel string    // minimum level handed to the relay
	FilePath   string    // durable error log; empty disables it
	Console    io.Writer // defaults to os.Stderr
	Pretty     bool      // human readable console output
}

// Sink fans log entries out to the console, the durable file and the relay
type Sink struct {
	zerolog.Logger

	file  *os.File
	relay *relayWriter
}

// New builds a sink from opts
func New(opts Options) (*Sink, error) {
	level, err := parseLevel(opts.Level, zerolog.InfoLevel)
	if err != nil {
		return nil, err
	}
	relayLevel, err := parseLevel(opts.RelayLevel, zerolog.InfoLevel)
	if err != nil {
		return nil, err
	}

	console := opts.Console
	if console == nil {
		console = os.Stderr
	}
	if opts.Pretty {
		console = zerolog.ConsoleWriter{Out: console, TimeFormat: time.RFC3339}
	}

	s := &Sink{relay: &relayWriter{min: relayLevel}}
	writers := []io.Writer{
		&levelFilter{w: zerolog.MultiLevelWriter(console), min: level},
		s.relay,
	}

	if opts.FilePath != "" {
		if err := os.MkdirAll(filepath.Dir(opts.FilePath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		f, err := os.OpenFile(opts.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open error log: %w", err)
		}
		s.file = f
		writers = append(writers, &levelFilter{w: zerolog.MultiLevelWriter(f), min: zerolog.WarnLevel})
	}

	// Level filtering happens per writer, so the logger itself passes everything.
	s.Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(zerolog.TraceLevel).
		With().Timestamp().Logger()
	return s, nil
}

// Nop returns a sink that discards everything
func Nop() *Sink {
	return &Sink{Logger: zerolog.Nop(), relay: &relayWriter{min: zerolog.Disabled}}
}

// SetRelay installs fn as the relay target; nil removes it
func (s *Sink) SetRelay(fn RelayFunc) {
	if s.relay == nil {
		return
	}
	s.relay.mu.Lock()
	s.relay.fn = fn
	s.relay.mu.Unlock()
}

// Component returns a child logger tagged with name
func (s *Sink) Component(name string) zerolog.Logger {
	return s.With().Str("component", name).Logger()
}

// Recover logs a panic to log instead of letting it terminate the goroutine.
// It must be deferred directly.
func Recover(log zerolog.Logger, scope string) {
	if r := recover(); r != nil {
		log.Error().
			Str("scope", scope).
			Interface("panic", r).
			Str("stack", string(debug.Stack())).
			Msg("recovered from panic")
	}
}

// Close flushes and closes the durable file
func (s *Sink) Close() error {
	if s.file == nil {
		return nil
	}
	return s.file.Close()
}

func parseLevel(name string, fallback zerolog.Level) (zerolog.Level, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	switch name {
	case "":
		return fallback, nil
	case "silent", "off":
		return zerolog.Disabled, nil
	}
	level, err := zerolog.ParseLevel(name)
	if err != nil {
		return fallback, fmt.Errorf("invalid log level %q: %w", name, err)
	}
	return level, nil
}

// levelFilter drops entries below min
type levelFilter struct {
	w   zerolog.LevelWriter
	min zerolog.Level
}

func (f *levelFilter) Write(p []byte) (int, error) {
	return f.w.Write(p)
}

func (f *levelFilter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if f.min == zerolog.Disabled || level < f.min {
		return len(p), nil
	}
	return f.w.WriteLevel(level, p)
}

// relayWriter decodes entries and passes them to the relay function
type relayWriter struct {
	mu  sync.RWMutex
	fn  RelayFunc
	min zerolog.Level
}

func (r *relayWriter) Write(p []byte) (int, error) {
	return len(p), nil
}

func (r *relayWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if r.min == zerolog.Disabled || level < r.min {
		return len(p), nil
	}
	r.mu.RLock()
	fn := r.fn
	r.mu.RUnlock()
	if fn == nil {
		return len(p), nil
	}

	var fields map[string]any
	if err := json.Unmarshal(p, &fields); err != nil {
		return len(p), nil
	}
	fn(Entry{
		Time:    entryTime(fields),
		Level:   level.String(),
		Message: formatMessage(fields),
	})
	return len(p), nil
}

func entryTime(fields map[string]any) time.Time {
	if ts, ok := fields[zerolog.TimestampFieldName].(string); ok {
		if t, err := time.Parse(zerolog.TimeFieldFormat, ts); err == nil {
			return t
		}
	}
	return time.Now()
}

// formatMessage renders "<message>: <error> (key=value ...)" for dashboards
func formatMessage(fields map[string]any) string {
	var b strings.Builder
	if msg, ok := fields[zerolog.MessageFieldName].(string); ok {
		b.WriteString(msg)
	}
	if errText, ok := fields[zerolog.ErrorFieldName].(string); ok && errText != "" {
		if b.Len() > 0 {
			b.WriteString(": ")
		}
		b.WriteString(errText)
	}

	var extra []string
	for k, v := range fields {
		switch k {
		case zerolog.MessageFieldName, zerolog.ErrorFieldName, zerolog.LevelFieldName,
			zerolog.TimestampFieldName, "stack":
			continue
		}
		extra = append(extra, fmt.Sprintf("%s=%v", k, v))
	}
	if len(extra) > 0 {
		slices.Sort(extra)
		b.WriteString(" (")
		b.WriteString(strings.Join(extra, " "))
		b.WriteString(")")
	}
	return b.String()
}
