// Package logsink is the process-wide log destination. Each package keeps
// its own ops/diag/trace loggers; the command wires them to level writers
// from a Sink so every line lands on the console and in the log file with
// a timestamp and a severity tag.
package logsink

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Level is a log severity.
type Level int

const (
	Debug Level = iota
	Info
	Warning
	Error
	Critical
)

func (l Level) String() string {
	switch l {
	case Debug:
		return "DEBUG"
	case Info:
		return "INFO"
	case Warning:
		return "WARNING"
	case Error:
		return "ERROR"
	case Critical:
		return "CRITICAL"
	}
	return fmt.Sprintf("LEVEL(%d)", int(l))
}

// ParseLevel accepts level names in any case.
func ParseLevel(s string) (Level, error) {
	switch strings.ToUpper(s) {
	case "DEBUG", "TRACE":
		return Debug, nil
	case "INFO", "":
		return Info, nil
	case "WARNING", "WARN":
		return Warning, nil
	case "ERROR":
		return Error, nil
	case "CRITICAL":
		return Critical, nil
	}
	return Info, fmt.Errorf("unknown log level %q", s)
}

// TimeFormat renders dd/mm/yyyy HH:MM:SS.mmm.
const TimeFormat = "02/01/2006 15:04:05.000"

// Sink fans timestamped lines out to the console and an optional file.
// Writes never fail from the caller's point of view; destination errors
// are counted and the first one is kept for Close.
type Sink struct {
	mu      sync.Mutex
	console io.Writer
	file    *os.File
	min     Level
	now     func() time.Time
	dropped int
	lastErr error
	closed  bool
}

// Open creates a sink writing to console and, when path is non-empty, to
// path opened for append.
func Open(path string, console io.Writer, min Level) (*Sink, error) {
	s := &Sink{console: console, min: min, now: time.Now}
	if path == "" {
		return s, nil
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create log dir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	s.file = f
	return s, nil
}

// Logf writes one formatted line at level.
func (s *Sink) Logf(level Level, source, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if source != "" {
		msg = "[" + source + "] " + msg
	}
	s.emit(level, msg)
}

func (s *Sink) emit(level Level, msg string) {
	if s == nil || level < s.min {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	var b bytes.Buffer
	b.WriteString(s.now().Format(TimeFormat))
	b.WriteByte(' ')
	b.WriteString(level.String())
	b.WriteString(": ")
	b.WriteString(strings.TrimRight(msg, "\n"))
	b.WriteByte('\n')
	line := b.Bytes()
	if s.console != nil {
		if _, err := s.console.Write(line); err != nil {
			s.fail(err)
		}
	}
	if s.file != nil {
		if _, err := s.file.Write(line); err != nil {
			s.fail(err)
		}
	}
}

func (s *Sink) fail(err error) {
	s.dropped++
	if s.lastErr == nil {
		s.lastErr = err
	}
}

// Dropped is the number of destination writes that failed.
func (s *Sink) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Writer returns an io.Writer that emits each written chunk as one line
// at level. It is meant for log.New in the per-package loggers.
func (s *Sink) Writer(level Level) io.Writer {
	return levelWriter{s: s, level: level}
}

// Enabled reports whether lines at level would be written.
func (s *Sink) Enabled(level Level) bool { return s != nil && level >= s.min }

// Close flushes and closes the log file. Later writes are discarded.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.file != nil {
		if err := s.file.Sync(); err != nil && s.lastErr == nil {
			s.lastErr = err
		}
		if err := s.file.Close(); err != nil && s.lastErr == nil {
			s.lastErr = err
		}
	}
	return s.lastErr
}

type levelWriter struct {
	s     *Sink
	level Level
}

func (w levelWriter) Write(p []byte) (int, error) {
	w.s.emit(w.level, string(p))
	return len(p), nil
}
