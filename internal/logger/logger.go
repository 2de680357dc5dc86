// Package logger prints pipeline progress for pdfrag at four levels.
// Warnings show by default, -v adds progress and -vv adds per-batch detail.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Level orders log output from silent to most detailed.
type Level int

const (
	LevelQuiet Level = iota
	LevelWarn
	LevelInfo
	LevelDebug
)

var levelNames = map[Level]string{
	LevelQuiet: "quiet",
	LevelWarn:  "warn",
	LevelInfo:  "info",
	LevelDebug: "debug",
}

func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("level(%d)", int(l))
}

// ParseLevel accepts the names printed by Level.String. Empty selects LevelWarn.
func ParseLevel(s string) (Level, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return LevelWarn, nil
	}
	for l, name := range levelNames {
		if name == s {
			return l, nil
		}
	}
	return LevelWarn, fmt.Errorf("unknown log level %q (want quiet, warn, info or debug)", s)
}

// FromFlags maps a repeated -v count and --quiet onto a level.
func FromFlags(verbosity int, quiet bool) Level {
	if quiet {
		return LevelQuiet
	}
	return min(LevelWarn+Level(max(verbosity, 0)), LevelDebug)
}

type sink struct {
	mu     sync.Mutex
	level  Level
	out    io.Writer
	stamps bool
}

var std = &sink{level: LevelWarn, out: os.Stderr}

// SetLevel changes the threshold; messages above it are dropped.
func SetLevel(l Level) {
	std.mu.Lock()
	std.level = l
	std.mu.Unlock()
}

// CurrentLevel returns the active threshold.
func CurrentLevel() Level {
	std.mu.Lock()
	defer std.mu.Unlock()
	return std.level
}

// Enabled reports whether messages at l are written.
func Enabled(l Level) bool { return l != LevelQuiet && l <= CurrentLevel() }

// SetOutput redirects log lines. Defaults to os.Stderr.
func SetOutput(w io.Writer) {
	std.mu.Lock()
	std.out = w
	std.mu.Unlock()
}

// SetTimestamps prefixes every line with the wall clock time, for long running servers.
func SetTimestamps(on bool) {
	std.mu.Lock()
	std.stamps = on
	std.mu.Unlock()
}

func Debug(format string, args ...any) { std.printf(LevelDebug, "debug", format, args...) }

func Info(format string, args ...any) { std.printf(LevelInfo, "info", format, args...) }

func Warn(format string, args ...any) { std.printf(LevelWarn, "warn", format, args...) }

// Section marks the start of a pipeline stage in info output.
func Section(name string) {
	if !Enabled(LevelInfo) {
		return
	}
	std.mu.Lock()
	defer std.mu.Unlock()
	fmt.Fprintf(std.out, "-- %s --\n", name)
}

func (s *sink) printf(l Level, tag, format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l > s.level {
		return
	}
	var b strings.Builder
	if s.stamps {
		b.WriteString(time.Now().Format("15:04:05.000 "))
	}
	b.WriteString(tag)
	b.WriteString(": ")
	fmt.Fprintf(&b, format, args...)
	b.WriteByte('\n')
	_, _ = io.WriteString(s.out, b.String())
}
