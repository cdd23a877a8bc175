// Copyright 2025 walteh LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package session keeps the durable, line-oriented record of a migration run.
package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/walteh/famigrate/pkg/failure"
	"gitlab.com/tozd/go/errors"
)

// TimestampLayout is used for timestamps written into the log.
const TimestampLayout = "2006-01-02 15:04:05"

// 🏷️ IDGenerator produces session identifiers
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable session IDs.
type UUIDv7Generator struct{}

func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// FixedGenerator always returns the same ID.
type FixedGenerator string

func (g FixedGenerator) Generate() string { return string(g) }

// Option configures a Log.
type Option func(*Log)

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(l *Log) { l.clock = clock }
}

// WithIDGenerator overrides the session ID source.
func WithIDGenerator(gen IDGenerator) Option {
	return func(l *Log) { l.idgen = gen }
}

// 📒 Log is the append-only record of one migration run
type Log struct {
	mu      sync.Mutex
	lines   []string
	clock   func() time.Time
	idgen   IDGenerator
	id      string
	started time.Time
	zlog    zerolog.Logger
}

// New creates a session log. Every appended line is mirrored to the context
// logger at debug level.
func New(ctx context.Context, opts ...Option) *Log {
	l := &Log{
		clock: time.Now,
		idgen: UUIDv7Generator{},
	}
	for _, opt := range opts {
		opt(l)
	}
	l.id = l.idgen.Generate()
	l.started = l.clock()
	l.zlog = zerolog.Ctx(ctx).With().Str("session", l.id).Logger()
	return l
}

// ID returns the session identifier.
func (l *Log) ID() string { return l.id }

// Started returns the session start time.
func (l *Log) Started() time.Time { return l.started }

// Now returns the current time from the log's clock.
func (l *Log) Now() time.Time { return l.clock() }

// AppendLine adds one line. With no args the format is written verbatim.
// A format that does not fit its args is written raw, followed by a note.
func (l *Log) AppendLine(format string, args ...any) {
	if len(args) == 0 {
		l.append(format)
		return
	}

	line := fmt.Sprintf(format, args...)
	if malformed(line, format, args) {
		l.append(format)
		l.append(fmt.Sprintf("--unformatted: %d argument(s) did not match the format", len(args)))
		return
	}
	l.append(line)
}

// LogException records err as a block of lines: a marker, the timestamp and
// type name, the message, and the stack trace.
func (l *Log) LogException(err error) {
	if err == nil {
		return
	}
	l.append("!!exception")
	l.append("--" + l.clock().Format(TimestampLayout) + " " + failure.TypeName(err))
	l.append("--" + err.Error())
	l.append("--" + StackTrace(err))
}

func (l *Log) append(line string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, line)
	l.zlog.Debug().Msg(line)
}

// Lines returns the log split into physical lines.
func (l *Log) Lines() []string {
	text := strings.TrimSuffix(l.Text(), "\n")
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}

// Text returns the accumulated log text.
func (l *Log) Text() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.lines) == 0 {
		return ""
	}
	return strings.Join(l.lines, "\n") + "\n"
}

// Flush writes the entire log to path, replacing any existing file.
func (l *Log) Flush(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Errorf("creating log directory: %w", err)
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, []byte(l.Text()), 0644); err != nil {
		return errors.Errorf("writing temp log file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return errors.Errorf("renaming temp log file: %w", err)
	}

	l.zlog.Debug().Str("path", path).Msg("session log flushed")
	return nil
}

// FileName returns the log file name for a session started at t.
func FileName(t time.Time) string {
	return t.Format("20060102.1504") + ".log.txt"
}

// PathIn returns where this session's log is written inside dir.
func (l *Log) PathIn(dir string) string {
	return filepath.Join(dir, FileName(l.started))
}

// StackTrace formats the first stack trace recorded in err's chain.
func StackTrace(err error) string {
	type stackTracer interface {
		StackTrace() []uintptr
	}

	for e := err; e != nil; e = errors.Unwrap(e) {
		st, ok := e.(stackTracer)
		if !ok || len(st.StackTrace()) == 0 {
			continue
		}
		var b strings.Builder
		frames := runtime.CallersFrames(st.StackTrace())
		for {
			frame, more := frames.Next()
			if b.Len() > 0 {
				b.WriteString("\n")
			}
			fmt.Fprintf(&b, "%s\n\t%s:%d", frame.Function, frame.File, frame.Line)
			if !more {
				break
			}
		}
		return b.String()
	}
	return "(no stack trace)"
}

func malformed(line, format string, args []any) bool {
	if !strings.Contains(line, "%!") || strings.Contains(format, "%!") {
		return false
	}
	for _, arg := range args {
		if strings.Contains(fmt.Sprint(arg), "%!") {
			return false
		}
	}
	return true
}
