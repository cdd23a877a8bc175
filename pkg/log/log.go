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

package log

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
)

// 🎨 Display configuration
const (
	fileIndent  = 4  // spaces to indent file entries
	nameWidth   = 45 // Base width for artifact path
	statusWidth = 10 // Width for status text
)

// Artifact statuses
const (
	StatusSaved   = "saved"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

// 🎯 ArtifactOperation represents the outcome for one artifact
type ArtifactOperation struct {
	Path        string // Source-relative path
	Destination string // Destination-relative path
	Status      string // saved / failed / skipped
	Reason      string // Why it failed or was skipped
	IsRenamed   bool   // Whether the filename changed
}

// 📦 RunOperation describes a migration run
type RunOperation struct {
	Session     string
	Source      string
	Destination string
	Artifacts   int
}

// 📊 RunSummary is printed when a run ends
type RunSummary struct {
	Saved   int
	Renamed int
	Failed  int
	Skipped int
	LogPath string
}

// 🎯 Logger writes run progress to the console and to zerolog
type Logger struct {
	zlog       zerolog.Logger
	console    io.Writer
	mu         sync.Mutex
	currentRun *RunOperation
	operations []ArtifactOperation
}

// 🏭 New creates a new logger
func New(console io.Writer, zlog zerolog.Logger) *Logger {
	return &Logger{
		zlog:    zlog,
		console: console,
	}
}

// Discard returns a logger that prints nothing.
func Discard() *Logger {
	return New(io.Discard, zerolog.Nop())
}

// 🔑 contextKey is the type for context values
type contextKey struct{}

// 🎯 FromContext gets the console logger from context, or a discarding logger
func FromContext(ctx context.Context) *Logger {
	logger, ok := ctx.Value(contextKey{}).(*Logger)
	if !ok {
		return Discard()
	}
	return logger
}

// 🎯 NewContext adds the logger to context
func NewContext(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, l)
}

// 📝 formatArtifactOperation formats an artifact outcome for display
func (l *Logger) formatArtifactOperation(op ArtifactOperation) string {
	var symbol rune
	var symbolColor color.Attribute
	switch {
	case op.Status == StatusFailed:
		symbol = '✗'
		symbolColor = color.FgRed
	case op.Status == StatusSkipped:
		symbol = '-'
		symbolColor = color.FgYellow
	case op.IsRenamed:
		symbol = '⟳'
		symbolColor = color.FgBlue
	default:
		symbol = '✓'
		symbolColor = color.FgGreen
	}

	var statusColor color.Attribute
	switch op.Status {
	case StatusSaved:
		statusColor = color.FgGreen
	case StatusFailed:
		statusColor = color.FgRed
	default:
		statusColor = color.FgYellow
	}

	line := fmt.Sprintf("%s%s %s %s",
		fmt.Sprintf("%*s", fileIndent, ""),
		color.New(symbolColor).Sprint(string(symbol)),
		fmt.Sprintf("%-*s", nameWidth, op.Path),
		color.New(statusColor).Sprint(fmt.Sprintf("%-*s", statusWidth, op.Status)))

	switch {
	case op.Reason != "":
		line += color.New(color.Faint).Sprint(op.Reason)
	case op.IsRenamed:
		line += color.New(color.Faint).Sprint("→ " + op.Destination)
	}
	return line
}

// 📝 LogArtifact logs an artifact outcome
func (l *Logger) LogArtifact(ctx context.Context, op ArtifactOperation) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.operations = append(l.operations, op)

	fmt.Fprintln(l.console, l.formatArtifactOperation(op))

	ev := l.zlog.Info()
	if op.Status == StatusFailed {
		ev = l.zlog.Warn()
	}
	ev.Str("artifact", op.Path).
		Str("destination", op.Destination).
		Str("status", op.Status).
		Str("reason", op.Reason).
		Bool("is_renamed", op.IsRenamed).
		Msg("artifact processed")
}

// 📝 StartRun prints the run header
func (l *Logger) StartRun(ctx context.Context, op RunOperation) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.currentRun = &op
	l.operations = nil

	fmt.Fprintf(l.console, "[migrating %s]\n",
		color.New(color.FgCyan).Sprint(op.Source))

	fmt.Fprintf(l.console, "%s %s %s %s\n",
		color.New(color.FgMagenta).Sprint("◆"),
		color.New(color.Bold).Sprint(op.Destination),
		color.New(color.Faint).Sprint("•"),
		color.New(color.FgYellow).Sprintf("%d artifacts", op.Artifacts))

	l.zlog.Info().
		Str("session", op.Session).
		Str("source", op.Source).
		Str("destination", op.Destination).
		Int("artifacts", op.Artifacts).
		Msg("starting migration run")
}

// 📝 EndRun ends the current run
func (l *Logger) EndRun(ctx context.Context, summary RunSummary) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.currentRun == nil {
		return
	}

	l.zlog.Info().
		Str("session", l.currentRun.Session).
		Int("processed", len(l.operations)).
		Int("saved", summary.Saved).
		Int("renamed", summary.Renamed).
		Int("failed", summary.Failed).
		Int("skipped", summary.Skipped).
		Str("log", summary.LogPath).
		Msg("migration run complete")

	l.currentRun = nil
	l.operations = nil
}

// 📝 Header logs a header
func (l *Logger) Header(msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	name := color.New(color.Bold, color.FgCyan).Sprint("famigrate")
	fmt.Fprintf(l.console, "\n%s %s\n\n", name, color.New(color.Faint).Sprint("• "+msg))
	l.zlog.Info().Msg(msg)
}

// 📝 Success logs a success message
func (l *Logger) Success(msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.console, "✅ %s\n", color.New(color.FgGreen).Sprint(msg))
	l.zlog.Info().Msg(msg)
}

// 📝 Warning logs a warning message
func (l *Logger) Warning(msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.console, "⚠️  %s\n", color.New(color.FgYellow).Sprint(msg))
	l.zlog.Warn().Msg(msg)
}

// 📝 Error logs an error message
func (l *Logger) Error(msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.console, "❌ %s\n", color.New(color.FgRed).Sprint(msg))
	l.zlog.Error().Msg(msg)
}

// 📝 Info logs an info message
func (l *Logger) Info(msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.console, "ℹ️  %s\n", color.New(color.FgCyan).Sprint(msg))
	l.zlog.Info().Msg(msg)
}

// 📝 Infof logs a formatted info message
func (l *Logger) Infof(format string, args ...interface{}) {
	l.Info(fmt.Sprintf(format, args...))
}

// 📝 Warningf logs a formatted warning message
func (l *Logger) Warningf(format string, args ...interface{}) {
	l.Warning(fmt.Sprintf(format, args...))
}

// 📝 Errorf logs a formatted error message
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.Error(fmt.Sprintf(format, args...))
}

// 📝 Successf logs a formatted success message
func (l *Logger) Successf(format string, args ...interface{}) {
	l.Success(fmt.Sprintf(format, args...))
}
