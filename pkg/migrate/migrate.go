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

package migrate

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/walteh/famigrate/pkg/config"
	"github.com/walteh/famigrate/pkg/convert"
	"github.com/walteh/famigrate/pkg/eligibility"
	"github.com/walteh/famigrate/pkg/failure"
	"github.com/walteh/famigrate/pkg/log"
	"github.com/walteh/famigrate/pkg/metrics"
	"github.com/walteh/famigrate/pkg/rewrite"
	"github.com/walteh/famigrate/pkg/session"
	"gitlab.com/tozd/go/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/walteh/famigrate/pkg/migrate"

// 🔄 Converter converts one artifact with an attached failure handler.
// *convert.Service implements it.
type Converter interface {
	Attach(h convert.FailureHandler) (func(), error)
	Convert(ctx context.Context, src, dst string) error
}

// 🔧 Options contains configuration for the orchestrator
type Options struct {
	// Selector supplies the source and destination roots
	Selector DirectorySelector
	// Converter performs the per-artifact conversion
	Converter Converter
	// Filter discovers artifacts; the default .rfa filter when nil
	Filter *eligibility.Filter
	// Rewriter computes destination names; the fixed rules when nil
	Rewriter *rewrite.Rewriter
	// LogDir receives the session log; the destination root when empty
	LogDir string
	// FailFast aborts the batch on the first failed artifact
	FailFast bool
	// Metrics is optional
	Metrics *metrics.Collector
	// MetricsFile is written at the end of the run when Metrics is set
	MetricsFile string
	// Session configures the session log (clock, ID generator)
	Session []session.Option
}

// ❌ ArtifactFailure is one artifact that did not convert
type ArtifactFailure struct {
	Path        string // source-relative
	Destination string // absolute
	Err         error
}

// 📊 Report summarizes a run
type Report struct {
	Outcome     Outcome
	SessionID   string
	Source      string
	Destination string
	LogPath     string
	Processed   int
	Saved       int
	Renamed     int
	Skipped     []eligibility.Skip
	Failures    []ArtifactFailure
}

// 🎮 Orchestrator drives one migration run
type Orchestrator struct {
	opts    Options
	machine machine
	log     *session.Log
	tracer  trace.Tracer
	claims  claims
	console *log.Logger
}

// 🏭 New creates an orchestrator for a single run
func New(opts Options) (*Orchestrator, error) {
	if opts.Selector == nil {
		return nil, errors.Errorf("selector is required")
	}
	if opts.Converter == nil {
		return nil, errors.Errorf("converter is required")
	}
	if opts.Filter == nil {
		f, err := eligibility.New(eligibility.DefaultExtension)
		if err != nil {
			return nil, err
		}
		opts.Filter = f
	}
	if opts.Rewriter == nil {
		r, err := rewrite.New()
		if err != nil {
			return nil, err
		}
		opts.Rewriter = r
	}

	return &Orchestrator{
		opts:    opts,
		machine: newMachine(),
		tracer:  otel.Tracer(tracerName),
		claims:  claims{},
	}, nil
}

// State returns the current state.
func (o *Orchestrator) State() State {
	return o.machine.current
}

// History returns every state the run has passed through, in order.
func (o *Orchestrator) History() []State {
	out := make([]State, len(o.machine.history))
	copy(out, o.machine.history)
	return out
}

// Log returns the session log, or nil before discovery has started.
func (o *Orchestrator) Log() *session.Log {
	return o.log
}

func (o *Orchestrator) transition(ctx context.Context, to State) {
	from := o.machine.current
	if err := o.machine.transition(to); err != nil {
		// a disallowed transition is a programming error in this package
		panic(err)
	}
	zerolog.Ctx(ctx).Debug().Stringer("from", from).Stringer("to", to).Msg("state transition")
}

// 🏃 Run executes the migration. The returned error is non-nil only when the
// run ends Failed; per-artifact failures are in Report.Failures.
func (o *Orchestrator) Run(ctx context.Context) (*Report, error) {
	if o.machine.current != StateAwaitingSource {
		return nil, errors.Errorf("run already started (state %s)", o.machine.current)
	}

	ctx, span := o.tracer.Start(ctx, "migrate.Run")
	defer span.End()

	// per-artifact progress goes to the console logger on ctx, if any
	o.console = log.FromContext(ctx)

	report := &Report{}

	src, err := o.opts.Selector.SelectSource(ctx)
	if err != nil {
		return o.cancel(ctx, report, err)
	}
	report.Source = src
	o.transition(ctx, StateAwaitingDestination)

	dst, err := o.opts.Selector.SelectDestination(ctx, src)
	if err != nil {
		return o.cancel(ctx, report, err)
	}
	report.Destination = dst
	o.transition(ctx, StateDiscovering)

	span.SetAttributes(attribute.String("source", src), attribute.String("destination", dst))

	o.log = session.New(ctx, o.opts.Session...)
	report.SessionID = o.log.ID()
	logDir := o.opts.LogDir
	if logDir == "" {
		logDir = dst
	}
	report.LogPath = o.log.PathIn(logDir)

	o.log.AppendLine("session %s", o.log.ID())
	o.log.AppendLine("started %s", o.log.Started().Format(session.TimestampLayout))
	o.log.AppendLine("source %s", src)
	o.log.AppendLine("destination %s", dst)

	result, err := o.discover(ctx, src, dst)
	if err != nil {
		o.log.LogException(err)
		o.log.AppendLine("discovery failed")
		return o.finish(ctx, span, report, err)
	}

	o.console.StartRun(ctx, log.RunOperation{
		Session:     o.log.ID(),
		Source:      src,
		Destination: dst,
		Artifacts:   len(result.Artifacts),
	})

	for _, skip := range result.Skipped {
		o.log.AppendLine("skipped %s (%s)", skip.Path, skip.Reason)
		o.console.LogArtifact(ctx, log.ArtifactOperation{Path: skip.Path, Status: log.StatusSkipped, Reason: skip.Reason})
	}
	report.Skipped = result.Skipped
	if o.opts.Metrics != nil {
		o.opts.Metrics.Skipped.Add(float64(len(result.Skipped)))
	}
	o.log.AppendLine("discovered %d artifact(s)", len(result.Artifacts))

	o.transition(ctx, StateProcessingBatch)

	detach, err := o.opts.Converter.Attach(o.handleEvent)
	if err != nil {
		err = errors.Errorf("attaching failure handler: %w", err)
		o.log.LogException(err)
		return o.finish(ctx, span, report, err)
	}
	release := sync.OnceFunc(detach)
	defer release()

	for _, rel := range result.Artifacts {
		ferr := o.process(ctx, src, dst, rel, report)
		if ferr != nil && o.opts.FailFast {
			o.log.AppendLine("aborting batch after first failure")
			release()
			return o.finish(ctx, span, report, errors.Errorf("fail-fast: %w", ferr))
		}
	}

	release()
	return o.finish(ctx, span, report, nil)
}

func (o *Orchestrator) discover(ctx context.Context, src, dst string) (*eligibility.Result, error) {
	if err := config.ValidateRoots(src, dst); err != nil {
		return nil, failure.New(failure.KindDiscovery, src, err)
	}
	zerolog.Ctx(ctx).Debug().Str("source", src).Str("extension", o.opts.Filter.Extension()).Msg("discovering artifacts")
	return o.opts.Filter.Discover(ctx, src)
}

// handleEvent is attached to the converter for the duration of the batch.
func (o *Orchestrator) handleEvent(ctx context.Context, ev convert.Event) convert.Decision {
	if ev.Severity == convert.SeverityWarning {
		o.log.AppendLine("!!warning %s", ev.Description)
		return convert.DecisionContinue
	}
	o.log.AppendLine("!!error %s", ev.Description)
	return convert.DecisionRollBack
}

// process converts one artifact and records the outcome. The returned error
// is the artifact's failure; it never aborts the batch by itself.
func (o *Orchestrator) process(ctx context.Context, src, dst, rel string, report *Report) error {
	ctx, span := o.tracer.Start(ctx, "migrate.Artifact", trace.WithAttributes(attribute.String("artifact", rel)))
	defer span.End()

	entry := o.opts.Rewriter.Plan(rel)
	srcAbs := filepath.Join(src, filepath.FromSlash(entry.Source))
	dstAbs := filepath.Join(dst, filepath.FromSlash(entry.Destination))

	report.Processed++
	o.log.AppendLine("processing %s", rel)
	if entry.Renamed {
		report.Renamed++
		o.log.AppendLine("renamed %s -> %s", entry.OldName(), entry.NewName())
		if o.opts.Metrics != nil {
			o.opts.Metrics.Renames.Inc()
		}
	}

	start := time.Now()
	var err error
	if c, ok := o.claims.claim(entry); !ok {
		err = failure.Newf(failure.KindConversionSave, dstAbs, "%s would overwrite %s converted from %s", c.Source, c.Destination, c.ClaimedBy)
	} else {
		err = o.convert(ctx, srcAbs, dstAbs)
	}
	if o.opts.Metrics != nil {
		o.opts.Metrics.ObserveConversion(time.Since(start), err)
	}

	op := log.ArtifactOperation{
		Path:        rel,
		Destination: entry.Destination,
		IsRenamed:   entry.Renamed,
	}

	if err != nil {
		o.log.LogException(err)
		o.log.AppendLine("failed %s -> %s", rel, dstAbs)
		report.Failures = append(report.Failures, ArtifactFailure{Path: rel, Destination: dstAbs, Err: err})

		span.RecordError(err)
		span.SetStatus(codes.Error, failure.KindOf(err).String())
		op.Status = log.StatusFailed
		op.Reason = failure.TypeName(err)
		o.console.LogArtifact(ctx, op)
		return err
	}

	o.log.AppendLine("saved %s", dstAbs)
	report.Saved++
	op.Status = log.StatusSaved
	o.console.LogArtifact(ctx, op)
	return nil
}

func (o *Orchestrator) convert(ctx context.Context, srcAbs, dstAbs string) error {
	dir := filepath.Dir(dstAbs)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return failure.New(failure.KindDestinationDirectory, dir, err)
	}
	return o.opts.Converter.Convert(ctx, srcAbs, dstAbs)
}

func (o *Orchestrator) cancel(ctx context.Context, report *Report, err error) (*Report, error) {
	o.transition(ctx, StateCancelled)
	report.Outcome = OutcomeCancelled

	logger := zerolog.Ctx(ctx)
	if errors.Is(err, ErrCancelled) {
		logger.Info().Msg("directory selection cancelled")
		return report, nil
	}
	logger.Warn().Err(err).Msg("directory selection failed")
	return report, errors.Errorf("selecting directories: %w", err)
}

// finish writes the footer, flushes the log exactly once and moves to a
// terminal state.
func (o *Orchestrator) finish(ctx context.Context, span trace.Span, report *Report, runErr error) (*Report, error) {
	logger := zerolog.Ctx(ctx)

	o.log.AppendLine("finished %s: processed %d, saved %d, renamed %d, failed %d, skipped %d",
		o.log.Now().Format(session.TimestampLayout),
		report.Processed, report.Saved, report.Renamed, len(report.Failures), len(report.Skipped))

	if err := o.log.Flush(report.LogPath); err != nil {
		if runErr == nil {
			runErr = errors.Errorf("flushing session log: %w", err)
		} else {
			logger.Error().Err(err).Str("path", report.LogPath).Msg("flushing session log")
		}
	}

	if runErr != nil {
		o.transition(ctx, StateFailed)
		span.RecordError(runErr)
		span.SetStatus(codes.Error, "migration failed")
	} else {
		o.transition(ctx, StateFinalized)
	}
	report.Outcome = OutcomeOf(o.machine.current)

	if o.opts.Metrics != nil && o.opts.MetricsFile != "" {
		if err := o.opts.Metrics.WriteTextfile(o.opts.MetricsFile, o.log.Now()); err != nil {
			logger.Warn().Err(err).Str("path", o.opts.MetricsFile).Msg("writing metrics")
		}
	}

	o.console.EndRun(ctx, log.RunSummary{
		Saved:   report.Saved,
		Renamed: report.Renamed,
		Failed:  len(report.Failures),
		Skipped: len(report.Skipped),
		LogPath: report.LogPath,
	})

	return report, runErr
}
