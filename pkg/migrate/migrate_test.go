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
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/walteh/famigrate/pkg/convert"
	"github.com/walteh/famigrate/pkg/failure"
	"github.com/walteh/famigrate/pkg/log"
	"github.com/walteh/famigrate/pkg/metrics"
	"github.com/walteh/famigrate/pkg/session"
	"gitlab.com/tozd/go/errors"
)

var fixedTime = time.Date(2024, 3, 7, 9, 5, 30, 0, time.UTC)

func testContext(t *testing.T) context.Context {
	return zerolog.New(zerolog.TestWriter{T: t}).WithContext(context.Background())
}

func sessionOptions() []session.Option {
	return []session.Option{
		session.WithClock(func() time.Time { return fixedTime }),
		session.WithIDGenerator(session.FixedGenerator("session-1")),
	}
}

func familyBytes(body string) []byte {
	return append(append([]byte{}, convert.CompoundFileSignature...), body...)
}

// writeTree creates files relative to root.
func writeTree(t *testing.T, root string, files map[string][]byte) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, content, 0644))
	}
}

func countPrefix(lines []string, prefix string) int {
	n := 0
	for _, line := range lines {
		if strings.HasPrefix(line, prefix) {
			n++
		}
	}
	return n
}

type mockConverter struct {
	mock.Mock
	attached bool
	detaches int
}

func (m *mockConverter) Attach(h convert.FailureHandler) (func(), error) {
	args := m.Called(h)
	if err := args.Error(0); err != nil {
		return nil, err
	}
	m.attached = true
	return func() {
		m.attached = false
		m.detaches++
	}, nil
}

func (m *mockConverter) Convert(ctx context.Context, src, dst string) error {
	return m.Called(ctx, src, dst).Error(0)
}

func TestRun_EndToEnd(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "src")
	dst := filepath.Join(root, "dst")

	writeTree(t, src, map[string][]byte{
		"A/foo_1.rfa":        familyBytes("foo"),
		"A/foo_1.03.rfa":     familyBytes("backup"),
		"B/(XL) bar - x.rfa": []byte("legacy bar"),
	})

	svc := convert.NewService(convert.NewCopyEngine())
	collector := metrics.New()
	metricsFile := filepath.Join(root, "metrics", "famigrate.prom")

	o, err := New(Options{
		Selector:    StaticSelector{Source: src, Destination: dst},
		Converter:   svc,
		Metrics:     collector,
		MetricsFile: metricsFile,
		Session:     sessionOptions(),
	})
	require.NoError(t, err)

	report, err := o.Run(testContext(t))
	require.NoError(t, err)

	assert.Equal(t, OutcomeSucceeded, report.Outcome)
	assert.Equal(t, "session-1", report.SessionID)
	assert.Equal(t, 2, report.Processed)
	assert.Equal(t, 2, report.Saved)
	assert.Equal(t, 2, report.Renamed)
	assert.Empty(t, report.Failures)
	require.Len(t, report.Skipped, 1)
	assert.Equal(t, "A/foo_1.03.rfa", report.Skipped[0].Path)

	got, err := os.ReadFile(filepath.Join(dst, "A", "foo-1.rfa"))
	require.NoError(t, err)
	assert.Equal(t, familyBytes("foo"), got)

	got, err = os.ReadFile(filepath.Join(dst, "B", "b.bar-x.rfa"))
	require.NoError(t, err)
	assert.Equal(t, []byte("legacy bar"), got)

	_, err = os.Stat(filepath.Join(dst, "A", "foo_1.03.rfa"))
	assert.True(t, os.IsNotExist(err), "numbered backup must not be copied")
	_, err = os.Stat(filepath.Join(dst, "A", "foo-1.03.rfa"))
	assert.True(t, os.IsNotExist(err), "numbered backup must not be copied under a rewritten name")

	assert.Equal(t, filepath.Join(dst, "20240307.0905.log.txt"), report.LogPath)
	written, err := os.ReadFile(report.LogPath)
	require.NoError(t, err)
	assert.Equal(t, o.Log().Text(), string(written), "flushed log should match the in-memory log")

	lines := o.Log().Lines()
	assert.Equal(t, 2, countPrefix(lines, "processing "))
	assert.Equal(t, 2, countPrefix(lines, "renamed "))
	assert.Equal(t, 0, countPrefix(lines, "failed "))

	g := goldie.New(t, goldie.WithFixtureDir("testdata/golden"), goldie.WithNameSuffix(".golden"))
	g.Assert(t, "end_to_end", []byte(strings.ReplaceAll(string(written), root, "<root>")))

	assert.Equal(t, []State{
		StateAwaitingSource,
		StateAwaitingDestination,
		StateDiscovering,
		StateProcessingBatch,
		StateFinalized,
	}, o.History())
	assert.False(t, svc.Attached(), "failure handler should be detached after the batch")

	assert.Equal(t, 2.0, testutil.ToFloat64(collector.Artifacts.WithLabelValues(metrics.OutcomeSaved)))
	assert.Equal(t, 2.0, testutil.ToFloat64(collector.Renames))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.Skipped))
	_, err = os.Stat(metricsFile)
	assert.NoError(t, err, "metrics textfile should be written")
}

func TestRun_BatchResilience(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "src")
	dst := filepath.Join(root, "dst")
	writeTree(t, src, map[string][]byte{
		"a.rfa": familyBytes("a"),
		"b.rfa": familyBytes("b"),
		"c.rfa": familyBytes("c"),
		"d.rfa": familyBytes("d"),
	})

	conv := &mockConverter{}
	conv.On("Attach", mock.Anything).Return(nil)
	conv.On("Convert", mock.Anything, filepath.Join(src, "b.rfa"), filepath.Join(dst, "b.rfa")).
		Return(failure.New(failure.KindConversionOpen, filepath.Join(src, "b.rfa"), errors.New("corrupt header")))
	conv.On("Convert", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	o, err := New(Options{
		Selector:  StaticSelector{Source: src, Destination: dst},
		Converter: conv,
		Session:   sessionOptions(),
	})
	require.NoError(t, err)

	report, err := o.Run(testContext(t))
	require.NoError(t, err, "a single failure should not fail the run")

	assert.Equal(t, OutcomeSucceeded, report.Outcome)
	assert.Equal(t, 4, report.Processed)
	assert.Equal(t, 3, report.Saved)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, "b.rfa", report.Failures[0].Path)
	assert.Equal(t, failure.KindConversionOpen, failure.KindOf(report.Failures[0].Err))

	conv.AssertNumberOfCalls(t, "Convert", 4)
	assert.False(t, conv.attached, "failure handler should be detached")
	assert.Equal(t, 1, conv.detaches, "detach should run exactly once")

	lines := o.Log().Lines()
	assert.Equal(t, 4, countPrefix(lines, "processing "))
	assert.Equal(t, 0, countPrefix(lines, "renamed "), "unchanged names should not be logged as renamed")
	assert.Equal(t, 1, countPrefix(lines, "failed "))
	assert.Equal(t, 1, countPrefix(lines, "!!exception"))
	assert.Contains(t, lines, "failed b.rfa -> "+filepath.Join(dst, "b.rfa"))
	assert.Contains(t, lines, "--2024-03-07 09:05:30 ConversionOpenError")
	assert.Equal(t, "finished 2024-03-07 09:05:30: processed 4, saved 3, renamed 0, failed 1, skipped 0", lines[len(lines)-1])
}

func TestRun_FailFast(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "src")
	dst := filepath.Join(root, "dst")
	logDir := filepath.Join(root, "logs")
	writeTree(t, src, map[string][]byte{
		"a.rfa": familyBytes("a"),
		"b.rfa": familyBytes("b"),
		"c.rfa": familyBytes("c"),
	})

	conv := &mockConverter{}
	conv.On("Attach", mock.Anything).Return(nil)
	conv.On("Convert", mock.Anything, filepath.Join(src, "b.rfa"), mock.Anything).
		Return(failure.New(failure.KindConversionSave, filepath.Join(dst, "b.rfa"), errors.New("disk full")))
	conv.On("Convert", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	o, err := New(Options{
		Selector:  StaticSelector{Source: src, Destination: dst},
		Converter: conv,
		LogDir:    logDir,
		FailFast:  true,
		Session:   sessionOptions(),
	})
	require.NoError(t, err)

	report, err := o.Run(testContext(t))
	require.Error(t, err)
	assert.Equal(t, failure.KindConversionSave, failure.KindOf(err))
	assert.Equal(t, OutcomeFailed, report.Outcome)
	assert.Equal(t, StateFailed, o.State())
	assert.Equal(t, 2, report.Processed, "artifacts after the failure should not be attempted")
	conv.AssertNumberOfCalls(t, "Convert", 2)
	assert.False(t, conv.attached, "failure handler should be detached")

	written, err := os.ReadFile(filepath.Join(logDir, "20240307.0905.log.txt"))
	require.NoError(t, err, "log should be flushed on abort")
	assert.Contains(t, string(written), "aborting batch after first failure\n")
}

func TestRun_Cancelled(t *testing.T) {
	tests := []struct {
		name        string
		selector    DirectorySelector
		wantErr     bool
		wantHistory []State
	}{
		{
			name:        "no_source",
			selector:    StaticSelector{},
			wantHistory: []State{StateAwaitingSource, StateCancelled},
		},
		{
			name:        "no_destination",
			selector:    StaticSelector{Source: "/somewhere"},
			wantHistory: []State{StateAwaitingSource, StateAwaitingDestination, StateCancelled},
		},
		{
			name:        "selector_error",
			selector:    failingSelector{err: errors.New("terminal closed")},
			wantErr:     true,
			wantHistory: []State{StateAwaitingSource, StateCancelled},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logDir := t.TempDir()
			conv := &mockConverter{}

			o, err := New(Options{
				Selector:  tt.selector,
				Converter: conv,
				LogDir:    logDir,
				Session:   sessionOptions(),
			})
			require.NoError(t, err)

			report, err := o.Run(testContext(t))
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}

			assert.Equal(t, OutcomeCancelled, report.Outcome)
			assert.Equal(t, tt.wantHistory, o.History())
			assert.Nil(t, o.Log(), "no session log should be started")
			conv.AssertNotCalled(t, "Attach", mock.Anything)

			entries, err := os.ReadDir(logDir)
			require.NoError(t, err)
			assert.Empty(t, entries, "nothing should be written")
		})
	}
}

type failingSelector struct {
	err error
}

func (s failingSelector) SelectSource(ctx context.Context) (string, error) {
	return "", s.err
}

func (s failingSelector) SelectDestination(ctx context.Context, source string) (string, error) {
	return "", s.err
}

func TestRun_DiscoveryFailure(t *testing.T) {
	root := t.TempDir()

	tests := []struct {
		name string
		src  string
		dst  string
	}{
		{
			name: "missing_source",
			src:  filepath.Join(root, "missing"),
			dst:  filepath.Join(root, "dst"),
		},
		{
			name: "destination_inside_source",
			src:  root,
			dst:  filepath.Join(root, "out"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logDir := t.TempDir()
			conv := &mockConverter{}

			o, err := New(Options{
				Selector:  StaticSelector{Source: tt.src, Destination: tt.dst},
				Converter: conv,
				LogDir:    logDir,
				Session:   sessionOptions(),
			})
			require.NoError(t, err)

			report, err := o.Run(testContext(t))
			require.Error(t, err)
			assert.Equal(t, failure.KindDiscovery, failure.KindOf(err))
			assert.Equal(t, OutcomeFailed, report.Outcome)
			assert.Equal(t, []State{
				StateAwaitingSource,
				StateAwaitingDestination,
				StateDiscovering,
				StateFailed,
			}, o.History())
			conv.AssertNotCalled(t, "Attach", mock.Anything)

			written, err := os.ReadFile(filepath.Join(logDir, "20240307.0905.log.txt"))
			require.NoError(t, err, "log should be flushed on failure")
			assert.Contains(t, string(written), "!!exception\n--2024-03-07 09:05:30 DiscoveryError\n")
			assert.Contains(t, string(written), "discovery failed\n")
		})
	}
}

func TestRun_EngineEvents(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "src")
	dst := filepath.Join(root, "dst")
	writeTree(t, src, map[string][]byte{
		"empty.rfa": {},
		"plain.rfa": []byte("not a compound document"),
	})

	svc := convert.NewService(convert.NewCopyEngine())
	o, err := New(Options{
		Selector:  StaticSelector{Source: src, Destination: dst},
		Converter: svc,
		Session:   sessionOptions(),
	})
	require.NoError(t, err)

	report, err := o.Run(testContext(t))
	require.NoError(t, err)

	assert.Equal(t, 2, report.Processed)
	assert.Equal(t, 1, report.Saved)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, "empty.rfa", report.Failures[0].Path)
	assert.Equal(t, failure.KindEngineError, failure.KindOf(report.Failures[0].Err))

	lines := o.Log().Lines()
	assert.Contains(t, lines, "!!error artifact is empty")
	assert.Contains(t, lines, "!!warning missing compound document signature")

	_, err = os.Stat(filepath.Join(dst, "empty.rfa"))
	assert.True(t, os.IsNotExist(err), "rolled back artifact should not be saved")
	_, err = os.Stat(filepath.Join(dst, "plain.rfa"))
	assert.NoError(t, err, "warning should not stop the save")

	assert.False(t, svc.Attached())
}

func TestRun_DestinationDirectoryFailure(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "src")
	dst := filepath.Join(root, "dst")
	writeTree(t, src, map[string][]byte{
		"A/x.rfa": familyBytes("x"),
		"B/y.rfa": familyBytes("y"),
	})
	// a file where the A directory should go
	writeTree(t, dst, map[string][]byte{"A": []byte("in the way")})

	o, err := New(Options{
		Selector:  StaticSelector{Source: src, Destination: dst},
		Converter: convert.NewService(convert.NewCopyEngine()),
		LogDir:    filepath.Join(root, "logs"),
		Session:   sessionOptions(),
	})
	require.NoError(t, err)

	report, err := o.Run(testContext(t))
	require.NoError(t, err)

	assert.Equal(t, OutcomeSucceeded, report.Outcome)
	assert.Equal(t, 1, report.Saved)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, "A/x.rfa", report.Failures[0].Path)
	assert.Equal(t, failure.KindDestinationDirectory, failure.KindOf(report.Failures[0].Err))

	_, err = os.Stat(filepath.Join(dst, "B", "y.rfa"))
	assert.NoError(t, err, "later artifacts should still be processed")
}

func TestRun_DestinationCollision(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "src")
	dst := filepath.Join(root, "dst")
	writeTree(t, src, map[string][]byte{
		"A/foo-1.rfa": familyBytes("hyphen"),
		"A/foo_1.rfa": familyBytes("underscore"),
		"A/BAR.rfa":   familyBytes("upper"),
		"A/bar.rfa":   familyBytes("lower"),
	})

	o, err := New(Options{
		Selector:  StaticSelector{Source: src, Destination: dst},
		Converter: convert.NewService(convert.NewCopyEngine()),
		LogDir:    filepath.Join(root, "logs"),
		Session:   sessionOptions(),
	})
	require.NoError(t, err)

	report, err := o.Run(testContext(t))
	require.NoError(t, err)

	assert.Equal(t, OutcomeSucceeded, report.Outcome)
	assert.Equal(t, 4, report.Processed)
	assert.Equal(t, 2, report.Saved)
	require.Len(t, report.Failures, 2)
	assert.Equal(t, "A/bar.rfa", report.Failures[0].Path)
	assert.Equal(t, "A/foo_1.rfa", report.Failures[1].Path)
	for _, f := range report.Failures {
		assert.Equal(t, failure.KindConversionSave, failure.KindOf(f.Err))
	}
	assert.Contains(t, report.Failures[1].Err.Error(), "A/foo_1.rfa would overwrite A/foo-1.rfa converted from A/foo-1.rfa")

	got, err := os.ReadFile(filepath.Join(dst, "A", "foo-1.rfa"))
	require.NoError(t, err)
	assert.Equal(t, familyBytes("hyphen"), got, "the first artifact should keep its destination")

	lines := o.Log().Lines()
	assert.Equal(t, 2, countPrefix(lines, "saved "))
	assert.Equal(t, 2, countPrefix(lines, "failed "))
	assert.Contains(t, lines, "failed A/foo_1.rfa -> "+filepath.Join(dst, "A", "foo-1.rfa"))
	assert.Equal(t, "finished 2024-03-07 09:05:30: processed 4, saved 2, renamed 1, failed 2, skipped 0", lines[len(lines)-1])
}

func TestRun_AttachFailure(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "src")
	writeTree(t, src, map[string][]byte{"a.rfa": familyBytes("a")})

	conv := &mockConverter{}
	conv.On("Attach", mock.Anything).Return(errors.New("handler already attached"))

	o, err := New(Options{
		Selector:  StaticSelector{Source: src, Destination: filepath.Join(root, "dst")},
		Converter: conv,
		Session:   sessionOptions(),
	})
	require.NoError(t, err)

	report, err := o.Run(testContext(t))
	require.Error(t, err)
	assert.Equal(t, OutcomeFailed, report.Outcome)
	conv.AssertNotCalled(t, "Convert", mock.Anything, mock.Anything, mock.Anything)
}

func TestRun_OnlyOnce(t *testing.T) {
	o, err := New(Options{
		Selector:  StaticSelector{},
		Converter: &mockConverter{},
	})
	require.NoError(t, err)

	_, err = o.Run(testContext(t))
	require.NoError(t, err)

	_, err = o.Run(testContext(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run already started")
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Options{Converter: &mockConverter{}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "selector is required")

	_, err = New(Options{Selector: StaticSelector{}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "converter is required")
}

func TestRun_ConsoleFromContext(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "src")
	dst := filepath.Join(root, "dst")
	writeTree(t, src, map[string][]byte{
		"a.rfa":    familyBytes("a"),
		"a.01.rfa": familyBytes("backup"),
	})

	o, err := New(Options{
		Selector:  StaticSelector{Source: src, Destination: dst},
		Converter: convert.NewService(convert.NewCopyEngine()),
		LogDir:    filepath.Join(root, "logs"),
		Session:   sessionOptions(),
	})
	require.NoError(t, err)

	buf := &bytes.Buffer{}
	ctx := log.NewContext(testContext(t), log.New(buf, zerolog.Nop()))

	_, err = o.Run(ctx)
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "[migrating "+src+"]")
	assert.Contains(t, out, "a.01.rfa")
	assert.Contains(t, out, log.StatusSkipped)
	assert.Contains(t, out, log.StatusSaved)
}
