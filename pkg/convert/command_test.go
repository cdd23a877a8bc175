package convert

import (
	"bufio"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/walteh/famigrate/pkg/failure"
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestCommandEngine(t *testing.T) {
	requireShell(t)

	tests := []struct {
		name       string
		script     string
		wantKind   failure.Kind
		wantEvents []Event
		wantOutput string
	}{
		{
			name:       "copies",
			script:     `cp "$0" "$1"`,
			wantOutput: "legacy",
		},
		{
			name:   "warning_continues",
			script: `cp "$0" "$1"; echo "warning: element upgraded"`,
			wantEvents: []Event{
				{Severity: SeverityWarning, Description: "element upgraded"},
			},
			wantOutput: "legacy",
		},
		{
			name:   "error_rolls_back",
			script: `cp "$0" "$1"; echo "ERROR: constraint not satisfied" >&2`,
			wantEvents: []Event{
				{Severity: SeverityError, Description: "constraint not satisfied"},
			},
			wantKind: failure.KindEngineError,
		},
		{
			name:   "error_after_long_line",
			script: `cp "$0" "$1"; printf '%0100000d\n' 0; echo "error: late failure"`,
			wantEvents: []Event{
				{Severity: SeverityError, Description: "late failure"},
			},
			wantKind: failure.KindEngineError,
		},
		{
			name:     "non_zero_exit",
			script:   `exit 3`,
			wantKind: failure.KindConversionSave,
		},
		{
			name:     "no_output",
			script:   `true`,
			wantKind: failure.KindConversionSave,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			src := filepath.Join(dir, "src.rfa")
			dst := filepath.Join(dir, "dst.rfa")
			require.NoError(t, os.WriteFile(src, []byte("legacy"), 0644))

			engine, err := NewCommandEngine([]string{"sh", "-c", tt.script, PlaceholderSource, PlaceholderDestination})
			require.NoError(t, err)

			svc := NewService(engine)
			rec := newRecorder()
			detach, err := svc.Attach(rec.handle)
			require.NoError(t, err)
			defer detach()

			err = svc.Convert(testContext(t), src, dst)
			if tt.wantKind != failure.KindUnknown {
				require.Error(t, err)
				assert.Equal(t, tt.wantKind, failure.KindOf(err))
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantEvents, rec.events)

			_, tmpErr := os.Stat(dst + tempSuffix)
			assert.True(t, os.IsNotExist(tmpErr), "temp file should not remain")

			got, readErr := os.ReadFile(dst)
			if tt.wantOutput == "" {
				assert.True(t, os.IsNotExist(readErr))
				return
			}
			require.NoError(t, readErr)
			assert.Equal(t, tt.wantOutput, string(got))
		})
	}
}

func TestCommandEngine_OpenFailure(t *testing.T) {
	engine, err := NewCommandEngine([]string{"true"})
	require.NoError(t, err)

	svc := NewService(engine)
	dir := t.TempDir()

	err = svc.Convert(testContext(t), filepath.Join(dir, "missing.rfa"), filepath.Join(dir, "out.rfa"))
	require.Error(t, err)
	assert.Equal(t, failure.KindConversionOpen, failure.KindOf(err))

	err = svc.Convert(testContext(t), dir, filepath.Join(dir, "out.rfa"))
	require.Error(t, err)
	assert.Equal(t, failure.KindConversionOpen, failure.KindOf(err))
}

func TestNewCommandEngine_Empty(t *testing.T) {
	_, err := NewCommandEngine(nil)
	require.Error(t, err)
}

func TestParseEvents(t *testing.T) {
	events, err := parseEvents([]byte("starting\nWarning: a\n  error: b  \ninfo: c\n"))
	require.NoError(t, err)
	assert.Equal(t, []Event{
		{Severity: SeverityWarning, Description: "a"},
		{Severity: SeverityError, Description: "b"},
	}, events)
}

func TestParseEvents_LongLine(t *testing.T) {
	long := strings.Repeat("x", 3*bufio.MaxScanTokenSize)
	events, err := parseEvents([]byte("warning: " + long + "\nerror: after\n"))
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Len(t, events[0].Description, len(long))
	assert.Equal(t, Event{Severity: SeverityError, Description: "after"}, events[1])
}
