package convert

import (
	"bufio"
	"bytes"
	"context"
	"os"
	"os/exec"
	"strings"

	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"
)

// Placeholders substituted into CommandEngine arguments.
const (
	PlaceholderSource      = "{source}"
	PlaceholderDestination = "{destination}"
)

// 🛠️ CommandEngine delegates conversion to an external program
//
// Each output line starting with "warning:" or "error:" is reported as an
// event. The program writes to a temp destination that is renamed into place
// when it exits cleanly.
type CommandEngine struct {
	Args []string
	Env  []string
}

type fileHandle struct {
	path string
}

func (h *fileHandle) Path() string { return h.path }

// NewCommandEngine creates a CommandEngine for args.
func NewCommandEngine(args []string, env ...string) (*CommandEngine, error) {
	if len(args) == 0 {
		return nil, errors.Errorf("command is required")
	}
	return &CommandEngine{Args: args, Env: env}, nil
}

func (e *CommandEngine) Open(ctx context.Context, path string, events FailureHandler) (Handle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Errorf("opening artifact: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, errors.Errorf("reading artifact info: %w", err)
	}
	if info.IsDir() {
		return nil, errors.Errorf("artifact is a directory")
	}

	return &fileHandle{path: path}, nil
}

func (e *CommandEngine) Save(ctx context.Context, h Handle, dest string, events FailureHandler) error {
	out := stage(dest)

	args := make([]string, len(e.Args))
	for i, arg := range e.Args {
		arg = strings.ReplaceAll(arg, PlaceholderSource, h.Path())
		args[i] = strings.ReplaceAll(arg, PlaceholderDestination, out.temp)
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Env = append(os.Environ(), e.Env...)
	output, runErr := cmd.CombinedOutput()

	zerolog.Ctx(ctx).Debug().Strs("args", args).Bytes("output", output).Msg("converter finished")

	parsed, err := parseEvents(output)
	if err != nil {
		out.rollback()
		return errors.Errorf("reading converter output: %w", err)
	}
	for _, ev := range parsed {
		if dispatch(ctx, events, ev) {
			out.rollback()
			return rolledBack(ev)
		}
	}

	if runErr != nil {
		out.rollback()
		return errors.Errorf("running %s: %w", args[0], runErr)
	}

	if _, err := os.Stat(out.temp); err != nil {
		return errors.Errorf("converter produced no output: %w", err)
	}

	return out.commit()
}

func (e *CommandEngine) Close(ctx context.Context, h Handle) error {
	return nil
}

// parseEvents collects warning: and error: lines. A line of any length is
// read; the whole output is already in memory.
func parseEvents(output []byte) ([]Event, error) {
	var events []Event
	scanner := bufio.NewScanner(bytes.NewReader(output))
	scanner.Buffer(nil, max(len(output)+1, bufio.MaxScanTokenSize))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		lower := strings.ToLower(line)
		switch {
		case strings.HasPrefix(lower, "warning:"):
			events = append(events, Event{Severity: SeverityWarning, Description: strings.TrimSpace(line[len("warning:"):])})
		case strings.HasPrefix(lower, "error:"):
			events = append(events, Event{Severity: SeverityError, Description: strings.TrimSpace(line[len("error:"):])})
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.WithStack(err)
	}
	return events, nil
}
