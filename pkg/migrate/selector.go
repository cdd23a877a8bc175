package migrate

import (
	"context"

	"gitlab.com/tozd/go/errors"
)

// ErrCancelled is returned by a DirectorySelector when the user backs out.
var ErrCancelled = errors.New("selection cancelled")

// 📂 DirectorySelector supplies the two roots of a run
type DirectorySelector interface {
	SelectSource(ctx context.Context) (string, error)
	SelectDestination(ctx context.Context, source string) (string, error)
}

// StaticSelector returns fixed roots. An empty root counts as a cancellation.
type StaticSelector struct {
	Source      string
	Destination string
}

func (s StaticSelector) SelectSource(ctx context.Context) (string, error) {
	if s.Source == "" {
		return "", ErrCancelled
	}
	return s.Source, nil
}

func (s StaticSelector) SelectDestination(ctx context.Context, source string) (string, error) {
	if s.Destination == "" {
		return "", ErrCancelled
	}
	return s.Destination, nil
}
