package main

import (
	"context"
	"strings"

	"github.com/pterm/pterm"
	"github.com/walteh/famigrate/pkg/migrate"
)

// prompt asks the user for a value on the terminal.
var prompt = func(label string) (string, error) {
	return pterm.DefaultInteractiveTextInput.Show(label)
}

// promptSelector asks for any root not already configured. An empty answer
// cancels the run.
type promptSelector struct {
	source      string
	destination string
	ask         func(label string) (string, error)
}

func (p *promptSelector) SelectSource(ctx context.Context) (string, error) {
	if p.source != "" {
		return p.source, nil
	}
	return p.answer("Source directory")
}

func (p *promptSelector) SelectDestination(ctx context.Context, source string) (string, error) {
	if p.destination != "" {
		return p.destination, nil
	}
	return p.answer("Destination directory for " + source)
}

func (p *promptSelector) answer(label string) (string, error) {
	v, err := p.ask(label)
	if err != nil {
		return "", err
	}
	v = strings.TrimSpace(v)
	if v == "" {
		return "", migrate.ErrCancelled
	}
	return v, nil
}
