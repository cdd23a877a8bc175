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

// Package convert drives a conversion engine through the open, save, close
// cycle of a single artifact.
package convert

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"github.com/walteh/famigrate/pkg/failure"
	"gitlab.com/tozd/go/errors"
)

// 📊 Severity of an engine event
type Severity int

const (
	SeverityWarning Severity = iota
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is a condition the engine reports while working on one artifact.
type Event struct {
	Severity    Severity
	Description string
}

// Decision tells the engine how to proceed after an event.
type Decision int

const (
	// DecisionContinue discards the event and keeps going.
	DecisionContinue Decision = iota
	// DecisionRollBack discards pending state for the artifact and fails it.
	DecisionRollBack
)

// FailureHandler decides what the engine does with an event.
type FailureHandler func(ctx context.Context, ev Event) Decision

// ErrRolledBack is returned by an engine that rolled back on request.
var ErrRolledBack = errors.New("rolled back")

// 📄 Handle is an open artifact
type Handle interface {
	Path() string
}

// 🔧 Engine opens, saves and closes artifacts. Only one artifact is open at
// a time.
type Engine interface {
	Open(ctx context.Context, path string, events FailureHandler) (Handle, error)
	Save(ctx context.Context, h Handle, dest string, events FailureHandler) error
	Close(ctx context.Context, h Handle) error
}

// dispatch reports ev and returns true when the engine must roll back. With
// no handler, warnings continue and errors roll back.
func dispatch(ctx context.Context, events FailureHandler, ev Event) bool {
	if events == nil {
		return ev.Severity == SeverityError
	}
	return events(ctx, ev) == DecisionRollBack
}

func rolledBack(ev Event) error {
	return errors.Errorf("%s: %w", ev.Description, ErrRolledBack)
}

// 🔄 Service converts artifacts with an engine and the attached handler
type Service struct {
	engine Engine

	mu      sync.Mutex
	handler FailureHandler
}

// NewService creates a Service around engine.
func NewService(engine Engine) *Service {
	return &Service{engine: engine}
}

// Attach registers the failure handler used by subsequent conversions. The
// returned func detaches it and is safe to call more than once.
func (s *Service) Attach(h FailureHandler) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.handler != nil {
		return nil, errors.Errorf("a failure handler is already attached")
	}
	s.handler = h

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.handler = nil
		})
	}, nil
}

// Attached reports whether a handler is registered.
func (s *Service) Attached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handler != nil
}

func (s *Service) currentHandler() FailureHandler {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handler
}

// Convert opens src, saves it converted to dst and closes it.
//
// Failures are returned as failure.Error values: ConversionOpenError,
// ConversionSaveError, or EngineError when the handler requested a rollback.
func (s *Service) Convert(ctx context.Context, src, dst string) error {
	logger := zerolog.Ctx(ctx)
	handler := s.currentHandler()

	h, err := s.engine.Open(ctx, src, handler)
	if err != nil {
		if errors.Is(err, ErrRolledBack) {
			return failure.New(failure.KindEngineError, src, err)
		}
		return failure.New(failure.KindConversionOpen, src, err)
	}
	defer func() {
		if cerr := s.engine.Close(ctx, h); cerr != nil {
			logger.Warn().Err(cerr).Str("path", src).Msg("closing artifact")
		}
	}()

	if err := s.engine.Save(ctx, h, dst, handler); err != nil {
		if errors.Is(err, ErrRolledBack) {
			return failure.New(failure.KindEngineError, dst, err)
		}
		return failure.New(failure.KindConversionSave, dst, err)
	}

	logger.Debug().Str("source", src).Str("destination", dst).Msg("artifact converted")
	return nil
}
