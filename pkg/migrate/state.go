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
	"gitlab.com/tozd/go/errors"
)

// 🚦 State is a step of a migration run
type State int

const (
	StateAwaitingSource State = iota
	StateAwaitingDestination
	StateDiscovering
	StateProcessingBatch
	StateFinalized
	StateCancelled
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateAwaitingSource:
		return "AwaitingSource"
	case StateAwaitingDestination:
		return "AwaitingDestination"
	case StateDiscovering:
		return "Discovering"
	case StateProcessingBatch:
		return "ProcessingBatch"
	case StateFinalized:
		return "Finalized"
	case StateCancelled:
		return "Cancelled"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// IsTerminal reports whether the run has ended in s.
func IsTerminal(s State) bool {
	switch s {
	case StateFinalized, StateCancelled, StateFailed:
		return true
	default:
		return false
	}
}

func isAllowedTransition(from, to State) bool {
	switch from {
	case StateAwaitingSource:
		return to == StateAwaitingDestination || to == StateCancelled
	case StateAwaitingDestination:
		return to == StateDiscovering || to == StateCancelled
	case StateDiscovering:
		return to == StateProcessingBatch || to == StateFailed
	case StateProcessingBatch:
		return to == StateFinalized || to == StateFailed
	default:
		return false
	}
}

// 🏁 Outcome is what a finished run reports to its caller
type Outcome int

const (
	OutcomeSucceeded Outcome = iota
	OutcomeCancelled
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSucceeded:
		return "Succeeded"
	case OutcomeCancelled:
		return "Cancelled"
	default:
		return "Failed"
	}
}

// OutcomeOf maps a terminal state to its outcome.
func OutcomeOf(s State) Outcome {
	switch s {
	case StateFinalized:
		return OutcomeSucceeded
	case StateCancelled:
		return OutcomeCancelled
	default:
		return OutcomeFailed
	}
}

// machine tracks the current state and every state it has been in.
type machine struct {
	current State
	history []State
}

func newMachine() machine {
	return machine{current: StateAwaitingSource, history: []State{StateAwaitingSource}}
}

func (m *machine) transition(to State) error {
	if !isAllowedTransition(m.current, to) {
		return errors.Errorf("disallowed transition: %s -> %s", m.current, to)
	}
	m.current = to
	m.history = append(m.history, to)
	return nil
}
