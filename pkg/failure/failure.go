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

// Package failure defines the error kinds a migration run can produce.
package failure

import (
	"fmt"

	"gitlab.com/tozd/go/errors"
)

// 🏷️ Kind classifies a migration failure
type Kind int

const (
	KindUnknown Kind = iota
	KindDiscovery
	KindConversionOpen
	KindConversionSave
	KindDestinationDirectory
	KindEngineWarning
	KindEngineError
)

// String returns the type name written to the session log
func (k Kind) String() string {
	switch k {
	case KindDiscovery:
		return "DiscoveryError"
	case KindConversionOpen:
		return "ConversionOpenError"
	case KindConversionSave:
		return "ConversionSaveError"
	case KindDestinationDirectory:
		return "DestinationDirectoryError"
	case KindEngineWarning:
		return "EngineWarning"
	case KindEngineError:
		return "EngineError"
	default:
		return "UnknownError"
	}
}

// 💥 Error is a failure tied to a path
type Error struct {
	Kind Kind
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Kind.String()
	if e.Path != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Path)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %s", msg, e.Err.Error())
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a failure of the given kind with a stack trace recorded at the
// call site.
func New(kind Kind, path string, err error) error {
	return errors.WithStack(&Error{Kind: kind, Path: path, Err: err})
}

// Newf is New with a formatted cause.
func Newf(kind Kind, path string, format string, args ...any) error {
	return New(kind, path, errors.Errorf(format, args...))
}

// KindOf returns the kind of the outermost failure in err's chain.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

// TypeName returns the name recorded for err in the session log.
func TypeName(err error) string {
	if k := KindOf(err); k != KindUnknown {
		return k.String()
	}
	return fmt.Sprintf("%T", err)
}
