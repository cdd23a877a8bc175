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

package convert

import (
	"bytes"
	"context"
	"os"

	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"
)

// CompoundFileSignature opens every OLE compound document, the container
// format of family files.
var CompoundFileSignature = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}

// 📦 CopyEngine carries artifacts over byte for byte
//
// It reports a warning for payloads without the compound document signature
// and an error for empty payloads.
type CopyEngine struct{}

type copyHandle struct {
	path string
	data []byte
}

func (h *copyHandle) Path() string { return h.path }

// NewCopyEngine creates a CopyEngine.
func NewCopyEngine() *CopyEngine {
	return &CopyEngine{}
}

func (e *CopyEngine) Open(ctx context.Context, path string, events FailureHandler) (Handle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Errorf("reading artifact: %w", err)
	}

	if len(data) > 0 && !bytes.HasPrefix(data, CompoundFileSignature) {
		ev := Event{Severity: SeverityWarning, Description: "missing compound document signature"}
		if dispatch(ctx, events, ev) {
			return nil, rolledBack(ev)
		}
	}

	return &copyHandle{path: path, data: data}, nil
}

func (e *CopyEngine) Save(ctx context.Context, h Handle, dest string, events FailureHandler) error {
	ch, ok := h.(*copyHandle)
	if !ok || ch == nil {
		return errors.Errorf("handle %T was not opened by this engine", h)
	}

	out := stage(dest)
	if err := out.write(ch.data); err != nil {
		out.rollback()
		return err
	}

	if len(ch.data) == 0 {
		ev := Event{Severity: SeverityError, Description: "artifact is empty"}
		if dispatch(ctx, events, ev) {
			out.rollback()
			return rolledBack(ev)
		}
	}

	if err := out.commit(); err != nil {
		return err
	}

	zerolog.Ctx(ctx).Debug().Str("destination", dest).Int("bytes", len(ch.data)).Msg("artifact saved")
	return nil
}

func (e *CopyEngine) Close(ctx context.Context, h Handle) error {
	if ch, ok := h.(*copyHandle); ok && ch != nil {
		ch.data = nil
	}
	return nil
}
