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

// Package eligibility discovers the artifacts under a source root that are
// subject to migration.
package eligibility

import (
	"context"
	"io/fs"
	"os"
	"path"
	"regexp"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/rs/zerolog"
	"github.com/walteh/famigrate/pkg/failure"
	"gitlab.com/tozd/go/errors"
	"golang.org/x/text/unicode/norm"
)

// DefaultExtension is the family file extension.
const DefaultExtension = ".rfa"

// Skip reasons
const (
	ReasonNumberedBackup = "numbered backup"
	ReasonIgnored        = "ignored by pattern"
	ReasonUnreadable     = "unreadable"
)

// 📄 Skip records a candidate that was not selected for migration
type Skip struct {
	Path   string // slash-separated, relative to the source root
	Reason string
}

// 📦 Result is the outcome of a discovery pass
type Result struct {
	Artifacts []string // slash-separated relative paths, sorted
	Skipped   []Skip
}

// 🔍 Filter selects eligible artifacts
type Filter struct {
	extension string
	backup    *regexp.Regexp
	ignore    []string
}

// New creates a Filter for the given extension (".rfa" if empty) and
// doublestar ignore patterns.
func New(extension string, ignore ...string) (*Filter, error) {
	if extension == "" {
		extension = DefaultExtension
	}
	if !strings.HasPrefix(extension, ".") {
		extension = "." + extension
	}

	for _, pattern := range ignore {
		if !doublestar.ValidatePattern(pattern) {
			return nil, errors.Errorf("invalid ignore pattern %q", pattern)
		}
	}

	return &Filter{
		extension: extension,
		backup:    BackupPattern(extension),
		ignore:    ignore,
	}, nil
}

// BackupPattern matches <base>.<2-4 digits><ext>, case-insensitively.
func BackupPattern(extension string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)^.+\.[0-9]{2,4}` + regexp.QuoteMeta(extension) + `$`)
}

// Extension returns the artifact extension the filter selects.
func (f *Filter) Extension() string {
	return f.extension
}

// IsNumberedBackup reports whether the filename is an auto-generated
// numbered backup.
func (f *Filter) IsNumberedBackup(name string) bool {
	return f.backup.MatchString(name)
}

// IsCandidate reports whether the filename carries the artifact extension.
func (f *Filter) IsCandidate(name string) bool {
	return strings.EqualFold(path.Ext(name), f.extension)
}

// Eligible reports whether a relative path would be migrated, and why not
// when it would not.
func (f *Filter) Eligible(rel string) (bool, string) {
	name := path.Base(rel)
	if !f.IsCandidate(name) {
		return false, ""
	}
	if f.IsNumberedBackup(name) {
		return false, ReasonNumberedBackup
	}
	for _, pattern := range f.ignore {
		if matched, _ := doublestar.Match(pattern, rel); matched {
			return false, ReasonIgnored + " " + pattern
		}
	}
	return true, ""
}

// Discover walks root and returns the eligible artifacts in a stable order.
//
// A missing or unreadable root is a discovery failure. Unreadable entries
// below the root are reported in Result.Skipped and the walk continues.
func (f *Filter) Discover(ctx context.Context, root string) (*Result, error) {
	logger := zerolog.Ctx(ctx)

	info, err := os.Stat(root)
	if err != nil {
		return nil, failure.New(failure.KindDiscovery, root, err)
	}
	if !info.IsDir() {
		return nil, failure.Newf(failure.KindDiscovery, root, "not a directory")
	}

	result := &Result{}

	walkErr := fs.WalkDir(os.DirFS(root), ".", func(rel string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		if err != nil {
			if rel == "." {
				return err
			}
			logger.Debug().Str("path", rel).Err(err).Msg("skipping unreadable entry")
			result.Skipped = append(result.Skipped, Skip{Path: rel, Reason: ReasonUnreadable + ": " + err.Error()})
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			if rel != "." && strings.HasPrefix(d.Name(), ".") {
				return fs.SkipDir
			}
			return nil
		}

		ok, reason := f.Eligible(rel)
		switch {
		case ok:
			result.Artifacts = append(result.Artifacts, rel)
		case reason != "":
			logger.Debug().Str("path", rel).Str("reason", reason).Msg("excluding artifact")
			result.Skipped = append(result.Skipped, Skip{Path: rel, Reason: reason})
		}
		return nil
	})
	if walkErr != nil {
		return nil, failure.New(failure.KindDiscovery, root, walkErr)
	}

	sortPaths(result.Artifacts)
	sort.SliceStable(result.Skipped, func(i, j int) bool {
		return less(result.Skipped[i].Path, result.Skipped[j].Path)
	})

	logger.Debug().
		Int("artifacts", len(result.Artifacts)).
		Int("skipped", len(result.Skipped)).
		Msg("discovery complete")

	return result, nil
}

func sortPaths(paths []string) {
	sort.Slice(paths, func(i, j int) bool {
		return less(paths[i], paths[j])
	})
}

// less orders by the NFC form so decomposed and composed names sort alike.
func less(a, b string) bool {
	na, nb := norm.NFC.String(a), norm.NFC.String(b)
	if na != nb {
		return na < nb
	}
	return a < b
}
