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

package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/walteh/famigrate/pkg/eligibility"
	"github.com/walteh/famigrate/pkg/rewrite"
	"gitlab.com/tozd/go/errors"
)

// Engine kinds
const (
	EngineCopy    = "copy"
	EngineCommand = "command"
)

// 🔌 Parser is the interface for config parsers
type Parser interface {
	// 📝 Parse parses the config from bytes
	Parse(ctx context.Context, data []byte, filename string) (*Config, error)

	// 🔍 CanParse checks if this parser can handle the given file
	CanParse(filename string) bool
}

var (
	// 🗺️ parsers is a list of available parsers
	parsers []Parser
)

// 📝 Register registers a parser
func Register(p Parser) {
	parsers = append(parsers, p)
}

// 🎯 GetParser returns a parser that can handle the given file
func GetParser(filename string) Parser {
	for _, p := range parsers {
		if p.CanParse(filename) {
			return p
		}
	}
	return nil
}

// 🔧 EngineConfig selects the conversion engine
type EngineConfig struct {
	Kind    string   `json:"kind" yaml:"kind" hcl:"kind" validate:"oneof=copy command"`
	Command []string `json:"command,omitempty" yaml:"command,omitempty" hcl:"command,optional" validate:"required_if=Kind command"`
}

// 📚 Config represents the complete configuration
type Config struct {
	Source      string         `json:"source,omitempty" yaml:"source,omitempty" hcl:"source,optional"`
	Destination string         `json:"destination,omitempty" yaml:"destination,omitempty" hcl:"destination,optional"`
	LogDir      string         `json:"log_dir,omitempty" yaml:"log_dir,omitempty" hcl:"log_dir,optional"`
	Extension   string         `json:"extension,omitempty" yaml:"extension,omitempty" hcl:"extension,optional" validate:"required,startswith=."`
	FailFast    bool           `json:"fail_fast,omitempty" yaml:"fail_fast,omitempty" hcl:"fail_fast,optional"`
	Ignore      []string       `json:"ignore,omitempty" yaml:"ignore,omitempty" hcl:"ignore,optional" validate:"dive,required"`
	Rename      []rewrite.Rule `json:"rename,omitempty" yaml:"rename,omitempty" hcl:"rename,block"`
	Engine      *EngineConfig  `json:"engine,omitempty" yaml:"engine,omitempty" hcl:"engine,block" validate:"required"`
	MetricsFile string         `json:"metrics_file,omitempty" yaml:"metrics_file,omitempty" hcl:"metrics_file,optional"`

	location string
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Extension: eligibility.DefaultExtension,
		Engine:    &EngineConfig{Kind: EngineCopy},
	}
}

// Location is the file the config was loaded from, if any.
func (cfg *Config) Location() string {
	return cfg.location
}

// 🎯 Load loads the configuration from a file, on top of the defaults
func Load(ctx context.Context, path string) (*Config, error) {
	logger := zerolog.Ctx(ctx)
	logger.Debug().Str("path", path).Msg("loading configuration")

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Errorf("reading config file: %w", err)
	}

	p := GetParser(path)
	if p == nil {
		return nil, errors.Errorf("unsupported config file extension %q", filepath.Ext(path))
	}

	cfg, err := p.Parse(ctx, data, path)
	if err != nil {
		return nil, errors.Errorf("parsing config: %w", err)
	}

	cfg.applyDefaults()
	cfg.location = path
	return cfg, nil
}

func (cfg *Config) applyDefaults() {
	def := Default()
	if cfg.Extension == "" {
		cfg.Extension = def.Extension
	}
	if cfg.Engine == nil {
		cfg.Engine = def.Engine
	} else if cfg.Engine.Kind == "" {
		cfg.Engine.Kind = def.Engine.Kind
	}
}

// ResolvedLogDir is the directory the session log is written to.
func (cfg *Config) ResolvedLogDir() string {
	if cfg.LogDir != "" {
		return cfg.LogDir
	}
	return cfg.Destination
}

// 🔍 Validate checks struct tags, rename rules, ignore patterns and the
// relationship between the two roots. Empty roots are allowed; they are
// prompted for at run time.
func (cfg *Config) Validate() error {
	cfg.applyDefaults()

	if err := validateStruct(cfg); err != nil {
		return err
	}

	if err := rewrite.ValidateRules(cfg.Rename); err != nil {
		return errors.Errorf("rename: %w", err)
	}

	if _, err := eligibility.New(cfg.Extension, cfg.Ignore...); err != nil {
		return errors.Errorf("ignore: %w", err)
	}

	if cfg.Source != "" {
		cfg.Source = filepath.Clean(cfg.Source)
	}
	if cfg.Destination != "" {
		cfg.Destination = filepath.Clean(cfg.Destination)
	}
	if cfg.LogDir != "" {
		cfg.LogDir = filepath.Clean(cfg.LogDir)
	}

	return ValidateRoots(cfg.Source, cfg.Destination)
}

// ValidateRoots rejects a destination equal to or inside the source.
func ValidateRoots(source, destination string) error {
	if source == "" || destination == "" {
		return nil
	}

	src, err := filepath.Abs(source)
	if err != nil {
		return errors.Errorf("resolving source: %w", err)
	}
	dst, err := filepath.Abs(destination)
	if err != nil {
		return errors.Errorf("resolving destination: %w", err)
	}

	if src == dst {
		return errors.Errorf("source and destination must differ: %s", src)
	}
	rel, err := filepath.Rel(src, dst)
	if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return errors.Errorf("destination %s must not be inside source %s", dst, src)
	}
	return nil
}

// 📝 String returns a string representation of the config
func (cfg *Config) String() string {
	kind := EngineCopy
	if cfg.Engine != nil && cfg.Engine.Kind != "" {
		kind = cfg.Engine.Kind
	}
	return fmt.Sprintf("%s -> %s (%s, engine=%s)", cfg.Source, cfg.Destination, cfg.Extension, kind)
}

// Resolve layers the defaults, the config file at path (if any) and the
// environment. Flags are applied by the caller before Validate.
func Resolve(ctx context.Context, path string, lookup LookupFunc) (*Config, error) {
	cfg := Default()
	if path != "" {
		loaded, err := Load(ctx, path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if lookup != nil {
		if err := cfg.ApplyEnv(lookup); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
