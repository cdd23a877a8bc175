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

package main

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/walteh/famigrate/pkg/config"
	"gitlab.com/tozd/go/errors"
)

// rootOpts contains the flags shared by all commands
type rootOpts struct {
	configFile string
	envFile    string
	debug      bool
}

func newRootCommand() *cobra.Command {
	opts := &rootOpts{}

	cmd := &cobra.Command{
		Use:           "famigrate",
		Short:         "Batch-migrate a tree of family files",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cmd.SetContext(setupLogging(cmd, opts.debug))
		},
	}

	addRootFlags(cmd, opts)

	cmd.AddCommand(newRunCommand(opts))
	cmd.AddCommand(newPlanCommand(opts))
	cmd.AddCommand(newVersionCommand())

	return cmd
}

// addRootFlags adds shared flags to the root command
func addRootFlags(cmd *cobra.Command, opts *rootOpts) {
	cmd.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "", "config file path (.hcl, .yaml, .json)")
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file with FAMIGRATE_* overrides")
	cmd.PersistentFlags().BoolVarP(&opts.debug, "debug", "d", false, "enable debug logging")
}

// setupLogging puts a zerolog logger writing to the command's stderr on the
// context.
func setupLogging(cmd *cobra.Command, debug bool) context.Context {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr(), NoColor: true}).
		Level(level).
		With().Timestamp().Logger()
	return logger.WithContext(cmd.Context())
}

// loadConfig layers the defaults, the config file and the environment.
func (o *rootOpts) loadConfig(ctx context.Context) (*config.Config, error) {
	lookup, err := config.EnvLookup(ctx, o.envFile)
	if err != nil {
		return nil, errors.Errorf("loading environment: %w", err)
	}

	cfg, err := config.Resolve(ctx, o.configFile, lookup)
	if err != nil {
		return nil, errors.Errorf("loading config: %w", err)
	}
	if cfg.Location() != "" {
		zerolog.Ctx(ctx).Debug().Str("file", cfg.Location()).Msg("config loaded")
	}
	return cfg, nil
}
