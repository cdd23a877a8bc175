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
	"fmt"
	"io"
	"strconv"

	"github.com/pterm/pterm"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/walteh/famigrate/pkg/config"
	"github.com/walteh/famigrate/pkg/convert"
	"github.com/walteh/famigrate/pkg/eligibility"
	"github.com/walteh/famigrate/pkg/log"
	"github.com/walteh/famigrate/pkg/metrics"
	"github.com/walteh/famigrate/pkg/migrate"
	"github.com/walteh/famigrate/pkg/rewrite"
	"gitlab.com/tozd/go/errors"
)

type runFlags struct {
	source      string
	destination string
	logDir      string
	metricsFile string
	engine      string
	failFast    bool
	interactive bool
}

func newRunCommand(root *rootOpts) *cobra.Command {
	flags := &runFlags{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Migrate every eligible family under the source root",
		Long: `Run discovers the family files under the source root, skips numbered
backups, rewrites filenames and converts each file into the mirrored
destination tree. A session log is written to the log directory.

Exit codes: 0 succeeded (some files may have failed, see the log),
2 cancelled, 1 failed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ctx = zerolog.Ctx(ctx).With().Str("command", "run").Logger().WithContext(ctx)
			console := log.New(cmd.OutOrStdout(), *zerolog.Ctx(ctx))
			ctx = log.NewContext(ctx, console)

			cfg, err := root.loadConfig(ctx)
			if err != nil {
				return err
			}
			flags.apply(cmd, cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}

			var selector migrate.DirectorySelector = migrate.StaticSelector{Source: cfg.Source, Destination: cfg.Destination}
			if flags.interactive {
				selector = &promptSelector{source: cfg.Source, destination: cfg.Destination, ask: prompt}
			} else if cfg.Source == "" || cfg.Destination == "" {
				return errors.Errorf("source and destination are required (or pass --interactive)")
			}

			filter, err := eligibility.New(cfg.Extension, cfg.Ignore...)
			if err != nil {
				return err
			}
			rewriter, err := rewrite.New(cfg.Rename...)
			if err != nil {
				return err
			}
			engine, err := newEngine(cfg.Engine)
			if err != nil {
				return err
			}

			var collector *metrics.Collector
			if cfg.MetricsFile != "" {
				collector = metrics.New()
			}

			o, err := migrate.New(migrate.Options{
				Selector:    selector,
				Converter:   convert.NewService(engine),
				Filter:      filter,
				Rewriter:    rewriter,
				LogDir:      cfg.ResolvedLogDir(),
				FailFast:    cfg.FailFast,
				Metrics:     collector,
				MetricsFile: cfg.MetricsFile,
			})
			if err != nil {
				return err
			}

			console.Header("migrating " + cfg.Extension + " families")

			report, err := o.Run(ctx)
			if report == nil {
				return err
			}

			switch report.Outcome {
			case migrate.OutcomeCancelled:
				console.Warning("migration cancelled, nothing was converted")
				return &exitError{code: exitCancelled, err: err}
			case migrate.OutcomeFailed:
				printSummary(cmd.OutOrStdout(), report)
				console.Errorf("migration failed, see %s", report.LogPath)
				return &exitError{code: exitFailed, err: err}
			default:
				printSummary(cmd.OutOrStdout(), report)
				if n := len(report.Failures); n > 0 {
					console.Warningf("%d artifact(s) failed, see the session log", n)
				} else {
					console.Successf("migrated %d artifact(s) into %s", report.Saved, report.Destination)
				}
				return nil
			}
		},
	}

	cmd.Flags().StringVarP(&flags.source, "source", "s", "", "source root")
	cmd.Flags().StringVarP(&flags.destination, "destination", "o", "", "destination root")
	cmd.Flags().StringVar(&flags.logDir, "log-dir", "", "session log directory (default: destination root)")
	cmd.Flags().StringVar(&flags.metricsFile, "metrics-file", "", "write Prometheus textfile metrics here")
	cmd.Flags().StringVar(&flags.engine, "engine", "", "conversion engine: copy or command")
	cmd.Flags().BoolVar(&flags.failFast, "fail-fast", false, "abort the batch on the first failed file")
	cmd.Flags().BoolVarP(&flags.interactive, "interactive", "i", false, "prompt for missing roots")

	return cmd
}

// apply overrides cfg with the flags that were set.
func (f *runFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	if f.source != "" {
		cfg.Source = f.source
	}
	if f.destination != "" {
		cfg.Destination = f.destination
	}
	if f.logDir != "" {
		cfg.LogDir = f.logDir
	}
	if f.metricsFile != "" {
		cfg.MetricsFile = f.metricsFile
	}
	if f.engine != "" {
		if cfg.Engine == nil {
			cfg.Engine = &config.EngineConfig{}
		}
		cfg.Engine.Kind = f.engine
	}
	if cmd.Flags().Changed("fail-fast") {
		cfg.FailFast = f.failFast
	}
}

// newEngine builds the conversion engine named by ec.
func newEngine(ec *config.EngineConfig) (convert.Engine, error) {
	if ec != nil && ec.Kind == config.EngineCommand {
		engine, err := convert.NewCommandEngine(ec.Command)
		if err != nil {
			return nil, errors.Errorf("creating command engine: %w", err)
		}
		return engine, nil
	}
	return convert.NewCopyEngine(), nil
}

// 📊 printSummary renders the run totals as a table. Per-artifact detail
// lives in the session log only.
func printSummary(w io.Writer, report *migrate.Report) {
	data := pterm.TableData{
		{"Outcome", "Processed", "Saved", "Renamed", "Failed", "Skipped"},
		{
			report.Outcome.String(),
			strconv.Itoa(report.Processed),
			strconv.Itoa(report.Saved),
			strconv.Itoa(report.Renamed),
			strconv.Itoa(len(report.Failures)),
			strconv.Itoa(len(report.Skipped)),
		},
	}

	table, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		fmt.Fprintf(w, "%s: processed %d, saved %d, failed %d\n",
			report.Outcome, report.Processed, report.Saved, len(report.Failures))
	} else {
		fmt.Fprintln(w)
		fmt.Fprintln(w, table)
	}

	if report.LogPath != "" {
		fmt.Fprintf(w, "📒 session log: %s\n", report.LogPath)
	}
}
