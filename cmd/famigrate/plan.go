package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/pterm/pterm"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/walteh/famigrate/pkg/eligibility"
	"github.com/walteh/famigrate/pkg/log"
	"github.com/walteh/famigrate/pkg/migrate"
	"github.com/walteh/famigrate/pkg/rewrite"
	"gitlab.com/tozd/go/errors"
)

func newPlanCommand(root *rootOpts) *cobra.Command {
	var source string

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show what run would migrate, without converting anything",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := root.loadConfig(ctx)
			if err != nil {
				return err
			}
			if source != "" {
				cfg.Source = source
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if cfg.Source == "" {
				return errors.Errorf("source is required")
			}

			filter, err := eligibility.New(cfg.Extension, cfg.Ignore...)
			if err != nil {
				return err
			}
			rewriter, err := rewrite.New(cfg.Rename...)
			if err != nil {
				return err
			}

			console := log.New(cmd.OutOrStdout(), *zerolog.Ctx(ctx))
			console.Header("planning " + cfg.Source)

			plan, err := migrate.BuildPlan(ctx, filter, rewriter, cfg.Source)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			data := pterm.TableData{{"Source", "Destination", "Rules"}}
			for _, e := range plan.Entries {
				dest := e.Destination
				if e.Renamed {
					dest = color.New(color.FgBlue).Sprint(dest)
				}
				data = append(data, []string{e.Source, dest, strings.Join(e.Applied, ", ")})
			}
			table, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
			if err != nil {
				return errors.Errorf("rendering plan: %w", err)
			}
			fmt.Fprintln(out, table)

			for _, s := range plan.Skipped {
				fmt.Fprintf(out, "  - %s (%s)\n", s.Path, s.Reason)
			}
			for _, c := range plan.Collisions {
				console.Warningf("%s would overwrite %s converted from %s", c.Source, c.Destination, c.ClaimedBy)
			}
			console.Infof("%d artifact(s), %d renamed, %d skipped, %d collision(s)",
				len(plan.Entries), plan.Renamed(), len(plan.Skipped), len(plan.Collisions))
			return nil
		},
	}

	cmd.Flags().StringVarP(&source, "source", "s", "", "source root")

	return cmd
}
