package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/abhisek/foresight/internal/app"
	"github.com/abhisek/foresight/internal/store"
)

var seedCmd = &cobra.Command{
	Use:   "seed <fixture.yaml>",
	Short: "Load learners, curriculum and history from a YAML fixture",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fx, err := store.LoadFixture(args[0])
		if err != nil {
			return err
		}
		return withApp(cmd, func(a *app.App) error {
			if err := a.Store.Learning().Seed(cmd.Context(), fx); err != nil {
				return fmt.Errorf("seed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d learners, %d objectives, %d plan items.\n",
				len(fx.Learners), len(fx.Objectives), len(fx.Plan))
			return nil
		})
	},
}

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Run the daily detection batch for every learner",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(a *app.App) error {
			rep, err := a.Service.RunBatch(cmd.Context())
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if jsonOutput(cmd) {
				return printJSON(w, rep)
			}
			fmt.Fprintf(w, "Batch %s: %d learners, %d units evaluated, %d predictions, %d alerts, %d skipped in %s\n",
				rep.RunID, rep.Learners, rep.Evaluated, rep.Predictions, rep.Alerts, len(rep.Skipped),
				rep.FinishedAt.Sub(rep.StartedAt).Round(time.Millisecond))
			for _, warn := range rep.Warnings {
				fmt.Fprintln(w, "warning:", warn)
			}
			return nil
		})
	},
}

var compactCmd = &cobra.Command{
	Use:   "compact",
	Short: "Move old resolved predictions to the archive",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(a *app.App) error {
			if a.Compactor == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "Archive is disabled.")
				return nil
			}
			n, err := a.Compact(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Archived %d predictions.\n", n)
			return nil
		})
	},
}
