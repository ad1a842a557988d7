package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/abhisek/foresight/internal/app"
	"github.com/abhisek/foresight/internal/struggle"
)

var interventionsCmd = &cobra.Command{
	Use:   "interventions <learner-id>",
	Short: "List a learner's recommended interventions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, _ := cmd.Flags().GetStringSlice("status")
		var statuses []struggle.InterventionStatus
		for _, s := range raw {
			statuses = append(statuses, struggle.InterventionStatus(strings.ToUpper(s)))
		}

		return withApp(cmd, func(a *app.App) error {
			recs, err := a.Service.ListInterventions(cmd.Context(), args[0], statuses...)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if jsonOutput(cmd) {
				return printJSON(w, recs)
			}
			if len(recs) == 0 {
				fmt.Fprintln(w, "No interventions found.")
				return nil
			}
			fmt.Fprintf(w, "%-36s  %-22s  %3s  %-9s  %-24s  %s\n", "ID", "Type", "Pri", "Status", "Objective", "Rationale")
			fmt.Fprintln(w, strings.Repeat("─", 130))
			for _, r := range recs {
				fmt.Fprintf(w, "%-36s  %-22s  %3d  %-9s  %-24s  %s\n",
					r.ID, r.Type, r.Priority, r.Status, truncate(r.ObjectiveID, 24), truncate(r.Rationale, 40))
			}
			return nil
		})
	},
}

var applyCmd = &cobra.Command{
	Use:   "apply <intervention-id>",
	Short: "Apply a pending intervention to the study plan",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		before, _ := cmd.Flags().GetString("before")
		return withApp(cmd, func(a *app.App) error {
			res, err := a.Service.ApplyIntervention(cmd.Context(), args[0], before)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if jsonOutput(cmd) {
				return printJSON(w, res)
			}
			fmt.Fprintf(w, "Applied %s (%s). Plan items: %s\n",
				res.Intervention.ID, res.Intervention.Type, strings.Join(res.PlanItemIDs, ", "))
			return nil
		})
	},
}

var completeCmd = &cobra.Command{
	Use:   "complete <intervention-id>",
	Short: "Mark an applied intervention completed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var eff *float64
		if cmd.Flags().Changed("effectiveness") {
			v, _ := cmd.Flags().GetFloat64("effectiveness")
			if v < 0 || v > 1 {
				return fmt.Errorf("effectiveness %v out of [0,1]", v)
			}
			eff = &v
		}
		return withApp(cmd, func(a *app.App) error {
			rec, err := a.Service.CompleteIntervention(cmd.Context(), args[0], eff)
			if err != nil {
				return err
			}
			if jsonOutput(cmd) {
				return printJSON(cmd.OutOrStdout(), rec)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Completed %s.\n", rec.ID)
			return nil
		})
	},
}

var dismissCmd = &cobra.Command{
	Use:   "dismiss <intervention-id>",
	Short: "Dismiss a pending intervention",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(a *app.App) error {
			rec, err := a.Service.DismissIntervention(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if jsonOutput(cmd) {
				return printJSON(cmd.OutOrStdout(), rec)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Dismissed %s.\n", rec.ID)
			return nil
		})
	},
}

func init() {
	interventionsCmd.Flags().StringSlice("status", nil, "Filter by status (PENDING, APPLIED, COMPLETED, DISMISSED)")
	applyCmd.Flags().String("before", "", "Plan item the inserted items must precede")
	completeCmd.Flags().Float64("effectiveness", 0, "Observed effectiveness in [0,1]")
}
