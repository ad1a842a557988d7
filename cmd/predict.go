package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/abhisek/foresight/internal/app"
	"github.com/abhisek/foresight/internal/detection"
	"github.com/abhisek/foresight/internal/store"
	"github.com/abhisek/foresight/internal/struggle"
)

var predictCmd = &cobra.Command{
	Use:   "predict <learner-id>",
	Short: "Score a learner's upcoming objectives",
	Long: "Score every objective the learner has scheduled within the horizon. With\n" +
		"--objective, re-run one objective on demand against fresh data; on-demand\n" +
		"runs are limited per learner per day.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		days, _ := cmd.Flags().GetInt("days")
		objective, _ := cmd.Flags().GetString("objective")

		return withApp(cmd, func(a *app.App) error {
			var (
				res *detection.RunResult
				err error
			)
			if objective != "" {
				res, err = a.Service.OnDemand(cmd.Context(), args[0], objective)
			} else {
				res, err = a.Service.GeneratePredictions(cmd.Context(), args[0], days)
			}
			if err != nil {
				return err
			}
			if jsonOutput(cmd) {
				return printJSON(cmd.OutOrStdout(), res)
			}
			printRun(cmd.OutOrStdout(), res)
			return nil
		})
	},
}

func printRun(w io.Writer, res *detection.RunResult) {
	if len(res.Scores) == 0 {
		fmt.Fprintln(w, "No upcoming objectives in the horizon.")
	} else {
		fmt.Fprintf(w, "%-28s  %6s  %6s  %s\n", "Objective", "Prob", "Conf", "Persisted")
		fmt.Fprintln(w, strings.Repeat("─", 56))
		for _, s := range res.Scores {
			fmt.Fprintf(w, "%-28s  %6.2f  %6.2f  %v\n", truncate(s.ObjectiveID, 28), s.Probability, s.Confidence, s.Persisted)
		}
	}

	for _, p := range res.Predictions {
		fmt.Fprintf(w, "\n%s  %s  p=%.2f\n", p.ID, p.ObjectiveID, p.Probability)
		for _, ind := range res.Indicators {
			if ind.PredictionID == p.ID {
				fmt.Fprintf(w, "  [%s] %s: %s\n", ind.Severity, ind.Type, ind.Description)
			}
		}
		for _, rec := range res.Interventions {
			if rec.PredictionID == p.ID {
				fmt.Fprintf(w, "  -> %s (priority %d) %s\n", rec.Type, rec.Priority, rec.ID)
			}
		}
	}

	for _, a := range res.Alerts {
		fmt.Fprintf(w, "\nALERT %s urgency=%.2f: %s\n", a.Severity, a.Urgency, a.Message)
	}
	for _, sk := range res.Skipped {
		fmt.Fprintf(w, "skipped %s at %s: %s\n", sk.ObjectiveID, sk.Stage, sk.Error)
	}
	for _, warn := range res.Warnings {
		fmt.Fprintln(w, "warning:", warn)
	}
	if res.QuotaRemaining != nil {
		fmt.Fprintf(w, "\n%d on-demand runs left today\n", *res.QuotaRemaining)
	}
}

var predictionsCmd = &cobra.Command{
	Use:   "predictions <learner-id>",
	Short: "List a learner's predictions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		statuses, _ := cmd.Flags().GetStringSlice("status")
		limit, _ := cmd.Flags().GetInt("limit")
		objective, _ := cmd.Flags().GetString("objective")

		f := store.PredictionFilter{ObjectiveID: objective, Limit: limit}
		for _, s := range statuses {
			st := struggle.Status(strings.ToUpper(s))
			if !st.Valid() {
				return fmt.Errorf("unknown status %q", s)
			}
			f.Statuses = append(f.Statuses, st)
		}

		return withApp(cmd, func(a *app.App) error {
			list, err := a.Service.ListPredictions(cmd.Context(), args[0], f)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if jsonOutput(cmd) {
				return printJSON(w, list)
			}
			if len(list.Predictions) == 0 {
				fmt.Fprintln(w, "No predictions found.")
				return nil
			}
			fmt.Fprintf(w, "%-36s  %-24s  %6s  %-14s  %-10s  %s\n", "ID", "Objective", "Prob", "Status", "As of", "Model")
			fmt.Fprintln(w, strings.Repeat("─", 110))
			for _, p := range list.Predictions {
				fmt.Fprintf(w, "%-36s  %-24s  %6.2f  %-14s  %-10s  %s\n",
					p.ID, truncate(p.ObjectiveID, 24), p.Probability, p.Status, p.AsOf, p.ModelVersion)
			}
			fmt.Fprintf(w, "\n%d of %d predictions", len(list.Predictions), list.Total)
			for _, st := range struggle.AllStatuses() {
				fmt.Fprintf(w, "  %s=%d", st, list.Counts[st])
			}
			fmt.Fprintln(w)
			return nil
		})
	},
}

var showCmd = &cobra.Command{
	Use:   "show <prediction-id>",
	Short: "Show a prediction with its indicators and interventions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(a *app.App) error {
			d, err := a.Service.GetPrediction(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if jsonOutput(cmd) {
				return printJSON(w, d)
			}
			p := d.Prediction
			fmt.Fprintf(w, "%s\n  learner     %s\n  objective   %s\n  probability %.2f (confidence %.2f)\n  status      %s\n  model       %s\n",
				p.ID, p.LearnerID, p.ObjectiveID, p.Probability, p.Confidence, p.Status, p.ModelVersion)
			if len(d.Indicators) > 0 {
				fmt.Fprintln(w, "\nIndicators:")
				for _, ind := range d.Indicators {
					fmt.Fprintf(w, "  [%s] %s: %s\n", ind.Severity, ind.Type, ind.Description)
				}
			}
			if len(d.Interventions) > 0 {
				fmt.Fprintln(w, "\nInterventions:")
				for _, rec := range d.Interventions {
					fmt.Fprintf(w, "  %s  %-22s  priority %2d  %s\n", rec.ID, rec.Type, rec.Priority, rec.Status)
				}
			}
			return nil
		})
	},
}

func init() {
	predictCmd.Flags().Int("days", 0, "Horizon in days (7-14, default from config)")
	predictCmd.Flags().String("objective", "", "Re-run a single objective on demand")

	predictionsCmd.Flags().StringSlice("status", nil, "Filter by status (PENDING, CONFIRMED, FALSE_POSITIVE, MISSED)")
	predictionsCmd.Flags().String("objective", "", "Filter by objective")
	predictionsCmd.Flags().Int("limit", 50, "Maximum predictions to list")
}
