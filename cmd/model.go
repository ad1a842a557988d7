package cmd

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/abhisek/foresight/internal/app"
	"github.com/abhisek/foresight/internal/model"
	"github.com/abhisek/foresight/internal/store"
)

var performanceCmd = &cobra.Command{
	Use:   "performance",
	Short: "Show how well the serving model predicts struggles",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(a *app.App) error {
			m, err := a.Service.ModelPerformance(cmd.Context())
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if jsonOutput(cmd) {
				return printJSON(w, m)
			}
			fmt.Fprintf(w, "Model        %s %s\n", m.Model, m.ModelVersion)
			fmt.Fprintf(w, "Labeled      %d (%d since last training)\n", m.LabeledExamples, m.NewSinceTraining)
			fmt.Fprintf(w, "Confusion    TP=%d FP=%d FN=%d TN=%d\n", m.Confusion.TP, m.Confusion.FP, m.Confusion.FN, m.Confusion.TN)
			fmt.Fprintf(w, "Accuracy     %.3f\n", m.Accuracy)
			fmt.Fprintf(w, "Precision    %.3f\n", m.Precision)
			fmt.Fprintf(w, "Recall       %.3f (last 7 days %.3f)\n", m.Recall, m.WeeklyRecall)
			fmt.Fprintf(w, "F1           %.3f\n", m.F1)
			fmt.Fprintf(w, "ECE          %.3f\n", m.ECE)
			if m.LastTrainedAt != nil {
				fmt.Fprintf(w, "Trained      %s\n", m.LastTrainedAt.Local().Format("2006-01-02 15:04"))
			}
			if m.RetrainRecommended {
				fmt.Fprintln(w, "\nRetraining is recommended: run `foresight retrain`.")
			}
			return nil
		})
	},
}

var retrainCmd = &cobra.Command{
	Use:   "retrain",
	Short: "Train a candidate classifier and deploy it if it does not regress",
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		return withApp(cmd, func(a *app.App) error {
			var (
				run *store.TrainingRun
				err error
			)
			if force {
				run, err = a.Tracker.Retrain(cmd.Context())
			} else {
				run, err = a.Tracker.MaybeRetrain(cmd.Context())
			}
			w := cmd.OutOrStdout()
			var short *model.InsufficientTrainingDataError
			if errors.As(err, &short) {
				fmt.Fprintf(w, "Not enough labeled outcomes to train (%d of %d). The rule-based model keeps serving.\n", short.Have, short.Need)
				return nil
			}
			if err != nil {
				return err
			}
			if run == nil {
				fmt.Fprintln(w, "Retraining not triggered. Use --force to train anyway.")
				return nil
			}
			if jsonOutput(cmd) {
				return printJSON(w, run)
			}
			verdict := "kept the current model"
			if run.Deployed {
				verdict = "deployed"
			}
			fmt.Fprintf(w, "Run %s: %s (%s)\n", run.ID, verdict, run.Reason)
			fmt.Fprintf(w, "  train=%d test=%d f1=%.3f recall=%.3f log_loss=%.3f\n",
				run.TrainExamples, run.TestExamples, run.CandidateF1, run.CandidateRecall, run.CandidateLogLoss)
			return nil
		})
	},
}

var reductionCmd = &cobra.Command{
	Use:   "reduction [learner-id]",
	Short: "Compare struggle rates before and after interventions",
	Long:  "Compare struggle rates before and after interventions were adopted. Without a\nlearner id the rates pool every learner.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		days, _ := cmd.Flags().GetInt("days")
		var learnerID string
		if len(args) == 1 {
			learnerID = args[0]
		}
		return withApp(cmd, func(a *app.App) error {
			m, err := a.Service.StruggleReduction(cmd.Context(), learnerID, time.Duration(days)*24*time.Hour)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if jsonOutput(cmd) {
				return printJSON(w, m)
			}
			scope := "all learners"
			if learnerID != "" {
				scope = learnerID
			}
			fmt.Fprintf(w, "Struggle reduction for %s over %d days\n", scope, m.PeriodDays)
			fmt.Fprintln(w, strings.Repeat("─", 48))
			if m.NoBaseline {
				fmt.Fprintln(w, "No resolved predictions before adoption: no baseline to compare.")
			} else {
				fmt.Fprintf(w, "Baseline  %3d/%-3d  %.1f%%\n", m.Baseline.Struggles, m.Baseline.Resolved, 100*m.Baseline.Rate)
			}
			fmt.Fprintf(w, "After     %3d/%-3d  %.1f%%\n", m.After.Struggles, m.After.Resolved, 100*m.After.Rate)
			fmt.Fprintf(w, "Reduction %.1f%%\n", m.ReductionPct)
			fmt.Fprintf(w, "Interventions applied: %d\n", m.InterventionsApplied)
			if m.MeanEffectiveness != nil {
				fmt.Fprintf(w, "Mean effectiveness:    %.2f\n", *m.MeanEffectiveness)
			}
			return nil
		})
	},
}

func init() {
	retrainCmd.Flags().Bool("force", false, "Train even when the retrain trigger has not fired")
	reductionCmd.Flags().Int("days", 0, "Comparison period in days (default from config)")
}
