package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/abhisek/foresight/internal/app"
	"github.com/abhisek/foresight/internal/detection"
	"github.com/abhisek/foresight/internal/struggle"
)

var feedbackCmd = &cobra.Command{
	Use:   "feedback <prediction-id>",
	Short: "Record learner feedback on a prediction",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, _ := cmd.Flags().GetString("kind")
		comment, _ := cmd.Flags().GetString("comment")
		intervention, _ := cmd.Flags().GetString("intervention")

		fb := struggle.Feedback{
			Kind:           struggle.FeedbackKind(strings.ToUpper(kind)),
			Comment:        comment,
			InterventionID: intervention,
		}
		if !fb.Kind.Valid() {
			return fmt.Errorf("unknown feedback kind %q", kind)
		}
		if cmd.Flags().Changed("rating") {
			r, _ := cmd.Flags().GetInt("rating")
			fb.Rating = &r
		}
		if cmd.Flags().Changed("struggled") {
			s, _ := cmd.Flags().GetBool("struggled")
			fb.ActualStruggle = &s
		}

		return withApp(cmd, func(a *app.App) error {
			m, err := a.Service.SubmitFeedback(cmd.Context(), args[0], fb)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if jsonOutput(cmd) {
				return printJSON(w, m)
			}
			fmt.Fprintf(w, "Feedback recorded. Precision %.3f, recall %.3f.\n", m.Precision, m.Recall)
			return nil
		})
	},
}

var outcomeCmd = &cobra.Command{
	Use:   "outcome",
	Short: "Record whether a learner struggled with a studied objective",
	RunE: func(cmd *cobra.Command, args []string) error {
		learnerID, _ := cmd.Flags().GetString("learner")
		objectiveID, _ := cmd.Flags().GetString("objective")
		item, _ := cmd.Flags().GetString("plan-item")
		struggled, _ := cmd.Flags().GetBool("struggled")
		if item == "" && (learnerID == "" || objectiveID == "") {
			return fmt.Errorf("give --plan-item, or --learner and --objective")
		}

		return withApp(cmd, func(a *app.App) error {
			res, err := a.Service.RecordOutcome(cmd.Context(), detection.ObservedOutcome{
				LearnerID:   learnerID,
				ObjectiveID: objectiveID,
				PlanItemID:  item,
				Struggled:   struggled,
				At:          time.Now(),
			})
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if jsonOutput(cmd) {
				return printJSON(w, res)
			}
			switch {
			case res.Prediction == nil:
				fmt.Fprintln(w, "Outcome recorded as a true negative.")
			default:
				fmt.Fprintf(w, "Prediction %s is now %s.\n", res.Prediction.ID, res.Status)
			}
			return nil
		})
	},
}

var checkCmd = &cobra.Command{
	Use:   "check <session-id>",
	Short: "Grade an active study session for real-time struggle signals",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(a *app.App) error {
			res, err := a.Service.CheckSession(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if jsonOutput(cmd) {
				return printJSON(w, res)
			}
			if res.Throttled {
				fmt.Fprintln(w, "Session checked too recently; try again shortly.")
				return nil
			}
			fmt.Fprintf(w, "Session %s (%d reviews) checked in %s\n", res.SessionID, res.Reviews, res.Elapsed.Round(time.Millisecond))
			if len(res.Signals) == 0 {
				fmt.Fprintln(w, "No struggle signals.")
			}
			for _, sig := range res.Signals {
				fmt.Fprintf(w, "  %-20s %6.2f  %s\n", sig.Name, sig.Value, sig.Severity)
			}
			if res.Alert != nil {
				fmt.Fprintf(w, "\nALERT: %s\n", res.Alert.Message)
			}
			for _, warn := range res.Warnings {
				fmt.Fprintln(w, "warning:", warn)
			}
			return nil
		})
	},
}

var alertsCmd = &cobra.Command{
	Use:   "alerts <learner-id>",
	Short: "List a learner's recent alerts",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		days, _ := cmd.Flags().GetInt("days")
		limit, _ := cmd.Flags().GetInt("limit")
		since := time.Now().AddDate(0, 0, -days)

		return withApp(cmd, func(a *app.App) error {
			alerts, err := a.Service.ListAlerts(cmd.Context(), args[0], since, limit)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if jsonOutput(cmd) {
				return printJSON(w, alerts)
			}
			if len(alerts) == 0 {
				fmt.Fprintln(w, "No alerts.")
				return nil
			}
			for _, al := range alerts {
				fmt.Fprintf(w, "%s  %-6s  %.2f  %-24s  %s\n",
					al.CreatedAt.Local().Format("2006-01-02 15:04"), al.Severity, al.Urgency, truncate(al.ObjectiveID, 24), al.Message)
			}
			return nil
		})
	},
}

func init() {
	feedbackCmd.Flags().String("kind", "", "HELPFUL, NOT_HELPFUL, INACCURATE, INTERVENTION_GOOD or INTERVENTION_BAD")
	feedbackCmd.Flags().Int("rating", 0, "Rating from 1 to 5")
	feedbackCmd.Flags().String("comment", "", "Free-text comment")
	feedbackCmd.Flags().String("intervention", "", "Intervention the feedback is about")
	feedbackCmd.Flags().Bool("struggled", false, "Whether the learner actually struggled")
	_ = feedbackCmd.MarkFlagRequired("kind")

	outcomeCmd.Flags().String("learner", "", "Learner id")
	outcomeCmd.Flags().String("objective", "", "Objective id")
	outcomeCmd.Flags().String("plan-item", "", "Completed plan item id")
	outcomeCmd.Flags().Bool("struggled", false, "Whether the learner struggled")

	alertsCmd.Flags().Int("days", 7, "Look back this many days")
	alertsCmd.Flags().Int("limit", 20, "Maximum alerts to list")
}
