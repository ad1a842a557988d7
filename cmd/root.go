package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/abhisek/foresight/internal/app"
	"github.com/abhisek/foresight/internal/config"
	"github.com/abhisek/foresight/internal/logging"
	"github.com/abhisek/foresight/internal/store"
)

var rootCmd = &cobra.Command{
	Use:   "foresight",
	Short: "Predict where learners will struggle before they do",
	Long: "Foresight scores upcoming study objectives for struggle risk, explains the\n" +
		"contributing factors and recommends plan changes that head it off.",
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().String("db", "", "Path to SQLite database file (overrides FORESIGHT_DB env var)")
	rootCmd.PersistentFlags().String("config", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("json", false, "Print results as JSON")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(predictCmd)
	rootCmd.AddCommand(predictionsCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(feedbackCmd)
	rootCmd.AddCommand(interventionsCmd)
	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(completeCmd)
	rootCmd.AddCommand(dismissCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(outcomeCmd)
	rootCmd.AddCommand(alertsCmd)
	rootCmd.AddCommand(performanceCmd)
	rootCmd.AddCommand(reductionCmd)
	rootCmd.AddCommand(retrainCmd)
	rootCmd.AddCommand(batchCmd)
	rootCmd.AddCommand(compactCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig reads --config and applies --db and --log-level on top.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if p, _ := cmd.Flags().GetString("db"); p != "" {
		cfg.Store.Path = p
		if err := store.EnsureDir(p); err != nil {
			return nil, fmt.Errorf("resolve DB path: %w", err)
		}
	}
	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		cfg.Log.Level = lvl
	}
	return cfg, nil
}

// openApp loads the configuration and wires the application. The caller
// closes it.
func openApp(cmd *cobra.Command) (*app.App, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	a, err := app.New(cmd.Context(), app.Options{
		Config:  cfg,
		Log:     logging.New(cfg.Log),
		Version: buildVersion(),
	})
	if err != nil {
		return nil, fmt.Errorf("open foresight: %w", err)
	}
	return a, nil
}

// withApp runs fn with a freshly opened application.
func withApp(cmd *cobra.Command, fn func(a *app.App) error) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func jsonOutput(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("json")
	return v
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
