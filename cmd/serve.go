package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/abhisek/foresight/internal/app"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the scheduled jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return withApp(cmd, func(a *app.App) error {
			if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
				a.Config.Server.Addr = addr
			}
			if noJobs, _ := cmd.Flags().GetBool("no-scheduler"); noJobs {
				a.Config.Scheduler.Enabled = false
			}
			return a.Serve(ctx)
		})
	},
}

func init() {
	serveCmd.Flags().String("addr", "", "Listen address (overrides server.addr)")
	serveCmd.Flags().Bool("no-scheduler", false, "Serve the API without the background jobs")
}
