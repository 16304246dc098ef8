package cmd

import (
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/gofbot/gofbot-launcher/pkg/shared/defs"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	Aliases: []string{"stat"},
	Short:   "Show the bot's state",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		status, err := client.Status(cmd.Context())
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), status)
		}
		renderStatus(cmd.OutOrStdout(), status)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func renderStatus(w io.Writer, status defs.BotStatus) {
	state := dimStyle.Render(status.State)
	if status.State == "running" {
		state = successStyle.Render(status.State)
	}
	printField(w, "State", state)

	if status.WorkerId != "" {
		printField(w, "Worker", status.WorkerId)
		printField(w, "PID", status.ProcessId)
		printField(w, "Uptime", (time.Duration(status.UptimeSecs) * time.Second).String())
		reachable := warningStyle.Render("no")
		if status.IsReachable {
			reachable = successStyle.Render("yes")
		}
		printField(w, "Reachable", reachable)
	}
	if status.LastExitCode != nil {
		printField(w, "Last exit", *status.LastExitCode)
	}
}
