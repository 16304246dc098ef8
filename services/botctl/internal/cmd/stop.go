package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var stopCmd = &cobra.Command{
	Use:     "stop",
	Aliases: []string{"kill"},
	Short:   "Stop the bot",
	Long:    `Signal the bot's process group to stop. Stopping an idle launcher is not an error.`,
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := client.Stop(cmd.Context()); err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), map[string]any{"msg": "Bot stopped"})
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s Bot stopped\n", successStyle.Render("✓"))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(stopCmd)
}
