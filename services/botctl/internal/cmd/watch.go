package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/gofbot/gofbot-launcher/pkg/shared/defs"
)

var errStopWatching = errors.New("stop watching")

var watchUntilKilled bool

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print bridge events as they happen",
	Long: `Connect to the launcher's bridge and print lifecycle events.

Note that the launcher stops the bot when its last bridge client disconnects,
so ending a watch that was the only client stops the bot too.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		return client.Watch(cmd.Context(), func(env defs.Envelope) error {
			if err := printEvent(out, env); err != nil {
				return err
			}
			if watchUntilKilled && env.Event == defs.EventBotKilled {
				return errStopWatching
			}
			return nil
		})
	},
}

func init() {
	watchCmd.Flags().BoolVar(&watchUntilKilled, "until-killed", false, "Exit after the next bot-killed event")
	rootCmd.AddCommand(watchCmd)
}

func printEvent(w io.Writer, env defs.Envelope) error {
	if jsonOutput {
		return printJSON(w, env)
	}

	ts := dimStyle.Render(time.Now().Format(time.TimeOnly))
	switch env.Event {
	case defs.EventBotStarted:
		var info defs.DisplayInfo
		_ = json.Unmarshal(env.Payload, &info)
		fmt.Fprintf(w, "%s %s %v\n", ts, successStyle.Render(env.Event), info.Users)
	case defs.EventFatalError:
		var body defs.FatalErrorBody
		_ = json.Unmarshal(env.Payload, &body)
		fmt.Fprintf(w, "%s %s %s\n", ts, errorStyle.Render(env.Event), body.Detail)
	case defs.EventStartBotError:
		var body defs.StartErrorBody
		_ = json.Unmarshal(env.Payload, &body)
		fmt.Fprintf(w, "%s %s %s (%s)\n", ts, errorStyle.Render(env.Event), body.Error, body.Kind)
	case defs.EventBotKilled:
		fmt.Fprintf(w, "%s %s\n", ts, warningStyle.Render(env.Event))
	default:
		fmt.Fprintf(w, "%s %s %s\n", ts, env.Event, string(env.Payload))
	}
	return nil
}
