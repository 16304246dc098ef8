package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/gofbot/gofbot-launcher/pkg/shared/defs"
)

var (
	startAuth     string
	startUsername string
	startPassword string
	startMapKey   string
	startWalk     string
	startLocation string
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the bot",
	Long: `Synthesize the bot's config from the given login and start it.

The password is read from the terminal when --password is not given.`,
	Args: cobra.NoArgs,
	RunE: runStart,
}

func init() {
	startCmd.Flags().StringVar(&startAuth, "auth", defs.AuthPTC, "Login service (ptc|google)")
	startCmd.Flags().StringVarP(&startUsername, "username", "u", "", "Account username")
	startCmd.Flags().StringVarP(&startPassword, "password", "p", "", "Account password")
	startCmd.Flags().StringVar(&startMapKey, "gmapkey", "", "Google Maps API key")
	startCmd.Flags().StringVar(&startWalk, "walk", "", "Walk speed; keeps the configured speed when empty")
	startCmd.Flags().StringVar(&startLocation, "location", "", `Start location as JSON, e.g. '"Central Park"' or '{"lat":1,"lng":2}'`)
	_ = startCmd.MarkFlagRequired("username")
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	if startPassword == "" {
		password, err := readPassword()
		if err != nil {
			return err
		}
		startPassword = password
	}

	opts, err := buildLaunchOptions(startAuth, startUsername, startPassword, startMapKey, startWalk, startLocation)
	if err != nil {
		return err
	}

	info, err := client.Start(cmd.Context(), opts)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(out, info)
	}
	fmt.Fprintf(out, "%s Bot started for %s\n", successStyle.Render("✓"), strings.Join(info.Users, ", "))
	return nil
}

// buildLaunchOptions maps command line values onto the credential pair of the
// chosen login service.
func buildLaunchOptions(auth, username, password, mapKey, walk, location string) (defs.LaunchOptions, error) {
	opts := defs.LaunchOptions{Auth: auth}
	switch auth {
	case defs.AuthPTC:
		opts.Options.PTCUsername, opts.Options.PTCPassword = username, password
	case defs.AuthGoogle:
		opts.Options.GoogleUsername, opts.Options.GooglePassword = username, password
	default:
		return opts, fmt.Errorf("unknown auth service %q (want %s or %s)", auth, defs.AuthPTC, defs.AuthGoogle)
	}
	opts.Options.GoogleMapsAPI = mapKey

	if walk != "" {
		v, err := strconv.ParseFloat(walk, 64)
		if err != nil {
			return opts, fmt.Errorf("invalid walk speed %q: %w", walk, err)
		}
		opts.Options.WalkSpeed = defs.NewWalkSpeed(v)
	}

	if location != "" {
		raw := json.RawMessage(location)
		if !json.Valid(raw) {
			// a bare place name
			quoted, _ := json.Marshal(location)
			raw = quoted
		}
		opts.Location = raw
	}
	return opts, nil
}

func readPassword() (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("--password is required when stdin is not a terminal")
	}
	fmt.Fprint(os.Stderr, "Password: ")
	password, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(password), nil
}
