// botctl drives a running launcher from the command line.
package main

import (
	"os"

	"github.com/gofbot/gofbot-launcher/services/botctl/internal/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
