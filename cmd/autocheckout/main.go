// Command autocheckout opens files for edit in version control when an
// editor saves them.
package main

import (
	"os"

	"autocheckout/internal/cmd"
)

// Version is set at build time with -ldflags "-X main.Version=...".
var Version = "dev"

func main() {
	cmd.Version = Version
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
