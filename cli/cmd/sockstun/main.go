package main

import (
	"os"

	"github.com/sockstun/sockstun/cli/cmd"
)

var (
	// Build information set by ldflags
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	cmd.SetBuildInfo(Version, BuildTime)

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
