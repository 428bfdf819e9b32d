package main

import (
	"os"

	"github.com/tphakala/turntable-relay/cmd"
	"github.com/tphakala/turntable-relay/internal/buildinfo"
)

// set via -ldflags "-X main.version=... -X main.buildDate=..."
var (
	version   string
	buildDate string
)

func main() {
	if err := cmd.RootCommand(buildinfo.New(version, buildDate)).Execute(); err != nil {
		os.Exit(1)
	}
}
