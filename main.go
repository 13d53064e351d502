package main

import (
	"github.com/marcus/syncbridge/cmd"
	"github.com/marcus/syncbridge/internal/version"
)

// Version may be set at build time via -ldflags "-X main.Version=...".
var Version = "dev"

func main() {
	cmd.SetVersion(version.Effective(Version))
	cmd.Execute()
}
