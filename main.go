// dbconnector serves the Plotly Database Connector: a local REST and stdio
// bridge between Plotly and the databases a user can reach.
package main

import (
	"fmt"
	"os"

	"dbconnector/internal/app"
)

// Set at build time via ldflags.
var (
	Version   = ""
	BuildTime = ""
)

func main() {
	if Version != "" {
		app.AppVersion = Version
	}
	if BuildTime != "" {
		app.AppBuildTime = BuildTime
	}
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
