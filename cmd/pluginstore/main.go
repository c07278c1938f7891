// Package main is the entry point for the pluginstore host.
package main

import (
	"fmt"
	"os"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	if err := execute(os.Args, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "pluginstore: %v\n", err)
		os.Exit(1)
	}
}
