// Command hermes is the CLI entry point for the simulation orchestrator:
// run, validate, list-signals, sweep, and version subcommands, backed by
// internal/cli.
package main

import (
	"fmt"
	"os"

	"hermes/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
