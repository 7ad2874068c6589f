// Command tegu-nsi runs (or exercises) the agent described by
// internal/backend, internal/aggregator and their supporting packages,
// wiring config, persistence, topology and metrics together the way
// cmd/newtron wires settings, network and auth together for the pack's
// SONiC tool.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
