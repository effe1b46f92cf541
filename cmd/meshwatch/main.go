// Package main is the entry point for the meshwatch CLI.
//
// Usage:
//
//	meshwatch [flags] <command> [args]
//
// Commands:
//
//	serve    - Run the mesh ingest daemon and HTTP API
//	nodes    - Inspect and manage stored devices
//	version  - Show version information
package main

import (
	"fmt"
	"os"

	"github.com/meshwatch/meshwatch/cmd/meshwatch/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
