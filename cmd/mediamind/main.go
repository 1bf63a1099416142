// Package main provides the entry point for the mediamind CLI.
package main

import (
	"os"

	"github.com/mediamind/mediamind/cmd/mediamind/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
