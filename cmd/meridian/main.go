// Package main provides the entry point for the meridian CLI.
package main

import (
	"os"

	"github.com/meridian-search/meridian/cmd/meridian/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
