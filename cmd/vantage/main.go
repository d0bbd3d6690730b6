// Package main is the entry point for the vantage application.
package main

import (
	"os"

	"github.com/sternforth/vantage/cmd/vantage/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
