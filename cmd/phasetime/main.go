package main

import (
	"os"

	"github.com/psantana5/phasetime/cmd/phasetime/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
