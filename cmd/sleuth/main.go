package main

import (
	"os"

	"github.com/sleuth-dev/sleuth/cmd/sleuth/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
