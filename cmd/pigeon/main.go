package main

import (
	"os"

	"pigeon/cmd/pigeon/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
