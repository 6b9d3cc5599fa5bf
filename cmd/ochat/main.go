package main

import (
	"os"

	"ochat/cmd/ochat/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
