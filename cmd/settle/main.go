package main

import (
	"os"

	"github.com/atmx/settlement-engine/cmd/settle/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
