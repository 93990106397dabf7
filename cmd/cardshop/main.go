package main

import (
	"os"

	"github.com/guarzo/cardshop/cmd/cardshop/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
