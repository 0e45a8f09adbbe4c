package main

import (
	"os"

	"github.com/unibook-dev/unibook/internal/commands"
)

func main() {
	if err := commands.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
