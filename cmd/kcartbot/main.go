package main

import (
	"os"

	"github.com/kcartlabs/kcartbot/cmd/kcartbot/commands"
)

var version = "dev"

func main() {
	if err := commands.Execute(version); err != nil {
		os.Exit(1)
	}
}
