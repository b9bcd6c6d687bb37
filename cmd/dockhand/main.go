package main

import (
	"os"

	"github.com/halil/dockhand/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
