package main

import (
	"os"

	"github.com/upd8r/upd8r/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
