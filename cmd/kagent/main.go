package main

import (
	"os"

	"github.com/harun/kagent/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
