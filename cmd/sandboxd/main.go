package main

import (
	"os"

	"github.com/sboxrun/sandboxd/cmd/sandboxd/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
