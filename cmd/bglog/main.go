package main

import (
	"os"

	"github.com/braingenix/bglog/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
