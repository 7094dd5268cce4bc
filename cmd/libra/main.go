// Package main is the entry point for the libra CLI binary.
package main

import (
	"os"

	cli "libraai/pkg/cli"
)

func main() {
	os.Exit(cli.Execute())
}
