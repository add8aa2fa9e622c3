package main

import (
	"fmt"
	"os"

	"github.com/empower1/block-builder/cmd/block-builder/cli"
)

func main() {
	if err := cli.NewCLI().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
