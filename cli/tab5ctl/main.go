// Package main is the tab5ctl command itself.
package main

import (
	"fmt"
	"os"

	"go.tab5.dev/bsp/cli"
)

func main() {
	app := cli.NewApp(os.Stdout, os.Stderr)
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
