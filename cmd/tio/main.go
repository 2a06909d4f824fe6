// Command tio is the command-line tool for the TIO sensor protocol: RPC
// calls, logging/export, and firmware upload against a proxy-multiplexed
// device transport.
package main

import (
	"fmt"
	"os"

	"github.com/twinleaf/tio/cmd/tio/cli"
)

var version = "dev"

func main() {
	if err := cli.Run(version, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
