// Package cli implements the `tio` command-line tool: a thin layer of
// urfave/cli subcommands over the proxy/rpc/device/stream/export packages,
// structured after the teacher's cmd/cli/cli package (app.go + flag.go +
// one file per command group).
package cli

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/urfave/cli"

	"github.com/twinleaf/tio/cmn"
)

const appName = "tio"

// color, set by setupColor depending on --no-color (flag.go)
var (
	fred, fyellow, fgreen, fcyan func(a ...any) string
)

func setupColor(noColor bool) {
	if noColor {
		fred, fyellow, fgreen, fcyan = fmt.Sprint, fmt.Sprint, fmt.Sprint, fmt.Sprint
		return
	}
	fred = color.New(color.FgHiRed).SprintFunc()
	fyellow = color.New(color.FgHiYellow).SprintFunc()
	fgreen = color.New(color.FgHiGreen).SprintFunc()
	fcyan = color.New(color.FgHiCyan).SprintFunc()
}

// Run builds and executes the tio app against args (os.Args).
func Run(version string, args []string) error {
	app := cli.NewApp()
	app.Name = appName
	app.Usage = "command-line tool for the TIO sensor protocol: RPC, logging, and firmware upload"
	app.Version = version
	app.EnableBashCompletion = true
	app.HideHelp = false
	app.Flags = globalFlags

	app.Commands = []cli.Command{
		rpcListCmd,
		rpcCmd,
		rpcDumpCmd,
		dumpCmd,
		logCmd,
		logMetadataCmd,
		logDumpCmd,
		logCSVCmd,
		logHdfCmd,
		firmwareUpgradeCmd,
		proxyServerCmd,
	}

	app.OnUsageError = func(c *cli.Context, err error, _ bool) error {
		fmt.Fprintln(c.App.ErrWriter, fred("usage error:"), err)
		return err
	}

	setupColor(false) // overridden per-command once flags are parsed, see openRPC and the command actions

	return app.Run(args)
}

// printErr renders err the way the CLI's `rpc`/`firmware-upgrade` commands
// report failures: the top-line TioError reason in red, kind in parens.
func printErr(err error) {
	if te, ok := err.(*cmn.TioError); ok {
		fmt.Fprintln(os.Stderr, fred(fmt.Sprintf("error (%s): %v", te.Kind, err)))
		return
	}
	fmt.Fprintln(os.Stderr, fred("error:"), err)
}
