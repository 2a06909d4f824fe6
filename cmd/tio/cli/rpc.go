package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli"

	"github.com/twinleaf/tio/proto"
)

var rpcListCmd = cli.Command{
	Name:      "rpc-list",
	Usage:     "list the RPC methods exposed by a device",
	ArgsUsage: " ",
	Flags:     []cli.Flag{urlFlag, routeFlag, timeoutFlag},
	Action:    rpcListAction,
}

func rpcListAction(c *cli.Context) error {
	ctx := context.Background()
	p, client, err := openRPC(ctx, c)
	if err != nil {
		printErr(err)
		return err
	}
	defer p.Close()
	defer client.Close()

	specs, err := client.List(ctx)
	if err != nil {
		printErr(err)
		return err
	}
	for _, s := range specs {
		fmt.Println(s.String())
	}
	return nil
}

var rpcDumpCmd = cli.Command{
	Name:      "rpc-dump",
	Usage:     "list RPC methods with their full decoded meta word (permissions, type, size hint)",
	ArgsUsage: " ",
	Flags:     []cli.Flag{urlFlag, routeFlag, timeoutFlag},
	Action:    rpcDumpAction,
}

func rpcDumpAction(c *cli.Context) error {
	ctx := context.Background()
	p, client, err := openRPC(ctx, c)
	if err != nil {
		printErr(err)
		return err
	}
	defer p.Close()
	defer client.Close()

	specs, err := client.List(ctx)
	if err != nil {
		printErr(err)
		return err
	}
	for _, s := range specs {
		fmt.Printf("%-24s perm=%-3s type=%-6s size_hint=%d\n", s.Name, s.PermString(), s.TypeTag, s.SizeHint)
	}
	return nil
}

var rpcCmd = cli.Command{
	Name:      "rpc",
	Usage:     "call an RPC method, printing the raw reply bytes",
	ArgsUsage: "METHOD [ARGS]",
	Flags:     []cli.Flag{urlFlag, routeFlag, timeoutFlag},
	Action:    rpcAction,
}

func rpcAction(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.NewExitError("rpc requires a METHOD argument", 1)
	}
	method := c.Args().Get(0)
	var args []byte
	if c.NArg() > 1 {
		args = []byte(c.Args().Get(1))
	}

	ctx := context.Background()
	p, client, err := openRPC(ctx, c)
	if err != nil {
		printErr(err)
		return err
	}
	defer p.Close()
	defer client.Close()

	reply, err := client.Call(ctx, method, args)
	if err != nil {
		printErr(err)
		return err
	}
	fmt.Printf("%s: %d bytes: % x\n", fgreen(method), len(reply), reply)
	return nil
}

var dumpCmd = cli.Command{
	Name:      "dump",
	Usage:     "print every packet received on a route, undecoded, for protocol debugging",
	ArgsUsage: " ",
	Flags:     []cli.Flag{urlFlag, routeFlag},
	Action:    dumpAction,
}

func dumpAction(c *cli.Context) error {
	setupColor(c.GlobalBool(noColorFlag.Name))
	route, err := proto.ParseRoute(c.String(routeFlag.Name))
	if err != nil {
		printErr(err)
		return err
	}
	ctx := context.Background()
	p, err := withURL(ctx, c)
	if err != nil {
		printErr(err)
		return err
	}
	defer p.Close()

	port := p.OpenPort(route, false)
	defer port.Close()

	for {
		pkt, err := port.Recv(ctx)
		if err != nil {
			printErr(err)
			return err
		}
		fmt.Printf("[%s] %s %T %+v\n", time.Now().Format(time.RFC3339Nano), pkt.Routing, pkt.Payload, pkt.Payload)
	}
}
