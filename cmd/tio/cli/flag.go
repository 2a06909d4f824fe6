package cli

import (
	"context"

	"github.com/urfave/cli"

	"github.com/twinleaf/tio/cmn"
	"github.com/twinleaf/tio/proto"
	"github.com/twinleaf/tio/proxy"
	"github.com/twinleaf/tio/rpc"
	"github.com/twinleaf/tio/transport"
)

var (
	urlFlag = cli.StringFlag{
		Name:  "url",
		Value: "auto",
		Usage: "transport URL: tcp://host[:port], serial:///dev/path[:baud], or auto",
	}
	routeFlag = cli.StringFlag{
		Name:  "route",
		Value: "/",
		Usage: "route to the target device, e.g. /0/1",
	}
	timeoutFlag = cli.DurationFlag{
		Name:  "timeout",
		Value: cmn.Default().Rpc.Timeout,
		Usage: "per-call RPC timeout",
	}
	noColorFlag = cli.BoolFlag{
		Name:  "no-color",
		Usage: "disable colored output",
	}
	configFlag = cli.StringFlag{
		Name:  "config",
		Usage: "path to a JSON config file (cmn.Config) overriding proxy/rpc/export defaults",
	}
)

var globalFlags = []cli.Flag{noColorFlag, configFlag}

// loadConfig reads --config, or cmn.Default() when it's unset, the
// defaults every command falls back to absent an explicit flag override
// (SPEC_FULL.md Configuration section).
func loadConfig(c *cli.Context) (*cmn.Config, error) {
	path := c.GlobalString(configFlag.Name)
	if path == "" {
		return cmn.Default(), nil
	}
	return cmn.Load(path)
}

// withURL dials c's --url via transport.Open and wraps it in a Proxy
// configured from --config, redialing the same URL on every reconnect
// attempt (§4.2). Callers defer p.Close().
func withURL(ctx context.Context, c *cli.Context) (*proxy.Proxy, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	url := c.String(urlFlag.Name)
	dial := func(ctx context.Context) (transport.Transport, error) { return transport.Open(url) }
	pc := proxy.Config{
		PortQueueDepth:    cfg.Proxy.PortQueueDepth,
		KickSlow:          cfg.Proxy.KickSlow,
		ReconnectDeadline: cfg.Proxy.ReconnectDeadline,
	}
	return proxy.New(ctx, dial, pc)
}

// openRPC opens an rpc.Client against c's --url/--route flags, timing out
// per --timeout when given, else per --config's rpc.timeout.
func openRPC(ctx context.Context, c *cli.Context) (*proxy.Proxy, *rpc.Client, error) {
	setupColor(c.GlobalBool(noColorFlag.Name))

	cfg, err := loadConfig(c)
	if err != nil {
		return nil, nil, err
	}
	route, err := proto.ParseRoute(c.String(routeFlag.Name))
	if err != nil {
		return nil, nil, cmn.WrapError(cmn.ErrRouting, err, "--route %q", c.String(routeFlag.Name))
	}
	p, err := withURL(ctx, c)
	if err != nil {
		return nil, nil, err
	}
	client := rpc.Open(p, route)
	timeout := cfg.Rpc.Timeout
	if c.IsSet(timeoutFlag.Name) {
		timeout = c.Duration(timeoutFlag.Name)
	}
	if timeout > 0 {
		client.SetTimeout(timeout)
	}
	return p, client, nil
}
