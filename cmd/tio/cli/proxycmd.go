package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli"

	"github.com/twinleaf/tio/cmn/nlog"
	"github.com/twinleaf/tio/proto"
	"github.com/twinleaf/tio/proxy"
	"github.com/twinleaf/tio/transport"
)

var (
	listenFlag  = cli.StringFlag{Name: "listen", Value: "", Usage: "TCP listen address (default port 7855)"}
	metricsFlag = cli.StringFlag{Name: "metrics", Usage: "optional Prometheus /metrics listen address, e.g. :9855"}
)

var proxyServerCmd = cli.Command{
	Name:      "proxy",
	Usage:     "run as a persistent TCP server, bridging many clients to one device transport (§6)",
	ArgsUsage: " ",
	Flags:     []cli.Flag{urlFlag, listenFlag, metricsFlag},
	Action:    proxyServerAction,
}

var (
	metricsOnce      atomic.Bool
	reconnectsTotal  = promauto.NewCounter(prometheus.CounterOpts{Name: "tio_proxy_reconnects_total", Help: "Proxy reconnect attempts."})
	portDropsTotal   = promauto.NewCounter(prometheus.CounterOpts{Name: "tio_proxy_port_drops_total", Help: "Packets dropped under the slow-consumer drop policy."})
	rpcInflightGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "tio_rpc_inflight", Help: "Bridged TCP client connections currently attached to the server proxy."})
)

func proxyServerAction(c *cli.Context) error {
	setupColor(c.GlobalBool(noColorFlag.Name))

	cfg, err := loadConfig(c)
	if err != nil {
		printErr(err)
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p, err := withURL(ctx, c)
	if err != nil {
		printErr(err)
		return err
	}
	defer p.Close()

	metricsAddr := c.String(metricsFlag.Name)
	if metricsAddr == "" && cfg.Metrics.Enabled {
		metricsAddr = cfg.Metrics.Addr
	}
	if metricsAddr != "" {
		serveMetrics(metricsAddr)
	}

	go forwardStatusEvents(p)

	listenAddr := c.String(listenFlag.Name)
	if listenAddr == "" && cfg.Proxy.ListenPort != 0 {
		listenAddr = fmt.Sprintf(":%d", cfg.Proxy.ListenPort)
	}
	ln, err := transport.ListenTCP(listenAddr)
	if err != nil {
		printErr(err)
		return err
	}
	defer ln.Close()
	nlog.Infof("proxy server listening on %s", ln.Addr())

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		nlog.Infof("proxy server shutting down")
		cancel()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			nlog.Errorf("proxy server: accept: %v", err)
			continue
		}
		go bridgeClient(ctx, p, conn)
	}
}

func serveMetrics(addr string) {
	if !metricsOnce.CompareAndSwap(false, true) {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			nlog.Errorf("metrics server: %v", err)
		}
	}()
	nlog.Infof("metrics listening on %s", addr)
}

func forwardStatusEvents(p *proxy.Proxy) {
	for ev := range p.Status() {
		switch ev.Kind {
		case proxy.StatusReconnecting:
			reconnectsTotal.Inc()
		case proxy.StatusPortDropped:
			portDropsTotal.Inc()
		}
		nlog.Infof("proxy status: %s %s", ev.Kind, ev.Detail)
	}
}

// bridgeClient relays one accepted TCP client to the device proxy at root
// scope: RpcRequests keep the client's own id via SendCorrelated, so replies
// route back transparently; every other packet (including all stream data)
// fans straight through the Port's normal subtree match (§6).
func bridgeClient(ctx context.Context, p *proxy.Proxy, client transport.Transport) {
	rpcInflightGauge.Inc()
	defer rpcInflightGauge.Dec()
	defer client.Close()

	port := p.OpenPort(proto.RootRoute(), true)
	defer port.Close()

	cctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		for {
			pkt, err := port.Recv(cctx)
			if err != nil {
				return
			}
			if err := client.SendPacket(pkt); err != nil {
				cancel()
				return
			}
		}
	}()

	for {
		pkt, err := client.RecvPacket()
		if err != nil {
			return
		}
		req, ok := pkt.Payload.(proto.RpcRequest)
		if !ok {
			continue // clients are only expected to issue RpcRequests
		}
		if err := port.SendCorrelated(cctx, pkt, req.ID); err != nil {
			errPkt := proto.Packet{Payload: proto.RpcError{ID: req.ID, ErrorCode: 0, Message: err.Error()}, Routing: pkt.Routing}
			_ = client.SendPacket(errPkt)
		}
	}
}
