package proxy

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/twinleaf/tio/cmn"
	"github.com/twinleaf/tio/proto"
)

// Port is a subscriber handle on a Proxy: a bounded inbound queue gated
// by a subtree filter, and an outbound path back to the Transport (§4.3).
type Port struct {
	id      uint64
	proxy   *Proxy
	subtree proto.Route
	isRPC   bool

	inbound   chan proto.Packet
	closed    chan struct{}
	closeOnce sync.Once
	drops     uint64
}

// Subtree returns the route prefix this Port was opened against.
func (p *Port) Subtree() proto.Route { return p.subtree }

// Drops returns the number of packets discarded for this Port under the
// drop slow-consumer policy (§4.3, §5).
func (p *Port) Drops() uint64 { return atomic.LoadUint64(&p.drops) }

// Recv blocks until a packet arrives, the Port is closed, the Proxy is
// gone, or ctx is done (§5).
func (p *Port) Recv(ctx context.Context) (proto.Packet, error) {
	select {
	case <-p.closed:
		return proto.Packet{}, cmn.NewError(cmn.ErrTransport, "port closed")
	default:
	}
	select {
	case pkt, ok := <-p.inbound:
		if !ok {
			return proto.Packet{}, cmn.NewError(cmn.ErrTransport, "port closed")
		}
		return pkt, nil
	case <-p.closed:
		return proto.Packet{}, cmn.NewError(cmn.ErrTransport, "port closed")
	case <-ctx.Done():
		return proto.Packet{}, ctx.Err()
	}
}

// Drain returns every packet currently buffered, without blocking - used
// by batched logging consumers (§4.5).
func (p *Port) Drain() []proto.Packet {
	var out []proto.Packet
	for {
		select {
		case pkt, ok := <-p.inbound:
			if !ok {
				return out
			}
			out = append(out, pkt)
		default:
			return out
		}
	}
}

// Send submits pkt to the Proxy's writer; it blocks until the writer
// accepts it (backpressure, §5). RpcRequest payloads have their ID
// assigned by the Proxy, which also records (id -> this Port) so the
// matching reply is routed back here exclusively (§4.3).
func (p *Port) Send(ctx context.Context, pkt proto.Packet) error {
	return p.proxy.send(ctx, p, pkt, true)
}

// SendCorrelated sends pkt (an RpcRequest) with its ID left exactly as set
// by the caller, after registering this Port as that id's owner, so a
// reply bearing the same id routes back here instead of going through the
// Proxy's own monotone allocation (§4.3, §4.8 - the firmware uploader's
// chunk-index correlation).
func (p *Port) SendCorrelated(ctx context.Context, pkt proto.Packet, id uint16) error {
	if err := p.proxy.registerRPCID(p, id); err != nil {
		return err
	}
	return p.proxy.send(ctx, p, pkt, false)
}

// Close removes the Port from the Proxy's subscriber set and frees any
// RPC ids it owns (§5).
func (p *Port) Close() {
	p.proxy.removePort(p)
	p.closeOnce.Do(func() { close(p.closed) })
}

func (p *Port) deliver(pkt proto.Packet) bool {
	select {
	case p.inbound <- pkt:
		return true
	default:
		return false
	}
}
