// Package proxy multiplexes one Transport across many subscriber Ports,
// correlates RPC replies back to their originating Port, and owns the
// reconnect state machine described in §4.2-§4.3 and §5.
package proxy

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/twinleaf/tio/cmn"
	"github.com/twinleaf/tio/cmn/nlog"
	"github.com/twinleaf/tio/internal/backoff"
	"github.com/twinleaf/tio/proto"
	"github.com/twinleaf/tio/transport"
)

// DialFunc (re)establishes the underlying Transport; called once at
// construction and again on every reconnect attempt (§4.2).
type DialFunc func(ctx context.Context) (transport.Transport, error)

// Config controls Port queue sizing and the reconnect state machine.
type Config struct {
	PortQueueDepth    int
	KickSlow          bool
	ReconnectDeadline time.Duration
}

func DefaultConfig() Config {
	return Config{PortQueueDepth: 100, KickSlow: false, ReconnectDeadline: 30 * time.Second}
}

type outboundMsg struct {
	port *Port
	pkt  proto.Packet
	// assignID is true for the general Port.Send path, where the Proxy
	// owns RPC id assignment (§4.3). It is false for Port.SendCorrelated,
	// used by callers like the firmware uploader (§4.8) that must choose
	// their own correlation id and have already registered ownership of
	// it via registerRPCID.
	assignID bool
}

type supervisorEvent struct {
	gen int64
	err error
}

// Proxy owns exactly one Transport and fans it out to subscriber Ports
// (§4.3).
type Proxy struct {
	cfg     Config
	dial    DialFunc
	Session uuid.UUID

	trMu sync.RWMutex
	tr   transport.Transport

	portsMu sync.RWMutex
	ports   map[uint64]*Port
	nextID  uint64

	rpcMu     sync.Mutex
	rpcOwners map[uint16]*Port
	nextRPCID uint16

	state int32 // atomic State

	outbound   chan outboundMsg
	supervisor chan supervisorEvent
	status     chan StatusEvent

	gen int64 // atomic: current transport generation

	g      *errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New dials the initial Transport and starts the reader/writer/supervisor
// tasks (§5).
func New(ctx context.Context, dial DialFunc, cfg Config) (*Proxy, error) {
	tr, err := dial(ctx)
	if err != nil {
		return nil, cmn.WrapError(cmn.ErrTransport, err, "initial connect")
	}

	pctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(pctx)
	p := &Proxy{
		cfg:        cfg,
		dial:       dial,
		Session:    uuid.New(),
		tr:         tr,
		ports:      map[uint64]*Port{},
		rpcOwners:  map[uint16]*Port{},
		outbound:   make(chan outboundMsg, cfg.PortQueueDepth),
		supervisor: make(chan supervisorEvent, 2),
		status:     make(chan StatusEvent, 32),
		g:          g,
		ctx:        gctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	atomic.StoreInt32(&p.state, int32(Connected))

	p.g.Go(func() error { p.supervise(); return nil })
	p.g.Go(func() error { p.runReader(tr, 0); return nil })
	p.g.Go(func() error { p.runWriter(tr, 0); return nil })

	nlog.Infof("proxy %s connected via %s", p.Session, tr)
	return p, nil
}

func (p *Proxy) State() State { return State(atomic.LoadInt32(&p.state)) }

// Status returns the channel of out-of-band diagnostic events (§4.3).
func (p *Proxy) Status() <-chan StatusEvent { return p.status }

func (p *Proxy) emit(kind StatusKind, detail string) {
	select {
	case p.status <- StatusEvent{Kind: kind, Detail: detail}:
	default:
		// status consumer isn't keeping up; diagnostics are best-effort.
	}
}

func (p *Proxy) currentTransport() transport.Transport {
	p.trMu.RLock()
	defer p.trMu.RUnlock()
	return p.tr
}

func (p *Proxy) setTransport(tr transport.Transport) {
	p.trMu.Lock()
	p.tr = tr
	p.trMu.Unlock()
}

// OpenPort creates a subscriber Port gated to the given subtree (§4.3).
// rpc must be true for Ports that will issue RpcRequests.
func (p *Proxy) OpenPort(subtree proto.Route, rpc bool) *Port {
	p.portsMu.Lock()
	defer p.portsMu.Unlock()
	p.nextID++
	port := &Port{
		id:      p.nextID,
		proxy:   p,
		subtree: subtree,
		isRPC:   rpc,
		inbound: make(chan proto.Packet, p.cfg.PortQueueDepth),
		closed:  make(chan struct{}),
	}
	p.ports[port.id] = port
	return port
}

func (p *Proxy) removePort(port *Port) {
	p.portsMu.Lock()
	delete(p.ports, port.id)
	p.portsMu.Unlock()

	p.rpcMu.Lock()
	for id, owner := range p.rpcOwners {
		if owner == port {
			delete(p.rpcOwners, id)
		}
	}
	p.rpcMu.Unlock()
}

// Close tears down both tasks, closes the Transport, and signals every
// Port transport-gone (§5).
func (p *Proxy) Close() error {
	p.cancel()
	tr := p.currentTransport()
	err := tr.Close()
	p.closeAllPorts()
	return err
}

// closeAllPorts clears the subscriber set and RPC ownership table and
// signals every Port transport-gone, without re-entering portsMu/rpcMu
// the way calling Port.Close in a loop under those locks would (§5).
func (p *Proxy) closeAllPorts() {
	p.portsMu.Lock()
	ports := make([]*Port, 0, len(p.ports))
	for _, port := range p.ports {
		ports = append(ports, port)
	}
	p.ports = map[uint64]*Port{}
	p.portsMu.Unlock()

	p.rpcMu.Lock()
	p.rpcOwners = map[uint16]*Port{}
	p.rpcMu.Unlock()

	for _, port := range ports {
		port.closeOnce.Do(func() { close(port.closed) })
	}
}

func (p *Proxy) send(ctx context.Context, port *Port, pkt proto.Packet, assignID bool) error {
	select {
	case p.outbound <- outboundMsg{port: port, pkt: pkt, assignID: assignID}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.ctx.Done():
		return cmn.NewError(cmn.ErrTransport, "proxy closed")
	}
}

// registerRPCID claims ownership of a caller-chosen id without allocating
// one, for protocols like firmware upload (§4.8) that correlate replies by
// an id with meaning of its own (the chunk index) rather than accepting
// the Proxy's monotone allocation.
func (p *Proxy) registerRPCID(owner *Port, id uint16) error {
	p.rpcMu.Lock()
	defer p.rpcMu.Unlock()
	if _, busy := p.rpcOwners[id]; busy {
		return cmn.NewError(cmn.ErrRpcExec, "rpc id %d already in flight", id)
	}
	p.rpcOwners[id] = owner
	return nil
}

// allocRPCID assigns the next free id and records (id -> owner), monotone
// modulo 2^16 with reuse only after reply or timeout (§4.3).
func (p *Proxy) allocRPCID(owner *Port) (uint16, error) {
	p.rpcMu.Lock()
	defer p.rpcMu.Unlock()
	for i := 0; i < 1<<16; i++ {
		id := p.nextRPCID
		p.nextRPCID++
		if _, busy := p.rpcOwners[id]; !busy {
			p.rpcOwners[id] = owner
			return id, nil
		}
	}
	return 0, cmn.NewError(cmn.ErrRpcExec, "no free RPC ids")
}

// FreeRPCID releases id for reuse without delivering a reply, used by the
// RPC client on timeout (§4.3, §4.4).
func (p *Proxy) FreeRPCID(id uint16) {
	p.rpcMu.Lock()
	delete(p.rpcOwners, id)
	p.rpcMu.Unlock()
}

func (p *Proxy) deliverToOwner(id uint16, pkt proto.Packet) {
	p.rpcMu.Lock()
	owner, ok := p.rpcOwners[id]
	if ok {
		delete(p.rpcOwners, id)
	}
	p.rpcMu.Unlock()
	if !ok {
		return // unmatched or already-timed-out reply; drop
	}
	owner.deliver(pkt)
}

func (p *Proxy) fanOut(pkt proto.Packet) {
	switch v := pkt.Payload.(type) {
	case proto.RpcReply:
		p.deliverToOwner(v.ID, pkt)
		return
	case proto.RpcError:
		p.deliverToOwner(v.ID, pkt)
		return
	}

	p.portsMu.RLock()
	ports := make([]*Port, 0, len(p.ports))
	for _, port := range p.ports {
		ports = append(ports, port)
	}
	p.portsMu.RUnlock()

	for _, port := range ports {
		if !pkt.Routing.HasPrefix(port.subtree) {
			continue
		}
		if port.deliver(pkt) {
			continue
		}
		if p.cfg.KickSlow {
			port.Close()
			p.emit(StatusPortKicked, "slow consumer kicked")
		} else {
			atomic.AddUint64(&port.drops, 1)
			p.emit(StatusPortDropped, "slow consumer dropped a packet")
		}
	}
}

func (p *Proxy) runReader(tr transport.Transport, gen int64) {
	for {
		pkt, err := tr.RecvPacket()
		if err != nil {
			p.reportTransportError(gen, err)
			return
		}
		p.fanOut(pkt)
	}
}

func (p *Proxy) runWriter(tr transport.Transport, gen int64) {
	for {
		select {
		case msg, ok := <-p.outbound:
			if !ok {
				return
			}
			if req, ok := msg.pkt.Payload.(proto.RpcRequest); ok && msg.assignID {
				id, err := p.allocRPCID(msg.port)
				if err != nil {
					continue
				}
				req.ID = id
				msg.pkt.Payload = req
			}
			if err := tr.SendPacket(msg.pkt); err != nil {
				p.reportTransportError(gen, err)
				return
			}
		case <-p.ctx.Done():
			return
		}
	}
}

func (p *Proxy) reportTransportError(gen int64, err error) {
	if atomic.LoadInt64(&p.gen) != gen {
		return // a newer generation already superseded this one
	}
	select {
	case p.supervisor <- supervisorEvent{gen: gen, err: err}:
	case <-p.ctx.Done():
	}
}

func (p *Proxy) supervise() {
	defer close(p.done)
	for {
		select {
		case ev := <-p.supervisor:
			if ev.gen != atomic.LoadInt64(&p.gen) {
				continue
			}
			p.reconnect(ev.err)
			if p.State() == Failed {
				return
			}
		case <-p.ctx.Done():
			return
		}
	}
}

func (p *Proxy) reconnect(cause error) {
	atomic.StoreInt32(&p.state, int32(Reconnecting))
	p.emit(StatusReconnecting, cause.Error())
	nlog.Warningf("proxy %s lost transport: %v; reconnecting", p.Session, cause)

	deadline := time.Now().Add(p.cfg.ReconnectDeadline)
	b := backoff.New(100*time.Millisecond, 5*time.Second)

	for time.Now().Before(deadline) {
		ctx, cancel := context.WithDeadline(p.ctx, deadline)
		tr, err := p.dial(ctx)
		cancel()
		if err == nil {
			newGen := atomic.AddInt64(&p.gen, 1)
			p.setTransport(tr)
			atomic.StoreInt32(&p.state, int32(Connected))
			p.emit(StatusConnected, tr.String())
			nlog.Infof("proxy %s reconnected via %s", p.Session, tr)
			p.g.Go(func() error { p.runReader(tr, newGen); return nil })
			p.g.Go(func() error { p.runWriter(tr, newGen); return nil })
			return
		}
		if waitErr := b.Wait(p.ctx); waitErr != nil {
			break
		}
	}

	atomic.StoreInt32(&p.state, int32(Failed))
	p.emit(StatusFailed, "reconnect deadline exceeded")
	nlog.Errorf("proxy %s failed: reconnect deadline exceeded", p.Session)

	// Failed is terminal: release every resource, including any writer
	// goroutine from the last generation still blocked on p.outbound.
	p.closeAllPorts()
	p.cancel()
}

// Wait blocks until every task launched by New and reconnect has
// returned, i.e. until Close has been called and has finished tearing
// down the Proxy. The `tio proxy` command does not call it; it blocks in
// its own accept loop instead.
func (p *Proxy) Wait() error {
	return p.g.Wait()
}
