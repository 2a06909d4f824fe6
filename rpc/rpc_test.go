package rpc_test

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/twinleaf/tio/proto"
	"github.com/twinleaf/tio/proxy"
	"github.com/twinleaf/tio/rpc"
	"github.com/twinleaf/tio/transport"
)

// fakeWire is a minimal transport.Transport backed by channels, local to
// this package's tests to avoid reaching into proxy's own test doubles.
type fakeWire struct {
	in  chan proto.Packet
	out chan proto.Packet
}

func newFakeWire() *fakeWire {
	return &fakeWire{in: make(chan proto.Packet, 16), out: make(chan proto.Packet, 16)}
}

func (f *fakeWire) RecvPacket() (proto.Packet, error) { return <-f.in, nil }
func (f *fakeWire) SendPacket(pkt proto.Packet) error { f.out <- pkt; return nil }
func (f *fakeWire) Close() error                      { return nil }
func (f *fakeWire) String() string                    { return "fake" }

var _ transport.Transport = (*fakeWire)(nil)

func dial(wire *fakeWire) proxy.DialFunc {
	return func(ctx context.Context) (transport.Transport, error) { return wire, nil }
}

func TestCallRoundTrip(t *testing.T) {
	wire := newFakeWire()
	p, err := proxy.New(context.Background(), dial(wire), proxy.DefaultConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	c := rpc.Open(p, proto.RootRoute())
	defer c.Close()

	go func() {
		reqPkt := <-wire.out
		req := reqPkt.Payload.(proto.RpcRequest)
		wire.in <- proto.Packet{
			Payload: proto.RpcReply{ID: req.ID, Result: []byte{7}},
			Routing: proto.RootRoute(),
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	reply, err := c.Call(ctx, "dev.stop", nil)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if len(reply) != 1 || reply[0] != 7 {
		t.Fatalf("unexpected reply %v", reply)
	}
}

func TestCallSurfacesExecError(t *testing.T) {
	wire := newFakeWire()
	p, err := proxy.New(context.Background(), dial(wire), proxy.DefaultConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	c := rpc.Open(p, proto.RootRoute())
	defer c.Close()

	go func() {
		reqPkt := <-wire.out
		req := reqPkt.Payload.(proto.RpcRequest)
		wire.in <- proto.Packet{
			Payload: proto.RpcError{ID: req.ID, ErrorCode: 1, Message: "no such method"},
			Routing: proto.RootRoute(),
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = c.Call(ctx, "bogus.method", nil)
	ee, ok := err.(*rpc.ExecError)
	if !ok {
		t.Fatalf("expected *rpc.ExecError, got %T (%v)", err, err)
	}
	if ee.Kind != rpc.NotFound {
		t.Fatalf("expected NotFound, got %v", ee.Kind)
	}
}

func TestListIteratesUntilInvalidArgs(t *testing.T) {
	wire := newFakeWire()
	p, err := proxy.New(context.Background(), dial(wire), proxy.DefaultConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	c := rpc.Open(p, proto.RootRoute())
	defer c.Close()

	go func() {
		for i := 0; i < 3; i++ {
			reqPkt := <-wire.out
			req := reqPkt.Payload.(proto.RpcRequest)
			idx := binary.LittleEndian.Uint16(req.Args)
			if int(idx) >= 2 {
				wire.in <- proto.Packet{Payload: proto.RpcError{ID: req.ID, ErrorCode: 2, Message: "bad index"}, Routing: proto.RootRoute()}
				continue
			}
			meta := uint16(0b0011) // readable + writable
			reply := make([]byte, 2, 3)
			binary.LittleEndian.PutUint16(reply, meta)
			reply = append(reply, []byte("m")...)
			wire.in <- proto.Packet{Payload: proto.RpcReply{ID: req.ID, Result: reply}, Routing: proto.RootRoute()}
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	specs, err := c.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(specs) != 2 {
		t.Fatalf("expected 2 methods, got %d", len(specs))
	}
	for _, s := range specs {
		if !s.Readable || !s.Writable {
			t.Fatalf("unexpected perms on %+v", s)
		}
	}
}
