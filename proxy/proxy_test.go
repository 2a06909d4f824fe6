package proxy_test

import (
	"context"
	"testing"
	"time"

	"github.com/twinleaf/tio/proto"
	"github.com/twinleaf/tio/proxy"
)

func mustRoute(t *testing.T, idx ...uint8) proto.Route {
	t.Helper()
	r, err := proto.NewRoute(idx...)
	if err != nil {
		t.Fatalf("NewRoute(%v): %v", idx, err)
	}
	return r
}

func recvWithin(t *testing.T, port *proxy.Port, d time.Duration) (proto.Packet, bool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	pkt, err := port.Recv(ctx)
	if err != nil {
		return proto.Packet{}, false
	}
	return pkt, true
}

func TestFanOutBySubtree(t *testing.T) {
	tr := newFakeTransport("fan-out")
	p, err := proxy.New(context.Background(), dialSequence(tr), proxy.DefaultConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	left := p.OpenPort(mustRoute(t, 0), false)
	right := p.OpenPort(mustRoute(t, 1), false)
	defer left.Close()
	defer right.Close()

	leftPkt := proto.Packet{Payload: proto.Heartbeat{}, Routing: mustRoute(t, 0, 3)}
	rightPkt := proto.Packet{Payload: proto.Heartbeat{}, Routing: mustRoute(t, 1, 4)}

	tr.in <- leftPkt
	tr.in <- rightPkt

	got, ok := recvWithin(t, left, time.Second)
	if !ok || !got.Routing.Equal(leftPkt.Routing) {
		t.Fatalf("left port: got %+v, ok=%v", got, ok)
	}
	got, ok = recvWithin(t, right, time.Second)
	if !ok || !got.Routing.Equal(rightPkt.Routing) {
		t.Fatalf("right port: got %+v, ok=%v", got, ok)
	}

	// cross-check: neither port should see the other's packet.
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if _, err := left.Recv(ctx); err == nil {
		t.Fatal("left port unexpectedly received a second packet")
	}
}

func TestRPCCorrelation(t *testing.T) {
	tr := newFakeTransport("rpc")
	p, err := proxy.New(context.Background(), dialSequence(tr), proxy.DefaultConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	caller := p.OpenPort(proto.RootRoute(), true)
	bystander := p.OpenPort(proto.RootRoute(), true)
	defer caller.Close()
	defer bystander.Close()

	req := proto.Packet{
		Payload: proto.RpcRequest{MethodName: "dev.stop"},
		Routing: mustRoute(t, 0),
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := caller.Send(ctx, req); err != nil {
		t.Fatalf("Send: %v", err)
	}

	var sent proto.Packet
	select {
	case sent = <-tr.out:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for outbound RpcRequest")
	}
	sentReq, ok := sent.Payload.(proto.RpcRequest)
	if !ok {
		t.Fatalf("outbound payload type %T, want RpcRequest", sent.Payload)
	}

	reply := proto.Packet{Payload: proto.RpcReply{ID: sentReq.ID, Result: []byte{1, 2}}, Routing: mustRoute(t, 0)}
	tr.in <- reply

	got, ok := recvWithin(t, caller, time.Second)
	if !ok {
		t.Fatal("caller did not receive its reply")
	}
	gotReply, ok := got.Payload.(proto.RpcReply)
	if !ok || gotReply.ID != sentReq.ID {
		t.Fatalf("unexpected reply: %+v", got)
	}

	bctx, bcancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer bcancel()
	if _, err := bystander.Recv(bctx); err == nil {
		t.Fatal("bystander port unexpectedly received the reply")
	}
}

func TestSlowConsumerDropPolicy(t *testing.T) {
	tr := newFakeTransport("drop")
	cfg := proxy.DefaultConfig()
	cfg.PortQueueDepth = 1
	cfg.KickSlow = false
	p, err := proxy.New(context.Background(), dialSequence(tr), cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	port := p.OpenPort(proto.RootRoute(), false)
	defer port.Close()

	for i := 0; i < 5; i++ {
		tr.in <- proto.Packet{Payload: proto.Heartbeat{}, Routing: proto.RootRoute()}
	}
	time.Sleep(100 * time.Millisecond)

	if port.Drops() == 0 {
		t.Fatal("expected at least one dropped packet under a full queue")
	}
	if _, err := port.Recv(context.Background()); err != nil {
		t.Fatalf("expected the queued packet to still be deliverable: %v", err)
	}
}

func TestSlowConsumerKickPolicy(t *testing.T) {
	tr := newFakeTransport("kick")
	cfg := proxy.DefaultConfig()
	cfg.PortQueueDepth = 1
	cfg.KickSlow = true
	p, err := proxy.New(context.Background(), dialSequence(tr), cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	port := p.OpenPort(proto.RootRoute(), false)

	for i := 0; i < 5; i++ {
		tr.in <- proto.Packet{Payload: proto.Heartbeat{}, Routing: proto.RootRoute()}
	}
	time.Sleep(100 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := port.Recv(ctx); err == nil {
		t.Fatal("expected the kicked port to report itself closed")
	}
}

func TestReconnectAfterDialFailure(t *testing.T) {
	first := newFakeTransport("gen0")
	second := newFakeTransport("gen1")
	cfg := proxy.DefaultConfig()
	cfg.ReconnectDeadline = 2 * time.Second

	p, err := proxy.New(context.Background(), dialSequence(first, nil, second), cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	port := p.OpenPort(proto.RootRoute(), false)
	defer port.Close()

	// Sever the first transport; the supervisor should retry, fail once
	// against the nil dial, then succeed against `second`.
	first.Close()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if p.State() == proxy.Connected {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if p.State() != proxy.Connected {
		t.Fatalf("proxy did not reconnect, final state %s", p.State())
	}

	second.in <- proto.Packet{Payload: proto.Heartbeat{}, Routing: proto.RootRoute()}
	if _, ok := recvWithin(t, port, time.Second); !ok {
		t.Fatal("port did not receive a packet over the new transport generation")
	}
}
