package firmware_test

import (
	"context"
	"testing"
	"time"

	"github.com/twinleaf/tio/firmware"
	"github.com/twinleaf/tio/proto"
	"github.com/twinleaf/tio/proxy"
	"github.com/twinleaf/tio/rpc"
	"github.com/twinleaf/tio/transport"
)

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

func reply(wire *fakeWire, id uint16) {
	wire.in <- proto.Packet{Payload: proto.RpcReply{ID: id}, Routing: proto.RootRoute()}
}

func replyError(wire *fakeWire, id uint16, code uint16) {
	wire.in <- proto.Packet{Payload: proto.RpcError{ID: id, ErrorCode: code, Message: "rejected"}, Routing: proto.RootRoute()}
}

// serveUpload drains dev.stop, nChunks worth of dev.firmware.upload chunks
// (acking each with the id the test server chooses via ackID), then
// dev.firmware.upgrade, in that order.
func serveUpload(t *testing.T, wire *fakeWire, nChunks int, ackID func(wantID uint16) uint16) {
	t.Helper()
	go func() {
		stopReq := (<-wire.out).Payload.(proto.RpcRequest)
		reply(wire, stopReq.ID)

		for i := 0; i < nChunks; i++ {
			chunkReq := (<-wire.out).Payload.(proto.RpcRequest)
			reply(wire, ackID(chunkReq.ID))
		}

		upgradeReq := (<-wire.out).Payload.(proto.RpcRequest)
		reply(wire, upgradeReq.ID)
	}()
}

func newClient(t *testing.T, wire *fakeWire) (*proxy.Proxy, *rpc.Client) {
	t.Helper()
	p, err := proxy.New(context.Background(), dial(wire), proxy.DefaultConfig())
	if err != nil {
		t.Fatalf("proxy.New: %v", err)
	}
	return p, rpc.Open(p, proto.RootRoute())
}

func TestUploadSuccess(t *testing.T) {
	wire := newFakeWire()
	p, c := newClient(t, wire)
	defer p.Close()
	defer c.Close()

	image := make([]byte, firmware.ChunkSize*5+17) // 6 chunks, last one short
	wantChunks := 6
	serveUpload(t, wire, wantChunks, func(wantID uint16) uint16 { return wantID })

	var lastProgress firmware.Progress
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := firmware.Upload(ctx, c, image, func(p firmware.Progress) { lastProgress = p }); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if lastProgress.TotalChunks != uint32(wantChunks) || lastProgress.SentChunks != uint32(wantChunks) {
		t.Fatalf("unexpected final progress %+v", lastProgress)
	}
}

func TestUploadToleratesDevStopFailure(t *testing.T) {
	wire := newFakeWire()
	p, c := newClient(t, wire)
	defer p.Close()
	defer c.Close()

	image := make([]byte, firmware.ChunkSize*2)
	go func() {
		stopReq := (<-wire.out).Payload.(proto.RpcRequest)
		replyError(wire, stopReq.ID, 5) // Internal; tolerated per §4.8

		for i := 0; i < 2; i++ {
			chunkReq := (<-wire.out).Payload.(proto.RpcRequest)
			reply(wire, chunkReq.ID)
		}
		upgradeReq := (<-wire.out).Payload.(proto.RpcRequest)
		reply(wire, upgradeReq.ID)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := firmware.Upload(ctx, c, image, nil); err != nil {
		t.Fatalf("Upload: %v", err)
	}
}

func TestUploadAbortsOnChunkRejection(t *testing.T) {
	wire := newFakeWire()
	p, c := newClient(t, wire)
	defer p.Close()
	defer c.Close()

	image := make([]byte, firmware.ChunkSize*3)
	go func() {
		stopReq := (<-wire.out).Payload.(proto.RpcRequest)
		reply(wire, stopReq.ID)

		chunkReq := (<-wire.out).Payload.(proto.RpcRequest)
		replyError(wire, chunkReq.ID, 2) // InvalidArgs
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := firmware.Upload(ctx, c, image, nil)
	if err == nil {
		t.Fatal("expected an error, got nil")
	}
	if _, ok := err.(*rpc.ExecError); !ok {
		t.Fatalf("expected *rpc.ExecError, got %T (%v)", err, err)
	}
}

func TestUploadAbortsOnOutOfOrderAck(t *testing.T) {
	wire := newFakeWire()
	p, c := newClient(t, wire)
	defer p.Close()
	defer c.Close()

	image := make([]byte, firmware.ChunkSize*3)
	go func() {
		stopReq := (<-wire.out).Payload.(proto.RpcRequest)
		reply(wire, stopReq.ID)

		// Window is 2: two chunks go out before any ack is required.
		first := (<-wire.out).Payload.(proto.RpcRequest)
		_ = (<-wire.out).Payload.(proto.RpcRequest)
		// Ack the second chunk's id instead of the first's.
		reply(wire, first.ID+1)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := firmware.Upload(ctx, c, image, nil)
	if err == nil {
		t.Fatal("expected an out-of-order-ack error, got nil")
	}
}
