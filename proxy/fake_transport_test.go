package proxy_test

import (
	"context"
	"sync"

	"github.com/twinleaf/tio/cmn"
	"github.com/twinleaf/tio/proto"
	"github.com/twinleaf/tio/transport"
)

// fakeTransport is an in-memory transport.Transport driven entirely by
// channels, so tests can inject inbound packets and observe outbound ones
// without a real socket.
type fakeTransport struct {
	name string
	in   chan proto.Packet
	out  chan proto.Packet

	closeOnce sync.Once
	closed    chan struct{}
}

func newFakeTransport(name string) *fakeTransport {
	return &fakeTransport{
		name:   name,
		in:     make(chan proto.Packet, 64),
		out:    make(chan proto.Packet, 64),
		closed: make(chan struct{}),
	}
}

func (f *fakeTransport) RecvPacket() (proto.Packet, error) {
	select {
	case pkt, ok := <-f.in:
		if !ok {
			return proto.Packet{}, cmn.NewError(cmn.ErrTransport, "%s: closed", f.name)
		}
		return pkt, nil
	case <-f.closed:
		return proto.Packet{}, cmn.NewError(cmn.ErrTransport, "%s: closed", f.name)
	}
}

func (f *fakeTransport) SendPacket(pkt proto.Packet) error {
	select {
	case f.out <- pkt:
		return nil
	case <-f.closed:
		return cmn.NewError(cmn.ErrTransport, "%s: closed", f.name)
	}
}

func (f *fakeTransport) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeTransport) String() string { return f.name }

var _ transport.Transport = (*fakeTransport)(nil)

// dialSequence returns a proxy.DialFunc that hands out each transport in
// order, returning errFail once wherever a nil is found in tr.
func dialSequence(trs ...*fakeTransport) func(ctx context.Context) (transport.Transport, error) {
	i := 0
	return func(ctx context.Context) (transport.Transport, error) {
		if i >= len(trs) {
			return nil, cmn.NewError(cmn.ErrTransport, "dial sequence exhausted")
		}
		tr := trs[i]
		i++
		if tr == nil {
			return nil, cmn.NewError(cmn.ErrTransport, "dial failed")
		}
		return tr, nil
	}
}
