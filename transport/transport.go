// Package transport abstracts the full-duplex byte pipe a Proxy speaks
// TIO frames over (§4.2). It never retries a failed connection itself;
// RecvPacket/SendPacket simply return the I/O error and let the caller
// (the Proxy's reconnect state machine, package proxy) decide what to do.
package transport

import (
	"io"
	"sync"

	"github.com/twinleaf/tio/cmn"
	"github.com/twinleaf/tio/proto"
)

// Transport is a framed, full-duplex TIO byte pipe (§4.2).
type Transport interface {
	RecvPacket() (proto.Packet, error)
	SendPacket(proto.Packet) error
	Close() error
	// String identifies the transport for logging, e.g. "tcp://host:port".
	String() string
}

// frameConn implements the codec buffering shared by every Transport
// variant: accumulate bytes until proto.Deserialize stops returning
// ErrNeedMore, and serialize writes under a mutex since SendPacket may be
// called concurrently with RPC replies and stream forwarding.
type frameConn struct {
	rw    io.ReadWriteCloser
	wmu   sync.Mutex
	buf   []byte
	rbuf  []byte
	label string
}

func newFrameConn(rw io.ReadWriteCloser, label string) *frameConn {
	return &frameConn{rw: rw, rbuf: make([]byte, 4096), label: label}
}

func (c *frameConn) RecvPacket() (proto.Packet, error) {
	for {
		if len(c.buf) > 0 {
			pkt, n, err := proto.Deserialize(c.buf)
			switch {
			case err == nil:
				c.buf = c.buf[n:]
				return pkt, nil
			case err == proto.ErrNeedMore:
				// fall through to read more
			case cmn.IsKind(err, cmn.ErrParse):
				// Malformed frame: per spec, skip it and keep reading
				// rather than tearing the connection down. n is the
				// frame's byte length whenever it could be determined
				// from the header; if it couldn't (n == 0, buffer too
				// short to even see a length), drop everything buffered
				// so far and resync on whatever arrives next.
				if n > 0 {
					c.buf = c.buf[n:]
				} else {
					c.buf = c.buf[:0]
				}
				continue
			default:
				return proto.Packet{}, cmn.WrapError(cmn.ErrTransport, err, "%s: malformed frame", c.label)
			}
		}
		n, err := c.rw.Read(c.rbuf)
		if n > 0 {
			c.buf = append(c.buf, c.rbuf[:n]...)
		}
		if err != nil {
			return proto.Packet{}, cmn.WrapError(cmn.ErrTransport, err, "%s: read failed", c.label)
		}
	}
}

func (c *frameConn) SendPacket(p proto.Packet) error {
	wire := proto.Serialize(p)
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if _, err := c.rw.Write(wire); err != nil {
		return cmn.WrapError(cmn.ErrTransport, err, "%s: write failed", c.label)
	}
	return nil
}

func (c *frameConn) Close() error { return c.rw.Close() }

func (c *frameConn) String() string { return c.label }
