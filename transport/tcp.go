package transport

import (
	"fmt"
	"net"
	"time"

	"github.com/twinleaf/tio/cmn"
)

// DialTCP opens a `tcp://host[:port]` transport, defaulting to the
// protocol's standard port when none is given (§6).
func DialTCP(addr string) (Transport, error) {
	addr = withDefaultPort(addr)
	conn, err := net.DialTimeout("tcp", addr, 10*time.Second)
	if err != nil {
		return nil, cmn.WrapError(cmn.ErrTransport, err, "dial tcp %s", addr)
	}
	return &frameConn{rw: conn, rbuf: make([]byte, 4096), label: "tcp://" + addr}, nil
}

// DefaultTCPPort is the Proxy TCP server's default listen/dial port (§6).
const DefaultTCPPort = 7855

func withDefaultPort(addr string) string {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Sprintf("%s:%d", addr, DefaultTCPPort)
	}
	return addr
}

// Listener serves one Transport per accepted TCP client, used by the
// `tio proxy` server command (§6 SUPPLEMENT).
type Listener struct {
	ln net.Listener
}

func ListenTCP(addr string) (*Listener, error) {
	addr = withDefaultPort(addr)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, cmn.WrapError(cmn.ErrTransport, err, "listen tcp %s", addr)
	}
	return &Listener{ln: ln}, nil
}

func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

func (l *Listener) Accept() (Transport, error) {
	conn, err := l.ln.Accept()
	if err != nil {
		return nil, cmn.WrapError(cmn.ErrTransport, err, "accept")
	}
	return &frameConn{rw: conn, rbuf: make([]byte, 4096), label: "tcp://" + conn.RemoteAddr().String()}, nil
}

func (l *Listener) Close() error { return l.ln.Close() }
