// Package rpc is a thin layer over a proxy.Port opened for RPC use: apart
// from SendChunk, which uses the chunk index as its id, it assigns no RPC
// ids itself (the Proxy owns id correlation, §4.3) and instead
// focuses on request/reply plumbing, typed argument/result codecs, and the
// `rpc.listinfo`/`rpc.info` method-discovery protocol (§4.4).
package rpc

import (
	"context"
	"encoding/binary"
	"time"

	"github.com/twinleaf/tio/cmn"
	"github.com/twinleaf/tio/proto"
	"github.com/twinleaf/tio/proxy"
)

// DefaultTimeout is used by Client.Action/Client.Call when the caller
// doesn't supply one; it is a fixed value, not derived from the Proxy's
// configuration (§4.4).
const DefaultTimeout = 2 * time.Second

// ErrorKind classifies a device-returned RPC failure (§4.4).
type ErrorKind int

const (
	NotFound ErrorKind = iota
	InvalidArgs
	Unauthorized
	Busy
	Internal
	Timeout
	Other
)

func (k ErrorKind) String() string {
	switch k {
	case NotFound:
		return "NotFound"
	case InvalidArgs:
		return "InvalidArgs"
	case Unauthorized:
		return "Unauthorized"
	case Busy:
		return "Busy"
	case Internal:
		return "Internal"
	case Timeout:
		return "Timeout"
	default:
		return "Other"
	}
}

// classify maps the wire error code to an ErrorKind (§4.4). Codes above the
// known range classify as Other, carrying the raw code for the CLI to print.
func classify(code uint16) ErrorKind {
	switch code {
	case 1:
		return NotFound
	case 2:
		return InvalidArgs
	case 3:
		return Unauthorized
	case 4:
		return Busy
	case 5:
		return Internal
	default:
		return Other
	}
}

// ExecError is a device-returned RPC failure, as opposed to a transport or
// timeout failure, which surface as *cmn.TioError instead (§4.4).
type ExecError struct {
	Kind    ErrorKind
	Code    uint16
	Message string
}

func (e *ExecError) Error() string {
	if e.Message != "" {
		return e.Kind.String() + ": " + e.Message
	}
	return e.Kind.String()
}

// Client issues method calls over a single RPC-capable proxy.Port and waits
// for the correlated reply (§4.4). Not safe for concurrent use by multiple
// goroutines issuing overlapping calls on the same logical request, since a
// Port only has one outstanding Recv loop per call.
type Client struct {
	port    *proxy.Port
	route   proto.Route
	timeout time.Duration
}

// Open returns a Client bound to an RPC port opened against route.
func Open(p *proxy.Proxy, route proto.Route) *Client {
	return &Client{port: p.OpenPort(route, true), route: route, timeout: DefaultTimeout}
}

// SetTimeout overrides the default per-call timeout used by Call/Action.
func (c *Client) SetTimeout(d time.Duration) { c.timeout = d }

func (c *Client) Close() { c.port.Close() }

// Call sends method with raw args and returns the raw reply bytes, or an
// *ExecError if the device rejected the call, or a *cmn.TioError(ErrRpcTimeout
// / ErrTransport) on I/O loss (§4.4).
func (c *Client) Call(ctx context.Context, method string, args []byte) ([]byte, error) {
	req := proto.Packet{Payload: proto.RpcRequest{MethodName: method, Args: args}, Routing: c.route}

	cctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.port.Send(cctx, req); err != nil {
		return nil, cmn.WrapError(cmn.ErrTransport, err, "rpc %s: send", method)
	}

	for {
		pkt, err := c.port.Recv(cctx)
		if err != nil {
			if cctx.Err() != nil {
				return nil, cmn.NewError(cmn.ErrRpcTimeout, "rpc %s: timed out", method)
			}
			return nil, cmn.WrapError(cmn.ErrTransport, err, "rpc %s: recv", method)
		}
		switch v := pkt.Payload.(type) {
		case proto.RpcReply:
			return v.Result, nil
		case proto.RpcError:
			return nil, &ExecError{Kind: classify(v.ErrorCode), Code: v.ErrorCode, Message: v.Message}
		default:
			continue // a stray non-RPC packet delivered to this port; ignore
		}
	}
}

// Action calls method ignoring the reply body (§4.4).
func (c *Client) Action(ctx context.Context, method string) error {
	_, err := c.Call(ctx, method, nil)
	return err
}

// Info calls rpc.info with name and returns its decoded MethodSpec (§4.4).
func (c *Client) Info(ctx context.Context, name string) (MethodSpec, error) {
	reply, err := c.Call(ctx, "rpc.info", []byte(name))
	if err != nil {
		return MethodSpec{}, err
	}
	if len(reply) < 2 {
		return MethodSpec{}, cmn.NewError(cmn.ErrRpcBadReply, "rpc.info %s: short reply", name)
	}
	return decodeSpec(binary.LittleEndian.Uint16(reply), name), nil
}

// List iterates rpc.listinfo starting at index 0, incrementing until the
// device replies InvalidArgs, and returns every method's decoded spec
// (§4.4).
func (c *Client) List(ctx context.Context) ([]MethodSpec, error) {
	var out []MethodSpec
	for i := uint16(0); ; i++ {
		var arg [2]byte
		binary.LittleEndian.PutUint16(arg[:], i)
		reply, err := c.Call(ctx, "rpc.listinfo", arg[:])
		if err != nil {
			if ee, ok := err.(*ExecError); ok && ee.Kind == InvalidArgs {
				return out, nil
			}
			return out, err
		}
		if len(reply) < 2 {
			return out, cmn.NewError(cmn.ErrRpcBadReply, "rpc.listinfo[%d]: short reply", i)
		}
		meta := binary.LittleEndian.Uint16(reply)
		name := string(reply[2:])
		out = append(out, decodeSpec(meta, name))
	}
}
