package rpc

import (
	"context"
	"math"

	"github.com/twinleaf/tio/cmn"
	"github.com/twinleaf/tio/proto"
)

// SendChunk issues an RpcRequest whose id is exactly idx rather than one
// assigned by the Proxy, for protocols that correlate replies by an id
// with meaning of its own - the firmware uploader's chunk index (§4.8).
func (c *Client) SendChunk(ctx context.Context, idx uint32, payload []byte) error {
	if idx > math.MaxUint16 {
		return cmn.NewError(cmn.ErrParse, "firmware upload: chunk index %d exceeds the protocol's 16-bit id space", idx)
	}
	req := proto.Packet{
		Payload: proto.RpcRequest{ID: uint16(idx), MethodName: "dev.firmware.upload", Args: payload},
		Routing: c.route,
	}
	cctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.port.SendCorrelated(cctx, req, uint16(idx))
}

// RecvChunkAck waits for the next RpcReply/RpcError on this client's port
// and returns the acknowledged chunk index (§4.8).
func (c *Client) RecvChunkAck(ctx context.Context) (uint32, error) {
	cctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	pkt, err := c.port.Recv(cctx)
	if err != nil {
		return 0, cmn.WrapError(cmn.ErrTransport, err, "firmware upload: waiting for ack")
	}
	switch v := pkt.Payload.(type) {
	case proto.RpcReply:
		return uint32(v.ID), nil
	case proto.RpcError:
		return 0, &ExecError{Kind: classify(v.ErrorCode), Code: v.ErrorCode, Message: v.Message}
	default:
		return 0, cmn.NewError(cmn.ErrRpcBadReply, "firmware upload: unexpected packet type %T", pkt.Payload)
	}
}
