// Package firmware implements the windowed, chunked, acknowledged upload
// protocol described in §4.8.
package firmware

import (
	"context"

	"github.com/twinleaf/tio/cmn"
	"github.com/twinleaf/tio/rpc"
)

// ChunkSize is the wire chunk size for dev.firmware.upload (§4.8).
const ChunkSize = 288

// MaxChunksInFlight bounds the pipeline window (§4.8).
const MaxChunksInFlight = 2

// Progress reports upload progress after each acknowledged chunk, for a
// CLI progress bar (out of scope per spec.md, rendered by the caller).
type Progress struct {
	SentChunks  uint32
	TotalChunks uint32
}

// Upload sends image in ChunkSize chunks over c, pipelined up to
// MaxChunksInFlight in flight, correlating replies by id == chunk index
// (§4.8). dev.stop is attempted first and its failure tolerated; on
// success, dev.firmware.upgrade is issued to apply the image.
func Upload(ctx context.Context, c *rpc.Client, image []byte, onProgress func(Progress)) error {
	_ = c.Action(ctx, "dev.stop") // best-effort; failure tolerated per §4.8

	total := uint32((len(image) + ChunkSize - 1) / ChunkSize)
	if total == 0 {
		return cmn.NewError(cmn.ErrParse, "firmware image is empty")
	}

	nextSend, nextAck := uint32(0), uint32(0)
	for nextAck < total {
		for nextSend < total && nextSend-nextAck < MaxChunksInFlight {
			if err := sendChunk(ctx, c, image, nextSend, total); err != nil {
				return err
			}
			nextSend++
		}

		ack, err := recvAck(ctx, c, nextAck, total)
		if err != nil {
			return err
		}
		if ack != nextAck {
			return cmn.NewError(cmn.ErrRpcBadReply, "firmware upload: out-of-order ack %d, want %d", ack, nextAck)
		}
		nextAck++
		if onProgress != nil {
			onProgress(Progress{SentChunks: nextAck, TotalChunks: total})
		}
	}

	return c.Action(ctx, "dev.firmware.upgrade")
}

func sendChunk(ctx context.Context, c *rpc.Client, image []byte, idx, total uint32) error {
	start := int(idx) * ChunkSize
	end := start + ChunkSize
	if end > len(image) {
		end = len(image)
	}
	return c.SendChunk(ctx, idx, image[start:end])
}

func recvAck(ctx context.Context, c *rpc.Client, wantID, total uint32) (uint32, error) {
	id, err := c.RecvChunkAck(ctx)
	if err != nil {
		if _, ok := err.(*rpc.ExecError); ok {
			return 0, err // a device-rejected chunk, not a transport loss
		}
		return 0, cmn.WrapError(cmn.ErrTransport, err, "firmware upload: waiting for ack %d/%d", wantID, total)
	}
	return id, nil
}
