package rpc

import (
	"context"
	"encoding/binary"
	"math"

	"github.com/twinleaf/tio/cmn"
)

// Encode serializes a typed RPC argument using the little-endian
// fixed-width conventions of §4.1/§4.4. Strings pass through as raw bytes.
func Encode(v any) ([]byte, error) {
	switch x := v.(type) {
	case string:
		return []byte(x), nil
	case []byte:
		return x, nil
	case uint8:
		return []byte{x}, nil
	case int8:
		return []byte{byte(x)}, nil
	case uint16:
		b := make([]byte, 2)
		binary.LittleEndian.PutUint16(b, x)
		return b, nil
	case int16:
		b := make([]byte, 2)
		binary.LittleEndian.PutUint16(b, uint16(x))
		return b, nil
	case uint32:
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, x)
		return b, nil
	case int32:
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, uint32(x))
		return b, nil
	case uint64:
		b := make([]byte, 8)
		binary.LittleEndian.PutUint64(b, x)
		return b, nil
	case int64:
		b := make([]byte, 8)
		binary.LittleEndian.PutUint64(b, uint64(x))
		return b, nil
	case float32:
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, math.Float32bits(x))
		return b, nil
	case float64:
		b := make([]byte, 8)
		binary.LittleEndian.PutUint64(b, math.Float64bits(x))
		return b, nil
	default:
		return nil, cmn.NewError(cmn.ErrParse, "rpc: unsupported argument type %T", v)
	}
}

// DecodeU8/DecodeU16/... parse a reply into the named fixed-width type,
// the typed-reply half of §4.4's `rpc_typed<A, R>` convenience layer.

func DecodeU8(b []byte) (uint8, error) {
	if len(b) < 1 {
		return 0, cmn.NewError(cmn.ErrRpcBadReply, "rpc: short reply for u8")
	}
	return b[0], nil
}

func DecodeI8(b []byte) (int8, error) {
	v, err := DecodeU8(b)
	return int8(v), err
}

func DecodeU16(b []byte) (uint16, error) {
	if len(b) < 2 {
		return 0, cmn.NewError(cmn.ErrRpcBadReply, "rpc: short reply for u16")
	}
	return binary.LittleEndian.Uint16(b), nil
}

func DecodeI16(b []byte) (int16, error) {
	v, err := DecodeU16(b)
	return int16(v), err
}

func DecodeU32(b []byte) (uint32, error) {
	if len(b) < 4 {
		return 0, cmn.NewError(cmn.ErrRpcBadReply, "rpc: short reply for u32")
	}
	return binary.LittleEndian.Uint32(b), nil
}

func DecodeI32(b []byte) (int32, error) {
	v, err := DecodeU32(b)
	return int32(v), err
}

func DecodeU64(b []byte) (uint64, error) {
	if len(b) < 8 {
		return 0, cmn.NewError(cmn.ErrRpcBadReply, "rpc: short reply for u64")
	}
	return binary.LittleEndian.Uint64(b), nil
}

func DecodeI64(b []byte) (int64, error) {
	v, err := DecodeU64(b)
	return int64(v), err
}

func DecodeF32(b []byte) (float32, error) {
	v, err := DecodeU32(b)
	return math.Float32frombits(v), err
}

func DecodeF64(b []byte) (float64, error) {
	v, err := DecodeU64(b)
	return math.Float64frombits(v), err
}

// CallTyped sends a typed argument and decodes the reply with decode,
// implementing §4.4's `rpc_typed<A, R>` in Go's idiom (no generics methods
// on Client, since argument and result types differ per call site).
func CallTyped[R any](ctx context.Context, c *Client, method string, arg any, decode func([]byte) (R, error)) (R, error) {
	var zero R
	raw, err := Encode(arg)
	if err != nil {
		return zero, err
	}
	reply, err := c.Call(ctx, method, raw)
	if err != nil {
		return zero, err
	}
	return decode(reply)
}
