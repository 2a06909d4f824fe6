package hdf5

import (
	"encoding/binary"
	"math"
)

func u32Bytes(vs []uint32) []byte {
	out := make([]byte, len(vs)*4)
	for i, v := range vs {
		binary.LittleEndian.PutUint32(out[i*4:], v)
	}
	return out
}

func f64Bytes(vs []float64) []byte {
	out := make([]byte, len(vs)*8)
	for i, v := range vs {
		binary.LittleEndian.PutUint64(out[i*8:], math.Float64bits(v))
	}
	return out
}

// f64BytesAsDtype re-narrows a column's widened-to-float64 accumulator
// back to its declared buffer type's wire width before it's written,
// since BufInt/BufUInt/BufFloat are all 8 bytes on the wire in this
// writer's dataset encoding (§4.7).
func f64BytesAsDtype(vs []float64, dt dtype) []byte {
	out := make([]byte, len(vs)*8)
	for i, v := range vs {
		var bits uint64
		switch dt {
		case dtypeI64:
			bits = uint64(int64(v))
		case dtypeU64:
			bits = uint64(v)
		default:
			bits = math.Float64bits(v)
		}
		binary.LittleEndian.PutUint64(out[i*8:], bits)
	}
	return out
}
