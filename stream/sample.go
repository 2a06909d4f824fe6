// Package stream reassembles typed samples from raw StreamData packets
// plus separately-delivered metadata, emitting boundary events at
// discontinuities (§4.6).
package stream

import (
	"github.com/twinleaf/tio/proto"
)

// StreamKey identifies one stream on one device in the tree, used as the
// map key for the HDF5 appender's per-stream batches (§4.7). The parser
// keys its per-stream state by stream id alone.
type StreamKey struct {
	Route    proto.Route
	StreamID uint8
}

func (k StreamKey) String() string { return k.Route.PathString() + "#" + string(rune('0'+k.StreamID)) }

// BoundaryReason classifies why a Sample carries a Boundary (§3).
type BoundaryReason int

const (
	BoundaryInitial BoundaryReason = iota
	BoundarySessionChanged
	BoundaryStreamMetadataChanged
	BoundarySegmentChanged
	BoundaryColumnDescChanged
	BoundaryTimeWentBackward
	BoundarySampleGap
)

func (r BoundaryReason) String() string {
	switch r {
	case BoundaryInitial:
		return "Initial"
	case BoundarySessionChanged:
		return "SessionChanged"
	case BoundaryStreamMetadataChanged:
		return "StreamMetadataChanged"
	case BoundarySegmentChanged:
		return "SegmentChanged"
	case BoundaryColumnDescChanged:
		return "ColumnDescChanged"
	case BoundaryTimeWentBackward:
		return "TimeWentBackward"
	case BoundarySampleGap:
		return "SampleGap"
	default:
		return "Unknown"
	}
}

// Boundary marks a transition point in a stream's sample sequence (§3).
type Boundary struct {
	Reason BoundaryReason
}

// IsContinuous is true iff the transition requires no consumer-visible
// reset of accumulated state (§3).
func (b Boundary) IsContinuous() bool {
	return b.Reason == BoundaryInitial || b.Reason == BoundaryColumnDescChanged
}

// IsMonotonic is true iff the transition did not move time backward (§3).
func (b Boundary) IsMonotonic() bool { return b.Reason != BoundaryTimeWentBackward }

// ColumnValue holds one column's decoded value, widened to its buffer
// type (§3, §4.6).
type ColumnValue struct {
	Desc  *proto.ColumnMetadata
	Float float64
	Int   int64
	UInt  uint64
	Kind  proto.BufferType
}

// Sample is the parser's unit of output: one decoded row of a stream,
// with shared (pointer) references into the metadata that described it
// and an optional Boundary if this sample begins a new run (§3).
type Sample struct {
	N        uint32
	Device   *proto.DeviceMetadata
	Stream   *proto.StreamMetadata
	Segment  *proto.SegmentMetadata
	Columns  []ColumnValue
	Source   proto.StreamData
	Boundary *Boundary
}

// TimestampEnd computes the timestamp of the end of sample N, per §3.
func (s *Sample) TimestampEnd() float64 {
	n := float64(s.N) + 1 - float64(s.Segment.SampleNOffset)
	return s.Segment.StartTime + n*float64(s.Segment.Decimation)/s.Segment.SamplingRate
}

// IsContinuous and IsMonotonic proxy to the sample's boundary, treating a
// boundary-less sample (mid-batch, no discontinuity) as both (§4.7).
func (s *Sample) IsContinuous() bool {
	return s.Boundary == nil || s.Boundary.IsContinuous()
}

func (s *Sample) IsMonotonic() bool {
	return s.Boundary == nil || s.Boundary.IsMonotonic()
}
