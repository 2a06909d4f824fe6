package stream

import (
	"encoding/binary"
	"math"
	"sort"

	"github.com/twinleaf/tio/cmn"
	"github.com/twinleaf/tio/proto"
)

// boundary priority, highest first - only one reason is ever attached to
// a given sample, so when several metadata changes land between two
// emitted samples the most structurally significant one wins (§4.6).
const (
	rankInitial = iota
	rankSessionChanged
	rankStreamMetaChanged
	rankSegmentChanged
	rankColumnDescChanged
	rankNone = 99
)

func rankOf(r BoundaryReason) int {
	switch r {
	case BoundaryInitial:
		return rankInitial
	case BoundarySessionChanged:
		return rankSessionChanged
	case BoundaryStreamMetadataChanged:
		return rankStreamMetaChanged
	case BoundarySegmentChanged:
		return rankSegmentChanged
	case BoundaryColumnDescChanged:
		return rankColumnDescChanged
	default:
		return rankNone
	}
}

type streamState struct {
	streamID   uint8
	meta       *proto.StreamMetadata
	segment    *proto.SegmentMetadata
	columns    []*proto.ColumnMetadata // indexed by column index, nil until set
	everHot    bool
	hasLastN   bool
	lastN      uint32
	hasLastTS  bool
	lastTS     float64
	pending    *BoundaryReason
}

func (s *streamState) upgrade(reason BoundaryReason) {
	if s.pending == nil || rankOf(reason) < rankOf(*s.pending) {
		r := reason
		s.pending = &r
	}
}

// hot reports whether the stream holds StreamMetadata, SegmentMetadata,
// and every declared column's ColumnMetadata (§4.6).
func (s *streamState) hot() bool {
	if s.meta == nil || s.segment == nil {
		return false
	}
	if len(s.columns) != int(s.meta.NColumns) {
		return false
	}
	for _, c := range s.columns {
		if c == nil {
			return false
		}
	}
	return true
}

// DeviceDataParser is a per-device state machine turning Packets into
// Samples (§4.6). It is single-threaded: it runs on the caller's
// goroutine and never suspends on I/O (§5).
type DeviceDataParser struct {
	ignoreSession bool
	device        *proto.DeviceMetadata
	streams       map[uint8]*streamState

	// ColumnMetadata carries no stream_id of its own (§3: `{ index, name,
	// units, description, data_type }`), so it is associated with a stream
	// via the route it arrived on instead - routeStream records the last
	// stream_id seen (from StreamMetadata, SegmentMetadata, or StreamData)
	// on each route.
	routeStream map[string]uint8
}

func NewDeviceDataParser(ignoreSession bool) *DeviceDataParser {
	return &DeviceDataParser{
		ignoreSession: ignoreSession,
		streams:       map[uint8]*streamState{},
		routeStream:   map[string]uint8{},
	}
}

// StreamSnapshot is one stream's fully-discovered metadata, as exposed by
// Snapshot for device discovery (§4.5).
type StreamSnapshot struct {
	Meta    proto.StreamMetadata
	Segment proto.SegmentMetadata
	Columns []proto.ColumnMetadata
}

// Snapshot returns the device's latest metadata and every hot stream's
// discovered metadata, ordered by stream id (§4.5). Streams that are not
// yet hot are omitted, since Device.Open's discovery loop is waiting on
// exactly that.
func (p *DeviceDataParser) Snapshot() (*proto.DeviceMetadata, []StreamSnapshot) {
	ids := make([]uint8, 0, len(p.streams))
	for id, s := range p.streams {
		if s.hot() {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]StreamSnapshot, 0, len(ids))
	for _, id := range ids {
		s := p.streams[id]
		cols := make([]proto.ColumnMetadata, len(s.columns))
		for i, c := range s.columns {
			cols[i] = *c
		}
		out = append(out, StreamSnapshot{Meta: *s.meta, Segment: *s.segment, Columns: cols})
	}
	return p.device, out
}

func (p *DeviceDataParser) stateFor(id uint8) *streamState {
	s, ok := p.streams[id]
	if !ok {
		s = &streamState{streamID: id, columns: nil}
		p.streams[id] = s
	}
	return s
}

// Handle consumes one packet and returns zero or more decoded Samples, in
// the order the wire data implies.
func (p *DeviceDataParser) Handle(pkt proto.Packet) ([]*Sample, error) {
	route := pkt.Routing.String()
	switch v := pkt.Payload.(type) {
	case proto.DeviceMetadataPayload:
		p.handleDeviceMetadata(v.DeviceMetadata)
		return nil, nil
	case proto.StreamMetadataPayload:
		p.routeStream[route] = v.StreamID
		p.handleStreamMetadata(v.StreamMetadata)
		return nil, nil
	case proto.SegmentMetadataPayload:
		p.routeStream[route] = v.StreamID
		p.handleSegmentMetadata(v.SegmentMetadata)
		return nil, nil
	case proto.ColumnMetadataPayload:
		if id, ok := p.routeStream[route]; ok {
			p.installColumn(id, v.ColumnMetadata)
		}
		return nil, nil
	case proto.StreamData:
		p.routeStream[route] = v.StreamID
		return p.handleStreamData(v)
	default:
		return nil, nil
	}
}

func (p *DeviceDataParser) handleDeviceMetadata(m proto.DeviceMetadata) {
	changed := p.device != nil && p.device.SessionID != m.SessionID
	p.device = &m
	if changed && !p.ignoreSession {
		for _, s := range p.streams {
			if s.everHot {
				s.upgrade(BoundarySessionChanged)
			}
		}
	}
}

func (p *DeviceDataParser) handleStreamMetadata(m proto.StreamMetadata) {
	s := p.stateFor(m.StreamID)
	if s.meta != nil && !s.meta.StructurallyEqual(&m) {
		s.columns = nil
		if s.everHot {
			s.upgrade(BoundaryStreamMetadataChanged)
		}
	}
	mc := m
	s.meta = &mc
	if s.columns == nil {
		s.columns = make([]*proto.ColumnMetadata, m.NColumns)
	}
}

func (p *DeviceDataParser) handleSegmentMetadata(m proto.SegmentMetadata) {
	s := p.stateFor(m.StreamID)
	if s.segment != nil && !s.segment.Equal(&m) {
		if s.everHot {
			s.upgrade(BoundarySegmentChanged)
		}
	}
	mc := m
	s.segment = &mc
}

// installColumn associates ColumnMetadata m with stream streamID, as
// resolved from the route it arrived on (§4.6).
func (p *DeviceDataParser) installColumn(streamID uint8, m proto.ColumnMetadata) {
	s := p.stateFor(streamID)
	if s.columns == nil || int(m.Index) >= len(s.columns) {
		return
	}
	prev := s.columns[m.Index]
	if prev != nil && !prev.Equal(&m) {
		if s.everHot {
			s.upgrade(BoundaryColumnDescChanged)
		}
	}
	mc := m
	s.columns[m.Index] = &mc
}

func (p *DeviceDataParser) handleStreamData(d proto.StreamData) ([]*Sample, error) {
	s := p.stateFor(d.StreamID)
	if !s.hot() {
		return nil, nil
	}

	sampleSize := int(s.meta.SampleSize)
	if sampleSize <= 0 {
		return nil, cmn.NewError(cmn.ErrMetadata, "stream %d has zero sample_size", d.StreamID)
	}
	n := len(d.Payload) / sampleSize
	if n == 0 {
		return nil, nil
	}

	wasHot := s.everHot
	s.everHot = true

	samples := make([]*Sample, 0, n)
	for i := 0; i < n; i++ {
		sampleN := d.FirstSampleN + uint32(i)
		cols, err := decodeColumns(s.columns, d.Payload[i*sampleSize:(i+1)*sampleSize])
		if err != nil {
			return samples, err
		}
		sample := &Sample{N: sampleN, Device: p.device, Stream: s.meta, Segment: s.segment, Columns: cols, Source: d}

		var reason *BoundaryReason
		if i == 0 {
			reason = p.firstSampleBoundary(s, wasHot, sample, sampleN)
		}
		if reason != nil {
			b := Boundary{Reason: *reason}
			sample.Boundary = &b
		}

		s.hasLastN, s.lastN = true, sampleN
		ts := sample.TimestampEnd()
		s.hasLastTS, s.lastTS = true, ts

		samples = append(samples, sample)
	}
	s.pending = nil
	return samples, nil
}

func (p *DeviceDataParser) firstSampleBoundary(s *streamState, wasHot bool, sample *Sample, sampleN uint32) *BoundaryReason {
	if !wasHot {
		r := BoundaryInitial
		return &r
	}
	if s.pending != nil {
		r := *s.pending
		return &r
	}
	if s.hasLastN && sampleN != s.lastN+1 {
		r := BoundarySampleGap
		return &r
	}
	if s.hasLastTS && sample.TimestampEnd() < s.lastTS {
		r := BoundaryTimeWentBackward
		return &r
	}
	return nil
}

func decodeColumns(cols []*proto.ColumnMetadata, raw []byte) ([]ColumnValue, error) {
	out := make([]ColumnValue, len(cols))
	off := 0
	for i, c := range cols {
		if c == nil {
			return nil, cmn.NewError(cmn.ErrMetadata, "column %d missing metadata", i)
		}
		w := c.DataType.Size()
		if off+w > len(raw) {
			return nil, cmn.NewError(cmn.ErrParse, "sample payload too short for column %d", i)
		}
		v := decodeOne(c.DataType, raw[off:off+w])
		v.Desc = c
		out[i] = v
		off += w
	}
	return out, nil
}

func decodeOne(dt proto.DataType, b []byte) ColumnValue {
	switch dt {
	case proto.DTypeU8:
		return ColumnValue{Kind: proto.BufUInt, UInt: uint64(b[0])}
	case proto.DTypeU16:
		return ColumnValue{Kind: proto.BufUInt, UInt: uint64(binary.LittleEndian.Uint16(b))}
	case proto.DTypeU32:
		return ColumnValue{Kind: proto.BufUInt, UInt: uint64(binary.LittleEndian.Uint32(b))}
	case proto.DTypeU64:
		return ColumnValue{Kind: proto.BufUInt, UInt: binary.LittleEndian.Uint64(b)}
	case proto.DTypeI8:
		return ColumnValue{Kind: proto.BufInt, Int: int64(int8(b[0]))}
	case proto.DTypeI16:
		return ColumnValue{Kind: proto.BufInt, Int: int64(int16(binary.LittleEndian.Uint16(b)))}
	case proto.DTypeI32:
		return ColumnValue{Kind: proto.BufInt, Int: int64(int32(binary.LittleEndian.Uint32(b)))}
	case proto.DTypeI64:
		return ColumnValue{Kind: proto.BufInt, Int: int64(binary.LittleEndian.Uint64(b))}
	case proto.DTypeF32:
		return ColumnValue{Kind: proto.BufFloat, Float: float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))}
	case proto.DTypeF64:
		return ColumnValue{Kind: proto.BufFloat, Float: math.Float64frombits(binary.LittleEndian.Uint64(b))}
	default:
		return ColumnValue{}
	}
}
