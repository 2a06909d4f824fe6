package proto

// DataType is the wire-level column encoding (§3); it widens to one of
// three logical BufferTypes for sample storage and HDF5 export.
type DataType uint8

const (
	DTypeU8 DataType = iota
	DTypeU16
	DTypeU32
	DTypeU64
	DTypeI8
	DTypeI16
	DTypeI32
	DTypeI64
	DTypeF32
	DTypeF64
)

// BufferType is the logical value type a Sample column widens to.
type BufferType int

const (
	BufFloat BufferType = iota
	BufInt
	BufUInt
)

func (d DataType) BufferType() BufferType {
	switch d {
	case DTypeF32, DTypeF64:
		return BufFloat
	case DTypeI8, DTypeI16, DTypeI32, DTypeI64:
		return BufInt
	default:
		return BufUInt
	}
}

// Size returns the wire width of one value of this type, in bytes.
func (d DataType) Size() int {
	switch d {
	case DTypeU8, DTypeI8:
		return 1
	case DTypeU16, DTypeI16:
		return 2
	case DTypeU32, DTypeI32, DTypeF32:
		return 4
	case DTypeU64, DTypeI64, DTypeF64:
		return 8
	default:
		return 0
	}
}

func (d DataType) String() string {
	names := [...]string{"u8", "u16", "u32", "u64", "i8", "i16", "i32", "i64", "f32", "f64"}
	if int(d) < len(names) {
		return names[d]
	}
	return "unknown"
}

// TimeRefEpoch identifies what a segment's start_time is measured from.
type TimeRefEpoch uint8

const (
	EpochUnknown TimeRefEpoch = iota
	EpochUnixUTC
	EpochSensorStartup
	EpochOther
)

// FilterType identifies the anti-alias/decimation filter applied upstream
// of a segment's samples.
type FilterType uint8

const (
	FilterNone FilterType = iota
	FilterIIRButterworth
	FilterFIRSinc
	FilterOther
)

// DeviceMetadata identifies one device instance and its session. A change
// in SessionID is a hard discontinuity for every stream on the device
// (§3, §4.6).
type DeviceMetadata struct {
	Serial    string
	Firmware  string
	SessionID uint32
	NStreams  uint8
}

func (d *DeviceMetadata) Equal(o *DeviceMetadata) bool {
	if d == nil || o == nil {
		return d == o
	}
	return d.Serial == o.Serial && d.Firmware == o.Firmware &&
		d.SessionID == o.SessionID && d.NStreams == o.NStreams
}

// StreamMetadata describes one periodic measurement channel (§3).
type StreamMetadata struct {
	StreamID     uint8
	Name         string
	SampleSize   uint16
	NColumns     uint8
	TotalSamples uint64
}

// StructurallyEqual reports whether two StreamMetadata describe the same
// shape (name, n_columns, sample_size) - a change here resets a stream's
// column table and marks StreamMetadataChanged (§4.6).
func (s *StreamMetadata) StructurallyEqual(o *StreamMetadata) bool {
	if s == nil || o == nil {
		return s == o
	}
	return s.Name == o.Name && s.NColumns == o.NColumns && s.SampleSize == o.SampleSize
}

// SegmentMetadata describes the timing/filter parameters of a run of
// samples within a stream (§3).
type SegmentMetadata struct {
	StreamID      uint8
	SamplingRate  float64
	Decimation    uint32
	FilterCutoff  float64
	FilterType    FilterType
	TimeRefEpoch  TimeRefEpoch
	TimeRefSerial string
	StartTime     float64
	SampleNOffset uint32
}

func (s *SegmentMetadata) Equal(o *SegmentMetadata) bool {
	if s == nil || o == nil {
		return s == o
	}
	return *s == *o
}

// ColumnMetadata describes one column of a stream (§3).
type ColumnMetadata struct {
	Index       uint8
	Name        string
	Units       string
	Description string
	DataType    DataType
}

func (c *ColumnMetadata) Equal(o *ColumnMetadata) bool {
	if c == nil || o == nil {
		return c == o
	}
	return *c == *o
}
