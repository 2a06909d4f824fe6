package hdf5

import (
	"fmt"
	"sort"
	"strings"

	"github.com/twinleaf/tio/cmn"
	"github.com/twinleaf/tio/filter"
	"github.com/twinleaf/tio/proto"
	"github.com/twinleaf/tio/stream"
)

// RunSplitLevel controls how runs are grouped in the output file (§4.7).
type RunSplitLevel int

const (
	SplitNone RunSplitLevel = iota
	SplitPerStream
	SplitPerDevice
	SplitGlobal
)

// SplitPolicy controls which boundary reasons trigger a flush+split
// (§4.7).
type SplitPolicy int

const (
	Continuous SplitPolicy = iota
	Monotonic
)

// triggersSplit reports whether a sample's boundary should flush+split
// the batch under policy (§4.7).
func triggersSplit(policy SplitPolicy, b *stream.Boundary) bool {
	if b == nil {
		return false
	}
	switch policy {
	case Monotonic:
		return b.Reason == stream.BoundaryTimeWentBackward
	default: // Continuous
		return !b.IsContinuous()
	}
}

// DefaultBatchSize is the chunk size for resizable datasets and the
// in-memory batching threshold (§4.7).
const DefaultBatchSize = 65536

// Config controls an Appender's output layout (§4.7).
type Config struct {
	SplitLevel  RunSplitLevel
	SplitPolicy SplitPolicy
	BatchSize   int
	Compress    bool
	Filter      *filter.ColumnFilter // nil: no filtering
}

func DefaultConfig() Config {
	return Config{SplitLevel: SplitNone, SplitPolicy: Continuous, BatchSize: DefaultBatchSize}
}

// ExportStats summarizes one Appender run, returned by Finish (§4.7).
type ExportStats struct {
	TotalSamples   uint64
	StartTime      float64
	EndTime        float64
	StreamsWritten map[string]bool
}

type pendingBatch struct {
	route      proto.Route
	streamName string
	sampleN    []uint32
	time       []float64
	cols       map[string][]float64 // widened to float64 for the writer; dtype selection happens at flush
	colOrder   []string
	colKind    map[string]dtype
	colDesc    map[string]*proto.ColumnMetadata
	segment    *proto.SegmentMetadata
	device     *proto.DeviceMetadata
	groupPath  string
}

// Appender batches parsed samples and writes them to an embedded
// HDF5-subset file, splitting runs per Config.SplitLevel/SplitPolicy
// (§4.7).
type Appender struct {
	cfg  Config
	c    *container
	runs *Manifest

	batches        map[stream.StreamKey]*pendingBatch
	runCounter     map[string]int
	groupAttrsDone map[string]bool
	dsAttrsDone    map[string]bool

	started bool
	stats   ExportStats
}

// Create opens path for writing and returns an Appender configured by cfg.
// When cfg.SplitLevel != SplitNone, a run manifest sidecar is written
// alongside path on Finish (§4.7's SUPPLEMENT run-manifest feature).
func Create(path string, cfg Config) (*Appender, error) {
	c, err := createContainer(path, cfg.Compress)
	if err != nil {
		return nil, err
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	a := &Appender{
		cfg:            cfg,
		c:              c,
		batches:        map[stream.StreamKey]*pendingBatch{},
		runCounter:     map[string]int{},
		groupAttrsDone: map[string]bool{},
		dsAttrsDone:    map[string]bool{},
		stats:          ExportStats{StreamsWritten: map[string]bool{}},
	}
	if cfg.SplitLevel != SplitNone {
		a.runs = newManifest(path)
	}
	return a, nil
}

func runScopeKey(level RunSplitLevel, key stream.StreamKey) string {
	switch level {
	case SplitPerStream:
		return fmt.Sprintf("%s#%d", key.Route.String(), key.StreamID)
	case SplitPerDevice:
		return key.Route.String()
	case SplitGlobal:
		return "global"
	default:
		return ""
	}
}

func groupPath(level RunSplitLevel, route proto.Route, streamName string, runID int) string {
	var seg []string
	routeSeg := route.Indices()
	routeStr := make([]string, len(routeSeg))
	for i, idx := range routeSeg {
		routeStr[i] = fmt.Sprintf("%d", idx)
	}
	runLabel := fmt.Sprintf("run_%06d", runID)

	switch level {
	case SplitPerStream:
		seg = append(seg, routeStr...)
		seg = append(seg, streamName, runLabel)
	case SplitPerDevice:
		seg = append(seg, routeStr...)
		seg = append(seg, runLabel, streamName)
	case SplitGlobal:
		seg = append(seg, runLabel)
		seg = append(seg, routeStr...)
		seg = append(seg, streamName)
	default: // SplitNone
		seg = append(seg, routeStr...)
		seg = append(seg, streamName)
	}
	return "/" + strings.Join(seg, "/")
}

// WriteSample appends one parsed sample to the batch for key, flushing and
// splitting first if its boundary triggers a discontinuity under the
// configured policy (§4.7).
func (a *Appender) WriteSample(key stream.StreamKey, s *stream.Sample) error {
	b, ok := a.batches[key]
	if !ok {
		b = a.newBatch(key, s)
		a.batches[key] = b
	} else if triggersSplit(a.cfg.SplitPolicy, s.Boundary) {
		if err := a.flush(key, b); err != nil {
			return err
		}
		if a.cfg.SplitLevel != SplitNone {
			a.runCounter[runScopeKey(a.cfg.SplitLevel, key)]++
		}
		b = a.newBatch(key, s)
		a.batches[key] = b
	}

	b.sampleN = append(b.sampleN, s.N)
	b.time = append(b.time, s.TimestampEnd())
	for _, c := range s.Columns {
		if a.cfg.Filter != nil && !a.cfg.Filter.Matches(key.Route, b.streamName, c.Desc.Name) {
			continue
		}
		b.cols[c.Desc.Name] = append(b.cols[c.Desc.Name], widenToFloat(c))
	}

	if len(b.sampleN) >= a.cfg.BatchSize {
		if err := a.flush(key, b); err != nil {
			return err
		}
		a.batches[key] = a.newBatch(key, s)
	}
	return nil
}

func widenToFloat(c stream.ColumnValue) float64 {
	switch c.Kind {
	case proto.BufInt:
		return float64(c.Int)
	case proto.BufUInt:
		return float64(c.UInt)
	default:
		return c.Float
	}
}

func (a *Appender) newBatch(key stream.StreamKey, s *stream.Sample) *pendingBatch {
	runID := a.runCounter[runScopeKey(a.cfg.SplitLevel, key)]
	b := &pendingBatch{
		route:      key.Route,
		streamName: s.Stream.Name,
		cols:       map[string][]float64{},
		colKind:    map[string]dtype{},
		colDesc:    map[string]*proto.ColumnMetadata{},
		segment:    s.Segment,
		device:     s.Device,
		groupPath:  groupPath(a.cfg.SplitLevel, key.Route, s.Stream.Name, runID),
	}
	for _, c := range s.Columns {
		if a.cfg.Filter != nil && !a.cfg.Filter.Matches(key.Route, s.Stream.Name, c.Desc.Name) {
			continue
		}
		b.colOrder = append(b.colOrder, c.Desc.Name)
		b.colKind[c.Desc.Name] = bufferDtype(c.Kind)
		b.colDesc[c.Desc.Name] = c.Desc
	}
	return b
}

func bufferDtype(k proto.BufferType) dtype {
	switch k {
	case proto.BufInt:
		return dtypeI64
	case proto.BufUInt:
		return dtypeU64
	default:
		return dtypeF64
	}
}

// flush writes a batch's accumulated rows as chunks, writing group/dataset
// attributes first if this is their first chunk (§4.7).
func (a *Appender) flush(key stream.StreamKey, b *pendingBatch) error {
	if len(b.sampleN) == 0 {
		return nil
	}
	if !a.groupAttrsDone[b.groupPath] {
		if err := a.c.writeGroupAttrs(b.groupPath, groupAttrs(b, a.cfg.SplitLevel, b.groupPath)); err != nil {
			return cmn.WrapError(cmn.ErrExport, err, "group attrs %s", b.groupPath)
		}
		a.groupAttrsDone[b.groupPath] = true
	}

	if err := a.writeDataset(b.groupPath, "sample_number", dtypeU32, u32Bytes(b.sampleN), nil); err != nil {
		return err
	}
	if err := a.writeDataset(b.groupPath, "time", dtypeF64, f64Bytes(b.time), nil); err != nil {
		return err
	}
	for _, name := range b.colOrder {
		attrs := datasetAttrs(b.colDesc[name])
		if err := a.writeDataset(b.groupPath, name, b.colKind[name], f64BytesAsDtype(b.cols[name], b.colKind[name]), attrs); err != nil {
			return err
		}
	}

	a.stats.TotalSamples += uint64(len(b.sampleN))
	if !a.started || b.time[0] < a.stats.StartTime {
		a.stats.StartTime = b.time[0]
	}
	if !a.started || b.time[len(b.time)-1] > a.stats.EndTime {
		a.stats.EndTime = b.time[len(b.time)-1]
	}
	a.started = true
	a.stats.StreamsWritten[key.Route.PathString()+"/"+b.streamName] = true

	if a.runs != nil {
		a.runs.record(b.groupPath, key.Route, b.streamName, b.sampleN[0], b.sampleN[len(b.sampleN)-1], b.time[0], b.time[len(b.time)-1])
	}

	b.sampleN, b.time = nil, nil
	for k := range b.cols {
		b.cols[k] = nil
	}
	return nil
}

func (a *Appender) writeDataset(groupPath, name string, dt dtype, raw []byte, attrs []attr) error {
	key := groupPath + "/" + name
	if !a.dsAttrsDone[key] {
		if err := a.c.writeDatasetAttrs(groupPath, name, dt, attrs); err != nil {
			return cmn.WrapError(cmn.ErrExport, err, "dataset attrs %s", key)
		}
		a.dsAttrsDone[key] = true
	}
	if err := a.c.writeChunk(groupPath, name, dt, raw); err != nil {
		return cmn.WrapError(cmn.ErrExport, err, "chunk %s", key)
	}
	return nil
}

// groupAttrs builds the per-group attribute set written once per run
// (§4.7): sampling_rate, decimation, start_time, filter_cutoff,
// session_id, time_ref_epoch, filter_type, time_ref_serial (if
// non-empty), run_id (when split_level != None).
func groupAttrs(b *pendingBatch, level RunSplitLevel, path string) []attr {
	out := []attr{
		{Key: "sampling_rate", Num: b.segment.SamplingRate},
		{Key: "decimation", Num: float64(b.segment.Decimation)},
		{Key: "start_time", Num: b.segment.StartTime},
		{Key: "filter_cutoff", Num: b.segment.FilterCutoff},
		{Key: "filter_type", Num: float64(b.segment.FilterType)},
		{Key: "time_ref_epoch", Num: float64(b.segment.TimeRefEpoch)},
	}
	if b.device != nil {
		out = append(out, attr{Key: "session_id", Num: float64(b.device.SessionID)})
	}
	if b.segment.TimeRefSerial != "" {
		out = append(out, attr{Key: "time_ref_serial", Str: b.segment.TimeRefSerial, IsStr: true})
	}
	if level != SplitNone {
		out = append(out, attr{Key: "run_id", Str: path, IsStr: true})
	}
	return out
}

// datasetAttrs builds a column's per-dataset attributes: units and
// description, each only when non-empty (§4.7).
func datasetAttrs(c *proto.ColumnMetadata) []attr {
	var out []attr
	if c == nil {
		return out
	}
	if c.Units != "" {
		out = append(out, attr{Key: "units", Str: c.Units, IsStr: true})
	}
	if c.Description != "" {
		out = append(out, attr{Key: "description", Str: c.Description, IsStr: true})
	}
	return out
}

// Finish flushes every pending batch, closes the file (and the run
// manifest sidecar, if any), and returns accumulated stats (§4.7).
func (a *Appender) Finish() (ExportStats, error) {
	keys := make([]stream.StreamKey, 0, len(a.batches))
	for key := range a.batches {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if c := keys[i].Route.Compare(keys[j].Route); c != 0 {
			return c < 0
		}
		return keys[i].StreamID < keys[j].StreamID
	})
	for _, key := range keys {
		if err := a.flush(key, a.batches[key]); err != nil {
			return a.stats, err
		}
	}
	if err := a.c.close(); err != nil {
		return a.stats, err
	}
	if a.runs != nil {
		if err := a.runs.write(); err != nil {
			return a.stats, err
		}
	}
	return a.stats, nil
}
