package hdf5_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/twinleaf/tio/export/hdf5"
	"github.com/twinleaf/tio/proto"
	"github.com/twinleaf/tio/stream"
)

func sample(n uint32, boundary *stream.Boundary) *stream.Sample {
	segment := &proto.SegmentMetadata{StreamID: 1, SamplingRate: 100, Decimation: 1, StartTime: 0, SampleNOffset: 0}
	streamMeta := &proto.StreamMetadata{StreamID: 1, Name: "vector", SampleSize: 4, NColumns: 1}
	device := &proto.DeviceMetadata{Serial: "TL-1", SessionID: 1, NStreams: 1}
	col := &proto.ColumnMetadata{Index: 0, Name: "x", Units: "m/s^2", DataType: proto.DTypeF32}
	return &stream.Sample{
		N: n, Device: device, Stream: streamMeta, Segment: segment,
		Columns:  []stream.ColumnValue{{Desc: col, Kind: proto.BufFloat, Float: float64(n)}},
		Boundary: boundary,
	}
}

func TestAppenderFlatLayout(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.h5")
	cfg := hdf5.DefaultConfig()
	a, err := hdf5.Create(path, cfg)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	route, _ := proto.NewRoute()
	key := stream.StreamKey{Route: route, StreamID: 1}

	init := stream.BoundaryInitial
	if err := a.WriteSample(key, sample(0, &stream.Boundary{Reason: init})); err != nil {
		t.Fatalf("WriteSample: %v", err)
	}
	for i := uint32(1); i < 10; i++ {
		if err := a.WriteSample(key, sample(i, nil)); err != nil {
			t.Fatalf("WriteSample: %v", err)
		}
	}

	stats, err := a.Finish()
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if stats.TotalSamples != 10 {
		t.Fatalf("expected 10 samples written, got %d", stats.TotalSamples)
	}
	if !stats.StreamsWritten["/vector"] {
		t.Fatalf("expected /vector in StreamsWritten, got %+v", stats.StreamsWritten)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Size() == 0 {
		t.Fatal("expected a non-empty output file")
	}
}

func TestAppenderSplitsOnDiscontinuity(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.h5")
	cfg := hdf5.DefaultConfig()
	cfg.SplitLevel = hdf5.SplitPerStream
	a, err := hdf5.Create(path, cfg)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	route, _ := proto.NewRoute()
	key := stream.StreamKey{Route: route, StreamID: 1}

	init := stream.BoundaryInitial
	gap := stream.BoundarySampleGap
	if err := a.WriteSample(key, sample(0, &stream.Boundary{Reason: init})); err != nil {
		t.Fatalf("WriteSample: %v", err)
	}
	if err := a.WriteSample(key, sample(1, nil)); err != nil {
		t.Fatalf("WriteSample: %v", err)
	}
	if err := a.WriteSample(key, sample(5, &stream.Boundary{Reason: gap})); err != nil {
		t.Fatalf("WriteSample (post-gap): %v", err)
	}

	stats, err := a.Finish()
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if stats.TotalSamples != 3 {
		t.Fatalf("expected 3 samples, got %d", stats.TotalSamples)
	}

	if _, err := os.Stat(path + ".runs.json"); err != nil {
		t.Fatalf("expected a run manifest sidecar: %v", err)
	}
}
