package csv_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	csvexp "github.com/twinleaf/tio/export/csv"
	"github.com/twinleaf/tio/proto"
	"github.com/twinleaf/tio/stream"
)

func TestWriterHeaderAndRow(t *testing.T) {
	dir := t.TempDir()
	prefix := filepath.Join(dir, "run1")
	w := csvexp.NewWriter(prefix)

	segment := &proto.SegmentMetadata{StreamID: 1, SamplingRate: 100, Decimation: 1, StartTime: 0, SampleNOffset: 0}
	streamMeta := &proto.StreamMetadata{StreamID: 1, Name: "vector", SampleSize: 4, NColumns: 1}
	col := &proto.ColumnMetadata{Index: 0, Name: "x", DataType: proto.DTypeF32}

	s := &stream.Sample{
		N: 0, Stream: streamMeta, Segment: segment,
		Columns: []stream.ColumnValue{{Desc: col, Kind: proto.BufFloat, Float: 1.5}},
	}
	if err := w.Write(s); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(prefix + ".vector.csv")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected header + 1 row, got %v", lines)
	}
	if lines[0] != "time,x" {
		t.Fatalf("unexpected header %q", lines[0])
	}
	if !strings.HasSuffix(lines[1], ",1.500000") {
		t.Fatalf("unexpected row %q", lines[1])
	}
}
