package hdf5

import (
	"os"

	jsoniter "github.com/json-iterator/go"

	"github.com/twinleaf/tio/cmn"
	"github.com/twinleaf/tio/proto"
)

// runEntry is one flushed run's boundary record, the SUPPLEMENT run
// manifest sidecar described in SPEC_FULL.md (grounded on the original
// tool's `<path>.runs.json` companion to HDF5 exports with split_level !=
// None, for quick jq-based inspection without opening the container).
type runEntry struct {
	Group        string  `json:"group"`
	Route        string  `json:"route"`
	Stream       string  `json:"stream"`
	StartSampleN uint32  `json:"start_sample_n"`
	EndSampleN   uint32  `json:"end_sample_n"`
	StartTime    float64 `json:"start_time"`
	EndTime      float64 `json:"end_time"`
}

// Manifest accumulates run boundary entries and writes them to
// <path>.runs.json on Finish.
type Manifest struct {
	path    string
	entries []runEntry
}

func newManifest(hdf5Path string) *Manifest {
	return &Manifest{path: hdf5Path + ".runs.json"}
}

func (m *Manifest) record(group string, route proto.Route, streamName string, startN, endN uint32, startTime, endTime float64) {
	m.entries = append(m.entries, runEntry{
		Group: group, Route: route.String(), Stream: streamName,
		StartSampleN: startN, EndSampleN: endN,
		StartTime: startTime, EndTime: endTime,
	})
}

func (m *Manifest) write() error {
	data, err := jsoniter.MarshalIndent(m.entries, "", "  ")
	if err != nil {
		return cmn.WrapError(cmn.ErrExport, err, "marshal run manifest")
	}
	if err := os.WriteFile(m.path, data, 0o644); err != nil {
		return cmn.WrapError(cmn.ErrExport, err, "write %s", m.path)
	}
	return nil
}
