// Package csv writes parsed samples to one CSV file per stream (§4.9's
// sibling CSV output path, spec.md §6). It is deliberately thin - the spec
// lists CSV writing as a collaborator, not part of the core - so this
// stays on the standard library rather than pulling in a CSV package none
// of the examples import for this purpose.
package csv

import (
	"fmt"
	"os"

	"github.com/twinleaf/tio/cmn"
	"github.com/twinleaf/tio/proto"
	"github.com/twinleaf/tio/stream"
)

// Writer appends samples to one file per stream, keyed by stream name,
// writing the header on first sample (§6).
type Writer struct {
	prefix  string
	files   map[string]*os.File
	headers map[string]bool
}

func NewWriter(prefix string) *Writer {
	return &Writer{prefix: prefix, files: map[string]*os.File{}, headers: map[string]bool{}}
}

// Write appends one sample to its stream's CSV file, opening and
// header-writing it on first use (§6).
func (w *Writer) Write(s *stream.Sample) error {
	name := s.Stream.Name
	f, ok := w.files[name]
	if !ok {
		path := fmt.Sprintf("%s.%s.csv", w.prefix, name)
		var err error
		f, err = os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return cmn.WrapError(cmn.ErrExport, err, "open %s", path)
		}
		w.files[name] = f
	}
	if !w.headers[name] {
		if _, err := f.WriteString(header(s)); err != nil {
			return cmn.WrapError(cmn.ErrExport, err, "write header for %s", name)
		}
		w.headers[name] = true
	}
	if _, err := f.WriteString(row(s)); err != nil {
		return cmn.WrapError(cmn.ErrExport, err, "write row for %s", name)
	}
	return nil
}

func header(s *stream.Sample) string {
	out := "time"
	for _, c := range s.Columns {
		out += "," + c.Desc.Name
	}
	return out + "\n"
}

func row(s *stream.Sample) string {
	out := fmt.Sprintf("%.6f", s.TimestampEnd())
	for _, c := range s.Columns {
		out += "," + columnString(c)
	}
	return out + "\n"
}

func columnString(c stream.ColumnValue) string {
	switch c.Kind {
	case proto.BufFloat:
		return fmt.Sprintf("%.6f", c.Float)
	case proto.BufInt:
		return fmt.Sprintf("%d", c.Int)
	default: // proto.BufUInt
		return fmt.Sprintf("%d", c.UInt)
	}
}

// Close flushes and closes every stream's file.
func (w *Writer) Close() error {
	var firstErr error
	for _, f := range w.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
