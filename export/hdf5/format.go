// Package hdf5 is an embedded HDF5-subset writer: a group tree of chunked,
// resizable 1-D datasets with scalar/string attributes, grounded on §4.7.
// No HDF5 C binding appears anywhere in the retrieved example pack, so
// this reimplements the subset of the format this tool needs (groups,
// chunked append-only datasets, attributes) as a simple tagged-block file
// over encoding/binary rather than linking a library that isn't part of
// this codebase's dependency surface - see DESIGN.md.
package hdf5

import (
	"bufio"
	"encoding/binary"
	"io"
	"math"
	"os"

	"github.com/klauspost/compress/zstd"
	"github.com/twinleaf/tio/cmn"
)

// block tags, one byte each.
const (
	tagGroupAttrs   byte = 'G'
	tagDatasetAttrs byte = 'D'
	tagChunk        byte = 'C'
)

const magic = "TLH5"
const formatVersion = 1

// dtype tags mirror proto.BufferType plus a width, so a dataset's element
// size is self-describing without referring back to the source column.
type dtype byte

const (
	dtypeF64 dtype = iota
	dtypeI64
	dtypeU64
	dtypeU32 // sample_number column
)

func (d dtype) size() int {
	switch d {
	case dtypeU32:
		return 4
	default:
		return 8
	}
}

// container is the low-level tagged-block writer. One container backs one
// output file; Appender builds on it.
type container struct {
	f    *os.File
	w    *bufio.Writer
	zenc *zstd.Encoder
}

func createContainer(path string, compress bool) (*container, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, cmn.WrapError(cmn.ErrExport, err, "create %s", path)
	}
	c := &container{f: f, w: bufio.NewWriter(f)}
	if _, err := c.w.WriteString(magic); err != nil {
		f.Close()
		return nil, cmn.WrapError(cmn.ErrExport, err, "write header")
	}
	if err := c.w.WriteByte(formatVersion); err != nil {
		f.Close()
		return nil, cmn.WrapError(cmn.ErrExport, err, "write header")
	}
	if compress {
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			f.Close()
			return nil, cmn.WrapError(cmn.ErrExport, err, "init zstd encoder")
		}
		c.zenc = enc
	}
	return c, nil
}

func writeString(w io.Writer, s string) error {
	var lenBuf [2]byte
	binary.LittleEndian.PutUint16(lenBuf[:], uint16(len(s)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

// attr is a scalar or string attribute value (§4.7: sampling_rate,
// decimation, start_time, ..., units, description).
type attr struct {
	Key string
	Str string  // used when IsStr
	Num float64 // used otherwise
	IsStr bool
}

func writeAttrs(w io.Writer, attrs []attr) error {
	var countBuf [2]byte
	binary.LittleEndian.PutUint16(countBuf[:], uint16(len(attrs)))
	if _, err := w.Write(countBuf[:]); err != nil {
		return err
	}
	for _, a := range attrs {
		if err := writeString(w, a.Key); err != nil {
			return err
		}
		if a.IsStr {
			if _, err := w.Write([]byte{1}); err != nil {
				return err
			}
			if err := writeString(w, a.Str); err != nil {
				return err
			}
			continue
		}
		if _, err := w.Write([]byte{0}); err != nil {
			return err
		}
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(a.Num))
		if _, err := w.Write(buf[:]); err != nil {
			return err
		}
	}
	return nil
}

// writeGroupAttrs records a group's attributes, written once on the first
// chunk of a run (§4.7).
func (c *container) writeGroupAttrs(path string, attrs []attr) error {
	if err := c.w.WriteByte(tagGroupAttrs); err != nil {
		return err
	}
	if err := writeString(c.w, path); err != nil {
		return err
	}
	return writeAttrs(c.w, attrs)
}

// writeDatasetAttrs records one dataset's shape/attributes, written once
// before its first chunk (§4.7).
func (c *container) writeDatasetAttrs(groupPath, name string, dt dtype, attrs []attr) error {
	if err := c.w.WriteByte(tagDatasetAttrs); err != nil {
		return err
	}
	if err := writeString(c.w, groupPath); err != nil {
		return err
	}
	if err := writeString(c.w, name); err != nil {
		return err
	}
	if err := c.w.WriteByte(byte(dt)); err != nil {
		return err
	}
	return writeAttrs(c.w, attrs)
}

// writeChunk appends one resizable-dataset chunk (§4.7): raw holds
// little-endian values of dt's width, count of them.
func (c *container) writeChunk(groupPath, name string, dt dtype, raw []byte) error {
	if err := c.w.WriteByte(tagChunk); err != nil {
		return err
	}
	if err := writeString(c.w, groupPath); err != nil {
		return err
	}
	if err := writeString(c.w, name); err != nil {
		return err
	}
	payload := raw
	compressed := byte(0)
	if c.zenc != nil {
		payload = c.zenc.EncodeAll(raw, nil)
		compressed = 1
	}
	if err := c.w.WriteByte(compressed); err != nil {
		return err
	}
	var countBuf [4]byte
	binary.LittleEndian.PutUint32(countBuf[:], uint32(len(raw)/dt.size()))
	if _, err := c.w.Write(countBuf[:]); err != nil {
		return err
	}
	var sizeBuf [4]byte
	binary.LittleEndian.PutUint32(sizeBuf[:], uint32(len(payload)))
	if _, err := c.w.Write(sizeBuf[:]); err != nil {
		return err
	}
	_, err := c.w.Write(payload)
	return err
}

func (c *container) close() error {
	if err := c.w.Flush(); err != nil {
		c.f.Close()
		return cmn.WrapError(cmn.ErrExport, err, "flush container")
	}
	if c.zenc != nil {
		c.zenc.Close()
	}
	return c.f.Close()
}
