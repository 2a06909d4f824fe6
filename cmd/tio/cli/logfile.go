package cli

import (
	"bufio"
	"io"
	"os"

	"github.com/twinleaf/tio/cmn"
	"github.com/twinleaf/tio/proto"
)

// logWriter appends wire-serialized packets to a capture file. Frames are
// self-delimiting (proto.Deserialize), so concatenated Serialize output is
// itself a valid, replayable capture with no extra container framing.
type logWriter struct {
	f *os.File
	w *bufio.Writer
}

func createLogFile(path string) (*logWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, cmn.WrapError(cmn.ErrExport, err, "create log file %s", path)
	}
	return &logWriter{f: f, w: bufio.NewWriter(f)}, nil
}

func (l *logWriter) Write(pkt proto.Packet) error {
	if _, err := l.w.Write(proto.Serialize(pkt)); err != nil {
		return cmn.WrapError(cmn.ErrExport, err, "write log frame")
	}
	return nil
}

func (l *logWriter) Close() error {
	if err := l.w.Flush(); err != nil {
		l.f.Close()
		return cmn.WrapError(cmn.ErrExport, err, "flush log file")
	}
	return l.f.Close()
}

// logReader replays a capture file written by logWriter, growing its read
// buffer as needed to cover the largest frame it encounters.
type logReader struct {
	r   *bufio.Reader
	buf []byte
	n   int
}

func openLogFile(path string) (*logReader, func() error, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, cmn.WrapError(cmn.ErrExport, err, "open log file %s", path)
	}
	return &logReader{r: bufio.NewReader(f), buf: make([]byte, 4096)}, f.Close, nil
}

// Next returns the next packet in the capture, or io.EOF when exhausted.
func (l *logReader) Next() (proto.Packet, error) {
	for {
		pkt, consumed, err := proto.Deserialize(l.buf[:l.n])
		if err == nil {
			copy(l.buf, l.buf[consumed:l.n])
			l.n -= consumed
			return pkt, nil
		}
		if err != proto.ErrNeedMore {
			return proto.Packet{}, err
		}
		if cap(l.buf) == l.n {
			grown := make([]byte, cap(l.buf)*2+4096)
			copy(grown, l.buf[:l.n])
			l.buf = grown
		}
		m, rerr := l.r.Read(l.buf[l.n:cap(l.buf)])
		l.n += m
		if m == 0 && rerr != nil {
			if rerr == io.EOF && l.n > 0 {
				return proto.Packet{}, cmn.NewError(cmn.ErrParse, "log file ends mid-frame")
			}
			return proto.Packet{}, rerr
		}
	}
}
