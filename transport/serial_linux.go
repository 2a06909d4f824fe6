//go:build linux

package transport

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/twinleaf/tio/cmn"
)

// bauds maps the handful of rates TIO sensors commonly use to the
// termios speed constants; anything else is rejected rather than
// silently rounded.
var bauds = map[int]uint32{
	9600:    unix.B9600,
	19200:   unix.B19200,
	38400:   unix.B38400,
	57600:   unix.B57600,
	115200:  unix.B115200,
	230400:  unix.B230400,
	460800:  unix.B460800,
	921600:  unix.B921600,
	1000000: unix.B1000000,
}

// DialSerial opens a `serial:///dev/path[:baud]` transport in raw 8N1
// mode, with no local retry on I/O error (§4.2).
func DialSerial(path string, baud int) (Transport, error) {
	speed, ok := bauds[baud]
	if !ok {
		return nil, cmn.NewError(cmn.ErrTransport, "unsupported baud rate %d", baud)
	}

	f, err := os.OpenFile(path, os.O_RDWR|unix.O_NOCTTY, 0)
	if err != nil {
		return nil, cmn.WrapError(cmn.ErrTransport, err, "open %s", path)
	}

	fd := int(f.Fd())
	t, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		f.Close()
		return nil, cmn.WrapError(cmn.ErrTransport, err, "get termios for %s", path)
	}

	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	t.Oflag &^= unix.OPOST
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	t.Cflag &^= unix.CSIZE | unix.PARENB
	t.Cflag |= unix.CS8 | unix.CREAD | unix.CLOCAL
	t.Ispeed = speed
	t.Ospeed = speed
	t.Cc[unix.VMIN] = 1
	t.Cc[unix.VTIME] = 0

	if err := unix.IoctlSetTermios(fd, unix.TCSETS, t); err != nil {
		f.Close()
		return nil, cmn.WrapError(cmn.ErrTransport, err, "set termios for %s", path)
	}

	return &frameConn{rw: f, rbuf: make([]byte, 4096), label: fmt.Sprintf("serial://%s:%d", path, baud)}, nil
}
