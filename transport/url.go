package transport

import (
	"strconv"
	"strings"

	"github.com/twinleaf/tio/cmn"
)

// Open dials a transport from a URL per §6:
//
//	tcp://host[:port]
//	serial:///dev/path[:baud]
//	auto
func Open(url string) (Transport, error) {
	switch {
	case url == "auto":
		return DialAuto()
	case strings.HasPrefix(url, "tcp://"):
		return DialTCP(strings.TrimPrefix(url, "tcp://"))
	case strings.HasPrefix(url, "serial://"):
		path, baud, err := parseSerialURL(strings.TrimPrefix(url, "serial://"))
		if err != nil {
			return nil, err
		}
		return DialSerial(path, baud)
	default:
		return nil, cmn.NewError(cmn.ErrTransport, "unrecognized transport URL %q", url)
	}
}

func parseSerialURL(rest string) (path string, baud int, err error) {
	baud = DefaultBaud
	if i := strings.LastIndex(rest, ":"); i >= 0 {
		if b, convErr := strconv.Atoi(rest[i+1:]); convErr == nil {
			baud = b
			rest = rest[:i]
		}
	}
	if rest == "" {
		return "", 0, cmn.NewError(cmn.ErrTransport, "serial URL missing device path")
	}
	return rest, baud, nil
}
