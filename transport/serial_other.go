//go:build !linux

package transport

import "github.com/twinleaf/tio/cmn"

// DialSerial is only implemented for Linux raw termios access; other
// platforms return a clear error rather than silently degrading.
func DialSerial(path string, baud int) (Transport, error) {
	return nil, cmn.NewError(cmn.ErrTransport, "serial transport not supported on this platform")
}
