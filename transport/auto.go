package transport

import (
	"sort"
	"strings"

	"github.com/karrick/godirwalk"

	"github.com/twinleaf/tio/cmn"
)

// DefaultBaud is used whenever a `serial://` or `auto` URL omits a baud.
const DefaultBaud = 115200

// candidateDevDirs lists where serial devices show up across the
// platforms this tool is built for.
var candidateDevDirs = []string{"/dev"}

// serialNamePrefixes matches the device node naming schemes of the
// USB-serial drivers TIO sensors commonly enumerate under.
var serialNamePrefixes = []string{"ttyACM", "ttyUSB", "cu.usbmodem", "cu.usbserial"}

// EnumerateSerial lists serial device candidates under /dev, sorted for
// deterministic `auto` selection (§6: "auto (enumerate serials, pick
// first)").
func EnumerateSerial() ([]string, error) {
	var found []string
	for _, dir := range candidateDevDirs {
		err := godirwalk.Walk(dir, &godirwalk.Options{
			Unsorted: true,
			Callback: func(path string, de *godirwalk.Dirent) error {
				if path == dir {
					return nil
				}
				if de.IsDir() {
					return godirwalk.SkipThis
				}
				name := de.Name()
				for _, prefix := range serialNamePrefixes {
					if strings.HasPrefix(name, prefix) {
						found = append(found, path)
						break
					}
				}
				return nil
			},
		})
		if err != nil {
			return nil, cmn.WrapError(cmn.ErrTransport, err, "enumerate serial devices under %s", dir)
		}
	}
	sort.Strings(found)
	return found, nil
}

// DialAuto opens the first enumerated serial device at DefaultBaud.
func DialAuto() (Transport, error) {
	candidates, err := EnumerateSerial()
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, cmn.NewError(cmn.ErrTransport, "auto: no serial devices found")
	}
	return DialSerial(candidates[0], DefaultBaud)
}
