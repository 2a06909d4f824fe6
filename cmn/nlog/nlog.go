// Package nlog provides a small buffered, timestamped, severity-leveled
// logger used by the proxy, the device tree and the `tio proxy` command,
// so that proxy state transitions, reconnect attempts and server events
// all share one format and one rotation policy.
package nlog

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

type severity int

const (
	sevInfo severity = iota
	sevWarn
	sevErr
)

var sevChar = [...]byte{sevInfo: 'I', sevWarn: 'W', sevErr: 'E'}

// MaxSize is the per-file rotation threshold; Flush(true) closes for good.
var MaxSize int64 = 8 * 1024 * 1024

type nlogger struct {
	mu      sync.Mutex
	w       *bufio.Writer
	file    *os.File
	written int64
	sev     severity
}

var (
	nlogs      [3]*nlogger
	onceInit   sync.Once
	logDir     string
	role       string
	title      string
	toStderr   bool
	alsoStderr bool
	pid        = os.Getpid()
)

func initFiles() {
	for sev := sevInfo; sev <= sevErr; sev++ {
		nlogs[sev] = &nlogger{sev: sev}
	}
}

// SetLogDirRole sets the directory log files are rotated into and a short
// role tag (e.g. "proxy", "tool") embedded in file names.
func SetLogDirRole(dir, r string) { logDir, role = dir, r }

// SetTitle sets a one-line banner written at the top of each rotated file.
func SetTitle(s string) { title = s }

// SetStderr controls whether log lines additionally (or exclusively) go to
// stderr.
func SetStderr(also, only bool) { alsoStderr, toStderr = also, only }

func InfoDepth(depth int, args ...any)    { log(sevInfo, depth+1, "", args...) }
func Infoln(args ...any)                  { log(sevInfo, 1, "", args...) }
func Infof(format string, args ...any)    { log(sevInfo, 1, format, args...) }
func Warningln(args ...any)               { log(sevWarn, 1, "", args...) }
func Warningf(format string, args ...any) { log(sevWarn, 1, format, args...) }
func ErrorDepth(depth int, args ...any)   { log(sevErr, depth+1, "", args...) }
func Errorln(args ...any)                 { log(sevErr, 1, "", args...) }
func Errorf(format string, args ...any)   { log(sevErr, 1, format, args...) }

func log(sev severity, depth int, format string, args ...any) {
	onceInit.Do(initFiles)

	line := formatLine(sev, depth+1, format, args...)

	if toStderr {
		os.Stderr.WriteString(line)
		return
	}
	if alsoStderr || sev >= sevWarn {
		os.Stderr.WriteString(line)
	}
	nlogs[sev].write(line)
	if sev >= sevWarn {
		// warnings and errors are duplicated into the info stream so a
		// plain tail of the info log never misses a failure
		nlogs[sevInfo].write(line)
	}
}

func (n *nlogger) write(line string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.file == nil {
		if err := n.openLocked(time.Now()); err != nil {
			os.Stderr.WriteString(line)
			return
		}
	}
	n.w.WriteString(line)
	n.written += int64(len(line))
	if n.written >= MaxSize {
		n.rotateLocked(time.Now())
	}
}

func (n *nlogger) openLocked(now time.Time) error {
	dir := logDir
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	name := fmt.Sprintf("%s.%s.%s.%s.log", role, sevName(n.sev), now.Format("20060102-150405"), strconv.Itoa(pid))
	f, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	n.file = f
	n.w = bufio.NewWriterSize(f, 32*1024)
	n.written = 0
	banner := fmt.Sprintf("started %s, %s %s/%s\n", now.Format(time.RFC3339), runtime.Version(), runtime.GOOS, runtime.GOARCH)
	if title != "" {
		banner = title + "\n" + banner
	}
	n.w.WriteString(banner)
	return nil
}

func (n *nlogger) rotateLocked(now time.Time) {
	n.w.Flush()
	n.file.Close()
	n.file = nil
	n.openLocked(now)
}

// Flush writes buffered lines to disk; Flush(true) additionally closes the
// underlying files for a clean shutdown.
func Flush(exit ...bool) {
	onceInit.Do(initFiles)
	closeToo := len(exit) > 0 && exit[0]
	for _, n := range nlogs {
		n.mu.Lock()
		if n.w != nil {
			n.w.Flush()
		}
		if closeToo && n.file != nil {
			n.file.Close()
			n.file = nil
		}
		n.mu.Unlock()
	}
}

var written atomic.Int64

func sevName(s severity) string {
	switch s {
	case sevWarn:
		return "WARNING"
	case sevErr:
		return "ERROR"
	default:
		return "INFO"
	}
}

func formatLine(sev severity, depth int, format string, args ...any) string {
	var b []byte
	b = append(b, sevChar[sev], ' ')
	b = time.Now().AppendFormat(b, "15:04:05.000000")
	b = append(b, ' ')
	if _, fn, ln, ok := runtime.Caller(depth + 1); ok {
		if idx := lastSlash(fn); idx >= 0 {
			fn = fn[idx+1:]
		}
		b = append(b, fn...)
		b = append(b, ':')
		b = strconv.AppendInt(b, int64(ln), 10)
		b = append(b, ' ')
	}
	if format == "" {
		b = append(b, fmt.Sprintln(args...)...)
	} else {
		b = append(b, fmt.Sprintf(format, args...)...)
		if len(b) == 0 || b[len(b)-1] != '\n' {
			b = append(b, '\n')
		}
	}
	written.Add(int64(len(b)))
	return string(b)
}

func lastSlash(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '/' {
			return i
		}
	}
	return -1
}
