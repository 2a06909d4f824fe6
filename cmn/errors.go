// Package cmn provides common types and configuration shared across the
// codec, transport, proxy, rpc, device, stream, export, and firmware
// packages.
package cmn

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrKind closes over §7's error taxonomy so every subsystem reports
// failures the CLI can classify the same way regardless of origin.
type ErrKind int

const (
	ErrTransport ErrKind = iota
	ErrParse
	ErrRouting
	ErrRpcExec
	ErrRpcTimeout
	ErrRpcBadReply
	ErrMetadata
	ErrExport
	ErrWouldBlock
)

func (k ErrKind) String() string {
	switch k {
	case ErrTransport:
		return "transport"
	case ErrParse:
		return "parse"
	case ErrRouting:
		return "routing"
	case ErrRpcExec:
		return "rpc-exec"
	case ErrRpcTimeout:
		return "rpc-timeout"
	case ErrRpcBadReply:
		return "rpc-bad-reply"
	case ErrMetadata:
		return "metadata"
	case ErrExport:
		return "export"
	case ErrWouldBlock:
		return "would-block"
	default:
		return "unknown"
	}
}

// TioError wraps an ErrKind with a message and an optional underlying
// cause, preserved via github.com/pkg/errors so that `tio rpc` can print
// just the top-line reason while a caller can still walk the chain with
// errors.Unwrap/errors.As.
type TioError struct {
	Kind  ErrKind
	cause error
}

func NewError(kind ErrKind, format string, a ...any) *TioError {
	return &TioError{Kind: kind, cause: errors.Errorf(format, a...)}
}

func WrapError(kind ErrKind, cause error, format string, a ...any) *TioError {
	return &TioError{Kind: kind, cause: errors.Wrapf(cause, format, a...)}
}

func (e *TioError) Error() string { return fmt.Sprintf("%s: %v", e.Kind, e.cause) }
func (e *TioError) Unwrap() error { return e.cause }

func IsKind(err error, kind ErrKind) bool {
	var te *TioError
	if errors.As(err, &te) {
		return te.Kind == kind
	}
	return false
}

// ErrWouldBlockSingleton is a pre-allocated ErrWouldBlock value for a
// non-blocking receive to signal "nothing ready" without allocating - not
// an error to the caller, per §7. Port.Drain, the non-blocking receive in
// this module, returns an empty slice instead and does not use it.
var ErrWouldBlockSingleton = &TioError{Kind: ErrWouldBlock, cause: errors.New("would block")}
