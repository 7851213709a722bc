// Package errs defines the error taxonomy shared by the tile pipeline.
// Errors are tagged values classified at the delivery boundary; producers
// return them instead of unwinding through panics.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error for the delivery boundary.
type Kind int

const (
	// Unknown is the zero Kind; errors without a tag map to it.
	Unknown Kind = iota

	// NotFound covers unknown resources, unrecognised filenames and
	// tiles outside the configured range.
	NotFound

	// EmptyImage is a logical "no data here" for image tiles. The HTTP
	// layer turns it into a canonical empty-body 404.
	EmptyImage

	// EmptyDebugMask is the mask flavour of EmptyImage.
	EmptyDebugMask

	// FormatError is a catalogue or definition parsing error.
	FormatError

	// IOError wraps file open/read/write failures.
	IOError

	// Internal is a driver, assertion or conversion failure. Fatal for
	// the request, never for the process.
	Internal

	// Unavailable means the resource exists but is not ready yet.
	Unavailable

	// Cancelled means the request sink was aborted.
	Cancelled

	// WorkerLost means a warper worker died while serving the request.
	// The caller may retry once.
	WorkerLost
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "not-found"
	case EmptyImage:
		return "empty-image"
	case EmptyDebugMask:
		return "empty-debug-mask"
	case FormatError:
		return "format-error"
	case IOError:
		return "io-error"
	case Internal:
		return "internal"
	case Unavailable:
		return "unavailable"
	case Cancelled:
		return "cancelled"
	case WorkerLost:
		return "worker-lost"
	}
	return "unknown"
}

// Error is a Kind-tagged error with an optional wrapped cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		if e.Msg == "" {
			return e.Err.Error()
		}
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a tagged error.
func New(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap tags an existing error, keeping it reachable via errors.Unwrap.
func Wrap(kind Kind, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf reports the Kind of err, or Unknown when it carries no tag.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, ErrCancelled) {
		return Cancelled
	}
	return Unknown
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool { return KindOf(err) == kind }

// ErrCancelled is the sentinel used when a sink abort is detected outside
// a producer.
var ErrCancelled = &Error{Kind: Cancelled, Msg: "request cancelled"}
