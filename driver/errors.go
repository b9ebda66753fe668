package driver

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrorKind is the closed, driver-agnostic error taxonomy from the spec's
// error handling design. Drivers classify raw backend errors into one of
// these; the engine never inspects vendor-specific codes.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindNotFound
	KindAlreadyExists
	KindNotADirectory
	KindNotAFile
	KindRangeNotSatisfiable
	KindAuth
	KindQuotaExceeded
	KindRateLimited
	KindTransient
	KindUnsupported
	KindCancelled
	KindPermanent
)

func (k ErrorKind) String() string {
	switch k {
	case KindNotFound:
		return "NotFound"
	case KindAlreadyExists:
		return "AlreadyExists"
	case KindNotADirectory:
		return "NotADirectory"
	case KindNotAFile:
		return "NotAFile"
	case KindRangeNotSatisfiable:
		return "RangeNotSatisfiable"
	case KindAuth:
		return "Auth"
	case KindQuotaExceeded:
		return "QuotaExceeded"
	case KindRateLimited:
		return "RateLimited"
	case KindTransient:
		return "Transient"
	case KindUnsupported:
		return "Unsupported"
	case KindCancelled:
		return "Cancelled"
	case KindPermanent:
		return "Permanent"
	default:
		return "Unknown"
	}
}

// Error is the classified error every driver method returns on failure.
// It carries an optional driver-native code for diagnostics, never
// interpreted by the engine.
type Error struct {
	Kind       ErrorKind
	Message    string
	NativeCode string
	RetryAfter int // seconds, meaningful only for KindRateLimited
	cause      error
}

func (e *Error) Error() string {
	if e.NativeCode != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, e.NativeCode)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Retry implements fs.Retry-style opportunistic retry signalling, mirrored
// from the teacher's fs/error.go so callers that only know about the
// standard error interface can still ask "should I retry this."
func (e *Error) Retry() bool {
	return e.Kind == KindTransient || e.Kind == KindRateLimited
}

// NewError builds a classified error, wrapping cause with pkg/errors so a
// stack trace is attached the way every teacher package does.
func NewError(kind ErrorKind, msg string, cause error) *Error {
	var wrapped error
	if cause != nil {
		wrapped = errors.Wrap(cause, msg)
	} else {
		wrapped = errors.New(msg)
	}
	return &Error{Kind: kind, Message: msg, cause: wrapped}
}

// AsError extracts a *Error from err, classifying unknown errors as
// KindPermanent per spec §7 ("drivers that cannot classify default to
// Permanent").
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		return de
	}
	return &Error{Kind: KindPermanent, Message: err.Error(), cause: err}
}

// Sentinel convenience constructors, mirroring the teacher's fs.Error*
// package-level sentinels (fs/fs.go) but carrying a classified Kind.
func ErrNotFound(path string) *Error {
	return NewError(KindNotFound, "not found: "+path, nil)
}

func ErrAlreadyExists(path string) *Error {
	return NewError(KindAlreadyExists, "already exists: "+path, nil)
}

func ErrUnsupported(op string) *Error {
	return NewError(KindUnsupported, "operation not supported: "+op, nil)
}
