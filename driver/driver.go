// Package driver defines the polymorphic contract every storage backend
// implements, the capability vocabulary the engine uses to pick code
// paths, and the classified error taxonomy drivers report through.
package driver

import (
	"context"
	"io"
)

// ProgressFunc is a lightweight, non-blocking progress callback. It must
// never perform I/O or acquire a lock held elsewhere in the engine — the
// engine builds one of these around a task's atomic progress counters and
// hands it to the driver, it is never driver-owned state.
type ProgressFunc func(done, total uint64)

// Reader is a lazy byte stream of known or unknown length, returned by
// OpenReader. Size is -1 when the driver cannot report a length upfront
// (e.g. a chunked HTTP response).
type Reader interface {
	io.ReadCloser
	Size() int64
}

// WriteCloser is a streaming sink returned by OpenWriter.
type WriteCloser interface {
	io.WriteCloser
}

// ByteSource is what Put accepts: either a streaming io.Reader, or, when
// the source also implements io.Seeker, a random-access source a driver
// with only WriteWhole can read length from without buffering twice.
type ByteSource interface {
	io.Reader
}

// Driver is the uniform vocabulary every backend implements. Every method
// is cancellable via ctx; drivers must check ctx.Done() at chunk
// boundaries and at every call into the backend, and must not block the
// caller's goroutine beyond that check.
type Driver interface {
	// Name returns the static identifier of this driver kind, e.g. "s3".
	Name() string

	// Capabilities returns the bit-set of operations this instance
	// supports. Constant for most drivers; a few (e.g. webdav against a
	// vendor that disables PROPPATCH) may narrow it after probing the
	// backend at construction time.
	Capabilities() Capability

	// List returns all entries of a directory, fully materialized; the
	// driver is responsible for following the backend's own paging
	// protocol internally.
	List(ctx context.Context, innerPath string) ([]Entry, error)

	// OpenReader opens a byte stream for a file, honoring rng when the
	// driver advertises CapReadRange. A rng with End beyond EOF must
	// return all bytes from Start to EOF, not an error (spec §4.1).
	OpenReader(ctx context.Context, innerPath string, rng *Range) (Reader, error)

	// Put uploads the entirety of src to innerPath. sizeHint is the
	// declared length if known, -1 otherwise. progress may be nil.
	Put(ctx context.Context, innerPath string, src ByteSource, sizeHint int64, progress ProgressFunc) error

	// OpenWriter returns a streaming sink for innerPath, for drivers that
	// advertise CapWriteStream.
	OpenWriter(ctx context.Context, innerPath string, sizeHint int64, progress ProgressFunc) (WriteCloser, error)

	// Delete removes a file or, for drivers advertising recursive
	// directory deletion, a directory tree in one call.
	Delete(ctx context.Context, innerPath string) error

	// CreateDir creates a directory. Idempotent: a pre-existing directory
	// is success, per the engine's adopted convention (spec §9).
	CreateDir(ctx context.Context, innerPath string) error

	// Rename renames an entry within the same parent directory.
	Rename(ctx context.Context, innerPath, newName string) error

	// MoveItem moves src to dst, both inside this driver.
	MoveItem(ctx context.Context, src, dst string) error

	// CopyItem performs a server-side copy within this driver. Only
	// called when Capabilities().Has(CapCopy).
	CopyItem(ctx context.Context, src, dst string) error

	// DirectLink returns a backend-issued URL for direct client fetch, if
	// the driver advertises CapDirectLink.
	DirectLink(ctx context.Context, innerPath string) (string, error)

	// SpaceInfo reports backend capacity, if the driver advertises
	// CapSpaceInfo.
	SpaceInfo(ctx context.Context) (*SpaceInfo, error)
}

// HashingDriver is an optional interface for drivers that can report
// content hashes of objects without a full read (spec: hashes mapping in
// Entry, and the instant-upload hash-reuse path in §4.4.3).
type HashingDriver interface {
	// SupportedHashes lists the algorithms Hash can compute.
	SupportedHashes() []HashKind
	// Hash returns the hex digest for innerPath under the given
	// algorithm, or Unsupported.
	Hash(ctx context.Context, innerPath string, kind HashKind) (string, error)
}

// InstantUploader is an optional interface for drivers offering
// hash-based reuse: the engine offers a precomputed hash before
// streaming; if the backend already holds those bytes, it reports reuse
// and the transfer completes with zero bytes moved (spec §4.4.3 step 2).
type InstantUploader interface {
	// TryInstantUpload asks the backend whether it already has an object
	// matching hash under innerPath's intended name. ok is true only when
	// the backend confirms and has linked/created the destination entry.
	TryInstantUpload(ctx context.Context, innerPath string, kind HashKind, hexDigest string, size int64) (ok bool, err error)
}

// AuthRefresher is an optional interface for drivers whose credentials can
// expire mid-session (OAuth access tokens, session cookies). The engine
// calls RefreshToken once after a KindAuth error and retries the original
// call exactly once (spec §7, supplemented per original_source/drivers/onedrive).
type AuthRefresher interface {
	RefreshToken(ctx context.Context) error
}

// AbortablePut is an optional interface for drivers that can cancel an
// in-flight upload server-side rather than relying on the engine dropping
// the connection and best-effort deleting the partial object.
type AbortablePut interface {
	AbortPut(ctx context.Context, innerPath string) error
}
