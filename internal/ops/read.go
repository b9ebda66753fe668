package ops

import (
	"context"
	"io"

	"github.com/arkstor/gatewayfs/driver"
)

// ReadResult is either a live byte stream or a direct-link redirect
// URL, never both, per spec §4.4.2 step 2.
type ReadResult struct {
	Stream     driver.Reader
	DirectLink string
}

// OpenReader implements spec §4.4.2: resolve, optionally redirect to
// a direct link, otherwise open a ranged reader. For a driver without
// CapReadRange the reader opens at offset 0 and the bytes before
// rng.Start are discarded; rng.End is not applied in that case.
// Callers own Stream and must Close it (which also releases the
// driver reference via the wrapper returned here).
func (e *Engine) OpenReader(ctx context.Context, virtualPath string, rng *driver.Range, allowDirectLink bool) (ReadResult, error) {
	ref, inner, err := e.resolveFile(virtualPath)
	if err != nil {
		return ReadResult{}, err
	}
	drv := ref.Driver()

	if allowDirectLink && drv.Capabilities().Has(driver.CapDirectLink) {
		url, derr := drv.DirectLink(ctx, inner)
		ref.Release()
		if derr != nil {
			logOp("direct_link", virtualPath, derr)
			return ReadResult{}, classify(derr)
		}
		return ReadResult{DirectLink: url}, nil
	}

	var (
		rd       driver.Reader
		openErr  error
		readRng  = rng
		discard  int64
	)
	if rng != nil && !drv.Capabilities().Has(driver.CapReadRange) {
		// Driver can't seek: open from the start and discard the
		// prefix ourselves, per spec §4.4.2 step 3.
		discard = rng.Start
		readRng = nil
	}

	openErr = withRetry(ctx, drv, e.Cfg.RetryBaseBackoff, func() error {
		var oerr error
		rd, oerr = drv.OpenReader(ctx, inner, readRng)
		return oerr
	})
	if openErr != nil {
		ref.Release()
		logOp("open_reader", virtualPath, openErr)
		if classify(openErr).Kind == driver.KindNotAFile {
			return ReadResult{}, ErrIsDirectory
		}
		return ReadResult{}, classify(openErr)
	}

	if discard > 0 {
		if _, derr := io.CopyN(io.Discard, rd, discard); derr != nil {
			rd.Close()
			ref.Release()
			return ReadResult{}, classify(derr)
		}
	}

	return ReadResult{Stream: &releasingReader{Reader: rd, ref: ref}}, nil
}

// releasingReader ties the driver reference's lifetime to the
// stream's: releasing the mount reference only when the caller closes
// the stream, so a mount reconfiguration mid-read can't invalidate a
// reader in flight (spec §9 driver instance hot-swap).
type releasingReader struct {
	driver.Reader
	ref      interface{ Release() }
	released bool
}

func (r *releasingReader) Close() error {
	err := r.Reader.Close()
	if !r.released {
		r.ref.Release()
		r.released = true
	}
	return err
}

// StreamChunks copies src to dst in chunkSize pieces, calling progress
// after each chunk and honoring ctx cancellation between chunks, per
// spec §4.4.2 step 4's "stream with backpressure" requirement and
// §5's "yield to the scheduler between chunks".
func StreamChunks(ctx context.Context, dst io.Writer, src io.Reader, chunkSize int64, progress func(n int64)) (int64, error) {
	if chunkSize <= 0 {
		chunkSize = 1 << 20
	}
	buf := make([]byte, chunkSize)
	var total int64
	for {
		select {
		case <-ctx.Done():
			return total, ctx.Err()
		default:
		}
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return total, werr
			}
			total += int64(n)
			if progress != nil {
				progress(total)
			}
		}
		if rerr == io.EOF {
			return total, nil
		}
		if rerr != nil {
			return total, rerr
		}
	}
}
