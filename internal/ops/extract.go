package ops

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"path"
	"strings"

	"github.com/pkg/errors"

	"github.com/arkstor/gatewayfs/driver"
	"github.com/arkstor/gatewayfs/internal/pathutil"
	"github.com/arkstor/gatewayfs/internal/task"
)

// Extract implements the supplemented archive-extraction task kind
// (original_source/src/api/extract): resolve the archive and the
// destination directory, stream-extract, and report progress by
// bytes-of-archive-consumed.
func (e *Engine) Extract(ctx context.Context, archiveVirtualPath, destVirtualPath string, ownerID string) (string, error) {
	srcRef, srcInner, err := e.resolveFile(archiveVirtualPath)
	if err != nil {
		return "", err
	}
	dstRef, dstInner, err := e.resolveFile(destVirtualPath)
	if err != nil {
		srcRef.Release()
		return "", err
	}

	unlock := e.locks.Lock(destVirtualPath)
	driverName := dstRef.Mount().DriverKind

	taskID := e.Tasks.Submit(ctx, task.Spec{
		Kind:       task.KindExtract,
		SourceRef:  archiveVirtualPath,
		DestRef:    destVirtualPath,
		OwnerID:    ownerID,
		DriverName: driverName,
		Cancelable: true,
	}, func(runCtx context.Context, ctrl *task.Control, report func(done, total uint64)) error {
		defer unlock()
		defer srcRef.Release()
		defer dstRef.Release()
		return e.runExtract(runCtx, ctrl, srcRef.Driver(), srcInner, dstRef.Driver(), dstInner, report)
	})
	return taskID, nil
}

func (e *Engine) runExtract(ctx context.Context, ctrl *task.Control, srcDrv driver.Driver, srcInner string, dstDrv driver.Driver, dstInner string, report func(done, total uint64)) error {
	rd, err := srcDrv.OpenReader(ctx, srcInner, nil)
	if err != nil {
		return err
	}
	defer rd.Close()

	total := uint64(rd.Size())
	counted := &countingReader{r: rd, onRead: func(d uint64) { report(d, total) }}

	switch archiveKindOf(srcInner) {
	case archiveZip:
		return e.extractZip(ctx, ctrl, counted, int64(total), dstDrv, dstInner)
	case archiveTarGz:
		return e.extractTarGz(ctx, ctrl, counted, dstDrv, dstInner)
	case archiveTar:
		return e.extractTar(ctx, ctrl, counted, dstDrv, dstInner)
	default:
		return driver.ErrUnsupported("extract: unrecognized archive type")
	}
}

type archiveKind int

const (
	archiveUnknown archiveKind = iota
	archiveZip
	archiveTar
	archiveTarGz
)

func archiveKindOf(name string) archiveKind {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".zip"):
		return archiveZip
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return archiveTarGz
	case strings.HasSuffix(lower, ".tar"):
		return archiveTar
	default:
		return archiveUnknown
	}
}

// extractZip buffers the stream since archive/zip needs an io.ReaderAt;
// archives are assumed to fit comfortably under the upload buffer
// threshold's neighborhood for this operation.
func (e *Engine) extractZip(ctx context.Context, ctrl *task.Control, r io.Reader, size int64, dstDrv driver.Driver, dstInner string) error {
	buf, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	zr, err := zip.NewReader(bytes.NewReader(buf), int64(len(buf)))
	if err != nil {
		return errors.Wrap(err, "open zip")
	}
	for _, f := range zr.File {
		if err := ctrl.WaitIfPaused(ctx); err != nil {
			return err
		}
		if ctrl.Cancelled() {
			return context.Canceled
		}
		dst, ok := joinArchivePath(dstInner, f.Name)
		if !ok {
			continue
		}
		if f.FileInfo().IsDir() {
			_ = dstDrv.CreateDir(ctx, dst)
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return err
		}
		_ = dstDrv.CreateDir(ctx, path.Dir(dst))
		err = dstDrv.Put(ctx, dst, rc, int64(f.UncompressedSize64), nil)
		rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) extractTarGz(ctx context.Context, ctrl *task.Control, r io.Reader, dstDrv driver.Driver, dstInner string) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return errors.Wrap(err, "open gzip")
	}
	defer gz.Close()
	return e.extractTarStream(ctx, ctrl, gz, dstDrv, dstInner)
}

func (e *Engine) extractTar(ctx context.Context, ctrl *task.Control, r io.Reader, dstDrv driver.Driver, dstInner string) error {
	return e.extractTarStream(ctx, ctrl, r, dstDrv, dstInner)
}

func (e *Engine) extractTarStream(ctx context.Context, ctrl *task.Control, r io.Reader, dstDrv driver.Driver, dstInner string) error {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := ctrl.WaitIfPaused(ctx); err != nil {
			return err
		}
		if ctrl.Cancelled() {
			return context.Canceled
		}
		dst, ok := joinArchivePath(dstInner, hdr.Name)
		if !ok {
			continue
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			_ = dstDrv.CreateDir(ctx, dst)
		case tar.TypeReg:
			_ = dstDrv.CreateDir(ctx, path.Dir(dst))
			if err := dstDrv.Put(ctx, dst, tr, hdr.Size, nil); err != nil {
				return err
			}
		}
	}
}

// joinArchivePath joins an archive entry's name onto the destination
// directory and reports whether the result stays inside it, guarding
// against a zip/tar entry named e.g. "../../etc/passwd" (zip-slip),
// the same check original_source/src/api/extract/extractors.rs makes
// before writing an extracted entry to disk.
func joinArchivePath(base, entryName string) (string, bool) {
	entryName = strings.TrimPrefix(entryName, "/")
	dst := pathutil.Join(base, entryName)
	clean := path.Clean(dst)
	if clean != base && !pathutil.HasPathPrefix(clean, base) {
		return "", false
	}
	return clean, true
}
