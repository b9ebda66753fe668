// Package local implements driver.Driver over the machine's own
// filesystem. Grounded on the teacher's backend/local, which is itself
// stdlib-only — no third-party filesystem library is a better fit for
// walking a local directory tree than os/io, so this driver introduces
// none (see DESIGN.md).
package local

import (
	"context"
	"crypto/md5"
	"crypto/sha1"
	"encoding/hex"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/arkstor/gatewayfs/driver"
)

func init() {
	driver.Register(&driver.Kind{
		Name:        "local",
		Description: "Local filesystem",
		Options: []driver.Option{
			{Name: "root", Help: "Absolute path on disk this mount is rooted at.", Required: true},
		},
		New: NewFs,
	})
}

// Fs is a live local-filesystem driver instance rooted at Root.
type Fs struct {
	name string
	root string
}

// NewFs constructs a local driver from a validated config.
func NewFs(_ context.Context, name string, cfg driver.Config) (driver.Driver, error) {
	root, ok := cfg.Get("root")
	if !ok || root == "" {
		return nil, &driver.ConfigError{Field: "root", Reason: "required"}
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, driver.NewError(driver.KindPermanent, "resolve root", err)
	}
	if st, err := os.Stat(abs); err != nil || !st.IsDir() {
		return nil, &driver.ConfigError{Field: "root", Reason: "must be an existing directory"}
	}
	return &Fs{name: name, root: abs}, nil
}

func (f *Fs) Name() string { return "local" }

func (f *Fs) Capabilities() driver.Capability {
	return driver.CapList | driver.CapRead | driver.CapReadRange |
		driver.CapWriteStream | driver.CapWriteWhole | driver.CapDelete |
		driver.CapMkdir | driver.CapRename | driver.CapMove | driver.CapCopy |
		driver.CapSpaceInfo |
		driver.HashCapability(driver.HashMD5) | driver.HashCapability(driver.HashSHA1)
}

func (f *Fs) full(innerPath string) string {
	return filepath.Join(f.root, filepath.FromSlash(innerPath))
}

func (f *Fs) List(ctx context.Context, innerPath string) ([]driver.Entry, error) {
	dirents, err := os.ReadDir(f.full(innerPath))
	if err != nil {
		return nil, classify(err)
	}
	out := make([]driver.Entry, 0, len(dirents))
	for _, d := range dirents {
		if ctx.Err() != nil {
			return nil, driver.NewError(driver.KindCancelled, "list cancelled", ctx.Err())
		}
		info, err := d.Info()
		if err != nil {
			continue
		}
		mt := info.ModTime()
		e := driver.Entry{
			Name:     d.Name(),
			Size:     uint64(info.Size()),
			IsDir:    d.IsDir(),
			Modified: &mt,
			Provider: "local",
		}
		out = append(out, e)
	}
	return out, nil
}

type fileReader struct {
	*os.File
	size int64
}

func (r *fileReader) Size() int64 { return r.size }

func (f *Fs) OpenReader(ctx context.Context, innerPath string, rng *driver.Range) (driver.Reader, error) {
	fh, err := os.Open(f.full(innerPath))
	if err != nil {
		return nil, classify(err)
	}
	st, err := fh.Stat()
	if err != nil {
		fh.Close()
		return nil, classify(err)
	}
	if st.IsDir() {
		fh.Close()
		return nil, driver.NewError(driver.KindNotAFile, innerPath, nil)
	}
	size := st.Size()
	if rng != nil {
		if rng.Start > size {
			fh.Close()
			return nil, driver.NewError(driver.KindRangeNotSatisfiable, innerPath, nil)
		}
		if _, err := fh.Seek(rng.Start, io.SeekStart); err != nil {
			fh.Close()
			return nil, classify(err)
		}
		if !rng.ToEnd() {
			end := rng.End
			if end > size {
				end = size
			}
			return &fileReader{File: fh, size: end - rng.Start}, nil
		}
		return &fileReader{File: fh, size: size - rng.Start}, nil
	}
	return &fileReader{File: fh, size: size}, nil
}

func (f *Fs) Put(ctx context.Context, innerPath string, src driver.ByteSource, sizeHint int64, progress driver.ProgressFunc) error {
	w, err := f.OpenWriter(ctx, innerPath, sizeHint, progress)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, src); err != nil {
		w.Close()
		return classify(err)
	}
	return w.Close()
}

type progressWriter struct {
	*os.File
	done     uint64
	total    uint64
	progress driver.ProgressFunc
}

func (w *progressWriter) Write(p []byte) (int, error) {
	n, err := w.File.Write(p)
	w.done += uint64(n)
	if w.progress != nil {
		w.progress(w.done, w.total)
	}
	return n, err
}

func (f *Fs) OpenWriter(ctx context.Context, innerPath string, sizeHint int64, progress driver.ProgressFunc) (driver.WriteCloser, error) {
	full := f.full(innerPath)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return nil, classify(err)
	}
	fh, err := os.Create(full)
	if err != nil {
		return nil, classify(err)
	}
	total := uint64(0)
	if sizeHint > 0 {
		total = uint64(sizeHint)
	}
	return &progressWriter{File: fh, total: total, progress: progress}, nil
}

func (f *Fs) Delete(ctx context.Context, innerPath string) error {
	err := os.RemoveAll(f.full(innerPath))
	if err != nil {
		return classify(err)
	}
	return nil
}

func (f *Fs) CreateDir(ctx context.Context, innerPath string) error {
	if err := os.MkdirAll(f.full(innerPath), 0o755); err != nil {
		return classify(err)
	}
	return nil
}

func (f *Fs) Rename(ctx context.Context, innerPath, newName string) error {
	dst := filepath.Join(filepath.Dir(f.full(innerPath)), newName)
	if err := os.Rename(f.full(innerPath), dst); err != nil {
		return classify(err)
	}
	return nil
}

func (f *Fs) MoveItem(ctx context.Context, src, dst string) error {
	full := f.full(dst)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return classify(err)
	}
	if err := os.Rename(f.full(src), full); err != nil {
		return classify(err)
	}
	return nil
}

func (f *Fs) CopyItem(ctx context.Context, src, dst string) error {
	full := f.full(dst)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return classify(err)
	}
	in, err := os.Open(f.full(src))
	if err != nil {
		return classify(err)
	}
	defer in.Close()
	st, err := in.Stat()
	if err != nil {
		return classify(err)
	}
	if st.IsDir() {
		return driver.ErrUnsupported("copy_item on directory")
	}
	out, err := os.Create(full)
	if err != nil {
		return classify(err)
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return classify(err)
	}
	return nil
}

func (f *Fs) DirectLink(ctx context.Context, innerPath string) (string, error) {
	return "", driver.ErrUnsupported("direct_link")
}

func (f *Fs) SpaceInfo(ctx context.Context) (*driver.SpaceInfo, error) {
	var st statfsT
	if err := statfs(f.root, &st); err != nil {
		return nil, driver.NewError(driver.KindUnsupported, "space_info", err)
	}
	return &driver.SpaceInfo{Total: st.Total, Used: st.Total - st.Free, Free: st.Free}, nil
}

func (f *Fs) SupportedHashes() []driver.HashKind {
	return []driver.HashKind{driver.HashMD5, driver.HashSHA1}
}

func (f *Fs) Hash(ctx context.Context, innerPath string, kind driver.HashKind) (string, error) {
	fh, err := os.Open(f.full(innerPath))
	if err != nil {
		return "", classify(err)
	}
	defer fh.Close()
	var h interface {
		io.Writer
		Sum([]byte) []byte
	}
	switch kind {
	case driver.HashMD5:
		h = md5.New()
	case driver.HashSHA1:
		h = sha1.New()
	default:
		return "", driver.ErrUnsupported("hash kind")
	}
	if _, err := io.Copy(h, fh); err != nil {
		return "", classify(err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	if os.IsNotExist(err) {
		return driver.NewError(driver.KindNotFound, err.Error(), err)
	}
	if os.IsPermission(err) {
		return driver.NewError(driver.KindAuth, err.Error(), err)
	}
	if os.IsExist(err) {
		return driver.NewError(driver.KindAlreadyExists, err.Error(), err)
	}
	var pe *fs.PathError
	if ok := asPathError(err, &pe); ok {
		return driver.NewError(driver.KindPermanent, pe.Error(), err)
	}
	return driver.NewError(driver.KindPermanent, err.Error(), err)
}

func asPathError(err error, target **fs.PathError) bool {
	pe, ok := err.(*fs.PathError)
	if ok {
		*target = pe
	}
	return ok
}
