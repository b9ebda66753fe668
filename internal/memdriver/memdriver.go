// Package memdriver is an in-memory driver.Driver implementation used
// only by tests, grounded on the teacher's fstest package (a fake
// backend used to drive fs.Fs-generic test suites without touching a
// real vendor). It is registered under the "mem" kind so internal/vfs
// and internal/ops tests can mount it through the normal Manager.Mount
// path instead of hand-wiring a driver.Driver value.
package memdriver

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/arkstor/gatewayfs/driver"
)

func init() {
	driver.Register(&driver.Kind{
		Name:        "mem",
		Description: "In-memory fake backend (test only)",
		New: func(_ context.Context, name string, cfg driver.Config) (driver.Driver, error) {
			return New(name), nil
		},
	})
}

type node struct {
	isDir    bool
	data     []byte
	modified time.Time
}

// Fs is an in-memory filesystem guarded by a single mutex, keyed by
// slash-separated inner paths with no leading slash ("" is the root).
type Fs struct {
	name string
	caps driver.Capability

	mu    sync.Mutex
	nodes map[string]*node

	// Faults lets a test queue up an error to return from the next
	// call to the named operation (e.g. "List", "OpenReader"),
	// consumed once per queued entry.
	Faults map[string][]error

	// InstantHashes, when non-nil, makes f an InstantUploader: a hex
	// digest present in this set is treated as already held by the
	// backend under the requested name.
	InstantHashes map[string]bool
	instantHits   int

	// RefreshErr, if non-nil, makes RefreshToken fail instead of
	// succeeding. refreshCount tracks how many times it was called.
	RefreshErr   error
	refreshCount int

	// BlockRead, when non-nil, makes the first Read of any reader
	// returned by OpenReader close Started (if set) and then wait on
	// this channel, so a test can pause a transfer reliably mid-stream
	// instead of racing an instant in-memory copy.
	BlockRead chan struct{}
	Started   chan struct{}
	blockOnce sync.Once
}

func (f *Fs) maybeBlockRead() {
	if f.BlockRead == nil {
		return
	}
	f.blockOnce.Do(func() {
		if f.Started != nil {
			close(f.Started)
		}
		<-f.BlockRead
	})
}

// New builds an empty in-memory driver with every capability except
// CapDirectLink set,
// suitable for most engine tests. Use WithCapabilities to narrow it
// when a test needs to exercise a fallback path.
func New(name string) *Fs {
	f := &Fs{
		name: name,
		caps: driver.CapList | driver.CapRead | driver.CapReadRange |
			driver.CapWriteStream | driver.CapWriteWhole | driver.CapDelete |
			driver.CapMkdir | driver.CapRename | driver.CapMove | driver.CapCopy |
			driver.CapSpaceInfo | driver.HashCapability(driver.HashMD5),
		nodes:  map[string]*node{"": {isDir: true, modified: time.Now()}},
		Faults: map[string][]error{},
	}
	return f
}

// WithCapabilities narrows f's advertised capability set, for tests
// that exercise a driver lacking CapCopy, CapRename, CapReadRange, etc.
func (f *Fs) WithCapabilities(caps driver.Capability) *Fs {
	f.caps = caps
	return f
}

// nextFault pops and returns the next queued error for op, or nil.
func (f *Fs) nextFault(op string) error {
	q := f.Faults[op]
	if len(q) == 0 {
		return nil
	}
	f.Faults[op] = q[1:]
	return q[0]
}

func clean(p string) string {
	return strings.Trim(p, "/")
}

func parent(p string) string {
	i := strings.LastIndex(p, "/")
	if i < 0 {
		return ""
	}
	return p[:i]
}

func base(p string) string {
	i := strings.LastIndex(p, "/")
	if i < 0 {
		return p
	}
	return p[i+1:]
}

func (f *Fs) Name() string                    { return "mem" }
func (f *Fs) Capabilities() driver.Capability { return f.caps }

// PutRaw seeds a file directly, bypassing Put, for test setup.
func (f *Fs) PutRaw(innerPath string, data []byte) {
	p := clean(innerPath)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensureDirsLocked(parent(p))
	f.nodes[p] = &node{data: append([]byte{}, data...), modified: time.Now()}
}

func (f *Fs) ensureDirsLocked(p string) {
	if p == "" {
		return
	}
	if _, ok := f.nodes[p]; ok {
		return
	}
	f.ensureDirsLocked(parent(p))
	f.nodes[p] = &node{isDir: true, modified: time.Now()}
}

func (f *Fs) List(ctx context.Context, innerPath string) ([]driver.Entry, error) {
	if err := f.nextFault("List"); err != nil {
		return nil, err
	}
	p := clean(innerPath)
	f.mu.Lock()
	defer f.mu.Unlock()

	n, ok := f.nodes[p]
	if !ok {
		return nil, driver.ErrNotFound(innerPath)
	}
	if !n.isDir {
		return nil, driver.NewError(driver.KindNotADirectory, "not a directory: "+innerPath, nil)
	}

	seen := map[string]bool{}
	var out []driver.Entry
	prefix := p
	if prefix != "" {
		prefix += "/"
	}
	for path := range f.nodes {
		if path == p || !strings.HasPrefix(path, prefix) {
			continue
		}
		rest := strings.TrimPrefix(path, prefix)
		name := rest
		if i := strings.Index(rest, "/"); i >= 0 {
			name = rest[:i]
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		full := prefix + name
		fn := f.nodes[full]
		ent := driver.Entry{Name: name, IsDir: true}
		if fn != nil {
			ent.IsDir = fn.isDir
			ent.Size = uint64(len(fn.data))
			mt := fn.modified
			ent.Modified = &mt
		}
		out = append(out, ent)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

type memReader struct {
	*bytes.Reader
	size int64
	f    *Fs
}

func (r *memReader) Read(p []byte) (int, error) {
	r.f.maybeBlockRead()
	return r.Reader.Read(p)
}

func (r *memReader) Close() error { return nil }
func (r *memReader) Size() int64  { return r.size }

func (f *Fs) OpenReader(ctx context.Context, innerPath string, rng *driver.Range) (driver.Reader, error) {
	if err := f.nextFault("OpenReader"); err != nil {
		return nil, err
	}
	p := clean(innerPath)
	f.mu.Lock()
	n, ok := f.nodes[p]
	f.mu.Unlock()
	if !ok {
		return nil, driver.ErrNotFound(innerPath)
	}
	if n.isDir {
		return nil, driver.NewError(driver.KindNotAFile, "not a file: "+innerPath, nil)
	}
	data := n.data
	if rng != nil {
		start := rng.Start
		if start > int64(len(data)) {
			start = int64(len(data))
		}
		end := int64(len(data))
		if !rng.ToEnd() && rng.End < end {
			end = rng.End
		}
		data = data[start:end]
	}
	return &memReader{Reader: bytes.NewReader(data), size: int64(len(data)), f: f}, nil
}

func (f *Fs) Put(ctx context.Context, innerPath string, src driver.ByteSource, sizeHint int64, progress driver.ProgressFunc) error {
	if err := f.nextFault("Put"); err != nil {
		return err
	}
	buf, err := io.ReadAll(src)
	if err != nil {
		return driver.NewError(driver.KindTransient, "read source", err)
	}
	if progress != nil {
		progress(uint64(len(buf)), uint64(len(buf)))
	}
	p := clean(innerPath)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensureDirsLocked(parent(p))
	f.nodes[p] = &node{data: buf, modified: time.Now()}
	return nil
}

type memWriter struct {
	f    *Fs
	path string
	buf  bytes.Buffer
}

func (w *memWriter) Write(p []byte) (int, error) { return w.buf.Write(p) }
func (w *memWriter) Close() error {
	w.f.mu.Lock()
	defer w.f.mu.Unlock()
	w.f.ensureDirsLocked(parent(w.path))
	w.f.nodes[w.path] = &node{data: w.buf.Bytes(), modified: time.Now()}
	return nil
}

func (f *Fs) OpenWriter(ctx context.Context, innerPath string, sizeHint int64, progress driver.ProgressFunc) (driver.WriteCloser, error) {
	if err := f.nextFault("OpenWriter"); err != nil {
		return nil, err
	}
	if !f.caps.Has(driver.CapWriteStream) {
		return nil, driver.ErrUnsupported("OpenWriter")
	}
	return &memWriter{f: f, path: clean(innerPath)}, nil
}

func (f *Fs) Delete(ctx context.Context, innerPath string) error {
	if err := f.nextFault("Delete"); err != nil {
		return err
	}
	p := clean(innerPath)
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.nodes[p]
	if !ok {
		return driver.ErrNotFound(innerPath)
	}
	if n.isDir {
		prefix := p + "/"
		for path := range f.nodes {
			if strings.HasPrefix(path, prefix) {
				delete(f.nodes, path)
			}
		}
	}
	delete(f.nodes, p)
	return nil
}

func (f *Fs) CreateDir(ctx context.Context, innerPath string) error {
	if err := f.nextFault("CreateDir"); err != nil {
		return err
	}
	p := clean(innerPath)
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.nodes[p]; ok {
		if existing.isDir {
			return driver.ErrAlreadyExists(innerPath)
		}
		return driver.NewError(driver.KindNotADirectory, "exists as file: "+innerPath, nil)
	}
	f.ensureDirsLocked(parent(p))
	f.nodes[p] = &node{isDir: true, modified: time.Now()}
	return nil
}

func (f *Fs) Rename(ctx context.Context, innerPath, newName string) error {
	if err := f.nextFault("Rename"); err != nil {
		return err
	}
	if !f.caps.Has(driver.CapRename) {
		return driver.ErrUnsupported("Rename")
	}
	p := clean(innerPath)
	dst := parent(p)
	if dst != "" {
		dst += "/"
	}
	dst += newName
	return f.moveLocked(p, dst)
}

func (f *Fs) MoveItem(ctx context.Context, src, dst string) error {
	if err := f.nextFault("MoveItem"); err != nil {
		return err
	}
	if !f.caps.Has(driver.CapMove) {
		return driver.ErrUnsupported("MoveItem")
	}
	return f.moveLocked(clean(src), clean(dst))
}

func (f *Fs) moveLocked(src, dst string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.nodes[src]
	if !ok {
		return driver.ErrNotFound(src)
	}
	f.ensureDirsLocked(parent(dst))
	if n.isDir {
		prefix := src + "/"
		for path, child := range f.nodes {
			if strings.HasPrefix(path, prefix) {
				newPath := dst + "/" + strings.TrimPrefix(path, prefix)
				f.nodes[newPath] = child
				delete(f.nodes, path)
			}
		}
	}
	f.nodes[dst] = n
	delete(f.nodes, src)
	return nil
}

func (f *Fs) CopyItem(ctx context.Context, src, dst string) error {
	if err := f.nextFault("CopyItem"); err != nil {
		return err
	}
	if !f.caps.Has(driver.CapCopy) {
		return driver.ErrUnsupported("CopyItem")
	}
	sp, dp := clean(src), clean(dst)
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.nodes[sp]
	if !ok {
		return driver.ErrNotFound(src)
	}
	f.ensureDirsLocked(parent(dp))
	if n.isDir {
		prefix := sp + "/"
		for path, child := range f.nodes {
			if strings.HasPrefix(path, prefix) {
				newPath := dp + "/" + strings.TrimPrefix(path, prefix)
				cp := *child
				f.nodes[newPath] = &cp
			}
		}
	}
	cp := *n
	f.nodes[dp] = &cp
	return nil
}

func (f *Fs) DirectLink(ctx context.Context, innerPath string) (string, error) {
	if err := f.nextFault("DirectLink"); err != nil {
		return "", err
	}
	if !f.caps.Has(driver.CapDirectLink) {
		return "", driver.ErrUnsupported("DirectLink")
	}
	return "mem://" + f.name + "/" + clean(innerPath), nil
}

func (f *Fs) SpaceInfo(ctx context.Context) (*driver.SpaceInfo, error) {
	if err := f.nextFault("SpaceInfo"); err != nil {
		return nil, err
	}
	if !f.caps.Has(driver.CapSpaceInfo) {
		return nil, driver.ErrUnsupported("SpaceInfo")
	}
	var used uint64
	f.mu.Lock()
	for _, n := range f.nodes {
		used += uint64(len(n.data))
	}
	f.mu.Unlock()
	return &driver.SpaceInfo{Total: 1 << 40, Used: used, Free: (1 << 40) - used}, nil
}

// TryInstantUpload implements driver.InstantUploader: a match in
// InstantHashes links the destination entry with zero bytes moved.
func (f *Fs) TryInstantUpload(ctx context.Context, innerPath string, kind driver.HashKind, hexDigest string, size int64) (bool, error) {
	if err := f.nextFault("TryInstantUpload"); err != nil {
		return false, err
	}
	if !f.InstantHashes[hexDigest] {
		return false, nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	p := clean(innerPath)
	f.ensureDirsLocked(parent(p))
	f.nodes[p] = &node{data: make([]byte, size), modified: time.Now()}
	f.instantHits++
	return true, nil
}

// InstantHits reports how many TryInstantUpload calls matched.
func (f *Fs) InstantHits() int { return f.instantHits }

// RefreshToken implements driver.AuthRefresher.
func (f *Fs) RefreshToken(ctx context.Context) error {
	f.mu.Lock()
	f.refreshCount++
	f.mu.Unlock()
	return f.RefreshErr
}

// RefreshCount reports how many times RefreshToken was called.
func (f *Fs) RefreshCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshCount
}

// SupportedHashes and Hash implement driver.HashingDriver.
func (f *Fs) SupportedHashes() []driver.HashKind { return []driver.HashKind{driver.HashMD5} }

func (f *Fs) Hash(ctx context.Context, innerPath string, kind driver.HashKind) (string, error) {
	if kind != driver.HashMD5 {
		return "", driver.ErrUnsupported("Hash")
	}
	p := clean(innerPath)
	f.mu.Lock()
	n, ok := f.nodes[p]
	f.mu.Unlock()
	if !ok || n.isDir {
		return "", driver.ErrNotFound(innerPath)
	}
	sum := md5.Sum(n.data)
	return hex.EncodeToString(sum[:]), nil
}
