// Package ftp implements driver.Driver over FTP/FTPS, grounded on the
// teacher's backend/ftp which wraps github.com/jlaffaye/ftp with a small
// connection pool because one *ftp.ServerConn serves one command at a
// time (spec §4.1/§5: drivers wrapping a non-thread-safe protocol must
// pool or serialize internally).
package ftp

import (
	"context"
	"io"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/jlaffaye/ftp"

	"github.com/arkstor/gatewayfs/driver"
)

func init() {
	driver.Register(&driver.Kind{
		Name:        "ftp",
		Description: "FTP",
		Options: []driver.Option{
			{Name: "host", Help: "Host name or IP.", Required: true},
			{Name: "port", Help: "Port number.", Default: "21"},
			{Name: "user", Help: "FTP username.", Default: "anonymous"},
			{Name: "pass", Help: "FTP password.", Sensitive: true},
			{Name: "root", Help: "Root directory on the remote.", Default: "/"},
		},
		New: NewFs,
	})
}

// Fs is a live FTP driver instance holding a small pool of connections.
type Fs struct {
	addr string
	user string
	pass string
	root string

	mu   sync.Mutex
	pool []*ftp.ServerConn
}

// NewFs validates config, then dials and logs in once so a bad host or
// bad credentials fail here; that connection seeds the pool, and getConn
// dials further connections on demand.
func NewFs(_ context.Context, name string, cfg driver.Config) (driver.Driver, error) {
	host, ok := cfg.Get("host")
	if !ok || host == "" {
		return nil, &driver.ConfigError{Field: "host", Reason: "required"}
	}
	port := cfg.GetDefault("port", "21")
	user := cfg.GetDefault("user", "anonymous")
	pass, _ := cfg.Get("pass")
	root := cfg.GetDefault("root", "/")
	f := &Fs{addr: host + ":" + port, user: user, pass: pass, root: root}
	c, err := f.dial()
	if err != nil {
		return nil, driver.NewError(driver.KindAuth, "ftp connect", err)
	}
	f.putConn(c)
	return f, nil
}

func (f *Fs) dial() (*ftp.ServerConn, error) {
	c, err := ftp.Dial(f.addr, ftp.DialWithTimeout(30*time.Second))
	if err != nil {
		return nil, err
	}
	if err := c.Login(f.user, f.pass); err != nil {
		c.Quit()
		return nil, err
	}
	return c, nil
}

func (f *Fs) getConn() (*ftp.ServerConn, error) {
	f.mu.Lock()
	if n := len(f.pool); n > 0 {
		c := f.pool[n-1]
		f.pool = f.pool[:n-1]
		f.mu.Unlock()
		return c, nil
	}
	f.mu.Unlock()
	return f.dial()
}

func (f *Fs) putConn(c *ftp.ServerConn) {
	f.mu.Lock()
	f.pool = append(f.pool, c)
	f.mu.Unlock()
}

func (f *Fs) Name() string { return "ftp" }

func (f *Fs) Capabilities() driver.Capability {
	return driver.CapList | driver.CapRead | driver.CapReadRange |
		driver.CapWriteStream | driver.CapDelete | driver.CapMkdir | driver.CapRename | driver.CapMove
}

func (f *Fs) full(innerPath string) string {
	return path.Join(f.root, path.Clean("/"+innerPath))
}

func (f *Fs) List(ctx context.Context, innerPath string) ([]driver.Entry, error) {
	c, err := f.getConn()
	if err != nil {
		return nil, classify(err)
	}
	defer f.putConn(c)
	entries, err := c.List(f.full(innerPath))
	if err != nil {
		return nil, classify(err)
	}
	out := make([]driver.Entry, 0, len(entries))
	for _, e := range entries {
		if e.Name == "." || e.Name == ".." {
			continue
		}
		mt := e.Time
		out = append(out, driver.Entry{
			Name:     e.Name,
			Size:     e.Size,
			IsDir:    e.Type == ftp.EntryTypeFolder,
			Modified: &mt,
			Provider: "ftp",
		})
	}
	return out, nil
}

type ftpReader struct {
	io.ReadCloser
	fs   *Fs
	conn *ftp.ServerConn
	size int64
}

func (r *ftpReader) Size() int64 { return r.size }
func (r *ftpReader) Close() error {
	err := r.ReadCloser.Close()
	r.fs.putConn(r.conn)
	return err
}

func (f *Fs) OpenReader(ctx context.Context, innerPath string, rng *driver.Range) (driver.Reader, error) {
	c, err := f.getConn()
	if err != nil {
		return nil, classify(err)
	}
	start := uint64(0)
	if rng != nil {
		start = uint64(rng.Start)
	}
	resp, err := c.RetrFrom(f.full(innerPath), start)
	if err != nil {
		f.putConn(c)
		return nil, classify(err)
	}
	size := int64(-1)
	var body io.ReadCloser = resp
	if rng != nil && !rng.ToEnd() {
		size = rng.End - rng.Start
		body = struct {
			io.Reader
			io.Closer
		}{io.LimitReader(resp, size), resp}
	}
	return &ftpReader{ReadCloser: body, fs: f, conn: c, size: size}, nil
}

func (f *Fs) Put(ctx context.Context, innerPath string, src driver.ByteSource, sizeHint int64, progress driver.ProgressFunc) error {
	c, err := f.getConn()
	if err != nil {
		return classify(err)
	}
	defer f.putConn(c)
	full := f.full(innerPath)
	_ = f.mkdirAll(c, path.Dir(full))
	pr := &progressReader{r: src, progress: progress}
	if sizeHint > 0 {
		pr.total = uint64(sizeHint)
	}
	if err := c.Stor(full, pr); err != nil {
		return classify(err)
	}
	return nil
}

type progressReader struct {
	r        io.Reader
	done     uint64
	total    uint64
	progress driver.ProgressFunc
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.done += uint64(n)
	if p.progress != nil {
		p.progress(p.done, p.total)
	}
	return n, err
}

type ftpWriter struct {
	pw   *io.PipeWriter
	done chan error
}

func (w *ftpWriter) Write(p []byte) (int, error) { return w.pw.Write(p) }
func (w *ftpWriter) Close() error {
	_ = w.pw.Close()
	return <-w.done
}

func (f *Fs) OpenWriter(ctx context.Context, innerPath string, sizeHint int64, progress driver.ProgressFunc) (driver.WriteCloser, error) {
	pr, pw := io.Pipe()
	done := make(chan error, 1)
	go func() { done <- f.Put(ctx, innerPath, pr, sizeHint, progress) }()
	return &ftpWriter{pw: pw, done: done}, nil
}

func (f *Fs) Delete(ctx context.Context, innerPath string) error {
	c, err := f.getConn()
	if err != nil {
		return classify(err)
	}
	defer f.putConn(c)
	full := f.full(innerPath)
	if err := c.Delete(full); err != nil {
		if err2 := c.RemoveDirRecur(full); err2 == nil {
			return nil
		}
		return classify(err)
	}
	return nil
}

func (f *Fs) mkdirAll(c *ftp.ServerConn, dir string) error {
	if dir == "" || dir == "/" || dir == "." {
		return nil
	}
	parts := strings.Split(strings.Trim(dir, "/"), "/")
	cur := ""
	for _, p := range parts {
		cur += "/" + p
		_ = c.MakeDir(cur)
	}
	return nil
}

func (f *Fs) CreateDir(ctx context.Context, innerPath string) error {
	c, err := f.getConn()
	if err != nil {
		return classify(err)
	}
	defer f.putConn(c)
	return f.mkdirAll(c, f.full(innerPath))
}

func (f *Fs) Rename(ctx context.Context, innerPath, newName string) error {
	dst := path.Join(path.Dir(innerPath), newName)
	return f.MoveItem(ctx, innerPath, dst)
}

func (f *Fs) MoveItem(ctx context.Context, src, dst string) error {
	c, err := f.getConn()
	if err != nil {
		return classify(err)
	}
	defer f.putConn(c)
	dstFull := f.full(dst)
	_ = f.mkdirAll(c, path.Dir(dstFull))
	return classify(c.Rename(f.full(src), dstFull))
}

// CopyItem is unsupported: plain FTP has no server-side copy verb.
func (f *Fs) CopyItem(ctx context.Context, src, dst string) error {
	return driver.ErrUnsupported("copy_item")
}

func (f *Fs) DirectLink(ctx context.Context, innerPath string) (string, error) {
	return "", driver.ErrUnsupported("direct_link")
}

func (f *Fs) SpaceInfo(ctx context.Context) (*driver.SpaceInfo, error) {
	return nil, driver.ErrUnsupported("space_info")
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "550"):
		return driver.NewError(driver.KindNotFound, msg, err)
	case strings.Contains(msg, "530"), strings.Contains(msg, "access denied"):
		return driver.NewError(driver.KindAuth, msg, err)
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "EOF"), strings.Contains(msg, "connection"):
		return driver.NewError(driver.KindTransient, msg, err)
	default:
		return driver.NewError(driver.KindPermanent, msg, err)
	}
}
