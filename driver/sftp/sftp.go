// Package sftp implements driver.Driver over SSH/SFTP, grounded on the
// teacher's backend/sftp (which itself wraps github.com/pkg/sftp over an
// ssh.Client built from golang.org/x/crypto/ssh).
package sftp

import (
	"context"
	"io"
	"path"
	"strings"
	"sync"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/arkstor/gatewayfs/driver"
)

func init() {
	driver.Register(&driver.Kind{
		Name:        "sftp",
		Description: "SFTP (SSH File Transfer Protocol)",
		Options: []driver.Option{
			{Name: "host", Help: "Host name or IP.", Required: true},
			{Name: "port", Help: "Port number.", Default: "22"},
			{Name: "user", Help: "SSH username.", Required: true},
			{Name: "password", Help: "SSH password.", Sensitive: true},
			{Name: "root", Help: "Root directory on the remote, absolute path.", Default: "/"},
		},
		New: NewFs,
	})
}

// Fs is a live SFTP driver instance. The underlying ssh.Client is not
// safe for fully concurrent use of the same *sftp.Client, so a mutex
// serializes calls the way the spec's §4.1 "drivers that wrap a
// non-thread-safe protocol ... serialize with an internal lock" requires.
type Fs struct {
	mu     sync.Mutex
	root   string
	sshC   *ssh.Client
	client *sftp.Client
}

// NewFs dials the SSH server and opens an SFTP session.
func NewFs(_ context.Context, name string, cfg driver.Config) (driver.Driver, error) {
	host, ok := cfg.Get("host")
	if !ok || host == "" {
		return nil, &driver.ConfigError{Field: "host", Reason: "required"}
	}
	user, ok := cfg.Get("user")
	if !ok || user == "" {
		return nil, &driver.ConfigError{Field: "user", Reason: "required"}
	}
	port := cfg.GetDefault("port", "22")
	pass, _ := cfg.Get("password")
	root := cfg.GetDefault("root", "/")

	sshCfg := &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{ssh.Password(pass)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
	}
	sshC, err := ssh.Dial("tcp", host+":"+port, sshCfg)
	if err != nil {
		return nil, driver.NewError(driver.KindAuth, "ssh dial", err)
	}
	client, err := sftp.NewClient(sshC)
	if err != nil {
		sshC.Close()
		return nil, driver.NewError(driver.KindPermanent, "open sftp session", err)
	}
	return &Fs{root: root, sshC: sshC, client: client}, nil
}

func (f *Fs) Name() string { return "sftp" }

func (f *Fs) Capabilities() driver.Capability {
	return driver.CapList | driver.CapRead | driver.CapReadRange |
		driver.CapWriteStream | driver.CapDelete | driver.CapMkdir |
		driver.CapRename | driver.CapMove
}

func (f *Fs) full(innerPath string) string {
	return path.Join(f.root, path.Clean("/"+innerPath))
}

func (f *Fs) List(ctx context.Context, innerPath string) ([]driver.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	infos, err := f.client.ReadDir(f.full(innerPath))
	if err != nil {
		return nil, classify(err)
	}
	out := make([]driver.Entry, 0, len(infos))
	for _, info := range infos {
		mt := info.ModTime()
		out = append(out, driver.Entry{
			Name:     info.Name(),
			Size:     uint64(info.Size()),
			IsDir:    info.IsDir(),
			Modified: &mt,
			Provider: "sftp",
		})
	}
	return out, nil
}

type sftpReader struct {
	*sftp.File
	fs   *Fs
	size int64
}

func (r *sftpReader) Size() int64 { return r.size }
func (r *sftpReader) Close() error {
	defer r.fs.mu.Unlock()
	return r.File.Close()
}

func (f *Fs) OpenReader(ctx context.Context, innerPath string, rng *driver.Range) (driver.Reader, error) {
	f.mu.Lock()
	fh, err := f.client.Open(f.full(innerPath))
	if err != nil {
		f.mu.Unlock()
		return nil, classify(err)
	}
	st, err := fh.Stat()
	if err != nil {
		fh.Close()
		f.mu.Unlock()
		return nil, classify(err)
	}
	size := st.Size()
	start := int64(0)
	end := size
	if rng != nil {
		start = rng.Start
		if start > size {
			fh.Close()
			f.mu.Unlock()
			return nil, driver.NewError(driver.KindRangeNotSatisfiable, innerPath, nil)
		}
		if !rng.ToEnd() && rng.End < size {
			end = rng.End
		}
		if _, err := fh.Seek(start, io.SeekStart); err != nil {
			fh.Close()
			f.mu.Unlock()
			return nil, classify(err)
		}
	}
	return &sftpReader{File: fh, fs: f, size: end - start}, nil
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

type sftpWriter struct {
	*sftp.File
	fs       *Fs
	done     uint64
	total    uint64
	progress driver.ProgressFunc
}

func (w *sftpWriter) Write(p []byte) (int, error) {
	n, err := w.File.Write(p)
	w.done += uint64(n)
	if w.progress != nil {
		w.progress(w.done, w.total)
	}
	return n, err
}

func (w *sftpWriter) Close() error {
	defer w.fs.mu.Unlock()
	return w.File.Close()
}

func (f *Fs) OpenWriter(ctx context.Context, innerPath string, sizeHint int64, progress driver.ProgressFunc) (driver.WriteCloser, error) {
	f.mu.Lock()
	full := f.full(innerPath)
	if err := f.client.MkdirAll(path.Dir(full)); err != nil {
		f.mu.Unlock()
		return nil, classify(err)
	}
	fh, err := f.client.Create(full)
	if err != nil {
		f.mu.Unlock()
		return nil, classify(err)
	}
	total := uint64(0)
	if sizeHint > 0 {
		total = uint64(sizeHint)
	}
	return &sftpWriter{File: fh, fs: f, total: total, progress: progress}, nil
}

func (f *Fs) Delete(ctx context.Context, innerPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	full := f.full(innerPath)
	if st, err := f.client.Stat(full); err == nil && st.IsDir() {
		return classify(f.client.RemoveDirectory(full))
	}
	return classify(f.client.Remove(full))
}

func (f *Fs) CreateDir(ctx context.Context, innerPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return classify(f.client.MkdirAll(f.full(innerPath)))
}

func (f *Fs) Rename(ctx context.Context, innerPath, newName string) error {
	dst := path.Join(path.Dir(innerPath), newName)
	return f.MoveItem(ctx, innerPath, dst)
}

func (f *Fs) MoveItem(ctx context.Context, src, dst string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	dstFull := f.full(dst)
	if err := f.client.MkdirAll(path.Dir(dstFull)); err != nil {
		return classify(err)
	}
	return classify(f.client.Rename(f.full(src), dstFull))
}

// CopyItem is unsupported: SFTP has no server-side copy verb, so this
// driver does not advertise CapCopy and the engine falls back to
// streaming (spec §4.1 "otherwise it must advertise the capability as
// absent").
func (f *Fs) CopyItem(ctx context.Context, src, dst string) error {
	return driver.ErrUnsupported("copy_item")
}

func (f *Fs) DirectLink(ctx context.Context, innerPath string) (string, error) {
	return "", driver.ErrUnsupported("direct_link")
}

func (f *Fs) SpaceInfo(ctx context.Context) (*driver.SpaceInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, err := f.client.StatVFS(f.root)
	if err != nil {
		return nil, driver.NewError(driver.KindUnsupported, "space_info", err)
	}
	total := st.TotalSpace()
	free := st.FreeSpace()
	return &driver.SpaceInfo{Total: total, Free: free, Used: total - free}, nil
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	if sftpErr, ok := err.(*sftp.StatusError); ok {
		switch sftpErr.Code {
		case 2: // SSH_FX_NO_SUCH_FILE
			return driver.NewError(driver.KindNotFound, err.Error(), err)
		case 3: // SSH_FX_PERMISSION_DENIED
			return driver.NewError(driver.KindAuth, err.Error(), err)
		}
	}
	msg := err.Error()
	if strings.Contains(msg, "not exist") {
		return driver.NewError(driver.KindNotFound, msg, err)
	}
	return driver.NewError(driver.KindPermanent, msg, err)
}
