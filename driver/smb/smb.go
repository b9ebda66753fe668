// Package smb implements driver.Driver over SMB/CIFS using a real wire
// client rather than shelling out to the host's mount utility, grounded
// on the teacher's backend/smb: a pooled go-smb2 session per share, with
// an optional Kerberos ticket cache (see kerberos.go) in place of NTLM
// when configured.
package smb

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/cloudsoda/go-smb2"

	"github.com/arkstor/gatewayfs/driver"
)

func init() {
	driver.Register(&driver.Kind{
		Name:        "smb",
		Description: "SMB / CIFS",
		Options: []driver.Option{
			{Name: "host", Help: "SMB server hostname or address.", Required: true},
			{Name: "port", Help: "SMB port.", Default: "445"},
			{Name: "share", Help: "Share name.", Required: true},
			{Name: "user", Help: "SMB username.", Default: "guest"},
			{Name: "pass", Help: "SMB password.", Sensitive: true},
			{Name: "domain", Help: "NTLM domain.", Default: "WORKGROUP"},
			{Name: "kerberos", Help: "Authenticate via Kerberos using the host ccache instead of NTLM.", Default: "false"},
			{Name: "ccache", Help: "Kerberos credential cache path (defaults to KRB5CCNAME, then /tmp/krb5cc_<uid>)."},
			{Name: "spn", Help: "Kerberos service principal name to request a ticket for.", Default: "cifs/{host}"},
			{Name: "root", Help: "Root path within the share.", Default: "/"},
		},
		New: NewFs,
	})
}

// Fs is a live SMB driver instance holding a pool of mounted shares,
// mirroring the teacher's connection-pool-per-share design.
type Fs struct {
	addr   string
	user   string
	pass   string
	domain string
	share  string
	root   string

	kerberos bool
	ccache   string
	spn      string

	mu   sync.Mutex
	pool []*smb2.Share
}

func NewFs(_ context.Context, name string, cfg driver.Config) (driver.Driver, error) {
	host, ok := cfg.Get("host")
	if !ok || host == "" {
		return nil, &driver.ConfigError{Field: "host", Reason: "required"}
	}
	share, ok := cfg.Get("share")
	if !ok || share == "" {
		return nil, &driver.ConfigError{Field: "share", Reason: "required"}
	}
	port := cfg.GetDefault("port", "445")
	spn := cfg.GetDefault("spn", "cifs/{host}")
	f := &Fs{
		addr:     host + ":" + port,
		user:     cfg.GetDefault("user", "guest"),
		pass:     cfg.GetDefault("pass", ""),
		domain:   cfg.GetDefault("domain", "WORKGROUP"),
		share:    share,
		root:     strings.Trim(cfg.GetDefault("root", "/"), "/"),
		kerberos: cfg.GetDefault("kerberos", "false") == "true",
		ccache:   cfg.GetDefault("ccache", ""),
		spn:      strings.ReplaceAll(spn, "{host}", host),
	}
	s, err := f.mount()
	if err != nil {
		return nil, driver.NewError(driver.KindAuth, "smb mount", err)
	}
	f.put(s)
	return f, nil
}

func (f *Fs) mount() (*smb2.Share, error) {
	conn, err := netDial(f.addr)
	if err != nil {
		return nil, err
	}
	initiator, err := f.initiator()
	if err != nil {
		return nil, err
	}
	d := &smb2.Dialer{Initiator: initiator}
	session, err := d.Dial(conn)
	if err != nil {
		return nil, err
	}
	share, err := session.Mount(f.share)
	if err != nil {
		return nil, err
	}
	return share, nil
}

// initiator builds the go-smb2 session-setup initiator for this share:
// Kerberos via the host's ticket cache when opted in, NTLM otherwise.
func (f *Fs) initiator() (smb2.Initiator, error) {
	if !f.kerberos {
		return &smb2.NTLMInitiator{User: f.user, Password: f.pass, Domain: f.domain}, nil
	}
	cl, err := createKerberosClient(f.ccache)
	if err != nil {
		return nil, fmt.Errorf("smb kerberos: %w", err)
	}
	return &krb5Initiator{cl: cl, spn: f.spn}, nil
}

func (f *Fs) get() (*smb2.Share, error) {
	f.mu.Lock()
	if n := len(f.pool); n > 0 {
		s := f.pool[n-1]
		f.pool = f.pool[:n-1]
		f.mu.Unlock()
		return s, nil
	}
	f.mu.Unlock()
	return f.mount()
}

func (f *Fs) put(s *smb2.Share) {
	f.mu.Lock()
	f.pool = append(f.pool, s)
	f.mu.Unlock()
}

func (f *Fs) full(innerPath string) string {
	p := strings.Trim(f.root+"/"+strings.Trim(innerPath, "/"), "/")
	return strings.ReplaceAll(p, "/", `\`)
}

func (f *Fs) Name() string { return "smb" }

func (f *Fs) Capabilities() driver.Capability {
	return driver.CapList | driver.CapRead | driver.CapReadRange |
		driver.CapWriteWhole | driver.CapDelete | driver.CapMkdir |
		driver.CapRename | driver.CapMove | driver.CapSpaceInfo
}

func (f *Fs) List(ctx context.Context, innerPath string) ([]driver.Entry, error) {
	s, err := f.get()
	if err != nil {
		return nil, classify(err)
	}
	defer f.put(s)
	dirents, err := s.ReadDir(f.full(innerPath))
	if err != nil {
		return nil, classify(err)
	}
	out := make([]driver.Entry, 0, len(dirents))
	for _, d := range dirents {
		mt := d.ModTime()
		out = append(out, driver.Entry{Name: d.Name(), Size: uint64(d.Size()), IsDir: d.IsDir(), Modified: &mt, Provider: "smb"})
	}
	return out, nil
}

type smbReader struct {
	*smb2.File
	fs   *Fs
	s    *smb2.Share
	size int64
}

func (r *smbReader) Size() int64 { return r.size }
func (r *smbReader) Close() error {
	err := r.File.Close()
	r.fs.put(r.s)
	return err
}

func (f *Fs) OpenReader(ctx context.Context, innerPath string, rng *driver.Range) (driver.Reader, error) {
	s, err := f.get()
	if err != nil {
		return nil, classify(err)
	}
	fl, err := s.OpenFile(f.full(innerPath), os.O_RDONLY, 0)
	if err != nil {
		f.put(s)
		return nil, classify(err)
	}
	info, err := fl.Stat()
	if err != nil {
		fl.Close()
		f.put(s)
		return nil, classify(err)
	}
	size := info.Size()
	if rng != nil {
		if _, err := fl.Seek(rng.Start, io.SeekStart); err != nil {
			fl.Close()
			f.put(s)
			return nil, classify(err)
		}
		if !rng.ToEnd() {
			size = rng.End - rng.Start
		} else {
			size -= rng.Start
		}
	}
	return &smbReader{File: fl, fs: f, s: s, size: size}, nil
}

func (f *Fs) Put(ctx context.Context, innerPath string, src driver.ByteSource, sizeHint int64, progress driver.ProgressFunc) error {
	s, err := f.get()
	if err != nil {
		return classify(err)
	}
	defer f.put(s)
	full := f.full(innerPath)
	_ = s.MkdirAll(dirOf(full), 0o755)
	fl, err := s.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return classify(err)
	}
	pr := &progressReader{r: src, progress: progress, total: uint64(sizeHint)}
	if _, err := fl.ReadFrom(pr); err != nil {
		fl.Close()
		_ = s.Remove(full)
		return classify(err)
	}
	return classify(fl.Close())
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

func (f *Fs) OpenWriter(ctx context.Context, innerPath string, sizeHint int64, progress driver.ProgressFunc) (driver.WriteCloser, error) {
	return nil, driver.ErrUnsupported("open_writer")
}

func (f *Fs) Delete(ctx context.Context, innerPath string) error {
	s, err := f.get()
	if err != nil {
		return classify(err)
	}
	defer f.put(s)
	full := f.full(innerPath)
	if err := s.Remove(full); err != nil {
		if err2 := s.RemoveAll(full); err2 == nil {
			return nil
		}
		return classify(err)
	}
	return nil
}

func (f *Fs) CreateDir(ctx context.Context, innerPath string) error {
	s, err := f.get()
	if err != nil {
		return classify(err)
	}
	defer f.put(s)
	return classify(s.MkdirAll(f.full(innerPath), 0o755))
}

func (f *Fs) Rename(ctx context.Context, innerPath, newName string) error {
	dst := dirOf(innerPath) + "/" + newName
	return f.MoveItem(ctx, innerPath, dst)
}

func (f *Fs) MoveItem(ctx context.Context, src, dst string) error {
	s, err := f.get()
	if err != nil {
		return classify(err)
	}
	defer f.put(s)
	dstFull := f.full(dst)
	_ = s.MkdirAll(dirOf(dstFull), 0o755)
	return classify(s.Rename(f.full(src), dstFull))
}

// CopyItem is unsupported: SMB2 has no single-call server-side copy
// primitive this client exposes.
func (f *Fs) CopyItem(ctx context.Context, src, dst string) error {
	return driver.ErrUnsupported("copy_item")
}

func (f *Fs) DirectLink(ctx context.Context, innerPath string) (string, error) {
	return "", driver.ErrUnsupported("direct_link")
}

func (f *Fs) SpaceInfo(ctx context.Context) (*driver.SpaceInfo, error) {
	s, err := f.get()
	if err != nil {
		return nil, classify(err)
	}
	defer f.put(s)
	stat, err := s.Statfs(f.full(""))
	if err != nil {
		return nil, classify(err)
	}
	bs := uint64(stat.BlockSize())
	return &driver.SpaceInfo{
		Total: bs * stat.TotalBlockCount(),
		Used:  bs * (stat.TotalBlockCount() - stat.FreeBlockCount()),
		Free:  bs * stat.AvailableBlockCount(),
	}, nil
}

func dirOf(p string) string {
	p = strings.TrimSuffix(strings.ReplaceAll(p, `\`, "/"), "/")
	i := strings.LastIndex(p, "/")
	if i < 0 {
		return ""
	}
	return p[:i]
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
	msg := err.Error()
	if strings.Contains(msg, "timeout") || strings.Contains(msg, "connection") {
		return driver.NewError(driver.KindTransient, msg, err)
	}
	return driver.NewError(driver.KindPermanent, msg, err)
}

func netDial(addr string) (*net.TCPConn, error) {
	d := net.Dialer{Timeout: 10 * time.Second}
	c, err := d.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	return c.(*net.TCPConn), nil
}
