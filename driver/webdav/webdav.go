// Package webdav implements driver.Driver over the WebDAV protocol,
// grounded on the teacher's backend/webdav: a PROPFIND-based lister over
// plain net/http + encoding/xml, rather than pulling in a client library
// (the teacher rolls its own; see DESIGN.md).
package webdav

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/arkstor/gatewayfs/driver"
)

func init() {
	driver.Register(&driver.Kind{
		Name:        "webdav",
		Description: "WebDAV",
		Options: []driver.Option{
			{Name: "url", Help: "URL of the WebDAV host.", Required: true},
			{Name: "user", Help: "Username."},
			{Name: "pass", Help: "Password.", Sensitive: true},
			{Name: "root", Help: "Root path on the server.", Default: "/"},
		},
		New: NewFs,
	})
}

// Fs is a live WebDAV driver instance.
type Fs struct {
	endpoint *url.URL
	root     string
	user     string
	pass     string
	client   *http.Client
}

// NewFs constructs a WebDAV driver from a validated config.
func NewFs(_ context.Context, name string, cfg driver.Config) (driver.Driver, error) {
	raw, ok := cfg.Get("url")
	if !ok || raw == "" {
		return nil, &driver.ConfigError{Field: "url", Reason: "required"}
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, &driver.ConfigError{Field: "url", Reason: "not a valid URL"}
	}
	root := cfg.GetDefault("root", "/")
	user, _ := cfg.Get("user")
	pass, _ := cfg.Get("pass")
	return &Fs{endpoint: u, root: root, user: user, pass: pass, client: &http.Client{}}, nil
}

func (f *Fs) Name() string { return "webdav" }

func (f *Fs) Capabilities() driver.Capability {
	return driver.CapList | driver.CapRead | driver.CapReadRange |
		driver.CapWriteStream | driver.CapDelete | driver.CapMkdir |
		driver.CapMove | driver.CapCopy
}

func (f *Fs) absURL(innerPath string) string {
	full := path.Join(f.root, path.Clean("/"+innerPath))
	u := *f.endpoint
	u.Path = path.Join(u.Path, full)
	return u.String()
}

func (f *Fs) req(ctx context.Context, method, u string, body io.Reader, headers map[string]string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, driver.NewError(driver.KindPermanent, "build request", err)
	}
	if f.user != "" {
		req.SetBasicAuth(f.user, f.pass)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, driver.NewError(driver.KindTransient, "http request", err)
	}
	return resp, nil
}

// multistatus mirrors the minimal subset of RFC 4918 PROPFIND responses
// the engine needs, grounded on the teacher's backend/webdav/api package
// shape (Multistatus/Response/Propstat).
type multistatus struct {
	Responses []struct {
		Href      string `xml:"href"`
		Propstat  struct {
			Prop struct {
				DisplayName    string `xml:"displayname"`
				ContentLength  int64  `xml:"getcontentlength"`
				LastModified   string `xml:"getlastmodified"`
				ResourceType   struct {
					Collection *struct{} `xml:"collection"`
				} `xml:"resourcetype"`
			} `xml:"prop"`
		} `xml:"propstat"`
	} `xml:"response"`
}

func (f *Fs) List(ctx context.Context, innerPath string) ([]driver.Entry, error) {
	body := strings.NewReader(`<?xml version="1.0"?><d:propfind xmlns:d="DAV:"><d:allprop/></d:propfind>`)
	resp, err := f.req(ctx, "PROPFIND", f.absURL(innerPath), body, map[string]string{"Depth": "1", "Content-Type": "application/xml"})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := httpStatusError(resp.StatusCode); err != nil {
		return nil, err
	}
	var ms multistatus
	if err := xml.NewDecoder(resp.Body).Decode(&ms); err != nil {
		return nil, driver.NewError(driver.KindPermanent, "decode propfind", err)
	}
	selfHref := f.absURL(innerPath)
	out := []driver.Entry{}
	for _, r := range ms.Responses {
		href, _ := url.QueryUnescape(r.Href)
		if strings.TrimSuffix(href, "/") == strings.TrimSuffix(selfHrefPath(selfHref), "/") {
			continue
		}
		name := path.Base(strings.TrimSuffix(href, "/"))
		isDir := r.Propstat.Prop.ResourceType.Collection != nil
		e := driver.Entry{Name: name, IsDir: isDir, Provider: "webdav"}
		if !isDir {
			e.Size = uint64(r.Propstat.Prop.ContentLength)
			if t, err := http.ParseTime(r.Propstat.Prop.LastModified); err == nil {
				e.Modified = &t
			}
		}
		out = append(out, e)
	}
	return out, nil
}

func selfHrefPath(u string) string {
	parsed, err := url.Parse(u)
	if err != nil {
		return u
	}
	return parsed.Path
}

type webdavReader struct {
	io.ReadCloser
	size int64
}

func (r *webdavReader) Size() int64 { return r.size }

func (f *Fs) OpenReader(ctx context.Context, innerPath string, rng *driver.Range) (driver.Reader, error) {
	headers := map[string]string{}
	if rng != nil {
		if rng.ToEnd() {
			headers["Range"] = fmt.Sprintf("bytes=%d-", rng.Start)
		} else {
			headers["Range"] = fmt.Sprintf("bytes=%d-%d", rng.Start, rng.End-1)
		}
	}
	resp, err := f.req(ctx, "GET", f.absURL(innerPath), nil, headers)
	if err != nil {
		return nil, err
	}
	if err := httpStatusError(resp.StatusCode); err != nil {
		resp.Body.Close()
		return nil, err
	}
	return &webdavReader{ReadCloser: resp.Body, size: resp.ContentLength}, nil
}

func (f *Fs) Put(ctx context.Context, innerPath string, src driver.ByteSource, sizeHint int64, progress driver.ProgressFunc) error {
	pr := &progressReader{r: src, progress: progress}
	if sizeHint > 0 {
		pr.total = uint64(sizeHint)
	}
	resp, err := f.req(ctx, "PUT", f.absURL(innerPath), pr, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return httpStatusError(resp.StatusCode)
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

type webdavWriter struct {
	pw   *io.PipeWriter
	done chan error
}

func (w *webdavWriter) Write(p []byte) (int, error) { return w.pw.Write(p) }
func (w *webdavWriter) Close() error {
	_ = w.pw.Close()
	return <-w.done
}

func (f *Fs) OpenWriter(ctx context.Context, innerPath string, sizeHint int64, progress driver.ProgressFunc) (driver.WriteCloser, error) {
	pr, pw := io.Pipe()
	done := make(chan error, 1)
	go func() { done <- f.Put(ctx, innerPath, pr, sizeHint, progress) }()
	return &webdavWriter{pw: pw, done: done}, nil
}

func (f *Fs) Delete(ctx context.Context, innerPath string) error {
	resp, err := f.req(ctx, "DELETE", f.absURL(innerPath), nil, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	return httpStatusError(resp.StatusCode)
}

func (f *Fs) CreateDir(ctx context.Context, innerPath string) error {
	resp, err := f.req(ctx, "MKCOL", f.absURL(innerPath), nil, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusMethodNotAllowed {
		return nil // already exists, idempotent per spec §9
	}
	return httpStatusError(resp.StatusCode)
}

func (f *Fs) Rename(ctx context.Context, innerPath, newName string) error {
	dst := path.Join(path.Dir(innerPath), newName)
	return f.MoveItem(ctx, innerPath, dst)
}

func (f *Fs) MoveItem(ctx context.Context, src, dst string) error {
	return f.copyOrMove(ctx, "MOVE", src, dst)
}

func (f *Fs) CopyItem(ctx context.Context, src, dst string) error {
	return f.copyOrMove(ctx, "COPY", src, dst)
}

func (f *Fs) copyOrMove(ctx context.Context, method, src, dst string) error {
	resp, err := f.req(ctx, method, f.absURL(src), nil, map[string]string{
		"Destination": f.absURL(dst),
		"Overwrite":   "T",
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return httpStatusError(resp.StatusCode)
}

func (f *Fs) DirectLink(ctx context.Context, innerPath string) (string, error) {
	return "", driver.ErrUnsupported("direct_link")
}

func (f *Fs) SpaceInfo(ctx context.Context) (*driver.SpaceInfo, error) {
	return nil, driver.ErrUnsupported("space_info")
}

func httpStatusError(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusNotFound:
		return driver.NewError(driver.KindNotFound, "not found", nil)
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return driver.NewError(driver.KindAuth, "unauthorized", nil)
	case code == http.StatusConflict:
		return driver.NewError(driver.KindAlreadyExists, "conflict", nil)
	case code == http.StatusRequestedRangeNotSatisfiable:
		return driver.NewError(driver.KindRangeNotSatisfiable, "range not satisfiable", nil)
	case code == http.StatusTooManyRequests:
		return driver.NewError(driver.KindRateLimited, "rate limited", nil)
	case code >= 500:
		return driver.NewError(driver.KindTransient, "server error "+strconv.Itoa(code), nil)
	default:
		return driver.NewError(driver.KindPermanent, "unexpected status "+strconv.Itoa(code), nil)
	}
}
