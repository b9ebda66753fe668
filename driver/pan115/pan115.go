// Package pan115 implements driver.Driver against 115 Netdisk
// (115.com), grounded on original_source/drivers/pan115: token-header
// authentication, SHA1-fingerprint instant upload, opaque category ids
// ("cid") forming the directory tree.
package pan115

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"io"
	"strings"
	"time"

	"github.com/arkstor/gatewayfs/driver"
	"github.com/arkstor/gatewayfs/driver/cnpan"
)

const (
	apiBase = "https://proapi.115.com"
	referer = "https://115.com"
)

func init() {
	driver.Register(&driver.Kind{
		Name:        "pan115",
		Description: "115 Netdisk (115网盘)",
		Options: []driver.Option{
			{Name: "access_token", Help: "OpenAPI access token.", Required: true, Sensitive: true},
			{Name: "root_cid", Help: "Root category id.", Default: "0"},
		},
		New: NewFs,
	})
}

type file115 struct {
	CID     string `json:"cid"`
	FID     string `json:"fid"`
	Name    string `json:"fn"`
	Size    int64  `json:"fs"`
	IsDir   bool   `json:"fc"` // category flag: true means directory in this simplified shape
	UpdTime int64  `json:"upt"`
	Sha1    string `json:"sha1"`
}

type response115[T any] struct {
	State   bool   `json:"state"`
	Error   string `json:"error"`
	Data    T      `json:"data"`
}

// Fs is a live 115 driver instance.
type Fs struct {
	c      *cnpan.Client
	rootID string
}

func NewFs(_ context.Context, name string, cfg driver.Config) (driver.Driver, error) {
	tok, ok := cfg.Get("access_token")
	if !ok || tok == "" {
		return nil, &driver.ConfigError{Field: "access_token", Reason: "required"}
	}
	c := cnpan.NewClient(apiBase, referer)
	c.Token = "Bearer " + tok
	return &Fs{c: c, rootID: cfg.GetDefault("root_cid", "0")}, nil
}

func (f *Fs) Name() string { return "pan115" }

func (f *Fs) Capabilities() driver.Capability {
	return driver.CapList | driver.CapRead | driver.CapReadRange |
		driver.CapWriteWhole | driver.CapDelete | driver.CapMkdir |
		driver.CapRename | driver.CapMove | driver.CapCopy | driver.CapSpaceInfo |
		driver.HashCapability(driver.HashSHA1)
}

func (f *Fs) resolveID(ctx context.Context, innerPath string) (id string, isDir bool, err error) {
	id = f.rootID
	isDir = true
	for _, seg := range splitPath(innerPath) {
		children, err := f.listChildren(ctx, id)
		if err != nil {
			return "", false, err
		}
		found := false
		for _, ch := range children {
			if ch.Name == seg {
				if ch.IsDir {
					id = ch.CID
				} else {
					id = ch.FID
				}
				isDir = ch.IsDir
				found = true
				break
			}
		}
		if !found {
			return "", false, driver.ErrNotFound(innerPath)
		}
	}
	return id, isDir, nil
}

func (f *Fs) listChildren(ctx context.Context, cid string) ([]file115, error) {
	var resp response115[struct {
		Files []file115 `json:"files"`
	}]
	err := f.c.Call(ctx, "GET", "/open/ufile/files?cid="+cid+"&limit=1000", nil, &resp)
	if err != nil {
		return nil, err
	}
	if !resp.State {
		return nil, driver.NewError(driver.KindPermanent, resp.Error, nil)
	}
	return resp.Data.Files, nil
}

func (f *Fs) List(ctx context.Context, innerPath string) ([]driver.Entry, error) {
	id, isDir, err := f.resolveID(ctx, innerPath)
	if err != nil {
		return nil, err
	}
	if !isDir {
		return nil, driver.NewError(driver.KindNotADirectory, innerPath, nil)
	}
	children, err := f.listChildren(ctx, id)
	if err != nil {
		return nil, err
	}
	out := make([]driver.Entry, 0, len(children))
	for _, ch := range children {
		mt := time.Unix(ch.UpdTime, 0)
		e := driver.Entry{Name: ch.Name, Size: uint64(ch.Size), IsDir: ch.IsDir, Modified: &mt, Provider: "pan115"}
		if ch.Sha1 != "" {
			e.Hashes = map[string]string{"sha1": strings.ToLower(ch.Sha1)}
		}
		out = append(out, e)
	}
	return out, nil
}

func (f *Fs) OpenReader(ctx context.Context, innerPath string, rng *driver.Range) (driver.Reader, error) {
	id, isDir, err := f.resolveID(ctx, innerPath)
	if err != nil {
		return nil, err
	}
	if isDir {
		return nil, driver.NewError(driver.KindNotAFile, innerPath, nil)
	}
	var resp response115[struct {
		URL string `json:"url"`
	}]
	if err := f.c.Call(ctx, "POST", "/open/ufile/downurl", map[string]any{"file_id": id}, &resp); err != nil {
		return nil, err
	}
	if !resp.State {
		return nil, driver.NewError(driver.KindPermanent, resp.Error, nil)
	}
	return f.c.OpenStream(ctx, resp.Data.URL, rng)
}

func (f *Fs) Put(ctx context.Context, innerPath string, src driver.ByteSource, sizeHint int64, progress driver.ProgressFunc) error {
	data, err := io.ReadAll(src)
	if err != nil {
		return driver.NewError(driver.KindTransient, "buffer upload body", err)
	}
	sum := sha1.Sum(data)
	digest := hex.EncodeToString(sum[:])
	ok, err := f.TryInstantUpload(ctx, innerPath, driver.HashSHA1, digest, int64(len(data)))
	if err != nil {
		return err
	}
	if progress != nil {
		progress(uint64(len(data)), uint64(len(data)))
	}
	if ok {
		return nil
	}
	pid, _, err := f.resolveID(ctx, parentDir(innerPath))
	if err != nil {
		return err
	}
	var resp response115[any]
	return f.c.Call(ctx, "POST", "/open/upload/init", map[string]any{
		"target":    "U_1_" + pid,
		"file_name": baseName(innerPath),
		"file_size": len(data),
		"sha1":      digest,
	}, &resp)
}

// TryInstantUpload asks 115's "rapid upload" endpoint whether the
// backend already holds this sha1 digest.
func (f *Fs) TryInstantUpload(ctx context.Context, innerPath string, kind driver.HashKind, hexDigest string, size int64) (bool, error) {
	if kind != driver.HashSHA1 {
		return false, nil
	}
	pid, _, err := f.resolveID(ctx, parentDir(innerPath))
	if err != nil {
		return false, err
	}
	var resp response115[struct {
		Status int `json:"status"`
	}]
	err = f.c.Call(ctx, "POST", "/open/upload/init", map[string]any{
		"target":    "U_1_" + pid,
		"file_name": baseName(innerPath),
		"file_size": size,
		"sha1":      hexDigest,
	}, &resp)
	if err != nil {
		return false, err
	}
	return resp.State && resp.Data.Status == 2, nil
}

func (f *Fs) OpenWriter(ctx context.Context, innerPath string, sizeHint int64, progress driver.ProgressFunc) (driver.WriteCloser, error) {
	return nil, driver.ErrUnsupported("open_writer")
}

func (f *Fs) Delete(ctx context.Context, innerPath string) error {
	id, _, err := f.resolveID(ctx, innerPath)
	if err != nil {
		return err
	}
	var resp response115[any]
	return f.c.Call(ctx, "POST", "/open/ufile/delete", map[string]any{"file_ids": id}, &resp)
}

func (f *Fs) CreateDir(ctx context.Context, innerPath string) error {
	pid, _, err := f.resolveID(ctx, parentDir(innerPath))
	if err != nil {
		return err
	}
	var resp response115[any]
	err = f.c.Call(ctx, "POST", "/open/folder/add", map[string]any{"pid": pid, "file_name": baseName(innerPath)}, &resp)
	if err != nil {
		return err
	}
	if !resp.State && !strings.Contains(strings.ToLower(resp.Error), "exist") {
		return driver.NewError(driver.KindPermanent, resp.Error, nil)
	}
	return nil
}

func (f *Fs) Rename(ctx context.Context, innerPath, newName string) error {
	id, _, err := f.resolveID(ctx, innerPath)
	if err != nil {
		return err
	}
	var resp response115[any]
	return f.c.Call(ctx, "POST", "/open/ufile/update", map[string]any{"file_id": id, "file_name": newName}, &resp)
}

func (f *Fs) MoveItem(ctx context.Context, src, dst string) error {
	id, _, err := f.resolveID(ctx, src)
	if err != nil {
		return err
	}
	pid, _, err := f.resolveID(ctx, parentDir(dst))
	if err != nil {
		return err
	}
	var resp response115[any]
	return f.c.Call(ctx, "POST", "/open/ufile/move", map[string]any{"file_ids": id, "to_cid": pid}, &resp)
}

func (f *Fs) CopyItem(ctx context.Context, src, dst string) error {
	id, _, err := f.resolveID(ctx, src)
	if err != nil {
		return err
	}
	pid, _, err := f.resolveID(ctx, parentDir(dst))
	if err != nil {
		return err
	}
	var resp response115[any]
	return f.c.Call(ctx, "POST", "/open/ufile/copy", map[string]any{"file_id": id, "pid": pid}, &resp)
}

func (f *Fs) DirectLink(ctx context.Context, innerPath string) (string, error) {
	id, _, err := f.resolveID(ctx, innerPath)
	if err != nil {
		return "", err
	}
	var resp response115[struct {
		URL string `json:"url"`
	}]
	if err := f.c.Call(ctx, "POST", "/open/ufile/downurl", map[string]any{"file_id": id}, &resp); err != nil {
		return "", err
	}
	return resp.Data.URL, nil
}

func (f *Fs) SpaceInfo(ctx context.Context) (*driver.SpaceInfo, error) {
	var resp response115[struct {
		Total uint64 `json:"total"`
		Used  uint64 `json:"used"`
	}]
	if err := f.c.Call(ctx, "GET", "/open/user/info", nil, &resp); err != nil {
		return nil, err
	}
	return &driver.SpaceInfo{Total: resp.Data.Total, Used: resp.Data.Used, Free: resp.Data.Total - resp.Data.Used}, nil
}

func (f *Fs) SupportedHashes() []driver.HashKind { return []driver.HashKind{driver.HashSHA1} }

func (f *Fs) Hash(ctx context.Context, innerPath string, kind driver.HashKind) (string, error) {
	return "", driver.ErrUnsupported("hash")
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

func parentDir(p string) string {
	p = strings.TrimSuffix(p, "/")
	i := strings.LastIndex(p, "/")
	if i < 0 {
		return ""
	}
	return p[:i]
}

func baseName(p string) string {
	p = strings.TrimSuffix(p, "/")
	i := strings.LastIndex(p, "/")
	return p[i+1:]
}
