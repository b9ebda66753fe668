// Package lanzou implements driver.Driver against Lanzou Cloud
// (蓝奏云), grounded on original_source/drivers/lanzou. Unlike the other
// Chinese cloud-drive backends this one has no documented JSON API: the
// teacher-equivalent original scrapes vei/uid tokens out of an HTML page
// and posts form-encoded requests to doupload.php, so this driver talks
// plain net/http + regexp rather than driver/cnpan's JSON client.
package lanzou

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/arkstor/gatewayfs/driver"
)

const baseURL = "https://pc.woozooo.com"

func init() {
	driver.Register(&driver.Kind{
		Name:        "lanzou",
		Description: "蓝奏云 (Lanzou Cloud)",
		Options: []driver.Option{
			{Name: "cookie", Help: "Browser session cookie (ylogin + phpdisk_info).", Required: true, Sensitive: true},
			{Name: "root_folder_id", Help: "Root folder id.", Default: "-1"},
		},
		New: NewFs,
	})
}

var (
	uidRe = regexp.MustCompile(`uid=([^'"&;]+)`)
	veiRe = regexp.MustCompile(`'vei'\s*:\s*'([^']+)'`)
)

// Fs is a live Lanzou driver instance. uid/vei are scraped from
// mydisk.php on first use and cached for the lifetime of the instance.
type Fs struct {
	http   *http.Client
	cookie string
	rootID string

	mu  sync.Mutex
	uid string
	vei string
}

func NewFs(ctx context.Context, name string, cfg driver.Config) (driver.Driver, error) {
	cookie, ok := cfg.Get("cookie")
	if !ok || cookie == "" {
		return nil, &driver.ConfigError{Field: "cookie", Reason: "required"}
	}
	f := &Fs{http: &http.Client{}, cookie: cookie, rootID: cfg.GetDefault("root_folder_id", "-1")}
	if err := f.ensureTokens(ctx); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *Fs) ensureTokens(ctx context.Context) error {
	f.mu.Lock()
	if f.uid != "" && f.vei != "" {
		f.mu.Unlock()
		return nil
	}
	f.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, "GET", baseURL+"/mydisk.php", nil)
	if err != nil {
		return driver.NewError(driver.KindPermanent, "build request", err)
	}
	req.Header.Set("Cookie", f.cookie)
	resp, err := f.http.Do(req)
	if err != nil {
		return driver.NewError(driver.KindTransient, "fetch mydisk.php", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return driver.NewError(driver.KindTransient, "read mydisk.php", err)
	}
	html := string(body)
	if strings.Contains(html, "登录") && strings.Contains(html, "账号") && !strings.Contains(html, "uid=") {
		return driver.NewError(driver.KindAuth, "lanzou cookie expired", nil)
	}
	uidM := uidRe.FindStringSubmatch(html)
	veiM := veiRe.FindStringSubmatch(html)
	if uidM == nil || veiM == nil {
		return driver.NewError(driver.KindPermanent, "could not extract uid/vei", nil)
	}
	f.mu.Lock()
	f.uid, f.vei = uidM[1], veiM[1]
	f.mu.Unlock()
	return nil
}

type doUploadResp struct {
	Zt   int             `json:"zt"`
	Info string          `json:"info"`
	Text json.RawMessage `json:"text"`
}

func (r *doUploadResp) rows() ([]lanzouFileRow, error) {
	var rows []lanzouFileRow
	if len(r.Text) == 0 {
		return nil, nil
	}
	err := json.Unmarshal(r.Text, &rows)
	return rows, err
}

type lanzouFileRow struct {
	ID     string `json:"id"`
	NameAll string `json:"name_all"`
	Size   string `json:"size"`
	FolID  string `json:"folderid"`
	FolName string `json:"name"`
	Time   string `json:"time"`
}

// doupload posts a form-encoded request to the legacy doupload.php
// endpoint every authenticated API call in this backend funnels through.
func (f *Fs) doupload(ctx context.Context, form url.Values) (*doUploadResp, error) {
	if err := f.ensureTokens(ctx); err != nil {
		return nil, err
	}
	f.mu.Lock()
	uid, vei := f.uid, f.vei
	f.mu.Unlock()
	endpoint := fmt.Sprintf("%s/doupload.php?uid=%s&vei=%s", baseURL, uid, vei)
	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, driver.NewError(driver.KindPermanent, "build request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Cookie", f.cookie)
	req.Header.Set("Referer", baseURL+"/mydisk.php")
	resp, err := f.http.Do(req)
	if err != nil {
		return nil, driver.NewError(driver.KindTransient, "doupload request", err)
	}
	defer resp.Body.Close()
	var out doUploadResp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, driver.NewError(driver.KindPermanent, "decode doupload response", err)
	}
	if out.Zt != 1 {
		return nil, driver.NewError(driver.KindPermanent, out.Info, nil)
	}
	return &out, nil
}

func (f *Fs) Name() string { return "lanzou" }

func (f *Fs) Capabilities() driver.Capability {
	return driver.CapList | driver.CapRead |
		driver.CapDelete | driver.CapMkdir | driver.CapRename | driver.CapMove
}

func (f *Fs) getFolders(ctx context.Context, folderID string) ([]lanzouFileRow, error) {
	form := url.Values{"task": {"47"}, "folder_id": {folderID}}
	resp, err := f.doupload(ctx, form)
	if err != nil {
		return nil, err
	}
	rows, err := resp.rows()
	if err != nil {
		return nil, driver.NewError(driver.KindPermanent, "decode folder list", err)
	}
	return rows, nil
}

func (f *Fs) getFiles(ctx context.Context, folderID string) ([]lanzouFileRow, error) {
	form := url.Values{"task": {"5"}, "folder_id": {folderID}, "pg": {"1"}}
	resp, err := f.doupload(ctx, form)
	if err != nil {
		return nil, err
	}
	rows, err := resp.rows()
	if err != nil {
		return nil, driver.NewError(driver.KindPermanent, "decode file list", err)
	}
	return rows, nil
}

func (f *Fs) resolveID(ctx context.Context, innerPath string) (id string, isDir bool, err error) {
	id = f.rootID
	isDir = true
	for _, seg := range splitPath(innerPath) {
		folders, err := f.getFolders(ctx, id)
		if err != nil {
			return "", false, err
		}
		found := false
		for _, fo := range folders {
			if fo.FolName == seg {
				id, isDir, found = fo.FolID, true, true
				break
			}
		}
		if !found {
			files, err := f.getFiles(ctx, id)
			if err != nil {
				return "", false, err
			}
			for _, fi := range files {
				if fi.NameAll == seg {
					id, isDir, found = fi.ID, false, true
					break
				}
			}
		}
		if !found {
			return "", false, driver.ErrNotFound(innerPath)
		}
	}
	return id, isDir, nil
}

func (f *Fs) List(ctx context.Context, innerPath string) ([]driver.Entry, error) {
	id, isDir, err := f.resolveID(ctx, innerPath)
	if err != nil {
		return nil, err
	}
	if !isDir {
		return nil, driver.NewError(driver.KindNotADirectory, innerPath, nil)
	}
	folders, err := f.getFolders(ctx, id)
	if err != nil {
		return nil, err
	}
	files, err := f.getFiles(ctx, id)
	if err != nil {
		return nil, err
	}
	out := make([]driver.Entry, 0, len(folders)+len(files))
	for _, fo := range folders {
		out = append(out, driver.Entry{Name: fo.FolName, IsDir: true, Provider: "lanzou"})
	}
	for _, fi := range files {
		sz, _ := strconv.ParseUint(fi.Size, 10, 64)
		out = append(out, driver.Entry{Name: fi.NameAll, Size: sz, Provider: "lanzou"})
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
	form := url.Values{"task": {"22"}, "file_id": {id}}
	resp, err := f.doupload(ctx, form)
	if err != nil {
		return nil, err
	}
	var share struct {
		Dom string `json:"dom"`
		URL string `json:"url"`
	}
	if err := json.Unmarshal(resp.Text, &share); err != nil {
		return nil, driver.NewError(driver.KindPermanent, "decode share info", err)
	}
	downloadURL := share.Dom + "/file/" + share.URL
	req, err := http.NewRequestWithContext(ctx, "GET", downloadURL, nil)
	if err != nil {
		return nil, driver.NewError(driver.KindPermanent, "build request", err)
	}
	if rng != nil && !rng.ToEnd() {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", rng.Start, rng.End-1))
	} else if rng != nil {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", rng.Start))
	}
	resp2, err := f.http.Do(req)
	if err != nil {
		return nil, driver.NewError(driver.KindTransient, "download", err)
	}
	return &lanzouReader{ReadCloser: resp2.Body, size: resp2.ContentLength}, nil
}

type lanzouReader struct {
	io.ReadCloser
	size int64
}

func (r *lanzouReader) Size() int64 { return r.size }

func (f *Fs) Put(ctx context.Context, innerPath string, src driver.ByteSource, sizeHint int64, progress driver.ProgressFunc) error {
	return driver.ErrUnsupported("put")
}

func (f *Fs) OpenWriter(ctx context.Context, innerPath string, sizeHint int64, progress driver.ProgressFunc) (driver.WriteCloser, error) {
	return nil, driver.ErrUnsupported("open_writer")
}

func (f *Fs) Delete(ctx context.Context, innerPath string) error {
	id, isDir, err := f.resolveID(ctx, innerPath)
	if err != nil {
		return err
	}
	task := "6"
	key := "file_id"
	if isDir {
		task = "3"
		key = "folder_id"
	}
	_, err = f.doupload(ctx, url.Values{"task": {task}, key: {id}})
	return err
}

func (f *Fs) CreateDir(ctx context.Context, innerPath string) error {
	pid, _, err := f.resolveID(ctx, parentDir(innerPath))
	if err != nil {
		return err
	}
	_, err = f.doupload(ctx, url.Values{"task": {"2"}, "parent_id": {pid}, "folder_name": {baseName(innerPath)}})
	if err != nil && strings.Contains(err.Error(), "已存在") {
		return nil
	}
	return err
}

func (f *Fs) Rename(ctx context.Context, innerPath, newName string) error {
	id, isDir, err := f.resolveID(ctx, innerPath)
	if err != nil {
		return err
	}
	if isDir {
		_, err = f.doupload(ctx, url.Values{"task": {"4"}, "folder_id": {id}, "folder_name": {newName}})
		return err
	}
	_, err = f.doupload(ctx, url.Values{"task": {"46"}, "file_id": {id}, "file_name": {newName}})
	return err
}

func (f *Fs) MoveItem(ctx context.Context, src, dst string) error {
	id, isDir, err := f.resolveID(ctx, src)
	if err != nil {
		return err
	}
	if isDir {
		return driver.ErrUnsupported("move_item for folders")
	}
	pid, _, err := f.resolveID(ctx, parentDir(dst))
	if err != nil {
		return err
	}
	_, err = f.doupload(ctx, url.Values{"task": {"20"}, "file_id": {id}, "folder_id": {pid}})
	return err
}

func (f *Fs) CopyItem(ctx context.Context, src, dst string) error {
	return driver.ErrUnsupported("copy_item")
}

func (f *Fs) DirectLink(ctx context.Context, innerPath string) (string, error) {
	return "", driver.ErrUnsupported("direct_link")
}

func (f *Fs) SpaceInfo(ctx context.Context) (*driver.SpaceInfo, error) {
	return nil, driver.ErrUnsupported("space_info")
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
