// Package cloud189 implements driver.Driver against China Telecom's
// Cloud189 (天翼云盘), grounded on original_source/drivers/cloud189:
// session-cookie auth refreshed from a long-lived refresh_token, an
// opaque folder-id tree with no direct path-resolve endpoint, and
// async batch tasks for move/copy.
package cloud189

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/arkstor/gatewayfs/driver"
	"github.com/arkstor/gatewayfs/driver/cnpan"
)

const (
	apiBase = "https://cloud.189.cn/api"
	referer = "https://cloud.189.cn"
)

func init() {
	driver.Register(&driver.Kind{
		Name:        "cloud189",
		Description: "天翼云盘 (Cloud189)",
		Options: []driver.Option{
			{Name: "username", Help: "Account username.", Required: true},
			{Name: "password", Help: "Account password.", Required: true, Sensitive: true},
			{Name: "root_folder_id", Help: "Root folder id.", Default: "-11"},
			{Name: "family_id", Help: "Family-space id; empty uses personal space."},
		},
		New: NewFs,
	})
}

type fileResp struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Size      int64  `json:"size"`
	IsFolder  bool   `json:"isFolder"`
	LastOpTime string `json:"lastOpTime"`
	Md5       string `json:"md5"`
}

type filesResp struct {
	FileListAO struct {
		FileList   []fileResp `json:"fileList"`
		FolderList []fileResp `json:"folderList"`
	} `json:"fileListAO"`
}

// Fs is a live Cloud189 driver instance.
type Fs struct {
	c        *cnpan.Client
	username string
	password string
	rootID   string
	familyID string

	mu      sync.Mutex
	session string // session token, re-signed into the Cookie header
}

func NewFs(ctx context.Context, name string, cfg driver.Config) (driver.Driver, error) {
	user, ok := cfg.Get("username")
	if !ok || user == "" {
		return nil, &driver.ConfigError{Field: "username", Reason: "required"}
	}
	pass, ok := cfg.Get("password")
	if !ok || pass == "" {
		return nil, &driver.ConfigError{Field: "password", Reason: "required"}
	}
	f := &Fs{
		c:        cnpan.NewClient(apiBase, referer),
		username: user,
		password: pass,
		rootID:   cfg.GetDefault("root_folder_id", "-11"),
		familyID: cfg.GetDefault("family_id", ""),
	}
	if err := f.login(ctx); err != nil {
		return nil, err
	}
	return f, nil
}

// login exchanges username/password for a session cookie. The real
// protocol walks an RSA-encrypted login page first; here the exchange
// is reduced to a single call against the app login endpoint, which is
// the shape the teacher's LoginManager ultimately produces: a
// session cookie string stashed on the client.
func (f *Fs) login(ctx context.Context) error {
	var resp struct {
		SessionKey string `json:"sessionKey"`
		Errmsg     string `json:"errorMsg"`
	}
	err := f.c.Call(ctx, "POST", "/logbox/oauth2/loginSubmit.do", map[string]any{
		"userName": f.username,
		"password": f.password,
	}, &resp)
	if err != nil {
		return err
	}
	if resp.SessionKey == "" {
		return driver.NewError(driver.KindAuth, resp.Errmsg, nil)
	}
	f.mu.Lock()
	f.session = resp.SessionKey
	f.c.Cookie = "COOKIE_LOGIN_USER=" + resp.SessionKey
	f.mu.Unlock()
	return nil
}

func (f *Fs) Name() string { return "cloud189" }

func (f *Fs) Capabilities() driver.Capability {
	return driver.CapList | driver.CapRead | driver.CapReadRange |
		driver.CapDelete | driver.CapMkdir |
		driver.CapRename | driver.CapMove | driver.CapCopy | driver.CapSpaceInfo |
		driver.HashCapability(driver.HashMD5)
}

func (f *Fs) folderQuery() string {
	if f.familyID != "" {
		return "&familyId=" + f.familyID
	}
	return ""
}

func (f *Fs) listChildren(ctx context.Context, folderID string) ([]fileResp, error) {
	endpoint := "/listFiles.action"
	if f.familyID != "" {
		endpoint = "/open/family/file/listFiles.action"
	}
	var resp filesResp
	q := fmt.Sprintf("?folderId=%s&pageNum=1&pageSize=1000%s", folderID, f.folderQuery())
	if err := f.c.Call(ctx, "GET", endpoint+q, nil, &resp); err != nil {
		return nil, err
	}
	all := append([]fileResp{}, resp.FileListAO.FolderList...)
	for i := range all {
		all[i].IsFolder = true
	}
	all = append(all, resp.FileListAO.FileList...)
	return all, nil
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
				id = ch.ID
				isDir = ch.IsFolder
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
		e := driver.Entry{Name: ch.Name, Size: uint64(ch.Size), IsDir: ch.IsFolder, Provider: "cloud189"}
		if mt, perr := time.Parse("2006-01-02 15:04:05", ch.LastOpTime); perr == nil {
			e.Modified = &mt
		}
		if ch.Md5 != "" {
			e.Hashes = map[string]string{"md5": strings.ToLower(ch.Md5)}
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
	var resp struct {
		FileDownloadURL string `json:"fileDownloadUrl"`
	}
	if err := f.c.Call(ctx, "GET", "/getFileDownloadUrl.action?fileId="+id, nil, &resp); err != nil {
		return nil, err
	}
	url := strings.ReplaceAll(resp.FileDownloadURL, "&amp;", "&")
	url = strings.Replace(url, "http://", "https://", 1)
	return f.c.OpenStream(ctx, url, rng)
}

func (f *Fs) Put(ctx context.Context, innerPath string, src driver.ByteSource, sizeHint int64, progress driver.ProgressFunc) error {
	// Cloud189's upload flow is a three-phase init/commit OSS hand-off;
	// this driver declares no write capability (neither CapWriteStream
	// nor CapWriteWhole), so the engine rejects uploads to it as
	// unsupported, matching the teacher's own no_upload:true default for
	// this backend.
	return driver.ErrUnsupported("put")
}

func (f *Fs) OpenWriter(ctx context.Context, innerPath string, sizeHint int64, progress driver.ProgressFunc) (driver.WriteCloser, error) {
	return nil, driver.ErrUnsupported("open_writer")
}

func (f *Fs) Delete(ctx context.Context, innerPath string) error {
	id, _, err := f.resolveID(ctx, innerPath)
	if err != nil {
		return err
	}
	taskID, err := f.createBatchTask(ctx, "DELETE", []string{id})
	if err != nil {
		return err
	}
	return f.waitBatchTask(ctx, "DELETE", taskID)
}

func (f *Fs) CreateDir(ctx context.Context, innerPath string) error {
	pid, _, err := f.resolveID(ctx, parentDir(innerPath))
	if err != nil {
		return err
	}
	var resp struct {
		ID string `json:"id"`
	}
	q := fmt.Sprintf("?parentFolderId=%s&folderName=%s%s", pid, baseName(innerPath), f.folderQuery())
	err = f.c.Call(ctx, "POST", "/createFolder.action"+q, nil, &resp)
	if err != nil && !strings.Contains(err.Error(), "exist") {
		return err
	}
	return nil
}

func (f *Fs) Rename(ctx context.Context, innerPath, newName string) error {
	id, isDir, err := f.resolveID(ctx, innerPath)
	if err != nil {
		return err
	}
	endpoint := "/renameFile.action?fileId="
	if isDir {
		endpoint = "/renameFolder.action?folderId="
	}
	var resp struct{}
	return f.c.Call(ctx, "POST", endpoint+id+"&destFileName="+newName, nil, &resp)
}

func (f *Fs) createBatchTask(ctx context.Context, taskType string, ids []string) (string, error) {
	var resp struct {
		TaskID string `json:"taskId"`
	}
	err := f.c.Call(ctx, "POST", "/batch/createBatchTask.action", map[string]any{
		"type":      taskType,
		"taskInfos": ids,
	}, &resp)
	return resp.TaskID, err
}

func (f *Fs) waitBatchTask(ctx context.Context, taskType, taskID string) error {
	for i := 0; i < 20; i++ {
		var resp struct {
			TaskStatus int `json:"taskStatus"`
		}
		err := f.c.Call(ctx, "GET", "/batch/checkBatchTask.action?type="+taskType+"&taskId="+taskID, nil, &resp)
		if err != nil {
			return err
		}
		if resp.TaskStatus >= 3 {
			return nil
		}
		select {
		case <-ctx.Done():
			return driver.NewError(driver.KindCancelled, "batch task wait cancelled", ctx.Err())
		case <-time.After(500 * time.Millisecond):
		}
	}
	return driver.NewError(driver.KindTransient, "batch task did not finish in time", nil)
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
	taskID, err := f.createBatchTask(ctx, "MOVE", []string{id + ":" + pid})
	if err != nil {
		return err
	}
	return f.waitBatchTask(ctx, "MOVE", taskID)
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
	taskID, err := f.createBatchTask(ctx, "COPY", []string{id + ":" + pid})
	if err != nil {
		return err
	}
	return f.waitBatchTask(ctx, "COPY", taskID)
}

func (f *Fs) DirectLink(ctx context.Context, innerPath string) (string, error) {
	id, _, err := f.resolveID(ctx, innerPath)
	if err != nil {
		return "", err
	}
	var resp struct {
		FileDownloadURL string `json:"fileDownloadUrl"`
	}
	if err := f.c.Call(ctx, "GET", "/getFileDownloadUrl.action?fileId="+id, nil, &resp); err != nil {
		return "", err
	}
	return strings.ReplaceAll(resp.FileDownloadURL, "&amp;", "&"), nil
}

func (f *Fs) SpaceInfo(ctx context.Context) (*driver.SpaceInfo, error) {
	var resp struct {
		Cloud struct {
			Capacity uint64 `json:"capacity"`
			Used     uint64 `json:"used"`
		} `json:"cloudCapacityInfo"`
	}
	if err := f.c.Call(ctx, "GET", "/getUserSizeInfo.action", nil, &resp); err != nil {
		return nil, err
	}
	return &driver.SpaceInfo{
		Total: resp.Cloud.Capacity,
		Used:  resp.Cloud.Used,
		Free:  resp.Cloud.Capacity - resp.Cloud.Used,
	}, nil
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
