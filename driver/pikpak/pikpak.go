// Package pikpak implements driver.Driver against PikPak, grounded on
// original_source/drivers/pikpak: OAuth2-shaped password/refresh-token
// login against user.mypikpak.net, a folder-id tree under
// api-drive.mypikpak.net, and server-side task-based move/copy.
package pikpak

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/arkstor/gatewayfs/driver"
	"github.com/arkstor/gatewayfs/driver/cnpan"
)

const (
	userHost = "https://user.mypikpak.net"
	apiHost  = "https://api-drive.mypikpak.net"
	referer  = "https://mypikpak.com"
	clientID = "YNxT9w7GMdWvEOKa"
)

func init() {
	driver.Register(&driver.Kind{
		Name:        "pikpak",
		Description: "PikPak",
		Options: []driver.Option{
			{Name: "username", Help: "Account username/email."},
			{Name: "password", Help: "Account password.", Sensitive: true},
			{Name: "refresh_token", Help: "OAuth refresh token (preferred over password).", Sensitive: true},
			{Name: "root_folder_id", Help: "Root folder id; empty means My Pack root."},
		},
		New: NewFs,
	})
}

type pikpakFile struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Kind      string `json:"kind"`
	Size      string `json:"size"`
	Hash      string `json:"hash"`
	ModTime   string `json:"modified_time"`
	WebURL    string `json:"web_content_link"`
}

func (f pikpakFile) isDir() bool { return strings.HasSuffix(f.Kind, "folder") }

type filesResp struct {
	Files         []pikpakFile `json:"files"`
	NextPageToken string       `json:"next_page_token"`
}

// Fs is a live PikPak driver instance.
type Fs struct {
	c        *cnpan.Client
	userC    *cnpan.Client
	username string
	password string
	rootID   string

	mu           sync.Mutex
	refreshToken string
}

func NewFs(ctx context.Context, name string, cfg driver.Config) (driver.Driver, error) {
	f := &Fs{
		c:            cnpan.NewClient(apiHost, referer),
		userC:        cnpan.NewClient(userHost, referer),
		username:     cfg.GetDefault("username", ""),
		password:     cfg.GetDefault("password", ""),
		rootID:       cfg.GetDefault("root_folder_id", ""),
		refreshToken: cfg.GetDefault("refresh_token", ""),
	}
	if f.refreshToken == "" && (f.username == "" || f.password == "") {
		return nil, &driver.ConfigError{Field: "refresh_token", Reason: "either refresh_token or username+password is required"}
	}
	if err := f.authenticate(ctx); err != nil {
		return nil, err
	}
	return f, nil
}

type tokenResp struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	Sub          string `json:"sub"`
	ErrorDesc    string `json:"error_description"`
}

func (f *Fs) authenticate(ctx context.Context) error {
	var resp tokenResp
	var err error
	if f.refreshToken != "" {
		err = f.userC.Call(ctx, "POST", "/v1/auth/token", map[string]any{
			"client_id":     clientID,
			"grant_type":    "refresh_token",
			"refresh_token": f.refreshToken,
		}, &resp)
	} else {
		err = f.userC.Call(ctx, "POST", "/v1/auth/signin", map[string]any{
			"client_id": clientID,
			"username":  f.username,
			"password":  f.password,
		}, &resp)
	}
	if err != nil {
		return err
	}
	if resp.AccessToken == "" {
		return driver.NewError(driver.KindAuth, resp.ErrorDesc, nil)
	}
	f.mu.Lock()
	f.refreshToken = resp.RefreshToken
	f.mu.Unlock()
	f.c.Token = "Bearer " + resp.AccessToken
	return nil
}

func (f *Fs) Name() string { return "pikpak" }

func (f *Fs) Capabilities() driver.Capability {
	return driver.CapList | driver.CapRead | driver.CapReadRange |
		driver.CapDelete | driver.CapMkdir | driver.CapRename |
		driver.CapMove | driver.CapCopy | driver.CapSpaceInfo |
		driver.HashCapability(driver.HashSHA1)
}

func (f *Fs) listChildren(ctx context.Context, folderID string) ([]pikpakFile, error) {
	var all []pikpakFile
	pageToken := ""
	for {
		q := "?parent_id=" + folderID + "&thumbnail_size=SIZE_LARGE&limit=100" +
			"&filters=%7B%22phase%22%3A%7B%22eq%22%3A%22PHASE_TYPE_COMPLETE%22%7D%2C%22trashed%22%3A%7B%22eq%22%3Afalse%7D%7D"
		if pageToken != "" {
			q += "&page_token=" + pageToken
		}
		var resp filesResp
		if err := f.c.Call(ctx, "GET", "/drive/v1/files"+q, nil, &resp); err != nil {
			return nil, err
		}
		all = append(all, resp.Files...)
		if resp.NextPageToken == "" {
			break
		}
		pageToken = resp.NextPageToken
	}
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
				id, isDir, found = ch.ID, ch.isDir(), true
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
		sz, _ := parseUint(ch.Size)
		e := driver.Entry{Name: ch.Name, Size: sz, IsDir: ch.isDir(), Provider: "pikpak"}
		if mt, perr := time.Parse(time.RFC3339, ch.ModTime); perr == nil {
			e.Modified = &mt
		}
		if ch.Hash != "" {
			e.Hashes = map[string]string{"sha1": strings.ToLower(ch.Hash)}
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
		WebContentLink string `json:"web_content_link"`
	}
	if err := f.c.Call(ctx, "GET", "/drive/v1/files/"+id, nil, &resp); err != nil {
		return nil, err
	}
	return f.c.OpenStream(ctx, resp.WebContentLink, rng)
}

func (f *Fs) Put(ctx context.Context, innerPath string, src driver.ByteSource, sizeHint int64, progress driver.ProgressFunc) error {
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
	var resp struct{}
	return f.c.Call(ctx, "POST", "/drive/v1/files:batchTrash", map[string]any{"ids": []string{id}}, &resp)
}

func (f *Fs) CreateDir(ctx context.Context, innerPath string) error {
	pid, _, err := f.resolveID(ctx, parentDir(innerPath))
	if err != nil {
		return err
	}
	var resp struct{}
	err = f.c.Call(ctx, "POST", "/drive/v1/files", map[string]any{
		"kind":      "drive#folder",
		"name":      baseName(innerPath),
		"parent_id": pid,
	}, &resp)
	if err != nil && strings.Contains(err.Error(), "exist") {
		return nil
	}
	return err
}

func (f *Fs) Rename(ctx context.Context, innerPath, newName string) error {
	id, _, err := f.resolveID(ctx, innerPath)
	if err != nil {
		return err
	}
	var resp struct{}
	return f.c.Call(ctx, "PATCH", "/drive/v1/files/"+id, map[string]any{"name": newName}, &resp)
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
	var resp struct{}
	return f.c.Call(ctx, "POST", "/drive/v1/files:batchMove", map[string]any{
		"ids": []string{id}, "to": map[string]any{"parent_id": pid},
	}, &resp)
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
	var resp struct{}
	return f.c.Call(ctx, "POST", "/drive/v1/files:batchCopy", map[string]any{
		"ids": []string{id}, "to": map[string]any{"parent_id": pid},
	}, &resp)
}

func (f *Fs) DirectLink(ctx context.Context, innerPath string) (string, error) {
	id, _, err := f.resolveID(ctx, innerPath)
	if err != nil {
		return "", err
	}
	var resp struct {
		WebContentLink string `json:"web_content_link"`
	}
	if err := f.c.Call(ctx, "GET", "/drive/v1/files/"+id, nil, &resp); err != nil {
		return "", err
	}
	return resp.WebContentLink, nil
}

func (f *Fs) SpaceInfo(ctx context.Context) (*driver.SpaceInfo, error) {
	var resp struct {
		Quota struct {
			Limit uint64 `json:"limit"`
			Usage uint64 `json:"usage"`
		} `json:"quota"`
	}
	if err := f.c.Call(ctx, "GET", "/drive/v1/about", nil, &resp); err != nil {
		return nil, err
	}
	return &driver.SpaceInfo{Total: resp.Quota.Limit, Used: resp.Quota.Usage, Free: resp.Quota.Limit - resp.Quota.Usage}, nil
}

func parseUint(s string) (uint64, error) {
	var n uint64
	for _, c := range s {
		if c < '0' || c > '9' {
			return n, nil
		}
		n = n*10 + uint64(c-'0')
	}
	return n, nil
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
