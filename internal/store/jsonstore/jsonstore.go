// Package jsonstore implements vfs.Store as a single JSON file on
// disk, grounded on the teacher's fs/config/configfile (an in-memory
// struct guarded by a mutex, checked against the file's mtime/size
// before use, and rewritten atomically via a temp file + rename) but
// swapping its INI format for gopkg.in/yaml.v3-adjacent JSON since the
// mounts table is a list of structured records rather than free-form
// key/value sections.
package jsonstore

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/arkstor/gatewayfs/driver"
	"github.com/arkstor/gatewayfs/internal/vfs"
)

// record is the on-disk shape of a vfs.Mount; CacheTTL round-trips as
// milliseconds since time.Duration has no natural JSON form.
type record struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	DriverKind    string        `json:"driver_kind"`
	MountPath     string        `json:"mount_path"`
	Config        driver.Config `json:"config_json"`
	Enabled       bool          `json:"enabled"`
	Order         int           `json:"order"`
	Remark        string        `json:"remark"`
	CacheTTLMs    int64         `json:"cache_ttl_ms,omitempty"`
}

func toRecord(m vfs.Mount) record {
	r := record{
		ID: m.ID, Name: m.Name, DriverKind: m.DriverKind, MountPath: m.MountPath,
		Config: m.Config, Enabled: m.Enabled, Order: m.Order, Remark: m.Remark,
	}
	if m.CacheTTL > 0 {
		r.CacheTTLMs = m.CacheTTL.Milliseconds()
	}
	return r
}

func fromRecord(r record) vfs.Mount {
	m := vfs.Mount{
		ID: r.ID, Name: r.Name, DriverKind: r.DriverKind, MountPath: r.MountPath,
		Config: r.Config, Enabled: r.Enabled, Order: r.Order, Remark: r.Remark,
	}
	if r.CacheTTLMs > 0 {
		m.CacheTTL = time.Duration(r.CacheTTLMs) * time.Millisecond
	}
	return m
}

// Store is a file-backed vfs.Store. Safe for concurrent use.
type Store struct {
	mu       sync.Mutex
	path     string
	records  map[string]record
	modTime  time.Time
	fileSize int64
}

// New opens (or creates) the JSON store at path.
func New(path string) (*Store, error) {
	s := &Store{path: path, records: map[string]record{}}
	if err := s.load(); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return s, nil
}

// load must be called with s.mu held.
func (s *Store) load() error {
	fi, err := os.Stat(s.path)
	if err != nil {
		return err
	}
	f, err := os.Open(s.path)
	if err != nil {
		return err
	}
	defer f.Close()
	var recs []record
	if err := json.NewDecoder(f).Decode(&recs); err != nil {
		return errors.Wrap(err, "decode mount store")
	}
	s.records = make(map[string]record, len(recs))
	for _, r := range recs {
		s.records[r.ID] = r
	}
	s.modTime = fi.ModTime()
	s.fileSize = fi.Size()
	return nil
}

// reloadIfChanged mirrors the teacher's configfile._check: re-read
// from disk if another process has touched the file since we last
// loaded it. Must be called with s.mu held.
func (s *Store) reloadIfChanged() {
	fi, err := os.Stat(s.path)
	if err != nil {
		return
	}
	if fi.ModTime().After(s.modTime) || fi.Size() != s.fileSize {
		_ = s.load()
	}
}

// saveLocked atomically rewrites the store file. Must be called with
// s.mu held.
func (s *Store) saveLocked() error {
	recs := make([]record, 0, len(s.records))
	for _, r := range s.records {
		recs = append(recs, r)
	}
	buf, err := json.MarshalIndent(recs, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode mount store")
	}
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".mounts-*.json.tmp")
	if err != nil {
		return errors.Wrap(err, "create temp mount store")
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(buf); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return errors.Wrap(err, "write temp mount store")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return errors.Wrap(err, "rename mount store into place")
	}
	if fi, err := os.Stat(s.path); err == nil {
		s.modTime = fi.ModTime()
		s.fileSize = fi.Size()
	}
	return nil
}

func (s *Store) List(ctx context.Context) ([]vfs.Mount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reloadIfChanged()
	out := make([]vfs.Mount, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, fromRecord(r))
	}
	return out, nil
}

func (s *Store) Get(ctx context.Context, id string) (vfs.Mount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reloadIfChanged()
	r, ok := s.records[id]
	if !ok {
		return vfs.Mount{}, errors.Errorf("mount %q not found", id)
	}
	return fromRecord(r), nil
}

func (s *Store) Create(ctx context.Context, m vfs.Mount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reloadIfChanged()
	if _, exists := s.records[m.ID]; exists {
		return errors.Errorf("mount %q already exists", m.ID)
	}
	s.records[m.ID] = toRecord(m)
	return s.saveLocked()
}

func (s *Store) Update(ctx context.Context, m vfs.Mount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reloadIfChanged()
	if _, exists := s.records[m.ID]; !exists {
		return errors.Errorf("mount %q not found", m.ID)
	}
	s.records[m.ID] = toRecord(m)
	return s.saveLocked()
}

func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reloadIfChanged()
	if _, exists := s.records[id]; !exists {
		return errors.Errorf("mount %q not found", id)
	}
	delete(s.records, id)
	return s.saveLocked()
}
