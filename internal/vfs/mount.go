// Package vfs is the mount manager and path resolver: the in-memory
// table mapping virtual path prefixes to live driver instances,
// grounded on original_source/src/storage/manager.rs's StorageManager
// (a RwLock<HashMap> of drivers plus a longest-prefix resolve_path)
// translated into the teacher's ref-counted-instance idiom from
// fs/cache (Pin/PinUntilFinalized keeps an Fs alive across users) and
// vfs.VFS.Stat's path-walking style.
package vfs

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/arkstor/gatewayfs/driver"
	"github.com/arkstor/gatewayfs/internal/pathutil"
)

// Mount is a persisted binding of a virtual prefix to a driver
// configuration, per the Mount entity.
type Mount struct {
	ID         string
	Name       string
	DriverKind string
	MountPath  string
	Config     driver.Config
	Enabled    bool
	Order      int
	Remark     string
	// CacheTTL overrides the manager's global listing-cache TTL for
	// this mount when non-zero (spec §9 open question: per-mount TTL
	// override for slow cloud listings).
	CacheTTL time.Duration
}

// Store is the persistence contract the Mount Manager relies on,
// mirrored from spec §6's mounts table description.
type Store interface {
	List(ctx context.Context) ([]Mount, error)
	Get(ctx context.Context, id string) (Mount, error)
	Create(ctx context.Context, m Mount) error
	Update(ctx context.Context, m Mount) error
	Delete(ctx context.Context, id string) error
}

// instance is a reference-counted live driver, so that a reconfigure
// or unmount can swap the table entry while operations already
// holding a reference finish against the old one (spec §9 "driver
// instance hot-swap").
type instance struct {
	mu       sync.Mutex
	mount    Mount
	driver   driver.Driver
	refs     int
	disposed bool
}

func newInstance(m Mount, d driver.Driver) *instance {
	return &instance{mount: m, driver: d, refs: 1}
}

func (in *instance) acquire() *Ref {
	in.mu.Lock()
	in.refs++
	in.mu.Unlock()
	return &Ref{in: in}
}

func (in *instance) release() {
	in.mu.Lock()
	in.refs--
	n := in.refs
	in.mu.Unlock()
	if n == 0 {
		in.dispose()
	}
}

func (in *instance) dispose() {
	in.mu.Lock()
	if in.disposed {
		in.mu.Unlock()
		return
	}
	in.disposed = true
	in.mu.Unlock()
	// Drivers don't currently expose a Close method; backends that
	// hold pooled connections (ftp, smb, sftp) release them lazily as
	// pool entries are garbage collected. A future driver.Closer
	// optional interface would hook in here.
}

// Ref is a held reference to a live driver instance. Callers must
// call Release exactly once when finished with it.
type Ref struct {
	in *instance
}

// Driver returns the underlying live driver.
func (r *Ref) Driver() driver.Driver { return r.in.driver }

// Mount returns the mount record this instance was built from.
func (r *Ref) Mount() Mount { return r.in.mount }

// Release drops this reference; the instance is disposed once its
// last reference is released.
func (r *Ref) Release() {
	if r == nil || r.in == nil {
		return
	}
	r.in.release()
}

// Overlay is true when a resolution names a synthetic directory that
// exists only because deeper mounts exist below it.
type Resolution struct {
	Ref       *Ref   // nil when Overlay is true
	InnerPath string // valid only when Ref != nil
	MountPath string // valid only when Ref != nil
	Overlay   bool
	// OverlayChildren lists the first path segment of every mount
	// nested below the resolved virtual path, deduplicated, for an
	// OverlayResolution.
	OverlayChildren []string
}

// ErrNotFound is returned by Resolve when no mount covers the path
// and no mount is nested below it either.
var ErrNotFound = errors.New("no mount covers this path")

// Manager is the mount table: an ordered (mount_path, instance) list
// sorted by mount_path length descending for longest-prefix lookup,
// plus an exact-match index, guarded by an RWMutex the way the spec's
// "shared read grant / exclusive reconfigure grant" describes.
type Manager struct {
	mu       sync.RWMutex
	byPath   map[string]*instance // exact mount_path -> instance
	ordered  []*instance          // sorted by len(mount_path) descending
	registry *driver.Registry     // nil means use the package-global registry
	store    Store
}

// NewManager builds an empty Manager. If store is non-nil, mounts
// persisted there are not loaded automatically — call LoadAll.
func NewManager(store Store) *Manager {
	return &Manager{byPath: map[string]*instance{}, store: store}
}

// NewManagerWithRegistry is NewManager but against a private driver
// registry instead of the package-global one, so tests can register
// fake driver kinds without touching global state.
func NewManagerWithRegistry(store Store, reg *driver.Registry) *Manager {
	return &Manager{byPath: map[string]*instance{}, store: store, registry: reg}
}

func (m *Manager) reg() *driver.Registry {
	if m.registry != nil {
		return m.registry
	}
	return nil
}

func (m *Manager) newDriver(ctx context.Context, kind, name string, cfg driver.Config) (driver.Driver, error) {
	if r := m.reg(); r != nil {
		return r.New(ctx, kind, name, cfg)
	}
	return driver.New(ctx, kind, name, cfg)
}

// LoadAll constructs driver instances for every enabled mount in the
// store and installs them, replacing the current table.
func (m *Manager) LoadAll(ctx context.Context) error {
	mounts, err := m.store.List(ctx)
	if err != nil {
		return errors.Wrap(err, "list mounts")
	}
	for _, mt := range mounts {
		if !mt.Enabled {
			continue
		}
		if err := m.Mount(ctx, mt); err != nil {
			return errors.Wrapf(err, "mount %s (%s)", mt.Name, mt.ID)
		}
	}
	return nil
}

func normalizeMountPath(p string) (string, error) {
	np, err := pathutil.Normalize(p)
	if err != nil {
		return "", err
	}
	if np != "/" {
		np = strings.TrimSuffix(np, "/")
	}
	return np, nil
}

// Mount validates and constructs a driver instance for m, then
// installs it into the table, invalidating any cached resolutions.
// Rejects a mount_path collision with another enabled mount (spec §4.3
// invariant: two enabled mounts with identical mount_path are
// rejected).
func (mgr *Manager) Mount(ctx context.Context, mt Mount) error {
	mp, err := normalizeMountPath(mt.MountPath)
	if err != nil {
		return errors.Wrap(err, "invalid mount_path")
	}
	mt.MountPath = mp

	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	if existing, ok := mgr.byPath[mp]; ok && existing.mount.ID != mt.ID {
		return errors.Errorf("mount_path %q already in use by mount %q", mp, existing.mount.ID)
	}

	d, err := mgr.newDriver(ctx, mt.DriverKind, mt.ID, mt.Config)
	if err != nil {
		return err
	}

	if old, ok := mgr.byPath[mp]; ok {
		mgr.removeLocked(old)
	}
	in := newInstance(mt, d)
	mgr.insertLocked(in)
	return nil
}

// Unmount removes the mount with the given id. Any reference already
// acquired by an in-flight operation keeps the driver alive until
// released (spec §4.3 unmount semantics).
func (mgr *Manager) Unmount(id string) error {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	for _, in := range mgr.ordered {
		if in.mount.ID == id {
			mgr.removeLocked(in)
			in.release() // drop the table's own reference
			return nil
		}
	}
	return errors.Errorf("mount %q not found", id)
}

// Reconfigure atomically replaces the driver instance for id: it
// constructs the new instance first (so a bad config never disturbs
// the live table), then swaps it in under the exclusive lock. The old
// instance drains via reference counting.
func (mgr *Manager) Reconfigure(ctx context.Context, id string, newConfig driver.Config) error {
	mgr.mu.RLock()
	var old *instance
	for _, in := range mgr.ordered {
		if in.mount.ID == id {
			old = in
			break
		}
	}
	mgr.mu.RUnlock()
	if old == nil {
		return errors.Errorf("mount %q not found", id)
	}

	mt := old.mount
	mt.Config = newConfig
	d, err := mgr.newDriver(ctx, mt.DriverKind, mt.ID, newConfig)
	if err != nil {
		return err
	}

	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	mgr.removeLocked(old)
	mgr.insertLocked(newInstance(mt, d))
	old.release()
	return nil
}

// insertLocked and removeLocked must be called with mgr.mu held for
// writing.
func (mgr *Manager) insertLocked(in *instance) {
	mgr.byPath[in.mount.MountPath] = in
	mgr.ordered = append(mgr.ordered, in)
	sort.SliceStable(mgr.ordered, func(i, j int) bool {
		return len(mgr.ordered[i].mount.MountPath) > len(mgr.ordered[j].mount.MountPath)
	})
}

func (mgr *Manager) removeLocked(in *instance) {
	delete(mgr.byPath, in.mount.MountPath)
	for i, o := range mgr.ordered {
		if o == in {
			mgr.ordered = append(mgr.ordered[:i], mgr.ordered[i+1:]...)
			break
		}
	}
}

// Resolve maps a virtual path to a driver + inner path, an overlay
// directory, or ErrNotFound, implementing the resolve() algorithm of
// spec §4.3. The caller must Release() a non-nil Resolution.Ref.
func (mgr *Manager) Resolve(virtualPath string) (Resolution, error) {
	np, err := pathutil.Normalize(virtualPath)
	if err != nil {
		return Resolution{}, err
	}

	mgr.mu.RLock()
	defer mgr.mu.RUnlock()

	// ordered is sorted longest-prefix-first, so the first match is
	// the longest-prefix match.
	for _, in := range mgr.ordered {
		mp := in.mount.MountPath
		if np == mp || pathutil.HasPathPrefix(np, mp) {
			inner := pathutil.Strip(np, mp)
			return Resolution{
				Ref:       in.acquire(),
				InnerPath: inner,
				MountPath: mp,
			}, nil
		}
	}

	if children := mgr.overlayChildrenLocked(np); len(children) > 0 {
		return Resolution{Overlay: true, OverlayChildren: children}, nil
	}

	return Resolution{}, ErrNotFound
}

// overlayChildrenLocked enumerates the first path segment of every
// enabled mount nested strictly below prefix, deduplicated, per the
// list_overlay() algorithm of spec §4.3. Must be called with mgr.mu
// held.
func (mgr *Manager) overlayChildrenLocked(prefix string) []string {
	seen := map[string]bool{}
	var out []string
	for _, in := range mgr.ordered {
		seg := pathutil.FirstSegmentAfter(in.mount.MountPath, prefix)
		if seg == "" {
			continue
		}
		if !seen[seg] {
			seen[seg] = true
			out = append(out, seg)
		}
	}
	sort.Strings(out)
	return out
}

// ListOverlay is the standalone form of overlayChildrenLocked for
// callers that already know the path is an overlay and want the
// children without re-resolving (used by internal/ops.List to merge
// overlay children with a resolved driver's own listing, per spec
// §4.4.1 step 1's "merge" case for nested mounts).
func (mgr *Manager) ListOverlay(virtualPath string) []string {
	np, err := pathutil.Normalize(virtualPath)
	if err != nil {
		return nil
	}
	mgr.mu.RLock()
	defer mgr.mu.RUnlock()
	return mgr.overlayChildrenLocked(np)
}

// Mounts returns a snapshot of all currently installed mount records.
func (mgr *Manager) Mounts() []Mount {
	mgr.mu.RLock()
	defer mgr.mu.RUnlock()
	out := make([]Mount, 0, len(mgr.ordered))
	for _, in := range mgr.ordered {
		out = append(out, in.mount)
	}
	return out
}
