package vfs

import (
	"context"
	"testing"

	"github.com/arkstor/gatewayfs/driver"
	_ "github.com/arkstor/gatewayfs/internal/memdriver"
)

type fakeStore struct {
	mounts map[string]Mount
}

func newFakeStore(mounts ...Mount) *fakeStore {
	s := &fakeStore{mounts: map[string]Mount{}}
	for _, m := range mounts {
		s.mounts[m.ID] = m
	}
	return s
}

func (s *fakeStore) List(ctx context.Context) ([]Mount, error) {
	var out []Mount
	for _, m := range s.mounts {
		out = append(out, m)
	}
	return out, nil
}
func (s *fakeStore) Get(ctx context.Context, id string) (Mount, error) {
	m, ok := s.mounts[id]
	if !ok {
		return Mount{}, ErrNotFound
	}
	return m, nil
}
func (s *fakeStore) Create(ctx context.Context, m Mount) error { s.mounts[m.ID] = m; return nil }
func (s *fakeStore) Update(ctx context.Context, m Mount) error { s.mounts[m.ID] = m; return nil }
func (s *fakeStore) Delete(ctx context.Context, id string) error {
	delete(s.mounts, id)
	return nil
}

func memMount(id, mountPath string) Mount {
	return Mount{ID: id, Name: id, DriverKind: "mem", MountPath: mountPath, Enabled: true}
}

func TestResolveLongestPrefixMatch(t *testing.T) {
	store := newFakeStore(memMount("a", "/cloud"), memMount("b", "/cloud/nested"))
	mgr := NewManager(store)
	if err := mgr.LoadAll(context.Background()); err != nil {
		t.Fatalf("LoadAll: %v", err)
	}

	res, err := mgr.Resolve("/cloud/nested/file.txt")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	defer res.Ref.Release()
	if res.MountPath != "/cloud/nested" {
		t.Errorf("got mount %q, want the longer-prefix mount", res.MountPath)
	}
	if res.InnerPath != "/file.txt" {
		t.Errorf("got inner path %q, want %q", res.InnerPath, "/file.txt")
	}
}

func TestResolveOverlayDirectory(t *testing.T) {
	store := newFakeStore(memMount("a", "/cloud/one"), memMount("b", "/cloud/two"))
	mgr := NewManager(store)
	if err := mgr.LoadAll(context.Background()); err != nil {
		t.Fatalf("LoadAll: %v", err)
	}

	res, err := mgr.Resolve("/cloud")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !res.Overlay {
		t.Fatalf("expected an overlay resolution for /cloud")
	}
	if len(res.OverlayChildren) != 2 || res.OverlayChildren[0] != "one" || res.OverlayChildren[1] != "two" {
		t.Errorf("unexpected overlay children: %v", res.OverlayChildren)
	}
}

func TestResolveUnknownPathNotFound(t *testing.T) {
	mgr := NewManager(newFakeStore())
	if _, err := mgr.Resolve("/nope"); err != ErrNotFound {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestMountRejectsDuplicateMountPath(t *testing.T) {
	mgr := NewManager(newFakeStore())
	ctx := context.Background()
	if err := mgr.Mount(ctx, memMount("a", "/x")); err != nil {
		t.Fatalf("first mount: %v", err)
	}
	if err := mgr.Mount(ctx, memMount("b", "/x")); err == nil {
		t.Errorf("expected collision error mounting a second mount at /x")
	}
}

func TestUnmountKeepsInstanceAliveForHeldRef(t *testing.T) {
	mgr := NewManager(newFakeStore())
	ctx := context.Background()
	if err := mgr.Mount(ctx, memMount("a", "/x")); err != nil {
		t.Fatalf("mount: %v", err)
	}

	res, err := mgr.Resolve("/x/f")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	if err := mgr.Unmount("a"); err != nil {
		t.Fatalf("unmount: %v", err)
	}

	// The held ref's driver must still work after unmount.
	if res.Ref.Driver().Name() != "mem" {
		t.Errorf("driver became unusable after unmount while ref still held")
	}
	res.Ref.Release()

	if _, err := mgr.Resolve("/x/f"); err != ErrNotFound {
		t.Errorf("expected /x to be gone after unmount, got %v", err)
	}
}

func TestReconfigureSwapsDriverAtomically(t *testing.T) {
	mgr := NewManager(newFakeStore())
	ctx := context.Background()
	if err := mgr.Mount(ctx, memMount("a", "/x")); err != nil {
		t.Fatalf("mount: %v", err)
	}

	old, err := mgr.Resolve("/x/f")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	if err := mgr.Reconfigure(ctx, "a", driver.Config{"k": "v"}); err != nil {
		t.Fatalf("reconfigure: %v", err)
	}

	// The pre-reconfigure ref is still valid.
	_ = old.Ref.Driver()
	old.Ref.Release()

	fresh, err := mgr.Resolve("/x/f")
	if err != nil {
		t.Fatalf("resolve after reconfigure: %v", err)
	}
	defer fresh.Ref.Release()
	if fresh.Ref.Driver() == old.Ref.Driver() {
		t.Errorf("expected a new driver instance after reconfigure")
	}
}
