package ops

import (
	"context"
	"testing"
	"time"

	"github.com/arkstor/gatewayfs/internal/cache"
	"github.com/arkstor/gatewayfs/internal/config"
	"github.com/arkstor/gatewayfs/internal/memdriver"
	"github.com/arkstor/gatewayfs/internal/task"
	"github.com/arkstor/gatewayfs/internal/vfs"
)

type memStore struct {
	mounts []vfs.Mount
}

func (s *memStore) List(ctx context.Context) ([]vfs.Mount, error) { return s.mounts, nil }
func (s *memStore) Get(ctx context.Context, id string) (vfs.Mount, error) {
	for _, m := range s.mounts {
		if m.ID == id {
			return m, nil
		}
	}
	return vfs.Mount{}, vfs.ErrNotFound
}
func (s *memStore) Create(ctx context.Context, m vfs.Mount) error { s.mounts = append(s.mounts, m); return nil }
func (s *memStore) Update(ctx context.Context, m vfs.Mount) error { return nil }
func (s *memStore) Delete(ctx context.Context, id string) error   { return nil }

// newTestEngine builds an Engine with one or more in-memory mounts
// already installed, returning the engine and a lookup of the raw
// *memdriver.Fs per mount id for test setup/assertions.
func newTestEngine(t *testing.T, mounts ...vfs.Mount) (*Engine, *vfs.Manager) {
	t.Helper()
	mgr := vfs.NewManager(&memStore{})
	ctx := context.Background()
	for _, m := range mounts {
		if err := mgr.Mount(ctx, m); err != nil {
			t.Fatalf("mount %s: %v", m.MountPath, err)
		}
	}
	cfg := config.Default()
	cfg.ListingCacheTTL = time.Minute
	lc := cache.New(cfg.ListingCacheTTL, time.Minute)
	tasks := task.NewManager()
	t.Cleanup(tasks.Close)
	return New(mgr, tasks, lc, cfg), mgr
}

func memMount(id, mountPath string) vfs.Mount {
	return vfs.Mount{ID: id, Name: id, DriverKind: "mem", MountPath: mountPath, Enabled: true}
}

// driverAt fetches the raw *memdriver.Fs backing a mount, for tests
// that need to seed files directly rather than through the engine.
func driverAt(t *testing.T, mgr *vfs.Manager, virtualPath string) *memdriver.Fs {
	t.Helper()
	res, err := mgr.Resolve(virtualPath)
	if err != nil {
		t.Fatalf("resolve %s: %v", virtualPath, err)
	}
	defer res.Ref.Release()
	fs, ok := res.Ref.Driver().(*memdriver.Fs)
	if !ok {
		t.Fatalf("driver at %s is not a *memdriver.Fs", virtualPath)
	}
	return fs
}

func waitTaskDone(t *testing.T, tasks *task.Manager, id string) task.Task {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		tk, ok := tasks.Get(id)
		if !ok {
			t.Fatalf("task %s vanished", id)
		}
		if tk.State.IsTerminal() {
			return tk
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("task %s never finished", id)
	return task.Task{}
}

func waitTaskState(t *testing.T, tasks *task.Manager, id string, want task.State, timeout time.Duration) task.Task {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		tk, ok := tasks.Get(id)
		if !ok {
			t.Fatalf("task %s vanished", id)
		}
		if tk.State == want {
			return tk
		}
		time.Sleep(2 * time.Millisecond)
	}
	tk, _ := tasks.Get(id)
	t.Fatalf("task %s never reached state %s, stuck at %s", id, want, tk.State)
	return task.Task{}
}
