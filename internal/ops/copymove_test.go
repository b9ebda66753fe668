package ops

import (
	"context"
	"io"
	"testing"

	"github.com/arkstor/gatewayfs/driver"
)

func TestCopySameDriverUsesCopyItem(t *testing.T) {
	engine, mgr := newTestEngine(t, memMount("a", "/cloud"))
	fs := driverAt(t, mgr, "/cloud")
	fs.PutRaw("src.txt", []byte("payload"))

	taskID, err := engine.Copy(context.Background(), "/cloud/src.txt", "/cloud/dst.txt", CopyOptions{})
	if err != nil {
		t.Fatalf("Copy: %v", err)
	}
	tk := waitTaskDone(t, engine.Tasks, taskID)
	if tk.LastError != "" {
		t.Fatalf("Copy failed: %s", tk.LastError)
	}

	if _, err := fs.OpenReader(context.Background(), "src.txt", nil); err != nil {
		t.Errorf("source should survive a Copy: %v", err)
	}
	rd, err := fs.OpenReader(context.Background(), "dst.txt", nil)
	if err != nil {
		t.Fatalf("destination missing after Copy: %v", err)
	}
	rd.Close()
}

func TestMoveSameDriverUsesMoveItem(t *testing.T) {
	engine, mgr := newTestEngine(t, memMount("a", "/cloud"))
	fs := driverAt(t, mgr, "/cloud")
	fs.PutRaw("src.txt", []byte("payload"))

	taskID, err := engine.Move(context.Background(), "/cloud/src.txt", "/cloud/dst.txt", MoveOptions{})
	if err != nil {
		t.Fatalf("Move: %v", err)
	}
	tk := waitTaskDone(t, engine.Tasks, taskID)
	if tk.LastError != "" {
		t.Fatalf("Move failed: %s", tk.LastError)
	}

	if _, err := fs.OpenReader(context.Background(), "src.txt", nil); err == nil {
		t.Errorf("source should be gone after Move")
	}
	if _, err := fs.OpenReader(context.Background(), "dst.txt", nil); err != nil {
		t.Errorf("destination missing after Move: %v", err)
	}
}

func TestMoveFallsBackToStreamCopyWhenMoveItemUnsupported(t *testing.T) {
	engine, mgr := newTestEngine(t, memMount("a", "/cloud"))
	fs := driverAt(t, mgr, "/cloud")
	fs.WithCapabilities(driver.CapList | driver.CapRead | driver.CapReadRange |
		driver.CapWriteStream | driver.CapDelete | driver.CapMkdir)
	fs.PutRaw("src.txt", []byte("payload"))

	taskID, err := engine.Move(context.Background(), "/cloud/src.txt", "/cloud/other/dst.txt", MoveOptions{})
	if err != nil {
		t.Fatalf("Move: %v", err)
	}
	tk := waitTaskDone(t, engine.Tasks, taskID)
	if tk.LastError != "" {
		t.Fatalf("Move fallback failed: %s", tk.LastError)
	}
	if _, err := fs.OpenReader(context.Background(), "src.txt", nil); err == nil {
		t.Errorf("source should be deleted after copy+delete fallback move")
	}
	if _, err := fs.OpenReader(context.Background(), "other/dst.txt", nil); err != nil {
		t.Errorf("destination missing after fallback move: %v", err)
	}
}

func TestCrossDriverCopyRecursesDirectories(t *testing.T) {
	engine, mgr := newTestEngine(t, memMount("a", "/one"), memMount("b", "/two"))
	fsA := driverAt(t, mgr, "/one")
	fsA.PutRaw("dir/a.txt", []byte("aaa"))
	fsA.PutRaw("dir/sub/b.txt", []byte("bbb"))

	taskID, err := engine.Copy(context.Background(), "/one/dir", "/two/dir", CopyOptions{})
	if err != nil {
		t.Fatalf("Copy: %v", err)
	}
	tk := waitTaskDone(t, engine.Tasks, taskID)
	if tk.LastError != "" {
		t.Fatalf("cross-driver copy failed: %s", tk.LastError)
	}

	fsB := driverAt(t, mgr, "/two")
	for _, p := range []string{"dir/a.txt", "dir/sub/b.txt"} {
		if _, err := fsB.OpenReader(context.Background(), p, nil); err != nil {
			t.Errorf("expected %q to exist on the destination: %v", p, err)
		}
	}
	if _, err := fsA.OpenReader(context.Background(), "dir/a.txt", nil); err != nil {
		t.Errorf("source should survive a cross-driver Copy: %v", err)
	}
}

func TestCrossDriverCopyToWriteWholeOnlyDestinationBuffersThenPuts(t *testing.T) {
	engine, mgr := newTestEngine(t, memMount("a", "/one"), memMount("b", "/two"))
	fsA := driverAt(t, mgr, "/one")
	fsA.PutRaw("big.bin", []byte("payload-bytes"))

	fsB := driverAt(t, mgr, "/two")
	fsB.WithCapabilities(driver.CapList | driver.CapRead | driver.CapReadRange |
		driver.CapWriteWhole | driver.CapDelete | driver.CapMkdir)

	taskID, err := engine.Copy(context.Background(), "/one/big.bin", "/two/big.bin", CopyOptions{})
	if err != nil {
		t.Fatalf("Copy: %v", err)
	}
	tk := waitTaskDone(t, engine.Tasks, taskID)
	if tk.LastError != "" {
		t.Fatalf("copy to a WRITE_WHOLE-only destination (pan115/quark/smb/lanzou-shaped) failed: %s", tk.LastError)
	}

	rd, err := fsB.OpenReader(context.Background(), "big.bin", nil)
	if err != nil {
		t.Fatalf("destination missing after copy: %v", err)
	}
	defer rd.Close()
	got, err := io.ReadAll(rd)
	if err != nil {
		t.Fatalf("read destination: %v", err)
	}
	if string(got) != "payload-bytes" {
		t.Errorf("got %q, want %q", got, "payload-bytes")
	}
}

func TestCrossDriverMoveDeletesSourceOnlyAfterAllChildrenSucceed(t *testing.T) {
	engine, mgr := newTestEngine(t, memMount("a", "/one"), memMount("b", "/two"))
	fsA := driverAt(t, mgr, "/one")
	fsA.PutRaw("dir/a.txt", []byte("aaa"))
	fsA.PutRaw("dir/b.txt", []byte("bbb"))

	taskID, err := engine.Move(context.Background(), "/one/dir", "/two/dir", MoveOptions{})
	if err != nil {
		t.Fatalf("Move: %v", err)
	}
	tk := waitTaskDone(t, engine.Tasks, taskID)
	if tk.LastError != "" {
		t.Fatalf("cross-driver move failed: %s", tk.LastError)
	}

	if _, err := fsA.OpenReader(context.Background(), "dir/a.txt", nil); err == nil {
		t.Errorf("source files should be gone after a successful cross-driver move")
	}
	fsB := driverAt(t, mgr, "/two")
	if _, err := fsB.OpenReader(context.Background(), "dir/a.txt", nil); err != nil {
		t.Errorf("destination missing after cross-driver move: %v", err)
	}
}

func TestCrossDriverMovePartialFailureLeavesSourceIntact(t *testing.T) {
	engine, mgr := newTestEngine(t, memMount("a", "/one"), memMount("b", "/two"))
	fsA := driverAt(t, mgr, "/one")
	fsA.PutRaw("dir/a.txt", []byte("aaa"))
	fsA.PutRaw("dir/b.txt", []byte("bbb"))

	fsB := driverAt(t, mgr, "/two")
	// a.txt copies fine (nil fault consumed first); b.txt's Put fails,
	// aborting the move partway through its depth-first walk.
	fsB.Faults["Put"] = []error{nil, driver.NewError(driver.KindPermanent, "simulated failure", nil)}

	taskID, err := engine.Move(context.Background(), "/one/dir", "/two/dir", MoveOptions{})
	if err != nil {
		t.Fatalf("Move: %v", err)
	}
	tk := waitTaskDone(t, engine.Tasks, taskID)
	if tk.LastError == "" {
		t.Fatalf("expected the move to fail given the injected fault")
	}

	remaining, err := fsA.List(context.Background(), "dir")
	if err != nil {
		t.Fatalf("List source after partial failure: %v", err)
	}
	if len(remaining) == 0 {
		t.Errorf("a failed cross-driver move deleted sources despite an incomplete transfer")
	}
}
