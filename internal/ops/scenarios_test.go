package ops

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/arkstor/gatewayfs/driver"
	"github.com/arkstor/gatewayfs/internal/task"
)

// TestScenarioNestedMountResolution is spec §8 scenario S1: a root
// mount merges a nested mount's name into its listing, and the nested
// mount's own listing is independent.
func TestScenarioNestedMountResolution(t *testing.T) {
	engine, mgr := newTestEngine(t, memMount("root", "/"), memMount("cloud", "/cloud"))
	driverAt(t, mgr, "/").PutRaw("readme.txt", []byte("hi"))
	driverAt(t, mgr, "/cloud").PutRaw("a.txt", []byte(strings.Repeat("a", 2000)))

	rootEntries, err := engine.List(context.Background(), "/")
	if err != nil {
		t.Fatalf("list /: %v", err)
	}
	var sawReadme, sawCloud bool
	for _, e := range rootEntries {
		if e.Name == "readme.txt" {
			sawReadme = true
		}
		if e.Name == "cloud" {
			sawCloud = true
			if !e.IsDir {
				t.Errorf("cloud entry should be a directory")
			}
		}
	}
	if !sawReadme || !sawCloud {
		t.Fatalf("got root entries %v, want both readme.txt and a merged cloud entry", rootEntries)
	}

	cloudEntries, err := engine.List(context.Background(), "/cloud")
	if err != nil {
		t.Fatalf("list /cloud: %v", err)
	}
	if len(cloudEntries) != 1 || cloudEntries[0].Name != "a.txt" {
		t.Fatalf("got /cloud entries %v, want just a.txt", cloudEntries)
	}

	res, err := engine.OpenReader(context.Background(), "/cloud/a.txt", &driver.Range{Start: 0, End: 1024}, false)
	if err != nil {
		t.Fatalf("OpenReader range: %v", err)
	}
	defer res.Stream.Close()
	buf, err := io.ReadAll(res.Stream)
	if err != nil {
		t.Fatalf("read range: %v", err)
	}
	if len(buf) != 1024 {
		t.Fatalf("got %d bytes, want 1024", len(buf))
	}
}

// TestScenarioConflictRenamedUpload is spec §8 scenario S2.
func TestScenarioConflictRenamedUpload(t *testing.T) {
	engine, mgr := newTestEngine(t, memMount("a", "/srv"))
	fs := driverAt(t, mgr, "/srv")
	fs.PutRaw("report.pdf", make([]byte, 200))

	body := make([]byte, 300)
	taskID, err := engine.Put(context.Background(), "/srv/report.pdf", strings.NewReader(string(body)), 300, PutOptions{})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	waitTaskDone(t, engine.Tasks, taskID)

	orig, err := fs.OpenReader(context.Background(), "report.pdf", nil)
	if err != nil {
		t.Fatalf("original missing: %v", err)
	}
	if orig.Size() != 200 {
		t.Errorf("original size changed: got %d, want 200", orig.Size())
	}
	orig.Close()

	renamed, err := fs.OpenReader(context.Background(), "report (1).pdf", nil)
	if err != nil {
		t.Fatalf("expected a conflict-renamed file: %v", err)
	}
	if renamed.Size() != 300 {
		t.Errorf("got renamed size %d, want 300", renamed.Size())
	}
	renamed.Close()
}

// TestScenarioCrossDriverMoveOfDirectory is spec §8 scenario S3.
func TestScenarioCrossDriverMoveOfDirectory(t *testing.T) {
	engine, mgr := newTestEngine(t, memMount("src", "/proj"), memMount("dst", "/backup"))
	fsSrc := driverAt(t, mgr, "/proj")
	fsSrc.PutRaw("a.bin", make([]byte, 1<<20))
	fsSrc.PutRaw("b.bin", make([]byte, 2<<20))
	fsSrc.PutRaw("c.bin", make([]byte, 512<<10))

	taskID, err := engine.Move(context.Background(), "/proj", "/backup/proj", MoveOptions{})
	if err != nil {
		t.Fatalf("Move: %v", err)
	}
	tk := waitTaskDone(t, engine.Tasks, taskID)
	if tk.LastError != "" {
		t.Fatalf("move failed: %s", tk.LastError)
	}

	wantTotal := uint64((1 << 20) + (2 << 20) + (512 << 10))
	if tk.Progress.BytesTotal != wantTotal {
		t.Errorf("got bytes_total %d, want %d", tk.Progress.BytesTotal, wantTotal)
	}

	// Per spec §8 S3, the source directory is either empty or absent
	// after a successful move.
	if remaining, err := fsSrc.List(context.Background(), ""); err == nil && len(remaining) != 0 {
		t.Errorf("source directory should be empty or absent after the move, got %v", remaining)
	}

	fsDst := driverAt(t, mgr, "/backup")
	for _, name := range []string{"a.bin", "b.bin", "c.bin"} {
		rd, err := fsDst.OpenReader(context.Background(), "proj/"+name, nil)
		if err != nil {
			t.Errorf("destination missing %s: %v", name, err)
			continue
		}
		rd.Close()
	}
}

// TestScenarioPauseThenResumeCopy is spec §8 scenario S4, using a
// blocking fake reader to hold the transfer open mid-stream instead of
// a literal 100 MiB payload.
func TestScenarioPauseThenResumeCopy(t *testing.T) {
	engine, mgr := newTestEngine(t, memMount("src", "/one"), memMount("dst", "/two"))
	fsSrc := driverAt(t, mgr, "/one")
	fsSrc.PutRaw("big.bin", make([]byte, 4096))
	fsSrc.Started = make(chan struct{})
	fsSrc.BlockRead = make(chan struct{})

	taskID, err := engine.Copy(context.Background(), "/one/big.bin", "/two/big.bin", CopyOptions{})
	if err != nil {
		t.Fatalf("Copy: %v", err)
	}

	<-fsSrc.Started
	if !engine.Tasks.Pause(taskID) {
		t.Fatalf("Pause returned false")
	}
	waitTaskState(t, engine.Tasks, taskID, task.StatePaused, time.Second)

	before, _ := engine.Tasks.Get(taskID)
	time.Sleep(20 * time.Millisecond)
	after, _ := engine.Tasks.Get(taskID)
	if after.Progress.BytesDone != before.Progress.BytesDone {
		t.Errorf("bytes_done moved while paused: %d -> %d", before.Progress.BytesDone, after.Progress.BytesDone)
	}

	if !engine.Tasks.Resume(taskID) {
		t.Fatalf("Resume returned false")
	}
	close(fsSrc.BlockRead)

	tk := waitTaskDone(t, engine.Tasks, taskID)
	if tk.LastError != "" {
		t.Fatalf("copy failed: %s", tk.LastError)
	}

	fsDst := driverAt(t, mgr, "/two")
	rd, err := fsDst.OpenReader(context.Background(), "big.bin", nil)
	if err != nil {
		t.Fatalf("destination missing: %v", err)
	}
	defer rd.Close()
	if rd.Size() != 4096 {
		t.Errorf("got final size %d, want 4096", rd.Size())
	}
}

// TestScenarioAuthExpiryRecovery is spec §8 scenario S5: an Auth
// error on list triggers a refresh-then-retry-once that succeeds.
func TestScenarioAuthExpiryRecovery(t *testing.T) {
	engine, mgr := newTestEngine(t, memMount("a", "/cloud"))
	fs := driverAt(t, mgr, "/cloud")
	fs.PutRaw("f.txt", []byte("ok"))
	fs.Faults["List"] = []error{driver.NewError(driver.KindAuth, "token expired", nil)}

	entries, err := engine.List(context.Background(), "/cloud")
	if err != nil {
		t.Fatalf("List should recover after one auth refresh+retry: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %v, want the one seeded entry", entries)
	}
	if fs.RefreshCount() != 1 {
		t.Errorf("got %d RefreshToken calls, want exactly 1", fs.RefreshCount())
	}
}

// TestScenarioRangedReadBeyondEOF is spec §8 scenario S6.
func TestScenarioRangedReadBeyondEOF(t *testing.T) {
	engine, mgr := newTestEngine(t, memMount("a", "/cloud"))
	driverAt(t, mgr, "/cloud").PutRaw("f.bin", make([]byte, 1000))

	res, err := engine.OpenReader(context.Background(), "/cloud/f.bin", &driver.Range{Start: 900, End: 2000}, false)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer res.Stream.Close()
	buf, err := io.ReadAll(res.Stream)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(buf) != 100 {
		t.Fatalf("got %d bytes, want exactly 100 (900..1000)", len(buf))
	}
}
